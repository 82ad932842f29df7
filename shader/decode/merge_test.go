package decode

import (
	"testing"

	"github.com/kentjhall/mizu-sub009/shader/ir"
)

func TestMergeProgramsChainsPrologue(t *testing.T) {
	pre, err := Decode(graphicsProgram(faddCbuf), ir.StageVertex)
	if err != nil {
		t.Fatalf("Decode prologue: %v", err)
	}
	main, err := Decode(graphicsProgram(faddWord), ir.StageVertex)
	if err != nil {
		t.Fatalf("Decode main: %v", err)
	}

	merged := MergePrograms(pre, main)

	var adds, cbufAdds int
	for _, b := range merged.Blocks {
		for _, inst := range b.Insts {
			if inst.Op != ir.OpFAdd {
				continue
			}
			adds++
			if inst.Args[1].Kind == ir.RefCbuf {
				cbufAdds++
			}
		}
	}
	if adds != 2 || cbufAdds != 1 {
		t.Fatalf("adds = %d (cbuf %d), want both halves translated", adds, cbufAdds)
	}
	if merged.Info.ConstBuffersUsed&(1<<3) == 0 {
		t.Error("prologue cbuf use lost from merged info")
	}

	first := merged.Blocks[0]
	if first.Term.Kind != ir.BranchUnconditional {
		t.Fatalf("prologue terminator = %v, want jump into main half", first.Term.Kind)
	}
	if first.Term.Target <= first.End {
		t.Errorf("prologue jump target %d not past its own range %d", first.Term.Target, first.End)
	}

	stmts := Structure(merged)
	if len(stmts) == 0 {
		t.Fatal("empty statement list")
	}
	if _, ok := stmts[0].(DispatchStmt); ok {
		t.Error("merged chain fell back to dispatch")
	}
}

func TestMergeProgramsEmptyPrologue(t *testing.T) {
	main, err := Decode(graphicsProgram(faddWord), ir.StageVertex)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := MergePrograms(&ir.Program{}, main); got != main {
		t.Error("empty prologue must pass the main program through")
	}
}
