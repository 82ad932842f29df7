package glasm

import (
	"strings"
	"testing"

	"github.com/kentjhall/mizu-sub009/shader/ir"
)

func TestEmitFragmentDepthRegister(t *testing.T) {
	// One render target packs colors into R0..R3; depth skips a slot
	// and reads R5.
	var insts []*ir.Inst
	for r := uint16(0); r < 6; r++ {
		insts = append(insts, &ir.Inst{Op: ir.OpCopy, Dest: ir.Gpr(r), Args: []ir.Ref{ir.ImmF(0)}})
	}
	p := &ir.Program{
		Blocks: []*ir.Block{{Insts: insts, Term: ir.Branch{Kind: ir.BranchExit}}},
		Info:   ir.Info{Stage: ir.StageFragment, UsesDepthWrite: true},
	}
	src, err := Emit(p, Config{ColorOutputs: 1})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if !strings.Contains(src, "MOV.F result.color[0], { R0.x, R1.x, R2.x, R3.x };") {
		t.Errorf("color packing missing in:\n%s", src)
	}
	if !strings.Contains(src, "MOV.F result.depth.z, R5.x;") {
		t.Errorf("depth must read R5 with one color target:\n%s", src)
	}
	if strings.Contains(src, "result.depth.z, R4.x") {
		t.Errorf("depth read the register adjacent to the color block:\n%s", src)
	}
}
