package decode

import (
	"errors"
	"testing"

	"github.com/kentjhall/mizu-sub009/shader/ir"
)

// Hand-assembled instruction words. The predicate field holds PT unless
// a test overrides it.
const (
	predPT     = uint64(7) << 16
	faddWord   = 0x5C58<<48 | 1<<20 | predPT | 1<<8 | 2
	faddCbuf   = 0x4C58<<48 | 3<<34 | predPT | 1<<8 | 2
	exitWord   = 0xE300<<48 | predPT
	selfBranch = uint64(0xE2400FFFFF07000F)
)

// braWord assembles a BRA guarded on predicate pred with the given
// byte displacement from the following instruction.
func braWord(pred uint16, offset int32) uint64 {
	return 0xE240<<48 | uint64(uint32(offset)&0xFFFFFF)<<20 | uint64(pred)<<16
}

// graphicsProgram lays body words after the 80-byte header and its
// scheduling slot, then appends EXIT and the terminator.
func graphicsProgram(body ...uint64) []uint64 {
	code := make([]uint64, StageMainOffset+1)
	code = append(code, body...)
	return append(code, exitWord, selfBranch)
}

func TestDecodeRegisterAdd(t *testing.T) {
	p, err := Decode(graphicsProgram(faddWord), ir.StageVertex)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.Info.Stage != ir.StageVertex {
		t.Errorf("stage = %v", p.Info.Stage)
	}
	if p.Info.ConstBuffersUsed != 0 {
		t.Errorf("register form must not mark cbuf use: %#x", p.Info.ConstBuffersUsed)
	}

	inst := findOp(p, ir.OpFAdd)
	if inst == nil {
		t.Fatal("no FAdd decoded")
	}
	if inst.Dest != ir.Gpr(2) {
		t.Errorf("dest = %v, want r2", inst.Dest)
	}
	if len(inst.Args) != 2 || inst.Args[0] != ir.Gpr(1) || inst.Args[1] != ir.Gpr(1) {
		t.Errorf("args = %v, want [r1 r1]", inst.Args)
	}
}

func TestDecodeCbufOperand(t *testing.T) {
	p, err := Decode(graphicsProgram(faddCbuf), ir.StageVertex)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.Info.ConstBuffersUsed != 1<<3 {
		t.Errorf("ConstBuffersUsed = %#x, want bit 3", p.Info.ConstBuffersUsed)
	}
	inst := findOp(p, ir.OpFAdd)
	if inst == nil {
		t.Fatal("no FAdd decoded")
	}
	if got := inst.Args[1]; got.Kind != ir.RefCbuf || got.Index != 3 {
		t.Errorf("source b = %v, want c3[0]", got)
	}
}

func TestDecodeTerminatorExcluded(t *testing.T) {
	p, err := Decode(graphicsProgram(faddWord), ir.StageVertex)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	for _, b := range p.Blocks {
		if b.Term.Kind == ir.BranchUnconditional && b.Term.Target <= b.Start {
			t.Error("terminator self-branch decoded as a block")
		}
	}
	// The annulled variant must terminate the same way.
	code := graphicsProgram(faddWord)
	code[len(code)-1] = selfBranch | 1<<23
	if _, err := Decode(code, ir.StageVertex); err != nil {
		t.Fatalf("Decode annulled terminator: %v", err)
	}
}

func TestDecodeForwardBranchStructured(t *testing.T) {
	// fadd; @p0 bra over a second fadd; exit. The skipped span must come
	// back as a negated if, not the dispatch fallback.
	code := []uint64{
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, // header
		0,              // sched
		faddWord,       // pc 88
		braWord(0, 16), // pc 96, taken target pc 120
		faddWord | 4,   // pc 104, rd = r6
		0,              // sched
		exitWord,       // pc 120
		selfBranch,
	}
	p, err := Decode(code, ir.StageVertex)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	var cond *ir.Block
	for _, b := range p.Blocks {
		if b.Term.Kind == ir.BranchConditional {
			cond = b
		}
	}
	if cond == nil {
		t.Fatal("no conditional block decoded")
	}
	if cond.Term.Target != 120 {
		t.Errorf("branch target = %d, want 120", cond.Term.Target)
	}
	if cond.Term.Cond != ir.Pred(0, false) {
		t.Errorf("branch cond = %v, want p0", cond.Term.Cond)
	}

	stmts := Structure(p)
	if len(stmts) == 0 {
		t.Fatal("empty statement list")
	}
	if _, ok := stmts[0].(DispatchStmt); ok {
		t.Fatal("reducible forward branch fell back to dispatch")
	}
	var found bool
	for _, s := range stmts {
		if ifs, ok := s.(IfStmt); ok {
			found = true
			// The emitter runs the skipped span when the branch is NOT
			// taken.
			if !ifs.Cond.Neg {
				t.Error("if condition must be the negated branch predicate")
			}
		}
	}
	if !found {
		t.Error("no if statement recovered")
	}
}

func TestDecodeUnknownOpcode(t *testing.T) {
	_, err := Decode(graphicsProgram(uint64(0xDEAD)<<48), ir.StageVertex)
	var unk *ErrUnknownOpcode
	if !errors.As(err, &unk) {
		t.Fatalf("err = %v, want ErrUnknownOpcode", err)
	}
	if unk.PC != 88 {
		t.Errorf("pc = %d, want 88", unk.PC)
	}
}

func TestDecodeComputeMainOffset(t *testing.T) {
	// Kernels start at word 0, which is a scheduling slot.
	code := []uint64{0, faddWord, exitWord, selfBranch}
	p, err := Decode(code, ir.StageCompute)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if findOp(p, ir.OpFAdd) == nil {
		t.Fatal("kernel body not decoded")
	}
}

func findOp(p *ir.Program, op ir.Op) *ir.Inst {
	for _, b := range p.Blocks {
		for _, inst := range b.Insts {
			if inst.Op == op {
				return inst
			}
		}
	}
	return nil
}
