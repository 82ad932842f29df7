package engine

import (
	"errors"
	"reflect"
	"testing"
)

// sendRecorder captures macro sends and serves register reads.
type sendRecorder struct {
	sends [][2]uint32
	regs  map[uint32]uint32
}

func (r *sendRecorder) MacroRead(reg uint32) uint32 { return r.regs[reg] }
func (r *sendRecorder) MacroSend(method, value uint32) {
	r.sends = append(r.sends, [2]uint32{method, value})
}

// Opcode assembly helpers mirroring the packed instruction layout.

func asmALU(aluOp, resultOp, dst, srcA, srcB uint32, exit bool) uint32 {
	w := uint32(macroOpALU) | resultOp<<4 | dst<<8 | srcA<<11 | srcB<<14 | aluOp<<17
	if exit {
		w |= 1 << 7
	}
	return w
}

func asmAddImm(resultOp, dst, srcA uint32, imm int32, exit bool) uint32 {
	w := uint32(macroOpAddImmediate) | resultOp<<4 | dst<<8 | srcA<<11 |
		(uint32(imm)&0x3FFFF)<<14
	if exit {
		w |= 1 << 7
	}
	return w
}

func asmRead(resultOp, dst, srcA uint32, imm int32) uint32 {
	return uint32(macroOpRead) | resultOp<<4 | dst<<8 | srcA<<11 |
		(uint32(imm)&0x3FFFF)<<14
}

func asmBranch(srcA uint32, imm int32, notZero, annul bool) uint32 {
	w := uint32(macroOpBranch) | srcA<<11 | (uint32(imm)&0x3FFFF)<<14
	if notZero {
		w |= 1 << 4
	}
	if annul {
		w |= 1 << 5
	}
	return w
}

func nop() uint32 { return asmALU(macroALUAdd, macroResultMove, 0, 0, 0, false) }

func loadMacro(m *MacroEngine, words []uint32) {
	for i, w := range words {
		m.Upload(uint32(i), w)
	}
}

// TestMacroAddAndSend is the "r2 = r1 + 5; send r2 via method 0x200" program:
// fetch both parameters, emit exactly one register write.
func TestMacroAddAndSend(t *testing.T) {
	rec := &sendRecorder{}
	m := NewMacroEngine(rec)
	loadMacro(m, []uint32{
		// methodAddress = 0x200 (increment 0)
		asmAddImm(macroResultMoveAndSetMethod, 7, 0, 0x200, false),
		// r1 = fetch() -> second parameter
		asmALU(macroALUAdd, macroResultIgnoreAndFetch, 1, 0, 0, false),
		// r2 = r1 + 5; send it; exit with delay-slot nop
		asmAddImm(macroResultMoveAndSend, 2, 1, 5, true),
		nop(),
	})

	if err := m.Execute(0, []uint32{1, 10}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := [][2]uint32{{0x200, 15}}
	if !reflect.DeepEqual(rec.sends, [][2]uint32{want[0]}) {
		t.Errorf("sends = %v, want %v", rec.sends, want)
	}
}

// TestMacroDeterminism executes the same program twice and requires
// identical send sequences with all parameters consumed.
func TestMacroDeterminism(t *testing.T) {
	program := []uint32{
		asmAddImm(macroResultMoveAndSetMethod, 7, 0, 0x100, false),
		asmALU(macroALUAdd, macroResultIgnoreAndFetch, 2, 0, 0, false),
		asmALU(macroALUAdd, macroResultMoveAndSend, 3, 1, 2, false),
		asmALU(macroALUXor, macroResultMoveAndSend, 4, 3, 2, true),
		nop(),
	}
	run := func() [][2]uint32 {
		rec := &sendRecorder{}
		m := NewMacroEngine(rec)
		loadMacro(m, program)
		if err := m.Execute(0, []uint32{7, 9}); err != nil {
			t.Fatalf("Execute: %v", err)
		}
		return rec.sends
	}
	first := run()
	second := run()
	if !reflect.DeepEqual(first, second) {
		t.Errorf("runs differ: %v vs %v", first, second)
	}
	if len(first) != 2 {
		t.Errorf("expected 2 sends, got %d", len(first))
	}
}

func TestMacroR0IsZero(t *testing.T) {
	rec := &sendRecorder{}
	m := NewMacroEngine(rec)
	loadMacro(m, []uint32{
		// Attempt to write r0, then send its value.
		asmAddImm(macroResultMove, 0, 0, 123, false),
		asmAddImm(macroResultMoveAndSetMethod, 7, 0, 0x50, false),
		asmALU(macroALUAdd, macroResultMoveAndSend, 2, 0, 0, true),
		nop(),
	})
	if err := m.Execute(0, []uint32{0}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(rec.sends) != 1 || rec.sends[0][1] != 0 {
		t.Errorf("r0 leaked a value: sends = %v", rec.sends)
	}
}

func TestMacroBranchDelaySlot(t *testing.T) {
	rec := &sendRecorder{}
	m := NewMacroEngine(rec)
	loadMacro(m, []uint32{
		// 0: methodAddress = 0x80
		asmAddImm(macroResultMoveAndSetMethod, 7, 0, 0x80, false),
		// 1: branch if r1 == 0 to +3 (target = 4); r1 is nonzero -> not taken
		asmBranch(1, 3, false, false),
		// 2: branch if r1 != 0 to +2 (target = 4), delay slot executes 3
		asmBranch(1, 2, true, false),
		// 3: delay slot: send r1
		asmALU(macroALUAdd, macroResultMoveAndSend, 2, 1, 0, false),
		// 4: send r1 + 1 and exit
		asmAddImm(macroResultMoveAndSend, 3, 1, 1, true),
		nop(),
	})
	if err := m.Execute(0, []uint32{5}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := [][2]uint32{{0x80, 5}, {0x80, 6}}
	if !reflect.DeepEqual(rec.sends, want) {
		t.Errorf("sends = %v, want %v", rec.sends, want)
	}
}

func TestMacroBranchAnnulSkipsDelaySlot(t *testing.T) {
	rec := &sendRecorder{}
	m := NewMacroEngine(rec)
	loadMacro(m, []uint32{
		asmAddImm(macroResultMoveAndSetMethod, 7, 0, 0x80, false),
		// branch always taken (r0 == 0), annulled, to +3 (target = 4)
		asmBranch(0, 3, false, true),
		// would-be delay slot: must NOT run
		asmALU(macroALUAdd, macroResultMoveAndSend, 2, 1, 0, false),
		nop(),
		asmAddImm(macroResultMoveAndSend, 3, 1, 2, true),
		nop(),
	})
	if err := m.Execute(0, []uint32{5}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := [][2]uint32{{0x80, 7}}
	if !reflect.DeepEqual(rec.sends, want) {
		t.Errorf("sends = %v, want %v", rec.sends, want)
	}
}

func TestMacroBranchInDelaySlotIsHardError(t *testing.T) {
	rec := &sendRecorder{}
	m := NewMacroEngine(rec)
	loadMacro(m, []uint32{
		// taken branch to +2, delay slot at 1 is itself a branch
		asmBranch(0, 2, false, false),
		asmBranch(0, 1, false, false),
		nop(),
	})
	err := m.Execute(0, []uint32{0})
	if !errors.Is(err, ErrMacroBranchInDelaySlot) {
		t.Errorf("err = %v, want ErrMacroBranchInDelaySlot", err)
	}
}

func TestMacroParameterUnderrun(t *testing.T) {
	rec := &sendRecorder{}
	m := NewMacroEngine(rec)
	loadMacro(m, []uint32{
		asmALU(macroALUAdd, macroResultIgnoreAndFetch, 2, 0, 0, true),
		nop(),
	})
	err := m.Execute(0, []uint32{1}) // seed consumes the only parameter
	if !errors.Is(err, ErrMacroParamUnderrun) {
		t.Errorf("err = %v, want ErrMacroParamUnderrun", err)
	}
}

func TestMacroUnconsumedParameters(t *testing.T) {
	rec := &sendRecorder{}
	m := NewMacroEngine(rec)
	loadMacro(m, []uint32{
		asmAddImm(macroResultMove, 2, 1, 1, true),
		nop(),
	})
	err := m.Execute(0, []uint32{1, 2, 3})
	if !errors.Is(err, ErrMacroParamsUnconsumed) {
		t.Errorf("err = %v, want ErrMacroParamsUnconsumed", err)
	}
}

func TestMacroReadsRegisterFile(t *testing.T) {
	rec := &sendRecorder{regs: map[uint32]uint32{0x3D: 42}}
	m := NewMacroEngine(rec)
	loadMacro(m, []uint32{
		asmAddImm(macroResultMoveAndSetMethod, 7, 0, 0x90, false),
		// r2 = regfile[r0 + 0x3D]
		asmRead(macroResultMove, 2, 0, 0x3D),
		asmALU(macroALUAdd, macroResultMoveAndSend, 3, 2, 0, true),
		nop(),
	})
	if err := m.Execute(0, []uint32{0}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := [][2]uint32{{0x90, 42}}
	if !reflect.DeepEqual(rec.sends, want) {
		t.Errorf("sends = %v, want %v", rec.sends, want)
	}
}

func TestMacroMethodIncrement(t *testing.T) {
	rec := &sendRecorder{}
	m := NewMacroEngine(rec)
	loadMacro(m, []uint32{
		// methodAddress = 0x200 with increment 1 (bit 12)
		asmAddImm(macroResultMoveAndSetMethod, 7, 0, 0x200|1<<12, false),
		asmALU(macroALUAdd, macroResultMoveAndSend, 2, 1, 0, false),
		asmALU(macroALUAdd, macroResultMoveAndSend, 2, 1, 0, true),
		nop(),
	})
	if err := m.Execute(0, []uint32{9}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := [][2]uint32{{0x200, 9}, {0x201, 9}}
	if !reflect.DeepEqual(rec.sends, want) {
		t.Errorf("sends = %v, want %v", rec.sends, want)
	}
}
