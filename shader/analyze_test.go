package shader

import (
	"testing"

	"github.com/kentjhall/mizu-sub009/mem"
	"github.com/kentjhall/mizu-sub009/shader/ir"
)

type sliceEnv struct {
	code  []uint64
	stage ir.Stage
}

func (e *sliceEnv) ReadInstruction(offset uint32) uint64 {
	i := offset / 8
	if i >= uint32(len(e.code)) {
		return 0
	}
	return e.code[i]
}
func (e *sliceEnv) ReadCbufValue(uint16, uint32) uint32 { return 0 }
func (e *sliceEnv) TextureType(uint32) ir.TextureType   { return ir.Texture2D }
func (e *sliceEnv) Stage() ir.Stage                     { return e.stage }
func (e *sliceEnv) LocalMemorySize() uint32             { return 0 }
func (e *sliceEnv) SharedMemorySize() uint32            { return 0 }
func (e *sliceEnv) WorkgroupSize() [3]uint32            { return [3]uint32{1, 1, 1} }

func TestAnalyzeProgramSizeGraphics(t *testing.T) {
	env := &sliceEnv{code: testProgram(), stage: ir.StageVertex}
	size := AnalyzeProgramSize(env, mainOffsetWords(false))
	if size != 14*8 {
		t.Fatalf("size = %d, want %d", size, 14*8)
	}
}

func TestAnalyzeProgramSizeCompute(t *testing.T) {
	// Kernels start at word 0; word 0 is a sched slot.
	code := []uint64{0, faddWord, exitWord, selfBranchWord}
	env := &sliceEnv{code: code, stage: ir.StageCompute}
	size := AnalyzeProgramSize(env, mainOffsetWords(true))
	if size != 4*8 {
		t.Fatalf("size = %d, want %d", size, 4*8)
	}
}

func TestAnalyzeProgramSizeIgnoresSchedWords(t *testing.T) {
	// A terminator bit pattern in a sched slot must not end the walk.
	code := testProgram()
	code[10] = selfBranchWord
	env := &sliceEnv{code: code, stage: ir.StageVertex}
	if size := AnalyzeProgramSize(env, mainOffsetWords(false)); size != 14*8 {
		t.Fatalf("size = %d, want %d", size, 14*8)
	}
}

func TestAnalyzeProgramSizeAnnulBitMasked(t *testing.T) {
	code := testProgram()
	code[13] = selfBranchWord | 1<<23 // annulled delay slot variant
	env := &sliceEnv{code: code, stage: ir.StageVertex}
	if size := AnalyzeProgramSize(env, mainOffsetWords(false)); size != 14*8 {
		t.Fatalf("size = %d, want %d", size, 14*8)
	}
}

func TestAnalyzeProgramSizeMissingTerminator(t *testing.T) {
	env := &sliceEnv{code: make([]uint64, 32), stage: ir.StageVertex}
	if size := AnalyzeProgramSize(env, mainOffsetWords(false)); size != maxProgramWords*8 {
		t.Fatalf("size = %d, want cap %d", size, maxProgramWords*8)
	}
}

func TestReadProgramRoundTrip(t *testing.T) {
	flat := mem.NewFlat(1 << 16)
	mm := mem.NewManager(flat, nil)
	mm.Map(0, 0, 1<<16)
	writeProgram(t, flat, 0x100, testProgram())

	env := testEnv(mm, 0x100)
	code := readProgram(env, 14*8)
	want := testProgram()
	for i := range want {
		if code[i] != want[i] {
			t.Fatalf("word %d = %#x, want %#x", i, code[i], want[i])
		}
	}
}
