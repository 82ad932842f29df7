package shader

import (
	"encoding/binary"
	"testing"

	"github.com/kentjhall/mizu-sub009/host"
	"github.com/kentjhall/mizu-sub009/host/hosttest"
	"github.com/kentjhall/mizu-sub009/mem"
	"github.com/kentjhall/mizu-sub009/shader/ir"
)

const (
	predPT   = uint64(7) << 16
	exitWord = 0xE300<<48 | predPT
	faddWord = 0x5C58<<48 | 1<<20 | predPT | 1<<8 | 2 // r2 = r1 + r1
)

// testProgram lays out a minimal vertex program: header, one sched
// word, an add, EXIT, and the self-branch terminator.
func testProgram() []uint64 {
	code := make([]uint64, 14)
	code[11] = faddWord
	code[12] = exitWord
	code[13] = selfBranchWord
	return code
}

func writeProgram(t *testing.T, flat *mem.Flat, cpu mem.CpuAddr, code []uint64) {
	t.Helper()
	buf := make([]byte, len(code)*8)
	for i, w := range code {
		binary.LittleEndian.PutUint64(buf[i*8:], w)
	}
	flat.WriteBlock(cpu, buf)
}

func newTestCache(t *testing.T) (*Cache, *hosttest.Device, *mem.Manager, *mem.Flat) {
	t.Helper()
	dev := hosttest.New()
	flat := mem.NewFlat(1 << 20)
	mm := mem.NewManager(flat, nil)
	mm.Map(0, 0, 1<<20)
	c := NewCache(dev, mm, Config{Language: host.LanguageGLSL}, nil)
	return c, dev, mm, flat
}

func testEnv(mm *mem.Manager, base mem.GpuAddr) *GraphicsEnvironment {
	return &GraphicsEnvironment{Mem: mm, ProgramBase: base, ProgramStage: ir.StageVertex}
}

func TestCacheGetBuildsOnce(t *testing.T) {
	c, dev, mm, flat := newTestCache(t)
	writeProgram(t, flat, 0x1000, testProgram())
	env := testEnv(mm, 0x1000)

	e1, err := c.Get(env, 0x1000, BuildOptions{})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, ok := e1.Program(); !ok {
		t.Fatalf("build failed: %v", dev.Calls())
	}
	e2, err := c.Get(env, 0x1000, BuildOptions{})
	if err != nil {
		t.Fatalf("Get again: %v", err)
	}
	if e1 != e2 {
		t.Error("second lookup built a new entry")
	}
	if n := dev.CallCount("CompileProgram"); n != 1 {
		t.Errorf("CompileProgram calls = %d, want 1", n)
	}
	if e1.Stage != ir.StageVertex {
		t.Errorf("stage = %v", e1.Stage)
	}
	if e1.SizeBytes != 14*8 {
		t.Errorf("SizeBytes = %d, want %d", e1.SizeBytes, 14*8)
	}
}

func TestCacheAliasedCodeSharesEntry(t *testing.T) {
	c, dev, mm, flat := newTestCache(t)
	writeProgram(t, flat, 0x1000, testProgram())
	writeProgram(t, flat, 0x8000, testProgram())

	e1, err := c.Get(testEnv(mm, 0x1000), 0x1000, BuildOptions{})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	e2, err := c.Get(testEnv(mm, 0x8000), 0x8000, BuildOptions{})
	if err != nil {
		t.Fatalf("Get aliased: %v", err)
	}
	if e1 != e2 {
		t.Error("identical code at two addresses built twice")
	}
	if n := dev.CallCount("CompileProgram"); n != 1 {
		t.Errorf("CompileProgram calls = %d, want 1", n)
	}
}

func TestCacheInvalidateRegion(t *testing.T) {
	c, dev, mm, flat := newTestCache(t)
	writeProgram(t, flat, 0x1000, testProgram())
	env := testEnv(mm, 0x1000)

	if _, err := c.Get(env, 0x1000, BuildOptions{}); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Len())
	}

	// A disjoint region leaves the entry alone.
	c.InvalidateRegion(0x40000, 0x100)
	c.Sweep()
	if c.Len() != 1 {
		t.Fatalf("disjoint invalidation removed the entry")
	}

	c.InvalidateRegion(0x1000, 8)
	c.Sweep()
	if c.Len() != 0 {
		t.Fatalf("Len after sweep = %d, want 0", c.Len())
	}

	dev.Reset()
	if _, err := c.Get(env, 0x1000, BuildOptions{}); err != nil {
		t.Fatalf("Get after invalidate: %v", err)
	}
	if n := dev.CallCount("CompileProgram"); n != 1 {
		t.Errorf("rebuild CompileProgram calls = %d, want 1", n)
	}
}

func TestCacheCompileFailure(t *testing.T) {
	c, dev, mm, flat := newTestCache(t)
	dev.FailCompile = "link error"
	writeProgram(t, flat, 0x1000, testProgram())

	e, err := c.Get(testEnv(mm, 0x1000), 0x1000, BuildOptions{})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !e.Failed() {
		t.Error("entry not flagged after compile failure")
	}
	if _, ok := e.Program(); ok {
		t.Error("failed entry returned a program")
	}
}

func TestCacheUnmappedProgram(t *testing.T) {
	c, _, mm, _ := newTestCache(t)
	if _, err := c.Get(testEnv(mm, 0xFFF0_0000), 0xFFF0_0000, BuildOptions{}); err != ErrUnmappedProgram {
		t.Fatalf("err = %v, want ErrUnmappedProgram", err)
	}
}

func TestCacheGetPairCombinesHashes(t *testing.T) {
	c, dev, mm, flat := newTestCache(t)
	writeProgram(t, flat, 0x1000, testProgram())
	writeProgram(t, flat, 0x2000, testProgram())

	pair, err := c.GetPair(
		testEnv(mm, 0x1000), 0x1000,
		testEnv(mm, 0x2000), 0x2000,
		BuildOptions{})
	if err != nil {
		t.Fatalf("GetPair: %v", err)
	}
	if _, ok := pair.Program(); !ok {
		t.Fatal("pair build failed")
	}
	if plain := hashProgram(testProgram()); pair.UniqueHash == plain {
		t.Error("pair hash equals single program hash")
	}
	if n := dev.CallCount("CompileProgram"); n != 1 {
		t.Errorf("CompileProgram calls = %d, want 1", n)
	}

	// Writes to the prologue's pages must invalidate the pair.
	c.InvalidateRegion(0x1000, 8)
	c.Sweep()
	if c.Len() != 0 {
		t.Errorf("Len after prologue invalidation = %d, want 0", c.Len())
	}
}

func TestCacheGetPairTranslatesPrologue(t *testing.T) {
	c, _, mm, flat := newTestCache(t)
	// The prologue half reads constant buffer 3; the main half does not.
	cbufAddWord := uint64(0x4C58)<<48 | 3<<34 | predPT | 1<<8 | 2
	prologue := testProgram()
	prologue[11] = cbufAddWord
	writeProgram(t, flat, 0x1000, prologue)
	writeProgram(t, flat, 0x2000, testProgram())

	pair, err := c.GetPair(
		testEnv(mm, 0x1000), 0x1000,
		testEnv(mm, 0x2000), 0x2000,
		BuildOptions{})
	if err != nil {
		t.Fatalf("GetPair: %v", err)
	}
	if _, ok := pair.Program(); !ok {
		t.Fatal("pair build failed")
	}
	if pair.Info.ConstBuffersUsed&(1<<3) == 0 {
		t.Error("prologue instructions missing from the compiled pair")
	}
}
