package engine

import (
	"testing"

	"github.com/kentjhall/mizu-sub009/mem"
)

// fakeProcessor records triggered operations.
type fakeProcessor struct {
	draws      []bool
	clears     []ClearFlags
	queries    []QueryGet
	syncPoints []uint32
}

func (p *fakeProcessor) Draw(instanced bool)    { p.draws = append(p.draws, instanced) }
func (p *fakeProcessor) Clear(flags ClearFlags) { p.clears = append(p.clears, flags) }
func (p *fakeProcessor) SignalSyncPoint(id uint32) {
	p.syncPoints = append(p.syncPoints, id)
}
func (p *fakeProcessor) QueryCounter(addr mem.GpuAddr, q QueryGet, payload uint32) {
	p.queries = append(p.queries, q)
}

func newTestEngine(t *testing.T) (*Maxwell3D, *fakeProcessor, *mem.Manager) {
	t.Helper()
	mm := mem.NewManager(mem.NewFlat(1<<22), nil)
	mm.Map(0, 0, 1<<22)
	p := &fakeProcessor{}
	return NewMaxwell3D(mm, p, nil), p, mm
}

func TestRegisterRoundTrip(t *testing.T) {
	m, _, _ := newTestEngine(t)

	// Plain state registers read back what was written.
	for _, method := range []uint32{
		RegDepthTestEnable, RegCullFace, RegVertexBufferFirst,
		RegViewportBase, RegRTBase + 2,
	} {
		m.Write(method, 0xABCD0000|method)
		if got := m.Read(method); got != 0xABCD0000|method {
			t.Errorf("read(%#x) = %#x, want %#x", method, got, 0xABCD0000|method)
		}
	}
}

func TestShadowReplay(t *testing.T) {
	m, _, _ := newTestEngine(t)

	// Track mode records values into the shadow copy.
	m.Write(RegShadowRAMControl, uint32(ShadowTrack))
	m.Write(RegCullFace, 0x405)

	// Replay mode substitutes the tracked value for the incoming one.
	m.Write(RegShadowRAMControl, uint32(ShadowReplay))
	m.Write(RegCullFace, 0xFFFF)
	if got := m.Read(RegCullFace); got != 0x405 {
		t.Errorf("replayed value = %#x, want 0x405", got)
	}

	// Passthrough stops consulting the shadow copy.
	m.Write(RegShadowRAMControl, uint32(ShadowPassthrough))
	m.Write(RegCullFace, 0x408)
	if got := m.Read(RegCullFace); got != 0x408 {
		t.Errorf("passthrough value = %#x, want 0x408", got)
	}
}

func TestDirtyTracking(t *testing.T) {
	m, _, _ := newTestEngine(t)

	// Drain initial all-dirty state.
	for f := FlagNone + 1; f < FlagCount; f++ {
		m.Dirty.CheckAndClear(f)
	}

	m.Write(RegDepthTestEnable, 1)
	if !m.Dirty.IsDirty(FlagDepthTest) {
		t.Error("depth test flag not marked")
	}
	if !m.Dirty.CheckAndClear(FlagDepthTest) {
		t.Error("CheckAndClear returned false for a set flag")
	}
	if m.Dirty.CheckAndClear(FlagDepthTest) {
		t.Error("CheckAndClear returned true for a cleared flag")
	}

	// A render-target write sets both the per-slot and aggregate flags.
	m.Write(RegRTBase+3*RegRTStride, 0x12)
	if !m.Dirty.IsDirty(FlagColorBuffer3) || !m.Dirty.IsDirty(FlagRenderTargets) {
		t.Error("render target write did not set both table flags")
	}
}

// TestConstBufferBindAndData is the CB_BIND + CB_DATA sequence: bind stage
// 0 slot 3, then burst three words through the data cursor.
func TestConstBufferBindAndData(t *testing.T) {
	m, _, mm := newTestEngine(t)

	m.Write(RegCBAddressHigh, 0)
	m.Write(RegCBAddressLow, 0x1000)
	m.Write(RegCBSize, 0x100)
	m.Write(RegCBBindBase, 3<<4|1) // stage 0: index=3, valid=1

	cb := m.BoundConstBuffers[0][3]
	if !cb.Enabled || cb.Address != 0x1000 || cb.Size != 0x100 {
		t.Fatalf("bound cb = %+v, want {0x1000, 0x100, enabled}", cb)
	}

	m.Write(RegCBPos, 0)
	m.WriteMulti(RegCBDataBase, []uint32{0x11, 0x22, 0x33})

	for i, want := range []uint32{0x11, 0x22, 0x33} {
		if got := mm.Read32(mem.GpuAddr(0x1000 + 4*i)); got != want {
			t.Errorf("cb word %d = %#x, want %#x", i, got, want)
		}
	}
	if got := m.Read(RegCBPos); got != 12 {
		t.Errorf("cb cursor = %d, want 12", got)
	}
}

func TestMacroCallThroughMethods(t *testing.T) {
	m, p, _ := newTestEngine(t)
	_ = p

	// Upload a macro that sends (r1 + 5) to method RegCullFace.
	program := []uint32{
		asmAddImm(macroResultMoveAndSetMethod, 7, 0, RegCullFace, false),
		asmAddImm(macroResultMoveAndSend, 2, 1, 5, true),
		nop(),
	}
	m.Write(RegMacroUploadAddress, 0)
	for _, w := range program {
		m.Write(RegMacroData, w)
	}
	m.Write(RegMacroBindEntry, 0) // macro slot 0 starts at code offset 0

	// Invoke macro slot 0 with one parameter.
	m.Write(MacroMethodBase, 37)

	if got := m.Read(RegCullFace); got != 42 {
		t.Errorf("macro send result = %d, want 42", got)
	}
}

func TestMacroWindowStartsPastRegisterFile(t *testing.T) {
	m, _, _ := newTestEngine(t)

	// Methods below the window are plain register writes, all the way up
	// to the last word of the image.
	for _, method := range []uint32{0xD00, 0xD37, RegCount - 1} {
		m.Write(method, 0x1234)
		if got := m.Read(method); got != 0x1234 {
			t.Errorf("read(%#x) = %#x, want a stored register value", method, got)
		}
	}
	if MacroMethodBase != RegCount {
		t.Errorf("macro window base = %#x, want %#x", MacroMethodBase, RegCount)
	}
}

func TestDrawAndClearTriggers(t *testing.T) {
	m, p, _ := newTestEngine(t)

	m.Write(RegDrawBegin, uint32(TopologyTriangles))
	m.Write(RegDrawEnd, 0)
	if len(p.draws) != 1 || p.draws[0] {
		t.Errorf("draws = %v, want one non-instanced draw", p.draws)
	}

	m.Write(RegDrawBegin, uint32(TopologyTriangles)|1<<26)
	m.Write(RegDrawEnd, 0)
	if len(p.draws) != 2 || !p.draws[1] {
		t.Errorf("draws = %v, want second draw instanced", p.draws)
	}

	m.Write(RegClearBuffers, 1<<2|1<<3|1<<4|1<<5) // RGBA
	if len(p.clears) != 1 || !p.clears[0].R || p.clears[0].Depth {
		t.Errorf("clears = %+v, want one RGBA clear", p.clears)
	}
	if m.QueuedCommands != 3 {
		t.Errorf("QueuedCommands = %d, want 3", m.QueuedCommands)
	}
}

func TestQueryReleaseStamp(t *testing.T) {
	m, _, mm := newTestEngine(t)
	m.SetTickSource(func() uint64 { return 0x1122334455667788 })

	m.Write(RegQueryAddressHigh, 0)
	m.Write(RegQueryAddressLow, 0xC000)
	m.Write(RegQuerySequence, 0xCAFE)

	// Short release: 4-byte payload stamp.
	m.Write(RegQueryGet, uint32(QueryOpRelease)|1<<28)
	if got := mm.Read32(0xC000); got != 0xCAFE {
		t.Errorf("short stamp = %#x, want 0xCAFE", got)
	}

	// Long release: 8-byte payload + 8-byte timestamp.
	m.Write(RegQueryAddressLow, 0xC100)
	m.Write(RegQueryGet, uint32(QueryOpRelease))
	if got := mm.Read64(0xC100); got != 0xCAFE {
		t.Errorf("long stamp = %#x, want 0xCAFE", got)
	}
	if got := mm.Read64(0xC108); got != 0x1122334455667788 {
		t.Errorf("timestamp = %#x", got)
	}
}

func TestQueryCounterRoutesToProcessor(t *testing.T) {
	m, p, _ := newTestEngine(t)

	m.Write(RegQueryAddressLow, 0xC000)
	m.Write(RegQueryGet, uint32(QueryOpCounter)|uint32(QuerySelectSamplesPassed)<<12)
	if len(p.queries) != 1 || p.queries[0].Select != QuerySelectSamplesPassed {
		t.Errorf("queries = %+v", p.queries)
	}
}

func TestSyncPointTriggers(t *testing.T) {
	m, p, _ := newTestEngine(t)

	m.Write(RegSyncInfo, 17)
	m.Write(RegQuerySequence, 9)
	m.Write(RegQueryGet, uint32(QueryOpTrap))

	if len(p.syncPoints) != 2 || p.syncPoints[0] != 17 || p.syncPoints[1] != 9 {
		t.Errorf("syncPoints = %v, want [17 9]", p.syncPoints)
	}
}

func TestInlineDataUpload(t *testing.T) {
	m, _, mm := newTestEngine(t)

	m.Write(RegUploadDstAddressHigh, 0)
	m.Write(RegUploadDstAddressLow, 0x4000)
	m.Write(RegUploadExec, 1)
	m.WriteMulti(RegUploadData, []uint32{0xAA, 0xBB})

	if got := mm.Read32(0x4000); got != 0xAA {
		t.Errorf("word 0 = %#x, want 0xAA", got)
	}
	if got := mm.Read32(0x4004); got != 0xBB {
		t.Errorf("word 1 = %#x, want 0xBB", got)
	}
}

func TestOutOfRangeReadReturnsZero(t *testing.T) {
	m, _, _ := newTestEngine(t)
	// Reads past the register image warn once and return 0.
	if got := m.Read(0x3000); got != 0 {
		t.Errorf("out-of-range read = %d, want 0", got)
	}
	if got := m.Read(0x3000); got != 0 {
		t.Errorf("repeated out-of-range read = %d, want 0", got)
	}
}
