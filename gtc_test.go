package gtc

import (
	"encoding/binary"
	"testing"

	"github.com/kentjhall/mizu-sub009/engine"
	"github.com/kentjhall/mizu-sub009/host/hosttest"
	"github.com/kentjhall/mizu-sub009/mem"
)

// Guest ISA words for minimal test programs: a predicated-true FADD
// (register or cbuf-slot-3 form), EXIT, and the self-branch terminator.
const (
	predPT       = uint64(7) << 16
	faddRegWord  = 0x5C58<<48 | 1<<20 | predPT | 1<<8 | 2
	faddCbufWord = 0x4C58<<48 | 3<<34 | predPT | 1<<8 | 2
	exitWord     = 0xE300<<48 | predPT
	selfBranch   = 0xE2400FFFFF07000F
)

const (
	shaderBase = 0x10000
	vertexBase = 0x20000
	cbufBase   = 0x30000
	rtBase     = 0x40000
	queryBase  = 0xC000
	xfbBase    = 0xD000
)

func vertexProgram(body uint64) []uint64 {
	code := make([]uint64, 14)
	code[11] = body
	code[12] = exitWord
	code[13] = selfBranch
	return code
}

func newTestGPU(t *testing.T) (*GPU, *hosttest.Device, *mem.Flat) {
	t.Helper()
	dev := hosttest.New()
	flat := mem.NewFlat(1 << 20)
	g, err := New(dev, nil, flat)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	g.Memory.Map(0, 0, 1<<20)
	t.Cleanup(g.Close)
	return g, dev, flat
}

func writeGuestProgram(flat *mem.Flat, cpu mem.CpuAddr, code []uint64) {
	buf := make([]byte, len(code)*8)
	for i, w := range code {
		binary.LittleEndian.PutUint64(buf[i*8:], w)
	}
	flat.WriteBlock(cpu, buf)
}

func w3d(g *GPU, method int, value uint32) {
	g.Write(Subchannel3D, uint32(method), value)
}

// setupDrawState latches the minimum register state for a 3-vertex
// triangle draw: one RGBA8 render target, a vertex program, one vertex
// stream with a vec4 float attribute.
func setupDrawState(g *GPU) {
	w3d(g, engine.RegShaderBaseAddressHigh, 0)
	w3d(g, engine.RegShaderBaseAddressLow, shaderBase)
	w3d(g, engine.RegShaderConfigBase+1*engine.RegShaderConfigStride, 1) // VertexB on
	w3d(g, engine.RegShaderConfigBase+1*engine.RegShaderConfigStride+1, 0)

	w3d(g, engine.RegRTControl, 1) // one target, identity map
	w3d(g, engine.RegRTBase+0, 0)
	w3d(g, engine.RegRTBase+1, rtBase)
	w3d(g, engine.RegRTBase+2, 64)
	w3d(g, engine.RegRTBase+3, 64)
	w3d(g, engine.RegRTBase+4, 0xD5) // RGBA8 unorm

	// Stream 0: enabled, 16-byte stride, 3 vertices.
	w3d(g, engine.RegVertexArrayBase, 1<<12|16)
	w3d(g, engine.RegVertexArrayBase+1, 0)
	w3d(g, engine.RegVertexArrayBase+2, vertexBase)
	w3d(g, engine.RegVertexArrayLimitBase, 0)
	w3d(g, engine.RegVertexArrayLimitBase+1, vertexBase+3*16-1)

	// Attribute 0: vec4 float from stream 0.
	w3d(g, engine.RegVertexAttribBase, 7<<27|1<<21)

	w3d(g, engine.RegVertexBufferFirst, 0)
	w3d(g, engine.RegVertexBufferCount, 3)
}

func triggerDraw(g *GPU) {
	w3d(g, engine.RegDrawBegin, uint32(engine.TopologyTriangles))
	w3d(g, engine.RegDrawEnd, 0)
}

func TestDrawTriangles(t *testing.T) {
	g, dev, flat := newTestGPU(t)
	writeGuestProgram(flat, shaderBase, vertexProgram(faddRegWord))
	setupDrawState(g)
	triggerDraw(g)

	if n := dev.CallCount("DrawArrays(topo=4 first=0 count=3 inst=1)"); n != 1 {
		t.Fatalf("DrawArrays = %d calls, want 1; calls: %v", n, dev.Calls())
	}
	if dev.CallCount("BindPipeline") != 1 {
		t.Error("draw must bind the linked pipeline")
	}
	if dev.CallCount("CreateFramebuffer") != 1 {
		t.Error("draw must resolve the render target into a framebuffer")
	}

	// Same state again: every cache hits, no new host objects.
	triggerDraw(g)
	if dev.CallCount("CreatePipeline") != 1 {
		t.Error("second identical draw must reuse the pipeline")
	}
	if dev.CallCount("CreateFramebuffer") != 1 {
		t.Error("second identical draw must reuse the framebuffer")
	}
	if dev.CallCount("DrawArrays(") != 2 {
		t.Error("second draw missing")
	}
}

func TestDrawBindsConstBuffer(t *testing.T) {
	g, dev, flat := newTestGPU(t)
	writeGuestProgram(flat, shaderBase, vertexProgram(faddCbufWord))
	setupDrawState(g)

	// Bind a 256-byte constant buffer to vertex stage slot 3.
	w3d(g, engine.RegCBSize, 0x100)
	w3d(g, engine.RegCBAddressHigh, 0)
	w3d(g, engine.RegCBAddressLow, cbufBase)
	w3d(g, engine.RegCBBindBase, 1|3<<4)

	triggerDraw(g)

	// Vertex stage binding base is 0; slot 3 lands on host binding 3.
	if n := dev.CallCount("BindUniformBuffer(3 "); n != 1 {
		t.Fatalf("BindUniformBuffer(3) = %d calls; calls: %v", n, dev.Calls())
	}
}

func TestQueryReleaseAndCounter(t *testing.T) {
	g, dev, flat := newTestGPU(t)
	g.Maxwell.SetTickSource(func() uint64 { return 42 })
	writeGuestProgram(flat, shaderBase, vertexProgram(faddRegWord))
	setupDrawState(g)

	// Release: payload lands immediately, long form adds the timestamp.
	w3d(g, engine.RegQueryAddressHigh, 0)
	w3d(g, engine.RegQueryAddressLow, queryBase)
	w3d(g, engine.RegQuerySequence, 0xDEAD)
	w3d(g, engine.RegQueryGet, uint32(engine.QueryOpRelease))
	if v := g.Memory.Read64(queryBase); v != 0xDEAD {
		t.Fatalf("release stamp = %#x, want 0xDEAD", v)
	}
	if ts := g.Memory.Read64(queryBase + 8); ts != 42 {
		t.Fatalf("release timestamp = %d, want 42", ts)
	}

	// Counter: a sample-counted draw, then the counter query. The stamp
	// lands at the next frame tick once the host query resolves.
	w3d(g, engine.RegSamplecntEnable, 1)
	triggerDraw(g)
	w3d(g, engine.RegQueryAddressLow, queryBase+0x10)
	w3d(g, engine.RegQueryGet, uint32(engine.QueryOpCounter)|1<<12)

	if dev.CallCount("Query.End(") == 0 {
		t.Error("counter sample must pause the query stream")
	}
	g.TickFrame()
	if ts := g.Memory.Read64(queryBase + 0x10 + 8); ts != 42 {
		t.Errorf("counter stamp not written, timestamp = %d", ts)
	}
}

func TestTransformFeedbackPipelineReuse(t *testing.T) {
	g, dev, flat := newTestGPU(t)
	writeGuestProgram(flat, shaderBase, vertexProgram(faddRegWord))
	setupDrawState(g)
	triggerDraw(g)
	if dev.CallCount("CreatePipeline") != 1 {
		t.Fatal("baseline pipeline missing")
	}

	// Feedback on: buffer 0 captures one vec4 per vertex.
	w3d(g, engine.RegDrawTFBEnable, 1)
	w3d(g, engine.RegTFBBufferBase, 1)
	w3d(g, engine.RegTFBBufferBase+1, 0)
	w3d(g, engine.RegTFBBufferBase+2, xfbBase)
	w3d(g, engine.RegTFBBufferBase+3, 3*16)
	w3d(g, engine.RegTFBBufferBase+4, 0)
	w3d(g, engine.RegTFBLayoutBase, 16)
	w3d(g, engine.RegTFBLayoutBase+1, 1)

	triggerDraw(g)
	if dev.CallCount("CreatePipeline") != 2 {
		t.Error("feedback-enabled draw must link its own pipeline")
	}
	if dev.CallCount("BeginTransformFeedback(") != 1 || dev.CallCount("EndTransformFeedback") != 1 {
		t.Errorf("feedback draw must bracket the draw; calls: %v", dev.Calls())
	}
	if dev.CallCount("BindTransformFeedbackBuffer(0") != 1 {
		t.Error("feedback buffer 0 not bound")
	}

	// Same feedback state again: the pipeline cache must hit.
	triggerDraw(g)
	if dev.CallCount("CreatePipeline") != 2 {
		t.Error("repeated feedback draw must reuse its pipeline")
	}
	if dev.CallCount("BeginTransformFeedback(") != 2 {
		t.Error("second feedback draw missing")
	}
}

func TestClearSyncsShortList(t *testing.T) {
	g, dev, _ := newTestGPU(t)
	setupDrawState(g)

	w3d(g, engine.RegClearColorBase, 0x3F800000) // 1.0f
	w3d(g, engine.RegClearBuffers, 1<<2|1<<3|1<<4|1<<5)

	if dev.CallCount("Clear(color=true depth=false stencil=false)") != 1 {
		t.Fatalf("clear not issued; calls: %v", dev.Calls())
	}
	// The clear path syncs write-affecting state but not the full draw
	// list.
	if dev.CallCount("SetColorMask(") == 0 {
		t.Error("clear must sync the color mask")
	}
	if dev.CallCount("SetVertexFormats") != 0 {
		t.Error("clear must not sync vertex state")
	}
}

func TestSyncPointSignalsAfterFence(t *testing.T) {
	g, dev, _ := newTestGPU(t)

	var got []uint32
	g.SetSyncPointCallback(func(id, value uint32) { got = append(got, value) })

	w3d(g, engine.RegSyncInfo, 5)
	if g.SyncPointValue(5) != 0 {
		t.Fatal("sync point must not increment before the fence retires")
	}
	g.TickFrame()
	if g.SyncPointValue(5) != 1 {
		t.Fatalf("sync point = %d after tick, want 1", g.SyncPointValue(5))
	}
	if len(got) != 1 || got[0] != 1 {
		t.Errorf("callback values = %v, want [1]", got)
	}
	if dev.CallCount("FenceSync") == 0 {
		t.Error("sync point must queue a host fence")
	}
}

func TestInvalidateRegionRebuildsShader(t *testing.T) {
	g, dev, flat := newTestGPU(t)
	writeGuestProgram(flat, shaderBase, vertexProgram(faddRegWord))
	setupDrawState(g)
	triggerDraw(g)
	compiled := dev.CallCount("CompileProgram(")

	// Overwrite the program and invalidate: the next draw recompiles.
	writeGuestProgram(flat, shaderBase, vertexProgram(faddCbufWord))
	g.InvalidateRegion(shaderBase, 14*8)
	g.TickFrame()
	triggerDraw(g)
	if dev.CallCount("CompileProgram(") <= compiled {
		t.Error("invalidated program must be rebuilt")
	}
}

func TestUnknownSubchannelIsIgnored(t *testing.T) {
	g, _, _ := newTestGPU(t)
	g.Write(SubchannelDMA, 0x100, 1) // no engine bound; must not panic
}
