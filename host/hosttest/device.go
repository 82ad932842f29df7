// Package hosttest provides an in-memory host.Device that records every
// call it receives. Tests drive the translation layer against it and
// assert on the recorded call log instead of a live context.
package hosttest

import (
	"fmt"
	"sync"

	"github.com/kentjhall/mizu-sub009/host"
)

// Device is a recording fake. The zero value is not usable; call New.
type Device struct {
	mu    sync.Mutex
	calls []string
	caps  host.Capabilities

	buffers      int
	textures     int
	framebuffers int
	programs     int
	queries      int
	syncs        int

	// FailCompile makes CompileProgram return an error containing this
	// string when non-empty.
	FailCompile string
	// SignalSyncs controls whether created fences report signaled.
	SignalSyncs bool
}

// New creates a fake device advertising every capability.
func New() *Device {
	return &Device{
		caps: host.Capabilities{
			Vendor:                 "hosttest",
			Renderer:               "recording fake",
			HasDirectStateAccess:   true,
			HasSeparablePipelines:  true,
			HasBufferStorage:       true,
			HasClipControl:         true,
			HasPolygonOffsetClamp:  true,
			HasTextureView:         true,
			HasShaderBallot:        true,
			HasAssemblyShaders:     true,
			HasVertexBufferUnified: true,
			HasASTC:                true,
			MaxVertexAttribs:       32,
			MaxTextureUnits:        192,
			MaxImageUnits:          8,
			UniformBufferAlignment: 256,
			StorageBufferAlignment: 16,
			MaxAnisotropy:          16,
		},
		SignalSyncs: true,
	}
}

// SetCapabilities replaces the advertised capability set.
func (d *Device) SetCapabilities(caps host.Capabilities) { d.caps = caps }

// Calls returns a copy of the recorded call log.
func (d *Device) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// CallCount returns how many recorded calls have the given prefix.
func (d *Device) CallCount(prefix string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

// Reset clears the call log.
func (d *Device) Reset() {
	d.mu.Lock()
	d.calls = d.calls[:0]
	d.mu.Unlock()
}

func (d *Device) record(format string, args ...any) {
	d.mu.Lock()
	d.calls = append(d.calls, fmt.Sprintf(format, args...))
	d.mu.Unlock()
}

// Capabilities implements host.Device.
func (d *Device) Capabilities() host.Capabilities { return d.caps }

// CreateBuffer implements host.Device. The fake buffer stores data so
// flush paths can be verified end to end.
func (d *Device) CreateBuffer(size uint64) host.Buffer {
	d.mu.Lock()
	d.buffers++
	id := d.buffers
	d.mu.Unlock()
	d.record("CreateBuffer(%d)", size)
	return &fakeBuffer{dev: d, id: id, data: make([]byte, size)}
}

// CreateStreamBuffer implements host.Device.
func (d *Device) CreateStreamBuffer(size uint64) host.StreamBuffer {
	d.record("CreateStreamBuffer(%d)", size)
	return &fakeStream{buf: d.CreateBuffer(size).(*fakeBuffer)}
}

// CreateTexture implements host.Device.
func (d *Device) CreateTexture(desc host.TextureDesc) (host.Texture, error) {
	d.mu.Lock()
	d.textures++
	id := d.textures
	d.mu.Unlock()
	d.record("CreateTexture(%dx%dx%d fmt=%d levels=%d)",
		desc.Width, desc.Height, desc.Depth, desc.Format, desc.Levels)
	return &fakeTexture{dev: d, id: id, desc: desc}, nil
}

// CreateSampler implements host.Device.
func (d *Device) CreateSampler(desc host.SamplerDesc) host.Sampler {
	d.record("CreateSampler")
	return &fakeSampler{desc: desc}
}

// CreateFramebuffer implements host.Device.
func (d *Device) CreateFramebuffer(att host.FramebufferAttachments) host.Framebuffer {
	d.mu.Lock()
	d.framebuffers++
	d.mu.Unlock()
	d.record("CreateFramebuffer")
	return &fakeFramebuffer{att: att}
}

// CreateQuery implements host.Device.
func (d *Device) CreateQuery(target host.QueryTarget) host.Query {
	d.mu.Lock()
	d.queries++
	d.mu.Unlock()
	d.record("CreateQuery(%d)", target)
	return &fakeQuery{dev: d, target: target}
}

// FenceSync implements host.Device.
func (d *Device) FenceSync() host.Sync {
	d.mu.Lock()
	d.syncs++
	d.mu.Unlock()
	d.record("FenceSync")
	return &fakeSync{dev: d}
}

// CreateBufferTexture implements host.Device.
func (d *Device) CreateBufferTexture(buf host.Buffer, format host.PixelFormat, offset, size uint64) (host.TextureView, error) {
	d.mu.Lock()
	d.textures++
	id := d.textures
	d.mu.Unlock()
	d.record("CreateBufferTexture(fmt=%d off=%d size=%d)", format, offset, size)
	tex := &fakeTexture{dev: d, id: id, desc: host.TextureDesc{Target: host.TargetBuffer, Format: format}}
	return &fakeView{tex: tex, desc: host.ViewDesc{Target: host.TargetBuffer, Format: format}}, nil
}

// CompileProgram implements host.Device.
func (d *Device) CompileProgram(stage host.ShaderType, lang host.ProgramLanguage, source []byte) (host.Program, error) {
	d.record("CompileProgram(%s lang=%d %dB)", stage, lang, len(source))
	if d.FailCompile != "" {
		return nil, fmt.Errorf("hosttest: %s", d.FailCompile)
	}
	d.mu.Lock()
	d.programs++
	d.mu.Unlock()
	return &fakeProgram{stage: stage, lang: lang, source: append([]byte(nil), source...)}, nil
}

// LoadProgramBinary implements host.Device.
func (d *Device) LoadProgramBinary(stage host.ShaderType, format uint32, data []byte) (host.Program, error) {
	d.record("LoadProgramBinary(%s fmt=%d %dB)", stage, format, len(data))
	return &fakeProgram{stage: stage, lang: host.LanguageGLSL, binary: append([]byte(nil), data...), binFormat: format}, nil
}

// CreatePipeline implements host.Device.
func (d *Device) CreatePipeline(programs []host.Program) (host.Pipeline, error) {
	d.record("CreatePipeline(%d stages)", len(programs))
	return &fakePipeline{programs: programs}, nil
}

// BindPipeline implements host.Device.
func (d *Device) BindPipeline(p host.Pipeline) { d.record("BindPipeline") }

// BindFramebuffer implements host.Device.
func (d *Device) BindFramebuffer(fb host.Framebuffer) { d.record("BindFramebuffer") }

// BindUniformBuffer implements host.Device.
func (d *Device) BindUniformBuffer(binding uint32, buf host.Buffer, offset, size uint64) {
	d.record("BindUniformBuffer(%d off=%d size=%d)", binding, offset, size)
}

// BindStorageBuffer implements host.Device.
func (d *Device) BindStorageBuffer(binding uint32, buf host.Buffer, offset, size uint64) {
	d.record("BindStorageBuffer(%d off=%d size=%d)", binding, offset, size)
}

// SetStorageDescriptor implements host.Device.
func (d *Device) SetStorageDescriptor(stage host.ShaderType, slot uint32, gpuAddress, length uint64) {
	d.record("SetStorageDescriptor(%s slot=%d addr=%#x len=%d)", stage, slot, gpuAddress, length)
}

// BindTexture implements host.Device.
func (d *Device) BindTexture(unit uint32, view host.TextureView, sampler host.Sampler) {
	d.record("BindTexture(%d)", unit)
}

// BindImage implements host.Device.
func (d *Device) BindImage(unit uint32, view host.TextureView, writable bool) {
	d.record("BindImage(%d writable=%v)", unit, writable)
}

// BindVertexBuffer implements host.Device.
func (d *Device) BindVertexBuffer(index uint32, buf host.Buffer, offset uint64, stride uint32) {
	d.record("BindVertexBuffer(%d off=%d stride=%d)", index, offset, stride)
}

// BindVertexBufferUnified implements host.Device.
func (d *Device) BindVertexBufferUnified(index uint32, gpuAddress, length uint64, stride uint32) {
	d.record("BindVertexBufferUnified(%d addr=%#x len=%d stride=%d)", index, gpuAddress, length, stride)
}

// BindIndexBuffer implements host.Device.
func (d *Device) BindIndexBuffer(buf host.Buffer) { d.record("BindIndexBuffer") }

// SetVertexFormats implements host.Device.
func (d *Device) SetVertexFormats(attribs []host.VertexAttribFormat) {
	d.record("SetVertexFormats(%d)", len(attribs))
}

// SetVertexBindingDivisor implements host.Device.
func (d *Device) SetVertexBindingDivisor(index, divisor uint32) {
	d.record("SetVertexBindingDivisor(%d, %d)", index, divisor)
}

// BindTransformFeedbackBuffer implements host.Device.
func (d *Device) BindTransformFeedbackBuffer(index uint32, buf host.Buffer, offset, size uint64) {
	d.record("BindTransformFeedbackBuffer(%d off=%d size=%d)", index, offset, size)
}

// Draw implements host.Device.
func (d *Device) Draw(p host.DrawParams) {
	if p.Indexed {
		d.record("DrawElements(topo=%d count=%d type=%d base=%d inst=%d)",
			p.Topology, p.Count, p.IndexType, p.BaseVertex, p.Instances)
	} else {
		d.record("DrawArrays(topo=%d first=%d count=%d inst=%d)",
			p.Topology, p.First, p.Count, p.Instances)
	}
}

// Dispatch implements host.Device.
func (d *Device) Dispatch(x, y, z uint32) { d.record("Dispatch(%d,%d,%d)", x, y, z) }

// Clear implements host.Device.
func (d *Device) Clear(p host.ClearParams) {
	d.record("Clear(color=%v depth=%v stencil=%v)", p.ClearColor, p.ClearDepth, p.ClearStencil)
}

// BeginTransformFeedback implements host.Device.
func (d *Device) BeginTransformFeedback(topology host.Topology) {
	d.record("BeginTransformFeedback(%d)", topology)
}

// EndTransformFeedback implements host.Device.
func (d *Device) EndTransformFeedback() { d.record("EndTransformFeedback") }

// SetViewport implements host.Device.
func (d *Device) SetViewport(index uint32, x, y, w, h float32, near, far float64) {
	d.record("SetViewport(%d %v,%v %vx%v)", index, x, y, w, h)
}

// SetDepthClamp implements host.Device.
func (d *Device) SetDepthClamp(enabled bool) { d.record("SetDepthClamp(%v)", enabled) }

// SetClipControl implements host.Device.
func (d *Device) SetClipControl(lowerLeft, depthZeroToOne bool) {
	d.record("SetClipControl(%v,%v)", lowerLeft, depthZeroToOne)
}

// SetCullMode implements host.Device.
func (d *Device) SetCullMode(enabled, frontIsCCW, cullBack, cullFront bool) {
	d.record("SetCullMode(%v)", enabled)
}

// SetPrimitiveRestart implements host.Device.
func (d *Device) SetPrimitiveRestart(enabled bool, index uint32) {
	d.record("SetPrimitiveRestart(%v,%d)", enabled, index)
}

// SetDepthTest implements host.Device.
func (d *Device) SetDepthTest(enabled, writeEnabled bool, fn host.CompareOp) {
	d.record("SetDepthTest(%v,%v,%d)", enabled, writeEnabled, fn)
}

// SetStencilTest implements host.Device.
func (d *Device) SetStencilTest(enabled bool, front, back host.StencilFaceState) {
	d.record("SetStencilTest(%v)", enabled)
}

// SetBlendState implements host.Device.
func (d *Device) SetBlendState(index uint32, s host.BlendSlotState) {
	d.record("SetBlendState(%d,%v)", index, s.Enabled)
}

// SetBlendColor implements host.Device.
func (d *Device) SetBlendColor(rgba [4]float32) { d.record("SetBlendColor") }

// SetLogicOp implements host.Device.
func (d *Device) SetLogicOp(enabled bool, op uint32) { d.record("SetLogicOp(%v)", enabled) }

// SetRasterizeEnable implements host.Device.
func (d *Device) SetRasterizeEnable(enabled bool) { d.record("SetRasterizeEnable(%v)", enabled) }

// SetPolygonModes implements host.Device.
func (d *Device) SetPolygonModes(front, back uint32) { d.record("SetPolygonModes") }

// SetColorMask implements host.Device.
func (d *Device) SetColorMask(index uint32, r, g, b, a bool) {
	d.record("SetColorMask(%d,%v,%v,%v,%v)", index, r, g, b, a)
}

// SetMultisample implements host.Device.
func (d *Device) SetMultisample(enabled, alphaToCoverage, alphaToOne bool) {
	d.record("SetMultisample(%v)", enabled)
}

// SetSampleMask implements host.Device.
func (d *Device) SetSampleMask(masks [4]uint32) { d.record("SetSampleMask") }

// SetFragmentColorClamp implements host.Device.
func (d *Device) SetFragmentColorClamp(enabled bool) {
	d.record("SetFragmentColorClamp(%v)", enabled)
}

// SetScissor implements host.Device.
func (d *Device) SetScissor(index uint32, enabled bool, x, y, w, h int32) {
	d.record("SetScissor(%d,%v)", index, enabled)
}

// SetPointState implements host.Device.
func (d *Device) SetPointState(size float32, spriteEnabled, programPointSize bool) {
	d.record("SetPointState(%v)", size)
}

// SetLineState implements host.Device.
func (d *Device) SetLineState(width float32, smooth bool) {
	d.record("SetLineState(%v,%v)", width, smooth)
}

// SetPolygonOffset implements host.Device.
func (d *Device) SetPolygonOffset(point, line, fill bool, factor, units, clamp float32) {
	d.record("SetPolygonOffset(%v,%v,%v)", point, line, fill)
}

// SetAlphaTest implements host.Device.
func (d *Device) SetAlphaTest(enabled bool, fn host.CompareOp, ref float32) {
	d.record("SetAlphaTest(%v)", enabled)
}

// SetFramebufferSRGB implements host.Device.
func (d *Device) SetFramebufferSRGB(enabled bool) {
	d.record("SetFramebufferSRGB(%v)", enabled)
}

// Flush implements host.Device.
func (d *Device) Flush() { d.record("Flush") }

// Finish implements host.Device.
func (d *Device) Finish() { d.record("Finish") }

// NewSharedContext implements host.ContextProvider with no-op contexts.
func (d *Device) NewSharedContext() (func(), func(), error) {
	return func() {}, func() {}, nil
}
