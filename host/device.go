// Package host defines the host-GPU device abstraction the translation
// core renders through. Exactly one real implementation exists (an OpenGL
// 4.6 context, package host/gl46); package host/hosttest provides a
// recording fake for tests. The split keeps every cache and the
// rasterizer independent of a live GL context.
package host

// Access is a buffer residency level. Residency only ever escalates for a
// buffer's lifetime; demoting a resident buffer stalls some drivers.
type Access int

// Residency levels.
const (
	AccessNone Access = iota
	AccessRead
	AccessReadWrite
)

// ShaderType identifies a separable program stage.
type ShaderType int

// Host program stages.
const (
	ShaderVertex ShaderType = iota
	ShaderTessControl
	ShaderTessEval
	ShaderGeometry
	ShaderFragment
	ShaderCompute
)

func (t ShaderType) String() string {
	switch t {
	case ShaderVertex:
		return "vertex"
	case ShaderTessControl:
		return "tess_control"
	case ShaderTessEval:
		return "tess_eval"
	case ShaderGeometry:
		return "geometry"
	case ShaderFragment:
		return "fragment"
	case ShaderCompute:
		return "compute"
	}
	return "unknown"
}

// ProgramLanguage selects the source language of a host program.
type ProgramLanguage int

// Program source languages.
const (
	LanguageGLSL ProgramLanguage = iota
	LanguageGLASM
	LanguageSPIRV
)

// TextureTarget is the host texture target.
type TextureTarget int

// Texture targets.
const (
	Target1D TextureTarget = iota
	Target1DArray
	Target2D
	Target2DArray
	Target2DMultisample
	Target3D
	TargetCube
	TargetCubeArray
	TargetBuffer
)

// PixelFormat is a host-side pixel format, already resolved from the
// guest encoding by the texture cache.
type PixelFormat int

// Host pixel formats used by the translation layer. The set covers the
// guest formats the cache can decode; compressed entries use the
// compressed upload path.
const (
	FormatInvalid PixelFormat = iota
	FormatR8UNorm
	FormatR8SNorm
	FormatR8UInt
	FormatRG8UNorm
	FormatRG8SNorm
	FormatRGBA8UNorm
	FormatRGBA8SNorm
	FormatRGBA8UInt
	FormatRGBA8SRGB
	FormatBGRA8UNorm
	FormatR16Float
	FormatRG16Float
	FormatRGBA16Float
	FormatR16UNorm
	FormatR32Float
	FormatRG32Float
	FormatRGB32Float
	FormatRGBA32Float
	FormatR32UInt
	FormatRG32UInt
	FormatRGBA32UInt
	FormatRGB10A2UNorm
	FormatRG11B10Float
	FormatBC1RGBA
	FormatBC2
	FormatBC3
	FormatBC4UNorm
	FormatBC5UNorm
	FormatBC7
	FormatASTC4x4
	FormatASTC8x8
	FormatD16UNorm
	FormatD24UNormS8
	FormatD32Float
	FormatD32FloatS8
	FormatS8UInt
	FormatCount
)

// IsCompressed reports whether uploads must use the compressed path.
func (f PixelFormat) IsCompressed() bool {
	switch f {
	case FormatBC1RGBA, FormatBC2, FormatBC3, FormatBC4UNorm, FormatBC5UNorm,
		FormatBC7, FormatASTC4x4, FormatASTC8x8:
		return true
	}
	return false
}

// HasDepth reports whether the format carries a depth component.
func (f PixelFormat) HasDepth() bool {
	switch f {
	case FormatD16UNorm, FormatD24UNormS8, FormatD32Float, FormatD32FloatS8:
		return true
	}
	return false
}

// HasStencil reports whether the format carries a stencil component.
func (f PixelFormat) HasStencil() bool {
	switch f {
	case FormatD24UNormS8, FormatD32FloatS8, FormatS8UInt:
		return true
	}
	return false
}

// TextureDesc describes host texture storage.
type TextureDesc struct {
	Target  TextureTarget
	Format  PixelFormat
	Width   uint32
	Height  uint32
	Depth   uint32 // depth or layer count
	Levels  uint32
	Samples uint32 // 0 or 1 for non-MSAA
}

// ViewDesc describes a texture view over existing storage.
type ViewDesc struct {
	Target    TextureTarget
	Format    PixelFormat
	BaseLevel uint32
	Levels    uint32
	BaseLayer uint32
	Layers    uint32
	Swizzle   [4]SwizzleSource
}

// SwizzleSource is one component of a view swizzle.
type SwizzleSource int

// Swizzle sources.
const (
	SwizzleZero SwizzleSource = iota
	SwizzleOne
	SwizzleR
	SwizzleG
	SwizzleB
	SwizzleA
)

// UploadParams carries the row layout of a pixel transfer. Alignment is
// clamped to 8 by callers, matching host UNPACK/PACK limits.
type UploadParams struct {
	Level     uint32
	X, Y, Z   uint32
	Width     uint32
	Height    uint32
	Depth     uint32
	RowLength uint32 // 0 = tightly packed
	Alignment uint32 // 1, 2, 4 or 8
}

// SamplerDesc describes a host sampler object.
type SamplerDesc struct {
	MagLinear    bool
	MinLinear    bool
	MipLinear    bool
	MipEnabled   bool
	WrapU        Wrap
	WrapV        Wrap
	WrapW        Wrap
	DepthCompare bool
	CompareFunc  CompareOp
	Anisotropy   float32
	MinLOD       float32
	MaxLOD       float32
	LODBias      float32
	BorderColor  [4]float32
}

// Wrap is a sampler address mode.
type Wrap int

// Sampler address modes.
const (
	WrapRepeat Wrap = iota
	WrapMirror
	WrapClampEdge
	WrapClampBorder
	WrapMirrorOnce
)

// CompareOp is a host comparison function.
type CompareOp int

// Comparison functions.
const (
	CompareNever CompareOp = iota
	CompareLess
	CompareEqual
	CompareLEqual
	CompareGreater
	CompareNotEqual
	CompareGEqual
	CompareAlways
)

// QueryTarget is a host query type.
type QueryTarget int

// Query targets.
const (
	QuerySamplesPassed QueryTarget = iota
	QueryTimeElapsed
)

// Topology is the host primitive topology of a draw.
type Topology int

// Host draw topologies.
const (
	DrawPoints Topology = iota
	DrawLines
	DrawLineLoop
	DrawLineStrip
	DrawTriangles
	DrawTriangleStrip
	DrawTriangleFan
	DrawLinesAdjacency
	DrawLineStripAdjacency
	DrawTrianglesAdjacency
	DrawTriangleStripAdjacency
	DrawPatches
)

// IndexType is the element type of an indexed draw.
type IndexType int

// Index element types.
const (
	IndexU8 IndexType = iota
	IndexU16
	IndexU32
)

// VertexAttribClass is how an attribute's integer data reaches the shader.
type VertexAttribClass int

// Attribute classes.
const (
	AttribFloat VertexAttribClass = iota // glVertexAttribFormat
	AttribInt                            // glVertexAttribIFormat
)

// VertexAttribFormat describes one enabled vertex attribute.
type VertexAttribFormat struct {
	Location   uint32
	Binding    uint32
	Components int32
	Type       VertexAttribType
	Class      VertexAttribClass
	Normalized bool
	Offset     uint32
}

// VertexAttribType is the component type of a vertex attribute.
type VertexAttribType int

// Attribute component types.
const (
	AttribTypeByte VertexAttribType = iota
	AttribTypeUByte
	AttribTypeShort
	AttribTypeUShort
	AttribTypeInt
	AttribTypeUInt
	AttribTypeHalf
	AttribTypeFloat32
	AttribType2101010Rev
)

// Buffer is a host buffer object.
type Buffer interface {
	Size() uint64
	Upload(offset uint64, data []byte)
	Download(offset uint64, dst []byte)
	// MakeResident promotes the buffer's bindless residency. Promotions
	// are monotonic; implementations ignore downgrades.
	MakeResident(access Access)
	Residency() Access
	// GpuAddress returns the bindless GPU address, or 0 when the unified
	// memory extensions are unavailable.
	GpuAddress() uint64
	Delete()
}

// StreamBuffer is a persistent-mapped ring buffer for short-lived uploads.
type StreamBuffer interface {
	// Alloc reserves size bytes and returns the write window plus the
	// buffer offset it starts at.
	Alloc(size uint64, alignment uint64) (window []byte, offset uint64)
	Buffer() Buffer
}

// Texture is host texture storage.
type Texture interface {
	Desc() TextureDesc
	Upload(p UploadParams, data []byte)
	UploadCompressed(p UploadParams, imageSize uint32, data []byte)
	Download(p UploadParams, dst []byte)
	CreateView(desc ViewDesc) TextureView
	// CopyTo blits a matching-format region into dst.
	CopyTo(dst Texture, srcLevel, srcX, srcY, srcZ, dstLevel, dstX, dstY, dstZ, w, h, d uint32)
	Delete()
}

// TextureView is a format/subresource view over a texture.
type TextureView interface {
	Desc() ViewDesc
	Texture() Texture
	Delete()
}

// Sampler is a host sampler object.
type Sampler interface {
	Desc() SamplerDesc
	Delete()
}

// FramebufferAttachments is the host framebuffer configuration.
type FramebufferAttachments struct {
	Colors     [8]TextureView // nil = unattached
	Depth      TextureView
	HasStencil bool
	// DrawBuffers maps fragment outputs to color attachments; -1 = NONE.
	DrawBuffers [8]int8
}

// Framebuffer is a host framebuffer object.
type Framebuffer interface {
	Attachments() FramebufferAttachments
	Delete()
}

// Query is a host query object.
type Query interface {
	Target() QueryTarget
	Begin()
	End()
	ResultAvailable() bool
	// Result blocks until available.
	Result() uint64
	Delete()
}

// Sync is a host fence sync object.
type Sync interface {
	Signaled() bool
	// Wait blocks until the sync signals.
	Wait()
	Delete()
}

// Program is a compiled, separable host program.
type Program interface {
	Language() ProgramLanguage
	Stage() ShaderType
	// Binary retrieves the driver program binary for disk caching.
	// Returns ok=false when the driver refuses.
	Binary() (format uint32, data []byte, ok bool)
	Delete()
}

// Pipeline is a bound set of per-stage programs.
type Pipeline interface {
	Delete()
}

// DrawParams selects the draw call variant.
type DrawParams struct {
	Topology     Topology
	First        int32
	Count        int32
	Indexed      bool
	IndexType    IndexType
	IndexOffset  uintptr
	BaseVertex   int32
	Instances    int32
	BaseInstance uint32
}

// ClearParams is a framebuffer clear request.
type ClearParams struct {
	ColorMask    [4]bool
	Color        [4]float32
	ColorIndex   uint32
	ClearColor   bool
	ClearDepth   bool
	Depth        float32
	ClearStencil bool
	Stencil      int32
}

// BlendSlotState is the per-attachment blend configuration.
type BlendSlotState struct {
	Enabled  bool
	RGBEq    uint32
	SrcRGB   uint32
	DstRGB   uint32
	AlphaEq  uint32
	SrcAlpha uint32
	DstAlpha uint32
}

// StencilFaceState is one face of the stencil configuration.
type StencilFaceState struct {
	Func      CompareOp
	Ref       int32
	FuncMask  uint32
	OpFail    uint32
	OpZFail   uint32
	OpZPass   uint32
	WriteMask uint32
}

// Device is the host GPU. All calls happen on the rasterizer thread except
// CompileProgram, which shader workers invoke on their own shared
// contexts.
type Device interface {
	Capabilities() Capabilities

	CreateBuffer(size uint64) Buffer
	CreateStreamBuffer(size uint64) StreamBuffer
	CreateTexture(desc TextureDesc) (Texture, error)
	CreateSampler(desc SamplerDesc) Sampler
	CreateFramebuffer(att FramebufferAttachments) Framebuffer
	CreateQuery(target QueryTarget) Query
	FenceSync() Sync

	// CreateBufferTexture wraps a buffer range in a texel view with the
	// given pixel format, for texture-buffer and image-buffer bindings.
	CreateBufferTexture(buf Buffer, format PixelFormat, offset, size uint64) (TextureView, error)

	CompileProgram(stage ShaderType, lang ProgramLanguage, source []byte) (Program, error)
	LoadProgramBinary(stage ShaderType, format uint32, data []byte) (Program, error)
	CreatePipeline(programs []Program) (Pipeline, error)

	BindPipeline(p Pipeline)
	BindFramebuffer(fb Framebuffer)
	BindUniformBuffer(binding uint32, buf Buffer, offset, size uint64)
	BindStorageBuffer(binding uint32, buf Buffer, offset, size uint64)
	// SetStorageDescriptor writes a bindless {address, length} descriptor
	// into a GLASM local parameter slot.
	SetStorageDescriptor(stage ShaderType, slot uint32, gpuAddress uint64, length uint64)
	BindTexture(unit uint32, view TextureView, sampler Sampler)
	BindImage(unit uint32, view TextureView, writable bool)
	BindVertexBuffer(index uint32, buf Buffer, offset uint64, stride uint32)
	// BindVertexBufferUnified binds by GPU address when
	// NV_vertex_buffer_unified_memory is present.
	BindVertexBufferUnified(index uint32, gpuAddress uint64, length uint64, stride uint32)
	BindIndexBuffer(buf Buffer)
	SetVertexFormats(attribs []VertexAttribFormat)
	SetVertexBindingDivisor(index uint32, divisor uint32)
	BindTransformFeedbackBuffer(index uint32, buf Buffer, offset, size uint64)

	Draw(p DrawParams)
	Dispatch(x, y, z uint32)
	Clear(p ClearParams)
	BeginTransformFeedback(topology Topology)
	EndTransformFeedback()

	// Fixed-function state, one method per dirty group.
	SetViewport(index uint32, x, y, w, h float32, near, far float64)
	SetDepthClamp(enabled bool)
	SetClipControl(lowerLeft bool, depthZeroToOne bool)
	SetCullMode(enabled bool, frontIsCCW bool, cullBack bool, cullFront bool)
	SetPrimitiveRestart(enabled bool, index uint32)
	SetDepthTest(enabled bool, writeEnabled bool, fn CompareOp)
	SetStencilTest(enabled bool, front, back StencilFaceState)
	SetBlendState(index uint32, s BlendSlotState)
	SetBlendColor(rgba [4]float32)
	SetLogicOp(enabled bool, op uint32)
	SetRasterizeEnable(enabled bool)
	SetPolygonModes(front, back uint32)
	SetColorMask(index uint32, r, g, b, a bool)
	SetMultisample(enabled bool, alphaToCoverage bool, alphaToOne bool)
	SetSampleMask(masks [4]uint32)
	SetFragmentColorClamp(enabled bool)
	SetScissor(index uint32, enabled bool, x, y, w, h int32)
	SetPointState(size float32, spriteEnabled bool, programPointSize bool)
	SetLineState(width float32, smooth bool)
	SetPolygonOffset(point, line, fill bool, factor, units, clamp float32)
	SetAlphaTest(enabled bool, fn CompareOp, ref float32)
	SetFramebufferSRGB(enabled bool)

	// Flush submits queued commands without blocking.
	Flush()
	// Finish blocks until the host GPU is idle.
	Finish()
}

// ContextProvider creates shared contexts for shader worker threads. The
// windowing layer implements it; workers call Make on their own goroutine
// (locked to an OS thread) before compiling.
type ContextProvider interface {
	// NewSharedContext creates a context sharing objects with the main
	// one. The returned function makes it current on the calling thread;
	// the second releases it.
	NewSharedContext() (makeCurrent func(), destroy func(), err error)
}
