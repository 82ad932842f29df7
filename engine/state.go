package engine

import (
	"math"

	"github.com/kentjhall/mizu-sub009/mem"
)

// ShaderStage identifies one of the six Maxwell shader program slots.
type ShaderStage int

// Shader program slots in register order.
const (
	StageVertexA ShaderStage = iota
	StageVertexB
	StageTessControl
	StageTessEval
	StageGeometry
	StageFragment
)

func (s ShaderStage) String() string {
	switch s {
	case StageVertexA:
		return "vertex_a"
	case StageVertexB:
		return "vertex_b"
	case StageTessControl:
		return "tess_control"
	case StageTessEval:
		return "tess_eval"
	case StageGeometry:
		return "geometry"
	case StageFragment:
		return "fragment"
	}
	return "unknown"
}

// PrimitiveTopology is the guest encoding of the draw topology.
type PrimitiveTopology uint32

// Guest primitive topologies.
const (
	TopologyPoints        PrimitiveTopology = 0x0
	TopologyLines         PrimitiveTopology = 0x1
	TopologyLineLoop      PrimitiveTopology = 0x2
	TopologyLineStrip     PrimitiveTopology = 0x3
	TopologyTriangles     PrimitiveTopology = 0x4
	TopologyTriangleStrip PrimitiveTopology = 0x5
	TopologyTriangleFan   PrimitiveTopology = 0x6
	TopologyQuads         PrimitiveTopology = 0x7
	TopologyQuadStrip     PrimitiveTopology = 0x8
	TopologyPolygon       PrimitiveTopology = 0x9
	TopologyLinesAdj      PrimitiveTopology = 0xA
	TopologyLineStripAdj  PrimitiveTopology = 0xB
	TopologyTrianglesAdj  PrimitiveTopology = 0xC
	TopologyTriStripAdj   PrimitiveTopology = 0xD
	TopologyPatches       PrimitiveTopology = 0xE
)

// IndexFormat is the element size of the bound index array.
type IndexFormat uint32

// Index element formats.
const (
	IndexFormatU8  IndexFormat = 0
	IndexFormatU16 IndexFormat = 1
	IndexFormatU32 IndexFormat = 2
)

// Bytes returns the element size in bytes.
func (f IndexFormat) Bytes() uint32 {
	switch f {
	case IndexFormatU8:
		return 1
	case IndexFormatU16:
		return 2
	default:
		return 4
	}
}

// AttribType is the interpretation of a vertex attribute's components.
type AttribType uint32

// Vertex attribute component types.
const (
	AttribTypeSNorm   AttribType = 1
	AttribTypeUNorm   AttribType = 2
	AttribTypeSInt    AttribType = 3
	AttribTypeUInt    AttribType = 4
	AttribTypeUScaled AttribType = 5
	AttribTypeSScaled AttribType = 6
	AttribTypeFloat   AttribType = 7
)

// AttribSize is the guest encoding of a vertex attribute's component layout.
type AttribSize uint32

// Vertex attribute size encodings (component widths in bits).
const (
	AttribSize32x4 AttribSize = 0x01
	AttribSize32x3 AttribSize = 0x02
	AttribSize16x4 AttribSize = 0x03
	AttribSize32x2 AttribSize = 0x04
	AttribSize16x3 AttribSize = 0x05
	AttribSize16x2 AttribSize = 0x0F
	AttribSize32x1 AttribSize = 0x12
	AttribSize16x1 AttribSize = 0x1B
	AttribSize8x4  AttribSize = 0x0A
	AttribSize8x3  AttribSize = 0x13
	AttribSize8x2  AttribSize = 0x18
	AttribSize8x1  AttribSize = 0x1D
	AttribSize10b  AttribSize = 0x30 // 2_10_10_10 reversed
)

// Components returns the component count for the size encoding.
func (s AttribSize) Components() int {
	switch s {
	case AttribSize32x4, AttribSize16x4, AttribSize8x4, AttribSize10b:
		return 4
	case AttribSize32x3, AttribSize16x3, AttribSize8x3:
		return 3
	case AttribSize32x2, AttribSize16x2, AttribSize8x2:
		return 2
	default:
		return 1
	}
}

// Bytes returns the total attribute size in bytes.
func (s AttribSize) Bytes() int {
	switch s {
	case AttribSize32x4:
		return 16
	case AttribSize32x3:
		return 12
	case AttribSize32x2, AttribSize16x4:
		return 8
	case AttribSize16x3:
		return 6
	case AttribSize32x1, AttribSize16x2, AttribSize8x4, AttribSize10b:
		return 4
	case AttribSize8x3:
		return 3
	case AttribSize16x1, AttribSize8x2:
		return 2
	default:
		return 1
	}
}

// VertexAttrib is a decoded vertex attribute format word.
type VertexAttrib struct {
	Buffer   uint32 // source vertex stream
	Constant bool   // attribute is disabled, sourced as a constant
	Offset   uint32 // byte offset within the stream
	Size     AttribSize
	Type     AttribType
	BGRA     bool
}

// VertexArray is a decoded vertex stream binding.
type VertexArray struct {
	Enabled   bool
	Stride    uint32
	Address   mem.GpuAddr
	Limit     mem.GpuAddr // inclusive end address
	Divisor   uint32
	Instanced bool
}

// Size returns the bound byte size of the stream.
func (v VertexArray) Size() uint64 {
	if v.Limit < v.Address {
		return 0
	}
	return uint64(v.Limit-v.Address) + 1
}

// IndexArray is the decoded index buffer binding for the next draw.
type IndexArray struct {
	Start  mem.GpuAddr
	Limit  mem.GpuAddr
	Format IndexFormat
	First  uint32
	Count  uint32
}

// RenderTarget is a decoded color target slot.
type RenderTarget struct {
	Address     mem.GpuAddr
	Width       uint32
	Height      uint32
	Format      uint32 // guest color format; 0 = slot disabled
	TileMode    uint32
	Depth       uint32
	LayerStride uint32
	BaseLayer   uint32
}

// Zeta is the decoded depth-stencil target.
type Zeta struct {
	Address     mem.GpuAddr
	Format      uint32
	TileMode    uint32
	LayerStride uint32
	Width       uint32
	Height      uint32
	BaseLayer   uint32
	Enabled     bool
}

// Viewport is a decoded viewport transform plus rect.
type Viewport struct {
	ScaleX, ScaleY, ScaleZ        float32
	TranslateX, TranslateY        float32
	TranslateZ                    float32
	X, Y, Width, Height           float32
	DepthRangeNear, DepthRangeFar float32
}

// Scissor is a decoded scissor slot.
type Scissor struct {
	Enabled                bool
	MinX, MaxX, MinY, MaxY uint32
}

// ShaderConfig is a decoded shader program slot.
type ShaderConfig struct {
	Enabled bool
	Offset  uint32 // byte offset from the shader base address
}

// ConstBuffer is one bound constant buffer slot of a stage.
type ConstBuffer struct {
	Address mem.GpuAddr
	Size    uint32
	Enabled bool
}

// TFBBuffer is a decoded transform feedback buffer binding.
type TFBBuffer struct {
	Enabled bool
	Address mem.GpuAddr
	Size    uint32
	Offset  uint32
}

// TFBLayout is a decoded transform feedback stream layout.
type TFBLayout struct {
	Stride       uint32
	VaryingCount uint32
}

// ClearFlags is the decoded CLEAR_BUFFERS argument.
type ClearFlags struct {
	Depth      bool
	Stencil    bool
	R, G, B, A bool
	RT         uint32
	Layer      uint32
}

// QueryOperation selects what a QUERY_GET write performs.
type QueryOperation uint32

// Query operations.
const (
	QueryOpRelease QueryOperation = 0
	QueryOpAcquire QueryOperation = 1
	QueryOpCounter QueryOperation = 2
	QueryOpTrap    QueryOperation = 3
)

// QuerySelect identifies the counter sampled by a counter query.
type QuerySelect uint32

// Query counter selectors.
const (
	QuerySelectZero          QuerySelect = 0
	QuerySelectSamplesPassed QuerySelect = 1
	QuerySelectTimestamp     QuerySelect = 2
)

// QueryGet is the decoded QUERY_GET register.
type QueryGet struct {
	Operation  QueryOperation
	Select     QuerySelect
	ShortQuery bool // 4-byte stamp instead of 16-byte payload+timestamp
}

func f32(bits uint32) float32 { return math.Float32frombits(bits) }

// VertexBufferRange returns the {first, count} of the next array draw.
func (r *Registers) VertexBufferRange() (first, count uint32) {
	return r.Image[RegVertexBufferFirst], r.Image[RegVertexBufferCount]
}

// Topology returns the topology latched by the last VERTEX_BEGIN_GL write.
func (r *Registers) Topology() PrimitiveTopology {
	return PrimitiveTopology(r.Image[RegDrawBegin] & 0xFFFF)
}

// InstanceNext reports whether the current draw begins a new instance of
// the previous one (VERTEX_BEGIN_GL bit 26).
func (r *Registers) InstanceNext() bool {
	return r.Image[RegDrawBegin]&(1<<26) != 0
}

// InstanceCont reports whether the current draw continues the current
// instance (VERTEX_BEGIN_GL bit 27).
func (r *Registers) InstanceCont() bool {
	return r.Image[RegDrawBegin]&(1<<27) != 0
}

// VertexAttribFormat decodes vertex attribute slot i.
func (r *Registers) VertexAttribFormat(i int) VertexAttrib {
	w := r.Image[RegVertexAttribBase+i]
	return VertexAttrib{
		Buffer:   w & 0x1F,
		Constant: w&(1<<6) != 0,
		Offset:   (w >> 7) & 0x3FFF,
		Size:     AttribSize((w >> 21) & 0x3F),
		Type:     AttribType((w >> 27) & 0x7),
		BGRA:     w&(1<<31) != 0,
	}
}

// VertexArrayState decodes vertex stream i.
func (r *Registers) VertexArrayState(i int) VertexArray {
	base := RegVertexArrayBase + i*RegVertexArrayStride
	control := r.Image[base]
	limitHigh := RegVertexArrayLimitBase + i*2
	return VertexArray{
		Enabled:   control&(1<<12) != 0,
		Stride:    control & 0xFFF,
		Address:   r.Addr64(base + 1),
		Limit:     r.Addr64(limitHigh),
		Divisor:   r.Image[base+3],
		Instanced: r.Image[RegVertexInstancedBase+i]&1 != 0,
	}
}

// IndexArrayState decodes the index buffer binding.
func (r *Registers) IndexArrayState() IndexArray {
	return IndexArray{
		Start:  r.Addr64(RegIndexArrayStartHigh),
		Limit:  r.Addr64(RegIndexArrayLimitHigh),
		Format: IndexFormat(r.Image[RegIndexArrayFormat]),
		First:  r.Image[RegIndexArrayFirst],
		Count:  r.Image[RegIndexArrayCount],
	}
}

// BaseVertex returns the base vertex applied to indexed draws.
func (r *Registers) BaseVertex() int32 {
	return int32(r.Image[RegVBElementBase])
}

// BaseInstance returns the first instance of instanced draws.
func (r *Registers) BaseInstance() uint32 {
	return r.Image[RegVBBaseInstance]
}

// RenderTargetState decodes color target slot i.
func (r *Registers) RenderTargetState(i int) RenderTarget {
	base := RegRTBase + i*RegRTStride
	return RenderTarget{
		Address:     r.Addr64(base + rtAddressHigh),
		Width:       r.Image[base+rtWidth],
		Height:      r.Image[base+rtHeight],
		Format:      r.Image[base+rtFormat],
		TileMode:    r.Image[base+rtTileMode],
		Depth:       r.Image[base+rtDepth],
		LayerStride: r.Image[base+rtLayerStride],
		BaseLayer:   r.Image[base+rtBaseLayer],
	}
}

// ZetaState decodes the depth-stencil target.
func (r *Registers) ZetaState() Zeta {
	return Zeta{
		Address:     r.Addr64(RegZetaAddressHigh),
		Format:      r.Image[RegZetaFormat],
		TileMode:    r.Image[RegZetaTileMode],
		LayerStride: r.Image[RegZetaLayerStride],
		Width:       r.Image[RegZetaWidth],
		Height:      r.Image[RegZetaHeight],
		BaseLayer:   r.Image[RegZetaBaseLayer],
		Enabled:     r.Image[RegZetaEnable] != 0,
	}
}

// RTControl returns the draw buffer count and the 4-bit-per-slot
// attachment remap.
func (r *Registers) RTControl() (count uint32, attachmentMap uint32) {
	w := r.Image[RegRTControl]
	count = w & 0xF
	attachmentMap = w >> 4
	return count, attachmentMap
}

// ViewportState decodes viewport slot i.
func (r *Registers) ViewportState(i int) Viewport {
	t := RegViewportTransformBase + i*RegViewportTransformStride
	v := RegViewportBase + i*RegViewportStride
	xy := r.Image[v]
	wh := r.Image[v+1]
	return Viewport{
		ScaleX:         f32(r.Image[t]),
		ScaleY:         f32(r.Image[t+1]),
		ScaleZ:         f32(r.Image[t+2]),
		TranslateX:     f32(r.Image[t+3]),
		TranslateY:     f32(r.Image[t+4]),
		TranslateZ:     f32(r.Image[t+5]),
		X:              float32(xy & 0xFFFF),
		Y:              float32(xy >> 16),
		Width:          float32(wh & 0xFFFF),
		Height:         float32(wh >> 16),
		DepthRangeNear: f32(r.Image[v+2]),
		DepthRangeFar:  f32(r.Image[v+3]),
	}
}

// ScissorState decodes scissor slot i.
func (r *Registers) ScissorState(i int) Scissor {
	base := RegScissorBase + i*RegScissorStride
	x := r.Image[base+1]
	y := r.Image[base+2]
	return Scissor{
		Enabled: r.Image[base] != 0,
		MinX:    x & 0xFFFF,
		MaxX:    x >> 16,
		MinY:    y & 0xFFFF,
		MaxY:    y >> 16,
	}
}

// ShaderConfigState decodes shader program slot stage.
func (r *Registers) ShaderConfigState(stage ShaderStage) ShaderConfig {
	base := RegShaderConfigBase + int(stage)*RegShaderConfigStride
	return ShaderConfig{
		Enabled: r.Image[base+shaderConfigControl]&1 != 0,
		Offset:  r.Image[base+shaderConfigOffset],
	}
}

// ShaderBaseAddress returns the GPU base address shader offsets are
// relative to.
func (r *Registers) ShaderBaseAddress() mem.GpuAddr {
	return r.Addr64(RegShaderBaseAddressHigh)
}

// QueryAddress returns the GPU address targeted by query stamps.
func (r *Registers) QueryAddress() mem.GpuAddr {
	return r.Addr64(RegQueryAddressHigh)
}

// QuerySequence returns the payload written by query releases.
func (r *Registers) QuerySequence() uint32 {
	return r.Image[RegQuerySequence]
}

// DecodeQueryGet decodes a QUERY_GET register value.
func DecodeQueryGet(w uint32) QueryGet {
	return QueryGet{
		Operation:  QueryOperation(w & 0x3),
		Select:     QuerySelect((w >> 12) & 0xF),
		ShortQuery: w&(1<<28) != 0,
	}
}

// DecodeClearBuffers decodes a CLEAR_BUFFERS argument.
func DecodeClearBuffers(w uint32) ClearFlags {
	return ClearFlags{
		Depth:   w&(1<<0) != 0,
		Stencil: w&(1<<1) != 0,
		R:       w&(1<<2) != 0,
		G:       w&(1<<3) != 0,
		B:       w&(1<<4) != 0,
		A:       w&(1<<5) != 0,
		RT:      (w >> 6) & 0xF,
		Layer:   w >> 10,
	}
}

// ClearColor returns the RGBA clear color.
func (r *Registers) ClearColor() [4]float32 {
	return [4]float32{
		f32(r.Image[RegClearColorBase]),
		f32(r.Image[RegClearColorBase+1]),
		f32(r.Image[RegClearColorBase+2]),
		f32(r.Image[RegClearColorBase+3]),
	}
}

// ClearDepth returns the depth clear value.
func (r *Registers) ClearDepth() float32 { return f32(r.Image[RegClearDepth]) }

// ClearStencil returns the stencil clear value.
func (r *Registers) ClearStencil() uint32 { return r.Image[RegClearStencil] }

// TexHeaderPool returns the base GPU address of the TIC descriptor pool.
func (r *Registers) TexHeaderPool() mem.GpuAddr {
	return r.Addr64(RegTexHeaderPoolHigh)
}

// TexSamplerPool returns the base GPU address of the TSC descriptor pool.
func (r *Registers) TexSamplerPool() mem.GpuAddr {
	return r.Addr64(RegTexSamplerPoolHigh)
}

// TFBBufferState decodes transform feedback binding i.
func (r *Registers) TFBBufferState(i int) TFBBuffer {
	base := RegTFBBufferBase + i*RegTFBBufferStride
	return TFBBuffer{
		Enabled: r.Image[base]&1 != 0,
		Address: r.Addr64(base + 1),
		Size:    r.Image[base+3],
		Offset:  r.Image[base+4],
	}
}

// TFBLayoutState decodes transform feedback stream layout i.
func (r *Registers) TFBLayoutState(i int) TFBLayout {
	base := RegTFBLayoutBase + i*RegTFBLayoutStride
	return TFBLayout{
		Stride:       r.Image[base],
		VaryingCount: r.Image[base+1],
	}
}

// TFBEnabled reports whether transform feedback applies to draws.
func (r *Registers) TFBEnabled() bool {
	return r.Image[RegDrawTFBEnable] != 0
}
