// Package engine implements the guest GPU command engines: the Maxwell-3D
// register file with its dirty tracker and shadow RAM, the macro
// interpreter, and the Kepler compute launcher. The engines decode the
// guest method stream; everything host-side happens behind the Processor
// interface.
package engine

import "github.com/kentjhall/mizu-sub009/mem"

// RegCount is the number of 32-bit words in the Maxwell-3D register image.
const RegCount = 0xE00

// Method indices in the Maxwell-3D register space. Writes to these offsets
// carry side effects beyond the register image itself.
const (
	RegWaitForIdle        = 0x044
	RegMacroUploadAddress = 0x045
	RegMacroData          = 0x046
	RegMacroBindEntry     = 0x047
	RegShadowRAMControl   = 0x049

	// Inline data upload engine.
	RegUploadDstAddressHigh = 0x060
	RegUploadDstAddressLow  = 0x061
	RegUploadPitch          = 0x062
	RegUploadLineLength     = 0x063
	RegUploadLineCount      = 0x064
	RegUploadExec           = 0x06C
	RegUploadData           = 0x06D

	RegFirmwareCall4 = 0x08C
	RegSyncInfo      = 0x0B2 // syncpoint increment trigger

	// Render targets: 8 slots, 16 words each.
	RegRTBase   = 0x200
	RegRTStride = 0x10

	// Viewport transforms: 16 viewports, 8 words each (0x280-0x2FF).
	RegViewportTransformBase   = 0x280
	RegViewportTransformStride = 8
	// Viewport rects: 16 viewports, 4 words each (0x300-0x33F).
	RegViewportBase   = 0x300
	RegViewportStride = 4

	// Vertex buffer range of the next non-indexed draw.
	RegVertexBufferFirst = 0x35D
	RegVertexBufferCount = 0x35E

	RegClearColorBase = 0x360 // 4 floats
	RegClearDepth     = 0x364
	RegClearStencil   = 0x368

	RegPolygonModeFront = 0x36B
	RegPolygonModeBack  = 0x36C

	RegPolygonOffsetPointEnable = 0x370
	RegPolygonOffsetLineEnable  = 0x371
	RegPolygonOffsetFillEnable  = 0x372

	// Scissors: 16 slots, 4 words each (0x380-0x3BF).
	RegScissorBase   = 0x380
	RegScissorStride = 4

	RegPointSize          = 0x3C0
	RegZetaEnable         = 0x3C3
	RegMultisampleControl = 0x3C4

	RegStencilBackFuncRef  = 0x3D5
	RegStencilBackMask     = 0x3D6
	RegStencilBackFuncMask = 0x3D7

	RegColorMaskCommon = 0x3E4

	RegRTControl = 0x3EB // draw-buffer count + attachment map (4 bits/slot)

	RegZetaAddressHigh = 0x3F8
	RegZetaAddressLow  = 0x3F9
	RegZetaFormat      = 0x3FA
	RegZetaTileMode    = 0x3FB
	RegZetaLayerStride = 0x3FC

	// Vertex attribute formats: 32 packed words (0x458-0x477).
	RegVertexAttribBase  = 0x458
	RegVertexAttribCount = 32

	RegMSAAMode = 0x47B

	RegZetaWidth  = 0x48A
	RegZetaHeight = 0x48B

	RegDepthTestEnable    = 0x4B3
	RegIndependentBlend   = 0x4B9
	RegDepthWriteEnable   = 0x4BA
	RegAlphaTestEnable    = 0x4BB
	RegDepthTestFunc      = 0x4C3
	RegAlphaTestRef       = 0x4C4
	RegAlphaTestFunc      = 0x4C5
	RegDrawTFBEnable      = 0x4C6 // transform feedback toggle for draws
	RegBlendConstantBase  = 0x4C7 // 4 floats
	RegBlendSeparateAlpha = 0x4CF
	RegBlendEquationRGB   = 0x4D0
	RegBlendFactorSrcRGB  = 0x4D1
	RegBlendFactorDstRGB  = 0x4D2
	RegBlendEquationAlpha = 0x4D3
	RegBlendFactorSrcA    = 0x4D4
	RegBlendFactorDstA    = 0x4D6
	RegBlendEnableCommon  = 0x4D7
	RegBlendEnableBase    = 0x4D8 // 8 words, one per render target

	RegStencilEnable       = 0x4E0
	RegStencilFrontOpFail  = 0x4E1
	RegStencilFrontOpZFail = 0x4E2
	RegStencilFrontOpZPass = 0x4E3
	RegStencilFrontFunc    = 0x4E4
	RegStencilFrontRef     = 0x4E5
	RegStencilFrontMask    = 0x4E6
	RegStencilFrontWMask   = 0x4E7

	RegFragmentColorClamp = 0x4EA
	RegScreenYControl     = 0x4EB // y-negate, triangle winding flip
	RegLineWidthSmooth    = 0x4EC
	RegLineWidthAliased   = 0x4ED

	RegVBElementBase  = 0x50D // base vertex for indexed draws
	RegVBBaseInstance = 0x50E

	RegClipDistanceEnabled = 0x544
	RegSamplecntEnable     = 0x545
	RegPointSpriteEnable   = 0x546
	RegCounterReset        = 0x54C
	RegMultisampleEnable   = 0x54D
	RegZetaDimsControl     = 0x54E

	// Sampler (TSC) and texture header (TIC) descriptor pools.
	RegTexSamplerPoolHigh = 0x557
	RegTexSamplerPoolLow  = 0x558
	RegTexSamplerPoolMax  = 0x559
	RegTexHeaderPoolHigh  = 0x55D
	RegTexHeaderPoolLow   = 0x55E
	RegTexHeaderPoolMax   = 0x55F

	RegStencilTwoSideEnable = 0x565
	RegStencilBackOpFail    = 0x566
	RegStencilBackOpZFail   = 0x567
	RegStencilBackOpZPass   = 0x568
	RegStencilBackFunc      = 0x569

	RegFramebufferSRGB     = 0x56E
	RegPolygonOffsetFactor = 0x56F
	RegLineSmoothEnable    = 0x570

	RegShaderBaseAddressHigh = 0x582
	RegShaderBaseAddressLow  = 0x583

	RegDrawEnd   = 0x585 // VERTEX_END_GL: draw trigger
	RegDrawBegin = 0x586 // VERTEX_BEGIN_GL: topology + instancing mode

	RegPrimitiveRestartEnable = 0x591
	RegPrimitiveRestartIndex  = 0x592

	RegProvokingVertexLast = 0x5A1

	RegIndexArrayStartHigh = 0x5F2
	RegIndexArrayStartLow  = 0x5F3
	RegIndexArrayLimitHigh = 0x5F4
	RegIndexArrayLimitLow  = 0x5F5
	RegIndexArrayFormat    = 0x5F6
	RegIndexArrayFirst     = 0x5F7
	RegIndexArrayCount     = 0x5F8

	RegPolygonOffsetClamp = 0x61F
	RegPolygonOffsetUnits = 0x620

	RegMultisampleSampleMaskBase = 0x62C // 4 words

	RegZetaBaseLayer = 0x631

	RegCullTestEnable     = 0x646
	RegFrontFace          = 0x647
	RegCullFace           = 0x648
	RegPixelCenterInteger = 0x649
	RegDepthClampDisabled = 0x64A

	RegRasterizeEnable = 0x64F

	RegLogicOpEnable = 0x671
	RegLogicOp       = 0x672

	RegClearBuffers = 0x674 // clear trigger

	RegColorMaskBase = 0x6A0 // 8 words, one per render target

	RegQueryAddressHigh = 0x6C0
	RegQueryAddressLow  = 0x6C1
	RegQuerySequence    = 0x6C2
	RegQueryGet         = 0x6C3

	// Transform feedback varying layouts: 4 streams, 4 words each
	// (0x6D0-0x6DF).
	RegTFBLayoutBase   = 0x6D0
	RegTFBLayoutStride = 4

	// Transform feedback buffers: 4 bindings, 8 words each (0x6E0-0x6FF).
	RegTFBBufferBase   = 0x6E0
	RegTFBBufferStride = 8

	// Vertex arrays: 32 streams, 4 words each {control, addr high, addr
	// low, divisor} (0x700-0x77F).
	RegVertexArrayBase   = 0x700
	RegVertexArrayStride = 4

	// Vertex array end addresses: 32 pairs {high, low} (0x780-0x7BF).
	RegVertexArrayLimitBase = 0x780

	// Per-stream instancing flags: 32 words (0x7C0-0x7DF).
	RegVertexInstancedBase = 0x7C0

	// Shader program configs: 6 slots (VertexA..Fragment), 16 words each
	// (0x800-0x85F).
	RegShaderConfigBase   = 0x800
	RegShaderConfigStride = 0x10

	// Constant-buffer data path.
	RegCBSize        = 0x8E0
	RegCBAddressHigh = 0x8E1
	RegCBAddressLow  = 0x8E2
	RegCBPos         = 0x8E3
	RegCBDataBase    = 0x8E4
	RegCBDataCount   = 16

	// Constant-buffer binds: 5 stages, 8 words apart (0x904, 0x90C, ...).
	RegCBBindBase   = 0x904
	RegCBBindStride = 8

	// Macro call window: methods past the register file dispatch to the
	// MME. Even offsets start a macro, odd offsets append a parameter.
	MacroMethodBase = 0xE00
)

// Word offsets within a render-target slot.
const (
	rtAddressHigh = iota
	rtAddressLow
	rtWidth
	rtHeight
	rtFormat
	rtTileMode
	rtDepth
	rtLayerStride
	rtBaseLayer
)

// Word offsets within a shader config slot.
const (
	shaderConfigControl = iota
	shaderConfigOffset
)

// NumRenderTargets is the number of color render target slots.
const NumRenderTargets = 8

// NumVertexArrays is the number of vertex stream slots.
const NumVertexArrays = 32

// NumShaderStages is the number of shader program slots
// (VertexA, VertexB, TessControl, TessEval, Geometry, Fragment).
const NumShaderStages = 6

// NumStageCbufs is the number of constant-buffer slots per stage.
const NumStageCbufs = 18

// NumUploadStages is the number of pipeline stages with bindable constant
// buffers (vertex through fragment).
const NumUploadStages = 5

// NumTransformFeedbackBuffers is the number of XFB buffer bindings.
const NumTransformFeedbackBuffers = 4

// Registers holds the Maxwell-3D register image and its shadow copy.
// Raw storage only; decode helpers live in state.go.
type Registers struct {
	Image  [RegCount]uint32
	Shadow [RegCount]uint32
}

// Addr64 assembles the 64-bit GPU address stored as a {high, low} register
// pair at the given index.
func (r *Registers) Addr64(highIdx int) mem.GpuAddr {
	return mem.GpuAddr(uint64(r.Image[highIdx])<<32 | uint64(r.Image[highIdx+1]))
}
