package engine

import (
	"math/bits"
	"sync/atomic"
)

// Flag identifies one dirty state group. Each draw consumer checks and
// clears the flags it reads; register writes set them through two
// precomputed register-index lookup tables.
type Flag uint8

// Dirty state groups.
const (
	FlagNone Flag = iota

	FlagRenderTargets
	FlagColorBuffer0
	FlagColorBuffer1
	FlagColorBuffer2
	FlagColorBuffer3
	FlagColorBuffer4
	FlagColorBuffer5
	FlagColorBuffer6
	FlagColorBuffer7
	FlagZetaBuffer

	FlagViewports
	FlagScissors
	FlagVertexFormats
	FlagVertexBuffers
	FlagVertexInstances
	FlagIndexBuffer
	FlagShaders
	FlagConstBuffers

	FlagDepthClamp
	FlagClipControl
	FlagCullMode
	FlagPrimitiveRestart
	FlagDepthTest
	FlagStencilTest
	FlagBlendState
	FlagLogicOp
	FlagRasterizeEnable
	FlagPolygonModes
	FlagColorMask
	FlagMultisample
	FlagFragmentClampColor
	FlagPointState
	FlagLineState
	FlagPolygonOffset
	FlagAlphaTest
	FlagFramebufferSRGB
	FlagTransformFeedback

	FlagCount
)

const dirtyWords = (int(FlagCount) + 63) / 64

// DirtyState is a fixed-size bitset of dirty flags. Setting is an atomic
// OR so the register file can mark groups without holding the consumer's
// lock; CheckAndClear runs on the rasterizer thread.
type DirtyState struct {
	words [dirtyWords]atomic.Uint64

	// tables map register index to up to two flags per write. A zero
	// entry means no flag.
	tables [2][RegCount]Flag
}

// NewDirtyState builds the tracker with the register tables populated and
// every flag initially set, so the first draw syncs everything.
func NewDirtyState() *DirtyState {
	d := &DirtyState{}
	d.buildTables()
	d.MarkAll()
	return d
}

// Mark sets a single flag.
func (d *DirtyState) Mark(f Flag) {
	if f == FlagNone {
		return
	}
	w := &d.words[int(f)/64]
	mask := uint64(1) << (uint(f) % 64)
	for {
		old := w.Load()
		if w.CompareAndSwap(old, old|mask) {
			return
		}
	}
}

// MarkAll sets every flag.
func (d *DirtyState) MarkAll() {
	for f := FlagNone + 1; f < FlagCount; f++ {
		d.Mark(f)
	}
}

// MarkRegister sets the flags associated with a register index.
func (d *DirtyState) MarkRegister(reg int) {
	d.Mark(d.tables[0][reg])
	d.Mark(d.tables[1][reg])
}

// IsDirty reports whether a flag is set without clearing it.
func (d *DirtyState) IsDirty(f Flag) bool {
	return d.words[int(f)/64].Load()&(1<<(uint(f)%64)) != 0
}

// CheckAndClear reports whether a flag was set, clearing it.
func (d *DirtyState) CheckAndClear(f Flag) bool {
	mask := uint64(1) << (uint(f) % 64)
	w := &d.words[int(f)/64]
	for {
		old := w.Load()
		if w.CompareAndSwap(old, old&^mask) {
			return old&mask != 0
		}
	}
}

// Count returns the number of currently set flags.
func (d *DirtyState) Count() int {
	n := 0
	for i := range d.words {
		n += bits.OnesCount64(d.words[i].Load())
	}
	return n
}

// register range helpers for table construction.
func (d *DirtyState) setRange(table, first, count int, f Flag) {
	for i := first; i < first+count; i++ {
		d.tables[table][i] = f
	}
}

func (d *DirtyState) buildTables() {
	// Render targets: per-slot flag in table 0, aggregate in table 1.
	for i := 0; i < NumRenderTargets; i++ {
		base := RegRTBase + i*RegRTStride
		d.setRange(0, base, RegRTStride, FlagColorBuffer0+Flag(i))
		d.setRange(1, base, RegRTStride, FlagRenderTargets)
	}
	for _, reg := range []int{
		RegZetaAddressHigh, RegZetaAddressLow, RegZetaFormat,
		RegZetaTileMode, RegZetaLayerStride, RegZetaWidth, RegZetaHeight,
		RegZetaBaseLayer, RegZetaEnable,
	} {
		d.tables[0][reg] = FlagZetaBuffer
		d.tables[1][reg] = FlagRenderTargets
	}
	d.tables[0][RegRTControl] = FlagRenderTargets

	d.setRange(0, RegViewportTransformBase, 16*RegViewportTransformStride, FlagViewports)
	d.setRange(0, RegViewportBase, 16*RegViewportStride, FlagViewports)
	d.setRange(0, RegScissorBase, 16*RegScissorStride, FlagScissors)

	d.setRange(0, RegVertexAttribBase, RegVertexAttribCount, FlagVertexFormats)
	d.setRange(0, RegVertexArrayBase, NumVertexArrays*RegVertexArrayStride, FlagVertexBuffers)
	d.setRange(0, RegVertexArrayLimitBase, NumVertexArrays*2, FlagVertexBuffers)
	d.setRange(0, RegVertexInstancedBase, NumVertexArrays, FlagVertexInstances)
	for i := 0; i < NumVertexArrays; i++ {
		// The divisor word feeds instancing state as well.
		d.tables[1][RegVertexArrayBase+i*RegVertexArrayStride+3] = FlagVertexInstances
	}

	d.setRange(0, RegIndexArrayStartHigh, 7, FlagIndexBuffer)

	d.setRange(0, RegShaderConfigBase, NumShaderStages*RegShaderConfigStride, FlagShaders)
	d.tables[0][RegShaderBaseAddressHigh] = FlagShaders
	d.tables[0][RegShaderBaseAddressLow] = FlagShaders

	for i := 0; i < NumUploadStages; i++ {
		d.setRange(0, RegCBBindBase+i*RegCBBindStride, 1, FlagConstBuffers)
	}

	d.tables[0][RegDepthClampDisabled] = FlagDepthClamp
	d.tables[0][RegClipDistanceEnabled] = FlagClipControl
	d.tables[0][RegScreenYControl] = FlagClipControl

	d.tables[0][RegCullTestEnable] = FlagCullMode
	d.tables[0][RegFrontFace] = FlagCullMode
	d.tables[0][RegCullFace] = FlagCullMode

	d.tables[0][RegPrimitiveRestartEnable] = FlagPrimitiveRestart
	d.tables[0][RegPrimitiveRestartIndex] = FlagPrimitiveRestart

	d.tables[0][RegDepthTestEnable] = FlagDepthTest
	d.tables[0][RegDepthWriteEnable] = FlagDepthTest
	d.tables[0][RegDepthTestFunc] = FlagDepthTest

	for _, reg := range []int{
		RegStencilEnable, RegStencilFrontOpFail, RegStencilFrontOpZFail,
		RegStencilFrontOpZPass, RegStencilFrontFunc, RegStencilFrontRef,
		RegStencilFrontMask, RegStencilFrontWMask, RegStencilTwoSideEnable,
		RegStencilBackOpFail, RegStencilBackOpZFail, RegStencilBackOpZPass,
		RegStencilBackFunc, RegStencilBackFuncRef, RegStencilBackMask,
		RegStencilBackFuncMask,
	} {
		d.tables[0][reg] = FlagStencilTest
	}

	d.setRange(0, RegBlendConstantBase, 4, FlagBlendState)
	d.setRange(0, RegBlendSeparateAlpha, 9, FlagBlendState)
	d.setRange(0, RegBlendEnableBase, NumRenderTargets, FlagBlendState)
	d.tables[0][RegIndependentBlend] = FlagBlendState

	d.tables[0][RegLogicOpEnable] = FlagLogicOp
	d.tables[0][RegLogicOp] = FlagLogicOp

	d.tables[0][RegRasterizeEnable] = FlagRasterizeEnable

	d.tables[0][RegPolygonModeFront] = FlagPolygonModes
	d.tables[0][RegPolygonModeBack] = FlagPolygonModes

	d.tables[0][RegColorMaskCommon] = FlagColorMask
	d.setRange(0, RegColorMaskBase, NumRenderTargets, FlagColorMask)

	d.tables[0][RegMultisampleControl] = FlagMultisample
	d.tables[0][RegMultisampleEnable] = FlagMultisample
	d.tables[0][RegMSAAMode] = FlagMultisample
	d.setRange(0, RegMultisampleSampleMaskBase, 4, FlagMultisample)

	d.tables[0][RegFragmentColorClamp] = FlagFragmentClampColor

	d.tables[0][RegPointSize] = FlagPointState
	d.tables[0][RegPointSpriteEnable] = FlagPointState

	d.tables[0][RegLineWidthSmooth] = FlagLineState
	d.tables[0][RegLineWidthAliased] = FlagLineState
	d.tables[0][RegLineSmoothEnable] = FlagLineState

	for _, reg := range []int{
		RegPolygonOffsetPointEnable, RegPolygonOffsetLineEnable,
		RegPolygonOffsetFillEnable, RegPolygonOffsetFactor,
		RegPolygonOffsetClamp, RegPolygonOffsetUnits,
	} {
		d.tables[0][reg] = FlagPolygonOffset
	}

	d.tables[0][RegAlphaTestEnable] = FlagAlphaTest
	d.tables[0][RegAlphaTestRef] = FlagAlphaTest
	d.tables[0][RegAlphaTestFunc] = FlagAlphaTest

	d.tables[0][RegFramebufferSRGB] = FlagFramebufferSRGB

	d.setRange(0, RegTFBBufferBase, NumTransformFeedbackBuffers*RegTFBBufferStride, FlagTransformFeedback)
	d.setRange(0, RegTFBLayoutBase, NumTransformFeedbackBuffers*RegTFBLayoutStride, FlagTransformFeedback)
	d.tables[0][RegDrawTFBEnable] = FlagTransformFeedback
}
