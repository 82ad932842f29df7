package gtc

import (
	"math"

	"github.com/kentjhall/mizu-sub009/engine"
	"github.com/kentjhall/mizu-sub009/host"
)

// syncState flushes dirty fixed-function state to the device before a
// draw. The order is fixed; each group runs only when its flag is set.
func (r *Rasterizer) syncState() {
	d := r.maxwell.Dirty
	if d.CheckAndClear(engine.FlagViewports) {
		r.syncViewport()
	}
	if d.CheckAndClear(engine.FlagDepthClamp) {
		r.syncDepthClamp()
	}
	if d.CheckAndClear(engine.FlagClipControl) {
		r.syncClipControl()
	}
	if d.CheckAndClear(engine.FlagCullMode) {
		r.syncCullMode()
	}
	if d.CheckAndClear(engine.FlagPrimitiveRestart) {
		r.syncPrimitiveRestart()
	}
	if d.CheckAndClear(engine.FlagDepthTest) {
		r.syncDepthTestState()
	}
	if d.CheckAndClear(engine.FlagStencilTest) {
		r.syncStencilTestState()
	}
	if d.CheckAndClear(engine.FlagBlendState) {
		r.syncBlendState()
	}
	if d.CheckAndClear(engine.FlagLogicOp) {
		r.syncLogicOpState()
	}
	if d.CheckAndClear(engine.FlagRasterizeEnable) {
		r.syncRasterizeEnable()
	}
	if d.CheckAndClear(engine.FlagPolygonModes) {
		r.syncPolygonModes()
	}
	if d.CheckAndClear(engine.FlagColorMask) {
		r.syncColorMask()
	}
	if d.CheckAndClear(engine.FlagMultisample) {
		r.syncMultisampleState()
	}
	if d.CheckAndClear(engine.FlagFragmentClampColor) {
		r.syncFragmentColorClamp()
	}
	if d.CheckAndClear(engine.FlagScissors) {
		r.syncScissorTest()
	}
	if d.CheckAndClear(engine.FlagPointState) {
		r.syncPointState()
	}
	if d.CheckAndClear(engine.FlagLineState) {
		r.syncLineState()
	}
	if d.CheckAndClear(engine.FlagPolygonOffset) {
		r.syncPolygonOffset()
	}
	if d.CheckAndClear(engine.FlagAlphaTest) {
		r.syncAlphaTest()
	}
	if d.CheckAndClear(engine.FlagFramebufferSRGB) {
		r.syncFramebufferSRGB()
	}
	if d.CheckAndClear(engine.FlagVertexFormats) {
		r.syncVertexFormats()
	}
	if d.CheckAndClear(engine.FlagVertexInstances) {
		r.syncVertexInstances()
	}
	r.consumeDrawState()
}

// consumeDrawState clears the flags whose state the draw path rebuilds
// from the registers every time instead of diffing.
func (r *Rasterizer) consumeDrawState() {
	d := r.maxwell.Dirty
	for f := engine.FlagRenderTargets; f <= engine.FlagZetaBuffer; f++ {
		d.CheckAndClear(f)
	}
	d.CheckAndClear(engine.FlagVertexBuffers)
	d.CheckAndClear(engine.FlagIndexBuffer)
	d.CheckAndClear(engine.FlagShaders)
	d.CheckAndClear(engine.FlagConstBuffers)
	d.CheckAndClear(engine.FlagTransformFeedback)
}

func (r *Rasterizer) syncViewport() {
	regs := &r.maxwell.Regs
	for i := 0; i < 16; i++ {
		vp := regs.ViewportState(i)
		r.dev.SetViewport(uint32(i), vp.X, vp.Y, vp.Width, vp.Height,
			float64(vp.DepthRangeNear), float64(vp.DepthRangeFar))
	}
}

func (r *Rasterizer) syncDepthClamp() {
	r.dev.SetDepthClamp(r.maxwell.Regs.Image[engine.RegDepthClampDisabled] == 0)
}

func (r *Rasterizer) syncClipControl() {
	yNegate := r.maxwell.Regs.Image[engine.RegScreenYControl]&1 != 0
	r.dev.SetClipControl(!yNegate, false)
}

func (r *Rasterizer) syncCullMode() {
	regs := &r.maxwell.Regs
	enabled := regs.Image[engine.RegCullTestEnable] != 0
	frontIsCCW := regs.Image[engine.RegFrontFace] == glCCW
	face := regs.Image[engine.RegCullFace]
	cullFront := face == glFront || face == glFrontAndBack
	cullBack := face == glBack || face == glFrontAndBack
	r.dev.SetCullMode(enabled, frontIsCCW, cullBack, cullFront)
}

func (r *Rasterizer) syncPrimitiveRestart() {
	regs := &r.maxwell.Regs
	r.dev.SetPrimitiveRestart(regs.Image[engine.RegPrimitiveRestartEnable] != 0,
		regs.Image[engine.RegPrimitiveRestartIndex])
}

func (r *Rasterizer) syncDepthTestState() {
	regs := &r.maxwell.Regs
	r.dev.SetDepthTest(regs.Image[engine.RegDepthTestEnable] != 0,
		regs.Image[engine.RegDepthWriteEnable] != 0,
		compareOp(regs.Image[engine.RegDepthTestFunc]))
}

func (r *Rasterizer) syncStencilTestState() {
	regs := &r.maxwell.Regs
	front := host.StencilFaceState{
		Func:      compareOp(regs.Image[engine.RegStencilFrontFunc]),
		Ref:       int32(regs.Image[engine.RegStencilFrontRef]),
		FuncMask:  regs.Image[engine.RegStencilFrontMask],
		OpFail:    regs.Image[engine.RegStencilFrontOpFail],
		OpZFail:   regs.Image[engine.RegStencilFrontOpZFail],
		OpZPass:   regs.Image[engine.RegStencilFrontOpZPass],
		WriteMask: regs.Image[engine.RegStencilFrontWMask],
	}
	back := front
	if regs.Image[engine.RegStencilTwoSideEnable] != 0 {
		back = host.StencilFaceState{
			Func:      compareOp(regs.Image[engine.RegStencilBackFunc]),
			Ref:       int32(regs.Image[engine.RegStencilBackFuncRef]),
			FuncMask:  regs.Image[engine.RegStencilBackFuncMask],
			OpFail:    regs.Image[engine.RegStencilBackOpFail],
			OpZFail:   regs.Image[engine.RegStencilBackOpZFail],
			OpZPass:   regs.Image[engine.RegStencilBackOpZPass],
			WriteMask: regs.Image[engine.RegStencilBackMask],
		}
	}
	r.dev.SetStencilTest(regs.Image[engine.RegStencilEnable] != 0, front, back)
}

func (r *Rasterizer) syncBlendState() {
	regs := &r.maxwell.Regs
	r.dev.SetBlendColor([4]float32{
		f32(regs.Image[engine.RegBlendConstantBase]),
		f32(regs.Image[engine.RegBlendConstantBase+1]),
		f32(regs.Image[engine.RegBlendConstantBase+2]),
		f32(regs.Image[engine.RegBlendConstantBase+3]),
	})
	slot := host.BlendSlotState{
		RGBEq:    regs.Image[engine.RegBlendEquationRGB],
		SrcRGB:   regs.Image[engine.RegBlendFactorSrcRGB],
		DstRGB:   regs.Image[engine.RegBlendFactorDstRGB],
		AlphaEq:  regs.Image[engine.RegBlendEquationAlpha],
		SrcAlpha: regs.Image[engine.RegBlendFactorSrcA],
		DstAlpha: regs.Image[engine.RegBlendFactorDstA],
	}
	for i := 0; i < engine.NumRenderTargets; i++ {
		slot.Enabled = regs.Image[engine.RegBlendEnableBase+i] != 0
		r.dev.SetBlendState(uint32(i), slot)
	}
}

func (r *Rasterizer) syncLogicOpState() {
	regs := &r.maxwell.Regs
	r.dev.SetLogicOp(regs.Image[engine.RegLogicOpEnable] != 0,
		regs.Image[engine.RegLogicOp])
}

func (r *Rasterizer) syncRasterizeEnable() {
	r.dev.SetRasterizeEnable(r.maxwell.Regs.Image[engine.RegRasterizeEnable] != 0)
}

func (r *Rasterizer) syncPolygonModes() {
	regs := &r.maxwell.Regs
	r.dev.SetPolygonModes(regs.Image[engine.RegPolygonModeFront],
		regs.Image[engine.RegPolygonModeBack])
}

func (r *Rasterizer) syncColorMask() {
	regs := &r.maxwell.Regs
	common := regs.Image[engine.RegColorMaskCommon] != 0
	for i := 0; i < engine.NumRenderTargets; i++ {
		w := regs.Image[engine.RegColorMaskBase+i]
		if common {
			w = regs.Image[engine.RegColorMaskBase]
		}
		r.dev.SetColorMask(uint32(i),
			w&0xF != 0, (w>>4)&0xF != 0, (w>>8)&0xF != 0, (w>>12)&0xF != 0)
	}
}

func (r *Rasterizer) syncMultisampleState() {
	regs := &r.maxwell.Regs
	control := regs.Image[engine.RegMultisampleControl]
	r.dev.SetMultisample(regs.Image[engine.RegMultisampleEnable] != 0,
		control&(1<<0) != 0, control&(1<<4) != 0)
	r.dev.SetSampleMask([4]uint32{
		regs.Image[engine.RegMultisampleSampleMaskBase],
		regs.Image[engine.RegMultisampleSampleMaskBase+1],
		regs.Image[engine.RegMultisampleSampleMaskBase+2],
		regs.Image[engine.RegMultisampleSampleMaskBase+3],
	})
}

func (r *Rasterizer) syncFragmentColorClamp() {
	r.dev.SetFragmentColorClamp(r.maxwell.Regs.Image[engine.RegFragmentColorClamp]&1 != 0)
}

func (r *Rasterizer) syncScissorTest() {
	regs := &r.maxwell.Regs
	for i := 0; i < 16; i++ {
		s := regs.ScissorState(i)
		r.dev.SetScissor(uint32(i), s.Enabled,
			int32(s.MinX), int32(s.MinY),
			int32(s.MaxX)-int32(s.MinX), int32(s.MaxY)-int32(s.MinY))
	}
}

func (r *Rasterizer) syncPointState() {
	regs := &r.maxwell.Regs
	r.dev.SetPointState(f32(regs.Image[engine.RegPointSize]),
		regs.Image[engine.RegPointSpriteEnable] != 0, false)
}

func (r *Rasterizer) syncLineState() {
	regs := &r.maxwell.Regs
	smooth := regs.Image[engine.RegLineSmoothEnable] != 0
	width := f32(regs.Image[engine.RegLineWidthAliased])
	if smooth {
		width = f32(regs.Image[engine.RegLineWidthSmooth])
	}
	r.dev.SetLineState(width, smooth)
}

func (r *Rasterizer) syncPolygonOffset() {
	regs := &r.maxwell.Regs
	// Guest units are twice the GL convention.
	r.dev.SetPolygonOffset(
		regs.Image[engine.RegPolygonOffsetPointEnable] != 0,
		regs.Image[engine.RegPolygonOffsetLineEnable] != 0,
		regs.Image[engine.RegPolygonOffsetFillEnable] != 0,
		f32(regs.Image[engine.RegPolygonOffsetFactor]),
		f32(regs.Image[engine.RegPolygonOffsetUnits])/2,
		f32(regs.Image[engine.RegPolygonOffsetClamp]))
}

func (r *Rasterizer) syncAlphaTest() {
	regs := &r.maxwell.Regs
	r.dev.SetAlphaTest(regs.Image[engine.RegAlphaTestEnable] != 0,
		compareOp(regs.Image[engine.RegAlphaTestFunc]),
		f32(regs.Image[engine.RegAlphaTestRef]))
}

func (r *Rasterizer) syncFramebufferSRGB() {
	r.dev.SetFramebufferSRGB(r.maxwell.Regs.Image[engine.RegFramebufferSRGB] != 0)
}

func (r *Rasterizer) syncVertexFormats() {
	regs := &r.maxwell.Regs
	attribs := make([]host.VertexAttribFormat, 0, engine.RegVertexAttribCount)
	for i := 0; i < engine.RegVertexAttribCount; i++ {
		a := regs.VertexAttribFormat(i)
		if a.Constant {
			continue
		}
		f, ok := attribFormat(a, uint32(i))
		if !ok {
			r.log.Warn("vertex attribute unsupported",
				"location", i, "size", uint32(a.Size), "type", uint32(a.Type))
			continue
		}
		attribs = append(attribs, f)
	}
	r.dev.SetVertexFormats(attribs)
}

func (r *Rasterizer) syncVertexInstances() {
	regs := &r.maxwell.Regs
	for i := 0; i < engine.NumVertexArrays; i++ {
		va := regs.VertexArrayState(i)
		divisor := uint32(0)
		if va.Instanced {
			divisor = max(va.Divisor, 1)
		}
		r.dev.SetVertexBindingDivisor(uint32(i), divisor)
	}
}

// GL enums appearing raw in the register image.
const (
	glFront        = 0x0404
	glBack         = 0x0405
	glFrontAndBack = 0x0408
	glCCW          = 0x0901
)

func f32(bits uint32) float32 { return math.Float32frombits(bits) }

// compareOp maps a guest comparison function to the host enum. The
// guest writes either the GL enum range or the 1-based DX range.
func compareOp(v uint32) host.CompareOp {
	if v >= 0x200 && v <= 0x207 {
		v = v - 0x200 + 1
	}
	switch v {
	case 1:
		return host.CompareNever
	case 2:
		return host.CompareLess
	case 3:
		return host.CompareEqual
	case 4:
		return host.CompareLEqual
	case 5:
		return host.CompareGreater
	case 6:
		return host.CompareNotEqual
	case 7:
		return host.CompareGEqual
	default:
		return host.CompareAlways
	}
}

// drawTopology maps the guest topology to a host draw mode. Quads and
// polygons have no core-profile equivalent; the fan approximation is
// exact for convex single primitives.
func drawTopology(t engine.PrimitiveTopology) (host.Topology, bool) {
	switch t {
	case engine.TopologyPoints:
		return host.DrawPoints, true
	case engine.TopologyLines:
		return host.DrawLines, true
	case engine.TopologyLineLoop:
		return host.DrawLineLoop, true
	case engine.TopologyLineStrip:
		return host.DrawLineStrip, true
	case engine.TopologyTriangles:
		return host.DrawTriangles, true
	case engine.TopologyTriangleStrip:
		return host.DrawTriangleStrip, true
	case engine.TopologyTriangleFan, engine.TopologyQuads, engine.TopologyPolygon:
		return host.DrawTriangleFan, true
	case engine.TopologyQuadStrip:
		return host.DrawTriangleStrip, true
	case engine.TopologyLinesAdj:
		return host.DrawLinesAdjacency, true
	case engine.TopologyLineStripAdj:
		return host.DrawLineStripAdjacency, true
	case engine.TopologyTrianglesAdj:
		return host.DrawTrianglesAdjacency, true
	case engine.TopologyTriStripAdj:
		return host.DrawTriangleStripAdjacency, true
	case engine.TopologyPatches:
		return host.DrawPatches, true
	}
	return 0, false
}

// attribFormat converts a guest attribute descriptor to the host form.
func attribFormat(a engine.VertexAttrib, location uint32) (host.VertexAttribFormat, bool) {
	f := host.VertexAttribFormat{
		Location:   location,
		Binding:    a.Buffer,
		Components: int32(a.Size.Components()),
		Offset:     a.Offset,
	}

	var width int
	switch a.Size {
	case engine.AttribSize32x4, engine.AttribSize32x3, engine.AttribSize32x2, engine.AttribSize32x1:
		width = 32
	case engine.AttribSize16x4, engine.AttribSize16x3, engine.AttribSize16x2, engine.AttribSize16x1:
		width = 16
	case engine.AttribSize8x4, engine.AttribSize8x3, engine.AttribSize8x2, engine.AttribSize8x1:
		width = 8
	case engine.AttribSize10b:
		f.Type = host.AttribType2101010Rev
		f.Normalized = a.Type == engine.AttribTypeSNorm || a.Type == engine.AttribTypeUNorm
		return f, true
	default:
		return f, false
	}

	signed := false
	switch a.Type {
	case engine.AttribTypeSNorm:
		signed = true
		f.Normalized = true
	case engine.AttribTypeUNorm:
		f.Normalized = true
	case engine.AttribTypeSInt:
		signed = true
		f.Class = host.AttribInt
	case engine.AttribTypeUInt:
		f.Class = host.AttribInt
	case engine.AttribTypeSScaled:
		signed = true
	case engine.AttribTypeUScaled:
	case engine.AttribTypeFloat:
		switch width {
		case 32:
			f.Type = host.AttribTypeFloat32
		case 16:
			f.Type = host.AttribTypeHalf
		default:
			return f, false
		}
		return f, true
	default:
		return f, false
	}

	switch width {
	case 32:
		f.Type = host.AttribTypeUInt
		if signed {
			f.Type = host.AttribTypeInt
		}
	case 16:
		f.Type = host.AttribTypeUShort
		if signed {
			f.Type = host.AttribTypeShort
		}
	case 8:
		f.Type = host.AttribTypeUByte
		if signed {
			f.Type = host.AttribTypeByte
		}
	}
	return f, true
}
