//go:build cgo

package gl46

import (
	"unsafe"

	"github.com/go-gl/gl/all-core/gl"

	"github.com/kentjhall/mizu-sub009/host"
)

var topologyTable = [...]uint32{
	host.DrawPoints:                 gl.POINTS,
	host.DrawLines:                  gl.LINES,
	host.DrawLineLoop:               gl.LINE_LOOP,
	host.DrawLineStrip:              gl.LINE_STRIP,
	host.DrawTriangles:              gl.TRIANGLES,
	host.DrawTriangleStrip:          gl.TRIANGLE_STRIP,
	host.DrawTriangleFan:            gl.TRIANGLE_FAN,
	host.DrawLinesAdjacency:         gl.LINES_ADJACENCY,
	host.DrawLineStripAdjacency:     gl.LINE_STRIP_ADJACENCY,
	host.DrawTrianglesAdjacency:     gl.TRIANGLES_ADJACENCY,
	host.DrawTriangleStripAdjacency: gl.TRIANGLE_STRIP_ADJACENCY,
	host.DrawPatches:                gl.PATCHES,
}

var indexTypeTable = [...]uint32{
	host.IndexU8:  gl.UNSIGNED_BYTE,
	host.IndexU16: gl.UNSIGNED_SHORT,
	host.IndexU32: gl.UNSIGNED_INT,
}

// Draw implements host.Device.
func (d *Device) Draw(p host.DrawParams) {
	mode := topologyTable[p.Topology]
	instances := p.Instances
	if instances < 1 {
		instances = 1
	}
	if p.Indexed {
		gl.DrawElementsInstancedBaseVertexBaseInstance(mode, p.Count,
			indexTypeTable[p.IndexType], unsafe.Pointer(p.IndexOffset),
			instances, p.BaseVertex, p.BaseInstance)
	} else {
		gl.DrawArraysInstancedBaseInstance(mode, p.First, p.Count, instances, p.BaseInstance)
	}
}

// BeginTransformFeedback implements host.Device. Only the base primitive
// class matters to the host.
func (d *Device) BeginTransformFeedback(topology host.Topology) {
	var mode uint32
	switch topology {
	case host.DrawPoints:
		mode = gl.POINTS
	case host.DrawLines, host.DrawLineLoop, host.DrawLineStrip,
		host.DrawLinesAdjacency, host.DrawLineStripAdjacency:
		mode = gl.LINES
	default:
		mode = gl.TRIANGLES
	}
	gl.BeginTransformFeedback(mode)
}

// EndTransformFeedback implements host.Device.
func (d *Device) EndTransformFeedback() {
	gl.EndTransformFeedback()
}

var attribTypeTable = [...]uint32{
	host.AttribTypeByte:       gl.BYTE,
	host.AttribTypeUByte:      gl.UNSIGNED_BYTE,
	host.AttribTypeShort:      gl.SHORT,
	host.AttribTypeUShort:     gl.UNSIGNED_SHORT,
	host.AttribTypeInt:        gl.INT,
	host.AttribTypeUInt:       gl.UNSIGNED_INT,
	host.AttribTypeHalf:       gl.HALF_FLOAT,
	host.AttribTypeFloat32:    gl.FLOAT,
	host.AttribType2101010Rev: gl.UNSIGNED_INT_2_10_10_10_REV,
}

// SetVertexFormats implements host.Device. Attributes absent from the
// list are disabled.
func (d *Device) SetVertexFormats(attribs []host.VertexAttribFormat) {
	enabled := make(map[uint32]bool, len(attribs))
	for _, a := range attribs {
		enabled[a.Location] = true
		gl.EnableVertexArrayAttrib(d.vao, a.Location)
		if a.Class == host.AttribInt {
			gl.VertexArrayAttribIFormat(d.vao, a.Location, a.Components,
				attribTypeTable[a.Type], a.Offset)
		} else {
			gl.VertexArrayAttribFormat(d.vao, a.Location, a.Components,
				attribTypeTable[a.Type], a.Normalized, a.Offset)
		}
		gl.VertexArrayAttribBinding(d.vao, a.Location, a.Binding)
	}
	for loc := uint32(0); loc < d.caps.MaxVertexAttribs; loc++ {
		if !enabled[loc] {
			gl.DisableVertexArrayAttrib(d.vao, loc)
		}
	}
}

// SetVertexBindingDivisor implements host.Device.
func (d *Device) SetVertexBindingDivisor(index, divisor uint32) {
	gl.VertexArrayBindingDivisor(d.vao, index, divisor)
}

func setEnabled(capability uint32, enabled bool) {
	if enabled {
		gl.Enable(capability)
	} else {
		gl.Disable(capability)
	}
}

func setEnabledi(capability uint32, index uint32, enabled bool) {
	if enabled {
		gl.Enablei(capability, index)
	} else {
		gl.Disablei(capability, index)
	}
}

// SetViewport implements host.Device.
func (d *Device) SetViewport(index uint32, x, y, w, h float32, near, far float64) {
	gl.ViewportIndexedf(index, x, y, w, h)
	gl.DepthRangeIndexed(index, near, far)
}

// SetDepthClamp implements host.Device.
func (d *Device) SetDepthClamp(enabled bool) { setEnabled(gl.DEPTH_CLAMP, enabled) }

// SetClipControl implements host.Device.
func (d *Device) SetClipControl(lowerLeft, depthZeroToOne bool) {
	origin := uint32(gl.UPPER_LEFT)
	if lowerLeft {
		origin = gl.LOWER_LEFT
	}
	depth := uint32(gl.NEGATIVE_ONE_TO_ONE)
	if depthZeroToOne {
		depth = gl.ZERO_TO_ONE
	}
	gl.ClipControl(origin, depth)
}

// SetCullMode implements host.Device.
func (d *Device) SetCullMode(enabled, frontIsCCW, cullBack, cullFront bool) {
	setEnabled(gl.CULL_FACE, enabled)
	if frontIsCCW {
		gl.FrontFace(gl.CCW)
	} else {
		gl.FrontFace(gl.CW)
	}
	switch {
	case cullBack && cullFront:
		gl.CullFace(gl.FRONT_AND_BACK)
	case cullFront:
		gl.CullFace(gl.FRONT)
	default:
		gl.CullFace(gl.BACK)
	}
}

// SetPrimitiveRestart implements host.Device.
func (d *Device) SetPrimitiveRestart(enabled bool, index uint32) {
	setEnabled(gl.PRIMITIVE_RESTART, enabled)
	if enabled {
		gl.PrimitiveRestartIndex(index)
	}
}

// SetDepthTest implements host.Device.
func (d *Device) SetDepthTest(enabled, writeEnabled bool, fn host.CompareOp) {
	setEnabled(gl.DEPTH_TEST, enabled)
	gl.DepthMask(writeEnabled)
	if enabled {
		gl.DepthFunc(compareTable[fn])
	}
}

// SetStencilTest implements host.Device.
func (d *Device) SetStencilTest(enabled bool, front, back host.StencilFaceState) {
	setEnabled(gl.STENCIL_TEST, enabled)
	if !enabled {
		return
	}
	apply := func(face uint32, s host.StencilFaceState) {
		gl.StencilFuncSeparate(face, compareTable[s.Func], s.Ref, s.FuncMask)
		gl.StencilOpSeparate(face, s.OpFail, s.OpZFail, s.OpZPass)
		gl.StencilMaskSeparate(face, s.WriteMask)
	}
	apply(gl.FRONT, front)
	apply(gl.BACK, back)
}

// SetBlendState implements host.Device. Equation and factor fields carry
// GL enums resolved by the caller's state tables.
func (d *Device) SetBlendState(index uint32, s host.BlendSlotState) {
	setEnabledi(gl.BLEND, index, s.Enabled)
	if !s.Enabled {
		return
	}
	gl.BlendEquationSeparatei(index, s.RGBEq, s.AlphaEq)
	gl.BlendFuncSeparatei(index, s.SrcRGB, s.DstRGB, s.SrcAlpha, s.DstAlpha)
}

// SetBlendColor implements host.Device.
func (d *Device) SetBlendColor(rgba [4]float32) {
	gl.BlendColor(rgba[0], rgba[1], rgba[2], rgba[3])
}

// SetLogicOp implements host.Device.
func (d *Device) SetLogicOp(enabled bool, op uint32) {
	setEnabled(gl.COLOR_LOGIC_OP, enabled)
	if enabled {
		gl.LogicOp(op)
	}
}

// SetRasterizeEnable implements host.Device.
func (d *Device) SetRasterizeEnable(enabled bool) {
	setEnabled(gl.RASTERIZER_DISCARD, !enabled)
}

// SetPolygonModes implements host.Device. Core GL cannot split
// front/back modes; when they diverge the front mode wins.
func (d *Device) SetPolygonModes(front, back uint32) {
	gl.PolygonMode(gl.FRONT_AND_BACK, front)
}

// SetColorMask implements host.Device.
func (d *Device) SetColorMask(index uint32, r, g, b, a bool) {
	gl.ColorMaski(index, r, g, b, a)
}

// SetMultisample implements host.Device.
func (d *Device) SetMultisample(enabled, alphaToCoverage, alphaToOne bool) {
	setEnabled(gl.MULTISAMPLE, enabled)
	setEnabled(gl.SAMPLE_ALPHA_TO_COVERAGE, alphaToCoverage)
	setEnabled(gl.SAMPLE_ALPHA_TO_ONE, alphaToOne)
}

// SetSampleMask implements host.Device.
func (d *Device) SetSampleMask(masks [4]uint32) {
	for i, m := range masks {
		gl.SampleMaski(uint32(i), m)
	}
}

// SetFragmentColorClamp implements host.Device.
func (d *Device) SetFragmentColorClamp(enabled bool) {
	if enabled {
		gl.ClampColor(gl.CLAMP_FRAGMENT_COLOR_ARB, gl.TRUE)
	} else {
		gl.ClampColor(gl.CLAMP_FRAGMENT_COLOR_ARB, gl.FALSE)
	}
}

// SetScissor implements host.Device.
func (d *Device) SetScissor(index uint32, enabled bool, x, y, w, h int32) {
	setEnabledi(gl.SCISSOR_TEST, index, enabled)
	if enabled {
		gl.ScissorIndexed(index, x, y, w, h)
	}
}

// SetPointState implements host.Device.
func (d *Device) SetPointState(size float32, spriteEnabled, programPointSize bool) {
	setEnabled(gl.PROGRAM_POINT_SIZE, programPointSize)
	if size > 0 {
		gl.PointSize(size)
	}
	_ = spriteEnabled // always on in core profile
}

// SetLineState implements host.Device.
func (d *Device) SetLineState(width float32, smooth bool) {
	setEnabled(gl.LINE_SMOOTH, smooth)
	if width > 0 {
		gl.LineWidth(width)
	}
}

// SetPolygonOffset implements host.Device.
func (d *Device) SetPolygonOffset(point, line, fill bool, factor, units, clamp float32) {
	setEnabled(gl.POLYGON_OFFSET_POINT, point)
	setEnabled(gl.POLYGON_OFFSET_LINE, line)
	setEnabled(gl.POLYGON_OFFSET_FILL, fill)
	if point || line || fill {
		// Guest units are in a 1/2 subpixel scale relative to GL.
		gl.PolygonOffsetClamp(factor, units/2, clamp)
	}
}

// SetAlphaTest implements host.Device. Core profiles have no fixed
// function alpha test; the shader emitters bake it into the fragment
// program, so nothing happens host side.
func (d *Device) SetAlphaTest(enabled bool, fn host.CompareOp, ref float32) {}

// SetFramebufferSRGB implements host.Device.
func (d *Device) SetFramebufferSRGB(enabled bool) {
	setEnabled(gl.FRAMEBUFFER_SRGB, enabled)
}
