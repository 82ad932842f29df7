//go:build cgo

package gl46

import (
	"fmt"

	"github.com/go-gl/gl/all-core/gl"

	"github.com/kentjhall/mizu-sub009/host"
)

// formatInfo maps a host format to its GL storage and transfer enums.
type formatInfo struct {
	internal uint32
	format   uint32 // transfer format, 0 for compressed
	xtype    uint32 // transfer type, 0 for compressed
}

var formatTable = [host.FormatCount]formatInfo{
	host.FormatR8UNorm:      {gl.R8, gl.RED, gl.UNSIGNED_BYTE},
	host.FormatR8SNorm:      {gl.R8_SNORM, gl.RED, gl.BYTE},
	host.FormatR8UInt:       {gl.R8UI, gl.RED_INTEGER, gl.UNSIGNED_BYTE},
	host.FormatRG8UNorm:     {gl.RG8, gl.RG, gl.UNSIGNED_BYTE},
	host.FormatRG8SNorm:     {gl.RG8_SNORM, gl.RG, gl.BYTE},
	host.FormatRGBA8UNorm:   {gl.RGBA8, gl.RGBA, gl.UNSIGNED_BYTE},
	host.FormatRGBA8SNorm:   {gl.RGBA8_SNORM, gl.RGBA, gl.BYTE},
	host.FormatRGBA8UInt:    {gl.RGBA8UI, gl.RGBA_INTEGER, gl.UNSIGNED_BYTE},
	host.FormatRGBA8SRGB:    {gl.SRGB8_ALPHA8, gl.RGBA, gl.UNSIGNED_BYTE},
	host.FormatBGRA8UNorm:   {gl.RGBA8, gl.BGRA, gl.UNSIGNED_BYTE},
	host.FormatR16Float:     {gl.R16F, gl.RED, gl.HALF_FLOAT},
	host.FormatRG16Float:    {gl.RG16F, gl.RG, gl.HALF_FLOAT},
	host.FormatRGBA16Float:  {gl.RGBA16F, gl.RGBA, gl.HALF_FLOAT},
	host.FormatR16UNorm:     {gl.R16, gl.RED, gl.UNSIGNED_SHORT},
	host.FormatR32Float:     {gl.R32F, gl.RED, gl.FLOAT},
	host.FormatRG32Float:    {gl.RG32F, gl.RG, gl.FLOAT},
	host.FormatRGB32Float:   {gl.RGB32F, gl.RGB, gl.FLOAT},
	host.FormatRGBA32Float:  {gl.RGBA32F, gl.RGBA, gl.FLOAT},
	host.FormatR32UInt:      {gl.R32UI, gl.RED_INTEGER, gl.UNSIGNED_INT},
	host.FormatRG32UInt:     {gl.RG32UI, gl.RG_INTEGER, gl.UNSIGNED_INT},
	host.FormatRGBA32UInt:   {gl.RGBA32UI, gl.RGBA_INTEGER, gl.UNSIGNED_INT},
	host.FormatRGB10A2UNorm: {gl.RGB10_A2, gl.RGBA, gl.UNSIGNED_INT_2_10_10_10_REV},
	host.FormatRG11B10Float: {gl.R11F_G11F_B10F, gl.RGB, gl.UNSIGNED_INT_10F_11F_11F_REV},
	host.FormatBC1RGBA:      {gl.COMPRESSED_RGBA_S3TC_DXT1_EXT, 0, 0},
	host.FormatBC2:          {gl.COMPRESSED_RGBA_S3TC_DXT3_EXT, 0, 0},
	host.FormatBC3:          {gl.COMPRESSED_RGBA_S3TC_DXT5_EXT, 0, 0},
	host.FormatBC4UNorm:     {gl.COMPRESSED_RED_RGTC1, 0, 0},
	host.FormatBC5UNorm:     {gl.COMPRESSED_RG_RGTC2, 0, 0},
	host.FormatBC7:          {gl.COMPRESSED_RGBA_BPTC_UNORM, 0, 0},
	host.FormatASTC4x4:      {gl.COMPRESSED_RGBA_ASTC_4x4_KHR, 0, 0},
	host.FormatASTC8x8:      {gl.COMPRESSED_RGBA_ASTC_8x8_KHR, 0, 0},
	host.FormatD16UNorm:     {gl.DEPTH_COMPONENT16, gl.DEPTH_COMPONENT, gl.UNSIGNED_SHORT},
	host.FormatD24UNormS8:   {gl.DEPTH24_STENCIL8, gl.DEPTH_STENCIL, gl.UNSIGNED_INT_24_8},
	host.FormatD32Float:     {gl.DEPTH_COMPONENT32F, gl.DEPTH_COMPONENT, gl.FLOAT},
	host.FormatD32FloatS8:   {gl.DEPTH32F_STENCIL8, gl.DEPTH_STENCIL, gl.FLOAT_32_UNSIGNED_INT_24_8_REV},
	host.FormatS8UInt:       {gl.STENCIL_INDEX8, gl.STENCIL_INDEX, gl.UNSIGNED_BYTE},
}

func glTarget(t host.TextureTarget) uint32 {
	switch t {
	case host.Target1D:
		return gl.TEXTURE_1D
	case host.Target1DArray:
		return gl.TEXTURE_1D_ARRAY
	case host.Target2D:
		return gl.TEXTURE_2D
	case host.Target2DArray:
		return gl.TEXTURE_2D_ARRAY
	case host.Target2DMultisample:
		return gl.TEXTURE_2D_MULTISAMPLE
	case host.Target3D:
		return gl.TEXTURE_3D
	case host.TargetCube:
		return gl.TEXTURE_CUBE_MAP
	case host.TargetCubeArray:
		return gl.TEXTURE_CUBE_MAP_ARRAY
	case host.TargetBuffer:
		return gl.TEXTURE_BUFFER
	}
	return gl.TEXTURE_2D
}

type texture struct {
	dev  *Device
	id   uint32
	desc host.TextureDesc
	info formatInfo
}

// CreateTexture implements host.Device.
func (d *Device) CreateTexture(desc host.TextureDesc) (host.Texture, error) {
	info := formatTable[desc.Format]
	if info.internal == 0 {
		return nil, fmt.Errorf("gl46: unsupported format %d", desc.Format)
	}
	t := &texture{dev: d, desc: desc, info: info}
	target := glTarget(desc.Target)
	gl.CreateTextures(target, 1, &t.id)

	w, h, dp := int32(desc.Width), int32(desc.Height), int32(desc.Depth)
	levels := int32(desc.Levels)
	switch desc.Target {
	case host.Target1D:
		gl.TextureStorage1D(t.id, levels, info.internal, w)
	case host.Target1DArray:
		gl.TextureStorage2D(t.id, levels, info.internal, w, h)
	case host.Target2D, host.TargetCube:
		gl.TextureStorage2D(t.id, levels, info.internal, w, h)
	case host.Target2DMultisample:
		gl.TextureStorage2DMultisample(t.id, int32(desc.Samples), info.internal, w, h, true)
	case host.Target2DArray, host.Target3D, host.TargetCubeArray:
		gl.TextureStorage3D(t.id, levels, info.internal, w, h, dp)
	default:
		gl.DeleteTextures(1, &t.id)
		return nil, fmt.Errorf("gl46: unsupported target %d", desc.Target)
	}
	return t, nil
}

func (t *texture) Desc() host.TextureDesc { return t.desc }

// CreateBufferTexture implements host.Device. The returned view owns
// the buffer-texture name; deleting the view deletes it.
func (d *Device) CreateBufferTexture(buf host.Buffer, format host.PixelFormat, offset, size uint64) (host.TextureView, error) {
	info := formatTable[format]
	if info.internal == 0 {
		return nil, fmt.Errorf("gl46: unsupported texel buffer format %d", format)
	}
	t := &texture{
		dev:  d,
		desc: host.TextureDesc{Target: host.TargetBuffer, Format: format},
		info: info,
	}
	gl.CreateTextures(gl.TEXTURE_BUFFER, 1, &t.id)
	gl.TextureBufferRange(t.id, info.internal, buf.(*buffer).id, int(offset), int(size))
	return &textureView{tex: t, id: t.id, desc: host.ViewDesc{Target: host.TargetBuffer, Format: format}}, nil
}

func setUnpack(p host.UploadParams) {
	gl.PixelStorei(gl.UNPACK_ALIGNMENT, int32(p.Alignment))
	gl.PixelStorei(gl.UNPACK_ROW_LENGTH, int32(p.RowLength))
}

func (t *texture) Upload(p host.UploadParams, data []byte) {
	setUnpack(p)
	switch t.desc.Target {
	case host.Target1D:
		gl.TextureSubImage1D(t.id, int32(p.Level), int32(p.X), int32(p.Width),
			t.info.format, t.info.xtype, gl.Ptr(data))
	case host.Target2D, host.Target1DArray:
		gl.TextureSubImage2D(t.id, int32(p.Level), int32(p.X), int32(p.Y),
			int32(p.Width), int32(p.Height), t.info.format, t.info.xtype, gl.Ptr(data))
	default:
		gl.TextureSubImage3D(t.id, int32(p.Level), int32(p.X), int32(p.Y), int32(p.Z),
			int32(p.Width), int32(p.Height), int32(p.Depth),
			t.info.format, t.info.xtype, gl.Ptr(data))
	}
}

func (t *texture) UploadCompressed(p host.UploadParams, imageSize uint32, data []byte) {
	gl.PixelStorei(gl.UNPACK_ALIGNMENT, 4)
	gl.PixelStorei(gl.UNPACK_ROW_LENGTH, 0)
	switch t.desc.Target {
	case host.Target2D, host.Target1DArray:
		gl.CompressedTextureSubImage2D(t.id, int32(p.Level), int32(p.X), int32(p.Y),
			int32(p.Width), int32(p.Height), t.info.internal, int32(imageSize), gl.Ptr(data))
	default:
		gl.CompressedTextureSubImage3D(t.id, int32(p.Level), int32(p.X), int32(p.Y), int32(p.Z),
			int32(p.Width), int32(p.Height), int32(p.Depth),
			t.info.internal, int32(imageSize), gl.Ptr(data))
	}
}

func (t *texture) Download(p host.UploadParams, dst []byte) {
	gl.PixelStorei(gl.PACK_ALIGNMENT, int32(p.Alignment))
	gl.PixelStorei(gl.PACK_ROW_LENGTH, int32(p.RowLength))
	gl.GetTextureSubImage(t.id, int32(p.Level), int32(p.X), int32(p.Y), int32(p.Z),
		int32(p.Width), int32(p.Height), int32(p.Depth),
		t.info.format, t.info.xtype, int32(len(dst)), gl.Ptr(dst))
}

var swizzleTable = map[host.SwizzleSource]int32{
	host.SwizzleZero: gl.ZERO,
	host.SwizzleOne:  gl.ONE,
	host.SwizzleR:    gl.RED,
	host.SwizzleG:    gl.GREEN,
	host.SwizzleB:    gl.BLUE,
	host.SwizzleA:    gl.ALPHA,
}

func (t *texture) CreateView(desc host.ViewDesc) host.TextureView {
	v := &textureView{tex: t, desc: desc}
	// Views need a name from Gen, not Create: glTextureView rejects
	// names with an initialized state vector.
	gl.GenTextures(1, &v.id)
	gl.TextureView(v.id, glTarget(desc.Target), t.id, formatTable[desc.Format].internal,
		desc.BaseLevel, desc.Levels, desc.BaseLayer, desc.Layers)
	swizzle := [4]int32{
		swizzleTable[desc.Swizzle[0]],
		swizzleTable[desc.Swizzle[1]],
		swizzleTable[desc.Swizzle[2]],
		swizzleTable[desc.Swizzle[3]],
	}
	gl.TextureParameteriv(v.id, gl.TEXTURE_SWIZZLE_RGBA, &swizzle[0])
	return v
}

func (t *texture) CopyTo(dst host.Texture, srcLevel, srcX, srcY, srcZ, dstLevel, dstX, dstY, dstZ, w, h, d uint32) {
	other := dst.(*texture)
	gl.CopyImageSubData(
		t.id, glTarget(t.desc.Target), int32(srcLevel), int32(srcX), int32(srcY), int32(srcZ),
		other.id, glTarget(other.desc.Target), int32(dstLevel), int32(dstX), int32(dstY), int32(dstZ),
		int32(w), int32(h), int32(d))
}

func (t *texture) Delete() {
	gl.DeleteTextures(1, &t.id)
	t.id = 0
}

type textureView struct {
	tex  *texture
	id   uint32
	desc host.ViewDesc
}

func (v *textureView) Desc() host.ViewDesc   { return v.desc }
func (v *textureView) Texture() host.Texture { return v.tex }
func (v *textureView) Delete() {
	gl.DeleteTextures(1, &v.id)
	v.id = 0
}

type sampler struct {
	id   uint32
	desc host.SamplerDesc
}

var wrapTable = map[host.Wrap]int32{
	host.WrapRepeat:      gl.REPEAT,
	host.WrapMirror:      gl.MIRRORED_REPEAT,
	host.WrapClampEdge:   gl.CLAMP_TO_EDGE,
	host.WrapClampBorder: gl.CLAMP_TO_BORDER,
	host.WrapMirrorOnce:  gl.MIRROR_CLAMP_TO_EDGE,
}

var compareTable = [...]uint32{
	host.CompareNever:    gl.NEVER,
	host.CompareLess:     gl.LESS,
	host.CompareEqual:    gl.EQUAL,
	host.CompareLEqual:   gl.LEQUAL,
	host.CompareGreater:  gl.GREATER,
	host.CompareNotEqual: gl.NOTEQUAL,
	host.CompareGEqual:   gl.GEQUAL,
	host.CompareAlways:   gl.ALWAYS,
}

// CreateSampler implements host.Device.
func (d *Device) CreateSampler(desc host.SamplerDesc) host.Sampler {
	s := &sampler{desc: desc}
	gl.CreateSamplers(1, &s.id)

	mag := int32(gl.NEAREST)
	if desc.MagLinear {
		mag = gl.LINEAR
	}
	min := minFilter(desc)
	gl.SamplerParameteri(s.id, gl.TEXTURE_MAG_FILTER, mag)
	gl.SamplerParameteri(s.id, gl.TEXTURE_MIN_FILTER, min)
	gl.SamplerParameteri(s.id, gl.TEXTURE_WRAP_S, wrapTable[desc.WrapU])
	gl.SamplerParameteri(s.id, gl.TEXTURE_WRAP_T, wrapTable[desc.WrapV])
	gl.SamplerParameteri(s.id, gl.TEXTURE_WRAP_R, wrapTable[desc.WrapW])
	if desc.DepthCompare {
		gl.SamplerParameteri(s.id, gl.TEXTURE_COMPARE_MODE, gl.COMPARE_REF_TO_TEXTURE)
		gl.SamplerParameteri(s.id, gl.TEXTURE_COMPARE_FUNC, int32(compareTable[desc.CompareFunc]))
	}
	if desc.Anisotropy > 1 && d.caps.MaxAnisotropy > 1 {
		a := desc.Anisotropy
		if a > d.caps.MaxAnisotropy {
			a = d.caps.MaxAnisotropy
		}
		gl.SamplerParameterf(s.id, gl.TEXTURE_MAX_ANISOTROPY, a)
	}
	gl.SamplerParameterf(s.id, gl.TEXTURE_MIN_LOD, desc.MinLOD)
	gl.SamplerParameterf(s.id, gl.TEXTURE_MAX_LOD, desc.MaxLOD)
	gl.SamplerParameterf(s.id, gl.TEXTURE_LOD_BIAS, desc.LODBias)
	gl.SamplerParameterfv(s.id, gl.TEXTURE_BORDER_COLOR, &desc.BorderColor[0])
	return s
}

func minFilter(desc host.SamplerDesc) int32 {
	switch {
	case !desc.MipEnabled && desc.MinLinear:
		return gl.LINEAR
	case !desc.MipEnabled:
		return gl.NEAREST
	case desc.MinLinear && desc.MipLinear:
		return gl.LINEAR_MIPMAP_LINEAR
	case desc.MinLinear:
		return gl.LINEAR_MIPMAP_NEAREST
	case desc.MipLinear:
		return gl.NEAREST_MIPMAP_LINEAR
	}
	return gl.NEAREST_MIPMAP_NEAREST
}

func (s *sampler) Desc() host.SamplerDesc { return s.desc }
func (s *sampler) Delete() {
	gl.DeleteSamplers(1, &s.id)
	s.id = 0
}

// BindTexture implements host.Device.
func (d *Device) BindTexture(unit uint32, view host.TextureView, sampler_ host.Sampler) {
	if view == nil {
		gl.BindTextureUnit(unit, 0)
		return
	}
	gl.BindTextureUnit(unit, view.(*textureView).id)
	if sampler_ != nil {
		gl.BindSampler(unit, sampler_.(*sampler).id)
	}
}

// BindImage implements host.Device.
func (d *Device) BindImage(unit uint32, view host.TextureView, writable bool) {
	if view == nil {
		gl.BindImageTexture(unit, 0, 0, false, 0, gl.READ_ONLY, gl.R32UI)
		return
	}
	v := view.(*textureView)
	access := uint32(gl.READ_ONLY)
	if writable {
		access = gl.READ_WRITE
	}
	gl.BindImageTexture(unit, v.id, 0, true, 0, access, formatTable[v.desc.Format].internal)
}
