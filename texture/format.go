package texture

import "github.com/kentjhall/mizu-sub009/host"

// TextureFormat is the guest texture format field of a TIC entry.
type TextureFormat uint32

// Guest texture formats. Values match the hardware encoding; only the
// subset observed in shipped titles is mapped.
const (
	TexFmtR32G32B32A32 TextureFormat = 0x01
	TexFmtR32G32B32    TextureFormat = 0x02
	TexFmtR16G16B16A16 TextureFormat = 0x03
	TexFmtR32G32       TextureFormat = 0x04
	TexFmtA8R8G8B8     TextureFormat = 0x08
	TexFmtA2B10G10R10  TextureFormat = 0x09
	TexFmtR16G16       TextureFormat = 0x0C
	TexFmtR32          TextureFormat = 0x0F
	TexFmtB5G6R5       TextureFormat = 0x15
	TexFmtBC7U         TextureFormat = 0x17
	TexFmtG8R8         TextureFormat = 0x18
	TexFmtR16          TextureFormat = 0x1B
	TexFmtR8           TextureFormat = 0x1D
	TexFmtBF10GF11RF11 TextureFormat = 0x21
	TexFmtDXT1         TextureFormat = 0x24
	TexFmtDXT23        TextureFormat = 0x25
	TexFmtDXT45        TextureFormat = 0x26
	TexFmtDXN1         TextureFormat = 0x27
	TexFmtDXN2         TextureFormat = 0x28
	TexFmtS8Z24        TextureFormat = 0x29
	TexFmtZ24S8        TextureFormat = 0x2B
	TexFmtZF32         TextureFormat = 0x2F
	TexFmtZF32X24S8    TextureFormat = 0x30
	TexFmtZ16          TextureFormat = 0x3A
	TexFmtASTC4x4      TextureFormat = 0x40
	TexFmtASTC8x8      TextureFormat = 0x44
)

// ComponentType is the per-component interpretation in a TIC entry.
type ComponentType uint32

// Component types.
const (
	ComponentSNorm ComponentType = 1
	ComponentUNorm ComponentType = 2
	ComponentSInt  ComponentType = 3
	ComponentUInt  ComponentType = 4
	ComponentFloat ComponentType = 7
)

// RenderTargetFormat is the guest color target format register value.
type RenderTargetFormat uint32

// Guest render target formats.
const (
	RTFmtNone         RenderTargetFormat = 0x00
	RTFmtRGBA32Float  RenderTargetFormat = 0xC0
	RTFmtRGBA32UInt   RenderTargetFormat = 0xC2
	RTFmtRGBA16Float  RenderTargetFormat = 0xCA
	RTFmtRG32Float    RenderTargetFormat = 0xCB
	RTFmtBGRA8UNorm   RenderTargetFormat = 0xCF
	RTFmtBGRA8SRGB    RenderTargetFormat = 0xD0
	RTFmtRGB10A2UNorm RenderTargetFormat = 0xD1
	RTFmtRGBA8UNorm   RenderTargetFormat = 0xD5
	RTFmtRGBA8SRGB    RenderTargetFormat = 0xD6
	RTFmtRGBA8SNorm   RenderTargetFormat = 0xD7
	RTFmtRG16Float    RenderTargetFormat = 0xDE
	RTFmtRG11B10Float RenderTargetFormat = 0xE0
	RTFmtR32Float     RenderTargetFormat = 0xE5
	RTFmtRG8UNorm     RenderTargetFormat = 0xEA
	RTFmtR16Float     RenderTargetFormat = 0xF2
	RTFmtR8UNorm      RenderTargetFormat = 0xF3
	RTFmtR32UInt      RenderTargetFormat = 0xE4
)

// ZetaFormat is the guest depth-stencil format register value.
type ZetaFormat uint32

// Guest depth-stencil formats.
const (
	ZetaFmtZ32Float      ZetaFormat = 0x0A
	ZetaFmtZ16           ZetaFormat = 0x13
	ZetaFmtS8Z24         ZetaFormat = 0x14
	ZetaFmtZ24X8         ZetaFormat = 0x15
	ZetaFmtZ24S8         ZetaFormat = 0x16
	ZetaFmtZ32FloatS8X24 ZetaFormat = 0x19
)

// formatProperties carries the byte layout the cache needs to size and
// transfer a surface.
type formatProperties struct {
	host       host.PixelFormat
	bytesPerEl uint32 // per pixel, or per block for compressed formats
	blockW     uint32
	blockH     uint32
}

func (p formatProperties) compressed() bool { return p.blockW > 1 }

var texFormatTable = map[TextureFormat]formatProperties{
	TexFmtR32G32B32A32: {host.FormatRGBA32Float, 16, 1, 1},
	TexFmtR32G32B32:    {host.FormatRGB32Float, 12, 1, 1},
	TexFmtR16G16B16A16: {host.FormatRGBA16Float, 8, 1, 1},
	TexFmtR32G32:       {host.FormatRG32Float, 8, 1, 1},
	TexFmtA8R8G8B8:     {host.FormatRGBA8UNorm, 4, 1, 1},
	TexFmtA2B10G10R10:  {host.FormatRGB10A2UNorm, 4, 1, 1},
	TexFmtR16G16:       {host.FormatRG16Float, 4, 1, 1},
	TexFmtR32:          {host.FormatR32Float, 4, 1, 1},
	TexFmtG8R8:         {host.FormatRG8UNorm, 2, 1, 1},
	TexFmtR16:          {host.FormatR16Float, 2, 1, 1},
	TexFmtR8:           {host.FormatR8UNorm, 1, 1, 1},
	TexFmtBF10GF11RF11: {host.FormatRG11B10Float, 4, 1, 1},
	TexFmtDXT1:         {host.FormatBC1RGBA, 8, 4, 4},
	TexFmtDXT23:        {host.FormatBC2, 16, 4, 4},
	TexFmtDXT45:        {host.FormatBC3, 16, 4, 4},
	TexFmtDXN1:         {host.FormatBC4UNorm, 8, 4, 4},
	TexFmtDXN2:         {host.FormatBC5UNorm, 16, 4, 4},
	TexFmtBC7U:         {host.FormatBC7, 16, 4, 4},
	TexFmtS8Z24:        {host.FormatD24UNormS8, 4, 1, 1},
	TexFmtZ24S8:        {host.FormatD24UNormS8, 4, 1, 1},
	TexFmtZF32:         {host.FormatD32Float, 4, 1, 1},
	TexFmtZF32X24S8:    {host.FormatD32FloatS8, 8, 1, 1},
	TexFmtZ16:          {host.FormatD16UNorm, 2, 1, 1},
	TexFmtASTC4x4:      {host.FormatASTC4x4, 16, 4, 4},
	TexFmtASTC8x8:      {host.FormatASTC8x8, 16, 8, 8},
}

var rtFormatTable = map[RenderTargetFormat]formatProperties{
	RTFmtRGBA32Float:  {host.FormatRGBA32Float, 16, 1, 1},
	RTFmtRGBA32UInt:   {host.FormatRGBA32UInt, 16, 1, 1},
	RTFmtRGBA16Float:  {host.FormatRGBA16Float, 8, 1, 1},
	RTFmtRG32Float:    {host.FormatRG32Float, 8, 1, 1},
	RTFmtBGRA8UNorm:   {host.FormatBGRA8UNorm, 4, 1, 1},
	RTFmtBGRA8SRGB:    {host.FormatRGBA8SRGB, 4, 1, 1},
	RTFmtRGB10A2UNorm: {host.FormatRGB10A2UNorm, 4, 1, 1},
	RTFmtRGBA8UNorm:   {host.FormatRGBA8UNorm, 4, 1, 1},
	RTFmtRGBA8SRGB:    {host.FormatRGBA8SRGB, 4, 1, 1},
	RTFmtRGBA8SNorm:   {host.FormatRGBA8SNorm, 4, 1, 1},
	RTFmtRG16Float:    {host.FormatRG16Float, 4, 1, 1},
	RTFmtRG11B10Float: {host.FormatRG11B10Float, 4, 1, 1},
	RTFmtR32Float:     {host.FormatR32Float, 4, 1, 1},
	RTFmtR32UInt:      {host.FormatR32UInt, 4, 1, 1},
	RTFmtRG8UNorm:     {host.FormatRG8UNorm, 2, 1, 1},
	RTFmtR16Float:     {host.FormatR16Float, 2, 1, 1},
	RTFmtR8UNorm:      {host.FormatR8UNorm, 1, 1, 1},
}

var zetaFormatTable = map[ZetaFormat]formatProperties{
	ZetaFmtZ32Float:      {host.FormatD32Float, 4, 1, 1},
	ZetaFmtZ16:           {host.FormatD16UNorm, 2, 1, 1},
	ZetaFmtS8Z24:         {host.FormatD24UNormS8, 4, 1, 1},
	ZetaFmtZ24X8:         {host.FormatD24UNormS8, 4, 1, 1},
	ZetaFmtZ24S8:         {host.FormatD24UNormS8, 4, 1, 1},
	ZetaFmtZ32FloatS8X24: {host.FormatD32FloatS8, 8, 1, 1},
}

// isASTC reports whether the guest format needs the ASTC path.
func isASTC(f TextureFormat) bool {
	return f == TexFmtASTC4x4 || f == TexFmtASTC8x8
}
