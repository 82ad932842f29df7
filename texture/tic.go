// Package texture maps guest GPU memory regions to host texture
// objects. It decodes TIC/TSC descriptors, converts the guest tiled
// layouts and formats into host storage, memoizes views on their
// surfaces, and serves render-target attachment and 2D copies. The
// cache keys on CpuAddr for invalidation and on GpuAddr for lookup.
package texture

import (
	"github.com/kentjhall/mizu-sub009/host"
	"github.com/kentjhall/mizu-sub009/mem"
)

// TICTarget is the texture dimensionality field of a TIC entry.
type TICTarget uint32

// TIC target values.
const (
	TIC1D        TICTarget = 0
	TIC2D        TICTarget = 1
	TIC3D        TICTarget = 2
	TICCube      TICTarget = 3
	TIC1DArray   TICTarget = 4
	TIC2DArray   TICTarget = 5
	TIC1DBuffer  TICTarget = 6
	TIC2DNoMip   TICTarget = 8
	TICCubeArray TICTarget = 9
)

// TICEntry is a decoded 32-byte Texture Information Control descriptor.
type TICEntry struct {
	Format          TextureFormat
	RType           ComponentType
	GType           ComponentType
	BType           ComponentType
	AType           ComponentType
	Swizzle         [4]host.SwizzleSource
	Address         mem.GpuAddr
	Target          TICTarget
	Pitch           bool // pitch-linear layout instead of block linear
	BlockHeightLog2 uint32
	BlockDepthLog2  uint32
	Width           uint32
	Height          uint32
	Depth           uint32
	MaxLevel        uint32
	SRGB            bool
}

// swizzleSourceTable maps the 3-bit TIC swizzle field.
var swizzleSourceTable = [8]host.SwizzleSource{
	0: host.SwizzleZero,
	2: host.SwizzleR,
	3: host.SwizzleG,
	4: host.SwizzleB,
	5: host.SwizzleA,
	6: host.SwizzleZero,
	7: host.SwizzleOne,
}

// DecodeTIC decodes the eight descriptor words of a TIC entry.
func DecodeTIC(w [8]uint32) TICEntry {
	e := TICEntry{
		Format: TextureFormat(w[0] & 0x7F),
		RType:  ComponentType((w[0] >> 7) & 0x7),
		GType:  ComponentType((w[0] >> 10) & 0x7),
		BType:  ComponentType((w[0] >> 13) & 0x7),
		AType:  ComponentType((w[0] >> 16) & 0x7),
	}
	e.Swizzle = [4]host.SwizzleSource{
		swizzleSourceTable[(w[0]>>19)&0x7],
		swizzleSourceTable[(w[0]>>22)&0x7],
		swizzleSourceTable[(w[0]>>25)&0x7],
		swizzleSourceTable[(w[0]>>28)&0x7],
	}
	e.Address = mem.GpuAddr(uint64(w[2]&0xFFFF)<<32 | uint64(w[1]))
	// Header version: 1 = pitch linear, 3 = block linear.
	e.Pitch = (w[2]>>21)&0x7 == 1
	e.BlockHeightLog2 = (w[3] >> 3) & 0x7
	e.BlockDepthLog2 = (w[3] >> 6) & 0x7
	e.Width = (w[4] & 0xFFFF) + 1
	e.Target = TICTarget((w[4] >> 23) & 0xF)
	e.Height = (w[5] & 0xFFFF) + 1
	e.Depth = ((w[5] >> 16) & 0x3FFF) + 1
	e.MaxLevel = (w[7] >> 28) & 0xF
	e.SRGB = w[4]&(1<<22) != 0
	return e
}

// EncodeTIC is the inverse of DecodeTIC, for tests and tooling.
func EncodeTIC(e TICEntry) [8]uint32 {
	var w [8]uint32
	w[0] = uint32(e.Format) | uint32(e.RType)<<7 | uint32(e.GType)<<10 |
		uint32(e.BType)<<13 | uint32(e.AType)<<16
	for i, s := range e.Swizzle {
		w[0] |= encodeSwizzle(s) << (19 + 3*uint(i))
	}
	w[1] = uint32(e.Address)
	w[2] = uint32(uint64(e.Address) >> 32)
	if e.Pitch {
		w[2] |= 1 << 21
	} else {
		w[2] |= 3 << 21
	}
	w[3] = e.BlockHeightLog2<<3 | e.BlockDepthLog2<<6
	w[4] = (e.Width - 1) | uint32(e.Target)<<23
	if e.SRGB {
		w[4] |= 1 << 22
	}
	w[5] = (e.Height - 1) | (e.Depth-1)<<16
	w[7] = e.MaxLevel << 28
	return w
}

func encodeSwizzle(s host.SwizzleSource) uint32 {
	switch s {
	case host.SwizzleR:
		return 2
	case host.SwizzleG:
		return 3
	case host.SwizzleB:
		return 4
	case host.SwizzleA:
		return 5
	case host.SwizzleOne:
		return 7
	}
	return 0
}

// TSCEntry is a decoded Texture Sampler Control descriptor.
type TSCEntry struct {
	WrapU        host.Wrap
	WrapV        host.Wrap
	WrapW        host.Wrap
	DepthCompare bool
	CompareFunc  host.CompareOp
	Anisotropy   float32
	MagLinear    bool
	MinLinear    bool
	MipLinear    bool
	MipEnabled   bool
	LODBias      float32
	MinLOD       float32
	MaxLOD       float32
	BorderColor  [4]float32
}

var wrapTable = [8]host.Wrap{
	0: host.WrapRepeat,
	1: host.WrapMirror,
	2: host.WrapClampEdge,
	3: host.WrapClampBorder,
	4: host.WrapClampEdge, // clamp (deprecated GL semantics): edge is closest
	5: host.WrapMirrorOnce,
	6: host.WrapMirrorOnce,
	7: host.WrapMirrorOnce,
}

// DecodeTSC decodes the first four words of a TSC entry; the trailing
// four hold the border color.
func DecodeTSC(w [8]uint32) TSCEntry {
	e := TSCEntry{
		WrapU:        wrapTable[w[0]&0x7],
		WrapV:        wrapTable[(w[0]>>3)&0x7],
		WrapW:        wrapTable[(w[0]>>6)&0x7],
		DepthCompare: w[0]&(1<<9) != 0,
		CompareFunc:  host.CompareOp((w[0] >> 10) & 0x7),
		Anisotropy:   float32(uint32(1) << ((w[0] >> 20) & 0x7)),
		MagLinear:    (w[1]>>0)&0x3 == 2,
		MinLinear:    (w[1]>>4)&0x3 == 2,
	}
	mip := (w[1] >> 6) & 0x3
	e.MipEnabled = mip != 1
	e.MipLinear = mip == 3
	// 13-bit fixed point, 5 fractional bits, sign bit 12.
	bias := w[1] >> 12 & 0x1FFF
	if bias&(1<<12) != 0 {
		e.LODBias = -float32((1<<13)-bias) / 256
	} else {
		e.LODBias = float32(bias) / 256
	}
	e.MinLOD = float32(w[2]&0xFFF) / 256
	e.MaxLOD = float32((w[2]>>12)&0xFFF) / 256
	for i := range e.BorderColor {
		e.BorderColor[i] = f32(w[4+i])
	}
	return e
}

// SamplerDesc converts the entry into the host sampler description.
func (e TSCEntry) SamplerDesc() host.SamplerDesc {
	return host.SamplerDesc{
		MagLinear:    e.MagLinear,
		MinLinear:    e.MinLinear,
		MipLinear:    e.MipLinear,
		MipEnabled:   e.MipEnabled,
		WrapU:        e.WrapU,
		WrapV:        e.WrapV,
		WrapW:        e.WrapW,
		DepthCompare: e.DepthCompare,
		CompareFunc:  e.CompareFunc,
		Anisotropy:   e.Anisotropy,
		MinLOD:       e.MinLOD,
		MaxLOD:       e.MaxLOD,
		LODBias:      e.LODBias,
		BorderColor:  e.BorderColor,
	}
}

// hostTarget maps the TIC target to the host texture target.
func (e TICEntry) hostTarget() host.TextureTarget {
	switch e.Target {
	case TIC1D:
		return host.Target1D
	case TIC1DArray:
		return host.Target1DArray
	case TIC3D:
		return host.Target3D
	case TICCube:
		return host.TargetCube
	case TIC2DArray:
		return host.Target2DArray
	case TICCubeArray:
		return host.TargetCubeArray
	case TIC1DBuffer:
		return host.TargetBuffer
	}
	return host.Target2D
}
