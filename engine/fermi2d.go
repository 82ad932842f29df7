package engine

import (
	"io"
	"log/slog"

	"github.com/kentjhall/mizu-sub009/mem"
)

// Fermi2DRegCount is the size of the 2D engine's register image.
const Fermi2DRegCount = 0x100

// Fermi 2D method indices. The engine carries far more state than
// this; the copy path only reads the surface descriptors and the blit
// rectangle.
const (
	F2DRegDstFormat   = 0x80
	F2DRegDstTileMode = 0x82
	F2DRegDstWidth    = 0x86
	F2DRegDstHeight   = 0x87
	F2DRegDstAddrHigh = 0x88
	F2DRegDstAddrLow  = 0x89

	F2DRegSrcFormat   = 0x8C
	F2DRegSrcTileMode = 0x8E
	F2DRegSrcWidth    = 0x92
	F2DRegSrcHeight   = 0x93
	F2DRegSrcAddrHigh = 0x94
	F2DRegSrcAddrLow  = 0x95

	F2DRegBlitControl = 0xA0
	F2DRegBlitDstX    = 0xA1
	F2DRegBlitDstY    = 0xA2
	F2DRegBlitDstW    = 0xA3
	F2DRegBlitDstH    = 0xA4
	// Writing the fractional source origin low word triggers the copy.
	F2DRegBlitSrcYInt = 0xAD
)

// Copy2DSurface describes one side of a 2D engine copy.
type Copy2DSurface struct {
	Format   uint32
	TileMode uint32
	Width    uint32
	Height   uint32
	Address  mem.GpuAddr
}

// Copy2DRegion is a decoded blit request.
type Copy2DRegion struct {
	Src Copy2DSurface
	Dst Copy2DSurface
	// Rects are {x, y, w, h} in pixels.
	SrcRect [4]uint32
	DstRect [4]uint32
}

// SurfaceCopier receives decoded 2D copies; the texture cache
// implements it through the rasterizer.
type SurfaceCopier interface {
	Copy2D(region Copy2DRegion)
}

// Fermi2D is the 2D copy engine register file.
type Fermi2D struct {
	Regs [Fermi2DRegCount]uint32

	copier SurfaceCopier
	log    *slog.Logger
}

// NewFermi2D creates the 2D engine.
func NewFermi2D(copier SurfaceCopier, log *slog.Logger) *Fermi2D {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Fermi2D{copier: copier, log: log}
}

// Write processes one (method, value) pair on the 2D subchannel.
func (f *Fermi2D) Write(method, value uint32) {
	if method >= Fermi2DRegCount {
		f.log.Warn("engine: unknown 2d method", "method", method)
		return
	}
	f.Regs[method] = value
	if method == F2DRegBlitSrcYInt {
		f.blit()
	}
}

func (f *Fermi2D) addr64(highIdx int) mem.GpuAddr {
	return mem.GpuAddr(uint64(f.Regs[highIdx])<<32 | uint64(f.Regs[highIdx+1]))
}

func (f *Fermi2D) blit() {
	w := f.Regs[F2DRegBlitDstW]
	h := f.Regs[F2DRegBlitDstH]
	f.copier.Copy2D(Copy2DRegion{
		Src: Copy2DSurface{
			Format:   f.Regs[F2DRegSrcFormat],
			TileMode: f.Regs[F2DRegSrcTileMode],
			Width:    f.Regs[F2DRegSrcWidth],
			Height:   f.Regs[F2DRegSrcHeight],
			Address:  f.addr64(F2DRegSrcAddrHigh),
		},
		Dst: Copy2DSurface{
			Format:   f.Regs[F2DRegDstFormat],
			TileMode: f.Regs[F2DRegDstTileMode],
			Width:    f.Regs[F2DRegDstWidth],
			Height:   f.Regs[F2DRegDstHeight],
			Address:  f.addr64(F2DRegDstAddrHigh),
		},
		// The implemented path is the 1:1 blit; scaling copies keep the
		// destination extent on both sides.
		SrcRect: [4]uint32{0, 0, w, h},
		DstRect: [4]uint32{f.Regs[F2DRegBlitDstX], f.Regs[F2DRegBlitDstY], w, h},
	})
}
