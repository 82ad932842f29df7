package texture

import (
	"math"

	"github.com/kentjhall/mizu-sub009/host"
	"github.com/kentjhall/mizu-sub009/mem"
)

func f32(bits uint32) float32 { return math.Float32frombits(bits) }

// Params fixes everything that determines a surface's host storage.
// Two lookups with equal Params at the same address share the surface.
type Params struct {
	Target      host.TextureTarget
	GuestFormat TextureFormat
	Format      host.PixelFormat

	Width   uint32
	Height  uint32
	Depth   uint32 // depth or layer count
	Levels  uint32
	Samples uint32

	Pitch           bool
	BlockHeightLog2 uint32

	bytesPerEl uint32
	blockW     uint32
	blockH     uint32
}

// levelExtent returns the mip level's dimensions.
func (p *Params) levelExtent(level uint32) (w, h uint32) {
	w = max(p.Width>>level, 1)
	h = max(p.Height>>level, 1)
	return w, h
}

// levelWidthBytes returns the row byte length of a level after format
// block compression.
func (p *Params) levelWidthBytes(level uint32) uint32 {
	w, _ := p.levelExtent(level)
	return (w + p.blockW - 1) / p.blockW * p.bytesPerEl
}

// levelBlockRows returns the number of block rows in a level.
func (p *Params) levelBlockRows(level uint32) uint32 {
	_, h := p.levelExtent(level)
	return (h + p.blockH - 1) / p.blockH
}

// guestLevelSize returns the byte size of one level in guest memory,
// including block-linear padding.
func (p *Params) guestLevelSize(level uint32) uint32 {
	wb := p.levelWidthBytes(level)
	rows := p.levelBlockRows(level)
	if p.Pitch {
		return wb * rows
	}
	return BlockLinearSize(wb, rows, p.BlockHeightLog2)
}

// GuestSizeBytes returns the total guest footprint of the surface.
func (p *Params) GuestSizeBytes() uint64 {
	var total uint64
	layers := uint32(1)
	if p.Target == host.Target2DArray || p.Target == host.TargetCube ||
		p.Target == host.TargetCubeArray || p.Target == host.Target1DArray {
		layers = p.Depth
	}
	for level := uint32(0); level < p.Levels; level++ {
		total += uint64(p.guestLevelSize(level))
	}
	return total * uint64(layers)
}

// ViewParams selects a subresource and swizzle of a surface. Equality
// is bitwise; views with equal params share the host view object.
type ViewParams struct {
	Target    host.TextureTarget
	Format    host.PixelFormat
	BaseLevel uint32
	Levels    uint32
	BaseLayer uint32
	Layers    uint32
	Swizzle   [4]host.SwizzleSource
}

// View is a memoized subresource view of a surface. The surface owns
// the host objects; views hold non-owning references resolved by
// lookup.
type View struct {
	// ID is unique across the cache's lifetime, giving framebuffer keys
	// a stable hashable identity.
	ID uint64

	Params ViewParams

	surface *Surface
	view    host.TextureView
}

// Surface returns the owning surface.
func (v *View) Surface() *Surface { return v.surface }

// Host returns the host texture view.
func (v *View) Host() host.TextureView { return v.view }

// Surface is one live guest texture mapped to host storage.
type Surface struct {
	GpuAddr mem.GpuAddr
	CpuAddr mem.CpuAddr
	Params  Params

	tex   host.Texture
	views map[ViewParams]*View

	// generation increments on every reupload so bound views can detect
	// stale data.
	generation uint64

	// converted records an upload-time format conversion (ASTC to
	// RGBA8); downloads must invert or skip it.
	converted bool

	// renderTarget marks surfaces attached to the framebuffer. A shader
	// that nominally does not write them is still treated as a writer.
	renderTarget bool

	modified bool // host copy newer than guest memory
	dirty    bool // guest memory newer than host copy
	marked   bool // pending removal at the next sweep
}

// Texture returns the host texture storage.
func (s *Surface) Texture() host.Texture { return s.tex }

// Generation returns the upload generation counter.
func (s *Surface) Generation() uint64 { return s.generation }

// Converted reports whether uploads go through a CPU format conversion.
func (s *Surface) Converted() bool { return s.converted }

// MarkModified flags the host copy as newer than guest memory, so a
// FlushRegion over the surface downloads it.
func (s *Surface) MarkModified() { s.modified = true }

// Retired reports whether the surface is marked for removal at the next
// sweep. Framebuffer keys referencing it must be dropped.
func (s *Surface) Retired() bool { return s.marked }

// end returns the exclusive CPU end address of the surface.
func (s *Surface) end() mem.CpuAddr {
	return s.CpuAddr + mem.CpuAddr(s.Params.GuestSizeBytes())
}

// overlaps reports whether the surface intersects [addr, addr+size).
func (s *Surface) overlaps(addr mem.CpuAddr, size uint64) bool {
	return s.CpuAddr < addr+mem.CpuAddr(size) && addr < s.end()
}
