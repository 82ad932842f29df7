package texture

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/btree"

	"github.com/kentjhall/mizu-sub009/engine"
	"github.com/kentjhall/mizu-sub009/host"
	"github.com/kentjhall/mizu-sub009/mem"
)

// Errors surfaced by lookups. Draws that hit them are skipped with a
// warning; nothing propagates to the guest.
var (
	ErrUnmappedSurface       = errors.New("texture: surface address not mapped")
	ErrUnsupportedFormat     = errors.New("texture: unsupported guest format")
	ErrConversionUnsupported = errors.New("texture: format conversion unsupported")
)

// uploadAlignment is the host row alignment used for transfers. Rows
// are repacked tightly on the CPU, so the strictest useful value wins.
const uploadAlignment = 4

// Cache tracks all live guest textures. A single coarse mutex covers
// the index; resolved views are used without further locking.
type Cache struct {
	dev host.Device
	mm  *mem.Manager
	log *slog.Logger

	mu       sync.Mutex
	byAddr   map[mem.GpuAddr]*Surface
	index    *btree.BTreeG[*Surface]
	retired  []*Surface
	samplers map[TSCEntry]host.Sampler

	// Fallback2D handles mismatched-format 2D copies; nil logs and
	// drops the copy. The renderer installs a shader-assisted blit.
	Fallback2D func(src, dst *Surface, srcRect, dstRect [4]uint32) bool

	nextViewID uint64
	astcNative bool
}

// NewCache creates an empty texture cache. logger may be nil.
func NewCache(dev host.Device, mm *mem.Manager, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Cache{
		dev:    dev,
		mm:     mm,
		log:    logger,
		byAddr: map[mem.GpuAddr]*Surface{},
		index: btree.NewG(8, func(a, b *Surface) bool {
			if a.CpuAddr != b.CpuAddr {
				return a.CpuAddr < b.CpuAddr
			}
			return a.GpuAddr < b.GpuAddr
		}),
		samplers:   map[TSCEntry]host.Sampler{},
		astcNative: dev.Capabilities().HasASTC,
	}
}

// GetTextureSurface resolves a TIC/TSC pair into a shader-bindable view
// and sampler.
func (c *Cache) GetTextureSurface(tic TICEntry, tsc TSCEntry) (*View, host.Sampler, error) {
	props, ok := texFormatTable[tic.Format]
	if !ok {
		return nil, nil, fmt.Errorf("%w: tex format %#x", ErrUnsupportedFormat, uint32(tic.Format))
	}
	params := Params{
		Target:          tic.hostTarget(),
		GuestFormat:     tic.Format,
		Format:          props.host,
		Width:           tic.Width,
		Height:          tic.Height,
		Depth:           tic.Depth,
		Levels:          tic.MaxLevel + 1,
		Samples:         1,
		Pitch:           tic.Pitch,
		BlockHeightLog2: tic.BlockHeightLog2,
		bytesPerEl:      props.bytesPerEl,
		blockW:          props.blockW,
		blockH:          props.blockH,
	}
	if tic.SRGB && props.host == host.FormatRGBA8UNorm {
		params.Format = host.FormatRGBA8SRGB
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.getSurfaceLocked(tic.Address, params, false)
	if err != nil {
		return nil, nil, err
	}
	view, err := c.viewLocked(s, ViewParams{
		Target:    params.Target,
		Format:    s.Params.Format,
		BaseLevel: 0,
		Levels:    params.Levels,
		BaseLayer: 0,
		Layers:    layerCount(params),
		Swizzle:   tic.Swizzle,
	})
	if err != nil {
		return nil, nil, err
	}
	return view, c.samplerLocked(tsc), nil
}

// GetColorSurface resolves render target slot rt into a view sized to
// the current register state. Attachment marks the surface as written
// even before a shader touches it.
func (c *Cache) GetColorSurface(rt engine.RenderTarget, isClear bool) (*View, error) {
	if rt.Format == 0 || rt.Address == 0 {
		return nil, nil
	}
	props, ok := rtFormatTable[RenderTargetFormat(rt.Format)]
	if !ok {
		return nil, fmt.Errorf("%w: rt format %#x", ErrUnsupportedFormat, rt.Format)
	}
	params := Params{
		Target:          host.Target2D,
		Format:          props.host,
		Width:           rt.Width,
		Height:          rt.Height,
		Depth:           1,
		Levels:          1,
		Samples:         1,
		Pitch:           rt.TileMode&0xF000 != 0,
		BlockHeightLog2: rt.TileMode & 0x7,
		bytesPerEl:      props.bytesPerEl,
		blockW:          1,
		blockH:          1,
	}
	return c.targetViewFor(rt.Address, params, isClear)
}

// GetDepthSurface resolves the depth-stencil target.
func (c *Cache) GetDepthSurface(zeta engine.Zeta, isClear bool) (*View, error) {
	if !zeta.Enabled || zeta.Address == 0 {
		return nil, nil
	}
	props, ok := zetaFormatTable[ZetaFormat(zeta.Format)]
	if !ok {
		return nil, fmt.Errorf("%w: zeta format %#x", ErrUnsupportedFormat, zeta.Format)
	}
	params := Params{
		Target:          host.Target2D,
		Format:          props.host,
		Width:           zeta.Width,
		Height:          zeta.Height,
		Depth:           1,
		Levels:          1,
		Samples:         1,
		BlockHeightLog2: zeta.TileMode & 0x7,
		bytesPerEl:      props.bytesPerEl,
		blockW:          1,
		blockH:          1,
	}
	return c.targetViewFor(zeta.Address, params, isClear)
}

func (c *Cache) targetViewFor(addr mem.GpuAddr, params Params, isClear bool) (*View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.getSurfaceLocked(addr, params, isClear)
	if err != nil {
		return nil, err
	}
	s.renderTarget = true
	s.modified = true
	return c.viewLocked(s, ViewParams{
		Target:  params.Target,
		Format:  s.Params.Format,
		Levels:  1,
		Layers:  1,
		Swizzle: [4]host.SwizzleSource{host.SwizzleR, host.SwizzleG, host.SwizzleB, host.SwizzleA},
	})
}

// getSurfaceLocked finds or creates the surface at addr. A clear does
// not need the old guest contents uploaded.
func (c *Cache) getSurfaceLocked(addr mem.GpuAddr, params Params, skipUpload bool) (*Surface, error) {
	if s, ok := c.byAddr[addr]; ok {
		if !s.marked && surfaceCompatible(&s.Params, &params) {
			if s.dirty {
				if err := c.upload(s); err != nil {
					return nil, err
				}
			}
			return s, nil
		}
		// Either the surface was invalidated or the guest recycled the
		// memory under a different identity. Unlink it now so the new
		// surface owns the address; the host objects may still back an
		// in-flight draw, so their deletion waits for the next sweep.
		c.retireLocked(s)
	}

	cpu, ok := c.mm.GpuToCpu(addr)
	if !ok {
		return nil, ErrUnmappedSurface
	}

	desc := host.TextureDesc{
		Target:  params.Target,
		Format:  params.Format,
		Width:   params.Width,
		Height:  params.Height,
		Depth:   params.Depth,
		Levels:  params.Levels,
		Samples: params.Samples,
	}
	converted := false
	if isASTC(params.GuestFormat) && !c.astcNative {
		desc.Format = host.FormatRGBA8UNorm
		converted = true
	}
	tex, err := c.dev.CreateTexture(desc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConversionUnsupported, err)
	}

	s := &Surface{
		GpuAddr:   addr,
		CpuAddr:   cpu,
		Params:    params,
		tex:       tex,
		views:     map[ViewParams]*View{},
		converted: converted,
	}
	if converted {
		s.Params.Format = host.FormatRGBA8UNorm
	}
	c.byAddr[addr] = s
	c.index.ReplaceOrInsert(s)

	if !skipUpload {
		if err := c.upload(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// surfaceCompatible reports whether a cached surface can serve a lookup
// with the given params. Format reinterpretation goes through views;
// extent or layout changes rebuild the surface.
func surfaceCompatible(have, want *Params) bool {
	return have.Target == want.Target &&
		have.GuestFormat == want.GuestFormat &&
		have.Width == want.Width &&
		have.Height == want.Height &&
		have.Depth == want.Depth &&
		have.Levels >= want.Levels &&
		have.Pitch == want.Pitch
}

func layerCount(p Params) uint32 {
	switch p.Target {
	case host.Target2DArray, host.TargetCube, host.TargetCubeArray, host.Target1DArray:
		return p.Depth
	}
	return 1
}

// viewLocked memoizes a subresource view on its surface. Bit-identical
// ViewParams share the host view.
func (c *Cache) viewLocked(s *Surface, vp ViewParams) (*View, error) {
	if v, ok := s.views[vp]; ok {
		return v, nil
	}
	hv := s.tex.CreateView(host.ViewDesc{
		Target:    vp.Target,
		Format:    vp.Format,
		BaseLevel: vp.BaseLevel,
		Levels:    vp.Levels,
		BaseLayer: vp.BaseLayer,
		Layers:    vp.Layers,
		Swizzle:   vp.Swizzle,
	})
	c.nextViewID++
	v := &View{ID: c.nextViewID, Params: vp, surface: s, view: hv}
	s.views[vp] = v
	return v, nil
}

func (c *Cache) samplerLocked(tsc TSCEntry) host.Sampler {
	if s, ok := c.samplers[tsc]; ok {
		return s
	}
	s := c.dev.CreateSampler(tsc.SamplerDesc())
	c.samplers[tsc] = s
	return s
}

// upload copies guest memory into host storage, deswizzling and
// converting as the layout demands.
func (c *Cache) upload(s *Surface) error {
	p := &s.Params
	layers := layerCount(*p)
	gpu := s.GpuAddr

	for layer := uint32(0); layer < layers; layer++ {
		for level := uint32(0); level < p.Levels; level++ {
			w, h := p.levelExtent(level)
			widthBytes := p.levelWidthBytes(level)
			rows := p.levelBlockRows(level)
			guestSize := p.guestLevelSize(level)

			raw := make([]byte, guestSize)
			c.mm.ReadBlockUnsafe(gpu, raw)
			gpu += mem.GpuAddr(guestSize)

			linear := raw
			if !p.Pitch {
				linear = make([]byte, widthBytes*rows)
				UnswizzleLevel(linear, raw, widthBytes, rows, p.BlockHeightLog2)
			}

			up := host.UploadParams{
				Level:     level,
				Z:         layer,
				Width:     w,
				Height:    h,
				Depth:     1,
				Alignment: uploadAlignment,
			}
			if p.Target == host.Target3D {
				up.Z = 0
				up.Depth = p.Depth
			}
			switch {
			case isASTC(p.GuestFormat) && s.converted:
				dec := newASTCDecoder(p.GuestFormat, c.log)
				s.tex.Upload(up, dec.decode(linear, w, h))
			case p.Format.IsCompressed():
				s.tex.UploadCompressed(up, uint32(len(linear)), linear)
			default:
				s.tex.Upload(up, linear)
			}
		}
	}
	s.dirty = false
	s.generation++
	return nil
}

// download writes host storage back into guest memory. Converted
// surfaces cannot be re-encoded; they are skipped with a warning.
func (c *Cache) download(s *Surface) {
	if s.converted {
		c.log.Warn("texture: skipping download of converted surface",
			"gpu_addr", uint64(s.GpuAddr))
		return
	}
	p := &s.Params
	layers := layerCount(*p)
	gpu := s.GpuAddr

	for layer := uint32(0); layer < layers; layer++ {
		for level := uint32(0); level < p.Levels; level++ {
			w, h := p.levelExtent(level)
			widthBytes := p.levelWidthBytes(level)
			rows := p.levelBlockRows(level)
			guestSize := p.guestLevelSize(level)

			linear := make([]byte, widthBytes*rows)
			s.tex.Download(host.UploadParams{
				Level:     level,
				Z:         layer,
				Width:     w,
				Height:    h,
				Depth:     1,
				Alignment: uploadAlignment,
			}, linear)

			out := linear
			if !p.Pitch {
				out = make([]byte, guestSize)
				SwizzleLevel(out, linear, widthBytes, rows, p.BlockHeightLog2)
			}
			c.mm.WriteBlock(gpu, out)
			gpu += mem.GpuAddr(guestSize)
		}
	}
	s.modified = false
}

// Copy2D performs a Fermi-2D style surface copy. Matching host formats
// copy on the GPU; anything else goes through the fallback hook.
func (c *Cache) Copy2D(src, dst *Surface, srcRect, dstRect [4]uint32) {
	if src.Params.Format == dst.Params.Format &&
		srcRect[2] == dstRect[2] && srcRect[3] == dstRect[3] {
		src.tex.CopyTo(dst.tex,
			0, srcRect[0], srcRect[1], 0,
			0, dstRect[0], dstRect[1], 0,
			srcRect[2], srcRect[3], 1)
		dst.modified = true
		return
	}
	if c.Fallback2D != nil && c.Fallback2D(src, dst, srcRect, dstRect) {
		dst.modified = true
		return
	}
	c.log.Warn("texture: unsupported 2D copy dropped",
		"src_format", src.Params.Format, "dst_format", dst.Params.Format)
}

// SurfaceAt returns the surface at the exact GPU address, for the 2D
// copy engine.
func (c *Cache) SurfaceAt(addr mem.GpuAddr) *Surface {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.byAddr[addr]
	if s != nil && s.marked {
		return nil
	}
	return s
}

// FlushRegion downloads every modified surface overlapping
// [addr, addr+size) before returning.
func (c *Cache) FlushRegion(addr mem.CpuAddr, size uint64) {
	c.mu.Lock()
	var flush []*Surface
	c.ascendOverlap(addr, size, func(s *Surface) {
		if s.modified && !s.marked {
			flush = append(flush, s)
		}
	})
	c.mu.Unlock()

	for _, s := range flush {
		c.download(s)
	}
}

// InvalidateRegion marks every overlapping surface for removal. Marked
// surfaces may still be referenced by in-flight draws; Sweep retires
// them after the next fence.
func (c *Cache) InvalidateRegion(addr mem.CpuAddr, size uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ascendOverlap(addr, size, func(s *Surface) {
		s.marked = true
	})
}

// Sweep unlinks marked surfaces and returns a release closure to run
// after the current fence signals. Surfaces already displaced by a
// same-address rebuild ride along in the same closure.
func (c *Cache) Sweep() func() {
	c.mu.Lock()
	var marked []*Surface
	c.index.Ascend(func(s *Surface) bool {
		if s.marked {
			marked = append(marked, s)
		}
		return true
	})
	for _, s := range marked {
		c.removeLocked(s)
	}
	retired := append(c.retired, marked...)
	c.retired = nil
	c.mu.Unlock()

	if len(retired) == 0 {
		return nil
	}
	return func() {
		for _, s := range retired {
			for _, v := range s.views {
				v.view.Delete()
			}
			s.tex.Delete()
		}
	}
}

// Len reports the number of live surfaces.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.Len()
}

func (c *Cache) removeLocked(s *Surface) {
	delete(c.byAddr, s.GpuAddr)
	c.index.Delete(s)
}

// retireLocked unlinks a surface and queues its host objects for the
// next sweep's release closure.
func (c *Cache) retireLocked(s *Surface) {
	c.removeLocked(s)
	c.retired = append(c.retired, s)
}

// ascendOverlap visits every surface overlapping [addr, addr+size).
// Surfaces are ordered by CpuAddr, but a surface starting before addr
// can still overlap, so the walk backs up by the largest footprint seen.
func (c *Cache) ascendOverlap(addr mem.CpuAddr, size uint64, fn func(*Surface)) {
	c.index.Ascend(func(s *Surface) bool {
		if s.CpuAddr >= addr+mem.CpuAddr(size) {
			return false
		}
		if s.overlaps(addr, size) {
			fn(s)
		}
		return true
	})
}
