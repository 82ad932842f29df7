// Package buffer maps guest GPU memory regions to host buffer objects
// and serves every buffer-flavored binding: vertex streams, index
// data, uniform and storage blocks, transform feedback targets, and
// texel buffers. Short-lived uniform uploads stream through a
// persistent-mapped ring instead of dedicated objects.
package buffer

import (
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/google/btree"

	"github.com/kentjhall/mizu-sub009/host"
	"github.com/kentjhall/mizu-sub009/mem"
)

// ErrUnmapped reports a binding whose GPU address has no CPU backing.
var ErrUnmapped = errors.New("buffer: address not mapped")

// Uploads at or below this size that meet the host alignment stream
// through the ring buffer; anything larger gets a cached block.
const streamThreshold = 16 << 10

// streamBufferSize is sized to hold several frames of uniform churn so
// a wrap never lands on data the GPU still reads.
const streamBufferSize = 32 << 20

// blockAlignment pads cached blocks so repeated nearby lookups land in
// one block instead of fragmenting.
const blockAlignment = 0x1000

// Block is one live host buffer covering a contiguous guest region.
type Block struct {
	CpuAddr mem.CpuAddr
	Size    uint64

	buf        host.Buffer
	generation uint64

	dirty   bool // guest memory newer than host copy
	written bool // host copy newer than guest memory
	marked  bool
}

// Buffer returns the host buffer object.
func (b *Block) Buffer() host.Buffer { return b.buf }

// Generation returns the merge generation counter. A merged block's
// generation exceeds the maximum of its sources.
func (b *Block) Generation() uint64 { return b.generation }

func (b *Block) end() mem.CpuAddr { return b.CpuAddr + mem.CpuAddr(b.Size) }

func (b *Block) contains(addr mem.CpuAddr, size uint64) bool {
	return addr >= b.CpuAddr && addr+mem.CpuAddr(size) <= b.end()
}

func (b *Block) overlaps(addr mem.CpuAddr, size uint64) bool {
	return b.CpuAddr < addr+mem.CpuAddr(size) && addr < b.end()
}

// Binding is a resolved (buffer, range) pair ready for the host bind
// call.
type Binding struct {
	Buf    host.Buffer
	Offset uint64
	Size   uint64
}

// GpuAddress returns the bindless address of the range, or 0 when the
// unified-memory extensions are absent.
func (bd Binding) GpuAddress() uint64 {
	if a := bd.Buf.GpuAddress(); a != 0 {
		return a + bd.Offset
	}
	return 0
}

// texViewKey memoizes texel buffer views.
type texViewKey struct {
	block  *Block
	offset uint64
	size   uint64
	format host.PixelFormat
}

// Cache owns all live guest buffers. One coarse mutex covers the
// index; hot binding paths use the resolved handles without locking.
type Cache struct {
	dev host.Device
	mm  *mem.Manager
	log *slog.Logger

	mu      sync.Mutex
	index   *btree.BTreeG[*Block]
	stream  host.StreamBuffer
	retired []*Block
	views   map[texViewKey]host.TextureView

	unified      bool
	uniformAlign uint64
}

// NewCache creates an empty buffer cache. logger may be nil.
func NewCache(dev host.Device, mm *mem.Manager, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	caps := dev.Capabilities()
	align := uint64(caps.UniformBufferAlignment)
	if align == 0 {
		align = 256
	}
	return &Cache{
		dev: dev,
		mm:  mm,
		log: logger,
		index: btree.NewG(8, func(a, b *Block) bool {
			return a.CpuAddr < b.CpuAddr
		}),
		stream:       dev.CreateStreamBuffer(streamBufferSize),
		views:        map[texViewKey]host.TextureView{},
		unified:      caps.HasVertexBufferUnified,
		uniformAlign: align,
	}
}

// Get resolves [gpu, gpu+size) to a host buffer range with current
// guest contents uploaded.
func (c *Cache) Get(gpu mem.GpuAddr, size uint64) (Binding, error) {
	return c.get(gpu, size, false)
}

// GetWritable is Get for ranges the GPU will write; the block is
// flagged so FlushRegion downloads it.
func (c *Cache) GetWritable(gpu mem.GpuAddr, size uint64) (Binding, error) {
	return c.get(gpu, size, true)
}

func (c *Cache) get(gpu mem.GpuAddr, size uint64, writable bool) (Binding, error) {
	cpu, ok := c.mm.GpuToCpu(gpu)
	if !ok {
		return Binding{}, ErrUnmapped
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	block := c.blockForLocked(cpu, size)
	if block.dirty {
		c.uploadLocked(block)
	}
	if writable {
		block.written = true
	}
	return Binding{
		Buf:    block.buf,
		Offset: uint64(cpu - block.CpuAddr),
		Size:   size,
	}, nil
}

// blockForLocked finds a covering block, merging overlapping ones when
// the requested range spans several.
func (c *Cache) blockForLocked(cpu mem.CpuAddr, size uint64) *Block {
	var overlapping []*Block
	c.ascendOverlapLocked(cpu, size, func(b *Block) {
		overlapping = append(overlapping, b)
	})

	if len(overlapping) == 1 && overlapping[0].contains(cpu, size) {
		return overlapping[0]
	}

	// Merge: the new block covers the union of the request and every
	// overlapping block, padded to the block alignment.
	start := cpu &^ (blockAlignment - 1)
	end := (cpu + mem.CpuAddr(size) + blockAlignment - 1) &^ (blockAlignment - 1)
	var maxGen uint64
	for _, b := range overlapping {
		if b.CpuAddr < start {
			start = b.CpuAddr
		}
		if b.end() > end {
			end = b.end()
		}
		if b.generation > maxGen {
			maxGen = b.generation
		}
	}

	merged := &Block{
		CpuAddr:    start,
		Size:       uint64(end - start),
		buf:        c.dev.CreateBuffer(uint64(end - start)),
		generation: maxGen + 1,
		dirty:      true,
	}

	for _, b := range overlapping {
		// Host-written data must not be lost to the re-upload; push it
		// to guest memory first so the merged upload sees it.
		if b.written {
			c.downloadLocked(b)
			merged.written = true
		}
		c.index.Delete(b)
		b.marked = true
		c.retired = append(c.retired, b)
	}
	c.index.ReplaceOrInsert(merged)
	c.uploadLocked(merged)
	return merged
}

func (c *Cache) uploadLocked(b *Block) {
	data := make([]byte, b.Size)
	c.mm.ReadBlockCpu(b.CpuAddr, data)
	b.buf.Upload(0, data)
	b.dirty = false
	b.generation++
}

func (c *Cache) downloadLocked(b *Block) {
	data := make([]byte, b.Size)
	b.buf.Download(0, data)
	c.mm.WriteBlockCpu(b.CpuAddr, data)
	b.written = false
}

// StreamUpload copies size bytes of guest memory into the stream ring
// and returns the ring binding. The caller has checked the fast-path
// conditions.
func (c *Cache) StreamUpload(gpu mem.GpuAddr, size uint64) (Binding, error) {
	cpu, ok := c.mm.GpuToCpu(gpu)
	if !ok {
		return Binding{}, ErrUnmapped
	}
	window, off := c.stream.Alloc(size, c.uniformAlign)
	c.mm.ReadBlockCpu(cpu, window)
	return Binding{Buf: c.stream.Buffer(), Offset: off, Size: size}, nil
}

// UniformEligible reports whether a uniform upload takes the stream
// path: small and host-alignment compatible.
func (c *Cache) UniformEligible(gpu mem.GpuAddr, size uint64) bool {
	return size <= streamThreshold && uint64(gpu)%4 == 0
}

// FlushRegion downloads every host-written block overlapping
// [addr, addr+size) back into guest memory before returning.
func (c *Cache) FlushRegion(addr mem.CpuAddr, size uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ascendOverlapLocked(addr, size, func(b *Block) {
		if b.written {
			c.downloadLocked(b)
		}
	})
}

// InvalidateRegion marks overlapping blocks dirty so their next use
// re-uploads guest memory.
func (c *Cache) InvalidateRegion(addr mem.CpuAddr, size uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ascendOverlapLocked(addr, size, func(b *Block) {
		b.dirty = true
	})
}

// UnmapRegion removes blocks overlapping an unmapped range. Their host
// objects retire at the next Sweep.
func (c *Cache) UnmapRegion(addr mem.CpuAddr, size uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var gone []*Block
	c.ascendOverlapLocked(addr, size, func(b *Block) {
		gone = append(gone, b)
	})
	for _, b := range gone {
		c.index.Delete(b)
		b.marked = true
		c.retired = append(c.retired, b)
	}
}

// Sweep returns a release closure deleting retired host buffers, to
// run after the current fence signals. Texel views over retired blocks
// go with them.
func (c *Cache) Sweep() func() {
	c.mu.Lock()
	retired := c.retired
	c.retired = nil
	var views []host.TextureView
	for key, v := range c.views {
		if key.block.marked {
			views = append(views, v)
			delete(c.views, key)
		}
	}
	c.mu.Unlock()

	if len(retired) == 0 && len(views) == 0 {
		return nil
	}
	return func() {
		for _, v := range views {
			v.Delete()
		}
		for _, b := range retired {
			b.buf.Delete()
		}
	}
}

// Len reports the number of live blocks.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.Len()
}

// BlockAt returns the block containing addr, for tests.
func (c *Cache) BlockAt(addr mem.CpuAddr) *Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	var found *Block
	c.ascendOverlapLocked(addr, 1, func(b *Block) { found = b })
	return found
}

// ascendOverlapLocked visits blocks overlapping [addr, addr+size) in
// address order. Blocks never overlap each other, so starting from the
// first block ending past addr is exact.
func (c *Cache) ascendOverlapLocked(addr mem.CpuAddr, size uint64, fn func(*Block)) {
	var hit []*Block
	c.index.Ascend(func(b *Block) bool {
		if b.CpuAddr >= addr+mem.CpuAddr(size) {
			return false
		}
		if b.overlaps(addr, size) {
			hit = append(hit, b)
		}
		return true
	})
	for _, b := range hit {
		fn(b)
	}
}

// TexelView returns a memoized texture view over a buffer range.
// SNORM formats are emulated by their UNORM counterparts; the shader
// side rescales.
func (c *Cache) TexelView(gpu mem.GpuAddr, size uint64, format host.PixelFormat) (host.TextureView, error) {
	cpu, ok := c.mm.GpuToCpu(gpu)
	if !ok {
		return nil, ErrUnmapped
	}
	format = snormToUnorm(format)

	c.mu.Lock()
	defer c.mu.Unlock()
	block := c.blockForLocked(cpu, size)
	if block.dirty {
		c.uploadLocked(block)
	}
	key := texViewKey{block: block, offset: uint64(cpu - block.CpuAddr), size: size, format: format}
	if v, ok := c.views[key]; ok {
		return v, nil
	}
	v, err := c.dev.CreateBufferTexture(block.buf, format, key.offset, size)
	if err != nil {
		return nil, err
	}
	c.views[key] = v
	return v, nil
}

func snormToUnorm(f host.PixelFormat) host.PixelFormat {
	switch f {
	case host.FormatR8SNorm:
		return host.FormatR8UNorm
	case host.FormatRG8SNorm:
		return host.FormatRG8UNorm
	case host.FormatRGBA8SNorm:
		return host.FormatRGBA8UNorm
	}
	return f
}
