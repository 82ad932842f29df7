package buffer

import (
	"bytes"
	"testing"

	"github.com/kentjhall/mizu-sub009/host"
	"github.com/kentjhall/mizu-sub009/host/hosttest"
	"github.com/kentjhall/mizu-sub009/mem"
)

func newTestCache(t *testing.T) (*Cache, *hosttest.Device, *mem.Manager) {
	t.Helper()
	dev := hosttest.New()
	flat := mem.NewFlat(1 << 20)
	mm := mem.NewManager(flat, nil)
	mm.Map(0, 0, 1<<20)
	return NewCache(dev, mm, nil), dev, mm
}

func pattern(n int, seed byte) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = seed + byte(i)
	}
	return data
}

// hostBytes reads the fake buffer's backing store.
func hostBytes(t *testing.T, buf host.Buffer) []byte {
	t.Helper()
	b, ok := buf.(interface{ Bytes() []byte })
	if !ok {
		t.Fatal("host buffer does not expose its backing store")
	}
	return b.Bytes()
}

func TestGetUploadsGuestData(t *testing.T) {
	c, dev, mm := newTestCache(t)
	want := pattern(0x100, 3)
	mm.WriteBlock(0x1000, want)

	b, err := c.Get(0x1000, 0x100)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got := hostBytes(t, b.Buf)[b.Offset : b.Offset+b.Size]
	if !bytes.Equal(got, want) {
		t.Error("host buffer does not hold the guest bytes")
	}

	// A contained lookup reuses the block. The stream ring accounts for
	// the first CreateBuffer.
	if _, err := c.Get(0x1040, 0x20); err != nil {
		t.Fatal(err)
	}
	if n := dev.CallCount("CreateBuffer("); n != 2 {
		t.Errorf("CreateBuffer calls = %d, want 2 (ring + one block)", n)
	}
	if c.Len() != 1 {
		t.Errorf("live blocks = %d, want 1", c.Len())
	}
}

func TestUnmappedAddressFails(t *testing.T) {
	c, _, _ := newTestCache(t)
	if _, err := c.Get(0xF000_0000, 0x100); err != ErrUnmapped {
		t.Errorf("err = %v, want ErrUnmapped", err)
	}
}

func TestSpanningLookupMergesBlocks(t *testing.T) {
	c, _, mm := newTestCache(t)
	mm.WriteBlock(0x1000, pattern(0x100, 1))
	mm.WriteBlock(0x3000, pattern(0x100, 9))

	a, err := c.Get(0x1000, 0x100)
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.Get(0x3000, 0x100)
	if err != nil {
		t.Fatal(err)
	}
	genA := c.BlockAt(0x1000).Generation()
	genB := c.BlockAt(0x3000).Generation()

	m, err := c.Get(0x1800, 0x2000)
	if err != nil {
		t.Fatalf("spanning Get: %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("live blocks after merge = %d, want 1", c.Len())
	}
	merged := c.BlockAt(0x1000)
	if merged != c.BlockAt(0x3000) {
		t.Fatal("merged range not served by one block")
	}
	if g := merged.Generation(); g <= genA || g <= genB {
		t.Errorf("merged generation %d does not exceed sources (%d, %d)", g, genA, genB)
	}
	if m.Buf == a.Buf || m.Buf == b.Buf {
		t.Error("merged binding still points at a source buffer")
	}

	// Contents of both sources survive at their addresses.
	data := hostBytes(t, m.Buf)
	off := uint64(0x1000 - merged.CpuAddr)
	if !bytes.Equal(data[off:off+0x100], pattern(0x100, 1)) {
		t.Error("first source's bytes lost in merge")
	}
	off = uint64(0x3000 - merged.CpuAddr)
	if !bytes.Equal(data[off:off+0x100], pattern(0x100, 9)) {
		t.Error("second source's bytes lost in merge")
	}
}

func TestMergePreservesHostWrites(t *testing.T) {
	c, _, _ := newTestCache(t)
	b, err := c.GetWritable(0x1000, 0x100)
	if err != nil {
		t.Fatal(err)
	}
	// Simulate a GPU write into the block.
	copy(hostBytes(t, b.Buf)[b.Offset:], pattern(0x100, 77))

	m, err := c.Get(0x1800, 0x2000)
	if err != nil {
		t.Fatal(err)
	}
	merged := c.BlockAt(0x1000)
	off := uint64(0x1000 - merged.CpuAddr)
	if !bytes.Equal(hostBytes(t, m.Buf)[off:off+0x100], pattern(0x100, 77)) {
		t.Error("host-written data lost across merge")
	}
}

func TestFlushRegionDownloadsWritten(t *testing.T) {
	c, dev, mm := newTestCache(t)
	b, err := c.GetWritable(0x1000, 0x100)
	if err != nil {
		t.Fatal(err)
	}
	copy(hostBytes(t, b.Buf)[b.Offset:], pattern(0x100, 42))

	c.FlushRegion(0x1000, 0x100)
	got := make([]byte, 0x100)
	mm.ReadBlock(0x1000, got)
	if !bytes.Equal(got, pattern(0x100, 42)) {
		t.Error("flush did not land host writes in guest memory")
	}

	// A read-only block has nothing to flush.
	dev.Reset()
	if _, err := c.Get(0x8000, 0x100); err != nil {
		t.Fatal(err)
	}
	dev.Reset()
	c.FlushRegion(0x8000, 0x100)
	if n := dev.CallCount("Buffer"); n != 0 {
		t.Errorf("read-only flush touched host buffers %d times", n)
	}
}

func TestInvalidateRegionReuploads(t *testing.T) {
	c, _, mm := newTestCache(t)
	mm.WriteBlock(0x1000, pattern(0x100, 1))
	if _, err := c.Get(0x1000, 0x100); err != nil {
		t.Fatal(err)
	}

	mm.WriteBlock(0x1000, pattern(0x100, 200))
	c.InvalidateRegion(0x1000, 0x100)

	b, err := c.Get(0x1000, 0x100)
	if err != nil {
		t.Fatal(err)
	}
	got := hostBytes(t, b.Buf)[b.Offset : b.Offset+b.Size]
	if !bytes.Equal(got, pattern(0x100, 200)) {
		t.Error("invalidated block served stale bytes")
	}
}

func TestSweepRetiresAfterRelease(t *testing.T) {
	c, dev, _ := newTestCache(t)
	if _, err := c.Get(0x1000, 0x100); err != nil {
		t.Fatal(err)
	}
	c.UnmapRegion(0x1000, 0x100)

	release := c.Sweep()
	if release == nil {
		t.Fatal("sweep found nothing to retire")
	}
	if dev.CallCount("Buffer2.Delete") != 0 {
		t.Error("host buffer deleted before fence release")
	}
	release()
	if dev.CallCount("Buffer2.Delete") != 1 {
		t.Error("host buffer not deleted by release closure")
	}
	if c.Sweep() != nil {
		t.Error("second sweep must be empty")
	}
}

func TestBindUniformStreamsSmallRanges(t *testing.T) {
	c, dev, mm := newTestCache(t)
	mm.WriteBlock(0x2000, pattern(0x100, 5))

	if err := c.BindUniform(3, 0x2000, 0x100); err != nil {
		t.Fatalf("BindUniform: %v", err)
	}
	if n := dev.CallCount("BindUniformBuffer(3"); n != 1 {
		t.Errorf("BindUniformBuffer calls = %d, want 1", n)
	}
	// Small upload must not allocate a block.
	if n := dev.CallCount("CreateBuffer("); n != 1 {
		t.Errorf("CreateBuffer calls = %d, want 1 (ring only)", n)
	}

	// Past the stream threshold the cached path takes over.
	if err := c.BindUniform(4, 0x2000, streamThreshold+1); err != nil {
		t.Fatal(err)
	}
	if n := dev.CallCount("CreateBuffer("); n != 2 {
		t.Errorf("large uniform did not allocate a block")
	}
}

func TestBindVertexUnified(t *testing.T) {
	c, dev, _ := newTestCache(t)
	if err := c.BindVertex(0, 0x4000, 0x400, 16); err != nil {
		t.Fatalf("BindVertex: %v", err)
	}
	if dev.CallCount("BindVertexBufferUnified(0") != 1 {
		t.Error("unified-capable device must bind by GPU address")
	}
	if dev.CallCount("Buffer2.MakeResident") != 1 {
		t.Error("unified bind must promote residency")
	}
}

func TestBindVertexFallback(t *testing.T) {
	dev := hosttest.New()
	caps := dev.Capabilities()
	caps.HasVertexBufferUnified = false
	dev.SetCapabilities(caps)
	flat := mem.NewFlat(1 << 20)
	mm := mem.NewManager(flat, nil)
	mm.Map(0, 0, 1<<20)
	c := NewCache(dev, mm, nil)

	if err := c.BindVertex(1, 0x4000, 0x400, 16); err != nil {
		t.Fatal(err)
	}
	if dev.CallCount("BindVertexBuffer(1") != 1 {
		t.Error("fallback path must use binding-point binds")
	}
	if dev.CallCount("BindVertexBufferUnified") != 0 {
		t.Error("unified bind without the extension")
	}
}

func TestBindIndexReturnsOffset(t *testing.T) {
	c, dev, _ := newTestCache(t)
	if _, err := c.Get(0x1000, 0x800); err != nil {
		t.Fatal(err)
	}
	off, err := c.BindIndex(0x1200, 0x100)
	if err != nil {
		t.Fatalf("BindIndex: %v", err)
	}
	if off != 0x200 {
		t.Errorf("index offset = %#x, want 0x200", off)
	}
	if dev.CallCount("BindIndexBuffer") != 1 {
		t.Error("index buffer not bound")
	}
}

func TestBindStorageBindless(t *testing.T) {
	c, dev, _ := newTestCache(t)
	if err := c.BindStorage(host.ShaderFragment, 0, 2, 0x5000, 0x200, true, true); err != nil {
		t.Fatalf("BindStorage: %v", err)
	}
	if dev.CallCount("SetStorageDescriptor(fragment slot=2") != 1 {
		t.Error("bindless storage must write a descriptor")
	}
	if dev.CallCount("BindStorageBuffer") != 0 {
		t.Error("bindless storage must skip the binding point")
	}
	b := c.BlockAt(0x5000)
	if b.Buffer().Residency() != host.AccessReadWrite {
		t.Errorf("residency = %d, want read-write", b.Buffer().Residency())
	}

	// Residency never demotes.
	if err := c.BindStorage(host.ShaderFragment, 0, 2, 0x5000, 0x200, false, true); err != nil {
		t.Fatal(err)
	}
	if b.Buffer().Residency() != host.AccessReadWrite {
		t.Error("read-only rebind demoted residency")
	}
}

func TestBindStorageBindingPoint(t *testing.T) {
	c, dev, _ := newTestCache(t)
	if err := c.BindStorage(host.ShaderCompute, 5, 0, 0x5000, 0x200, false, false); err != nil {
		t.Fatal(err)
	}
	if dev.CallCount("BindStorageBuffer(5") != 1 {
		t.Error("storage binding point not bound")
	}
	if dev.CallCount("SetStorageDescriptor") != 0 {
		t.Error("descriptor written on the binding-point path")
	}
}

func TestBindTransformFeedbackMarksWritten(t *testing.T) {
	c, dev, mm := newTestCache(t)
	if err := c.BindTransformFeedback(0, 0x6000, 0x400); err != nil {
		t.Fatal(err)
	}
	if dev.CallCount("BindTransformFeedbackBuffer(0") != 1 {
		t.Error("feedback buffer not bound")
	}
	b := c.BlockAt(0x6000)
	copy(hostBytes(t, b.Buffer()), pattern(0x40, 11))
	c.FlushRegion(0x6000, 0x40)
	got := make([]byte, 0x40)
	mm.ReadBlock(0x6000, got)
	if !bytes.Equal(got, pattern(0x40, 11)) {
		t.Error("feedback output not flushed to guest memory")
	}
}

func TestTexelViewMemoizedAndSNormEmulated(t *testing.T) {
	c, dev, _ := newTestCache(t)
	v1, err := c.TexelView(0x7000, 0x100, host.FormatR8SNorm)
	if err != nil {
		t.Fatalf("TexelView: %v", err)
	}
	if v1.Desc().Format != host.FormatR8UNorm {
		t.Errorf("view format = %d, want UNORM emulation", v1.Desc().Format)
	}
	v2, err := c.TexelView(0x7000, 0x100, host.FormatR8SNorm)
	if err != nil {
		t.Fatal(err)
	}
	if v1 != v2 {
		t.Error("identical ranges must share a view")
	}
	if n := dev.CallCount("CreateBufferTexture"); n != 1 {
		t.Errorf("CreateBufferTexture calls = %d, want 1", n)
	}

	// Views over retired blocks go with them.
	c.UnmapRegion(0x7000, 0x100)
	release := c.Sweep()
	if release == nil {
		t.Fatal("sweep missed the retired block")
	}
	release()
	if dev.CallCount("View.Delete") != 1 {
		t.Error("texel view not deleted with its block")
	}
}
