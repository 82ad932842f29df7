package texture

import (
	"testing"

	"github.com/kentjhall/mizu-sub009/engine"
	"github.com/kentjhall/mizu-sub009/host"
	"github.com/kentjhall/mizu-sub009/host/hosttest"
	"github.com/kentjhall/mizu-sub009/mem"
)

func newTestCache(t *testing.T) (*Cache, *hosttest.Device, *mem.Manager) {
	t.Helper()
	dev := hosttest.New()
	flat := mem.NewFlat(1 << 22)
	mm := mem.NewManager(flat, nil)
	mm.Map(0, 0, 1<<22)
	return NewCache(dev, mm, nil), dev, mm
}

func testTIC(addr mem.GpuAddr, w, h uint32) TICEntry {
	return TICEntry{
		Format:  TexFmtA8R8G8B8,
		RType:   ComponentUNorm,
		GType:   ComponentUNorm,
		BType:   ComponentUNorm,
		AType:   ComponentUNorm,
		Swizzle: [4]host.SwizzleSource{host.SwizzleR, host.SwizzleG, host.SwizzleB, host.SwizzleA},
		Address: addr,
		Target:  TIC2D,
		Width:   w,
		Height:  h,
		Depth:   1,
	}
}

func TestGetTextureSurfaceIdempotent(t *testing.T) {
	c, dev, _ := newTestCache(t)
	tic := testTIC(0x10000, 64, 64)

	v1, s1, err := c.GetTextureSurface(tic, TSCEntry{})
	if err != nil {
		t.Fatalf("GetTextureSurface: %v", err)
	}
	v2, s2, err := c.GetTextureSurface(tic, TSCEntry{})
	if err != nil {
		t.Fatalf("second lookup: %v", err)
	}
	if v1 != v2 {
		t.Error("second lookup returned a different view")
	}
	if s1 != s2 {
		t.Error("sampler not pooled")
	}
	if n := dev.CallCount("CreateTexture"); n != 1 {
		t.Errorf("CreateTexture calls = %d, want 1", n)
	}
}

func TestViewAliasingByParams(t *testing.T) {
	c, _, _ := newTestCache(t)
	ticA := testTIC(0x10000, 64, 64)
	ticB := ticA
	ticB.Swizzle = [4]host.SwizzleSource{host.SwizzleB, host.SwizzleG, host.SwizzleR, host.SwizzleA}

	vA, _, err := c.GetTextureSurface(ticA, TSCEntry{})
	if err != nil {
		t.Fatal(err)
	}
	vB, _, err := c.GetTextureSurface(ticB, TSCEntry{})
	if err != nil {
		t.Fatal(err)
	}
	if vA == vB {
		t.Error("different swizzles must not share a view")
	}
	if vA.Surface() != vB.Surface() {
		t.Error("views of one region must share the surface")
	}
	if vA.ID == vB.ID {
		t.Error("view IDs must be unique")
	}
}

func TestInvalidationContainment(t *testing.T) {
	c, dev, _ := newTestCache(t)
	inside, _, err := c.GetTextureSurface(testTIC(0x10000, 16, 16), TSCEntry{})
	if err != nil {
		t.Fatal(err)
	}
	outside, _, err := c.GetTextureSurface(testTIC(0x80000, 16, 16), TSCEntry{})
	if err != nil {
		t.Fatal(err)
	}

	c.InvalidateRegion(0x10000, inside.Surface().Params.GuestSizeBytes())
	release := c.Sweep()
	if release == nil {
		t.Fatal("sweep found nothing to retire")
	}
	if dev.CallCount("Texture1.Delete") != 0 {
		t.Error("host texture deleted before fence release")
	}
	release()
	if c.Len() != 1 {
		t.Errorf("live surfaces = %d, want 1", c.Len())
	}
	if c.SurfaceAt(0x80000) != outside.Surface() {
		t.Error("disjoint surface was touched")
	}
	if c.SurfaceAt(0x10000) != nil {
		t.Error("enclosed surface still resolvable")
	}
}

func TestRebuildAfterInvalidateDefersRelease(t *testing.T) {
	c, dev, _ := newTestCache(t)
	tic := testTIC(0x10000, 8, 8)
	v, _, err := c.GetTextureSurface(tic, TSCEntry{})
	if err != nil {
		t.Fatalf("GetTextureSurface: %v", err)
	}

	c.InvalidateRegion(0x10000, v.Surface().Params.GuestSizeBytes())
	// The guest writes fresh data and the address is looked up again
	// before any sweep runs.
	if _, _, err := c.GetTextureSurface(tic, TSCEntry{}); err != nil {
		t.Fatalf("rebuild lookup: %v", err)
	}

	release := c.Sweep()
	if release == nil {
		t.Fatal("displaced surface not queued for release")
	}
	if dev.CallCount("Texture1.Delete") != 0 {
		t.Error("host texture deleted before fence release")
	}
	release()
	if dev.CallCount("Texture1.Delete") != 1 {
		t.Errorf("Texture1.Delete calls = %d, want 1", dev.CallCount("Texture1.Delete"))
	}
	if dev.CallCount("View.Delete") == 0 {
		t.Error("displaced surface's views not released")
	}
	if c.Len() != 1 {
		t.Errorf("live surfaces = %d, want 1", c.Len())
	}
}

func TestRecycledAddressDefersRelease(t *testing.T) {
	c, dev, _ := newTestCache(t)
	if _, _, err := c.GetTextureSurface(testTIC(0x10000, 8, 8), TSCEntry{}); err != nil {
		t.Fatal(err)
	}
	// Same address, different extent: the surface is rebuilt in place.
	if _, _, err := c.GetTextureSurface(testTIC(0x10000, 16, 16), TSCEntry{}); err != nil {
		t.Fatal(err)
	}
	if dev.CallCount("Texture1.Delete") != 0 {
		t.Error("recycled surface deleted before fence release")
	}

	release := c.Sweep()
	if release == nil {
		t.Fatal("recycled surface not queued for release")
	}
	release()
	if dev.CallCount("Texture1.Delete") != 1 {
		t.Errorf("Texture1.Delete calls = %d, want 1", dev.CallCount("Texture1.Delete"))
	}
	if c.SurfaceAt(0x10000) == nil {
		t.Error("replacement surface missing after sweep")
	}
}

func TestASTCConvertsWithoutNativeSupport(t *testing.T) {
	dev := hosttest.New()
	caps := dev.Capabilities()
	caps.HasASTC = false
	dev.SetCapabilities(caps)
	flat := mem.NewFlat(1 << 22)
	mm := mem.NewManager(flat, nil)
	mm.Map(0, 0, 1<<22)
	c := NewCache(dev, mm, nil)

	tic := testTIC(0x10000, 16, 16)
	tic.Format = TexFmtASTC4x4
	v, _, err := c.GetTextureSurface(tic, TSCEntry{})
	if err != nil {
		t.Fatalf("GetTextureSurface: %v", err)
	}
	if !v.Surface().Converted() {
		t.Error("surface must record the CPU conversion")
	}
	if v.Surface().Texture().Desc().Format != host.FormatRGBA8UNorm {
		t.Errorf("host format = %v, want RGBA8", v.Surface().Texture().Desc().Format)
	}
	if dev.CallCount("Texture1.UploadCompressed") != 0 {
		t.Error("converted surface must use the uncompressed upload path")
	}
}

func TestColorSurfaceMarksModified(t *testing.T) {
	c, dev, _ := newTestCache(t)
	v, err := c.GetColorSurface(engine.RenderTarget{
		Address: 0x20000,
		Width:   320,
		Height:  240,
		Format:  uint32(RTFmtRGBA8UNorm),
	}, true)
	if err != nil {
		t.Fatalf("GetColorSurface: %v", err)
	}
	if v == nil {
		t.Fatal("nil view for an enabled target")
	}
	// A clear skips the guest upload.
	if n := dev.CallCount("Texture1.Upload"); n != 0 {
		t.Errorf("clear path uploaded %d times", n)
	}

	dev.Reset()
	c.FlushRegion(0, 1<<22)
	if n := dev.CallCount("Texture1.Download"); n == 0 {
		t.Error("flush must download the render target")
	}
}

func TestDisabledTargetsResolveNil(t *testing.T) {
	c, _, _ := newTestCache(t)
	if v, err := c.GetColorSurface(engine.RenderTarget{}, false); err != nil || v != nil {
		t.Errorf("disabled color slot: view=%v err=%v", v, err)
	}
	if v, err := c.GetDepthSurface(engine.Zeta{}, false); err != nil || v != nil {
		t.Errorf("disabled zeta: view=%v err=%v", v, err)
	}
}

func TestUnsupportedFormatFails(t *testing.T) {
	c, _, _ := newTestCache(t)
	tic := testTIC(0x10000, 4, 4)
	tic.Format = 0x7F
	if _, _, err := c.GetTextureSurface(tic, TSCEntry{}); err == nil {
		t.Error("unknown guest format must fail the lookup")
	}
}
