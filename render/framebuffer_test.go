package render

import (
	"testing"

	"github.com/kentjhall/mizu-sub009/engine"
	"github.com/kentjhall/mizu-sub009/host/hosttest"
	"github.com/kentjhall/mizu-sub009/mem"
	"github.com/kentjhall/mizu-sub009/texture"
)

func newColorView(t *testing.T, tc *texture.Cache, addr mem.GpuAddr) *texture.View {
	t.Helper()
	v, err := tc.GetColorSurface(engine.RenderTarget{
		Address: addr,
		Width:   64,
		Height:  64,
		Format:  uint32(texture.RTFmtRGBA8UNorm),
	}, true)
	if err != nil {
		t.Fatalf("GetColorSurface: %v", err)
	}
	return v
}

func newTestTextures(t *testing.T) (*texture.Cache, *hosttest.Device) {
	t.Helper()
	dev := hosttest.New()
	mm := mem.NewManager(mem.NewFlat(1<<22), nil)
	mm.Map(0, 0, 1<<22)
	return texture.NewCache(dev, mm, nil), dev
}

func TestFramebufferMemoized(t *testing.T) {
	tc, dev := newTestTextures(t)
	fc := NewFramebufferCache(dev, nil)
	v := newColorView(t, tc, 0x10000)

	key := FramebufferKey{AttachmentMap: 1 << 28} // one target, identity map
	key.Colors[0] = v

	fb1 := fc.Get(key)
	fb2 := fc.Get(key)
	if fb1 != fb2 {
		t.Error("identical keys must share a framebuffer")
	}
	if n := dev.CallCount("CreateFramebuffer"); n != 1 {
		t.Errorf("CreateFramebuffer calls = %d, want 1", n)
	}

	att := fb1.Attachments()
	if att.Colors[0] != v.Host() {
		t.Error("color attachment not wired")
	}
	if att.DrawBuffers[0] != 0 || att.DrawBuffers[1] != -1 {
		t.Errorf("draw buffers = %v, want [0 -1 ...]", att.DrawBuffers)
	}
}

func TestFramebufferDistinctKeys(t *testing.T) {
	tc, dev := newTestTextures(t)
	fc := NewFramebufferCache(dev, nil)
	var keyA, keyB FramebufferKey
	keyA.Colors[0] = newColorView(t, tc, 0x10000)
	keyB.Colors[0] = newColorView(t, tc, 0x40000)
	keyA.AttachmentMap = 1 << 28
	keyB.AttachmentMap = 1 << 28

	if fc.Get(keyA) == fc.Get(keyB) {
		t.Error("different attachments must not share a framebuffer")
	}
	if fc.Len() != 2 {
		t.Errorf("live framebuffers = %d, want 2", fc.Len())
	}
}

func TestFramebufferSweepDropsRetiredSurfaces(t *testing.T) {
	tc, dev := newTestTextures(t)
	fc := NewFramebufferCache(dev, nil)
	v := newColorView(t, tc, 0x10000)
	var key FramebufferKey
	key.Colors[0] = v
	key.AttachmentMap = 1 << 28
	fc.Get(key)

	// Invalidate the backing surface; the framebuffer must go with it.
	tc.InvalidateRegion(0x10000, v.Surface().Params.GuestSizeBytes())
	release := fc.Sweep()
	if release == nil {
		t.Fatal("sweep missed the framebuffer over a retired surface")
	}
	release()
	if fc.Len() != 0 {
		t.Errorf("live framebuffers = %d, want 0", fc.Len())
	}
}
