// Package render holds the draw-time machinery between the engines and
// the host device: framebuffer and pipeline caches, the query cache,
// and the fence manager that orders resource retirement against the
// host GPU.
package render

import (
	"io"
	"log/slog"
	"sync"

	"github.com/kentjhall/mizu-sub009/host"
	"github.com/kentjhall/mizu-sub009/texture"
)

// FramebufferKey identifies a host framebuffer by its attachments.
// Views are cache-owned and unique per (surface, params), so pointer
// identity is the right equality.
type FramebufferKey struct {
	Colors        [8]*texture.View
	Zeta          *texture.View
	AttachmentMap uint32 // packed RT_CONTROL draw buffer mapping
}

// FramebufferCache memoizes host framebuffer objects per attachment
// set. Framebuffer completeness validation is expensive on most
// drivers, so recreating one per draw is not an option.
type FramebufferCache struct {
	dev host.Device
	log *slog.Logger

	mu      sync.Mutex
	fbs     map[FramebufferKey]host.Framebuffer
	retired []host.Framebuffer
}

// NewFramebufferCache creates an empty framebuffer cache. logger may be
// nil.
func NewFramebufferCache(dev host.Device, logger *slog.Logger) *FramebufferCache {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &FramebufferCache{
		dev: dev,
		log: logger,
		fbs: map[FramebufferKey]host.Framebuffer{},
	}
}

// Get returns the host framebuffer for the attachment set, creating it
// on a miss.
func (c *FramebufferCache) Get(key FramebufferKey) host.Framebuffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fb, ok := c.fbs[key]; ok {
		return fb
	}

	var att host.FramebufferAttachments
	for i, v := range key.Colors {
		if v != nil {
			att.Colors[i] = v.Host()
		}
	}
	if key.Zeta != nil {
		att.Depth = key.Zeta.Host()
		att.HasStencil = key.Zeta.Host().Desc().Format.HasStencil()
	}
	// RT_CONTROL maps fragment outputs to attachment slots, 3 bits per
	// output. Slots past the active count draw to NONE.
	count := key.AttachmentMap >> 28
	for i := range att.DrawBuffers {
		if uint32(i) < count {
			att.DrawBuffers[i] = int8((key.AttachmentMap >> (i * 3)) & 0x7)
		} else {
			att.DrawBuffers[i] = -1
		}
	}

	fb := c.dev.CreateFramebuffer(att)
	c.fbs[key] = fb
	return fb
}

// Sweep drops framebuffers whose attachments reference retired
// surfaces and returns a release closure to run after the current
// fence, or nil when nothing was dropped.
func (c *FramebufferCache) Sweep() func() {
	c.mu.Lock()
	for key, fb := range c.fbs {
		if keyRetired(key) {
			c.retired = append(c.retired, fb)
			delete(c.fbs, key)
		}
	}
	retired := c.retired
	c.retired = nil
	c.mu.Unlock()

	if len(retired) == 0 {
		return nil
	}
	return func() {
		for _, fb := range retired {
			fb.Delete()
		}
	}
}

// Len reports the number of live framebuffers.
func (c *FramebufferCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fbs)
}

func keyRetired(key FramebufferKey) bool {
	for _, v := range key.Colors {
		if v != nil && v.Surface().Retired() {
			return true
		}
	}
	return key.Zeta != nil && key.Zeta.Surface().Retired()
}
