//go:build cgo

package gl46

import (
	"github.com/go-gl/gl/all-core/gl"

	"github.com/kentjhall/mizu-sub009/host"
)

type framebuffer struct {
	id  uint32
	att host.FramebufferAttachments
}

// CreateFramebuffer implements host.Device.
func (d *Device) CreateFramebuffer(att host.FramebufferAttachments) host.Framebuffer {
	f := &framebuffer{att: att}
	gl.CreateFramebuffers(1, &f.id)

	var drawBuffers [8]uint32
	for i, v := range att.Colors {
		if v == nil {
			drawBuffers[i] = gl.NONE
			continue
		}
		gl.NamedFramebufferTexture(f.id, gl.COLOR_ATTACHMENT0+uint32(i), v.(*textureView).id, 0)
		if att.DrawBuffers[i] >= 0 {
			drawBuffers[i] = gl.COLOR_ATTACHMENT0 + uint32(att.DrawBuffers[i])
		} else {
			drawBuffers[i] = gl.NONE
		}
	}
	gl.NamedFramebufferDrawBuffers(f.id, 8, &drawBuffers[0])

	if att.Depth != nil {
		attachment := uint32(gl.DEPTH_ATTACHMENT)
		if att.HasStencil {
			attachment = gl.DEPTH_STENCIL_ATTACHMENT
		}
		gl.NamedFramebufferTexture(f.id, attachment, att.Depth.(*textureView).id, 0)
	}
	return f
}

func (f *framebuffer) Attachments() host.FramebufferAttachments { return f.att }

func (f *framebuffer) Delete() {
	gl.DeleteFramebuffers(1, &f.id)
	f.id = 0
}

// BindFramebuffer implements host.Device.
func (d *Device) BindFramebuffer(fb host.Framebuffer) {
	if fb == nil {
		gl.BindFramebuffer(gl.DRAW_FRAMEBUFFER, 0)
		return
	}
	gl.BindFramebuffer(gl.DRAW_FRAMEBUFFER, fb.(*framebuffer).id)
}

// Clear implements host.Device. Operates on the currently bound
// framebuffer; the caller has already applied scissor and color mask
// state for the clear.
func (d *Device) Clear(p host.ClearParams) {
	if p.ClearColor {
		gl.ClearBufferfv(gl.COLOR, int32(p.ColorIndex), &p.Color[0])
	}
	switch {
	case p.ClearDepth && p.ClearStencil:
		gl.ClearBufferfi(gl.DEPTH_STENCIL, 0, p.Depth, p.Stencil)
	case p.ClearDepth:
		gl.ClearBufferfv(gl.DEPTH, 0, &p.Depth)
	case p.ClearStencil:
		gl.ClearBufferiv(gl.STENCIL, 0, &p.Stencil)
	}
}
