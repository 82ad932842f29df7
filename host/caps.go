package host

import "strings"

// Capabilities describes what the host context can do. The required
// fields gate startup; the optional ones select faster paths and are
// probed and logged once at device creation.
type Capabilities struct {
	Vendor   string
	Renderer string

	// Required for operation. A device whose context lacks any of these
	// fails construction.
	HasDirectStateAccess  bool
	HasSeparablePipelines bool
	HasBufferStorage      bool
	HasClipControl        bool
	HasPolygonOffsetClamp bool
	HasTextureView        bool
	HasShaderBallot       bool

	// Optional, selects alternate host paths when present.
	HasAssemblyShaders       bool // NV_gpu_program5 and friends
	HasVertexBufferUnified   bool // NV_vertex_buffer_unified_memory
	HasFillRectangle         bool // NV_fill_rectangle
	HasViewportArray2        bool // NV_viewport_array2
	HasImageLoadFormatted    bool // EXT_shader_image_load_formatted
	HasShaderViewportLayer   bool // ARB_shader_viewport_layer_array
	HasASTC                  bool // native ASTC decode
	HasDepthBufferFloat      bool // NV_depth_buffer_float
	HasDebuggingToolAttached bool
	HasVertexViewportLayer   bool // layer/viewport writable from VS

	MaxVertexAttribs        uint32
	MaxTextureUnits         uint32
	MaxImageUnits           uint32
	MaxUniformBufferBinding uint32
	UniformBufferAlignment  uint32
	StorageBufferAlignment  uint32
	MaxVaryings             uint32
	MaxAnisotropy           float32
}

// MissingRequired lists the names of absent required capabilities.
func (c *Capabilities) MissingRequired() []string {
	var missing []string
	for _, r := range []struct {
		ok   bool
		name string
	}{
		{c.HasDirectStateAccess, "ARB_direct_state_access"},
		{c.HasSeparablePipelines, "ARB_separate_shader_objects"},
		{c.HasBufferStorage, "ARB_buffer_storage"},
		{c.HasClipControl, "ARB_clip_control"},
		{c.HasPolygonOffsetClamp, "EXT_polygon_offset_clamp"},
		{c.HasTextureView, "ARB_texture_view"},
		{c.HasShaderBallot, "ARB_shader_ballot"},
	} {
		if !r.ok {
			missing = append(missing, r.name)
		}
	}
	return missing
}

// Driver vendor classification, used by the shader emitters to pick
// workarounds. Derived from the VENDOR string.
type DriverVendor int

// Known driver vendors.
const (
	VendorUnknown DriverVendor = iota
	VendorNvidia
	VendorAMD
	VendorIntel
	VendorMesa
)

// ClassifyVendor maps a GL_VENDOR string to a known driver family.
func ClassifyVendor(vendor string) DriverVendor {
	switch {
	case strings.Contains(vendor, "NVIDIA"):
		return VendorNvidia
	case strings.Contains(vendor, "ATI"), strings.Contains(vendor, "AMD"),
		strings.Contains(vendor, "Advanced Micro"):
		return VendorAMD
	case strings.Contains(vendor, "Intel"):
		return VendorIntel
	case strings.Contains(vendor, "Mesa"), strings.Contains(vendor, "X.Org"),
		strings.Contains(vendor, "Collabora"):
		return VendorMesa
	}
	return VendorUnknown
}
