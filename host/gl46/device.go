//go:build cgo

// Package gl46 implements the host device on an OpenGL 4.6 core context
// through direct state access. The context must be current on the calling
// goroutine (locked to its OS thread) when New runs and for every device
// call afterwards, except CompileProgram which may run on worker threads
// holding shared contexts.
package gl46

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/go-gl/gl/all-core/gl"

	"github.com/kentjhall/mizu-sub009/host"
)

// Device is the GL implementation of host.Device.
type Device struct {
	caps   host.Capabilities
	vendor host.DriverVendor
	log    *slog.Logger

	vao uint32

	// Unified memory state, only touched when the extension is present.
	unifiedAttribsOn bool
}

// New probes the current context and builds a device. It fails when a
// required capability is missing.
func New(log *slog.Logger) (*Device, error) {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if err := gl.Init(); err != nil {
		return nil, fmt.Errorf("gl46: loading entry points: %w", err)
	}

	d := &Device{log: log}
	d.probe()

	if missing := d.caps.MissingRequired(); len(missing) > 0 {
		return nil, fmt.Errorf("gl46: context lacks required capabilities: %s",
			strings.Join(missing, ", "))
	}

	gl.CreateVertexArrays(1, &d.vao)
	gl.BindVertexArray(d.vao)

	// Guest clip space is always [0, 1]; flip the winding convention at
	// the clip stage instead of per draw.
	gl.ClipControl(gl.LOWER_LEFT, gl.ZERO_TO_ONE)
	gl.Enable(gl.PRIMITIVE_RESTART_FIXED_INDEX)

	log.Info("gl46: context ready",
		"vendor", d.caps.Vendor,
		"renderer", d.caps.Renderer,
		"assembly_shaders", d.caps.HasAssemblyShaders,
		"unified_memory", d.caps.HasVertexBufferUnified,
		"native_astc", d.caps.HasASTC)
	return d, nil
}

func (d *Device) probe() {
	ext := map[string]bool{}
	var n int32
	gl.GetIntegerv(gl.NUM_EXTENSIONS, &n)
	for i := int32(0); i < n; i++ {
		ext[gl.GoStr(gl.GetStringi(gl.EXTENSIONS, uint32(i)))] = true
	}

	c := &d.caps
	c.Vendor = gl.GoStr(gl.GetString(gl.VENDOR))
	c.Renderer = gl.GoStr(gl.GetString(gl.RENDERER))
	d.vendor = host.ClassifyVendor(c.Vendor)

	c.HasDirectStateAccess = ext["GL_ARB_direct_state_access"]
	c.HasSeparablePipelines = ext["GL_ARB_separate_shader_objects"]
	c.HasBufferStorage = ext["GL_ARB_buffer_storage"]
	c.HasClipControl = ext["GL_ARB_clip_control"]
	c.HasPolygonOffsetClamp = ext["GL_EXT_polygon_offset_clamp"] || ext["GL_ARB_polygon_offset_clamp"]
	c.HasTextureView = ext["GL_ARB_texture_view"]
	c.HasShaderBallot = ext["GL_ARB_shader_ballot"]

	c.HasAssemblyShaders = ext["GL_NV_gpu_program5"] && ext["GL_NV_compute_program5"]
	c.HasVertexBufferUnified = ext["GL_NV_vertex_buffer_unified_memory"] &&
		ext["GL_NV_shader_buffer_load"]
	c.HasFillRectangle = ext["GL_NV_fill_rectangle"]
	c.HasViewportArray2 = ext["GL_NV_viewport_array2"]
	c.HasImageLoadFormatted = ext["GL_EXT_shader_image_load_formatted"]
	c.HasShaderViewportLayer = ext["GL_ARB_shader_viewport_layer_array"]
	c.HasVertexViewportLayer = c.HasShaderViewportLayer || c.HasViewportArray2
	c.HasASTC = ext["GL_KHR_texture_compression_astc_ldr"]
	c.HasDepthBufferFloat = ext["GL_NV_depth_buffer_float"]

	var v int32
	gl.GetIntegerv(gl.MAX_VERTEX_ATTRIBS, &v)
	c.MaxVertexAttribs = uint32(v)
	gl.GetIntegerv(gl.MAX_COMBINED_TEXTURE_IMAGE_UNITS, &v)
	c.MaxTextureUnits = uint32(v)
	gl.GetIntegerv(gl.MAX_IMAGE_UNITS, &v)
	c.MaxImageUnits = uint32(v)
	gl.GetIntegerv(gl.MAX_UNIFORM_BUFFER_BINDINGS, &v)
	c.MaxUniformBufferBinding = uint32(v)
	gl.GetIntegerv(gl.UNIFORM_BUFFER_OFFSET_ALIGNMENT, &v)
	c.UniformBufferAlignment = uint32(v)
	gl.GetIntegerv(gl.SHADER_STORAGE_BUFFER_OFFSET_ALIGNMENT, &v)
	c.StorageBufferAlignment = uint32(v)
	gl.GetIntegerv(gl.MAX_VARYING_COMPONENTS, &v)
	c.MaxVaryings = uint32(v)
	if ext["GL_ARB_texture_filter_anisotropic"] || ext["GL_EXT_texture_filter_anisotropic"] {
		gl.GetFloatv(gl.MAX_TEXTURE_MAX_ANISOTROPY, &c.MaxAnisotropy)
	} else {
		c.MaxAnisotropy = 1
	}
}

// Capabilities implements host.Device.
func (d *Device) Capabilities() host.Capabilities { return d.caps }

// Vendor returns the classified driver family.
func (d *Device) Vendor() host.DriverVendor { return d.vendor }

// Flush implements host.Device.
func (d *Device) Flush() { gl.Flush() }

// Finish implements host.Device.
func (d *Device) Finish() { gl.Finish() }

// FenceSync implements host.Device.
func (d *Device) FenceSync() host.Sync {
	return &syncObject{handle: gl.FenceSync(gl.SYNC_GPU_COMMANDS_COMPLETE, 0)}
}
