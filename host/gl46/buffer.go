//go:build cgo

package gl46

import (
	"unsafe"

	"github.com/go-gl/gl/all-core/gl"

	"github.com/kentjhall/mizu-sub009/host"
)

type buffer struct {
	dev       *Device
	id        uint32
	size      uint64
	residency host.Access
	gpuAddr   uint64
}

// CreateBuffer implements host.Device. Storage is immutable; DYNAMIC flag
// keeps SubData uploads on the fast path.
func (d *Device) CreateBuffer(size uint64) host.Buffer {
	b := &buffer{dev: d, size: size}
	gl.CreateBuffers(1, &b.id)
	gl.NamedBufferStorage(b.id, int(size), nil, gl.DYNAMIC_STORAGE_BIT)
	return b
}

func (b *buffer) Size() uint64 { return b.size }

func (b *buffer) Upload(offset uint64, data []byte) {
	if len(data) == 0 {
		return
	}
	gl.NamedBufferSubData(b.id, int(offset), len(data), gl.Ptr(data))
}

func (b *buffer) Download(offset uint64, dst []byte) {
	if len(dst) == 0 {
		return
	}
	gl.GetNamedBufferSubData(b.id, int(offset), len(dst), gl.Ptr(dst))
}

// MakeResident promotes residency. Promotions are monotonic; NVIDIA
// drivers stall when a resident buffer is made non-resident, so
// downgrades are ignored.
func (b *buffer) MakeResident(access host.Access) {
	if !b.dev.caps.HasVertexBufferUnified || access <= b.residency {
		return
	}
	if b.residency != host.AccessNone {
		gl.MakeNamedBufferNonResidentNV(b.id)
	}
	mode := uint32(gl.READ_ONLY)
	if access == host.AccessReadWrite {
		mode = gl.READ_WRITE
	}
	gl.MakeNamedBufferResidentNV(b.id, mode)
	gl.GetNamedBufferParameterui64vNV(b.id, gl.BUFFER_GPU_ADDRESS_NV, &b.gpuAddr)
	b.residency = access
}

func (b *buffer) Residency() host.Access { return b.residency }

func (b *buffer) GpuAddress() uint64 { return b.gpuAddr }

func (b *buffer) Delete() {
	gl.DeleteBuffers(1, &b.id)
	b.id = 0
}

// streamBuffer is a persistent-mapped ring for transient uploads. Wrap
// handling is the caller's problem in the sense that a wrap inside a
// frame requires the previous contents to have been consumed; the ring is
// sized generously for that.
type streamBuffer struct {
	buf    *buffer
	window []byte
	cursor uint64
}

// CreateStreamBuffer implements host.Device.
func (d *Device) CreateStreamBuffer(size uint64) host.StreamBuffer {
	b := &buffer{dev: d, size: size}
	gl.CreateBuffers(1, &b.id)
	flags := uint32(gl.MAP_WRITE_BIT | gl.MAP_PERSISTENT_BIT | gl.MAP_COHERENT_BIT)
	gl.NamedBufferStorage(b.id, int(size), nil, flags)
	ptr := gl.MapNamedBufferRange(b.id, 0, int(size), flags)
	return &streamBuffer{
		buf:    b,
		window: unsafe.Slice((*byte)(ptr), size),
	}
}

func (s *streamBuffer) Alloc(size, alignment uint64) ([]byte, uint64) {
	if alignment > 0 {
		s.cursor = (s.cursor + alignment - 1) &^ (alignment - 1)
	}
	if s.cursor+size > s.buf.size {
		s.cursor = 0
	}
	off := s.cursor
	s.cursor += size
	return s.window[off : off+size], off
}

func (s *streamBuffer) Buffer() host.Buffer { return s.buf }

// BindUniformBuffer implements host.Device.
func (d *Device) BindUniformBuffer(binding uint32, buf host.Buffer, offset, size uint64) {
	gl.BindBufferRange(gl.UNIFORM_BUFFER, binding, buf.(*buffer).id, int(offset), int(size))
}

// BindStorageBuffer implements host.Device.
func (d *Device) BindStorageBuffer(binding uint32, buf host.Buffer, offset, size uint64) {
	gl.BindBufferRange(gl.SHADER_STORAGE_BUFFER, binding, buf.(*buffer).id, int(offset), int(size))
}

// BindIndexBuffer implements host.Device.
func (d *Device) BindIndexBuffer(buf host.Buffer) {
	gl.VertexArrayElementBuffer(d.vao, buf.(*buffer).id)
}

// BindVertexBuffer implements host.Device.
func (d *Device) BindVertexBuffer(index uint32, buf host.Buffer, offset uint64, stride uint32) {
	gl.VertexArrayVertexBuffer(d.vao, index, buf.(*buffer).id, int(offset), int32(stride))
}

// BindVertexBufferUnified implements host.Device. Requires
// NV_vertex_buffer_unified_memory; the caller checks the capability.
func (d *Device) BindVertexBufferUnified(index uint32, gpuAddress, length uint64, stride uint32) {
	if !d.unifiedAttribsOn {
		gl.EnableClientState(gl.VERTEX_ATTRIB_ARRAY_UNIFIED_NV)
		d.unifiedAttribsOn = true
	}
	gl.BindVertexBuffer(index, 0, 0, int32(stride))
	gl.BufferAddressRangeNV(gl.VERTEX_ATTRIB_ARRAY_ADDRESS_NV, index, gpuAddress, int(length))
}

// BindTransformFeedbackBuffer implements host.Device.
func (d *Device) BindTransformFeedbackBuffer(index uint32, buf host.Buffer, offset, size uint64) {
	gl.BindBufferRange(gl.TRANSFORM_FEEDBACK_BUFFER, index, buf.(*buffer).id, int(offset), int(size))
}
