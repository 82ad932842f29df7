package buffer

import (
	"github.com/kentjhall/mizu-sub009/host"
	"github.com/kentjhall/mizu-sub009/mem"
)

// BindVertex binds a guest vertex stream to a host binding point. With
// the NV unified-memory extensions the bind goes by GPU address, which
// skips the name lookup the driver does per BindVertexBuffer call.
func (c *Cache) BindVertex(index uint32, gpu mem.GpuAddr, size uint64, stride uint32) error {
	b, err := c.Get(gpu, size)
	if err != nil {
		return err
	}
	if c.unified {
		if addr := b.GpuAddress(); addr != 0 {
			b.Buf.MakeResident(host.AccessRead)
			c.dev.BindVertexBufferUnified(index, b.Buf.GpuAddress()+b.Offset, b.Size, stride)
			return nil
		}
	}
	c.dev.BindVertexBuffer(index, b.Buf, b.Offset, stride)
	return nil
}

// BindIndex binds the guest index buffer and returns the byte offset
// of the first index within the bound buffer, for the draw call.
func (c *Cache) BindIndex(gpu mem.GpuAddr, size uint64) (uintptr, error) {
	b, err := c.Get(gpu, size)
	if err != nil {
		return 0, err
	}
	c.dev.BindIndexBuffer(b.Buf)
	return uintptr(b.Offset), nil
}

// BindUniform binds a guest constant buffer range. Small uploads take
// the stream ring; larger ones bind a cached block, which also keeps
// GPU-visible writes to the range coherent.
func (c *Cache) BindUniform(binding uint32, gpu mem.GpuAddr, size uint64) error {
	var b Binding
	var err error
	if c.UniformEligible(gpu, size) {
		b, err = c.StreamUpload(gpu, size)
	} else {
		b, err = c.Get(gpu, size)
	}
	if err != nil {
		return err
	}
	c.dev.BindUniformBuffer(binding, b.Buf, b.Offset, b.Size)
	return nil
}

// BindStorage binds a guest storage buffer range. The bindless variant
// (assembly shader profiles) writes an {address, length} descriptor
// instead of a binding point and promotes the block's residency.
func (c *Cache) BindStorage(stage host.ShaderType, binding, slot uint32, gpu mem.GpuAddr, size uint64, writable, bindless bool) error {
	var b Binding
	var err error
	if writable {
		b, err = c.GetWritable(gpu, size)
	} else {
		b, err = c.Get(gpu, size)
	}
	if err != nil {
		return err
	}
	if bindless {
		access := host.AccessRead
		if writable {
			access = host.AccessReadWrite
		}
		b.Buf.MakeResident(access)
		c.dev.SetStorageDescriptor(stage, slot, b.Buf.GpuAddress()+b.Offset, b.Size)
		return nil
	}
	c.dev.BindStorageBuffer(binding, b.Buf, b.Offset, b.Size)
	return nil
}

// BindTransformFeedback binds a guest range as a transform feedback
// target. The range is host-written from then on.
func (c *Cache) BindTransformFeedback(index uint32, gpu mem.GpuAddr, size uint64) error {
	b, err := c.GetWritable(gpu, size)
	if err != nil {
		return err
	}
	c.dev.BindTransformFeedbackBuffer(index, b.Buf, b.Offset, b.Size)
	return nil
}
