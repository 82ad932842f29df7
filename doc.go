// Package gtc is a graphics translation core: it consumes the method
// stream of a guest GPU (Maxwell-class 3D, Kepler compute and Fermi 2D
// engines) and replays it on a host OpenGL 4.6 device.
//
// The root package wires the pieces together. [New] builds a [GPU] from
// a host device and a guest memory backend; the guest command processor
// pushes (subchannel, method, value) writes through [GPU.Write], and the
// embedded Rasterizer turns draw, clear, dispatch and copy triggers into
// host calls through the caches in the sub-packages:
//
//   - engine:  register files, shadow RAM, dirty tracking, macros
//   - mem:     GPU virtual address space over guest memory
//   - shader:  guest ISA recompiler with disk-backed program cache
//   - texture: guest surface cache with format conversion
//   - buffer:  guest buffer cache with a stream ring for small uploads
//   - render:  framebuffer, pipeline, query and fence management
//
// All host interaction goes through the host.Device interface; package
// host/gl46 implements it on a live context and host/hosttest provides
// a recording fake for tests.
package gtc
