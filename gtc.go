package gtc

import (
	"sync"

	"github.com/kentjhall/mizu-sub009/engine"
	"github.com/kentjhall/mizu-sub009/host"
	"github.com/kentjhall/mizu-sub009/mem"
)

// Subchannel numbers of the guest command stream, fixed by the channel
// setup the guest driver performs.
const (
	Subchannel3D      = 0
	SubchannelCompute = 1
	SubchannelInline  = 2
	Subchannel2D      = 3
	SubchannelDMA     = 4
)

// GPU is the translation core for one guest channel. The guest command
// processor feeds it method writes; everything host-side flows through
// the Rasterizer into the device passed to [New].
//
// All methods must be called from the rasterizer thread except
// SyncPointValue and SetSyncPointCallback.
type GPU struct {
	// Memory is the GPU virtual address space. The channel owner maps
	// and unmaps guest allocations through it.
	Memory *mem.Manager

	// Maxwell, Kepler and Fermi are the engine register files, exposed
	// for macro upload and direct register inspection.
	Maxwell *engine.Maxwell3D
	Kepler  *engine.KeplerCompute
	Fermi   *engine.Fermi2D

	ras *Rasterizer

	syncMu     sync.Mutex
	syncpoints map[uint32]uint32
	onSync     func(id, value uint32)
}

// New creates a translation core on dev. provider supplies shared
// contexts for async shader workers and may be nil, which forces
// synchronous pipeline builds. Settings come from the environment
// ([LoadSettings]) with opts applied on top.
func New(dev host.Device, provider host.ContextProvider, guest mem.GuestMemory, opts ...Option) (*GPU, error) {
	cfg := LoadSettings(opts...)
	log := Logger()

	mm := mem.NewManager(guest, log)
	ras, err := newRasterizer(dev, mm, cfg, provider, log)
	if err != nil {
		return nil, err
	}

	g := &GPU{
		Memory:     mm,
		ras:        ras,
		syncpoints: map[uint32]uint32{},
	}
	ras.onSyncPoint = g.incrementSyncPoint

	g.Maxwell = engine.NewMaxwell3D(mm, ras, log)
	g.Kepler = engine.NewKeplerCompute(mm, ras, log)
	g.Fermi = engine.NewFermi2D(ras, log)
	ras.attach(g.Maxwell, g.Kepler)
	return g, nil
}

// Write dispatches one (method, value) pair to the engine bound on the
// subchannel.
func (g *GPU) Write(subchannel int, method, value uint32) {
	switch subchannel {
	case Subchannel3D:
		g.Maxwell.Write(method, value)
	case SubchannelCompute:
		g.Kepler.Write(method, value)
	case Subchannel2D:
		g.Fermi.Write(method, value)
	default:
		g.ras.log.Warn("unhandled subchannel write",
			"subchannel", subchannel, "method", method)
	}
}

// WriteMulti dispatches a burst of values for one method.
func (g *GPU) WriteMulti(subchannel int, method uint32, values []uint32) {
	if subchannel == Subchannel3D {
		g.Maxwell.WriteMulti(method, values)
		return
	}
	for _, v := range values {
		g.Write(subchannel, method, v)
	}
}

// FlushRegion writes host-rendered content overlapping the CPU range
// back to guest memory, ahead of a guest read.
func (g *GPU) FlushRegion(addr mem.CpuAddr, size uint64) {
	g.ras.FlushRegion(addr, size)
}

// InvalidateRegion drops cached content overlapping the CPU range,
// after a guest write.
func (g *GPU) InvalidateRegion(addr mem.CpuAddr, size uint64) {
	g.ras.InvalidateRegion(addr, size)
}

// FlushAndInvalidate combines FlushRegion and InvalidateRegion.
func (g *GPU) FlushAndInvalidate(addr mem.CpuAddr, size uint64) {
	g.ras.FlushAndInvalidate(addr, size)
}

// UnmapRegion releases cache state backed by the CPU range without
// downloading it, then unmaps the GPU range. Called when the guest
// frees an allocation.
func (g *GPU) UnmapRegion(gpuAddr mem.GpuAddr, cpuAddr mem.CpuAddr, size uint64) {
	g.ras.UnmapRegion(cpuAddr, size)
	g.Memory.Unmap(gpuAddr, size)
}

// TickFrame runs per-frame housekeeping: cache sweeps, fence
// retirement and query resolution. Call once per guest frame.
func (g *GPU) TickFrame() {
	g.ras.TickFrame()
}

// WaitForIdle blocks until the host GPU has consumed all queued work
// and every pending query and fence has resolved.
func (g *GPU) WaitForIdle() {
	g.ras.WaitForIdle()
}

// SyncPointValue returns the current value of a guest sync point.
func (g *GPU) SyncPointValue(id uint32) uint32 {
	g.syncMu.Lock()
	defer g.syncMu.Unlock()
	return g.syncpoints[id]
}

// SetSyncPointCallback registers fn to run after each sync point
// increment, with the new value. The callback runs on the rasterizer
// thread during TickFrame.
func (g *GPU) SetSyncPointCallback(fn func(id, value uint32)) {
	g.syncMu.Lock()
	g.onSync = fn
	g.syncMu.Unlock()
}

func (g *GPU) incrementSyncPoint(id uint32) {
	g.syncMu.Lock()
	g.syncpoints[id]++
	v := g.syncpoints[id]
	fn := g.onSync
	g.syncMu.Unlock()
	if fn != nil {
		fn(id, v)
	}
}

// Close drains outstanding host work and stops the shader workers.
func (g *GPU) Close() {
	g.ras.Close()
}
