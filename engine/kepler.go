package engine

import (
	"io"
	"log/slog"

	"github.com/kentjhall/mizu-sub009/mem"
)

// KeplerRegCount is the size of the compute engine's register image.
const KeplerRegCount = 0x200

// Kepler compute method indices.
const (
	KRegCodeAddressHigh = 0x10
	KRegCodeAddressLow  = 0x11

	KRegLaunchDescHigh = 0x20
	KRegLaunchDescLow  = 0x21
	KRegLaunch         = 0x2F

	// Inline upload, same shape as the 3D engine's.
	KRegUploadDstHigh = 0x60
	KRegUploadDstLow  = 0x61
	KRegUploadExec    = 0x6C
	KRegUploadData    = 0x6D
)

// NumComputeCbufs is the number of constant buffers a launch descriptor
// can bind.
const NumComputeCbufs = 8

// ComputeDescriptor is the decoded kernel launch descriptor.
type ComputeDescriptor struct {
	ProgramOffset          uint32 // byte offset from the compute code base
	GridX, GridY, GridZ    uint32
	BlockX, BlockY, BlockZ uint32
	SharedMemSize          uint32
	ConstBuffers           [NumComputeCbufs]ConstBuffer
}

// WorkgroupSize returns the block dimensions as the pipeline key expects
// them.
func (d *ComputeDescriptor) WorkgroupSize() [3]uint32 {
	return [3]uint32{d.BlockX, d.BlockY, d.BlockZ}
}

// launchDescWords is the size of the in-memory launch descriptor.
const launchDescWords = 8 + NumComputeCbufs*3

// ComputeLauncher receives decoded kernel launches.
type ComputeLauncher interface {
	DispatchCompute(desc ComputeDescriptor)
}

// KeplerCompute is the compute engine register file. Launches read their
// descriptor from GPU memory at the latched descriptor address.
type KeplerCompute struct {
	Regs [KeplerRegCount]uint32

	memory   *mem.Manager
	launcher ComputeLauncher
	log      *slog.Logger

	uploadOffset uint32
}

// NewKeplerCompute creates the compute engine.
func NewKeplerCompute(memory *mem.Manager, launcher ComputeLauncher, log *slog.Logger) *KeplerCompute {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &KeplerCompute{memory: memory, launcher: launcher, log: log}
}

// Write processes one (method, value) pair on the compute subchannel.
func (k *KeplerCompute) Write(method, value uint32) {
	if method >= KeplerRegCount {
		k.log.Warn("engine: unknown compute method", "method", method)
		return
	}
	k.Regs[method] = value

	switch method {
	case KRegUploadExec:
		k.uploadOffset = 0
	case KRegUploadData:
		dst := k.addr64(KRegUploadDstHigh) + mem.GpuAddr(k.uploadOffset*4)
		k.memory.Write32(dst, value)
		k.uploadOffset++
	case KRegLaunch:
		k.launch()
	}
}

// CodeAddress returns the base GPU address of compute shader code.
func (k *KeplerCompute) CodeAddress() mem.GpuAddr {
	return k.addr64(KRegCodeAddressHigh)
}

func (k *KeplerCompute) addr64(highIdx int) mem.GpuAddr {
	return mem.GpuAddr(uint64(k.Regs[highIdx])<<32 | uint64(k.Regs[highIdx+1]))
}

// launch reads and decodes the launch descriptor, then hands it off.
func (k *KeplerCompute) launch() {
	descAddr := k.addr64(KRegLaunchDescHigh)
	var raw [launchDescWords * 4]byte
	k.memory.ReadBlock(descAddr, raw[:])

	w := func(i int) uint32 {
		return uint32(raw[4*i]) | uint32(raw[4*i+1])<<8 |
			uint32(raw[4*i+2])<<16 | uint32(raw[4*i+3])<<24
	}

	desc := ComputeDescriptor{
		ProgramOffset: w(0),
		GridX:         w(1),
		GridY:         w(2),
		GridZ:         w(3),
		BlockX:        w(4),
		BlockY:        w(5),
		BlockZ:        w(6),
		SharedMemSize: w(7),
	}
	for i := 0; i < NumComputeCbufs; i++ {
		base := 8 + i*3
		addr := mem.GpuAddr(uint64(w(base+1))<<32 | uint64(w(base)))
		size := w(base + 2)
		desc.ConstBuffers[i] = ConstBuffer{
			Address: addr,
			Size:    size & 0x7FFFFFFF,
			Enabled: size&(1<<31) != 0,
		}
	}
	k.launcher.DispatchCompute(desc)
}
