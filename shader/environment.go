// Package shader caches recompiled guest programs keyed by guest
// address, with a content hash guarding against aliasing, plus a disk
// cache so cold starts reuse previous sessions' work.
package shader

import (
	"encoding/binary"

	"github.com/kentjhall/mizu-sub009/mem"
	"github.com/kentjhall/mizu-sub009/shader/ir"
)

// Environment supplies everything a program build needs from guest
// state. Graphics and compute programs read code and constant buffers
// through different engine registers, so each gets its own
// implementation.
type Environment interface {
	// ReadInstruction returns the 64-bit word at a byte offset from
	// the program start.
	ReadInstruction(offset uint32) uint64

	// ReadCbufValue reads one word of a bound constant buffer, used
	// to resolve texture handles at build time.
	ReadCbufValue(slot uint16, offset uint32) uint32

	// TextureType resolves the sampler dimensionality behind a
	// texture handle.
	TextureType(handle uint32) ir.TextureType

	Stage() ir.Stage
	LocalMemorySize() uint32
	SharedMemorySize() uint32
	WorkgroupSize() [3]uint32
}

// GraphicsEnvironment reads a stage program from GPU memory.
type GraphicsEnvironment struct {
	Mem          *mem.Manager
	ProgramBase  mem.GpuAddr
	ProgramStage ir.Stage

	// CbufBase holds the GPU addresses of the bound constant buffers
	// at build time, for texture handle resolution.
	CbufBase [18]mem.GpuAddr
}

func (e *GraphicsEnvironment) ReadInstruction(offset uint32) uint64 {
	var buf [8]byte
	e.Mem.ReadBlockUnsafe(e.ProgramBase+mem.GpuAddr(offset), buf[:])
	return binary.LittleEndian.Uint64(buf[:])
}

func (e *GraphicsEnvironment) ReadCbufValue(slot uint16, offset uint32) uint32 {
	if int(slot) >= len(e.CbufBase) || e.CbufBase[slot] == 0 {
		return 0
	}
	return e.Mem.Read32(e.CbufBase[slot] + mem.GpuAddr(offset))
}

func (e *GraphicsEnvironment) TextureType(handle uint32) ir.TextureType {
	// The descriptor pool is not consulted here; 2D covers the
	// implemented sampling subset.
	return ir.Texture2D
}

func (e *GraphicsEnvironment) Stage() ir.Stage          { return e.ProgramStage }
func (e *GraphicsEnvironment) LocalMemorySize() uint32  { return 0 }
func (e *GraphicsEnvironment) SharedMemorySize() uint32 { return 0 }
func (e *GraphicsEnvironment) WorkgroupSize() [3]uint32 { return [3]uint32{1, 1, 1} }

// ComputeEnvironment reads a kernel described by a launch descriptor.
type ComputeEnvironment struct {
	Mem         *mem.Manager
	ProgramBase mem.GpuAddr
	CbufBase    [8]mem.GpuAddr

	SharedMem uint32
	LocalMem  uint32
	Workgroup [3]uint32
}

func (e *ComputeEnvironment) ReadInstruction(offset uint32) uint64 {
	var buf [8]byte
	e.Mem.ReadBlockUnsafe(e.ProgramBase+mem.GpuAddr(offset), buf[:])
	return binary.LittleEndian.Uint64(buf[:])
}

func (e *ComputeEnvironment) ReadCbufValue(slot uint16, offset uint32) uint32 {
	if int(slot) >= len(e.CbufBase) || e.CbufBase[slot] == 0 {
		return 0
	}
	return e.Mem.Read32(e.CbufBase[slot] + mem.GpuAddr(offset))
}

func (e *ComputeEnvironment) TextureType(handle uint32) ir.TextureType {
	return ir.Texture2D
}

func (e *ComputeEnvironment) Stage() ir.Stage          { return ir.StageCompute }
func (e *ComputeEnvironment) LocalMemorySize() uint32  { return e.LocalMem }
func (e *ComputeEnvironment) SharedMemorySize() uint32 { return e.SharedMem }
func (e *ComputeEnvironment) WorkgroupSize() [3]uint32 { return e.Workgroup }
