// Package mem provides the GPU-side view of guest memory: translation from
// GPU virtual addresses to CPU virtual addresses and to host-backed byte
// slices. It is the sole translator in the module; caches key on CpuAddr
// for invalidation and on GpuAddr for resource lookup.
package mem

import (
	"encoding/binary"
	"io"
	"log/slog"
	"sync"
)

// GpuAddr is an address in the guest GPU's virtual address space.
type GpuAddr uint64

// CpuAddr is the CPU-visible backing address. It is the invalidation key
// used by every cache, because host CPU writes are observed there.
type CpuAddr uint64

// Page granularity of the GPU address space map.
const (
	PageBits = 16
	PageSize = 1 << PageBits
	PageMask = PageSize - 1
)

// GuestMemory is the CPU-side address space collaborator. The surrounding
// emulator owns it; the manager only translates into it.
//
// GetSpan returns a slice aliasing guest memory at addr, at most size bytes
// long, or nil if the address is unmapped. ReadBlock and WriteBlock must
// tolerate any mapped address range.
type GuestMemory interface {
	ReadBlock(addr CpuAddr, dst []byte)
	WriteBlock(addr CpuAddr, src []byte)
	GetSpan(addr CpuAddr, size uint64) []byte
}

// Manager translates GPU virtual addresses to CPU addresses and host
// pointers. Safe for concurrent readers; Map/Unmap take the write lock.
type Manager struct {
	mu    sync.RWMutex
	guest GuestMemory
	pages map[uint64]CpuAddr // GPU page index -> CPU base of that page

	warnedMu sync.Mutex
	warned   map[uint64]struct{} // GPU pages already warned as unmapped

	log *slog.Logger
}

// NewManager creates a manager over the given guest address space.
// A nil logger disables logging.
func NewManager(guest GuestMemory, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{
		guest:  guest,
		pages:  make(map[uint64]CpuAddr),
		warned: make(map[uint64]struct{}),
		log:    log,
	}
}

// Map establishes a GPU->CPU mapping for [gpuAddr, gpuAddr+size).
// Both addresses must be page aligned.
func (m *Manager) Map(gpuAddr GpuAddr, cpuAddr CpuAddr, size uint64) {
	if gpuAddr&PageMask != 0 || cpuAddr&PageMask != 0 {
		panic("mem: unaligned mapping")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for off := uint64(0); off < size; off += PageSize {
		m.pages[uint64(gpuAddr+GpuAddr(off))>>PageBits] = cpuAddr + CpuAddr(off)
	}
}

// Unmap removes the mapping for [gpuAddr, gpuAddr+size).
func (m *Manager) Unmap(gpuAddr GpuAddr, size uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for off := uint64(0); off < size; off += PageSize {
		delete(m.pages, uint64(gpuAddr+GpuAddr(off))>>PageBits)
	}
}

// GpuToCpu translates a GPU virtual address to its backing CPU address.
// Returns false if the page is unmapped.
func (m *Manager) GpuToCpu(gpuAddr GpuAddr) (CpuAddr, bool) {
	m.mu.RLock()
	base, ok := m.pages[uint64(gpuAddr)>>PageBits]
	m.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return base + CpuAddr(uint64(gpuAddr)&PageMask), true
}

// GetPointer returns a slice aliasing guest memory at gpuAddr, up to size
// bytes, or nil when the address is unmapped.
func (m *Manager) GetPointer(gpuAddr GpuAddr, size uint64) []byte {
	cpuAddr, ok := m.GpuToCpu(gpuAddr)
	if !ok {
		m.warnUnmapped(gpuAddr)
		return nil
	}
	return m.guest.GetSpan(cpuAddr, size)
}

// ReadBlock copies size bytes starting at gpuAddr into dst. Unmapped pages
// read as zeros with a warning.
func (m *Manager) ReadBlock(gpuAddr GpuAddr, dst []byte) {
	m.readBlock(gpuAddr, dst, true)
}

// ReadBlockUnsafe is ReadBlock without the unmapped-page warning. The
// shader fetch path uses it: program headers are speculatively read past
// holes and zero fill is the wanted behavior.
func (m *Manager) ReadBlockUnsafe(gpuAddr GpuAddr, dst []byte) {
	m.readBlock(gpuAddr, dst, false)
}

func (m *Manager) readBlock(gpuAddr GpuAddr, dst []byte, warn bool) {
	for len(dst) > 0 {
		pageOff := uint64(gpuAddr) & PageMask
		n := uint64(len(dst))
		if remain := PageSize - pageOff; n > remain {
			n = remain
		}
		cpuAddr, ok := m.GpuToCpu(gpuAddr)
		if ok {
			m.guest.ReadBlock(cpuAddr, dst[:n])
		} else {
			if warn {
				m.warnUnmapped(gpuAddr)
			}
			clear(dst[:n])
		}
		dst = dst[n:]
		gpuAddr += GpuAddr(n)
	}
}

// WriteBlock copies src to guest memory starting at gpuAddr. Writes to
// unmapped pages are dropped with a warning.
func (m *Manager) WriteBlock(gpuAddr GpuAddr, src []byte) {
	for len(src) > 0 {
		pageOff := uint64(gpuAddr) & PageMask
		n := uint64(len(src))
		if remain := PageSize - pageOff; n > remain {
			n = remain
		}
		cpuAddr, ok := m.GpuToCpu(gpuAddr)
		if ok {
			m.guest.WriteBlock(cpuAddr, src[:n])
		} else {
			m.warnUnmapped(gpuAddr)
		}
		src = src[n:]
		gpuAddr += GpuAddr(n)
	}
}

// Read32 reads a little-endian 32-bit word at gpuAddr.
func (m *Manager) Read32(gpuAddr GpuAddr) uint32 {
	var buf [4]byte
	m.ReadBlock(gpuAddr, buf[:])
	return binary.LittleEndian.Uint32(buf[:])
}

// Read64 reads a little-endian 64-bit word at gpuAddr.
func (m *Manager) Read64(gpuAddr GpuAddr) uint64 {
	var buf [8]byte
	m.ReadBlock(gpuAddr, buf[:])
	return binary.LittleEndian.Uint64(buf[:])
}

// Write32 writes a little-endian 32-bit word at gpuAddr.
func (m *Manager) Write32(gpuAddr GpuAddr, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	m.WriteBlock(gpuAddr, buf[:])
}

// Write64 writes a little-endian 64-bit word at gpuAddr.
func (m *Manager) Write64(gpuAddr GpuAddr, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	m.WriteBlock(gpuAddr, buf[:])
}

// WriteBlockCpu writes through a CPU address directly. Fence payloads and
// semaphore stamps land on already-translated addresses.
func (m *Manager) WriteBlockCpu(cpuAddr CpuAddr, src []byte) {
	m.guest.WriteBlock(cpuAddr, src)
}

// ReadBlockCpu reads from an already-translated CPU address.
func (m *Manager) ReadBlockCpu(cpuAddr CpuAddr, dst []byte) {
	m.guest.ReadBlock(cpuAddr, dst)
}

// warnUnmapped logs once per page so a title that polls a hole does not
// flood the log.
func (m *Manager) warnUnmapped(gpuAddr GpuAddr) {
	page := uint64(gpuAddr) >> PageBits
	m.warnedMu.Lock()
	_, seen := m.warned[page]
	if !seen {
		m.warned[page] = struct{}{}
	}
	m.warnedMu.Unlock()
	if !seen {
		m.log.Warn("mem: read from unmapped GPU address", "gpu_addr", uint64(gpuAddr))
	}
}
