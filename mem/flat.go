package mem

// Flat is a GuestMemory backed by a single contiguous byte slice starting at
// CPU address zero. The real emulator supplies a paged address space; Flat
// exists for tests and for the cache inspection tooling.
type Flat struct {
	data []byte
}

// NewFlat allocates a flat guest address space of the given size.
func NewFlat(size uint64) *Flat {
	return &Flat{data: make([]byte, size)}
}

// ReadBlock implements GuestMemory. Out-of-range bytes read as zero.
func (f *Flat) ReadBlock(addr CpuAddr, dst []byte) {
	for i := range dst {
		a := uint64(addr) + uint64(i)
		if a < uint64(len(f.data)) {
			dst[i] = f.data[a]
		} else {
			dst[i] = 0
		}
	}
}

// WriteBlock implements GuestMemory. Out-of-range bytes are dropped.
func (f *Flat) WriteBlock(addr CpuAddr, src []byte) {
	for i := range src {
		a := uint64(addr) + uint64(i)
		if a < uint64(len(f.data)) {
			f.data[a] = src[i]
		}
	}
}

// GetSpan implements GuestMemory.
func (f *Flat) GetSpan(addr CpuAddr, size uint64) []byte {
	if uint64(addr) >= uint64(len(f.data)) {
		return nil
	}
	end := uint64(addr) + size
	if end > uint64(len(f.data)) {
		end = uint64(len(f.data))
	}
	return f.data[addr:end]
}

// Size returns the size of the flat space.
func (f *Flat) Size() uint64 { return uint64(len(f.data)) }
