package mem

import (
	"testing"
)

func TestMapAndTranslate(t *testing.T) {
	m := NewManager(NewFlat(1<<20), nil)
	m.Map(0x100000, 0x0, 1<<20)

	cpu, ok := m.GpuToCpu(0x100000)
	if !ok {
		t.Fatal("expected mapped address to translate")
	}
	if cpu != 0 {
		t.Errorf("expected CPU addr 0, got %#x", cpu)
	}

	// Offset within a page is preserved.
	cpu, ok = m.GpuToCpu(0x100000 + 0x1234)
	if !ok || cpu != 0x1234 {
		t.Errorf("expected 0x1234, got %#x (ok=%v)", cpu, ok)
	}

	// Unmapped address fails translation.
	if _, ok := m.GpuToCpu(0xdead0000); ok {
		t.Error("expected unmapped address to fail translation")
	}
}

func TestReadWriteRoundTrip(t *testing.T) {
	m := NewManager(NewFlat(1<<20), nil)
	m.Map(0x200000, 0x10000, 1<<16)

	m.Write32(0x200010, 0xdeadbeef)
	if got := m.Read32(0x200010); got != 0xdeadbeef {
		t.Errorf("Read32 = %#x, want 0xdeadbeef", got)
	}

	m.Write64(0x200020, 0x0123456789abcdef)
	if got := m.Read64(0x200020); got != 0x0123456789abcdef {
		t.Errorf("Read64 = %#x, want 0x0123456789abcdef", got)
	}
}

func TestUnmappedReadsZeroFill(t *testing.T) {
	m := NewManager(NewFlat(1<<16), nil)

	buf := []byte{1, 2, 3, 4}
	m.ReadBlock(0x900000, buf)
	for i, b := range buf {
		if b != 0 {
			t.Errorf("byte %d = %d, want 0", i, b)
		}
	}

	// ReadBlockUnsafe tolerates holes the same way, silently.
	buf = []byte{5, 6, 7, 8}
	m.ReadBlockUnsafe(0x900000, buf)
	for i, b := range buf {
		if b != 0 {
			t.Errorf("unsafe byte %d = %d, want 0", i, b)
		}
	}
}

func TestReadBlockSpansPages(t *testing.T) {
	m := NewManager(NewFlat(1<<20), nil)
	// Two GPU pages mapped to discontiguous CPU pages.
	m.Map(0x000000, 0x40000, PageSize)
	m.Map(0x010000, 0x80000, PageSize)

	m.Write32(GpuAddr(PageSize-2), 0x11223344)

	var buf [4]byte
	m.ReadBlock(GpuAddr(PageSize-2), buf[:])
	if buf[0] != 0x44 || buf[1] != 0x33 || buf[2] != 0x22 || buf[3] != 0x11 {
		t.Errorf("cross-page read = % x", buf)
	}
}

func TestGetPointer(t *testing.T) {
	m := NewManager(NewFlat(1<<20), nil)
	m.Map(0x300000, 0x0, 1<<16)

	p := m.GetPointer(0x300008, 16)
	if p == nil {
		t.Fatal("expected pointer for mapped address")
	}
	p[0] = 0xAB
	if got := m.Read32(0x300008) & 0xFF; got != 0xAB {
		t.Errorf("pointer write not visible: %#x", got)
	}

	if p := m.GetPointer(0xdead0000, 4); p != nil {
		t.Error("expected nil pointer for unmapped address")
	}
}

func TestUnmap(t *testing.T) {
	m := NewManager(NewFlat(1<<20), nil)
	m.Map(0x400000, 0x0, 2*PageSize)
	m.Unmap(0x400000, PageSize)

	if _, ok := m.GpuToCpu(0x400000); ok {
		t.Error("expected first page to be unmapped")
	}
	if _, ok := m.GpuToCpu(0x400000 + PageSize); !ok {
		t.Error("expected second page to stay mapped")
	}
}
