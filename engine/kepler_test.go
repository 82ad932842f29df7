package engine

import (
	"encoding/binary"
	"testing"

	"github.com/kentjhall/mizu-sub009/mem"
)

type fakeLauncher struct {
	dispatches []ComputeDescriptor
}

func (l *fakeLauncher) DispatchCompute(d ComputeDescriptor) {
	l.dispatches = append(l.dispatches, d)
}

func TestComputeLaunch(t *testing.T) {
	mm := mem.NewManager(mem.NewFlat(1<<20), nil)
	mm.Map(0, 0, 1<<20)
	l := &fakeLauncher{}
	k := NewKeplerCompute(mm, l, nil)

	// Assemble a launch descriptor at 0x8000.
	desc := make([]byte, launchDescWords*4)
	put := func(i int, v uint32) {
		binary.LittleEndian.PutUint32(desc[4*i:], v)
	}
	put(0, 0x400)        // program offset
	put(1, 8)            // grid x
	put(2, 4)            // grid y
	put(3, 1)            // grid z
	put(4, 64)           // block x
	put(5, 1)            // block y
	put(6, 1)            // block z
	put(7, 0x2000)       // shared memory
	put(8, 0x9000)       // cbuf 0 addr low
	put(9, 0)            // cbuf 0 addr high
	put(10, 0x100|1<<31) // cbuf 0 size + enable
	mm.WriteBlock(0x8000, desc)

	k.Write(KRegCodeAddressHigh, 0)
	k.Write(KRegCodeAddressLow, 0x10000)
	k.Write(KRegLaunchDescHigh, 0)
	k.Write(KRegLaunchDescLow, 0x8000)
	k.Write(KRegLaunch, 1)

	if len(l.dispatches) != 1 {
		t.Fatalf("dispatches = %d, want 1", len(l.dispatches))
	}
	d := l.dispatches[0]
	if d.ProgramOffset != 0x400 || d.GridX != 8 || d.GridY != 4 || d.GridZ != 1 {
		t.Errorf("grid = %+v", d)
	}
	if d.WorkgroupSize() != [3]uint32{64, 1, 1} {
		t.Errorf("workgroup = %v", d.WorkgroupSize())
	}
	if d.SharedMemSize != 0x2000 {
		t.Errorf("shared mem = %#x", d.SharedMemSize)
	}
	cb := d.ConstBuffers[0]
	if !cb.Enabled || cb.Address != 0x9000 || cb.Size != 0x100 {
		t.Errorf("cbuf 0 = %+v", cb)
	}
	if k.CodeAddress() != 0x10000 {
		t.Errorf("code address = %#x", k.CodeAddress())
	}
}

func TestComputeInlineUpload(t *testing.T) {
	mm := mem.NewManager(mem.NewFlat(1<<20), nil)
	mm.Map(0, 0, 1<<20)
	k := NewKeplerCompute(mm, &fakeLauncher{}, nil)

	k.Write(KRegUploadDstHigh, 0)
	k.Write(KRegUploadDstLow, 0x5000)
	k.Write(KRegUploadExec, 1)
	k.Write(KRegUploadData, 0x1234)
	k.Write(KRegUploadData, 0x5678)

	if got := mm.Read32(0x5000); got != 0x1234 {
		t.Errorf("word 0 = %#x", got)
	}
	if got := mm.Read32(0x5004); got != 0x5678 {
		t.Errorf("word 1 = %#x", got)
	}
}
