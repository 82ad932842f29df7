package render

import (
	"testing"

	"github.com/kentjhall/mizu-sub009/host/hosttest"
)

func TestFenceRetirementOrder(t *testing.T) {
	dev := hosttest.New()
	fm := NewFenceManager(dev, nil)

	var order []int
	fm.QueueFence(func() { order = append(order, 1) })
	fm.QueueFence(func() { order = append(order, 2) })
	fm.QueueFence(func() { order = append(order, 3) })

	fm.TickFrame()
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("retirement order = %v, want [1 2 3]", order)
	}
	if fm.Pending() != 0 {
		t.Errorf("pending = %d, want 0", fm.Pending())
	}
}

func TestFenceHoldsActionsUntilSignaled(t *testing.T) {
	dev := hosttest.New()
	dev.SignalSyncs = false
	fm := NewFenceManager(dev, nil)

	released := false
	fm.AddReleaseAction(func() { released = true })
	fm.QueueFence()

	fm.TickFrame()
	if released {
		t.Error("release action ran before the fence signaled")
	}
	if fm.Pending() != 1 {
		t.Errorf("pending = %d, want 1", fm.Pending())
	}

	dev.SignalSyncs = true
	fm.TickFrame()
	if !released {
		t.Error("release action did not run after the fence signaled")
	}
}

func TestFenceSyncPointSignal(t *testing.T) {
	dev := hosttest.New()
	fm := NewFenceManager(dev, nil)

	var signaled []uint32
	fm.SignalSyncPoint(7, func(id uint32) { signaled = append(signaled, id) })
	fm.TickFrame()
	if len(signaled) != 1 || signaled[0] != 7 {
		t.Errorf("signaled = %v, want [7]", signaled)
	}
}

func TestFenceWaitIdleDrainsUnsignaled(t *testing.T) {
	dev := hosttest.New()
	dev.SignalSyncs = false
	fm := NewFenceManager(dev, nil)

	done := false
	fm.QueueFence(func() { done = true })
	fm.WaitIdle()
	if !done {
		t.Error("WaitIdle must retire every fence")
	}
	if dev.CallCount("Sync.Wait") != 1 {
		t.Error("WaitIdle must block on the host sync")
	}
}

func TestFenceQueueingFlushes(t *testing.T) {
	dev := hosttest.New()
	fm := NewFenceManager(dev, nil)
	fm.QueueFence()
	if dev.CallCount("Flush") != 1 {
		t.Error("queueing a fence must flush the command stream")
	}
}
