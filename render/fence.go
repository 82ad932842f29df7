package render

import (
	"io"
	"log/slog"
	"sync"

	"github.com/kentjhall/mizu-sub009/host"
)

// fence is one queued host sync with the guest-visible effects that
// become observable once it signals.
type fence struct {
	sync    host.Sync
	actions []func()
}

// FenceManager orders guest-visible completion signals and resource
// retirement behind host fence syncs. Fences retire strictly in queue
// order; a signaled fence behind an unsignaled one waits, which keeps
// release actions from running before earlier work lands.
type FenceManager struct {
	dev host.Device
	log *slog.Logger

	mu     sync.Mutex
	queue  []*fence
	staged []func() // actions for the next QueueFence
}

// NewFenceManager creates an empty fence manager. logger may be nil.
func NewFenceManager(dev host.Device, logger *slog.Logger) *FenceManager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &FenceManager{dev: dev, log: logger}
}

// AddReleaseAction stages fn to run when the next queued fence retires.
// Cache sweeps hand their host-object deletions here.
func (m *FenceManager) AddReleaseAction(fn func()) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.staged = append(m.staged, fn)
	m.mu.Unlock()
}

// QueueFence inserts a host fence covering all commands recorded so
// far. Staged release actions and the given completion actions run when
// it retires.
func (m *FenceManager) QueueFence(onRetire ...func()) {
	m.mu.Lock()
	actions := append(m.staged, onRetire...)
	m.staged = nil
	m.mu.Unlock()

	f := &fence{sync: m.dev.FenceSync(), actions: actions}
	m.dev.Flush()

	m.mu.Lock()
	m.queue = append(m.queue, f)
	m.mu.Unlock()
}

// SignalSyncPoint queues a fence whose retirement calls signal(id).
func (m *FenceManager) SignalSyncPoint(id uint32, signal func(uint32)) {
	m.QueueFence(func() { signal(id) })
}

// SignalSemaphore queues a fence whose retirement runs the guest
// memory write.
func (m *FenceManager) SignalSemaphore(write func()) {
	m.QueueFence(write)
}

// TickFrame retires every leading signaled fence. Called once per
// frame boundary and at synchronization points.
func (m *FenceManager) TickFrame() {
	for {
		m.mu.Lock()
		if len(m.queue) == 0 || !m.queue[0].sync.Signaled() {
			m.mu.Unlock()
			return
		}
		f := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		m.retire(f)
	}
}

// WaitIdle blocks until every queued fence has signaled and retired.
func (m *FenceManager) WaitIdle() {
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return
		}
		f := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		f.sync.Wait()
		m.retire(f)
	}
}

// Pending reports the number of unretired fences.
func (m *FenceManager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func (m *FenceManager) retire(f *fence) {
	for _, fn := range f.actions {
		fn()
	}
	f.sync.Delete()
}
