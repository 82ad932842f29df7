package render

import (
	"io"
	"log/slog"
	"sync"

	"github.com/kentjhall/mizu-sub009/engine"
	"github.com/kentjhall/mizu-sub009/host"
	"github.com/kentjhall/mizu-sub009/mem"
)

// StampWriter lands a resolved counter value in guest memory. The 3D
// engine's WriteQueryStamp implements it.
type StampWriter func(addr mem.GpuAddr, q engine.QueryGet, value uint64)

// report is one guest counter request waiting on host query results.
type report struct {
	addr    mem.GpuAddr
	q       engine.QueryGet
	queries []host.Query
	base    uint64
}

// QueryCache runs host occlusion counters as a stream of short query
// scopes. The guest starts one logical counter and samples it at
// arbitrary points; host queries cannot be read mid-scope, so the
// stream is paused (ending the current host query) at every sample and
// resumed with a fresh one.
type QueryCache struct {
	dev    host.Device
	write  StampWriter
	queued func() uint64
	log    *slog.Logger

	mu      sync.Mutex
	pool    map[host.QueryTarget][]host.Query
	active  map[host.QueryTarget]host.Query
	stream  map[host.QueryTarget][]host.Query
	pending []*report

	// lastQueued is the command counter at the last scope end. If no
	// command ran since, ending another scope would leave the driver an
	// empty query some implementations never resolve; a flush is
	// injected first.
	lastQueued uint64
}

// NewQueryCache creates a query cache. write lands resolved stamps;
// queued reads the engine's issued-command counter. logger may be nil.
func NewQueryCache(dev host.Device, write StampWriter, queued func() uint64, logger *slog.Logger) *QueryCache {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &QueryCache{
		dev:    dev,
		write:  write,
		queued: queued,
		log:    logger,
		pool:   map[host.QueryTarget][]host.Query{},
		active: map[host.QueryTarget]host.Query{},
		stream: map[host.QueryTarget][]host.Query{},
	}
}

// Enable opens a host query scope for the target if none is active.
// The rasterizer calls it before draws while the guest counter is on.
func (c *QueryCache) Enable(target host.QueryTarget) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enableLocked(target)
}

func (c *QueryCache) enableLocked(target host.QueryTarget) {
	if _, ok := c.active[target]; ok {
		return
	}
	q := c.grabLocked(target)
	q.Begin()
	c.active[target] = q
}

// Disable closes the active scope for the target, if any.
func (c *QueryCache) Disable(target host.QueryTarget) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disableLocked(target)
}

func (c *QueryCache) disableLocked(target host.QueryTarget) {
	q, ok := c.active[target]
	if !ok {
		return
	}
	if c.queued() == c.lastQueued {
		c.dev.Flush()
	}
	q.End()
	c.lastQueued = c.queued()
	delete(c.active, target)
	c.stream[target] = append(c.stream[target], q)
}

// Report samples the logical counter for the target: the stream is
// paused, every host query finished so far joins a pending report, and
// the stream resumes. The stamp lands when the results arrive.
func (c *QueryCache) Report(addr mem.GpuAddr, q engine.QueryGet, target host.QueryTarget) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, wasActive := c.active[target]
	c.disableLocked(target)

	r := &report{addr: addr, q: q, queries: c.stream[target]}
	c.stream[target] = nil
	c.pending = append(c.pending, r)

	if wasActive {
		c.enableLocked(target)
	}
}

// Reset discards the accumulated counter for the target. A COUNTER_RESET
// method write lands here.
func (c *QueryCache) Reset(target host.QueryTarget) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if q, ok := c.active[target]; ok {
		q.End()
		delete(c.active, target)
		c.pool[target] = append(c.pool[target], q)
		c.enableLocked(target)
	}
	c.pool[target] = append(c.pool[target], c.stream[target]...)
	c.stream[target] = nil
}

// TickFrame resolves pending reports whose host results are available
// without blocking.
func (c *QueryCache) TickFrame() {
	c.resolve(false)
}

// WaitAll blocks until every pending report has resolved and stamped.
func (c *QueryCache) WaitAll() {
	c.resolve(true)
}

func (c *QueryCache) resolve(block bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.pending[:0]
	for _, r := range c.pending {
		if !block && !resultsAvailable(r.queries) {
			kept = append(kept, r)
			continue
		}
		sum := r.base
		for _, q := range r.queries {
			sum += q.Result()
			c.pool[q.Target()] = append(c.pool[q.Target()], q)
		}
		c.write(r.addr, r.q, sum)
	}
	c.pending = kept
}

// PendingReports reports the number of unresolved counter samples.
func (c *QueryCache) PendingReports() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *QueryCache) grabLocked(target host.QueryTarget) host.Query {
	if list := c.pool[target]; len(list) > 0 {
		q := list[len(list)-1]
		c.pool[target] = list[:len(list)-1]
		return q
	}
	return c.dev.CreateQuery(target)
}

func resultsAvailable(queries []host.Query) bool {
	for _, q := range queries {
		if !q.ResultAvailable() {
			return false
		}
	}
	return true
}
