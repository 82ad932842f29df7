package shader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"

	"github.com/kentjhall/mizu-sub009/host"
	"github.com/kentjhall/mizu-sub009/shader/ir"
)

// CompilePool runs shader builds on worker goroutines, each pinned to
// an OS thread with its own GL context sharing objects with the main
// one. GL contexts are per-thread state, so a plain goroutine pool
// cannot issue compile calls.
type CompilePool struct {
	jobs     chan func()
	wg       sync.WaitGroup
	destroys []func()
	log      *slog.Logger
}

// NewCompilePool starts workers with shared contexts from provider. If
// workers is 0 or negative, NumCPU+1 is used so one worker can block on
// a driver link while the rest stay busy. logger may be nil.
func NewCompilePool(ctx context.Context, provider host.ContextProvider, workers int, logger *slog.Logger) (*CompilePool, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if workers <= 0 {
		workers = runtime.NumCPU() + 1
	}

	p := &CompilePool{
		jobs: make(chan func(), workers*4),
		log:  logger,
	}
	for i := 0; i < workers; i++ {
		makeCurrent, destroy, err := provider.NewSharedContext()
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("shader worker %d: %w", i, err)
		}
		p.destroys = append(p.destroys, destroy)
		p.wg.Add(1)
		go p.worker(ctx, makeCurrent)
	}
	return p, nil
}

func (p *CompilePool) worker(ctx context.Context, makeCurrent func()) {
	defer p.wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	makeCurrent()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			job()
		}
	}
}

// Submit queues one build. Blocks when all workers are busy and the
// queue is full, which throttles disk cache loading to compile speed.
func (p *CompilePool) Submit(job func()) {
	p.jobs <- job
}

// Close stops accepting work, waits for in-flight builds, and destroys
// the worker contexts.
func (p *CompilePool) Close() {
	if p.jobs != nil {
		close(p.jobs)
		p.jobs = nil
	}
	p.wg.Wait()
	for _, destroy := range p.destroys {
		destroy()
	}
	p.destroys = nil
}

// diskEnvironment satisfies Environment for rebuilds from stored code,
// where no guest state exists to consult.
type diskEnvironment struct {
	stage ir.Stage
}

func (e *diskEnvironment) ReadInstruction(uint32) uint64       { return 0 }
func (e *diskEnvironment) ReadCbufValue(uint16, uint32) uint32 { return 0 }
func (e *diskEnvironment) TextureType(uint32) ir.TextureType   { return ir.Texture2D }
func (e *diskEnvironment) Stage() ir.Stage                     { return e.stage }
func (e *diskEnvironment) LocalMemorySize() uint32             { return 0 }
func (e *diskEnvironment) SharedMemorySize() uint32            { return 0 }
func (e *diskEnvironment) WorkgroupSize() [3]uint32            { return [3]uint32{1, 1, 1} }

// LoadDisk primes the cache from stored records, preferring driver
// binaries and falling back to recompilation. Cancelling ctx stops
// between records; partial loads are fine, the rest rebuilds on demand.
func (c *Cache) LoadDisk(ctx context.Context, pool *CompilePool) error {
	if c.cfg.Disk == nil {
		return nil
	}
	records, err := c.cfg.Disk.LoadTransferable()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	precompiled, err := c.cfg.Disk.LoadPrecompiled()
	if err != nil {
		c.log.Warn("precompiled load failed", "err", err)
	}
	binaries := make(map[uint64]PrecompiledRecord, len(precompiled))
	for _, rec := range precompiled {
		binaries[rec.Hash] = rec
	}

	var wg sync.WaitGroup
	var rejected sync.Once
	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		rec := rec
		wg.Add(1)
		pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			c.loadRecord(rec, binaries, &rejected)
		})
	}
	wg.Wait()
	c.log.Info("shader disk cache loaded", "programs", len(records))
	return ctx.Err()
}

func (c *Cache) loadRecord(rec TransferableRecord, binaries map[uint64]PrecompiledRecord, rejected *sync.Once) {
	c.mu.Lock()
	if _, ok := c.byHash[rec.Hash]; ok {
		c.mu.Unlock()
		return
	}
	e := &CacheEntry{
		UniqueHash: rec.Hash,
		SizeBytes:  uint32(len(rec.Code) * 8),
		Stage:      rec.Stage,
		ready:      make(chan struct{}),
	}
	c.byHash[rec.Hash] = e
	c.mu.Unlock()
	defer close(e.ready)

	if bin, ok := binaries[rec.Hash]; ok {
		prog, err := c.dev.LoadProgramBinary(hostStage(rec.Stage), bin.Format, bin.Binary)
		if err == nil {
			e.program = prog
			return
		}
		// One rejection means the whole file is suspect.
		rejected.Do(c.cfg.Disk.InvalidatePrecompiled)
	}

	env := &diskEnvironment{stage: rec.Stage}
	prog, info, err := c.compile(env, rec.Code, nil, BuildOptions{
		ColorOutputs:  8,
		WorkgroupSize: [3]uint32{1, 1, 1},
	})
	if err != nil {
		e.failed = true
		c.log.Warn("disk cache rebuild failed",
			"hash", fmt.Sprintf("%016x", rec.Hash), "err", err)
		return
	}
	e.program = prog
	e.Info = *info
}
