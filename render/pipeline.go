package render

import (
	"encoding/binary"
	"io"
	"log/slog"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/kentjhall/mizu-sub009/host"
	"github.com/kentjhall/mizu-sub009/shader"
)

// GraphicsKey identifies a linked graphics pipeline. Stage hashes are
// the shader cache's content hashes, so the key survives cache
// invalidation: identical code rebuilds to the identical pipeline.
type GraphicsKey struct {
	StageHashes     [5]uint64 // vertex..fragment; 0 = stage absent
	EarlyZ          bool
	GSInputTopology uint32
	TessPrimitive   uint32
	TessSpacing     uint32
	TessClockwise   bool
	XfbEnabled      bool
	XfbHash         uint64
}

// ComputeKey identifies a compute pipeline.
type ComputeKey struct {
	Hash      uint64
	SharedMem uint32
	Workgroup [3]uint32
}

// HashXfbState folds a transform feedback layout into a key component.
func HashXfbState(layouts [][2]uint32, varyings [][]byte) uint64 {
	h := xxhash.New()
	var buf [8]byte
	for _, l := range layouts {
		binary.LittleEndian.PutUint32(buf[:4], l[0])
		binary.LittleEndian.PutUint32(buf[4:], l[1])
		h.Write(buf[:])
	}
	for _, v := range varyings {
		h.Write(v)
	}
	return h.Sum64()
}

// Pipeline is one linked pipeline, possibly still building on a
// worker. Readiness is observable without blocking so draws can decide
// to skip instead of stalling.
type Pipeline struct {
	ready    chan struct{}
	pipeline host.Pipeline
	failed   bool
}

// Ready reports whether the build has finished, without blocking.
func (p *Pipeline) Ready() bool {
	select {
	case <-p.ready:
		return true
	default:
		return false
	}
}

// Host blocks until built and returns the host pipeline, or false when
// linking failed.
func (p *Pipeline) Host() (host.Pipeline, bool) {
	<-p.ready
	return p.pipeline, !p.failed
}

// Draws at or below this vertex count wait for their pipeline: a stall
// on a menu-sized draw is invisible while a skip would flicker.
const syncDrawThreshold = 32

// SkipDraw decides whether a draw waiting on an async pipeline build is
// dropped for the frame. Depth-only and depth-tested geometry must not
// be skipped: a missing depth write corrupts every later draw that
// tests against it.
func SkipDraw(p *Pipeline, depthTestEnabled bool, vertexCount int32) bool {
	if p.Ready() {
		return false
	}
	return !depthTestEnabled && vertexCount > syncDrawThreshold
}

// PipelineCache links per-stage programs into host pipelines, keyed by
// content. Builds go to the shader worker pool when async is on; tiny
// draws force a synchronous build so they land this frame.
type PipelineCache struct {
	dev   host.Device
	pool  *shader.CompilePool
	async bool
	log   *slog.Logger

	mu       sync.Mutex
	graphics map[GraphicsKey]*Pipeline
	compute  map[ComputeKey]*Pipeline
}

// NewPipelineCache creates an empty pipeline cache. pool may be nil,
// which disables async builds. logger may be nil.
func NewPipelineCache(dev host.Device, pool *shader.CompilePool, async bool, logger *slog.Logger) *PipelineCache {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &PipelineCache{
		dev:      dev,
		pool:     pool,
		async:    async && pool != nil,
		log:      logger,
		graphics: map[GraphicsKey]*Pipeline{},
		compute:  map[ComputeKey]*Pipeline{},
	}
}

// GetGraphics returns the pipeline for the key, starting a build on a
// miss from the given stage entries. sync forces an in-line build.
func (c *PipelineCache) GetGraphics(key GraphicsKey, stages []*shader.CacheEntry, sync bool) *Pipeline {
	c.mu.Lock()
	if p, ok := c.graphics[key]; ok {
		c.mu.Unlock()
		return p
	}
	p := &Pipeline{ready: make(chan struct{})}
	c.graphics[key] = p
	c.mu.Unlock()

	c.build(p, stages, sync)
	return p
}

// GetCompute returns the compute pipeline for the key, building on a
// miss. Compute dispatches cannot be skipped, so builds are always
// synchronous.
func (c *PipelineCache) GetCompute(key ComputeKey, kernel *shader.CacheEntry) *Pipeline {
	c.mu.Lock()
	if p, ok := c.compute[key]; ok {
		c.mu.Unlock()
		return p
	}
	p := &Pipeline{ready: make(chan struct{})}
	c.compute[key] = p
	c.mu.Unlock()

	c.build(p, []*shader.CacheEntry{kernel}, true)
	return p
}

func (c *PipelineCache) build(p *Pipeline, stages []*shader.CacheEntry, sync bool) {
	job := func() {
		defer close(p.ready)
		programs := make([]host.Program, 0, len(stages))
		for _, e := range stages {
			if e == nil {
				continue
			}
			prog, ok := e.Program()
			if !ok {
				p.failed = true
				return
			}
			programs = append(programs, prog)
		}
		pipe, err := c.dev.CreatePipeline(programs)
		if err != nil {
			p.failed = true
			c.log.Warn("pipeline link failed", "err", err)
			return
		}
		p.pipeline = pipe
	}
	if c.async && !sync {
		c.pool.Submit(job)
	} else {
		job()
	}
}

// Len reports live graphics plus compute pipelines.
func (c *PipelineCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.graphics) + len(c.compute)
}
