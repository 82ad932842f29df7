package shader

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/kentjhall/mizu-sub009/host"
	"github.com/kentjhall/mizu-sub009/mem"
	"github.com/kentjhall/mizu-sub009/shader/decode"
	"github.com/kentjhall/mizu-sub009/shader/glasm"
	"github.com/kentjhall/mizu-sub009/shader/glsl"
	"github.com/kentjhall/mizu-sub009/shader/ir"
	"github.com/kentjhall/mizu-sub009/shader/spirv"
)

// Page granularity of the invalidation index. Guest writes invalidate
// whole pages, so finer tracking buys nothing.
const cachePageBits = 14

// ErrUnmappedProgram reports a program address with no CPU backing.
var ErrUnmappedProgram = errors.New("shader: program address not mapped")

// CacheEntry is one recompiled program. Entries are immutable after
// their ready latch closes except for the invalidation mark.
type CacheEntry struct {
	UniqueHash uint64
	CpuAddr    mem.CpuAddr
	SizeBytes  uint32
	Stage      ir.Stage
	Info       ir.Info

	program host.Program
	failed  bool
	ready   chan struct{}

	marked bool // pending removal at the next sweep
}

// Program returns the host program, or false when the build failed.
// It blocks until an in-flight build finishes.
func (e *CacheEntry) Program() (host.Program, bool) {
	<-e.ready
	return e.program, !e.failed
}

// Failed reports whether the build failed. Blocks like Program.
func (e *CacheEntry) Failed() bool {
	<-e.ready
	return e.failed
}

// BuildOptions carries per-pipeline state that shapes emission.
type BuildOptions struct {
	ColorOutputs  uint32
	Xfb           []glsl.XfbVarying
	WorkgroupSize [3]uint32
}

// Config fixes cache-wide emission and host parameters.
type Config struct {
	Language host.ProgramLanguage
	Vendor   host.DriverVendor

	// BindlessSSBO enables GLASM buffer descriptors through program
	// local parameters.
	BindlessSSBO bool

	// Precise arithmetic on non-fragment stages.
	Precise bool

	// Disk persists transferable records when non-nil.
	Disk *DiskCache
}

// Cache owns all recompiled programs for one GPU channel.
type Cache struct {
	dev host.Device
	mm  *mem.Manager
	cfg Config
	log *slog.Logger

	mu     sync.RWMutex
	byAddr map[mem.CpuAddr]*CacheEntry
	byHash map[uint64]*CacheEntry
	byPage map[uint64][]*CacheEntry

	// invMu serializes invalidation marking against sweeps. It is
	// always taken before mu.
	invMu sync.Mutex
}

// NewCache creates an empty cache. logger may be nil.
func NewCache(dev host.Device, mm *mem.Manager, cfg Config, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Cache{
		dev:    dev,
		mm:     mm,
		cfg:    cfg,
		log:    logger,
		byAddr: map[mem.CpuAddr]*CacheEntry{},
		byHash: map[uint64]*CacheEntry{},
		byPage: map[uint64][]*CacheEntry{},
	}
}

// Get returns the cached entry for the program at gpuAddr, building it
// on a miss. Duplicate in-flight builds coalesce on the entry's latch.
func (c *Cache) Get(env Environment, gpuAddr mem.GpuAddr, opts BuildOptions) (*CacheEntry, error) {
	return c.get(env, gpuAddr, 0, nil, opts)
}

// GetPair resolves a two-part vertex program where the first half is a
// driver-injected prologue. The combined hash identifies the pair and
// both halves feed the recompiler, prologue first.
func (c *Cache) GetPair(envA Environment, addrA mem.GpuAddr, envB Environment, addrB mem.GpuAddr, opts BuildOptions) (*CacheEntry, error) {
	cpuA, ok := c.mm.GpuToCpu(addrA)
	if !ok {
		return nil, ErrUnmappedProgram
	}
	sizeA := AnalyzeProgramSize(envA, mainOffsetWords(false))
	codeA := readProgram(envA, sizeA)
	hashA := hashProgram(codeA)

	e, err := c.get(envB, addrB, hashA, codeA, opts)
	if err != nil {
		return nil, err
	}
	// Index the prologue's pages too so writes to either half
	// invalidate the pair.
	c.mu.Lock()
	c.byAddr[cpuA] = e
	c.indexRegion(e, cpuA, uint64(sizeA))
	c.mu.Unlock()
	return e, nil
}

func (c *Cache) get(env Environment, gpuAddr mem.GpuAddr, hashSeed uint64, prologue []uint64, opts BuildOptions) (*CacheEntry, error) {
	cpu, ok := c.mm.GpuToCpu(gpuAddr)
	if !ok {
		return nil, ErrUnmappedProgram
	}

	c.mu.RLock()
	if e, ok := c.byAddr[cpu]; ok && !e.marked {
		c.mu.RUnlock()
		<-e.ready
		return e, nil
	}
	c.mu.RUnlock()

	compute := env.Stage() == ir.StageCompute
	size := AnalyzeProgramSize(env, mainOffsetWords(compute))
	code := readProgram(env, size)
	hash := hashProgram(code) ^ hashSeed

	c.mu.Lock()
	if e, ok := c.byHash[hash]; ok && !e.marked {
		// Another address aliases the same code. Index it too.
		c.byAddr[cpu] = e
		c.indexRegion(e, cpu, uint64(size))
		c.mu.Unlock()
		<-e.ready
		return e, nil
	}
	e := &CacheEntry{
		UniqueHash: hash,
		CpuAddr:    cpu,
		SizeBytes:  size,
		Stage:      env.Stage(),
		ready:      make(chan struct{}),
	}
	c.byAddr[cpu] = e
	c.byHash[hash] = e
	c.indexPages(e)
	c.mu.Unlock()

	c.build(e, env, code, prologue, opts)
	return e, nil
}

func (c *Cache) build(e *CacheEntry, env Environment, code, prologue []uint64, opts BuildOptions) {
	defer close(e.ready)

	prog, info, err := c.compile(env, code, prologue, opts)
	if err != nil {
		e.failed = true
		c.log.Warn("shader build failed",
			"hash", fmt.Sprintf("%016x", e.UniqueHash),
			"stage", e.Stage.String(),
			"err", err)
		return
	}
	e.program = prog
	e.Info = *info

	if c.cfg.Disk != nil {
		if err := c.cfg.Disk.AppendTransferable(TransferableRecord{
			Hash:  e.UniqueHash,
			Stage: e.Stage,
			Code:  code,
		}); err != nil {
			c.log.Warn("disk cache append failed", "err", err)
		}
		if format, data, ok := prog.Binary(); ok {
			if err := c.cfg.Disk.AppendPrecompiled(PrecompiledRecord{
				Hash:   e.UniqueHash,
				Stage:  e.Stage,
				Format: format,
				Binary: data,
			}); err != nil {
				c.log.Warn("precompiled append failed", "err", err)
			}
		}
	}
}

// compile lowers guest code all the way to a host program. A non-empty
// prologue decodes separately and runs before the main program.
func (c *Cache) compile(env Environment, code, prologue []uint64, opts BuildOptions) (host.Program, *ir.Info, error) {
	program, err := decode.Decode(code, env.Stage())
	if err != nil {
		return nil, nil, err
	}
	if len(prologue) > 0 {
		pre, err := decode.Decode(prologue, env.Stage())
		if err != nil {
			return nil, nil, err
		}
		program = decode.MergePrograms(pre, program)
	}

	lang := c.cfg.Language
	if lang == host.LanguageGLASM && (len(opts.Xfb) > 0 || program.Info.UsesWarpOps) {
		lang = host.LanguageGLSL
	}

	var source []byte
	switch lang {
	case host.LanguageSPIRV:
		bin, err := spirv.Emit(program, spirv.Config{
			CbufBindingBase:    cbufBindingBase(env.Stage()),
			TextureBindingBase: textureBindingBase(env.Stage()),
			ColorOutputs:       opts.ColorOutputs,
			WorkgroupSize:      opts.WorkgroupSize,
		})
		var unsupported *spirv.ErrUnsupported
		if errors.As(err, &unsupported) {
			c.log.Debug("spirv fallback to glsl", "err", err)
			lang = host.LanguageGLSL
		} else if err != nil {
			return nil, nil, err
		} else {
			source = bin
		}
	case host.LanguageGLASM:
		text, err := glasm.Emit(program, glasm.Config{
			BindlessSSBO: c.cfg.BindlessSSBO,
			ColorOutputs: opts.ColorOutputs,
		})
		if err != nil {
			return nil, nil, err
		}
		source = []byte(text)
	}
	if lang == host.LanguageGLSL {
		text, err := glsl.Emit(program, glsl.Config{
			CbufBindingBase:             cbufBindingBase(env.Stage()),
			TextureBindingBase:          textureBindingBase(env.Stage()),
			ColorOutputs:                opts.ColorOutputs,
			Precise:                     c.cfg.Precise && env.Stage() != ir.StageFragment,
			FastMath:                    c.cfg.Vendor == host.VendorNvidia,
			ComponentIndexingWorkaround: c.cfg.Vendor == host.VendorAMD,
			UnsignedCastWorkaround:      c.cfg.Vendor == host.VendorAMD,
			Xfb:                         opts.Xfb,
		})
		if err != nil {
			return nil, nil, err
		}
		if env.Stage() == ir.StageCompute {
			text = expandWorkgroup(text, opts.WorkgroupSize)
		}
		source = []byte(text)
	}

	prog, err := c.dev.CompileProgram(hostStage(env.Stage()), lang, source)
	if err != nil {
		return nil, nil, err
	}
	return prog, &program.Info, nil
}

// InvalidateRegion marks entries overlapping [cpu, cpu+size) for
// removal. Host objects are retired at the next Sweep so draws already
// recorded keep their programs alive.
func (c *Cache) InvalidateRegion(cpu mem.CpuAddr, size uint64) {
	c.invMu.Lock()
	defer c.invMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	first := uint64(cpu) >> cachePageBits
	last := (uint64(cpu) + size - 1) >> cachePageBits
	for page := first; page <= last; page++ {
		for _, e := range c.byPage[page] {
			if overlaps(e, cpu, size) {
				e.marked = true
			}
		}
	}
}

// Sweep removes marked entries and deletes their host programs. Called
// at guest/host synchronization points.
func (c *Cache) Sweep() {
	c.invMu.Lock()
	defer c.invMu.Unlock()

	c.mu.Lock()
	marked := map[*CacheEntry]struct{}{}
	for page, list := range c.byPage {
		kept := list[:0]
		for _, e := range list {
			if e.marked {
				marked[e] = struct{}{}
			} else {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(c.byPage, page)
		} else {
			c.byPage[page] = kept
		}
	}
	for addr, e := range c.byAddr {
		if e.marked {
			delete(c.byAddr, addr)
		}
	}
	for hash, e := range c.byHash {
		if e.marked {
			delete(c.byHash, hash)
		}
	}
	retired := make([]*CacheEntry, 0, len(marked))
	for e := range marked {
		retired = append(retired, e)
	}
	c.mu.Unlock()

	for _, e := range retired {
		<-e.ready
		if e.program != nil {
			e.program.Delete()
		}
	}
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byHash)
}

func (c *Cache) indexPages(e *CacheEntry) {
	c.indexRegion(e, e.CpuAddr, uint64(e.SizeBytes))
}

func (c *Cache) indexRegion(e *CacheEntry, cpu mem.CpuAddr, size uint64) {
	first := uint64(cpu) >> cachePageBits
	last := (uint64(cpu) + size - 1) >> cachePageBits
	for page := first; page <= last; page++ {
		if !containsEntry(c.byPage[page], e) {
			c.byPage[page] = append(c.byPage[page], e)
		}
	}
}

func containsEntry(list []*CacheEntry, e *CacheEntry) bool {
	for _, have := range list {
		if have == e {
			return true
		}
	}
	return false
}

func overlaps(e *CacheEntry, cpu mem.CpuAddr, size uint64) bool {
	return uint64(e.CpuAddr) < uint64(cpu)+size &&
		uint64(cpu) < uint64(e.CpuAddr)+uint64(e.SizeBytes)
}

func hashProgram(code []uint64) uint64 {
	h := xxhash.New()
	var buf [8]byte
	for _, w := range code {
		binary.LittleEndian.PutUint64(buf[:], w)
		h.Write(buf[:])
	}
	return h.Sum64()
}

func hostStage(s ir.Stage) host.ShaderType {
	switch s {
	case ir.StageVertex:
		return host.ShaderVertex
	case ir.StageTessControl:
		return host.ShaderTessControl
	case ir.StageTessEval:
		return host.ShaderTessEval
	case ir.StageGeometry:
		return host.ShaderGeometry
	case ir.StageFragment:
		return host.ShaderFragment
	default:
		return host.ShaderCompute
	}
}

// Binding layout: 18 constant buffer slots and 32 texture units per
// stage, laid out by pipeline position.
func cbufBindingBase(s ir.Stage) uint32    { return uint32(stageIndex(s)) * 18 }
func textureBindingBase(s ir.Stage) uint32 { return uint32(stageIndex(s)) * 32 }

func stageIndex(s ir.Stage) int {
	if s == ir.StageCompute {
		return 0
	}
	return int(s)
}

func expandWorkgroup(text string, wg [3]uint32) string {
	r := strings.NewReplacer(
		"%%LOCAL_SIZE_X%%", fmt.Sprint(max(wg[0], 1)),
		"%%LOCAL_SIZE_Y%%", fmt.Sprint(max(wg[1], 1)),
		"%%LOCAL_SIZE_Z%%", fmt.Sprint(max(wg[2], 1)),
	)
	return r.Replace(text)
}
