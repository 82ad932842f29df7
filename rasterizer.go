package gtc

import (
	"context"
	"encoding/binary"
	"log/slog"

	"github.com/kentjhall/mizu-sub009/buffer"
	"github.com/kentjhall/mizu-sub009/engine"
	"github.com/kentjhall/mizu-sub009/host"
	"github.com/kentjhall/mizu-sub009/mem"
	"github.com/kentjhall/mizu-sub009/render"
	"github.com/kentjhall/mizu-sub009/shader"
	"github.com/kentjhall/mizu-sub009/shader/glsl"
	"github.com/kentjhall/mizu-sub009/shader/ir"
	"github.com/kentjhall/mizu-sub009/texture"
)

// descriptorWords is the TIC/TSC descriptor size in 32-bit words.
const descriptorWords = 8

// Rasterizer turns engine triggers into host GPU work. It implements
// engine.Processor, engine.ComputeLauncher and engine.SurfaceCopier and
// owns every cache between guest state and the device.
type Rasterizer struct {
	dev host.Device
	mm  *mem.Manager
	cfg Settings
	log *slog.Logger

	maxwell *engine.Maxwell3D
	kepler  *engine.KeplerCompute

	shaders      *shader.Cache
	textures     *texture.Cache
	buffers      *buffer.Cache
	framebuffers *render.FramebufferCache
	pipelines    *render.PipelineCache
	queries      *render.QueryCache
	fences       *render.FenceManager

	pool        *shader.CompilePool
	onSyncPoint func(id uint32)

	// instance counts repeated instanced draws of the same vertex set.
	instance uint32
}

func newRasterizer(dev host.Device, mm *mem.Manager, cfg Settings, provider host.ContextProvider, log *slog.Logger) (*Rasterizer, error) {
	caps := dev.Capabilities()
	vendor := host.ClassifyVendor(caps.Vendor)

	lang := cfg.Language
	if lang == host.LanguageGLASM && !caps.HasAssemblyShaders {
		log.Warn("assembly shaders unsupported by host, using GLSL")
		lang = host.LanguageGLSL
	}

	var disk *shader.DiskCache
	if cfg.ShaderCacheRoot != "" {
		d, err := shader.NewDiskCache(cfg.ShaderCacheRoot, cfg.TitleID, caps.Vendor, log)
		if err != nil {
			log.Warn("disk shader cache unavailable", "err", err)
		} else {
			disk = d
		}
	}

	var pool *shader.CompilePool
	if cfg.AsyncShaders && provider != nil {
		p, err := shader.NewCompilePool(context.Background(), provider, cfg.CompileWorkers, log)
		if err != nil {
			return nil, err
		}
		pool = p
	}

	r := &Rasterizer{
		dev: dev,
		mm:  mm,
		cfg: cfg,
		log: log,
		shaders: shader.NewCache(dev, mm, shader.Config{
			Language:     lang,
			Vendor:       vendor,
			BindlessSSBO: lang == host.LanguageGLASM,
			Precise:      cfg.Accuracy >= AccuracyHigh,
			Disk:         disk,
		}, log),
		textures:     texture.NewCache(dev, mm, log),
		buffers:      buffer.NewCache(dev, mm, log),
		framebuffers: render.NewFramebufferCache(dev, log),
		fences:       render.NewFenceManager(dev, log),
		pool:         pool,
	}
	r.pipelines = render.NewPipelineCache(dev, pool, cfg.AsyncShaders, log)
	return r, nil
}

// attach binds the engines once they exist; the query cache needs the
// 3D engine's stamp writer and command counter.
func (r *Rasterizer) attach(m *engine.Maxwell3D, k *engine.KeplerCompute) {
	r.maxwell = m
	r.kepler = k
	r.queries = render.NewQueryCache(r.dev, m.WriteQueryStamp,
		func() uint64 { return m.QueuedCommands }, r.log)
}

// Draw implements engine.Processor.
func (r *Rasterizer) Draw(instanced bool) {
	regs := &r.maxwell.Regs
	if instanced {
		r.instance++
	} else {
		r.instance = 0
	}

	if regs.Image[engine.RegSamplecntEnable] != 0 {
		r.queries.Enable(host.QuerySamplesPassed)
	} else {
		r.queries.Disable(host.QuerySamplesPassed)
	}

	if !r.setupFramebuffer(false) {
		return
	}
	r.syncState()

	topo, ok := drawTopology(regs.Topology())
	if !ok {
		r.log.Warn("draw skipped: unhandled topology", "topology", regs.Topology())
		return
	}

	entries, envs, key, xfb, ok := r.setupShaders()
	if !ok {
		return
	}

	index := regs.IndexArrayState()
	indexed := index.Count != 0
	var params host.DrawParams
	params.Topology = topo
	params.Indexed = indexed
	params.Instances = 1
	params.BaseInstance = regs.BaseInstance() + r.instance
	if indexed {
		params.Count = int32(index.Count)
		params.BaseVertex = regs.BaseVertex()
	} else {
		first, count := regs.VertexBufferRange()
		params.First = int32(first)
		params.Count = int32(count)
	}

	depthTest := regs.Image[engine.RegDepthTestEnable] != 0
	p := r.pipelines.GetGraphics(key, entries[:], !r.cfg.AsyncShaders)
	if render.SkipDraw(p, depthTest, params.Count) {
		r.log.Debug("draw skipped while pipeline builds", "vertices", params.Count)
		return
	}
	pipe, built := p.Host()
	if !built {
		r.log.Warn("draw skipped: pipeline build failed")
		return
	}
	r.dev.BindPipeline(pipe)

	r.bindStageResources(entries, envs)
	r.bindVertexBuffers()
	if indexed {
		elem := index.Format.Bytes()
		size := uint64(index.First+index.Count) * uint64(elem)
		off, err := r.buffers.BindIndex(index.Start, size)
		if err != nil {
			r.log.Warn("draw skipped: index buffer", "err", err)
			return
		}
		params.IndexType = host.IndexType(index.Format)
		params.IndexOffset = off + uintptr(index.First*elem)
	}

	if xfb {
		if !r.bindTransformFeedback() {
			return
		}
		r.dev.BeginTransformFeedback(topo)
		r.dev.Draw(params)
		r.dev.EndTransformFeedback()
		return
	}
	r.dev.Draw(params)
}

// Clear implements engine.Processor. Only the state a clear observes is
// synced: color mask, scissor, rasterizer discard, and the depth and
// stencil write paths.
func (r *Rasterizer) Clear(flags engine.ClearFlags) {
	regs := &r.maxwell.Regs
	if !r.setupFramebuffer(true) {
		return
	}

	d := r.maxwell.Dirty
	if d.CheckAndClear(engine.FlagColorMask) {
		r.syncColorMask()
	}
	if d.CheckAndClear(engine.FlagScissors) {
		r.syncScissorTest()
	}
	if d.CheckAndClear(engine.FlagRasterizeEnable) {
		r.syncRasterizeEnable()
	}
	if d.CheckAndClear(engine.FlagDepthTest) {
		r.syncDepthTestState()
	}
	if d.CheckAndClear(engine.FlagStencilTest) {
		r.syncStencilTestState()
	}

	r.dev.Clear(host.ClearParams{
		ColorMask:    [4]bool{flags.R, flags.G, flags.B, flags.A},
		Color:        regs.ClearColor(),
		ColorIndex:   flags.RT,
		ClearColor:   flags.R || flags.G || flags.B || flags.A,
		ClearDepth:   flags.Depth,
		Depth:        regs.ClearDepth(),
		ClearStencil: flags.Stencil,
		Stencil:      int32(regs.ClearStencil()),
	})
}

// QueryCounter implements engine.Processor. Sample counters go through
// the query stream; timestamps resolve immediately.
func (r *Rasterizer) QueryCounter(addr mem.GpuAddr, q engine.QueryGet, payload uint32) {
	switch q.Select {
	case engine.QuerySelectSamplesPassed:
		r.queries.Report(addr, q, host.QuerySamplesPassed)
	case engine.QuerySelectTimestamp:
		r.maxwell.WriteQueryStamp(addr, q, uint64(payload))
	default:
		r.log.Warn("unhandled query counter", "select", uint32(q.Select))
	}
}

// SignalSyncPoint implements engine.Processor. The increment lands once
// the host fence queued here retires.
func (r *Rasterizer) SignalSyncPoint(id uint32) {
	r.fences.SignalSyncPoint(id, func(id uint32) {
		if r.onSyncPoint != nil {
			r.onSyncPoint(id)
		}
	})
}

// DispatchCompute implements engine.ComputeLauncher.
func (r *Rasterizer) DispatchCompute(desc engine.ComputeDescriptor) {
	code := r.kepler.CodeAddress() + mem.GpuAddr(desc.ProgramOffset)
	env := &shader.ComputeEnvironment{
		Mem:         r.mm,
		ProgramBase: code,
		SharedMem:   desc.SharedMemSize,
		Workgroup:   desc.WorkgroupSize(),
	}
	for i, cb := range desc.ConstBuffers {
		if cb.Enabled {
			env.CbufBase[i] = cb.Address
		}
	}

	entry, err := r.shaders.Get(env, code, shader.BuildOptions{
		WorkgroupSize: desc.WorkgroupSize(),
	})
	if err != nil {
		r.log.Warn("dispatch skipped: kernel", "err", err)
		return
	}
	p := r.pipelines.GetCompute(render.ComputeKey{
		Hash:      entry.UniqueHash,
		SharedMem: desc.SharedMemSize,
		Workgroup: desc.WorkgroupSize(),
	}, entry)
	pipe, built := p.Host()
	if !built {
		r.log.Warn("dispatch skipped: pipeline build failed")
		return
	}
	r.dev.BindPipeline(pipe)

	// Compute shares binding base 0 with the vertex stage; only one of
	// the two pipelines is bound at a time.
	for slot, cb := range desc.ConstBuffers {
		if !cb.Enabled || entry.Info.ConstBuffersUsed&(1<<slot) == 0 {
			continue
		}
		if err := r.buffers.BindUniform(uint32(slot), cb.Address, uint64(cb.Size)); err != nil {
			r.log.Warn("compute cbuf bind failed", "slot", slot, "err", err)
		}
	}
	r.bindTextures(entry, env, 0)

	r.maxwell.QueuedCommands++
	r.dev.Dispatch(desc.GridX, desc.GridY, desc.GridZ)
}

// Copy2D implements engine.SurfaceCopier by resolving both sides in the
// texture cache and blitting host-side.
func (r *Rasterizer) Copy2D(region engine.Copy2DRegion) {
	src, err := r.textures.GetColorSurface(copySurfaceRT(region.Src), false)
	if err != nil || src == nil {
		r.log.Warn("2d copy dropped: source", "err", err)
		return
	}
	dstFull := region.DstRect == [4]uint32{0, 0, region.Dst.Width, region.Dst.Height}
	dst, err := r.textures.GetColorSurface(copySurfaceRT(region.Dst), dstFull)
	if err != nil || dst == nil {
		r.log.Warn("2d copy dropped: destination", "err", err)
		return
	}
	r.textures.Copy2D(src.Surface(), dst.Surface(), region.SrcRect, region.DstRect)
}

func copySurfaceRT(s engine.Copy2DSurface) engine.RenderTarget {
	return engine.RenderTarget{
		Address:  s.Address,
		Width:    s.Width,
		Height:   s.Height,
		Format:   s.Format,
		TileMode: s.TileMode,
		Depth:    1,
	}
}

// FlushRegion downloads host-written content overlapping the CPU range.
func (r *Rasterizer) FlushRegion(addr mem.CpuAddr, size uint64) {
	r.textures.FlushRegion(addr, size)
	r.buffers.FlushRegion(addr, size)
}

// InvalidateRegion drops cached content overlapping the CPU range.
func (r *Rasterizer) InvalidateRegion(addr mem.CpuAddr, size uint64) {
	r.shaders.InvalidateRegion(addr, size)
	r.textures.InvalidateRegion(addr, size)
	r.buffers.InvalidateRegion(addr, size)
}

// FlushAndInvalidate combines FlushRegion and InvalidateRegion.
func (r *Rasterizer) FlushAndInvalidate(addr mem.CpuAddr, size uint64) {
	r.FlushRegion(addr, size)
	r.InvalidateRegion(addr, size)
}

// UnmapRegion drops cache state over the range without downloading.
func (r *Rasterizer) UnmapRegion(addr mem.CpuAddr, size uint64) {
	r.shaders.InvalidateRegion(addr, size)
	r.textures.InvalidateRegion(addr, size)
	r.buffers.UnmapRegion(addr, size)
}

// TickFrame sweeps the caches, queues a frame fence and retires
// everything the host has finished. Sweep releases are deferred behind
// the fence so in-flight draws keep their objects.
func (r *Rasterizer) TickFrame() {
	if release := r.framebuffers.Sweep(); release != nil {
		r.fences.AddReleaseAction(release)
	}
	if release := r.textures.Sweep(); release != nil {
		r.fences.AddReleaseAction(release)
	}
	if release := r.buffers.Sweep(); release != nil {
		r.fences.AddReleaseAction(release)
	}
	r.shaders.Sweep()

	r.fences.QueueFence()
	r.queries.TickFrame()
	r.fences.TickFrame()
}

// WaitForIdle drains queries, fences and the host pipeline.
func (r *Rasterizer) WaitForIdle() {
	r.queries.WaitAll()
	r.fences.WaitIdle()
	r.dev.Finish()
}

// Close drains outstanding work and stops the shader workers.
func (r *Rasterizer) Close() {
	r.WaitForIdle()
	if r.pool != nil {
		r.pool.Close()
	}
}

// setupFramebuffer resolves the bound render targets into a host
// framebuffer. Failed slots are left unattached; a false return means
// nothing could be attached at all for a draw that needs attachments.
func (r *Rasterizer) setupFramebuffer(isClear bool) bool {
	regs := &r.maxwell.Regs
	count, remap := regs.RTControl()
	if count > engine.NumRenderTargets {
		count = engine.NumRenderTargets
	}

	var key render.FramebufferKey
	for i := uint32(0); i < count; i++ {
		rt := regs.RenderTargetState(int(i))
		view, err := r.textures.GetColorSurface(rt, isClear)
		if err != nil {
			r.log.Warn("render target unresolved", "slot", i, "err", err)
			continue
		}
		key.Colors[i] = view
	}
	if zeta := regs.ZetaState(); zeta.Enabled {
		view, err := r.textures.GetDepthSurface(zeta, isClear)
		if err != nil {
			r.log.Warn("depth target unresolved", "err", err)
		} else {
			key.Zeta = view
		}
	}
	key.AttachmentMap = packAttachmentMap(count, remap)

	fb := r.framebuffers.Get(key)
	r.dev.BindFramebuffer(fb)
	return true
}

// packAttachmentMap folds the register's 4-bit-per-slot remap into the
// framebuffer key's draw-buffer layout: the attachment count in the top
// nibble and 3 bits per fragment output below it.
func packAttachmentMap(count, remap uint32) uint32 {
	packed := count << 28
	for i := uint32(0); i < count; i++ {
		packed |= ((remap >> (4 * i)) & 0x7) << (3 * i)
	}
	return packed
}

// setupShaders resolves the enabled stages into cache entries and the
// pipeline key. envs parallel entries for later resource binding.
func (r *Rasterizer) setupShaders() (entries [5]*shader.CacheEntry, envs [5]*shader.GraphicsEnvironment, key render.GraphicsKey, xfb bool, ok bool) {
	regs := &r.maxwell.Regs
	base := regs.ShaderBaseAddress()
	rtCount, _ := regs.RTControl()

	xfb = regs.TFBEnabled()
	var xfbVaryings []glsl.XfbVarying
	if xfb {
		var layouts [][2]uint32
		for i := 0; i < engine.NumTransformFeedbackBuffers; i++ {
			layout := regs.TFBLayoutState(i)
			layouts = append(layouts, [2]uint32{layout.Stride, layout.VaryingCount})
			for v := uint32(0); v < layout.VaryingCount; v++ {
				xfbVaryings = append(xfbVaryings, glsl.XfbVarying{
					Location: v,
					Buffer:   uint32(i),
					Offset:   v * 16,
					Stride:   layout.Stride,
				})
			}
		}
		key.XfbEnabled = true
		key.XfbHash = render.HashXfbState(layouts, nil)
	}

	// The last geometry-capable stage carries the feedback varyings.
	xfbStage := ir.StageVertex
	if regs.ShaderConfigState(engine.StageGeometry).Enabled {
		xfbStage = ir.StageGeometry
	}

	for stage := engine.StageVertexB; stage <= engine.StageFragment; stage++ {
		cfg := regs.ShaderConfigState(stage)
		if !cfg.Enabled {
			continue
		}
		irStage := ir.Stage(stage - engine.StageVertexB)
		env := &shader.GraphicsEnvironment{
			Mem:          r.mm,
			ProgramBase:  base + mem.GpuAddr(cfg.Offset),
			ProgramStage: irStage,
		}
		for slot, cb := range r.maxwell.BoundConstBuffers[irStage] {
			if cb.Enabled {
				env.CbufBase[slot] = cb.Address
			}
		}

		opts := shader.BuildOptions{ColorOutputs: rtCount}
		if xfb && irStage == xfbStage {
			opts.Xfb = xfbVaryings
		}

		var entry *shader.CacheEntry
		var err error
		if prologue := regs.ShaderConfigState(engine.StageVertexA); stage == engine.StageVertexB && prologue.Enabled {
			envA := &shader.GraphicsEnvironment{
				Mem:          r.mm,
				ProgramBase:  base + mem.GpuAddr(prologue.Offset),
				ProgramStage: ir.StageVertex,
				CbufBase:     env.CbufBase,
			}
			entry, err = r.shaders.GetPair(envA, envA.ProgramBase, env, env.ProgramBase, opts)
		} else {
			entry, err = r.shaders.Get(env, env.ProgramBase, opts)
		}
		if err != nil {
			r.log.Warn("draw skipped: shader", "stage", stage.String(), "err", err)
			return entries, envs, key, xfb, false
		}
		if entry.Failed() {
			r.log.Warn("draw skipped: shader build failed", "stage", stage.String())
			return entries, envs, key, xfb, false
		}
		entries[irStage] = entry
		envs[irStage] = env
		key.StageHashes[irStage] = entry.UniqueHash
	}

	if entries[ir.StageVertex] == nil {
		r.log.Warn("draw skipped: no vertex program bound")
		return entries, envs, key, xfb, false
	}
	if gs := entries[ir.StageGeometry]; gs != nil {
		key.GSInputTopology = gs.Info.GSInputTopology
	}
	if fs := entries[ir.StageFragment]; fs != nil {
		key.EarlyZ = !fs.Info.UsesDepthWrite && !fs.Info.UsesDiscard
	}
	return entries, envs, key, xfb, true
}

// bindStageResources binds the constant buffers and textures each stage
// declares, at its pipeline-position binding bases.
func (r *Rasterizer) bindStageResources(entries [5]*shader.CacheEntry, envs [5]*shader.GraphicsEnvironment) {
	for irStage, entry := range entries {
		if entry == nil {
			continue
		}
		cbufBase := uint32(irStage) * engine.NumStageCbufs
		for slot, cb := range r.maxwell.BoundConstBuffers[irStage] {
			if !cb.Enabled || entry.Info.ConstBuffersUsed&(1<<slot) == 0 {
				continue
			}
			if err := r.buffers.BindUniform(cbufBase+uint32(slot), cb.Address, uint64(cb.Size)); err != nil {
				r.log.Warn("cbuf bind failed", "stage", irStage, "slot", slot, "err", err)
			}
		}
		r.bindTextures(entry, envs[irStage], uint32(irStage)*32)
	}
}

// bindTextures resolves each sampled handle through the descriptor
// pools and binds view+sampler at unitBase plus the declaration index.
func (r *Rasterizer) bindTextures(entry *shader.CacheEntry, env shader.Environment, unitBase uint32) {
	for i, t := range entry.Info.Textures {
		handle := env.ReadCbufValue(t.CbufSlot, t.CbufOffset)
		view, sampler, err := r.textureFromHandle(handle)
		if err != nil {
			r.log.Warn("texture bind failed", "handle", handle, "err", err)
			continue
		}
		r.dev.BindTexture(unitBase+uint32(i), view.Host(), sampler)
	}
}

// textureFromHandle splits a packed handle into TIC and TSC indices and
// resolves them against the descriptor pools.
func (r *Rasterizer) textureFromHandle(handle uint32) (*texture.View, host.Sampler, error) {
	ticIndex := handle & 0xFFFFF
	tscIndex := (handle >> 20) & 0xFFF
	tic := texture.DecodeTIC(r.readDescriptor(r.maxwell.Regs.TexHeaderPool(), ticIndex))
	tsc := texture.DecodeTSC(r.readDescriptor(r.maxwell.Regs.TexSamplerPool(), tscIndex))
	return r.textures.GetTextureSurface(tic, tsc)
}

func (r *Rasterizer) readDescriptor(pool mem.GpuAddr, index uint32) [descriptorWords]uint32 {
	var raw [descriptorWords * 4]byte
	r.mm.ReadBlock(pool+mem.GpuAddr(index)*descriptorWords*4, raw[:])
	var w [descriptorWords]uint32
	for i := range w {
		w[i] = binary.LittleEndian.Uint32(raw[4*i:])
	}
	return w
}

// bindVertexBuffers rebinds every enabled stream. Bindings are refreshed
// each draw: the buffer cache may have merged the backing block since
// the registers last changed.
func (r *Rasterizer) bindVertexBuffers() {
	regs := &r.maxwell.Regs
	for i := 0; i < engine.NumVertexArrays; i++ {
		va := regs.VertexArrayState(i)
		if !va.Enabled || va.Address == 0 || va.Size() == 0 {
			continue
		}
		if err := r.buffers.BindVertex(uint32(i), va.Address, va.Size(), va.Stride); err != nil {
			r.log.Warn("vertex buffer bind failed", "stream", i, "err", err)
		}
	}
}

func (r *Rasterizer) bindTransformFeedback() bool {
	regs := &r.maxwell.Regs
	for i := 0; i < engine.NumTransformFeedbackBuffers; i++ {
		tb := regs.TFBBufferState(i)
		if !tb.Enabled || tb.Address == 0 {
			continue
		}
		addr := tb.Address + mem.GpuAddr(tb.Offset)
		if err := r.buffers.BindTransformFeedback(uint32(i), addr, uint64(tb.Size)); err != nil {
			r.log.Warn("draw skipped: feedback buffer", "binding", i, "err", err)
			return false
		}
	}
	return true
}
