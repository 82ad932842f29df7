package hosttest

import (
	"sync/atomic"

	"github.com/kentjhall/mizu-sub009/host"
)

type fakeBuffer struct {
	dev       *Device
	id        int
	data      []byte
	residency host.Access
	deleted   bool
}

func (b *fakeBuffer) Size() uint64 { return uint64(len(b.data)) }

func (b *fakeBuffer) Upload(offset uint64, data []byte) {
	b.dev.record("Buffer%d.Upload(off=%d len=%d)", b.id, offset, len(data))
	copy(b.data[offset:], data)
}

func (b *fakeBuffer) Download(offset uint64, dst []byte) {
	b.dev.record("Buffer%d.Download(off=%d len=%d)", b.id, offset, len(dst))
	copy(dst, b.data[offset:])
}

func (b *fakeBuffer) MakeResident(access host.Access) {
	if access > b.residency {
		b.residency = access
		b.dev.record("Buffer%d.MakeResident(%d)", b.id, access)
	}
}

func (b *fakeBuffer) Residency() host.Access { return b.residency }

// GpuAddress returns a synthetic per-buffer address so bindless paths can
// be asserted on.
func (b *fakeBuffer) GpuAddress() uint64 { return 0x1_0000_0000 + uint64(b.id)<<32 }

func (b *fakeBuffer) Delete() {
	b.deleted = true
	b.dev.record("Buffer%d.Delete", b.id)
}

// Bytes exposes the backing store for test assertions.
func (b *fakeBuffer) Bytes() []byte { return b.data }

type fakeStream struct {
	buf    *fakeBuffer
	cursor uint64
}

func (s *fakeStream) Alloc(size, alignment uint64) ([]byte, uint64) {
	if alignment > 0 {
		s.cursor = (s.cursor + alignment - 1) &^ (alignment - 1)
	}
	if s.cursor+size > uint64(len(s.buf.data)) {
		s.cursor = 0
	}
	off := s.cursor
	s.cursor += size
	return s.buf.data[off : off+size], off
}

func (s *fakeStream) Buffer() host.Buffer { return s.buf }

type fakeTexture struct {
	dev  *Device
	id   int
	desc host.TextureDesc
}

func (t *fakeTexture) Desc() host.TextureDesc { return t.desc }

func (t *fakeTexture) Upload(p host.UploadParams, data []byte) {
	t.dev.record("Texture%d.Upload(level=%d %dx%dx%d align=%d)",
		t.id, p.Level, p.Width, p.Height, p.Depth, p.Alignment)
}

func (t *fakeTexture) UploadCompressed(p host.UploadParams, imageSize uint32, data []byte) {
	t.dev.record("Texture%d.UploadCompressed(level=%d %dx%d size=%d)",
		t.id, p.Level, p.Width, p.Height, imageSize)
}

func (t *fakeTexture) Download(p host.UploadParams, dst []byte) {
	t.dev.record("Texture%d.Download(level=%d)", t.id, p.Level)
}

func (t *fakeTexture) CreateView(desc host.ViewDesc) host.TextureView {
	t.dev.record("Texture%d.CreateView(fmt=%d levels=%d layers=%d)",
		t.id, desc.Format, desc.Levels, desc.Layers)
	return &fakeView{tex: t, desc: desc}
}

func (t *fakeTexture) CopyTo(dst host.Texture, srcLevel, srcX, srcY, srcZ, dstLevel, dstX, dstY, dstZ, w, h, d uint32) {
	t.dev.record("Texture%d.CopyTo(%dx%dx%d)", t.id, w, h, d)
}

func (t *fakeTexture) Delete() { t.dev.record("Texture%d.Delete", t.id) }

type fakeView struct {
	tex  *fakeTexture
	desc host.ViewDesc
}

func (v *fakeView) Desc() host.ViewDesc   { return v.desc }
func (v *fakeView) Texture() host.Texture { return v.tex }
func (v *fakeView) Delete()               { v.tex.dev.record("View.Delete") }

type fakeSampler struct {
	desc host.SamplerDesc
}

func (s *fakeSampler) Desc() host.SamplerDesc { return s.desc }
func (s *fakeSampler) Delete()                {}

type fakeFramebuffer struct {
	att host.FramebufferAttachments
}

func (f *fakeFramebuffer) Attachments() host.FramebufferAttachments { return f.att }
func (f *fakeFramebuffer) Delete()                                  {}

type fakeQuery struct {
	dev    *Device
	target host.QueryTarget
	active bool
	result atomic.Uint64
}

func (q *fakeQuery) Target() host.QueryTarget { return q.target }

func (q *fakeQuery) Begin() {
	q.active = true
	q.dev.record("Query.Begin(%d)", q.target)
}

func (q *fakeQuery) End() {
	q.active = false
	q.dev.record("Query.End(%d)", q.target)
}

func (q *fakeQuery) ResultAvailable() bool { return !q.active }

func (q *fakeQuery) Result() uint64 { return q.result.Load() }

func (q *fakeQuery) Delete() { q.dev.record("Query.Delete") }

// SetResult seeds the value Result returns.
func (q *fakeQuery) SetResult(v uint64) { q.result.Store(v) }

type fakeSync struct {
	dev *Device
}

func (s *fakeSync) Signaled() bool { return s.dev.SignalSyncs }
func (s *fakeSync) Wait()          { s.dev.record("Sync.Wait") }
func (s *fakeSync) Delete()        {}

type fakeProgram struct {
	stage     host.ShaderType
	lang      host.ProgramLanguage
	source    []byte
	binary    []byte
	binFormat uint32
}

func (p *fakeProgram) Language() host.ProgramLanguage { return p.lang }
func (p *fakeProgram) Stage() host.ShaderType         { return p.stage }

func (p *fakeProgram) Binary() (uint32, []byte, bool) {
	if p.binary != nil {
		return p.binFormat, p.binary, true
	}
	// Echo the source back so disk cache round-trips are observable.
	return 1, p.source, true
}

func (p *fakeProgram) Delete() {}

type fakePipeline struct {
	programs []host.Program
}

func (p *fakePipeline) Delete() {}
