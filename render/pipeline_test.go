package render

import (
	"context"
	"testing"

	"github.com/kentjhall/mizu-sub009/host/hosttest"
	"github.com/kentjhall/mizu-sub009/shader"
)

func TestGraphicsPipelineKeyedByContent(t *testing.T) {
	dev := hosttest.New()
	pc := NewPipelineCache(dev, nil, false, nil)

	key := GraphicsKey{StageHashes: [5]uint64{0xAA, 0, 0, 0, 0xBB}}
	p1 := pc.GetGraphics(key, nil, true)
	p2 := pc.GetGraphics(key, nil, true)
	if p1 != p2 {
		t.Error("identical keys must share a pipeline")
	}
	if n := dev.CallCount("CreatePipeline"); n != 1 {
		t.Errorf("CreatePipeline calls = %d, want 1", n)
	}

	other := key
	other.XfbEnabled = true
	if pc.GetGraphics(other, nil, true) == p1 {
		t.Error("feedback-enabled variant must link its own pipeline")
	}
	if pc.Len() != 2 {
		t.Errorf("live pipelines = %d, want 2", pc.Len())
	}
}

func TestComputePipelineKey(t *testing.T) {
	dev := hosttest.New()
	pc := NewPipelineCache(dev, nil, false, nil)

	a := pc.GetCompute(ComputeKey{Hash: 1, Workgroup: [3]uint32{8, 8, 1}}, nil)
	b := pc.GetCompute(ComputeKey{Hash: 1, Workgroup: [3]uint32{16, 16, 1}}, nil)
	if a == b {
		t.Error("workgroup size is part of the compute key")
	}
	if _, ok := a.Host(); !ok {
		t.Error("compute build failed")
	}
}

func TestAsyncPipelineBuild(t *testing.T) {
	dev := hosttest.New()
	pool, err := shader.NewCompilePool(context.Background(), dev, 2, nil)
	if err != nil {
		t.Fatalf("NewCompilePool: %v", err)
	}
	defer pool.Close()
	pc := NewPipelineCache(dev, pool, true, nil)

	p := pc.GetGraphics(GraphicsKey{StageHashes: [5]uint64{1}}, nil, false)
	if _, ok := p.Host(); !ok {
		t.Error("async build failed")
	}
	if !p.Ready() {
		t.Error("Ready must report true after Host returns")
	}

	// A forced-sync build finishes before GetGraphics returns.
	p2 := pc.GetGraphics(GraphicsKey{StageHashes: [5]uint64{2}}, nil, true)
	if !p2.Ready() {
		t.Error("synchronous build must finish before return")
	}
}

func TestSkipDrawPolicy(t *testing.T) {
	building := &Pipeline{ready: make(chan struct{})}
	done := &Pipeline{ready: make(chan struct{})}
	close(done.ready)

	cases := []struct {
		name      string
		p         *Pipeline
		depthTest bool
		count     int32
		want      bool
	}{
		{"ready pipeline never skips", done, false, 10000, false},
		{"large depth-ignorant draw skips", building, false, 10000, true},
		{"depth-tested draw waits", building, true, 10000, false},
		{"tiny draw waits", building, false, 3, false},
	}
	for _, tc := range cases {
		if got := SkipDraw(tc.p, tc.depthTest, tc.count); got != tc.want {
			t.Errorf("%s: SkipDraw = %v, want %v", tc.name, got, tc.want)
		}
	}
}
