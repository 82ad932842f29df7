package shader

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kentjhall/mizu-sub009/shader/ir"
)

type fakeProvider struct {
	created   atomic.Int32
	destroyed atomic.Int32
}

func (p *fakeProvider) NewSharedContext() (func(), func(), error) {
	p.created.Add(1)
	return func() {}, func() { p.destroyed.Add(1) }, nil
}

func TestCompilePoolRunsJobs(t *testing.T) {
	provider := &fakeProvider{}
	pool, err := NewCompilePool(context.Background(), provider, 3, nil)
	if err != nil {
		t.Fatalf("NewCompilePool: %v", err)
	}

	var ran atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		pool.Submit(func() {
			defer wg.Done()
			ran.Add(1)
		})
	}
	wg.Wait()
	pool.Close()

	if got := ran.Load(); got != 20 {
		t.Errorf("ran %d jobs, want 20", got)
	}
	if provider.created.Load() != 3 {
		t.Errorf("created %d contexts, want 3", provider.created.Load())
	}
	if provider.destroyed.Load() != 3 {
		t.Errorf("destroyed %d contexts, want 3", provider.destroyed.Load())
	}
}

func TestCompilePoolCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool, err := NewCompilePool(ctx, &fakeProvider{}, 1, nil)
	if err != nil {
		t.Fatalf("NewCompilePool: %v", err)
	}
	cancel()
	pool.Close() // must not hang on a cancelled worker
}

func TestLoadDiskRebuildsPrograms(t *testing.T) {
	c, dev, _, _ := newTestCache(t)
	disk, err := NewDiskCache(t.TempDir(), 1, "drv", nil)
	if err != nil {
		t.Fatalf("NewDiskCache: %v", err)
	}
	c.cfg.Disk = disk

	records := []TransferableRecord{
		{Hash: hashProgram(testProgram()), Stage: ir.StageVertex, Code: testProgram()},
	}
	for _, rec := range records {
		if err := disk.AppendTransferable(rec); err != nil {
			t.Fatalf("AppendTransferable: %v", err)
		}
	}

	pool, err := NewCompilePool(context.Background(), &fakeProvider{}, 2, nil)
	if err != nil {
		t.Fatalf("NewCompilePool: %v", err)
	}
	defer pool.Close()

	if err := c.LoadDisk(context.Background(), pool); err != nil {
		t.Fatalf("LoadDisk: %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Len())
	}
	if n := dev.CallCount("CompileProgram"); n != 1 {
		t.Errorf("CompileProgram calls = %d, want 1", n)
	}
}

func TestLoadDiskPrefersDriverBinaries(t *testing.T) {
	c, dev, _, _ := newTestCache(t)
	disk, err := NewDiskCache(t.TempDir(), 1, "drv", nil)
	if err != nil {
		t.Fatalf("NewDiskCache: %v", err)
	}
	c.cfg.Disk = disk

	hash := hashProgram(testProgram())
	if err := disk.AppendTransferable(TransferableRecord{
		Hash: hash, Stage: ir.StageVertex, Code: testProgram(),
	}); err != nil {
		t.Fatalf("AppendTransferable: %v", err)
	}
	if err := disk.AppendPrecompiled(PrecompiledRecord{
		Hash: hash, Stage: ir.StageVertex, Format: 1, Binary: []byte{1, 2, 3},
	}); err != nil {
		t.Fatalf("AppendPrecompiled: %v", err)
	}

	pool, err := NewCompilePool(context.Background(), &fakeProvider{}, 1, nil)
	if err != nil {
		t.Fatalf("NewCompilePool: %v", err)
	}
	defer pool.Close()

	if err := c.LoadDisk(context.Background(), pool); err != nil {
		t.Fatalf("LoadDisk: %v", err)
	}
	if n := dev.CallCount("LoadProgramBinary"); n != 1 {
		t.Errorf("LoadProgramBinary calls = %d, want 1", n)
	}
	if n := dev.CallCount("CompileProgram"); n != 0 {
		t.Errorf("CompileProgram calls = %d, want 0", n)
	}
}
