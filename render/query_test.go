package render

import (
	"testing"

	"github.com/kentjhall/mizu-sub009/engine"
	"github.com/kentjhall/mizu-sub009/host"
	"github.com/kentjhall/mizu-sub009/host/hosttest"
	"github.com/kentjhall/mizu-sub009/mem"
)

type stampRecorder struct {
	addrs  []mem.GpuAddr
	values []uint64
}

func (r *stampRecorder) write(addr mem.GpuAddr, q engine.QueryGet, value uint64) {
	r.addrs = append(r.addrs, addr)
	r.values = append(r.values, value)
}

func newTestQueries(queued *uint64) (*QueryCache, *hosttest.Device, *stampRecorder) {
	dev := hosttest.New()
	rec := &stampRecorder{}
	qc := NewQueryCache(dev, rec.write, func() uint64 { return *queued }, nil)
	return qc, dev, rec
}

func TestQueryStreamPauseResume(t *testing.T) {
	queued := uint64(0)
	qc, dev, rec := newTestQueries(&queued)

	qc.Enable(host.QuerySamplesPassed)
	queued++ // a draw ran inside the scope
	qc.Report(0xC000, engine.QueryGet{}, host.QuerySamplesPassed)

	// The stream pauses for the sample and resumes for later draws.
	if dev.CallCount("Query.End(0)") != 1 {
		t.Error("report must end the active scope")
	}
	if dev.CallCount("Query.Begin(0)") != 2 {
		t.Error("report must reopen the scope")
	}

	qc.TickFrame()
	if len(rec.addrs) != 1 || rec.addrs[0] != 0xC000 {
		t.Fatalf("stamps = %v, want one at 0xC000", rec.addrs)
	}
}

func TestQueryFlushInjectedForEmptyScope(t *testing.T) {
	queued := uint64(5)
	qc, dev, _ := newTestQueries(&queued)

	qc.Enable(host.QuerySamplesPassed)
	queued++
	qc.Disable(host.QuerySamplesPassed)
	if dev.CallCount("Flush") != 0 {
		t.Error("scope with work must not flush")
	}

	// No command between scopes: the driver may never resolve an empty
	// query without a flush.
	qc.Enable(host.QuerySamplesPassed)
	qc.Disable(host.QuerySamplesPassed)
	if dev.CallCount("Flush") != 1 {
		t.Error("empty scope must inject a flush")
	}
}

func TestQueryPoolReuse(t *testing.T) {
	queued := uint64(0)
	qc, dev, _ := newTestQueries(&queued)

	qc.Enable(host.QuerySamplesPassed)
	queued++
	qc.Report(0xC000, engine.QueryGet{}, host.QuerySamplesPassed)
	qc.Disable(host.QuerySamplesPassed)
	qc.WaitAll()

	// Everything resolved; the next scope must reuse a pooled query.
	created := dev.CallCount("CreateQuery(")
	qc.Enable(host.QuerySamplesPassed)
	if dev.CallCount("CreateQuery(") != created {
		t.Error("resolved query not returned to the pool")
	}
}

func TestQueryResetDiscards(t *testing.T) {
	queued := uint64(0)
	qc, _, rec := newTestQueries(&queued)

	qc.Enable(host.QuerySamplesPassed)
	queued++
	qc.Reset(host.QuerySamplesPassed)
	qc.Report(0xC000, engine.QueryGet{}, host.QuerySamplesPassed)
	qc.WaitAll()

	// Only the post-reset scope contributes; the fake's counters read
	// zero either way, but the discarded query must not be in the
	// report.
	if qc.PendingReports() != 0 {
		t.Error("report left pending after WaitAll")
	}
	if len(rec.values) != 1 || rec.values[0] != 0 {
		t.Errorf("stamp values = %v", rec.values)
	}
}
