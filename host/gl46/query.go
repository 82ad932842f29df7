//go:build cgo

package gl46

import (
	"github.com/go-gl/gl/all-core/gl"

	"github.com/kentjhall/mizu-sub009/host"
)

type query struct {
	id     uint32
	target host.QueryTarget
	glTarg uint32
}

// CreateQuery implements host.Device.
func (d *Device) CreateQuery(target host.QueryTarget) host.Query {
	q := &query{target: target}
	switch target {
	case host.QuerySamplesPassed:
		q.glTarg = gl.SAMPLES_PASSED
	case host.QueryTimeElapsed:
		q.glTarg = gl.TIME_ELAPSED
	}
	gl.CreateQueries(q.glTarg, 1, &q.id)
	return q
}

func (q *query) Target() host.QueryTarget { return q.target }

func (q *query) Begin() { gl.BeginQuery(q.glTarg, q.id) }
func (q *query) End()   { gl.EndQuery(q.glTarg) }

func (q *query) ResultAvailable() bool {
	var avail int32
	gl.GetQueryObjectiv(q.id, gl.QUERY_RESULT_AVAILABLE, &avail)
	return avail != 0
}

func (q *query) Result() uint64 {
	var result uint64
	gl.GetQueryObjectui64v(q.id, gl.QUERY_RESULT, &result)
	return result
}

func (q *query) Delete() {
	gl.DeleteQueries(1, &q.id)
	q.id = 0
}

type syncObject struct {
	handle uintptr
}

func (s *syncObject) Signaled() bool {
	var status int32
	var length int32
	gl.GetSynciv(s.handle, gl.SYNC_STATUS, 1, &length, &status)
	return status == gl.SIGNALED
}

func (s *syncObject) Wait() {
	// Flush on the first wait so the fence is guaranteed to be submitted.
	gl.ClientWaitSync(s.handle, gl.SYNC_FLUSH_COMMANDS_BIT, gl.TIMEOUT_IGNORED)
}

func (s *syncObject) Delete() {
	gl.DeleteSync(s.handle)
	s.handle = 0
}
