package extract

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"

	"stripd/pkg/types"
)

// Job is an asynchronous run handle for callers that must not block, such as
// a UI event loop or the HTTP layer. It doubles as the run's progress sink.
type Job struct {
	ID string

	mu      sync.Mutex
	percent float64
	lastLog string
	result  Result

	cancel context.CancelFunc
	done   chan struct{}
}

// Submit starts req on its own goroutine and returns immediately.
func (s *Service) Submit(req ExecutionRequest) *Job {
	ctx, cancel := context.WithCancel(context.Background())
	j := &Job{ID: newJobID(), cancel: cancel, done: make(chan struct{})}
	go func() {
		res := s.Run(ctx, req, j)
		j.mu.Lock()
		j.result = res
		j.mu.Unlock()
		cancel()
		close(j.done)
	}()
	return j
}

// Line implements types.ProgressSink.
func (j *Job) Line(l string) {
	j.mu.Lock()
	j.lastLog = l
	j.mu.Unlock()
}

// Percent implements types.ProgressSink.
func (j *Job) Percent(p float64) {
	j.mu.Lock()
	j.percent = p
	j.mu.Unlock()
}

// Cancel requests cooperative cancellation; the run transitions to cancelled
// only after the external process is confirmed gone.
func (j *Job) Cancel() { j.cancel() }

// Done is closed when the run reaches a terminal state.
func (j *Job) Done() <-chan struct{} { return j.done }

// Result is valid once Done is closed.
func (j *Job) Result() Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

// Status is a point-in-time snapshot safe to call at any moment.
func (j *Job) Status() types.JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	st := types.JobStatus{ID: j.ID, Percent: j.percent}
	select {
	case <-j.done:
		st.State = j.result.State
		st.MaskVoxels = j.result.MaskVoxels
		if j.result.Err != nil {
			st.Error = j.result.Err.Error()
		}
	default:
		st.State = types.StateRunning
	}
	return st
}

func newJobID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
