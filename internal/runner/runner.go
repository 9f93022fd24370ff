// Package runner drives the external inference process through an explicit
// state machine so that cancellation and timeout behavior is testable without
// launching real processes.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"stripd/pkg/types"
)

// launchError signals that the process could not be started at all
// (typically a missing executable).
type launchError struct {
	bin string
	err error
}

func (e launchError) Error() string { return fmt.Sprintf("launch %s: %v", e.bin, e.err) }
func (e launchError) Unwrap() error { return e.err }

// ErrLaunch constructs a launch failure for bin.
func ErrLaunch(bin string, err error) error { return launchError{bin: bin, err: err} }

// IsLaunch reports whether err indicates the tool failed to start.
func IsLaunch(err error) bool {
	var e launchError
	return errors.As(err, &e)
}

// processError signals a nonzero exit, carrying the captured stderr tail.
type processError struct {
	code int
	tail string
}

func (e processError) Error() string {
	if e.tail == "" {
		return fmt.Sprintf("inference process exited with code %d", e.code)
	}
	return fmt.Sprintf("inference process exited with code %d: %s", e.code, e.tail)
}

// ErrProcess constructs a nonzero-exit failure.
func ErrProcess(code int, tail string) error { return processError{code: code, tail: tail} }

// IsProcess reports whether err is a nonzero exit, returning the code and
// stderr tail for user-facing messages.
func IsProcess(err error) (code int, tail string, ok bool) {
	var e processError
	if errors.As(err, &e) {
		return e.code, e.tail, true
	}
	return 0, "", false
}

// timeoutError signals that the wall-clock limit was exceeded.
type timeoutError struct{ limit time.Duration }

func (e timeoutError) Error() string { return fmt.Sprintf("inference exceeded %s time limit", e.limit) }

// ErrTimeout constructs a timeout failure.
func ErrTimeout(limit time.Duration) error { return timeoutError{limit: limit} }

// IsTimeout reports whether err indicates the run hit its wall-clock limit.
func IsTimeout(err error) bool {
	var e timeoutError
	return errors.As(err, &e)
}

// Run launches spec via ctl and waits for completion, forwarding output lines
// and coarse percent estimates to sink. The machine must be in the preparing
// state. Terminal transitions performed here:
//
//   - ctx cancelled: process terminated (graceful, then kill) -> cancelled
//   - timeout exceeded: same termination path -> failed, ErrTimeout
//   - launch failure -> failed, ErrLaunch
//   - nonzero exit -> failed, ErrProcess with stderr tail
//   - clean exit but spec.Check rejects -> failed, Check's error
//
// On success the machine stays in running; the caller marks it succeeded
// once the outputs are imported and built.
func Run(ctx context.Context, ctl Controller, spec Spec, m *Machine, sink types.ProgressSink) error {
	if sink == nil {
		sink = types.NopProgress{}
	}
	if err := m.To(types.StateRunning); err != nil {
		return err
	}
	est := newPercentEstimator(sink)
	est.start()
	// The controller scans stdout and stderr on separate goroutines; both
	// invoke this closure. Serialize so the sink and the estimator see
	// ordered, non-overlapping calls.
	var lineMu sync.Mutex
	proc, err := ctl.Start(ctx, spec, func(line string) {
		lineMu.Lock()
		defer lineMu.Unlock()
		sink.Line(line)
		est.observe(line)
	})
	if err != nil {
		_ = m.To(types.StateFailed)
		return ErrLaunch(spec.Bin, err)
	}

	var timeoutCh <-chan time.Time
	if spec.Timeout > 0 {
		t := time.NewTimer(spec.Timeout)
		defer t.Stop()
		timeoutCh = t.C
	}

	select {
	case <-ctx.Done():
		terminate(proc, spec.grace())
		_ = m.To(types.StateCancelled)
		return ctx.Err()
	case <-timeoutCh:
		terminate(proc, spec.grace())
		_ = m.To(types.StateFailed)
		return ErrTimeout(spec.Timeout)
	case <-proc.Done():
	}

	if code := proc.ExitCode(); code != 0 {
		_ = m.To(types.StateFailed)
		return ErrProcess(code, proc.StderrTail())
	}
	if spec.Check != nil {
		if err := spec.Check(); err != nil {
			_ = m.To(types.StateFailed)
			return err
		}
	}
	est.done()
	return nil
}

func (s Spec) grace() time.Duration {
	if s.Grace > 0 {
		return s.Grace
	}
	return defaultGrace
}

// terminate signals the process and confirms exit, escalating to a kill
// after the grace period. It never returns with the process still alive.
func terminate(proc Process, grace time.Duration) {
	_ = proc.Terminate()
	select {
	case <-proc.Done():
		return
	case <-time.After(grace):
	}
	_ = proc.Kill()
	<-proc.Done()
}
