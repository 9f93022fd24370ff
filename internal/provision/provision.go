// Package provision verifies that the HD-BET runtime is importable and
// installs it on first use. Installation is idempotent: a repeated call when
// the package is already present is a no-op, and two concurrent callers
// racing through check-then-install both land on a verified install.
package provision

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"stripd/internal/common/fsutil"
	"stripd/pkg/types"
)

// Defaults for the resolver fields when unset.
const (
	defaultPython  = "python3"
	defaultPackage = "HD_BET"
	defaultPipSpec = "hd-bet"
)

// unavailableError signals that installation was attempted but the runtime
// still does not verify.
type unavailableError struct {
	pkg    string
	reason string
}

func (e unavailableError) Error() string {
	return fmt.Sprintf("dependency %s unavailable: %s", e.pkg, e.reason)
}

// ErrUnavailable constructs a dependency-unavailable error.
func ErrUnavailable(pkg, reason string) error {
	return unavailableError{pkg: pkg, reason: reason}
}

// IsUnavailable reports whether err indicates a missing/failed runtime dependency.
func IsUnavailable(err error) bool {
	var e unavailableError
	return errors.As(err, &e)
}

// Resolver checks for and installs the inference runtime. Exec is the command
// hook; tests replace it, production uses the streaming default.
type Resolver struct {
	Python        string // python interpreter, default python3
	Package       string // importable module name, default HD_BET
	PipSpec       string // pip install target, default hd-bet
	ModelCacheDir string // ensured to exist once the runtime verifies

	// Exec runs a command, forwarding output lines to sink. Nil means the
	// default exec-based implementation.
	Exec func(ctx context.Context, sink types.ProgressSink, name string, args ...string) error

	mu sync.Mutex
}

func (r *Resolver) python() string {
	if r.Python == "" {
		return defaultPython
	}
	return r.Python
}

func (r *Resolver) pkg() string {
	if r.Package == "" {
		return defaultPackage
	}
	return r.Package
}

func (r *Resolver) pipSpec() string {
	if r.PipSpec == "" {
		return defaultPipSpec
	}
	return r.PipSpec
}

func (r *Resolver) exec(ctx context.Context, sink types.ProgressSink, name string, args ...string) error {
	if r.Exec != nil {
		return r.Exec(ctx, sink, name, args...)
	}
	return streamExec(ctx, sink, name, args...)
}

// verify runs a bare import of the runtime package.
func (r *Resolver) verify(ctx context.Context, sink types.ProgressSink) error {
	return r.exec(ctx, sink, r.python(), "-c", "import "+r.pkg())
}

// Ensure makes the runtime available, installing it when missing.
// Status is surfaced to sink as human-readable lines.
func (r *Resolver) Ensure(ctx context.Context, sink types.ProgressSink) error {
	if sink == nil {
		sink = types.NopProgress{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.verify(ctx, types.NopProgress{}); err == nil {
		sink.Line(fmt.Sprintf("%s runtime already installed", r.pkg()))
		return r.ensureModelCache(sink)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	sink.Line(fmt.Sprintf("%s runtime not found, installing %s via pip", r.pkg(), r.pipSpec()))
	if err := r.exec(ctx, sink, r.python(), "-m", "pip", "install", r.pipSpec()); err != nil {
		return ErrUnavailable(r.pkg(), fmt.Sprintf("pip install failed: %v", err))
	}
	if err := r.verify(ctx, sink); err != nil {
		return ErrUnavailable(r.pkg(), fmt.Sprintf("still not importable after install: %v", err))
	}
	sink.Line(fmt.Sprintf("%s runtime installed", r.pkg()))
	return r.ensureModelCache(sink)
}

// ensureModelCache creates the tool's model parameter directory. The cache
// contents are owned by the tool, not by us.
func (r *Resolver) ensureModelCache(sink types.ProgressSink) error {
	if r.ModelCacheDir == "" {
		return nil
	}
	if err := fsutil.EnsureDir(r.ModelCacheDir); err != nil {
		return fmt.Errorf("model cache dir: %w", err)
	}
	sink.Line("model cache directory ready: " + r.ModelCacheDir)
	return nil
}

// streamExec runs a command and forwards stdout/stderr line by line.
func streamExec(ctx context.Context, sink types.ProgressSink, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	var wg sync.WaitGroup
	for _, pipe := range []io.Reader{stdout, stderr} {
		wg.Add(1)
		go func(r io.Reader) {
			defer wg.Done()
			s := bufio.NewScanner(r)
			for s.Scan() {
				sink.Line(s.Text())
			}
		}(pipe)
	}
	wg.Wait()
	return cmd.Wait()
}
