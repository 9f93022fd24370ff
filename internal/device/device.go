// Package device resolves logical device requests (auto, cpu, gpu:N) to the
// concrete -device argument the inference tool accepts.
package device

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"stripd/pkg/types"
)

// CPUArg is the tool's argument for CPU execution; accelerators are addressed
// by their bare index.
const CPUArg = "cpu"

// Snapshot is the accelerator inventory at one point in time. It is taken
// once per invocation and never cached across invocations: another process
// releasing or claiming an accelerator changes the answer.
type Snapshot struct {
	Count int
	Names []string
}

// Prober enumerates accelerators. The real implementation shells out to
// nvidia-smi; tests inject a fixed snapshot.
type Prober interface {
	Probe(ctx context.Context) Snapshot
}

// notFoundError signals an explicit GPU request that the probe cannot satisfy.
type notFoundError struct {
	index     int
	available int
}

func (e notFoundError) Error() string {
	return fmt.Sprintf("device gpu:%d not found (%d accelerator(s) available)", e.index, e.available)
}

// ErrNotFound constructs a device-not-found error.
func ErrNotFound(index, available int) error {
	return notFoundError{index: index, available: available}
}

// IsNotFound reports whether err indicates an unavailable explicit GPU index.
// Requested and available counts are returned for user-facing messages.
func IsNotFound(err error) (index, available int, ok bool) {
	var e notFoundError
	if errors.As(err, &e) {
		return e.index, e.available, true
	}
	return 0, 0, false
}

// Resolve maps spec to a concrete device argument against snap.
// Auto and CPU never fail; an explicit GPU index out of range fails rather
// than silently falling back.
func Resolve(spec types.DeviceSpec, snap Snapshot) (string, error) {
	switch spec.Kind {
	case types.DeviceCPU:
		return CPUArg, nil
	case types.DeviceGPU:
		if spec.Index < 0 || spec.Index >= snap.Count {
			return "", ErrNotFound(spec.Index, snap.Count)
		}
		return strconv.Itoa(spec.Index), nil
	default: // auto
		if snap.Count > 0 {
			return "0", nil
		}
		return CPUArg, nil
	}
}

// SMIProber probes NVIDIA accelerators via nvidia-smi. Any failure (binary
// missing, driver down, timeout) reads as zero accelerators so that auto
// resolution can still fall back to CPU.
type SMIProber struct {
	Bin     string        // defaults to "nvidia-smi"
	Timeout time.Duration // defaults to 5s
}

func (p SMIProber) Probe(ctx context.Context) Snapshot {
	bin := p.Bin
	if bin == "" {
		bin = "nvidia-smi"
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, bin, "--query-gpu=name", "--format=csv,noheader").Output()
	if err != nil {
		return Snapshot{}
	}
	var names []string
	for _, line := range strings.Split(string(out), "\n") {
		if l := strings.TrimSpace(line); l != "" {
			names = append(names, l)
		}
	}
	return Snapshot{Count: len(names), Names: names}
}
