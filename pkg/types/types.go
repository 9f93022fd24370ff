package types

import (
	"fmt"
	"strconv"
	"strings"
)

// DeviceKind discriminates the logical compute-device request.
type DeviceKind string

const (
	DeviceAuto DeviceKind = "auto"
	DeviceCPU  DeviceKind = "cpu"
	DeviceGPU  DeviceKind = "gpu"
)

// DeviceSpec is a logical device request. Index is only meaningful for
// DeviceGPU and addresses a specific accelerator.
type DeviceSpec struct {
	Kind  DeviceKind `json:"kind"`
	Index int        `json:"index,omitempty"`
}

func AutoDevice() DeviceSpec { return DeviceSpec{Kind: DeviceAuto} }
func CPUDevice() DeviceSpec  { return DeviceSpec{Kind: DeviceCPU} }
func GPUDevice(index int) DeviceSpec {
	return DeviceSpec{Kind: DeviceGPU, Index: index}
}

// ParseDeviceSpec accepts "auto", "cpu", "gpu:N" or a bare accelerator index.
func ParseDeviceSpec(s string) (DeviceSpec, error) {
	switch v := strings.ToLower(strings.TrimSpace(s)); {
	case v == "" || v == "auto":
		return AutoDevice(), nil
	case v == "cpu":
		return CPUDevice(), nil
	case strings.HasPrefix(v, "gpu:"):
		n, err := strconv.Atoi(v[len("gpu:"):])
		if err != nil || n < 0 {
			return DeviceSpec{}, fmt.Errorf("invalid gpu index in %q", s)
		}
		return GPUDevice(n), nil
	default:
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return DeviceSpec{}, fmt.Errorf("unrecognized device %q", s)
		}
		return GPUDevice(n), nil
	}
}

func (d DeviceSpec) String() string {
	if d.Kind == DeviceGPU {
		return fmt.Sprintf("gpu:%d", d.Index)
	}
	return string(d.Kind)
}

// RunState is the lifecycle state of an extraction run.
type RunState string

const (
	StateIdle      RunState = "idle"
	StatePreparing RunState = "preparing"
	StateRunning   RunState = "running"
	StateSucceeded RunState = "succeeded"
	StateFailed    RunState = "failed"
	StateCancelled RunState = "cancelled"
)

// Terminal reports whether the state is final.
func (s RunState) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// ProgressSink receives ordered textual progress lines and a coarse
// best-effort completion percentage. Implementations must be cheap; calls
// are serialized and happen as output arrives.
type ProgressSink interface {
	Line(s string)
	Percent(p float64)
}

// NopProgress discards all progress.
type NopProgress struct{}

func (NopProgress) Line(string)     {}
func (NopProgress) Percent(float64) {}
