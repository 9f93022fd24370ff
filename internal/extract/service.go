// Package extract orchestrates one brain-extraction run end to end:
// runtime provisioning, device resolution, input export, the external
// inference process, output import, and construction of the requested
// outputs. It is structured into small files by concern:
//
//   - service.go: Service, ExecutionRequest/Result, the Run pipeline.
//   - job.go: async job handles for event-loop/HTTP callers.
//   - errors.go: failure-taxonomy classification for user-facing output.
//   - metrics.go: prometheus run counters.
package extract

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"stripd/internal/common/fsutil"
	"stripd/internal/device"
	"stripd/internal/provision"
	"stripd/internal/runner"
	"stripd/internal/volume"
	"stripd/internal/workspace"
	"stripd/pkg/types"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultToolBin = "hd-bet"
	defaultGrace   = 3 * time.Second
)

// Config encapsulates all tunables for Service construction.
type Config struct {
	ToolBin       string        // inference tool binary, default hd-bet
	WorkRoot      string        // parent for per-run workspaces; empty = system temp
	ModelCacheDir string        // tool parameter-file directory, ensured on provision
	Timeout       time.Duration // default wall-clock limit; 0 = unlimited
	Grace         time.Duration // terminate-to-kill grace period
	KeepWorkspace bool          // preserve workspaces for debugging
	Logger        zerolog.Logger

	// Injection points; nil means the production implementation.
	Resolver   *provision.Resolver
	Prober     device.Prober
	Controller runner.Controller
}

// Service runs brain extractions. Safe for concurrent use: every run gets its
// own workspace and state machine, and the resolver serializes installs.
type Service struct {
	cfg      Config
	resolver *provision.Resolver
	prober   device.Prober
	ctl      runner.Controller
	log      zerolog.Logger
}

// NewWithConfig constructs a Service from Config, applying defaults.
func NewWithConfig(cfg Config) *Service {
	if cfg.ToolBin == "" {
		cfg.ToolBin = defaultToolBin
	}
	if cfg.Grace <= 0 {
		cfg.Grace = defaultGrace
	}
	s := &Service{cfg: cfg, log: cfg.Logger}
	s.resolver = cfg.Resolver
	if s.resolver == nil {
		s.resolver = &provision.Resolver{ModelCacheDir: cfg.ModelCacheDir}
	}
	s.prober = cfg.Prober
	if s.prober == nil {
		s.prober = device.SMIProber{}
	}
	s.ctl = cfg.Controller
	if s.ctl == nil {
		s.ctl = runner.ExecController{}
	}
	return s
}

// ExecutionRequest is one extraction invocation. At least one of the two
// output destinations should be supplied; a request with neither still runs
// (validate-only usage) but accomplishes nothing for the caller.
type ExecutionRequest struct {
	Input              *volume.Volume
	Device             types.DeviceSpec
	OutputVolume       *volume.Volume       // optional destination, populated in place
	OutputSegmentation *volume.Segmentation // optional destination, populated in place
	WorkDir            string               // per-request workspace root override
	Timeout            time.Duration        // per-request wall-clock override
	KeepWorkspace      bool
}

// Result is the outcome of one run.
type Result struct {
	State      types.RunState
	Err        error
	Duration   time.Duration
	MaskVoxels int // brain-mask voxel count when a segmentation was built
}

// Run executes the full pipeline. It blocks until the run finishes but
// honors ctx cancellation at every stage; event-loop callers should use
// Submit instead.
func (s *Service) Run(ctx context.Context, req ExecutionRequest, sink types.ProgressSink) Result {
	if sink == nil {
		sink = types.NopProgress{}
	}
	start := time.Now()
	m := runner.NewMachine()
	maskVoxels, err := s.run(ctx, m, req, sink)

	state := m.State()
	if err != nil && !state.Terminal() {
		// Failure outside the runner (preparing, import, build).
		next := types.StateFailed
		if errors.Is(err, context.Canceled) {
			next = types.StateCancelled
		}
		_ = m.To(next)
		state = m.State()
	}
	res := Result{State: state, Err: err, Duration: time.Since(start), MaskVoxels: maskVoxels}

	observeRun(state, res.Duration)
	ev := s.log.Info()
	if err != nil {
		ev = s.log.Error().Err(err).Str("reason", Reason(err))
	}
	ev.Str("state", string(state)).
		Dur("duration", res.Duration).
		Str("device", req.Device.String()).
		Msg("brain extraction finished")
	return res
}

func (s *Service) run(ctx context.Context, m *runner.Machine, req ExecutionRequest, sink types.ProgressSink) (int, error) {
	if err := m.To(types.StatePreparing); err != nil {
		return 0, err
	}
	if req.Input == nil {
		return 0, volume.ErrExport("nil input volume")
	}

	sink.Line("checking inference runtime")
	if err := s.resolver.Ensure(ctx, sink); err != nil {
		return 0, err
	}

	// Probe once per invocation; hardware availability can change between
	// runs, so the snapshot is never reused.
	snap := s.prober.Probe(ctx)
	devArg, err := device.Resolve(req.Device, snap)
	if err != nil {
		return 0, err
	}
	sink.Line("using device " + devArg)

	root := req.WorkDir
	if root == "" {
		root = s.cfg.WorkRoot
	}
	ws, err := workspace.New(root, req.KeepWorkspace || s.cfg.KeepWorkspace)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := ws.Close(); cerr != nil {
			s.log.Warn().Err(cerr).Str("dir", ws.Dir).Msg("workspace cleanup failed")
		}
	}()

	if err := volume.Export(req.Input, ws.InputPath()); err != nil {
		return 0, err
	}

	wantVol := req.OutputVolume != nil
	wantSeg := req.OutputSegmentation != nil
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.cfg.Timeout
	}
	spec := runner.Spec{
		Bin:     s.cfg.ToolBin,
		Args:    toolArgs(ws, devArg, wantVol, wantSeg),
		Dir:     ws.Dir,
		Timeout: timeout,
		Grace:   s.cfg.Grace,
		Check:   artifactCheck(ws, wantVol, wantSeg),
	}
	if err := runner.Run(ctx, s.ctl, spec, m, sink); err != nil {
		return 0, err
	}
	// The exported input is no longer needed once the tool has exited.
	ws.RemoveInput()

	var stripped *volume.Volume
	var mask []uint8
	if wantVol {
		if stripped, err = volume.ImportVolume(ws.OutputPath(), req.Input); err != nil {
			return 0, err
		}
	}
	if wantSeg {
		if mask, err = volume.ImportMask(ws.MaskPath(), req.Input); err != nil {
			return 0, err
		}
	}

	maskVoxels := 0
	if wantVol {
		out := stripped
		if mask != nil {
			// Belt and suspenders: the tool's output is already masked, but
			// the output contract is "outside the mask is background".
			if out, err = volume.ApplyMask(stripped, mask, 0); err != nil {
				return 0, err
			}
		}
		req.OutputVolume.CopyFrom(out)
	}
	if wantSeg {
		if err := req.OutputSegmentation.PopulateSingle(volume.BrainSegmentName, volume.BrainSegmentColor, req.Input.Dims, req.Input.Geom, mask); err != nil {
			return 0, err
		}
		maskVoxels = volume.MaskVoxelCount(mask)
	}

	if err := m.To(types.StateSucceeded); err != nil {
		return maskVoxels, err
	}
	sink.Line("brain extraction complete")
	return maskVoxels, nil
}

// Devices exposes the current accelerator snapshot (presentation layer use).
func (s *Service) Devices(ctx context.Context) device.Snapshot {
	return s.prober.Probe(ctx)
}

// Provision runs the environment resolver on its own, outside a run.
func (s *Service) Provision(ctx context.Context, sink types.ProgressSink) error {
	return s.resolver.Ensure(ctx, sink)
}

// toolArgs assembles the tool's fixed CLI contract. CPU runs use the fast
// single-model path without test-time augmentation; the accurate ensemble
// can take 8x longer and is reserved for accelerator runs.
func toolArgs(ws *workspace.Workspace, devArg string, wantVol, wantSeg bool) []string {
	args := []string{"-i", ws.InputPath(), "-o", ws.OutputPath(), "-device", devArg}
	if devArg == device.CPUArg {
		args = append(args, "-mode", "fast", "-tta", "0")
	} else {
		args = append(args, "-mode", "accurate", "-tta", "1")
	}
	return append(args, "-s", boolArg(wantSeg), "-b", boolArg(wantVol))
}

func boolArg(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// artifactCheck verifies the artifacts implied by the requested outputs after
// a clean tool exit. A missing file is a tool-contract violation.
func artifactCheck(ws *workspace.Workspace, wantVol, wantSeg bool) func() error {
	return func() error {
		if wantVol && !fsutil.FileNonEmpty(ws.OutputPath()) {
			return volume.ErrOutputMissing(ws.OutputPath())
		}
		if wantSeg && !fsutil.FileNonEmpty(ws.MaskPath()) {
			return volume.ErrOutputMissing(ws.MaskPath())
		}
		return nil
	}
}
