package ctl

import (
	"context"
	"fmt"
	"time"

	"stripd/internal/device"
	"stripd/internal/extract"
	"stripd/internal/provision"
	"stripd/internal/volume"
	"stripd/pkg/types"
)

// runOptions collects everything the run command needs.
type runOptions struct {
	Input              string
	OutputVolume       string
	OutputSegmentation string
	Device             string
	TimeoutSec         int
	WorkDir            string
	KeepWorkspace      bool
	ToolBin            string
	Python             string
	ModelCacheDir      string
}

// cliSink prints tool progress through the leveled logger.
type cliSink struct{}

func (cliSink) Line(l string)     { info("%s", l) }
func (cliSink) Percent(p float64) { debug("progress %.0f%%", p) }

func fnRun(ctx context.Context, opts runOptions) error {
	if opts.Input == "" {
		return fmt.Errorf("--input is required")
	}
	if opts.OutputVolume == "" && opts.OutputSegmentation == "" {
		return fmt.Errorf("at least one of --output or --mask is required")
	}
	dev, err := types.ParseDeviceSpec(opts.Device)
	if err != nil {
		return err
	}
	in, err := volume.ReadNIfTI(opts.Input)
	if err != nil {
		return fmt.Errorf("input volume: %w", err)
	}
	info("loaded %s (%dx%dx%d)", opts.Input, in.Dims[0], in.Dims[1], in.Dims[2])

	svc := extract.NewWithConfig(extract.Config{
		ToolBin:       opts.ToolBin,
		ModelCacheDir: opts.ModelCacheDir,
		Resolver: &provision.Resolver{
			Python:        opts.Python,
			ModelCacheDir: opts.ModelCacheDir,
		},
	})
	req := extract.ExecutionRequest{
		Input:         in,
		Device:        dev,
		WorkDir:       opts.WorkDir,
		KeepWorkspace: opts.KeepWorkspace,
	}
	if opts.TimeoutSec > 0 {
		req.Timeout = time.Duration(opts.TimeoutSec) * time.Second
	}
	var outVol volume.Volume
	var outSeg volume.Segmentation
	if opts.OutputVolume != "" {
		req.OutputVolume = &outVol
	}
	if opts.OutputSegmentation != "" {
		req.OutputSegmentation = &outSeg
	}

	res := svc.Run(ctx, req, cliSink{})
	if res.Err != nil {
		return fmt.Errorf("extraction %s: %w", res.State, res.Err)
	}
	if opts.OutputVolume != "" {
		if err := volume.WriteNIfTI(&outVol, opts.OutputVolume); err != nil {
			return fmt.Errorf("writing %s: %w", opts.OutputVolume, err)
		}
		info("wrote %s", opts.OutputVolume)
	}
	if opts.OutputSegmentation != "" {
		seg := outSeg.Segments[0]
		if err := volume.WriteMaskNIfTI(seg.Mask, outSeg.Dims, outSeg.Geom, opts.OutputSegmentation); err != nil {
			return fmt.Errorf("writing %s: %w", opts.OutputSegmentation, err)
		}
		info("wrote %s (%d brain voxels)", opts.OutputSegmentation, res.MaskVoxels)
	}
	info("finished in %s", res.Duration.Round(time.Millisecond))
	return nil
}

func fnProvision(ctx context.Context, python, modelCacheDir string) error {
	r := &provision.Resolver{Python: python, ModelCacheDir: modelCacheDir}
	return r.Ensure(ctx, cliSink{})
}

func fnDevices(ctx context.Context) error {
	snap := device.SMIProber{}.Probe(ctx)
	if snap.Count == 0 {
		info("no CUDA accelerators detected; runs will use the CPU")
		return nil
	}
	info("%d CUDA accelerator(s):", snap.Count)
	for i, name := range snap.Names {
		info("  gpu:%d  %s", i, name)
	}
	return nil
}
