// Package workspace manages the uniquely named scratch directory shared with
// the inference tool. File names inside it follow the tool's documented
// contract and must not be changed: the tool derives the mask path from the
// output path by inserting "_mask" before the extension.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"stripd/internal/common/fsutil"
)

const (
	InputFileName  = "hdbet-input.nii.gz"
	OutputFileName = "hdbet-output.nii.gz"
	MaskFileName   = "hdbet-output_mask.nii.gz"
)

// Workspace is a per-invocation scratch directory. Concurrent invocations
// must each create their own; the unique MkdirTemp suffix guarantees no
// file collisions.
type Workspace struct {
	Dir string
	// Keep preserves the directory on Close, for debugging failed runs.
	Keep bool
}

// New creates a fresh workspace under root. Root is created if missing;
// empty root means the system temp directory.
func New(root string, keep bool) (*Workspace, error) {
	if root != "" {
		if err := fsutil.EnsureDir(root); err != nil {
			return nil, fmt.Errorf("workspace root: %w", err)
		}
	}
	dir, err := os.MkdirTemp(root, "stripd-run-")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{Dir: dir, Keep: keep}, nil
}

// InputPath is where the exported input volume is written for the tool.
func (w *Workspace) InputPath() string { return filepath.Join(w.Dir, InputFileName) }

// OutputPath is where the tool writes the skull-stripped volume.
func (w *Workspace) OutputPath() string { return filepath.Join(w.Dir, OutputFileName) }

// MaskPath is where the tool writes the binary brain mask.
func (w *Workspace) MaskPath() string { return filepath.Join(w.Dir, MaskFileName) }

// RemoveInput deletes the exported input file as soon as the tool is done
// with it. Best effort.
func (w *Workspace) RemoveInput() { _ = os.Remove(w.InputPath()) }

// Close removes the workspace unless Keep is set. Safe to call on every exit
// path; removal of an already-removed directory is a no-op.
func (w *Workspace) Close() error {
	if w == nil || w.Dir == "" {
		return nil
	}
	if w.Keep {
		return nil
	}
	return os.RemoveAll(w.Dir)
}
