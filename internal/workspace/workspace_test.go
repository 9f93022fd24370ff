package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"stripd/internal/common/fsutil"
)

func TestNewCreatesUniqueDirs(t *testing.T) {
	root := t.TempDir()
	a, err := New(root, false)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	b, err := New(root, false)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if a.Dir == b.Dir {
		t.Fatalf("workspaces collide: %s", a.Dir)
	}
	if !strings.HasPrefix(filepath.Base(a.Dir), "stripd-run-") {
		t.Fatalf("unexpected dir name: %s", a.Dir)
	}
}

func TestPathsFollowToolContract(t *testing.T) {
	w, err := New(t.TempDir(), false)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if filepath.Base(w.InputPath()) != "hdbet-input.nii.gz" {
		t.Fatalf("input name: %s", w.InputPath())
	}
	if filepath.Base(w.OutputPath()) != "hdbet-output.nii.gz" {
		t.Fatalf("output name: %s", w.OutputPath())
	}
	if filepath.Base(w.MaskPath()) != "hdbet-output_mask.nii.gz" {
		t.Fatalf("mask name: %s", w.MaskPath())
	}
}

func TestCloseRemoves(t *testing.T) {
	w, err := New(t.TempDir(), false)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := os.WriteFile(w.InputPath(), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if fsutil.PathExists(w.Dir) {
		t.Fatalf("workspace not removed")
	}
	// closing twice is fine
	if err := w.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestCloseKeepsWhenDebugging(t *testing.T) {
	w, err := New(t.TempDir(), true)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !fsutil.PathExists(w.Dir) {
		t.Fatalf("keep=true workspace was removed")
	}
}

func TestRemoveInput(t *testing.T) {
	w, err := New(t.TempDir(), false)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := os.WriteFile(w.InputPath(), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	w.RemoveInput()
	if fsutil.PathExists(w.InputPath()) {
		t.Fatalf("input still present")
	}
	// removing again must not panic
	w.RemoveInput()
}
