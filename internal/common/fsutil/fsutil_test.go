package fsutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestExpandHome(t *testing.T) {
	// Set a deterministic HOME for the duration of this test so we never skip.
	origHome, hadHome := os.LookupEnv("HOME")
	origUserProfile, hadUserProfile := os.LookupEnv("USERPROFILE")
	t.Cleanup(func() {
		if hadHome {
			_ = os.Setenv("HOME", origHome)
		} else {
			_ = os.Unsetenv("HOME")
		}
		if hadUserProfile {
			_ = os.Setenv("USERPROFILE", origUserProfile)
		} else {
			_ = os.Unsetenv("USERPROFILE")
		}
	})

	home := t.TempDir()
	// Configure both env vars for cross-platform behavior of os.UserHomeDir.
	_ = os.Setenv("HOME", home)
	if runtime.GOOS == "windows" {
		_ = os.Setenv("USERPROFILE", home)
	}
	// raw path unaffected
	if got, err := ExpandHome("/tmp"); err != nil || got != "/tmp" {
		t.Fatalf("got %q err=%v", got, err)
	}
	// empty path
	if got, err := ExpandHome(""); err != nil || got != "" {
		t.Fatalf("got %q err=%v", got, err)
	}
	// ~ expansion
	p, err := ExpandHome("~")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if p != home {
		t.Fatalf("expected %q, got %q", home, p)
	}
	// ~/subdir
	sub := "test-sub"
	exp, err := ExpandHome("~/" + sub)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if runtime.GOOS == "windows" {
		if filepath.Base(exp) != sub {
			t.Fatalf("unexpected expanded path: %q", exp)
		}
	} else {
		expected := filepath.Join(home, sub)
		if exp != expected {
			t.Fatalf("expected %q, got %q", expected, exp)
		}
	}
}

func TestFileNonEmpty(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.nii.gz")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	full := filepath.Join(dir, "full.nii.gz")
	if err := os.WriteFile(full, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if FileNonEmpty(empty) {
		t.Fatalf("empty file reported non-empty")
	}
	if !FileNonEmpty(full) {
		t.Fatalf("non-empty file reported empty")
	}
	if FileNonEmpty(filepath.Join(dir, "missing")) {
		t.Fatalf("missing file reported non-empty")
	}
	if FileNonEmpty(dir) {
		t.Fatalf("directory reported as non-empty file")
	}
}

func TestEnsureDir(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b")
	if err := EnsureDir(nested); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !PathExists(nested) {
		t.Fatalf("dir not created")
	}
	// idempotent
	if err := EnsureDir(nested); err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if err := EnsureDir(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
