package blackbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"testing"
	"time"
)

// findFreePort picks an available TCP port on localhost.
func findFreePort(t *testing.T) (int, func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	cleanup := func() { _ = ln.Close() }
	var port int
	fmt.Sscanf(portStr, "%d", &port)
	return port, cleanup
}

func projectRootFromThisFile(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	// this file: <root>/tests/blackbox/blackbox_test.go
	bbDir := filepath.Dir(thisFile)
	return filepath.Dir(filepath.Dir(bbDir))
}

func buildBinary(t *testing.T) string {
	t.Helper()
	root := projectRootFromThisFile(t)
	outDir := t.TempDir()
	binPath := filepath.Join(outDir, "stripd")
	cmd := exec.Command("go", "build", "-o", binPath, "./cmd/stripd")
	cmd.Dir = root
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("go build failed: %v\n%s", err, string(out))
	}
	return binPath
}

type serverProc struct {
	cmd  *exec.Cmd
	base string // http base URL, e.g. http://127.0.0.1:18080
}

func startServer(t *testing.T, bin string, workRoot string, port int) *serverProc {
	t.Helper()
	addr := fmt.Sprintf(":%d", port)
	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	cmd := exec.Command(bin, "--addr", addr, "--work-root", workRoot)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	// Wait for healthz
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(base + "/healthz")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			_ = cmd.Process.Kill()
			t.Fatalf("server did not become healthy in time")
		}
		time.Sleep(50 * time.Millisecond)
	}
	sp := &serverProc{cmd: cmd, base: base}
	t.Cleanup(func() { _ = cmd.Process.Kill() })
	return sp
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, b
}

func postJSON(t *testing.T, url string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, b
}

func TestBlackbox_Flow(t *testing.T) {
	bin := buildBinary(t)
	port, release := findFreePort(t)
	release()
	sp := startServer(t, bin, t.TempDir(), port)

	// /healthz
	resp, body := get(t, sp.base+"/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/healthz %d %s", resp.StatusCode, string(body))
	}

	// /v1/devices answers regardless of accelerator availability
	resp, body = get(t, sp.base+"/v1/devices")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/v1/devices %d %s", resp.StatusCode, string(body))
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("/v1/devices content-type=%s", ct)
	}
	var devices struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(body, &devices); err != nil {
		t.Fatalf("/v1/devices json: %v body=%s", err, string(body))
	}
	if devices.Count < 0 {
		t.Fatalf("negative device count: %d", devices.Count)
	}

	// submission with an unreadable input fails the request, not the server
	resp, body = postJSON(t, sp.base+"/v1/extract", []byte(`{"input_path":"/nonexistent/t1.nii.gz","output_volume_path":"/tmp/out.nii.gz"}`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d, body=%s", resp.StatusCode, string(body))
	}

	// unknown job id
	resp, body = get(t, sp.base+"/v1/jobs/doesnotexist")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d, body=%s", resp.StatusCode, string(body))
	}

	// /metrics exposes the HTTP counters
	resp, body = get(t, sp.base+"/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/metrics %d", resp.StatusCode)
	}
	if !bytes.Contains(body, []byte("stripd_http_requests_total")) {
		t.Fatalf("/metrics missing request counter")
	}
}

func TestBlackbox_GracefulShutdown(t *testing.T) {
	bin := buildBinary(t)
	port, release := findFreePort(t)
	release()
	sp := startServer(t, bin, t.TempDir(), port)

	if err := sp.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		t.Fatalf("signal: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- sp.cmd.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server exited with error: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("server did not exit after SIGTERM")
	}
}
