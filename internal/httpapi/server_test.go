package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stripd/internal/device"
	"stripd/internal/extract"
	"stripd/internal/provision"
	"stripd/internal/runner"
	"stripd/internal/volume"
	"stripd/pkg/types"
)

// stubTool stands in for the external process: exit 0 after writing the
// artifacts the CLI flags request.
type stubTool struct{}

func flagValue(args []string, flag string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

type stubProc struct{ done chan struct{} }

func (p *stubProc) Terminate() error      { return nil }
func (p *stubProc) Kill() error           { return nil }
func (p *stubProc) Done() <-chan struct{} { return p.done }
func (p *stubProc) ExitCode() int         { return 0 }
func (p *stubProc) StderrTail() string    { return "" }

func (stubTool) Start(_ context.Context, spec runner.Spec, onLine func(string)) (runner.Process, error) {
	in, err := volume.ReadNIfTI(flagValue(spec.Args, "-i"))
	if err != nil {
		return nil, err
	}
	mask := make([]uint8, in.NumVoxels())
	for i := range mask {
		if i%2 == 0 {
			mask[i] = 1
		}
	}
	if flagValue(spec.Args, "-b") == "1" {
		out, err := volume.ApplyMask(in, mask, 0)
		if err != nil {
			return nil, err
		}
		if err := volume.WriteNIfTI(out, flagValue(spec.Args, "-o")); err != nil {
			return nil, err
		}
	}
	if flagValue(spec.Args, "-s") == "1" {
		p := flagValue(spec.Args, "-o")
		p = p[:len(p)-len(".nii.gz")] + "_mask.nii.gz"
		if err := volume.WriteMaskNIfTI(mask, in.Dims, in.Geom, p); err != nil {
			return nil, err
		}
	}
	onLine("postprocessing...")
	proc := &stubProc{done: make(chan struct{})}
	close(proc.done)
	return proc, nil
}

type fixedProbe struct{ snap device.Snapshot }

func (p fixedProbe) Probe(context.Context) device.Snapshot { return p.snap }

func testMux(t *testing.T) http.Handler {
	t.Helper()
	svc := extract.NewWithConfig(extract.Config{
		WorkRoot: t.TempDir(),
		Resolver: &provision.Resolver{
			Exec: func(context.Context, types.ProgressSink, string, ...string) error { return nil },
		},
		Prober:     fixedProbe{snap: device.Snapshot{Count: 1, Names: []string{"Test GPU"}}},
		Controller: stubTool{},
	})
	return NewMux(svc)
}

func writeTestInput(t *testing.T, dir string) string {
	t.Helper()
	v := volume.NewVolume([3]int{6, 5, 4}, volume.Geometry{Spacing: [3]float64{1, 1, 2}})
	for i := range v.Data {
		v.Data[i] = float32(i)
	}
	path := filepath.Join(dir, "t1.nii.gz")
	require.NoError(t, volume.WriteNIfTI(v, path))
	return path
}

func postJSON(t *testing.T, mux http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func pollJob(t *testing.T, mux http.Handler, id string) types.JobStatus {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/"+id, nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var st types.JobStatus
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
		if st.State.Terminal() {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s stuck in state %s", id, st.State)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestExtractEndToEnd(t *testing.T) {
	mux := testMux(t)
	dir := t.TempDir()
	input := writeTestInput(t, dir)
	outVol := filepath.Join(dir, "stripped.nii.gz")
	outSeg := filepath.Join(dir, "mask.nii.gz")

	rec := postJSON(t, mux, "/v1/extract", types.ExtractRequest{
		InputPath:              input,
		OutputVolumePath:       outVol,
		OutputSegmentationPath: outSeg,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var acc types.ExtractAccepted
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&acc))
	require.NotEmpty(t, acc.JobID)

	st := pollJob(t, mux, acc.JobID)
	require.Equal(t, types.StateSucceeded, st.State, "error: %s", st.Error)
	require.Greater(t, st.MaskVoxels, 0)

	got, err := volume.ReadNIfTI(outVol)
	require.NoError(t, err)
	require.Equal(t, [3]int{6, 5, 4}, got.Dims)
	mask, err := volume.ReadNIfTI(outSeg)
	require.NoError(t, err)
	require.Equal(t, [3]int{6, 5, 4}, mask.Dims)
}

func TestExtractRejectsBadRequests(t *testing.T) {
	mux := testMux(t)
	dir := t.TempDir()
	input := writeTestInput(t, dir)

	t.Run("wrong content type", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/extract", strings.NewReader("{}"))
		req.Header.Set("Content-Type", "text/plain")
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	})

	t.Run("invalid json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/extract", strings.NewReader("{nope"))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing input path", func(t *testing.T) {
		rec := postJSON(t, mux, "/v1/extract", types.ExtractRequest{OutputVolumePath: "/tmp/x.nii.gz"})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("no outputs", func(t *testing.T) {
		rec := postJSON(t, mux, "/v1/extract", types.ExtractRequest{InputPath: input})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad device", func(t *testing.T) {
		rec := postJSON(t, mux, "/v1/extract", types.ExtractRequest{
			InputPath: input, OutputVolumePath: "/tmp/x.nii.gz", Device: "tpu",
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unreadable input", func(t *testing.T) {
		rec := postJSON(t, mux, "/v1/extract", types.ExtractRequest{
			InputPath: filepath.Join(dir, "missing.nii.gz"), OutputVolumePath: "/tmp/x.nii.gz",
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		var er types.ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&er))
		require.Contains(t, er.Error, "input volume")
	})
}

func TestFinishedJobsAreEvicted(t *testing.T) {
	SetJobRetention(100 * time.Millisecond)
	defer SetJobRetention(0)
	mux := testMux(t)
	dir := t.TempDir()

	rec := postJSON(t, mux, "/v1/extract", types.ExtractRequest{
		InputPath:        writeTestInput(t, dir),
		OutputVolumePath: filepath.Join(dir, "stripped.nii.gz"),
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var acc types.ExtractAccepted
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&acc))

	st := pollJob(t, mux, acc.JobID)
	require.Equal(t, types.StateSucceeded, st.State, "error: %s", st.Error)

	// after the retention window the id is gone
	deadline := time.Now().Add(10 * time.Second)
	for {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/"+acc.JobID, nil))
		if rec.Code == http.StatusNotFound {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s still queryable after retention", acc.JobID)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestJobLookup(t *testing.T) {
	mux := testMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs/nope/cancel", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDevices(t *testing.T) {
	mux := testMux(t)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/devices", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp types.DevicesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, 1, resp.Count)
	require.Len(t, resp.Devices, 1)
	require.Equal(t, "Test GPU", resp.Devices[0].Name)
}

func TestHealthAndMetrics(t *testing.T) {
	mux := testMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "stripd_http_requests_total")
}

func TestProvisionEndpoint(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	svc := extract.NewWithConfig(extract.Config{
		WorkRoot: t.TempDir(),
		Resolver: &provision.Resolver{
			Exec: func(context.Context, types.ProgressSink, string, ...string) error {
				mu.Lock()
				calls++
				mu.Unlock()
				return nil
			},
		},
		Prober:     fixedProbe{},
		Controller: stubTool{},
	})
	mux := NewMux(svc)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/provision", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	mu.Lock()
	defer mu.Unlock()
	require.Greater(t, calls, 0)
}
