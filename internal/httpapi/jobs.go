package httpapi

import (
	"context"
	"sync"
	"time"

	"stripd/internal/extract"
	"stripd/internal/volume"
	"stripd/pkg/types"
)

// exportTargets are the on-disk destinations a finished job writes to.
type exportTargets struct {
	Volume           *volume.Volume
	Segmentation     *volume.Segmentation
	VolumePath       string
	SegmentationPath string
}

// apiJob wraps an extraction job with the final file export. The job is not
// reported terminal until the requested output files are on disk.
type apiJob struct {
	job  *extract.Job
	done chan struct{}

	mu    sync.Mutex
	final types.JobStatus
}

func newAPIJob(base context.Context, j *extract.Job, targets exportTargets) *apiJob {
	aj := &apiJob{job: j, done: make(chan struct{})}
	go func() {
		select {
		case <-j.Done():
		case <-base.Done():
			// Server shutdown: cancel and wait for the run to unwind.
			j.Cancel()
			<-j.Done()
		}
		st := j.Status()
		if st.State == types.StateSucceeded {
			if err := writeTargets(targets); err != nil {
				st.State = types.StateFailed
				st.Error = "writing outputs: " + err.Error()
			}
		}
		aj.mu.Lock()
		aj.final = st
		aj.mu.Unlock()
		close(aj.done)
	}()
	return aj
}

func writeTargets(t exportTargets) error {
	if t.VolumePath != "" {
		if err := volume.WriteNIfTI(t.Volume, t.VolumePath); err != nil {
			return err
		}
	}
	if t.SegmentationPath != "" {
		seg := t.Segmentation.Segments[0]
		if err := volume.WriteMaskNIfTI(seg.Mask, t.Segmentation.Dims, t.Segmentation.Geom, t.SegmentationPath); err != nil {
			return err
		}
	}
	return nil
}

func (aj *apiJob) ID() string { return aj.job.ID }

func (aj *apiJob) cancel() { aj.job.Cancel() }

func (aj *apiJob) status() types.JobStatus {
	select {
	case <-aj.done:
		aj.mu.Lock()
		defer aj.mu.Unlock()
		return aj.final
	default:
	}
	st := aj.job.Status()
	if st.State.Terminal() {
		// The run finished but the export goroutine has not; keep reporting
		// running so callers never observe success before files exist.
		st.State = types.StateRunning
		st.Error = ""
		st.MaskVoxels = 0
	}
	return st
}

// registry indexes jobs by id. Finished jobs stay queryable for the retention
// window and are then evicted, so a long-lived daemon does not accumulate
// terminal entries without bound.
type registry struct {
	mu   sync.Mutex
	jobs map[string]*apiJob
}

func newRegistry() *registry {
	return &registry{jobs: make(map[string]*apiJob)}
}

func (r *registry) add(aj *apiJob) {
	r.mu.Lock()
	r.jobs[aj.ID()] = aj
	r.mu.Unlock()
	go func() {
		<-aj.done
		time.AfterFunc(jobRetention, func() { r.remove(aj.ID()) })
	}()
}

func (r *registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}

func (r *registry) get(id string) (*apiJob, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	aj, ok := r.jobs[id]
	return aj, ok
}
