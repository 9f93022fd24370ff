package types

// ExtractRequest is the HTTP payload to start a brain-extraction job.
// Paths refer to NIfTI files on the server's filesystem.
type ExtractRequest struct {
	// Path to the input MRI volume (.nii or .nii.gz).
	// example: /data/scans/t1.nii.gz
	InputPath string `json:"input_path"`
	// Destination for the skull-stripped volume; empty to skip.
	OutputVolumePath string `json:"output_volume_path,omitempty"`
	// Destination for the brain-mask segmentation; empty to skip.
	OutputSegmentationPath string `json:"output_segmentation_path,omitempty"`
	// Device request: "auto", "cpu" or "gpu:N". Defaults to auto.
	Device string `json:"device,omitempty"`
	// Optional wall-clock limit in seconds; 0 means no limit.
	TimeoutSec int `json:"timeout_sec,omitempty"`
}

// ExtractAccepted is returned when a job has been queued.
type ExtractAccepted struct {
	JobID string `json:"job_id"`
}

// JobStatus is a point-in-time view of a running or finished job.
type JobStatus struct {
	ID       string   `json:"id"`
	State    RunState `json:"state"`
	Percent  float64  `json:"percent"`
	Error    string   `json:"error,omitempty"`
	// MaskVoxels is the brain-mask voxel count, set on success when a
	// segmentation was requested.
	MaskVoxels int `json:"mask_voxels,omitempty"`
}

// DeviceInfo describes one probed accelerator.
type DeviceInfo struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

// DevicesResponse is the accelerator probe result.
type DevicesResponse struct {
	Count   int          `json:"count"`
	Devices []DeviceInfo `json:"devices"`
}

// ErrorResponse is the common JSON error payload.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}
