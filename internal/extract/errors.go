package extract

import (
	"context"
	"errors"

	"stripd/internal/device"
	"stripd/internal/provision"
	"stripd/internal/runner"
	"stripd/internal/volume"
)

// Reason classifies err into the failure taxonomy used in logs and API
// responses. Empty for nil errors.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case provision.IsUnavailable(err):
		return "dependency_unavailable"
	case volume.IsExportError(err):
		return "export_error"
	case volume.IsOutputMissing(err):
		return "output_missing"
	case runner.IsLaunch(err):
		return "launch_error"
	case runner.IsTimeout(err):
		return "timeout"
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		if _, _, ok := device.IsNotFound(err); ok {
			return "device_not_found"
		}
		if _, _, ok := runner.IsProcess(err); ok {
			return "process_error"
		}
		return "error"
	}
}
