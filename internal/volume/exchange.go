package volume

import (
	"errors"
	"fmt"

	"stripd/internal/common/fsutil"
)

// exportError signals that the input volume cannot be written for the tool
// (degenerate geometry or an empty grid).
type exportError struct{ reason string }

func (e exportError) Error() string { return "export: " + e.reason }

// ErrExport constructs an export contract violation.
func ErrExport(reason string) error { return exportError{reason: reason} }

// IsExportError reports whether err indicates an invalid input volume.
func IsExportError(err error) bool {
	var e exportError
	return errors.As(err, &e)
}

// outputMissingError signals that the tool reported success but the expected
// output file is absent. This is a tool-contract violation, never silent.
type outputMissingError struct{ path string }

func (e outputMissingError) Error() string { return "expected output file missing: " + e.path }

// ErrOutputMissing constructs an output-contract violation for path.
func ErrOutputMissing(path string) error { return outputMissingError{path: path} }

// IsOutputMissing reports whether err indicates a missing tool output file.
func IsOutputMissing(err error) bool {
	var e outputMissingError
	return errors.As(err, &e)
}

// Export writes v to path in the tool's input format. Geometry and
// intensities are preserved losslessly at the volume's native precision.
func Export(v *Volume, path string) error {
	if v == nil {
		return ErrExport("nil input volume")
	}
	if err := v.Validate(); err != nil {
		return ErrExport(err.Error())
	}
	if err := WriteNIfTI(v, path); err != nil {
		return fmt.Errorf("export %s: %w", path, err)
	}
	return nil
}

// ImportVolume reads a tool output volume from path. Geometry is copied
// verbatim from ref rather than re-derived from the file, so a round trip
// through the tool cannot introduce floating-point drift.
func ImportVolume(path string, ref *Volume) (*Volume, error) {
	if !fsutil.FileNonEmpty(path) {
		return nil, ErrOutputMissing(path)
	}
	v, err := ReadNIfTI(path)
	if err != nil {
		return nil, fmt.Errorf("import %s: %w", path, err)
	}
	if v.Dims != ref.Dims {
		return nil, fmt.Errorf("import %s: output dims %v do not match input %v", path, v.Dims, ref.Dims)
	}
	v.Geom = ref.Geom.Clone()
	return v, nil
}

// ImportMask reads a tool output mask from path as a binary membership grid
// aligned to ref. Any nonzero voxel is a member.
func ImportMask(path string, ref *Volume) ([]uint8, error) {
	v, err := ImportVolume(path, ref)
	if err != nil {
		return nil, err
	}
	mask := make([]uint8, len(v.Data))
	for i, val := range v.Data {
		if val > 0 {
			mask[i] = 1
		}
	}
	return mask, nil
}
