package volume

import "fmt"

// Segment identity for the extracted brain region, matching the terminology
// the host application uses for HD-BET results.
const BrainSegmentName = "brain"

// BrainSegmentColor is the display color of the brain segment.
var BrainSegmentColor = [3]float64{0.9803921568627451, 0.9803921568627451, 0.8823529411764706}

// ApplyMask returns a copy of src with voxels outside mask set to background.
func ApplyMask(src *Volume, mask []uint8, background float32) (*Volume, error) {
	if len(mask) != len(src.Data) {
		return nil, fmt.Errorf("apply mask: mask length %d does not match volume %v", len(mask), src.Dims)
	}
	out := NewVolume(src.Dims, src.Geom.Clone())
	for i, m := range mask {
		if m != 0 {
			out.Data[i] = src.Data[i]
		} else {
			out.Data[i] = background
		}
	}
	return out, nil
}

// MaskVoxelCount returns the number of member voxels in mask.
func MaskVoxelCount(mask []uint8) int {
	n := 0
	for _, m := range mask {
		if m != 0 {
			n++
		}
	}
	return n
}
