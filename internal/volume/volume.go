// Package volume holds the host-native 3D image and segmentation model and
// the on-disk exchange with the inference tool. It is structured into small
// files by concern:
//
//   - volume.go: Volume/Segmentation handles and geometry.
//   - nifti.go: NIfTI-1 single-file codec (.nii / .nii.gz).
//   - exchange.go: export/import contract with the tool, error types.
//   - derive.go: mask application and segment construction.
package volume

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Geometry is the physical placement of a voxel grid: per-axis spacing in mm,
// world origin in mm, and a 3x3 direction (orientation) matrix. A nil
// Direction means identity.
type Geometry struct {
	Spacing   [3]float64
	Origin    [3]float64
	Direction *mat.Dense
}

// IdentityDirection returns a fresh 3x3 identity matrix.
func IdentityDirection() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}

// DirectionOrIdentity never returns nil.
func (g Geometry) DirectionOrIdentity() *mat.Dense {
	if g.Direction == nil {
		return IdentityDirection()
	}
	return g.Direction
}

// Clone returns a deep copy.
func (g Geometry) Clone() Geometry {
	out := Geometry{Spacing: g.Spacing, Origin: g.Origin}
	if g.Direction != nil {
		out.Direction = mat.DenseCopyOf(g.Direction)
	}
	return out
}

// Validate rejects degenerate geometry (zero or negative spacing).
func (g Geometry) Validate() error {
	for axis, s := range g.Spacing {
		if s <= 0 {
			return fmt.Errorf("zero spacing on axis %d", axis)
		}
	}
	if g.Direction != nil {
		if r, c := g.Direction.Dims(); r != 3 || c != 3 {
			return fmt.Errorf("direction matrix is %dx%d, want 3x3", r, c)
		}
	}
	return nil
}

// Affine returns the voxel-to-world transform as three rows of
// [direction * diag(spacing) | origin], the layout NIfTI stores in srow_*.
func (g Geometry) Affine() [3][4]float64 {
	d := g.DirectionOrIdentity()
	var rows [3][4]float64
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			rows[r][c] = d.At(r, c) * g.Spacing[c]
		}
		rows[r][3] = g.Origin[r]
	}
	return rows
}

// Volume is a host-native 3D scalar image. Data is a dense float32 grid in
// x-fastest order: index = i + Dims[0]*(j + Dims[1]*k).
type Volume struct {
	Dims [3]int
	Geom Geometry
	Data []float32
}

// NewVolume allocates a zero-filled volume.
func NewVolume(dims [3]int, geom Geometry) *Volume {
	n := dims[0] * dims[1] * dims[2]
	if n < 0 {
		n = 0
	}
	return &Volume{Dims: dims, Geom: geom, Data: make([]float32, n)}
}

// NumVoxels returns the total grid size.
func (v *Volume) NumVoxels() int { return v.Dims[0] * v.Dims[1] * v.Dims[2] }

func (v *Volume) index(i, j, k int) int { return i + v.Dims[0]*(j+v.Dims[1]*k) }

// At returns the intensity at (i,j,k). No bounds check beyond the slice's.
func (v *Volume) At(i, j, k int) float32 { return v.Data[v.index(i, j, k)] }

// Set stores an intensity at (i,j,k).
func (v *Volume) Set(i, j, k int, val float32) { v.Data[v.index(i, j, k)] = val }

// Validate rejects empty grids, mismatched buffers and degenerate geometry.
func (v *Volume) Validate() error {
	if v == nil {
		return fmt.Errorf("nil volume")
	}
	for axis, d := range v.Dims {
		if d <= 0 {
			return fmt.Errorf("empty dimension %d", axis)
		}
	}
	if len(v.Data) != v.NumVoxels() {
		return fmt.Errorf("data length %d does not match dims %v", len(v.Data), v.Dims)
	}
	return v.Geom.Validate()
}

// CopyFrom populates this handle in place from src. Used to fill a
// caller-supplied output destination without reallocating the handle itself.
func (v *Volume) CopyFrom(src *Volume) {
	v.Dims = src.Dims
	v.Geom = src.Geom.Clone()
	if cap(v.Data) < len(src.Data) {
		v.Data = make([]float32, len(src.Data))
	}
	v.Data = v.Data[:len(src.Data)]
	copy(v.Data, src.Data)
}

// Segment is one named voxel-membership mask inside a segmentation.
type Segment struct {
	Name  string
	Color [3]float64
	Mask  []uint8
}

// VoxelCount returns the number of member voxels.
func (s *Segment) VoxelCount() int {
	n := 0
	for _, m := range s.Mask {
		if m != 0 {
			n++
		}
	}
	return n
}

// Segmentation is a host-native collection of segments aligned to a
// reference volume's grid and geometry.
type Segmentation struct {
	Dims     [3]int
	Geom     Geometry
	Segments []Segment
}

// PopulateSingle replaces the segmentation's content with exactly one segment.
func (s *Segmentation) PopulateSingle(name string, color [3]float64, dims [3]int, geom Geometry, mask []uint8) error {
	if want := dims[0] * dims[1] * dims[2]; len(mask) != want {
		return fmt.Errorf("mask length %d does not match dims %v", len(mask), dims)
	}
	s.Dims = dims
	s.Geom = geom.Clone()
	s.Segments = []Segment{{Name: name, Color: color, Mask: mask}}
	return nil
}
