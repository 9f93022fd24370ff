package volume

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// NIfTI-1 single-file codec. Only the "n+1" (header and data in one file)
// variant is supported; this is what HD-BET reads and writes.

const (
	niftiHeaderSize = 348
	niftiVoxOffset  = 352

	dtUint8   = 2
	dtInt16   = 4
	dtInt32   = 8
	dtFloat32 = 16
	dtFloat64 = 64
	dtUint16  = 512

	// The header stores grid dimensions as int16.
	maxHeaderDim = 32767
)

func checkHeaderDims(dims [3]int) error {
	for axis, d := range dims {
		if d > maxHeaderDim {
			return fmt.Errorf("dimension %d is %d, exceeds the NIfTI-1 limit of %d", axis, d, maxHeaderDim)
		}
	}
	return nil
}

// niftiHeader mirrors the packed 348-byte NIfTI-1 header layout.
type niftiHeader struct {
	SizeofHdr    int32
	DataType     [10]byte
	DBName       [18]byte
	Extents      int32
	SessionError int16
	Regular      byte
	DimInfo      byte
	Dim          [8]int16
	IntentP1     float32
	IntentP2     float32
	IntentP3     float32
	IntentCode   int16
	Datatype     int16
	Bitpix       int16
	SliceStart   int16
	Pixdim       [8]float32
	VoxOffset    float32
	SclSlope     float32
	SclInter     float32
	SliceEnd     int16
	SliceCode    byte
	XyztUnits    byte
	CalMax       float32
	CalMin       float32
	SliceDur     float32
	Toffset      float32
	Glmax        int32
	Glmin        int32
	Descrip      [80]byte
	AuxFile      [24]byte
	QformCode    int16
	SformCode    int16
	QuaternB     float32
	QuaternC     float32
	QuaternD     float32
	QoffsetX     float32
	QoffsetY     float32
	QoffsetZ     float32
	SrowX        [4]float32
	SrowY        [4]float32
	SrowZ        [4]float32
	IntentName   [16]byte
	Magic        [4]byte
}

func newHeader(dims [3]int, geom Geometry, datatype int16, bitpix int16) niftiHeader {
	var h niftiHeader
	h.SizeofHdr = niftiHeaderSize
	h.Regular = 'r'
	h.Dim[0] = 3
	for i := 0; i < 3; i++ {
		h.Dim[i+1] = int16(dims[i])
	}
	for i := 4; i < 8; i++ {
		h.Dim[i] = 1
	}
	h.Datatype = datatype
	h.Bitpix = bitpix
	h.Pixdim[0] = 1
	for i := 0; i < 3; i++ {
		h.Pixdim[i+1] = float32(geom.Spacing[i])
	}
	h.VoxOffset = niftiVoxOffset
	h.SclSlope = 1
	h.XyztUnits = 2 | 8 // mm, seconds
	copy(h.Descrip[:], "stripd")
	h.SformCode = 1
	aff := geom.Affine()
	for c := 0; c < 4; c++ {
		h.SrowX[c] = float32(aff[0][c])
		h.SrowY[c] = float32(aff[1][c])
		h.SrowZ[c] = float32(aff[2][c])
	}
	copy(h.Magic[:], "n+1\x00")
	return h
}

func openNIfTIWriter(path string) (io.WriteCloser, func() error, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	if strings.HasSuffix(path, ".gz") {
		gz := gzip.NewWriter(f)
		closeAll := func() error {
			if err := gz.Close(); err != nil {
				_ = f.Close()
				return err
			}
			return f.Close()
		}
		return gz, closeAll, nil
	}
	return f, f.Close, nil
}

// WriteNIfTI writes v as a float32 NIfTI-1 file; gzip when path ends in .gz.
func WriteNIfTI(v *Volume, path string) error {
	if err := v.Validate(); err != nil {
		return fmt.Errorf("write nifti: %w", err)
	}
	if err := checkHeaderDims(v.Dims); err != nil {
		return fmt.Errorf("write nifti: %w", err)
	}
	w, closeAll, err := openNIfTIWriter(path)
	if err != nil {
		return err
	}
	h := newHeader(v.Dims, v.Geom, dtFloat32, 32)
	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		_ = closeAll()
		return fmt.Errorf("write nifti header: %w", err)
	}
	// 4 padding bytes between header end (348) and vox_offset (352).
	if _, err := w.Write(make([]byte, niftiVoxOffset-niftiHeaderSize)); err != nil {
		_ = closeAll()
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, v.Data); err != nil {
		_ = closeAll()
		return fmt.Errorf("write nifti data: %w", err)
	}
	return closeAll()
}

// WriteMaskNIfTI writes a binary mask as a uint8 NIfTI-1 file.
func WriteMaskNIfTI(mask []uint8, dims [3]int, geom Geometry, path string) error {
	if want := dims[0] * dims[1] * dims[2]; len(mask) != want {
		return fmt.Errorf("write mask nifti: mask length %d does not match dims %v", len(mask), dims)
	}
	if err := checkHeaderDims(dims); err != nil {
		return fmt.Errorf("write mask nifti: %w", err)
	}
	w, closeAll, err := openNIfTIWriter(path)
	if err != nil {
		return err
	}
	h := newHeader(dims, geom, dtUint8, 8)
	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		_ = closeAll()
		return fmt.Errorf("write mask nifti header: %w", err)
	}
	if _, err := w.Write(make([]byte, niftiVoxOffset-niftiHeaderSize)); err != nil {
		_ = closeAll()
		return err
	}
	if _, err := w.Write(mask); err != nil {
		_ = closeAll()
		return fmt.Errorf("write mask nifti data: %w", err)
	}
	return closeAll()
}

// ReadNIfTI reads a single-file NIfTI-1 volume. Integer datatypes are widened
// to float32; scl_slope/scl_inter scaling is applied when present.
func ReadNIfTI(path string) (*Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("read nifti %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	raw := make([]byte, niftiHeaderSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("read nifti header %s: %w", path, err)
	}
	// Byte order is inferred from sizeof_hdr.
	var order binary.ByteOrder = binary.LittleEndian
	if binary.LittleEndian.Uint32(raw[:4]) != niftiHeaderSize {
		if binary.BigEndian.Uint32(raw[:4]) != niftiHeaderSize {
			return nil, fmt.Errorf("read nifti %s: not a NIfTI-1 file", path)
		}
		order = binary.BigEndian
	}
	var h niftiHeader
	if err := binary.Read(bytes.NewReader(raw), order, &h); err != nil {
		return nil, fmt.Errorf("decode nifti header %s: %w", path, err)
	}
	magic := string(h.Magic[:3])
	if magic != "n+1" {
		if magic == "ni1" {
			return nil, fmt.Errorf("read nifti %s: two-file (hdr/img) NIfTI is not supported", path)
		}
		return nil, fmt.Errorf("read nifti %s: bad magic %q", path, magic)
	}
	if h.Dim[0] < 3 {
		return nil, fmt.Errorf("read nifti %s: expected a 3D volume, dim[0]=%d", path, h.Dim[0])
	}
	dims := [3]int{int(h.Dim[1]), int(h.Dim[2]), int(h.Dim[3])}
	for axis, d := range dims {
		if d <= 0 {
			return nil, fmt.Errorf("read nifti %s: empty dimension %d", path, axis)
		}
	}

	geom := geometryFromHeader(&h)
	n := dims[0] * dims[1] * dims[2]

	// Skip from header end to vox_offset.
	if skip := int64(h.VoxOffset) - niftiHeaderSize; skip > 0 {
		if _, err := io.CopyN(io.Discard, r, skip); err != nil {
			return nil, fmt.Errorf("read nifti %s: %w", path, err)
		}
	}

	data, err := readVoxels(r, order, h.Datatype, n)
	if err != nil {
		return nil, fmt.Errorf("read nifti data %s: %w", path, err)
	}
	if slope := h.SclSlope; slope != 0 && !(slope == 1 && h.SclInter == 0) {
		for i := range data {
			data[i] = data[i]*slope + h.SclInter
		}
	}
	return &Volume{Dims: dims, Geom: geom, Data: data}, nil
}

func geometryFromHeader(h *niftiHeader) Geometry {
	var g Geometry
	if h.SformCode > 0 {
		rows := [3][4]float32{h.SrowX, h.SrowY, h.SrowZ}
		dir := mat.NewDense(3, 3, nil)
		for c := 0; c < 3; c++ {
			col := mat.NewVecDense(3, []float64{float64(rows[0][c]), float64(rows[1][c]), float64(rows[2][c])})
			norm := mat.Norm(col, 2)
			if norm == 0 {
				norm = 1
			}
			g.Spacing[c] = norm
			for r := 0; r < 3; r++ {
				dir.Set(r, c, col.AtVec(r)/norm)
			}
		}
		g.Direction = dir
		g.Origin = [3]float64{float64(h.SrowX[3]), float64(h.SrowY[3]), float64(h.SrowZ[3])}
		return g
	}
	for i := 0; i < 3; i++ {
		s := float64(h.Pixdim[i+1])
		if s == 0 {
			s = 1
		}
		g.Spacing[i] = math.Abs(s)
	}
	g.Origin = [3]float64{float64(h.QoffsetX), float64(h.QoffsetY), float64(h.QoffsetZ)}
	g.Direction = IdentityDirection()
	return g
}

func readVoxels(r io.Reader, order binary.ByteOrder, datatype int16, n int) ([]float32, error) {
	out := make([]float32, n)
	switch datatype {
	case dtFloat32:
		if err := binary.Read(r, order, out); err != nil {
			return nil, err
		}
	case dtFloat64:
		buf := make([]float64, n)
		if err := binary.Read(r, order, buf); err != nil {
			return nil, err
		}
		for i, v := range buf {
			out[i] = float32(v)
		}
	case dtUint8:
		buf := make([]uint8, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		for i, v := range buf {
			out[i] = float32(v)
		}
	case dtInt16:
		buf := make([]int16, n)
		if err := binary.Read(r, order, buf); err != nil {
			return nil, err
		}
		for i, v := range buf {
			out[i] = float32(v)
		}
	case dtUint16:
		buf := make([]uint16, n)
		if err := binary.Read(r, order, buf); err != nil {
			return nil, err
		}
		for i, v := range buf {
			out[i] = float32(v)
		}
	case dtInt32:
		buf := make([]int32, n)
		if err := binary.Read(r, order, buf); err != nil {
			return nil, err
		}
		for i, v := range buf {
			out[i] = float32(v)
		}
	default:
		return nil, fmt.Errorf("unsupported datatype %d", datatype)
	}
	return out, nil
}
