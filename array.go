package geowarp

import (
	"fmt"
	"math"
)

// DataType is the native sample type of a raster band
type DataType uint8

const (
	Uint8 DataType = iota + 1
	Int8
	Uint16
	Int16
	Uint32
	Int32
	Float32
	Float64
)

// Size returns the number of bytes per sample
func (dt DataType) Size() int {
	switch dt {
	case Uint8, Int8:
		return 1
	case Uint16, Int16:
		return 2
	case Uint32, Int32, Float32:
		return 4
	case Float64:
		return 8
	default:
		return 1
	}
}

// IsFloat reports whether the type is IEEE floating point
func (dt DataType) IsFloat() bool {
	return dt == Float32 || dt == Float64
}

func (dt DataType) String() string {
	switch dt {
	case Uint8:
		return "uint8"
	case Int8:
		return "int8"
	case Uint16:
		return "uint16"
	case Int16:
		return "int16"
	case Uint32:
		return "uint32"
	case Int32:
		return "int32"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return fmt.Sprintf("DataType(%d)", uint8(dt))
	}
}

// Array is a single band of pixels stored row-major:
// index = row * Cols + col.
// float64 represents every supported sample type exactly.
type Array struct {
	Data []float64
	Rows int
	Cols int
}

// NewArray allocates a zero-filled rows x cols array
func NewArray(rows, cols int) *Array {
	return &Array{Data: make([]float64, rows*cols), Rows: rows, Cols: cols}
}

// FullArray allocates a rows x cols array filled with v
func FullArray(rows, cols int, v float64) *Array {
	a := NewArray(rows, cols)
	a.Fill(v)
	return a
}

// At returns the value at (row, col), or 0 outside the array
func (a *Array) At(row, col int) float64 {
	if row < 0 || row >= a.Rows || col < 0 || col >= a.Cols {
		return 0
	}
	return a.Data[row*a.Cols+col]
}

// Set sets the value at (row, col); out of range writes are ignored
func (a *Array) Set(row, col int, v float64) {
	if row < 0 || row >= a.Rows || col < 0 || col >= a.Cols {
		return
	}
	a.Data[row*a.Cols+col] = v
}

// Index returns the flat index of (row, col)
func (a *Array) Index(row, col int) int {
	return row*a.Cols + col
}

// Row returns the backing slice of a single row
func (a *Array) Row(row int) []float64 {
	return a.Data[row*a.Cols : (row+1)*a.Cols]
}

// Fill sets every pixel to v
func (a *Array) Fill(v float64) {
	for i := range a.Data {
		a.Data[i] = v
	}
}

// Window returns a copy of the pixels inside roi
func (a *Array) Window(roi ROI) (*Array, error) {
	if !roi.Within(a.Rows, a.Cols) {
		return nil, fmt.Errorf("%w: %s in %dx%d", ErrWindowOutOfBounds, roi, a.Rows, a.Cols)
	}
	return a.strided(roi, 1), nil
}

// strided samples roi every k pixels starting at its top-left corner.
// roi must lie within the array.
func (a *Array) strided(roi ROI, k int) *Array {
	rows := ceilDiv(roi.Rows.Len(), k)
	cols := ceilDiv(roi.Cols.Len(), k)
	out := NewArray(rows, cols)
	for r := 0; r < rows; r++ {
		src := a.Row(roi.Rows.Start + r*k)
		dst := out.Row(r)
		if k == 1 {
			copy(dst, src[roi.Cols.Start:roi.Cols.Stop])
			continue
		}
		for c := range dst {
			dst[c] = src[roi.Cols.Start+c*k]
		}
	}
	return out
}

// Paste copies src into the roi of a. Shapes must agree.
func (a *Array) Paste(roi ROI, src *Array) error {
	rows, cols := roi.Shape()
	if src.Rows != rows || src.Cols != cols {
		return fmt.Errorf("%w: %dx%d block for roi %s", ErrShapeMismatch, src.Rows, src.Cols, roi)
	}
	if !roi.Within(a.Rows, a.Cols) {
		return fmt.Errorf("%w: %s in %dx%d", ErrWindowOutOfBounds, roi, a.Rows, a.Cols)
	}
	for r := 0; r < rows; r++ {
		copy(a.Row(roi.Rows.Start + r)[roi.Cols.Start:roi.Cols.Stop], src.Row(r))
	}
	return nil
}

// FlipRows reverses the row order in place
func (a *Array) FlipRows() {
	for top, bottom := 0, a.Rows-1; top < bottom; top, bottom = top+1, bottom-1 {
		rt, rb := a.Row(top), a.Row(bottom)
		for c := range rt {
			rt[c], rb[c] = rb[c], rt[c]
		}
	}
}

// FlipCols reverses the column order in place
func (a *Array) FlipCols() {
	for r := 0; r < a.Rows; r++ {
		row := a.Row(r)
		for i, j := 0, len(row)-1; i < j; i, j = i+1, j-1 {
			row[i], row[j] = row[j], row[i]
		}
	}
}

// Count returns the number of pixels equal to v; NaN matches NaN
func (a *Array) Count(v float64) int {
	n := 0
	nan := math.IsNaN(v)
	for _, x := range a.Data {
		if x == v || (nan && math.IsNaN(x)) {
			n++
		}
	}
	return n
}

// roundValues rounds every pixel except skip to the nearest integer, half
// away from zero
func (a *Array) roundValues(skip float64) {
	for i, v := range a.Data {
		if v != skip {
			a.Data[i] = math.Round(v)
		}
	}
}
