package geowarp

import (
	"context"
	"fmt"
)

// RasterReader is a single open raster band: the only contact point with a
// decoding backend.
//
// Implementations are not required to be safe for concurrent use; give
// every goroutine its own reader.
type RasterReader interface {
	// Shape returns the native (rows, cols)
	Shape() (rows, cols int)
	// Transform returns the native pixel -> world transform
	Transform() (Affine, error)
	// CRS returns the native coordinate reference system
	CRS() (CRS, error)
	// DataType returns the native sample type
	DataType() DataType
	// Nodata returns the nodata value, if any
	Nodata() (float64, bool)
	// ReadWindow reads win sampled every scale pixels along both axes,
	// starting at its top-left pixel. The result has
	// ceil(rows/scale) x ceil(cols/scale) pixels. win must lie inside the
	// raster.
	ReadWindow(ctx context.Context, win ROI, scale int) (*Array, error)
}

// DeriveGeoBox builds the native GeoBox of an open reader. It fails when the
// backend has no usable transform or CRS.
func DeriveGeoBox(rdr RasterReader) (GeoBox, error) {
	rows, cols := rdr.Shape()

	affine, err := rdr.Transform()
	if err != nil {
		return GeoBox{}, fmt.Errorf("failed to read transform: %w", err)
	}

	crs, err := rdr.CRS()
	if err != nil {
		return GeoBox{}, fmt.Errorf("failed to read CRS: %w", err)
	}
	if crs.IsZero() {
		return GeoBox{}, fmt.Errorf("%w: CRS is undefined", ErrNoGeoreference)
	}

	return NewGeoBox(rows, cols, affine, crs)
}

// nodataPtr returns the reader's nodata value as a pointer, nil when absent
func nodataPtr(rdr RasterReader) *float64 {
	v, ok := rdr.Nodata()
	if !ok {
		return nil
	}
	return &v
}

// validateWindow checks a ReadWindow request against a rows x cols raster
func validateWindow(win ROI, scale, rows, cols int) error {
	if !win.Within(rows, cols) {
		return fmt.Errorf("%w: %s in %dx%d", ErrWindowOutOfBounds, win, rows, cols)
	}
	if scale < 1 {
		return fmt.Errorf("invalid read scale: %d", scale)
	}
	return nil
}

// MemReader serves an in-memory array as a RasterReader
type MemReader struct {
	data     *Array
	box      GeoBox
	dataType DataType
	nodata   *float64
}

// NewMemReader wraps data described by box. nodata may be nil.
func NewMemReader(data *Array, box GeoBox, nodata *float64) (*MemReader, error) {
	if data == nil || data.Rows != box.rows || data.Cols != box.cols {
		return nil, fmt.Errorf("%w: data does not match %s", ErrShapeMismatch, box)
	}
	m := &MemReader{data: data, box: box, dataType: Float64}
	if nodata != nil {
		v := *nodata
		m.nodata = &v
	}
	return m, nil
}

// WithDataType sets the reported native type; the values are unchanged
func (m *MemReader) WithDataType(dt DataType) *MemReader {
	m.dataType = dt
	return m
}

// Shape returns the grid shape
func (m *MemReader) Shape() (int, int) { return m.box.Shape() }

// Transform returns the grid transform
func (m *MemReader) Transform() (Affine, error) { return m.box.affine, nil }

// CRS returns the grid CRS
func (m *MemReader) CRS() (CRS, error) { return m.box.crs, nil }

// DataType returns the reported native type
func (m *MemReader) DataType() DataType { return m.dataType }

// Nodata returns the nodata value if one was supplied
func (m *MemReader) Nodata() (float64, bool) {
	if m.nodata == nil {
		return 0, false
	}
	return *m.nodata, true
}

// ReadWindow copies a strided window
func (m *MemReader) ReadWindow(ctx context.Context, win ROI, scale int) (*Array, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateWindow(win, scale, m.data.Rows, m.data.Cols); err != nil {
		return nil, err
	}
	return m.data.strided(win, scale), nil
}
