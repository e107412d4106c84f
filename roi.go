package geowarp

import "fmt"

// Range is a half-open integer interval [Start, Stop)
type Range struct {
	Start, Stop int
}

// Len returns the number of indices in the range, never negative
func (r Range) Len() int {
	if r.Stop <= r.Start {
		return 0
	}
	return r.Stop - r.Start
}

// Empty reports whether the range contains no indices
func (r Range) Empty() bool {
	return r.Len() == 0
}

// Intersect returns the overlap of two ranges
func (r Range) Intersect(o Range) Range {
	return Range{Start: max(r.Start, o.Start), Stop: min(r.Stop, o.Stop)}
}

// ROI is a rectangular region of interest in a grid's pixel space.
// Rows index the Y axis and Cols the X axis.
type ROI struct {
	Rows Range
	Cols Range
}

// NewROI builds an ROI from row and column bounds
func NewROI(row0, row1, col0, col1 int) ROI {
	return ROI{Rows: Range{row0, row1}, Cols: Range{col0, col1}}
}

// FullROI covers a whole rows x cols grid
func FullROI(rows, cols int) ROI {
	return NewROI(0, rows, 0, cols)
}

// Empty reports whether the ROI covers no pixels
func (r ROI) Empty() bool {
	return r.Rows.Empty() || r.Cols.Empty()
}

// Shape returns (rows, cols) of the ROI
func (r ROI) Shape() (int, int) {
	return r.Rows.Len(), r.Cols.Len()
}

// Intersect returns the overlap of two ROIs
func (r ROI) Intersect(o ROI) ROI {
	return ROI{Rows: r.Rows.Intersect(o.Rows), Cols: r.Cols.Intersect(o.Cols)}
}

// Pad grows the ROI by n pixels on every side
func (r ROI) Pad(n int) ROI {
	return NewROI(r.Rows.Start-n, r.Rows.Stop+n, r.Cols.Start-n, r.Cols.Stop+n)
}

// Clip restricts the ROI to a rows x cols grid
func (r ROI) Clip(rows, cols int) ROI {
	return r.Intersect(FullROI(rows, cols))
}

// Within reports whether a non-empty ROI lies inside a rows x cols grid
func (r ROI) Within(rows, cols int) bool {
	return !r.Empty() &&
		r.Rows.Start >= 0 && r.Rows.Stop <= rows &&
		r.Cols.Start >= 0 && r.Cols.Stop <= cols
}

func (r ROI) String() string {
	return fmt.Sprintf("[%d:%d, %d:%d]", r.Rows.Start, r.Rows.Stop, r.Cols.Start, r.Cols.Stop)
}

func ceilDiv(a, b int) int {
	return -floorDiv(-a, b)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
