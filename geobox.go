package geowarp

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// GeoBox describes a pixel grid: its shape, the affine transform from pixel
// to world coordinates and the CRS of those world coordinates.
//
// A GeoBox is an immutable value; every derivation returns a new one.
type GeoBox struct {
	rows, cols int
	affine     Affine
	crs        CRS
}

// NewGeoBox validates and builds a GeoBox
func NewGeoBox(rows, cols int, affine Affine, crs CRS) (GeoBox, error) {
	if rows <= 0 || cols <= 0 {
		return GeoBox{}, fmt.Errorf("%w: %dx%d", ErrInvalidShape, rows, cols)
	}
	if !affine.IsInvertible() {
		return GeoBox{}, fmt.Errorf("%w: %s", ErrNotInvertible, affine)
	}
	return GeoBox{rows: rows, cols: cols, affine: affine, crs: crs}, nil
}

// MustGeoBox is like NewGeoBox but panics on error
func MustGeoBox(rows, cols int, affine Affine, crs CRS) GeoBox {
	g, err := NewGeoBox(rows, cols, affine, crs)
	if err != nil {
		panic(err)
	}
	return g
}

// GeoBoxFromBound builds a north-up grid covering bound with the given pixel
// size. resX and resY are magnitudes; the origin is the top-left of bound.
func GeoBoxFromBound(bound orb.Bound, resX, resY float64, crs CRS) (GeoBox, error) {
	resX, resY = math.Abs(resX), math.Abs(resY)
	if resX == 0 || resY == 0 || bound.IsEmpty() {
		return GeoBox{}, fmt.Errorf("%w: bound %v at resolution %gx%g", ErrInvalidShape, bound, resX, resY)
	}
	cols := int(math.Ceil((bound.Max[0]-bound.Min[0])/resX - DefaultTolerance))
	rows := int(math.Ceil((bound.Max[1]-bound.Min[1])/resY - DefaultTolerance))
	return NewGeoBox(max(rows, 1), max(cols, 1), Affine{A: resX, C: bound.Min[0], E: -resY, F: bound.Max[1]}, crs)
}

// Shape returns (rows, cols)
func (g GeoBox) Shape() (int, int) {
	return g.rows, g.cols
}

// Rows returns the grid height in pixels
func (g GeoBox) Rows() int { return g.rows }

// Cols returns the grid width in pixels
func (g GeoBox) Cols() int { return g.cols }

// Transform returns the pixel -> world affine transform
func (g GeoBox) Transform() Affine { return g.affine }

// CRS returns the coordinate reference system
func (g GeoBox) CRS() CRS { return g.crs }

// Resolution returns the signed pixel size along X and Y.
// For north-up grids Y is negative.
func (g GeoBox) Resolution() (float64, float64) {
	return g.affine.A, g.affine.E
}

// IsZero reports whether g is the zero GeoBox
func (g GeoBox) IsZero() bool {
	return g.rows == 0 && g.cols == 0
}

// Equal reports whether two geoboxes describe the same grid. Transform
// coefficients must agree within tol of a pixel (default 1e-3).
func (g GeoBox) Equal(o GeoBox, tol ...float64) bool {
	t := 1e-3
	if len(tol) > 0 {
		t = tol[0]
	}
	if g.rows != o.rows || g.cols != o.cols || !g.crs.Equal(o.crs) {
		return false
	}
	pix := math.Max(math.Abs(g.affine.A)+math.Abs(g.affine.B), math.Abs(g.affine.D)+math.Abs(g.affine.E))
	return g.affine.AlmostEqual(o.affine, t*pix, t*pix)
}

// PixelToWorld maps continuous pixel coordinates to world coordinates
func (g GeoBox) PixelToWorld(col, row float64) orb.Point {
	x, y := g.affine.Apply(col, row)
	return orb.Point{x, y}
}

// WorldToPixel maps world coordinates to continuous pixel coordinates
func (g GeoBox) WorldToPixel(p orb.Point) (col, row float64) {
	inv, err := g.affine.Inverse()
	if err != nil {
		return math.NaN(), math.NaN()
	}
	return inv.Apply(p[0], p[1])
}

// Extent returns the footprint polygon in the grid's own CRS
func (g GeoBox) Extent() orb.Polygon {
	corners := applyAffine(g.affine, []orb.Point{
		{0, 0},
		{float64(g.cols), 0},
		{float64(g.cols), float64(g.rows)},
		{0, float64(g.rows)},
		{0, 0},
	})
	return orb.Polygon{orb.Ring(corners)}
}

// Bound returns the bounding box of the footprint
func (g GeoBox) Bound() orb.Bound {
	return g.Extent().Bound()
}

// Area returns the footprint area in squared CRS units
func (g GeoBox) Area() float64 {
	return math.Abs(planar.Area(g.Extent()))
}

// Center returns the world coordinates of the grid centre
func (g GeoBox) Center() orb.Point {
	return g.PixelToWorld(float64(g.cols)/2, float64(g.rows)/2)
}

// boundary returns the densified footprint ring in world coordinates
func (g GeoBox) boundary() []orb.Point {
	return applyAffine(g.affine, pixelBoundary(g.rows, g.cols, densifySegments))
}

// ExtentIn returns the footprint reprojected to crs. Edges are densified
// before projection. It fails when either CRS cannot be transformed.
func (g GeoBox) ExtentIn(crs CRS) (orb.Polygon, error) {
	tr, err := g.crs.Transformer(crs)
	if err != nil {
		return nil, err
	}
	if tr == nil {
		return g.Extent(), nil
	}
	pts := reprojectPoints(tr, g.boundary())
	if len(pts) < 4 {
		return nil, fmt.Errorf("failed to project extent of %s to %s", g, crs)
	}
	if pts[0] != pts[len(pts)-1] {
		pts = append(pts, pts[0])
	}
	return orb.Polygon{orb.Ring(pts)}, nil
}

// ToCRS is an alias of ExtentIn
func (g GeoBox) ToCRS(crs CRS) (orb.Polygon, error) {
	return g.ExtentIn(crs)
}

// SubWindow returns the grid covering roi. The ROI may extend past the grid.
func (g GeoBox) SubWindow(roi ROI) (GeoBox, error) {
	if roi.Empty() {
		return GeoBox{}, fmt.Errorf("%w: empty window %s", ErrInvalidShape, roi)
	}
	rows, cols := roi.Shape()
	a := g.affine.Multiply(Translation(float64(roi.Cols.Start), float64(roi.Rows.Start)))
	return GeoBox{rows: rows, cols: cols, affine: a, crs: g.crs}, nil
}

// FlipRows returns the same footprint with the row axis reversed
func (g GeoBox) FlipRows() GeoBox {
	a := g.affine.Multiply(Affine{A: 1, E: -1, F: float64(g.rows)})
	return GeoBox{rows: g.rows, cols: g.cols, affine: a, crs: g.crs}
}

// FlipCols returns the same footprint with the column axis reversed
func (g GeoBox) FlipCols() GeoBox {
	a := g.affine.Multiply(Affine{A: -1, C: float64(g.cols), E: 1})
	return GeoBox{rows: g.rows, cols: g.cols, affine: a, crs: g.crs}
}

// Zoom returns a grid with pixels factor times larger covering the same
// origin. The shape is rounded up so the footprint is never reduced.
// Factors below 1 zoom in.
func (g GeoBox) Zoom(factor float64) (GeoBox, error) {
	if !(factor > 0) || math.IsInf(factor, 0) {
		return GeoBox{}, fmt.Errorf("%w: zoom factor %g", ErrInvalidShape, factor)
	}
	rows := max(1, int(math.Ceil(float64(g.rows)/factor)))
	cols := max(1, int(math.Ceil(float64(g.cols)/factor)))
	return GeoBox{rows: rows, cols: cols, affine: g.affine.Multiply(Scaling(factor, factor)), crs: g.crs}, nil
}

// Pad grows the grid by n pixels on every side; negative n shrinks it
func (g GeoBox) Pad(n int) (GeoBox, error) {
	return g.SubWindow(FullROI(g.rows, g.cols).Pad(n))
}

// Translate shifts the grid by (dx, dy) pixels keeping the shape
func (g GeoBox) Translate(dx, dy float64) GeoBox {
	return GeoBox{rows: g.rows, cols: g.cols, affine: g.affine.Multiply(Translation(dx, dy)), crs: g.crs}
}

// Decimated describes the grid produced by sampling roi every k pixels
// starting at its top-left pixel. Each sample keeps its source pixel centre.
func (g GeoBox) Decimated(roi ROI, k int) (GeoBox, error) {
	if k <= 1 {
		return g.SubWindow(roi)
	}
	if roi.Empty() {
		return GeoBox{}, fmt.Errorf("%w: empty window %s", ErrInvalidShape, roi)
	}
	shift := 0.5 - float64(k)/2
	a := g.affine.
		Multiply(Translation(float64(roi.Cols.Start)+shift, float64(roi.Rows.Start)+shift)).
		Multiply(Scaling(float64(k), float64(k)))
	return GeoBox{
		rows:   ceilDiv(roi.Rows.Len(), k),
		cols:   ceilDiv(roi.Cols.Len(), k),
		affine: a,
		crs:    g.crs,
	}, nil
}

func (g GeoBox) String() string {
	return fmt.Sprintf("GeoBox(%dx%d, %s, %s)", g.rows, g.cols, g.affine, g.crs)
}
