package geowarp

import (
	"math"

	"github.com/ctessum/geom/proj"
	"github.com/paulmach/orb"
)

// densifySegments is the number of segments each side of a grid footprint is
// split into before reprojection, so curved edges are followed closely.
const densifySegments = 32

// pixelBoundary walks the edge of a rows x cols grid in pixel space,
// with n segments per side. The ring is closed.
func pixelBoundary(rows, cols, n int) []orb.Point {
	w, h := float64(cols), float64(rows)
	pts := make([]orb.Point, 0, 4*n+1)
	for i := 0; i < n; i++ { // top, left to right
		pts = append(pts, orb.Point{w * float64(i) / float64(n), 0})
	}
	for i := 0; i < n; i++ { // right, top to bottom
		pts = append(pts, orb.Point{w, h * float64(i) / float64(n)})
	}
	for i := 0; i < n; i++ { // bottom, right to left
		pts = append(pts, orb.Point{w - w*float64(i)/float64(n), h})
	}
	for i := 0; i < n; i++ { // left, bottom to top
		pts = append(pts, orb.Point{0, h - h*float64(i)/float64(n)})
	}
	return append(pts, pts[0])
}

// applyAffine maps points through an affine transform
func applyAffine(a Affine, pts []orb.Point) []orb.Point {
	out := make([]orb.Point, len(pts))
	for i, p := range pts {
		x, y := a.Apply(p[0], p[1])
		out[i] = orb.Point{x, y}
	}
	return out
}

// reprojectPoints transforms points between CRSes. Points the projection
// cannot handle are dropped; a nil transformer is the identity.
func reprojectPoints(tr proj.Transformer, pts []orb.Point) []orb.Point {
	if tr == nil {
		return pts
	}
	out := make([]orb.Point, 0, len(pts))
	for _, p := range pts {
		x, y, err := tr(p[0], p[1])
		if err != nil || math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
			continue
		}
		out = append(out, orb.Point{x, y})
	}
	return out
}

// boundOf returns the bounding box of a set of points
func boundOf(pts []orb.Point) orb.Bound {
	if len(pts) == 0 {
		return orb.Bound{Min: orb.Point{1, 1}, Max: orb.Point{-1, -1}}
	}
	return orb.MultiPoint(pts).Bound()
}

// pixelRangeOf converts a continuous pixel-space bound to an integer ROI
// covering it, clipped to a rows x cols grid.
func pixelRangeOf(b orb.Bound, rows, cols int) ROI {
	if b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] {
		return ROI{}
	}
	c0 := clampToInt(math.Floor(b.Min[0]))
	c1 := clampToInt(math.Ceil(b.Max[0]))
	r0 := clampToInt(math.Floor(b.Min[1]))
	r1 := clampToInt(math.Ceil(b.Max[1]))
	return NewROI(r0, r1, c0, c1).Clip(rows, cols)
}

func clampToInt(v float64) int {
	const limit = 1 << 40
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return int(v)
}

// wgs84ToMercator converts WGS84 (EPSG:4326) bounds to Web Mercator (EPSG:3857) bounds
func wgs84ToMercator(bound orb.Bound) orb.Bound {
	const maxMercator = 20037508.342789244

	minX := bound.Min[0] / 180.0 * maxMercator
	maxX := bound.Max[0] / 180.0 * maxMercator

	minY := math.Log(math.Tan((90.0+bound.Min[1])*math.Pi/360.0)) / math.Pi * maxMercator
	maxY := math.Log(math.Tan((90.0+bound.Max[1])*math.Pi/360.0)) / math.Pi * maxMercator

	return orb.Bound{
		Min: orb.Point{minX, minY},
		Max: orb.Point{maxX, maxY},
	}
}
