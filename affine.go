package geowarp

import (
	"fmt"
	"math"
)

// Affine maps pixel coordinates (col, row) to world coordinates (x, y):
//
//	x = A*col + B*row + C
//	y = D*col + E*row + F
//
// The coefficient order follows rasterio, not the GDAL geotransform order.
type Affine struct {
	A, B, C float64
	D, E, F float64
}

// IdentityAffine returns the identity transform
func IdentityAffine() Affine {
	return Affine{A: 1, E: 1}
}

// Translation returns a transform shifting by (x, y)
func Translation(x, y float64) Affine {
	return Affine{A: 1, C: x, E: 1, F: y}
}

// Scaling returns a transform scaling by (sx, sy)
func Scaling(sx, sy float64) Affine {
	return Affine{A: sx, E: sy}
}

// AffineFromGDAL converts a GDAL geotransform
// (originX, pixelWidth, rowRotation, originY, colRotation, pixelHeight).
func AffineFromGDAL(gt [6]float64) Affine {
	return Affine{A: gt[1], B: gt[2], C: gt[0], D: gt[4], E: gt[5], F: gt[3]}
}

// GDAL returns the transform in GDAL geotransform order
func (a Affine) GDAL() [6]float64 {
	return [6]float64{a.C, a.A, a.B, a.F, a.D, a.E}
}

// Apply transforms a single point
func (a Affine) Apply(col, row float64) (float64, float64) {
	return a.A*col + a.B*row + a.C, a.D*col + a.E*row + a.F
}

// Determinant of the linear part
func (a Affine) Determinant() float64 {
	return a.A*a.E - a.B*a.D
}

// IsInvertible reports whether the transform is finite and non-degenerate
func (a Affine) IsInvertible() bool {
	for _, v := range [6]float64{a.A, a.B, a.C, a.D, a.E, a.F} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return a.Determinant() != 0
}

// Inverse returns the inverse transform (world -> pixel)
func (a Affine) Inverse() (Affine, error) {
	if !a.IsInvertible() {
		return Affine{}, fmt.Errorf("%w: %s", ErrNotInvertible, a)
	}
	idet := 1.0 / a.Determinant()
	inv := Affine{
		A: a.E * idet,
		B: -a.B * idet,
		D: -a.D * idet,
		E: a.A * idet,
	}
	inv.C = -(inv.A*a.C + inv.B*a.F)
	inv.F = -(inv.D*a.C + inv.E*a.F)
	return inv, nil
}

// Multiply composes two transforms: the result applies b first, then a.
func (a Affine) Multiply(b Affine) Affine {
	return Affine{
		A: a.A*b.A + a.B*b.D,
		B: a.A*b.B + a.B*b.E,
		C: a.A*b.C + a.B*b.F + a.C,
		D: a.D*b.A + a.E*b.D,
		E: a.D*b.B + a.E*b.E,
		F: a.D*b.C + a.E*b.F + a.F,
	}
}

// IsRectilinear reports whether rotation and shear terms are within tol of zero
func (a Affine) IsRectilinear(tol float64) bool {
	return math.Abs(a.B) <= tol && math.Abs(a.D) <= tol
}

// AlmostEqual compares the linear terms with tol and the translation terms with ttol
func (a Affine) AlmostEqual(b Affine, tol, ttol float64) bool {
	return math.Abs(a.A-b.A) <= tol &&
		math.Abs(a.B-b.B) <= tol &&
		math.Abs(a.D-b.D) <= tol &&
		math.Abs(a.E-b.E) <= tol &&
		math.Abs(a.C-b.C) <= ttol &&
		math.Abs(a.F-b.F) <= ttol
}

func (a Affine) String() string {
	return fmt.Sprintf("Affine(%g, %g, %g, %g, %g, %g)", a.A, a.B, a.C, a.D, a.E, a.F)
}
