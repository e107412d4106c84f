package geowarp

import "math"

// DefaultTolerance is the sub-pixel tolerance used when none is supplied
const DefaultTolerance = 0.01

// PickReadScale returns the integer decimation factor to use when the
// destination pixel is ratio times larger than the source pixel.
//
// Ratios at or below 1+tol read at native resolution. Ratios within tol of
// an integer round to it, anything else rounds down so the read never gets
// coarser than the destination.
func PickReadScale(ratio float64, tol ...float64) int {
	t := DefaultTolerance
	if len(tol) > 0 && tol[0] >= 0 {
		t = tol[0]
	}

	if math.IsNaN(ratio) || math.IsInf(ratio, 0) || ratio <= 1+t {
		return 1
	}

	nearest := math.Round(ratio)
	if math.Abs(ratio-nearest) <= t {
		return int(nearest)
	}
	return int(math.Floor(ratio))
}
