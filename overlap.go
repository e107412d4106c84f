package geowarp

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/ctessum/geom/proj"
	"github.com/paulmach/orb"
)

// ReprojectPlan is the outcome of comparing a source grid with a destination grid
type ReprojectPlan struct {
	// SrcROI is the region of the source grid to read. For paste plans it
	// spans exactly the sampled source pixels.
	SrcROI ROI
	// DstROI is the region of the destination grid that will be written.
	// Empty when the grids do not overlap.
	DstROI ROI

	// Scale is the destination / source pixel size ratio; > 1 means the
	// source is oversampled relative to the destination.
	Scale float64
	// ScaleXY is the same ratio measured per axis
	ScaleXY [2]float64
	// ReadScale is the integer decimation applied when reading the source
	ReadScale int

	IsIdentity bool
	PasteOK    bool
	FlipRows   bool
	FlipCols   bool
}

// LogValue implements slog.LogValuer
func (p ReprojectPlan) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("paste", p.PasteOK),
		slog.Bool("identity", p.IsIdentity),
		slog.Float64("scale", p.Scale),
		slog.Int("read_scale", p.ReadScale),
		slog.Bool("flip_rows", p.FlipRows),
		slog.Bool("flip_cols", p.FlipCols),
		slog.String("src_roi", p.SrcROI.String()),
		slog.String("dst_roi", p.DstROI.String()),
	)
}

// PlanOverlap compares src and dst and decides how dst is populated.
//
// Grids in the same CRS whose composed transform is axis aligned, with an
// integer resolution ratio k on both axes and an integer pixel offset (all
// within tol pixels), are pasted: every destination pixel copies one source
// pixel, with optional axis flips and k-fold decimation. Everything else is
// a warp plan that needs resampling.
//
// Errors are configuration errors: non-invertible transforms or a CRS pair
// that cannot be transformed.
func PlanOverlap(src, dst GeoBox, tol ...float64) (ReprojectPlan, error) {
	t := DefaultTolerance
	if len(tol) > 0 && tol[0] >= 0 {
		t = tol[0]
	}

	if src.crs.Equal(dst.crs) {
		// dst pixel -> src pixel
		inv, err := src.affine.Inverse()
		if err != nil {
			return ReprojectPlan{}, err
		}
		if !dst.affine.IsInvertible() {
			return ReprojectPlan{}, fmt.Errorf("%w: destination %s", ErrNotInvertible, dst.affine)
		}
		tr := inv.Multiply(dst.affine)
		if plan, ok := planPaste(tr, src, dst, t); ok {
			return plan, nil
		}
	}

	return planWarp(src, dst, t)
}

// planPaste builds a paste plan when tr (dst pixel -> src pixel) is an
// integer scale plus integer translation within tolerance.
func planPaste(tr Affine, src, dst GeoBox, tol float64) (ReprojectPlan, bool) {
	n := float64(max(dst.rows, dst.cols))
	if !tr.IsRectilinear(tol / n) {
		return ReprojectPlan{}, false
	}

	sx, sy := math.Abs(tr.A), math.Abs(tr.E)
	k := PickReadScale(sx, tol)
	// Accumulated drift across the whole destination must stay below tol.
	if math.Abs(sx-float64(k))*float64(dst.cols) > tol || math.Abs(sy-float64(k))*float64(dst.rows) > tol {
		return ReprojectPlan{}, false
	}

	tx, ty := math.Round(tr.C), math.Round(tr.F)
	if math.Abs(tr.C-tx) > tol || math.Abs(tr.F-ty) > tol {
		return ReprojectPlan{}, false
	}

	plan := ReprojectPlan{
		Scale:     math.Max(sx, sy),
		ScaleXY:   [2]float64{sx, sy},
		ReadScale: k,
		PasteOK:   true,
		FlipCols:  tr.A < 0,
		FlipRows:  tr.E < 0,
	}

	srcCols, dstCols := pasteAxis(int(tx), k, plan.FlipCols, src.cols, dst.cols)
	srcRows, dstRows := pasteAxis(int(ty), k, plan.FlipRows, src.rows, dst.rows)
	if !dstCols.Empty() && !dstRows.Empty() {
		plan.SrcROI = ROI{Rows: srcRows, Cols: srcCols}
		plan.DstROI = ROI{Rows: dstRows, Cols: dstCols}
	}

	plan.IsIdentity = k == 1 && tx == 0 && ty == 0 &&
		!plan.FlipRows && !plan.FlipCols &&
		src.rows == dst.rows && src.cols == dst.cols

	return plan, true
}

// pasteAxis solves one axis of a paste. Destination pixel j covers the
// k-block of source pixels starting at B(j) = t + j*k, or t - (j+1)*k when
// flipped, and samples source pixel B(j) + k/2. Only destination pixels
// whose sample falls inside the source are kept.
//
// The source range spans the samples in forward order, so a strided read of
// it with step k yields them (reversed when flipped).
func pasteAxis(t, k int, flip bool, srcLen, dstLen int) (Range, Range) {
	h := k / 2
	var lo, hi int
	if !flip {
		// 0 <= t + j*k + h <= srcLen-1
		lo = ceilDiv(-t-h, k)
		hi = floorDiv(srcLen-1-t-h, k) + 1
	} else {
		// 0 <= t - (j+1)*k + h <= srcLen-1
		lo = ceilDiv(t-k+h-(srcLen-1), k)
		hi = floorDiv(t-k+h, k) + 1
	}
	lo, hi = max(lo, 0), min(hi, dstLen)
	if lo >= hi {
		return Range{}, Range{}
	}

	sample := func(j int) int {
		if flip {
			return t - (j+1)*k + h
		}
		return t + j*k + h
	}

	first, last := sample(lo), sample(hi-1)
	if flip {
		first, last = last, first
	}
	return Range{Start: first, Stop: last + 1}, Range{Start: lo, Stop: hi}
}

// planWarp intersects the two footprints through the projection and measures
// the resolution ratio at the destination centre.
func planWarp(src, dst GeoBox, tol float64) (ReprojectPlan, error) {
	srcInv, err := src.affine.Inverse()
	if err != nil {
		return ReprojectPlan{}, err
	}
	dstInv, err := dst.affine.Inverse()
	if err != nil {
		return ReprojectPlan{}, err
	}
	toSrc, err := dst.crs.Transformer(src.crs)
	if err != nil {
		return ReprojectPlan{}, err
	}
	toDst, err := src.crs.Transformer(dst.crs)
	if err != nil {
		return ReprojectPlan{}, err
	}

	plan := ReprojectPlan{Scale: 1, ScaleXY: [2]float64{1, 1}, ReadScale: 1}

	srcPix := applyAffine(srcInv, reprojectPoints(toSrc, dst.boundary()))
	dstPix := applyAffine(dstInv, reprojectPoints(toDst, src.boundary()))

	srcROI := pixelRangeOf(boundOf(srcPix), src.rows, src.cols)
	dstROI := pixelRangeOf(boundOf(dstPix), dst.rows, dst.cols)

	if !srcROI.Empty() && !dstROI.Empty() {
		plan.SrcROI = srcROI
		plan.DstROI = dstROI
	}

	if sx, sy, ok := localScale(dst, srcInv, toSrc); ok {
		plan.ScaleXY = [2]float64{sx, sy}
		// Axes that disagree report the larger ratio; reads use the smaller
		// so the decimated source still resolves both axes.
		plan.Scale = math.Max(sx, sy)
		plan.ReadScale = PickReadScale(math.Min(sx, sy), tol)
	}

	return plan, nil
}

// localScale measures the size of one destination pixel in source pixels
// around the destination centre.
func localScale(dst GeoBox, srcInv Affine, toSrc proj.Transformer) (float64, float64, bool) {
	cx, cy := float64(dst.cols)/2, float64(dst.rows)/2
	probe := applyAffine(dst.affine, []orb.Point{{cx, cy}, {cx + 1, cy}, {cx, cy + 1}})
	pts := reprojectPoints(toSrc, probe)
	if len(pts) != 3 {
		return 0, 0, false
	}
	pts = applyAffine(srcInv, pts)
	sx := math.Hypot(pts[1][0]-pts[0][0], pts[1][1]-pts[0][1])
	sy := math.Hypot(pts[2][0]-pts[0][0], pts[2][1]-pts[0][1])
	if sx == 0 || sy == 0 || math.IsNaN(sx) || math.IsNaN(sy) {
		return 0, 0, false
	}
	return sx, sy, true
}
