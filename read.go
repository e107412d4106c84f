package geowarp

import (
	"context"
	"fmt"
	"log/slog"
)

// ReadOption configures ReadInto and ReadAlloc
type ReadOption func(*readOptions)

type readOptions struct {
	resampler Resampler
	tolerance float64
}

func newReadOptions(opts []ReadOption) readOptions {
	o := readOptions{resampler: WarpResampler{}, tolerance: DefaultTolerance}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithResampler sets the backend used for warp reads
func WithResampler(r Resampler) ReadOption {
	return func(o *readOptions) {
		if r != nil {
			o.resampler = r
		}
	}
}

// WithTolerance sets the sub-pixel tolerance used for planning
func WithTolerance(tol float64) ReadOption {
	return func(o *readOptions) {
		if tol >= 0 {
			o.tolerance = tol
		}
	}
}

// ReadInto reads the part of rdr that overlaps dstBox into dst.
//
// dst must have the shape of dstBox and is expected to be pre-filled by the
// caller; only pixels inside the returned ROI are written. An empty ROI with
// a nil error means the reader does not overlap dstBox.
//
// Results are float64. When the reader's native type is an integer type,
// warped pixels are rounded to the nearest integer; pasted pixels are exact.
func ReadInto(ctx context.Context, rdr RasterReader, dst *Array, dstBox GeoBox,
	resampling Resampling, dstNodata float64, opts ...ReadOption) (ROI, error) {
	if dst == nil || dst.Rows != dstBox.rows || dst.Cols != dstBox.cols {
		return ROI{}, fmt.Errorf("%w: destination array does not match %s", ErrShapeMismatch, dstBox)
	}

	block, roi, err := readSlice(ctx, rdr, dst, dstBox, resampling, dstNodata, newReadOptions(opts))
	if err != nil || block == nil {
		return ROI{}, err
	}
	if err := dst.Paste(roi, block); err != nil {
		return ROI{}, err
	}
	return roi, nil
}

// ReadAlloc is like ReadInto but allocates the output. The returned array
// covers only the returned ROI of dstBox and is nil when there is no overlap.
// Warped pixels that receive no source data are set to dstNodata.
func ReadAlloc(ctx context.Context, rdr RasterReader, dstBox GeoBox,
	resampling Resampling, dstNodata float64, opts ...ReadOption) (*Array, ROI, error) {
	block, roi, err := readSlice(ctx, rdr, nil, dstBox, resampling, dstNodata, newReadOptions(opts))
	if err != nil || block == nil {
		return nil, ROI{}, err
	}
	return block, roi, nil
}

// readSlice plans the read and produces the destination block for the
// returned ROI. dst, when not nil, seeds warp blocks so untouched pixels
// keep the caller's values.
func readSlice(ctx context.Context, rdr RasterReader, dst *Array, dstBox GeoBox,
	resampling Resampling, dstNodata float64, o readOptions) (*Array, ROI, error) {
	srcBox, err := DeriveGeoBox(rdr)
	if err != nil {
		return nil, ROI{}, err
	}

	plan, err := PlanOverlap(srcBox, dstBox, o.tolerance)
	if err != nil {
		return nil, ROI{}, fmt.Errorf("failed to plan read: %w", err)
	}

	// Decimated pastes pick one pixel per block; other methods must see
	// every pixel, so they go through the resampler.
	if plan.PasteOK && plan.ReadScale > 1 && !resampling.IsNearest() {
		plan, err = planWarp(srcBox, dstBox, o.tolerance)
		if err != nil {
			return nil, ROI{}, fmt.Errorf("failed to plan read: %w", err)
		}
	}

	// Reducing kernels must see every source pixel under a footprint.
	if !plan.PasteOK && resampling.reduces() {
		plan.ReadScale = 1
	}

	log := Logger()
	if plan.DstROI.Empty() {
		log.Debug("geowarp: no overlap", slog.String("src", srcBox.String()), slog.String("dst", dstBox.String()))
		return nil, ROI{}, nil
	}
	log.Debug("geowarp: read plan", slog.Any("plan", plan), slog.String("resampling", string(resampling)))

	if err := ctx.Err(); err != nil {
		return nil, ROI{}, err
	}

	var block *Array
	if plan.PasteOK {
		block, err = pasteBlock(ctx, rdr, plan)
	} else {
		block, err = warpBlock(ctx, rdr, srcBox, dst, dstBox, plan, resampling, dstNodata, o.resampler)
	}
	if err != nil {
		return nil, ROI{}, err
	}
	return block, plan.DstROI, nil
}

// pasteBlock copies source pixels with strided sampling and axis flips
func pasteBlock(ctx context.Context, rdr RasterReader, plan ReprojectPlan) (*Array, error) {
	block, err := rdr.ReadWindow(ctx, plan.SrcROI, plan.ReadScale)
	if err != nil {
		return nil, fmt.Errorf("failed to read window %s: %w", plan.SrcROI, err)
	}

	rows, cols := plan.DstROI.Shape()
	if block.Rows != rows || block.Cols != cols {
		Logger().Warn("geowarp: reader returned unexpected shape",
			slog.Int("rows", block.Rows), slog.Int("cols", block.Cols),
			slog.Int("want_rows", rows), slog.Int("want_cols", cols))
		return nil, fmt.Errorf("%w: reader returned %dx%d for %s", ErrShapeMismatch, block.Rows, block.Cols, plan.SrcROI)
	}

	if plan.FlipRows {
		block.FlipRows()
	}
	if plan.FlipCols {
		block.FlipCols()
	}
	return block, nil
}

// warpBlock reads a padded, decimated source block and resamples it onto the
// destination ROI.
func warpBlock(ctx context.Context, rdr RasterReader, srcBox GeoBox, dst *Array, dstBox GeoBox,
	plan ReprojectPlan, resampling Resampling, dstNodata float64, resampler Resampler) (*Array, error) {
	k := plan.ReadScale
	srcROI := plan.SrcROI.Pad(k).Clip(srcBox.rows, srcBox.cols)

	src, err := rdr.ReadWindow(ctx, srcROI, k)
	if err != nil {
		return nil, fmt.Errorf("failed to read window %s: %w", srcROI, err)
	}
	srcBlockBox, err := srcBox.Decimated(srcROI, k)
	if err != nil {
		return nil, err
	}
	if src.Rows != srcBlockBox.rows || src.Cols != srcBlockBox.cols {
		return nil, fmt.Errorf("%w: reader returned %dx%d for %s at scale %d",
			ErrShapeMismatch, src.Rows, src.Cols, srcROI, k)
	}

	dstBlockBox, err := dstBox.SubWindow(plan.DstROI)
	if err != nil {
		return nil, err
	}

	var block *Array
	if dst != nil {
		if block, err = dst.Window(plan.DstROI); err != nil {
			return nil, err
		}
	} else {
		block = FullArray(dstBlockBox.rows, dstBlockBox.cols, dstNodata)
	}

	if err := resampler.Reproject(ctx, src, srcBlockBox, nodataPtr(rdr), block, dstBlockBox, dstNodata, resampling); err != nil {
		return nil, fmt.Errorf("failed to reproject: %w", err)
	}
	// Integer rasters get integer results, as a write in the native type would.
	if !rdr.DataType().IsFloat() {
		block.roundValues(dstNodata)
	}
	return block, nil
}
