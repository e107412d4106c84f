package geowarp

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"slices"
	"strings"

	"github.com/ctessum/geom/proj"
	"golang.org/x/sync/errgroup"
)

// Resampling names a resampling method. Names are passed through to the
// Resampler unchanged; the empty name means nearest. Names are matched case
// insensitively, and the numeric GDAL / rasterio codes ("0" nearest,
// "1" bilinear, "5" average, "6" mode, "8" max, "9" min) are accepted too.
type Resampling string

const (
	Nearest  Resampling = "nearest"
	Bilinear Resampling = "bilinear"
	Average  Resampling = "average"
	Min      Resampling = "min"
	Max      Resampling = "max"
	Mode     Resampling = "mode"
)

// resamplingCodes maps the GDAL / rasterio enum values to method names
var resamplingCodes = map[string]Resampling{
	"0":  Nearest,
	"1":  Bilinear,
	"2":  "cubic",
	"3":  "cubic_spline",
	"4":  "lanczos",
	"5":  Average,
	"6":  Mode,
	"7":  "gauss",
	"8":  Max,
	"9":  Min,
	"10": "med",
	"11": "q1",
	"12": "q3",
	"13": "sum",
	"14": "rms",
}

// canonical returns the lower case method name, resolving numeric codes
func (r Resampling) canonical() Resampling {
	if r == "" {
		return Nearest
	}
	name := strings.ToLower(strings.TrimSpace(string(r)))
	if code, ok := resamplingCodes[name]; ok {
		return code
	}
	return Resampling(name)
}

// IsNearest reports whether r selects nearest-neighbour sampling
func (r Resampling) IsNearest() bool {
	return r.canonical() == Nearest
}

// reduces reports whether r combines every source pixel under the
// destination footprint
func (r Resampling) reduces() bool {
	switch r.canonical() {
	case Average, Min, Max, Mode:
		return true
	}
	return false
}

// Resampler fills a destination block from a source block on another grid.
//
// Pixels of dst whose footprint lies outside src must be left untouched.
// srcNodata may be nil; source pixels equal to it never contribute.
type Resampler interface {
	Reproject(ctx context.Context, src *Array, srcBox GeoBox, srcNodata *float64,
		dst *Array, dstBox GeoBox, dstNodata float64, method Resampling) error
}

// WarpResampler is the built-in Resampler. Every destination pixel is mapped
// through the destination transform, the CRS transform and the inverse source
// transform, then sampled from the source block.
//
// Rows are split into bands processed concurrently.
type WarpResampler struct {
	// Workers bounds the number of concurrent bands; <= 0 uses GOMAXPROCS
	Workers int
}

// kernel computes one destination pixel. ok is false when the footprint
// falls outside the source; valid is false when nothing in it is usable.
type kernel func(s *sampler, col, row int) (v float64, ok, valid bool)

var kernels = map[Resampling]kernel{
	Nearest:  nearestKernel,
	Bilinear: bilinearKernel,
	Average:  reduceKernel(reduceAverage),
	Min:      reduceKernel(reduceMin),
	Max:      reduceKernel(reduceMax),
	Mode:     reduceKernel(reduceMode),
}

func lookupKernel(method Resampling) (kernel, error) {
	k, ok := kernels[method.canonical()]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedResampling, method)
	}
	return k, nil
}

// Reproject implements Resampler
func (w WarpResampler) Reproject(ctx context.Context, src *Array, srcBox GeoBox, srcNodata *float64,
	dst *Array, dstBox GeoBox, dstNodata float64, method Resampling) error {
	k, err := lookupKernel(method)
	if err != nil {
		return err
	}
	if src.Rows != srcBox.rows || src.Cols != srcBox.cols {
		return fmt.Errorf("%w: source %dx%d for %s", ErrShapeMismatch, src.Rows, src.Cols, srcBox)
	}
	if dst.Rows != dstBox.rows || dst.Cols != dstBox.cols {
		return fmt.Errorf("%w: destination %dx%d for %s", ErrShapeMismatch, dst.Rows, dst.Cols, dstBox)
	}
	srcInv, err := srcBox.affine.Inverse()
	if err != nil {
		return err
	}

	workers := w.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	band := ceilDiv(dst.Rows, workers)

	g, ctx := errgroup.WithContext(ctx)
	for r0 := 0; r0 < dst.Rows; r0 += band {
		r0 := r0
		r1 := min(r0+band, dst.Rows)
		g.Go(func() error {
			// Transformers are not shared between goroutines.
			tr, err := dstBox.crs.Transformer(srcBox.crs)
			if err != nil {
				return err
			}
			s := &sampler{
				src:       src,
				srcNodata: srcNodata,
				toSrc:     pixelMapper(dstBox.affine, tr, srcInv),
			}
			for r := r0; r < r1; r++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				row := dst.Row(r)
				for c := range row {
					v, ok, valid := k(s, c, r)
					switch {
					case !ok:
					case valid:
						row[c] = v
					default:
						row[c] = dstNodata
					}
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// pixelMapper composes destination pixel -> world -> source world -> source pixel
func pixelMapper(dstAffine Affine, tr proj.Transformer, srcInv Affine) func(col, row float64) (float64, float64, bool) {
	if tr == nil {
		m := srcInv.Multiply(dstAffine)
		return func(col, row float64) (float64, float64, bool) {
			x, y := m.Apply(col, row)
			return x, y, true
		}
	}
	return func(col, row float64) (float64, float64, bool) {
		x, y := dstAffine.Apply(col, row)
		sx, sy, err := tr(x, y)
		if err != nil || math.IsNaN(sx) || math.IsNaN(sy) {
			return 0, 0, false
		}
		c, r := srcInv.Apply(sx, sy)
		return c, r, true
	}
}

type sampler struct {
	src       *Array
	srcNodata *float64
	toSrc     func(col, row float64) (float64, float64, bool)
	scratch   []float64
}

// valid reports whether a source value may contribute
func (s *sampler) valid(v float64) bool {
	if math.IsNaN(v) {
		return false
	}
	return s.srcNodata == nil || v != *s.srcNodata
}

func (s *sampler) inside(col, row int) bool {
	return col >= 0 && col < s.src.Cols && row >= 0 && row < s.src.Rows
}

func nearestKernel(s *sampler, col, row int) (float64, bool, bool) {
	x, y, ok := s.toSrc(float64(col)+0.5, float64(row)+0.5)
	if !ok {
		return 0, false, false
	}
	c, r := int(math.Floor(x)), int(math.Floor(y))
	if !s.inside(c, r) {
		return 0, false, false
	}
	v := s.src.Data[s.src.Index(r, c)]
	return v, true, s.valid(v)
}

func bilinearKernel(s *sampler, col, row int) (float64, bool, bool) {
	x, y, ok := s.toSrc(float64(col)+0.5, float64(row)+0.5)
	if !ok || x < 0 || y < 0 || x >= float64(s.src.Cols) || y >= float64(s.src.Rows) {
		return 0, false, false
	}
	// Interpolate between pixel centres.
	x, y = x-0.5, y-0.5
	c0, r0 := int(math.Floor(x)), int(math.Floor(y))
	fx, fy := x-float64(c0), y-float64(r0)

	var sum, wsum float64
	for dr := 0; dr <= 1; dr++ {
		for dc := 0; dc <= 1; dc++ {
			c, r := c0+dc, r0+dr
			if !s.inside(c, r) {
				continue
			}
			v := s.src.Data[s.src.Index(r, c)]
			if !s.valid(v) {
				continue
			}
			wx, wy := 1-fx, 1-fy
			if dc == 1 {
				wx = fx
			}
			if dr == 1 {
				wy = fy
			}
			sum += wx * wy * v
			wsum += wx * wy
		}
	}
	if wsum <= 0 {
		return 0, true, false
	}
	return sum / wsum, true, true
}

// reduceKernel applies fn to every valid source pixel under the destination
// pixel footprint. Footprints narrower than a source pixel use the pixel
// under the centre.
func reduceKernel(fn func([]float64) float64) kernel {
	return func(s *sampler, col, row int) (float64, bool, bool) {
		minX, minY := math.Inf(1), math.Inf(1)
		maxX, maxY := math.Inf(-1), math.Inf(-1)
		for _, p := range [4][2]float64{{0, 0}, {1, 0}, {0, 1}, {1, 1}} {
			x, y, ok := s.toSrc(float64(col)+p[0], float64(row)+p[1])
			if !ok {
				return 0, false, false
			}
			minX, maxX = math.Min(minX, x), math.Max(maxX, x)
			minY, maxY = math.Min(minY, y), math.Max(maxY, y)
		}

		c0, c1 := int(math.Round(minX)), int(math.Round(maxX))
		r0, r1 := int(math.Round(minY)), int(math.Round(maxY))
		if c1 <= c0 || r1 <= r0 {
			cx, cy := int(math.Floor((minX+maxX)/2)), int(math.Floor((minY+maxY)/2))
			c0, c1 = cx, cx+1
			r0, r1 = cy, cy+1
		}
		roi := NewROI(r0, r1, c0, c1).Clip(s.src.Rows, s.src.Cols)
		if roi.Empty() {
			return 0, false, false
		}

		s.scratch = s.scratch[:0]
		for r := roi.Rows.Start; r < roi.Rows.Stop; r++ {
			for _, v := range s.src.Row(r)[roi.Cols.Start:roi.Cols.Stop] {
				if s.valid(v) {
					s.scratch = append(s.scratch, v)
				}
			}
		}
		if len(s.scratch) == 0 {
			return 0, true, false
		}
		return fn(s.scratch), true, true
	}
}

func reduceAverage(vs []float64) float64 {
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

func reduceMin(vs []float64) float64 { return slices.Min(vs) }

func reduceMax(vs []float64) float64 { return slices.Max(vs) }

// reduceMode returns the most frequent value; ties go to the smallest
func reduceMode(vs []float64) float64 {
	slices.Sort(vs)
	best, bestN := vs[0], 0
	for i := 0; i < len(vs); {
		j := i
		for j < len(vs) && vs[j] == vs[i] {
			j++
		}
		if j-i > bestN {
			best, bestN = vs[i], j-i
		}
		i = j
	}
	return best
}
