package geowarp

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResamplingNames(t *testing.T) {
	assert.True(t, Resampling("").IsNearest())
	assert.True(t, Resampling("NEAREST").IsNearest())
	assert.False(t, Average.IsNearest())

	assert.True(t, Resampling("Average").reduces())
	assert.True(t, Mode.reduces())
	assert.False(t, Bilinear.reduces())

	_, err := lookupKernel("Bilinear")
	assert.NoError(t, err)
	_, err = lookupKernel("")
	assert.NoError(t, err)
	_, err = lookupKernel("cubic")
	assert.ErrorIs(t, err, ErrUnsupportedResampling)

	// GDAL / rasterio enum values
	assert.True(t, Resampling("0").IsNearest())
	assert.Equal(t, Bilinear, Resampling("1").canonical())
	assert.Equal(t, Min, Resampling(" 9 ").canonical())
	assert.True(t, Resampling("6").reduces())
	_, err = lookupKernel("8")
	assert.NoError(t, err)
	_, err = lookupKernel("4")
	assert.ErrorIs(t, err, ErrUnsupportedResampling)
	_, err = lookupKernel("99")
	assert.ErrorIs(t, err, ErrUnsupportedResampling)
}

// blockGrids returns a 4x4 source block and the 2x2 grid covering it with
// pixels twice as large.
func blockGrids(t *testing.T) (*Array, GeoBox, GeoBox) {
	t.Helper()
	nan := math.NaN()
	src := &Array{Rows: 4, Cols: 4, Data: []float64{
		1, 1, 2, 3,
		1, 5, 3, 3,
		7, 7, 9, 9,
		7, 8, 9, nan,
	}}
	srcBox, err := NewGeoBox(4, 4, Affine{A: 10, C: 1000, E: -10, F: 2000}, MustParseCRS("EPSG:32755"))
	require.NoError(t, err)
	dstBox, err := srcBox.Zoom(2)
	require.NoError(t, err)
	return src, srcBox, dstBox
}

func TestWarpReducers(t *testing.T) {
	src, srcBox, dstBox := blockGrids(t)

	tests := []struct {
		method Resampling
		want   []float64
	}{
		{Average, []float64{2, 2.75, 7.25, 9}},
		{Min, []float64{1, 2, 7, 9}},
		{Max, []float64{5, 3, 8, 9}},
		{Mode, []float64{1, 3, 7, 9}},
	}

	for _, tt := range tests {
		t.Run(string(tt.method), func(t *testing.T) {
			dst := FullArray(2, 2, -1)
			err := WarpResampler{}.Reproject(context.Background(), src, srcBox, nil, dst, dstBox, -9, tt.method)
			require.NoError(t, err)
			assert.InDeltaSlice(t, tt.want, dst.Data, 1e-12)
		})
	}
}

func TestWarpSourceNodata(t *testing.T) {
	src, srcBox, dstBox := blockGrids(t)
	nodata := 1.0

	dst := FullArray(2, 2, -1)
	err := WarpResampler{}.Reproject(context.Background(), src, srcBox, &nodata, dst, dstBox, -9, Min)
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 2, 7, 9}, dst.Data)

	src.Fill(nodata)
	err = WarpResampler{}.Reproject(context.Background(), src, srcBox, &nodata, dst, dstBox, -9, Average)
	require.NoError(t, err)
	assert.Equal(t, 4, dst.Count(-9))
}

func TestReduceModeTies(t *testing.T) {
	assert.Equal(t, 1.0, reduceMode([]float64{2, 1, 2, 1}))
	assert.Equal(t, 4.0, reduceMode([]float64{4}))
	assert.Equal(t, 2.0, reduceMode([]float64{3, 2, 2, 1}))
}

func TestWarpNearestLeavesOutsideUntouched(t *testing.T) {
	src := testImage(16, 16)
	srcBox, err := NewGeoBox(16, 16, Affine{A: 10, C: 1000, E: -10, F: 2000}, MustParseCRS("EPSG:32755"))
	require.NoError(t, err)
	dstBox := srcBox.Translate(-1, 0)

	dst := FullArray(16, 16, -1)
	err = WarpResampler{}.Reproject(context.Background(), src, srcBox, nil, dst, dstBox, -9, Nearest)
	require.NoError(t, err)

	for r := 0; r < 16; r++ {
		assert.Equal(t, -1.0, dst.At(r, 0), "row %d", r)
		for c := 1; c < 16; c++ {
			require.Equal(t, src.At(r, c-1), dst.At(r, c))
		}
	}
}

func TestWarpBilinear(t *testing.T) {
	src := &Array{Rows: 2, Cols: 2, Data: []float64{0, 10, 20, 30}}
	srcBox, err := NewGeoBox(2, 2, Affine{A: 1, E: -1, F: 2}, MustParseCRS("EPSG:32755"))
	require.NoError(t, err)

	// A single destination pixel centred between the four source centres.
	dstBox, err := NewGeoBox(1, 1, Affine{A: 1, C: 0.5, E: -1, F: 1.5}, srcBox.CRS())
	require.NoError(t, err)
	dst := NewArray(1, 1)
	require.NoError(t, WarpResampler{}.Reproject(context.Background(), src, srcBox, nil, dst, dstBox, -9, Bilinear))
	assert.InDelta(t, 15, dst.At(0, 0), 1e-12)

	// Invalid neighbours are dropped and the weights renormalised.
	src.Data[3] = math.NaN()
	require.NoError(t, WarpResampler{}.Reproject(context.Background(), src, srcBox, nil, dst, dstBox, -9, Bilinear))
	assert.InDelta(t, 10, dst.At(0, 0), 1e-12)
}

func TestWarpWorkers(t *testing.T) {
	src := testImage(64, 64)
	srcBox, err := NewGeoBox(64, 64, Affine{A: 10, C: 1000, E: -10, F: 2000}, MustParseCRS("EPSG:32755"))
	require.NoError(t, err)
	dstBox, err := NewGeoBox(50, 40, Affine{A: 13, B: 1, C: 1005, E: -12, F: 1990}, srcBox.CRS())
	require.NoError(t, err)

	serial := FullArray(50, 40, -1)
	require.NoError(t, WarpResampler{Workers: 1}.Reproject(context.Background(), src, srcBox, nil, serial, dstBox, -9, Bilinear))

	parallel := FullArray(50, 40, -1)
	require.NoError(t, WarpResampler{Workers: 7}.Reproject(context.Background(), src, srcBox, nil, parallel, dstBox, -9, Bilinear))

	assert.Equal(t, serial.Data, parallel.Data)
}

func TestWarpAcrossCRS(t *testing.T) {
	// Source values hold their column index.
	src := NewArray(200, 200)
	for r := 0; r < src.Rows; r++ {
		for c := range src.Row(r) {
			src.Row(r)[c] = float64(c)
		}
	}
	srcBox, err := NewGeoBox(200, 200, Affine{A: 0.01, C: 140, E: -0.01, F: -30}, MustParseCRS("EPSG:4326"))
	require.NoError(t, err)

	const merc = 20037508.342789244
	res := 0.02 * merc / 180
	dstBox, err := NewGeoBox(40, 40, Affine{A: res, C: 140.5 * merc / 180, E: -res, F: -3700000}, MustParseCRS("EPSG:3857"))
	require.NoError(t, err)

	dst := FullArray(40, 40, -1)
	require.NoError(t, WarpResampler{}.Reproject(context.Background(), src, srcBox, nil, dst, dstBox, -9, Nearest))

	for c := 0; c < 40; c++ {
		x, _ := dstBox.Transform().Apply(float64(c)+0.5, 0.5)
		lon := x / merc * 180
		assert.InDelta(t, (lon-140)/0.01, dst.At(0, c)+0.5, 0.51, "column %d", c)
	}
}

func TestWarpErrors(t *testing.T) {
	src, srcBox, dstBox := blockGrids(t)

	err := WarpResampler{}.Reproject(context.Background(), NewArray(3, 3), srcBox, nil, NewArray(2, 2), dstBox, 0, Nearest)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	err = WarpResampler{}.Reproject(context.Background(), src, srcBox, nil, NewArray(3, 2), dstBox, 0, Nearest)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	err = WarpResampler{}.Reproject(context.Background(), src, srcBox, nil, NewArray(2, 2), dstBox, 0, "lanczos")
	assert.ErrorIs(t, err, ErrUnsupportedResampling)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = WarpResampler{}.Reproject(ctx, src, srcBox, nil, NewArray(2, 2), dstBox, 0, Nearest)
	assert.ErrorIs(t, err, context.Canceled)
}
