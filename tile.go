package geowarp

import (
	"context"
	"fmt"

	"github.com/paulmach/orb/maptile"
)

// DefaultTileSize is the pixel size of a web map tile
const DefaultTileSize = 256

// GeoBoxFromTile returns the EPSG:3857 grid of an XYZ web map tile with
// size x size pixels.
func GeoBoxFromTile(tile maptile.Tile, size int) (GeoBox, error) {
	if size <= 0 {
		return GeoBox{}, fmt.Errorf("%w: tile size %d", ErrInvalidShape, size)
	}
	crs, err := EPSG(3857)
	if err != nil {
		return GeoBox{}, err
	}

	b := wgs84ToMercator(tile.Bound())
	res := (b.Max[0] - b.Min[0]) / float64(size)
	resY := (b.Max[1] - b.Min[1]) / float64(size)
	return NewGeoBox(size, size, Affine{A: res, C: b.Min[0], E: -resY, F: b.Max[1]}, crs)
}

// ReadTile renders a web map tile from rdr. The result is always
// size x size; pixels outside the raster are nodata.
func ReadTile(ctx context.Context, rdr RasterReader, tile maptile.Tile, size int,
	resampling Resampling, nodata float64, opts ...ReadOption) (*Array, error) {
	box, err := GeoBoxFromTile(tile, size)
	if err != nil {
		return nil, err
	}

	out := FullArray(size, size, nodata)
	if _, err := ReadInto(ctx, rdr, out, box, resampling, nodata, opts...); err != nil {
		return nil, fmt.Errorf("failed to read tile %d/%d/%d: %w", tile.Z, tile.X, tile.Y, err)
	}
	return out, nil
}
