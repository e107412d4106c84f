package geowarp

import "errors"

// Configuration errors are returned while building geoboxes and plans;
// they are never retried.
var (
	ErrInvalidShape          = errors.New("invalid shape")
	ErrNotInvertible         = errors.New("transform is not invertible")
	ErrInvalidCRS            = errors.New("invalid CRS")
	ErrNoGeoreference        = errors.New("raster has no georeferencing")
	ErrShapeMismatch         = errors.New("array shape does not match grid")
	ErrWindowOutOfBounds     = errors.New("window outside raster")
	ErrUnsupportedResampling = errors.New("unsupported resampling method")
)
