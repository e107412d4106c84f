package geowarp

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// GeoTIFF and GDAL tag IDs
const (
	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735
	tagGeoDoubleParams     = 34736
	tagGeoAsciiParams      = 34737
	tagGDALNodata          = 42113
)

// GeoKeys
const (
	keyModelType       = 1024
	keyRasterType      = 1025
	keyGeographicType  = 2048
	keyProjectedCSType = 3072

	rasterPixelIsPoint = 2
	userDefinedCode    = 32767
)

// Sample formats
const (
	sampleFormatUint  = 1
	sampleFormatInt   = 2
	sampleFormatFloat = 3
)

// rasterImage is an IFD holding image data: the full resolution image or an
// overview.
type rasterImage struct {
	ifd *ifd

	width, height int
	samples       int
	dataType      DataType
	compression   int
	predictor     int
	planar        bool // PlanarConfiguration = 2, one plane per band
	photometric   int
	jpegTables    []byte

	// chunk grid: tiles, or full-width strips
	tiled        bool
	chunkW       int
	chunkH       int
	chunksAcross int
	chunksDown   int
}

// parseImage reads the layout of one IFD
func parseImage(d *ifd) (*rasterImage, error) {
	img := &rasterImage{
		ifd:         d,
		width:       d.number(tagImageWidth, 0),
		height:      d.number(tagImageLength, 0),
		samples:     d.number(tagSamplesPerPixel, 1),
		compression: d.number(tagCompression, compressionNone),
		predictor:   d.number(tagPredictor, 1),
		planar:      d.number(tagPlanarConfig, 1) == 2,
		photometric: d.number(tagPhotometric, 1),
		jpegTables:  d.bytes(tagJPEGTables),
	}
	if img.width <= 0 || img.height <= 0 {
		return nil, fmt.Errorf("%w: image is %dx%d", ErrInvalidShape, img.width, img.height)
	}

	dt, err := dataTypeOf(d.number(tagBitsPerSample, 1), d.number(tagSampleFormat, sampleFormatUint))
	if err != nil {
		return nil, err
	}
	img.dataType = dt

	switch {
	case d.has(tagTileOffsets) && d.has(tagTileByteCounts):
		img.tiled = true
		img.chunkW = d.number(tagTileWidth, 256)
		img.chunkH = d.number(tagTileLength, 256)
	case d.has(tagStripOffsets) && d.has(tagStripByteCounts):
		img.chunkW = img.width
		img.chunkH = min(d.number(tagRowsPerStrip, img.height), img.height)
	default:
		return nil, fmt.Errorf("image is neither tiled nor stripped")
	}
	if img.chunkW <= 0 || img.chunkH <= 0 {
		return nil, fmt.Errorf("%w: chunk size %dx%d", ErrInvalidShape, img.chunkW, img.chunkH)
	}
	img.chunksAcross = ceilDiv(img.width, img.chunkW)
	img.chunksDown = ceilDiv(img.height, img.chunkH)

	return img, nil
}

// dataTypeOf maps BitsPerSample and SampleFormat to a DataType
func dataTypeOf(bits, format int) (DataType, error) {
	switch {
	case bits == 8 && format == sampleFormatUint:
		return Uint8, nil
	case bits == 8 && format == sampleFormatInt:
		return Int8, nil
	case bits == 16 && format == sampleFormatUint:
		return Uint16, nil
	case bits == 16 && format == sampleFormatInt:
		return Int16, nil
	case bits == 32 && format == sampleFormatUint:
		return Uint32, nil
	case bits == 32 && format == sampleFormatInt:
		return Int32, nil
	case bits == 32 && format == sampleFormatFloat:
		return Float32, nil
	case bits == 64 && format == sampleFormatFloat:
		return Float64, nil
	default:
		return 0, fmt.Errorf("unsupported sample layout: %d bits, format %d", bits, format)
	}
}

// isMask reports whether the IFD is a transparency mask rather than an overview
func isMask(d *ifd) bool {
	return d.number(tagNewSubfileType, 0)&4 != 0
}

// stride returns the distance in bytes between pixels in a chunk
func (img *rasterImage) stride() int {
	if img.planar {
		return img.dataType.Size()
	}
	return img.samples * img.dataType.Size()
}

// chunkRows returns the number of stored rows in chunk row ty. Tiles are
// always full; the last strip may be short.
func (img *rasterImage) chunkRows(ty int) int {
	if img.tiled {
		return img.chunkH
	}
	return min(img.chunkH, img.height-ty*img.chunkH)
}

// georef is the georeferencing of the full resolution image
type georef struct {
	affine    Affine
	hasAffine bool

	crs    CRS
	crsErr error

	nodata    float64
	hasNodata bool
}

// geoKey is one decoded GeoKey value
type geoKey struct {
	short   int
	doubles []float64
	ascii   string
}

func parseGeoref(d *ifd) georef {
	keys := parseGeoKeys(d)

	g := georef{}
	g.affine, g.hasAffine = affineFromTags(d)
	if g.hasAffine {
		if k, ok := keys[keyRasterType]; ok && k.short == rasterPixelIsPoint {
			// Tie points reference pixel centres.
			g.affine = g.affine.Multiply(Translation(-0.5, -0.5))
		}
	}
	g.crs, g.crsErr = crsFromGeoKeys(keys)
	g.nodata, g.hasNodata = parseNodata(d.ascii(tagGDALNodata))
	return g
}

// affineFromTags derives the pixel -> model transform from
// ModelTransformation, or from a tie point and ModelPixelScale.
func affineFromTags(d *ifd) (Affine, bool) {
	if t := d.floats(tagModelTransformation); len(t) >= 16 {
		return Affine{A: t[0], B: t[1], C: t[3], D: t[4], E: t[5], F: t[7]}, true
	}

	tp := d.floats(tagModelTiepoint)
	scale := d.floats(tagModelPixelScale)
	if len(tp) < 6 || len(scale) < 2 || scale[0] == 0 || scale[1] == 0 {
		return Affine{}, false
	}
	// ModelPixelScale Y is positive for north-up images.
	return Affine{
		A: scale[0],
		C: tp[3] - tp[0]*scale[0],
		E: -scale[1],
		F: tp[4] + tp[1]*scale[1],
	}, true
}

// parseGeoKeys decodes the GeoKey directory. Each key is four SHORTs:
// id, location, count, value or offset.
func parseGeoKeys(d *ifd) map[uint16]geoKey {
	dir := d.floats(tagGeoKeyDirectory)
	keys := make(map[uint16]geoKey)
	if len(dir) < 4 {
		return keys
	}

	doubles := d.floats(tagGeoDoubleParams)
	ascii := d.ascii(tagGeoAsciiParams)

	n := int(dir[3])
	for i := 0; i < n && 4+i*4+3 < len(dir); i++ {
		e := dir[4+i*4 : 8+i*4]
		id, location, count, value := uint16(e[0]), int(e[1]), int(e[2]), int(e[3])

		switch location {
		case 0:
			keys[id] = geoKey{short: value}
		case tagGeoDoubleParams:
			if value+count <= len(doubles) {
				keys[id] = geoKey{doubles: doubles[value : value+count]}
			}
		case tagGeoAsciiParams:
			if value < len(ascii) {
				end := min(value+count, len(ascii))
				keys[id] = geoKey{ascii: strings.TrimRight(ascii[value:end], "|\x00")}
			}
		}
	}
	return keys
}

// crsFromGeoKeys resolves ProjectedCSType, falling back to GeographicType.
// A zero CRS with nil error means the file carries no CRS.
func crsFromGeoKeys(keys map[uint16]geoKey) (CRS, error) {
	for _, id := range []uint16{keyProjectedCSType, keyGeographicType} {
		k, ok := keys[id]
		if !ok || k.short == 0 {
			continue
		}
		if k.short == userDefinedCode {
			return CRS{}, fmt.Errorf("%w: user-defined GeoKey %d", ErrInvalidCRS, id)
		}
		return EPSG(k.short)
	}
	return CRS{}, nil
}

// parseNodata parses the GDAL_NODATA text
func parseNodata(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if strings.EqualFold(s, "nan") {
		return math.NaN(), true
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
