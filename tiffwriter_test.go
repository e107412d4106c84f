package geowarp

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/jpeg"
	"math"
	"sort"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/require"
)

// synthImage describes one IFD written by synthTIFF
type synthImage struct {
	width, height int
	samples       int
	dataType      DataType
	tile          int // 0 writes strips
	rowsPerStrip  int // strips only; 0 means one strip
	compression   int
	predictor     int
	subfile       int
	pixel         func(band, row, col int) float64
}

// tiffEntry is an IFD entry before layout
type tiffEntry struct {
	id    uint16
	typ   fieldType
	count uint32
	data  []byte
}

// synthTIFF writes small GeoTIFFs for tests
type synthTIFF struct {
	order   binary.ByteOrder
	images  []synthImage
	geoTags []tiffEntry // added to the first IFD
}

func (s synthTIFF) shorts(id uint16, vs ...uint16) tiffEntry {
	b := make([]byte, 2*len(vs))
	for i, v := range vs {
		s.order.PutUint16(b[i*2:], v)
	}
	return tiffEntry{id: id, typ: ftShort, count: uint32(len(vs)), data: b}
}

func (s synthTIFF) longs(id uint16, vs ...uint32) tiffEntry {
	b := make([]byte, 4*len(vs))
	for i, v := range vs {
		s.order.PutUint32(b[i*4:], v)
	}
	return tiffEntry{id: id, typ: ftLong, count: uint32(len(vs)), data: b}
}

func (s synthTIFF) doubles(id uint16, vs ...float64) tiffEntry {
	b := make([]byte, 8*len(vs))
	for i, v := range vs {
		s.order.PutUint64(b[i*8:], math.Float64bits(v))
	}
	return tiffEntry{id: id, typ: ftDouble, count: uint32(len(vs)), data: b}
}

func (s synthTIFF) ascii(id uint16, v string) tiffEntry {
	b := append([]byte(v), 0)
	return tiffEntry{id: id, typ: ftASCII, count: uint32(len(b)), data: b}
}

// northUp adds tie point and pixel scale tags for a north-up grid
func (s synthTIFF) northUp(originX, originY, res float64) synthTIFF {
	s.geoTags = append(s.geoTags,
		s.doubles(tagModelPixelScale, res, res, 0),
		s.doubles(tagModelTiepoint, 0, 0, 0, originX, originY, 0),
	)
	return s
}

// epsg adds a GeoKey directory declaring a projected or geographic code
func (s synthTIFF) epsg(code uint16, geographic bool) synthTIFF {
	key, model := uint16(keyProjectedCSType), uint16(1)
	if geographic {
		key, model = keyGeographicType, 2
	}
	s.geoTags = append(s.geoTags, s.shorts(tagGeoKeyDirectory,
		1, 1, 0, 2,
		keyModelType, 0, 1, model,
		key, 0, 1, code,
	))
	return s
}

func (s synthTIFF) nodata(v string) synthTIFF {
	s.geoTags = append(s.geoTags, s.ascii(tagGDALNodata, v))
	return s
}

func putSample(b []byte, dt DataType, v float64, order binary.ByteOrder) {
	switch dt {
	case Uint8:
		b[0] = uint8(v)
	case Int8:
		b[0] = uint8(int8(v))
	case Uint16:
		order.PutUint16(b, uint16(v))
	case Int16:
		order.PutUint16(b, uint16(int16(v)))
	case Uint32:
		order.PutUint32(b, uint32(v))
	case Int32:
		order.PutUint32(b, uint32(int32(v)))
	case Float32:
		order.PutUint32(b, math.Float32bits(float32(v)))
	case Float64:
		order.PutUint64(b, math.Float64bits(v))
	}
}

func sampleFormatOf(dt DataType) uint16 {
	switch dt {
	case Int8, Int16, Int32:
		return sampleFormatInt
	case Float32, Float64:
		return sampleFormatFloat
	default:
		return sampleFormatUint
	}
}

// chunk encodes the w x rows block at (x0, y0); pixels past the image are 0
func (s synthTIFF) chunk(t testing.TB, img synthImage, x0, y0, w, rows int) []byte {
	size := img.dataType.Size()
	stride := img.samples * size
	raw := make([]byte, w*rows*stride)
	for r := 0; r < rows; r++ {
		for c := 0; c < w; c++ {
			if y0+r >= img.height || x0+c >= img.width {
				continue
			}
			for band := 0; band < img.samples; band++ {
				o := (r*w+c)*stride + band*size
				putSample(raw[o:o+size], img.dataType, img.pixel(band, y0+r, x0+c), s.order)
			}
		}
	}

	if img.predictor == 2 {
		// forward horizontal differencing, right to left
		spp := img.samples
		for r := 0; r < rows; r++ {
			row := raw[r*w*stride : (r+1)*w*stride]
			for i := w*spp - 1; i >= spp; i-- {
				switch size {
				case 1:
					row[i] -= row[i-spp]
				case 2:
					s.order.PutUint16(row[i*2:], s.order.Uint16(row[i*2:])-s.order.Uint16(row[(i-spp)*2:]))
				default:
					t.Fatalf("predictor not supported for %d byte samples", size)
				}
			}
		}
	}

	var buf bytes.Buffer
	switch img.compression {
	case compressionDeflate:
		zw := zlib.NewWriter(&buf)
		_, err := zw.Write(raw)
		require.NoError(t, err)
		require.NoError(t, zw.Close())
	case compressionJPEG:
		require.Equal(t, Uint8, img.dataType)
		require.Equal(t, 1, img.samples)
		gray := image.NewGray(image.Rect(0, 0, w, rows))
		copy(gray.Pix, raw)
		require.NoError(t, jpeg.Encode(&buf, gray, &jpeg.Options{Quality: 100}))
	default:
		return raw
	}
	return buf.Bytes()
}

// encode lays out the file: header, pixel data, then each IFD followed by
// its out-of-line values.
func (s synthTIFF) encode(t testing.TB) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(make([]byte, 8))

	entries := make([][]tiffEntry, len(s.images))
	for i, img := range s.images {
		if img.samples == 0 {
			img.samples = 1
		}
		if img.compression == 0 {
			img.compression = compressionNone
		}
		s.images[i] = img

		var offsets, counts []uint32
		write := func(data []byte) {
			offsets = append(offsets, uint32(buf.Len()))
			counts = append(counts, uint32(len(data)))
			buf.Write(data)
			if buf.Len()%2 == 1 {
				buf.WriteByte(0)
			}
		}

		e := []tiffEntry{
			s.longs(tagImageWidth, uint32(img.width)),
			s.longs(tagImageLength, uint32(img.height)),
			s.shorts(tagCompression, uint16(img.compression)),
			s.shorts(tagPhotometric, 1),
			s.shorts(tagSamplesPerPixel, uint16(img.samples)),
			s.shorts(tagPlanarConfig, 1),
			s.shorts(tagSampleFormat, repeat(sampleFormatOf(img.dataType), img.samples)...),
			s.shorts(tagBitsPerSample, repeat(uint16(img.dataType.Size()*8), img.samples)...),
		}
		if img.subfile != 0 {
			e = append(e, s.longs(tagNewSubfileType, uint32(img.subfile)))
		}
		if img.predictor != 0 {
			e = append(e, s.shorts(tagPredictor, uint16(img.predictor)))
		}

		if img.tile > 0 {
			for y := 0; y < img.height; y += img.tile {
				for x := 0; x < img.width; x += img.tile {
					write(s.chunk(t, img, x, y, img.tile, img.tile))
				}
			}
			e = append(e,
				s.shorts(tagTileWidth, uint16(img.tile)),
				s.shorts(tagTileLength, uint16(img.tile)),
				s.longs(tagTileOffsets, offsets...),
				s.longs(tagTileByteCounts, counts...),
			)
		} else {
			rps := img.rowsPerStrip
			if rps == 0 {
				rps = img.height
			}
			for y := 0; y < img.height; y += rps {
				write(s.chunk(t, img, 0, y, img.width, min(rps, img.height-y)))
			}
			e = append(e,
				s.longs(tagRowsPerStrip, uint32(rps)),
				s.longs(tagStripOffsets, offsets...),
				s.longs(tagStripByteCounts, counts...),
			)
		}
		if i == 0 {
			e = append(e, s.geoTags...)
		}
		entries[i] = e
	}

	ifdOffsets := make([]uint32, len(entries))
	for i, e := range entries {
		sort.Slice(e, func(a, b int) bool { return e[a].id < e[b].id })

		ifdOffsets[i] = uint32(buf.Len())
		extra := uint32(buf.Len() + 2 + 12*len(e) + 4)
		var values bytes.Buffer

		var count [2]byte
		s.order.PutUint16(count[:], uint16(len(e)))
		buf.Write(count[:])
		for _, entry := range e {
			var rec [12]byte
			s.order.PutUint16(rec[0:], entry.id)
			s.order.PutUint16(rec[2:], uint16(entry.typ))
			s.order.PutUint32(rec[4:], entry.count)
			if len(entry.data) <= 4 {
				copy(rec[8:], entry.data)
			} else {
				s.order.PutUint32(rec[8:], extra+uint32(values.Len()))
				values.Write(entry.data)
				if values.Len()%2 == 1 {
					values.WriteByte(0)
				}
			}
			buf.Write(rec[:])
		}
		buf.Write(make([]byte, 4)) // next IFD, patched below
		buf.Write(values.Bytes())
	}

	out := buf.Bytes()
	copy(out[0:2], "II")
	if s.order == binary.BigEndian {
		copy(out[0:2], "MM")
	}
	s.order.PutUint16(out[2:], tiffVersion)
	s.order.PutUint32(out[4:], ifdOffsets[0])
	for i := 0; i+1 < len(ifdOffsets); i++ {
		next := ifdOffsets[i] + 2 + 12*uint32(len(entries[i]))
		s.order.PutUint32(out[next:], ifdOffsets[i+1])
	}
	return out
}

func repeat(v uint16, n int) []uint16 {
	out := make([]uint16, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// testPixel is the reference image used across the package tests
func testPixel(band, row, col int) float64 {
	return float64(row*256 + col + band*7)
}
