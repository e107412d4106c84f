package geowarp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"math"

	"github.com/klauspost/compress/zlib"
	"golang.org/x/image/tiff/lzw"
)

// Compression schemes
const (
	compressionNone       = 1
	compressionLZW        = 5
	compressionOldJPEG    = 6
	compressionJPEG       = 7
	compressionDeflate    = 8
	compressionOldDeflate = 32946
)

// decodeChunk decompresses one tile or strip and undoes the predictor.
// The result holds exactly chunkW x rows pixels.
func (img *rasterImage) decodeChunk(src []byte, rows int, order binary.ByteOrder) ([]byte, error) {
	expected := img.chunkW * rows * img.stride()

	var out []byte
	switch img.compression {
	case compressionNone:
		out = src
	case compressionLZW:
		var err error
		if out, err = inflateLZW(src, expected); err != nil {
			return nil, err
		}
	case compressionDeflate, compressionOldDeflate:
		zr, err := zlib.NewReader(bytes.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("failed to decompress Deflate chunk: %w", err)
		}
		out = make([]byte, expected)
		_, err = io.ReadFull(zr, out)
		zr.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to decompress Deflate chunk (expected %d bytes): %w", expected, err)
		}
	case compressionJPEG:
		var err error
		if out, err = img.decodeJPEG(src, rows); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported compression type: %d", img.compression)
	}

	if len(out) < expected {
		return nil, fmt.Errorf("chunk holds %d bytes, expected %d", len(out), expected)
	}
	out = out[:expected]

	switch img.predictor {
	case 1:
	case 2:
		spp := img.samples
		if img.planar {
			spp = 1
		}
		undoHorizontalDifferencing(out, img.chunkW, rows, spp, img.dataType.Size(), order)
	default:
		return nil, fmt.Errorf("unsupported predictor: %d", img.predictor)
	}
	return out, nil
}

// inflateLZW decodes TIFF LZW. Files written by very old encoders use LSB
// bit order, so that is tried when MSB fails.
func inflateLZW(src []byte, expected int) ([]byte, error) {
	var lastErr error
	for _, order := range []lzw.Order{lzw.MSB, lzw.LSB} {
		r := lzw.NewReader(bytes.NewReader(src), order, 8)
		out := make([]byte, expected)
		_, err := io.ReadFull(r, out)
		r.Close()
		if err == nil {
			return out, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("failed to decompress LZW chunk (expected %d bytes): %w", expected, lastErr)
}

// decodeJPEG decodes an 8-bit JPEG chunk. Shared tables from the JPEGTables
// tag are spliced in front of the chunk stream.
func (img *rasterImage) decodeJPEG(src []byte, rows int) ([]byte, error) {
	if img.dataType != Uint8 {
		return nil, fmt.Errorf("JPEG chunks must be 8-bit, got %s", img.dataType)
	}

	stream := src
	if len(img.jpegTables) > 4 && len(src) > 2 {
		// tables: SOI ... EOI; chunk: SOI ...
		stream = make([]byte, 0, len(img.jpegTables)+len(src))
		stream = append(stream, img.jpegTables[:len(img.jpegTables)-2]...)
		stream = append(stream, src[2:]...)
	}

	decoded, err := jpeg.Decode(bytes.NewReader(stream))
	if err != nil {
		return nil, fmt.Errorf("failed to decode JPEG chunk: %w", err)
	}

	spp := img.stride()
	out := make([]byte, img.chunkW*rows*spp)
	b := decoded.Bounds()
	for y := 0; y < min(rows, b.Dy()); y++ {
		for x := 0; x < min(img.chunkW, b.Dx()); x++ {
			o := (y*img.chunkW + x) * spp
			if g, ok := decoded.(*image.Gray); ok {
				out[o] = g.GrayAt(b.Min.X+x, b.Min.Y+y).Y
				continue
			}
			r, gr, bl, a := decoded.At(b.Min.X+x, b.Min.Y+y).RGBA()
			px := [4]byte{uint8(r >> 8), uint8(gr >> 8), uint8(bl >> 8), uint8(a >> 8)}
			copy(out[o:o+spp], px[:min(spp, 4)])
		}
	}
	return out, nil
}

// undoHorizontalDifferencing reverses TIFF predictor 2 in place
func undoHorizontalDifferencing(buf []byte, width, rows, spp, size int, order binary.ByteOrder) {
	rowLen := width * spp * size
	for r := 0; r < rows; r++ {
		row := buf[r*rowLen : (r+1)*rowLen]
		switch size {
		case 1:
			for i := spp; i < len(row); i++ {
				row[i] += row[i-spp]
			}
		case 2:
			for i := spp; i < width*spp; i++ {
				prev := order.Uint16(row[(i-spp)*2:])
				order.PutUint16(row[i*2:], order.Uint16(row[i*2:])+prev)
			}
		case 4:
			for i := spp; i < width*spp; i++ {
				prev := order.Uint32(row[(i-spp)*4:])
				order.PutUint32(row[i*4:], order.Uint32(row[i*4:])+prev)
			}
		case 8:
			for i := spp; i < width*spp; i++ {
				prev := order.Uint64(row[(i-spp)*8:])
				order.PutUint64(row[i*8:], order.Uint64(row[i*8:])+prev)
			}
		}
	}
}

// decodeSample converts one stored sample to float64
func decodeSample(b []byte, dt DataType, order binary.ByteOrder) float64 {
	switch dt {
	case Uint8:
		return float64(b[0])
	case Int8:
		return float64(int8(b[0]))
	case Uint16:
		return float64(order.Uint16(b))
	case Int16:
		return float64(int16(order.Uint16(b)))
	case Uint32:
		return float64(order.Uint32(b))
	case Int32:
		return float64(int32(order.Uint32(b)))
	case Float32:
		return float64(math.Float32frombits(order.Uint32(b)))
	case Float64:
		return math.Float64frombits(order.Uint64(b))
	default:
		return 0
	}
}
