package geowarp

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// TIFF header constants
const (
	tiffMagicLE = 0x4949 // "II" little-endian
	tiffMagicBE = 0x4D4D // "MM" big-endian
	tiffVersion = 42
)

// fieldType is the type of a TIFF field value
type fieldType uint16

const (
	ftByte      fieldType = 1  // 8-bit unsigned integer
	ftASCII     fieldType = 2  // 8-bit NUL terminated text
	ftShort     fieldType = 3  // 16-bit unsigned integer
	ftLong      fieldType = 4  // 32-bit unsigned integer
	ftRational  fieldType = 5  // two LONGs: numerator, denominator
	ftSByte     fieldType = 6  // 8-bit signed integer
	ftUndefined fieldType = 7  // opaque bytes
	ftSShort    fieldType = 8  // 16-bit signed integer
	ftSLong     fieldType = 9  // 32-bit signed integer
	ftSRational fieldType = 10 // two SLONGs
	ftFloat     fieldType = 11 // 32-bit IEEE floating point
	ftDouble    fieldType = 12 // 64-bit IEEE floating point
)

func (t fieldType) size() int {
	switch t {
	case ftShort, ftSShort:
		return 2
	case ftLong, ftSLong, ftFloat:
		return 4
	case ftRational, ftSRational, ftDouble:
		return 8
	default:
		return 1
	}
}

// Baseline and extension tag IDs
const (
	tagNewSubfileType  = 254
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagPredictor       = 317
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagSampleFormat    = 339
	tagJPEGTables      = 347
)

// isChunkIndex reports whether a tag holds per-chunk offsets or sizes.
// These arrays hold one entry per tile and are only loaded when pixels are
// read.
func isChunkIndex(id uint16) bool {
	return id == tagStripOffsets || id == tagStripByteCounts ||
		id == tagTileOffsets || id == tagTileByteCounts
}

// tiffTag is one IFD entry
type tiffTag struct {
	id     uint16
	typ    fieldType
	count  uint32
	inline [4]byte // raw value/offset field as stored
	loaded bool

	nums []float64 // numeric types
	text string    // ASCII
	raw  []byte    // BYTE and UNDEFINED
}

func (t *tiffTag) byteSize() int64 {
	return int64(t.typ.size()) * int64(t.count)
}

// ifd is an Image File Directory
type ifd struct {
	offset uint32
	tags   map[uint16]*tiffTag
}

// tiffReader decodes the TIFF container: header and directories
type tiffReader struct {
	r     io.ReadSeeker
	order binary.ByteOrder
	ifds  []*ifd
}

// newTIFFReader reads the header and every IFD. Per-chunk offset arrays are
// left unloaded.
func newTIFFReader(r io.ReadSeeker) (*tiffReader, error) {
	header := make([]byte, 8)
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to TIFF header: %w", err)
	}
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("failed to read TIFF header: %w", err)
	}

	tr := &tiffReader{r: r}
	switch binary.LittleEndian.Uint16(header[0:2]) {
	case tiffMagicLE:
		tr.order = binary.LittleEndian
	case tiffMagicBE:
		tr.order = binary.BigEndian
	default:
		return nil, fmt.Errorf("invalid TIFF magic: 0x%04x", binary.LittleEndian.Uint16(header[0:2]))
	}

	if version := tr.order.Uint16(header[2:4]); version != tiffVersion {
		return nil, fmt.Errorf("unsupported TIFF version: %d", version)
	}

	seen := make(map[uint32]bool)
	for next := tr.order.Uint32(header[4:8]); next != 0; {
		if seen[next] {
			return nil, fmt.Errorf("IFD loop at offset %d", next)
		}
		seen[next] = true

		d, n, err := tr.readIFD(next)
		if err != nil {
			return nil, fmt.Errorf("failed to read IFD at offset %d: %w", next, err)
		}
		tr.ifds = append(tr.ifds, d)
		next = n
	}
	if len(tr.ifds) == 0 {
		return nil, fmt.Errorf("TIFF has no image directories")
	}

	return tr, nil
}

// readIFD reads one directory in a single request and returns it with the
// offset of the next one.
func (tr *tiffReader) readIFD(offset uint32) (*ifd, uint32, error) {
	if _, err := tr.r.Seek(int64(offset), io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("failed to seek: %w", err)
	}

	var countBuf [2]byte
	if _, err := io.ReadFull(tr.r, countBuf[:]); err != nil {
		return nil, 0, fmt.Errorf("failed to read tag count: %w", err)
	}
	count := int(tr.order.Uint16(countBuf[:]))

	// entries (12 bytes each) + next IFD offset
	buf := make([]byte, count*12+4)
	if _, err := io.ReadFull(tr.r, buf); err != nil {
		return nil, 0, fmt.Errorf("failed to read %d entries: %w", count, err)
	}

	d := &ifd{offset: offset, tags: make(map[uint16]*tiffTag, count)}
	for i := 0; i < count; i++ {
		e := buf[i*12 : (i+1)*12]
		tag := &tiffTag{
			id:    tr.order.Uint16(e[0:2]),
			typ:   fieldType(tr.order.Uint16(e[2:4])),
			count: tr.order.Uint32(e[4:8]),
		}
		copy(tag.inline[:], e[8:12])
		d.tags[tag.id] = tag
	}
	next := tr.order.Uint32(buf[count*12:])

	for _, tag := range d.tags {
		if tag.byteSize() <= 4 {
			tr.decode(tag, tag.inline[:tag.byteSize()])
			continue
		}
		if isChunkIndex(tag.id) {
			continue
		}
		if err := tr.load(tag); err != nil {
			return nil, 0, err
		}
	}

	return d, next, nil
}

// load reads a value stored outside the entry
func (tr *tiffReader) load(tag *tiffTag) error {
	if tag.loaded {
		return nil
	}
	if tag.byteSize() <= 4 {
		tr.decode(tag, tag.inline[:tag.byteSize()])
		return nil
	}

	offset := tr.order.Uint32(tag.inline[:])
	buf := make([]byte, tag.byteSize())
	if _, err := tr.r.Seek(int64(offset), io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to tag %d value: %w", tag.id, err)
	}
	if _, err := io.ReadFull(tr.r, buf); err != nil {
		return fmt.Errorf("failed to read tag %d value: %w", tag.id, err)
	}
	tr.decode(tag, buf)
	return nil
}

// decode converts raw field bytes into typed values
func (tr *tiffReader) decode(tag *tiffTag, b []byte) {
	tag.loaded = true
	n := int(tag.count)

	switch tag.typ {
	case ftASCII:
		end := len(b)
		for end > 0 && b[end-1] == 0 {
			end--
		}
		tag.text = string(b[:end])
		return
	case ftByte, ftUndefined:
		tag.raw = append([]byte(nil), b...)
	}

	nums := make([]float64, n)
	for i := 0; i < n; i++ {
		switch tag.typ {
		case ftByte, ftUndefined:
			nums[i] = float64(b[i])
		case ftSByte:
			nums[i] = float64(int8(b[i]))
		case ftShort:
			nums[i] = float64(tr.order.Uint16(b[i*2:]))
		case ftSShort:
			nums[i] = float64(int16(tr.order.Uint16(b[i*2:])))
		case ftLong:
			nums[i] = float64(tr.order.Uint32(b[i*4:]))
		case ftSLong:
			nums[i] = float64(int32(tr.order.Uint32(b[i*4:])))
		case ftFloat:
			nums[i] = float64(math.Float32frombits(tr.order.Uint32(b[i*4:])))
		case ftDouble:
			nums[i] = math.Float64frombits(tr.order.Uint64(b[i*8:]))
		case ftRational:
			num, den := tr.order.Uint32(b[i*8:]), tr.order.Uint32(b[i*8+4:])
			if den != 0 {
				nums[i] = float64(num) / float64(den)
			}
		case ftSRational:
			num, den := int32(tr.order.Uint32(b[i*8:])), int32(tr.order.Uint32(b[i*8+4:]))
			if den != 0 {
				nums[i] = float64(num) / float64(den)
			}
		}
	}
	tag.nums = nums
}

// has reports whether the directory carries a tag
func (d *ifd) has(id uint16) bool {
	_, ok := d.tags[id]
	return ok
}

// number returns the first value of a numeric tag, or def
func (d *ifd) number(id uint16, def int) int {
	if tag := d.tags[id]; tag != nil && len(tag.nums) > 0 {
		return int(tag.nums[0])
	}
	return def
}

// floats returns all values of a loaded numeric tag
func (d *ifd) floats(id uint16) []float64 {
	if tag := d.tags[id]; tag != nil {
		return tag.nums
	}
	return nil
}

// ascii returns the text of an ASCII tag
func (d *ifd) ascii(id uint16) string {
	if tag := d.tags[id]; tag != nil {
		return tag.text
	}
	return ""
}

// bytes returns the raw value of a BYTE or UNDEFINED tag
func (d *ifd) bytes(id uint16) []byte {
	if tag := d.tags[id]; tag != nil {
		return tag.raw
	}
	return nil
}

// chunkIndex loads and returns an offsets or byte-counts array
func (tr *tiffReader) chunkIndex(d *ifd, id uint16) ([]uint64, error) {
	tag := d.tags[id]
	if tag == nil {
		return nil, fmt.Errorf("tag %d not found", id)
	}
	if err := tr.load(tag); err != nil {
		return nil, err
	}
	out := make([]uint64, len(tag.nums))
	for i, v := range tag.nums {
		out[i] = uint64(v)
	}
	return out, nil
}
