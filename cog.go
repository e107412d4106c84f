package geowarp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/valyala/fasthttp"
	"golang.org/x/sync/errgroup"
)

// COG is an open (Cloud Optimized) GeoTIFF. Only metadata is read on open;
// pixels are fetched per window.
//
// A COG may be shared by several Bands. I/O on the underlying reader is
// serialised; decompression runs in parallel.
type COG struct {
	mu     sync.Mutex
	r      io.ReadSeeker
	closer io.Closer

	tiff   *tiffReader
	images []*rasterImage // full resolution first, then overviews
	geo    georef
}

// Open opens a COG from a file path or an http(s) URL. URLs are read with
// range requests through client; a nil client uses one with 30s timeouts.
func Open(pathOrURL string, client *fasthttp.Client) (*COG, error) {
	var (
		r      io.ReadSeeker
		closer io.Closer
	)
	if strings.HasPrefix(pathOrURL, "http://") || strings.HasPrefix(pathOrURL, "https://") {
		rr, err := NewHTTPRangeReader(pathOrURL, client)
		if err != nil {
			return nil, err
		}
		r, closer = rr, rr
	} else {
		f, err := os.Open(pathOrURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open file: %w", err)
		}
		r, closer = f, f
	}

	c, err := newCOG(r, closer)
	if err != nil {
		closer.Close()
		return nil, fmt.Errorf("failed to open %s: %w", pathOrURL, err)
	}
	Logger().Debug("geowarp: opened COG", slog.String("source", pathOrURL), slog.Any("cog", c))
	return c, nil
}

// Read reads COG metadata from r. Close does not close r.
func Read(r io.ReadSeeker) (*COG, error) {
	return newCOG(r, nil)
}

func newCOG(r io.ReadSeeker, closer io.Closer) (*COG, error) {
	tr, err := newTIFFReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create TIFF reader: %w", err)
	}

	c := &COG{r: r, closer: closer, tiff: tr}
	for i, d := range tr.ifds {
		if i > 0 && isMask(d) {
			continue
		}
		img, err := parseImage(d)
		if err != nil {
			return nil, fmt.Errorf("failed to read image %d: %w", i, err)
		}
		c.images = append(c.images, img)
	}
	c.geo = parseGeoref(tr.ifds[0])

	return c, nil
}

// Close releases the underlying file or HTTP reader
func (c *COG) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// LogValue implements slog.LogValuer
func (c *COG) LogValue() slog.Value {
	full := c.images[0]
	return slog.GroupValue(
		slog.Int("width", full.width),
		slog.Int("height", full.height),
		slog.Int("bands", full.samples),
		slog.String("dtype", full.dataType.String()),
		slog.Int("overviews", c.OverviewCount()),
		slog.Bool("tiled", full.tiled),
		slog.String("crs", c.geo.crs.String()),
	)
}

// Width returns the width of the full resolution image
func (c *COG) Width() int { return c.images[0].width }

// Height returns the height of the full resolution image
func (c *COG) Height() int { return c.images[0].height }

// BandCount returns the number of bands
func (c *COG) BandCount() int { return c.images[0].samples }

// DataType returns the sample type
func (c *COG) DataType() DataType { return c.images[0].dataType }

// OverviewCount returns the number of overview levels
func (c *COG) OverviewCount() int { return len(c.images) - 1 }

// Transform returns the full resolution pixel -> world transform
func (c *COG) Transform() (Affine, error) {
	if !c.geo.hasAffine {
		return Affine{}, fmt.Errorf("%w: no ModelTransformation or ModelTiepoint", ErrNoGeoreference)
	}
	return c.geo.affine, nil
}

// CRS returns the CRS declared by the GeoKeys
func (c *COG) CRS() (CRS, error) {
	if c.geo.crsErr != nil {
		return CRS{}, c.geo.crsErr
	}
	if c.geo.crs.IsZero() {
		return CRS{}, fmt.Errorf("%w: no CRS GeoKeys", ErrNoGeoreference)
	}
	return c.geo.crs, nil
}

// Nodata returns the GDAL_NODATA value
func (c *COG) Nodata() (float64, bool) {
	return c.geo.nodata, c.geo.hasNodata
}

// BandOption configures a Band
type BandOption func(*bandOptions)

type bandOptions struct {
	overview int
	nodata   *float64
	noNodata bool
}

// WithNodata overrides the nodata value of the file
func WithNodata(v float64) BandOption {
	return func(o *bandOptions) {
		o.nodata = &v
		o.noNodata = false
	}
}

// WithoutNodata ignores the nodata value of the file
func WithoutNodata() BandOption {
	return func(o *bandOptions) {
		o.nodata = nil
		o.noNodata = true
	}
}

// WithOverview reads overview level instead of the full resolution
// image. Level 0 is full resolution.
func WithOverview(level int) BandOption {
	return func(o *bandOptions) {
		o.overview = level
	}
}

// Band returns a reader for band i, counting from 1
func (c *COG) Band(i int, opts ...BandOption) (*Band, error) {
	if i < 1 || i > c.BandCount() {
		return nil, fmt.Errorf("band %d out of range [1, %d]", i, c.BandCount())
	}

	o := bandOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.overview < 0 || o.overview >= len(c.images) {
		return nil, fmt.Errorf("invalid overview level: %d", o.overview)
	}

	b := &Band{cog: c, index: i - 1, level: o.overview, img: c.images[o.overview]}
	switch {
	case o.nodata != nil:
		b.nodata = o.nodata
	case !o.noNodata && c.geo.hasNodata:
		v := c.geo.nodata
		b.nodata = &v
	}
	return b, nil
}

// Band is one band of one resolution level of a COG. It implements
// RasterReader.
type Band struct {
	cog    *COG
	index  int // sample index within a pixel
	level  int
	img    *rasterImage
	nodata *float64
}

var _ RasterReader = (*Band)(nil)

// Shape returns (rows, cols) of the selected level
func (b *Band) Shape() (int, int) {
	return b.img.height, b.img.width
}

// Transform returns the transform of the selected level. Overviews cover the
// full image extent with proportionally larger pixels.
func (b *Band) Transform() (Affine, error) {
	a, err := b.cog.Transform()
	if err != nil || b.level == 0 {
		return a, err
	}
	full := b.cog.images[0]
	return a.Multiply(Scaling(
		float64(full.width)/float64(b.img.width),
		float64(full.height)/float64(b.img.height),
	)), nil
}

// CRS returns the file CRS
func (b *Band) CRS() (CRS, error) { return b.cog.CRS() }

// DataType returns the sample type
func (b *Band) DataType() DataType { return b.img.dataType }

// Nodata returns the effective nodata value
func (b *Band) Nodata() (float64, bool) {
	if b.nodata == nil {
		return 0, false
	}
	return *b.nodata, true
}

// chunkRef is one tile or strip touched by a read
type chunkRef struct {
	index  int
	tx, ty int
	offset uint64
	size   uint64
	data   []byte
}

// ReadWindow reads win sampled every scale pixels. Only the chunks holding
// sampled pixels are fetched.
func (b *Band) ReadWindow(ctx context.Context, win ROI, scale int) (*Array, error) {
	img := b.img
	if err := validateWindow(win, scale, img.height, img.width); err != nil {
		return nil, err
	}

	fill := 0.0
	if b.nodata != nil {
		fill = *b.nodata
	}
	out := FullArray(ceilDiv(win.Rows.Len(), scale), ceilDiv(win.Cols.Len(), scale), fill)

	chunks, err := b.fetchChunks(ctx, win, scale)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, ch := range chunks {
		ch := ch
		g.Go(func() error {
			defer PutBuffer(ch.data)
			if err := gctx.Err(); err != nil {
				return err
			}
			rows := img.chunkRows(ch.ty)
			data, err := img.decodeChunk(ch.data, rows, b.cog.tiff.order)
			if err != nil {
				return fmt.Errorf("failed to decode chunk %d: %w", ch.index, err)
			}
			b.scatter(data, ch, rows, win, scale, out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// fetchChunks reads the compressed bytes of every chunk holding a sampled
// pixel. Sparse chunks (zero offset or size) are skipped.
func (b *Band) fetchChunks(ctx context.Context, win ROI, scale int) ([]*chunkRef, error) {
	img := b.img
	c := b.cog

	c.mu.Lock()
	defer c.mu.Unlock()

	offsetsTag, countsTag := uint16(tagStripOffsets), uint16(tagStripByteCounts)
	if img.tiled {
		offsetsTag, countsTag = tagTileOffsets, tagTileByteCounts
	}
	offsets, err := c.tiff.chunkIndex(img.ifd, offsetsTag)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk offsets: %w", err)
	}
	counts, err := c.tiff.chunkIndex(img.ifd, countsTag)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk byte counts: %w", err)
	}

	plane := 0
	if img.planar {
		plane = b.index * img.chunksAcross * img.chunksDown
	}

	var chunks []*chunkRef
	release := func() {
		for _, ch := range chunks {
			PutBuffer(ch.data)
		}
	}

	for _, ty := range sampledChunks(win.Rows, scale, img.chunkH) {
		for _, tx := range sampledChunks(win.Cols, scale, img.chunkW) {
			idx := plane + ty*img.chunksAcross + tx
			if idx >= len(offsets) || idx >= len(counts) || offsets[idx] == 0 || counts[idx] == 0 {
				continue
			}
			if err := ctx.Err(); err != nil {
				release()
				return nil, err
			}

			ch := &chunkRef{index: idx, tx: tx, ty: ty, offset: offsets[idx], size: counts[idx]}
			ch.data = GetBuffer(int(ch.size))
			if _, err := c.r.Seek(int64(ch.offset), io.SeekStart); err != nil {
				PutBuffer(ch.data)
				release()
				return nil, fmt.Errorf("failed to seek to chunk %d: %w", idx, err)
			}
			if _, err := io.ReadFull(c.r, ch.data); err != nil {
				PutBuffer(ch.data)
				release()
				return nil, fmt.Errorf("failed to read chunk %d: %w", idx, err)
			}
			chunks = append(chunks, ch)
		}
	}
	return chunks, nil
}

// sampledChunks lists the chunk indices along one axis that contain at least
// one pixel r.Start + m*scale.
func sampledChunks(r Range, scale, chunk int) []int {
	var out []int
	for t := r.Start / chunk; t*chunk < r.Stop; t++ {
		lo := max(t*chunk, r.Start)
		first := r.Start + ceilDiv(lo-r.Start, scale)*scale
		if first < min((t+1)*chunk, r.Stop) {
			out = append(out, t)
		}
	}
	return out
}

// scatter copies the sampled pixels of one decoded chunk into out. Chunks
// never share output pixels, so scatter runs concurrently.
func (b *Band) scatter(data []byte, ch *chunkRef, rows int, win ROI, scale int, out *Array) {
	img := b.img
	stride := img.stride()
	size := img.dataType.Size()
	bandOffset := 0
	if !img.planar {
		bandOffset = b.index * size
	}
	order := b.cog.tiff.order

	row0, col0 := ch.ty*img.chunkH, ch.tx*img.chunkW
	rLo, rHi := max(row0, win.Rows.Start), min(row0+rows, win.Rows.Stop)
	cLo, cHi := max(col0, win.Cols.Start), min(col0+img.chunkW, win.Cols.Stop)

	firstRow := win.Rows.Start + ceilDiv(rLo-win.Rows.Start, scale)*scale
	firstCol := win.Cols.Start + ceilDiv(cLo-win.Cols.Start, scale)*scale

	for r := firstRow; r < rHi; r += scale {
		dst := out.Row((r - win.Rows.Start) / scale)
		base := (r - row0) * img.chunkW
		for c := firstCol; c < cHi; c += scale {
			o := (base+c-col0)*stride + bandOffset
			dst[(c-win.Cols.Start)/scale] = decodeSample(data[o:o+size], img.dataType, order)
		}
	}
}
