package geowarp

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
)

// Default read-ahead buffer size (64KB); headers and IFDs of a COG usually
// fit in the first request.
const defaultReadAheadSize = 64 * 1024

// defaultHTTPTimeout applies to clients created by this package
const defaultHTTPTimeout = 30 * time.Second

func newDefaultClient() *fasthttp.Client {
	return &fasthttp.Client{
		ReadTimeout:  defaultHTTPTimeout,
		WriteTimeout: defaultHTTPTimeout,
	}
}

// HTTPRangeReader implements io.ReadSeeker over HTTP range requests.
// Sequential reads are served from a read-ahead buffer.
//
// It is safe for concurrent use; calls are serialised.
type HTTPRangeReader struct {
	url    string
	client *fasthttp.Client
	size   int64

	mu  sync.Mutex
	pos int64

	buffer        []byte
	bufferStart   int64 // file offset of buffer[0]
	readAheadSize int
}

// NewHTTPRangeReader creates a range reader and resolves the object size.
// A nil client uses one with 30s timeouts.
func NewHTTPRangeReader(url string, client *fasthttp.Client) (*HTTPRangeReader, error) {
	if client == nil {
		client = newDefaultClient()
	}
	rr := &HTTPRangeReader{
		url:           url,
		client:        client,
		readAheadSize: defaultReadAheadSize,
	}

	size, err := rr.fetchSize()
	if err != nil {
		return nil, fmt.Errorf("failed to get size of %s: %w", url, err)
	}
	rr.size = size
	return rr, nil
}

// SetReadAheadSize sets the read-ahead buffer size
func (rr *HTTPRangeReader) SetReadAheadSize(size int) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	if size > 0 {
		rr.readAheadSize = size
	}
}

// fetchSize asks for the size with HEAD, falling back to a one byte range
// request for servers that do not answer HEAD with a length.
func (rr *HTTPRangeReader) fetchSize() (int64, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(rr.url)
	req.Header.SetMethod(fasthttp.MethodHead)
	resp.SkipBody = true

	if err := rr.client.Do(req, resp); err != nil {
		return 0, err
	}
	if resp.StatusCode() == fasthttp.StatusOK && resp.Header.ContentLength() > 0 {
		return int64(resp.Header.ContentLength()), nil
	}

	req.Reset()
	resp.Reset()
	req.SetRequestURI(rr.url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Range", "bytes=0-0")
	if err := rr.client.Do(req, resp); err != nil {
		return 0, err
	}
	switch resp.StatusCode() {
	case fasthttp.StatusPartialContent:
		return parseContentRangeSize(string(resp.Header.Peek("Content-Range")))
	case fasthttp.StatusOK:
		return int64(len(resp.Body())), nil
	default:
		return 0, fmt.Errorf("unexpected status code: %d", resp.StatusCode())
	}
}

// parseContentRangeSize extracts the total from "bytes 0-0/12345"
func parseContentRangeSize(v string) (int64, error) {
	i := strings.LastIndexByte(v, '/')
	if i < 0 || v[i+1:] == "*" {
		return 0, fmt.Errorf("no size in Content-Range %q", v)
	}
	return strconv.ParseInt(v[i+1:], 10, 64)
}

// Read reads from the current position
func (rr *HTTPRangeReader) Read(p []byte) (int, error) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	if len(p) == 0 {
		return 0, nil
	}
	if rr.pos >= rr.size {
		return 0, io.EOF
	}

	n := 0
	if rr.pos >= rr.bufferStart && rr.pos < rr.bufferStart+int64(len(rr.buffer)) {
		n = copy(p, rr.buffer[rr.pos-rr.bufferStart:])
		rr.pos += int64(n)
		if n == len(p) || rr.pos >= rr.size {
			return n, nil
		}
	}

	want := min(int64(max(len(p)-n, rr.readAheadSize)), rr.size-rr.pos)
	data, err := rr.fetchRange(rr.pos, rr.pos+want)
	if err != nil {
		return n, err
	}
	if len(data) == 0 {
		if n > 0 {
			return n, nil
		}
		return 0, io.ErrUnexpectedEOF
	}

	rr.buffer = data
	rr.bufferStart = rr.pos
	m := copy(p[n:], data)
	rr.pos += int64(m)
	return n + m, nil
}

// fetchRange fetches [start, end) from the server
func (rr *HTTPRangeReader) fetchRange(start, end int64) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(rr.url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end-1))

	if err := rr.client.Do(req, resp); err != nil {
		return nil, fmt.Errorf("failed to fetch bytes %d-%d: %w", start, end-1, err)
	}

	body := resp.Body()
	switch resp.StatusCode() {
	case fasthttp.StatusPartialContent:
	case fasthttp.StatusOK:
		// Range ignored: the whole object was returned.
		if int64(len(body)) < end {
			return nil, fmt.Errorf("short body: %d bytes, need %d", len(body), end)
		}
		body = body[start:end]
	default:
		return nil, fmt.Errorf("unexpected status code %d for bytes %d-%d", resp.StatusCode(), start, end-1)
	}

	// The response is released on return.
	return append([]byte(nil), body...), nil
}

// Seek sets the offset for the next Read
func (rr *HTTPRangeReader) Seek(offset int64, whence int) (int64, error) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = rr.pos + offset
	case io.SeekEnd:
		pos = rr.size + offset
	default:
		return 0, fmt.Errorf("invalid whence: %d", whence)
	}
	if pos < 0 {
		return 0, errors.New("negative position")
	}

	rr.pos = pos
	return pos, nil
}

// Size returns the object size in bytes
func (rr *HTTPRangeReader) Size() int64 {
	return rr.size
}

// Close drops the read-ahead buffer. The client is not closed.
func (rr *HTTPRangeReader) Close() error {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	rr.buffer = nil
	rr.bufferStart = 0
	return nil
}
