package geowarp

import "sync"

// Buffer pools for compressed chunk reads

// Pooled buffer capacities, smallest first. Typical 256x256 and 512x512
// tiles land in the middle classes.
var bufferClasses = [...]int{
	64 * 1024,
	256 * 1024,
	1024 * 1024,
	4 * 1024 * 1024,
}

var bufferPools [len(bufferClasses)]sync.Pool

func init() {
	for i, size := range bufferClasses {
		size := size
		bufferPools[i].New = func() any {
			buf := make([]byte, size)
			return &buf
		}
	}
}

// GetBuffer returns a byte slice of length size. Buffers up to the largest
// class come from a pool; call PutBuffer when done.
func GetBuffer(size int) []byte {
	for i, class := range bufferClasses {
		if size <= class {
			buf := bufferPools[i].Get().(*[]byte)
			return (*buf)[:size]
		}
	}
	return make([]byte, size)
}

// PutBuffer returns a buffer obtained from GetBuffer to its pool.
// The buffer must not be used afterwards. Other slices are ignored.
func PutBuffer(buf []byte) {
	c := cap(buf)
	for i, class := range bufferClasses {
		if c == class {
			buf = buf[:c]
			bufferPools[i].Put(&buf)
			return
		}
	}
}
