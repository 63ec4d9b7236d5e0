package geotiff

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// rangeReader adapts a stateless ranged read into io.ReadSeeker and
// io.ReaderAt, which is what ReadDirectory and CachedTileStore need from a
// remote raster.
type rangeReader struct {
	size      int64
	readRange func(p []byte, off int64) (int, error)

	// mu protects offset for sequential Read/Seek operations.
	mu     sync.Mutex
	offset int64
}

// Size returns the length of the remote object in bytes.
func (r *rangeReader) Size() int64 { return r.size }

// Read performs a sequential read. The lock is held for the whole request.
func (r *rangeReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.offset >= r.size {
		return 0, io.EOF
	}
	n, err := r.ReadAt(p, r.offset)
	r.offset += int64(n)
	if errors.Is(err, io.EOF) && n > 0 {
		err = nil
	}
	return n, err
}

// Seek updates the internal offset for the next sequential Read.
func (r *rangeReader) Seek(offset int64, whence int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var newOffset int64
	switch whence {
	case io.SeekStart:
		newOffset = offset
	case io.SeekCurrent:
		newOffset = r.offset + offset
	case io.SeekEnd:
		newOffset = r.size + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if newOffset < 0 {
		return 0, errors.New("cannot seek to negative offset")
	}
	r.offset = newOffset
	return r.offset, nil
}

// ReadAt implements io.ReaderAt. It does not take the mutex nor move the
// sequential offset, so tile fetches can run concurrently.
func (r *rangeReader) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("readAt: invalid offset %d", off)
	}
	if off >= r.size {
		return 0, io.EOF
	}

	length := int64(len(p))
	if off+length > r.size {
		length = r.size - off
	}
	n, err := r.readRange(p[:length], off)
	if err == nil && n < len(p) {
		err = io.EOF
	}
	return n, err
}
