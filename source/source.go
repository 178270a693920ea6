// Package source provides random-access byte sources for tile archives.
//
// A DataSource abstracts where archive bytes live: a local file, an
// in-memory buffer, or a remote file reached through HTTP range requests.
// Readers built on a DataSource only ever touch the byte ranges they need,
// which is what makes remote archive access practical.
package source

import (
	"fmt"
	"io"
)

// DataSource provides random access to archive bytes.
type DataSource interface {
	io.ReaderAt

	// Size returns the total byte length of the source.
	Size() int64

	// Name returns a human-readable identifier, e.g. the file path or URL.
	Name() string

	// Close releases the underlying handle. A DataSource is closed exactly
	// once, by the reader that owns it.
	Close() error
}

// ReadRangeFull reads exactly length bytes starting at off. The requested
// range must lie fully inside the source; a range extending past the end is
// an error, never a short read.
func ReadRangeFull(src DataSource, off, length uint64) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	end := off + length
	if end < off || end > uint64(src.Size()) {
		return nil, fmt.Errorf("source %s: range [%d,%d) outside size %d", src.Name(), off, end, src.Size())
	}
	buf := make([]byte, length)
	n, err := src.ReadAt(buf, int64(off))
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("source %s: read range [%d,%d): %w", src.Name(), off, end, err)
	}
	if uint64(n) != length {
		return nil, fmt.Errorf("source %s: short read (%d of %d bytes)", src.Name(), n, length)
	}
	return buf, nil
}
