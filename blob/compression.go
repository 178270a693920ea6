package blob

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
)

// Compression identifies the compression scheme of a tile blob.
//
// The numeric values are part of the binary container format and must not
// be reordered.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionBrotli
)

// Sentinel errors.
var (
	// ErrDecompress is returned when a compressed stream cannot be decoded.
	// It indicates corrupt stored bytes, not a caller mistake.
	ErrDecompress = errors.New("blob: decompression failed")

	// ErrUnsupported is returned when a caller requests a compression scheme
	// this package does not implement.
	ErrUnsupported = errors.New("blob: unsupported compression")
)

// Brotli encoder parameters. The slow profile matches the parameters used by
// interoperable archive writers; the fast profile is for index blobs where
// encode latency matters more than ratio.
const (
	brotliQuality     = 10
	brotliWindow      = 19
	brotliFastQuality = 3
	brotliFastWindow  = 16
)

// String returns the canonical name of the compression scheme.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionGzip:
		return "gzip"
	case CompressionBrotli:
		return "brotli"
	default:
		return "unknown"
	}
}

// Ext returns the filename suffix used for tiles stored with this
// compression, e.g. ".br" for brotli. Uncompressed tiles have no suffix.
func (c Compression) Ext() string {
	switch c {
	case CompressionGzip:
		return ".gz"
	case CompressionBrotli:
		return ".br"
	default:
		return ""
	}
}

// ContentEncoding returns the HTTP Content-Encoding token for the scheme,
// or "" for uncompressed content.
func (c Compression) ContentEncoding() string {
	switch c {
	case CompressionGzip:
		return "gzip"
	case CompressionBrotli:
		return "br"
	default:
		return ""
	}
}

// ParseCompression converts a user-supplied name into a Compression.
// Accepted names: "none", "raw", "gzip", "br", "brotli".
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "none", "raw", "":
		return CompressionNone, nil
	case "gzip", "gz":
		return CompressionGzip, nil
	case "brotli", "br":
		return CompressionBrotli, nil
	default:
		return CompressionNone, fmt.Errorf("%w: %q", ErrUnsupported, s)
	}
}

// Compress encodes data with the given scheme and returns the resulting Blob.
// The input slice is not retained for gzip/brotli; for CompressionNone the
// returned Blob aliases data.
func Compress(data []byte, c Compression) (Blob, error) {
	switch c {
	case CompressionNone:
		return Blob{data: data, compression: CompressionNone}, nil
	case CompressionGzip:
		buf, err := compressGzip(data)
		if err != nil {
			return Blob{}, err
		}
		return Blob{data: buf, compression: CompressionGzip}, nil
	case CompressionBrotli:
		buf, err := compressBrotli(data, brotliQuality, brotliWindow)
		if err != nil {
			return Blob{}, err
		}
		return Blob{data: buf, compression: CompressionBrotli}, nil
	default:
		return Blob{}, fmt.Errorf("%w: %d", ErrUnsupported, c)
	}
}

// CompressFast is Compress with encoder parameters tuned for speed.
// It is used for index blobs that are rewritten on every archive build.
func CompressFast(data []byte, c Compression) (Blob, error) {
	if c != CompressionBrotli {
		return Compress(data, c)
	}
	buf, err := compressBrotli(data, brotliFastQuality, brotliFastWindow)
	if err != nil {
		return Blob{}, err
	}
	return Blob{data: buf, compression: CompressionBrotli}, nil
}

// Decompress returns the raw bytes of b. For uncompressed blobs the returned
// slice aliases the blob's buffer.
func Decompress(b Blob) ([]byte, error) {
	switch b.compression {
	case CompressionNone:
		return b.data, nil
	case CompressionGzip:
		return decompressGzip(b.data)
	case CompressionBrotli:
		return decompressBrotli(b.data)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupported, b.compression)
	}
}

// Recompress converts b to the target compression. If b already carries the
// target compression the blob is returned unchanged without re-encoding.
func Recompress(b Blob, target Compression) (Blob, error) {
	if b.compression == target {
		return b, nil
	}
	raw, err := Decompress(b)
	if err != nil {
		return Blob{}, err
	}
	return Compress(raw, target)
}

func compressGzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressGzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompress, err)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompress, err)
	}
	if err := r.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompress, err)
	}
	return raw, nil
}

func compressBrotli(data []byte, quality, window int) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterOptions(&buf, brotli.WriterOptions{
		Quality: quality,
		LGWin:   window,
	})
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressBrotli(data []byte) ([]byte, error) {
	raw, err := io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompress, err)
	}
	return raw, nil
}
