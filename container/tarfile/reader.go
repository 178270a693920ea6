// Package tarfile implements the tar tile container: an uncompressed tar
// archive holding the same z/x/y tree as a tile directory. A tar file is a
// single artifact that still allows random tile access, because the scan at
// open records the byte offset of every entry.
package tarfile

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"path"

	"github.com/tilekit/tilekit/blob"
	"github.com/tilekit/tilekit/container"
	"github.com/tilekit/tilekit/source"
	"github.com/tilekit/tilekit/tile"
)

type span struct {
	offset uint64
	length uint64
}

// Reader provides random access to tiles inside a tar archive. The archive
// is walked once at open to build an in-memory offset table; tile payloads
// are then read directly from the underlying source.
//
// Safe for concurrent use after open.
type Reader struct {
	src     source.DataSource
	meta    container.Metadata
	tiles   map[tile.Coord]span
	pyramid *tile.Pyramid
	logger  *slog.Logger
}

var _ container.Reader = (*Reader)(nil)

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithLogger sets the logger for diagnostics. Defaults to a discard logger.
func WithLogger(logger *slog.Logger) ReaderOption {
	return func(r *Reader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Open opens a local tar archive.
func Open(p string, opts ...ReaderOption) (*Reader, error) {
	src, err := source.OpenFile(p)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(src, opts...)
	if err != nil {
		src.Close()
		return nil, err
	}
	return r, nil
}

// NewReader scans the tar archive backed by src. The reader takes ownership
// of src.
func NewReader(src source.DataSource, opts ...ReaderOption) (*Reader, error) {
	r := &Reader{
		src:     src,
		tiles:   make(map[tile.Coord]span),
		pyramid: tile.NewPyramid(),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.scan(); err != nil {
		return nil, err
	}
	if len(r.tiles) == 0 {
		return nil, fmt.Errorf("%w: no tiles in %s", container.ErrFormat, src.Name())
	}
	r.logger.Debug("scanned tar archive",
		"name", src.Name(),
		"format", r.meta.Format.String(),
		"compression", r.meta.Compression.String(),
		"tiles", len(r.tiles))
	return r, nil
}

// scan walks every tar entry. The counting reader tracks how many bytes the
// tar decoder has consumed; right after Next returns, that count is exactly
// the data offset of the current entry.
func (r *Reader) scan() error {
	cr := &countingReader{r: io.NewSectionReader(r.src, 0, r.src.Size())}
	tr := tar.NewReader(cr)

	formatSet := false
	var metaJSON []byte
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %s: %v", container.ErrFormat, r.src.Name(), err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		name := path.Clean(hdr.Name)
		if isMetadataName(name) {
			if metaJSON == nil {
				metaJSON, err = readMetadataEntry(tr, name)
				if err != nil {
					return err
				}
			}
			continue
		}

		c, format, compression, ok := container.ParseTilePath(name)
		if !ok {
			r.logger.Warn("skipping unrecognized tar entry", "name", hdr.Name)
			continue
		}
		if !formatSet {
			r.meta.Format = format
			r.meta.Compression = compression
			formatSet = true
		} else if format != r.meta.Format || compression != r.meta.Compression {
			r.logger.Warn("skipping tar entry with mismatched format", "name", hdr.Name)
			continue
		}
		r.tiles[c] = span{offset: cr.count, length: uint64(hdr.Size)}
		r.pyramid.Include(c)
	}
	r.meta.TileJSON = metaJSON
	return nil
}

func isMetadataName(name string) bool {
	switch name {
	case "tiles.json", "tiles.json.gz", "tiles.json.br",
		"metadata.json", "metadata.json.gz", "metadata.json.br":
		return true
	}
	return false
}

func readMetadataEntry(tr *tar.Reader, name string) ([]byte, error) {
	data, err := io.ReadAll(tr)
	if err != nil {
		return nil, err
	}
	compression := blob.CompressionNone
	switch path.Ext(name) {
	case ".gz":
		compression = blob.CompressionGzip
	case ".br":
		compression = blob.CompressionBrotli
	}
	raw, err := blob.Decompress(blob.New(data, compression))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", container.ErrCorrupt, name, err)
	}
	return raw, nil
}

// countingReader counts the bytes its consumer has read so far.
type countingReader struct {
	r     io.Reader
	count uint64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.count += uint64(n)
	return n, err
}

// Name returns the archive path.
func (r *Reader) Name() string { return r.src.Name() }

// ContainerName returns "tar".
func (r *Reader) ContainerName() string { return "tar" }

// Metadata returns the metadata captured during the scan.
func (r *Reader) Metadata() container.Metadata { return r.meta }

// Pyramid returns the coverage found during the scan.
func (r *Reader) Pyramid() *tile.Pyramid { return r.pyramid }

// Close releases the underlying source.
func (r *Reader) Close() error { return r.src.Close() }

// Tile reads a single tile payload from the archive.
func (r *Reader) Tile(ctx context.Context, c tile.Coord) (blob.Blob, bool, error) {
	if err := ctx.Err(); err != nil {
		return blob.Blob{}, false, err
	}
	s, ok := r.tiles[c]
	if !ok {
		return blob.Blob{}, false, nil
	}
	data, err := source.ReadRangeFull(r.src, s.offset, s.length)
	if err != nil {
		return blob.Blob{}, false, err
	}
	return blob.New(data, r.meta.Compression), true, nil
}

// Tiles enumerates the present tiles inside bbox in row-major order.
func (r *Reader) Tiles(ctx context.Context, bbox tile.BBox) iter.Seq2[container.TileEntry, error] {
	return func(yield func(container.TileEntry, error) bool) {
		level, ok := r.pyramid.Level(bbox.Z)
		if !ok {
			return
		}
		for c := range bbox.Intersect(level).Coords() {
			if _, present := r.tiles[c]; !present {
				continue
			}
			b, ok, err := r.Tile(ctx, c)
			if err != nil {
				yield(container.TileEntry{}, err)
				return
			}
			if !ok {
				continue
			}
			if !yield(container.TileEntry{Coord: c, Blob: b}, nil) {
				return
			}
		}
	}
}
