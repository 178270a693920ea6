// Package directory implements the tile directory container: a plain
// filesystem tree laid out as z/x/y.ext, with an optional compression
// suffix per tile file (.gz, .br) and a tiles.json next to the zoom
// directories.
//
// Directory containers are the interchange format for small tile sets and
// for debugging; every tile is a separate inspectable file.
package directory

import (
	"context"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tilekit/tilekit/blob"
	"github.com/tilekit/tilekit/container"
	"github.com/tilekit/tilekit/tile"
)

// Names probed for the metadata document, in order. Each may additionally
// carry a compression suffix.
var metadataNames = []string{"tiles.json", "metadata.json"}

// Reader provides access to a directory tree of tiles. The tree is scanned
// once at open; tile payloads are read from disk on demand.
//
// Safe for concurrent use after Open.
type Reader struct {
	root    string
	meta    container.Metadata
	tiles   map[tile.Coord]string
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

// Open scans the directory tree rooted at root. The first tile file found
// determines the container's format and compression; files that do not
// match are skipped with a warning.
func Open(root string, opts ...ReaderOption) (*Reader, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", container.ErrFormat, root)
	}

	r := &Reader{
		root:    root,
		tiles:   make(map[tile.Coord]string),
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
		return nil, fmt.Errorf("%w: no tiles under %s", container.ErrFormat, root)
	}
	if err := r.loadMetadata(); err != nil {
		return nil, err
	}
	r.logger.Debug("opened tile directory",
		"root", root,
		"format", r.meta.Format.String(),
		"compression", r.meta.Compression.String(),
		"tiles", len(r.tiles))
	return r, nil
}

func (r *Reader) scan() error {
	formatSet := false
	return filepath.WalkDir(r.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(r.root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if strings.Count(name, "/") != 2 {
			return nil // metadata and stray files live outside the z/x/y tree
		}
		c, format, compression, ok := container.ParseTilePath(name)
		if !ok {
			r.logger.Warn("skipping unrecognized file", "path", rel)
			return nil
		}
		if !formatSet {
			r.meta.Format = format
			r.meta.Compression = compression
			formatSet = true
		} else if format != r.meta.Format || compression != r.meta.Compression {
			r.logger.Warn("skipping tile with mismatched format",
				"path", rel,
				"format", format.String(),
				"compression", compression.String())
			return nil
		}
		r.tiles[c] = path
		r.pyramid.Include(c)
		return nil
	})
}

func (r *Reader) loadMetadata() error {
	for _, name := range metadataNames {
		for _, compression := range []blob.Compression{blob.CompressionNone, blob.CompressionGzip, blob.CompressionBrotli} {
			path := filepath.Join(r.root, name+compression.Ext())
			data, err := os.ReadFile(path)
			if os.IsNotExist(err) {
				continue
			}
			if err != nil {
				return err
			}
			raw, err := blob.Decompress(blob.New(data, compression))
			if err != nil {
				return fmt.Errorf("%w: %s: %v", container.ErrCorrupt, path, err)
			}
			r.meta.TileJSON = raw
			return nil
		}
	}
	return nil
}

// Name returns the directory path.
func (r *Reader) Name() string { return r.root }

// ContainerName returns "directory".
func (r *Reader) ContainerName() string { return "directory" }

// Metadata returns the metadata captured at open.
func (r *Reader) Metadata() container.Metadata { return r.meta }

// Pyramid returns the coverage found during the scan.
func (r *Reader) Pyramid() *tile.Pyramid { return r.pyramid }

// Close is a no-op; the reader holds no file handles between calls.
func (r *Reader) Close() error { return nil }

// Tile reads a single tile file from disk.
func (r *Reader) Tile(ctx context.Context, c tile.Coord) (blob.Blob, bool, error) {
	if err := ctx.Err(); err != nil {
		return blob.Blob{}, false, err
	}
	path, ok := r.tiles[c]
	if !ok {
		return blob.Blob{}, false, nil
	}
	data, err := os.ReadFile(path)
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
