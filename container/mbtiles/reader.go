// Package mbtiles implements the MBTiles container: tiles in a SQLite
// database, rows addressed in the TMS scheme (row 0 at the south edge), and
// a key/value metadata table.
//
// Vector tiles are conventionally stored gzip-compressed in MBTiles; the
// reader sniffs the first tile instead of trusting convention.
package mbtiles

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tilekit/tilekit/blob"
	"github.com/tilekit/tilekit/container"
	"github.com/tilekit/tilekit/tile"
)

var gzipMagic = []byte{0x1f, 0x8b}

// flipRow converts between XYZ y and TMS tile_row; the mapping is its own
// inverse.
func flipRow(z uint8, y uint32) uint32 {
	return (uint32(1) << z) - 1 - y
}

// Reader provides access to an MBTiles database.
//
// Safe for concurrent use; database/sql pools connections internally.
type Reader struct {
	db      *sql.DB
	path    string
	meta    container.Metadata
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

// Open opens an MBTiles file read-only.
func Open(path string, opts ...ReaderOption) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, err
	}

	r := &Reader{
		db:      db,
		path:    path,
		pyramid: tile.NewPyramid(),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := r.load(); err != nil {
		db.Close()
		return nil, err
	}
	r.logger.Debug("opened mbtiles database",
		"path", path,
		"format", r.meta.Format.String(),
		"compression", r.meta.Compression.String(),
		"tiles", r.pyramid.Count())
	return r, nil
}

func (r *Reader) load() error {
	meta, err := r.readMetadataTable()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", container.ErrFormat, r.path, err)
	}

	formatName, ok := meta["format"]
	if !ok {
		return fmt.Errorf("%w: %s has no format in its metadata table", container.ErrFormat, r.path)
	}
	format, err := tile.ParseFormat(formatName)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", container.ErrFormat, r.path, err)
	}
	r.meta.Format = format

	if jsonValue, ok := meta["json"]; ok {
		r.meta.TileJSON = []byte(jsonValue)
	} else {
		doc, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		r.meta.TileJSON = doc
	}

	if err := r.scanPyramid(); err != nil {
		return err
	}

	r.meta.Compression, err = r.sniffCompression()
	return err
}

func (r *Reader) readMetadataTable() (map[string]string, error) {
	rows, err := r.db.Query(`SELECT name, value FROM metadata`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		meta[name] = value
	}
	return meta, rows.Err()
}

func (r *Reader) scanPyramid() error {
	rows, err := r.db.Query(`
		SELECT zoom_level,
		       MIN(tile_column), MAX(tile_column),
		       MIN(tile_row), MAX(tile_row)
		FROM tiles GROUP BY zoom_level`)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", container.ErrFormat, r.path, err)
	}
	defer rows.Close()

	for rows.Next() {
		var z uint8
		var xMin, xMax, rowMin, rowMax uint32
		if err := rows.Scan(&z, &xMin, &xMax, &rowMin, &rowMax); err != nil {
			return err
		}
		if z > tile.MaxZoom {
			return fmt.Errorf("%w: zoom level %d in %s", container.ErrCorrupt, z, r.path)
		}
		// The row flip swaps which end of the range is the minimum.
		bbox, err := tile.NewBBox(z, xMin, flipRow(z, rowMax), xMax, flipRow(z, rowMin))
		if err != nil {
			return fmt.Errorf("%w: %s: %v", container.ErrCorrupt, r.path, err)
		}
		r.pyramid.SetLevel(bbox)
	}
	return rows.Err()
}

// sniffCompression inspects one stored tile. Gzip is the only compression
// seen in the wild for MBTiles.
func (r *Reader) sniffCompression() (blob.Compression, error) {
	var data []byte
	err := r.db.QueryRow(`SELECT tile_data FROM tiles LIMIT 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return blob.CompressionNone, nil
	}
	if err != nil {
		return blob.CompressionNone, err
	}
	if bytes.HasPrefix(data, gzipMagic) {
		return blob.CompressionGzip, nil
	}
	return blob.CompressionNone, nil
}

// Name returns the database path.
func (r *Reader) Name() string { return r.path }

// ContainerName returns "mbtiles".
func (r *Reader) ContainerName() string { return "mbtiles" }

// Metadata returns the metadata captured at open.
func (r *Reader) Metadata() container.Metadata { return r.meta }

// Pyramid returns the per-zoom coverage. MBTiles stores only per-zoom
// extremes, so the boxes may overestimate sparse coverage; absent tiles
// inside a box still return ok == false from Tile.
func (r *Reader) Pyramid() *tile.Pyramid { return r.pyramid }

// Close closes the database.
func (r *Reader) Close() error { return r.db.Close() }

// Tile looks up one tile.
func (r *Reader) Tile(ctx context.Context, c tile.Coord) (blob.Blob, bool, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT tile_data FROM tiles
		WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`,
		c.Z, c.X, flipRow(c.Z, c.Y)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return blob.Blob{}, false, nil
	}
	if err != nil {
		return blob.Blob{}, false, err
	}
	return blob.New(data, r.meta.Compression), true, nil
}

// Tiles enumerates the present tiles inside bbox in row-major order.
func (r *Reader) Tiles(ctx context.Context, bbox tile.BBox) iter.Seq2[container.TileEntry, error] {
	return func(yield func(container.TileEntry, error) bool) {
		if bbox.IsEmpty() {
			return
		}
		rows, err := r.db.QueryContext(ctx, `
			SELECT tile_column, tile_row, tile_data FROM tiles
			WHERE zoom_level = ?
			  AND tile_column BETWEEN ? AND ?
			  AND tile_row BETWEEN ? AND ?
			ORDER BY tile_row DESC, tile_column ASC`,
			bbox.Z, bbox.XMin, bbox.XMax,
			flipRow(bbox.Z, bbox.YMax), flipRow(bbox.Z, bbox.YMin))
		if err != nil {
			yield(container.TileEntry{}, err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			var x, row uint32
			var data []byte
			if err := rows.Scan(&x, &row, &data); err != nil {
				yield(container.TileEntry{}, err)
				return
			}
			entry := container.TileEntry{
				Coord: tile.Coord{Z: bbox.Z, X: x, Y: flipRow(bbox.Z, row)},
				Blob:  blob.New(data, r.meta.Compression),
			}
			if !yield(entry, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(container.TileEntry{}, err)
		}
	}
}
