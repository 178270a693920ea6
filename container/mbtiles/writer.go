package mbtiles

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/tilekit/tilekit/blob"
	"github.com/tilekit/tilekit/container"
	"github.com/tilekit/tilekit/tile"
)

// Writer builds an MBTiles database. All tile inserts run in one
// transaction committed at Finalize, so an aborted build leaves no
// half-written database behind.
//
// Writer is not safe for concurrent use.
type Writer struct {
	db   *sql.DB
	tx   *sql.Tx
	ins  *sql.Stmt
	path string

	meta      container.Metadata
	metaSet   bool
	pyramid   *tile.Pyramid
	finalized bool
	logger    *slog.Logger
}

var _ container.Writer = (*Writer)(nil)

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithWriterLogger sets the logger for diagnostics. Defaults to a discard
// logger.
func WithWriterLogger(logger *slog.Logger) WriterOption {
	return func(w *Writer) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// Create creates an MBTiles file at path. The file must not exist yet.
func Create(path string, opts ...WriterOption) (*Writer, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%w: %s already exists", container.ErrConfig, path)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	w := &Writer{
		db:      db,
		path:    path,
		pyramid: tile.NewPyramid(),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := w.init(); err != nil {
		db.Close()
		os.Remove(path)
		return nil, err
	}
	return w, nil
}

func (w *Writer) init() error {
	_, err := w.db.Exec(`
		CREATE TABLE metadata (name TEXT, value TEXT);
		CREATE TABLE tiles (
			zoom_level INTEGER,
			tile_column INTEGER,
			tile_row INTEGER,
			tile_data BLOB
		);
		CREATE UNIQUE INDEX tile_index ON tiles (zoom_level, tile_column, tile_row);`)
	if err != nil {
		return err
	}
	w.tx, err = w.db.Begin()
	if err != nil {
		return err
	}
	w.ins, err = w.tx.Prepare(`
		INSERT OR REPLACE INTO tiles (zoom_level, tile_column, tile_row, tile_data)
		VALUES (?, ?, ?, ?)`)
	return err
}

// SetMetadata records the container metadata written at Finalize.
func (w *Writer) SetMetadata(m container.Metadata) {
	w.meta = m
	w.metaSet = true
}

// WriteTile inserts one tile. MBTiles cannot express brotli compression, so
// brotli-tagged blobs are rejected.
func (w *Writer) WriteTile(ctx context.Context, c tile.Coord, b blob.Blob) error {
	if w.finalized {
		return container.ErrFinalized
	}
	if !c.Valid() {
		return fmt.Errorf("%w: coordinate %s", container.ErrConfig, c)
	}
	if b.Compression() == blob.CompressionBrotli {
		return fmt.Errorf("%w: mbtiles cannot store brotli tiles", container.ErrConfig)
	}
	if w.metaSet && b.Compression() != w.meta.Compression {
		return fmt.Errorf("%w: tile %s is %s-compressed, container is %s",
			container.ErrConfig, c, b.Compression(), w.meta.Compression)
	}

	if _, err := w.ins.ExecContext(ctx, c.Z, c.X, flipRow(c.Z, c.Y), b.Bytes()); err != nil {
		return err
	}
	w.pyramid.Include(c)
	return nil
}

// Finalize writes the metadata table, commits the tile transaction, and
// closes the database.
func (w *Writer) Finalize(ctx context.Context) error {
	if w.finalized {
		return container.ErrFinalized
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !w.metaSet {
		return fmt.Errorf("%w: metadata not set before finalize", container.ErrConfig)
	}

	for name, value := range w.metadataRows() {
		if _, err := w.tx.ExecContext(ctx, `INSERT INTO metadata (name, value) VALUES (?, ?)`, name, value); err != nil {
			return err
		}
	}
	if err := w.tx.Commit(); err != nil {
		return err
	}
	w.finalized = true
	w.logger.Debug("finalized mbtiles database", "path", w.path, "tiles", w.pyramid.Count())
	return w.db.Close()
}

func (w *Writer) metadataRows() map[string]string {
	rows := map[string]string{
		"format": w.meta.Format.String(),
		"type":   "baselayer",
	}
	if len(w.meta.TileJSON) > 0 {
		rows["json"] = string(w.meta.TileJSON)
	}
	if zMin, ok := w.pyramid.ZoomMin(); ok {
		zMax, _ := w.pyramid.ZoomMax()
		rows["minzoom"] = strconv.Itoa(int(zMin))
		rows["maxzoom"] = strconv.Itoa(int(zMax))
	}
	if lonMin, latMin, lonMax, latMax, ok := w.pyramid.GeoBounds(); ok {
		rows["bounds"] = fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", lonMin, latMin, lonMax, latMax)
	}
	return rows
}

// Abort rolls back the tile transaction and removes the database file.
func (w *Writer) Abort() error {
	if w.finalized {
		return nil
	}
	w.finalized = true
	err := w.tx.Rollback()
	if closeErr := w.db.Close(); err == nil {
		err = closeErr
	}
	if rmErr := os.Remove(w.path); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}
