package directory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tilekit/tilekit/blob"
	"github.com/tilekit/tilekit/container"
	"github.com/tilekit/tilekit/tile"
)

// Writer materializes tiles as files under a directory root. Tiles may
// arrive in any order; each write creates its z/x directory as needed.
//
// Writer is not safe for concurrent use.
type Writer struct {
	root      string
	meta      container.Metadata
	metaSet   bool
	count     uint64
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

// Create prepares root as the output directory. The directory must not
// exist yet or must be empty; Abort removes it entirely.
func Create(root string, opts ...WriterOption) (*Writer, error) {
	if entries, err := os.ReadDir(root); err == nil && len(entries) > 0 {
		return nil, fmt.Errorf("%w: output directory %s is not empty", container.ErrConfig, root)
	} else if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}

	w := &Writer{root: root, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// SetMetadata records the container metadata. The format determines tile
// filenames, so it must be set before the first WriteTile.
func (w *Writer) SetMetadata(m container.Metadata) {
	w.meta = m
	w.metaSet = true
}

// WriteTile writes one tile file. The filename carries the format extension
// plus a compression suffix for compressed tiles.
func (w *Writer) WriteTile(ctx context.Context, c tile.Coord, b blob.Blob) error {
	if w.finalized {
		return container.ErrFinalized
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !w.metaSet {
		return fmt.Errorf("%w: metadata must be set before writing tiles", container.ErrConfig)
	}
	if !c.Valid() {
		return fmt.Errorf("%w: coordinate %s", container.ErrConfig, c)
	}
	if b.Compression() != w.meta.Compression {
		return fmt.Errorf("%w: tile %s is %s-compressed, container is %s",
			container.ErrConfig, c, b.Compression(), w.meta.Compression)
	}

	path := filepath.Join(w.root, filepath.FromSlash(container.TilePath(c, w.meta.Format, w.meta.Compression)))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, b.Bytes(), 0o644); err != nil {
		return err
	}
	w.count++
	return nil
}

// Finalize writes the tiles.json document and seals the writer.
func (w *Writer) Finalize(ctx context.Context) error {
	if w.finalized {
		return container.ErrFinalized
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(w.meta.TileJSON) > 0 {
		if err := os.WriteFile(filepath.Join(w.root, "tiles.json"), w.meta.TileJSON, 0o644); err != nil {
			return err
		}
	}
	w.finalized = true
	w.logger.Debug("finalized tile directory", "root", w.root, "tiles", w.count)
	return nil
}

// Abort removes the output directory and everything written into it.
func (w *Writer) Abort() error {
	if w.finalized {
		return nil
	}
	w.finalized = true
	return os.RemoveAll(w.root)
}
