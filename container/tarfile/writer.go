package tarfile

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/tilekit/tilekit/blob"
	"github.com/tilekit/tilekit/container"
	"github.com/tilekit/tilekit/tile"
)

// Writer streams tiles into a tar archive. Tar carries no index, so tiles
// are accepted in any order and written straight through.
//
// Writer is not safe for concurrent use.
type Writer struct {
	tw     *tar.Writer
	closer io.Closer
	path   string

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

// Create creates a tar archive file at path. Abort removes the partial
// file.
func Create(path string, opts ...WriterOption) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := NewWriter(f, opts...)
	w.closer = f
	w.path = path
	return w, nil
}

// NewWriter streams a tar archive into out.
func NewWriter(out io.Writer, opts ...WriterOption) *Writer {
	w := &Writer{
		tw:     tar.NewWriter(out),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// SetMetadata records the container metadata. The format determines entry
// names, so it must be set before the first WriteTile.
func (w *Writer) SetMetadata(m container.Metadata) {
	w.meta = m
	w.metaSet = true
}

// WriteTile appends one tile entry.
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

	name := container.TilePath(c, w.meta.Format, w.meta.Compression)
	if err := w.writeEntry(name, b.Bytes()); err != nil {
		return err
	}
	w.count++
	return nil
}

func (w *Writer) writeEntry(name string, data []byte) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: time.Unix(0, 0),
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := w.tw.Write(data)
	return err
}

// Finalize appends the tiles.json entry and closes the archive.
func (w *Writer) Finalize(ctx context.Context) error {
	if w.finalized {
		return container.ErrFinalized
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(w.meta.TileJSON) > 0 {
		if err := w.writeEntry("tiles.json", w.meta.TileJSON); err != nil {
			return err
		}
	}
	if err := w.tw.Close(); err != nil {
		return err
	}
	w.finalized = true
	w.logger.Debug("finalized tar archive", "path", w.path, "tiles", w.count)
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}

// Abort discards the partial archive. If the writer owns its file the file
// is removed.
func (w *Writer) Abort() error {
	if w.finalized {
		return nil
	}
	w.finalized = true
	var err error
	if w.closer != nil {
		err = w.closer.Close()
	}
	if w.path != "" {
		if rmErr := os.Remove(w.path); rmErr != nil && err == nil {
			err = rmErr
		}
	}
	return err
}
