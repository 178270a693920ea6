package versatiles

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sort"

	"github.com/tilekit/tilekit/blob"
	"github.com/tilekit/tilekit/container"
	"github.com/tilekit/tilekit/tile"
)

// Writer builds a binary container in a single forward pass. Tiles are
// buffered per zoom level and cut into blocks when the zoom completes, so
// within one zoom tiles may arrive in any order. Writing to a zoom that has
// already been flushed fails with ErrOrder.
//
// Writer is not safe for concurrent use.
type Writer struct {
	w      io.WriteSeeker
	closer io.Closer
	path   string

	offset  uint64
	meta    container.Metadata
	metaSet bool

	curZoom int
	tiles   map[tile.Coord]blob.Blob
	blocks  *blockIndex

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

// Create creates an archive file at path. Abort removes the partial file.
func Create(path string, opts ...WriterOption) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f, opts...)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	w.closer = f
	w.path = path
	return w, nil
}

// NewWriter builds an archive into w, which must support seeking back to
// rewrite the header at Finalize. A placeholder header is written
// immediately.
func NewWriter(w io.WriteSeeker, opts ...WriterOption) (*Writer, error) {
	bw := &Writer{
		w:       w,
		curZoom: -1,
		tiles:   make(map[tile.Coord]blob.Blob),
		blocks:  newBlockIndex(),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(bw)
	}
	if err := bw.write(header{}.encode()); err != nil {
		return nil, err
	}
	return bw, nil
}

func (w *Writer) write(p []byte) error {
	n, err := w.w.Write(p)
	w.offset += uint64(n)
	return err
}

// SetMetadata records the container metadata written at Finalize. Later
// calls replace earlier ones.
func (w *Writer) SetMetadata(m container.Metadata) {
	w.meta = m
	w.metaSet = true
}

// WriteTile adds one tile. Tiles must arrive in ascending zoom order across
// zoom levels; within a zoom any order is accepted. Writing the same
// coordinate twice replaces the earlier payload.
func (w *Writer) WriteTile(ctx context.Context, c tile.Coord, b blob.Blob) error {
	if w.finalized {
		return container.ErrFinalized
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.Valid() {
		return fmt.Errorf("%w: coordinate %s", container.ErrConfig, c)
	}
	if w.metaSet && b.Compression() != w.meta.Compression {
		return fmt.Errorf("%w: tile %s is %s-compressed, archive is %s",
			container.ErrConfig, c, b.Compression(), w.meta.Compression)
	}
	z := int(c.Z)
	if w.curZoom >= 0 && z < w.curZoom {
		return fmt.Errorf("%w: tile %s after zoom %d was flushed", container.ErrOrder, c, w.curZoom)
	}
	if z > w.curZoom {
		if err := w.flushZoom(); err != nil {
			return err
		}
		w.curZoom = z
	}
	w.tiles[c] = b
	return nil
}

// flushZoom cuts the buffered tiles of the current zoom into blocks and
// writes each block's data followed by its compressed tile index.
func (w *Writer) flushZoom() error {
	if len(w.tiles) == 0 {
		return nil
	}

	grouped := make(map[blockKey][]tile.Coord)
	for c := range w.tiles {
		k := blockKeyFor(c)
		grouped[k] = append(grouped[k], c)
	}
	keys := make([]blockKey, 0, len(grouped))
	for k := range grouped {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].y != keys[j].y {
			return keys[i].y < keys[j].y
		}
		return keys[i].x < keys[j].x
	})

	for _, k := range keys {
		if err := w.writeBlock(k, grouped[k]); err != nil {
			return err
		}
	}
	w.tiles = make(map[tile.Coord]blob.Blob)
	return nil
}

func (w *Writer) writeBlock(k blockKey, coords []tile.Coord) error {
	bbox := tile.EmptyBBox(k.z)
	for _, c := range coords {
		bbox = bbox.Include(c)
	}

	dataStart := w.offset
	spans := make(tileIndex, bbox.Count())
	for c := range bbox.Coords() {
		b, ok := w.tiles[c]
		if !ok {
			continue
		}
		spans[bbox.Index(c)] = tileSpan{
			offset: w.offset - dataStart,
			length: uint32(b.Len()),
		}
		if err := w.write(b.Bytes()); err != nil {
			return err
		}
	}
	dataLen := w.offset - dataStart

	idx, err := spans.encode()
	if err != nil {
		return err
	}
	if err := w.write(idx); err != nil {
		return err
	}

	w.blocks.add(blockDef{
		key:         k,
		bbox:        bbox,
		dataSpan:    span{offset: dataStart, length: dataLen},
		indexLength: uint32(len(idx)),
	})
	return nil
}

// Finalize flushes the last zoom, writes the metadata blob and the block
// index, and rewrites the header with the final spans and bounds. The
// writer's file handle, if it owns one, is closed.
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
	if err := w.flushZoom(); err != nil {
		return err
	}

	h := header{
		format:      w.meta.Format,
		compression: w.meta.Compression,
	}

	if len(w.meta.TileJSON) > 0 {
		compressed, err := blob.Compress(w.meta.TileJSON, w.meta.Compression)
		if err != nil {
			return err
		}
		h.metaSpan = span{offset: w.offset, length: uint64(compressed.Len())}
		if err := w.write(compressed.Bytes()); err != nil {
			return err
		}
	}

	idx, err := w.blocks.encode()
	if err != nil {
		return err
	}
	h.blockSpan = span{offset: w.offset, length: uint64(len(idx))}
	if err := w.write(idx); err != nil {
		return err
	}

	pyramid := w.blocks.pyramid()
	if zMin, ok := pyramid.ZoomMin(); ok {
		zMax, _ := pyramid.ZoomMax()
		h.zoomMin, h.zoomMax = zMin, zMax
		lonMin, latMin, lonMax, latMax, _ := pyramid.GeoBounds()
		h.bbox = [4]int32{scaleDeg(lonMin), scaleDeg(latMin), scaleDeg(lonMax), scaleDeg(latMax)}
	}

	if _, err := w.w.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := w.w.Write(h.encode()); err != nil {
		return err
	}

	w.finalized = true
	w.logger.Debug("finalized archive",
		"path", w.path,
		"blocks", w.blocks.len(),
		"bytes", w.offset)
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
	w.tiles = nil
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

// scaleDeg converts degrees to the header's fixed-point representation.
func scaleDeg(v float64) int32 {
	return int32(math.Round(v * 1e7))
}
