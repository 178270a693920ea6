package versatiles

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sort"

	"golang.org/x/sync/singleflight"

	"github.com/tilekit/tilekit/blob"
	"github.com/tilekit/tilekit/cache"
	"github.com/tilekit/tilekit/container"
	"github.com/tilekit/tilekit/source"
	"github.com/tilekit/tilekit/tile"
)

const (
	// defaultIndexCacheSize bounds the decoded tile indexes kept in memory.
	defaultIndexCacheSize = 64 << 20

	// Tiles requested together are read in merged ranges. A gap below
	// maxChunkGap is cheaper to read through than to split into a second
	// request; maxChunkSize caps the buffer held per read.
	maxChunkSize = 64 << 20
	maxChunkGap  = 32 << 10
)

// Reader provides random access to a binary container backed by any
// DataSource. The block index is loaded at open; per-block tile indexes are
// fetched lazily and kept in a bounded LRU.
//
// Safe for concurrent use.
type Reader struct {
	src     source.DataSource
	header  header
	meta    container.Metadata
	blocks  *blockIndex
	pyramid *tile.Pyramid

	indexes   *cache.LRU[blockKey, tileIndex]
	indexLoad singleflight.Group

	logger *slog.Logger
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

// WithIndexCacheSize bounds the decoded tile index cache in bytes.
func WithIndexCacheSize(size int64) ReaderOption {
	return func(r *Reader) {
		r.indexes = cache.NewLRU[blockKey, tileIndex](size)
	}
}

// Open opens a local archive file.
func Open(path string, opts ...ReaderOption) (*Reader, error) {
	src, err := source.OpenFile(path)
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

// NewReader opens an archive backed by src. The reader takes ownership of
// src and closes it on Close.
func NewReader(src source.DataSource, opts ...ReaderOption) (*Reader, error) {
	r := &Reader{
		src:     src,
		indexes: cache.NewLRU[blockKey, tileIndex](defaultIndexCacheSize),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}

	if src.Size() < headerSize {
		return nil, fmt.Errorf("%w: %s is too small (%d bytes)", container.ErrFormat, src.Name(), src.Size())
	}
	buf, err := source.ReadRangeFull(src, 0, headerSize)
	if err != nil {
		return nil, err
	}
	r.header, err = decodeHeader(buf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", src.Name(), err)
	}

	meta, err := r.loadMetadata()
	if err != nil {
		return nil, err
	}
	r.meta = meta

	r.blocks, err = r.loadBlockIndex()
	if err != nil {
		return nil, err
	}
	r.pyramid = r.blocks.pyramid()

	r.logger.Debug("opened archive",
		"name", src.Name(),
		"format", r.header.format.String(),
		"compression", r.header.compression.String(),
		"blocks", r.blocks.len(),
		"tiles", r.pyramid.Count())
	return r, nil
}

func (r *Reader) loadMetadata() (container.Metadata, error) {
	meta := container.Metadata{
		Format:      r.header.format,
		Compression: r.header.compression,
	}
	if r.header.metaSpan.isZero() {
		return meta, nil
	}
	if err := r.checkSpan(r.header.metaSpan, "metadata"); err != nil {
		return container.Metadata{}, err
	}
	data, err := source.ReadRangeFull(r.src, r.header.metaSpan.offset, r.header.metaSpan.length)
	if err != nil {
		return container.Metadata{}, err
	}
	raw, err := blob.Decompress(blob.New(data, r.header.compression))
	if err != nil {
		return container.Metadata{}, fmt.Errorf("%w: metadata: %v", container.ErrCorrupt, err)
	}
	meta.TileJSON = raw
	return meta, nil
}

func (r *Reader) loadBlockIndex() (*blockIndex, error) {
	if r.header.blockSpan.isZero() {
		return newBlockIndex(), nil
	}
	if err := r.checkSpan(r.header.blockSpan, "block index"); err != nil {
		return nil, err
	}
	data, err := source.ReadRangeFull(r.src, r.header.blockSpan.offset, r.header.blockSpan.length)
	if err != nil {
		return nil, err
	}
	return decodeBlockIndex(data)
}

// checkSpan guards every index-derived byte range before it is read, so a
// corrupt archive surfaces as ErrCorrupt instead of a panic or a garbage
// read.
func (r *Reader) checkSpan(s span, what string) error {
	end := s.offset + s.length
	if end < s.offset || end > uint64(r.src.Size()) {
		return fmt.Errorf("%w: %s range [%d,%d) outside archive of %d bytes",
			container.ErrCorrupt, what, s.offset, end, r.src.Size())
	}
	return nil
}

// Name returns the source identifier.
func (r *Reader) Name() string { return r.src.Name() }

// ContainerName returns "versatiles".
func (r *Reader) ContainerName() string { return "versatiles" }

// Metadata returns the container metadata captured at open.
func (r *Reader) Metadata() container.Metadata { return r.meta }

// Pyramid returns the per-zoom coverage derived from the block index.
func (r *Reader) Pyramid() *tile.Pyramid { return r.pyramid }

// Close releases the underlying source.
func (r *Reader) Close() error { return r.src.Close() }

// Tile looks up a single tile. Absent tiles return ok == false; offsets
// pointing outside the archive fail with ErrCorrupt.
func (r *Reader) Tile(ctx context.Context, c tile.Coord) (blob.Blob, bool, error) {
	if err := ctx.Err(); err != nil {
		return blob.Blob{}, false, err
	}
	def, ok := r.blocks.get(blockKeyFor(c))
	if !ok || !def.bbox.Contains(c) {
		return blob.Blob{}, false, nil
	}
	ti, err := r.tileIndexFor(def)
	if err != nil {
		return blob.Blob{}, false, err
	}
	ts := ti[def.bbox.Index(c)]
	if ts.length == 0 {
		return blob.Blob{}, false, nil
	}
	if ts.offset+uint64(ts.length) > def.dataSpan.length {
		return blob.Blob{}, false, fmt.Errorf("%w: tile %s spans [%d,%d) outside its block of %d bytes",
			container.ErrCorrupt, c, ts.offset, ts.offset+uint64(ts.length), def.dataSpan.length)
	}
	data, err := source.ReadRangeFull(r.src, def.dataSpan.offset+ts.offset, uint64(ts.length))
	if err != nil {
		return blob.Blob{}, false, err
	}
	return blob.New(data, r.header.compression), true, nil
}

// tileIndexFor returns the decoded tile index of def, loading it at most
// once per block across concurrent callers.
func (r *Reader) tileIndexFor(def blockDef) (tileIndex, error) {
	if ti, ok := r.indexes.Get(def.key); ok {
		return ti, nil
	}
	key := fmt.Sprintf("%d/%d/%d", def.key.z, def.key.x, def.key.y)
	v, err, _ := r.indexLoad.Do(key, func() (any, error) {
		if ti, ok := r.indexes.Get(def.key); ok {
			return ti, nil
		}
		is := def.indexSpan()
		if err := r.checkSpan(is, "tile index"); err != nil {
			return nil, err
		}
		data, err := source.ReadRangeFull(r.src, is.offset, is.length)
		if err != nil {
			return nil, err
		}
		ti, err := decodeTileIndex(data, def.bbox.Count())
		if err != nil {
			return nil, err
		}
		r.indexes.Add(def.key, ti, int64(len(ti))*tileIndexEntrySize)
		return ti, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(tileIndex), nil
}

// Tiles enumerates present tiles inside bbox, block by block. Within each
// block, tile payloads close together in the archive are fetched as one
// merged range read.
func (r *Reader) Tiles(ctx context.Context, bbox tile.BBox) iter.Seq2[container.TileEntry, error] {
	return func(yield func(container.TileEntry, error) bool) {
		blockRange := bbox.ScaleDown(blockEdge)
		for bc := range blockRange.Coords() {
			def, ok := r.blocks.get(blockKey{z: bc.Z, x: bc.X, y: bc.Y})
			if !ok {
				continue
			}
			used := bbox.Intersect(def.bbox)
			if used.IsEmpty() {
				continue
			}
			if err := ctx.Err(); err != nil {
				yield(container.TileEntry{}, err)
				return
			}
			if !r.streamBlock(def, used, yield) {
				return
			}
		}
	}
}

// streamBlock yields the present tiles of one block restricted to used, in
// row-major order. Returns false when the consumer stopped.
func (r *Reader) streamBlock(def blockDef, used tile.BBox, yield func(container.TileEntry, error) bool) bool {
	ti, err := r.tileIndexFor(def)
	if err != nil {
		return yield(container.TileEntry{}, err) && false
	}

	type pending struct {
		coord tile.Coord
		span  tileSpan
	}
	entries := make([]pending, 0, used.Count())
	for c := range used.Coords() {
		ts := ti[def.bbox.Index(c)]
		if ts.length == 0 {
			continue
		}
		if ts.offset+uint64(ts.length) > def.dataSpan.length {
			yield(container.TileEntry{}, fmt.Errorf("%w: tile %s spans [%d,%d) outside its block of %d bytes",
				container.ErrCorrupt, c, ts.offset, ts.offset+uint64(ts.length), def.dataSpan.length))
			return false
		}
		entries = append(entries, pending{coord: c, span: ts})
	}
	if len(entries) == 0 {
		return true
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].span.offset < entries[j].span.offset })

	blobs := make(map[tile.Coord]blob.Blob, len(entries))
	for start := 0; start < len(entries); {
		end := start + 1
		chunkStart := entries[start].span.offset
		chunkEnd := chunkStart + uint64(entries[start].span.length)
		for end < len(entries) {
			next := entries[end].span
			if next.offset > chunkEnd+maxChunkGap {
				break
			}
			nextEnd := next.offset + uint64(next.length)
			if nextEnd-chunkStart > maxChunkSize {
				break
			}
			if nextEnd > chunkEnd {
				chunkEnd = nextEnd
			}
			end++
		}
		data, err := source.ReadRangeFull(r.src, def.dataSpan.offset+chunkStart, chunkEnd-chunkStart)
		if err != nil {
			return yield(container.TileEntry{}, err) && false
		}
		for _, e := range entries[start:end] {
			rel := e.span.offset - chunkStart
			payload := make([]byte, e.span.length)
			copy(payload, data[rel:rel+uint64(e.span.length)])
			blobs[e.coord] = blob.New(payload, r.header.compression)
		}
		start = end
	}

	for c := range used.Coords() {
		b, ok := blobs[c]
		if !ok {
			continue
		}
		if !yield(container.TileEntry{Coord: c, Blob: b}, nil) {
			return false
		}
	}
	return true
}
