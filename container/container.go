// Package container defines the tile container abstraction: readers that
// look up and enumerate tiles, writers that accept a stream of tiles and
// produce a finished archive, and the error taxonomy shared by every
// container format.
//
// Concrete formats live in subpackages (versatiles, directory, tarfile,
// mbtiles); the conversion pipeline and the serving façade depend only on
// the interfaces defined here.
package container

import (
	"context"
	"encoding/json"
	"iter"

	"github.com/tilekit/tilekit/blob"
	"github.com/tilekit/tilekit/tile"
)

// Metadata describes a tile set: its content format, the compression its
// tiles are stored with, and the free-form tiles.json document (name,
// attribution, bounds, vector layer schema, ...).
//
// Metadata is fixed at container open for readers, and at Finalize for
// writers.
type Metadata struct {
	Format      tile.Format
	Compression blob.Compression

	// TileJSON is the uncompressed tiles.json document, or nil when the
	// container carries none.
	TileJSON []byte
}

// Values parses TileJSON into a key/value map for display. Nested values
// come back as raw JSON types. Returns nil when there is no metadata.
func (m Metadata) Values() (map[string]any, error) {
	if len(m.TileJSON) == 0 {
		return nil, nil
	}
	var values map[string]any
	if err := json.Unmarshal(m.TileJSON, &values); err != nil {
		return nil, err
	}
	return values, nil
}

// TileEntry pairs a coordinate with its blob during enumeration.
type TileEntry struct {
	Coord tile.Coord
	Blob  blob.Blob
}

// Reader provides random access to a finished tile archive.
//
// A Reader exclusively owns its underlying source and loaded index. Once
// open, the index is read-only, and Tile may be called from any number of
// goroutines concurrently. Blobs returned by a Reader are independent
// copies; mutating them never corrupts the index.
type Reader interface {
	// Name identifies the source, e.g. the file path or URL.
	Name() string

	// ContainerName identifies the format, e.g. "versatiles" or "mbtiles".
	ContainerName() string

	// Metadata returns the container metadata captured at open.
	Metadata() Metadata

	// Pyramid returns the per-zoom bounding boxes of present tiles.
	Pyramid() *tile.Pyramid

	// Tile looks up one tile. ok is false when the coordinate is valid but
	// absent; errors are reserved for IO failures and corruption.
	Tile(ctx context.Context, c tile.Coord) (b blob.Blob, ok bool, err error)

	// Tiles enumerates the present tiles inside bbox. The yielded error is
	// non-nil at most once, as the final element; enumeration stops there.
	Tiles(ctx context.Context, bbox tile.BBox) iter.Seq2[TileEntry, error]

	// Close releases the underlying source.
	Close() error
}

// Writer accepts a stream of tiles plus metadata and produces a finished
// archive on Finalize.
//
// A Writer is exclusively owned by the single task driving it. Formats with
// random placement accept tiles in any order; the binary container writer
// reorders internally per zoom level and fails with ErrOrder only when a
// write would genuinely corrupt the index (see the versatiles package).
type Writer interface {
	// WriteTile adds one tile. The blob's compression tag must match the
	// metadata compression set for the container.
	WriteTile(ctx context.Context, c tile.Coord, b blob.Blob) error

	// SetMetadata records the container metadata. Must be called before
	// Finalize; later calls replace earlier ones.
	SetMetadata(m Metadata)

	// Finalize flushes all buffered state and completes the archive. The
	// writer is consumed: any further call fails with ErrFinalized.
	Finalize(ctx context.Context) error

	// Abort discards the partial archive. Safe to call after a failed
	// Finalize; never called on a finalized writer.
	Abort() error
}
