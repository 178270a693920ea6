package directory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilekit/tilekit/blob"
	"github.com/tilekit/tilekit/container"
	"github.com/tilekit/tilekit/tile"
)

func coord(z uint8, x, y uint32) tile.Coord {
	return tile.Coord{Z: z, X: x, Y: y}
}

func TestWriteReadRoundTrip(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), "tiles")
	meta := container.Metadata{
		Format:      tile.FormatPBF,
		Compression: blob.CompressionGzip,
		TileJSON:    []byte(`{"name":"dir"}`),
	}
	tiles := map[tile.Coord][]byte{
		coord(0, 0, 0): []byte("root"),
		coord(4, 8, 9): []byte("leaf"),
	}

	w, err := Create(root)
	require.NoError(t, err)
	w.SetMetadata(meta)
	ctx := context.Background()
	for c, payload := range tiles {
		b, err := blob.Compress(payload, blob.CompressionGzip)
		require.NoError(t, err)
		require.NoError(t, w.WriteTile(ctx, c, b))
	}
	require.NoError(t, w.Finalize(ctx))

	// Filenames carry format and compression suffixes.
	_, err = os.Stat(filepath.Join(root, "4", "8", "9.pbf.gz"))
	require.NoError(t, err)

	r, err := Open(root)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, "directory", r.ContainerName())
	assert.Equal(t, tile.FormatPBF, r.Metadata().Format)
	assert.Equal(t, blob.CompressionGzip, r.Metadata().Compression)
	assert.JSONEq(t, `{"name":"dir"}`, string(r.Metadata().TileJSON))

	for c, want := range tiles {
		b, ok, err := r.Tile(ctx, c)
		require.NoError(t, err)
		require.True(t, ok, "tile %s", c)
		raw, err := blob.Decompress(b)
		require.NoError(t, err)
		assert.Equal(t, want, raw)
	}

	_, ok, err := r.Tile(ctx, coord(4, 0, 0))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTilesEnumeration(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), "tiles")
	w, err := Create(root)
	require.NoError(t, err)
	w.SetMetadata(container.Metadata{Format: tile.FormatPNG, Compression: blob.CompressionNone})

	ctx := context.Background()
	coords := []tile.Coord{coord(2, 0, 0), coord(2, 1, 0), coord(2, 3, 3)}
	for _, c := range coords {
		require.NoError(t, w.WriteTile(ctx, c, blob.Raw([]byte(c.String()))))
	}
	require.NoError(t, w.Finalize(ctx))

	r, err := Open(root)
	require.NoError(t, err)
	defer r.Close()

	var got []tile.Coord
	for entry, err := range r.Tiles(ctx, tile.FullBBox(2)) {
		require.NoError(t, err)
		assert.Equal(t, []byte(entry.Coord.String()), entry.Blob.Bytes())
		got = append(got, entry.Coord)
	}
	assert.Equal(t, coords, got)

	sub, err := tile.NewBBox(2, 0, 0, 1, 1)
	require.NoError(t, err)
	got = got[:0]
	for entry, err := range r.Tiles(ctx, sub) {
		require.NoError(t, err)
		got = append(got, entry.Coord)
	}
	assert.Equal(t, []tile.Coord{coord(2, 0, 0), coord(2, 1, 0)}, got)
}

func TestOpenScansMixedTrees(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "3", "1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "3", "1", "2.png"), []byte("png-tile"), 0o644))
	// Stray files are skipped, not fatal.
	require.NoError(t, os.WriteFile(filepath.Join(root, "3", "1", "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("x"), 0o644))

	r, err := Open(root)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, tile.FormatPNG, r.Metadata().Format)
	assert.Equal(t, blob.CompressionNone, r.Metadata().Compression)
	assert.Equal(t, uint64(1), r.Pyramid().Count())

	b, ok, err := r.Tile(context.Background(), coord(3, 1, 2))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("png-tile"), b.Bytes())
}

func TestOpenRejectsEmptyTree(t *testing.T) {
	t.Parallel()

	_, err := Open(t.TempDir())
	assert.ErrorIs(t, err, container.ErrFormat)
}

func TestCreateRejectsNonEmptyDirectory(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "existing"), []byte("x"), 0o644))

	_, err := Create(root)
	assert.ErrorIs(t, err, container.ErrConfig)
}

func TestWriterRequiresMetadataBeforeTiles(t *testing.T) {
	t.Parallel()

	w, err := Create(filepath.Join(t.TempDir(), "tiles"))
	require.NoError(t, err)
	defer w.Abort()

	err = w.WriteTile(context.Background(), coord(0, 0, 0), blob.Raw([]byte("x")))
	assert.ErrorIs(t, err, container.ErrConfig)
}

func TestAbortRemovesTree(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), "tiles")
	w, err := Create(root)
	require.NoError(t, err)
	w.SetMetadata(container.Metadata{Format: tile.FormatBin, Compression: blob.CompressionNone})
	require.NoError(t, w.WriteTile(context.Background(), coord(1, 0, 1), blob.Raw([]byte("x"))))
	require.NoError(t, w.Abort())

	_, err = os.Stat(root)
	assert.True(t, os.IsNotExist(err))
}
