package tilekit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilekit/tilekit/blob"
	"github.com/tilekit/tilekit/container"
	"github.com/tilekit/tilekit/tile"
)

func roundTrip(t *testing.T, name string) {
	t.Helper()

	w, err := Create(name)
	require.NoError(t, err)
	w.SetMetadata(container.Metadata{Format: tile.FormatPNG, Compression: blob.CompressionNone})

	ctx := context.Background()
	c := tile.Coord{Z: 1, X: 0, Y: 1}
	require.NoError(t, w.WriteTile(ctx, c, blob.Raw([]byte("payload"))))
	require.NoError(t, w.Finalize(ctx))

	r, err := Open(name)
	require.NoError(t, err)
	defer r.Close()

	b, ok, err := r.Tile(ctx, c)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), b.Bytes())
}

func TestDispatchByExtension(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"t.versatiles", "t.mbtiles", "t.tar", "tiledir"} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			roundTrip(t, filepath.Join(t.TempDir(), name))
		})
	}
}

func TestDispatchContainerNames(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"t.versatiles": "versatiles",
		"t.mbtiles":    "mbtiles",
		"t.tar":        "tar",
		"tiledir":      "directory",
	}
	for name, want := range tests {
		path := filepath.Join(t.TempDir(), name)
		w, err := Create(path)
		require.NoError(t, err)
		w.SetMetadata(container.Metadata{Format: tile.FormatBin, Compression: blob.CompressionNone})
		ctx := context.Background()
		require.NoError(t, w.WriteTile(ctx, tile.Coord{Z: 0}, blob.Raw([]byte("x"))))
		require.NoError(t, w.Finalize(ctx))

		r, err := Open(path)
		require.NoError(t, err)
		assert.Equal(t, want, r.ContainerName())
		require.NoError(t, r.Close())
	}
}

func TestOpenRejectsUnknownExtension(t *testing.T) {
	t.Parallel()

	_, err := Open(filepath.Join(t.TempDir(), "tiles.zip"))
	assert.ErrorIs(t, err, container.ErrFormat)
}

func TestOpenRejectsRemoteNonArchive(t *testing.T) {
	t.Parallel()

	_, err := Open("https://example.com/tiles.mbtiles")
	assert.ErrorIs(t, err, container.ErrFormat)
}
