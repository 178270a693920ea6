package versatiles

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilekit/tilekit/blob"
	"github.com/tilekit/tilekit/container"
	"github.com/tilekit/tilekit/source"
	"github.com/tilekit/tilekit/tile"
)

func coord(z uint8, x, y uint32) tile.Coord {
	return tile.Coord{Z: z, X: x, Y: y}
}

func buildArchive(t *testing.T, path string, meta container.Metadata, tiles map[tile.Coord][]byte) {
	t.Helper()

	w, err := Create(path)
	require.NoError(t, err)
	w.SetMetadata(meta)

	coords := make([]tile.Coord, 0, len(tiles))
	for c := range tiles {
		coords = append(coords, c)
	}
	slices.SortFunc(coords, func(a, b tile.Coord) int {
		if a.Z != b.Z {
			return int(a.Z) - int(b.Z)
		}
		if a.Y != b.Y {
			return int(a.Y) - int(b.Y)
		}
		return int(a.X) - int(b.X)
	})

	ctx := context.Background()
	for _, c := range coords {
		b, err := blob.Compress(tiles[c], meta.Compression)
		require.NoError(t, err)
		require.NoError(t, w.WriteTile(ctx, c, b))
	}
	require.NoError(t, w.Finalize(ctx))
}

func TestHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	h := header{
		format:      tile.FormatPBF,
		compression: blob.CompressionBrotli,
		zoomMin:     3,
		zoomMax:     14,
		bbox:        [4]int32{-1800000000, -850511287, 1800000000, 850511287},
		metaSpan:    span{offset: 66, length: 1234},
		blockSpan:   span{offset: 1300, length: 99},
	}
	buf := h.encode()
	require.Len(t, buf, headerSize)

	got, err := decodeHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestDecodeHeaderRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := decodeHeader(make([]byte, 10))
	assert.ErrorIs(t, err, container.ErrFormat)

	buf := header{format: tile.FormatPNG}.encode()
	buf[0] = 'x'
	_, err = decodeHeader(buf)
	assert.ErrorIs(t, err, container.ErrFormat)

	buf = header{format: tile.FormatPNG}.encode()
	buf[14] = 0xff // format code
	_, err = decodeHeader(buf)
	assert.ErrorIs(t, err, container.ErrFormat)

	buf = header{format: tile.FormatPNG}.encode()
	buf[15] = 9 // compression code
	_, err = decodeHeader(buf)
	assert.ErrorIs(t, err, container.ErrFormat)
}

func TestBlockIndexRoundTrip(t *testing.T) {
	t.Parallel()

	bi := newBlockIndex()
	b1, err := tile.NewBBox(5, 3, 4, 10, 12)
	require.NoError(t, err)
	bi.add(blockDef{
		key:         blockKey{z: 5},
		bbox:        b1,
		dataSpan:    span{offset: 66, length: 4096},
		indexLength: 77,
	})
	b2, err := tile.NewBBox(9, 256, 300, 400, 511)
	require.NoError(t, err)
	bi.add(blockDef{
		key:         blockKey{z: 9, x: 1, y: 1},
		bbox:        b2,
		dataSpan:    span{offset: 5000, length: 123456},
		indexLength: 999,
	})

	data, err := bi.encode()
	require.NoError(t, err)

	got, err := decodeBlockIndex(data)
	require.NoError(t, err)
	require.Equal(t, bi.blocks, got.blocks)

	p := got.pyramid()
	level5, ok := p.Level(5)
	require.True(t, ok)
	assert.Equal(t, b1, level5)
	level9, ok := p.Level(9)
	require.True(t, ok)
	assert.Equal(t, b2, level9)
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	tiles := map[tile.Coord][]byte{
		coord(1, 0, 0):    []byte("tile-1-0-0"),
		coord(1, 1, 1):    []byte("tile-1-1-1"),
		coord(3, 2, 5):    []byte("tile-3-2-5"),
		coord(3, 7, 7):    []byte("tile-3-7-7"),
		coord(9, 255, 10): []byte("tile-west-block"),
		coord(9, 256, 10): []byte("tile-east-block"),
	}
	meta := container.Metadata{
		Format:      tile.FormatPBF,
		Compression: blob.CompressionGzip,
		TileJSON:    []byte(`{"name":"roundtrip","vector_layers":[]}`),
	}
	path := filepath.Join(t.TempDir(), "tiles.versatiles")
	buildArchive(t, path, meta, tiles)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, "versatiles", r.ContainerName())
	assert.Equal(t, path, r.Name())
	assert.Equal(t, tile.FormatPBF, r.Metadata().Format)
	assert.Equal(t, blob.CompressionGzip, r.Metadata().Compression)
	assert.JSONEq(t, string(meta.TileJSON), string(r.Metadata().TileJSON))

	zMin, ok := r.Pyramid().ZoomMin()
	require.True(t, ok)
	assert.Equal(t, uint8(1), zMin)
	zMax, ok := r.Pyramid().ZoomMax()
	require.True(t, ok)
	assert.Equal(t, uint8(9), zMax)
	level9, ok := r.Pyramid().Level(9)
	require.True(t, ok)
	assert.Equal(t, uint64(2), level9.Count()) // two blocks united across the block seam

	ctx := context.Background()
	for c, want := range tiles {
		b, ok, err := r.Tile(ctx, c)
		require.NoError(t, err, "tile %s", c)
		require.True(t, ok, "tile %s", c)
		assert.Equal(t, blob.CompressionGzip, b.Compression())
		raw, err := blob.Decompress(b)
		require.NoError(t, err)
		assert.Equal(t, want, raw, "tile %s", c)
	}

	// Absent inside coverage, absent zoom, absent block.
	for _, c := range []tile.Coord{coord(3, 3, 6), coord(2, 0, 0), coord(9, 0, 0)} {
		_, ok, err := r.Tile(ctx, c)
		require.NoError(t, err, "tile %s", c)
		assert.False(t, ok, "tile %s", c)
	}
}

func TestTilesEnumeration(t *testing.T) {
	t.Parallel()

	tiles := map[tile.Coord][]byte{
		coord(3, 2, 5): []byte("a"),
		coord(3, 3, 5): []byte("b"),
		coord(3, 2, 6): []byte("c"),
		coord(3, 7, 7): []byte("d"),
	}
	meta := container.Metadata{Format: tile.FormatBin, Compression: blob.CompressionNone}
	path := filepath.Join(t.TempDir(), "tiles.versatiles")
	buildArchive(t, path, meta, tiles)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	var got []tile.Coord
	for entry, err := range r.Tiles(context.Background(), tile.FullBBox(3)) {
		require.NoError(t, err)
		got = append(got, entry.Coord)
		assert.Equal(t, tiles[entry.Coord], entry.Blob.Bytes())
	}
	// Row-major within the block.
	assert.Equal(t, []tile.Coord{coord(3, 2, 5), coord(3, 3, 5), coord(3, 2, 6), coord(3, 7, 7)}, got)

	// A sub-bbox restricts the walk.
	got = got[:0]
	sub, err := tile.NewBBox(3, 2, 5, 2, 6)
	require.NoError(t, err)
	for entry, err := range r.Tiles(context.Background(), sub) {
		require.NoError(t, err)
		got = append(got, entry.Coord)
	}
	assert.Equal(t, []tile.Coord{coord(3, 2, 5), coord(3, 2, 6)}, got)
}

func TestWriterZoomOrder(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tiles.versatiles")
	w, err := Create(path)
	require.NoError(t, err)
	defer w.Abort()
	w.SetMetadata(container.Metadata{Format: tile.FormatBin, Compression: blob.CompressionNone})

	ctx := context.Background()
	// Within a zoom any order is fine.
	require.NoError(t, w.WriteTile(ctx, coord(2, 3, 3), blob.Raw([]byte("x"))))
	require.NoError(t, w.WriteTile(ctx, coord(2, 0, 0), blob.Raw([]byte("y"))))

	// A higher zoom flushes; going back is an ordering violation.
	require.NoError(t, w.WriteTile(ctx, coord(4, 0, 0), blob.Raw([]byte("z"))))
	err = w.WriteTile(ctx, coord(2, 1, 1), blob.Raw([]byte("late")))
	assert.ErrorIs(t, err, container.ErrOrder)
}

func TestWriterFinalized(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tiles.versatiles")
	w, err := Create(path)
	require.NoError(t, err)
	w.SetMetadata(container.Metadata{Format: tile.FormatBin, Compression: blob.CompressionNone})

	ctx := context.Background()
	require.NoError(t, w.WriteTile(ctx, coord(0, 0, 0), blob.Raw([]byte("root"))))
	require.NoError(t, w.Finalize(ctx))

	assert.ErrorIs(t, w.WriteTile(ctx, coord(1, 0, 0), blob.Raw([]byte("x"))), container.ErrFinalized)
	assert.ErrorIs(t, w.Finalize(ctx), container.ErrFinalized)
}

func TestWriterRejectsCompressionMismatch(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tiles.versatiles")
	w, err := Create(path)
	require.NoError(t, err)
	defer w.Abort()
	w.SetMetadata(container.Metadata{Format: tile.FormatPBF, Compression: blob.CompressionGzip})

	err = w.WriteTile(context.Background(), coord(0, 0, 0), blob.Raw([]byte("uncompressed")))
	assert.ErrorIs(t, err, container.ErrConfig)
}

func TestWriterRequiresMetadata(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tiles.versatiles")
	w, err := Create(path)
	require.NoError(t, err)
	defer w.Abort()

	assert.ErrorIs(t, w.Finalize(context.Background()), container.ErrConfig)
}

func TestWriterAbortRemovesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tiles.versatiles")
	w, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, w.WriteTile(context.Background(), coord(0, 0, 0), blob.Raw([]byte("root"))))
	require.NoError(t, w.Abort())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestReaderRejectsCorruptArchives(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tiles.versatiles")
	buildArchive(t, path,
		container.Metadata{Format: tile.FormatBin, Compression: blob.CompressionNone},
		map[tile.Coord][]byte{coord(0, 0, 0): []byte("root")})
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	t.Run("truncated", func(t *testing.T) {
		t.Parallel()
		_, err := NewReader(source.NewMem("mem", data[:40]))
		assert.ErrorIs(t, err, container.ErrFormat)
	})

	t.Run("bad magic", func(t *testing.T) {
		t.Parallel()
		bad := bytes.Clone(data)
		bad[0] = 'x'
		_, err := NewReader(source.NewMem("mem", bad))
		assert.ErrorIs(t, err, container.ErrFormat)
	})

	t.Run("block index outside archive", func(t *testing.T) {
		t.Parallel()
		bad := bytes.Clone(data)
		h, err := decodeHeader(bad)
		require.NoError(t, err)
		h.blockSpan.length = uint64(len(bad)) * 2
		copy(bad, h.encode())
		_, err = NewReader(source.NewMem("mem", bad))
		assert.ErrorIs(t, err, container.ErrCorrupt)
	})

	t.Run("mangled block index", func(t *testing.T) {
		t.Parallel()
		bad := bytes.Clone(data)
		h, err := decodeHeader(bad)
		require.NoError(t, err)
		for i := h.blockSpan.offset; i < h.blockSpan.offset+h.blockSpan.length; i++ {
			bad[i] ^= 0xff
		}
		_, err = NewReader(source.NewMem("mem", bad))
		assert.ErrorIs(t, err, container.ErrCorrupt)
	})
}

func TestReaderRejectsTileSpanOutsideBlock(t *testing.T) {
	t.Parallel()

	// Hand-crafted archive: one zoom-0 block whose tile index points past
	// the end of the block data.
	var buf bytes.Buffer
	buf.Write(make([]byte, headerSize))
	dataStart := uint64(buf.Len())
	buf.WriteString("abc")

	idx, err := tileIndex{{offset: 1000, length: 5}}.encode()
	require.NoError(t, err)
	buf.Write(idx)

	bi := newBlockIndex()
	bbox, err := tile.NewBBox(0, 0, 0, 0, 0)
	require.NoError(t, err)
	bi.add(blockDef{
		key:         blockKey{z: 0},
		bbox:        bbox,
		dataSpan:    span{offset: dataStart, length: 3},
		indexLength: uint32(len(idx)),
	})
	blockData, err := bi.encode()
	require.NoError(t, err)
	blockOffset := uint64(buf.Len())
	buf.Write(blockData)

	h := header{
		format:      tile.FormatBin,
		compression: blob.CompressionNone,
		blockSpan:   span{offset: blockOffset, length: uint64(len(blockData))},
	}
	data := buf.Bytes()
	copy(data, h.encode())

	r, err := NewReader(source.NewMem("mem", data))
	require.NoError(t, err)
	defer r.Close()

	_, _, err = r.Tile(context.Background(), coord(0, 0, 0))
	assert.ErrorIs(t, err, container.ErrCorrupt)

	for _, err := range r.Tiles(context.Background(), tile.FullBBox(0)) {
		assert.ErrorIs(t, err, container.ErrCorrupt)
	}
}

func TestRemoteReader(t *testing.T) {
	t.Parallel()

	tiles := map[tile.Coord][]byte{
		coord(2, 1, 1): []byte("remote-tile"),
		coord(2, 3, 0): []byte("other-tile"),
	}
	path := filepath.Join(t.TempDir(), "tiles.versatiles")
	buildArchive(t, path,
		container.Metadata{Format: tile.FormatPNG, Compression: blob.CompressionNone},
		tiles)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "tiles.versatiles", time.Unix(1700000000, 0), bytes.NewReader(data))
	}))
	defer srv.Close()

	src, err := source.OpenHTTP(srv.URL, source.WithClient(srv.Client()))
	require.NoError(t, err)
	r, err := NewReader(src)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, tile.FormatPNG, r.Metadata().Format)
	b, ok, err := r.Tile(context.Background(), coord(2, 1, 1))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("remote-tile"), b.Bytes())
}
