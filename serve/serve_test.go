package serve

import (
	"context"
	"io"
	"iter"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilekit/tilekit/blob"
	"github.com/tilekit/tilekit/container"
	"github.com/tilekit/tilekit/tile"
)

// fakeReader is an in-memory container.Reader fixture.
type fakeReader struct {
	meta  container.Metadata
	tiles map[tile.Coord]blob.Blob
}

var _ container.Reader = (*fakeReader)(nil)

func (f *fakeReader) Name() string                 { return "fake" }
func (f *fakeReader) ContainerName() string        { return "fake" }
func (f *fakeReader) Metadata() container.Metadata { return f.meta }
func (f *fakeReader) Close() error                 { return nil }

func (f *fakeReader) Pyramid() *tile.Pyramid {
	p := tile.NewPyramid()
	for c := range f.tiles {
		p.Include(c)
	}
	return p
}

func (f *fakeReader) Tile(_ context.Context, c tile.Coord) (blob.Blob, bool, error) {
	b, ok := f.tiles[c]
	return b, ok, nil
}

func (f *fakeReader) Tiles(_ context.Context, bbox tile.BBox) iter.Seq2[container.TileEntry, error] {
	return func(yield func(container.TileEntry, error) bool) {
		for c := range bbox.Coords() {
			if b, ok := f.tiles[c]; ok {
				if !yield(container.TileEntry{Coord: c, Blob: b}, nil) {
					return
				}
			}
		}
	}
}

func brotliTileServer(t *testing.T, payload []byte) *Server {
	t.Helper()

	b, err := blob.Compress(payload, blob.CompressionBrotli)
	require.NoError(t, err)
	s := New()
	require.NoError(t, s.Mount("osm", &fakeReader{
		meta: container.Metadata{
			Format:      tile.FormatPBF,
			Compression: blob.CompressionBrotli,
			TileJSON:    []byte(`{"name":"osm"}`),
		},
		tiles: map[tile.Coord]blob.Blob{
			{Z: 3, X: 1, Y: 2}: b,
		},
	}))
	return s
}

func TestFetchKeepsAcceptedEncoding(t *testing.T) {
	t.Parallel()

	s := brotliTileServer(t, []byte("vector-tile"))
	resp, ok, err := s.Fetch(context.Background(), "osm", tile.Coord{Z: 3, X: 1, Y: 2},
		blob.Targets(blob.CompressionBrotli))
	require.NoError(t, err)
	require.True(t, ok)
	// Stored brotli is accepted: the payload passes through untouched.
	assert.Equal(t, blob.CompressionBrotli, resp.Blob.Compression())
	assert.Equal(t, "application/x-protobuf", resp.ContentType)
}

func TestFetchRecodesForGzipOnlyClient(t *testing.T) {
	t.Parallel()

	s := brotliTileServer(t, []byte("vector-tile"))
	resp, ok, err := s.Fetch(context.Background(), "osm", tile.Coord{Z: 3, X: 1, Y: 2},
		blob.Targets(blob.CompressionGzip))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, blob.CompressionGzip, resp.Blob.Compression())

	raw, err := blob.Decompress(resp.Blob)
	require.NoError(t, err)
	assert.Equal(t, []byte("vector-tile"), raw)
}

func TestFetchDecompressesForIdentityClient(t *testing.T) {
	t.Parallel()

	s := brotliTileServer(t, []byte("vector-tile"))
	resp, ok, err := s.Fetch(context.Background(), "osm", tile.Coord{Z: 3, X: 1, Y: 2},
		blob.Targets(blob.CompressionNone))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, blob.CompressionNone, resp.Blob.Compression())
	assert.Equal(t, []byte("vector-tile"), resp.Blob.Bytes())
}

func TestFetchCompressesStoredIdentity(t *testing.T) {
	t.Parallel()

	s := New()
	require.NoError(t, s.Mount("osm", &fakeReader{
		meta: container.Metadata{Format: tile.FormatPBF, Compression: blob.CompressionNone},
		tiles: map[tile.Coord]blob.Blob{
			{Z: 3, X: 1, Y: 2}: blob.Raw([]byte("vector-tile")),
		},
	}))

	// A client accepting only gzip must not get the raw payload back.
	resp, ok, err := s.Fetch(context.Background(), "osm", tile.Coord{Z: 3, X: 1, Y: 2},
		blob.Targets(blob.CompressionGzip))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, blob.CompressionGzip, resp.Blob.Compression())

	raw, err := blob.Decompress(resp.Blob)
	require.NoError(t, err)
	assert.Equal(t, []byte("vector-tile"), raw)
}

func TestFetchUnknownMount(t *testing.T) {
	t.Parallel()

	s := brotliTileServer(t, []byte("x"))
	_, _, err := s.Fetch(context.Background(), "nope", tile.Coord{Z: 0}, blob.Targets())
	assert.ErrorIs(t, err, ErrUnknownMount)
}

func TestMountValidation(t *testing.T) {
	t.Parallel()

	s := New()
	r := &fakeReader{}
	assert.ErrorIs(t, s.Mount("", r), container.ErrConfig)
	assert.ErrorIs(t, s.Mount("a/b", r), container.ErrConfig)
	require.NoError(t, s.Mount("osm", r))
	assert.ErrorIs(t, s.Mount("osm", r), container.ErrConfig)
	assert.Equal(t, []string{"osm"}, s.Mounts())
}

func TestHandlerServesTiles(t *testing.T) {
	t.Parallel()

	s := brotliTileServer(t, []byte("vector-tile"))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	get := func(path, acceptEncoding string) *http.Response {
		req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
		require.NoError(t, err)
		// An explicit value keeps the Go client from transparently
		// decompressing and hiding the Content-Encoding header.
		req.Header.Set("Accept-Encoding", acceptEncoding)
		resp, err := srv.Client().Do(req)
		require.NoError(t, err)
		return resp
	}

	t.Run("brotli client", func(t *testing.T) {
		resp := get("/tiles/osm/3/1/2", "br, gzip")
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/x-protobuf", resp.Header.Get("Content-Type"))
		assert.Equal(t, "br", resp.Header.Get("Content-Encoding"))
		assert.Equal(t, "Accept-Encoding", resp.Header.Get("Vary"))

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		raw, err := blob.Decompress(blob.New(body, blob.CompressionBrotli))
		require.NoError(t, err)
		assert.Equal(t, []byte("vector-tile"), raw)
	})

	t.Run("identity client", func(t *testing.T) {
		resp := get("/tiles/osm/3/1/2", "identity")
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Empty(t, resp.Header.Get("Content-Encoding"))

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, []byte("vector-tile"), body)
	})

	t.Run("matching extension", func(t *testing.T) {
		resp := get("/tiles/osm/3/1/2.pbf", "identity")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("mismatched extension", func(t *testing.T) {
		// The archive holds pbf tiles; asking for png is a client error.
		resp := get("/tiles/osm/3/1/2.png", "identity")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		resp = get("/tiles/osm/3/1/2.nonsense", "identity")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("absent tile", func(t *testing.T) {
		resp := get("/tiles/osm/3/0/0", "identity")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("unknown mount", func(t *testing.T) {
		resp := get("/tiles/other/3/1/2", "identity")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("malformed coordinate", func(t *testing.T) {
		resp := get("/tiles/osm/zoom/1/2", "identity")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		// Out of range for the zoom level.
		resp = get("/tiles/osm/3/900/2", "identity")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("tiles.json", func(t *testing.T) {
		resp := get("/tiles/osm/tiles.json", "identity")
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.JSONEq(t, `{"name":"osm"}`, string(body))
	})

	t.Run("health", func(t *testing.T) {
		resp := get("/health", "identity")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestAcceptedEncodings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		header string
		gzip   bool
		brotli bool
	}{
		{"", false, false},
		{"gzip", true, false},
		{"br", false, true},
		{"gzip, deflate, br", true, true},
		{"gzip;q=0.8, br;q=1.0", true, true},
		{"identity", false, false},
		{"brotli", false, false}, // the token is "br"
	}
	for _, tt := range tests {
		set := acceptedEncodings(tt.header)
		assert.Equal(t, tt.gzip, set.Has(blob.CompressionGzip), "header %q", tt.header)
		assert.Equal(t, tt.brotli, set.Has(blob.CompressionBrotli), "header %q", tt.header)
		assert.True(t, set.Has(blob.CompressionNone), "header %q", tt.header)
	}
}
