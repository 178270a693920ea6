package serve

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tilekit/tilekit/blob"
	"github.com/tilekit/tilekit/tile"
)

// Handler returns the HTTP router:
//
//	GET /health
//	GET /tiles/{mount}/tiles.json
//	GET /tiles/{mount}/{z}/{x}/{y}[.ext]
//
// Tile responses carry Content-Type from the archive format,
// Content-Encoding when the payload is compressed, and Vary:
// Accept-Encoding so caches keep the variants apart.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok"))
	})
	r.Get("/tiles/{mount}/tiles.json", s.handleTileJSON)
	r.Get("/tiles/{mount}/{z}/{x}/{y}", s.handleTile)

	return r
}

func (s *Server) handleTileJSON(w http.ResponseWriter, r *http.Request) {
	reader, ok := s.mounts[chi.URLParam(r, "mount")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	meta := reader.Metadata()
	if len(meta.TileJSON) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Write(meta.TileJSON)
}

func (s *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	mount := chi.URLParam(r, "mount")
	reader, ok := s.mounts[mount]
	if !ok {
		http.NotFound(w, r)
		return
	}
	c, ext, ok := parseCoordParams(chi.URLParam(r, "z"), chi.URLParam(r, "x"), chi.URLParam(r, "y"))
	if !ok {
		http.Error(w, "malformed tile coordinate", http.StatusBadRequest)
		return
	}
	if ext != "" {
		f, err := tile.ParseFormat(ext)
		if err != nil || f != reader.Metadata().Format {
			http.Error(w, "tile format mismatch", http.StatusBadRequest)
			return
		}
	}

	resp, ok, err := s.Fetch(r.Context(), mount, c, acceptedEncodings(r.Header.Get("Accept-Encoding")))
	if errors.Is(err, ErrUnknownMount) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.logger.Error("tile request failed", "mount", mount, "tile", c.String(), "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}

	h := w.Header()
	h.Set("Content-Type", resp.ContentType)
	h.Set("Vary", "Accept-Encoding")
	h.Set("Cache-Control", "public, max-age=3600")
	if enc := resp.Blob.Compression().ContentEncoding(); enc != "" {
		h.Set("Content-Encoding", enc)
	}
	h.Set("Content-Length", strconv.Itoa(resp.Blob.Len()))
	w.Write(resp.Blob.Bytes())
}

// parseCoordParams validates the z/x/y path segments. The y segment may
// carry a format extension, returned without the dot for the caller to
// check against the archive format.
func parseCoordParams(zs, xs, ys string) (tile.Coord, string, bool) {
	var ext string
	if base, rest, found := strings.Cut(ys, "."); found {
		ys, ext = base, rest
	}
	z, err := strconv.ParseUint(zs, 10, 8)
	if err != nil {
		return tile.Coord{}, "", false
	}
	x, err := strconv.ParseUint(xs, 10, 32)
	if err != nil {
		return tile.Coord{}, "", false
	}
	y, err := strconv.ParseUint(ys, 10, 32)
	if err != nil {
		return tile.Coord{}, "", false
	}
	c, err := tile.New(uint8(z), uint32(x), uint32(y))
	if err != nil {
		return tile.Coord{}, "", false
	}
	return c, ext, true
}

// acceptedEncodings parses an Accept-Encoding header by token containment,
// ignoring q-values. Identity is always acceptable over HTTP, so the set
// starts out containing it.
func acceptedEncodings(header string) blob.TargetSet {
	set := blob.Targets(blob.CompressionNone)
	for _, part := range strings.Split(header, ",") {
		token, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		switch strings.TrimSpace(token) {
		case "gzip":
			set = set.With(blob.CompressionGzip)
		case "br":
			set = set.With(blob.CompressionBrotli)
		}
	}
	return set
}
