// Package serve exposes open tile containers over HTTP: one mount per
// archive, compression negotiated per request against the client's
// Accept-Encoding, tiles served without recompression whenever the stored
// encoding is acceptable.
package serve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tilekit/tilekit/blob"
	"github.com/tilekit/tilekit/container"
	"github.com/tilekit/tilekit/tile"
)

// ErrUnknownMount is returned when a request names a mount that does not
// exist.
var ErrUnknownMount = errors.New("serve: unknown mount")

// TileResponse is a negotiated tile payload ready to be written to a
// client. The blob's compression determines the Content-Encoding header.
type TileResponse struct {
	Blob        blob.Blob
	ContentType string
}

// Server serves tiles from one or more mounted containers. Mounts are added
// before the server starts handling requests; after that the server is
// read-only and safe for concurrent use.
type Server struct {
	mounts map[string]container.Reader
	order  []string
	logger *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger. Defaults to a discard logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates an empty server.
func New(opts ...Option) *Server {
	s := &Server{
		mounts: make(map[string]container.Reader),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mount registers a reader under name, which becomes the first path segment
// of its tile URLs. Names must be unique and URL-safe.
func (s *Server) Mount(name string, r container.Reader) error {
	if name == "" || strings.ContainsAny(name, "/ ") {
		return fmt.Errorf("%w: invalid mount name %q", container.ErrConfig, name)
	}
	if _, exists := s.mounts[name]; exists {
		return fmt.Errorf("%w: mount %q already exists", container.ErrConfig, name)
	}
	s.mounts[name] = r
	s.order = append(s.order, name)
	s.logger.Info("mounted container",
		"name", name,
		"source", r.Name(),
		"container", r.ContainerName(),
		"format", r.Metadata().Format.String())
	return nil
}

// Mounts returns the mount names in registration order.
func (s *Server) Mounts() []string {
	return append([]string(nil), s.order...)
}

// Reader returns the container mounted under name.
func (s *Server) Reader(name string) (container.Reader, bool) {
	r, ok := s.mounts[name]
	return r, ok
}

// Fetch looks up a tile and negotiates its encoding against the accepted
// set. The stored compression is kept whenever the client accepts it;
// otherwise the payload is converted, preferring plain decompression over a
// re-encode. The accepted set is taken literally: callers that imply
// identity, as HTTP does, must include it themselves.
func (s *Server) Fetch(ctx context.Context, mount string, c tile.Coord, accepted blob.TargetSet) (TileResponse, bool, error) {
	r, ok := s.mounts[mount]
	if !ok {
		return TileResponse{}, false, fmt.Errorf("%w: %q", ErrUnknownMount, mount)
	}
	b, ok, err := r.Tile(ctx, c)
	if err != nil || !ok {
		return TileResponse{}, ok, err
	}
	b, err = blob.Optimize(b, accepted, false)
	if err != nil {
		return TileResponse{}, false, err
	}
	return TileResponse{
		Blob:        b,
		ContentType: r.Metadata().Format.MimeType(),
	}, true, nil
}
