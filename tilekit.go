// Package tilekit opens and creates tile containers by name: local
// .versatiles, .mbtiles, and .tar files, tile directories, and remote
// .versatiles archives over HTTP range requests.
//
// The concrete container packages live under container/; this package is
// only the dispatch layer.
package tilekit

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/tilekit/tilekit/container"
	"github.com/tilekit/tilekit/container/directory"
	"github.com/tilekit/tilekit/container/mbtiles"
	"github.com/tilekit/tilekit/container/tarfile"
	"github.com/tilekit/tilekit/container/versatiles"
	"github.com/tilekit/tilekit/source"
)

type options struct {
	logger *slog.Logger
	client *http.Client
}

// Option configures Open and Create.
type Option func(*options)

// WithLogger passes a logger to the opened container.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithHTTPClient sets the client used for remote archives.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		if client != nil {
			o.client = client
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger: slog.New(slog.DiscardHandler),
		client: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Open opens a tile container for reading. The container type is chosen by
// the name: an http(s) URL opens a remote binary archive, a directory opens
// a tile tree, and the file extension picks between the archive formats.
func Open(name string, opts ...Option) (container.Reader, error) {
	o := buildOptions(opts)

	if strings.HasPrefix(name, "http://") || strings.HasPrefix(name, "https://") {
		if !strings.HasSuffix(name, ".versatiles") {
			return nil, fmt.Errorf("%w: remote access requires a .versatiles archive, got %s", container.ErrFormat, name)
		}
		src, err := source.OpenHTTP(name, source.WithClient(o.client))
		if err != nil {
			return nil, err
		}
		r, err := versatiles.NewReader(src, versatiles.WithLogger(o.logger))
		if err != nil {
			src.Close()
			return nil, err
		}
		return r, nil
	}

	if info, err := os.Stat(name); err == nil && info.IsDir() {
		return directory.Open(name, directory.WithLogger(o.logger))
	}

	switch {
	case strings.HasSuffix(name, ".versatiles"):
		return versatiles.Open(name, versatiles.WithLogger(o.logger))
	case strings.HasSuffix(name, ".mbtiles"):
		return mbtiles.Open(name, mbtiles.WithLogger(o.logger))
	case strings.HasSuffix(name, ".tar"):
		return tarfile.Open(name, tarfile.WithLogger(o.logger))
	default:
		return nil, fmt.Errorf("%w: cannot infer container type of %s", container.ErrFormat, name)
	}
}

// Create creates a tile container for writing. Names without a recognized
// archive extension become tile directories.
func Create(name string, opts ...Option) (container.Writer, error) {
	o := buildOptions(opts)

	switch {
	case strings.HasSuffix(name, ".versatiles"):
		return versatiles.Create(name, versatiles.WithWriterLogger(o.logger))
	case strings.HasSuffix(name, ".mbtiles"):
		return mbtiles.Create(name, mbtiles.WithWriterLogger(o.logger))
	case strings.HasSuffix(name, ".tar"):
		return tarfile.Create(name, tarfile.WithWriterLogger(o.logger))
	default:
		return directory.Create(name, directory.WithWriterLogger(o.logger))
	}
}
