// Package convert copies tiles between containers: any reader into any
// writer, with optional bbox and zoom filtering and parallel recompression.
//
// The pipeline is a producer streaming tiles in canonical order, a worker
// pool recompressing payloads, and an ordering funnel that releases tiles to
// the writer in the producer's sequence. Writers therefore always observe
// canonical coordinate order, whether they need it or not.
package convert

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/tilekit/tilekit/blob"
	"github.com/tilekit/tilekit/container"
	"github.com/tilekit/tilekit/tile"
)

// Options controls a conversion run. The zero value copies everything
// unchanged.
type Options struct {
	// BBox restricts the copy to one bounding box; its zoom level is applied
	// to every zoom via the pyramid intersection.
	BBox *tile.BBox

	// ZoomMin and ZoomMax bound the copied zoom range. Each bound applies
	// independently; nil leaves that end of the range open.
	ZoomMin *int
	ZoomMax *int

	// Format asserts the tile format of the output. Content transcoding is
	// out of scope, so any format other than the reader's own is rejected.
	Format *tile.Format

	// Compression selects the output compression. Nil keeps the reader's.
	Compression *blob.Compression

	// Force re-encodes tiles even when the stored compression already
	// matches the target.
	Force bool

	// Workers bounds the recompression pool. Zero means GOMAXPROCS.
	Workers int

	// Progress, when set, is called after every written tile.
	Progress func(done, total uint64)

	// Logger receives diagnostics. Nil discards them.
	Logger *slog.Logger
}

type job struct {
	seq   uint64
	entry container.TileEntry
}

// Run copies tiles from src to dst. On success the writer is finalized; on
// any failure, including cancellation, it is aborted and the partial output
// discarded.
func Run(ctx context.Context, src container.Reader, dst container.Writer, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	meta := src.Metadata()
	if opts.Format != nil && *opts.Format != meta.Format {
		return fmt.Errorf("%w: cannot transcode %s tiles to %s", container.ErrConfig, meta.Format, *opts.Format)
	}
	target := meta.Compression
	if opts.Compression != nil {
		target = *opts.Compression
	}

	pyramid, err := effectivePyramid(src.Pyramid(), opts)
	if err != nil {
		return err
	}
	total := pyramid.Count()

	meta.Compression = target
	dst.SetMetadata(meta)

	logger.Info("starting conversion",
		"source", src.Name(),
		"format", meta.Format.String(),
		"compression", target.String(),
		"tiles", total)

	if err := pump(ctx, src, dst, pyramid, target, total, opts); err != nil {
		if abortErr := dst.Abort(); abortErr != nil {
			logger.Warn("aborting writer failed", "error", abortErr)
		}
		return err
	}
	if err := dst.Finalize(ctx); err != nil {
		if abortErr := dst.Abort(); abortErr != nil {
			logger.Warn("aborting writer failed", "error", abortErr)
		}
		return err
	}
	return nil
}

func effectivePyramid(p *tile.Pyramid, opts Options) (*tile.Pyramid, error) {
	out := p.Clone()
	if opts.ZoomMin != nil || opts.ZoomMax != nil {
		zMin, zMax := 0, tile.MaxZoom
		if opts.ZoomMin != nil {
			zMin = *opts.ZoomMin
		}
		if opts.ZoomMax != nil {
			zMax = *opts.ZoomMax
		}
		if zMin < 0 || zMax > tile.MaxZoom || zMin > zMax {
			return nil, fmt.Errorf("%w: zoom range %d..%d", container.ErrConfig, zMin, zMax)
		}
		out.LimitZoom(uint8(zMin), uint8(zMax))
	}
	if opts.BBox != nil {
		lonMin, latMin, lonMax, latMax := opts.BBox.GeoBounds()
		out.LimitGeo(lonMin, latMin, lonMax, latMax)
	}
	return out, nil
}

// pump drives the producer, worker pool, and ordering funnel.
func pump(ctx context.Context, src container.Reader, dst container.Writer, pyramid *tile.Pyramid, target blob.Compression, total uint64, opts Options) error {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	g, ctx := errgroup.WithContext(ctx)
	jobs := make(chan job, workers*2)
	results := make(chan job, workers*2)

	g.Go(func() error {
		defer close(jobs)
		var seq uint64
		for bbox := range pyramid.Levels() {
			for entry, err := range src.Tiles(ctx, bbox) {
				if err != nil {
					return err
				}
				select {
				case jobs <- job{seq: seq, entry: entry}:
					seq++
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		return nil
	})

	g.Go(func() error {
		defer close(results)
		pool, poolCtx := errgroup.WithContext(ctx)
		for range workers {
			pool.Go(func() error {
				for j := range jobs {
					b, err := recompress(j.entry.Blob, target, opts.Force)
					if err != nil {
						return fmt.Errorf("tile %s: %w", j.entry.Coord, err)
					}
					j.entry.Blob = b
					select {
					case results <- j:
					case <-poolCtx.Done():
						return poolCtx.Err()
					}
				}
				return nil
			})
		}
		return pool.Wait()
	})

	g.Go(func() error {
		pending := make(map[uint64]job)
		var next, done uint64
		for r := range results {
			pending[r.seq] = r
			for {
				j, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				if err := dst.WriteTile(ctx, j.entry.Coord, j.entry.Blob); err != nil {
					return err
				}
				next++
				done++
				if opts.Progress != nil {
					opts.Progress(done, total)
				}
			}
		}
		return nil
	})

	return g.Wait()
}

// recompress converts b to the target compression. With force set the
// payload is re-encoded even when the schemes already match, which matters
// when upstream encoders were weaker.
func recompress(b blob.Blob, target blob.Compression, force bool) (blob.Blob, error) {
	if !force || target == blob.CompressionNone {
		return blob.Recompress(b, target)
	}
	raw, err := blob.Decompress(b)
	if err != nil {
		return blob.Blob{}, err
	}
	return blob.Compress(raw, target)
}
