package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	pb "gopkg.in/cheggaaa/pb.v1"

	"github.com/tilekit/tilekit"
	"github.com/tilekit/tilekit/blob"
	"github.com/tilekit/tilekit/convert"
	"github.com/tilekit/tilekit/tile"
)

func (a *app) convertCmd() *cobra.Command {
	var (
		bboxFlag        string
		minZoom         int
		maxZoom         int
		formatFlag      string
		compressionFlag string
		force           bool
		workers         int
	)

	cmd := &cobra.Command{
		Use:   "convert <source> <target>",
		Short: "Copy tiles from one container into another",
		Long: `Copy tiles from one container into another.

The container types are inferred from the names: .versatiles, .mbtiles and
.tar files, directories, and http(s) URLs for remote binary archives.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := tilekit.Open(args[0], tilekit.WithLogger(a.logger))
			if err != nil {
				return err
			}
			defer src.Close()

			opts := convert.Options{
				ZoomMin: &minZoom,
				ZoomMax: &maxZoom,
				Force:   force,
				Workers: workers,
				Logger:  a.logger,
			}
			if compressionFlag != "" {
				c, err := blob.ParseCompression(compressionFlag)
				if err != nil {
					return err
				}
				opts.Compression = &c
			}
			if formatFlag != "" {
				f, err := tile.ParseFormat(formatFlag)
				if err != nil {
					return err
				}
				opts.Format = &f
			}
			if bboxFlag != "" {
				bbox, err := parseGeoBBox(bboxFlag, src.Pyramid())
				if err != nil {
					return err
				}
				opts.BBox = &bbox
			}

			var bar *pb.ProgressBar
			opts.Progress = func(done, total uint64) {
				if bar == nil {
					bar = pb.New64(int64(total))
					bar.Start()
				}
				bar.Set64(int64(done))
			}

			dst, err := tilekit.Create(args[1], tilekit.WithLogger(a.logger))
			if err != nil {
				return err
			}
			err = convert.Run(cmd.Context(), src, dst, opts)
			if bar != nil {
				bar.Finish()
			}
			if err != nil {
				return err
			}
			a.logger.Info("conversion finished", "target", args[1])
			return nil
		},
	}

	cmd.Flags().StringVar(&bboxFlag, "bbox", "", "restrict to a geo bbox: lonMin,latMin,lonMax,latMax")
	cmd.Flags().IntVar(&minZoom, "min-zoom", 0, "lowest zoom level to copy")
	cmd.Flags().IntVar(&maxZoom, "max-zoom", tile.MaxZoom, "highest zoom level to copy")
	cmd.Flags().StringVar(&formatFlag, "tile-format", "", "assert the tile format of the output")
	cmd.Flags().StringVar(&compressionFlag, "compression", "", "output compression: none, gzip, brotli")
	cmd.Flags().BoolVar(&force, "force-recompress", false, "re-encode tiles even when the compression already matches")
	cmd.Flags().IntVar(&workers, "workers", 0, "recompression workers (0 = all CPUs)")
	return cmd
}

// parseGeoBBox parses "lonMin,latMin,lonMax,latMax" into a tile bbox at the
// source's highest zoom level, which is where the filter needs the most
// precision.
func parseGeoBBox(s string, p *tile.Pyramid) (tile.BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return tile.BBox{}, fmt.Errorf("invalid bbox %q: want lonMin,latMin,lonMax,latMax", s)
	}
	var v [4]float64
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return tile.BBox{}, fmt.Errorf("invalid bbox %q: %w", s, err)
		}
		v[i] = f
	}
	if v[0] > v[2] || v[1] > v[3] || v[0] < -180 || v[2] > 180 || v[1] < -90 || v[3] > 90 {
		return tile.BBox{}, fmt.Errorf("invalid bbox %q: bounds out of order or range", s)
	}
	z, ok := p.ZoomMax()
	if !ok {
		return tile.BBox{}, fmt.Errorf("source archive is empty")
	}
	return tile.GeoBBox(z, v[0], v[1], v[2], v[3]), nil
}
