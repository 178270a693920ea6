package container

import (
	"strconv"
	"strings"

	"github.com/tilekit/tilekit/blob"
	"github.com/tilekit/tilekit/tile"
)

// ParseTilePath decodes a slash-separated "z/x/y.ext" tile path, with an
// optional ".gz" or ".br" compression suffix, into its coordinate, format,
// and compression. A leading "./" is tolerated. ok is false for anything
// that is not a tile path; callers treat those as stray files, not errors.
//
// The directory and tar containers share this layout.
func ParseTilePath(name string) (c tile.Coord, format tile.Format, compression blob.Compression, ok bool) {
	name = strings.TrimPrefix(name, "./")
	parts := strings.Split(name, "/")
	if len(parts) != 3 {
		return tile.Coord{}, 0, 0, false
	}

	z, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil || z > tile.MaxZoom {
		return tile.Coord{}, 0, 0, false
	}
	x, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return tile.Coord{}, 0, 0, false
	}

	file := parts[2]
	compression = blob.CompressionNone
	switch {
	case strings.HasSuffix(file, ".gz"):
		compression = blob.CompressionGzip
		file = strings.TrimSuffix(file, ".gz")
	case strings.HasSuffix(file, ".br"):
		compression = blob.CompressionBrotli
		file = strings.TrimSuffix(file, ".br")
	}
	base, ext, found := strings.Cut(file, ".")
	if !found {
		return tile.Coord{}, 0, 0, false
	}
	y, err := strconv.ParseUint(base, 10, 32)
	if err != nil {
		return tile.Coord{}, 0, 0, false
	}
	format, err = tile.ParseFormat(ext)
	if err != nil {
		return tile.Coord{}, 0, 0, false
	}
	c, err = tile.New(uint8(z), uint32(x), uint32(y))
	if err != nil {
		return tile.Coord{}, 0, 0, false
	}
	return c, format, compression, true
}

// TilePath is the inverse of ParseTilePath: the canonical slash-separated
// path for a tile with the given format and compression.
func TilePath(c tile.Coord, format tile.Format, compression blob.Compression) string {
	return strconv.Itoa(int(c.Z)) + "/" +
		strconv.FormatUint(uint64(c.X), 10) + "/" +
		strconv.FormatUint(uint64(c.Y), 10) + format.Ext() + compression.Ext()
}
