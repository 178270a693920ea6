package tile

import (
	"errors"
	"fmt"

	"github.com/tilekit/tilekit/blob"
)

// Format identifies the content format of a tile payload.
type Format uint8

const (
	FormatUnknown Format = iota
	FormatBin
	FormatPNG
	FormatJPG
	FormatWEBP
	FormatAVIF
	FormatSVG
	FormatPBF
	FormatGeoJSON
	FormatTopoJSON
	FormatJSON
)

// ErrUnknownFormat is returned when a format name or wire code is not
// recognized.
var ErrUnknownFormat = errors.New("tile: unknown tile format")

// formatInfo is the registry entry for one tile format. The registry is an
// immutable package-level table, safe to read concurrently.
type formatInfo struct {
	name string
	ext  string
	mime string
	// code is the format identifier in the binary container header.
	code uint8
	// compression is the default scheme applied when the caller does not
	// force one. Raster formats are already entropy-coded, so compressing
	// them again is redundant.
	compression blob.Compression
}

var formats = map[Format]formatInfo{
	FormatBin:      {"bin", ".bin", "application/octet-stream", 0x00, blob.CompressionNone},
	FormatPNG:      {"png", ".png", "image/png", 0x10, blob.CompressionNone},
	FormatJPG:      {"jpg", ".jpg", "image/jpeg", 0x11, blob.CompressionNone},
	FormatWEBP:     {"webp", ".webp", "image/webp", 0x12, blob.CompressionNone},
	FormatAVIF:     {"avif", ".avif", "image/avif", 0x13, blob.CompressionNone},
	FormatSVG:      {"svg", ".svg", "image/svg+xml", 0x14, blob.CompressionGzip},
	FormatPBF:      {"pbf", ".pbf", "application/x-protobuf", 0x20, blob.CompressionGzip},
	FormatGeoJSON:  {"geojson", ".geojson", "application/geo+json", 0x21, blob.CompressionGzip},
	FormatTopoJSON: {"topojson", ".topojson", "application/topo+json", 0x22, blob.CompressionGzip},
	FormatJSON:     {"json", ".json", "application/json", 0x23, blob.CompressionGzip},
}

// String returns the canonical format name, e.g. "pbf".
func (f Format) String() string {
	if info, ok := formats[f]; ok {
		return info.name
	}
	return "unknown"
}

// Ext returns the filename extension including the leading dot.
func (f Format) Ext() string {
	if info, ok := formats[f]; ok {
		return info.ext
	}
	return ""
}

// MimeType returns the MIME type served for this format.
func (f Format) MimeType() string {
	if info, ok := formats[f]; ok {
		return info.mime
	}
	return "application/octet-stream"
}

// WireCode returns the format identifier used in the binary container
// header.
func (f Format) WireCode() uint8 {
	if info, ok := formats[f]; ok {
		return info.code
	}
	return 0
}

// DefaultCompression returns the compression scheme typically applied to
// this format when the caller does not choose one.
func (f Format) DefaultCompression() blob.Compression {
	if info, ok := formats[f]; ok {
		return info.compression
	}
	return blob.CompressionNone
}

// ParseFormat converts a format name (or filename extension without the
// dot) into a Format. Unknown names fail with ErrUnknownFormat; there is no
// silent fallback.
func ParseFormat(s string) (Format, error) {
	for f, info := range formats {
		if info.name == s {
			return f, nil
		}
	}
	// Common aliases seen in the wild.
	switch s {
	case "jpeg":
		return FormatJPG, nil
	case "mvt":
		return FormatPBF, nil
	}
	return FormatUnknown, fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// FormatByWireCode resolves the binary container format identifier.
func FormatByWireCode(code uint8) (Format, error) {
	for f, info := range formats {
		if info.code == code {
			return f, nil
		}
	}
	return FormatUnknown, fmt.Errorf("%w: code 0x%02x", ErrUnknownFormat, code)
}
