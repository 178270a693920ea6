// Package versatiles implements the binary tile container: a single-file
// archive with a fixed-size header, per-zoom blocks of up to 256x256 tiles,
// a brotli-compressed tile index per block, and a brotli-compressed global
// block index.
//
// All integers are big-endian. The layout is pinned by the magic string in
// the header; changing any field width is a format break.
package versatiles

import (
	"encoding/binary"
	"fmt"

	"github.com/tilekit/tilekit/blob"
	"github.com/tilekit/tilekit/container"
	"github.com/tilekit/tilekit/tile"
)

const (
	magic      = "versatiles_v02"
	headerSize = 66

	// Tiles per block axis. Block coordinates are tile coordinates shifted
	// right by blockShift.
	blockEdge  = 256
	blockShift = 8

	// Serialized sizes of one block definition and one tile index entry.
	blockDefSize       = 33
	tileIndexEntrySize = 12
)

// span locates a byte range inside the archive.
type span struct {
	offset uint64
	length uint64
}

func (s span) isZero() bool {
	return s.offset == 0 && s.length == 0
}

func putSpan(dst []byte, s span) {
	binary.BigEndian.PutUint64(dst[0:8], s.offset)
	binary.BigEndian.PutUint64(dst[8:16], s.length)
}

func getSpan(buf []byte) span {
	return span{
		offset: binary.BigEndian.Uint64(buf[0:8]),
		length: binary.BigEndian.Uint64(buf[8:16]),
	}
}

// header is the fixed-size archive preamble. The geographic bbox is stored
// as degrees scaled by 1e7.
type header struct {
	format      tile.Format
	compression blob.Compression
	zoomMin     uint8
	zoomMax     uint8
	bbox        [4]int32 // lonMin, latMin, lonMax, latMax, scaled by 1e7
	metaSpan    span
	blockSpan   span
}

func (h header) encode() []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:14], magic)
	buf[14] = h.format.WireCode()
	buf[15] = uint8(h.compression)
	buf[16] = h.zoomMin
	buf[17] = h.zoomMax
	for i, v := range h.bbox {
		binary.BigEndian.PutUint32(buf[18+4*i:], uint32(v))
	}
	putSpan(buf[34:50], h.metaSpan)
	putSpan(buf[50:66], h.blockSpan)
	return buf
}

func decodeHeader(buf []byte) (header, error) {
	if len(buf) < headerSize {
		return header{}, fmt.Errorf("%w: short header (%d bytes)", container.ErrFormat, len(buf))
	}
	if string(buf[0:14]) != magic {
		return header{}, fmt.Errorf("%w: bad magic %q", container.ErrFormat, buf[0:14])
	}
	format, err := tile.FormatByWireCode(buf[14])
	if err != nil {
		return header{}, fmt.Errorf("%w: %v", container.ErrFormat, err)
	}
	compression := blob.Compression(buf[15])
	if compression > blob.CompressionBrotli {
		return header{}, fmt.Errorf("%w: compression code %d", container.ErrFormat, buf[15])
	}
	h := header{
		format:      format,
		compression: compression,
		zoomMin:     buf[16],
		zoomMax:     buf[17],
		metaSpan:    getSpan(buf[34:50]),
		blockSpan:   getSpan(buf[50:66]),
	}
	for i := range h.bbox {
		h.bbox[i] = int32(binary.BigEndian.Uint32(buf[18+4*i:]))
	}
	return h, nil
}
