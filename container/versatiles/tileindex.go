package versatiles

import (
	"encoding/binary"
	"fmt"

	"github.com/tilekit/tilekit/blob"
	"github.com/tilekit/tilekit/container"
)

// tileSpan locates one tile inside a block. The offset is relative to the
// start of the block data; a zero length marks an absent tile.
type tileSpan struct {
	offset uint64
	length uint32
}

// tileIndex holds one tileSpan per slot of the block's bbox, in row-major
// order.
type tileIndex []tileSpan

// encode serializes the index as 12-byte entries and compresses the result
// with the fast brotli profile, matching how archive builders keep index
// writes cheap.
func (ti tileIndex) encode() ([]byte, error) {
	buf := make([]byte, len(ti)*tileIndexEntrySize)
	for i, ts := range ti {
		binary.BigEndian.PutUint64(buf[i*tileIndexEntrySize:], ts.offset)
		binary.BigEndian.PutUint32(buf[i*tileIndexEntrySize+8:], ts.length)
	}
	compressed, err := blob.CompressFast(buf, blob.CompressionBrotli)
	if err != nil {
		return nil, err
	}
	return compressed.Bytes(), nil
}

// decodeTileIndex parses a brotli-compressed tile index and verifies it
// carries exactly count entries.
func decodeTileIndex(data []byte, count uint64) (tileIndex, error) {
	raw, err := blob.Decompress(blob.New(data, blob.CompressionBrotli))
	if err != nil {
		return nil, fmt.Errorf("%w: tile index: %v", container.ErrCorrupt, err)
	}
	if uint64(len(raw)) != count*tileIndexEntrySize {
		return nil, fmt.Errorf("%w: tile index has %d bytes, want %d entries", container.ErrCorrupt, len(raw), count)
	}
	ti := make(tileIndex, count)
	for i := range ti {
		ti[i] = tileSpan{
			offset: binary.BigEndian.Uint64(raw[i*tileIndexEntrySize:]),
			length: binary.BigEndian.Uint32(raw[i*tileIndexEntrySize+8:]),
		}
	}
	return ti, nil
}
