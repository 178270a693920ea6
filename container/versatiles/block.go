package versatiles

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/tilekit/tilekit/blob"
	"github.com/tilekit/tilekit/container"
	"github.com/tilekit/tilekit/tile"
)

// blockKey addresses one block on the coarsened grid (tile coordinates
// shifted right by blockShift).
type blockKey struct {
	z uint8
	x uint32
	y uint32
}

func blockKeyFor(c tile.Coord) blockKey {
	return blockKey{z: c.Z, x: c.X >> blockShift, y: c.Y >> blockShift}
}

// blockDef describes one block: which tiles it covers and where its data and
// tile index live in the archive. The tile index is stored immediately after
// the block data.
type blockDef struct {
	key blockKey

	// bbox is the tight bounding box of present tiles, in global tile
	// coordinates. Its span never crosses a block boundary.
	bbox tile.BBox

	// dataSpan is the absolute byte range of the concatenated tile payloads.
	dataSpan span

	// indexLength is the byte length of the compressed tile index stored at
	// dataSpan.offset + dataSpan.length.
	indexLength uint32
}

func (b blockDef) indexSpan() span {
	return span{offset: b.dataSpan.offset + b.dataSpan.length, length: uint64(b.indexLength)}
}

// Serialized layout: z u8, blockX u32, blockY u32, local bbox xMin yMin xMax
// yMax u8 each, data offset u64, data length u64, tile index length u32.
func (b blockDef) encode(dst []byte) {
	base := tile.Coord{Z: b.key.z, X: b.key.x << blockShift, Y: b.key.y << blockShift}
	dst[0] = b.key.z
	binary.BigEndian.PutUint32(dst[1:5], b.key.x)
	binary.BigEndian.PutUint32(dst[5:9], b.key.y)
	dst[9] = uint8(b.bbox.XMin - base.X)
	dst[10] = uint8(b.bbox.YMin - base.Y)
	dst[11] = uint8(b.bbox.XMax - base.X)
	dst[12] = uint8(b.bbox.YMax - base.Y)
	binary.BigEndian.PutUint64(dst[13:21], b.dataSpan.offset)
	binary.BigEndian.PutUint64(dst[21:29], b.dataSpan.length)
	binary.BigEndian.PutUint32(dst[29:33], b.indexLength)
}

func decodeBlockDef(buf []byte) (blockDef, error) {
	z := buf[0]
	bx := binary.BigEndian.Uint32(buf[1:5])
	by := binary.BigEndian.Uint32(buf[5:9])
	if z > tile.MaxZoom || uint64(bx)<<blockShift >= 1<<z || uint64(by)<<blockShift >= 1<<z {
		// Zoom levels below blockShift fit in a single block at (0,0).
		if z > tile.MaxZoom || bx > 0 || by > 0 {
			return blockDef{}, fmt.Errorf("%w: block %d/%d/%d outside grid", container.ErrCorrupt, z, bx, by)
		}
	}
	baseX := bx << blockShift
	baseY := by << blockShift
	bbox, err := tile.NewBBox(z,
		baseX+uint32(buf[9]), baseY+uint32(buf[10]),
		baseX+uint32(buf[11]), baseY+uint32(buf[12]))
	if err != nil {
		return blockDef{}, fmt.Errorf("%w: block %d/%d/%d bbox: %v", container.ErrCorrupt, z, bx, by, err)
	}
	if bbox.IsEmpty() {
		return blockDef{}, fmt.Errorf("%w: block %d/%d/%d has empty bbox", container.ErrCorrupt, z, bx, by)
	}
	def := blockDef{
		key:  blockKey{z: z, x: bx, y: by},
		bbox: bbox,
		dataSpan: span{
			offset: binary.BigEndian.Uint64(buf[13:21]),
			length: binary.BigEndian.Uint64(buf[21:29]),
		},
		indexLength: binary.BigEndian.Uint32(buf[29:33]),
	}
	return def, nil
}

// blockIndex is the global directory of blocks, loaded whole at open.
type blockIndex struct {
	blocks map[blockKey]blockDef
}

func newBlockIndex() *blockIndex {
	return &blockIndex{blocks: make(map[blockKey]blockDef)}
}

func (bi *blockIndex) add(def blockDef) {
	bi.blocks[def.key] = def
}

func (bi *blockIndex) get(k blockKey) (blockDef, bool) {
	def, ok := bi.blocks[k]
	return def, ok
}

func (bi *blockIndex) len() int {
	return len(bi.blocks)
}

// encode serializes the block definitions sorted by (z, y, x) and compresses
// the result with brotli.
func (bi *blockIndex) encode() ([]byte, error) {
	keys := make([]blockKey, 0, len(bi.blocks))
	for k := range bi.blocks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.z != b.z {
			return a.z < b.z
		}
		if a.y != b.y {
			return a.y < b.y
		}
		return a.x < b.x
	})
	buf := make([]byte, len(keys)*blockDefSize)
	for i, k := range keys {
		bi.blocks[k].encode(buf[i*blockDefSize:])
	}
	compressed, err := blob.Compress(buf, blob.CompressionBrotli)
	if err != nil {
		return nil, err
	}
	return compressed.Bytes(), nil
}

// decodeBlockIndex parses a brotli-compressed block index blob.
func decodeBlockIndex(data []byte) (*blockIndex, error) {
	raw, err := blob.Decompress(blob.New(data, blob.CompressionBrotli))
	if err != nil {
		return nil, fmt.Errorf("%w: block index: %v", container.ErrCorrupt, err)
	}
	if len(raw)%blockDefSize != 0 {
		return nil, fmt.Errorf("%w: block index length %d not a multiple of %d", container.ErrCorrupt, len(raw), blockDefSize)
	}
	bi := newBlockIndex()
	for off := 0; off < len(raw); off += blockDefSize {
		def, err := decodeBlockDef(raw[off : off+blockDefSize])
		if err != nil {
			return nil, err
		}
		bi.add(def)
	}
	return bi, nil
}

// pyramid derives the per-zoom coverage from the block bboxes.
func (bi *blockIndex) pyramid() *tile.Pyramid {
	p := tile.NewPyramid()
	for _, def := range bi.blocks {
		level, _ := p.Level(def.bbox.Z)
		p.SetLevel(level.Union(def.bbox))
	}
	return p
}
