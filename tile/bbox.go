package tile

import (
	"fmt"
	"iter"
	"math"
)

// BBox is an inclusive rectangular range of tile coordinates at one zoom
// level. A bbox with XMax < XMin (or YMax < YMin) is empty; emptiness is a
// normal state, not an error.
type BBox struct {
	Z    uint8
	XMin uint32
	YMin uint32
	XMax uint32
	YMax uint32
}

// NewBBox validates and creates a bounding box. Bounds must lie within
// [0, 2^z); an empty box (min > max) is permitted.
func NewBBox(z uint8, xMin, yMin, xMax, yMax uint32) (BBox, error) {
	if z > MaxZoom {
		return BBox{}, fmt.Errorf("%w: %d > %d", ErrInvalidZoom, z, MaxZoom)
	}
	max := uint32(1) << z
	for _, v := range [4]uint32{xMin, yMin, xMax, yMax} {
		if v >= max {
			return BBox{}, fmt.Errorf("tile: bbox bound %d exceeds zoom %d grid", v, z)
		}
	}
	return BBox{Z: z, XMin: xMin, YMin: yMin, XMax: xMax, YMax: yMax}, nil
}

// EmptyBBox returns an empty bounding box at zoom z.
func EmptyBBox(z uint8) BBox {
	max := uint32(1)<<z - 1
	return BBox{Z: z, XMin: max, YMin: max, XMax: 0, YMax: 0}
}

// FullBBox returns the bounding box covering the whole zoom-z grid.
func FullBBox(z uint8) BBox {
	max := uint32(1)<<z - 1
	return BBox{Z: z, XMax: max, YMax: max}
}

// GeoBBox returns the bounding box at zoom z covering the geographic
// rectangle given in degrees (lonMin, latMin, lonMax, latMax), using the
// WebMercator projection.
func GeoBBox(z uint8, lonMin, latMin, lonMax, latMax float64) BBox {
	// Note the y flip: larger latitudes map to smaller rows.
	xMin, yMax := geoToTile(z, lonMin, latMin)
	xMax, yMin := geoToTile(z, lonMax, latMax)
	return BBox{Z: z, XMin: xMin, YMin: yMin, XMax: xMax, YMax: yMax}
}

func geoToTile(z uint8, lon, lat float64) (x, y uint32) {
	n := float64(uint64(1) << z)
	fx := (lon + 180) / 360 * n
	latRad := lat * math.Pi / 180
	fy := (1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2 * n
	clamp := func(v float64) uint32 {
		if v < 0 {
			return 0
		}
		if v >= n {
			return uint32(n - 1)
		}
		return uint32(v)
	}
	return clamp(fx), clamp(fy)
}

// IsEmpty reports whether the box contains no tiles.
func (b BBox) IsEmpty() bool {
	return b.XMax < b.XMin || b.YMax < b.YMin
}

// Count returns the number of tiles in the box.
func (b BBox) Count() uint64 {
	if b.IsEmpty() {
		return 0
	}
	return uint64(b.XMax-b.XMin+1) * uint64(b.YMax-b.YMin+1)
}

// Width returns the number of columns in the box, 0 when empty.
func (b BBox) Width() uint32 {
	if b.IsEmpty() {
		return 0
	}
	return b.XMax - b.XMin + 1
}

// Height returns the number of rows in the box, 0 when empty.
func (b BBox) Height() uint32 {
	if b.IsEmpty() {
		return 0
	}
	return b.YMax - b.YMin + 1
}

// Contains reports whether c lies inside the box. A coordinate at a
// different zoom level is never contained.
func (b BBox) Contains(c Coord) bool {
	return c.Z == b.Z &&
		c.X >= b.XMin && c.X <= b.XMax &&
		c.Y >= b.YMin && c.Y <= b.YMax
}

// Intersect returns the intersection of two boxes at the same zoom level.
// Intersecting boxes at different zoom levels yields an empty box.
func (b BBox) Intersect(o BBox) BBox {
	if b.Z != o.Z {
		return EmptyBBox(b.Z)
	}
	return BBox{
		Z:    b.Z,
		XMin: max(b.XMin, o.XMin),
		YMin: max(b.YMin, o.YMin),
		XMax: min(b.XMax, o.XMax),
		YMax: min(b.YMax, o.YMax),
	}
}

// Union returns the minimal box enclosing both boxes. Boxes at different
// zoom levels cannot be united; the receiver is returned unchanged.
func (b BBox) Union(o BBox) BBox {
	if b.Z != o.Z || o.IsEmpty() {
		return b
	}
	if b.IsEmpty() {
		return o
	}
	return BBox{
		Z:    b.Z,
		XMin: min(b.XMin, o.XMin),
		YMin: min(b.YMin, o.YMin),
		XMax: max(b.XMax, o.XMax),
		YMax: max(b.YMax, o.YMax),
	}
}

// Include returns the minimal box enclosing the receiver and c.
func (b BBox) Include(c Coord) BBox {
	if b.IsEmpty() {
		return BBox{Z: b.Z, XMin: c.X, YMin: c.Y, XMax: c.X, YMax: c.Y}
	}
	return BBox{
		Z:    b.Z,
		XMin: min(b.XMin, c.X),
		YMin: min(b.YMin, c.Y),
		XMax: max(b.XMax, c.X),
		YMax: max(b.YMax, c.Y),
	}
}

// Coords iterates all coordinates of the box in row-major order (y outer,
// x inner). The sequence is finite and restartable; an empty box yields
// nothing.
func (b BBox) Coords() iter.Seq[Coord] {
	return func(yield func(Coord) bool) {
		if b.IsEmpty() {
			return
		}
		for y := b.YMin; ; y++ {
			for x := b.XMin; ; x++ {
				if !yield(Coord{Z: b.Z, X: x, Y: y}) {
					return
				}
				if x == b.XMax {
					break
				}
			}
			if y == b.YMax {
				break
			}
		}
	}
}

// Index returns the row-major position of c within the box. The caller must
// ensure b.Contains(c).
func (b BBox) Index(c Coord) uint64 {
	return uint64(c.Y-b.YMin)*uint64(b.Width()) + uint64(c.X-b.XMin)
}

// CoordAt returns the coordinate at row-major position i within the box.
func (b BBox) CoordAt(i uint64) (Coord, error) {
	if i >= b.Count() {
		return Coord{}, fmt.Errorf("tile: index %d outside bbox %s", i, b)
	}
	w := uint64(b.Width())
	return Coord{Z: b.Z, X: b.XMin + uint32(i%w), Y: b.YMin + uint32(i/w)}, nil
}

// ScaleDown returns the box covering the receiver on a grid coarsened by
// factor (e.g. factor 256 maps tile coordinates to block coordinates).
// Factor must be a power of two.
func (b BBox) ScaleDown(factor uint32) BBox {
	if b.IsEmpty() {
		return b
	}
	return BBox{
		Z:    b.Z,
		XMin: b.XMin / factor,
		YMin: b.YMin / factor,
		XMax: b.XMax / factor,
		YMax: b.YMax / factor,
	}
}

// GeoBounds returns the geographic rectangle covered by the box in degrees
// (lonMin, latMin, lonMax, latMax), using the WebMercator projection. The
// bounds run along the outer tile edges.
func (b BBox) GeoBounds() (lonMin, latMin, lonMax, latMax float64) {
	if b.IsEmpty() {
		return 0, 0, 0, 0
	}
	lonMin, latMax = tileToGeo(b.Z, b.XMin, b.YMin)
	lonMax, latMin = tileToGeo(b.Z, b.XMax+1, b.YMax+1)
	return lonMin, latMin, lonMax, latMax
}

// tileToGeo returns the lon/lat of the north-west corner of tile (x, y).
func tileToGeo(z uint8, x, y uint32) (lon, lat float64) {
	n := float64(uint64(1) << z)
	lon = float64(x)/n*360 - 180
	lat = math.Atan(math.Sinh(math.Pi*(1-2*float64(y)/n))) * 180 / math.Pi
	return lon, lat
}

// String formats the box as "z: [xMin,yMin,xMax,yMax] (count)".
func (b BBox) String() string {
	return fmt.Sprintf("%d: [%d,%d,%d,%d] (%d)", b.Z, b.XMin, b.YMin, b.XMax, b.YMax, b.Count())
}
