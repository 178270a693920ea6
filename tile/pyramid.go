package tile

import (
	"iter"
	"strings"
)

// Pyramid maps zoom levels to bounding boxes, describing which tile
// coordinates a container covers. At most one bbox exists per zoom; the set
// of populated zoom levels need not be contiguous.
//
// A Pyramid is mutated only while it is being built (from a coordinate set
// or an index scan); once a container hands it out it is treated as
// read-only and is safe to share across goroutines.
type Pyramid struct {
	levels  [MaxZoom + 1]BBox
	present [MaxZoom + 1]bool
}

// NewPyramid returns an empty pyramid.
func NewPyramid() *Pyramid {
	return &Pyramid{}
}

// FullPyramid returns a pyramid covering every tile from zoom zMin through
// zMax.
func FullPyramid(zMin, zMax uint8) *Pyramid {
	p := &Pyramid{}
	for z := zMin; z <= zMax && z <= MaxZoom; z++ {
		p.SetLevel(FullBBox(z))
	}
	return p
}

// Include grows the zoom level of c to enclose it.
func (p *Pyramid) Include(c Coord) {
	if c.Z > MaxZoom {
		return
	}
	if !p.present[c.Z] {
		p.levels[c.Z] = EmptyBBox(c.Z)
		p.present[c.Z] = true
	}
	p.levels[c.Z] = p.levels[c.Z].Include(c)
}

// SetLevel replaces the bbox for its zoom level. Empty boxes clear the level.
func (p *Pyramid) SetLevel(b BBox) {
	if b.Z > MaxZoom {
		return
	}
	if b.IsEmpty() {
		p.present[b.Z] = false
		return
	}
	p.levels[b.Z] = b
	p.present[b.Z] = true
}

// Level returns the bbox for zoom z, and whether the level is populated.
func (p *Pyramid) Level(z uint8) (BBox, bool) {
	if z > MaxZoom || !p.present[z] {
		return EmptyBBox(min(z, MaxZoom)), false
	}
	return p.levels[z], true
}

// Contains reports whether c lies inside the pyramid.
func (p *Pyramid) Contains(c Coord) bool {
	if c.Z > MaxZoom || !p.present[c.Z] {
		return false
	}
	return p.levels[c.Z].Contains(c)
}

// Count returns the total number of tiles across all levels.
func (p *Pyramid) Count() uint64 {
	var n uint64
	for z := range p.levels {
		if p.present[z] {
			n += p.levels[z].Count()
		}
	}
	return n
}

// IsEmpty reports whether no level is populated.
func (p *Pyramid) IsEmpty() bool {
	for _, ok := range p.present {
		if ok {
			return false
		}
	}
	return true
}

// ZoomMin returns the lowest populated zoom level; ok is false for an empty
// pyramid.
func (p *Pyramid) ZoomMin() (uint8, bool) {
	for z := 0; z <= MaxZoom; z++ {
		if p.present[z] {
			return uint8(z), true
		}
	}
	return 0, false
}

// ZoomMax returns the highest populated zoom level; ok is false for an empty
// pyramid.
func (p *Pyramid) ZoomMax() (uint8, bool) {
	for z := MaxZoom; z >= 0; z-- {
		if p.present[z] {
			return uint8(z), true
		}
	}
	return 0, false
}

// Levels iterates the populated bboxes in ascending zoom order.
func (p *Pyramid) Levels() iter.Seq[BBox] {
	return func(yield func(BBox) bool) {
		for z := 0; z <= MaxZoom; z++ {
			if p.present[z] && !yield(p.levels[z]) {
				return
			}
		}
	}
}

// Intersect returns a new pyramid restricted to the levels and bounds both
// pyramids share.
func (p *Pyramid) Intersect(o *Pyramid) *Pyramid {
	out := NewPyramid()
	for z := 0; z <= MaxZoom; z++ {
		if p.present[z] && o.present[z] {
			out.SetLevel(p.levels[z].Intersect(o.levels[z]))
		}
	}
	return out
}

// Union returns a new pyramid enclosing both pyramids.
func (p *Pyramid) Union(o *Pyramid) *Pyramid {
	out := NewPyramid()
	for z := 0; z <= MaxZoom; z++ {
		switch {
		case p.present[z] && o.present[z]:
			out.SetLevel(p.levels[z].Union(o.levels[z]))
		case p.present[z]:
			out.SetLevel(p.levels[z])
		case o.present[z]:
			out.SetLevel(o.levels[z])
		}
	}
	return out
}

// LimitZoom drops levels outside [zMin, zMax].
func (p *Pyramid) LimitZoom(zMin, zMax uint8) {
	for z := 0; z <= MaxZoom; z++ {
		if uint8(z) < zMin || uint8(z) > zMax {
			p.present[z] = false
		}
	}
}

// LimitGeo intersects every level with the geographic rectangle given in
// degrees.
func (p *Pyramid) LimitGeo(lonMin, latMin, lonMax, latMax float64) {
	for z := 0; z <= MaxZoom; z++ {
		if p.present[z] {
			p.SetLevel(p.levels[z].Intersect(GeoBBox(uint8(z), lonMin, latMin, lonMax, latMax)))
		}
	}
}

// GeoBounds returns the geographic rectangle covered by the highest
// populated zoom level, which carries the most precise bounds. ok is false
// for an empty pyramid.
func (p *Pyramid) GeoBounds() (lonMin, latMin, lonMax, latMax float64, ok bool) {
	z, ok := p.ZoomMax()
	if !ok {
		return 0, 0, 0, 0, false
	}
	lonMin, latMin, lonMax, latMax = p.levels[z].GeoBounds()
	return lonMin, latMin, lonMax, latMax, true
}

// Clone returns an independent copy.
func (p *Pyramid) Clone() *Pyramid {
	out := *p
	return &out
}

// String lists the populated levels, one bbox per line.
func (p *Pyramid) String() string {
	var sb strings.Builder
	for b := range p.Levels() {
		sb.WriteString(b.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}
