// Package tile implements the tile coordinate model: single coordinates,
// per-zoom bounding boxes, and multi-zoom bbox pyramids.
//
// Coordinates follow the XYZ ("slippy map") convention: at zoom z the map is
// a 2^z by 2^z grid, x grows east, y grows south, and (0,0) is the
// north-west corner.
package tile

import (
	"errors"
	"fmt"
)

// MaxZoom is the highest zoom level the coordinate model supports. It bounds
// index sizes and is pinned by the binary container format.
const MaxZoom = 24

// ErrInvalidZoom is returned when a zoom level is outside [0, MaxZoom].
var ErrInvalidZoom = errors.New("tile: invalid zoom level")

// Coord addresses a single tile. It is an immutable value type.
type Coord struct {
	Z uint8
	X uint32
	Y uint32
}

// New validates and creates a coordinate. The coordinate is valid iff
// z <= MaxZoom and x, y < 2^z.
func New(z uint8, x, y uint32) (Coord, error) {
	if z > MaxZoom {
		return Coord{}, fmt.Errorf("%w: %d > %d", ErrInvalidZoom, z, MaxZoom)
	}
	if max := uint32(1) << z; x >= max || y >= max {
		return Coord{}, fmt.Errorf("tile: coordinate %d/%d/%d out of range", z, x, y)
	}
	return Coord{Z: z, X: x, Y: y}, nil
}

// Valid reports whether the coordinate satisfies the New invariants.
func (c Coord) Valid() bool {
	_, err := New(c.Z, c.X, c.Y)
	return err == nil
}

// String formats the coordinate as "z/x/y".
func (c Coord) String() string {
	return fmt.Sprintf("%d/%d/%d", c.Z, c.X, c.Y)
}

// Parent returns the coordinate of the enclosing tile one zoom level up.
// The parent of a zoom-0 tile is the tile itself.
func (c Coord) Parent() Coord {
	if c.Z == 0 {
		return c
	}
	return Coord{Z: c.Z - 1, X: c.X >> 1, Y: c.Y >> 1}
}
