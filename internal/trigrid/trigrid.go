// Package trigrid describes the triangular grid the tiler fills: coordinates,
// edge adjacency and the canonical keys used to store cells in maps.
package trigrid

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var ErrInvalidKey = errors.New("trigrid: invalid coordinate key")

// Pointing is the orientation of a triangle
type Pointing int

const (
	Up Pointing = iota
	Down
)

// String returns the string representation of a Pointing
func (p Pointing) String() string {
	switch p {
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return "unknown"
	}
}

// ParsePointing converts "up" or "down" to a Pointing
func ParsePointing(s string) (Pointing, error) {
	switch s {
	case "up":
		return Up, nil
	case "down":
		return Down, nil
	default:
		return Up, fmt.Errorf("trigrid: unknown pointing %q", s)
	}
}

// Edge indexes one of the three sides of a triangle
type Edge int

const (
	Edge0 Edge = iota
	Edge1
	Edge2
)

// EdgeCount is the number of edges of every triangle
const EdgeCount = 3

// AllEdges returns the three edge indices in order
func AllEdges() []Edge {
	return []Edge{Edge0, Edge1, Edge2}
}

// Coord is a triangle on the grid. Two triangles with the same Q and R but
// different Pointing are distinct cells.
type Coord struct {
	Q, R     int
	Pointing Pointing
}

// String returns the coordinate key
func (c Coord) String() string {
	return Key(c)
}

// Neighbors returns the three coordinates across each edge of c, indexed by
// edge. Coordinates are not bounds checked; callers must tolerate neighbors
// that are not part of their cell set.
func Neighbors(c Coord) [EdgeCount]Coord {
	q, r := c.Q, c.R

	if c.Pointing == Up {
		return [EdgeCount]Coord{
			{Q: q - 1, R: r, Pointing: Down}, // left
			{Q: q, R: r + 1, Pointing: Down}, // right
			{Q: q, R: r - 1, Pointing: Up},   // bottom
		}
	}

	return [EdgeCount]Coord{
		{Q: q, R: r - 1, Pointing: Down}, // top
		{Q: q + 1, R: r, Pointing: Up},   // right
		{Q: q, R: r + 1, Pointing: Up},   // left
	}
}

// Neighbor returns the coordinate across a single edge of c
func Neighbor(c Coord, edge Edge) Coord {
	return Neighbors(c)[edge]
}

// OppositeEdge returns the edge of the neighbor across edge that faces back.
// With the ordering used by Neighbors the index is the same on both sides.
func OppositeEdge(edge Edge) Edge {
	return edge
}

// EnumerateGrid returns every triangle of a width x height rectangle, row by
// row, with the up triangle of each (q, r) before the down one.
func EnumerateGrid(width, height int) []Coord {
	if width <= 0 || height <= 0 {
		return []Coord{}
	}

	coords := make([]Coord, 0, 2*width*height)
	for r := 0; r < height; r++ {
		for q := 0; q < width; q++ {
			coords = append(coords,
				Coord{Q: q, R: r, Pointing: Up},
				Coord{Q: q, R: r, Pointing: Down},
			)
		}
	}
	return coords
}

// Key returns the canonical map key of a coordinate, e.g. "3,-1,up"
func Key(c Coord) string {
	return strconv.Itoa(c.Q) + "," + strconv.Itoa(c.R) + "," + c.Pointing.String()
}

// ParseKey is the inverse of Key
func ParseKey(key string) (Coord, error) {
	parts := strings.Split(key, ",")
	if len(parts) != 3 {
		return Coord{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	q, err := strconv.Atoi(parts[0])
	if err != nil {
		return Coord{}, fmt.Errorf("%w: %q: %v", ErrInvalidKey, key, err)
	}
	r, err := strconv.Atoi(parts[1])
	if err != nil {
		return Coord{}, fmt.Errorf("%w: %q: %v", ErrInvalidKey, key, err)
	}
	p, err := ParsePointing(parts[2])
	if err != nil {
		return Coord{}, fmt.Errorf("%w: %q: %v", ErrInvalidKey, key, err)
	}

	return Coord{Q: q, R: r, Pointing: p}, nil
}

// Position converts a coordinate to the world position of its triangle for a
// given tile size. Down triangles are shifted half a tile to the right.
func Position(c Coord, tileSize float64) (x, y float64) {
	height := tileSize * math.Sqrt(3) / 2
	x = float64(c.Q) * tileSize
	if c.Pointing == Down {
		x += tileSize / 2
	}
	y = float64(c.R) * height
	return x, y
}
