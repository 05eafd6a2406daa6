// Package tiles defines triangular tile definitions, their rotations and the
// edge-matching rule that decides which tiles may sit next to each other.
package tiles

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyPalette = errors.New("tiles: palette is empty")
	ErrInvalidTile  = errors.New("tiles: invalid tile definition")
)

// EdgeType labels one side of a tile. Edges connect only to equal labels.
type EdgeType string

// Metadata holds free-form rendering hints such as "color" or "description"
type Metadata map[string]any

// Definition is a single tile variant
type Definition struct {
	ID       string
	Name     string
	Edges    [3]EdgeType // edge 0, 1, 2 going clockwise
	Rotation int         // 0, 1 or 2 steps of 120 degrees relative to BaseID
	BaseID   string      // empty for unrotated base tiles
	Metadata Metadata
}

// IsRotated returns true if the tile was derived from a base tile
func (d Definition) IsRotated() bool {
	return d.BaseID != ""
}

// Base returns the id of the unrotated source tile
func (d Definition) Base() string {
	if d.BaseID != "" {
		return d.BaseID
	}
	return d.ID
}

// Color returns the "color" metadata as RGB components in [0, 1]
func (d Definition) Color() (r, g, b float64, ok bool) {
	raw, exists := d.Metadata["color"]
	if !exists {
		return 0, 0, 0, false
	}

	var comps []float64
	switch v := raw.(type) {
	case []float64:
		comps = v
	case [3]float64:
		comps = v[:]
	case []any:
		for _, c := range v {
			switch n := c.(type) {
			case float64:
				comps = append(comps, n)
			case int:
				comps = append(comps, float64(n))
			default:
				return 0, 0, 0, false
			}
		}
	default:
		return 0, 0, 0, false
	}

	if len(comps) != 3 {
		return 0, 0, 0, false
	}
	return comps[0], comps[1], comps[2], true
}

// Description returns the "description" metadata, if any
func (d Definition) Description() string {
	if s, ok := d.Metadata["description"].(string); ok {
		return s
	}
	return ""
}

// validate checks the fields the solver relies on
func (d Definition) validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidTile)
	}
	for i, e := range d.Edges {
		if e == "" {
			return fmt.Errorf("%w: tile %q has empty edge %d", ErrInvalidTile, d.ID, i)
		}
	}
	if d.Rotation < 0 || d.Rotation > 2 {
		return fmt.Errorf("%w: tile %q has rotation %d", ErrInvalidTile, d.ID, d.Rotation)
	}
	return nil
}

// EdgesCompatible returns true if two edges may touch
func EdgesCompatible(a, b EdgeType) bool {
	return a == b
}

// Rotate returns the tile followed by its 120 and 240 degree rotations.
// Variant ids are derived from the base id ("road_bend_r1", "road_bend_r2").
func Rotate(base Definition) [3]Definition {
	e := base.Edges

	r1 := base
	r1.ID = fmt.Sprintf("%s_r1", base.ID)
	r1.Edges = [3]EdgeType{e[2], e[0], e[1]}
	r1.Rotation = 1
	r1.BaseID = base.ID
	r1.Metadata = cloneMetadata(base.Metadata)

	r2 := base
	r2.ID = fmt.Sprintf("%s_r2", base.ID)
	r2.Edges = [3]EdgeType{e[1], e[2], e[0]}
	r2.Rotation = 2
	r2.BaseID = base.ID
	r2.Metadata = cloneMetadata(base.Metadata)

	return [3]Definition{base, r1, r2}
}

func cloneMetadata(m Metadata) Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
