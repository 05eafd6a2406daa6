package wfc

import (
	"errors"
	"fmt"

	"github.com/RumyantsevMichael/triangular-tiler/internal/tiles"
	"github.com/RumyantsevMichael/triangular-tiler/internal/trigrid"
)

var (
	ErrEdgeMismatch = errors.New("wfc: adjacent edges do not match")
	ErrCoverage     = errors.New("wfc: result does not cover the input")
)

// CheckEdgeConsistency verifies that every tile edge facing another placed
// tile matches that tile's edge facing back
func CheckEdgeConsistency(placed []PlacedTile) error {
	byKey := make(map[string]PlacedTile, len(placed))
	for _, p := range placed {
		byKey[trigrid.Key(p.Coord)] = p
	}

	for _, p := range placed {
		for _, edge := range trigrid.AllEdges() {
			n := trigrid.Neighbor(p.Coord, edge)
			other, ok := byKey[trigrid.Key(n)]
			if !ok {
				continue
			}
			back := trigrid.OppositeEdge(edge)
			if !tiles.EdgesCompatible(p.Tile.Edges[edge], other.Tile.Edges[back]) {
				return fmt.Errorf("%w: %s edge %d (%s %q) vs %s edge %d (%s %q)", ErrEdgeMismatch,
					trigrid.Key(p.Coord), edge, p.Tile.ID, p.Tile.Edges[edge],
					trigrid.Key(n), back, other.Tile.ID, other.Tile.Edges[back])
			}
		}
	}
	return nil
}

// CheckCoverage verifies that placed holds every coordinate exactly once
func CheckCoverage(coords []trigrid.Coord, placed []PlacedTile) error {
	want := make(map[trigrid.Coord]bool, len(coords))
	for _, c := range coords {
		want[c] = true
	}

	if len(placed) != len(want) {
		return fmt.Errorf("%w: %d tiles for %d coordinates", ErrCoverage, len(placed), len(want))
	}

	seen := make(map[trigrid.Coord]bool, len(placed))
	for _, p := range placed {
		if !want[p.Coord] {
			return fmt.Errorf("%w: unexpected coordinate %s", ErrCoverage, trigrid.Key(p.Coord))
		}
		if seen[p.Coord] {
			return fmt.Errorf("%w: coordinate %s placed twice", ErrCoverage, trigrid.Key(p.Coord))
		}
		seen[p.Coord] = true
	}
	return nil
}
