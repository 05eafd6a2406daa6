// Package wfc fills a set of triangular grid cells with tiles using Wave
// Function Collapse: repeatedly collapse the cell with the fewest remaining
// options and propagate the edge constraints to its neighbors, restarting the
// whole attempt when a cell runs out of options.
package wfc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/RumyantsevMichael/triangular-tiler/internal/logger"
	"github.com/RumyantsevMichael/triangular-tiler/internal/tiles"
	"github.com/RumyantsevMichael/triangular-tiler/internal/trigrid"
)

// DefaultMaxAttempts is the number of attempts Generate makes by default
const DefaultMaxAttempts = 100

var (
	ErrContradiction    = errors.New("wfc: contradiction - no valid tiles for cell")
	ErrGenerationFailed = errors.New("wfc: failed to find valid solution")
	ErrInvalidAttempts  = errors.New("wfc: max attempts must be at least 1")

	// Construction errors come from the palette package
	ErrEmptyPalette = tiles.ErrEmptyPalette
	ErrInvalidTile  = tiles.ErrInvalidTile
)

// ContradictionError reports the cell that ran out of possible tiles
type ContradictionError struct {
	Coord   trigrid.Coord
	Attempt int
	Reason  string
}

func (e *ContradictionError) Error() string {
	return fmt.Sprintf("wfc: contradiction at %s: %s", trigrid.Key(e.Coord), e.Reason)
}

// Is makes errors.Is(err, ErrContradiction) match
func (e *ContradictionError) Is(target error) bool {
	return target == ErrContradiction
}

// GenerationFailedError is returned when every attempt contradicted
type GenerationFailedError struct {
	Attempts  int
	LastCause *ContradictionError
}

func (e *GenerationFailedError) Error() string {
	if e.LastCause == nil {
		return fmt.Sprintf("wfc: failed to generate after %d attempts", e.Attempts)
	}
	return fmt.Sprintf("wfc: failed to generate after %d attempts: %v", e.Attempts, e.LastCause)
}

// Is makes errors.Is(err, ErrGenerationFailed) match
func (e *GenerationFailedError) Is(target error) bool {
	return target == ErrGenerationFailed
}

func (e *GenerationFailedError) Unwrap() error {
	if e.LastCause == nil {
		return nil
	}
	return e.LastCause
}

// Rand is the source of randomness used for cell and tile selection.
// *rand.Rand satisfies it.
type Rand interface {
	Intn(n int) int
}

// NewRand returns a deterministic source for the given seed
func NewRand(seed int64) Rand {
	return rand.New(rand.NewSource(seed))
}

// PlacedTile is a solved cell
type PlacedTile struct {
	Coord trigrid.Coord
	Tile  tiles.Definition
}

// Result is the outcome of a successful Solve
type Result struct {
	Tiles    []PlacedTile
	Attempts int
}

// Solver implements Wave Function Collapse over triangular cells. The palette
// is read-only and may be shared between solvers; a Solver itself owns its
// random source and must not be used from several goroutines at once.
type Solver struct {
	palette tiles.Palette
	rng     Rand

	// compat[self][other][t] is the set of tiles whose edge `other` may touch
	// edge `self` of tile t
	compat [trigrid.EdgeCount][trigrid.EdgeCount][]tileSet
}

// NewSolver creates a solver for the palette. A nil rng uses a time seed.
func NewSolver(palette tiles.Palette, rng Rand) (*Solver, error) {
	if err := tiles.Validate(palette); err != nil {
		return nil, err
	}
	if rng == nil {
		rng = NewRand(time.Now().UnixNano())
	}

	s := &Solver{
		palette: palette,
		rng:     rng,
	}
	s.buildCompat()
	return s, nil
}

// Palette returns the tiles the solver chooses from
func (s *Solver) Palette() tiles.Palette {
	return s.palette
}

// buildCompat precomputes edge compatibility masks for every edge pairing
func (s *Solver) buildCompat() {
	n := len(s.palette)
	for self := 0; self < trigrid.EdgeCount; self++ {
		for other := 0; other < trigrid.EdgeCount; other++ {
			masks := make([]tileSet, n)
			for t := 0; t < n; t++ {
				mask := newTileSet(n)
				want := s.palette[t].Edges[self]
				for u := 0; u < n; u++ {
					if tiles.EdgesCompatible(want, s.palette[u].Edges[other]) {
						mask.add(u)
					}
				}
				masks[t] = mask
			}
			s.compat[self][other] = masks
		}
	}
}

// Generate fills coords with tiles, retrying up to maxAttempts times.
// The result preserves the order of coords.
func (s *Solver) Generate(ctx context.Context, coords []trigrid.Coord, maxAttempts int) ([]PlacedTile, error) {
	res, err := s.Solve(ctx, coords, maxAttempts)
	if err != nil {
		return nil, err
	}
	return res.Tiles, nil
}

// Solve is Generate that also reports how many attempts were needed
func (s *Solver) Solve(ctx context.Context, coords []trigrid.Coord, maxAttempts int) (*Result, error) {
	if maxAttempts < 1 {
		return nil, ErrInvalidAttempts
	}

	topo := newTopology(coords)
	var lastCause *ContradictionError

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		placed, err := s.newAttempt(topo).run(ctx)
		if err == nil {
			logger.Debug("Generation solved", "cells", len(placed), "attempts", attempt)
			return &Result{Tiles: placed, Attempts: attempt}, nil
		}

		var ce *ContradictionError
		if !errors.As(err, &ce) {
			return nil, err
		}
		ce.Attempt = attempt
		lastCause = ce
		logger.Debug("Generation attempt contradicted",
			"attempt", attempt,
			"coord", trigrid.Key(ce.Coord),
			"reason", ce.Reason)
	}

	return nil, &GenerationFailedError{Attempts: maxAttempts, LastCause: lastCause}
}

// arc is one side of an edge relation between two cells
type arc struct {
	to    int
	self  trigrid.Edge // edge of the source cell
	other trigrid.Edge // edge of the target cell
}

// topology is the adjacency of a coordinate list, shared by all attempts
type topology struct {
	coords []trigrid.Coord
	keys   []string
	index  map[string]int
	arcs   [][]arc
}

// newTopology indexes coords by key and links every pair of cells related by
// an edge. A relation is followed from both cells, so constraints flow both
// ways even where the neighbor mapping is not mutual. Duplicate coordinates
// keep their first position.
func newTopology(coords []trigrid.Coord) *topology {
	t := &topology{
		coords: make([]trigrid.Coord, 0, len(coords)),
		keys:   make([]string, 0, len(coords)),
		index:  make(map[string]int, len(coords)),
	}

	for _, c := range coords {
		key := trigrid.Key(c)
		if i, ok := t.index[key]; ok {
			t.coords[i] = c
			continue
		}
		t.index[key] = len(t.coords)
		t.coords = append(t.coords, c)
		t.keys = append(t.keys, key)
	}

	t.arcs = make([][]arc, len(t.coords))
	seen := make(map[[2]int]map[arc]bool)
	link := func(from int, a arc) {
		k := [2]int{from, a.to}
		if seen[k] == nil {
			seen[k] = make(map[arc]bool)
		}
		if seen[k][a] {
			return
		}
		seen[k][a] = true
		t.arcs[from] = append(t.arcs[from], a)
	}

	for i, c := range t.coords {
		for e, n := range trigrid.Neighbors(c) {
			j, ok := t.index[trigrid.Key(n)]
			if !ok || j == i {
				continue
			}
			edge := trigrid.Edge(e)
			back := trigrid.OppositeEdge(edge)
			link(i, arc{to: j, self: edge, other: back})
			link(j, arc{to: i, self: back, other: edge})
		}
	}

	return t
}

// cell is the solver state of one coordinate during an attempt
type cell struct {
	possible  tileSet
	collapsed bool
	tile      int
}

// attempt holds the wave for a single Initializing -> Solving run
type attempt struct {
	s     *Solver
	topo  *topology
	cells []cell
}

func (s *Solver) newAttempt(topo *topology) *attempt {
	a := &attempt{
		s:     s,
		topo:  topo,
		cells: make([]cell, len(topo.coords)),
	}
	for i := range a.cells {
		a.cells[i] = cell{possible: fullTileSet(len(s.palette)), tile: -1}
	}
	return a
}

// run executes the collapse/propagate loop until every cell is collapsed
func (a *attempt) run(ctx context.Context) ([]PlacedTile, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		i, err := a.selectCell()
		if err != nil {
			return nil, err
		}
		if i < 0 {
			return a.placed(), nil
		}

		a.collapse(i)

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := a.propagate(i); err != nil {
			return nil, err
		}
	}
}

// selectCell returns a random uncollapsed cell of minimum entropy, or -1 if
// every cell is collapsed
func (a *attempt) selectCell() (int, error) {
	minEntropy := math.MaxInt
	var candidates []int

	for i := range a.cells {
		c := &a.cells[i]
		if c.collapsed {
			continue
		}

		entropy := c.possible.count()
		if entropy == 0 {
			return -1, &ContradictionError{Coord: a.topo.coords[i], Reason: "no valid tiles"}
		}

		if entropy < minEntropy {
			minEntropy = entropy
			candidates = append(candidates[:0], i)
		} else if entropy == minEntropy {
			candidates = append(candidates, i)
		}
	}

	if len(candidates) == 0 {
		return -1, nil
	}
	return candidates[a.s.rng.Intn(len(candidates))], nil
}

// collapse commits the cell to one of its remaining tiles
func (a *attempt) collapse(i int) {
	c := &a.cells[i]
	options := c.possible.indices()
	chosen := options[a.s.rng.Intn(len(options))]

	c.tile = chosen
	c.collapsed = true
	c.possible.clear()
	c.possible.add(chosen)
}

// propagate narrows neighbors of start until no possibility set changes.
// It uses an explicit stack; a cell whose set shrinks is pushed again even if
// it was already handled in this sweep.
func (a *attempt) propagate(start int) error {
	stack := []int{start}
	visited := make(map[string]bool)

	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		key := a.topo.keys[i]
		if visited[key] {
			continue
		}
		visited[key] = true

		for _, ar := range a.topo.arcs[i] {
			neighbor := &a.cells[ar.to]
			if neighbor.collapsed {
				continue
			}

			allowed := a.allowed(a.cells[i].possible, ar)
			if !neighbor.possible.intersectWith(allowed) {
				continue
			}

			if neighbor.possible.empty() {
				reason := fmt.Sprintf("no tile matches edge %d of %s", ar.self, key)
				return &ContradictionError{Coord: a.topo.coords[ar.to], Reason: reason}
			}

			delete(visited, a.topo.keys[ar.to])
			stack = append(stack, ar.to)
		}
	}

	return nil
}

// allowed returns every tile that may sit across the arc from a cell that
// can still be any tile in possible
func (a *attempt) allowed(possible tileSet, ar arc) tileSet {
	masks := a.s.compat[ar.self][ar.other]
	out := newTileSet(len(a.s.palette))
	for _, t := range possible.indices() {
		out.unionWith(masks[t])
	}
	return out
}

// placed returns the solved tiles in coordinate order
func (a *attempt) placed() []PlacedTile {
	result := make([]PlacedTile, 0, len(a.cells))
	for i, c := range a.cells {
		if !c.collapsed {
			continue
		}
		result = append(result, PlacedTile{
			Coord: a.topo.coords[i],
			Tile:  a.s.palette[c.tile],
		})
	}
	return result
}
