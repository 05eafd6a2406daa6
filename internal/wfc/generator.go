package wfc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RumyantsevMichael/triangular-tiler/internal/logger"
	"github.com/RumyantsevMichael/triangular-tiler/internal/tiles"
	"github.com/RumyantsevMichael/triangular-tiler/internal/trigrid"
)

var ErrInvalidSize = errors.New("wfc: invalid grid size")

// MapConfig contains parameters for generating a rectangular map
type MapConfig struct {
	Width       int   // Columns of (up, down) triangle pairs
	Height      int   // Rows
	Seed        int64 // 0 picks a time based seed
	MaxAttempts int   // Attempts before giving up
}

// DefaultMapConfig returns a config with the default attempt budget
func DefaultMapConfig(width, height int, seed int64) *MapConfig {
	return &MapConfig{
		Width:       width,
		Height:      height,
		Seed:        seed,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// GeneratedMap is the output of a generation session
type GeneratedMap struct {
	Width, Height      int
	Seed               int64
	Tiles              []PlacedTile
	Attempts           int
	Duration           time.Duration
	PaletteFingerprint string
}

// Generator runs map generation sessions over a fixed palette
type Generator struct {
	palette     tiles.Palette
	fingerprint string
}

// NewGenerator creates a generator for the palette
func NewGenerator(palette tiles.Palette) (*Generator, error) {
	if err := tiles.Validate(palette); err != nil {
		return nil, err
	}
	return &Generator{
		palette:     palette,
		fingerprint: tiles.Fingerprint(palette),
	}, nil
}

// Palette returns the generator's palette
func (g *Generator) Palette() tiles.Palette {
	return g.palette
}

// Fingerprint returns the palette fingerprint
func (g *Generator) Fingerprint() string {
	return g.fingerprint
}

// Generate solves a width x height map. The seed actually used is recorded in
// the result so the map can be reproduced. On failure the returned error is
// the solver's; a *GenerationFailedError reports the attempts spent.
func (g *Generator) Generate(ctx context.Context, cfg *MapConfig) (*GeneratedMap, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSize, cfg.Width, cfg.Height)
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = NewSeed()
	}

	solver, err := NewSolver(g.palette, NewRand(seed))
	if err != nil {
		return nil, err
	}

	start := time.Now()
	coords := trigrid.EnumerateGrid(cfg.Width, cfg.Height)
	res, err := solver.Solve(ctx, coords, maxAttempts)
	elapsed := time.Since(start)

	if err != nil {
		logger.Warning("Map generation failed",
			"width", cfg.Width,
			"height", cfg.Height,
			"seed", seed,
			"duration", elapsed,
			"error", err)
		return nil, err
	}

	logger.Info("Map generated",
		"width", cfg.Width,
		"height", cfg.Height,
		"seed", seed,
		"tiles", len(res.Tiles),
		"attempts", res.Attempts,
		"duration", elapsed)

	return &GeneratedMap{
		Width:              cfg.Width,
		Height:             cfg.Height,
		Seed:               seed,
		Tiles:              res.Tiles,
		Attempts:           res.Attempts,
		Duration:           elapsed,
		PaletteFingerprint: g.fingerprint,
	}, nil
}

// NewSeed returns a fresh time based seed. Callers that need to record the
// seed of a run that may fail pick it up front with this.
func NewSeed() int64 {
	return time.Now().UnixNano()
}

// CountByBase returns how many placed tiles derive from each base tile
func (m *GeneratedMap) CountByBase() map[string]int {
	counts := make(map[string]int)
	for _, p := range m.Tiles {
		counts[p.Tile.Base()]++
	}
	return counts
}
