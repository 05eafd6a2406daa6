// Package mapfile is the exchange format for solved maps: YAML on disk for
// the CLI and JSON over HTTP for tilerd.
package mapfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/RumyantsevMichael/triangular-tiler/internal/tiles"
	"github.com/RumyantsevMichael/triangular-tiler/internal/trigrid"
	"github.com/RumyantsevMichael/triangular-tiler/internal/wfc"
)

var ErrUnknownTile = errors.New("mapfile: tile not in palette")

// Document is a solved map in exchange form
type Document struct {
	Width              int            `json:"width" yaml:"width"`
	Height             int            `json:"height" yaml:"height"`
	Seed               int64          `json:"seed" yaml:"seed"`
	Attempts           int            `json:"attempts" yaml:"attempts"`
	DurationMS         int64          `json:"duration_ms" yaml:"duration_ms"`
	PaletteFingerprint string         `json:"palette_fingerprint" yaml:"palette_fingerprint"`
	Counts             map[string]int `json:"counts" yaml:"counts"`
	Tiles              []TileRecord   `json:"tiles" yaml:"tiles"`
}

// TileRecord is one placed triangle
type TileRecord struct {
	Key      string   `json:"key" yaml:"key"`
	Q        int      `json:"q" yaml:"q"`
	R        int      `json:"r" yaml:"r"`
	Pointing string   `json:"pointing" yaml:"pointing"`
	Tile     string   `json:"tile" yaml:"tile"`
	Base     string   `json:"base" yaml:"base"`
	Rotation int      `json:"rotation" yaml:"rotation"`
	Edges    []string `json:"edges" yaml:"edges,flow"`
}

// FromMap converts a generated map, keeping the solver's tile order
func FromMap(m *wfc.GeneratedMap) *Document {
	doc := &Document{
		Width:              m.Width,
		Height:             m.Height,
		Seed:               m.Seed,
		Attempts:           m.Attempts,
		DurationMS:         m.Duration.Milliseconds(),
		PaletteFingerprint: m.PaletteFingerprint,
		Counts:             m.CountByBase(),
		Tiles:              make([]TileRecord, 0, len(m.Tiles)),
	}

	for _, p := range m.Tiles {
		edges := make([]string, len(p.Tile.Edges))
		for i, e := range p.Tile.Edges {
			edges[i] = string(e)
		}
		doc.Tiles = append(doc.Tiles, TileRecord{
			Key:      trigrid.Key(p.Coord),
			Q:        p.Coord.Q,
			R:        p.Coord.R,
			Pointing: p.Coord.Pointing.String(),
			Tile:     p.Tile.ID,
			Base:     p.Tile.Base(),
			Rotation: p.Tile.Rotation,
			Edges:    edges,
		})
	}
	return doc
}

// Placed resolves the records back to tiles of the given palette
func (d *Document) Placed(palette tiles.Palette) ([]wfc.PlacedTile, error) {
	placed := make([]wfc.PlacedTile, 0, len(d.Tiles))
	for _, rec := range d.Tiles {
		c, err := trigrid.ParseKey(rec.Key)
		if err != nil {
			return nil, err
		}
		t, ok := palette.Lookup(rec.Tile)
		if !ok {
			return nil, fmt.Errorf("%w: %q at %s", ErrUnknownTile, rec.Tile, rec.Key)
		}
		placed = append(placed, wfc.PlacedTile{Coord: c, Tile: t})
	}
	return placed, nil
}

// WriteYAML writes the document with a short comment header
func WriteYAML(w io.Writer, d *Document) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# Triangle map %dx%d\n", d.Width, d.Height)
	fmt.Fprintf(&buf, "# Generated with seed: %d\n", d.Seed)
	fmt.Fprintf(&buf, "# Tile count: %d\n\n", len(d.Tiles))

	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(orderedDocument(d)); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}

	_, err := w.Write(buf.Bytes())
	return err
}

// WriteYAMLFile writes the document to path
func WriteYAMLFile(path string, d *Document) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := WriteYAML(f, d); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadYAMLFile loads a document written by WriteYAMLFile
func ReadYAMLFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read map file: %w", err)
	}

	var d Document
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse map file %s: %w", path, err)
	}
	return &d, nil
}

// orderedDocument sorts counts by base id so the output is stable
func orderedDocument(d *Document) *yamlDocument {
	bases := make([]string, 0, len(d.Counts))
	for base := range d.Counts {
		bases = append(bases, base)
	}
	sort.Strings(bases)

	counts := yaml.Node{Kind: yaml.MappingNode}
	for _, base := range bases {
		counts.Content = append(counts.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: base},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: fmt.Sprint(d.Counts[base])},
		)
	}

	return &yamlDocument{
		Width:              d.Width,
		Height:             d.Height,
		Seed:               d.Seed,
		Attempts:           d.Attempts,
		DurationMS:         d.DurationMS,
		PaletteFingerprint: d.PaletteFingerprint,
		Counts:             counts,
		Tiles:              d.Tiles,
	}
}

type yamlDocument struct {
	Width              int          `yaml:"width"`
	Height             int          `yaml:"height"`
	Seed               int64        `yaml:"seed"`
	Attempts           int          `yaml:"attempts"`
	DurationMS         int64        `yaml:"duration_ms"`
	PaletteFingerprint string       `yaml:"palette_fingerprint"`
	Counts             yaml.Node    `yaml:"counts"`
	Tiles              []TileRecord `yaml:"tiles"`
}
