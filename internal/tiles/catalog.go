package tiles

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Edge labels used by the built-in catalog
const (
	EdgeGrass EdgeType = "grass"
	EdgeRoad  EdgeType = "road"
)

// DefaultBaseTiles returns the built-in grass and road tiles. Between them and
// their rotations every combination of grass and road edges is available.
func DefaultBaseTiles() []Definition {
	return []Definition{
		{
			ID:    "grass",
			Name:  "Grass",
			Edges: [3]EdgeType{EdgeGrass, EdgeGrass, EdgeGrass},
			Metadata: Metadata{
				"color":       []float64{0.3, 0.7, 0.3},
				"description": "A tile fully covered with grass",
			},
		},
		{
			ID:    "road_cross",
			Name:  "Road Crossroad",
			Edges: [3]EdgeType{EdgeRoad, EdgeRoad, EdgeRoad},
			Metadata: Metadata{
				"color":       []float64{0.35, 0.35, 0.35},
				"description": "A three-way crossroad",
			},
		},
		{
			ID:    "road_bend",
			Name:  "Road Bend",
			Edges: [3]EdgeType{EdgeRoad, EdgeRoad, EdgeGrass},
			Metadata: Metadata{
				"color":       []float64{0.4, 0.4, 0.4},
				"description": "A road bend with one grass edge",
			},
		},
		{
			ID:    "road_end",
			Name:  "Road End",
			Edges: [3]EdgeType{EdgeRoad, EdgeGrass, EdgeGrass},
			Metadata: Metadata{
				"color":       []float64{0.45, 0.45, 0.45},
				"description": "A road dead end",
			},
		},
	}
}

// CatalogEntry is a base tile as written in a catalog file
type CatalogEntry struct {
	ID          string         `yaml:"id"`
	Name        string         `yaml:"name,omitempty"`
	Edges       []string       `yaml:"edges"`
	Color       []float64      `yaml:"color,omitempty"`
	Description string         `yaml:"description,omitempty"`
	Metadata    map[string]any `yaml:"metadata,omitempty"`
}

// Catalog represents the structure of a tiles YAML file
type Catalog struct {
	Tiles []CatalogEntry `yaml:"tiles"`
}

// LoadCatalog loads base tile definitions from a YAML file
func LoadCatalog(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tiles file: %w", err)
	}

	defs, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return defs, nil
}

// ParseCatalog decodes base tile definitions from YAML
func ParseCatalog(data []byte) ([]Definition, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse tiles YAML: %w", err)
	}

	if len(catalog.Tiles) == 0 {
		return nil, ErrEmptyPalette
	}

	defs := make([]Definition, 0, len(catalog.Tiles))
	for i, entry := range catalog.Tiles {
		def, err := entry.Definition()
		if err != nil {
			return nil, fmt.Errorf("tile %d: %w", i, err)
		}
		defs = append(defs, def)
	}

	return defs, nil
}

// Definition converts the entry to a base tile, checking edge arity
func (e CatalogEntry) Definition() (Definition, error) {
	if e.ID == "" {
		return Definition{}, fmt.Errorf("%w: missing id", ErrInvalidTile)
	}
	if len(e.Edges) != 3 {
		return Definition{}, fmt.Errorf("%w: tile %q has %d edges, want 3", ErrInvalidTile, e.ID, len(e.Edges))
	}

	def := Definition{
		ID:   e.ID,
		Name: e.Name,
	}
	if def.Name == "" {
		def.Name = DisplayName(e.ID)
	}
	for i, edge := range e.Edges {
		def.Edges[i] = EdgeType(edge)
	}

	if len(e.Metadata) > 0 || len(e.Color) > 0 || e.Description != "" {
		def.Metadata = make(Metadata, len(e.Metadata)+2)
		for k, v := range e.Metadata {
			def.Metadata[k] = v
		}
		if len(e.Color) > 0 {
			def.Metadata["color"] = e.Color
		}
		if e.Description != "" {
			def.Metadata["description"] = e.Description
		}
	}

	if err := def.validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// DisplayName turns a tile id such as "road_bend" into "Road Bend"
func DisplayName(id string) string {
	words := strings.Fields(strings.NewReplacer("_", " ", "-", " ").Replace(id))
	return cases.Title(language.English).String(strings.Join(words, " "))
}

// LoadPalette builds a validated palette from a catalog file, or from the
// built-in tiles when path is empty
func LoadPalette(path string) (Palette, error) {
	base := DefaultBaseTiles()
	if path != "" {
		var err error
		if base, err = LoadCatalog(path); err != nil {
			return nil, err
		}
	}

	palette := BuildPalette(base)
	if err := Validate(palette); err != nil {
		return nil, err
	}
	return palette, nil
}
