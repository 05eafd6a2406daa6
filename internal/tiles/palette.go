package tiles

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Palette is the ordered set of tile variants available to the solver.
// Its order only affects tie-breaking, never which layouts are valid.
type Palette []Definition

// BuildPalette expands every base tile into its rotations, keeping the input
// order. It does not simply concatenate all three rotations per base: a
// rotation that repeats an earlier edge triple of the same base is dropped,
// so an all-grass tile contributes one variant and a two-fold symmetric tile
// is not weighted three times against asymmetric ones. Kept variants keep
// their rotation ids, so a palette may hold base_r2 without base_r1.
func BuildPalette(baseTiles []Definition) Palette {
	palette := make(Palette, 0, len(baseTiles)*3)

	for _, base := range baseTiles {
		seen := make(map[[3]EdgeType]bool, 3)
		for _, variant := range Rotate(base) {
			if seen[variant.Edges] {
				continue
			}
			seen[variant.Edges] = true
			palette = append(palette, variant)
		}
	}

	return palette
}

// Validate checks that the palette is usable by the solver
func Validate(p Palette) error {
	if len(p) == 0 {
		return ErrEmptyPalette
	}

	ids := make(map[string]bool, len(p))
	for _, d := range p {
		if err := d.validate(); err != nil {
			return err
		}
		if ids[d.ID] {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidTile, d.ID)
		}
		ids[d.ID] = true
	}
	return nil
}

// IDs returns the tile ids in palette order
func (p Palette) IDs() []string {
	ids := make([]string, len(p))
	for i, d := range p {
		ids[i] = d.ID
	}
	return ids
}

// Lookup finds a tile by id
func (p Palette) Lookup(id string) (Definition, bool) {
	for _, d := range p {
		if d.ID == id {
			return d, true
		}
	}
	return Definition{}, false
}

// EdgeTypes returns the distinct edge labels in order of first use
func (p Palette) EdgeTypes() []EdgeType {
	seen := make(map[EdgeType]bool)
	var out []EdgeType
	for _, d := range p {
		for _, e := range d.Edges {
			if !seen[e] {
				seen[e] = true
				out = append(out, e)
			}
		}
	}
	return out
}

// Fingerprint returns a BLAKE2b-256 digest of the tile ids and edges. Two
// palettes with the same fingerprint constrain the solver identically.
func Fingerprint(p Palette) string {
	var b strings.Builder
	for _, d := range p {
		b.WriteString(d.ID)
		b.WriteByte(0)
		for _, e := range d.Edges {
			b.WriteString(string(e))
			b.WriteByte(0x1f)
		}
		b.WriteByte(0x1e)
	}

	sum := blake2b.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
