package render

import (
	"bufio"
	"io"
	"unicode"
	"unicode/utf8"

	"github.com/RumyantsevMichael/triangular-tiler/internal/tiles"
	"github.com/RumyantsevMichael/triangular-tiler/internal/trigrid"
	"github.com/RumyantsevMichael/triangular-tiler/internal/wfc"
)

// Text writes one line per grid row, two glyphs per column (up then down).
// A glyph is the first letter of the tile's base id, upper case for up
// triangles and lower case for down triangles. Unfilled cells print a space.
func Text(w io.Writer, placed []wfc.PlacedTile) error {
	if len(placed) == 0 {
		return ErrNothingToRender
	}

	byCoord := make(map[trigrid.Coord]tiles.Definition, len(placed))
	minQ, minR := placed[0].Coord.Q, placed[0].Coord.R
	maxQ, maxR := minQ, minR
	for _, p := range placed {
		byCoord[p.Coord] = p.Tile
		minQ, maxQ = min(minQ, p.Coord.Q), max(maxQ, p.Coord.Q)
		minR, maxR = min(minR, p.Coord.R), max(maxR, p.Coord.R)
	}

	bw := bufio.NewWriter(w)
	for r := minR; r <= maxR; r++ {
		for q := minQ; q <= maxQ; q++ {
			for _, pointing := range []trigrid.Pointing{trigrid.Up, trigrid.Down} {
				t, ok := byCoord[trigrid.Coord{Q: q, R: r, Pointing: pointing}]
				if !ok {
					bw.WriteByte(' ')
					continue
				}
				bw.WriteRune(glyph(t, pointing))
			}
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

func glyph(t tiles.Definition, pointing trigrid.Pointing) rune {
	r, _ := utf8.DecodeRuneInString(t.Base())
	if r == utf8.RuneError {
		return '?'
	}
	if pointing == trigrid.Up {
		return unicode.ToUpper(r)
	}
	return unicode.ToLower(r)
}
