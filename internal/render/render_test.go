package render

import (
	"bytes"
	"errors"
	"image/color"
	"image/png"
	"math"
	"strings"
	"testing"

	"github.com/RumyantsevMichael/triangular-tiler/internal/tiles"
	"github.com/RumyantsevMichael/triangular-tiler/internal/trigrid"
	"github.com/RumyantsevMichael/triangular-tiler/internal/wfc"
)

func grassTile() tiles.Definition {
	return tiles.DefaultBaseTiles()[0]
}

func unitGrid(t tiles.Definition) []wfc.PlacedTile {
	var placed []wfc.PlacedTile
	for _, c := range trigrid.EnumerateGrid(1, 1) {
		placed = append(placed, wfc.PlacedTile{Coord: c, Tile: t})
	}
	return placed
}

func closeTo(a, b uint8) bool {
	d := int(a) - int(b)
	return d >= -1 && d <= 1
}

func TestImageFillsTriangles(t *testing.T) {
	img, err := Image(unitGrid(grassTile()), DefaultOptions(32))
	if err != nil {
		t.Fatalf("Image() failed: %v", err)
	}

	if got := img.Bounds().Dx(); got != 52 {
		t.Errorf("width = %d, want 52", got)
	}
	if got := img.Bounds().Dy(); got != 32 {
		t.Errorf("height = %d, want 32", got)
	}

	want := TileColor(grassTile())
	// Centroids of the up and down triangle, shifted by the margin
	for _, pt := range [][2]int{{18, 20}, {34, 11}} {
		got := img.RGBAAt(pt[0], pt[1])
		if !closeTo(got.R, want.R) || !closeTo(got.G, want.G) || !closeTo(got.B, want.B) {
			t.Errorf("pixel %v = %v, want %v", pt, got, want)
		}
	}

	// The top left corner lies outside both triangles
	if got := img.RGBAAt(1, 1); got != (color.RGBA{R: 255, G: 255, B: 255, A: 255}) {
		t.Errorf("background pixel = %v, want white", got)
	}
}

func TestImageErrors(t *testing.T) {
	if _, err := Image(nil, DefaultOptions(32)); !errors.Is(err, ErrNothingToRender) {
		t.Errorf("Image(nil) error = %v, want ErrNothingToRender", err)
	}
	for _, size := range []float64{0, -3, math.NaN(), math.Inf(1), math.Inf(-1)} {
		if _, err := Image(unitGrid(grassTile()), DefaultOptions(size)); !errors.Is(err, ErrInvalidTileSize) {
			t.Errorf("Image(size %g) error = %v, want ErrInvalidTileSize", size, err)
		}
	}

	// Finite sizes whose extent overflows int must be refused, not panic
	for _, size := range []float64{1e6, 1e300, math.MaxFloat64} {
		if _, err := Image(unitGrid(grassTile()), DefaultOptions(size)); err == nil {
			t.Errorf("Image(size %g) accepted an image past MaxImageSide", size)
		}
	}

	huge := []wfc.PlacedTile{
		{Coord: trigrid.Coord{Q: 0, R: 0}, Tile: grassTile()},
		{Coord: trigrid.Coord{Q: 10000, R: 0}, Tile: grassTile()},
	}
	if _, err := Image(huge, DefaultOptions(32)); err == nil {
		t.Error("Image() accepted an oversized map")
	}
}

func TestImageWithLabels(t *testing.T) {
	opts := DefaultOptions(48)
	opts.Labels = true
	if _, err := Image(unitGrid(grassTile()), opts); err != nil {
		t.Fatalf("Image(labels) failed: %v", err)
	}
}

func TestPNG(t *testing.T) {
	var buf bytes.Buffer
	if err := PNG(&buf, unitGrid(grassTile()), 16); err != nil {
		t.Fatalf("PNG() failed: %v", err)
	}

	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("output is not a PNG: %v", err)
	}
	if img.Bounds().Empty() {
		t.Error("decoded image is empty")
	}
}

func TestVertices(t *testing.T) {
	up := Vertices(trigrid.Coord{Q: 0, R: 0, Pointing: trigrid.Up}, 10)
	if up[0][1] != 0 || up[1][1] <= up[0][1] || up[2][1] != up[1][1] {
		t.Errorf("up triangle should have its apex on top: %v", up)
	}

	down := Vertices(trigrid.Coord{Q: 0, R: 0, Pointing: trigrid.Down}, 10)
	if down[0][1] != down[1][1] || down[2][1] <= down[0][1] {
		t.Errorf("down triangle should have its apex at the bottom: %v", down)
	}
	if down[0][0] != 5 {
		t.Errorf("down triangle starts at x=%v, want 5", down[0][0])
	}
}

func TestTileColor(t *testing.T) {
	got := TileColor(grassTile())
	if !closeTo(got.R, 77) || !closeTo(got.G, 179) || !closeTo(got.B, 77) || got.A != 255 {
		t.Errorf("TileColor(grass) = %v", got)
	}

	plain := tiles.Definition{ID: "marsh_r1", BaseID: "marsh", Rotation: 1}
	rotated := TileColor(plain)
	base := TileColor(tiles.Definition{ID: "marsh"})
	if rotated != base {
		t.Errorf("rotations of one base tile got different colours: %v vs %v", rotated, base)
	}
	if rotated.R < 64 || rotated.G < 64 || rotated.B < 64 {
		t.Errorf("fallback colour %v is too dark", rotated)
	}
}

func TestText(t *testing.T) {
	road := tiles.DefaultBaseTiles()[1]
	placed := []wfc.PlacedTile{
		{Coord: trigrid.Coord{Q: 0, R: 0, Pointing: trigrid.Up}, Tile: grassTile()},
		{Coord: trigrid.Coord{Q: 0, R: 0, Pointing: trigrid.Down}, Tile: road},
		{Coord: trigrid.Coord{Q: 1, R: 1, Pointing: trigrid.Up}, Tile: road},
	}

	var buf bytes.Buffer
	if err := Text(&buf, placed); err != nil {
		t.Fatalf("Text() failed: %v", err)
	}

	want := "Gr  \n  R \n"
	if buf.String() != want {
		t.Errorf("Text() = %q, want %q", buf.String(), want)
	}

	if err := Text(&buf, nil); !errors.Is(err, ErrNothingToRender) {
		t.Errorf("Text(nil) error = %v, want ErrNothingToRender", err)
	}
}

func TestTextMatchesGridShape(t *testing.T) {
	solver, err := wfc.NewSolver(tiles.BuildPalette(tiles.DefaultBaseTiles()), wfc.NewRand(3))
	if err != nil {
		t.Fatalf("NewSolver() failed: %v", err)
	}
	placed, err := solver.Generate(t.Context(), trigrid.EnumerateGrid(4, 3), 10)
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}

	var buf bytes.Buffer
	if err := Text(&buf, placed); err != nil {
		t.Fatalf("Text() failed: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}
	for i, line := range lines {
		if len(line) != 8 || strings.Contains(line, " ") {
			t.Errorf("line %d = %q, want 8 glyphs", i, line)
		}
	}
}
