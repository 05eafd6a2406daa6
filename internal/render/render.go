// Package render draws solved triangle maps as PNG images or plain text.
package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"

	"github.com/RumyantsevMichael/triangular-tiler/internal/tiles"
	"github.com/RumyantsevMichael/triangular-tiler/internal/trigrid"
	"github.com/RumyantsevMichael/triangular-tiler/internal/wfc"
)

var (
	ErrNothingToRender = errors.New("render: no tiles")
	ErrInvalidTileSize = errors.New("render: tile size must be positive")
)

// MaxImageSide caps either image dimension in pixels.
const MaxImageSide = 4096

// Options controls image output.
type Options struct {
	TileSize   float64
	Background color.Color
	Outline    color.Color // nil draws no outlines
	Labels     bool        // rotation index at each triangle's centre
}

// DefaultOptions returns outlined triangles without labels.
func DefaultOptions(tileSize float64) Options {
	return Options{
		TileSize:   tileSize,
		Background: color.White,
		Outline:    color.RGBA{R: 40, G: 40, B: 40, A: 255},
	}
}

// PNG encodes the map as a PNG with default options.
func PNG(w io.Writer, placed []wfc.PlacedTile, tileSize float64) error {
	img, err := Image(placed, DefaultOptions(tileSize))
	if err != nil {
		return err
	}
	return png.Encode(w, img)
}

// Image rasterizes every placed triangle in its tile colour.
func Image(placed []wfc.PlacedTile, opts Options) (*image.RGBA, error) {
	if len(placed) == 0 {
		return nil, ErrNothingToRender
	}
	if !(opts.TileSize > 0) || math.IsInf(opts.TileSize, 0) {
		return nil, fmt.Errorf("%w: %g", ErrInvalidTileSize, opts.TileSize)
	}

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range placed {
		for _, v := range Vertices(p.Coord, opts.TileSize) {
			minX, maxX = math.Min(minX, v[0]), math.Max(maxX, v[0])
			minY, maxY = math.Min(minY, v[1]), math.Max(maxY, v[1])
		}
	}

	// A margin on every side keeps outlines inside the image
	const margin = 2
	spanX := math.Ceil(maxX-minX) + 2*margin
	spanY := math.Ceil(maxY-minY) + 2*margin
	if !(spanX <= MaxImageSide) || !(spanY <= MaxImageSide) {
		return nil, fmt.Errorf("render: %gx%g image exceeds %d pixels per side", spanX, spanY, MaxImageSide)
	}
	width, height := int(spanX), int(spanY)

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	if opts.Background != nil {
		draw.Draw(img, img.Bounds(), image.NewUniform(opts.Background), image.Point{}, draw.Src)
	}

	var labels font.Face
	if opts.Labels {
		face, err := labelFace(opts.TileSize / 3)
		if err != nil {
			return nil, err
		}
		defer face.Close()
		labels = face
	}

	z := vector.NewRasterizer(0, 0)
	for _, p := range placed {
		verts := Vertices(p.Coord, opts.TileSize)
		for i := range verts {
			verts[i][0] += margin - minX
			verts[i][1] += margin - minY
		}

		fillTriangle(img, z, verts, TileColor(p.Tile))
		if opts.Outline != nil {
			strokeTriangle(img, z, verts, opts.Outline)
		}
		if labels != nil {
			drawLabel(img, labels, verts, fmt.Sprint(p.Tile.Rotation))
		}
	}

	return img, nil
}

// Vertices returns the three corners of a triangle in world space. Up
// triangles have their apex on top; down triangles have it at the bottom.
func Vertices(c trigrid.Coord, tileSize float64) [3][2]float64 {
	x, y := trigrid.Position(c, tileSize)
	h := tileSize * math.Sqrt(3) / 2
	if c.Pointing == trigrid.Up {
		return [3][2]float64{{x + tileSize/2, y}, {x + tileSize, y + h}, {x, y + h}}
	}
	return [3][2]float64{{x, y}, {x + tileSize, y}, {x + tileSize/2, y + h}}
}

// TileColor returns the tile's configured colour, or a stable colour derived
// from its base id when it has none.
func TileColor(t tiles.Definition) color.RGBA {
	if r, g, b, ok := t.Color(); ok {
		return color.RGBA{R: unit(r), G: unit(g), B: unit(b), A: 255}
	}

	sum := blake2b.Sum256([]byte(t.Base()))
	// Keep fallback colours away from black outlines and white backgrounds
	return color.RGBA{R: 64 + sum[0]%160, G: 64 + sum[1]%160, B: 64 + sum[2]%160, A: 255}
}

func unit(v float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(1, v)) * 255))
}

func fillTriangle(dst draw.Image, z *vector.Rasterizer, verts [3][2]float64, c color.Color) {
	fillPolygon(dst, z, verts[:], image.NewUniform(c))
}

// strokeTriangle draws each side as a thin quad.
func strokeTriangle(dst draw.Image, z *vector.Rasterizer, verts [3][2]float64, c color.Color) {
	const half = 0.5
	src := image.NewUniform(c)

	for i := range verts {
		a, e := verts[i], verts[(i+1)%3]
		dx, dy := e[0]-a[0], e[1]-a[1]
		length := math.Hypot(dx, dy)
		if length == 0 {
			continue
		}
		nx, ny := -dy/length*half, dx/length*half
		fillPolygon(dst, z, [][2]float64{
			{a[0] + nx, a[1] + ny},
			{e[0] + nx, e[1] + ny},
			{e[0] - nx, e[1] - ny},
			{a[0] - nx, a[1] - ny},
		}, src)
	}
}

// fillPolygon rasterizes only the polygon's bounding box so the mask stays
// small however large the image is.
func fillPolygon(dst draw.Image, z *vector.Rasterizer, pts [][2]float64, src image.Image) {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range pts {
		minX, maxX = math.Min(minX, p[0]), math.Max(maxX, p[0])
		minY, maxY = math.Min(minY, p[1]), math.Max(maxY, p[1])
	}
	box := image.Rect(int(math.Floor(minX)), int(math.Floor(minY)), int(math.Ceil(maxX)), int(math.Ceil(maxY)))
	box = box.Intersect(dst.Bounds())
	if box.Empty() {
		return
	}

	ox, oy := float64(box.Min.X), float64(box.Min.Y)
	z.Reset(box.Dx(), box.Dy())
	z.MoveTo(float32(pts[0][0]-ox), float32(pts[0][1]-oy))
	for _, p := range pts[1:] {
		z.LineTo(float32(p[0]-ox), float32(p[1]-oy))
	}
	z.ClosePath()
	z.Draw(dst, box, src, image.Point{})
}

func labelFace(size float64) (font.Face, error) {
	parsed, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("render: failed to parse font: %w", err)
	}
	return opentype.NewFace(parsed, &opentype.FaceOptions{
		Size:    math.Max(size, 6),
		DPI:     72,
		Hinting: font.HintingFull,
	})
}

func drawLabel(dst draw.Image, face font.Face, verts [3][2]float64, text string) {
	cx := (verts[0][0] + verts[1][0] + verts[2][0]) / 3
	cy := (verts[0][1] + verts[1][1] + verts[2][1]) / 3

	d := &font.Drawer{Dst: dst, Src: image.Black, Face: face}
	advance := d.MeasureString(text)
	ascent := face.Metrics().Ascent
	d.Dot = fixed.Point26_6{
		X: fixed.Int26_6(cx*64) - advance/2,
		Y: fixed.Int26_6(cy*64) + ascent/2,
	}
	d.DrawString(text)
}
