package main

import (
	"flag"
	"fmt"
	"image/png"
	"io"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/RumyantsevMichael/triangular-tiler/internal/mapfile"
	"github.com/RumyantsevMichael/triangular-tiler/internal/render"
	"github.com/RumyantsevMichael/triangular-tiler/internal/tiles"
)

func main() {
	inputFile := flag.String("input", "data/map.yaml", "Path to a map exported with tiler -out")
	tilesFile := flag.String("tiles", "", "Tile catalog the map was generated with (default: built-in tiles)")
	outputFile := flag.String("output", "", "Output file (empty for stdout); a .png suffix renders an image")
	tileSize := flag.Float64("tile-size", 32, "Triangle side length in pixels for PNG output")
	labels := flag.Bool("labels", false, "Draw rotation labels on PNG output")
	showLegend := flag.Bool("legend", true, "Show legend")
	flag.Parse()

	if err := run(*inputFile, *tilesFile, *outputFile, *tileSize, *labels, *showLegend, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(inputFile, tilesFile, outputFile string, tileSize float64, labels, showLegend bool, stdout io.Writer) error {
	doc, err := mapfile.ReadYAMLFile(inputFile)
	if err != nil {
		return err
	}

	palette, err := tiles.LoadPalette(tilesFile)
	if err != nil {
		return err
	}
	placed, err := doc.Placed(palette)
	if err != nil {
		return err
	}

	if strings.HasSuffix(strings.ToLower(outputFile), ".png") {
		opts := render.DefaultOptions(tileSize)
		opts.Labels = labels
		img, err := render.Image(placed, opts)
		if err != nil {
			return err
		}
		f, err := os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("error creating output file: %w", err)
		}
		if err := png.Encode(f, img); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Image written to %s\n", outputFile)
		return nil
	}

	var output strings.Builder
	output.WriteString(fmt.Sprintf("Triangle Map %dx%d (Seed: %d, Attempts: %d)\n", doc.Width, doc.Height, doc.Seed, doc.Attempts))
	output.WriteString(strings.Repeat("=", 60) + "\n\n")
	if err := render.Text(&output, placed); err != nil {
		return err
	}
	if showLegend {
		output.WriteString("\n" + legend(palette))
	}

	if outputFile != "" {
		if err := os.WriteFile(outputFile, []byte(output.String()), 0644); err != nil {
			return fmt.Errorf("error writing output file: %w", err)
		}
		fmt.Fprintf(stdout, "Map written to %s\n", outputFile)
		return nil
	}
	_, err = io.WriteString(stdout, output.String())
	return err
}

// legend lists the glyph of every base tile in palette order
func legend(palette tiles.Palette) string {
	var b strings.Builder
	b.WriteString("Legend (upper case: up triangle, lower case: down triangle):\n")
	seen := make(map[string]bool)
	for _, t := range palette {
		base := t.Base()
		if seen[base] {
			continue
		}
		seen[base] = true
		r, _ := utf8.DecodeRuneInString(base)
		b.WriteString(fmt.Sprintf("  %c/%c  %s\n", unicode.ToUpper(r), unicode.ToLower(r), tiles.DisplayName(base)))
	}
	return b.String()
}
