package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/RumyantsevMichael/triangular-tiler/internal/config"
	"github.com/RumyantsevMichael/triangular-tiler/internal/database"
	"github.com/RumyantsevMichael/triangular-tiler/internal/logger"
	"github.com/RumyantsevMichael/triangular-tiler/internal/mapfile"
	"github.com/RumyantsevMichael/triangular-tiler/internal/render"
	"github.com/RumyantsevMichael/triangular-tiler/internal/tiles"
	"github.com/RumyantsevMichael/triangular-tiler/internal/trigrid"
	"github.com/RumyantsevMichael/triangular-tiler/internal/wfc"
)

type options struct {
	configFile  string
	loggingFile string
	width       int
	height      int
	seed        int64
	attempts    int
	tilesFile   string
	outFile     string
	pngFile     string
	tileSize    float64
	text        bool
	verify      bool
	dbFile      string
	checkFile   string
	history     int
}

func main() {
	var opts options
	flag.StringVar(&opts.configFile, "config", "config/tiler.yaml", "Path to config YAML file")
	flag.StringVar(&opts.loggingFile, "logging", "config/logging.yaml", "Path to logging config YAML file")
	flag.IntVar(&opts.width, "width", 0, "Grid width in triangle pairs (default: from config)")
	flag.IntVar(&opts.height, "height", 0, "Grid height in rows (default: from config)")
	flag.Int64Var(&opts.seed, "seed", 0, "Generation seed (default: random based on current time)")
	flag.IntVar(&opts.attempts, "attempts", 0, "Maximum attempts before giving up (default: from config)")
	flag.StringVar(&opts.tilesFile, "tiles", "", "Path to tile catalog YAML file (default: built-in tiles)")
	flag.StringVar(&opts.outFile, "out", "", "Write the solved map as YAML to this file")
	flag.StringVar(&opts.pngFile, "png", "", "Render the solved map as PNG to this file")
	flag.Float64Var(&opts.tileSize, "tile-size", 0, "Triangle side length in pixels for -png (default: from config)")
	flag.BoolVar(&opts.text, "text", false, "Print the solved map as text")
	flag.BoolVar(&opts.verify, "verify", false, "Re-check coverage and edge matching after solving")
	flag.StringVar(&opts.dbFile, "db", "", "SQLite file for run history (default: from config, empty disables)")
	flag.StringVar(&opts.checkFile, "check", "", "Verify an exported YAML map against the palette and exit")
	flag.IntVar(&opts.history, "history", 0, "Print the N most recent recorded runs and exit")
	flag.Parse()

	if err := run(opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options, stdout io.Writer) error {
	logConfig, err := logger.LoadConfig(opts.loggingFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load logging config, using defaults: %v\n", err)
	}
	if err := logger.Initialize(logConfig); err != nil {
		return err
	}

	cfg, err := config.LoadConfig(opts.configFile)
	if err != nil {
		logger.Warning("Failed to load config, using defaults", "path", opts.configFile, "error", err)
	}
	applyFlags(cfg, opts)
	if err := cfg.Validate(); err != nil {
		return err
	}

	if opts.history > 0 {
		return printHistory(cfg, opts.history, stdout)
	}

	palette, err := tiles.LoadPalette(cfg.Generation.TilesFile)
	if err != nil {
		return fmt.Errorf("failed to load tiles: %w", err)
	}
	logger.Info("Palette loaded", "variants", len(palette), "fingerprint", tiles.Fingerprint(palette))

	if opts.checkFile != "" {
		return checkFile(opts.checkFile, palette, stdout)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, err := generate(ctx, cfg, palette)
	if err != nil {
		return err
	}

	if opts.verify {
		if err := verify(m); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "Verification passed")
	}

	return writeOutputs(m, cfg, opts, stdout)
}

// applyFlags overrides config values with flags that were given.
func applyFlags(cfg *config.Config, opts options) {
	if opts.width != 0 {
		cfg.Generation.Width = opts.width
	}
	if opts.height != 0 {
		cfg.Generation.Height = opts.height
	}
	if opts.seed != 0 {
		cfg.Generation.Seed = opts.seed
	}
	if opts.attempts != 0 {
		cfg.Generation.MaxAttempts = opts.attempts
	}
	if opts.tilesFile != "" {
		cfg.Generation.TilesFile = opts.tilesFile
	}
	if opts.tileSize != 0 {
		cfg.Render.TileSize = opts.tileSize
	}
	if opts.dbFile != "" {
		cfg.Database.Driver = "sqlite"
		cfg.Database.SQLitePath = opts.dbFile
	}
}

func generate(ctx context.Context, cfg *config.Config, palette tiles.Palette) (*wfc.GeneratedMap, error) {
	generator, err := wfc.NewGenerator(palette)
	if err != nil {
		return nil, err
	}

	mapCfg := wfc.MapConfig{
		Width:       cfg.Generation.Width,
		Height:      cfg.Generation.Height,
		Seed:        cfg.Generation.Seed,
		MaxAttempts: cfg.Generation.MaxAttempts,
	}
	if mapCfg.Seed == 0 {
		mapCfg.Seed = wfc.NewSeed()
		logger.Info("Generation seed selected", "seed", mapCfg.Seed, "random", true)
	} else {
		logger.Info("Generation seed selected", "seed", mapCfg.Seed, "random", false)
	}

	start := time.Now()
	m, genErr := generator.Generate(ctx, &mapCfg)
	elapsed := time.Since(start)

	if cfg.Database.Enabled() {
		if err := recordRun(cfg, generator, mapCfg, m, genErr, elapsed); err != nil {
			logger.Warning("Failed to record run", "error", err)
		}
	}

	if genErr != nil {
		var failed *wfc.GenerationFailedError
		if errors.As(genErr, &failed) {
			logger.Error("Generation failed", "seed", mapCfg.Seed, "attempts", failed.Attempts, "error", genErr)
		}
		return nil, genErr
	}

	logger.Info("Map generated",
		"width", m.Width,
		"height", m.Height,
		"seed", m.Seed,
		"attempts", m.Attempts,
		"duration", m.Duration.Round(time.Millisecond))
	return m, nil
}

func recordRun(cfg *config.Config, generator *wfc.Generator, mapCfg wfc.MapConfig, m *wfc.GeneratedMap, genErr error, elapsed time.Duration) error {
	db, err := database.OpenWithConfig(cfg.Database.DatabaseConfig())
	if err != nil {
		return err
	}
	defer db.Close()

	palette := generator.Palette()
	if _, err := db.RegisterPalette(generator.Fingerprint(), palette.IDs()); err != nil {
		return err
	}

	id, err := db.RecordRun(database.NewRun(mapCfg, generator.Fingerprint(), len(palette), m, genErr, elapsed))
	if err != nil {
		return err
	}
	logger.Debug("Run recorded", "id", id)
	return nil
}

func verify(m *wfc.GeneratedMap) error {
	if err := wfc.CheckCoverage(trigrid.EnumerateGrid(m.Width, m.Height), m.Tiles); err != nil {
		return err
	}
	return wfc.CheckEdgeConsistency(m.Tiles)
}

// checkFile re-verifies a map written with -out.
func checkFile(path string, palette tiles.Palette, stdout io.Writer) error {
	doc, err := mapfile.ReadYAMLFile(path)
	if err != nil {
		return err
	}
	if doc.PaletteFingerprint != "" && doc.PaletteFingerprint != tiles.Fingerprint(palette) {
		logger.Warning("Map was generated with a different palette", "path", path, "fingerprint", doc.PaletteFingerprint)
	}

	placed, err := doc.Placed(palette)
	if err != nil {
		return err
	}
	if err := wfc.CheckCoverage(trigrid.EnumerateGrid(doc.Width, doc.Height), placed); err != nil {
		return err
	}
	if err := wfc.CheckEdgeConsistency(placed); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "%s: %dx%d map with %d tiles is valid\n", path, doc.Width, doc.Height, len(placed))
	return nil
}

func writeOutputs(m *wfc.GeneratedMap, cfg *config.Config, opts options, stdout io.Writer) error {
	fmt.Fprintf(stdout, "Generated %dx%d map (seed %d) in %d attempt(s), %s\n",
		m.Width, m.Height, m.Seed, m.Attempts, m.Duration.Round(time.Millisecond))
	printCounts(stdout, m.CountByBase())

	if opts.outFile != "" {
		if err := mapfile.WriteYAMLFile(opts.outFile, mapfile.FromMap(m)); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Map written to %s (%s)\n", opts.outFile, fileSize(opts.outFile))
	}

	if opts.pngFile != "" {
		f, err := os.Create(opts.pngFile)
		if err != nil {
			return fmt.Errorf("failed to create PNG file: %w", err)
		}
		if err := render.PNG(f, m.Tiles, cfg.Render.TileSize); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Image written to %s (%s)\n", opts.pngFile, fileSize(opts.pngFile))
	}

	if opts.text {
		fmt.Fprintln(stdout)
		return render.Text(stdout, m.Tiles)
	}
	return nil
}

func printCounts(w io.Writer, counts map[string]int) {
	bases := make([]string, 0, len(counts))
	for base := range counts {
		bases = append(bases, base)
	}
	sort.Strings(bases)

	parts := make([]string, len(bases))
	for i, base := range bases {
		parts[i] = fmt.Sprintf("%s=%d", base, counts[base])
	}
	fmt.Fprintf(w, "Tiles: %s\n", strings.Join(parts, " "))
}

func fileSize(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return "unknown size"
	}
	return humanize.Bytes(uint64(info.Size()))
}

func printHistory(cfg *config.Config, limit int, stdout io.Writer) error {
	if !cfg.Database.Enabled() {
		return errors.New("no run history configured, pass -db or set database in the config")
	}
	db, err := database.OpenWithConfig(cfg.Database.DatabaseConfig())
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := db.RecentRuns(limit)
	if err != nil {
		return err
	}
	stats, err := db.RunStats()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tWHEN\tSIZE\tSEED\tATTEMPTS\tRESULT")
	for _, r := range runs {
		result := "ok"
		if !r.Succeeded {
			result = "failed: " + r.FailureReason
		}
		fmt.Fprintf(tw, "%d\t%s\t%dx%d\t%d\t%d/%d\t%s\n",
			r.ID, humanize.Time(r.CreatedAt), r.Width, r.Height, r.Seed, r.Attempts, r.MaxAttempts, result)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "\n%s runs, %.1f%% succeeded, %.1f attempts on average, %.0fms mean duration\n",
		humanize.Comma(int64(stats.TotalRuns)), stats.SuccessRate*100, stats.MeanAttempts, stats.MeanDurationMS)
	return nil
}
