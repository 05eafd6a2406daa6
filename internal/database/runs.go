package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/RumyantsevMichael/triangular-tiler/internal/wfc"
)

var ErrRunNotFound = errors.New("database: run not found")

// Run is one generation attempt as recorded in the history. The map itself
// is not stored: the seed, size and palette fingerprint reproduce it.
type Run struct {
	ID                 int64
	Seed               int64
	Width              int
	Height             int
	MaxAttempts        int
	Attempts           int
	PaletteFingerprint string
	PaletteSize        int
	TileCount          int
	Succeeded          bool
	FailureReason      string
	Duration           time.Duration
	CreatedAt          time.Time
}

// Stats summarizes the recorded history.
type Stats struct {
	TotalRuns      int
	Succeeded      int
	Failed         int
	SuccessRate    float64
	MeanAttempts   float64 // over successful runs
	MeanDurationMS float64
}

// NewRun builds the history record for one Generator.Generate call. m is nil
// when genErr is set; elapsed is only used in that case.
func NewRun(cfg wfc.MapConfig, fingerprint string, paletteSize int, m *wfc.GeneratedMap, genErr error, elapsed time.Duration) Run {
	run := Run{
		Seed:               cfg.Seed,
		Width:              cfg.Width,
		Height:             cfg.Height,
		MaxAttempts:        cfg.MaxAttempts,
		PaletteFingerprint: fingerprint,
		PaletteSize:        paletteSize,
		Duration:           elapsed,
	}
	if run.MaxAttempts == 0 {
		run.MaxAttempts = wfc.DefaultMaxAttempts
	}

	if genErr != nil {
		run.FailureReason = genErr.Error()
		var failed *wfc.GenerationFailedError
		if errors.As(genErr, &failed) {
			run.Attempts = failed.Attempts
		}
		return run
	}

	run.Seed = m.Seed
	run.Succeeded = true
	run.Attempts = m.Attempts
	run.TileCount = len(m.Tiles)
	run.Duration = m.Duration
	return run
}

func (run Run) fieldValues() []any {
	return []any{
		run.Seed, run.Width, run.Height, run.MaxAttempts, run.Attempts,
		run.PaletteFingerprint, run.PaletteSize, run.TileCount,
		run.Succeeded, run.FailureReason, run.Duration.Milliseconds(), run.CreatedAt,
	}
}

// RecordRun stores a run and returns its id.
func (d *Database) RecordRun(run Run) (int64, error) {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	query := d.qb.InsertRun()
	args := run.fieldValues()

	if d.dialect.SupportsLastInsertID() {
		result, err := d.db.Exec(query, args...)
		if err != nil {
			return 0, fmt.Errorf("failed to record run: %w", err)
		}
		return result.LastInsertId()
	}

	var id int64
	if err := d.db.QueryRow(query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to record run: %w", err)
	}
	return id, nil
}

// GetRun returns the run with the given id.
func (d *Database) GetRun(id int64) (*Run, error) {
	row := d.db.QueryRow(d.qb.SelectRuns("id = ?", false, 0), id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: id %d", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %d: %w", id, err)
	}
	return run, nil
}

// RecentRuns returns up to limit runs, newest first.
func (d *Database) RecentRuns(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := d.db.Query(d.qb.SelectRuns("", true, limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RunStats aggregates the whole history.
func (d *Database) RunStats() (*Stats, error) {
	var stats Stats
	err := d.db.QueryRow(`SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN succeeded THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(CASE WHEN succeeded THEN attempts END), 0),
			COALESCE(AVG(duration_ms), 0)
		FROM generation_runs`).Scan(&stats.TotalRuns, &stats.Succeeded, &stats.MeanAttempts, &stats.MeanDurationMS)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate runs: %w", err)
	}

	stats.Failed = stats.TotalRuns - stats.Succeeded
	if stats.TotalRuns > 0 {
		stats.SuccessRate = float64(stats.Succeeded) / float64(stats.TotalRuns)
	}
	return &stats, nil
}

// RegisterPalette stores the tile ids behind a palette fingerprint the first
// time it is seen. It reports whether the palette was new.
func (d *Database) RegisterPalette(fingerprint string, tileIDs []string) (bool, error) {
	encoded, err := encodeTileIDs(tileIDs)
	if err != nil {
		return false, err
	}

	_, err = d.db.Exec(d.qb.InsertPalette(), fingerprint, len(tileIDs), encoded, time.Now().UTC())
	if err != nil {
		if d.dialect.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to register palette: %w", err)
	}
	return true, nil
}

// PaletteTileIDs returns the tile ids registered for a fingerprint.
func (d *Database) PaletteTileIDs(fingerprint string) ([]string, error) {
	var ids string
	err := d.db.QueryRow(d.qb.SelectPalette(), fingerprint).Scan(&ids)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load palette %s: %w", fingerprint, err)
	}
	return decodeTileIDs(ids)
}

// encodeTileIDs stores ids as a YAML flow list, quoting any id that holds a
// comma, bracket or other YAML syntax.
func encodeTileIDs(ids []string) (string, error) {
	var node yaml.Node
	if err := node.Encode(append([]string{}, ids...)); err != nil {
		return "", fmt.Errorf("failed to encode tile ids: %w", err)
	}
	node.Style = yaml.FlowStyle

	out, err := yaml.Marshal(&node)
	if err != nil {
		return "", fmt.Errorf("failed to encode tile ids: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

func decodeTileIDs(stored string) ([]string, error) {
	ids := []string{}
	if strings.TrimSpace(stored) == "" {
		return ids, nil
	}
	if err := yaml.Unmarshal([]byte(stored), &ids); err != nil {
		return nil, fmt.Errorf("failed to decode tile ids %q: %w", stored, err)
	}
	return ids, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var durationMS int64
	err := row.Scan(&run.ID, &run.Seed, &run.Width, &run.Height, &run.MaxAttempts, &run.Attempts,
		&run.PaletteFingerprint, &run.PaletteSize, &run.TileCount, &run.Succeeded, &run.FailureReason,
		&durationMS, &run.CreatedAt)
	if err != nil {
		return nil, err
	}
	run.Duration = time.Duration(durationMS) * time.Millisecond
	return &run, nil
}
