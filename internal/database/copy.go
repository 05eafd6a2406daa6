package database

import (
	"errors"
	"fmt"

	"github.com/RumyantsevMichael/triangular-tiler/internal/logger"
)

// ErrHistoryNotEmpty is returned when copying into a database that already
// holds runs. Runs have no natural key, so a second copy would duplicate them.
var ErrHistoryNotEmpty = errors.New("database: target already has run history")

// CopyResult counts what CopyHistory moved.
type CopyResult struct {
	Palettes int64 // newly registered in the target
	Runs     int64
}

// CopyHistory copies palettes and runs from src into dst, oldest run first.
// Run ids are reassigned by dst. With dryRun nothing is written and the
// counts report what would be copied.
func CopyHistory(src, dst *Database, dryRun bool) (CopyResult, error) {
	var result CopyResult

	stats, err := dst.RunStats()
	if err != nil {
		return result, err
	}
	if stats.TotalRuns > 0 {
		return result, fmt.Errorf("%w (%d runs)", ErrHistoryNotEmpty, stats.TotalRuns)
	}

	palettes, err := src.allPalettes()
	if err != nil {
		return result, err
	}
	for fingerprint, ids := range palettes {
		if dryRun {
			result.Palettes++
			continue
		}
		added, err := dst.RegisterPalette(fingerprint, ids)
		if err != nil {
			return result, err
		}
		if added {
			result.Palettes++
		}
	}
	logger.Info("Palettes copied", "count", result.Palettes, "dry_run", dryRun)

	runs, err := src.allRuns()
	if err != nil {
		return result, err
	}
	for _, run := range runs {
		if !dryRun {
			if _, err := dst.RecordRun(*run); err != nil {
				return result, fmt.Errorf("run %d: %w", run.ID, err)
			}
		}
		result.Runs++
	}
	logger.Info("Runs copied", "count", result.Runs, "dry_run", dryRun)

	return result, nil
}

func (d *Database) allPalettes() (map[string][]string, error) {
	rows, err := d.db.Query("SELECT fingerprint, tile_ids FROM palettes")
	if err != nil {
		return nil, fmt.Errorf("failed to list palettes: %w", err)
	}
	defer rows.Close()

	palettes := make(map[string][]string)
	for rows.Next() {
		var fingerprint, ids string
		if err := rows.Scan(&fingerprint, &ids); err != nil {
			return nil, fmt.Errorf("failed to scan palette: %w", err)
		}
		decoded, err := decodeTileIDs(ids)
		if err != nil {
			return nil, fmt.Errorf("palette %s: %w", fingerprint, err)
		}
		palettes[fingerprint] = decoded
	}
	return palettes, rows.Err()
}

func (d *Database) allRuns() ([]*Run, error) {
	rows, err := d.db.Query(d.qb.SelectRuns("", false, 0))
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
