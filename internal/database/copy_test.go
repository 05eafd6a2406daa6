package database

import (
	"errors"
	"testing"
)

func TestCopyHistory(t *testing.T) {
	src := setupTestDB(t)
	dst := setupTestDB(t)

	src.RegisterPalette("abc123", []string{"grass", "road_r1"})
	src.RegisterPalette("def456", []string{"water", "shore,inner"})
	for i, ok := range []bool{true, false, true} {
		if _, err := src.RecordRun(sampleRun(int64(i+1), ok, 2)); err != nil {
			t.Fatalf("RecordRun() failed: %v", err)
		}
	}

	dry, err := CopyHistory(src, dst, true)
	if err != nil {
		t.Fatalf("CopyHistory(dry run) failed: %v", err)
	}
	if dry.Palettes != 2 || dry.Runs != 3 {
		t.Errorf("dry run = %+v, want 2 palettes 3 runs", dry)
	}
	if stats, _ := dst.RunStats(); stats.TotalRuns != 0 {
		t.Fatalf("dry run wrote %d runs", stats.TotalRuns)
	}

	result, err := CopyHistory(src, dst, false)
	if err != nil {
		t.Fatalf("CopyHistory() failed: %v", err)
	}
	if result.Palettes != 2 || result.Runs != 3 {
		t.Errorf("result = %+v, want 2 palettes 3 runs", result)
	}

	runs, err := dst.RecentRuns(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 3 {
		t.Fatalf("target has %d runs, want 3", len(runs))
	}
	// Newest first, and the oldest was copied first
	if runs[0].Seed != 3 || runs[2].Seed != 1 {
		t.Errorf("seeds = %d..%d, want 3..1", runs[0].Seed, runs[2].Seed)
	}
	if runs[1].Succeeded || runs[1].FailureReason == "" {
		t.Errorf("failed run lost its outcome: %+v", runs[1])
	}

	ids, err := dst.PaletteTileIDs("abc123")
	if err != nil || len(ids) != 2 || ids[1] != "road_r1" {
		t.Errorf("PaletteTileIDs() = %v, %v", ids, err)
	}

	ids, err = dst.PaletteTileIDs("def456")
	if err != nil || len(ids) != 2 || ids[1] != "shore,inner" {
		t.Errorf("PaletteTileIDs(def456) = %q, %v", ids, err)
	}

	if _, err := CopyHistory(src, dst, false); !errors.Is(err, ErrHistoryNotEmpty) {
		t.Errorf("second copy error = %v, want ErrHistoryNotEmpty", err)
	}
}
