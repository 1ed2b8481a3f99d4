package report

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"weatherpipe/internal/store"
)

func TestDumpWritesOrderedCSV(t *testing.T) {
	// Seed out of date order; the export must come back sorted.
	db := seededDB(t, []struct {
		date    string
		tempMax float64
		sun     float64
	}{
		{"2025-08-02", 26, 31000},
		{"2025-08-01", 25, 30000},
	})

	outRoot := t.TempDir()
	d := NewDumper(db, outRoot, nil)
	d.Clock = func() time.Time {
		return time.Date(2025, 9, 1, 12, 30, 0, 0, time.UTC)
	}

	path, err := d.Dump(context.Background())
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}
	want := filepath.Join(outRoot, "sqlite", "weather_daily_20250901_123000.csv")
	if path != want {
		t.Errorf("dump path = %q, want %q", path, want)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading dump: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("dump has %d lines, want header plus 2 rows", len(lines))
	}
	if !strings.HasPrefix(lines[0], "date,") || !strings.Contains(lines[0], "ingested_at") {
		t.Errorf("header = %q, want every table column starting with date", lines[0])
	}
	if !strings.HasPrefix(lines[1], "2025-08-01,") {
		t.Errorf("first row = %q, want the earliest date first", lines[1])
	}
	if !strings.HasPrefix(lines[2], "2025-08-02,") {
		t.Errorf("second row = %q, want dates ascending", lines[2])
	}
}

func TestDumpFailsWithoutTable(t *testing.T) {
	// Open a fresh database without creating the schema.
	db, err := store.Open("sqlite", filepath.Join(t.TempDir(), "empty.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	d := NewDumper(db, t.TempDir(), nil)
	_, err = d.Dump(context.Background())
	if err == nil {
		t.Fatal("Dump succeeded without a weather_daily table")
	}
	if !strings.Contains(err.Error(), "does not exist") {
		t.Errorf("error = %v, want a missing-table message", err)
	}
}
