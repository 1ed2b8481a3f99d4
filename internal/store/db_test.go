package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open("sqlite", filepath.Join(t.TempDir(), "weather.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := d.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return d
}

func testDayRow(date string, tempMax float64) *DayRow {
	code := int64(3)
	sunrise := "2025-08-01T05:38:00"
	return &DayRow{
		Date:        date,
		TempMaxC:    &tempMax,
		Sunrise:     &sunrise,
		WeatherCode: &code,
		Source:      Source,
		IngestedAt:  time.Now().UTC().Format("2006-01-02T15:04:05Z"),
	}
}

func upsertOne(t *testing.T, d *DB, row *DayRow) {
	t.Helper()
	ctx := context.Background()
	tx, err := d.BeginChunk(ctx)
	if err != nil {
		t.Fatalf("BeginChunk: %v", err)
	}
	if err := d.UpsertDay(ctx, tx, row); err != nil {
		t.Fatalf("UpsertDay: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	if _, err := Open("mssql", "whatever", nil); err == nil {
		t.Fatal("Open accepted an unknown backend")
	}
}

func TestUpsertInsertsRow(t *testing.T) {
	d := openTestDB(t)
	upsertOne(t, d, testDayRow("2025-08-01", 25.0))

	var date, source string
	var tempMax sql.NullFloat64
	var rain sql.NullFloat64
	err := d.Conn().QueryRow(
		"SELECT date, source, temp_max_c, rain_mm FROM weather_daily WHERE date = ?", "2025-08-01",
	).Scan(&date, &source, &tempMax, &rain)
	if err != nil {
		t.Fatalf("querying row back: %v", err)
	}
	if source != "open-meteo" {
		t.Errorf("source = %q, want open-meteo", source)
	}
	if !tempMax.Valid || tempMax.Float64 != 25.0 {
		t.Errorf("temp_max_c = %+v, want 25", tempMax)
	}
	if rain.Valid {
		t.Errorf("rain_mm = %+v, want NULL", rain)
	}
}

func TestUpsertOverwritesExistingDate(t *testing.T) {
	d := openTestDB(t)
	upsertOne(t, d, testDayRow("2025-08-01", 25.0))

	second := testDayRow("2025-08-01", 31.5)
	second.IngestedAt = "2025-09-01T00:00:00Z"
	upsertOne(t, d, second)

	var count int
	if err := d.Conn().QueryRow("SELECT COUNT(*) FROM weather_daily").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("table has %d rows, want 1 (no duplicates per date)", count)
	}

	var tempMax float64
	var ingestedAt string
	err := d.Conn().QueryRow(
		"SELECT temp_max_c, ingested_at FROM weather_daily WHERE date = ?", "2025-08-01",
	).Scan(&tempMax, &ingestedAt)
	if err != nil {
		t.Fatalf("querying row back: %v", err)
	}
	if tempMax != 31.5 {
		t.Errorf("temp_max_c = %v, want 31.5 (overwritten)", tempMax)
	}
	if ingestedAt != "2025-09-01T00:00:00Z" {
		t.Errorf("ingested_at = %q, want the new provenance value", ingestedAt)
	}
}

func TestRollbackLeavesNoRow(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	tx, err := d.BeginChunk(ctx)
	if err != nil {
		t.Fatalf("BeginChunk: %v", err)
	}
	if err := d.UpsertDay(ctx, tx, testDayRow("2025-08-02", 20.0)); err != nil {
		t.Fatalf("UpsertDay: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	var count int
	if err := d.Conn().QueryRow("SELECT COUNT(*) FROM weather_daily").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("table has %d rows after rollback, want 0", count)
	}
}
