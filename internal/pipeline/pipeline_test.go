package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"

	"weatherpipe/internal/archive"
	"weatherpipe/internal/config"
	"weatherpipe/internal/store"
)

// fakeArchive mimics the archive API: it rejects configured variables with a
// 400 body and otherwise serves one aligned daily array per accepted
// variable across the requested range.
type fakeArchive struct {
	reject  map[string]bool
	tempMax float64
	empty   bool
}

func (f *fakeArchive) handler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	vars := strings.Split(q.Get("daily"), ",")

	var rejected []string
	for _, v := range vars {
		if f.reject[v] {
			rejected = append(rejected, v)
		}
	}
	if len(rejected) > 0 {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Unknown daily variables: %s", strings.Join(rejected, ", "))
		return
	}

	daily := map[string]any{}
	times := []string{}
	if !f.empty {
		start, _ := time.Parse("2006-01-02", q.Get("start_date"))
		end, _ := time.Parse("2006-01-02", q.Get("end_date"))
		for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
			times = append(times, d.Format("2006-01-02"))
		}
	}
	daily["time"] = times
	for _, v := range vars {
		values := make([]any, len(times))
		for i, day := range times {
			switch v {
			case "temperature_2m_max":
				values[i] = f.tempMax
			case "sunshine_duration":
				values[i] = 30000.0
			case "weathercode":
				values[i] = 3.0
			case "sunrise":
				values[i] = day + "T05:38"
			default:
				values[i] = 1.0
			}
		}
		daily[v] = values
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"latitude":  50.45,
		"longitude": 30.52,
		"timezone":  q.Get("timezone"),
		"daily":     daily,
	})
}

func testConfig(t *testing.T, serverURL string, vars []string) *config.Config {
	t.Helper()
	dataDir := t.TempDir()

	sqlDir := filepath.Join(dataDir, "sql")
	if err := os.MkdirAll(filepath.Join(sqlDir, "sqlite"), 0o755); err != nil {
		t.Fatal(err)
	}
	query := "SELECT COUNT(*) AS days FROM weather_daily;"
	if err := os.WriteFile(filepath.Join(sqlDir, "sqlite", "daily_count.sql"), []byte(query), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Range = config.DateRange{StartDate: "2025-08-01", EndDate: "2025-08-01", ChunkDays: 0}
	cfg.Archive.BaseURL = serverURL
	cfg.Archive.DailyVariables = vars
	cfg.Archive.MaxAttempts = 2
	cfg.Archive.TimeoutSec = 5
	cfg.Storage = config.Storage{
		Backend:    "sqlite",
		SQLitePath: filepath.Join(dataDir, "db", "weather.db"),
		DataDir:    dataDir,
	}
	cfg.Reports = config.Reports{SQLDir: sqlDir, Files: []string{"daily_count.sql"}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return cfg
}

func queryDay(t *testing.T, cfg *config.Config, date string) (count int, tempMax float64, source string) {
	t.Helper()
	db, err := store.Open("sqlite", cfg.Storage.SQLitePath, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	if err := db.Conn().QueryRow("SELECT COUNT(*) FROM weather_daily").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	err = db.Conn().QueryRow(
		"SELECT temp_max_c, source FROM weather_daily WHERE date = ?", date,
	).Scan(&tempMax, &source)
	if err != nil {
		t.Fatalf("querying %s: %v", date, err)
	}
	return count, tempMax, source
}

func TestRunOneDayEndToEnd(t *testing.T) {
	fake := &fakeArchive{tempMax: 25.0}
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	defer srv.Close()

	cfg := testConfig(t, srv.URL, []string{"temperature_2m_max", "sunshine_duration", "sunrise", "weathercode"})
	p := New(cfg, nil)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Raw artifact: verbatim payload plus negotiation metadata.
	rawData, err := os.ReadFile(filepath.Join(cfg.Storage.DataDir, "raw", "2025-08-01", "response.json"))
	if err != nil {
		t.Fatalf("reading raw artifact: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(rawData, &raw); err != nil {
		t.Fatalf("raw artifact JSON: %v", err)
	}
	accepted, _ := raw["_accepted_daily"].([]any)
	if len(accepted) != 4 {
		t.Errorf("_accepted_daily = %v, want all four requested variables", raw["_accepted_daily"])
	}

	// Processed artifact: one normalized record.
	recs, err := parquet.ReadFile[store.ProcessedRecord](
		filepath.Join(cfg.Storage.DataDir, "processed", "2025-08-01", "data.parquet"))
	if err != nil {
		t.Fatalf("reading processed artifact: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("processed artifact has %d rows, want 1", len(recs))
	}
	if recs[0].TempMaxC == nil || *recs[0].TempMaxC != 25.0 {
		t.Errorf("temp_max_c = %v, want 25", recs[0].TempMaxC)
	}
	if recs[0].TempMaxF == nil || *recs[0].TempMaxF != 77.0 {
		t.Errorf("temp_max_f = %v, want 77", recs[0].TempMaxF)
	}

	// Database: exactly one row for the date, with provenance.
	count, tempMax, source := queryDay(t, cfg, "2025-08-01")
	if count != 1 {
		t.Errorf("table has %d rows, want 1", count)
	}
	if tempMax != 25.0 {
		t.Errorf("temp_max_c = %v, want 25", tempMax)
	}
	if source != "open-meteo" {
		t.Errorf("source = %q", source)
	}

	// Reports stage ran and produced a manifest.
	dirs, err := filepath.Glob(filepath.Join(cfg.Storage.DataDir, "reports", "*", "metadata.json"))
	if err != nil || len(dirs) != 1 {
		t.Errorf("report manifests = %v (err %v), want exactly one", dirs, err)
	}
}

func TestIngestTwiceOverwritesInsteadOfDuplicating(t *testing.T) {
	fake := &fakeArchive{tempMax: 25.0}
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	defer srv.Close()

	cfg := testConfig(t, srv.URL, []string{"temperature_2m_max"})
	p := New(cfg, nil)

	if err := p.Ingest(context.Background()); err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	fake.tempMax = 31.5
	if err := p.Ingest(context.Background()); err != nil {
		t.Fatalf("second Ingest: %v", err)
	}

	count, tempMax, _ := queryDay(t, cfg, "2025-08-01")
	if count != 1 {
		t.Errorf("table has %d rows after re-ingest, want 1", count)
	}
	if tempMax != 31.5 {
		t.Errorf("temp_max_c = %v, want the re-ingested value 31.5", tempMax)
	}
}

func TestIngestPrunesRejectedVariables(t *testing.T) {
	fake := &fakeArchive{tempMax: 25.0, reject: map[string]bool{"bogus_var": true}}
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	defer srv.Close()

	cfg := testConfig(t, srv.URL, []string{"temperature_2m_max", "bogus_var"})
	p := New(cfg, nil)

	if err := p.Ingest(context.Background()); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	rawData, err := os.ReadFile(filepath.Join(cfg.Storage.DataDir, "raw", "2025-08-01", "response.json"))
	if err != nil {
		t.Fatalf("reading raw artifact: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(rawData, &raw); err != nil {
		t.Fatalf("raw artifact JSON: %v", err)
	}
	dropped, _ := raw["_dropped_daily"].([]any)
	if len(dropped) != 1 || dropped[0] != "bogus_var" {
		t.Errorf("_dropped_daily = %v, want [bogus_var]", raw["_dropped_daily"])
	}

	count, tempMax, _ := queryDay(t, cfg, "2025-08-01")
	if count != 1 || tempMax != 25.0 {
		t.Errorf("row = (count %d, temp %v), want the accepted variable ingested", count, tempMax)
	}
}

func TestIngestFailsWhenRunYieldsNoDays(t *testing.T) {
	fake := &fakeArchive{empty: true}
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	defer srv.Close()

	cfg := testConfig(t, srv.URL, []string{"temperature_2m_max"})
	p := New(cfg, nil)

	err := p.Ingest(context.Background())
	if !errors.Is(err, archive.ErrNoData) {
		t.Fatalf("Ingest error = %v, want ErrNoData", err)
	}
}

func TestDumpTableExportsAfterIngest(t *testing.T) {
	fake := &fakeArchive{tempMax: 25.0}
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	defer srv.Close()

	cfg := testConfig(t, srv.URL, []string{"temperature_2m_max"})
	p := New(cfg, nil)
	if err := p.Ingest(context.Background()); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	path, err := p.DumpTable(context.Background(), "", "")
	if err != nil {
		t.Fatalf("DumpTable: %v", err)
	}
	if filepath.Dir(path) != filepath.Join(cfg.Storage.DataDir, "db", "sqlite") {
		t.Errorf("dump path = %q, want it under <data>/db/sqlite", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading dump: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("dump has %d lines, want header plus 1 row", len(lines))
	}
	if !strings.HasPrefix(lines[1], "2025-08-01,") {
		t.Errorf("row = %q, want the ingested date", lines[1])
	}
}

func TestDumpTableRejectsUnknownBackend(t *testing.T) {
	cfg := testConfig(t, "http://unused.invalid", []string{"temperature_2m_max"})
	p := New(cfg, nil)
	if _, err := p.DumpTable(context.Background(), "mssql", ""); err == nil {
		t.Fatal("DumpTable accepted an unknown backend override")
	}
}
