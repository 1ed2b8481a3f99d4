package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"weatherpipe/internal/store"
)

// Dumper exports the weather_daily table, ordered by date, to a timestamped
// CSV file under a per-backend directory.
type Dumper struct {
	DB      *store.DB
	OutRoot string
	Log     *slog.Logger

	// Clock stamps the export filename; tests pin it.
	Clock func() time.Time
}

// NewDumper wires a Dumper over an open database.
func NewDumper(db *store.DB, outRoot string, log *slog.Logger) *Dumper {
	if log == nil {
		log = slog.Default()
	}
	return &Dumper{DB: db, OutRoot: outRoot, Log: log, Clock: time.Now}
}

// backendDir maps the backend to its dump subdirectory.
func backendDir(backend string) string {
	if backend == "postgres" {
		return "pg"
	}
	return "sqlite"
}

// Dump verifies the table exists, reads every row ordered by date, and
// writes weather_daily_<YYYYMMDD_HHMMSS>.csv under <OutRoot>/<sqlite|pg>/.
// It returns the written path.
func (d *Dumper) Dump(ctx context.Context) (string, error) {
	exists, err := d.tableExists(ctx)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("report: table weather_daily does not exist in the configured database")
	}

	rows, err := d.DB.Conn().QueryContext(ctx, "SELECT * FROM weather_daily ORDER BY date")
	if err != nil {
		return "", fmt.Errorf("reading weather_daily: %w", err)
	}
	columns, data, err := collect(rows)
	rows.Close()
	if err != nil {
		return "", fmt.Errorf("reading weather_daily: %w", err)
	}

	dir := filepath.Join(d.OutRoot, backendDir(d.DB.Backend()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating dump dir: %w", err)
	}

	name := fmt.Sprintf("weather_daily_%s.csv", d.Clock().UTC().Format("20060102_150405"))
	path := filepath.Join(dir, name)
	if err := writeCSV(path, resultSet{name: "weather_daily", columns: columns, rows: data}); err != nil {
		return "", err
	}

	d.Log.Info("exported weather_daily", "rows", len(data), "path", path)
	return path, nil
}

// tableExists probes the backend's catalog for weather_daily.
func (d *Dumper) tableExists(ctx context.Context) (bool, error) {
	var probe string
	switch d.DB.Backend() {
	case "postgres":
		probe = "SELECT table_name FROM information_schema.tables WHERE table_name = 'weather_daily'"
	default:
		probe = "SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'weather_daily'"
	}

	var name string
	err := d.DB.Conn().QueryRowContext(ctx, probe).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking for weather_daily: %w", err)
	}
	return true, nil
}
