// Package store persists normalized day records: raw and processed artifact
// files plus an idempotent relational table keyed by date.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/lib/pq"   // Postgres driver.
	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

//go:embed sql/sqlite/*.sql sql/postgres/*.sql
var sqlFS embed.FS

// DB wraps the relational backend selected by configuration.
type DB struct {
	conn    *sql.DB
	backend string
	upsert  string
	log     *slog.Logger
}

// Open connects to the configured backend. For sqlite, dsn is the database
// file path (parent directories are created); for postgres it is a
// connection DSN.
func Open(backend, dsn string, log *slog.Logger) (*DB, error) {
	if log == nil {
		log = slog.Default()
	}

	var conn *sql.DB
	var err error
	switch backend {
	case "sqlite":
		if dir := filepath.Dir(dsn); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating database dir: %w", err)
			}
		}
		conn, err = sql.Open("sqlite", dsn)
	case "postgres":
		conn, err = sql.Open("postgres", dsn)
	default:
		return nil, fmt.Errorf("store: unsupported backend %q", backend)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", backend, err)
	}

	upsert, err := sqlFS.ReadFile("sql/" + backend + "/upsert.sql")
	if err != nil {
		return nil, fmt.Errorf("loading upsert statement: %w", err)
	}

	return &DB{conn: conn, backend: backend, upsert: string(upsert), log: log}, nil
}

// Conn exposes the underlying connection for read-only consumers such as the
// report runner.
func (d *DB) Conn() *sql.DB { return d.conn }

// Backend reports which backend the connection was opened against.
func (d *DB) Backend() string { return d.backend }

// Close closes the underlying database connection.
func (d *DB) Close() error { return d.conn.Close() }

// EnsureSchema creates the weather_daily table if it does not exist.
func (d *DB) EnsureSchema(ctx context.Context) error {
	ddl, err := sqlFS.ReadFile("sql/" + d.backend + "/init.sql")
	if err != nil {
		return fmt.Errorf("loading schema: %w", err)
	}
	if _, err := d.conn.ExecContext(ctx, string(ddl)); err != nil {
		return fmt.Errorf("creating weather_daily table: %w", err)
	}
	return nil
}

// BeginChunk opens the transactional scope that covers every day of one
// chunk.
func (d *DB) BeginChunk(ctx context.Context) (*sql.Tx, error) {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning chunk transaction: %w", err)
	}
	return tx, nil
}

// UpsertDay inserts the row or, on a date conflict, overwrites every non-key
// column with the new values.
func (d *DB) UpsertDay(ctx context.Context, tx *sql.Tx, row *DayRow) error {
	_, err := tx.ExecContext(ctx, d.upsert,
		row.Date,
		nullFloat(row.TempMaxC), nullFloat(row.TempMinC),
		nullFloat(row.TempMaxF), nullFloat(row.TempMinF),
		nullFloat(row.AppTempMaxC), nullFloat(row.AppTempMinC),
		nullFloat(row.PrecipMM), nullFloat(row.RainMM),
		nullFloat(row.ShowersMM), nullFloat(row.SnowfallMM),
		nullFloat(row.PrecipHours),
		nullString(row.Sunrise), nullString(row.Sunset),
		nullFloat(row.DaylightSec), nullFloat(row.SunshineSec),
		nullFloat(row.ShortwaveRadiationMJM2),
		nullFloat(row.WindMaxKMH), nullFloat(row.WindGustMaxKMH),
		nullFloat(row.WindDirDeg),
		nullInt(row.WeatherCode),
		nullFloat(row.Et0MM),
		nullFloat(row.UVIndexMax), nullFloat(row.UVIndexClearSkyMax),
		row.Source, row.IngestedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting %s: %w", row.Date, err)
	}
	return nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
