package report

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"weatherpipe/internal/store"
)

// Runner executes the configured metric queries against the archive database
// and materializes one timestamped report directory per run.
type Runner struct {
	DB      *store.DB
	SQLDir  string
	DataDir string
	Files   []string
	Log     *slog.Logger

	// Clock stamps the report directory; tests pin it.
	Clock func() time.Time
}

// NewRunner wires a report runner over an open database.
func NewRunner(db *store.DB, sqlDir, dataDir string, files []string, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		DB:      db,
		SQLDir:  sqlDir,
		DataDir: dataDir,
		Files:   files,
		Log:     log,
		Clock:   time.Now,
	}
}

type resultSet struct {
	name    string
	columns []string
	rows    [][]any
}

type metricEntry struct {
	Name string `json:"name"`
	Rows int    `json:"rows"`
	JSON string `json:"json"`
	CSV  string `json:"csv"`
}

type manifest struct {
	GeneratedUTC string        `json:"generated_utc"`
	RunID        string        `json:"run_id"`
	Metrics      []metricEntry `json:"metrics"`
}

// Run executes every configured query inside one transaction, then writes
// <name>.json and <name>.csv per query plus metadata.json under
// <data>/reports/<YYYYMMDD_HHMMSS>/. It returns the report directory.
func (r *Runner) Run(ctx context.Context) (string, error) {
	tx, err := r.DB.Conn().BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning report transaction: %w", err)
	}
	defer tx.Rollback()

	sets := make([]resultSet, 0, len(r.Files))
	for _, file := range r.Files {
		path := filepath.Join(r.SQLDir, r.DB.Backend(), file)
		query, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("loading query %s: %w", file, err)
		}

		set := resultSet{name: strings.TrimSuffix(file, filepath.Ext(file))}
		rows, err := tx.QueryContext(ctx, string(query))
		if err != nil {
			return "", fmt.Errorf("executing %s: %w", file, err)
		}
		set.columns, set.rows, err = collect(rows)
		rows.Close()
		if err != nil {
			return "", fmt.Errorf("reading %s results: %w", file, err)
		}
		sets = append(sets, set)
	}

	now := r.Clock().UTC()
	dir := filepath.Join(r.DataDir, "reports", now.Format("20060102_150405"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating report dir: %w", err)
	}

	meta := manifest{
		GeneratedUTC: now.Format("2006-01-02T15:04:05Z"),
		RunID:        uuid.NewString(),
	}
	for _, set := range sets {
		entry := metricEntry{
			Name: set.name,
			Rows: len(set.rows),
			JSON: set.name + ".json",
			CSV:  set.name + ".csv",
		}
		if err := writeJSON(filepath.Join(dir, entry.JSON), set); err != nil {
			return "", err
		}
		if err := writeCSV(filepath.Join(dir, entry.CSV), set); err != nil {
			return "", err
		}
		r.Log.Info("wrote report metric", "metric", set.name, "rows", entry.Rows, "dir", dir)
		meta.Metrics = append(meta.Metrics, entry)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding report metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "metadata.json"), data, 0o644); err != nil {
		return "", fmt.Errorf("writing report metadata: %w", err)
	}

	return dir, nil
}

// collect drains a result set into column-ordered rows, normalizing driver
// byte slices to strings.
func collect(rows *sql.Rows) ([]string, [][]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var out [][]any
	for rows.Next() {
		cells := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		for i, cell := range cells {
			if b, ok := cell.([]byte); ok {
				cells[i] = string(b)
			}
		}
		out = append(out, cells)
	}
	return columns, out, rows.Err()
}

// writeJSON serializes a result set as an array of records.
func writeJSON(path string, set resultSet) error {
	records := make([]map[string]any, len(set.rows))
	for i, row := range set.rows {
		record := make(map[string]any, len(set.columns))
		for j, column := range set.columns {
			record[column] = row[j]
		}
		records[i] = record
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", set.name, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", set.name, err)
	}
	return nil
}

// writeCSV serializes a result set with a header row; nulls become empty
// cells.
func writeCSV(path string, set resultSet) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s.csv: %w", set.name, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(set.columns); err != nil {
		return fmt.Errorf("writing %s.csv header: %w", set.name, err)
	}
	for _, row := range set.rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = cellString(cell)
		}
		if err := w.Write(cells); err != nil {
			return fmt.Errorf("writing %s.csv row: %w", set.name, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing %s.csv: %w", set.name, err)
	}
	return f.Close()
}

func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format("2006-01-02T15:04:05Z")
	default:
		return fmt.Sprint(x)
	}
}
