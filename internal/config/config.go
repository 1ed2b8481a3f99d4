// Package config loads the pipeline configuration from a YAML file, applies
// environment variable overrides, and validates the result.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the weatherpipe pipeline.
type Config struct {
	Location Location      `yaml:"location"`
	Range    DateRange     `yaml:"range"`
	Archive  ArchiveConfig `yaml:"archive"`
	Storage  Storage       `yaml:"storage"`
	Reports  Reports       `yaml:"reports"`
	Logging  Logging       `yaml:"logging"`
}

// Location identifies the fixed point the archive is queried for.
type Location struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	Timezone  string  `yaml:"timezone"`
}

// DateRange is the inclusive ingestion window, optionally split into chunks.
type DateRange struct {
	StartDate string `yaml:"start_date"`
	EndDate   string `yaml:"end_date"`
	ChunkDays int    `yaml:"chunk_days"` // 0 disables chunking
}

// ArchiveConfig holds the archive API endpoint and request budget.
type ArchiveConfig struct {
	BaseURL        string   `yaml:"base_url"`
	DailyVariables []string `yaml:"daily_variables"`
	MaxAttempts    int      `yaml:"max_attempts"`
	TimeoutSec     int      `yaml:"timeout_sec"`
}

// Storage selects the relational backend and artifact tree locations.
type Storage struct {
	Backend     string `yaml:"backend"` // "sqlite" or "postgres"
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
	DataDir     string `yaml:"data_dir"`
}

// Reports configures the analytics stage: a directory of externally supplied
// SQL files, selected per backend, executed after ingestion.
type Reports struct {
	SQLDir string   `yaml:"sql_dir"`
	Files  []string `yaml:"files"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultDailyVariables is the full daily variable set requested from the
// archive before any negotiation prunes it.
var DefaultDailyVariables = []string{
	"temperature_2m_max", "temperature_2m_min",
	"apparent_temperature_max", "apparent_temperature_min",
	"precipitation_sum", "rain_sum", "showers_sum", "snowfall_sum",
	"precipitation_hours",
	"sunrise", "sunset", "daylight_duration", "sunshine_duration",
	"shortwave_radiation_sum",
	"windspeed_10m_max", "windgusts_10m_max", "winddirection_10m_dominant",
	"weathercode", "et0_fao_evapotranspiration",
	"uv_index_max", "uv_index_clear_sky_max",
}

// Default returns the built-in configuration used when no YAML file or
// environment overrides are present.
func Default() *Config {
	return &Config{
		Location: Location{
			Latitude:  50.45,
			Longitude: 30.52,
			Timezone:  "Europe/Kyiv",
		},
		Range: DateRange{
			StartDate: "2025-08-01",
			EndDate:   "2025-09-13",
			ChunkDays: 30,
		},
		Archive: ArchiveConfig{
			BaseURL:        "https://archive-api.open-meteo.com/v1/archive",
			DailyVariables: append([]string(nil), DefaultDailyVariables...),
			MaxAttempts:    5,
			TimeoutSec:     60,
		},
		Storage: Storage{
			Backend:    "sqlite",
			SQLitePath: "data/db/weather.db",
			DataDir:    "data",
		},
		Reports: Reports{
			SQLDir: "resources/sql",
			Files: []string{
				"metrics_rolling_7d.sql",
				"metrics_heatwave_streaks.sql",
				"metrics_sunshine_vs_temp.sql",
			},
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load builds the configuration: defaults, then the YAML file at path (if
// non-empty), then environment variable overrides. A .env file in the working
// directory is honored when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WEATHERPIPE_LATITUDE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Location.Latitude = f
		}
	}
	if v := os.Getenv("WEATHERPIPE_LONGITUDE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Location.Longitude = f
		}
	}
	if v := os.Getenv("WEATHERPIPE_TIMEZONE"); v != "" {
		cfg.Location.Timezone = v
	}
	if v := os.Getenv("WEATHERPIPE_START_DATE"); v != "" {
		cfg.Range.StartDate = v
	}
	if v := os.Getenv("WEATHERPIPE_END_DATE"); v != "" {
		cfg.Range.EndDate = v
	}
	if v := os.Getenv("WEATHERPIPE_CHUNK_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Range.ChunkDays = n
		}
	}
	if v := os.Getenv("WEATHERPIPE_ARCHIVE_URL"); v != "" {
		cfg.Archive.BaseURL = v
	}
	if v := os.Getenv("WEATHERPIPE_DB_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("WEATHERPIPE_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("WEATHERPIPE_POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate checks cross-field invariants and normalises the daily variable
// list (order-preserving dedup, lowercase as the archive expects).
func (c *Config) Validate() error {
	start, err := time.Parse("2006-01-02", c.Range.StartDate)
	if err != nil {
		return fmt.Errorf("invalid start_date %q: %w", c.Range.StartDate, err)
	}
	end, err := time.Parse("2006-01-02", c.Range.EndDate)
	if err != nil {
		return fmt.Errorf("invalid end_date %q: %w", c.Range.EndDate, err)
	}
	if start.After(end) {
		return fmt.Errorf("start_date %s is after end_date %s", c.Range.StartDate, c.Range.EndDate)
	}
	if c.Range.ChunkDays < 0 {
		return fmt.Errorf("chunk_days must be 0 (disabled) or positive, got %d", c.Range.ChunkDays)
	}
	if c.Archive.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", c.Archive.MaxAttempts)
	}
	if c.Archive.TimeoutSec < 1 {
		return fmt.Errorf("timeout_sec must be at least 1, got %d", c.Archive.TimeoutSec)
	}

	switch c.Storage.Backend {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("storage backend must be sqlite or postgres, got %q", c.Storage.Backend)
	}

	c.Archive.DailyVariables = dedupeVariables(c.Archive.DailyVariables)
	if len(c.Archive.DailyVariables) == 0 {
		return fmt.Errorf("daily_variables must not be empty")
	}
	return nil
}

// dedupeVariables lowercases and de-duplicates the variable list while
// preserving first-seen order.
func dedupeVariables(vars []string) []string {
	seen := make(map[string]struct{}, len(vars))
	out := make([]string, 0, len(vars))
	for _, v := range vars {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
