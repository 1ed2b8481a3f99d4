package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
)

// ArtifactStore writes the per-day artifact trees: the raw API payload as
// JSON and the normalized record as a single-row Parquet file. Locations are
// deterministic per date and overwritten on re-ingestion.
type ArtifactStore struct {
	DataDir string
}

// NewArtifactStore creates an ArtifactStore rooted at the given data
// directory.
func NewArtifactStore(dataDir string) *ArtifactStore {
	return &ArtifactStore{DataDir: dataDir}
}

// ProcessedRecord is the Parquet schema for one normalized day, in the fixed
// output column order.
type ProcessedRecord struct {
	Date                   string   `parquet:"date"`
	TempMaxC               *float64 `parquet:"temp_max_c,optional"`
	TempMinC               *float64 `parquet:"temp_min_c,optional"`
	TempMaxF               *float64 `parquet:"temp_max_f,optional"`
	TempMinF               *float64 `parquet:"temp_min_f,optional"`
	AppTempMaxC            *float64 `parquet:"app_temp_max_c,optional"`
	AppTempMinC            *float64 `parquet:"app_temp_min_c,optional"`
	PrecipMM               *float64 `parquet:"precip_mm,optional"`
	RainMM                 *float64 `parquet:"rain_mm,optional"`
	ShowersMM              *float64 `parquet:"showers_mm,optional"`
	SnowfallMM             *float64 `parquet:"snowfall_mm,optional"`
	PrecipHours            *float64 `parquet:"precip_hours,optional"`
	Sunrise                *string  `parquet:"sunrise,optional"`
	Sunset                 *string  `parquet:"sunset,optional"`
	DaylightSec            *float64 `parquet:"daylight_sec,optional"`
	SunshineSec            *float64 `parquet:"sunshine_sec,optional"`
	ShortwaveRadiationMJM2 *float64 `parquet:"shortwave_radiation_mj_m2,optional"`
	WindMaxKMH             *float64 `parquet:"wind_max_kmh,optional"`
	WindGustMaxKMH         *float64 `parquet:"wind_gust_max_kmh,optional"`
	WindDirDeg             *float64 `parquet:"wind_dir_deg,optional"`
	WeatherCode            *int64   `parquet:"weather_code,optional"`
	Et0MM                  *float64 `parquet:"et0_mm,optional"`
	UVIndexMax             *float64 `parquet:"uv_index_max,optional"`
	UVIndexClearSkyMax     *float64 `parquet:"uv_index_clear_sky_max,optional"`
}

// RawPath returns the raw artifact location for a date.
// Layout: <DataDir>/raw/<YYYY-MM-DD>/response.json
func (s *ArtifactStore) RawPath(day string) string {
	return filepath.Join(s.DataDir, "raw", day, "response.json")
}

// ProcessedPath returns the processed artifact location for a date.
// Layout: <DataDir>/processed/<YYYY-MM-DD>/data.parquet
func (s *ArtifactStore) ProcessedPath(day string) string {
	return filepath.Join(s.DataDir, "processed", day, "data.parquet")
}

// WriteRaw serializes the untransformed day payload verbatim, overwriting
// any previous artifact for the date.
func (s *ArtifactStore) WriteRaw(day string, payload map[string]any) error {
	path := s.RawPath(day)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating raw dir for %s: %w", day, err)
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding raw payload for %s: %w", day, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing raw artifact for %s: %w", day, err)
	}
	return nil
}

// WriteProcessed writes the normalized record as a single-row Parquet file,
// overwriting any previous artifact for the date.
func (s *ArtifactStore) WriteProcessed(day string, row *DayRow) error {
	path := s.ProcessedPath(day)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating processed dir for %s: %w", day, err)
	}

	rec := ProcessedRecord{
		Date:                   row.Date,
		TempMaxC:               row.TempMaxC,
		TempMinC:               row.TempMinC,
		TempMaxF:               row.TempMaxF,
		TempMinF:               row.TempMinF,
		AppTempMaxC:            row.AppTempMaxC,
		AppTempMinC:            row.AppTempMinC,
		PrecipMM:               row.PrecipMM,
		RainMM:                 row.RainMM,
		ShowersMM:              row.ShowersMM,
		SnowfallMM:             row.SnowfallMM,
		PrecipHours:            row.PrecipHours,
		Sunrise:                row.Sunrise,
		Sunset:                 row.Sunset,
		DaylightSec:            row.DaylightSec,
		SunshineSec:            row.SunshineSec,
		ShortwaveRadiationMJM2: row.ShortwaveRadiationMJM2,
		WindMaxKMH:             row.WindMaxKMH,
		WindGustMaxKMH:         row.WindGustMaxKMH,
		WindDirDeg:             row.WindDirDeg,
		WeatherCode:            row.WeatherCode,
		Et0MM:                  row.Et0MM,
		UVIndexMax:             row.UVIndexMax,
		UVIndexClearSkyMax:     row.UVIndexClearSkyMax,
	}

	if err := parquet.WriteFile(path, []ProcessedRecord{rec}); err != nil {
		return fmt.Errorf("writing processed artifact for %s: %w", day, err)
	}
	return nil
}
