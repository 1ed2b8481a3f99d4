package store

import (
	"fmt"
	"math"
	"time"

	"weatherpipe/internal/ingest"
)

// Source is the provenance value recorded on every ingested row.
const Source = "open-meteo"

// DayRow is the storage-table representation of one normalized day record,
// uniquely keyed by Date.
type DayRow struct {
	Date                   string
	TempMaxC, TempMinC     *float64
	TempMaxF, TempMinF     *float64
	AppTempMaxC            *float64
	AppTempMinC            *float64
	PrecipMM               *float64
	RainMM                 *float64
	ShowersMM              *float64
	SnowfallMM             *float64
	PrecipHours            *float64
	Sunrise, Sunset        *string
	DaylightSec            *float64
	SunshineSec            *float64
	ShortwaveRadiationMJM2 *float64
	WindMaxKMH             *float64
	WindGustMaxKMH         *float64
	WindDirDeg             *float64
	WeatherCode            *int64
	Et0MM                  *float64
	UVIndexMax             *float64
	UVIndexClearSkyMax     *float64
	Source                 string
	IngestedAt             string
}

// layouts accepted for the date column and the sunrise/sunset timestamps.
var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04"}
var timestampLayouts = []string{"2006-01-02T15:04", "2006-01-02T15:04:05", time.RFC3339}

// NewDayRow normalizes a transformed row into its storage representation:
// canonical YYYY-MM-DD date, sunrise/sunset as ISO-8601 strings (null when
// unparseable), floats for every numeric column except the integer weather
// code, and fresh provenance fields.
func NewDayRow(row *ingest.Row, now time.Time) (*DayRow, error) {
	date, err := canonicalDate(row.String("date"))
	if err != nil {
		return nil, err
	}

	d := &DayRow{
		Date:                   date,
		TempMaxC:               row.Float("temp_max_c"),
		TempMinC:               row.Float("temp_min_c"),
		TempMaxF:               row.Float("temp_max_f"),
		TempMinF:               row.Float("temp_min_f"),
		AppTempMaxC:            row.Float("app_temp_max_c"),
		AppTempMinC:            row.Float("app_temp_min_c"),
		PrecipMM:               row.Float("precip_mm"),
		RainMM:                 row.Float("rain_mm"),
		ShowersMM:              row.Float("showers_mm"),
		SnowfallMM:             row.Float("snowfall_mm"),
		PrecipHours:            row.Float("precip_hours"),
		Sunrise:                isoTimestamp(row.String("sunrise")),
		Sunset:                 isoTimestamp(row.String("sunset")),
		DaylightSec:            row.Float("daylight_sec"),
		SunshineSec:            row.Float("sunshine_sec"),
		ShortwaveRadiationMJM2: row.Float("shortwave_radiation_mj_m2"),
		WindMaxKMH:             row.Float("wind_max_kmh"),
		WindGustMaxKMH:         row.Float("wind_gust_max_kmh"),
		WindDirDeg:             row.Float("wind_dir_deg"),
		Et0MM:                  row.Float("et0_mm"),
		UVIndexMax:             row.Float("uv_index_max"),
		UVIndexClearSkyMax:     row.Float("uv_index_clear_sky_max"),
		Source:                 Source,
		IngestedAt:             now.UTC().Format("2006-01-02T15:04:05Z"),
	}

	if code := row.Float("weather_code"); code != nil && !math.IsNaN(*code) {
		n := int64(*code)
		d.WeatherCode = &n
	}

	return d, nil
}

// canonicalDate coerces the record date into YYYY-MM-DD. A record without a
// parseable date cannot be keyed and is an error.
func canonicalDate(s *string) (string, error) {
	if s == nil || *s == "" {
		return "", fmt.Errorf("store: day record has no date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, *s); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("store: unparseable date %q", *s)
}

// isoTimestamp parses an archive timestamp and reformats it as ISO-8601
// with seconds. Missing or unparseable inputs become null.
func isoTimestamp(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, *s); err == nil {
			out := t.Format("2006-01-02T15:04:05")
			return &out
		}
	}
	return nil
}
