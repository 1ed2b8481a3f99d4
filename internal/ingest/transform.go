package ingest

import (
	"sort"
	"strconv"
)

// ClampPolicy selects how out-of-range numeric values are treated.
type ClampPolicy int

const (
	// ClampNull replaces out-of-range values with null.
	ClampNull ClampPolicy = iota
	// ClampSaturate pins out-of-range values to the violated boundary.
	ClampSaturate
)

// fieldSpec maps one raw API variable to its canonical output column:
// either a string passthrough or a numeric clamp into [lo, hi].
type fieldSpec struct {
	source      string
	column      string
	passthrough bool
	lo, hi      *float64
}

func f(v float64) *float64 { return &v }

// fieldTable is the full source-to-canonical mapping with per-field validity
// ranges (closed intervals; nil bound = unbounded).
var fieldTable = []fieldSpec{
	{source: "time", column: "date", passthrough: true},
	{source: "temperature_2m_max", column: "temp_max_c", lo: f(-100), hi: f(70)},
	{source: "temperature_2m_min", column: "temp_min_c", lo: f(-120), hi: f(70)},
	{source: "apparent_temperature_max", column: "app_temp_max_c", lo: f(-120), hi: f(80)},
	{source: "apparent_temperature_min", column: "app_temp_min_c", lo: f(-120), hi: f(80)},
	{source: "precipitation_sum", column: "precip_mm", lo: f(0)},
	{source: "rain_sum", column: "rain_mm", lo: f(0)},
	{source: "showers_sum", column: "showers_mm", lo: f(0)},
	{source: "snowfall_sum", column: "snowfall_mm", lo: f(0)},
	{source: "precipitation_hours", column: "precip_hours", lo: f(0), hi: f(24)},
	{source: "sunrise", column: "sunrise", passthrough: true},
	{source: "sunset", column: "sunset", passthrough: true},
	{source: "daylight_duration", column: "daylight_sec", lo: f(0), hi: f(86400)},
	{source: "sunshine_duration", column: "sunshine_sec", lo: f(0), hi: f(86400)},
	{source: "shortwave_radiation_sum", column: "shortwave_radiation_mj_m2", lo: f(0)},
	{source: "windspeed_10m_max", column: "wind_max_kmh", lo: f(0), hi: f(300)},
	{source: "windgusts_10m_max", column: "wind_gust_max_kmh", lo: f(0), hi: f(400)},
	{source: "winddirection_10m_dominant", column: "wind_dir_deg", lo: f(0), hi: f(360)},
	{source: "weathercode", column: "weather_code", lo: f(0), hi: f(99)},
	{source: "et0_fao_evapotranspiration", column: "et0_mm", lo: f(0)},
	{source: "uv_index_max", column: "uv_index_max", lo: f(0), hi: f(25)},
	{source: "uv_index_clear_sky_max", column: "uv_index_clear_sky_max", lo: f(0), hi: f(25)},
}

// ColumnOrder is the fixed, stable output column order. Unmapped fields are
// appended after these.
var ColumnOrder = []string{
	"date",
	"temp_max_c", "temp_min_c", "temp_max_f", "temp_min_f",
	"app_temp_max_c", "app_temp_min_c",
	"precip_mm", "rain_mm", "showers_mm", "snowfall_mm", "precip_hours",
	"sunrise", "sunset", "daylight_sec", "sunshine_sec", "shortwave_radiation_mj_m2",
	"wind_max_kmh", "wind_gust_max_kmh", "wind_dir_deg",
	"weather_code",
	"et0_mm",
	"uv_index_max", "uv_index_clear_sky_max",
}

// ClampNumber coerces v to a float and clamps it into the closed range
// [lo, hi] (nil bound = unbounded). Missing or non-numeric values are nil.
// Out-of-range values become nil under ClampNull or the violated boundary
// under ClampSaturate.
func ClampNumber(v any, lo, hi *float64, policy ClampPolicy) *float64 {
	if v == nil {
		return nil
	}

	var x float64
	switch t := v.(type) {
	case float64:
		x = t
	case int:
		x = float64(t)
	case int64:
		x = float64(t)
	case string:
		parsed, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return nil
		}
		x = parsed
	default:
		return nil
	}

	if lo != nil && x < *lo {
		if policy == ClampSaturate {
			return f(*lo)
		}
		return nil
	}
	if hi != nil && x > *hi {
		if policy == ClampSaturate {
			return f(*hi)
		}
		return nil
	}
	return f(x)
}

// Row is one normalized day record: values keyed by canonical column name,
// with an explicit column order (the fixed set first, unmapped extras
// after).
type Row struct {
	columns []string
	values  map[string]any
}

// Columns returns the output column order.
func (r *Row) Columns() []string { return r.columns }

// Value returns the value stored under the given column (nil when null or
// absent).
func (r *Row) Value(column string) any { return r.values[column] }

// Float returns the column as *float64, nil when null or not numeric.
func (r *Row) Float(column string) *float64 {
	if v, ok := r.values[column].(float64); ok {
		return f(v)
	}
	return nil
}

// String returns the column as *string, nil when null or not a string.
func (r *Row) String(column string) *string {
	if v, ok := r.values[column].(string); ok {
		return &v
	}
	return nil
}

func (r *Row) set(column string, v any) {
	if _, seen := r.values[column]; !seen {
		r.columns = append(r.columns, column)
	}
	r.values[column] = v
}

// celsiusToFahrenheit derives F = C x 9/5 + 32, propagating null.
func celsiusToFahrenheit(c *float64) *float64 {
	if c == nil {
		return nil
	}
	return f(*c*9.0/5.0 + 32.0)
}

// TransformDay maps a single-day payload to a normalized Row: canonical
// column names, clamped numeric values, derived Fahrenheit temperatures, and
// the fixed column order with unmapped daily variables appended after it.
func TransformDay(day DayPayload, policy ClampPolicy) *Row {
	daily, _ := day.Body["daily"].(map[string]any)

	first := func(source string) any {
		arr, ok := daily[source].([]any)
		if !ok || len(arr) == 0 {
			return nil
		}
		return arr[0]
	}

	mapped := make(map[string]any, len(fieldTable)+2)
	sources := make(map[string]bool, len(fieldTable))
	for _, spec := range fieldTable {
		sources[spec.source] = true
		if spec.source == "time" {
			continue
		}
		value := first(spec.source)
		if spec.passthrough {
			if s, ok := value.(string); ok {
				mapped[spec.column] = s
			} else {
				mapped[spec.column] = nil
			}
			continue
		}
		if clamped := ClampNumber(value, spec.lo, spec.hi, policy); clamped != nil {
			mapped[spec.column] = *clamped
		} else {
			mapped[spec.column] = nil
		}
	}

	if s, ok := first("time").(string); ok {
		mapped["date"] = s
	} else {
		mapped["date"] = day.Date
	}

	// Fahrenheit is derived from the already-clamped Celsius values.
	mapped["temp_max_f"] = deref(celsiusToFahrenheit(floatOrNil(mapped["temp_max_c"])))
	mapped["temp_min_f"] = deref(celsiusToFahrenheit(floatOrNil(mapped["temp_min_c"])))

	row := &Row{values: make(map[string]any, len(mapped))}
	for _, column := range ColumnOrder {
		row.set(column, mapped[column])
	}

	// Unmapped-but-present daily variables are appended, not dropped. A
	// variable whose name collides with a canonical column must not clobber
	// the clamped value already stored under it.
	canonical := make(map[string]bool, len(ColumnOrder))
	for _, column := range ColumnOrder {
		canonical[column] = true
	}
	var extras []string
	for variable := range daily {
		if !sources[variable] && !canonical[variable] {
			extras = append(extras, variable)
		}
	}
	sort.Strings(extras)
	for _, variable := range extras {
		row.set(variable, first(variable))
	}

	return row
}

func floatOrNil(v any) *float64 {
	if x, ok := v.(float64); ok {
		return f(x)
	}
	return nil
}

func deref(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
