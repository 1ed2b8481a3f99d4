package archive

import (
	"reflect"
	"testing"
)

func TestParseUnknownVarsQuotedPhrase(t *testing.T) {
	got := ParseUnknownVars(`{"error":true,"reason":"'uv_index_clear_sky_max' is not a known variable"}`)
	want := []string{"uv_index_clear_sky_max"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseUnknownVars = %v, want %v", got, want)
	}
}

func TestParseUnknownVarsInvalidParameterList(t *testing.T) {
	got := ParseUnknownVars("Invalid value for parameter 'daily': foo_bar, TEMP_max, invalid-var")
	want := []string{"foo_bar", "temp_max"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseUnknownVars = %v, want %v (malformed token must be excluded)", got, want)
	}
}

func TestParseUnknownVarsVariantPhrasings(t *testing.T) {
	cases := []struct {
		body string
		want []string
	}{
		{"Unknown daily variable: showers_sum", []string{"showers_sum"}},
		{"unknown daily variables: rain_sum, snowfall_sum", []string{"rain_sum", "snowfall_sum"}},
		{"Unsupported daily variable: et0_fao_evapotranspiration", []string{"et0_fao_evapotranspiration"}},
		{"UNSUPPORTED DAILY VARIABLES: weathercode uv_index_max", []string{"uv_index_max", "weathercode"}},
	}
	for _, tc := range cases {
		if got := ParseUnknownVars(tc.body); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("ParseUnknownVars(%q) = %v, want %v", tc.body, got, tc.want)
		}
	}
}

func TestParseUnknownVarsNoMatch(t *testing.T) {
	cases := []string{
		"",
		"Bad Request",
		`{"error":true,"reason":"latitude out of range"}`,
	}
	for _, body := range cases {
		if got := ParseUnknownVars(body); len(got) != 0 {
			t.Errorf("ParseUnknownVars(%q) = %v, want empty", body, got)
		}
	}
}

func TestParseUnknownVarsDeduplicatesAndSorts(t *testing.T) {
	body := "'rain_sum' is not a known variable. Unknown daily variables: rain_sum, apparent_temperature_max"
	got := ParseUnknownVars(body)
	want := []string{"apparent_temperature_max", "rain_sum"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseUnknownVars = %v, want %v", got, want)
	}
}
