// Package ingest decomposes multi-day archive payloads into per-day units
// and normalizes raw API fields into canonical records.
package ingest

import (
	"errors"
	"fmt"

	"weatherpipe/internal/archive"
)

// ErrMissingDailyTime means a chunk payload carries no daily.time array, so
// day alignment cannot be established and the chunk cannot be ingested.
var ErrMissingDailyTime = errors.New("ingest: response missing daily.time")

// DayPayload is a chunk payload narrowed to exactly one date: every array
// under its daily section has length 1.
type DayPayload struct {
	Date string
	Body map[string]any
}

// skipped top-level sections: daily is rebuilt per day, hourly/current are
// other response granularities that do not belong in a daily artifact.
var skipTopLevel = map[string]bool{
	"daily":   true,
	"hourly":  true,
	"current": true,
}

// SplitDays decomposes one chunk payload into independent single-day
// payloads, preserving positional alignment against daily.time. Arrays whose
// length does not match the chunk's day count contribute a null for every
// day; the number of cells padded this way is returned so callers can
// surface partial variable coverage. Top-level metadata is copied into every
// day payload.
func SplitDays(chunk *archive.ChunkPayload) ([]DayPayload, int, error) {
	daily, ok := chunk.Daily()
	if !ok {
		return nil, 0, fmt.Errorf("%w (span %s..%s)", ErrMissingDailyTime, chunk.Span.Start, chunk.Span.End)
	}
	rawTimes, ok := daily["time"].([]any)
	if !ok {
		return nil, 0, fmt.Errorf("%w (span %s..%s)", ErrMissingDailyTime, chunk.Span.Start, chunk.Span.End)
	}

	times := make([]string, 0, len(rawTimes))
	for _, v := range rawTimes {
		s, ok := v.(string)
		if !ok {
			return nil, 0, fmt.Errorf("ingest: daily.time contains non-string entry %v (span %s..%s)",
				v, chunk.Span.Start, chunk.Span.End)
		}
		times = append(times, s)
	}

	total := len(times)
	padded := 0
	days := make([]DayPayload, 0, total)

	for i, day := range times {
		body := make(map[string]any, len(chunk.Body)+3)
		for key, value := range chunk.Body {
			if skipTopLevel[key] || key == archive.KeyRequestedDaily ||
				key == archive.KeyAcceptedDaily || key == archive.KeyDroppedDaily {
				continue
			}
			body[key] = value
		}
		body[archive.KeyRequestedDaily] = chunk.Requested
		body[archive.KeyAcceptedDaily] = chunk.Accepted
		body[archive.KeyDroppedDaily] = chunk.Dropped

		dayDaily := make(map[string]any, len(daily))
		for variable, values := range daily {
			if variable == "time" {
				dayDaily["time"] = []any{day}
				continue
			}
			if arr, ok := values.([]any); ok && len(arr) == total {
				dayDaily[variable] = []any{arr[i]}
			} else {
				dayDaily[variable] = []any{nil}
				padded++
			}
		}
		body["daily"] = dayDaily

		days = append(days, DayPayload{Date: day, Body: body})
	}

	return days, padded, nil
}
