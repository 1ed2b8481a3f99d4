package archive

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Span is one contiguous inclusive date sub-range fetched in a single API
// call.
type Span struct {
	Start string
	End   string
}

// Request is an immutable description of one archive ingestion run.
type Request struct {
	Latitude  float64
	Longitude float64
	StartDate string // YYYY-MM-DD, inclusive
	EndDate   string // YYYY-MM-DD, inclusive
	Timezone  string
	DailyVars []string // ordered, de-duplicated
	ChunkDays int      // 0 disables chunking
}

// Validate checks the Request invariants: parseable dates, start <= end,
// non-negative chunk size, and a non-empty variable set.
func (r Request) Validate() error {
	start, err := time.Parse(dateLayout, r.StartDate)
	if err != nil {
		return fmt.Errorf("archive: invalid start date %q: %w", r.StartDate, err)
	}
	end, err := time.Parse(dateLayout, r.EndDate)
	if err != nil {
		return fmt.Errorf("archive: invalid end date %q: %w", r.EndDate, err)
	}
	if start.After(end) {
		return fmt.Errorf("archive: start date %s is after end date %s", r.StartDate, r.EndDate)
	}
	if r.ChunkDays < 0 {
		return fmt.Errorf("archive: chunk size must be 0 or positive, got %d", r.ChunkDays)
	}
	if len(r.DailyVars) == 0 {
		return fmt.Errorf("archive: no daily variables requested")
	}
	return nil
}

// Spans splits the request's date range into consecutive inclusive blocks of
// ChunkDays days, the last block truncated to fit the end date. With
// chunking disabled it returns the full range as a single span. The request
// must already be valid.
func (r Request) Spans() []Span {
	start, _ := time.Parse(dateLayout, r.StartDate)
	end, _ := time.Parse(dateLayout, r.EndDate)

	if r.ChunkDays == 0 {
		return []Span{{Start: r.StartDate, End: r.EndDate}}
	}

	var spans []Span
	for cur := start; !cur.After(end); {
		chunkEnd := cur.AddDate(0, 0, r.ChunkDays-1)
		if chunkEnd.After(end) {
			chunkEnd = end
		}
		spans = append(spans, Span{
			Start: cur.Format(dateLayout),
			End:   chunkEnd.Format(dateLayout),
		})
		cur = chunkEnd.AddDate(0, 0, 1)
	}
	return spans
}
