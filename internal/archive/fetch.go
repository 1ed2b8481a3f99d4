package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Sentinel errors for the fatal negotiation outcomes.
var (
	// ErrUnparseableRejection means a 400 body named no recognisable
	// variables, which indicates an API contract change.
	ErrUnparseableRejection = errors.New("archive: unparseable variable rejection")

	// ErrNoVariablesLeft means negotiation pruned the working variable set
	// down to nothing.
	ErrNoVariablesLeft = errors.New("archive: all daily variables rejected")

	// ErrNoData means the run produced no daily data at all.
	ErrNoData = errors.New("archive: no data returned for the requested range")
)

// Metadata keys annotated onto every payload (and carried into the raw
// artifacts on disk).
const (
	KeyRequestedDaily = "_requested_daily"
	KeyAcceptedDaily  = "_accepted_daily"
	KeyDroppedDaily   = "_dropped_daily"
)

// ChunkPayload is one successful API response scoped to a date sub-range,
// annotated with variable negotiation metadata. Accepted is chunk-local;
// Dropped is cumulative across the whole run, de-duplicated and sorted.
type ChunkPayload struct {
	Span      Span
	Body      map[string]any
	Requested []string
	Accepted  []string
	Dropped   []string
}

// Daily returns the payload's daily section, if present.
func (p *ChunkPayload) Daily() (map[string]any, bool) {
	daily, ok := p.Body["daily"].(map[string]any)
	return daily, ok
}

// negotiation states for one date sub-range.
type negotiationState int

const (
	stateRequesting negotiationState = iota
	statePruning
	stateAccepted
	stateExhausted
)

// ChunkSequence lazily produces one ChunkPayload per date sub-range, in
// order. Fetching happens only when the consumer asks for the next chunk.
// The variable set pruned by negotiation carries over to later chunks.
type ChunkSequence struct {
	client    *Client
	baseURL   string
	req       Request
	spans     []Span
	idx       int
	remaining []string
	dropped   map[string]struct{}
	log       *slog.Logger
}

// NewChunkSequence validates the request and prepares the lazy sequence.
func NewChunkSequence(client *Client, baseURL string, req Request, log *slog.Logger) (*ChunkSequence, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	spans := req.Spans()
	if len(spans) == 0 {
		return nil, ErrNoData
	}

	return &ChunkSequence{
		client:    client,
		baseURL:   baseURL,
		req:       req,
		spans:     spans,
		remaining: append([]string(nil), req.DailyVars...),
		dropped:   make(map[string]struct{}),
		log:       log,
	}, nil
}

// Next fetches and returns the next chunk payload. The second return is
// false once the sequence is exhausted. Chunks are strictly ordered by date
// range; an error is fatal for the run.
func (s *ChunkSequence) Next(ctx context.Context) (*ChunkPayload, bool, error) {
	if s.idx >= len(s.spans) {
		return nil, false, nil
	}
	span := s.spans[s.idx]
	s.idx++

	s.log.Info("fetching archive chunk", "start", span.Start, "end", span.End, "variables", len(s.remaining))

	payload, err := s.fetchSpan(ctx, span)
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// DroppedVars returns the cumulative set of variables pruned so far,
// de-duplicated and sorted.
func (s *ChunkSequence) DroppedVars() []string {
	out := make([]string, 0, len(s.dropped))
	for v := range s.dropped {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// fetchSpan drives the negotiation state machine for one date sub-range:
// request with the working variable set; on 400, prune the variables the
// body names and retry the same span; on 200, accept.
func (s *ChunkSequence) fetchSpan(ctx context.Context, span Span) (*ChunkPayload, error) {
	state := stateRequesting
	var payload *ChunkPayload
	var errText string

	for {
		switch state {
		case stateRequesting:
			resp, err := s.client.Get(ctx, s.baseURL, s.params(span))
			if err != nil {
				return nil, err
			}

			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("archive: reading response for %s..%s: %w", span.Start, span.End, err)
			}

			switch {
			case resp.StatusCode == http.StatusOK:
				payload, err = s.decode(span, body)
				if err != nil {
					return nil, err
				}
				state = stateAccepted
			case resp.StatusCode == http.StatusBadRequest:
				errText = string(body)
				state = statePruning
			default:
				return nil, fmt.Errorf("archive: unexpected status %d for %s..%s: %s",
					resp.StatusCode, span.Start, span.End, excerpt(string(body)))
			}

		case statePruning:
			unknown := ParseUnknownVars(errText)
			if len(unknown) == 0 {
				return nil, fmt.Errorf("%w: %s", ErrUnparseableRejection, excerpt(errText))
			}

			rejected := make(map[string]struct{}, len(unknown))
			for _, v := range unknown {
				rejected[v] = struct{}{}
				s.dropped[v] = struct{}{}
			}
			before := len(s.remaining)
			kept := s.remaining[:0]
			for _, v := range s.remaining {
				if _, ok := rejected[v]; !ok {
					kept = append(kept, v)
				}
			}
			s.remaining = kept

			// A rejection naming only variables outside the working set
			// cannot make progress; re-requesting would loop forever.
			if len(s.remaining) == before {
				return nil, fmt.Errorf("%w: rejection names no requested variable: %s",
					ErrUnparseableRejection, excerpt(errText))
			}

			s.log.Warn("archive rejected variables", "dropped", unknown, "remaining", len(s.remaining))

			if len(s.remaining) == 0 {
				state = stateExhausted
			} else {
				state = stateRequesting
			}

		case stateAccepted:
			return payload, nil

		case stateExhausted:
			return nil, fmt.Errorf("%w: %s", ErrNoVariablesLeft, excerpt(errText))
		}
	}
}

// params builds the archive query for one span with the current variable set.
func (s *ChunkSequence) params(span Span) url.Values {
	v := url.Values{}
	v.Set("latitude", strconv.FormatFloat(s.req.Latitude, 'f', -1, 64))
	v.Set("longitude", strconv.FormatFloat(s.req.Longitude, 'f', -1, 64))
	v.Set("start_date", span.Start)
	v.Set("end_date", span.End)
	v.Set("timezone", s.req.Timezone)
	v.Set("daily", strings.Join(s.remaining, ","))
	return v
}

// decode parses a 200 body and annotates negotiation metadata.
func (s *ChunkSequence) decode(span Span, body []byte) (*ChunkPayload, error) {
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("archive: decoding response for %s..%s: %w", span.Start, span.End, err)
	}

	return &ChunkPayload{
		Span:      span,
		Body:      data,
		Requested: append([]string(nil), s.req.DailyVars...),
		Accepted:  append([]string(nil), s.remaining...),
		Dropped:   s.DroppedVars(),
	}, nil
}

// excerpt bounds response bodies included in error messages.
func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "Bad Request"
	}
	if len(s) > 300 {
		return s[:300] + "..."
	}
	return s
}
