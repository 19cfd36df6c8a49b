package domain

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Filters is one analyst filter set. Bounds stay as the raw console input
// strings until they parse: a blank or unparseable bound constrains
// nothing, exactly as it is omitted from query parameters. Two instances
// exist at runtime, the draft being edited and the applied set driving
// fetches and live-event admission.
type Filters struct {
	UserID    string          `json:"userId"`
	Decision  DecisionOutcome `json:"decision"` // empty matches any outcome
	MinAmount string          `json:"minAmount"`
	MaxAmount string          `json:"maxAmount"`
	From      string          `json:"from"`
	To        string          `json:"to"`
}

// filterStampLayouts accepts both wire timestamps and the console's
// datetime-local style input.
var filterStampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

func parseAmount(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseStamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range filterStampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// NormalizeTimestamp re-encodes a console timestamp input as RFC3339 UTC
// for query parameters. ok is false for blank or unparseable input, which
// callers must omit rather than send.
func NormalizeTimestamp(raw string) (string, bool) {
	t, ok := parseStamp(raw)
	if !ok {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

// Validate rejects a window whose lower bound lies after its upper bound.
// This runs before any fetch; an invalid draft never becomes applied.
func (f Filters) Validate() error {
	from, okFrom := parseStamp(f.From)
	to, okTo := parseStamp(f.To)
	if okFrom && okTo && from.After(to) {
		return &ErrValidation{Field: "from", Message: `"from" must not be after "to"`}
	}
	return nil
}

// Matches is the single filter predicate shared by query-parameter
// construction and live-event admission, so the live feed can never show
// rows a fresh fetch for the same filters would not. An unspecified
// constraint always matches; a missing amount is treated as zero.
func (f Filters) Matches(d Decision) bool {
	if needle := strings.TrimSpace(f.UserID); needle != "" {
		if !strings.Contains(strings.ToLower(d.UserID), strings.ToLower(needle)) {
			return false
		}
	}
	if f.Decision != "" && d.Decision != f.Decision {
		return false
	}

	amount := 0.0
	if d.Amount != nil {
		amount = *d.Amount
	}
	if min, ok := parseAmount(f.MinAmount); ok && amount < min {
		return false
	}
	if max, ok := parseAmount(f.MaxAmount); ok && amount > max {
		return false
	}

	if from, ok := parseStamp(f.From); ok && d.CreatedAt.Before(from) {
		return false
	}
	if to, ok := parseStamp(f.To); ok && d.CreatedAt.After(to) {
		return false
	}
	return true
}

// QueryValues maps the filter set to dashboard query parameters. Blank
// strings and bounds that fail to parse are omitted entirely — never sent
// as empty or NaN constraints.
func (f Filters) QueryValues() url.Values {
	q := url.Values{}
	if userID := strings.TrimSpace(f.UserID); userID != "" {
		q.Set("userId", userID)
	}
	if f.Decision != "" {
		q.Set("decision", string(f.Decision))
	}
	if v, ok := parseAmount(f.MinAmount); ok {
		q.Set("minAmount", strconv.FormatFloat(v, 'f', -1, 64))
	}
	if v, ok := parseAmount(f.MaxAmount); ok {
		q.Set("maxAmount", strconv.FormatFloat(v, 'f', -1, 64))
	}
	if stamp, ok := NormalizeTimestamp(f.From); ok {
		q.Set("from", stamp)
	}
	if stamp, ok := NormalizeTimestamp(f.To); ok {
		q.Set("to", stamp)
	}
	return q
}
