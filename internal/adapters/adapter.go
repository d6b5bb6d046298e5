// Package adapters normalizes vendor API responses into the canonical raw
// envelopes persisted to the Bronze layer. One adapter per source family; the
// set is closed and dispatched through a Registry.
package adapters

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/heimdall-asis/heimdall/internal/persistence"
)

// ErrEmptyResultSet signals an upstream success carrying zero items. For
// macro and price sources no raw row is written; news persists explicit
// empty envelopes instead.
var ErrEmptyResultSet = errors.New("empty result set")

// ErrBadConfig signals a catalog entry whose config blob the adapter cannot
// use. Permanent: retries will not help.
var ErrBadConfig = errors.New("invalid adapter config")

// Window is the normalized time bucket a fetch belongs to. Consecutive
// fetches inside the same bucket hash identically and no-op at the Bronze
// upsert.
type Window struct {
	Frequency persistence.Frequency
	Now       time.Time
}

// Bucket renders the window at the frequency's granularity.
func (w Window) Bucket() string {
	t := w.Now.UTC()
	switch w.Frequency {
	case persistence.FreqHourly:
		return t.Format("2006-01-02-15")
	case persistence.FreqMonthly:
		return t.Format("2006-01")
	case persistence.FreqQuarterly:
		return fmt.Sprintf("%d-Q%d", t.Year(), (int(t.Month())-1)/3+1)
	default:
		return t.Format("2006-01-02")
	}
}

// Observation is one macro series data point. Value stays a string at this
// tier; sentinel non-numerics (e.g. ".") pass through for the cleaner to
// filter.
type Observation struct {
	Date  string `json:"date"`
	Value string `json:"value"`
}

// Bar is one OHLCV price bar, date normalized to UTC midnight.
type Bar struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume *int64  `json:"volume,omitempty"`
}

// Article is one news item's metadata. Body extraction happens at the
// cleaning tier, never here.
type Article struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	PublishedAt string `json:"published_at,omitempty"`
	Author      string `json:"author,omitempty"`
	SourceName  string `json:"source_name,omitempty"`
	Description string `json:"description,omitempty"`
}

// Envelope is the canonical raw payload shape shared by all families. Items
// live in the family-specific slice; an Error marker (e.g. "rate_limited")
// makes the envelope a valid raw row that cleaners skip.
type Envelope struct {
	FetchedAt    time.Time         `json:"fetched_at"`
	QueryEcho    map[string]string `json:"query_echo"`
	Error        string            `json:"error,omitempty"`
	Observations []Observation     `json:"observations,omitempty"`
	Bars         []Bar             `json:"bars,omitempty"`
	Articles     []Article         `json:"articles,omitempty"`
}

// ItemCount returns the number of items regardless of family.
func (e *Envelope) ItemCount() int {
	return len(e.Observations) + len(e.Bars) + len(e.Articles)
}

// Adapter fetches one canonical envelope per invocation for a catalog entry.
// Adapters never write to the store and never retry beyond the HTTP client.
type Adapter interface {
	Family() persistence.SourceFamily
	// QueryEcho returns the canonical effective parameters for hashing and
	// for the envelope's query_echo field.
	QueryEcho(entry persistence.CatalogEntry) (map[string]string, error)
	// Fetch produces the envelope. limit > 0 caps items (activation probes
	// pass 1). wm may be nil on first fetch.
	Fetch(ctx context.Context, entry persistence.CatalogEntry, wm *persistence.Watermark, window Window, limit int) (*Envelope, error)
}

// Registry dispatches by source family. Registration of a new family is a
// source-code change, not a runtime plugin.
type Registry map[persistence.SourceFamily]Adapter

// Resolve returns the adapter for family or an error naming it.
func (r Registry) Resolve(family persistence.SourceFamily) (Adapter, error) {
	a, ok := r[family]
	if !ok {
		return nil, fmt.Errorf("%w: no adapter for family %q", ErrBadConfig, family)
	}
	return a, nil
}

// RequestHash derives the deterministic Bronze primary key from the catalog
// key, the canonical query parameters, and the frequency-truncated window.
func RequestHash(catalogKey string, echo map[string]string, window Window) string {
	keys := make([]string, 0, len(echo))
	for k := range echo {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	canonical := make(map[string]string, len(echo))
	for _, k := range keys {
		canonical[k] = echo[k]
	}
	encoded, _ := json.Marshal(canonical)

	h := sha256.Sum256([]byte(catalogKey + ":" + string(encoded) + ":" + window.Bucket()))
	return hex.EncodeToString(h[:])
}
