package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/heimdall-asis/heimdall/internal/net/fetch"
	"github.com/heimdall-asis/heimdall/internal/persistence"
)

// PriceParams is the config_params shape for PRICE_BARS catalog entries.
type PriceParams struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval,omitempty"` // upstream bar interval, default 1d
}

// PriceConfig wires a PriceAdapter to its upstream.
type PriceConfig struct {
	BaseURL string
	APIKey  string
}

// PriceAdapter pulls OHLCV bars for one symbol per catalog entry. Bar dates
// are normalized to UTC midnight regardless of the exchange timezone the
// upstream reports.
type PriceAdapter struct {
	cfg    PriceConfig
	client *fetch.Client
}

func NewPriceAdapter(cfg PriceConfig, client *fetch.Client) *PriceAdapter {
	return &PriceAdapter{cfg: cfg, client: client}
}

func (a *PriceAdapter) Family() persistence.SourceFamily {
	return persistence.FamilyPrice
}

func (a *PriceAdapter) params(entry persistence.CatalogEntry) (PriceParams, error) {
	var p PriceParams
	if err := json.Unmarshal([]byte(entry.ConfigParams), &p); err != nil {
		return p, fmt.Errorf("%w: %s: %v", ErrBadConfig, entry.CatalogKey, err)
	}
	if p.Symbol == "" {
		return p, fmt.Errorf("%w: %s: no symbol", ErrBadConfig, entry.CatalogKey)
	}
	if p.Interval == "" {
		p.Interval = "1d"
	}
	return p, nil
}

func (a *PriceAdapter) QueryEcho(entry persistence.CatalogEntry) (map[string]string, error) {
	p, err := a.params(entry)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"symbol":   p.Symbol,
		"interval": p.Interval,
	}, nil
}

func (a *PriceAdapter) Fetch(ctx context.Context, entry persistence.CatalogEntry, wm *persistence.Watermark, window Window, limit int) (*Envelope, error) {
	p, err := a.params(entry)
	if err != nil {
		return nil, err
	}
	echo, _ := a.QueryEcho(entry)

	lookback := lookbackValidation
	if entry.Role == "JUDGMENT" {
		lookback = lookbackJudgment
	}
	start := window.Now.UTC().Add(-lookback)

	q := url.Values{}
	q.Set("symbol", p.Symbol)
	q.Set("interval", p.Interval)
	q.Set("start", start.Format("2006-01-02"))
	q.Set("end", window.Now.UTC().Format("2006-01-02"))
	if a.cfg.APIKey != "" {
		q.Set("api_key", a.cfg.APIKey)
	}

	resp, err := a.client.Get(ctx, a.cfg.BaseURL+"/bars", q)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Bars []struct {
			Timestamp string  `json:"timestamp"`
			Open      float64 `json:"open"`
			High      float64 `json:"high"`
			Low       float64 `json:"low"`
			Close     float64 `json:"close"`
			Volume    *int64  `json:"volume"`
		} `json:"bars"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, fmt.Errorf("%w: decode bars: %v", fetch.ErrPermanent, err)
	}

	env := &Envelope{FetchedAt: window.Now.UTC(), QueryEcho: echo}
	for _, b := range payload.Bars {
		date, err := normalizeBarDate(b.Timestamp)
		if err != nil {
			log.Warn().
				Str("catalog_key", entry.CatalogKey).
				Str("timestamp", b.Timestamp).
				Msg("Dropping bar with unparseable timestamp")
			continue
		}
		if !finite(b.Open) || !finite(b.High) || !finite(b.Low) || !finite(b.Close) {
			continue
		}
		env.Bars = append(env.Bars, Bar{
			Date:   date,
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		})
		if limit > 0 && len(env.Bars) >= limit {
			break
		}
	}
	if len(env.Bars) == 0 {
		return nil, fmt.Errorf("%s: %w", entry.CatalogKey, ErrEmptyResultSet)
	}

	log.Debug().
		Str("catalog_key", entry.CatalogKey).
		Str("symbol", p.Symbol).
		Int("bars", len(env.Bars)).
		Msg("Fetched price envelope")
	return env, nil
}

// normalizeBarDate accepts a date or RFC3339 timestamp and returns the UTC
// calendar date.
func normalizeBarDate(s string) (string, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC().Format("2006-01-02"), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return "", err
	}
	return t.UTC().Format("2006-01-02"), nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
