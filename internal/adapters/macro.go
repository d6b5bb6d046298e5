package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/heimdall-asis/heimdall/internal/net/fetch"
	"github.com/heimdall-asis/heimdall/internal/persistence"
)

const (
	// Incremental lookback by catalog role. Judgment series revise late, so
	// they re-read a wider tail.
	lookbackJudgment   = 30 * 24 * time.Hour
	lookbackValidation = 7 * 24 * time.Hour

	macroFetchWorkers = 5
)

// MacroParams is the config_params shape for MACRO_SERIES catalog entries.
type MacroParams struct {
	SeriesIDs []string `json:"series_ids"`
	Units     string   `json:"units,omitempty"`
}

// MacroConfig wires a MacroAdapter to its upstream.
type MacroConfig struct {
	BaseURL string
	APIKey  string
}

// MacroAdapter pulls macroeconomic series observations. A catalog entry may
// span several series IDs; their observations are concatenated into one
// envelope with the series ID echoed per fetch.
type MacroAdapter struct {
	cfg    MacroConfig
	client *fetch.Client
}

func NewMacroAdapter(cfg MacroConfig, client *fetch.Client) *MacroAdapter {
	return &MacroAdapter{cfg: cfg, client: client}
}

func (a *MacroAdapter) Family() persistence.SourceFamily {
	return persistence.FamilyMacro
}

func (a *MacroAdapter) params(entry persistence.CatalogEntry) (MacroParams, error) {
	var p MacroParams
	if err := json.Unmarshal([]byte(entry.ConfigParams), &p); err != nil {
		return p, fmt.Errorf("%w: %s: %v", ErrBadConfig, entry.CatalogKey, err)
	}
	if len(p.SeriesIDs) == 0 {
		return p, fmt.Errorf("%w: %s: no series_ids", ErrBadConfig, entry.CatalogKey)
	}
	return p, nil
}

// QueryEcho stays free of watermark- or clock-derived values; the request
// hash already scopes time through the window bucket.
func (a *MacroAdapter) QueryEcho(entry persistence.CatalogEntry) (map[string]string, error) {
	p, err := a.params(entry)
	if err != nil {
		return nil, err
	}
	ids := append([]string(nil), p.SeriesIDs...)
	sort.Strings(ids)
	echo := map[string]string{
		"series_ids": strings.Join(ids, ","),
	}
	if p.Units != "" {
		echo["units"] = p.Units
	}
	return echo, nil
}

// observationStart picks the incremental window start: the last ingestion
// minus a role-dependent lookback so late revisions are re-read. A stream
// never ingested pulls full history (empty start).
func observationStart(entry persistence.CatalogEntry, wm *persistence.Watermark) string {
	if wm == nil || wm.LastIngestedAt == nil {
		return ""
	}
	lookback := lookbackValidation
	if strings.EqualFold(entry.Role, "JUDGMENT") {
		lookback = lookbackJudgment
	}
	return wm.LastIngestedAt.UTC().Add(-lookback).Format("2006-01-02")
}

func (a *MacroAdapter) Fetch(ctx context.Context, entry persistence.CatalogEntry, wm *persistence.Watermark, window Window, limit int) (*Envelope, error) {
	p, err := a.params(entry)
	if err != nil {
		return nil, err
	}
	echo, err := a.QueryEcho(entry)
	if err != nil {
		return nil, err
	}

	start := observationStart(entry, wm)

	type seriesResult struct {
		idx int
		obs []Observation
		err error
	}

	sem := make(chan struct{}, macroFetchWorkers)
	results := make(chan seriesResult, len(p.SeriesIDs))
	var wg sync.WaitGroup

	for i, id := range p.SeriesIDs {
		wg.Add(1)
		go func(idx int, seriesID string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			obs, err := a.fetchSeries(ctx, seriesID, p.Units, start, limit)
			results <- seriesResult{idx: idx, obs: obs, err: err}
		}(i, id)
	}
	wg.Wait()
	close(results)

	ordered := make([][]Observation, len(p.SeriesIDs))
	for res := range results {
		if res.err != nil {
			// One failed series fails the whole entry; partial envelopes
			// would hash as complete and never be refetched in this bucket.
			return nil, fmt.Errorf("series %s: %w", p.SeriesIDs[res.idx], res.err)
		}
		ordered[res.idx] = res.obs
	}

	env := &Envelope{
		FetchedAt: window.Now.UTC(),
		QueryEcho: echo,
	}
	for _, obs := range ordered {
		env.Observations = append(env.Observations, obs...)
	}
	if limit > 0 && len(env.Observations) > limit {
		env.Observations = env.Observations[:limit]
	}
	if len(env.Observations) == 0 {
		return nil, fmt.Errorf("%s: %w", entry.CatalogKey, ErrEmptyResultSet)
	}

	log.Debug().
		Str("catalog_key", entry.CatalogKey).
		Int("series", len(p.SeriesIDs)).
		Int("observations", len(env.Observations)).
		Msg("Fetched macro envelope")
	return env, nil
}

func (a *MacroAdapter) fetchSeries(ctx context.Context, seriesID, units, start string, limit int) ([]Observation, error) {
	q := url.Values{}
	q.Set("series_id", seriesID)
	q.Set("api_key", a.cfg.APIKey)
	q.Set("file_type", "json")
	if start != "" {
		q.Set("observation_start", start)
	}
	q.Set("sort_order", "asc")
	if units != "" {
		q.Set("units", units)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}

	resp, err := a.client.Get(ctx, a.cfg.BaseURL+"/series/observations", q)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Observations []struct {
			Date  string `json:"date"`
			Value string `json:"value"`
		} `json:"observations"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, fmt.Errorf("%w: decode observations: %v", fetch.ErrPermanent, err)
	}

	obs := make([]Observation, 0, len(payload.Observations))
	for _, o := range payload.Observations {
		obs = append(obs, Observation{Date: o.Date, Value: o.Value})
	}
	return obs, nil
}
