package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/heimdall-asis/heimdall/internal/net/fetch"
	"github.com/heimdall-asis/heimdall/internal/persistence"
)

const (
	newsDefaultPageSize = 50
	newsLookback        = 24 * time.Hour
)

// NewsParams is the config_params shape for NEWS_FEED catalog entries.
type NewsParams struct {
	Domains  []string `json:"domains,omitempty"`
	Language string   `json:"language,omitempty"`
	PageSize int      `json:"page_size,omitempty"`
}

// NewsConfig wires a NewsAdapter to its upstream.
type NewsConfig struct {
	BaseURL string
	APIKey  string
}

// NewsAdapter pulls article metadata by keyword search. A quota exhaustion
// upstream (429 after retries) is recorded as an explicit error envelope
// rather than a failed run, so the window still leaves a Bronze trace.
type NewsAdapter struct {
	cfg    NewsConfig
	client *fetch.Client
}

func NewNewsAdapter(cfg NewsConfig, client *fetch.Client) *NewsAdapter {
	return &NewsAdapter{cfg: cfg, client: client}
}

func (a *NewsAdapter) Family() persistence.SourceFamily {
	return persistence.FamilyNews
}

func (a *NewsAdapter) params(entry persistence.CatalogEntry) (NewsParams, error) {
	p := NewsParams{}
	if entry.ConfigParams != "" {
		if err := json.Unmarshal([]byte(entry.ConfigParams), &p); err != nil {
			return p, fmt.Errorf("%w: %s: %v", ErrBadConfig, entry.CatalogKey, err)
		}
	}
	if strings.TrimSpace(entry.SearchKeywords) == "" {
		return p, fmt.Errorf("%w: %s: no search keywords", ErrBadConfig, entry.CatalogKey)
	}
	if p.PageSize <= 0 {
		p.PageSize = newsDefaultPageSize
	}
	return p, nil
}

// buildQuery joins the entry's comma-separated keywords with OR, quoting
// multi-word phrases.
func buildQuery(keywords string) string {
	parts := strings.Split(keywords, ",")
	terms := make([]string, 0, len(parts))
	for _, part := range parts {
		term := strings.TrimSpace(part)
		if term == "" {
			continue
		}
		if strings.ContainsRune(term, ' ') {
			term = `"` + term + `"`
		}
		terms = append(terms, term)
	}
	return strings.Join(terms, " OR ")
}

func (a *NewsAdapter) QueryEcho(entry persistence.CatalogEntry) (map[string]string, error) {
	p, err := a.params(entry)
	if err != nil {
		return nil, err
	}
	echo := map[string]string{
		"q": buildQuery(entry.SearchKeywords),
	}
	if len(p.Domains) > 0 {
		echo["domains"] = strings.Join(p.Domains, ",")
	}
	if p.Language != "" {
		echo["language"] = p.Language
	}
	return echo, nil
}

func (a *NewsAdapter) Fetch(ctx context.Context, entry persistence.CatalogEntry, wm *persistence.Watermark, window Window, limit int) (*Envelope, error) {
	p, err := a.params(entry)
	if err != nil {
		return nil, err
	}
	echo, _ := a.QueryEcho(entry)

	from := window.Now.UTC().Add(-newsLookback)
	if wm != nil && wm.LastIngestedAt != nil && wm.LastIngestedAt.After(from) {
		from = wm.LastIngestedAt.UTC()
	}

	pageSize := p.PageSize
	if limit > 0 && limit < pageSize {
		pageSize = limit
	}

	q := url.Values{}
	q.Set("q", echo["q"])
	q.Set("from", from.Format(time.RFC3339))
	q.Set("sortBy", "publishedAt")
	q.Set("pageSize", strconv.Itoa(pageSize))
	q.Set("apiKey", a.cfg.APIKey)
	if d, ok := echo["domains"]; ok {
		q.Set("domains", d)
	}
	if l, ok := echo["language"]; ok {
		q.Set("language", l)
	}

	env := &Envelope{FetchedAt: window.Now.UTC(), QueryEcho: echo}

	resp, err := a.client.Get(ctx, a.cfg.BaseURL+"/everything", q)
	if err != nil {
		if errors.Is(err, fetch.ErrRateLimited) {
			// Quota exhausted for this window. Persist the marker so the
			// bucket is accounted for; the cleaner skips it.
			log.Warn().
				Str("catalog_key", entry.CatalogKey).
				Msg("News upstream rate limited, recording error envelope")
			env.Error = "rate_limited"
			env.Articles = []Article{}
			return env, nil
		}
		return nil, err
	}

	var payload struct {
		Status   string `json:"status"`
		Message  string `json:"message"`
		Articles []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			PublishedAt string `json:"publishedAt"`
			Author      string `json:"author"`
			Description string `json:"description"`
			Source      struct {
				Name string `json:"name"`
			} `json:"source"`
		} `json:"articles"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, fmt.Errorf("%w: decode articles: %v", fetch.ErrPermanent, err)
	}
	if payload.Status != "" && payload.Status != "ok" {
		return nil, fmt.Errorf("%w: upstream status %q: %s", fetch.ErrPermanent, payload.Status, payload.Message)
	}

	for _, art := range payload.Articles {
		if art.URL == "" || art.Title == "" {
			continue
		}
		env.Articles = append(env.Articles, Article{
			Title:       art.Title,
			URL:         art.URL,
			PublishedAt: art.PublishedAt,
			Author:      art.Author,
			SourceName:  art.Source.Name,
			Description: art.Description,
		})
		if limit > 0 && len(env.Articles) >= limit {
			break
		}
	}
	if env.Articles == nil {
		// A quiet window is a valid observation for news: an explicit empty
		// envelope is stored so repeated polls of the bucket no-op.
		env.Articles = []Article{}
	}

	log.Debug().
		Str("catalog_key", entry.CatalogKey).
		Int("articles", len(env.Articles)).
		Msg("Fetched news envelope")
	return env, nil
}
