package cleaners

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/heimdall-asis/heimdall/internal/persistence"
	"github.com/heimdall-asis/heimdall/internal/telemetry"
)

const defaultExtractWorkers = 4

// BodyFetcher is the slice of the extractor the news cleaner needs.
type BodyFetcher interface {
	BodyText(ctx context.Context, pageURL string) (string, error)
}

// NewsCleaner fingerprints articles by canonical URL, enriches them with
// extracted body text, and emits news_intel_pool rows. Envelopes carrying an
// upstream error marker are skipped whole.
type NewsCleaner struct {
	extractor BodyFetcher
	workers   int
}

// NewNewsCleaner builds a cleaner. extractor may be nil, in which case
// bodies always fall back to the feed description. workers bounds the
// extraction fan-out; zero or negative picks the default.
func NewNewsCleaner(extractor BodyFetcher, workers int) *NewsCleaner {
	if workers <= 0 {
		workers = defaultExtractWorkers
	}
	return &NewsCleaner{extractor: extractor, workers: workers}
}

func (c *NewsCleaner) Family() persistence.SourceFamily {
	return persistence.FamilyNews
}

func (c *NewsCleaner) Clean(ctx context.Context, rec persistence.RawRecord) (Result, error) {
	env, err := decodeEnvelope(rec)
	if err != nil {
		return Result{}, err
	}
	if env.Error != "" {
		// rate_limited and friends: a deliberate hole in the data, not work.
		return Result{Skipped: 1}, nil
	}

	rows := make([]persistence.NewsRow, 0, len(env.Articles))
	seen := make(map[string]struct{}, len(env.Articles))
	skipped := 0

	for _, art := range env.Articles {
		canonical, err := CanonicalURL(art.URL)
		if err != nil {
			log.Warn().
				Str("catalog_key", rec.CatalogKey).
				Str("url", art.URL).
				Msg("Dropping article with unparseable URL")
			skipped++
			continue
		}
		fp := Fingerprint(canonical)
		if _, dup := seen[fp]; dup {
			skipped++
			continue
		}
		seen[fp] = struct{}{}

		row := persistence.NewsRow{
			Fingerprint: fp,
			CatalogKey:  rec.CatalogKey,
			Title:       art.Title,
			URL:         art.URL,
		}
		if art.Author != "" {
			row.Author = &art.Author
		}
		if art.SourceName != "" {
			row.SourceName = &art.SourceName
		}
		if ts, err := parsePublishedAt(art.PublishedAt); err == nil {
			row.PublishedAt = &ts
		}
		if art.Description != "" {
			desc := art.Description
			row.Body = &desc
		}
		rows = append(rows, row)
	}

	// Body extraction fans out over a bounded worker set; each page gets its
	// own deadline inside the extractor. Failures keep the description.
	if c.extractor != nil && len(rows) > 0 {
		sem := make(chan struct{}, c.workers)
		var wg sync.WaitGroup
		bodies := make([]*string, len(rows))

		for i := range rows {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				body, err := c.extractor.BodyText(ctx, rows[i].URL)
				if err != nil {
					if !errors.Is(err, context.Canceled) {
						telemetry.ExtractionFailures.Inc()
						log.Debug().
							Str("url", rows[i].URL).
							Err(err).
							Msg("Body extraction failed, keeping description")
					}
					return
				}
				bodies[i] = &body
			}(i)
		}
		wg.Wait()

		for i, body := range bodies {
			if body != nil {
				rows[i].Body = body
			}
		}
	}

	return Result{News: rows, Skipped: skipped}, nil
}

// CanonicalURL normalizes a URL for identity: lowercase scheme and host,
// strip a leading www., drop the fragment and any trailing slash.
func CanonicalURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", errors.New("relative url")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Host = strings.TrimPrefix(u.Host, "www.")
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String(), nil
}

// Fingerprint hashes a canonical URL into the news_intel_pool primary key.
func Fingerprint(canonicalURL string) string {
	sum := md5.Sum([]byte(canonicalURL))
	return hex.EncodeToString(sum[:])
}

func parsePublishedAt(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}
