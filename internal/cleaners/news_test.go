package cleaners

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heimdall-asis/heimdall/internal/adapters"
	"github.com/heimdall-asis/heimdall/internal/persistence"
)

type fakeExtractor struct {
	bodies map[string]string
}

func (f *fakeExtractor) BodyText(_ context.Context, pageURL string) (string, error) {
	if body, ok := f.bodies[pageURL]; ok {
		return body, nil
	}
	return "", errors.New("fetch failed")
}

func TestCanonicalURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"HTTPS://WWW.Example.COM/Story/", "https://example.com/Story"},
		{"https://example.com/story#section-2", "https://example.com/story"},
		{"https://example.com/story?id=7", "https://example.com/story?id=7"},
	}
	for _, tc := range cases {
		got, err := CanonicalURL(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}

	_, err := CanonicalURL("/relative/path")
	assert.Error(t, err)
}

func TestFingerprintStable(t *testing.T) {
	a, _ := CanonicalURL("https://www.example.com/story/")
	b, _ := CanonicalURL("https://example.com/story#top")
	assert.Equal(t, Fingerprint(a), Fingerprint(b), "URL variants share one identity")
	assert.Len(t, Fingerprint(a), 32)
}

func TestNewNewsCleanerWorkerBound(t *testing.T) {
	assert.Equal(t, 2, NewNewsCleaner(nil, 2).workers)
	assert.Equal(t, defaultExtractWorkers, NewNewsCleaner(nil, 0).workers)
	assert.Equal(t, defaultExtractWorkers, NewNewsCleaner(nil, -1).workers)
}

func TestNewsCleanDedupesWithinEnvelope(t *testing.T) {
	rec := rawRecord(t, persistence.FamilyNews, adapters.Envelope{
		Articles: []adapters.Article{
			{Title: "Fed holds", URL: "https://www.example.com/story/", Description: "desc one"},
			{Title: "Fed holds (syndicated)", URL: "https://example.com/story#top"},
			{Title: "Other", URL: "https://example.com/other", PublishedAt: "2026-08-24T10:00:00Z"},
		},
	})

	res, err := NewNewsCleaner(nil, 0).Clean(context.Background(), rec)
	require.NoError(t, err)
	require.Len(t, res.News, 2)
	assert.Equal(t, 1, res.Skipped)
	require.NotNil(t, res.News[1].PublishedAt)
}

func TestNewsCleanBodyExtractionWithFallback(t *testing.T) {
	cleaner := NewNewsCleaner(&fakeExtractor{bodies: map[string]string{
		"https://example.com/rich": "full extracted article body",
	}}, 2)

	rec := rawRecord(t, persistence.FamilyNews, adapters.Envelope{
		Articles: []adapters.Article{
			{Title: "Rich", URL: "https://example.com/rich", Description: "short desc"},
			{Title: "Blocked", URL: "https://example.com/blocked", Description: "feed description"},
			{Title: "Bare", URL: "https://example.com/bare"},
		},
	})

	res, err := cleaner.Clean(context.Background(), rec)
	require.NoError(t, err)
	require.Len(t, res.News, 3)

	byTitle := map[string]persistence.NewsRow{}
	for _, row := range res.News {
		byTitle[row.Title] = row
	}
	require.NotNil(t, byTitle["Rich"].Body)
	assert.Equal(t, "full extracted article body", *byTitle["Rich"].Body)
	require.NotNil(t, byTitle["Blocked"].Body)
	assert.Equal(t, "feed description", *byTitle["Blocked"].Body, "extraction failure keeps the description")
	assert.Nil(t, byTitle["Bare"].Body)
}

func TestNewsCleanSkipsErrorEnvelope(t *testing.T) {
	rec := rawRecord(t, persistence.FamilyNews, adapters.Envelope{
		Error:    "rate_limited",
		Articles: []adapters.Article{},
	})

	res, err := NewNewsCleaner(nil, 0).Clean(context.Background(), rec)
	require.NoError(t, err)
	assert.Empty(t, res.News)
	assert.Equal(t, 1, res.Skipped)
}

func TestNewsCleanDropsUnparseableURL(t *testing.T) {
	rec := rawRecord(t, persistence.FamilyNews, adapters.Envelope{
		Articles: []adapters.Article{
			{Title: "Bad", URL: "::not-a-url"},
			{Title: "Good", URL: "https://example.com/ok"},
		},
	})

	res, err := NewNewsCleaner(nil, 0).Clean(context.Background(), rec)
	require.NoError(t, err)
	assert.Len(t, res.News, 1)
	assert.Equal(t, 1, res.Skipped)
}
