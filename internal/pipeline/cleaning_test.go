package pipeline

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heimdall-asis/heimdall/internal/adapters"
	"github.com/heimdall-asis/heimdall/internal/cleaners"
	"github.com/heimdall-asis/heimdall/internal/persistence"
	"github.com/heimdall-asis/heimdall/internal/persistence/sqlite"
)

func testStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedRaw(t *testing.T, s *sqlite.Store, hash string, family persistence.SourceFamily, at time.Time, env adapters.Envelope) {
	t.Helper()
	payload, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, s.RunInTx(context.Background(), func(ctx context.Context, tx persistence.Txn) error {
		_, err := tx.UpsertRaw(ctx, persistence.RawRecord{
			RequestHash:  hash,
			CatalogKey:   "TEST_KEY",
			SourceFamily: family,
			RawPayload:   payload,
			InsertedAt:   at,
		})
		return err
	}))
}

func macroRunner(s *sqlite.Store) *Runner {
	return NewRunner(s.Repository(), s, cleaners.NewMacroCleaner())
}

func TestCleanMacroEndToEnd(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	seedRaw(t, s, "h1", persistence.FamilyMacro, base, adapters.Envelope{
		Observations: []adapters.Observation{
			{Date: "2026-08-20", Value: "4.2"},
			{Date: "2026-08-21", Value: "."},
		},
	})

	r := macroRunner(s)
	stats, err := r.Run(ctx, Options{Families: []persistence.SourceFamily{persistence.FamilyMacro}})
	require.NoError(t, err)
	assert.Equal(t, 1, stats[persistence.FamilyMacro].Records)
	assert.Equal(t, 1, stats[persistence.FamilyMacro].MacroRows)
	assert.Equal(t, 1, stats[persistence.FamilyMacro].Skipped)

	var value float64
	require.NoError(t, s.DB().GetContext(ctx, &value,
		`SELECT value FROM timeseries_macro WHERE catalog_key = 'TEST_KEY' AND date = '2026-08-20'`))
	assert.InDelta(t, 4.2, value, 1e-9)

	wm, err := s.Repository().Watermarks.Get(ctx, persistence.FamilyMacro.CleaningKey())
	require.NoError(t, err)
	require.NotNil(t, wm)
	require.NotNil(t, wm.LastCleanedAt)
	assert.True(t, wm.LastCleanedAt.Equal(base), "watermark lands on batch max inserted_at")
}

func TestCleanIsDifferential(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	seedRaw(t, s, "h1", persistence.FamilyMacro, base, adapters.Envelope{
		Observations: []adapters.Observation{{Date: "2026-08-20", Value: "1"}},
	})

	r := macroRunner(s)
	_, err := r.Run(ctx, Options{Families: []persistence.SourceFamily{persistence.FamilyMacro}})
	require.NoError(t, err)

	// Second run with nothing new processes zero records.
	stats, err := r.Run(ctx, Options{Families: []persistence.SourceFamily{persistence.FamilyMacro}})
	require.NoError(t, err)
	assert.Zero(t, stats[persistence.FamilyMacro].Records)
	assert.Zero(t, stats[persistence.FamilyMacro].Batches)

	// A later raw row is picked up alone.
	seedRaw(t, s, "h2", persistence.FamilyMacro, base.Add(time.Minute), adapters.Envelope{
		Observations: []adapters.Observation{{Date: "2026-08-21", Value: "2"}},
	})
	stats, err = r.Run(ctx, Options{Families: []persistence.SourceFamily{persistence.FamilyMacro}})
	require.NoError(t, err)
	assert.Equal(t, 1, stats[persistence.FamilyMacro].Records)
}

func TestCleanBatchPaging(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		seedRaw(t, s, string(rune('a'+i)), persistence.FamilyMacro, base.Add(time.Duration(i)*time.Second), adapters.Envelope{
			Observations: []adapters.Observation{{Date: "2026-08-20", Value: "1"}},
		})
	}

	r := macroRunner(s)
	stats, err := r.Run(ctx, Options{
		Families:   []persistence.SourceFamily{persistence.FamilyMacro},
		BatchLimit: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, stats[persistence.FamilyMacro].Records)
	assert.Equal(t, 3, stats[persistence.FamilyMacro].Batches)
}

func TestCleanBatchPagingSharedTimestamps(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	// Three rows share one inserted_at, so a batch cap of 2 lands inside
	// the run. Every record must still clean exactly once.
	for i := 0; i < 3; i++ {
		seedRaw(t, s, string(rune('a'+i)), persistence.FamilyMacro, base, adapters.Envelope{
			Observations: []adapters.Observation{{Date: "2026-08-20", Value: "1"}},
		})
	}
	seedRaw(t, s, "later", persistence.FamilyMacro, base.Add(time.Second), adapters.Envelope{
		Observations: []adapters.Observation{{Date: "2026-08-21", Value: "2"}},
	})

	r := macroRunner(s)
	stats, err := r.Run(ctx, Options{
		Families:   []persistence.SourceFamily{persistence.FamilyMacro},
		BatchLimit: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, stats[persistence.FamilyMacro].Records)

	// Nothing was left stranded behind the watermark.
	stats, err = r.Run(ctx, Options{
		Families:   []persistence.SourceFamily{persistence.FamilyMacro},
		BatchLimit: 2,
	})
	require.NoError(t, err)
	assert.Zero(t, stats[persistence.FamilyMacro].Records)
}

func TestCleanSkipsMalformedRecord(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx persistence.Txn) error {
		_, err := tx.UpsertRaw(ctx, persistence.RawRecord{
			RequestHash:  "bad",
			CatalogKey:   "TEST_KEY",
			SourceFamily: persistence.FamilyMacro,
			RawPayload:   []byte("{corrupt"),
			InsertedAt:   base,
		})
		return err
	}))
	seedRaw(t, s, "good", persistence.FamilyMacro, base.Add(time.Second), adapters.Envelope{
		Observations: []adapters.Observation{{Date: "2026-08-20", Value: "1"}},
	})

	r := macroRunner(s)
	stats, err := r.Run(ctx, Options{Families: []persistence.SourceFamily{persistence.FamilyMacro}})
	require.NoError(t, err, "a corrupt record is skipped, not fatal")
	assert.Equal(t, 1, stats[persistence.FamilyMacro].Records)
	assert.Equal(t, 1, stats[persistence.FamilyMacro].Skipped)

	// The watermark still advances past the corrupt record.
	wm, err := s.Repository().Watermarks.Get(ctx, persistence.FamilyMacro.CleaningKey())
	require.NoError(t, err)
	require.NotNil(t, wm.LastCleanedAt)
	assert.True(t, wm.LastCleanedAt.Equal(base.Add(time.Second)))
}

func TestCleanDryRunWritesNothing(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	seedRaw(t, s, "h1", persistence.FamilyMacro, time.Now().UTC(), adapters.Envelope{
		Observations: []adapters.Observation{{Date: "2026-08-20", Value: "1"}},
	})

	r := macroRunner(s)
	stats, err := r.Run(ctx, Options{
		Families: []persistence.SourceFamily{persistence.FamilyMacro},
		DryRun:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats[persistence.FamilyMacro].MacroRows)

	counts, err := s.SilverCounts(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts["timeseries_macro"])

	wm, err := s.Repository().Watermarks.Get(ctx, persistence.FamilyMacro.CleaningKey())
	require.NoError(t, err)
	assert.Nil(t, wm)
}

func TestResetWatermarkReprocesses(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	seedRaw(t, s, "h1", persistence.FamilyMacro, time.Now().UTC(), adapters.Envelope{
		Observations: []adapters.Observation{{Date: "2026-08-20", Value: "1"}},
	})

	r := macroRunner(s)
	_, err := r.Run(ctx, Options{Families: []persistence.SourceFamily{persistence.FamilyMacro}})
	require.NoError(t, err)

	require.NoError(t, r.ResetWatermark(ctx, persistence.FamilyMacro))

	stats, err := r.Run(ctx, Options{Families: []persistence.SourceFamily{persistence.FamilyMacro}})
	require.NoError(t, err)
	assert.Equal(t, 1, stats[persistence.FamilyMacro].Records, "reset forces full reprocessing")

	counts, err := s.SilverCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts["timeseries_macro"], "reprocessing converges, no duplicates")
}

func TestNewsFingerprintDedupAcrossRecords(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	article := adapters.Article{Title: "Fed holds", URL: "https://www.example.com/story/"}
	variant := adapters.Article{Title: "Fed holds rates", URL: "https://example.com/story"}
	seedRaw(t, s, "h1", persistence.FamilyNews, base, adapters.Envelope{Articles: []adapters.Article{article}})
	seedRaw(t, s, "h2", persistence.FamilyNews, base.Add(time.Minute), adapters.Envelope{Articles: []adapters.Article{variant}})

	r := NewRunner(s.Repository(), s, cleaners.NewNewsCleaner(nil, 0))
	_, err := r.Run(ctx, Options{Families: []persistence.SourceFamily{persistence.FamilyNews}})
	require.NoError(t, err)

	counts, err := s.SilverCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts["news_intel_pool"], "URL variants collapse to one article")

	var title string
	require.NoError(t, s.DB().GetContext(ctx, &title, `SELECT title FROM news_intel_pool`))
	assert.Equal(t, "Fed holds rates", title, "later observation wins")
}

func TestVerifyReportsLag(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	seedRaw(t, s, "h1", persistence.FamilyMacro, time.Now().UTC(), adapters.Envelope{
		Observations: []adapters.Observation{{Date: "2026-08-20", Value: "1"}},
	})

	r := macroRunner(s)
	reports, err := r.Verify(ctx)
	require.NoError(t, err)

	byFamily := map[persistence.SourceFamily]VerifyReport{}
	for _, rep := range reports {
		byFamily[rep.Family] = rep
	}
	assert.True(t, byFamily[persistence.FamilyMacro].Lagging, "uncleaned rows lag")
	assert.False(t, byFamily[persistence.FamilyNews].Lagging, "empty family is aligned")

	_, err = r.Run(ctx, Options{Families: []persistence.SourceFamily{persistence.FamilyMacro}})
	require.NoError(t, err)

	reports, err = r.Verify(ctx)
	require.NoError(t, err)
	for _, rep := range reports {
		assert.False(t, rep.Lagging)
	}
}
