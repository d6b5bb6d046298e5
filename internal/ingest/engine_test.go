package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heimdall-asis/heimdall/internal/adapters"
	"github.com/heimdall-asis/heimdall/internal/persistence"
	"github.com/heimdall-asis/heimdall/internal/persistence/sqlite"
)

// fakeAdapter serves canned envelopes and counts fetches.
type fakeAdapter struct {
	family  persistence.SourceFamily
	fetches int
	fail    map[string]error
	items   int
}

func (f *fakeAdapter) Family() persistence.SourceFamily { return f.family }

func (f *fakeAdapter) QueryEcho(entry persistence.CatalogEntry) (map[string]string, error) {
	return map[string]string{"key": entry.CatalogKey}, nil
}

func (f *fakeAdapter) Fetch(_ context.Context, entry persistence.CatalogEntry, _ *persistence.Watermark, window adapters.Window, limit int) (*adapters.Envelope, error) {
	f.fetches++
	if err := f.fail[entry.CatalogKey]; err != nil {
		return nil, err
	}
	n := f.items
	if n == 0 {
		n = 2
	}
	if limit > 0 && limit < n {
		n = limit
	}
	env := &adapters.Envelope{FetchedAt: window.Now, QueryEcho: map[string]string{"key": entry.CatalogKey}}
	for i := 0; i < n; i++ {
		env.Observations = append(env.Observations, adapters.Observation{Date: "2026-08-20", Value: "1"})
	}
	return env, nil
}

func testEngine(t *testing.T, fake *fakeAdapter) (*Engine, *sqlite.Store) {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	repo := s.Repository()
	eng := New(repo, s, adapters.Registry{fake.family: fake})
	return eng, s
}

func seedEntries(t *testing.T, s *sqlite.Store, entries ...persistence.CatalogEntry) {
	t.Helper()
	require.NoError(t, s.Repository().Catalog.Seed(context.Background(), entries))
}

func macroEntry(key string, active bool) persistence.CatalogEntry {
	return persistence.CatalogEntry{
		CatalogKey:      key,
		SourceFamily:    persistence.FamilyMacro,
		UpdateFrequency: persistence.FreqDaily,
		ConfigParams:    `{"series_ids":["X"]}`,
		IsActive:        active,
	}
}

func TestRunStoresAndSkipsWithinWindow(t *testing.T) {
	fake := &fakeAdapter{family: persistence.FamilyMacro}
	eng, s := testEngine(t, fake)
	ctx := context.Background()
	seedEntries(t, s, macroEntry("US_CPI", true))

	summary, err := eng.Run(ctx, persistence.FreqDaily, false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Stored)
	assert.Equal(t, 1, fake.fetches)

	wm, err := s.Repository().Watermarks.Get(ctx, "US_CPI")
	require.NoError(t, err)
	require.NotNil(t, wm)
	assert.NotNil(t, wm.LastIngestedAt)

	// Same window: the hash already exists, so the fetch is skipped entirely.
	summary, err = eng.Run(ctx, persistence.FreqDaily, false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, fake.fetches, "existing hash short-circuits before the fetch")
}

func TestRunIsolatesFailures(t *testing.T) {
	fake := &fakeAdapter{
		family: persistence.FamilyMacro,
		fail:   map[string]error{"BROKEN": errors.New("upstream down")},
	}
	eng, s := testEngine(t, fake)
	ctx := context.Background()
	seedEntries(t, s,
		macroEntry("AAA_FIRST", true),
		macroEntry("BROKEN", true),
		macroEntry("ZZZ_LAST", true),
	)

	summary, err := eng.Run(ctx, persistence.FreqDaily, false)
	require.NoError(t, err, "entry failures never abort the run")
	assert.Equal(t, 2, summary.Stored)
	assert.Equal(t, 1, summary.Failed)

	n, err := s.Repository().Raw.CountByFamily(ctx, persistence.FamilyMacro)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRunEmptyResultLeavesNoRow(t *testing.T) {
	fake := &fakeAdapter{
		family: persistence.FamilyMacro,
		fail:   map[string]error{"QUIET": adapters.ErrEmptyResultSet},
	}
	eng, s := testEngine(t, fake)
	ctx := context.Background()
	seedEntries(t, s, macroEntry("QUIET", true))

	summary, err := eng.Run(ctx, persistence.FreqDaily, false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Empty)
	assert.Zero(t, summary.Failed)

	n, err := s.Repository().Raw.CountByFamily(ctx, persistence.FamilyMacro)
	require.NoError(t, err)
	assert.Zero(t, n, "empty windows leave no Bronze row")
}

func TestRunSkipsInactiveEntries(t *testing.T) {
	fake := &fakeAdapter{family: persistence.FamilyMacro}
	eng, s := testEngine(t, fake)
	seedEntries(t, s, macroEntry("DORMANT", false))

	summary, err := eng.Run(context.Background(), persistence.FreqDaily, false)
	require.NoError(t, err)
	assert.Zero(t, summary.Total())
	assert.Zero(t, fake.fetches)
}

func TestRunOneBypassesFrequencyFilter(t *testing.T) {
	fake := &fakeAdapter{family: persistence.FamilyMacro}
	eng, s := testEngine(t, fake)
	entry := macroEntry("US_CPI", true)
	entry.UpdateFrequency = persistence.FreqMonthly
	seedEntries(t, s, entry)

	summary, err := eng.RunOne(context.Background(), "US_CPI", false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Stored)

	_, err = eng.RunOne(context.Background(), "MISSING", false)
	assert.Error(t, err)
}

func TestDryRunWritesNothing(t *testing.T) {
	fake := &fakeAdapter{family: persistence.FamilyMacro}
	eng, s := testEngine(t, fake)
	ctx := context.Background()
	seedEntries(t, s, macroEntry("US_CPI", true))

	summary, err := eng.Run(ctx, persistence.FreqDaily, true)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Stored)
	assert.Equal(t, 1, fake.fetches, "dry run still fetches")

	n, err := s.Repository().Raw.CountByFamily(ctx, persistence.FamilyMacro)
	require.NoError(t, err)
	assert.Zero(t, n)

	wm, err := s.Repository().Watermarks.Get(ctx, "US_CPI")
	require.NoError(t, err)
	assert.Nil(t, wm)
}

func TestConfirmActivation(t *testing.T) {
	fake := &fakeAdapter{family: persistence.FamilyMacro}
	eng, s := testEngine(t, fake)
	ctx := context.Background()
	seedEntries(t, s, macroEntry("DORMANT", false))

	require.NoError(t, eng.ConfirmActivation(ctx, "DORMANT"))

	entry, err := s.Repository().Catalog.GetByKey(ctx, "DORMANT")
	require.NoError(t, err)
	assert.True(t, entry.IsActive)

	wm, err := s.Repository().Watermarks.Get(ctx, "DORMANT")
	require.NoError(t, err)
	require.NotNil(t, wm, "activation registers the watermark entry")
	assert.Nil(t, wm.LastIngestedAt)
}

func TestConfirmActivationFailsOnEmptyProbe(t *testing.T) {
	fake := &fakeAdapter{
		family: persistence.FamilyMacro,
		fail:   map[string]error{"DORMANT": adapters.ErrEmptyResultSet},
	}
	eng, s := testEngine(t, fake)
	ctx := context.Background()
	seedEntries(t, s, macroEntry("DORMANT", false))

	require.Error(t, eng.ConfirmActivation(ctx, "DORMANT"))

	entry, err := s.Repository().Catalog.GetByKey(ctx, "DORMANT")
	require.NoError(t, err)
	assert.False(t, entry.IsActive, "failed probe leaves the entry dormant")
}
