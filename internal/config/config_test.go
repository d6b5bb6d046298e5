package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heimdall-asis/heimdall/internal/persistence"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaultsWhenNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "heimdall.db", cfg.DBPath)
	assert.Equal(t, 100, cfg.Cleaning.BatchLimit)
	assert.Equal(t, 5, cfg.Schedule.HourlyMinute)
	assert.Equal(t, "MACRO_API_KEY", cfg.Sources.Macro.APIKeyEnv)
}

func TestLoadSparseFileKeepsFloors(t *testing.T) {
	path := writeFile(t, "heimdall.yaml", `
db_path: /var/lib/heimdall/pipeline.db
http:
  timeout_seconds: 30
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/heimdall/pipeline.db", cfg.DBPath)
	assert.Equal(t, 30, cfg.HTTP.TimeoutSeconds)
	assert.Equal(t, 4, cfg.HTTP.PerHostConcurrency, "unset fields keep defaults")
	assert.Equal(t, 100, cfg.Cleaning.BatchLimit)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	assert.Error(t, err)
}

func TestAPIKeyFromEnv(t *testing.T) {
	t.Setenv("TEST_HEIMDALL_KEY", "sekrit")
	src := SourceConfig{APIKeyEnv: "TEST_HEIMDALL_KEY"}
	assert.Equal(t, "sekrit", src.APIKey())
	assert.Empty(t, SourceConfig{}.APIKey())
}

func TestLoadCatalog(t *testing.T) {
	path := writeFile(t, "catalog.yaml", `
entries:
  - catalog_key: US_CPI
    source_family: MACRO_SERIES
    update_frequency: MONTHLY
    role: JUDGMENT
    active: true
    config_params:
      series_ids: [CPIAUCSL]
  - catalog_key: FED_NEWS
    source_family: NEWS_FEED
    update_frequency: HOURLY
    search_keywords: "federal reserve, FOMC"
`)
	entries, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, persistence.FamilyMacro, entries[0].SourceFamily)
	assert.True(t, entries[0].IsActive)
	assert.Contains(t, entries[0].ConfigParams, "CPIAUCSL")

	assert.Equal(t, "{}", entries[1].ConfigParams, "missing params default to an empty object")
	assert.False(t, entries[1].IsActive)
}

func TestLoadCatalogRejectsBadFamily(t *testing.T) {
	path := writeFile(t, "catalog.yaml", `
entries:
  - catalog_key: BAD
    source_family: WEATHER
    update_frequency: DAILY
`)
	_, err := LoadCatalog(path)
	assert.ErrorContains(t, err, "source_family")
}

func TestLoadCatalogRequiresKey(t *testing.T) {
	path := writeFile(t, "catalog.yaml", `
entries:
  - source_family: MACRO_SERIES
    update_frequency: DAILY
`)
	_, err := LoadCatalog(path)
	assert.ErrorContains(t, err, "catalog_key")
}
