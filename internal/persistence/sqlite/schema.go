package sqlite

import "context"

// Schema is created idempotently at every open; there is no migration
// protocol for the core.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS data_catalog (
		catalog_key      TEXT PRIMARY KEY,
		source_family    TEXT NOT NULL,
		update_frequency TEXT NOT NULL,
		config_params    TEXT NOT NULL DEFAULT '{}',
		search_keywords  TEXT NOT NULL DEFAULT '',
		role             TEXT NOT NULL DEFAULT '',
		scope            TEXT NOT NULL DEFAULT '',
		is_active        INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS raw_ingestion_cache (
		request_hash  TEXT PRIMARY KEY,
		catalog_key   TEXT NOT NULL,
		source_family TEXT NOT NULL,
		raw_payload   TEXT NOT NULL,
		inserted_at   TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_raw_family_inserted
		ON raw_ingestion_cache (source_family, inserted_at)`,
	`CREATE TABLE IF NOT EXISTS sync_watermarks (
		catalog_key      TEXT PRIMARY KEY,
		last_ingested_at TEXT,
		last_cleaned_at  TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS timeseries_macro (
		catalog_key TEXT NOT NULL,
		date        TEXT NOT NULL,
		value       REAL NOT NULL,
		PRIMARY KEY (catalog_key, date)
	)`,
	`CREATE TABLE IF NOT EXISTS timeseries_micro (
		catalog_key TEXT NOT NULL,
		date        TEXT NOT NULL,
		val_open    REAL NOT NULL,
		val_high    REAL NOT NULL,
		val_low     REAL NOT NULL,
		val_close   REAL NOT NULL,
		val_volume  INTEGER,
		PRIMARY KEY (catalog_key, date)
	)`,
	`CREATE TABLE IF NOT EXISTS news_intel_pool (
		fingerprint  TEXT PRIMARY KEY,
		catalog_key  TEXT NOT NULL,
		title        TEXT NOT NULL,
		url          TEXT NOT NULL,
		published_at TEXT,
		author       TEXT,
		source_name  TEXT,
		body         TEXT,
		sentiment    REAL,
		ai_summary   TEXT
	)`,
}

func (s *Store) bootstrap(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return storageErr("bootstrap schema", err)
		}
	}
	return nil
}

// SilverCounts returns row counts for the three Silver tables, used by the
// clean --verify surface.
func (s *Store) SilverCounts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int, 3)
	for _, table := range []string{"timeseries_macro", "timeseries_micro", "news_intel_pool"} {
		var n int
		if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+table); err != nil {
			return nil, storageErr("count "+table, err)
		}
		counts[table] = n
	}
	return counts, nil
}
