package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/heimdall-asis/heimdall/internal/persistence"
)

type catalogRepo struct {
	db *sqlx.DB
}

const catalogColumns = `catalog_key, source_family, update_frequency, config_params,
	search_keywords, role, scope, is_active`

func (r *catalogRepo) GetByKey(ctx context.Context, key string) (*persistence.CatalogEntry, error) {
	var entry persistence.CatalogEntry
	err := r.db.GetContext(ctx, &entry,
		`SELECT `+catalogColumns+` FROM data_catalog WHERE catalog_key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get catalog entry", err)
	}
	return &entry, nil
}

func (r *catalogRepo) ActiveByFrequency(ctx context.Context, freq persistence.Frequency) ([]persistence.CatalogEntry, error) {
	var entries []persistence.CatalogEntry
	err := r.db.SelectContext(ctx, &entries,
		`SELECT `+catalogColumns+` FROM data_catalog
		 WHERE is_active = 1 AND update_frequency = ?
		 ORDER BY catalog_key`, freq)
	if err != nil {
		return nil, storageErr("select active catalog entries", err)
	}
	return entries, nil
}

func (r *catalogRepo) All(ctx context.Context) ([]persistence.CatalogEntry, error) {
	var entries []persistence.CatalogEntry
	err := r.db.SelectContext(ctx, &entries,
		`SELECT `+catalogColumns+` FROM data_catalog ORDER BY catalog_key`)
	if err != nil {
		return nil, storageErr("select catalog entries", err)
	}
	return entries, nil
}

func (r *catalogRepo) SetActive(ctx context.Context, key string, active bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE data_catalog SET is_active = ? WHERE catalog_key = ?`, active, key)
	if err != nil {
		return storageErr("set catalog active flag", err)
	}
	return nil
}

func (r *catalogRepo) Seed(ctx context.Context, entries []persistence.CatalogEntry) error {
	for _, e := range entries {
		_, err := r.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO data_catalog
			 (catalog_key, source_family, update_frequency, config_params,
			  search_keywords, role, scope, is_active)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.CatalogKey, e.SourceFamily, e.UpdateFrequency, e.ConfigParams,
			e.SearchKeywords, e.Role, e.Scope, e.IsActive)
		if err != nil {
			return storageErr("seed catalog entry", err)
		}
	}
	return nil
}
