package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/heimdall-asis/heimdall/internal/persistence"
)

type watermarkRepo struct {
	db *sqlx.DB
}

type watermarkRow struct {
	CatalogKey     string         `db:"catalog_key"`
	LastIngestedAt sql.NullString `db:"last_ingested_at"`
	LastCleanedAt  sql.NullString `db:"last_cleaned_at"`
}

func (r watermarkRow) toWatermark() (persistence.Watermark, error) {
	wm := persistence.Watermark{CatalogKey: r.CatalogKey}
	if r.LastIngestedAt.Valid {
		ts, err := parseTime(r.LastIngestedAt.String)
		if err != nil {
			return wm, storageErr("parse last_ingested_at", err)
		}
		wm.LastIngestedAt = &ts
	}
	if r.LastCleanedAt.Valid {
		ts, err := parseTime(r.LastCleanedAt.String)
		if err != nil {
			return wm, storageErr("parse last_cleaned_at", err)
		}
		wm.LastCleanedAt = &ts
	}
	return wm, nil
}

func (r *watermarkRepo) Get(ctx context.Context, catalogKey string) (*persistence.Watermark, error) {
	var row watermarkRow
	err := r.db.GetContext(ctx, &row,
		`SELECT catalog_key, last_ingested_at, last_cleaned_at
		 FROM sync_watermarks WHERE catalog_key = ?`, catalogKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get watermark", err)
	}
	wm, err := row.toWatermark()
	if err != nil {
		return nil, err
	}
	return &wm, nil
}

func (r *watermarkRepo) EnsureEntry(ctx context.Context, catalogKey string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sync_watermarks (catalog_key) VALUES (?)`, catalogKey)
	if err != nil {
		return storageErr("ensure watermark entry", err)
	}
	return nil
}

func (r *watermarkRepo) List(ctx context.Context) ([]persistence.Watermark, error) {
	var rows []watermarkRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT catalog_key, last_ingested_at, last_cleaned_at
		 FROM sync_watermarks ORDER BY catalog_key`)
	if err != nil {
		return nil, storageErr("list watermarks", err)
	}
	wms := make([]persistence.Watermark, 0, len(rows))
	for _, row := range rows {
		wm, err := row.toWatermark()
		if err != nil {
			return nil, err
		}
		wms = append(wms, wm)
	}
	return wms, nil
}

func (r *watermarkRepo) ResetCleaned(ctx context.Context, catalogKey string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sync_watermarks SET last_cleaned_at = NULL WHERE catalog_key = ?`, catalogKey)
	if err != nil {
		return storageErr("reset cleaning watermark", err)
	}
	return nil
}

// advanceCleaned is shared with the transactional write path. The WHERE
// guard keeps last_cleaned_at monotonically non-decreasing.
func advanceCleaned(ctx context.Context, ext sqlx.ExtContext, catalogKey string, ts time.Time) error {
	encoded := fmtTime(ts)
	_, err := ext.ExecContext(ctx,
		`INSERT INTO sync_watermarks (catalog_key, last_cleaned_at) VALUES (?, ?)
		 ON CONFLICT(catalog_key) DO UPDATE SET last_cleaned_at = excluded.last_cleaned_at
		 WHERE last_cleaned_at IS NULL OR excluded.last_cleaned_at > last_cleaned_at`,
		catalogKey, encoded)
	if err != nil {
		return storageErr("advance cleaning watermark", err)
	}
	return nil
}

func advanceIngested(ctx context.Context, ext sqlx.ExtContext, catalogKey string, ts time.Time) error {
	encoded := fmtTime(ts)
	_, err := ext.ExecContext(ctx,
		`INSERT INTO sync_watermarks (catalog_key, last_ingested_at) VALUES (?, ?)
		 ON CONFLICT(catalog_key) DO UPDATE SET last_ingested_at = excluded.last_ingested_at
		 WHERE last_ingested_at IS NULL OR excluded.last_ingested_at > last_ingested_at`,
		catalogKey, encoded)
	if err != nil {
		return storageErr("advance ingestion watermark", err)
	}
	return nil
}
