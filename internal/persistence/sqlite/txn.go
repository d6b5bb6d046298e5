package sqlite

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/heimdall-asis/heimdall/internal/persistence"
)

// txn implements persistence.Txn over one open transaction.
type txn struct {
	tx *sqlx.Tx
}

func (t *txn) UpsertRaw(ctx context.Context, rec persistence.RawRecord) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO raw_ingestion_cache
		 (request_hash, catalog_key, source_family, raw_payload, inserted_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.RequestHash, rec.CatalogKey, rec.SourceFamily, rec.RawPayload, fmtTime(rec.InsertedAt))
	if err != nil {
		return false, storageErr("upsert raw record", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("upsert raw record", err)
	}
	return n > 0, nil
}

func (t *txn) UpsertMacroRows(ctx context.Context, rows []persistence.MacroRow) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := t.tx.PreparexContext(ctx,
		`INSERT INTO timeseries_macro (catalog_key, date, value) VALUES (?, ?, ?)
		 ON CONFLICT(catalog_key, date) DO UPDATE SET value = excluded.value`)
	if err != nil {
		return storageErr("prepare macro upsert", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row.CatalogKey, row.Date, row.Value); err != nil {
			return storageErr("upsert macro row", err)
		}
	}
	return nil
}

func (t *txn) UpsertMicroRows(ctx context.Context, rows []persistence.MicroRow) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := t.tx.PreparexContext(ctx,
		`INSERT INTO timeseries_micro
		 (catalog_key, date, val_open, val_high, val_low, val_close, val_volume)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(catalog_key, date) DO UPDATE SET
			val_open = excluded.val_open,
			val_high = excluded.val_high,
			val_low = excluded.val_low,
			val_close = excluded.val_close,
			val_volume = excluded.val_volume`)
	if err != nil {
		return storageErr("prepare micro upsert", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		_, err := stmt.ExecContext(ctx, row.CatalogKey, row.Date,
			row.Open, row.High, row.Low, row.Close, nullInt(row.Volume))
		if err != nil {
			return storageErr("upsert micro row", err)
		}
	}
	return nil
}

func (t *txn) UpsertNewsRows(ctx context.Context, rows []persistence.NewsRow) error {
	if len(rows) == 0 {
		return nil
	}
	// Later observations replace article metadata and body, but the
	// sentiment and ai_summary slots belong to downstream consumers and
	// survive the upsert.
	stmt, err := t.tx.PreparexContext(ctx,
		`INSERT INTO news_intel_pool
		 (fingerprint, catalog_key, title, url, published_at, author, source_name, body)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET
			catalog_key = excluded.catalog_key,
			title = excluded.title,
			url = excluded.url,
			published_at = excluded.published_at,
			author = excluded.author,
			source_name = excluded.source_name,
			body = excluded.body`)
	if err != nil {
		return storageErr("prepare news upsert", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		_, err := stmt.ExecContext(ctx, row.Fingerprint, row.CatalogKey, row.Title, row.URL,
			nullTime(row.PublishedAt), nullStr(row.Author), nullStr(row.SourceName), nullStr(row.Body))
		if err != nil {
			return storageErr("upsert news row", err)
		}
	}
	return nil
}

func (t *txn) AdvanceIngested(ctx context.Context, catalogKey string, ts time.Time) error {
	return advanceIngested(ctx, t.tx, catalogKey, ts)
}

func (t *txn) AdvanceCleaned(ctx context.Context, catalogKey string, ts time.Time) error {
	return advanceCleaned(ctx, t.tx, catalogKey, ts)
}
