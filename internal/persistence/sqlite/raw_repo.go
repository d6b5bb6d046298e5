package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/heimdall-asis/heimdall/internal/persistence"
)

type rawRepo struct {
	db *sqlx.DB
}

// rawRow mirrors raw_ingestion_cache with the timestamp still encoded.
type rawRow struct {
	RequestHash  string `db:"request_hash"`
	CatalogKey   string `db:"catalog_key"`
	SourceFamily string `db:"source_family"`
	RawPayload   []byte `db:"raw_payload"`
	InsertedAt   string `db:"inserted_at"`
}

func (r rawRow) toRecord() (persistence.RawRecord, error) {
	ts, err := parseTime(r.InsertedAt)
	if err != nil {
		return persistence.RawRecord{}, storageErr("parse inserted_at", err)
	}
	return persistence.RawRecord{
		RequestHash:  r.RequestHash,
		CatalogKey:   r.CatalogKey,
		SourceFamily: persistence.SourceFamily(r.SourceFamily),
		RawPayload:   r.RawPayload,
		InsertedAt:   ts,
	}, nil
}

func (r *rawRepo) Exists(ctx context.Context, requestHash string) (bool, error) {
	var one int
	err := r.db.GetContext(ctx, &one,
		`SELECT 1 FROM raw_ingestion_cache WHERE request_hash = ?`, requestHash)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storageErr("check raw existence", err)
	}
	return true, nil
}

func (r *rawRepo) DeltaSince(ctx context.Context, family persistence.SourceFamily, since *time.Time, limit int) ([]persistence.RawRecord, error) {
	query := `SELECT request_hash, catalog_key, source_family, raw_payload, inserted_at
		FROM raw_ingestion_cache
		WHERE source_family = ?`
	args := []any{family}
	if since != nil {
		query += ` AND inserted_at > ?`
		args = append(args, fmtTime(*since))
	}
	query += ` ORDER BY inserted_at ASC, request_hash ASC LIMIT ?`
	args = append(args, limit)

	var rows []rawRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, storageErr("select raw delta", err)
	}

	// A full batch may end mid-way through a run of identical timestamps.
	// The cleaning watermark is a strict lower bound, so a batch must never
	// split a timestamp: pull the rest of the boundary run into this batch.
	if len(rows) == limit && limit > 0 {
		last := rows[len(rows)-1]
		var tail []rawRow
		err := r.db.SelectContext(ctx, &tail,
			`SELECT request_hash, catalog_key, source_family, raw_payload, inserted_at
			FROM raw_ingestion_cache
			WHERE source_family = ? AND inserted_at = ? AND request_hash > ?
			ORDER BY request_hash ASC`,
			family, last.InsertedAt, last.RequestHash)
		if err != nil {
			return nil, storageErr("select raw delta boundary", err)
		}
		rows = append(rows, tail...)
	}

	records := make([]persistence.RawRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (r *rawRepo) FamiliesWithRows(ctx context.Context) ([]persistence.SourceFamily, error) {
	var names []string
	err := r.db.SelectContext(ctx, &names,
		`SELECT DISTINCT source_family FROM raw_ingestion_cache ORDER BY source_family`)
	if err != nil {
		return nil, storageErr("select families with rows", err)
	}
	families := make([]persistence.SourceFamily, 0, len(names))
	for _, n := range names {
		families = append(families, persistence.SourceFamily(n))
	}
	return families, nil
}

func (r *rawRepo) CountByFamily(ctx context.Context, family persistence.SourceFamily) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM raw_ingestion_cache WHERE source_family = ?`, family)
	if err != nil {
		return 0, storageErr("count raw rows", err)
	}
	return n, nil
}

func (r *rawRepo) MaxInsertedAt(ctx context.Context, family persistence.SourceFamily) (*time.Time, error) {
	var max sql.NullString
	err := r.db.GetContext(ctx, &max,
		`SELECT MAX(inserted_at) FROM raw_ingestion_cache WHERE source_family = ?`, family)
	if err != nil {
		return nil, storageErr("max inserted_at", err)
	}
	if !max.Valid {
		return nil, nil
	}
	ts, err := parseTime(max.String)
	if err != nil {
		return nil, storageErr("parse max inserted_at", err)
	}
	return &ts, nil
}
