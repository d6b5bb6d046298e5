package persistence

import (
	"context"
	"errors"
	"time"
)

// SourceFamily identifies the upstream family a catalog entry belongs to.
type SourceFamily string

const (
	FamilyMacro SourceFamily = "MACRO_SERIES"
	FamilyPrice SourceFamily = "PRICE_BARS"
	FamilyNews  SourceFamily = "NEWS_FEED"
)

// Families lists every known source family in dispatch order.
func Families() []SourceFamily {
	return []SourceFamily{FamilyMacro, FamilyPrice, FamilyNews}
}

// Valid reports whether f is a known source family.
func (f SourceFamily) Valid() bool {
	switch f {
	case FamilyMacro, FamilyPrice, FamilyNews:
		return true
	}
	return false
}

// CleaningKey returns the synthetic watermark key that tracks differential
// cleaning progress for this family in sync_watermarks.
func (f SourceFamily) CleaningKey() string {
	return "SYSTEM_CLEANING_" + string(f)
}

// Frequency is the declared update cadence of a catalog entry.
type Frequency string

const (
	FreqHourly    Frequency = "HOURLY"
	FreqDaily     Frequency = "DAILY"
	FreqMonthly   Frequency = "MONTHLY"
	FreqQuarterly Frequency = "QUARTERLY"
)

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FreqHourly, FreqDaily, FreqMonthly, FreqQuarterly:
		return true
	}
	return false
}

// CatalogEntry is one registered logical data stream.
type CatalogEntry struct {
	CatalogKey      string       `db:"catalog_key"`
	SourceFamily    SourceFamily `db:"source_family"`
	UpdateFrequency Frequency    `db:"update_frequency"`
	ConfigParams    string       `db:"config_params"` // opaque JSON blob, adapter-private
	SearchKeywords  string       `db:"search_keywords"`
	Role            string       `db:"role"`  // judgment vs validation, pass-through
	Scope           string       `db:"scope"` // macro vs micro, pass-through
	IsActive        bool         `db:"is_active"`
}

// RawRecord is one Bronze row: a raw adapter payload keyed by request hash.
type RawRecord struct {
	RequestHash  string       `db:"request_hash"`
	CatalogKey   string       `db:"catalog_key"`
	SourceFamily SourceFamily `db:"source_family"`
	RawPayload   []byte       `db:"raw_payload"`
	InsertedAt   time.Time    `db:"inserted_at"`
}

// Watermark tracks per-stream ingestion and cleaning progress.
type Watermark struct {
	CatalogKey     string     `db:"catalog_key"`
	LastIngestedAt *time.Time `db:"last_ingested_at"`
	LastCleanedAt  *time.Time `db:"last_cleaned_at"`
}

// MacroRow is one Silver macro observation. Date is YYYY-MM-DD.
type MacroRow struct {
	CatalogKey string  `db:"catalog_key"`
	Date       string  `db:"date"`
	Value      float64 `db:"value"`
}

// MicroRow is one Silver price bar. Date is YYYY-MM-DD (UTC midnight).
type MicroRow struct {
	CatalogKey string  `db:"catalog_key"`
	Date       string  `db:"date"`
	Open       float64 `db:"val_open"`
	High       float64 `db:"val_high"`
	Low        float64 `db:"val_low"`
	Close      float64 `db:"val_close"`
	Volume     *int64  `db:"val_volume"`
}

// NewsRow is one Silver news article, keyed by URL fingerprint.
type NewsRow struct {
	Fingerprint string     `db:"fingerprint"`
	CatalogKey  string     `db:"catalog_key"`
	Title       string     `db:"title"`
	URL         string     `db:"url"`
	PublishedAt *time.Time `db:"published_at"`
	Author      *string    `db:"author"`
	SourceName  *string    `db:"source_name"`
	Body        *string    `db:"body"`
}

// ErrStorageFailure wraps every SQL error surfaced by the store. Callers roll
// back the enclosing unit and continue with the next.
var ErrStorageFailure = errors.New("storage failure")

// CatalogRepo provides read and activation access to data_catalog.
type CatalogRepo interface {
	GetByKey(ctx context.Context, key string) (*CatalogEntry, error)
	ActiveByFrequency(ctx context.Context, freq Frequency) ([]CatalogEntry, error)
	All(ctx context.Context) ([]CatalogEntry, error)
	SetActive(ctx context.Context, key string, active bool) error
	// Seed registers entries that do not exist yet; existing keys are left
	// untouched.
	Seed(ctx context.Context, entries []CatalogEntry) error
}

// RawRepo provides read access to the Bronze table. Writes go through Txn.
type RawRepo interface {
	Exists(ctx context.Context, requestHash string) (bool, error)
	// DeltaSince returns raw rows for family with inserted_at strictly after
	// since (all rows when since is nil), ascending, capped at limit.
	DeltaSince(ctx context.Context, family SourceFamily, since *time.Time, limit int) ([]RawRecord, error)
	// FamiliesWithRows reports which families have at least one Bronze row.
	FamiliesWithRows(ctx context.Context) ([]SourceFamily, error)
	CountByFamily(ctx context.Context, family SourceFamily) (int, error)
	MaxInsertedAt(ctx context.Context, family SourceFamily) (*time.Time, error)
}

// WatermarkRepo provides access to sync_watermarks outside of transactions.
type WatermarkRepo interface {
	Get(ctx context.Context, catalogKey string) (*Watermark, error)
	EnsureEntry(ctx context.Context, catalogKey string) error
	List(ctx context.Context) ([]Watermark, error)
	// ResetCleaned nulls last_cleaned_at so the next cleaning run reprocesses
	// every Bronze row for the key.
	ResetCleaned(ctx context.Context, catalogKey string) error
}

// Txn is the write surface available inside a store transaction. Silver
// upserts and the watermark advance for a cleaning batch commit together or
// not at all.
type Txn interface {
	// UpsertRaw inserts a Bronze row keyed by request hash. Returns false
	// without error when the hash already exists (idempotent no-op).
	UpsertRaw(ctx context.Context, rec RawRecord) (bool, error)
	UpsertMacroRows(ctx context.Context, rows []MacroRow) error
	UpsertMicroRows(ctx context.Context, rows []MicroRow) error
	UpsertNewsRows(ctx context.Context, rows []NewsRow) error
	AdvanceIngested(ctx context.Context, catalogKey string, ts time.Time) error
	// AdvanceCleaned moves last_cleaned_at forward; attempts to move it
	// backward are ignored (monotonic).
	AdvanceCleaned(ctx context.Context, catalogKey string, ts time.Time) error
}

// TxRunner executes fn inside a single write transaction, rolling back on
// error. The store serializes writers; at most one transaction is open at a
// time.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Txn) error) error
}

// Repository aggregates the read-side repositories handed to the pipeline
// components.
type Repository struct {
	Catalog    CatalogRepo
	Raw        RawRepo
	Watermarks WatermarkRepo
}
