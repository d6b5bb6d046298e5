// Package pipeline orchestrates differential Bronze-to-Silver cleaning under
// the per-family cleaning watermarks.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/heimdall-asis/heimdall/internal/cleaners"
	"github.com/heimdall-asis/heimdall/internal/persistence"
	"github.com/heimdall-asis/heimdall/internal/telemetry"
)

// DefaultBatchLimit is the raw rows consumed per cleaning transaction.
const DefaultBatchLimit = 100

// Options selects what a cleaning run covers.
type Options struct {
	Families   []persistence.SourceFamily // empty means all families
	DryRun     bool
	BatchLimit int
}

// Stats summarizes one family's cleaning outcome.
type Stats struct {
	Records   int
	MacroRows int
	MicroRows int
	NewsRows  int
	Skipped   int
	Batches   int
}

// Runner executes cleaning passes. Construction wires one cleaner per
// family; families without a cleaner are rejected at run time.
type Runner struct {
	repo     *persistence.Repository
	tx       persistence.TxRunner
	cleaners map[persistence.SourceFamily]cleaners.Cleaner
	now      func() time.Time
}

func NewRunner(repo *persistence.Repository, tx persistence.TxRunner, cs ...cleaners.Cleaner) *Runner {
	byFamily := make(map[persistence.SourceFamily]cleaners.Cleaner, len(cs))
	for _, c := range cs {
		byFamily[c.Family()] = c
	}
	return &Runner{repo: repo, tx: tx, cleaners: byFamily, now: time.Now}
}

// Run cleans the selected families in catalog order. A family failing stops
// only that family; the rest still run.
func (r *Runner) Run(ctx context.Context, opts Options) (map[persistence.SourceFamily]Stats, error) {
	families := opts.Families
	if len(families) == 0 {
		families = persistence.Families()
	}
	limit := opts.BatchLimit
	if limit <= 0 {
		limit = DefaultBatchLimit
	}

	runID := uuid.NewString()
	log.Info().
		Str("run_id", runID).
		Int("families", len(families)).
		Bool("dry_run", opts.DryRun).
		Msg("Starting cleaning run")

	out := make(map[persistence.SourceFamily]Stats, len(families))
	var firstErr error
	for _, family := range families {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		stats, err := r.cleanFamily(ctx, runID, family, limit, opts.DryRun)
		out[family] = stats
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("cleaning %s: %w", family, err)
		}
	}
	return out, firstErr
}

func (r *Runner) cleanFamily(ctx context.Context, runID string, family persistence.SourceFamily, limit int, dryRun bool) (Stats, error) {
	cleaner, ok := r.cleaners[family]
	if !ok {
		return Stats{}, fmt.Errorf("no cleaner registered for family %q", family)
	}

	cleaningKey := family.CleaningKey()
	wm, err := r.repo.Watermarks.Get(ctx, cleaningKey)
	if err != nil {
		return Stats{}, err
	}
	var since *time.Time
	if wm != nil {
		since = wm.LastCleanedAt
	}

	var stats Stats
	for {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		recs, err := r.repo.Raw.DeltaSince(ctx, family, since, limit)
		if err != nil {
			return stats, err
		}
		if len(recs) == 0 {
			if stats.Batches == 0 {
				log.Info().
					Str("run_id", runID).
					Str("source_family", string(family)).
					Msg("No new records to clean")
			}
			break
		}

		batch, maxInserted := r.transform(ctx, cleaner, recs, &stats)

		if !dryRun {
			err = r.tx.RunInTx(ctx, func(ctx context.Context, tx persistence.Txn) error {
				if err := tx.UpsertMacroRows(ctx, batch.Macro); err != nil {
					return err
				}
				if err := tx.UpsertMicroRows(ctx, batch.Micro); err != nil {
					return err
				}
				if err := tx.UpsertNewsRows(ctx, batch.News); err != nil {
					return err
				}
				return tx.AdvanceCleaned(ctx, cleaningKey, maxInserted)
			})
			if err != nil {
				return stats, err
			}
		}

		stats.Batches++
		telemetry.CleanBatches.WithLabelValues(string(family)).Inc()
		log.Info().
			Str("run_id", runID).
			Str("source_family", string(family)).
			Int("records", len(recs)).
			Int("macro_rows", len(batch.Macro)).
			Int("micro_rows", len(batch.Micro)).
			Int("news_rows", len(batch.News)).
			Time("watermark", maxInserted).
			Msg("Committed cleaning batch")

		since = &maxInserted
		if len(recs) < limit {
			break
		}
	}
	return stats, nil
}

// transform runs the cleaner over a batch. Per-record failures are logged
// and counted as skips; the batch proceeds without them.
func (r *Runner) transform(ctx context.Context, cleaner cleaners.Cleaner, recs []persistence.RawRecord, stats *Stats) (cleaners.Result, time.Time) {
	var batch cleaners.Result
	var maxInserted time.Time

	family := string(cleaner.Family())
	for _, rec := range recs {
		if rec.InsertedAt.After(maxInserted) {
			maxInserted = rec.InsertedAt
		}
		res, err := cleaner.Clean(ctx, rec)
		if err != nil {
			log.Error().
				Err(err).
				Str("request_hash", rec.RequestHash).
				Str("catalog_key", rec.CatalogKey).
				Str("source_family", family).
				Msg("Skipping uncleanable raw record")
			stats.Skipped++
			telemetry.CleanSkips.WithLabelValues(family).Inc()
			continue
		}
		stats.Records++
		stats.Skipped += res.Skipped
		stats.MacroRows += len(res.Macro)
		stats.MicroRows += len(res.Micro)
		stats.NewsRows += len(res.News)
		if res.Skipped > 0 {
			telemetry.CleanSkips.WithLabelValues(family).Add(float64(res.Skipped))
		}
		telemetry.CleanRows.WithLabelValues(family).Add(float64(len(res.Macro) + len(res.Micro) + len(res.News)))

		batch.Macro = append(batch.Macro, res.Macro...)
		batch.Micro = append(batch.Micro, res.Micro...)
		batch.News = append(batch.News, res.News...)
	}
	return batch, maxInserted
}

// ResetWatermark nulls the cleaning watermark for one family, forcing full
// reprocessing on the next run.
func (r *Runner) ResetWatermark(ctx context.Context, family persistence.SourceFamily) error {
	if !family.Valid() {
		return fmt.Errorf("unknown source family %q", family)
	}
	if err := r.repo.Watermarks.ResetCleaned(ctx, family.CleaningKey()); err != nil {
		return err
	}
	log.Info().
		Str("source_family", string(family)).
		Msg("Cleaning watermark reset")
	return nil
}

// ResetAllWatermarks nulls every family's cleaning watermark.
func (r *Runner) ResetAllWatermarks(ctx context.Context) error {
	for _, family := range persistence.Families() {
		if err := r.ResetWatermark(ctx, family); err != nil {
			return err
		}
	}
	return nil
}

// Watermarks lists the full sync_watermarks table.
func (r *Runner) Watermarks(ctx context.Context) ([]persistence.Watermark, error) {
	return r.repo.Watermarks.List(ctx)
}

// VerifyReport describes Bronze/Silver alignment for one family.
type VerifyReport struct {
	Family        persistence.SourceFamily
	BronzeRows    int
	MaxInsertedAt *time.Time
	LastCleanedAt *time.Time
	Lagging       bool
}

// Verify compares each family's newest Bronze row against its cleaning
// watermark. A family lags when Bronze rows exist past the watermark.
func (r *Runner) Verify(ctx context.Context) ([]VerifyReport, error) {
	reports := make([]VerifyReport, 0, len(persistence.Families()))
	for _, family := range persistence.Families() {
		count, err := r.repo.Raw.CountByFamily(ctx, family)
		if err != nil {
			return nil, err
		}
		maxInserted, err := r.repo.Raw.MaxInsertedAt(ctx, family)
		if err != nil {
			return nil, err
		}
		wm, err := r.repo.Watermarks.Get(ctx, family.CleaningKey())
		if err != nil {
			return nil, err
		}

		report := VerifyReport{Family: family, BronzeRows: count, MaxInsertedAt: maxInserted}
		if wm != nil {
			report.LastCleanedAt = wm.LastCleanedAt
		}
		if maxInserted != nil {
			report.Lagging = report.LastCleanedAt == nil || report.LastCleanedAt.Before(*maxInserted)
		}
		reports = append(reports, report)
	}
	return reports, nil
}
