// Package ingest drives the Bronze tier: it walks active catalog entries,
// fetches one canonical envelope each, and lands the raw rows idempotently
// under the ingestion watermark.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/heimdall-asis/heimdall/internal/adapters"
	"github.com/heimdall-asis/heimdall/internal/net/fetch"
	"github.com/heimdall-asis/heimdall/internal/persistence"
	"github.com/heimdall-asis/heimdall/internal/telemetry"
)

// Summary aggregates one run's per-entry outcomes.
type Summary struct {
	RunID   string
	Stored  int
	Skipped int
	Empty   int
	Failed  int
}

// Total returns the number of entries visited.
func (s Summary) Total() int {
	return s.Stored + s.Skipped + s.Empty + s.Failed
}

// Engine executes ingestion runs. One entry failing never aborts the run;
// the failure is logged and counted.
type Engine struct {
	repo     *persistence.Repository
	tx       persistence.TxRunner
	registry adapters.Registry
	now      func() time.Time
}

func New(repo *persistence.Repository, tx persistence.TxRunner, registry adapters.Registry) *Engine {
	return &Engine{repo: repo, tx: tx, registry: registry, now: time.Now}
}

// Run ingests every active catalog entry at the given frequency.
func (e *Engine) Run(ctx context.Context, freq persistence.Frequency, dryRun bool) (Summary, error) {
	runID := uuid.NewString()
	entries, err := e.repo.Catalog.ActiveByFrequency(ctx, freq)
	if err != nil {
		return Summary{RunID: runID}, err
	}

	log.Info().
		Str("run_id", runID).
		Str("frequency", string(freq)).
		Int("entries", len(entries)).
		Bool("dry_run", dryRun).
		Msg("Starting ingestion run")

	summary := Summary{RunID: runID}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		e.ingestOne(ctx, runID, entry, dryRun, &summary)
	}

	log.Info().
		Str("run_id", runID).
		Int("stored", summary.Stored).
		Int("skipped", summary.Skipped).
		Int("empty", summary.Empty).
		Int("failed", summary.Failed).
		Msg("Ingestion run finished")
	return summary, nil
}

// RunOne ingests a single catalog entry by key, regardless of its frequency.
func (e *Engine) RunOne(ctx context.Context, catalogKey string, dryRun bool) (Summary, error) {
	runID := uuid.NewString()
	entry, err := e.repo.Catalog.GetByKey(ctx, catalogKey)
	if err != nil {
		return Summary{RunID: runID}, err
	}
	if entry == nil {
		return Summary{RunID: runID}, fmt.Errorf("catalog entry %q not found", catalogKey)
	}

	summary := Summary{RunID: runID}
	e.ingestOne(ctx, runID, *entry, dryRun, &summary)
	return summary, nil
}

func (e *Engine) ingestOne(ctx context.Context, runID string, entry persistence.CatalogEntry, dryRun bool, summary *Summary) {
	start := e.now()
	status, hash, err := e.process(ctx, entry, dryRun)
	duration := e.now().Sub(start)

	evt := log.Info()
	if err != nil {
		evt = log.Error().Err(err).Str("error_kind", errKind(err))
	}
	evt.
		Str("run_id", runID).
		Str("catalog_key", entry.CatalogKey).
		Str("source_family", string(entry.SourceFamily)).
		Str("status", status).
		Str("request_hash", hash).
		Dur("duration_ms", duration).
		Msg("Ingested catalog entry")

	telemetry.IngestRecords.WithLabelValues(string(entry.SourceFamily), status).Inc()
	telemetry.IngestDuration.WithLabelValues(string(entry.SourceFamily)).Observe(duration.Seconds())

	switch status {
	case "stored":
		summary.Stored++
	case "skipped":
		summary.Skipped++
	case "empty":
		summary.Empty++
	default:
		summary.Failed++
	}
}

// process runs the fetch-hash-store path for one entry and names its outcome.
func (e *Engine) process(ctx context.Context, entry persistence.CatalogEntry, dryRun bool) (string, string, error) {
	adapter, err := e.registry.Resolve(entry.SourceFamily)
	if err != nil {
		return "failed", "", err
	}
	echo, err := adapter.QueryEcho(entry)
	if err != nil {
		return "failed", "", err
	}

	now := e.now()
	window := adapters.Window{Frequency: entry.UpdateFrequency, Now: now}
	hash := adapters.RequestHash(entry.CatalogKey, echo, window)

	exists, err := e.repo.Raw.Exists(ctx, hash)
	if err != nil {
		return "failed", hash, err
	}
	if exists {
		return "skipped", hash, nil
	}

	wm, err := e.repo.Watermarks.Get(ctx, entry.CatalogKey)
	if err != nil {
		return "failed", hash, err
	}

	env, err := adapter.Fetch(ctx, entry, wm, window, 0)
	if err != nil {
		if errors.Is(err, adapters.ErrEmptyResultSet) {
			// Nothing new this window; leave no Bronze row so a later poll
			// inside the bucket can still land data.
			return "empty", hash, nil
		}
		return "failed", hash, err
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return "failed", hash, fmt.Errorf("encode envelope: %w", err)
	}

	if dryRun {
		return "stored", hash, nil
	}

	rec := persistence.RawRecord{
		RequestHash:  hash,
		CatalogKey:   entry.CatalogKey,
		SourceFamily: entry.SourceFamily,
		RawPayload:   payload,
		InsertedAt:   now.UTC(),
	}
	stored := false
	err = e.tx.RunInTx(ctx, func(ctx context.Context, tx persistence.Txn) error {
		var err error
		stored, err = tx.UpsertRaw(ctx, rec)
		if err != nil {
			return err
		}
		return tx.AdvanceIngested(ctx, entry.CatalogKey, now.UTC())
	})
	if err != nil {
		return "failed", hash, err
	}
	if !stored {
		return "skipped", hash, nil
	}
	return "stored", hash, nil
}

// ConfirmActivation probes a dormant catalog entry with a one-item fetch and
// activates it only when the upstream yields data.
func (e *Engine) ConfirmActivation(ctx context.Context, catalogKey string) error {
	entry, err := e.repo.Catalog.GetByKey(ctx, catalogKey)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("catalog entry %q not found", catalogKey)
	}

	adapter, err := e.registry.Resolve(entry.SourceFamily)
	if err != nil {
		return err
	}
	window := adapters.Window{Frequency: entry.UpdateFrequency, Now: e.now()}
	env, err := adapter.Fetch(ctx, *entry, nil, window, 1)
	if err != nil {
		return fmt.Errorf("activation probe for %s: %w", catalogKey, err)
	}
	if env.Error != "" || env.ItemCount() == 0 {
		return fmt.Errorf("activation probe for %s yielded no items", catalogKey)
	}

	if err := e.repo.Catalog.SetActive(ctx, catalogKey, true); err != nil {
		return err
	}
	if err := e.repo.Watermarks.EnsureEntry(ctx, catalogKey); err != nil {
		return err
	}

	log.Info().
		Str("catalog_key", catalogKey).
		Str("source_family", string(entry.SourceFamily)).
		Msg("Catalog entry activated")
	return nil
}

// errKind names an error class for structured logs.
func errKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, fetch.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, fetch.ErrTransient):
		return "transient"
	case errors.Is(err, fetch.ErrPermanent):
		return "permanent"
	case errors.Is(err, adapters.ErrBadConfig):
		return "config"
	case errors.Is(err, persistence.ErrStorageFailure):
		return "storage"
	default:
		return "unknown"
	}
}
