package cleaners

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/heimdall-asis/heimdall/internal/persistence"
)

// MacroCleaner validates macro observations. Non-numeric sentinel values
// (the upstream emits "." for missing periods) are dropped, and when an
// entry spans several series their values are summed per date so the Silver
// row is the composite the catalog entry represents.
type MacroCleaner struct{}

func NewMacroCleaner() *MacroCleaner { return &MacroCleaner{} }

func (c *MacroCleaner) Family() persistence.SourceFamily {
	return persistence.FamilyMacro
}

func (c *MacroCleaner) Clean(ctx context.Context, rec persistence.RawRecord) (Result, error) {
	env, err := decodeEnvelope(rec)
	if err != nil {
		return Result{}, err
	}
	if env.Error != "" {
		return Result{Skipped: 1}, nil
	}

	sums := make(map[string]float64)
	dates := make([]string, 0, len(env.Observations))
	skipped := 0

	for _, obs := range env.Observations {
		if _, err := time.Parse("2006-01-02", obs.Date); err != nil {
			log.Warn().
				Str("catalog_key", rec.CatalogKey).
				Str("date", obs.Date).
				Msg("Dropping macro observation with invalid date")
			skipped++
			continue
		}
		v, err := strconv.ParseFloat(obs.Value, 64)
		if err != nil {
			// Sentinel like "." for a not-yet-published period.
			skipped++
			continue
		}
		if _, seen := sums[obs.Date]; !seen {
			dates = append(dates, obs.Date)
		}
		sums[obs.Date] += v
	}

	rows := make([]persistence.MacroRow, 0, len(dates))
	for _, date := range dates {
		rows = append(rows, persistence.MacroRow{
			CatalogKey: rec.CatalogKey,
			Date:       date,
			Value:      sums[date],
		})
	}
	return Result{Macro: rows, Skipped: skipped}, nil
}
