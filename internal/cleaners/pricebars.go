package cleaners

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/heimdall-asis/heimdall/internal/persistence"
)

// PriceCleaner validates OHLCV bars before they reach the Silver tier. A bar
// must have finite values satisfying low <= min(open, close) and
// max(open, close) <= high, a non-negative volume when present, and a valid
// UTC calendar date.
type PriceCleaner struct{}

func NewPriceCleaner() *PriceCleaner { return &PriceCleaner{} }

func (c *PriceCleaner) Family() persistence.SourceFamily {
	return persistence.FamilyPrice
}

func (c *PriceCleaner) Clean(ctx context.Context, rec persistence.RawRecord) (Result, error) {
	env, err := decodeEnvelope(rec)
	if err != nil {
		return Result{}, err
	}
	if env.Error != "" {
		return Result{Skipped: 1}, nil
	}

	rows := make([]persistence.MicroRow, 0, len(env.Bars))
	skipped := 0
	for _, bar := range env.Bars {
		if !validBar(bar.Open, bar.High, bar.Low, bar.Close) ||
			(bar.Volume != nil && *bar.Volume < 0) {
			log.Warn().
				Str("catalog_key", rec.CatalogKey).
				Str("date", bar.Date).
				Float64("open", bar.Open).
				Float64("high", bar.High).
				Float64("low", bar.Low).
				Float64("close", bar.Close).
				Msg("Dropping bar violating OHLC bounds")
			skipped++
			continue
		}
		if _, err := time.Parse("2006-01-02", bar.Date); err != nil {
			skipped++
			continue
		}
		rows = append(rows, persistence.MicroRow{
			CatalogKey: rec.CatalogKey,
			Date:       bar.Date,
			Open:       bar.Open,
			High:       bar.High,
			Low:        bar.Low,
			Close:      bar.Close,
			Volume:     bar.Volume,
		})
	}
	return Result{Micro: rows, Skipped: skipped}, nil
}

func validBar(open, high, low, clse float64) bool {
	for _, v := range []float64{open, high, low, clse} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return low <= math.Min(open, clse) && math.Max(open, clse) <= high
}
