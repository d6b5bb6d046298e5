package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/heimdall-asis/heimdall/internal/persistence"
	"github.com/heimdall-asis/heimdall/internal/pipeline"
)

// sourceArg maps the CLI's scope names onto source families.
func sourceArg(s string) ([]persistence.SourceFamily, error) {
	switch strings.ToUpper(s) {
	case "", "ALL":
		return nil, nil
	case "MACRO":
		return []persistence.SourceFamily{persistence.FamilyMacro}, nil
	case "MICRO":
		return []persistence.SourceFamily{persistence.FamilyPrice}, nil
	case "NEWS":
		return []persistence.SourceFamily{persistence.FamilyNews}, nil
	}
	return nil, fmt.Errorf("unknown source %q (want MACRO, MICRO, NEWS, or ALL)", s)
}

func cleanCmd() *cobra.Command {
	var (
		source         string
		dryRun         bool
		limit          int
		resetWatermark string
		showWatermarks bool
		verify         bool
	)

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Transform raw cache rows into the Silver tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if resetWatermark != "" {
				if strings.EqualFold(resetWatermark, "ALL") {
					if err := a.runner.ResetAllWatermarks(ctx); err != nil {
						return err
					}
				} else {
					families, err := sourceArg(resetWatermark)
					if err != nil || families == nil {
						return fmt.Errorf("reset-watermark wants MACRO, MICRO, NEWS, or ALL")
					}
					if err := a.runner.ResetWatermark(ctx, families[0]); err != nil {
						return err
					}
				}
				fmt.Println("Watermark reset")
				return nil
			}

			if showWatermarks {
				return printWatermarks(ctx, a)
			}
			if verify {
				return printVerify(ctx, a)
			}

			families, err := sourceArg(source)
			if err != nil {
				return err
			}
			stats, runErr := a.runner.Run(ctx, pipeline.Options{
				Families:   families,
				DryRun:     dryRun,
				BatchLimit: limit,
			})
			for family, s := range stats {
				fmt.Printf("%-13s records=%d macro=%d micro=%d news=%d skipped=%d batches=%d\n",
					family, s.Records, s.MacroRows, s.MicroRows, s.NewsRows, s.Skipped, s.Batches)
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&source, "source", "ALL", "Family to clean: MACRO, MICRO, NEWS, or ALL")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Transform without writing")
	cmd.Flags().IntVar(&limit, "limit", pipeline.DefaultBatchLimit, "Raw rows per cleaning batch")
	cmd.Flags().StringVar(&resetWatermark, "reset-watermark", "", "Null the cleaning watermark: MACRO, MICRO, NEWS, or ALL")
	cmd.Flags().BoolVar(&showWatermarks, "show-watermarks", false, "Print the watermark table and exit")
	cmd.Flags().BoolVar(&verify, "verify", false, "Print Bronze/Silver alignment and exit")
	return cmd
}

func printWatermarks(ctx context.Context, a *app) error {
	wms, err := a.runner.Watermarks(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%-40s %-28s %-28s\n", "CATALOG KEY", "LAST INGESTED", "LAST CLEANED")
	for _, wm := range wms {
		fmt.Printf("%-40s %-28s %-28s\n", wm.CatalogKey, fmtWM(wm.LastIngestedAt), fmtWM(wm.LastCleanedAt))
	}
	return nil
}

func printVerify(ctx context.Context, a *app) error {
	reports, err := a.runner.Verify(ctx)
	if err != nil {
		return err
	}
	counts, err := a.store.SilverCounts(ctx)
	if err != nil {
		return err
	}

	lagging := false
	for _, rep := range reports {
		status := "aligned"
		if rep.Lagging {
			status = "LAGGING"
			lagging = true
		}
		fmt.Printf("%-13s bronze=%-6d newest=%-28s cleaned=%-28s %s\n",
			rep.Family, rep.BronzeRows, fmtWM(rep.MaxInsertedAt), fmtWM(rep.LastCleanedAt), status)
	}
	for _, table := range []string{"timeseries_macro", "timeseries_micro", "news_intel_pool"} {
		fmt.Printf("%-20s rows=%d\n", table, counts[table])
	}
	if lagging {
		return fmt.Errorf("cleaning lags ingestion")
	}
	return nil
}

func fmtWM(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
