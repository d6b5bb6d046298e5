package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/heimdall-asis/heimdall/internal/persistence"
	"github.com/heimdall-asis/heimdall/internal/pipeline"
	"github.com/heimdall-asis/heimdall/internal/scheduler"
)

func scheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run the cadence loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ops := scheduler.NewOpsServer(a.cfg.OpsAddr, a.repo.Watermarks)
			ops.Start()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				ops.Shutdown(shutdownCtx)
			}()

			job := func(ctx context.Context, freq persistence.Frequency) error {
				if _, err := a.engine.Run(ctx, freq, false); err != nil {
					return err
				}
				families, err := a.repo.Raw.FamiliesWithRows(ctx)
				if err != nil {
					return err
				}
				if len(families) == 0 {
					return nil
				}
				_, err = a.runner.Run(ctx, pipeline.Options{
					Families:   families,
					BatchLimit: a.cfg.Cleaning.BatchLimit,
				})
				return err
			}

			sched := scheduler.New(scheduler.Slots{
				HourlyMinute:    a.cfg.Schedule.HourlyMinute,
				DailyMinute:     a.cfg.Schedule.DailyMinute,
				MonthlyMinute:   a.cfg.Schedule.MonthlyMinute,
				QuarterlyMinute: a.cfg.Schedule.QuarterlyMinute,
			}, job)

			err = sched.Run(ctx)
			if err == context.Canceled {
				return nil
			}
			return err
		},
	}
}
