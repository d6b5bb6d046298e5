package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func activateCmd() *cobra.Command {
	var catalogKey string

	cmd := &cobra.Command{
		Use:   "activate",
		Short: "Probe a dormant catalog entry and activate it on success",
		RunE: func(cmd *cobra.Command, args []string) error {
			if catalogKey == "" {
				return fmt.Errorf("--catalog is required")
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := a.engine.ConfirmActivation(ctx, catalogKey); err != nil {
				return err
			}
			fmt.Printf("Activated %s\n", catalogKey)
			return nil
		},
	}

	cmd.Flags().StringVar(&catalogKey, "catalog", "", "Catalog entry to probe and activate")
	return cmd
}
