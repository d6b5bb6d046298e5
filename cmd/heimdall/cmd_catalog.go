package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/heimdall-asis/heimdall/internal/config"
)

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect and seed the data catalog",
	}
	cmd.AddCommand(catalogSeedCmd(), catalogListCmd())
	return cmd
}

func catalogSeedCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Register catalog entries from a YAML seed file",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := config.LoadCatalog(file)
			if err != nil {
				return err
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := a.repo.Catalog.Seed(ctx, entries); err != nil {
				return err
			}
			for _, e := range entries {
				if err := a.repo.Watermarks.EnsureEntry(ctx, e.CatalogKey); err != nil {
					return err
				}
			}
			fmt.Printf("Seeded %d catalog entries from %s\n", len(entries), file)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "config/catalog.yaml", "Seed file path")
	return cmd
}

func catalogListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print every catalog entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			entries, err := a.repo.Catalog.All(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%-40s %-14s %-10s %-10s %s\n", "CATALOG KEY", "FAMILY", "FREQUENCY", "ROLE", "ACTIVE")
			for _, e := range entries {
				fmt.Printf("%-40s %-14s %-10s %-10s %v\n",
					e.CatalogKey, e.SourceFamily, e.UpdateFrequency, e.Role, e.IsActive)
			}
			return nil
		},
	}
}
