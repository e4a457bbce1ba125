package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/larcrm/internal/catalog"
	"github.com/zulandar/larcrm/internal/db"
	"github.com/zulandar/larcrm/internal/openai"
)

func newSyncCmd() *cobra.Command {
	var (
		configPath string
		force      bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one catalog sync in the foreground",
		Long: `Mirrors the listing API into the local catalog: a paginated scan that
upserts every listing, then a detail fetch (with geocoding) for properties
that are incomplete or stale. --force refreshes every active property.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, configPath, force)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Lar config file")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "refresh every active property")
	return cmd
}

func runSync(cmd *cobra.Command, configPath string, force bool) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Listing.BaseURL == "" {
		return fmt.Errorf("listing.base_url is not configured")
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}

	notifier, err := buildNotifier(cfg.Notify)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	worker := newWorker(gormDB, cfg, openai.New(cfg.OpenAI), notifier)
	run, err := worker.Run(ctx, catalog.RunOpts{Force: force})
	if errors.Is(err, catalog.ErrLocked) {
		return fmt.Errorf("another sync is already running: %w", err)
	}
	if run != nil {
		elapsed := "-"
		if run.FinishedAt != nil {
			elapsed = run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(out, "Sync #%d %s in %s\n", run.ID, run.Status, elapsed)
		fmt.Fprintf(out, "  listed:   %d\n", run.Listed)
		fmt.Fprintf(out, "  updated:  %d\n", run.Updated)
		fmt.Fprintf(out, "  failed:   %d\n", run.Failed)
		fmt.Fprintf(out, "  geocoded: %d/%d\n", run.GeocodeOK, run.GeocodeOK+run.GeocodeFailed)
	}
	return err
}
