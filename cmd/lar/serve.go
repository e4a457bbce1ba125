package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/larcrm/internal/catalog"
	"github.com/zulandar/larcrm/internal/config"
	"github.com/zulandar/larcrm/internal/db"
	"github.com/zulandar/larcrm/internal/geocode"
	"github.com/zulandar/larcrm/internal/intake"
	"github.com/zulandar/larcrm/internal/listing"
	"github.com/zulandar/larcrm/internal/notify"
	"github.com/zulandar/larcrm/internal/notify/discord"
	"github.com/zulandar/larcrm/internal/notify/slack"
	"github.com/zulandar/larcrm/internal/openai"
	"github.com/zulandar/larcrm/internal/server"
	"github.com/zulandar/larcrm/internal/twilio"
	"gorm.io/gorm"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook, admin and catalog HTTP server",
		Long: `Starts the HTTP server that receives WhatsApp webhooks and serves the admin
and public APIs. When sync.schedule is set, catalog syncs also run on that
cron schedule. Stops gracefully on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Lar config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP port (overrides server.port)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	if port > 0 {
		cfg.Server.Port = port
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	notifier, err := buildNotifier(cfg.Notify)
	if err != nil {
		return err
	}

	messenger := twilio.New(cfg.Twilio)
	if !messenger.Enabled() {
		log.Printf("serve: twilio account not configured; replies will fail to send")
	}
	ai := openai.New(cfg.OpenAI)
	if !ai.Enabled() {
		log.Printf("serve: openai api key not configured; assistant replies will use the fallback message")
	}

	svc, err := intake.NewService(intake.ServiceOpts{
		DB:        gormDB,
		Messenger: messenger,
		Assistant: ai,
		Notifier:  notifier,
		AppName:   cfg.AppName,
		AdminURL:  cfg.Notify.AdminURL,
	})
	if err != nil {
		return err
	}

	opts := server.Opts{
		DB:      gormDB,
		Port:    cfg.Server.Port,
		Debug:   cfg.Server.Debug,
		AppName: cfg.AppName,
		Version: Version,
		Intake:  svc,
		Sender:  messenger,
		Out:     out,
	}

	if cfg.Listing.BaseURL != "" {
		worker := newWorker(gormDB, cfg, ai, notifier)
		opts.Sync = worker
		if cfg.Sync.Schedule != "" {
			if _, err := catalog.Schedule(ctx, cfg.Sync.Schedule, worker); err != nil {
				return err
			}
			fmt.Fprintf(out, "Catalog sync scheduled: %s\n", cfg.Sync.Schedule)
		}
	} else {
		log.Printf("serve: listing.base_url not set; catalog sync disabled")
	}

	return server.Start(ctx, opts)
}

// newWorker builds the catalog sync worker. Descriptions are rewritten by
// the assistant only when enabled in config and an API key is present.
func newWorker(gormDB *gorm.DB, cfg *config.Config, ai *openai.Client, notifier notify.Notifier) *catalog.Worker {
	var describer catalog.Describer
	if cfg.OpenAI.RewriteDescriptions && ai.Enabled() {
		describer = ai
	}
	w := catalog.NewWorker(gormDB, listing.New(cfg.Listing), geocode.New(cfg.Geocode), describer, cfg.Sync, cfg.Listing.MaxPages)
	w.SetNotifier(notifier)
	return w
}

// buildNotifier fans events out to the log plus every configured chat
// channel.
func buildNotifier(cfg config.NotifyConfig) (notify.Notifier, error) {
	multi := notify.Multi{notify.Log{}}
	if cfg.Slack.Enabled() {
		n, err := slack.New(slack.Opts{
			BotToken:  cfg.Slack.BotToken,
			ChannelID: cfg.Slack.ChannelID,
			Mention:   cfg.Slack.Mention,
		})
		if err != nil {
			return nil, err
		}
		multi = append(multi, n)
	}
	if cfg.Discord.Enabled() {
		n, err := discord.New(discord.Opts{
			BotToken:      cfg.Discord.BotToken,
			ChannelID:     cfg.Discord.ChannelID,
			MentionRoleID: cfg.Discord.Mention,
		})
		if err != nil {
			return nil, err
		}
		multi = append(multi, n)
	}
	return multi, nil
}
