package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nhle/assetdash/internal/events"
	"github.com/nhle/assetdash/internal/model"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Log notification events without the panel",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := model.LoadConfig(configPath)
		if err != nil {
			return err
		}
		return runWatch(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(ctx context.Context, cfg *model.AppConfig) error {
	logger := newLogger(os.Stderr)
	eng := newEngine(cfg, logger)
	defer eng.Cleanup()

	for _, kind := range events.Kinds {
		if _, err := eng.AddEventListener(kind, func(ev events.Event) {
			attrs := []any{
				"kind", ev.Kind,
				"source", ev.Source,
				"unread", ev.UnreadCount,
			}
			if ev.Kind == events.KindBulkRead {
				attrs = append(attrs, "ids", len(ev.IDs))
			} else {
				attrs = append(attrs,
					"id", ev.Record.ID,
					"status", ev.Record.Status,
					"priority", ev.Record.Priority,
					"title", ev.Record.Title,
				)
			}
			logger.Info("notification event", attrs...)
		}); err != nil {
			return fmt.Errorf("subscribing to %s events: %w", kind, err)
		}
	}

	if err := eng.Initialize(ctx); err != nil {
		return err
	}
	watchNetwork(ctx, cfg, eng, logger)

	<-ctx.Done()
	logger.Info("shutting down", "unread", eng.UnreadCount())
	return nil
}
