package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/assetdash/internal/devserver"
	"github.com/nhle/assetdash/internal/model"
	"github.com/nhle/assetdash/internal/store"
)

var devserverCmd = &cobra.Command{
	Use:   "devserver",
	Short: "Run a local notification API with a push endpoint",
	Long: `Run a local notification API with a push endpoint.

The server stores notifications in SQLite and pushes every change to
connected clients. Seed records with POST /notifications.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := model.LoadConfig(configPath)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.DevServer.Addr = addr
		}
		if db, _ := cmd.Flags().GetString("db"); db != "" {
			cfg.DevServer.DBPath = db
		}
		seed, _ := cmd.Flags().GetBool("seed")
		return runDevServer(cmd.Context(), cfg.DevServer, seed)
	},
}

var devserverTokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Print a signed token accepted by the devserver",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := model.LoadConfig(configPath)
		if err != nil {
			return err
		}
		if cfg.DevServer.JWTSecret == "" {
			return fmt.Errorf("devserver.jwt_secret is not set")
		}
		ttl, _ := cmd.Flags().GetDuration("ttl")
		tok, err := devserver.IssueToken([]byte(cfg.DevServer.JWTSecret), args[0], ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	devserverCmd.Flags().String("addr", "", "listen address (overrides config)")
	devserverCmd.Flags().String("db", "", "sqlite database path (overrides config)")
	devserverCmd.Flags().Bool("seed", false, "publish sample notifications on start")
	devserverTokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	devserverCmd.AddCommand(devserverTokenCmd)
	rootCmd.AddCommand(devserverCmd)
}

func runDevServer(ctx context.Context, cfg model.DevServerConfig, seed bool) error {
	logger := newLogger(os.Stderr)

	if dir := filepath.Dir(cfg.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating database directory %s: %w", dir, err)
		}
	}
	st, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	opts := []devserver.Option{devserver.WithLogger(logger)}
	if cfg.JWTSecret != "" {
		opts = append(opts, devserver.WithSecret(cfg.JWTSecret))
	}
	srv := devserver.New(st, opts...)

	if seed {
		for _, n := range sampleNotifications(time.Now().UTC()) {
			if _, err := srv.Publish(ctx, n); err != nil {
				return fmt.Errorf("seeding %q: %w", n.Title, err)
			}
		}
	}
	return srv.Run(ctx, cfg.Addr)
}

func sampleNotifications(now time.Time) []model.Notification {
	expires := now.Add(2 * time.Hour)
	return []model.Notification{
		{
			Type:              model.TypeError,
			Priority:          model.PriorityCritical,
			Category:          model.CategoryIntegration,
			Title:             "Telemetry gateway unreachable",
			Message:           "No readings from site gateway GW-04 for 15 minutes.",
			Timestamp:         now.Add(-15 * time.Minute),
			RelatedEntityID:   "GW-04",
			RelatedEntityType: "gateway",
		},
		{
			Type:              model.TypeWarning,
			Priority:          model.PriorityHigh,
			Category:          model.CategoryMaintenance,
			Title:             "Compressor C-12 service overdue",
			Message:           "Scheduled service was due 3 days ago.",
			Timestamp:         now.Add(-2 * time.Hour),
			RelatedEntityID:   "C-12",
			RelatedEntityType: "asset",
		},
		{
			Type:      model.TypeInfo,
			Priority:  model.PriorityMedium,
			Category:  model.CategorySystem,
			Title:     "Maintenance window tonight",
			Message:   "The dashboard will be read-only from 22:00 to 23:00.",
			Timestamp: now.Add(-30 * time.Minute),
			ExpiresAt: &expires,
		},
		{
			Type:      model.TypeSuccess,
			Priority:  model.PriorityLow,
			Category:  model.CategoryTask,
			Title:     "Inspection report approved",
			Message:   "Quarterly inspection for line 3 was signed off.",
			Timestamp: now.Add(-5 * time.Hour),
		},
	}
}
