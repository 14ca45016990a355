package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nhle/assetdash/internal/api"
	"github.com/nhle/assetdash/internal/credential"
	"github.com/nhle/assetdash/internal/model"
	"github.com/nhle/assetdash/internal/netwatch"
	"github.com/nhle/assetdash/internal/push"
	engine "github.com/nhle/assetdash/internal/sync"
)

func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openLogFile returns a writer for logs while the panel owns the terminal.
func openLogFile() (*os.File, error) {
	dir := model.DefaultDataDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, "assetdash.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", path, err)
	}
	return f, nil
}

// newEngine wires the API client, the push dialer and the credential
// store into an engine.
func newEngine(cfg *model.AppConfig, logger *slog.Logger) *engine.Engine {
	tokens := credential.NewStore().TokenSource()
	client := api.NewClient(cfg.API.BaseURL, tokens,
		api.WithTimeout(time.Duration(cfg.API.RequestTimeoutSec)*time.Second),
		api.WithRetry(2, 500*time.Millisecond, 5*time.Second),
	)

	opts := []engine.Option{engine.WithLogger(logger)}
	if cfg.Push.Enabled {
		opts = append(opts, engine.WithDialer(&push.WebSocketDialer{Token: tokens}))
	}
	return engine.New(engine.ConfigFromApp(cfg), client, opts...)
}

// watchNetwork probes the API host and reports transitions to eng until
// ctx ends. It must start after Initialize so the first result is not
// discarded.
func watchNetwork(ctx context.Context, cfg *model.AppConfig, eng *engine.Engine, logger *slog.Logger) {
	if cfg.Network.ProbeIntervalSec <= 0 {
		return
	}
	addr, err := netwatch.HostPort(cfg.API.BaseURL)
	if err != nil {
		logger.Warn("connectivity probing disabled", "error", err)
		return
	}
	interval := time.Duration(cfg.Network.ProbeIntervalSec) * time.Second
	mon := netwatch.NewMonitor(netwatch.TCPProbe(addr, interval/2), interval, eng.SetOnline, logger)
	go mon.Run(ctx)
}
