package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/assetdash/internal/app"
	"github.com/nhle/assetdash/internal/model"
)

func runPanel(ctx context.Context, cfg *model.AppConfig) error {
	logFile, err := openLogFile()
	if err != nil {
		return err
	}
	defer logFile.Close()
	logger := newLogger(logFile)

	switch cfg.Display.Theme {
	case "dark":
		lipgloss.SetHasDarkBackground(true)
	case "light":
		lipgloss.SetHasDarkBackground(false)
	}

	eng := newEngine(cfg, logger)
	defer eng.Cleanup()

	m, err := app.New(eng)
	if err != nil {
		return err
	}

	go func() {
		if err := eng.Initialize(ctx); err != nil {
			logger.Error("engine start failed", "error", err)
			return
		}
		watchNetwork(ctx, cfg, eng, logger)
	}()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("running panel: %w", err)
	}
	return nil
}
