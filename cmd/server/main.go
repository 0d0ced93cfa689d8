package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"panelscan/inspection-server/internal/app"
	"panelscan/inspection-server/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("starting inspection server",
		"http_port", cfg.HTTPPort,
		"database", cfg.DatabasePath,
		"scan_feed", cfg.MQTTBrokerURL != "",
		"mdns", cfg.EnableMDNS,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.New(cfg, logger).Run(ctx); err != nil {
		logger.Error("inspection server exited", "error", err)
		os.Exit(1)
	}

	logger.Info("inspection server stopped")
}

// newLogger builds the process logger. PANELSCAN_LOG_LEVEL values outside the
// known set fall back to info.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
