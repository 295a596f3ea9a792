package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appcfg "github.com/odaibert/apim-token-monitor/pkg/config"
	"github.com/odaibert/apim-token-monitor/pkg/logger"

	"github.com/odaibert/apim-token-monitor/internal/burst"
	"github.com/odaibert/apim-token-monitor/internal/config"
	"github.com/odaibert/apim-token-monitor/internal/httpx"
	"github.com/odaibert/apim-token-monitor/internal/monitor"
	"github.com/odaibert/apim-token-monitor/internal/probe"
	"github.com/odaibert/apim-token-monitor/internal/session"
	"github.com/odaibert/apim-token-monitor/internal/storage"
	"github.com/odaibert/apim-token-monitor/internal/storage/sqlite"
	"github.com/odaibert/apim-token-monitor/internal/ws"
)

func main() {
	cfg := appcfg.LoadAppConfig()
	log := logger.New("apim-token-monitor", logLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	resolver := config.NewResolver(cfg.ConfigFile, log)
	state, err := session.New(resolver)
	if err != nil {
		log.Error("failed to resolve configuration", "error", err)
		os.Exit(1)
	}

	var repo storage.BurstRepository
	if cfg.DatabasePath != "" {
		store, err := sqlite.NewStore(cfg.DatabasePath)
		if err != nil {
			log.Warn("history store unavailable, keeping results in memory", "path", cfg.DatabasePath, "error", err)
		} else {
			repo = store
			defer store.Close()
		}
	}

	hub := ws.NewHub()
	prober := probe.New(log.With("service", "probe"), probe.WithTimeout(cfg.ProbeTimeout))
	runner := burst.NewRunner(prober, hub, repo, log.With("service", "burst"))
	fetcher := monitor.NewFetcher(monitor.NewAzCLITokenProvider(), log.With("service", "monitor"))

	refresher := monitor.NewRefresher(fetcher, state, hub, cfg.MetricsRefresh, cfg.MetricsWindow, log.With("service", "refresher"))
	go refresher.Run(ctx)

	router := httpx.NewRouter(log.With("service", "http"), state, runner, fetcher, repo, hub, cfg.MetricsWindow)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("dashboard listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown", "error", err)
	}
	log.Info("shutdown complete")
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
