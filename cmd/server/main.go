package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shopbook/ledger/internal/config"
	"github.com/shopbook/ledger/internal/ledger"
	"github.com/shopbook/ledger/internal/notify"
	"github.com/shopbook/ledger/internal/server"
	"github.com/shopbook/ledger/internal/storage"
	"github.com/shopbook/ledger/internal/storage/memory"
	"github.com/shopbook/ledger/internal/storage/sqlite"
	"github.com/shopbook/ledger/pkg/logging"
)

func main() {
	logging.Setup()
	cfg := config.Load()

	var store storage.Store
	if cfg.DBPath != "" {
		s, err := sqlite.New(cfg.DBPath)
		if err != nil {
			slog.Error("failed to initialize storage", "error", err)
			os.Exit(1)
		}
		store = s
		slog.Info("storage initialized", "backend", "sqlite", "database", cfg.DBPath)
	} else {
		store = memory.New()
		slog.Warn("DB_PATH not set, using in-memory storage; nothing survives a restart")
	}
	defer store.Close()

	notifier := notify.New()
	processor := ledger.New(store, notifier, cfg.Ledger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checker := ledger.NewDriftChecker(processor, cfg.DriftInterval)
	go checker.RunForever(ctx)

	if cfg.MetricsAddr != "" {
		go serveOps(cfg.MetricsAddr)
	}

	app := server.New(processor, notifier, cfg)
	go func() {
		slog.Info("API server starting", "port", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	if err := app.Shutdown(); err != nil {
		slog.Error("shutdown failed", "error", err)
	}
}

// serveOps exposes /metrics and /healthz on a separate listener so the
// public API surface stays clean.
func serveOps(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	slog.Info("ops server starting", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("ops server failed", "error", err)
	}
}
