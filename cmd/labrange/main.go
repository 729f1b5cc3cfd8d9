package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/d-hoffmann/labrange/internal/api"
	"github.com/d-hoffmann/labrange/internal/catalog"
	"github.com/d-hoffmann/labrange/internal/compose"
	"github.com/d-hoffmann/labrange/internal/config"
	"github.com/d-hoffmann/labrange/internal/docker"
	"github.com/d-hoffmann/labrange/internal/instance"
	"github.com/d-hoffmann/labrange/internal/reaper"
	"github.com/d-hoffmann/labrange/internal/store"
)

func main() {
	cfgPath := flag.String("config", "", "path to labrange.yaml")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	if cfg.APIKey == "" {
		logger.Warn("no API key configured — running in open access mode")
	}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		logger.Error("load lab catalog", "error", err)
		os.Exit(1)
	}
	logger.Info("lab catalog loaded", "labs", len(cat.List()))

	st, err := store.New(cfg.DBPath)
	if err != nil {
		logger.Error("open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dc, err := docker.New(ctx)
	if err != nil {
		logger.Error("docker connection failed — is Docker running?", "error", err)
		os.Exit(1)
	}
	defer dc.Close()
	logger.Info("docker connection OK")

	stacks := compose.NewManager(logger)

	mgr := instance.NewManager(cfg, st, dc, stacks, cat, logger)

	rpr := reaper.New(mgr, cfg.ReaperInterval(), logger)
	go rpr.Run(ctx)

	srv := api.NewServer(cfg, mgr, logger)

	httpServer := &http.Server{
		Addr:        cfg.Listen,
		Handler:     srv.Handler(),
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: terminal websockets stay open for the whole
		// lab session.
		IdleTimeout: 60 * time.Second,
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		<-sigCh
		logger.Info("shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "addr", cfg.Listen)
	fmt.Fprintf(os.Stderr, "\n  labrange daemon ready at http://%s\n\n", cfg.Listen)

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
