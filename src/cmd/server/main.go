package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"prometeo/src/internal/api"
	"prometeo/src/internal/config"
	"prometeo/src/internal/gateway"
	"prometeo/src/internal/store"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "", "path to config file to load first")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	cfg, err := config.Load(configFile)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	registry, err := store.NewRegistry(cfg.StorageDir, cfg.Tenants)
	if err != nil {
		slog.Error("failed to initialize tenant registry", "error", err)
		os.Exit(1)
	}
	defer registry.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := api.NewHub()
	gw := gateway.New(cfg, registry, hub)
	server := api.NewServer(gw, hub)

	// In-process clock. External callers can still POST /tick; overlapping
	// firings are safe because due tasks are claimed by CAS on next_run.
	if cfg.Scheduler.TickEnabled {
		ticker := cron.New()
		_, err := ticker.AddFunc(cfg.Scheduler.TickSpec, func() {
			if _, err := gw.Tick(ctx, ""); err != nil {
				slog.Error("tick failed", "error", err)
			}
		})
		if err != nil {
			slog.Error("invalid scheduler.tick_spec", "spec", cfg.Scheduler.TickSpec, "error", err)
			os.Exit(1)
		}
		ticker.Start()
		defer ticker.Stop()
		slog.Info("scheduler tick enabled", "spec", cfg.Scheduler.TickSpec)
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	slog.Info("starting task engine", "addr", cfg.Server.Addr, "tenants", len(cfg.Tenants))
	if err := server.ListenAndServe(ctx, cfg.Server.Addr); err != nil {
		slog.Error("server ListenAndServe failed", "error", err)
		os.Exit(1)
	}
}
