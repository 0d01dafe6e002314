// policyrag-tier runs one tier of the pyramid as a standalone HTTP
// service speaking the inter-tier protocol: POST /ingest, POST /query,
// GET /health, GET /stats, GET /metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"policyrag/internal/app"
	"policyrag/internal/config"
	"policyrag/internal/domain"
	"policyrag/internal/logging"
	"policyrag/internal/metrics"
	"policyrag/internal/server"
)

func main() {
	_ = godotenv.Load()

	cfgPath := flag.String("config", "config.yaml", "Path to config YAML")
	levelName := flag.String("level", "detail", "Tier to serve (detail, summary, digest)")
	addr := flag.String("addr", "", "Listen address (defaults to the tier's configured address)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	level, err := domain.ParseLevel(*levelName)
	if err != nil {
		log.Fatalf("invalid level: %v", err)
	}
	if *addr == "" {
		*addr = cfg.Tiers[level.String()].Addr
	}

	clients, err := app.BuildClients(cfg, nil)
	if err != nil {
		log.Fatalf("failed to build model clients: %v", err)
	}
	t, err := app.BuildTier(cfg, level, clients, nil)
	if err != nil {
		log.Fatalf("failed to build tier: %v", err)
	}
	vectors, err := t.Load()
	if err != nil {
		log.Fatalf("failed to load tier index: %v", err)
	}
	slog.Info("tier loaded", "tier", level.String(), "vectors", vectors)

	m := metrics.New(level.String())
	m.VectorsIndexed.Set(float64(vectors))
	srv := server.New(t, filepath.Join(cfg.TierDir(level.String()), "docs"), m, nil)

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("tier service listening", "tier", level.String(), "addr", *addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	slog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown failed", "error", err)
	}
}
