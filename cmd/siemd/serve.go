package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/broadcast"
	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/config"
	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/engine"
	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/health"
	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/ingest"
	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/observability"
	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/queue"
	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/server"
	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/storage"
	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/store"
	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/taxonomy"
)

func serveCommand(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Path to configuration file (optional)")
	addr := fs.String("addr", "", "Override server.addr")
	dataDir := fs.String("data", "", "Override store.data_dir")
	webDir := fs.String("web", "", "Override server.web_dir")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dataDir != "" {
		if cfg.Store.Backend == "sqlite" && cfg.Store.DSN == filepath.Join(cfg.Store.DataDir, "siemd.db") {
			cfg.Store.DSN = filepath.Join(*dataDir, "siemd.db")
		}
		cfg.Store.DataDir = *dataDir
	}
	if *webDir != "" {
		cfg.Server.WebDir = *webDir
	}
	setupLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		slog.Info("flushing store")
		if err := st.Close(); err != nil {
			slog.Error("store close failed", "err", err)
		}
	}()

	if c, ok := st.(interface {
		RunCleaner(ctx context.Context, interval time.Duration)
	}); ok && (cfg.Store.Retention > 0 || cfg.Store.MaxRecords > 0) {
		go c.RunCleaner(ctx, cfg.Store.CleanerInterval)
	}

	metrics := observability.NewPromObs()
	hub := broadcast.NewHub(broadcast.Options{Buffer: cfg.Broadcast.Buffer, Observer: metrics})
	hub.Registry().StartCleanupLoop(ctx, cfg.Broadcast.Heartbeat, cfg.Broadcast.StaleTimeout)

	tax := taxonomy.New(cfg.Taxonomy.Threats...)
	svc := ingest.NewService(st, hub, ingest.Options{
		StrictConfidence: cfg.StrictConfidence(),
		StoreTimeout:     cfg.Store.Timeout,
		Taxonomy:         tax,
		Metrics:          metrics,
	})

	collector := health.NewCollector(health.SystemSampler{}, health.Options{
		DiskPath:  cfg.Health.DiskPath,
		CPUSample: cfg.Health.CPUSample,
		Timeout:   cfg.Health.Timeout,
	})

	srv := server.New(server.Deps{
		Store:          st,
		Ingest:         svc,
		Hub:            hub,
		Health:         collector,
		Taxonomy:       tax,
		Metrics:        metrics,
		MetricsHandler: metrics.Handler(),
	}, server.Options{
		WebDir:          cfg.Server.WebDir,
		CORSOrigins:     cfg.Server.CORSOrigins,
		IngestTokenHash: cfg.Server.IngestTokenHash,
		StoreTimeout:    cfg.Store.Timeout,
		Heartbeat:       cfg.Broadcast.Heartbeat,
		WindowSize:      cfg.Views.WindowSize,
		Location:        cfg.Location(),
	})

	if cfg.AMQP.URL != "" {
		consumer := queue.NewConsumer(svc, queue.Options{
			URL:      cfg.AMQP.URL,
			Queue:    cfg.AMQP.Queue,
			Prefetch: cfg.AMQP.Prefetch,
			Metrics:  metrics,
		})
		go consumer.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("siemd listening", "addr", cfg.Server.Addr, "backend", cfg.Store.Backend, "threats", tax.Len())
		errCh <- srv.Start(cfg.Server.Addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	slog.Info("shutting down")

	// end live streams first, Shutdown waits for active requests
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "err", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "sqlite":
		return store.OpenSQLite(ctx, cfg.Store.DSN, store.Options{
			Retention:  cfg.Store.Retention,
			MaxRecords: cfg.Store.MaxRecords,
		})
	case "postgres":
		return store.OpenPostgres(ctx, cfg.Store.DSN, store.Options{
			Retention:  cfg.Store.Retention,
			MaxRecords: cfg.Store.MaxRecords,
		})
	default:
		return storage.OpenEngine(cfg.Store.DataDir, engine.Options{
			MaxTableRows: cfg.Store.MaxTableRows,
			Retention:    cfg.Store.Retention,
			MaxRecords:   cfg.Store.MaxRecords,
		})
	}
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "./siemd.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	fmt.Printf("config %s looks good (backend=%s, addr=%s, %d threat types)\n",
		*cfgPath, cfg.Store.Backend, cfg.Server.Addr, len(cfg.Taxonomy.Threats))
	return nil
}
