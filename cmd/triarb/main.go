// Command triarb launches the arbitrage engine entrypoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coachpo/triarb/internal/book"
	"github.com/coachpo/triarb/internal/config"
	"github.com/coachpo/triarb/internal/engine"
	"github.com/coachpo/triarb/internal/persistence"
	"github.com/coachpo/triarb/internal/persistence/postgres"
	"github.com/coachpo/triarb/internal/telemetry"
)

const (
	defaultConfigPath       = "config/triarb.yaml"
	loggerPrefix            = "triarb "
	shutdownTimeout         = 30 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
)

func main() {
	cfgPathFlag := parseFlags()
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(os.Stdout, loggerPrefix, log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(cfgPathFlag)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	logger.Printf("configuration loaded: env=%s venue=%s pairs=%d", cfg.Environment, cfg.VenueURL, len(cfg.Pairs))

	telemetryCfg := telemetry.DefaultConfig()
	if cfg.Telemetry.OTLPEndpoint != "" {
		telemetryCfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	}
	if cfg.Telemetry.ServiceName != "" {
		telemetryCfg.ServiceName = cfg.Telemetry.ServiceName
	}
	telemetryCfg.Environment = cfg.Environment
	telemetryCfg.OTLPInsecure = cfg.Telemetry.OTLPInsecure
	telemetryCfg.EnableMetrics = cfg.Telemetry.EnableMetrics

	telemetryProvider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}
	metrics := telemetry.NewMetrics(telemetryProvider.Meter("triarb"))

	var bookSink book.Sink
	var recorder engine.ChainOutcomeRecorder
	if cfg.Persistence.PostgresDSN != "" {
		pool, err := persistence.Connect(ctx, cfg.Persistence.PostgresDSN, logger)
		if err != nil {
			logger.Fatalf("connect persistence: %v", err)
		}
		defer pool.Close()
		sink := postgres.New(pool)
		bookSink = sink
		recorder = sink
		logger.Print("persistence enabled: postgres sink wired")
	} else {
		logger.Print("persistence disabled: no postgresDsn configured")
	}

	eng, err := engine.New(cfg, bookSink, logger, metrics, recorder)
	if err != nil {
		logger.Fatalf("build engine: %v", err)
	}

	eng.Start(ctx)
	startSnapshotLoop(ctx, eng, cfg.Persistence.SnapshotInterval, logger)

	logger.Print("engine started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	eng.Stop(shutdownCtx)

	telemetryCtx, telemetryCancel := context.WithTimeout(shutdownCtx, telemetryShutdownTimeout)
	defer telemetryCancel()
	if err := telemetryProvider.Shutdown(telemetryCtx); err != nil {
		logger.Printf("shutdown telemetry: %v", err)
	}

	logger.Print("shutdown complete")
}

func parseFlags() string {
	cfgPath := flag.String("config", "", fmt.Sprintf("path to configuration file (default: %s)", defaultConfigPath))
	flag.Parse()
	return *cfgPath
}

func startSnapshotLoop(ctx context.Context, eng *engine.Engine, interval time.Duration, logger *log.Logger) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := eng.Books().Persist(ctx); err != nil {
					logger.Printf("persist book snapshots: %v", err)
				}
			}
		}
	}()
}
