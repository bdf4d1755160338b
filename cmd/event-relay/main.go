package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/eventpipe/internal/archive"
	"github.com/edgecomet/eventpipe/internal/common/config"
	"github.com/edgecomet/eventpipe/internal/common/logger"
	"github.com/edgecomet/eventpipe/internal/common/metricsserver"
	"github.com/edgecomet/eventpipe/internal/common/version"
	"github.com/edgecomet/eventpipe/internal/delivery"
	"github.com/edgecomet/eventpipe/internal/ingest"
	"github.com/edgecomet/eventpipe/internal/metrics"
	"github.com/edgecomet/eventpipe/internal/processor"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("c", "configs/example/event-relay.yaml", "path to event-relay configuration file")
	flag.Parse()

	initialLogger, err := logger.NewDefaultLogger()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	initialLogger.Info("Starting Event Relay",
		zap.String("version", version.Version),
		zap.String("config_path", *configPath))

	relayConfig, err := config.LoadRelayConfig(*configPath, initialLogger.Logger)
	if err != nil {
		initialLogger.Fatal("Failed to load event-relay config", zap.Error(err))
	}

	// INFO during startup even if a higher level is configured
	dynamicLogger, err := logger.NewLoggerWithStartupOverride(relayConfig.Logging)
	if err != nil {
		initialLogger.Fatal("Failed to create configured logger", zap.Error(err))
	}
	defer dynamicLogger.Sync()

	zapLogger := dynamicLogger.Logger
	eventsConfig := relayConfig.Events
	sdkKey := relayConfig.ResolveSDKKey()

	collector := metrics.NewMetricsCollector(relayConfig.Metrics.Namespace, zapLogger)
	metricsServer, err := metricsserver.Start(relayConfig.Metrics, collector, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to start metrics server", zap.Error(err))
	}

	opts := processor.Options{
		Config:   eventsConfig,
		Recorder: collector,
		Logger:   zapLogger,
	}

	if eventsConfig.Enabled() {
		client, err := delivery.NewClient(delivery.OptionsFromConfig(eventsConfig, sdkKey), zapLogger)
		if err != nil {
			zapLogger.Fatal("Failed to create delivery client", zap.Error(err))
		}
		opts.Deliverer = client

		zapLogger.Info("Event delivery configured",
			zap.String("bulk_url", client.BulkURL()),
			zap.String("sdk_key_fingerprint", delivery.Fingerprint(sdkKey)),
			zap.Int("capacity", eventsConfig.Capacity),
			zap.Duration("flush_interval", eventsConfig.FlushInterval.ToDuration()))
	}

	var fileArchive *archive.FileArchive
	if eventsConfig.Archive.Enabled {
		fileArchive, err = archive.NewFileArchive(eventsConfig.Archive, zapLogger)
		if err != nil {
			zapLogger.Fatal("Failed to open dropped-batch archive", zap.Error(err))
		}
		defer fileArchive.Close()
		opts.Archiver = fileArchive
	}

	proc, err := processor.New(opts)
	if err != nil {
		zapLogger.Fatal("Failed to create event processor", zap.Error(err))
	}
	proc.Start()

	ingestServer, err := ingest.Start(relayConfig.IngestAPI, ingest.NewAPI(proc, zapLogger), zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to start ingest API", zap.Error(err))
	}
	if ingestServer == nil {
		zapLogger.Warn("Ingest API is disabled in configuration")
	}

	zapLogger.Info("Event relay started",
		zap.Bool("send_events", eventsConfig.SendEvents),
		zap.Bool("offline", eventsConfig.Offline))

	dynamicLogger.SwitchToConfiguredLevel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	dynamicLogger.EnsureInfoLevelForShutdown()
	zapLogger.Info("Shutting down Event Relay...")

	// Stop intake first so nothing is added after the processor stops
	if ingestServer != nil {
		if err := ingestServer.Shutdown(shutdownTimeout); err != nil {
			zapLogger.Error("Failed to shutdown ingest API gracefully", zap.Error(err))
		}
	}

	proc.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := proc.Wait(shutdownCtx); err != nil {
		zapLogger.Error("Event flush worker did not exit in time", zap.Error(err))
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownTimeout); err != nil {
			zapLogger.Error("Failed to shutdown metrics server gracefully", zap.Error(err))
		}
	}

	zapLogger.Info("Event relay stopped")
}
