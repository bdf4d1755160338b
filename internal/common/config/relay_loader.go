package config

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/eventpipe/internal/common/configtypes"
	"github.com/edgecomet/eventpipe/internal/common/yamlutil"
	"github.com/edgecomet/eventpipe/pkg/types"
)

// Defaults applied after validation
const (
	DefaultCapacity       = 10000
	DefaultFlushInterval  = 10 * time.Second
	DefaultConnectTimeout = 2 * time.Second
	DefaultReadTimeout    = 10 * time.Second
	DefaultUserAgentName  = "EventPipeGo"

	DefaultIngestRequestTimeout = 10 * time.Second
	DefaultIngestMaxBodySize    = 1 << 20

	DefaultMetricsPath      = "/metrics"
	DefaultMetricsNamespace = "eventpipe"

	DefaultArchiveMaxSize    = 100 // MB
	DefaultArchiveMaxAge     = 30  // days
	DefaultArchiveMaxBackups = 10
)

// ApplyRelayDefaults fills unset optional fields of the relay configuration.
func ApplyRelayDefaults(cfg *configtypes.RelayConfig) {
	ev := &cfg.Events
	if ev.Capacity == 0 {
		ev.Capacity = DefaultCapacity
	}
	if ev.FlushInterval == 0 {
		ev.FlushInterval = types.Duration(DefaultFlushInterval)
	}
	if ev.ConnectTimeout == 0 {
		ev.ConnectTimeout = types.Duration(DefaultConnectTimeout)
	}
	if ev.ReadTimeout == 0 {
		ev.ReadTimeout = types.Duration(DefaultReadTimeout)
	}
	if ev.Compression == "" {
		ev.Compression = configtypes.CompressionNone
	}
	if ev.UserAgentName == "" {
		ev.UserAgentName = DefaultUserAgentName
	}
	if ev.Archive.Rotation.MaxSize == 0 {
		ev.Archive.Rotation.MaxSize = DefaultArchiveMaxSize
	}
	if ev.Archive.Rotation.MaxAge == 0 {
		ev.Archive.Rotation.MaxAge = DefaultArchiveMaxAge
	}
	if ev.Archive.Rotation.MaxBackups == 0 {
		ev.Archive.Rotation.MaxBackups = DefaultArchiveMaxBackups
	}

	if cfg.IngestAPI.RequestTimeout == 0 {
		cfg.IngestAPI.RequestTimeout = types.Duration(DefaultIngestRequestTimeout)
	}
	if cfg.IngestAPI.MaxBodySize == 0 {
		cfg.IngestAPI.MaxBodySize = DefaultIngestMaxBodySize
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}

	// If both outputs are disabled (zero values), enable console by default
	if !cfg.Logging.Console.Enabled && !cfg.Logging.File.Enabled {
		cfg.Logging.Console.Enabled = true
	}
	if cfg.Logging.Console.Format == "" {
		cfg.Logging.Console.Format = configtypes.LogFormatConsole
	}
	if cfg.Logging.File.Format == "" {
		cfg.Logging.File.Format = configtypes.LogFormatText
	}
}

// LoadRelayConfig loads event-relay configuration from a YAML file
func LoadRelayConfig(path string, logger *zap.Logger) (*configtypes.RelayConfig, error) {
	logger.Info("Loading event-relay configuration", zap.String("path", path))

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", path)
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	var cfg configtypes.RelayConfig
	if err := yamlutil.DecodeStrict(f, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	ApplyRelayDefaults(&cfg)

	logger.Info("Event-relay configuration loaded successfully",
		zap.Bool("send_events", cfg.Events.SendEvents),
		zap.Bool("offline", cfg.Events.Offline),
		zap.Int("capacity", cfg.Events.Capacity),
		zap.Duration("flush_interval", cfg.Events.FlushInterval.ToDuration()),
		zap.String("events_base_uri", cfg.Events.EventsBaseURI))

	return &cfg, nil
}
