package configtypes

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/edgecomet/eventpipe/pkg/types"
)

// Compression constants for the events payload
const (
	CompressionNone = "none"
	CompressionGzip = "gzip"
)

// RelayConfig is the root configuration for the event-relay daemon
type RelayConfig struct {
	SDKKey    string          `yaml:"sdk_key"`     // Credential sent as the Authorization header
	SDKKeyEnv string          `yaml:"sdk_key_env"` // Environment variable holding the SDK key (used when sdk_key is empty)
	Events    EventsConfig    `yaml:"events"`
	IngestAPI IngestAPIConfig `yaml:"ingest_api"`
	Logging   LogConfig       `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// EventsConfig controls queueing and delivery of analytics events
type EventsConfig struct {
	SendEvents     bool           `yaml:"send_events"`     // Master switch for delivery
	Offline        bool           `yaml:"offline"`         // Offline mode: accept nothing, send nothing
	Capacity       int            `yaml:"capacity"`        // Max queued events before new ones are dropped (e.g., 10000)
	FlushInterval  types.Duration `yaml:"flush_interval"`  // Time between flushes (min 100ms, e.g., 10s)
	EventsBaseURI  string         `yaml:"events_base_uri"` // Collector base URI, batches go to <uri>/bulk
	ConnectTimeout types.Duration `yaml:"connect_timeout"` // TCP/TLS connect timeout (e.g., 2s)
	ReadTimeout    types.Duration `yaml:"read_timeout"`    // Wait for response headers and body (e.g., 10s)
	Compression    string         `yaml:"compression"`     // CompressionNone | CompressionGzip
	UserAgentName  string         `yaml:"user_agent_name"` // Client name in the User-Agent header
	Archive        ArchiveConfig  `yaml:"archive"`         // Local copy of dropped batches
}

// Enabled reports whether events should be accepted and delivered at all.
func (e EventsConfig) Enabled() bool {
	return e.SendEvents && !e.Offline
}

// ArchiveConfig configures the NDJSON archive of dropped batches
type ArchiveConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Path     string         `yaml:"path"`
	Rotation RotationConfig `yaml:"rotation"`
}

// IngestAPIConfig configures the local HTTP endpoint that accepts events
type IngestAPIConfig struct {
	Enabled        bool           `yaml:"enabled"`
	Listen         string         `yaml:"listen"`          // Listen address (e.g., ":10080")
	RequestTimeout types.Duration `yaml:"request_timeout"` // Read/write timeout for API requests
	MaxBodySize    int            `yaml:"max_body_size"`   // Max request body in bytes
	MaxConnections int            `yaml:"max_connections"` // Concurrent connection cap, 0 = unlimited
}

// ResolveSDKKey returns sdk_key, or the value of the variable named by sdk_key_env.
func (c *RelayConfig) ResolveSDKKey() string {
	if c.SDKKey != "" {
		return c.SDKKey
	}
	if c.SDKKeyEnv != "" {
		return os.Getenv(c.SDKKeyEnv)
	}
	return ""
}

// Validate validates relay configuration. Defaults are applied by the loader
// afterwards, so zero values for optional fields are accepted here.
func (c *RelayConfig) Validate() error {
	if c == nil {
		return nil
	}

	if err := c.Events.validate(); err != nil {
		return err
	}

	if c.Events.Enabled() && c.ResolveSDKKey() == "" {
		if c.SDKKeyEnv != "" {
			return fmt.Errorf("sdk_key_env %s is empty or unset", c.SDKKeyEnv)
		}
		return fmt.Errorf("sdk_key or sdk_key_env must be specified when events.send_events is true")
	}

	var ingestPort int
	if c.IngestAPI.Enabled {
		if c.IngestAPI.Listen == "" {
			return fmt.Errorf("ingest_api.listen must be specified when enabled")
		}
		port, err := ListenPort(c.IngestAPI.Listen)
		if err != nil {
			return fmt.Errorf("invalid ingest_api.listen: %w", err)
		}
		ingestPort = port

		if time.Duration(c.IngestAPI.RequestTimeout) < 0 {
			return fmt.Errorf("ingest_api.request_timeout must be >= 0, got %v", c.IngestAPI.RequestTimeout)
		}
		if c.IngestAPI.MaxBodySize < 0 {
			return fmt.Errorf("ingest_api.max_body_size must be >= 0, got %d", c.IngestAPI.MaxBodySize)
		}
		if c.IngestAPI.MaxConnections < 0 {
			return fmt.Errorf("ingest_api.max_connections must be >= 0, got %d", c.IngestAPI.MaxConnections)
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Listen == "" {
			return fmt.Errorf("metrics.listen must be specified when enabled")
		}
		port, err := ListenPort(c.Metrics.Listen)
		if err != nil {
			return fmt.Errorf("invalid metrics.listen: %w", err)
		}
		if c.IngestAPI.Enabled && port == ingestPort {
			return fmt.Errorf("metrics.listen port (%d) must differ from ingest_api.listen port (%d) when both enabled", port, ingestPort)
		}
	}

	return c.Logging.validate("logging")
}

func (e *EventsConfig) validate() error {
	if e.Capacity < 0 {
		return fmt.Errorf("events.capacity must be > 0, got %d", e.Capacity)
	}

	interval := time.Duration(e.FlushInterval)
	if interval != 0 && interval < 100*time.Millisecond {
		return fmt.Errorf("events.flush_interval must be >= 100ms, got %v", interval)
	}
	if time.Duration(e.ConnectTimeout) < 0 {
		return fmt.Errorf("events.connect_timeout must be > 0, got %v", e.ConnectTimeout)
	}
	if time.Duration(e.ReadTimeout) < 0 {
		return fmt.Errorf("events.read_timeout must be > 0, got %v", e.ReadTimeout)
	}

	switch e.Compression {
	case "", CompressionNone, CompressionGzip:
	default:
		return fmt.Errorf("events.compression must be 'none' or 'gzip', got '%s'", e.Compression)
	}

	if e.Enabled() {
		if e.EventsBaseURI == "" {
			return fmt.Errorf("events.events_base_uri must be specified when send_events is true")
		}
		u, err := url.Parse(e.EventsBaseURI)
		if err != nil {
			return fmt.Errorf("invalid events.events_base_uri: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("events.events_base_uri must use http or https, got '%s'", e.EventsBaseURI)
		}
		if u.Host == "" {
			return fmt.Errorf("events.events_base_uri must include a host, got '%s'", e.EventsBaseURI)
		}
	}

	if e.Archive.Enabled && e.Archive.Path == "" {
		return fmt.Errorf("events.archive.path must be specified when archive is enabled")
	}

	return nil
}
