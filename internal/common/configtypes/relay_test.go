package configtypes

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgecomet/eventpipe/pkg/types"
)

func validRelayConfig() *RelayConfig {
	return &RelayConfig{
		SDKKey: "sdk-123",
		Events: EventsConfig{
			SendEvents:     true,
			Capacity:       100,
			FlushInterval:  types.Duration(time.Second),
			EventsBaseURI:  "https://events.example.com",
			ConnectTimeout: types.Duration(2 * time.Second),
			ReadTimeout:    types.Duration(10 * time.Second),
		},
		IngestAPI: IngestAPIConfig{Enabled: true, Listen: ":10080"},
		Metrics:   MetricsConfig{Enabled: true, Listen: ":10089", Path: "/metrics"},
	}
}

func TestRelayConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *RelayConfig)
		errContains string
	}{
		{name: "valid", mutate: func(c *RelayConfig) {}},
		{
			name:        "negative capacity",
			mutate:      func(c *RelayConfig) { c.Events.Capacity = -1 },
			errContains: "events.capacity",
		},
		{
			name:        "flush interval too small",
			mutate:      func(c *RelayConfig) { c.Events.FlushInterval = types.Duration(10 * time.Millisecond) },
			errContains: "events.flush_interval",
		},
		{
			name:        "missing base uri",
			mutate:      func(c *RelayConfig) { c.Events.EventsBaseURI = "" },
			errContains: "events_base_uri must be specified",
		},
		{
			name:        "non http base uri",
			mutate:      func(c *RelayConfig) { c.Events.EventsBaseURI = "ftp://events.example.com" },
			errContains: "http or https",
		},
		{
			name:        "base uri without host",
			mutate:      func(c *RelayConfig) { c.Events.EventsBaseURI = "https://" },
			errContains: "must include a host",
		},
		{
			name:   "base uri not needed when offline",
			mutate: func(c *RelayConfig) { c.Events.Offline = true; c.Events.EventsBaseURI = ""; c.SDKKey = "" },
		},
		{
			name:        "unknown compression",
			mutate:      func(c *RelayConfig) { c.Events.Compression = "brotli" },
			errContains: "events.compression",
		},
		{
			name:        "missing sdk key",
			mutate:      func(c *RelayConfig) { c.SDKKey = "" },
			errContains: "sdk_key or sdk_key_env",
		},
		{
			name: "sdk key env unset",
			mutate: func(c *RelayConfig) {
				c.SDKKey = ""
				c.SDKKeyEnv = "EVENTPIPE_TEST_UNSET_KEY"
			},
			errContains: "EVENTPIPE_TEST_UNSET_KEY",
		},
		{
			name:        "archive without path",
			mutate:      func(c *RelayConfig) { c.Events.Archive.Enabled = true },
			errContains: "events.archive.path",
		},
		{
			name:        "ingest without listen",
			mutate:      func(c *RelayConfig) { c.IngestAPI.Listen = "" },
			errContains: "ingest_api.listen",
		},
		{
			name:        "negative max connections",
			mutate:      func(c *RelayConfig) { c.IngestAPI.MaxConnections = -1 },
			errContains: "ingest_api.max_connections",
		},
		{
			name:        "metrics port collides with ingest",
			mutate:      func(c *RelayConfig) { c.Metrics.Listen = "127.0.0.1:10080" },
			errContains: "must differ",
		},
		{
			name:        "bad log level",
			mutate:      func(c *RelayConfig) { c.Logging.Level = "verbose" },
			errContains: "logging.level",
		},
		{
			name: "file logging without path",
			mutate: func(c *RelayConfig) {
				c.Logging.File.Enabled = true
			},
			errContains: "logging.file.path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validRelayConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errContains == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestRelayConfig_ResolveSDKKey(t *testing.T) {
	t.Setenv("EVENTPIPE_TEST_KEY", "from-env")

	cfg := &RelayConfig{SDKKeyEnv: "EVENTPIPE_TEST_KEY"}
	assert.Equal(t, "from-env", cfg.ResolveSDKKey())

	cfg.SDKKey = "inline"
	assert.Equal(t, "inline", cfg.ResolveSDKKey())
}

func TestEventsConfig_Enabled(t *testing.T) {
	assert.True(t, EventsConfig{SendEvents: true}.Enabled())
	assert.False(t, EventsConfig{SendEvents: true, Offline: true}.Enabled())
	assert.False(t, EventsConfig{}.Enabled())
}
