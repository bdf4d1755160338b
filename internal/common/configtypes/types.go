package configtypes

import "fmt"

// Log level constants
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Log format constants
const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
	LogFormatText    = "text"
)

// LogConfig selects the global level and the console/file outputs.
// Per-output levels override Level.
type LogConfig struct {
	Level   string           `yaml:"level"`
	Console ConsoleLogConfig `yaml:"console"`
	File    FileLogConfig    `yaml:"file"`
}

type ConsoleLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Format  string `yaml:"format"`
	Level   string `yaml:"level,omitempty"`
}

type FileLogConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Path     string         `yaml:"path"`
	Format   string         `yaml:"format"`
	Level    string         `yaml:"level,omitempty"`
	Rotation RotationConfig `yaml:"rotation"`
}

// RotationConfig is passed to lumberjack for log files and the dropped-batch archive
type RotationConfig struct {
	MaxSize    int  `yaml:"max_size"`
	MaxAge     int  `yaml:"max_age"`
	MaxBackups int  `yaml:"max_backups"`
	Compress   bool `yaml:"compress"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Listen    string `yaml:"listen"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

func (l *LogConfig) validate(prefix string) error {
	validLogLevels := map[string]bool{
		LogLevelDebug: true,
		LogLevelInfo:  true,
		LogLevelWarn:  true,
		LogLevelError: true,
	}
	if l.Level != "" && !validLogLevels[l.Level] {
		return fmt.Errorf("%s.level must be one of: debug, info, warn, error, got '%s'", prefix, l.Level)
	}

	if l.Console.Enabled && l.Console.Format != "" &&
		l.Console.Format != LogFormatJSON && l.Console.Format != LogFormatConsole {
		return fmt.Errorf("%s.console.format must be 'json' or 'console', got '%s'", prefix, l.Console.Format)
	}

	if l.File.Enabled {
		if l.File.Path == "" {
			return fmt.Errorf("%s.file.path must be specified when file logging is enabled", prefix)
		}
		if l.File.Format != "" && l.File.Format != LogFormatJSON && l.File.Format != LogFormatText {
			return fmt.Errorf("%s.file.format must be 'json' or 'text', got '%s'", prefix, l.File.Format)
		}
		if l.File.Rotation.MaxSize < 0 || l.File.Rotation.MaxAge < 0 || l.File.Rotation.MaxBackups < 0 {
			return fmt.Errorf("%s.file.rotation values must be >= 0", prefix)
		}
	}

	return nil
}
