package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/edgecomet/eventpipe/internal/common/configtypes"
)

// DynamicLogger wraps zap.Logger with per-output levels that can be changed at runtime
type DynamicLogger struct {
	*zap.Logger
	levels     []outputLevel
	configured configtypes.LogConfig
}

type outputLevel struct {
	atomic     zap.AtomicLevel
	configured zapcore.Level
}

// NewLogger builds a logger with a console core, a rotated file core, or both.
func NewLogger(config configtypes.LogConfig) (*DynamicLogger, error) {
	global := parseLogLevel(config.Level)
	dl := &DynamicLogger{configured: config}

	var cores []zapcore.Core

	if config.Console.Enabled {
		level := dl.addLevel(resolveLogLevel(config.Console.Level, global))
		cores = append(cores, zapcore.NewCore(
			createEncoder(config.Console.Format),
			zapcore.Lock(os.Stdout),
			level,
		))
	}

	if config.File.Enabled {
		if config.File.Path == "" {
			return nil, fmt.Errorf("file.path must be specified when file logging is enabled")
		}
		level := dl.addLevel(resolveLogLevel(config.File.Level, global))
		cores = append(cores, zapcore.NewCore(
			createEncoder(config.File.Format),
			zapcore.AddSync(NewRotatingWriter(config.File.Path, config.File.Rotation)),
			level,
		))
	}

	if len(cores) == 0 {
		return nil, fmt.Errorf("at least one log output (console or file) must be enabled")
	}

	dl.Logger = zap.New(zapcore.NewTee(cores...))
	return dl, nil
}

// NewLoggerWithStartupOverride creates a logger that logs at INFO or lower until
// SwitchToConfiguredLevel is called, so startup messages are visible even when
// the configured level is warn or error.
func NewLoggerWithStartupOverride(config configtypes.LogConfig) (*DynamicLogger, error) {
	dl, err := NewLogger(config)
	if err != nil {
		return nil, err
	}
	dl.capAt(zap.InfoLevel)
	return dl, nil
}

// SwitchToConfiguredLevel restores every output to its configured level
func (dl *DynamicLogger) SwitchToConfiguredLevel() {
	dl.Info("Switching logger to configured level", zap.String("level", dl.configured.Level))
	for i := range dl.levels {
		dl.levels[i].atomic.SetLevel(dl.levels[i].configured)
	}
}

// EnsureInfoLevelForShutdown lowers outputs above INFO so the shutdown sequence is logged
func (dl *DynamicLogger) EnsureInfoLevelForShutdown() {
	if dl.capAt(zap.InfoLevel) {
		dl.Info("Switched to INFO level for shutdown visibility")
	}
}

func (dl *DynamicLogger) addLevel(level zapcore.Level) zap.AtomicLevel {
	atomic := zap.NewAtomicLevelAt(level)
	dl.levels = append(dl.levels, outputLevel{atomic: atomic, configured: level})
	return atomic
}

func (dl *DynamicLogger) capAt(max zapcore.Level) bool {
	changed := false
	for i := range dl.levels {
		if dl.levels[i].atomic.Level() > max {
			dl.levels[i].atomic.SetLevel(max)
			changed = true
		}
	}
	return changed
}

// NewRotatingWriter returns a lumberjack writer for path. Zero rotation values
// keep lumberjack's own defaults.
func NewRotatingWriter(path string, rotation configtypes.RotationConfig) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    rotation.MaxSize,
		MaxAge:     rotation.MaxAge,
		MaxBackups: rotation.MaxBackups,
		Compress:   rotation.Compress,
	}
}

// NewDefaultLogger creates a console logger for use before configuration is loaded
func NewDefaultLogger() (*DynamicLogger, error) {
	return NewLogger(configtypes.LogConfig{
		Level: configtypes.LogLevelDebug,
		Console: configtypes.ConsoleLogConfig{
			Enabled: true,
			Format:  configtypes.LogFormatConsole,
		},
	})
}

func parseLogLevel(level string) zapcore.Level {
	switch level {
	case configtypes.LogLevelDebug:
		return zap.DebugLevel
	case configtypes.LogLevelWarn:
		return zap.WarnLevel
	case configtypes.LogLevelError:
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

func resolveLogLevel(outputLevel string, globalLevel zapcore.Level) zapcore.Level {
	if outputLevel != "" {
		return parseLogLevel(outputLevel)
	}
	return globalLevel
}

func createEncoder(format string) zapcore.Encoder {
	if format == configtypes.LogFormatJSON {
		return zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	if format == configtypes.LogFormatText {
		// no color codes in files
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return zapcore.NewConsoleEncoder(encoderConfig)
}
