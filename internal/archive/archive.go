package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/edgecomet/eventpipe/internal/common/configtypes"
	"github.com/edgecomet/eventpipe/internal/events"
)

// Record is one archived line: the dropped event plus why it was dropped
type Record struct {
	ArchivedAt int64         `json:"archived_at"`
	Reason     string        `json:"reason"`
	StatusCode int           `json:"status_code,omitempty"`
	Event      *events.Event `json:"event"`
}

// FileArchive appends dropped batches to a rotated NDJSON file.
// Store is fire-and-forget: write errors are logged, never returned.
type FileArchive struct {
	mu     sync.Mutex
	writer *lumberjack.Logger
	logger *zap.Logger
	now    func() time.Time
}

// NewFileArchive opens the archive at config.Path, creating parent directories
func NewFileArchive(config configtypes.ArchiveConfig, logger *zap.Logger) (*FileArchive, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("archive path is empty")
	}

	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory %s: %w", dir, err)
	}

	return &FileArchive{
		writer: &lumberjack.Logger{
			Filename:   config.Path,
			MaxSize:    config.Rotation.MaxSize,
			MaxAge:     config.Rotation.MaxAge,
			MaxBackups: config.Rotation.MaxBackups,
			Compress:   config.Rotation.Compress,
		},
		logger: logger,
		now:    time.Now,
	}, nil
}

// Store writes one line per event in batch
func (a *FileArchive) Store(batch []*events.Event, reason string, statusCode int) {
	if len(batch) == 0 {
		return
	}

	archivedAt := a.now().UnixMilli()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, ev := range batch {
		rec := Record{ArchivedAt: archivedAt, Reason: reason, StatusCode: statusCode, Event: ev}
		if err := enc.Encode(&rec); err != nil {
			a.logger.Warn("Failed to encode archived event",
				zap.String("reason", reason),
				zap.Error(err))
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.writer.Write(buf.Bytes()); err != nil {
		a.logger.Warn("Failed to write dropped batch to archive",
			zap.String("path", a.writer.Filename),
			zap.Int("events", len(batch)),
			zap.Error(err))
	}
}

// Close closes the underlying file
func (a *FileArchive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.writer.Close()
}
