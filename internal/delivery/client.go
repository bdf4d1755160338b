package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/edgecomet/eventpipe/internal/common/configtypes"
	"github.com/edgecomet/eventpipe/internal/common/version"
	"github.com/edgecomet/eventpipe/internal/events"
)

const (
	// BulkPath is appended to the events base URI
	BulkPath = "/bulk"
	// PayloadIDHeader carries a unique identifier per batch
	PayloadIDHeader = "X-Event-Payload-ID"

	maxErrorBodyLog = 512
)

// Options configures a delivery Client
type Options struct {
	EventsBaseURI  string
	SDKKey         string
	UserAgentName  string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	Compression    string
	Serializer     events.Serializer
}

// OptionsFromConfig builds client options from the events configuration
func OptionsFromConfig(cfg configtypes.EventsConfig, sdkKey string) Options {
	return Options{
		EventsBaseURI:  cfg.EventsBaseURI,
		SDKKey:         sdkKey,
		UserAgentName:  cfg.UserAgentName,
		ConnectTimeout: cfg.ConnectTimeout.ToDuration(),
		ReadTimeout:    cfg.ReadTimeout.ToDuration(),
		Compression:    cfg.Compression,
	}
}

// Client posts event batches to the collector's bulk endpoint.
// Deliver is safe for concurrent use but the processor only calls it from
// its worker goroutine.
type Client struct {
	httpClient     *http.Client
	bulkURL        string
	sdkKey         string
	userAgent      string
	gzip           bool
	serializer     events.Serializer
	requestTimeout time.Duration
	logger         *zap.Logger
}

// NewClient creates a delivery client
func NewClient(opts Options, logger *zap.Logger) (*Client, error) {
	if opts.EventsBaseURI == "" {
		return nil, fmt.Errorf("events base URI is empty")
	}
	if opts.ConnectTimeout <= 0 {
		return nil, fmt.Errorf("connect timeout must be > 0")
	}
	if opts.ReadTimeout <= 0 {
		return nil, fmt.Errorf("read timeout must be > 0")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	serializer := opts.Serializer
	if serializer == nil {
		serializer = events.JSONSerializer{}
	}

	dialer := &net.Dialer{
		Timeout:   opts.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	c := &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           dialer.DialContext,
				TLSHandshakeTimeout:   opts.ConnectTimeout,
				ResponseHeaderTimeout: opts.ReadTimeout,
				MaxIdleConns:          10,
				MaxIdleConnsPerHost:   2,
				IdleConnTimeout:       90 * time.Second,
			},
		},
		bulkURL:        strings.TrimRight(opts.EventsBaseURI, "/") + BulkPath,
		sdkKey:         opts.SDKKey,
		userAgent:      version.UserAgent(opts.UserAgentName),
		gzip:           opts.Compression == configtypes.CompressionGzip,
		serializer:     serializer,
		requestTimeout: opts.ConnectTimeout + opts.ReadTimeout,
		logger:         logger.With(zap.String("sdk_key_fingerprint", Fingerprint(opts.SDKKey))),
	}

	return c, nil
}

// BulkURL returns the endpoint batches are posted to
func (c *Client) BulkURL() string {
	return c.bulkURL
}

// Deliver serializes batch and performs one POST. It never panics on
// transport failures; every failure is reported through the Outcome.
func (c *Client) Deliver(ctx context.Context, batch []*events.Event) Outcome {
	body, err := c.serializer.Serialize(batch)
	if err != nil {
		c.logger.Error("Failed to serialize event batch",
			zap.Int("events", len(batch)),
			zap.Error(err))
		return Outcome{Kind: Recoverable, Err: err}
	}

	if c.gzip {
		body, err = gzipBody(body)
		if err != nil {
			c.logger.Error("Failed to compress event batch", zap.Error(err))
			return Outcome{Kind: Recoverable, Err: err}
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.bulkURL, bytes.NewReader(body))
	if err != nil {
		c.logger.Error("Failed to create events request",
			zap.String("url", c.bulkURL),
			zap.Error(err))
		return Outcome{Kind: Recoverable, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	payloadID := uuid.New().String()
	req.Header.Set("Authorization", c.sdkKey)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Content-Type", c.serializer.ContentType())
	req.Header.Set(PayloadIDHeader, payloadID)
	if c.gzip {
		req.Header.Set("Content-Encoding", "gzip")
	}

	c.logger.Debug("Posting event batch",
		zap.String("url", c.bulkURL),
		zap.String("payload_id", payloadID),
		zap.Int("events", len(batch)),
		zap.Int("bytes", len(body)))

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Failed to post event batch",
			zap.String("url", c.bulkURL),
			zap.String("payload_id", payloadID),
			zap.Duration("duration", time.Since(startTime)),
			zap.Error(err))
		return Outcome{Kind: Recoverable, Err: fmt.Errorf("HTTP request failed: %w", err)}
	}
	defer resp.Body.Close()

	kind := ClassifyStatus(resp.StatusCode)
	outcome := Outcome{Kind: kind, StatusCode: resp.StatusCode}

	switch kind {
	case Success:
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		c.logger.Debug("Event batch delivered",
			zap.String("payload_id", payloadID),
			zap.Int("status_code", resp.StatusCode),
			zap.Duration("duration", time.Since(startTime)))
	case Fatal:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		outcome.Err = fmt.Errorf("collector rejected credentials: status %d", resp.StatusCode)
		c.logger.Error("Received 401 error, no further events will be posted since SDK key is invalid",
			zap.String("payload_id", payloadID),
			zap.Int("status_code", resp.StatusCode))
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLog))
		outcome.Err = fmt.Errorf("unexpected status %d", resp.StatusCode)
		c.logger.Error("Unexpected status code while processing events",
			zap.String("payload_id", payloadID),
			zap.Int("status_code", resp.StatusCode),
			zap.Int("events", len(batch)),
			zap.String("response", string(snippet)))
	}

	return outcome
}

// Fingerprint returns a short non-reversible identifier for an SDK key, safe
// to include in logs.
func Fingerprint(key string) string {
	if key == "" {
		return ""
	}
	return fmt.Sprintf("%016x", xxhash.Sum64String(key))
}

func gzipBody(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(body); err != nil {
		return nil, fmt.Errorf("gzip write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip close failed: %w", err)
	}
	return buf.Bytes(), nil
}
