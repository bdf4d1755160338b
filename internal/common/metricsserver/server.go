package metricsserver

import (
	"fmt"
	"net"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/edgecomet/eventpipe/internal/common/configtypes"
)

// MetricsHandler interface for metrics collectors
type MetricsHandler interface {
	ServeHTTP(ctx *fasthttp.RequestCtx)
}

// Server is a running metrics endpoint
type Server struct {
	server *fasthttp.Server
	addr   string
}

// Start binds cfg.Listen and serves handler at cfg.Path in the background.
// Returns nil, nil when metrics are disabled.
func Start(cfg configtypes.MetricsConfig, handler MetricsHandler, logger *zap.Logger) (*Server, error) {
	if !cfg.Enabled {
		logger.Info("Metrics collection disabled")
		return nil, nil
	}

	listen, err := configtypes.NormalizeListen(cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("invalid metrics listen address: %w", err)
	}

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, fmt.Errorf("failed to bind metrics listener %s: %w", listen, err)
	}

	s := &Server{
		server: &fasthttp.Server{
			Handler:            createMetricsHandler(cfg.Path, handler),
			Name:               "EventPipe-Metrics",
			ReadTimeout:        10 * time.Second,
			WriteTimeout:       10 * time.Second,
			MaxRequestBodySize: 1 * 1024,
			TCPKeepalive:       true,
			TCPKeepalivePeriod: 30 * time.Second,
			MaxConnsPerIP:      100,
			Concurrency:        100,
		},
		addr: ln.Addr().String(),
	}

	go func() {
		logger.Info("Metrics server listening",
			zap.String("listen", s.addr),
			zap.String("path", cfg.Path))

		if err := s.server.Serve(ln); err != nil {
			logger.Error("Metrics server stopped",
				zap.String("listen", s.addr),
				zap.Error(err))
		}
	}()

	return s, nil
}

// Addr returns the bound address, useful when listening on port 0
func (s *Server) Addr() string {
	return s.addr
}

// Shutdown stops the server, waiting at most timeout for open connections
func (s *Server) Shutdown(timeout time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- s.server.Shutdown() }()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("metrics server shutdown timed out after %v", timeout)
	}
}

func createMetricsHandler(metricsPath string, metricsHandler MetricsHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) == metricsPath {
			metricsHandler.ServeHTTP(ctx)
			return
		}

		ctx.SetStatusCode(fasthttp.StatusNotFound)
		ctx.SetBodyString("Not Found")
	}
}
