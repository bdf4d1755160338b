package ingest

import (
	"fmt"
	"net"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/edgecomet/eventpipe/internal/common/configtypes"
)

// Server is a running ingest API listener
type Server struct {
	server *fasthttp.Server
	addr   string
}

// Start binds cfg.Listen and serves api in the background.
// Returns nil, nil when the ingest API is disabled.
func Start(cfg configtypes.IngestAPIConfig, api *API, logger *zap.Logger) (*Server, error) {
	if !cfg.Enabled {
		logger.Info("Ingest API disabled")
		return nil, nil
	}

	listen, err := configtypes.NormalizeListen(cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("invalid ingest API listen address: %w", err)
	}

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, fmt.Errorf("failed to bind ingest API listener %s: %w", listen, err)
	}
	if cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConnections)
	}

	s := &Server{
		server: &fasthttp.Server{
			Handler:            api.ServeHTTP,
			Name:               "EventPipe-Ingest",
			ReadTimeout:        cfg.RequestTimeout.ToDuration(),
			WriteTimeout:       cfg.RequestTimeout.ToDuration(),
			MaxRequestBodySize: cfg.MaxBodySize,
			TCPKeepalive:       true,
			TCPKeepalivePeriod: 30 * time.Second,
		},
		addr: ln.Addr().String(),
	}

	go func() {
		logger.Info("Ingest API listening", zap.String("listen", s.addr))

		if err := s.server.Serve(ln); err != nil {
			logger.Error("Ingest API server stopped",
				zap.String("listen", s.addr),
				zap.Error(err))
		}
	}()

	return s, nil
}

// Addr returns the bound address
func (s *Server) Addr() string {
	return s.addr
}

// Shutdown stops accepting requests, waiting at most timeout for open ones
func (s *Server) Shutdown(timeout time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- s.server.Shutdown() }()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("ingest API shutdown timed out after %v", timeout)
	}
}
