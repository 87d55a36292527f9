package metrics

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the Prometheus /metrics endpoint and a liveness /health
// endpoint for the QAM engine's status surface.
type Server struct {
	server *http.Server
	log    logr.Logger
}

// NewServer builds a metrics Server bound to addr (a bare port or host:port).
func NewServer(addr string, log logr.Logger) *Server {
	if addr != "" && !strings.Contains(addr, ":") {
		addr = ":" + addr
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return &Server{
		server: &http.Server{Addr: addr, Handler: mux},
		log:    log,
	}
}

// StartAsync starts the HTTP server in a background goroutine. Bind errors
// other than a clean shutdown are logged, not returned, since the caller has
// no synchronous way to observe them.
func (s *Server) StartAsync() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error(err, "metrics server stopped unexpectedly", "addr", s.server.Addr)
		}
	}()
}

// Stop gracefully shuts down the server, waiting up to ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
