// Package status exposes the read-only operator-facing HTTP surface (spec
// §6 StatusServerConfig): liveness/readiness probes, Prometheus-adjacent
// JSON status, and a deployment listing. It never accepts a write.
package status

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"

	"github.com/qam-project/qam/pkg/deployment"
)

// Server is the chi-routed status/health surface. It holds no write path:
// every handler only reads from its dependencies.
type Server struct {
	Router *chi.Mux

	db        *sql.DB
	rdb       *redis.Client
	sup       *deployment.Supervisor
	log       logr.Logger
	startedAt time.Time
}

// NewServer wires health, readiness, and status endpoints. allowedOrigins
// configures the CORS policy for browser-based operator dashboards.
func NewServer(db *sql.DB, rdb *redis.Client, sup *deployment.Supervisor, allowedOrigins []string, log logr.Logger) *Server {
	s := &Server{
		db:        db,
		rdb:       rdb,
		sup:       sup,
		log:       log,
		startedAt: time.Now().UTC(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/status", s.handleStatus)
	r.Get("/deployments", s.handleDeployments)

	s.Router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.db.PingContext(ctx); err != nil {
		s.log.Error(err, "readiness: postgres ping failed")
		respond(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "component": "postgres"})
		return
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		s.log.Error(err, "readiness: redis ping failed")
		respond(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "component": "redis"})
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "ready"})
}

type statusResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Postgres      string `json:"postgres"`
	Redis         string `json:"redis"`
	Deployments   int    `json:"deployments"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := statusResponse{UptimeSeconds: int64(time.Since(s.startedAt).Seconds())}

	if err := s.db.PingContext(ctx); err != nil {
		resp.Postgres = "error"
	} else {
		resp.Postgres = "ok"
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		resp.Redis = "error"
	} else {
		resp.Redis = "ok"
	}

	deployments, err := s.sup.List(ctx)
	if err != nil {
		s.log.Error(err, "status: list deployments")
	} else {
		resp.Deployments = len(deployments)
	}

	if resp.Postgres == "ok" && resp.Redis == "ok" {
		resp.Status = "ok"
	} else {
		resp.Status = "degraded"
	}
	respond(w, http.StatusOK, resp)
}

type deploymentSummary struct {
	ID       string `json:"id"`
	Tenant   string `json:"tenant_id"`
	State    string `json:"state"`
	Template string `json:"template_id"`
}

func (s *Server) handleDeployments(w http.ResponseWriter, r *http.Request) {
	deployments, err := s.sup.List(r.Context())
	if err != nil {
		s.log.Error(err, "list deployments")
		respond(w, http.StatusInternalServerError, map[string]string{"error": "failed to list deployments"})
		return
	}

	out := make([]deploymentSummary, 0, len(deployments))
	for _, d := range deployments {
		out = append(out, deploymentSummary{ID: d.ID, Tenant: d.TenantID, State: string(d.State), Template: d.TemplateID})
	}
	respond(w, http.StatusOK, out)
}

func respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Shutdown is a convenience wrapper so callers can treat Server uniformly
// with metrics.Server, even though chi's Mux has no state to release beyond
// the *http.Server wrapping it (owned by the caller via http.Server.Shutdown).
func Shutdown(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}
