package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hivemesh/hivemind/pkg/coordinator"
	"github.com/hivemesh/hivemind/pkg/health"
	"github.com/hivemesh/hivemind/pkg/log"
	"github.com/hivemesh/hivemind/pkg/metrics"
	"github.com/rs/zerolog"
)

// MonitorServer serves the hive's observability endpoints: liveness,
// readiness, a JSON status snapshot and Prometheus metrics.
type MonitorServer struct {
	coord  *coordinator.Coordinator
	server *http.Server
	logger zerolog.Logger
}

// NewMonitorServer builds the monitor endpoints over a coordinator
func NewMonitorServer(coord *coordinator.Coordinator, addr string) *MonitorServer {
	ms := &MonitorServer{
		coord:  coord,
		logger: log.WithComponent("monitor"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", ms.healthHandler)
	mux.HandleFunc("/ready", ms.readyHandler)
	mux.HandleFunc("/status", ms.statusHandler)
	mux.Handle("/metrics", metrics.Handler())

	ms.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return ms
}

// Handler returns the monitor mux, mainly for tests
func (ms *MonitorServer) Handler() http.Handler {
	return ms.server.Handler
}

// Start serves until Stop or a listener error
func (ms *MonitorServer) Start() error {
	ms.logger.Info().Str("addr", ms.server.Addr).Msg("monitor endpoints listening")
	if err := ms.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop drains in-flight requests and closes the listener
func (ms *MonitorServer) Stop(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}

// healthResponse is the /health body
type healthResponse struct {
	Status    health.Status `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
}

// readyResponse is the /ready body
type readyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// healthHandler reports liveness: degraded hives are still alive
func (ms *MonitorServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	snap := ms.coord.Health()
	code := http.StatusOK
	writeJSON(w, code, healthResponse{
		Status:    snap.Status,
		Timestamp: time.Now(),
	})
}

// readyHandler reports readiness: every tracked component must be healthy
func (ms *MonitorServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	snap := ms.coord.Health()
	checks := make(map[string]string, len(snap.Components))
	ready := true
	for _, c := range snap.Components {
		if c.Healthy {
			checks[c.Name] = "ok"
			continue
		}
		ready = false
		msg := c.Message
		if msg == "" {
			msg = "unhealthy"
		}
		checks[c.Name] = msg
	}

	code := http.StatusOK
	status := "ready"
	if !ready {
		code = http.StatusServiceUnavailable
		status = "not_ready"
	}
	writeJSON(w, code, readyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
	})
}

// statusHandler returns the full status snapshot
func (ms *MonitorServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	snap, err := ms.coord.Status()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are gone; nothing left to do but log
		logger := log.WithComponent("monitor")
		logger.Warn().Err(err).Msg("response encode failed")
	}
}
