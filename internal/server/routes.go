package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// HealthFunc reports whether a dependency is reachable.
type HealthFunc func(ctx context.Context) error

// MetricsCollector is the instrumentation the handler is wrapped with.
type MetricsCollector interface {
	Handler() http.Handler
	InstrumentHandler(next http.Handler) http.Handler
}

type healthResponse struct {
	Status   string            `json:"status"`
	Checks   map[string]string `json:"checks,omitempty"`
	Accounts int               `json:"scheduled_accounts"`
}

// NewHandler builds the daemon's HTTP surface: /healthz and /metrics.
// accounts reports how many accounts are currently scheduled.
func NewHandler(checks map[string]HealthFunc, accounts func() int, collector MetricsCollector, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
		status := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				logger.Warn("health check failed", "check", name, "error", err)
				resp.Checks[name] = err.Error()
				resp.Status = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		if accounts != nil {
			resp.Accounts = accounts()
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Error("failed to encode health response", "error", err)
		}
	})

	if collector == nil {
		return mux
	}
	mux.Handle("GET /metrics", collector.Handler())
	return collector.InstrumentHandler(mux)
}
