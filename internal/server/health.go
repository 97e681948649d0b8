package server

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// probe describes one health endpoint.
type probe struct {
	name        string
	pass, fail  string
	check       func(r *http.Request) bool
	withDetails bool
}

// LivenessHandler fails only when the dispatcher can no longer accept
// claims and the process should be restarted.
func LivenessHandler(checker HealthChecker, logger *zap.Logger) http.HandlerFunc {
	return probeHandler(probe{
		name:  "liveness",
		pass:  "alive",
		fail:  "not alive",
		check: func(*http.Request) bool { return checker.Liveness() },
	}, checker, logger)
}

// ReadinessHandler reports the dispatcher's positions and subscription lag
// alongside the verdict.
func ReadinessHandler(checker HealthChecker, logger *zap.Logger) http.HandlerFunc {
	return probeHandler(probe{
		name:        "readiness",
		pass:        "ready",
		fail:        "not ready",
		check:       func(r *http.Request) bool { return checker.Readiness(r.Context()) },
		withDetails: true,
	}, checker, logger)
}

func probeHandler(p probe, checker HealthChecker, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := HealthResponse{
			Status:    p.pass,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		statusCode := http.StatusOK
		if !p.check(r) {
			response.Status = p.fail
			statusCode = http.StatusServiceUnavailable
			logger.Debug("health probe failed", zap.String("probe", p.name))
		}
		if p.withDetails {
			response.Checks = checker.GetStatus()
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(statusCode)
		if err := json.NewEncoder(w).Encode(response); err != nil {
			logger.Error("failed to encode health response",
				zap.String("probe", p.name),
				zap.Error(err),
			)
		}
	}
}
