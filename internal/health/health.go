// Package health evaluates readiness of the report runtime and serves the health endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Mode is the overall state reported by /healthz.
type Mode string

const (
	// ModeHealthy means reports can be built and every configured backend answers.
	ModeHealthy Mode = "healthy"
	// ModeDegraded indicates reports can be served but recent report runs against GitHub failed.
	ModeDegraded Mode = "degraded"
	// ModeUnhealthy means the GitHub client or a configured backend is unusable.
	ModeUnhealthy Mode = "unhealthy"
)

// Input represents dependency states used for health evaluation. Optional backends only count
// toward readiness when configured.
type Input struct {
	GitHubClientUsable bool
	GitHubHealthy      bool
	CacheConfigured    bool
	CacheHealthy       bool
	ArchiveConfigured  bool
	ArchiveHealthy     bool
}

// Status is the evaluated health. Problems names each failing component in evaluation order.
type Status struct {
	Mode       Mode            `json:"mode"`
	Ready      bool            `json:"ready"`
	Components map[string]bool `json:"components"`
	Problems   []string        `json:"problems,omitempty"`
}

// Provider supplies current health status.
type Provider interface {
	CurrentStatus(ctx context.Context) Status
}

// StatusEvaluator turns dependency state into a Status.
type StatusEvaluator struct{}

// NewStatusEvaluator creates a health evaluator.
func NewStatusEvaluator() *StatusEvaluator {
	return &StatusEvaluator{}
}

type component struct {
	name       string
	configured bool
	healthy    bool
	required   bool
}

// Evaluate derives readiness from the required components. A failing GitHub report streak only
// degrades the mode because cached and archived reports can still be served.
func (e *StatusEvaluator) Evaluate(input Input) Status {
	components := []component{
		{name: "github_client", configured: true, healthy: input.GitHubClientUsable, required: true},
		{name: "github_healthy", configured: true, healthy: input.GitHubHealthy},
		{name: "stats_cache", configured: input.CacheConfigured, healthy: input.CacheHealthy, required: true},
		{name: "archive", configured: input.ArchiveConfigured, healthy: input.ArchiveHealthy, required: true},
	}

	status := Status{Ready: true, Components: make(map[string]bool, len(components))}
	degraded := false
	for _, c := range components {
		if !c.configured {
			continue
		}
		status.Components[c.name] = c.healthy
		if c.healthy {
			continue
		}
		status.Problems = append(status.Problems, c.name)
		if c.required {
			status.Ready = false
		} else {
			degraded = true
		}
	}

	switch {
	case !status.Ready:
		status.Mode = ModeUnhealthy
	case degraded:
		status.Mode = ModeDegraded
	default:
		status.Mode = ModeHealthy
	}
	return status
}

// NewHandler serves /livez, /readyz and /healthz. /healthz answers 503 only when unhealthy.
func NewHandler(provider Provider) http.Handler {
	router := chi.NewRouter()

	router.Get("/livez", func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusOK, "ok")
	})

	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if provider.CurrentStatus(r.Context()).Ready {
			writeText(w, http.StatusOK, "ready")
			return
		}
		writeText(w, http.StatusServiceUnavailable, "not ready")
	})

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := provider.CurrentStatus(r.Context())
		payload, err := json.Marshal(status)
		if err != nil {
			writeText(w, http.StatusInternalServerError, "marshal health status")
			return
		}
		code := http.StatusOK
		if status.Mode == ModeUnhealthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = w.Write(payload)
	})

	return router
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}
