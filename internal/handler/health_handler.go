package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) error

// HealthHandler liveness, readiness and metrics endpoints
type HealthHandler struct {
	version string
	timeout time.Duration
	checks  map[string]HealthCheck
}

// NewHealthHandler creates a health handler probing checks by name
func NewHealthHandler(version string, checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{
		version: version,
		timeout: 5 * time.Second,
		checks:  checks,
	}
}

// Health reports every dependency; 503 when any of them is down
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	healthy := true
	services := make(map[string]interface{}, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			healthy = false
			services[name] = map[string]interface{}{
				"healthy": false,
				"error":   err.Error(),
			}
			continue
		}
		services[name] = map[string]interface{}{
			"healthy": true,
			"status":  "connected",
		}
	}

	health := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"version":   h.version,
		"services":  services,
	}

	if !healthy {
		health["status"] = "error"
		c.JSON(http.StatusServiceUnavailable, health)
		return
	}

	c.JSON(http.StatusOK, health)
}

// Ping liveness probe
func (h *HealthHandler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":   "pong",
		"timestamp": time.Now().Unix(),
	})
}

// Metrics serves the registry in the Prometheus text format
func Metrics(registry *prometheus.Registry) gin.HandlerFunc {
	h := promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
	return gin.WrapH(h)
}
