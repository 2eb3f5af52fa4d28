package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/agendasalud/authd/internal/service"
)

// HealthResponse is the JSON response from the /healthz endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`            // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`            // Component check results
	Version string            `json:"version,omitempty"` // Optional version info
}

// Pinger verifies a storage backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker verifies component health.
type HealthChecker struct {
	db           Pinger
	auditService *service.AuditService
	version      string
}

// NewHealthChecker creates a HealthChecker with optional components.
// Pass nil for components that aren't available.
func NewHealthChecker(db Pinger, auditService *service.AuditService, version string) *HealthChecker {
	return &HealthChecker{
		db:           db,
		auditService: auditService,
		version:      version,
	}
}

// Check performs health checks on all components.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.db != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := h.db.Ping(pingCtx)
		cancel()
		if err != nil {
			checks["database"] = fmt.Sprintf("unreachable: %v", err)
			healthy = false
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not configured"
	}

	// Check audit service channel depth
	if h.auditService != nil {
		depth := h.auditService.ChannelDepth()
		capacity := h.auditService.ChannelCapacity()
		percentFull := 0
		if capacity > 0 {
			percentFull = depth * 100 / capacity
		}

		if percentFull > 90 {
			// >90% full means the system is under backpressure
			checks["audit"] = fmt.Sprintf("degraded: %d/%d (%d%%)", depth, capacity, percentFull)
			healthy = false
		} else {
			checks["audit"] = fmt.Sprintf("ok: %d/%d (%d%%)", depth, capacity, percentFull)
		}

		if drops := h.auditService.DroppedRecords(); drops > 0 {
			checks["audit_drops"] = fmt.Sprintf("%d dropped", drops)
		}
	} else {
		checks["audit"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		_ = json.NewEncoder(w).Encode(health)
	})
}
