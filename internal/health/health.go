// Package health provides health check endpoints for the blob service.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/blobmux/blobmux/internal/blobstore"
	"github.com/blobmux/blobmux/internal/model"
	"github.com/blobmux/blobmux/internal/syncqueue"
)

const probeKey = "__blobmux_health_probe"

// HealthCheck probes the backing stores and the sync queue.
type HealthCheck struct {
	stores map[model.StoreID]blobstore.Store
	queue  syncqueue.Queue
	logger *zap.Logger

	mu        sync.RWMutex
	ready     bool
	checks    map[string]string
	lastCheck time.Time

	checkInterval time.Duration
	stopCh        chan struct{}
	stopOnce      sync.Once
}

// NewHealthCheck creates a health checker and starts its background
// probe loop.
func NewHealthCheck(stores map[model.StoreID]blobstore.Store, queue syncqueue.Queue, logger *zap.Logger) *HealthCheck {
	hc := &HealthCheck{
		stores:        stores,
		queue:         queue,
		logger:        logger,
		checks:        make(map[string]string),
		checkInterval: 5 * time.Second,
		stopCh:        make(chan struct{}),
	}

	go hc.backgroundCheck()

	return hc
}

// LivenessResponse represents the response for the liveness check.
type LivenessResponse struct {
	Status string `json:"status"`
}

// ReadinessResponse represents the response for the readiness check.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LivenessHandler handles GET /health requests.
func (hc *HealthCheck) LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	resp := LivenessResponse{
		Status: "healthy",
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

// ReadinessHandler handles GET /ready requests. The service is ready
// when every configured store and the sync queue answer probes.
func (hc *HealthCheck) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	hc.mu.RLock()
	isReady := hc.ready
	checks := make(map[string]string, len(hc.checks))
	for name, state := range hc.checks {
		checks[name] = state
	}
	hc.mu.RUnlock()

	if len(checks) == 0 {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		isReady, checks = hc.probe(ctx)
	}

	w.Header().Set("Content-Type", "application/json")

	resp := ReadinessResponse{Status: "ready", Checks: checks}
	if !isReady {
		resp.Status = "not_ready"
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(resp)
		return
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

// probe checks every dependency once.
func (hc *HealthCheck) probe(ctx context.Context) (bool, map[string]string) {
	ready := true
	checks := make(map[string]string, len(hc.stores)+1)

	for id, store := range hc.stores {
		if _, err := store.IsPresent(ctx, probeKey); err != nil {
			ready = false
			checks[id.String()] = "unhealthy"
			hc.logger.Warn("store health probe failed",
				zap.Stringer("store_id", id),
				zap.Error(err))
		} else {
			checks[id.String()] = "healthy"
		}
	}

	if _, err := hc.queue.Get(ctx, probeKey); err != nil {
		ready = false
		checks["sync_queue"] = "unhealthy"
		hc.logger.Warn("sync queue health probe failed", zap.Error(err))
	} else {
		checks["sync_queue"] = "healthy"
	}

	return ready, checks
}

func (hc *HealthCheck) backgroundCheck() {
	ticker := time.NewTicker(hc.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-hc.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			ready, checks := hc.probe(ctx)
			cancel()

			hc.mu.Lock()
			hc.ready = ready
			hc.checks = checks
			hc.lastCheck = time.Now()
			hc.mu.Unlock()
		}
	}
}

// Stop halts the background probe loop.
func (hc *HealthCheck) Stop() {
	hc.stopOnce.Do(func() { close(hc.stopCh) })
}

// IsReady returns the current readiness status.
func (hc *HealthCheck) IsReady() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.ready
}
