package api

import (
	"net/http"
	"time"

	"github.com/okuzmin/vectorize-api/internal/api/shared"
	"github.com/okuzmin/vectorize-api/internal/idempotency"
	"github.com/okuzmin/vectorize-api/internal/job"
	"github.com/okuzmin/vectorize-api/internal/monitor"
	"github.com/okuzmin/vectorize-api/internal/pool"
	"github.com/okuzmin/vectorize-api/internal/respcache"
)

// SystemHandler serves the health and operational stats endpoints.
type SystemHandler struct {
	orchestrator *job.Orchestrator
	slots        *pool.Pool[int]
	cache        *respcache.Store
	idem         *idempotency.Store
	monitor      *monitor.Monitor
	throttler    *monitor.Throttler
	startedAt    time.Time
}

// NewSystemHandler creates a new SystemHandler. The pool, cache, idempotency
// store, monitor, and throttler are all optional.
func NewSystemHandler(
	orchestrator *job.Orchestrator,
	slots *pool.Pool[int],
	cache *respcache.Store,
	idem *idempotency.Store,
	mon *monitor.Monitor,
	throttler *monitor.Throttler,
) *SystemHandler {
	return &SystemHandler{
		orchestrator: orchestrator,
		slots:        slots,
		cache:        cache,
		idem:         idem,
		monitor:      mon,
		throttler:    throttler,
		startedAt:    time.Now(),
	}
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// StatsResponse is the /api/stats payload.
type StatsResponse struct {
	Jobs          job.Stats  `json:"jobs"`
	Pool          *PoolStats `json:"pool,omitempty"`
	CacheEntries  int        `json:"cache_entries"`
	IdemEntries   int        `json:"idempotency_entries"`
	ResourceLevel string     `json:"resource_level,omitempty"`
	MemoryMB      float64    `json:"memory_mb,omitempty"`
	QueuedAdmits  int        `json:"queued_admissions,omitempty"`
	UptimeSeconds int64      `json:"uptime_seconds"`
}

// PoolStats mirrors pool occupancy for the stats payload.
type PoolStats struct {
	Total   int `json:"total"`
	Idle    int `json:"idle"`
	InUse   int `json:"in_use"`
	Waiting int `json:"waiting"`
}

// Health handles GET /health requests. Degraded means the process is
// shedding load but still alive.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if h.monitor != nil && h.monitor.Shedding() {
		status = "degraded"
	}
	shared.RespondWithJSON(w, r, http.StatusOK, HealthResponse{
		Status:        status,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	})
}

// Stats handles GET /api/stats requests.
func (h *SystemHandler) Stats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Jobs:          h.orchestrator.Stats(),
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	}
	if h.slots != nil {
		s := h.slots.Stats()
		resp.Pool = &PoolStats{Total: s.Total, Idle: s.Idle, InUse: s.InUse, Waiting: s.Waiting}
	}
	if h.cache != nil {
		resp.CacheEntries = h.cache.Len()
	}
	if h.idem != nil {
		resp.IdemEntries = h.idem.Len()
	}
	if h.monitor != nil {
		resp.ResourceLevel = h.monitor.Level().String()
		resp.MemoryMB = h.monitor.MemoryMB()
	}
	if h.throttler != nil {
		resp.QueuedAdmits = h.throttler.Queued()
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}
