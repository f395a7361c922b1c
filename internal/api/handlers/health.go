package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/xuecangming/drivefetch/internal/core/scheduler"
	"github.com/xuecangming/drivefetch/internal/core/session"
)

// Pinger checks a store connection
type Pinger interface {
	PingContext(ctx context.Context) error
}

// SessionStats reports session pool state
type SessionStats interface {
	Stats() session.Stats
}

// HealthHandler handles health check requests
type HealthHandler struct {
	db        Pinger
	sessions  SessionStats
	scheduler JobStats
	startTime time.Time
}

// NewHealthHandler creates a new health handler. db may be nil when results are kept in memory.
func NewHealthHandler(db Pinger, sessions SessionStats, sched JobStats) *HealthHandler {
	return &HealthHandler{
		db:        db,
		sessions:  sessions,
		scheduler: sched,
		startTime: time.Now(),
	}
}

// ComponentHealth represents health status of a component
type ComponentHealth struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Uptime     string                     `json:"uptime"`
	Components map[string]ComponentHealth `json:"components"`
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	components := make(map[string]ComponentHealth)

	dbHealth := h.checkDatabase(r.Context())
	components["database"] = dbHealth
	if dbHealth.Status == "unhealthy" {
		status = "unhealthy"
	}

	components["scheduler"] = h.checkScheduler()
	components["sessions"] = h.checkSessions()
	components["system"] = h.checkSystem()

	response := HealthResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Uptime:     time.Since(h.startTime).String(),
		Components: components,
	}

	w.Header().Set("Content-Type", "application/json")
	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(response)
}

func (h *HealthHandler) checkDatabase(ctx context.Context) ComponentHealth {
	if h.db == nil {
		return ComponentHealth{Status: "disabled", Message: "results are kept in memory"}
	}
	start := time.Now()
	if err := h.db.PingContext(ctx); err != nil {
		return ComponentHealth{Status: "unhealthy", Message: err.Error()}
	}
	return ComponentHealth{
		Status:  "healthy",
		Details: map[string]interface{}{"latency_ms": time.Since(start).Milliseconds()},
	}
}

func (h *HealthHandler) checkScheduler() ComponentHealth {
	state := h.scheduler.State()
	health := "healthy"
	if state == scheduler.StateStopped {
		health = "stopped"
	}
	return ComponentHealth{
		Status:  health,
		Details: map[string]interface{}{"state": state.String()},
	}
}

func (h *HealthHandler) checkSessions() ComponentHealth {
	stats := h.sessions.Stats()
	health := "healthy"
	if !stats.Connected && stats.Created > 0 {
		health = "disconnected"
	}
	return ComponentHealth{
		Status: health,
		Details: map[string]interface{}{
			"live":    stats.Live,
			"idle":    stats.Idle,
			"waiting": stats.Waiting,
			"created": stats.Created,
		},
	}
}

// checkSystem checks system resource health
func (h *HealthHandler) checkSystem() ComponentHealth {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return ComponentHealth{
		Status: "healthy",
		Details: map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"alloc_mb":   m.Alloc / 1024 / 1024,
			"sys_mb":     m.Sys / 1024 / 1024,
			"num_gc":     m.NumGC,
		},
	}
}

// Live handles GET /live
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "alive",
	})
}
