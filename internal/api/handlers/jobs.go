package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	apperrors "github.com/xuecangming/drivefetch/internal/common/errors"
	"github.com/xuecangming/drivefetch/internal/common/types"
	"github.com/xuecangming/drivefetch/internal/core/scheduler"
)

// JobStats reports scheduler state
type JobStats interface {
	State() scheduler.State
	Stats() []types.JobStats
}

// JobHandler handles job API requests
type JobHandler struct {
	scheduler JobStats
}

// NewJobHandler creates a new job handler
func NewJobHandler(sched JobStats) *JobHandler {
	return &JobHandler{
		scheduler: sched,
	}
}

// List handles GET /jobs
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"state":      h.scheduler.State().String(),
		"categories": h.scheduler.Stats(),
	})
}

// GetCategory handles GET /jobs/{category}
func (h *JobHandler) GetCategory(w http.ResponseWriter, r *http.Request) {
	category := types.Category(mux.Vars(r)["category"])

	for _, st := range h.scheduler.Stats() {
		if st.Category == category {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(st)
			return
		}
	}
	apperrors.WriteError(w, apperrors.NotFoundError("category", string(category)))
}
