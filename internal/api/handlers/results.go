package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	apperrors "github.com/xuecangming/drivefetch/internal/common/errors"
	"github.com/xuecangming/drivefetch/internal/common/types"
)

// ResultReader reads recorded results
type ResultReader interface {
	Items(ctx context.Context) ([]types.ItemRecord, error)
	Downloads(ctx context.Context, failedOnly bool) ([]*types.TransferResult, error)
	GetDownload(ctx context.Context, id string) (*types.TransferResult, error)
}

// ResultHandler handles result API requests
type ResultHandler struct {
	results ResultReader
}

// NewResultHandler creates a new result handler
func NewResultHandler(results ResultReader) *ResultHandler {
	return &ResultHandler{results: results}
}

// Items handles GET /results/items
func (h *ResultHandler) Items(w http.ResponseWriter, r *http.Request) {
	items, err := h.results.Items(r.Context())
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"items": items,
		"count": len(items),
	})
}

// Downloads handles GET /results/downloads?failed=true
func (h *ResultHandler) Downloads(w http.ResponseWriter, r *http.Request) {
	failedOnly := false
	if v := r.URL.Query().Get("failed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			apperrors.WriteError(w, apperrors.InvalidRequest("failed must be a boolean"))
			return
		}
		failedOnly = b
	}

	downloads, err := h.results.Downloads(r.Context(), failedOnly)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"downloads": downloads,
		"count":     len(downloads),
	})
}

// GetDownload handles GET /results/downloads/{id}
func (h *ResultHandler) GetDownload(w http.ResponseWriter, r *http.Request) {
	result, err := h.results.GetDownload(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}
