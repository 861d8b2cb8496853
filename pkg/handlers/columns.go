package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/auto-dw/pkg/models"
	"github.com/ekaya-inc/auto-dw/pkg/services"
)

// ColumnStatusResponse for GET /api/columns/status
type ColumnStatusResponse struct {
	Columns []*models.ColumnStatus           `json:"columns"`
	Summary map[models.ColumnStatusLabel]int `json:"summary"`
	Total   int                              `json:"total"`
}

// ColumnsHandler reports classification progress of source columns.
type ColumnsHandler struct {
	statusService services.ColumnStatusService
	logger        *zap.Logger
}

// NewColumnsHandler creates a new columns handler.
func NewColumnsHandler(statusService services.ColumnStatusService, logger *zap.Logger) *ColumnsHandler {
	return &ColumnsHandler{statusService: statusService, logger: logger}
}

// RegisterRoutes registers the columns handler's routes on the given mux.
func (h *ColumnsHandler) RegisterRoutes(mux *http.ServeMux, scope func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("GET /api/columns/status", scope(h.Status))
}

// Status handles GET /api/columns/status
func (h *ColumnsHandler) Status(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.statusService.List(r.Context())
	if err != nil {
		h.logger.Error("Failed to list column status", zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "list_column_status_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if statuses == nil {
		statuses = []*models.ColumnStatus{}
	}

	summary := map[models.ColumnStatusLabel]int{
		models.ColumnStatusQueued:            0,
		models.ColumnStatusReadyToDeploy:     0,
		models.ColumnStatusRequiresAttention: 0,
	}
	for _, s := range statuses {
		summary[s.Status]++
	}

	response := ColumnStatusResponse{Columns: statuses, Summary: summary, Total: len(statuses)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
