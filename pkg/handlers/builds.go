package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/auto-dw/pkg/apperrors"
	"github.com/ekaya-inc/auto-dw/pkg/models"
	"github.com/ekaya-inc/auto-dw/pkg/services"
)

// ============================================================================
// Request/Response Types
// ============================================================================

// BuildResponse for POST /api/builds
type BuildResponse struct {
	Build   *services.BuildResult `json:"build"`
	Load    *services.LoadResult  `json:"load,omitempty"`
	Preview *services.SQLPreview  `json:"preview,omitempty"`
}

// BuildListResponse for GET /api/builds
type BuildListResponse struct {
	Builds []*models.DVBuild `json:"builds"`
	Total  int               `json:"total"`
}

// ============================================================================
// Handler
// ============================================================================

// BuildsHandler exposes the build pipeline over HTTP.
type BuildsHandler struct {
	buildService services.BuildService
	logger       *zap.Logger
}

// NewBuildsHandler creates a new builds handler.
func NewBuildsHandler(buildService services.BuildService, logger *zap.Logger) *BuildsHandler {
	return &BuildsHandler{
		buildService: buildService,
		logger:       logger,
	}
}

// RegisterRoutes registers the builds handler's routes on the given mux. scope wraps
// every route with a database connection for the request.
func (h *BuildsHandler) RegisterRoutes(mux *http.ServeMux, scope func(http.HandlerFunc) http.HandlerFunc) {
	base := "/api/builds"

	mux.HandleFunc("GET "+base, scope(h.List))
	mux.HandleFunc("POST "+base, scope(h.Create))
	mux.HandleFunc("POST "+base+"/{build_id}/load", scope(h.Load))
	mux.HandleFunc("GET "+base+"/{build_id}/schema", scope(h.GetSchema))
	mux.HandleFunc("GET "+base+"/{build_id}/sql", scope(h.GetSQL))
}

// List handles GET /api/builds
func (h *BuildsHandler) List(w http.ResponseWriter, r *http.Request) {
	builds, err := h.buildService.ListBuilds(r.Context())
	if err != nil {
		h.writeServiceError(w, "list_builds_failed", err)
		return
	}
	if builds == nil {
		builds = []*models.DVBuild{}
	}

	response := BuildListResponse{Builds: builds, Total: len(builds)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Create handles POST /api/builds
//
// An empty body builds from the classification tables. Query parameters:
// dry_run=true assembles and renders SQL without touching the database,
// load=true runs the load right after the tables are created.
func (h *BuildsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req services.BuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	ctx := r.Context()
	switch {
	case parseBoolQuery(r, "dry_run"):
		built, preview, err := h.buildService.Plan(ctx, req)
		if err != nil {
			h.writeServiceError(w, "plan_failed", err)
			return
		}
		h.writeBuild(w, http.StatusOK, BuildResponse{Build: built, Preview: preview}, nil)

	case parseBoolQuery(r, "load"):
		built, loaded, err := h.buildService.Run(ctx, req)
		if built == nil {
			h.writeServiceError(w, "build_failed", err)
			return
		}
		if loaded == nil {
			h.writeServiceError(w, "load_failed", err)
			return
		}
		h.writeBuild(w, http.StatusCreated, BuildResponse{Build: built, Load: loaded}, err)

	default:
		built, err := h.buildService.Build(ctx, req)
		if err != nil {
			h.writeServiceError(w, "build_failed", err)
			return
		}
		h.writeBuild(w, http.StatusCreated, BuildResponse{Build: built}, nil)
	}
}

// Load handles POST /api/builds/{build_id}/load
func (h *BuildsHandler) Load(w http.ResponseWriter, r *http.Request) {
	buildID, ok := ParseBuildID(w, r, h.logger)
	if !ok {
		return
	}

	loaded, err := h.buildService.Load(r.Context(), buildID)
	if loaded == nil {
		h.logger.Error("Failed to load build",
			zap.String("build_id", buildID),
			zap.Error(err))
		h.writeServiceError(w, "load_failed", err)
		return
	}

	h.writeBuild(w, http.StatusOK, loaded, err)
}

// GetSchema handles GET /api/builds/{build_id}/schema
func (h *BuildsHandler) GetSchema(w http.ResponseWriter, r *http.Request) {
	buildID, ok := ParseBuildID(w, r, h.logger)
	if !ok {
		return
	}

	schema, err := h.buildService.GetSchema(r.Context(), buildID)
	if err != nil {
		h.writeServiceError(w, "get_schema_failed", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: schema}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// GetSQL handles GET /api/builds/{build_id}/sql
//
// format=text returns the DDL and DML as a plain SQL script.
func (h *BuildsHandler) GetSQL(w http.ResponseWriter, r *http.Request) {
	buildID, ok := ParseBuildID(w, r, h.logger)
	if !ok {
		return
	}

	preview, err := h.buildService.PreviewSQL(r.Context(), buildID)
	if err != nil {
		h.writeServiceError(w, "preview_sql_failed", err)
		return
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "application/sql; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if _, err := io.WriteString(w, preview.DDL+"\n"+preview.DML); err != nil {
			h.logger.Error("Failed to write response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: preview}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// writeBuild writes data with the given status. A load that skipped components is still
// reported with its result, flagged unsuccessful.
func (h *BuildsHandler) writeBuild(w http.ResponseWriter, status int, data any, err error) {
	response := ApiResponse{Success: true, Data: data}
	if errors.Is(err, apperrors.ErrIncompleteLoad) {
		response.Success = false
		response.Error = "incomplete_load"
		response.Message = err.Error()
	} else if err != nil {
		h.writeServiceError(w, "load_failed", err)
		return
	}

	if err := WriteJSON(w, status, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *BuildsHandler) writeServiceError(w http.ResponseWriter, fallbackCode string, err error) {
	status, code := statusForError(err)
	if status == http.StatusInternalServerError {
		code = fallbackCode
		h.logger.Error("Build request failed", zap.String("error_code", code), zap.Error(err))
	}
	if err := ErrorResponse(w, status, code, err.Error()); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
