package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// maxBuildIDLength bounds build ids taken from request paths.
const maxBuildIDLength = 128

// ParseBuildID extracts the build ID from the request path.
// Returns the build ID and true on success, or "" and false on error
// (after writing an error response).
// Expects path parameter: build_id
func ParseBuildID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (string, bool) {
	buildID := strings.TrimSpace(r.PathValue("build_id"))
	if buildID == "" || len(buildID) > maxBuildIDLength {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_build_id", "Invalid build ID"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return "", false
	}
	return buildID, true
}

// parseBoolQuery reads an optional boolean query parameter; absent or malformed is false.
func parseBoolQuery(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}
