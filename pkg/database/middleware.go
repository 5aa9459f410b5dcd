package database

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WithProjectContext creates middleware that sets up a project-scoped DB
// connection from the {pid} path parameter. The connection is automatically
// cleaned up after the handler returns.
func WithProjectContext(db *DB, logger *zap.Logger) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			pidStr := r.PathValue("pid")
			projectID, err := uuid.Parse(pidStr)
			if err != nil {
				logger.Warn("Invalid project ID in path",
					zap.String("project_id", pidStr),
					zap.Error(err))
				writeError(w, http.StatusBadRequest, "invalid_project_id", "Invalid project ID format")
				return
			}

			scope, err := db.WithProject(r.Context(), projectID)
			if err != nil {
				logger.Error("Failed to acquire project connection",
					zap.String("project_id", projectID.String()),
					zap.Error(err))
				writeError(w, http.StatusInternalServerError, "database_error", "Database connection error")
				return
			}
			defer scope.Close()

			ctx := SetProjectScope(r.Context(), scope)
			next(w, r.WithContext(ctx))
		}
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}
