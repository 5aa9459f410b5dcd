package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/caseflow-io/caseflow-engine/pkg/apperrors"
)

// apiError is the error envelope every endpoint returns. Entity and SourceID
// are set on configuration rejections so the operator can find the offending
// mapping entry without parsing the message.
type apiError struct {
	Error    string `json:"error"`
	Message  string `json:"message"`
	Entity   string `json:"entity,omitempty"`
	SourceID int64  `json:"source_id,omitempty"`
}

// ErrorResponse writes a JSON error envelope and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	return WriteJSON(w, statusCode, apiError{Error: errorCode, Message: message})
}

// ConfigErrorResponse writes the 422 envelope for a rejected mapping
// configuration, carrying the offending entity reference.
func ConfigErrorResponse(w http.ResponseWriter, cfgErr *apperrors.ConfigError) error {
	return WriteJSON(w, http.StatusUnprocessableEntity, apiError{
		Error:    "invalid_configuration",
		Message:  cfgErr.Error(),
		Entity:   cfgErr.EntityType,
		SourceID: cfgErr.SourceID,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}
