// Package handlers contains the HTTP request/response wrappers. No
// business logic lives here; every handler validates input, calls a
// service and renders the result.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/racepix/racepix/internal/faults"
)

const errInvalidRequestBody = "invalid request body"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondFault maps the error taxonomy onto HTTP status codes: caller
// mistakes are 400, upstream trouble is 502, the rest is 500.
func respondFault(w http.ResponseWriter, err error) {
	switch {
	case faults.IsValidation(err):
		respondError(w, http.StatusBadRequest, err.Error())
	case faults.IsExternalService(err) || faults.IsRetrieval(err):
		respondError(w, http.StatusBadGateway, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeJSONBody parses a JSON request body into dst. An empty body is
// fine; dst keeps its zero values.
func decodeJSONBody(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(dst)
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
