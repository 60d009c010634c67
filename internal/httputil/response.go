// Package httputil holds the JSON response helpers used by the status
// endpoints.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/banshee-data/nanotrack/internal/monitoring"
)

var logf = monitoring.Component("http")

// WriteJSON writes data as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logf("failed to encode json response: %v", err)
	}
}

// WriteJSONError writes {"error": msg} with the given status code.
func WriteJSONError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}

// MethodNotAllowed writes a 405 response.
func MethodNotAllowed(w http.ResponseWriter) {
	WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// GetOnly wraps h so that any method other than GET or HEAD gets a 405.
func GetOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			MethodNotAllowed(w)
			return
		}
		h(w, r)
	}
}
