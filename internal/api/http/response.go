// Package http exposes the ingestion service's HTTP surface: the batch
// ingest endpoint plus health and metrics.
package http

import (
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/logtide/logtide/internal/event"
)

// writeJSON writes data as the JSON body with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeStatus writes the standard acknowledgment envelope.
func writeStatus(w http.ResponseWriter, statusCode int, status, message string) {
	writeJSON(w, statusCode, event.APIResponse{Status: status, Message: message})
}
