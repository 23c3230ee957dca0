// Package api exposes the HTTP surface: analysis endpoints, checklist state
// management, report archive queries, usage/health introspection, and the
// live websocket stream.
package api

import (
	"encoding/json"
	"net/http"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// respondError renders the error envelope clients rely on:
// {"status":"error","error":"..."}.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"status": "error", "error": message})
}
