// Package gateway exposes the monitor pipeline's live frame stream and
// snapshot, and the command executor's start/stop/status, over HTTP and
// WebSocket (spec.md §6 "Collaborator interfaces", SPEC_FULL domain-stack
// supplement).
package gateway

import (
	"encoding/json"
	"net/http"
)

// envelope mirrors the teacher's gateway response shape (sequence/response
// pair), simplified to a single "ok" boolean plus an optional error string
// since this gateway's operations are not sequence-correlated CiA 309-5
// requests.
type envelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, envelope{OK: false, Error: err.Error()})
}
