package transport

import (
	"encoding/json"
	"net/http"

	"github.com/indutny/naughtd/internal/naughterr"
)

// respondJSON writes payload as a JSON response, grounded on the
// teacher's internal/handlers/helpers.go respondJSON helper (now
// deleted — its pattern survives here, generalized from the NAS admin
// API's ad hoc map[string]string payloads to typed response structs).
func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// respondError maps err to the status code spec.md §7 assigns its Kind
// and writes a JSON error body. Errors outside the naughterr taxonomy
// are treated as internal.
func respondError(w http.ResponseWriter, err error) {
	if e, ok := err.(*naughterr.Error); ok {
		respondJSON(w, e.StatusCode(), map[string]string{"error": e.Error()})
		return
	}
	respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}
