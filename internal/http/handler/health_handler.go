package handler

import (
	"net/http"
)

// HealthCheckHandler answers liveness checks for the status server. It does
// not look at the simulation, so it stays 200 before the first snapshot.
func HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
