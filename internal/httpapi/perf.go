package httpapi

import "net/http"

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	// A nil *Metrics still yields an empty snapshot.
	respondJSON(w, http.StatusOK, s.metrics.SnapshotLatency())
}
