package api

import "net/http"

// handleListSessions returns every unexpired session.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.auth.Sessions.ActiveSessions(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err, msgAuthRequired)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// handleCleanupSessions clears every lapsed session now rather than
// waiting for the scheduled sweep.
func (s *Server) handleCleanupSessions(w http.ResponseWriter, r *http.Request) {
	n, err := s.auth.Sessions.CleanupExpiredSessions(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err, msgAuthRequired)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleaned": n})
}
