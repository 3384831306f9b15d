package api

import (
	"net/http"

	"github.com/nerrad567/retail-auth-core/internal/auth"
)

type bootstrapRequest struct {
	auth.Profile
	DeviceID string `json:"device_id,omitempty"`
}

// handleBootstrapStatus reports whether first-run setup is still open.
func (s *Server) handleBootstrapStatus(w http.ResponseWriter, r *http.Request) {
	exists, err := s.auth.Bootstrap.AdminExists(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err, msgAuthRequired)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"admin_exists":       exists,
		"bootstrap_required": !exists,
	})
}

// handleBootstrapAdmin registers the first administrator. It succeeds at
// most once over the life of the store.
func (s *Server) handleBootstrapAdmin(w http.ResponseWriter, r *http.Request) {
	var req bootstrapRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, msgInvalidJSONBody)
		return
	}
	if req.DeviceID == "" {
		req.DeviceID = r.Header.Get(deviceHeader)
	}

	result, err := s.auth.Bootstrap.RegisterFirstAdmin(r.Context(), req.Profile, req.DeviceID)
	if err != nil {
		s.writeServiceError(w, r, err, msgAuthRequired)
		return
	}

	s.logger.Info("first administrator registered",
		"user_id", result.User.ID,
		"username", result.User.Username,
	)
	writeJSON(w, http.StatusCreated, result)
}
