package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/retail-auth-core/internal/audit"
)

// handleListAuditEvents returns paginated audit events with optional filters.
//
// Query parameters:
//   - event_type: filter by event type (login_failed, account_locked, ...)
//   - category: filter by category (authentication, authorization, ...)
//   - user_id: filter by subject user
//   - success: true or false
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAuditEvents(w http.ResponseWriter, r *http.Request) {
	if s.auditLog == nil {
		writeInternalError(w)
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Type:     audit.EventType(q.Get("event_type")),
		Category: audit.Category(q.Get("category")),
		UserID:   q.Get("user_id"),
	}

	if v := q.Get("success"); v != "" {
		ok, err := strconv.ParseBool(v)
		if err != nil {
			writeBadRequest(w, "success must be true or false")
			return
		}
		filter.Outcome, _ = audit.Result(ok)
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.auditLog.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit events", "error", err)
		writeInternalError(w)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
