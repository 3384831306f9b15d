package api

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/retail-auth-core/internal/auth"
)

// defaultForceLogoutReason is recorded when the caller gives none.
const defaultForceLogoutReason = "administrator request"

// ─── Request/Response Types ────────────────────────────────────────

type createUserRequest struct {
	auth.Profile
	Role string `json:"role"`
}

type assignRoleRequest struct {
	Primary bool `json:"primary"`
}

type forceLogoutRequest struct {
	Reason string `json:"reason"`
}

type userResponse struct {
	User    *auth.User        `json:"user"`
	Roles   []auth.UserRole   `json:"roles"`
	Session *auth.SessionInfo `json:"session"`
}

// ─── Handlers ──────────────────────────────────────────────────────

// handleListUsers returns all user accounts.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.auth.Directory.ListUsers(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err, msgAuthRequired)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

// handleCreateUser creates a new user account with a primary role.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, msgInvalidJSONBody)
		return
	}
	if req.Role == "" {
		writeBadRequest(w, "role is required")
		return
	}

	p := principal(r)
	// Only full administrators can mint other administrators
	if req.Role == auth.RoleAdmin {
		if err := s.requireAdminGrant(r.Context(), p); err != nil {
			s.writeServiceError(w, r, err, msgAuthRequired)
			return
		}
	}

	user, err := s.auth.Directory.CreateUser(r.Context(), p.UserID, req.Profile, req.Role)
	if err != nil {
		s.writeServiceError(w, r, err, msgAuthRequired)
		return
	}

	s.logger.Info("user created", "user_id", user.ID, "username", user.Username, "role", req.Role, "created_by", p.UserID)
	writeJSON(w, http.StatusCreated, user)
}

// handleGetUser returns a single user with roles and session state.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	user, err := s.auth.Directory.GetUser(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err, msgAuthRequired)
		return
	}
	roles, err := s.auth.Directory.UserRoles(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err, msgAuthRequired)
		return
	}
	info, err := s.auth.Sessions.SessionInfo(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err, msgAuthRequired)
		return
	}

	writeJSON(w, http.StatusOK, userResponse{User: user, Roles: roles, Session: info})
}

// handleDeactivateUser disables an account and ends its session.
func (s *Server) handleDeactivateUser(w http.ResponseWriter, r *http.Request) {
	s.setUserActive(w, r, false)
}

// handleActivateUser re-enables an account.
func (s *Server) handleActivateUser(w http.ResponseWriter, r *http.Request) {
	s.setUserActive(w, r, true)
}

func (s *Server) setUserActive(w http.ResponseWriter, r *http.Request, active bool) {
	id := chi.URLParam(r, "id")
	p := principal(r)

	if !active && id == p.UserID {
		writeBadRequest(w, "cannot deactivate your own account")
		return
	}

	if err := s.guardAdminTarget(r.Context(), p, id); err != nil {
		s.writeServiceError(w, r, err, msgAuthRequired)
		return
	}

	if err := s.auth.Directory.SetUserActive(r.Context(), p.UserID, id, active); err != nil {
		s.writeServiceError(w, r, err, msgAuthRequired)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":   id,
		"is_active": active,
	})
}

// handleAssignRole gives a user a role, optionally as primary.
func (s *Server) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	roleID := chi.URLParam(r, "roleId")

	var req assignRoleRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeBadRequest(w, msgInvalidJSONBody)
		return
	}

	p := principal(r)
	role, err := s.auth.Directory.GetRole(r.Context(), roleID)
	if err != nil {
		s.writeServiceError(w, r, err, msgAuthRequired)
		return
	}
	if role.Name == auth.RoleAdmin {
		if err := s.requireAdminGrant(r.Context(), p); err != nil {
			s.writeServiceError(w, r, err, msgAuthRequired)
			return
		}
	}

	assignment, err := s.auth.Directory.AssignRole(r.Context(), p.UserID, userID, roleID, req.Primary)
	if err != nil {
		s.writeServiceError(w, r, err, msgAuthRequired)
		return
	}
	writeJSON(w, http.StatusCreated, assignment)
}

// handleRevokeRole removes a role from a user.
func (s *Server) handleRevokeRole(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	roleID := chi.URLParam(r, "roleId")

	if err := s.auth.Directory.RevokeRole(r.Context(), principal(r).UserID, userID, roleID); err != nil {
		s.writeServiceError(w, r, err, msgAuthRequired)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleForceLogout removes whatever session the user holds.
func (s *Server) handleForceLogout(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req forceLogoutRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeBadRequest(w, msgInvalidJSONBody)
		return
	}
	if req.Reason == "" {
		req.Reason = defaultForceLogoutReason
	}

	if err := s.guardAdminTarget(r.Context(), principal(r), id); err != nil {
		s.writeServiceError(w, r, err, msgAuthRequired)
		return
	}

	if err := s.auth.Sessions.ForceLogoutUser(r.Context(), id, req.Reason); err != nil {
		s.writeServiceError(w, r, err, msgAuthRequired)
		return
	}

	s.logger.Info("user force-logged out", "user_id", id, "by", principal(r).UserID, "reason", req.Reason)
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": id,
		"status":  "logged_out",
	})
}

// requireAdminGrant passes when p holds the full administrative grant.
func (s *Server) requireAdminGrant(ctx context.Context, p *auth.Principal) error {
	return s.auth.RBAC.Require(ctx, *p, auth.PermAdminFullAccess)
}

// guardAdminTarget applies requireAdminGrant when the target user holds Admin.
func (s *Server) guardAdminTarget(ctx context.Context, p *auth.Principal, targetID string) error {
	isAdmin, err := s.auth.RBAC.IsAdmin(ctx, targetID)
	if err != nil {
		return err
	}
	if !isAdmin {
		return nil
	}
	return s.requireAdminGrant(ctx, p)
}

// decodeOptionalJSON decodes the body into v when one was sent.
func decodeOptionalJSON(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := decodeJSON(r, v)
	if err == io.EOF {
		return nil
	}
	return err
}
