package api

import (
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/retail-auth-core/internal/auth"
)

type setParentRequest struct {
	// ParentID may be empty to detach the role from its parent.
	ParentID string `json:"parent_role_id"`
}

type roleHierarchyResponse struct {
	RoleID string      `json:"role_id"`
	Chain  []auth.Role `json:"chain"`
	Names  []string    `json:"names"`
}

// ─── Roles ─────────────────────────────────────────────────────────

// handleListRoles returns every role.
func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := s.auth.Directory.ListRoles(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err, msgAuthRequired)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"roles": roles,
		"count": len(roles),
	})
}

// handleCreateRole creates a role, optionally under a parent.
func (s *Server) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req auth.RoleInput
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, msgInvalidJSONBody)
		return
	}

	role, err := s.auth.Directory.CreateRole(r.Context(), principal(r).UserID, req)
	if err != nil {
		s.writeServiceError(w, r, err, msgAuthRequired)
		return
	}
	writeJSON(w, http.StatusCreated, role)
}

// handleSetRoleParent re-parents a role. Cycles are rejected.
func (s *Server) handleSetRoleParent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req setParentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, msgInvalidJSONBody)
		return
	}

	if err := s.auth.Directory.SetRoleParent(r.Context(), principal(r).UserID, id, req.ParentID); err != nil {
		s.writeServiceError(w, r, err, msgAuthRequired)
		return
	}
	role, err := s.auth.Directory.GetRole(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err, msgAuthRequired)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

// handleRoleHierarchy returns the role's ancestry from the root down to
// the role itself.
func (s *Server) handleRoleHierarchy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	chain, err := s.auth.RBAC.RoleHierarchy(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err, msgAuthRequired)
		return
	}
	slices.Reverse(chain)

	names := make([]string, 0, len(chain))
	for _, role := range chain {
		names = append(names, role.Name)
	}
	writeJSON(w, http.StatusOK, roleHierarchyResponse{RoleID: id, Chain: chain, Names: names})
}

// handleGrantPermission grants a permission to a role.
func (s *Server) handleGrantPermission(w http.ResponseWriter, r *http.Request) {
	roleID := chi.URLParam(r, "id")
	permID := chi.URLParam(r, "permissionId")

	if err := s.auth.Directory.GrantPermission(r.Context(), principal(r).UserID, roleID, permID); err != nil {
		s.writeServiceError(w, r, err, msgAuthRequired)
		return
	}
	s.writeRolePermissions(w, r, roleID, http.StatusCreated)
}

// handleRevokePermission removes a permission from a role.
func (s *Server) handleRevokePermission(w http.ResponseWriter, r *http.Request) {
	roleID := chi.URLParam(r, "id")
	permID := chi.URLParam(r, "permissionId")

	if err := s.auth.Directory.RevokePermission(r.Context(), principal(r).UserID, roleID, permID); err != nil {
		s.writeServiceError(w, r, err, msgAuthRequired)
		return
	}
	s.writeRolePermissions(w, r, roleID, http.StatusOK)
}

// writeRolePermissions responds with the role's direct grants.
func (s *Server) writeRolePermissions(w http.ResponseWriter, r *http.Request, roleID string, status int) {
	perms, err := s.auth.Directory.RolePermissions(r.Context(), roleID)
	if err != nil {
		s.writeServiceError(w, r, err, msgAuthRequired)
		return
	}
	writeJSON(w, status, map[string]any{
		"role_id":     roleID,
		"permissions": perms,
	})
}

// ─── Permissions ───────────────────────────────────────────────────

// handleListPermissions returns the permission catalogue.
func (s *Server) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := s.auth.Directory.ListPermissions(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err, msgAuthRequired)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"permissions": perms,
		"count":       len(perms),
	})
}

// handleCreatePermission adds a resource:action permission.
func (s *Server) handleCreatePermission(w http.ResponseWriter, r *http.Request) {
	var req auth.PermissionInput
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, msgInvalidJSONBody)
		return
	}

	perm, err := s.auth.Directory.CreatePermission(r.Context(), principal(r).UserID, req)
	if err != nil {
		s.writeServiceError(w, r, err, msgAuthRequired)
		return
	}
	writeJSON(w, http.StatusCreated, perm)
}
