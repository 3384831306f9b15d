package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/retail-auth-core/internal/auth"
)

// healthCheckTimeout bounds the dependency probes made by /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)
	r.Use(s.requestMetaMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/bootstrap/status", s.handleBootstrapStatus)

		// Credential-bearing public endpoints are throttled per client address
		r.Group(func(r chi.Router) {
			r.Use(s.loginRateLimitMiddleware)
			r.Post("/bootstrap/admin", s.handleBootstrapAdmin)
			r.Post("/auth/login", s.handleLogin)
		})

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Post("/auth/logout", s.handleLogout)
			r.Post("/auth/refresh", s.handleRefresh)
			r.Get("/auth/me", s.handleMe)
			r.Post("/auth/password", s.handleChangePassword)
			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Route("/users", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermUsersRead)).Get("/", s.handleListUsers)
				r.With(s.requirePermission(auth.PermUsersCreate)).Post("/", s.handleCreateUser)

				r.Route("/{id}", func(r chi.Router) {
					r.With(s.requireSelfOr(auth.PermUsersRead)).Get("/", s.handleGetUser)
					r.With(s.requirePermission(auth.PermUsersUpdate)).Post("/deactivate", s.handleDeactivateUser)
					r.With(s.requirePermission(auth.PermUsersUpdate)).Post("/activate", s.handleActivateUser)
					r.With(s.requirePermission(auth.PermUsersUpdate)).Post("/roles/{roleId}", s.handleAssignRole)
					r.With(s.requirePermission(auth.PermUsersUpdate)).Delete("/roles/{roleId}", s.handleRevokeRole)
					r.With(s.requirePermission(auth.PermSessionsManage)).Post("/force-logout", s.handleForceLogout)
				})
			})

			r.Route("/roles", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermRolesRead)).Get("/", s.handleListRoles)
				r.With(s.requirePermission(auth.PermRolesCreate)).Post("/", s.handleCreateRole)

				r.Route("/{id}", func(r chi.Router) {
					r.With(s.requirePermission(auth.PermRolesUpdate)).Put("/parent", s.handleSetRoleParent)
					r.With(s.requirePermission(auth.PermRolesRead)).Get("/hierarchy", s.handleRoleHierarchy)
					r.With(s.requirePermission(auth.PermRolesUpdate)).Post("/permissions/{permissionId}", s.handleGrantPermission)
					r.With(s.requirePermission(auth.PermRolesUpdate)).Delete("/permissions/{permissionId}", s.handleRevokePermission)
				})
			})

			r.Route("/permissions", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermPermissionsRead)).Get("/", s.handleListPermissions)
				r.With(s.requirePermission(auth.PermPermissionsCreate)).Post("/", s.handleCreatePermission)
			})

			r.Route("/sessions", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermSessionsRead)).Get("/", s.handleListSessions)
				r.With(s.requirePermission(auth.PermSessionsManage)).Post("/cleanup", s.handleCleanupSessions)
			})

			r.With(s.requirePermission(auth.PermAuditRead)).Get("/audit", s.handleListAuditEvents)
		})
	})

	return r
}

// handleHealth returns the server health status. The account store is
// required; the broker is reported but never fails the check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := http.StatusOK
	checks := map[string]string{}

	if s.db != nil {
		if err := s.db.HealthCheck(ctx); err != nil {
			s.logger.Warn("database health check failed", "error", err)
			checks["database"] = "unavailable"
			status = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	}
	if s.mqtt != nil {
		if s.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
		}
	}

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":         state,
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"checks":         checks,
	})
}
