package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/retail-auth-core/internal/auth"
)

// Auth constants.
const (
	// ticketTTL is how long a WebSocket ticket is valid.
	ticketTTL = 60 * time.Second

	// deviceHeader identifies the till or terminal making the request.
	deviceHeader = "X-Device-ID"
)

// ─── Request/Response Types ────────────────────────────────────────

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	DeviceID string `json:"device_id,omitempty"`
}

type refreshResponse struct {
	*auth.IssuedToken
	SessionExpiresAt time.Time `json:"session_expires_at"`
}

type meResponse struct {
	Principal *auth.Principal   `json:"principal"`
	User      *auth.User        `json:"user"`
	Context   *auth.UserContext `json:"context"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ─── Handlers ──────────────────────────────────────────────────────

// handleLogin authenticates a user, opens a session for the device and
// returns a session-bound access token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, msgInvalidJSONBody)
		return
	}
	if req.Username == "" || req.Password == "" {
		writeBadRequest(w, "username and password are required")
		return
	}
	if req.DeviceID == "" {
		req.DeviceID = r.Header.Get(deviceHeader)
	}

	result, err := s.auth.Login(r.Context(), req.Username, req.Password, req.DeviceID)
	if err != nil {
		s.writeServiceError(w, r, err, msgInvalidLogin)
		return
	}

	s.logger.Info("user logged in",
		"user_id", result.User.ID,
		"session_id", result.Session.ID,
		"device_id", result.Session.DeviceID,
	)
	writeJSON(w, http.StatusOK, result)
}

// handleLogout ends the caller's session.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if err := s.auth.Logout(r.Context(), *p); err != nil {
		s.writeServiceError(w, r, err, msgAuthRequired)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

// handleRefresh extends the caller's session and issues a new token.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token, expires, err := s.auth.RefreshToken(r.Context(), *principal(r))
	if err != nil {
		s.writeServiceError(w, r, err, msgAuthRequired)
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{IssuedToken: token, SessionExpiresAt: expires})
}

// handleMe returns the caller's identity, account and capabilities.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	user, uc, err := s.auth.Me(r.Context(), *p)
	if err != nil {
		s.writeServiceError(w, r, err, msgAuthRequired)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{Principal: p, User: user, Context: uc})
}

// handleChangePassword changes the caller's own password.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, msgInvalidJSONBody)
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeBadRequest(w, "current_password and new_password are required")
		return
	}

	if err := s.auth.ChangePassword(r.Context(), *principal(r), req.CurrentPassword, req.NewPassword); err != nil {
		s.writeServiceError(w, r, err, "current password is incorrect")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "password_changed"})
}

// handleWSTicket generates a single-use WebSocket authentication ticket.
// The client uses this ticket to authenticate the WebSocket connection
// without exposing the token in the URL.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	ticket := s.tickets.issue(*principal(r), time.Now())
	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     ticket,
		"expires_in": int(ticketTTL.Seconds()),
	})
}

// principal returns the caller placed in the context by authenticate.
func principal(r *http.Request) *auth.Principal {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		// Only reachable if a protected route was registered outside the
		// authenticate group.
		panic("api: principal missing from request context")
	}
	return p
}

// ─── WebSocket tickets ─────────────────────────────────────────────

// ticketStore holds pending WebSocket authentication tickets.
// Tickets are single-use and expire after ticketTTL.
type ticketStore struct {
	tickets map[string]ticketEntry
	mu      sync.Mutex
}

type ticketEntry struct {
	principal auth.Principal
	expiresAt time.Time
}

func newTicketStore() *ticketStore {
	return &ticketStore{tickets: make(map[string]ticketEntry)}
}

// issue stores a ticket for p and returns it.
func (t *ticketStore) issue(p auth.Principal, now time.Time) string {
	ticket := generateTicket()
	t.mu.Lock()
	t.tickets[ticket] = ticketEntry{principal: p, expiresAt: now.Add(ticketTTL)}
	t.mu.Unlock()
	return ticket
}

// consume checks a ticket and removes it (single-use).
func (t *ticketStore) consume(ticket string, now time.Time) (auth.Principal, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.tickets[ticket]
	if !ok {
		return auth.Principal{}, false
	}
	delete(t.tickets, ticket)

	if !now.Before(entry.expiresAt) {
		return auth.Principal{}, false
	}
	return entry.principal, true
}

// cleanExpired removes expired tickets and returns how many remain.
func (t *ticketStore) cleanExpired(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	for ticket, entry := range t.tickets {
		if !now.Before(entry.expiresAt) {
			delete(t.tickets, ticket)
		}
	}
	return len(t.tickets)
}

// ticketBytes is the number of random bytes used for WebSocket tickets.
const ticketBytes = 32

// generateTicket creates a cryptographically random ticket string.
func generateTicket() string {
	b := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}

// cleanTicketsLoop runs cleanExpired periodically until the context is cancelled.
func (s *Server) cleanTicketsLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tickets.cleanExpired(now)
		}
	}
}
