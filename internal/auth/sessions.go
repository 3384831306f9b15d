package auth

import (
	"context"
	"time"

	"github.com/nerrad567/retail-auth-core/internal/audit"
	"github.com/nerrad567/retail-auth-core/internal/ids"
)

// TimeoutPolicy maps a user's primary role to their session lifetime.
type TimeoutPolicy struct {
	ByRole  map[string]time.Duration
	Default time.Duration
}

// DefaultTimeoutPolicy returns the built-in role timeouts.
func DefaultTimeoutPolicy() TimeoutPolicy {
	return TimeoutPolicy{
		ByRole: map[string]time.Duration{
			RoleAdmin:              8 * time.Hour,
			RoleManager:            6 * time.Hour,
			RoleAssistantManager:   6 * time.Hour,
			RoleInventoryAssistant: 4 * time.Hour,
			RoleSalesAssistant:     4 * time.Hour,
		},
		Default: 4 * time.Hour,
	}
}

// For returns the timeout for a primary role.
func (p TimeoutPolicy) For(role string) time.Duration {
	if d, ok := p.ByRole[role]; ok && d > 0 {
		return d
	}
	return p.Default
}

// Reasons a session ends, reported to SessionNotifier.
const (
	EndLogout      = "logout"
	EndInvalidated = "invalidated"
	EndForced      = "forced"
	EndExpired     = "expired"
	EndDeactivated = "deactivated"
)

// SessionNotifier is told when a stored session is removed, so connected
// clients holding it can be disconnected.
type SessionNotifier interface {
	SessionEnded(ctx context.Context, userID, sessionID, reason string)
}

// Session is a granted login session.
type Session struct {
	ID        string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	DeviceID  string    `json:"device_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionInfo describes a user's stored session state.
type SessionInfo struct {
	UserID         string     `json:"user_id"`
	Username       string     `json:"username"`
	PrimaryRole    string     `json:"primary_role,omitempty"`
	Active         bool       `json:"active"`
	DeviceID       string     `json:"device_id,omitempty"`
	LastLogin      *time.Time `json:"last_login,omitempty"`
	LastLogout     *time.Time `json:"last_logout,omitempty"`
	TimeoutSeconds int64      `json:"timeout_seconds"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	// CanOverrideSingleDevice is set for users exempt from the one-session rule.
	CanOverrideSingleDevice bool `json:"can_override_single_device"`
}

// SessionManager enforces one live session per user (Admins excepted) and
// expires sessions by their primary role's timeout.
type SessionManager struct {
	d        Deps
	resolver *Resolver
	timeouts TimeoutPolicy
	notifier SessionNotifier
}

// NewSessionManager returns a SessionManager.
func NewSessionManager(d Deps, resolver *Resolver, timeouts TimeoutPolicy) *SessionManager {
	return &SessionManager{d: d.withDefaults(), resolver: resolver, timeouts: timeouts}
}

// SetNotifier registers n to hear about ended sessions.
func (m *SessionManager) SetNotifier(n SessionNotifier) {
	m.notifier = n
}

// Timeouts returns the timeout policy in force.
func (m *SessionManager) Timeouts() TimeoutPolicy {
	return m.timeouts
}

// sessionState is a user's session as seen at now.
type sessionState struct {
	access  *access
	timeout time.Duration
	expires time.Time
}

func (m *SessionManager) state(ctx context.Context, user *User) (*sessionState, error) {
	a, err := m.resolver.loadFor(ctx, user)
	if err != nil {
		return nil, err
	}
	st := &sessionState{access: a, timeout: m.timeouts.For(a.primary)}
	if user.LastLogin != nil {
		st.expires = user.LastLogin.Add(st.timeout)
	}
	return st, nil
}

// expiredAt reports whether the stored session has lapsed at now.
func (st *sessionState) expiredAt(now time.Time) bool {
	return st.expires.IsZero() || !now.Before(st.expires)
}

// CreateSession grants a new session on deviceID. It fails with
// ErrSessionAlreadyActive while another unexpired session exists, unless
// the user holds the Admin role. The check and the write are one statement.
func (m *SessionManager) CreateSession(ctx context.Context, userID, deviceID string) (*Session, error) {
	now := m.d.now()

	user, err := m.d.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrAccountInactive
	}
	if user.LockedAt(now) {
		return nil, ErrAccountLocked
	}

	st, err := m.state(ctx, user)
	if err != nil {
		return nil, err
	}
	isAdmin := st.access.hasRole(RoleAdmin)

	sess := &Session{
		ID:        ids.NewSession(),
		UserID:    user.ID,
		DeviceID:  deviceID,
		CreatedAt: now,
		ExpiresAt: now.Add(st.timeout),
	}
	claim := SessionClaim{SessionID: sess.ID, DeviceID: deviceID, Now: now}
	if !isAdmin {
		staleBefore := now.Add(-st.timeout)
		claim.StaleBefore = &staleBefore
	}

	ok, err := m.d.Users.ClaimSession(ctx, user.ID, claim)
	if err != nil {
		return nil, err
	}
	if !ok {
		m.sessionEvent(ctx, audit.EventSessionCreated, user, "", deviceID, false,
			"login refused: a session is already active on another device", nil)
		return nil, ErrSessionAlreadyActive
	}

	m.d.Metrics.sessionCreated()
	m.sessionEvent(ctx, audit.EventSessionCreated, user, sess.ID, deviceID, true, "session created", map[string]any{
		"timeout_seconds": int(st.timeout.Seconds()),
		"admin_override":  isAdmin && user.HasSession(),
	})
	return sess, nil
}

// ValidateSession checks that sessionID is the user's stored session and
// has not timed out. An expired session is removed before ErrSessionExpired
// is returned.
func (m *SessionManager) ValidateSession(ctx context.Context, userID, sessionID string) error {
	return m.validate(ctx, userID, sessionID, false)
}

// ValidateBoundSession is ValidateSession with the Admin exemption applied
// by CheckBinding: an admin's older device stays valid while any session of
// that admin is stored.
func (m *SessionManager) ValidateBoundSession(ctx context.Context, userID, sessionID string) error {
	return m.validate(ctx, userID, sessionID, true)
}

func (m *SessionManager) validate(ctx context.Context, userID, sessionID string, adminExempt bool) error {
	now := m.d.now()

	user, err := m.d.Users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	mismatch := user.CurrentSessionID != sessionID
	if !user.HasSession() || (mismatch && !adminExempt) {
		return ErrSessionInvalidated
	}
	if !user.IsActive {
		return ErrAccountInactive
	}
	if user.LockedAt(now) {
		return ErrAccountLocked
	}

	st, err := m.state(ctx, user)
	if err != nil {
		return err
	}
	if mismatch && !st.access.hasRole(RoleAdmin) {
		return ErrSessionInvalidated
	}
	if st.expiredAt(now) {
		return m.expire(ctx, user, st, now)
	}
	return nil
}

// expire removes a lapsed session and reports ErrSessionExpired.
func (m *SessionManager) expire(ctx context.Context, user *User, st *sessionState, now time.Time) error {
	cleared, err := m.d.Users.ClearSession(ctx, user.ID, SessionClear{
		ExpectedSessionID: user.CurrentSessionID,
		StaleBefore:       now.Add(-st.timeout),
		Now:               now,
	})
	if err != nil {
		return err
	}
	if cleared {
		m.d.Metrics.sessionEnded(EndExpired, 1)
		m.notify(ctx, user.ID, user.CurrentSessionID, EndExpired)
		m.d.Audit.Emit(ctx, audit.Event{
			Type:        audit.EventSessionExpired,
			Category:    audit.CategorySessionManagement,
			Severity:    audit.SeverityMedium,
			Outcome:     audit.OutcomeWarning,
			UserID:      user.ID,
			Username:    user.Username,
			SessionID:   user.CurrentSessionID,
			DeviceID:    user.DeviceID,
			Description: "session expired",
		})
	}
	return ErrSessionExpired
}

// InvalidateSession ends sessionID. It fails with ErrSessionInvalidated if
// that session is not the one stored.
func (m *SessionManager) InvalidateSession(ctx context.Context, userID, sessionID string) error {
	return m.end(ctx, userID, sessionID, audit.EventSessionInvalidated, EndInvalidated)
}

// Logout ends the caller's own session.
func (m *SessionManager) Logout(ctx context.Context, userID, sessionID string) error {
	return m.end(ctx, userID, sessionID, audit.EventLogout, EndLogout)
}

func (m *SessionManager) end(ctx context.Context, userID, sessionID string, evType audit.EventType, reason string) error {
	user, err := m.d.Users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if sessionID == "" {
		m.sessionEvent(ctx, evType, user, "", "", false, "no session to end", nil)
		return ErrSessionInvalidated
	}

	cleared, err := m.d.Users.ClearSession(ctx, userID, SessionClear{
		ExpectedSessionID: sessionID,
		Now:               m.d.now(),
	})
	if err != nil {
		return err
	}
	if !cleared {
		m.sessionEvent(ctx, evType, user, sessionID, "", false, "session is not current", nil)
		return ErrSessionInvalidated
	}

	m.d.Metrics.sessionEnded(reason, 1)
	m.notify(ctx, userID, sessionID, reason)
	m.sessionEvent(ctx, evType, user, sessionID, user.DeviceID, true, "session ended: "+reason, nil)
	return nil
}

// ForceLogoutUser removes whatever session the user holds. It succeeds
// when there is none.
func (m *SessionManager) ForceLogoutUser(ctx context.Context, userID, reason string) error {
	user, err := m.d.Users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	cleared, err := m.d.Users.ClearSession(ctx, userID, SessionClear{Now: m.d.now()})
	if err != nil {
		return err
	}
	if cleared {
		m.d.Metrics.sessionEnded(EndForced, 1)
		m.notify(ctx, userID, user.CurrentSessionID, EndForced)
	}

	m.d.Audit.Emit(ctx, audit.Event{
		Type:        audit.EventForcedLogout,
		Category:    audit.CategorySessionManagement,
		Severity:    audit.SeverityHigh,
		Outcome:     audit.OutcomeSuccess,
		UserID:      user.ID,
		Username:    user.Username,
		SessionID:   user.CurrentSessionID,
		DeviceID:    user.DeviceID,
		Description: "forced logout",
		Details: map[string]any{
			"reason":      reason,
			"had_session": cleared,
		},
	})
	return nil
}

// RefreshSession restamps the login time of the user's current session,
// extending it by a full timeout, and returns the new expiry.
func (m *SessionManager) RefreshSession(ctx context.Context, userID string) (time.Time, error) {
	now := m.d.now()

	user, err := m.d.Users.GetByID(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}
	if !user.HasSession() {
		m.sessionEvent(ctx, audit.EventSessionRefreshed, user, "", "", false, "no active session", nil)
		return time.Time{}, ErrSessionInvalidated
	}

	st, err := m.state(ctx, user)
	if err != nil {
		return time.Time{}, err
	}
	if st.expiredAt(now) {
		return time.Time{}, m.expire(ctx, user, st, now)
	}

	ok, err := m.d.Users.TouchSession(ctx, user.ID, user.CurrentSessionID, now, now.Add(-st.timeout))
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		m.sessionEvent(ctx, audit.EventSessionRefreshed, user, user.CurrentSessionID, "", false, "session changed during refresh", nil)
		return time.Time{}, ErrSessionInvalidated
	}

	expires := now.Add(st.timeout)
	m.sessionEvent(ctx, audit.EventSessionRefreshed, user, user.CurrentSessionID, user.DeviceID, true, "session refreshed", nil)
	return expires, nil
}

// CleanupExpiredSessions removes every lapsed session and returns how many
// it removed.
func (m *SessionManager) CleanupExpiredSessions(ctx context.Context) (int, error) {
	now := m.d.now()

	users, err := m.d.Users.ListWithSessions(ctx)
	if err != nil {
		return 0, err
	}

	cleaned := 0
	for i := range users {
		user := &users[i]
		st, err := m.state(ctx, user)
		if err != nil {
			return cleaned, err
		}
		if !st.expiredAt(now) {
			continue
		}
		ok, err := m.d.Users.ClearSession(ctx, user.ID, SessionClear{
			ExpectedSessionID: user.CurrentSessionID,
			StaleBefore:       now.Add(-st.timeout),
			Now:               now,
		})
		if err != nil {
			return cleaned, err
		}
		if ok {
			cleaned++
			m.notify(ctx, user.ID, user.CurrentSessionID, EndExpired)
		}
	}

	m.d.Metrics.sessionEnded(EndExpired, cleaned)
	m.d.Audit.Emit(ctx, audit.Event{
		Type:        audit.EventSessionsCleaned,
		Category:    audit.CategorySessionManagement,
		Severity:    audit.SeverityLow,
		Outcome:     audit.OutcomeSuccess,
		Description: "expired sessions removed",
		Details:     map[string]any{"count": cleaned, "checked": len(users)},
	})
	if cleaned > 0 {
		m.d.Logger.Info("expired sessions cleaned", "count", cleaned)
	}
	return cleaned, nil
}

// SessionInfo reports a user's stored session state.
func (m *SessionManager) SessionInfo(ctx context.Context, userID string) (*SessionInfo, error) {
	user, err := m.d.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	st, err := m.state(ctx, user)
	if err != nil {
		return nil, err
	}
	return m.info(user, st, m.d.now()), nil
}

// ActiveSessions lists every unexpired stored session.
func (m *SessionManager) ActiveSessions(ctx context.Context) ([]SessionInfo, error) {
	now := m.d.now()
	users, err := m.d.Users.ListWithSessions(ctx)
	if err != nil {
		return nil, err
	}

	out := []SessionInfo{}
	for i := range users {
		st, err := m.state(ctx, &users[i])
		if err != nil {
			return nil, err
		}
		if st.expiredAt(now) {
			continue
		}
		out = append(out, *m.info(&users[i], st, now))
	}
	return out, nil
}

func (m *SessionManager) info(user *User, st *sessionState, now time.Time) *SessionInfo {
	info := &SessionInfo{
		UserID:                  user.ID,
		Username:                user.Username,
		PrimaryRole:             st.access.primary,
		Active:                  user.HasSession() && !st.expiredAt(now),
		LastLogin:               user.LastLogin,
		LastLogout:              user.LastLogout,
		TimeoutSeconds:          int64(st.timeout / time.Second),
		CanOverrideSingleDevice: st.access.hasRole(RoleAdmin),
	}
	if info.Active {
		info.DeviceID = user.DeviceID
		expires := st.expires
		info.ExpiresAt = &expires
	}
	return info
}

// CheckBinding is the read-only session check applied to bound tokens. A
// non-Admin token must carry the stored session id; an Admin token only
// needs some session to be stored. The session must not have lapsed.
func (m *SessionManager) CheckBinding(ctx context.Context, user *User, sessionID string) error {
	if !user.HasSession() {
		return ErrSessionInvalidated
	}
	st, err := m.state(ctx, user)
	if err != nil {
		return err
	}
	if !st.access.hasRole(RoleAdmin) && user.CurrentSessionID != sessionID {
		return ErrSessionInvalidated
	}
	if st.expiredAt(m.d.now()) {
		return ErrSessionExpired
	}
	return nil
}

func (m *SessionManager) notify(ctx context.Context, userID, sessionID, reason string) {
	if m.notifier == nil || sessionID == "" {
		return
	}
	m.notifier.SessionEnded(ctx, userID, sessionID, reason)
}

func (m *SessionManager) sessionEvent(ctx context.Context, evType audit.EventType, user *User, sessionID, deviceID string, success bool, desc string, details map[string]any) {
	outcome, severity := audit.Result(success)
	m.d.Audit.Emit(ctx, audit.Event{
		Type:        evType,
		Category:    audit.CategorySessionManagement,
		Severity:    severity,
		Outcome:     outcome,
		UserID:      user.ID,
		Username:    user.Username,
		SessionID:   sessionID,
		DeviceID:    deviceID,
		Description: desc,
		Details:     details,
	})
}
