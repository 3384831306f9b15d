// Package audit records security events raised by the authentication core.
//
// The core emits events through an Emitter. The Emitter never fails its
// caller: sink errors and panics are logged and dropped, so an unavailable
// audit store cannot block a login. Sinks persist events to SQLite, publish
// them over MQTT and export them to InfluxDB; MultiSink fans out and
// AsyncSink decouples slow sinks from request latency.
package audit

import (
	"context"
	"time"
)

// EventType names what happened.
type EventType string

// Authentication and session events.
const (
	EventLoginSuccess       EventType = "login_success"
	EventLoginFailed        EventType = "login_failed"
	EventLogout             EventType = "logout"
	EventPasswordChanged    EventType = "password_changed"
	EventAccountLocked      EventType = "account_locked"
	EventAccountUnlocked    EventType = "account_unlocked"
	EventAdminCreated       EventType = "admin_created"
	EventSessionCreated     EventType = "session_created"
	EventSessionRefreshed   EventType = "session_refreshed"
	EventSessionInvalidated EventType = "session_invalidated"
	EventSessionExpired     EventType = "session_expired"
	EventSessionsCleaned    EventType = "sessions_cleaned"
	EventForcedLogout       EventType = "forced_logout"
)

// Administration events.
const (
	EventUserCreated       EventType = "user_created"
	EventUserDeactivated   EventType = "user_deactivated"
	EventUserActivated     EventType = "user_activated"
	EventRoleCreated       EventType = "role_created"
	EventRoleUpdated       EventType = "role_updated"
	EventRoleAssigned      EventType = "role_assigned"
	EventRoleRevoked       EventType = "role_revoked"
	EventPermissionCreated EventType = "permission_created"
	EventPermissionGranted EventType = "permission_granted"
	EventPermissionRevoked EventType = "permission_revoked"
	EventAccessDenied      EventType = "access_denied"
)

// Category groups event types.
type Category string

const (
	CategoryAuthentication    Category = "authentication"
	CategoryAuthorization     Category = "authorization"
	CategorySessionManagement Category = "session_management"
	CategorySystem            Category = "system"
)

// Severity ranks events for alerting.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Outcome records whether the audited operation succeeded.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeWarning Outcome = "warning"
)

// Event is one audit record.
type Event struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"event_type"`
	Category    Category       `json:"category"`
	Severity    Severity       `json:"severity"`
	Outcome     Outcome        `json:"outcome"`
	UserID      string         `json:"user_id,omitempty"`
	Username    string         `json:"username,omitempty"`
	SessionID   string         `json:"session_id,omitempty"`
	DeviceID    string         `json:"device_id,omitempty"`
	IPAddress   string         `json:"ip_address,omitempty"`
	Description string         `json:"description"`
	Details     map[string]any `json:"details,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Success reports whether the event records a successful operation.
func (e Event) Success() bool {
	return e.Outcome == OutcomeSuccess
}

// Result returns the outcome and severity for an operation result: high
// severity for any failure, medium otherwise.
func Result(success bool) (Outcome, Severity) {
	if success {
		return OutcomeSuccess, SeverityMedium
	}
	return OutcomeFailure, SeverityHigh
}

// RequestMeta is transport metadata attached to events raised while
// serving a request.
type RequestMeta struct {
	IPAddress string
	UserAgent string
	// ActorID is the authenticated caller, when the request carried a token.
	ActorID string
}

type requestMetaKey struct{}

// WithRequestMeta returns a context carrying meta for events emitted under it.
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

// RequestMetaFrom extracts request metadata, if any.
func RequestMetaFrom(ctx context.Context) (RequestMeta, bool) {
	meta, ok := ctx.Value(requestMetaKey{}).(RequestMeta)
	return meta, ok
}
