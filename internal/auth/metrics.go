package auth

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "retailauth"

// Metrics counts authentication activity. A nil *Metrics records nothing.
type Metrics struct {
	// LoginAttempts counts authenticate calls.
	// Label:
	//   - result: "success", "invalid_credentials", "locked" or "inactive"
	LoginAttempts *prometheus.CounterVec

	// Lockouts counts accounts locked by repeated failures.
	Lockouts prometheus.Counter

	// SessionsCreated counts sessions granted by createSession.
	SessionsCreated prometheus.Counter

	// SessionsEnded counts sessions removed.
	// Label:
	//   - reason: "logout", "invalidated", "forced", "expired" or "deactivated"
	SessionsEnded *prometheus.CounterVec

	// TokensIssued counts signed access tokens.
	TokensIssued prometheus.Counter

	// TokenVerifications counts verify calls.
	// Label:
	//   - result: "valid", "expired", "invalid" or the kind of a later rejection
	TokenVerifications *prometheus.CounterVec

	// PermissionChecks counts hasPermission decisions.
	// Label:
	//   - result: "granted" or "denied"
	PermissionChecks *prometheus.CounterVec
}

// NewMetrics creates the auth metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		LoginAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "login_attempts_total",
			Help:      "Total number of login attempts, by result.",
		}, []string{"result"}),
		Lockouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "account_lockouts_total",
			Help:      "Total number of accounts locked after repeated failures.",
		}),
		SessionsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_created_total",
			Help:      "Total number of sessions created.",
		}),
		SessionsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_ended_total",
			Help:      "Total number of sessions ended, by reason.",
		}, []string{"reason"}),
		TokensIssued: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tokens_issued_total",
			Help:      "Total number of access tokens issued.",
		}),
		TokenVerifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "token_verifications_total",
			Help:      "Total number of token verifications, by result.",
		}, []string{"result"}),
		PermissionChecks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "permission_checks_total",
			Help:      "Total number of permission checks, by decision.",
		}, []string{"result"}),
	}
}

func (m *Metrics) loginAttempt(result string) {
	if m == nil {
		return
	}
	m.LoginAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) lockout() {
	if m == nil {
		return
	}
	m.Lockouts.Inc()
}

func (m *Metrics) sessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}

func (m *Metrics) sessionEnded(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsEnded.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) tokenIssued() {
	if m == nil {
		return
	}
	m.TokensIssued.Inc()
}

func (m *Metrics) tokenVerified(err error) {
	if m == nil {
		return
	}
	var result string
	switch {
	case err == nil:
		result = "valid"
	case errors.Is(err, ErrTokenExpired):
		result = "expired"
	case errors.Is(err, ErrTokenInvalid):
		result = "invalid"
	default:
		result = KindOf(err).String()
	}
	m.TokenVerifications.WithLabelValues(result).Inc()
}

func (m *Metrics) permissionCheck(granted bool) {
	if m == nil {
		return
	}
	result := "denied"
	if granted {
		result = "granted"
	}
	m.PermissionChecks.WithLabelValues(result).Inc()
}
