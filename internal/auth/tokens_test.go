package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTokenIssuer_Issue(t *testing.T) {
	h := newHarness(t)
	u := h.createUser(t, "sa1", RoleSalesAssistant)

	tok, err := h.svc.Tokens.Issue(u, "ses_1", "till-1")
	require.NoError(t, err)
	require.Equal(t, "Bearer", tok.TokenType)
	require.Equal(t, "ses_1", tok.SessionID)
	require.Equal(t, int64(3600), tok.ExpiresIn)
	require.True(t, tok.ExpiresAt.Equal(h.clock.Now().Add(time.Hour)))

	signer, err := NewHMACSigner(testSecret, DefaultOptions().JWTIssuer)
	require.NoError(t, err)
	claims, err := signer.WithClock(h.clock.Now).Parse(tok.Token)
	require.NoError(t, err)
	require.Equal(t, u.ID, claims.Subject)
	require.Equal(t, "sa1", claims.Username)
	require.Equal(t, "ses_1", claims.SessionID)
	require.Equal(t, "till-1", claims.DeviceID)
}

func TestTokenVerifier_Order(t *testing.T) {
	ctx := context.Background()

	t.Run("malformed", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.svc.VerifyToken(ctx, "not.a.token")
		require.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("expired", func(t *testing.T) {
		h := newHarness(t)
		h.createUser(t, "sa1", RoleSalesAssistant)
		res, err := h.svc.Login(ctx, "sa1", testPassword, "till-1")
		require.NoError(t, err)

		h.clock.Advance(time.Hour + time.Second)
		_, err = h.svc.VerifyToken(ctx, res.Token.Token)
		require.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("unknown user", func(t *testing.T) {
		h := newHarness(t)
		signer, err := NewHMACSigner(testSecret, DefaultOptions().JWTIssuer)
		require.NoError(t, err)
		now := h.clock.Now()
		token, err := signer.WithClock(h.clock.Now).Sign(&Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "usr-ghost",
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			},
			Username: "ghost",
		})
		require.NoError(t, err)

		_, err = h.svc.VerifyToken(ctx, token)
		require.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("inactive before session", func(t *testing.T) {
		h := newHarness(t)
		u := h.createUser(t, "sa1", RoleSalesAssistant)
		res, err := h.svc.Login(ctx, "sa1", testPassword, "till-1")
		require.NoError(t, err)

		// Deactivation also drops the session; inactivity is reported first.
		require.NoError(t, h.svc.Directory.SetUserActive(ctx, "", u.ID, false))
		_, err = h.svc.VerifyToken(ctx, res.Token.Token)
		require.ErrorIs(t, err, ErrAccountInactive)
	})

	t.Run("locked", func(t *testing.T) {
		h := newHarness(t)
		h.createUser(t, "sa1", RoleSalesAssistant)
		res, err := h.svc.Login(ctx, "sa1", testPassword, "till-1")
		require.NoError(t, err)
		for range 5 {
			_, _ = h.svc.Credentials.Authenticate(ctx, "sa1", "Wr0ngPass!", "") //nolint:errcheck // driving lockout
		}

		_, err = h.svc.VerifyToken(ctx, res.Token.Token)
		require.ErrorIs(t, err, ErrAccountLocked)
	})

	t.Run("session ended", func(t *testing.T) {
		h := newHarness(t)
		h.createUser(t, "sa1", RoleSalesAssistant)
		res, err := h.svc.Login(ctx, "sa1", testPassword, "till-1")
		require.NoError(t, err)

		p, err := h.svc.VerifyToken(ctx, res.Token.Token)
		require.NoError(t, err)
		require.NoError(t, h.svc.Logout(ctx, *p))

		_, err = h.svc.VerifyToken(ctx, res.Token.Token)
		require.ErrorIs(t, err, ErrSessionInvalidated)
	})

	t.Run("session lapsed", func(t *testing.T) {
		h := newHarness(t, func(o *Options) { o.AccessTokenTTL = 12 * time.Hour })
		h.createUser(t, "sa1", RoleSalesAssistant)
		res, err := h.svc.Login(ctx, "sa1", testPassword, "till-1")
		require.NoError(t, err)

		h.clock.Advance(4 * time.Hour)
		_, err = h.svc.VerifyToken(ctx, res.Token.Token)
		require.ErrorIs(t, err, ErrSessionExpired)

		// Verification is read-only: the session is still stored.
		stored, err := h.users.GetByUsername(ctx, "sa1")
		require.NoError(t, err)
		require.True(t, stored.HasSession())
	})
}

func TestTokenVerifier_Principal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.createUser(t, "mgr1", RoleManager)

	res, err := h.svc.Login(ctx, "mgr1", testPassword, "office")
	require.NoError(t, err)

	p, err := h.svc.VerifyToken(ctx, res.Token.Token)
	require.NoError(t, err)
	require.Equal(t, u.ID, p.UserID)
	require.Equal(t, "mgr1", p.Username)
	require.Equal(t, res.Session.ID, p.SessionID)
	require.Equal(t, "office", p.DeviceID)
	require.Equal(t, []string{RoleManager}, p.Roles)
	require.True(t, p.IssuedAt.Equal(h.clock.Now()))
	require.True(t, p.ExpiresAt.Equal(h.clock.Now().Add(time.Hour)))
}

func TestTokenVerifier_AdminTokensOnEveryDevice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.createUser(t, "boss", RoleAdmin)

	office, err := h.svc.Login(ctx, "boss", testPassword, "office-pc")
	require.NoError(t, err)
	tablet, err := h.svc.Login(ctx, "boss", testPassword, "tablet")
	require.NoError(t, err)

	_, err = h.svc.VerifyToken(ctx, office.Token.Token)
	require.NoError(t, err)
	_, err = h.svc.VerifyToken(ctx, tablet.Token.Token)
	require.NoError(t, err)
}

func TestTokenVerifier_BindingDisabled(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.EnforceSessionBinding = false })
	ctx := context.Background()
	h.createUser(t, "sa1", RoleSalesAssistant)

	res, err := h.svc.Login(ctx, "sa1", testPassword, "till-1")
	require.NoError(t, err)
	p, err := h.svc.VerifyToken(ctx, res.Token.Token)
	require.NoError(t, err)
	require.NoError(t, h.svc.Logout(ctx, *p))

	_, err = h.svc.VerifyToken(ctx, res.Token.Token)
	require.NoError(t, err)
}

func TestTokenVerifier_Metrics(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.createUser(t, "sa1", RoleSalesAssistant)

	reg := prometheus.NewRegistry()
	d := h.deps
	d.Metrics = NewMetrics(reg)
	opts := DefaultOptions()
	opts.JWTSecret = testSecret
	svc, err := NewService(d, opts)
	require.NoError(t, err)

	res, err := svc.Login(ctx, "sa1", testPassword, "till-1")
	require.NoError(t, err)
	_, err = svc.VerifyToken(ctx, res.Token.Token)
	require.NoError(t, err)
	_, err = svc.VerifyToken(ctx, "garbage")
	require.Error(t, err)
	_, err = svc.Login(ctx, "sa1", "Wr0ngPass!", "till-2")
	require.Error(t, err)

	require.InDelta(t, 1, testutil.ToFloat64(d.Metrics.TokenVerifications.WithLabelValues("valid")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(d.Metrics.TokenVerifications.WithLabelValues("invalid")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(d.Metrics.TokensIssued), 0)
	require.InDelta(t, 1, testutil.ToFloat64(d.Metrics.SessionsCreated), 0)
	require.InDelta(t, 1, testutil.ToFloat64(d.Metrics.LoginAttempts.WithLabelValues("success")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(d.Metrics.LoginAttempts.WithLabelValues("invalid_credentials")), 0)
}
