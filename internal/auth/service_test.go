package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nerrad567/retail-auth-core/internal/audit"
)

func TestService_Login(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.createUser(t, "am1", RoleAssistantManager)
	h.sink.Reset()

	res, err := h.svc.Login(ctx, "am1", testPassword, "till-3")
	require.NoError(t, err)
	require.Equal(t, u.ID, res.User.ID)
	require.Equal(t, res.Session.ID, res.Token.SessionID)
	require.Equal(t, "till-3", res.Session.DeviceID)
	require.True(t, res.Session.ExpiresAt.Equal(h.clock.Now().Add(6*time.Hour)))
	require.Equal(t, RoleAssistantManager, res.Context.PrimaryRole)
	require.Contains(t, res.Context.Permissions, PermPOSCreate)
	require.False(t, res.Context.CanManageUsers)

	require.Len(t, h.sink.OfType(audit.EventLoginSuccess), 1)
	require.Len(t, h.sink.OfType(audit.EventSessionCreated), 1)
}

func TestService_LoginSecondDevice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.createUser(t, "sa1", RoleSalesAssistant)

	first, err := h.svc.Login(ctx, "sa1", testPassword, "till-1")
	require.NoError(t, err)

	h.clock.Advance(time.Hour)
	_, err = h.svc.Login(ctx, "sa1", testPassword, "till-2")
	require.ErrorIs(t, err, ErrSessionAlreadyActive)

	// The refused login did not push the first session's expiry out.
	info, err := h.svc.Sessions.SessionInfo(ctx, first.User.ID)
	require.NoError(t, err)
	require.True(t, info.ExpiresAt.Equal(first.Session.ExpiresAt))

	h.clock.Advance(3 * time.Hour)
	_, err = h.svc.Login(ctx, "sa1", testPassword, "till-2")
	require.NoError(t, err)
}

func TestService_LoginFailuresLeaveNoSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.createUser(t, "sa1", RoleSalesAssistant)

	_, err := h.svc.Login(ctx, "sa1", "Wr0ngPass!", "till-1")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	stored, err := h.users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.False(t, stored.HasSession())
	require.Empty(t, h.sink.OfType(audit.EventSessionCreated))
}

func TestService_LoginEventsCarryDevice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.createUser(t, "sa1", RoleSalesAssistant)
	h.createUser(t, "sa2", RoleSalesAssistant)
	h.sink.Reset()

	_, err := h.svc.Login(ctx, "sa1", testPassword, "till-7")
	require.NoError(t, err)
	_, err = h.svc.Login(ctx, "nobody", testPassword, "till-8")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	for range 5 {
		_, _ = h.svc.Login(ctx, "sa2", "Wr0ngPass!", "till-9") //nolint:errcheck // driving lockout
	}

	success := h.sink.OfType(audit.EventLoginSuccess)
	require.Len(t, success, 1)
	require.Equal(t, "till-7", success[0].DeviceID)

	failed := h.sink.OfType(audit.EventLoginFailed)
	require.NotEmpty(t, failed)
	require.Equal(t, "till-8", failed[0].DeviceID)
	for _, ev := range failed[1:] {
		require.Equal(t, "till-9", ev.DeviceID)
	}

	locked := h.sink.OfType(audit.EventAccountLocked)
	require.Len(t, locked, 1)
	require.Equal(t, "till-9", locked[0].DeviceID)
}

func TestService_RefreshToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.createUser(t, "sa1", RoleSalesAssistant)

	res, err := h.svc.Login(ctx, "sa1", testPassword, "till-1")
	require.NoError(t, err)
	p, err := h.svc.VerifyToken(ctx, res.Token.Token)
	require.NoError(t, err)

	h.clock.Advance(45 * time.Minute)
	tok, expires, err := h.svc.RefreshToken(ctx, *p)
	require.NoError(t, err)
	require.Equal(t, res.Session.ID, tok.SessionID)
	require.True(t, expires.Equal(h.clock.Now().Add(4*time.Hour)))
	require.True(t, tok.ExpiresAt.Equal(h.clock.Now().Add(time.Hour)))

	// The old token would have lapsed by now; the fresh one has not.
	h.clock.Advance(30 * time.Minute)
	_, err = h.svc.VerifyToken(ctx, res.Token.Token)
	require.ErrorIs(t, err, ErrTokenExpired)
	_, err = h.svc.VerifyToken(ctx, tok.Token)
	require.NoError(t, err)
	require.Len(t, h.sink.OfType(audit.EventSessionRefreshed), 1)
}

func TestService_RefreshTokenAdminOlderDevice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.createUser(t, "boss", RoleAdmin)

	first, err := h.svc.Login(ctx, "boss", testPassword, "office-pc")
	require.NoError(t, err)
	second, err := h.svc.Login(ctx, "boss", testPassword, "till-1")
	require.NoError(t, err)
	require.NotEqual(t, first.Session.ID, second.Session.ID)

	// The older device's token verifies, so it can be refreshed too.
	p, err := h.svc.VerifyToken(ctx, first.Token.Token)
	require.NoError(t, err)
	tok, _, err := h.svc.RefreshToken(ctx, *p)
	require.NoError(t, err)
	require.Equal(t, first.Session.ID, tok.SessionID)

	// The strict check still sees only the latest session.
	require.ErrorIs(t, h.svc.Sessions.ValidateSession(ctx, p.UserID, first.Session.ID), ErrSessionInvalidated)
	require.NoError(t, h.svc.Sessions.ValidateSession(ctx, p.UserID, second.Session.ID))
}

func TestService_RefreshTokenRequiresSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.createUser(t, "sa1", RoleSalesAssistant)

	_, _, err := h.svc.RefreshToken(ctx, Principal{UserID: u.ID})
	require.ErrorIs(t, err, ErrSessionInvalidated)

	_, _, err = h.svc.RefreshToken(ctx, Principal{UserID: u.ID, SessionID: "ses_stale"})
	require.ErrorIs(t, err, ErrSessionInvalidated)
}

func TestService_Me(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.createUser(t, "ia1", RoleInventoryAssistant)

	user, uc, err := h.svc.Me(ctx, Principal{UserID: u.ID})
	require.NoError(t, err)
	require.Equal(t, "ia1", user.Username)
	require.Equal(t, []string{RoleInventoryAssistant}, uc.Roles)
	require.ElementsMatch(t, []string{PermInventoryRead, PermInventoryCreate, PermInventoryUpdate}, uc.Permissions)

	_, _, err = h.svc.Me(ctx, Principal{UserID: "usr-missing"})
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestService_ChangePassword(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.createUser(t, "sa1", RoleSalesAssistant)

	require.NoError(t, h.svc.ChangePassword(ctx, Principal{UserID: u.ID}, testPassword, "Br4ndNew!pass"))
	_, err := h.svc.Login(ctx, "sa1", "Br4ndNew!pass", "till-1")
	require.NoError(t, err)
}

func TestNewService_RejectsShortSecret(t *testing.T) {
	h := newHarness(t)
	opts := DefaultOptions()
	opts.JWTSecret = "too-short"
	_, err := NewService(h.deps, opts)
	require.Error(t, err)
}
