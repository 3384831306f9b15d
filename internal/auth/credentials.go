package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/retail-auth-core/internal/audit"
)

// LockoutPolicy locks an account for Duration after MaxAttempts
// consecutive failed logins.
type LockoutPolicy struct {
	MaxAttempts int
	Duration    time.Duration
}

// DefaultLockoutPolicy locks for 30 minutes after 5 failures.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{MaxAttempts: 5, Duration: 30 * time.Minute}
}

// timingPassword is hashed once at start-up and verified against when a
// username does not exist, so unknown and known users take equally long.
const timingPassword = "timing-equaliser-Aa1!"

// CredentialManager authenticates users and changes passwords.
type CredentialManager struct {
	d         Deps
	resolver  *Resolver
	policy    PasswordPolicy
	lockout   LockoutPolicy
	dummyHash string
}

// NewCredentialManager returns a CredentialManager.
func NewCredentialManager(d Deps, resolver *Resolver, policy PasswordPolicy, lockout LockoutPolicy) (*CredentialManager, error) {
	d = d.withDefaults()
	dummy, err := d.Hasher.Hash(timingPassword)
	if err != nil {
		return nil, fmt.Errorf("preparing timing hash: %w", err)
	}
	return &CredentialManager{d: d, resolver: resolver, policy: policy, lockout: lockout, dummyHash: dummy}, nil
}

// Policy returns the password policy in force.
func (m *CredentialManager) Policy() PasswordPolicy {
	return m.policy
}

// Authenticate checks a username and password. An unknown username and a
// wrong password both yield ErrInvalidCredentials. Failures count towards
// the lockout; the failure that reaches the limit locks the account.
func (m *CredentialManager) Authenticate(ctx context.Context, username, password, deviceID string) (*Principal, error) {
	now := m.d.now()

	user, err := m.d.Users.GetByUsername(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		_, _ = m.d.Hasher.Verify(password, m.dummyHash) //nolint:errcheck // timing only
		m.loginFailed(ctx, nil, username, deviceID, "unknown username", nil)
		m.d.Metrics.loginAttempt("invalid_credentials")
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if user.LockedAt(now) {
		m.loginFailed(ctx, user, username, deviceID, "account locked", nil)
		m.d.Metrics.loginAttempt("locked")
		return nil, ErrAccountLocked
	}

	ok, err := m.d.Hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return nil, internalError("verifying password", err)
	}
	if !ok {
		return nil, m.recordFailure(ctx, user, deviceID, now)
	}

	if !user.IsActive {
		m.loginFailed(ctx, user, username, deviceID, "account inactive", nil)
		m.d.Metrics.loginAttempt("inactive")
		return nil, ErrAccountInactive
	}

	if err := m.d.Users.RecordSuccessfulLogin(ctx, user.ID, now); err != nil {
		return nil, err
	}
	m.upgradeHash(ctx, user, password)

	roles, err := m.resolver.GetRoles(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	m.d.Audit.Emit(ctx, audit.Event{
		Type:        audit.EventLoginSuccess,
		Category:    audit.CategoryAuthentication,
		Severity:    audit.SeverityMedium,
		Outcome:     audit.OutcomeSuccess,
		UserID:      user.ID,
		Username:    user.Username,
		DeviceID:    deviceID,
		Description: "login succeeded",
	})
	m.d.Metrics.loginAttempt("success")

	return &Principal{UserID: user.ID, Username: user.Username, Roles: roles}, nil
}

// recordFailure counts a wrong password. It emits a single event: an
// account_locked event when this failure locks the account, login_failed
// otherwise.
func (m *CredentialManager) recordFailure(ctx context.Context, user *User, deviceID string, now time.Time) error {
	failure, err := m.d.Users.RecordFailedLogin(ctx, user.ID, m.lockout, now)
	if errors.Is(err, ErrAccountLocked) {
		// Another attempt locked the account between our read and write.
		m.loginFailed(ctx, user, user.Username, deviceID, "account locked", nil)
		m.d.Metrics.loginAttempt("locked")
		return ErrAccountLocked
	}
	if err != nil {
		return err
	}

	m.d.Metrics.loginAttempt("invalid_credentials")
	if failure.Locked() {
		m.d.Metrics.lockout()
		m.d.Audit.Emit(ctx, audit.Event{
			Type:        audit.EventAccountLocked,
			Category:    audit.CategoryAuthentication,
			Severity:    audit.SeverityHigh,
			Outcome:     audit.OutcomeFailure,
			UserID:      user.ID,
			Username:    user.Username,
			DeviceID:    deviceID,
			Description: "account locked after repeated failed logins",
			Details: map[string]any{
				"failed_attempts": failure.Attempts,
				"locked_until":    failure.LockedUntil.UTC().Format(time.RFC3339),
			},
		})
		m.d.Logger.Warn("account locked",
			"user_id", user.ID,
			"failed_attempts", failure.Attempts,
			"locked_until", failure.LockedUntil,
		)
		return ErrInvalidCredentials
	}

	m.loginFailed(ctx, user, user.Username, deviceID, "invalid password", map[string]any{
		"failed_attempts": failure.Attempts,
	})
	return ErrInvalidCredentials
}

func (m *CredentialManager) loginFailed(ctx context.Context, user *User, username, deviceID, reason string, details map[string]any) {
	ev := audit.Event{
		Type:        audit.EventLoginFailed,
		Category:    audit.CategoryAuthentication,
		Severity:    audit.SeverityHigh,
		Outcome:     audit.OutcomeFailure,
		Username:    username,
		DeviceID:    deviceID,
		Description: "login failed: " + reason,
		Details:     details,
	}
	if user != nil {
		ev.UserID = user.ID
	}
	m.d.Audit.Emit(ctx, ev)
}

// upgradeHash re-hashes a password stored under an outdated scheme. A
// failure only costs the upgrade.
func (m *CredentialManager) upgradeHash(ctx context.Context, user *User, password string) {
	if !m.d.Hasher.NeedsRehash(user.PasswordHash) {
		return
	}
	hash, err := m.d.Hasher.Hash(password)
	if err == nil {
		err = m.d.Users.RehashPassword(ctx, user.ID, user.PasswordHash, hash)
	}
	if err != nil {
		m.d.Logger.Warn("password rehash failed", "user_id", user.ID, "error", err)
		return
	}
	m.d.Logger.Info("password hash upgraded", "user_id", user.ID)
}

// ChangePassword replaces the user's password after checking the current
// one and the policy.
func (m *CredentialManager) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	user, err := m.d.Users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := m.d.Hasher.Verify(currentPassword, user.PasswordHash)
	if err != nil {
		return internalError("verifying password", err)
	}
	if !ok {
		m.passwordChanged(ctx, user, false, "current password is incorrect")
		return ErrWrongCurrentPassword
	}

	if err := m.policy.Check(newPassword); err != nil {
		m.passwordChanged(ctx, user, false, err.Error())
		return err
	}

	hash, err := m.d.Hasher.Hash(newPassword)
	if err != nil {
		return internalError("hashing password", err)
	}
	if err := m.d.Users.UpdatePassword(ctx, user.ID, hash, m.d.now()); err != nil {
		return err
	}

	m.passwordChanged(ctx, user, true, "password changed")
	return nil
}

func (m *CredentialManager) passwordChanged(ctx context.Context, user *User, success bool, desc string) {
	outcome, severity := audit.Result(success)
	m.d.Audit.Emit(ctx, audit.Event{
		Type:        audit.EventPasswordChanged,
		Category:    audit.CategoryAuthentication,
		Severity:    severity,
		Outcome:     outcome,
		UserID:      user.ID,
		Username:    user.Username,
		Description: desc,
	})
}

// Unlock clears a user's lock and failure counter.
func (m *CredentialManager) Unlock(ctx context.Context, userID, actorID string) error {
	user, err := m.d.Users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := m.d.Users.Unlock(ctx, userID, actorID, m.d.now()); err != nil {
		return err
	}
	m.d.Audit.Emit(ctx, audit.Event{
		Type:        audit.EventAccountUnlocked,
		Category:    audit.CategoryAuthentication,
		Severity:    audit.SeverityMedium,
		Outcome:     audit.OutcomeSuccess,
		UserID:      user.ID,
		Username:    user.Username,
		Description: "account unlocked",
	})
	return nil
}
