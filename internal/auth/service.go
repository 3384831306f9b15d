package auth

import (
	"context"
	"fmt"
	"time"
)

// Options configures NewService.
type Options struct {
	JWTSecret      string
	JWTIssuer      string
	AccessTokenTTL time.Duration
	// EnforceSessionBinding rejects session-bound tokens whose session is
	// no longer the stored one.
	EnforceSessionBinding bool
	Lockout               LockoutPolicy
	Password              PasswordPolicy
	Timeouts              TimeoutPolicy
}

// DefaultOptions returns the built-in policies with session binding on.
// The JWT secret must still be set.
func DefaultOptions() Options {
	return Options{
		JWTIssuer:             "retail-auth",
		AccessTokenTTL:        DefaultAccessTokenTTL,
		EnforceSessionBinding: true,
		Lockout:               DefaultLockoutPolicy(),
		Password:              DefaultPasswordPolicy(),
		Timeouts:              DefaultTimeoutPolicy(),
	}
}

// Service wires the core components together and offers the composite
// flows the transport needs.
type Service struct {
	Credentials *CredentialManager
	Sessions    *SessionManager
	Tokens      *TokenIssuer
	Verifier    *TokenVerifier
	RBAC        *Resolver
	Bootstrap   *Gate
	Directory   *Directory

	d Deps
}

// NewService builds every component from d and opts.
func NewService(d Deps, opts Options) (*Service, error) {
	d = d.withDefaults()

	signer, err := NewHMACSigner(opts.JWTSecret, opts.JWTIssuer)
	if err != nil {
		return nil, err
	}
	signer.WithClock(d.now)

	resolver := NewResolver(d.Users, d.Roles, d.Logger, d.Metrics)
	creds, err := NewCredentialManager(d, resolver, opts.Password, opts.Lockout)
	if err != nil {
		return nil, err
	}
	sessions := NewSessionManager(d, resolver, opts.Timeouts)
	issuer := NewTokenIssuer(signer, opts.AccessTokenTTL, d)

	var binder SessionBinder
	if opts.EnforceSessionBinding {
		binder = sessions
	}

	return &Service{
		Credentials: creds,
		Sessions:    sessions,
		Tokens:      issuer,
		Verifier:    NewTokenVerifier(signer, resolver, binder, d),
		RBAC:        resolver,
		Bootstrap:   NewGate(d, opts.Password, issuer),
		Directory:   NewDirectory(d, opts.Password, sessions),
		d:           d,
	}, nil
}

// LoginResult is everything a client needs after signing in.
type LoginResult struct {
	Token   *IssuedToken `json:"token"`
	Session *Session     `json:"session"`
	User    *User        `json:"user"`
	Context *UserContext `json:"context"`
}

// Login authenticates, opens a session on deviceID and issues a token
// bound to it.
func (s *Service) Login(ctx context.Context, username, password, deviceID string) (*LoginResult, error) {
	principal, err := s.Credentials.Authenticate(ctx, username, password, deviceID)
	if err != nil {
		return nil, err
	}

	sess, err := s.Sessions.CreateSession(ctx, principal.UserID, deviceID)
	if err != nil {
		return nil, err
	}

	res, err := s.completeLogin(ctx, principal.UserID, sess)
	if err != nil {
		// Leave no session behind that no client holds a token for.
		if _, clearErr := s.d.Users.ClearSession(ctx, principal.UserID, SessionClear{
			ExpectedSessionID: sess.ID,
			Now:               s.d.now(),
		}); clearErr != nil {
			s.d.Logger.Error("rolling back session failed", "user_id", principal.UserID, "error", clearErr)
		}
		return nil, err
	}
	return res, nil
}

func (s *Service) completeLogin(ctx context.Context, userID string, sess *Session) (*LoginResult, error) {
	user, err := s.d.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	token, err := s.Tokens.Issue(user, sess.ID, sess.DeviceID)
	if err != nil {
		return nil, err
	}
	uc, err := s.RBAC.GetUserContext(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Token: token, Session: sess, User: user, Context: uc}, nil
}

// Logout ends the caller's session.
func (s *Service) Logout(ctx context.Context, p Principal) error {
	return s.Sessions.Logout(ctx, p.UserID, p.SessionID)
}

// RefreshToken extends the caller's session and issues a fresh token bound
// to it. Admins may refresh from any device they are signed in on.
func (s *Service) RefreshToken(ctx context.Context, p Principal) (*IssuedToken, time.Time, error) {
	if p.SessionID == "" {
		return nil, time.Time{}, fmt.Errorf("%w: token is not bound to a session", ErrSessionInvalidated)
	}
	if err := s.Sessions.ValidateBoundSession(ctx, p.UserID, p.SessionID); err != nil {
		return nil, time.Time{}, err
	}
	expires, err := s.Sessions.RefreshSession(ctx, p.UserID)
	if err != nil {
		return nil, time.Time{}, err
	}
	user, err := s.d.Users.GetByID(ctx, p.UserID)
	if err != nil {
		return nil, time.Time{}, err
	}
	token, err := s.Tokens.Issue(user, p.SessionID, p.DeviceID)
	if err != nil {
		return nil, time.Time{}, err
	}
	return token, expires, nil
}

// VerifyToken resolves a bearer token to its Principal.
func (s *Service) VerifyToken(ctx context.Context, token string) (*Principal, error) {
	return s.Verifier.Verify(ctx, token)
}

// ChangePassword changes the caller's own password.
func (s *Service) ChangePassword(ctx context.Context, p Principal, current, next string) error {
	return s.Credentials.ChangePassword(ctx, p.UserID, current, next)
}

// Me returns the caller's account and capability summary.
func (s *Service) Me(ctx context.Context, p Principal) (*User, *UserContext, error) {
	user, err := s.d.Users.GetByID(ctx, p.UserID)
	if err != nil {
		return nil, nil, err
	}
	uc, err := s.RBAC.GetUserContext(ctx, p.UserID)
	if err != nil {
		return nil, nil, err
	}
	return user, uc, nil
}

// Now returns the service clock's current time.
func (s *Service) Now() time.Time {
	return s.d.now()
}
