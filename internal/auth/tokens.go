package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultAccessTokenTTL is the access token lifetime.
const DefaultAccessTokenTTL = time.Hour

// IssuedToken is a signed access token and its validity window.
type IssuedToken struct {
	Token     string    `json:"access_token"`
	TokenType string    `json:"token_type"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	ExpiresIn int64     `json:"expires_in"`
	SessionID string    `json:"session_id,omitempty"`
}

// TokenIssuer mints access tokens.
type TokenIssuer struct {
	signer  TokenSigner
	ttl     time.Duration
	now     func() time.Time
	metrics *Metrics
}

// NewTokenIssuer returns an issuer minting tokens valid for ttl.
func NewTokenIssuer(signer TokenSigner, ttl time.Duration, d Deps) *TokenIssuer {
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}
	d = d.withDefaults()
	return &TokenIssuer{signer: signer, ttl: ttl, now: d.now, metrics: d.Metrics}
}

// Issue signs a token for user. sessionID may be empty for a token that is
// not bound to a session.
func (i *TokenIssuer) Issue(user *User, sessionID, deviceID string) (*IssuedToken, error) {
	now := i.now().Truncate(time.Second)
	expires := now.Add(i.ttl)

	signed, err := i.signer.Sign(&Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Username:  user.Username,
		SessionID: sessionID,
		DeviceID:  deviceID,
	})
	if err != nil {
		return nil, internalError("issuing token", err)
	}

	i.metrics.tokenIssued()
	return &IssuedToken{
		Token:     signed,
		TokenType: "Bearer",
		IssuedAt:  now,
		ExpiresAt: expires,
		ExpiresIn: int64(i.ttl / time.Second),
		SessionID: sessionID,
	}, nil
}

// SessionBinder checks a token's session against the stored one.
type SessionBinder interface {
	CheckBinding(ctx context.Context, user *User, sessionID string) error
}

// TokenVerifier turns a token into a Principal. Verification reads but
// never writes.
type TokenVerifier struct {
	signer   TokenSigner
	users    UserRepository
	resolver *Resolver
	binder   SessionBinder
	metrics  *Metrics
	now      func() time.Time
}

// NewTokenVerifier returns a verifier. With a nil binder, tokens are not
// checked against the stored session.
func NewTokenVerifier(signer TokenSigner, resolver *Resolver, binder SessionBinder, d Deps) *TokenVerifier {
	d = d.withDefaults()
	return &TokenVerifier{
		signer:   signer,
		users:    d.Users,
		resolver: resolver,
		binder:   binder,
		metrics:  d.Metrics,
		now:      d.now,
	}
}

// Verify checks, in order: signature, expiry, that the user exists, that
// the account is active and unlocked, and, for session-bound tokens, that
// the session is still current.
func (v *TokenVerifier) Verify(ctx context.Context, token string) (*Principal, error) {
	p, err := v.verify(ctx, token)
	v.metrics.tokenVerified(err)
	return p, err
}

func (v *TokenVerifier) verify(ctx context.Context, token string) (*Principal, error) {
	claims, err := v.signer.Parse(token)
	if err != nil {
		return nil, err
	}

	user, err := v.users.GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrAccountInactive
	}
	if user.LockedAt(v.now()) {
		return nil, ErrAccountLocked
	}
	if v.binder != nil && claims.SessionID != "" {
		if err := v.binder.CheckBinding(ctx, user, claims.SessionID); err != nil {
			return nil, err
		}
	}

	roles, err := v.resolver.GetRoles(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	p := &Principal{
		UserID:    user.ID,
		Username:  user.Username,
		SessionID: claims.SessionID,
		DeviceID:  claims.DeviceID,
		Roles:     roles,
	}
	if claims.IssuedAt != nil {
		p.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, nil
}
