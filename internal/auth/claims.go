package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// minSecretLength is the shortest HMAC key accepted (256 bits).
const minSecretLength = 32

// Claims is the access token payload: the standard claims plus the
// username and the optional session the token is bound to.
type Claims struct {
	jwt.RegisteredClaims
	Username  string `json:"username"`
	SessionID string `json:"sid,omitempty"`
	DeviceID  string `json:"did,omitempty"`
}

// TokenSigner signs claims and parses signed tokens. Parse checks the
// signature before expiry and reports ErrTokenInvalid or ErrTokenExpired.
type TokenSigner interface {
	Sign(claims *Claims) (string, error)
	Parse(token string) (*Claims, error)
}

// HMACSigner signs HS256 tokens with a shared secret.
type HMACSigner struct {
	key    []byte
	issuer string
	now    func() time.Time
}

// NewHMACSigner returns an HS256 signer. The secret comes from
// configuration and must be at least 32 bytes.
func NewHMACSigner(secret, issuer string) (*HMACSigner, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", minSecretLength)
	}
	return &HMACSigner{key: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// WithClock sets the time source used to check expiry.
func (s *HMACSigner) WithClock(now func() time.Time) *HMACSigner {
	s.now = now
	return s
}

// Sign fills the issuer and token id when missing and signs claims.
func (s *HMACSigner) Sign(claims *Claims) (string, error) {
	if claims.Issuer == "" {
		claims.Issuer = s.issuer
	}
	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}

// Parse validates and parses a signed token.
func (s *HMACSigner) Parse(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(_ *jwt.Token) (any, error) {
		return s.key, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	return claims, nil
}
