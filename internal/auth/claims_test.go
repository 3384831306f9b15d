package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testSigner(t *testing.T, clock *testClock) *HMACSigner {
	t.Helper()
	s, err := NewHMACSigner(testSecret, "retail-auth")
	if err != nil {
		t.Fatalf("NewHMACSigner() error = %v", err)
	}
	return s.WithClock(clock.Now)
}

func TestHMACSigner_SignAndParse(t *testing.T) {
	clock := newTestClock()
	s := testSigner(t, clock)
	now := clock.Now()

	token, err := s.Sign(&Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "usr-001",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Username:  "till1",
		SessionID: "ses_abc",
	})
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	claims, err := s.Parse(token)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if claims.Subject != "usr-001" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "usr-001")
	}
	if claims.Username != "till1" {
		t.Errorf("Username = %q, want %q", claims.Username, "till1")
	}
	if claims.SessionID != "ses_abc" {
		t.Errorf("SessionID = %q, want %q", claims.SessionID, "ses_abc")
	}
	if claims.Issuer != "retail-auth" {
		t.Errorf("Issuer = %q, want %q", claims.Issuer, "retail-auth")
	}
	if claims.ID == "" {
		t.Error("JTI (ID) should not be empty")
	}
}

func TestHMACSigner_Parse_Rejections(t *testing.T) {
	clock := newTestClock()
	s := testSigner(t, clock)
	now := clock.Now()

	sign := func(t *testing.T, signer *HMACSigner, c *Claims) string {
		t.Helper()
		tok, err := signer.Sign(c)
		if err != nil {
			t.Fatalf("Sign() error = %v", err)
		}
		return tok
	}
	valid := func() *Claims {
		return &Claims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "usr-001",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		}}
	}

	other, err := NewHMACSigner("another-secret-key-for-jwt-signing-xyz", "retail-auth")
	if err != nil {
		t.Fatalf("NewHMACSigner() error = %v", err)
	}
	otherIssuer, err := NewHMACSigner(testSecret, "someone-else")
	if err != nil {
		t.Fatalf("NewHMACSigner() error = %v", err)
	}

	noSubject := valid()
	noSubject.Subject = ""
	noExpiry := valid()
	noExpiry.ExpiresAt = nil
	expired := valid()
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Second))

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, valid()).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("signing none token: %v", err)
	}

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"garbage", "not-a-jwt", ErrTokenInvalid},
		{"wrong secret", sign(t, other, valid()), ErrTokenInvalid},
		{"wrong issuer", sign(t, otherIssuer, valid()), ErrTokenInvalid},
		{"alg none", noneToken, ErrTokenInvalid},
		{"missing subject", sign(t, s, noSubject), ErrTokenInvalid},
		{"missing expiry", sign(t, s, noExpiry), ErrTokenInvalid},
		{"expired", sign(t, s, expired), ErrTokenExpired},
		{"expired with wrong secret", sign(t, other, expired), ErrTokenInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Parse(tt.token)
			if !errors.Is(err, tt.want) {
				t.Errorf("Parse() error = %v, want %v", err, tt.want)
			}
			if KindOf(err) != KindAuthentication {
				t.Errorf("KindOf() = %v, want authentication", KindOf(err))
			}
		})
	}
}

func TestHMACSigner_ExpiryFollowsClock(t *testing.T) {
	clock := newTestClock()
	s := testSigner(t, clock)

	token, err := s.Sign(&Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "usr-001",
		ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
	}})
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	clock.Advance(59 * time.Minute)
	if _, err := s.Parse(token); err != nil {
		t.Fatalf("Parse() before expiry error = %v", err)
	}

	clock.Advance(2 * time.Minute)
	if _, err := s.Parse(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("Parse() after expiry error = %v, want ErrTokenExpired", err)
	}
}

func TestNewHMACSigner_ShortSecret(t *testing.T) {
	if _, err := NewHMACSigner("short", "retail-auth"); err == nil {
		t.Error("NewHMACSigner() should reject a short secret")
	}
}
