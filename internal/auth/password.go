package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher hashes and verifies passwords. Verify returns false, nil
// for a wrong password and an error only for an unreadable hash.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
	// NeedsRehash reports whether encoded should be replaced by a fresh
	// Hash the next time the plaintext is known.
	NeedsRehash(encoded string) bool
}

// Hasher scheme names accepted by NewHasher.
const (
	SchemeArgon2id = "argon2id"
	SchemeBcrypt   = "bcrypt"
)

// Argon2Params tunes Argon2id.
type Argon2Params struct {
	Time    uint32 // iterations
	Memory  uint32 // KiB
	Threads uint8  // parallelism
	KeyLen  uint32 // output hash length
	SaltLen uint32
}

// DefaultArgon2Params is the OWASP 2025 recommendation.
var DefaultArgon2Params = Argon2Params{
	Time:    3,
	Memory:  64 * 1024, // 64 MiB
	Threads: 1,
	KeyLen:  32,
	SaltLen: 16,
}

// Argon2Hasher stores hashes in PHC string format:
// $argon2id$v=19$m=65536,t=3,p=1$<salt>$<hash>
type Argon2Hasher struct {
	params Argon2Params
}

// NewArgon2Hasher returns an Argon2id hasher using p.
func NewArgon2Hasher(p Argon2Params) *Argon2Hasher {
	return &Argon2Hasher{params: p}
}

// Hash hashes password with a random salt.
func (h *Argon2Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory, h.params.Time, h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// Verify checks password against an Argon2id PHC string, using the
// parameters recorded in the string rather than the hasher's own.
func (h *Argon2Hasher) Verify(password, encoded string) (bool, error) {
	salt, hash, params, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}

	candidate := argon2.IDKey([]byte(password), salt, params.time, params.memory, params.threads, uint32(len(hash))) //nolint:gosec // G115: hash length always fits uint32

	return subtle.ConstantTimeCompare(hash, candidate) == 1, nil
}

// NeedsRehash reports whether encoded was made with other parameters.
func (h *Argon2Hasher) NeedsRehash(encoded string) bool {
	_, hash, params, err := decodePHC(encoded)
	if err != nil {
		return true
	}
	return params.time != h.params.Time ||
		params.memory != h.params.Memory ||
		params.threads != h.params.Threads ||
		uint32(len(hash)) != h.params.KeyLen //nolint:gosec // G115: hash length always fits uint32
}

type argonParams struct {
	time    uint32
	memory  uint32
	threads uint8
}

// decodePHC parses an Argon2id PHC string format into its components.
func decodePHC(encoded string) (salt, hash []byte, params argonParams, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 { //nolint:mnd // PHC format has exactly 6 $-delimited parts
		return nil, nil, params, fmt.Errorf("invalid PHC hash format")
	}

	if parts[1] != "argon2id" {
		return nil, nil, params, fmt.Errorf("unsupported algorithm: %s", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil { //nolint:govet // shadow: err re-declared in nested scope
		return nil, nil, params, fmt.Errorf("parsing version: %w", err)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.memory, &params.time, &params.threads); err != nil { //nolint:govet // shadow: err re-declared in nested scope
		return nil, nil, params, fmt.Errorf("parsing parameters: %w", err)
	}

	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, params, fmt.Errorf("decoding salt: %w", err)
	}

	hash, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, nil, params, fmt.Errorf("decoding hash: %w", err)
	}

	return salt, hash, params, nil
}

// BcryptHasher hashes with bcrypt. bcrypt ignores input past 72 bytes.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a bcrypt hasher. An out-of-range cost falls back
// to bcrypt.DefaultCost.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash hashes password at the configured cost.
func (h *BcryptHasher) Hash(password string) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return string(out), nil
}

// Verify checks password against a bcrypt hash.
func (h *BcryptHasher) Verify(password, encoded string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("bcrypt: %w", err)
	}
}

// NeedsRehash reports whether encoded used a different cost.
func (h *BcryptHasher) NeedsRehash(encoded string) bool {
	cost, err := bcrypt.Cost([]byte(encoded))
	return err != nil || cost != h.cost
}

// AdaptiveHasher hashes with a primary scheme and verifies hashes of any
// supported scheme, so accounts created under another scheme keep working
// and are upgraded on their next successful login.
type AdaptiveHasher struct {
	primary string
	argon   *Argon2Hasher
	bcrypt  *BcryptHasher
}

// NewHasher returns an AdaptiveHasher whose new hashes use scheme.
func NewHasher(scheme string, argon Argon2Params, bcryptCost int) (*AdaptiveHasher, error) {
	switch scheme {
	case SchemeArgon2id, SchemeBcrypt:
	default:
		return nil, fmt.Errorf("unsupported password hasher %q", scheme)
	}
	return &AdaptiveHasher{
		primary: scheme,
		argon:   NewArgon2Hasher(argon),
		bcrypt:  NewBcryptHasher(bcryptCost),
	}, nil
}

func (h *AdaptiveHasher) primaryHasher() PasswordHasher {
	if h.primary == SchemeBcrypt {
		return h.bcrypt
	}
	return h.argon
}

// Hash hashes password with the primary scheme.
func (h *AdaptiveHasher) Hash(password string) (string, error) {
	return h.primaryHasher().Hash(password)
}

// Verify dispatches on the hash prefix.
func (h *AdaptiveHasher) Verify(password, encoded string) (bool, error) {
	switch schemeOf(encoded) {
	case SchemeArgon2id:
		return h.argon.Verify(password, encoded)
	case SchemeBcrypt:
		return h.bcrypt.Verify(password, encoded)
	default:
		return false, fmt.Errorf("unrecognised password hash format")
	}
}

// NeedsRehash reports whether encoded is not a current primary-scheme hash.
func (h *AdaptiveHasher) NeedsRehash(encoded string) bool {
	if schemeOf(encoded) != h.primary {
		return true
	}
	return h.primaryHasher().NeedsRehash(encoded)
}

func schemeOf(encoded string) string {
	switch {
	case strings.HasPrefix(encoded, "$argon2id$"):
		return SchemeArgon2id
	case strings.HasPrefix(encoded, "$2a$"), strings.HasPrefix(encoded, "$2b$"), strings.HasPrefix(encoded, "$2y$"):
		return SchemeBcrypt
	default:
		return ""
	}
}
