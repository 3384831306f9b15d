// Package ids generates the service's identifiers.
package ids

import (
	cryptorand "crypto/rand"
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0) //nolint:gosec // ordering, not secrecy

	sessionMu      sync.Mutex
	sessionEntropy = ulid.Monotonic(cryptorand.Reader, 0)
)

// New returns a lexicographically sortable identifier, used for audit events.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewSession returns an opaque session identifier. The random part comes
// from crypto/rand so session ids cannot be predicted from earlier ones.
func NewSession() string {
	sessionMu.Lock()
	defer sessionMu.Unlock()
	return "ses_" + strings.ToLower(ulid.MustNew(ulid.Timestamp(time.Now()), sessionEntropy).String())
}

// Entity prefixes for NewEntity.
const (
	PrefixUser       = "usr"
	PrefixRole       = "rol"
	PrefixPermission = "prm"
	PrefixAssignment = "ura"
)

// NewEntity returns a random UUID with a type prefix, e.g. "usr-2f1c...".
func NewEntity(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
