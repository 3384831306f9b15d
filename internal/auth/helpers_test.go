package auth

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/retail-auth-core/internal/audit"
	"github.com/nerrad567/retail-auth-core/internal/infrastructure/database"
	_ "github.com/nerrad567/retail-auth-core/migrations"
)

const (
	testSecret   = "test-secret-key-for-jwt-signing-0123456789"
	testPassword = "Passw0rd!"
)

// testArgon2Params keeps hashing cheap in tests.
var testArgon2Params = Argon2Params{Time: 1, Memory: 64, Threads: 1, KeyLen: 16, SaltLen: 8}

// testDB creates a temporary SQLite database with every migration applied.
func testDB(t testing.TB) *sql.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "auth.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}
	return db.DB
}

// testClock is a simulated clock that only moves when told to.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingSink keeps every audit event in memory.
type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *recordingSink) Record(_ context.Context, ev audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) Events() []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Event(nil), s.events...)
}

func (s *recordingSink) OfType(t audit.EventType) []audit.Event {
	var out []audit.Event
	for _, ev := range s.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (s *recordingSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

func testHasher(t testing.TB) *AdaptiveHasher {
	t.Helper()
	h, err := NewHasher(SchemeArgon2id, testArgon2Params, 4)
	if err != nil {
		t.Fatalf("NewHasher() error = %v", err)
	}
	return h
}

// harness is a fully wired core over a fresh seeded database.
type harness struct {
	db    *sql.DB
	users *SQLiteUserRepository
	roles *SQLiteRoleRepository
	clock *testClock
	sink  *recordingSink
	deps  Deps
	svc   *Service
}

func newHarness(t testing.TB, tweak ...func(*Options)) *harness {
	t.Helper()

	db := testDB(t)
	h := &harness{
		db:    db,
		users: NewUserRepository(db),
		roles: NewRoleRepository(db),
		clock: newTestClock(),
		sink:  &recordingSink{},
	}
	h.deps = Deps{
		Users:  h.users,
		Roles:  h.roles,
		Hasher: testHasher(t),
		Audit:  audit.NewEmitter(h.sink, nil).WithClock(h.clock.Now),
		Clock:  h.clock.Now,
	}

	if _, err := SeedDefaults(context.Background(), h.roles, h.deps.withDefaults().Logger, h.clock.Now()); err != nil {
		t.Fatalf("SeedDefaults() error = %v", err)
	}

	opts := DefaultOptions()
	opts.JWTSecret = testSecret
	for _, fn := range tweak {
		fn(&opts)
	}
	svc, err := NewService(h.deps, opts)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	h.svc = svc
	h.sink.Reset()
	return h
}

// createUser creates an active account with the given primary role.
func (h *harness) createUser(t testing.TB, username, role string) *User {
	t.Helper()
	u, err := h.svc.Directory.CreateUser(context.Background(), "", Profile{
		Username:  username,
		Email:     username + "@shop.example",
		Password:  testPassword,
		FirstName: "Test",
		LastName:  username,
	}, role)
	if err != nil {
		t.Fatalf("CreateUser(%s) error = %v", username, err)
	}
	return u
}

func (h *harness) roleID(t testing.TB, name string) string {
	t.Helper()
	r, err := h.roles.GetRoleByName(context.Background(), name)
	if err != nil {
		t.Fatalf("GetRoleByName(%s) error = %v", name, err)
	}
	return r.ID
}
