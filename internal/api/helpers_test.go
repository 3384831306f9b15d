package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/retail-auth-core/internal/audit"
	"github.com/nerrad567/retail-auth-core/internal/auth"
	"github.com/nerrad567/retail-auth-core/internal/infrastructure/config"
	"github.com/nerrad567/retail-auth-core/internal/infrastructure/database"
	"github.com/nerrad567/retail-auth-core/internal/infrastructure/logging"
	"github.com/nerrad567/retail-auth-core/internal/infrastructure/mqtt"
	_ "github.com/nerrad567/retail-auth-core/migrations"
)

const (
	testSecret        = "test-secret-key-at-least-32-characters-long"
	testPassword      = "Passw0rd!"
	testAdminPassword = "Admin123!"
)

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

func (s *recordingSink) OfType(t audit.EventType) []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.Event
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// fakeBroker records publishes and lets tests deliver messages to the
// registered handler.
type fakeBroker struct {
	mu        sync.Mutex
	topics    mqtt.Topics
	connected bool
	published map[string][]byte
	handlers  map[string]mqtt.MessageHandler
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		topics:    mqtt.NewTopics("retailauth"),
		connected: true,
		published: make(map[string][]byte),
		handlers:  make(map[string]mqtt.MessageHandler),
	}
}

func (b *fakeBroker) PublishJSON(topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[topic] = data
	return nil
}

func (b *fakeBroker) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = handler
	return nil
}

func (b *fakeBroker) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, topic)
	return nil
}

func (b *fakeBroker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBroker) Topics() mqtt.Topics { return b.topics }

func (b *fakeBroker) Published(topic string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.published[topic]
	return data, ok
}

func (b *fakeBroker) Deliver(subscription, topic string, payload []byte) error {
	b.mu.Lock()
	h, ok := b.handlers[subscription]
	b.mu.Unlock()
	if !ok {
		return errors.New("no handler for " + subscription)
	}
	return h(topic, payload)
}

// failingChecker is a HealthChecker that always fails.
type failingChecker struct{}

func (failingChecker) HealthCheck(context.Context) error { return errors.New("disk I/O error") }

// testEnv is a server over a fresh seeded database.
type testEnv struct {
	srv    *Server
	router http.Handler
	svc    *auth.Service
	sink   *recordingSink
	reg    *prometheus.Registry
	broker *fakeBroker
}

type envOption func(*Deps)

func withRateLimit(perMinute, burst int) envOption {
	return func(d *Deps) {
		d.Config.LoginRateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMinute: perMinute, Burst: burst}
	}
}

func withBroker(b *fakeBroker) envOption {
	return func(d *Deps) { d.MQTT = b }
}

func withDatabaseCheck(c HealthChecker) envOption {
	return func(d *Deps) { d.Database = c }
}

func withAllowedOrigins(origins ...string) envOption {
	return func(d *Deps) { d.Config.CORS.AllowedOrigins = origins }
}

func testServer(t *testing.T, envOpts ...envOption) *testEnv {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "api.db"),
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

	log := logging.NewWithWriter(io.Discard, config.LoggingConfig{Level: "error", Format: "text"}, "test")

	roles := auth.NewRoleRepository(db.DB)
	if _, err := auth.SeedDefaults(context.Background(), roles, log.Logger, time.Now()); err != nil {
		t.Fatalf("SeedDefaults() error = %v", err)
	}

	hasher, err := auth.NewHasher(auth.SchemeArgon2id,
		auth.Argon2Params{Time: 1, Memory: 64, Threads: 1, KeyLen: 16, SaltLen: 8}, 4)
	if err != nil {
		t.Fatalf("NewHasher() error = %v", err)
	}

	env := &testEnv{
		sink: &recordingSink{},
		reg:  prometheus.NewRegistry(),
	}
	repo := audit.NewSQLiteRepository(db.DB)
	emitter := audit.NewEmitter(audit.MultiSink{repo, env.sink}, log.Logger)

	opts := auth.DefaultOptions()
	opts.JWTSecret = testSecret
	svc, err := auth.NewService(auth.Deps{
		Users:   auth.NewUserRepository(db.DB),
		Roles:   roles,
		Hasher:  hasher,
		Audit:   emitter,
		Metrics: auth.NewMetrics(env.reg),
		Logger:  log.Logger,
	}, opts)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	env.svc = svc

	deps := Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		InstanceID: "test-instance",
		Logger:     log,
		Auth:       svc,
		Audit:      emitter,
		AuditLog:   repo,
		Database:   db,
		Gatherer:   env.reg,
		Version:    "test",
	}
	for _, fn := range envOpts {
		fn(&deps)
	}
	if b, ok := deps.MQTT.(*fakeBroker); ok {
		env.broker = b
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	env.srv = srv
	env.router = srv.buildRouter()
	return env
}

// do sends a request through the router. body may be nil, a string, or a
// value to encode as JSON.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		rdr = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, rdr)
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// doWithHeader sends a raw JSON body with one extra request header.
func (e *testEnv) doWithHeader(t *testing.T, method, path, body, key, value string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(key, value)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// decode unmarshals a response body.
func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return v
}

func wantStatus(t *testing.T, w *httptest.ResponseRecorder, status int) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d (body: %s)", w.Code, status, w.Body.String())
	}
}

// createUser creates an active account with the given primary role.
func (e *testEnv) createUser(t *testing.T, username, role string) *auth.User {
	t.Helper()
	u, err := e.svc.Directory.CreateUser(context.Background(), "", auth.Profile{
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

// login signs in over HTTP and returns the access token.
func (e *testEnv) login(t *testing.T, username, password, deviceID string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/auth/login", "", loginRequest{
		Username: username,
		Password: password,
		DeviceID: deviceID,
	})
	wantStatus(t, w, http.StatusOK)
	resp := decode[auth.LoginResult](t, w)
	if resp.Token == nil || resp.Token.Token == "" {
		t.Fatalf("login response has no token: %s", w.Body.String())
	}
	return resp.Token.Token
}

// userWithToken creates a user and signs them in on their own device.
func (e *testEnv) userWithToken(t *testing.T, username, role string) (*auth.User, string) {
	t.Helper()
	u := e.createUser(t, username, role)
	return u, e.login(t, username, testPassword, "till-"+username)
}

// bootstrapAdmin registers the first administrator over HTTP and returns
// the unbound token it is issued.
func (e *testEnv) bootstrapAdmin(t *testing.T) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/bootstrap/admin", "", bootstrapRequest{
		Profile: auth.Profile{
			Username:  "owner",
			Email:     "owner@shop.example",
			Password:  testAdminPassword,
			FirstName: "Shop",
			LastName:  "Owner",
		},
	})
	wantStatus(t, w, http.StatusCreated)
	resp := decode[auth.BootstrapResult](t, w)
	if resp.Token == nil || resp.Token.Token == "" {
		t.Fatalf("bootstrap response has no token: %s", w.Body.String())
	}
	return resp.Token.Token
}

// roleID resolves a role name through the directory.
func (e *testEnv) roleID(t *testing.T, name string) string {
	t.Helper()
	roles, err := e.svc.Directory.ListRoles(context.Background())
	if err != nil {
		t.Fatalf("ListRoles() error = %v", err)
	}
	for _, r := range roles {
		if r.Name == name {
			return r.ID
		}
	}
	t.Fatalf("role %q not found", name)
	return ""
}
