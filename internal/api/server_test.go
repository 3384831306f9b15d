package api

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/retail-auth-core/internal/auth"
	"github.com/nerrad567/retail-auth-core/internal/infrastructure/config"
	"github.com/nerrad567/retail-auth-core/internal/infrastructure/logging"
)

// ─── Construction Tests ─────────────────────────────────────────────

func TestNew_RequiresLoggerAndAuth(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() with no logger should fail")
	}
	log := logging.NewWithWriter(io.Discard, config.LoggingConfig{Level: "error", Format: "text"}, "test")
	if _, err := New(Deps{Logger: log}); err == nil {
		t.Error("New() with no auth service should fail")
	}
}

func TestServer_CloseBeforeStart(t *testing.T) {
	env := testServer(t)
	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() before Start() error = %v", err)
	}
}

func TestServer_StartAndClose(t *testing.T) {
	// Reserve a free port, then hand it to the server.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	broker := newFakeBroker()
	env := testServer(t, withBroker(broker))
	env.srv.cfg.Port = port

	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/api/v1/health", port)
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get(url) //nolint:noctx // test
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	if _, ok := broker.handlers[broker.topics.SessionRevokedAll()]; !ok {
		t.Error("Start() did not subscribe to session revocations")
	}

	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if len(broker.handlers) != 0 {
		t.Error("Close() did not unsubscribe from session revocations")
	}
}

// ─── Health Tests ───────────────────────────────────────────────────

func TestHealth_OK(t *testing.T) {
	env := testServer(t, withBroker(newFakeBroker()))

	w := env.do(t, http.MethodGet, "/api/v1/health", "", nil)
	wantStatus(t, w, http.StatusOK)

	resp := decode[struct {
		Status  string            `json:"status"`
		Version string            `json:"version"`
		Checks  map[string]string `json:"checks"`
	}](t, w)
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if resp.Version != "test" {
		t.Errorf("version = %q, want test", resp.Version)
	}
	if resp.Checks["database"] != "ok" {
		t.Errorf("checks.database = %q, want ok", resp.Checks["database"])
	}
	if resp.Checks["mqtt"] != "ok" {
		t.Errorf("checks.mqtt = %q, want ok", resp.Checks["mqtt"])
	}
}

func TestHealth_DatabaseDown(t *testing.T) {
	env := testServer(t, withDatabaseCheck(failingChecker{}))

	w := env.do(t, http.MethodGet, "/api/v1/health", "", nil)
	wantStatus(t, w, http.StatusServiceUnavailable)

	resp := decode[map[string]any](t, w)
	if resp["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", resp["status"])
	}
}

func TestHealth_BrokerDownIsNotFatal(t *testing.T) {
	broker := newFakeBroker()
	broker.connected = false
	env := testServer(t, withBroker(broker))

	w := env.do(t, http.MethodGet, "/api/v1/health", "", nil)
	wantStatus(t, w, http.StatusOK)

	resp := decode[struct {
		Checks map[string]string `json:"checks"`
	}](t, w)
	if resp.Checks["mqtt"] != "disconnected" {
		t.Errorf("checks.mqtt = %q, want disconnected", resp.Checks["mqtt"])
	}
}

// ─── Metrics Tests ──────────────────────────────────────────────────

func TestMetrics_ExposesAuthCounters(t *testing.T) {
	env := testServer(t)
	env.createUser(t, "metrics.user", auth.RoleSalesAssistant)
	env.login(t, "metrics.user", testPassword, "till-1")

	w := env.do(t, http.MethodGet, "/api/v1/metrics", "", nil)
	wantStatus(t, w, http.StatusOK)

	body := w.Body.String()
	for _, name := range []string{
		"retailauth_login_attempts_total",
		"retailauth_sessions_created_total",
		"retailauth_tokens_issued_total",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

// ─── Middleware Tests ───────────────────────────────────────────────

func TestMiddleware_RequestID(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", "", nil)
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("missing generated X-Request-ID")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "till-42-req")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "till-42-req" {
		t.Errorf("X-Request-ID = %q, want till-42-req", got)
	}
}

func TestMiddleware_CORS(t *testing.T) {
	env := testServer(t, withAllowedOrigins("https://backoffice.shop.example"))

	tests := []struct {
		name   string
		origin string
		want   string
	}{
		{"allowed origin", "https://backoffice.shop.example", "https://backoffice.shop.example"},
		{"unknown origin", "https://evil.example", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/api/v1/auth/login", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			env.router.ServeHTTP(rec, req)

			if rec.Code != http.StatusNoContent {
				t.Errorf("preflight status = %d, want %d", rec.Code, http.StatusNoContent)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMiddleware_BodySizeLimit(t *testing.T) {
	env := testServer(t)

	big := `{"username":"` + strings.Repeat("a", maxRequestBodySize) + `","password":"x"}`
	w := env.do(t, http.MethodPost, "/api/v1/auth/login", "", big)
	wantStatus(t, w, http.StatusBadRequest)
}

func TestMiddleware_RecoversFromPanic(t *testing.T) {
	env := testServer(t)

	h := env.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", true},
		{"bearer abc", "abc", true},
		{"Basic dXNlcjpwYXNz", "", false},
		{"Bearer ", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		got, ok := bearerToken(req)
		if got != tt.want || ok != tt.ok {
			t.Errorf("bearerToken(%q) = (%q, %v), want (%q, %v)", tt.header, got, ok, tt.want, tt.ok)
		}
	}
}

func TestClientIP_IgnoresForwardingHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:53211"
	req.Header.Set("X-Forwarded-For", "1.2.3.4")

	if got := clientIP(req); got != "10.0.0.7" {
		t.Errorf("clientIP() = %q, want 10.0.0.7", got)
	}
}
