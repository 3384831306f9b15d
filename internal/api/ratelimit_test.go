package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestIPLimiter_Burst(t *testing.T) {
	l := newIPLimiter(60, 3)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	for i := range 3 {
		if !l.allow("10.0.0.1") {
			t.Fatalf("request %d refused within burst", i+1)
		}
	}
	if l.allow("10.0.0.1") {
		t.Error("request beyond burst allowed")
	}
	if !l.allow("10.0.0.2") {
		t.Error("second address shares the first address's bucket")
	}

	// 60/min refills one token per second.
	now = now.Add(time.Second)
	if !l.allow("10.0.0.1") {
		t.Error("token not refilled after one second")
	}
}

func TestIPLimiter_Defaults(t *testing.T) {
	l := newIPLimiter(0, 0)
	if l.burst != defaultLoginBurst {
		t.Errorf("burst = %d, want %d", l.burst, defaultLoginBurst)
	}
}

func TestIPLimiter_Sweep(t *testing.T) {
	l := newIPLimiter(10, 5)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.allow("10.0.0.1")
	now = now.Add(5 * time.Minute)
	l.allow("10.0.0.2")
	now = now.Add(6 * time.Minute)

	if got := l.sweep(); got != 1 {
		t.Errorf("sweep() remaining = %d, want 1", got)
	}
}

func TestLoginRateLimit(t *testing.T) {
	env := testServer(t, withRateLimit(60, 2))

	post := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
			strings.NewReader(`{"username":"nobody","password":"Wrong123!"}`))
		req.RemoteAddr = remote
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		return w
	}

	for range 2 {
		if w := post("192.0.2.10:4000"); w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	}

	w := post("192.0.2.10:4001")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
	if resp := decode[Error](t, w); resp.Code != ErrCodeRateLimited {
		t.Errorf("code = %q, want %q", resp.Code, ErrCodeRateLimited)
	}

	// Other clients and unthrottled routes are unaffected.
	if w := post("192.0.2.11:4000"); w.Code != http.StatusUnauthorized {
		t.Errorf("other client status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/health", "", nil); w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
}
