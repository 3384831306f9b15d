package api

import (
	"net/http"
	"testing"

	"github.com/nerrad567/retail-auth-core/internal/audit"
	"github.com/nerrad567/retail-auth-core/internal/auth"
)

func TestAuditLog_Filters(t *testing.T) {
	env := testServer(t)
	_, token := env.userWithToken(t, "mia.manager", auth.RoleManager)
	sam := env.createUser(t, "sam.sales", auth.RoleSalesAssistant)

	for range 2 {
		w := env.do(t, http.MethodPost, "/api/v1/auth/login", "", loginRequest{Username: "sam.sales", Password: "Wrong123!"})
		wantStatus(t, w, http.StatusUnauthorized)
	}

	t.Run("by type and user", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/audit?event_type=login_failed&user_id="+sam.ID, token, nil)
		wantStatus(t, w, http.StatusOK)

		resp := decode[audit.ListResult](t, w)
		if resp.Total != 2 || len(resp.Events) != 2 {
			t.Fatalf("total = %d, events = %d, want 2", resp.Total, len(resp.Events))
		}
		for _, ev := range resp.Events {
			if ev.Type != audit.EventLoginFailed || ev.UserID != sam.ID {
				t.Errorf("event = %+v", ev)
			}
		}
	})

	t.Run("by outcome", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/audit?success=false&category=authentication", token, nil)
		wantStatus(t, w, http.StatusOK)

		resp := decode[audit.ListResult](t, w)
		for _, ev := range resp.Events {
			if ev.Outcome != audit.OutcomeFailure {
				t.Errorf("outcome = %q, want failure", ev.Outcome)
			}
		}
		if resp.Total < 2 {
			t.Errorf("total = %d, want at least 2", resp.Total)
		}
	})

	t.Run("pagination", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/audit?limit=1&offset=1", token, nil)
		wantStatus(t, w, http.StatusOK)

		resp := decode[audit.ListResult](t, w)
		if resp.Limit != 1 || resp.Offset != 1 || len(resp.Events) != 1 {
			t.Errorf("limit = %d, offset = %d, events = %d", resp.Limit, resp.Offset, len(resp.Events))
		}
	})

	t.Run("bad success flag", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/audit?success=maybe", token, nil)
		wantStatus(t, w, http.StatusBadRequest)
	})
}

func TestAuditLog_RequiresAuditRead(t *testing.T) {
	env := testServer(t)
	_, token := env.userWithToken(t, "amy.assistant", auth.RoleAssistantManager)

	w := env.do(t, http.MethodGet, "/api/v1/audit", token, nil)
	wantStatus(t, w, http.StatusForbidden)
}

func TestAuditLog_RecordsRequestMeta(t *testing.T) {
	env := testServer(t)
	env.createUser(t, "sam.sales", auth.RoleSalesAssistant)
	env.login(t, "sam.sales", testPassword, "till-1")

	events := env.sink.OfType(audit.EventLoginSuccess)
	if len(events) != 1 {
		t.Fatalf("login_success events = %d, want 1", len(events))
	}
	// httptest requests come from 192.0.2.1.
	if events[0].IPAddress != "192.0.2.1" {
		t.Errorf("ip_address = %q, want 192.0.2.1", events[0].IPAddress)
	}
}
