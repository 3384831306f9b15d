package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nerrad567/retail-auth-core/internal/auth"
)

func TestWriteServiceError(t *testing.T) {
	env := testServer(t)

	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{"invalid credentials", auth.ErrInvalidCredentials, http.StatusUnauthorized, ErrCodeUnauthorized, "generic"},
		{"locked", auth.ErrAccountLocked, http.StatusUnauthorized, ErrCodeUnauthorized, "generic"},
		{"forbidden", auth.ErrForbidden, http.StatusForbidden, ErrCodeForbidden, msgForbidden},
		{"conflict", auth.ErrUsernameExists, http.StatusConflict, ErrCodeConflict, "username already exists"},
		{"wrapped conflict", fmt.Errorf("creating user: %w", auth.ErrEmailExists), http.StatusConflict, ErrCodeConflict, "email already exists"},
		{"role not found", auth.ErrRoleNotFound, http.StatusNotFound, ErrCodeNotFound, "role not found"},
		{"grant not found", auth.ErrGrantNotFound, http.StatusNotFound, ErrCodeNotFound, "permission grant not found"},
		{"cycle", auth.ErrRoleCycle, http.StatusBadRequest, ErrCodeValidation, "role hierarchy would contain a cycle"},
		{"internal", errors.New("disk full"), http.StatusInternalServerError, ErrCodeInternal, msgInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			env.srv.writeServiceError(w, r, tt.err, "generic")

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			resp := decode[Error](t, w)
			if resp.Code != tt.code {
				t.Errorf("code = %q, want %q", resp.Code, tt.code)
			}
			if resp.Message != tt.message {
				t.Errorf("message = %q, want %q", resp.Message, tt.message)
			}
		})
	}
}

func TestWriteServiceError_ValidationFields(t *testing.T) {
	env := testServer(t)

	err := &auth.ValidationError{Fields: []auth.FieldError{
		{Field: "email", Message: "email must be a valid email"},
	}}
	w := httptest.NewRecorder()
	env.srv.writeServiceError(w, httptest.NewRequest(http.MethodPost, "/", nil), err, "generic")

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	resp := decode[Error](t, w)
	if resp.Message != "validation failed" || len(resp.Fields) != 1 || resp.Fields[0].Field != "email" {
		t.Errorf("response = %+v", resp)
	}
}

func TestWriteServiceError_PolicyRule(t *testing.T) {
	env := testServer(t)

	err := &auth.PolicyError{Rule: auth.RuleDigit, Message: "Password must contain at least one digit"}
	w := httptest.NewRecorder()
	env.srv.writeServiceError(w, httptest.NewRequest(http.MethodPost, "/", nil), err, "generic")

	resp := decode[Error](t, w)
	if resp.Rule != string(auth.RuleDigit) || resp.Message != err.Message {
		t.Errorf("response = %+v", resp)
	}
}

func TestPublicMessage(t *testing.T) {
	tests := []struct {
		err      error
		category error
		want     string
	}{
		{auth.ErrSessionAlreadyActive, auth.ErrConflict, "a session is already active for this user"},
		{fmt.Errorf("op: %w", auth.ErrRoleExists), auth.ErrConflict, "role already exists"},
		{errors.New("plain"), auth.ErrConflict, "plain"},
	}
	for _, tt := range tests {
		if got := publicMessage(tt.err, tt.category); got != tt.want {
			t.Errorf("publicMessage(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
