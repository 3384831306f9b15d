package mqtt

import (
	"errors"
	"testing"
)

func TestTopicBuilders(t *testing.T) {
	topics := NewTopics("store-42/")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"audit", topics.AuditEvent("authentication", "login_failed"), "store-42/audit/authentication/login_failed"},
		{"revoked", topics.SessionRevoked("usr-1"), "store-42/session/usr-1/revoked"},
		{"revoked wildcard", topics.SessionRevokedAll(), "store-42/session/+/revoked"},
		{"status", topics.Status("till-1"), "store-42/system/till-1/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestNewTopics_DefaultPrefix(t *testing.T) {
	if got := NewTopics("").Prefix(); got != DefaultTopicPrefix {
		t.Errorf("Prefix() = %q, want %q", got, DefaultTopicPrefix)
	}
}

func TestUserFromSessionTopic(t *testing.T) {
	topics := NewTopics("retailauth")

	tests := []struct {
		topic  string
		want   string
		wantOK bool
	}{
		{"retailauth/session/usr-1/revoked", "usr-1", true},
		{"retailauth/session//revoked", "", false},
		{"retailauth/session/a/b/revoked", "", false},
		{"retailauth/audit/authentication/logout", "", false},
		{"other/session/usr-1/revoked", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, ok := topics.UserFromSessionTopic(tt.topic)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("UserFromSessionTopic(%q) = %q, %v, want %q, %v", tt.topic, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestValidateSegment(t *testing.T) {
	for _, bad := range []string{"", "a/b", "+", "x#"} {
		if err := ValidateSegment(bad); !errors.Is(err, ErrInvalidTopic) {
			t.Errorf("ValidateSegment(%q) error = %v, want ErrInvalidTopic", bad, err)
		}
	}
	if err := ValidateSegment("usr-1"); err != nil {
		t.Errorf("ValidateSegment(usr-1) error = %v", err)
	}
}
