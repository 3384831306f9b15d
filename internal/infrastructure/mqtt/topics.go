package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix roots every topic when the configuration leaves it empty.
const DefaultTopicPrefix = "retailauth"

// Topics builds the topic names used by the auth service.
type Topics struct {
	prefix string
}

// NewTopics returns builders rooted at prefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the topic root.
func (t Topics) Prefix() string { return t.prefix }

// AuditEvent is where an audit event is published.
//
// Example: retailauth/audit/authentication/login_failed
func (t Topics) AuditEvent(category, eventType string) string {
	return fmt.Sprintf("%s/audit/%s/%s", t.prefix, category, eventType)
}

// SessionRevoked carries a notice that the user's session was cleared.
//
// Example: retailauth/session/usr-1234/revoked
func (t Topics) SessionRevoked(userID string) string {
	return fmt.Sprintf("%s/session/%s/revoked", t.prefix, userID)
}

// SessionRevokedAll matches SessionRevoked for every user.
func (t Topics) SessionRevokedAll() string {
	return t.prefix + "/session/+/revoked"
}

// Status is the retained liveness topic for one client.
func (t Topics) Status(clientID string) string {
	return fmt.Sprintf("%s/system/%s/status", t.prefix, clientID)
}

// UserFromSessionTopic extracts the user id from a SessionRevoked topic.
func (t Topics) UserFromSessionTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.prefix+"/session/")
	if !ok {
		return "", false
	}
	userID, ok := strings.CutSuffix(rest, "/revoked")
	if !ok || userID == "" || strings.Contains(userID, "/") {
		return "", false
	}
	return userID, true
}

// ValidateSegment rejects values that would break out of their topic level.
func ValidateSegment(s string) error {
	if s == "" || strings.ContainsAny(s, "/+#") {
		return fmt.Errorf("%w: segment %q", ErrInvalidTopic, s)
	}
	return nil
}
