package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementAuthEvents holds one point per security audit event.
const MeasurementAuthEvents = "auth_events"

// AuthEvent is the telemetry view of an audit event. Identifiers that would
// explode series cardinality (user, session, device) are stored as fields.
type AuthEvent struct {
	Type      string
	Category  string
	Severity  string
	Outcome   string
	UserID    string
	SessionID string
	DeviceID  string
	Time      time.Time
}

// WriteAuthEvent queues ev for the next batch. It is a no-op when the
// client is closed.
func (c *Client) WriteAuthEvent(ev AuthEvent) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(authEventPoint(ev))
}

func authEventPoint(ev AuthEvent) *write.Point {
	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	fields := map[string]interface{}{"count": 1}
	if ev.UserID != "" {
		fields["user_id"] = ev.UserID
	}
	if ev.SessionID != "" {
		fields["session_id"] = ev.SessionID
	}
	if ev.DeviceID != "" {
		fields["device_id"] = ev.DeviceID
	}

	return write.NewPoint(MeasurementAuthEvents,
		map[string]string{
			"event_type": ev.Type,
			"category":   ev.Category,
			"severity":   ev.Severity,
			"outcome":    ev.Outcome,
		},
		fields, ts)
}
