package audit

import (
	"context"
	"fmt"

	"github.com/nerrad567/retail-auth-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/retail-auth-core/internal/infrastructure/mqtt"
)

// JSONPublisher is the subset of the MQTT client used by MQTTSink.
type JSONPublisher interface {
	PublishJSON(topic string, v any) error
}

// MQTTSink publishes each event to {prefix}/audit/{category}/{event_type}.
type MQTTSink struct {
	pub    JSONPublisher
	topics mqtt.Topics
}

// NewMQTTSink returns a sink publishing through pub.
func NewMQTTSink(pub JSONPublisher, topics mqtt.Topics) *MQTTSink {
	return &MQTTSink{pub: pub, topics: topics}
}

// Record publishes ev as JSON.
func (s *MQTTSink) Record(_ context.Context, ev Event) error {
	if err := s.pub.PublishJSON(s.topics.AuditEvent(string(ev.Category), string(ev.Type)), ev); err != nil {
		return fmt.Errorf("publishing audit event: %w", err)
	}
	return nil
}

// PointWriter is the subset of the InfluxDB client used by InfluxSink.
type PointWriter interface {
	WriteAuthEvent(ev influxdb.AuthEvent)
}

// InfluxSink exports each event as an auth_events point.
type InfluxSink struct {
	w PointWriter
}

// NewInfluxSink returns a sink writing to w.
func NewInfluxSink(w PointWriter) *InfluxSink {
	return &InfluxSink{w: w}
}

// Record queues a point; the InfluxDB client reports write errors asynchronously.
func (s *InfluxSink) Record(_ context.Context, ev Event) error {
	s.w.WriteAuthEvent(influxdb.AuthEvent{
		Type:      string(ev.Type),
		Category:  string(ev.Category),
		Severity:  string(ev.Severity),
		Outcome:   string(ev.Outcome),
		UserID:    ev.UserID,
		SessionID: ev.SessionID,
		DeviceID:  ev.DeviceID,
		Time:      ev.CreatedAt,
	})
	return nil
}
