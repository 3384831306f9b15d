package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nerrad567/retail-auth-core/internal/ids"
)

// Sink stores or forwards audit events.
type Sink interface {
	Record(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

// Record calls f.
func (f SinkFunc) Record(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// MultiSink records to every sink and joins their errors.
type MultiSink []Sink

// Record delivers ev to each sink in order. A failing sink does not stop
// delivery to the rest.
func (m MultiSink) Record(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Emitter stamps events and hands them to a Sink, swallowing every failure.
// A nil *Emitter discards events.
type Emitter struct {
	sink   Sink
	logger *slog.Logger
	now    func() time.Time
}

// NewEmitter returns an Emitter writing to sink.
func NewEmitter(sink Sink, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Emitter{sink: sink, logger: logger, now: time.Now}
}

// WithClock returns a copy of the emitter that timestamps events with now.
func (e *Emitter) WithClock(now func() time.Time) *Emitter {
	if e == nil {
		return nil
	}
	cp := *e
	cp.now = now
	return &cp
}

// Emit records ev. It fills in the id, timestamp and request address when
// missing, and tags the acting user when it differs from the subject. It
// never returns an error and never panics.
func (e *Emitter) Emit(ctx context.Context, ev Event) {
	if e == nil || e.sink == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = ids.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = e.now().UTC()
	}
	if meta, ok := RequestMetaFrom(ctx); ok {
		if ev.IPAddress == "" {
			ev.IPAddress = meta.IPAddress
		}
		if meta.ActorID != "" && meta.ActorID != ev.UserID {
			details := make(map[string]any, len(ev.Details)+1)
			for k, v := range ev.Details {
				details[k] = v
			}
			details["actor_id"] = meta.ActorID
			ev.Details = details
		}
	}

	if err := e.record(ctx, ev); err != nil {
		e.logger.Warn("audit event dropped",
			"event_type", ev.Type,
			"user_id", ev.UserID,
			"error", err,
		)
	}
}

func (e *Emitter) record(ctx context.Context, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("audit sink panic: %v", r)
		}
	}()
	return e.sink.Record(ctx, ev)
}
