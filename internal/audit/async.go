package audit

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// DefaultQueueSize is the AsyncSink buffer length.
const DefaultQueueSize = 256

// AsyncSink queues events for a background writer so callers never wait on
// the downstream sink. Events beyond the buffer are dropped with a warning.
type AsyncSink struct {
	next    Sink
	queue   chan Event
	logger  *slog.Logger
	dropped atomic.Int64
}

// NewAsyncSink wraps next. Call Run to start delivery.
func NewAsyncSink(next Sink, size int, logger *slog.Logger) *AsyncSink {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &AsyncSink{next: next, queue: make(chan Event, size), logger: logger}
}

// Record enqueues ev without blocking.
func (a *AsyncSink) Record(_ context.Context, ev Event) error {
	select {
	case a.queue <- ev:
	default:
		a.dropped.Add(1)
		a.logger.Warn("audit queue full, dropping event", "event_type", ev.Type, "user_id", ev.UserID)
	}
	return nil
}

// Dropped returns how many events were discarded because the queue was full.
func (a *AsyncSink) Dropped() int64 {
	return a.dropped.Load()
}

// Run writes queued events serially until ctx is cancelled, then drains
// what is left and returns.
func (a *AsyncSink) Run(ctx context.Context) {
	for {
		select {
		case ev := <-a.queue:
			a.deliver(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-a.queue:
					a.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (a *AsyncSink) deliver(ev Event) {
	// The request that raised ev may be finished; its context is not reused.
	if err := a.next.Record(context.Background(), ev); err != nil {
		a.logger.Error("audit event write failed", "event_type", ev.Type, "error", err)
	}
}
