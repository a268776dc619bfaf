package audit

import (
	"context"
	"log/slog"
	"time"
)

// Publisher captures structured audit events. Every event is written as a
// log_type=audit log line and appended to the store, either inline or through
// a queue drained by Worker.
type Publisher struct {
	store  Store
	logger *slog.Logger
	queue  chan<- Event
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithQueue hands events to a Worker instead of appending inline. A full
// queue falls back to an inline append.
func WithQueue(queue chan<- Event) PublisherOption {
	return func(p *Publisher) {
		p.queue = queue
	}
}

func NewPublisher(store Store, logger *slog.Logger, opts ...PublisherOption) *Publisher {
	p := &Publisher{store: store, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit records base. Failures are logged; the audit trail never fails the
// operation that produced it.
func (p *Publisher) Emit(ctx context.Context, base Event) {
	if base.Timestamp.IsZero() {
		base.Timestamp = time.Now()
	}
	p.logger.InfoContext(ctx, base.Action,
		"log_type", "audit",
		"actor", base.Actor,
		"report_id", base.ReportID,
		"status", base.Status,
		"outcome", base.Outcome,
		"request_id", base.RequestID,
		"client_ip", base.ClientIP,
		"device", base.Device,
	)
	if p.queue != nil {
		select {
		case p.queue <- base:
			return
		default:
		}
	}
	if err := p.store.Append(ctx, base); err != nil {
		p.logger.ErrorContext(ctx, "audit append failed",
			"action", base.Action,
			"request_id", base.RequestID,
			"error", err,
		)
	}
}

// ListByReport returns the trail for one report, oldest first.
func (p *Publisher) ListByReport(ctx context.Context, reportID string) ([]Event, error) {
	return p.store.ListByReport(ctx, reportID)
}
