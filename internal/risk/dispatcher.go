package risk

import (
	"context"
	"log/slog"
	"time"

	"aeroinsight/internal/report/models"
	dErrors "aeroinsight/pkg/domain-errors"
)

// EventHandler processes one report created event.
type EventHandler interface {
	Handle(ctx context.Context, event models.ReportCreated) error
}

// Dispatcher delivers report created events to a handler from an in-process
// queue. Retryable failures are redelivered up to maxAttempts times with a
// linear backoff; events dropped after that are left to the Sweeper.
type Dispatcher struct {
	handler     EventHandler
	queue       chan models.ReportCreated
	logger      *slog.Logger
	maxAttempts int
	backoff     time.Duration
}

// NewDispatcher creates a dispatcher with a queue of the given capacity.
func NewDispatcher(handler EventHandler, logger *slog.Logger, capacity, maxAttempts int, backoff time.Duration) *Dispatcher {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Dispatcher{
		handler:     handler,
		queue:       make(chan models.ReportCreated, capacity),
		logger:      logger,
		maxAttempts: maxAttempts,
		backoff:     backoff,
	}
}

// PublishReportCreated enqueues event without blocking. A full queue returns
// CodeUnavailable.
func (d *Dispatcher) PublishReportCreated(_ context.Context, event models.ReportCreated) error {
	select {
	case d.queue <- event:
		return nil
	default:
		return dErrors.New(dErrors.CodeUnavailable, "risk dispatch queue is full")
	}
}

// Run delivers queued events until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-d.queue:
			d.deliver(ctx, event)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, event models.ReportCreated) {
	for attempt := 1; ; attempt++ {
		err := d.handler.Handle(ctx, event)
		if err == nil {
			return
		}
		if !dErrors.Retryable(err) || attempt >= d.maxAttempts {
			d.logger.ErrorContext(ctx, "risk dispatch gave up",
				"report_id", event.ReportID,
				"attempts", attempt,
				"error", err,
			)
			return
		}
		d.logger.WarnContext(ctx, "risk dispatch failed, retrying",
			"report_id", event.ReportID,
			"attempt", attempt,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt) * d.backoff):
		}
	}
}
