// Package risk stamps the initial risk assessment on new reports. Handler is
// idempotent; the delivery layers (Dispatcher, the Kafka consumer and
// Sweeper) may invoke it any number of times per report.
package risk

import (
	"context"
	"errors"
	"log/slog"

	"aeroinsight/internal/audit"
	"aeroinsight/internal/report/metrics"
	"aeroinsight/internal/report/models"
	"aeroinsight/internal/report/store"
	dErrors "aeroinsight/pkg/domain-errors"
	"aeroinsight/pkg/platform/sentinel"
	"aeroinsight/pkg/requestcontext"
)

// SystemActor is the audit actor for trigger writes.
const SystemActor = "system:risk-trigger"

// ReportStore is the slice of the report store the trigger needs.
type ReportStore interface {
	Execute(ctx context.Context, id string, expectedRevision int64, fn store.Mutation) (*models.Report, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, base audit.Event)
}

// Handler applies the initial risk assessment to one report.
type Handler struct {
	reports        ReportStore
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
}

type Option func(h *Handler)

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(h *Handler) {
		h.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

func NewHandler(reports ReportStore, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{reports: reports, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle stamps the default risk fields unless severity or probability is
// already present. The check and the write run as one store mutation, so
// concurrent duplicate deliveries stamp once. A report that no longer exists
// is not an error. Store outages are returned as CodeUnavailable for the
// delivery layer to redeliver.
func (h *Handler) Handle(ctx context.Context, event models.ReportCreated) error {
	now := requestcontext.Now(ctx)
	updated, err := h.reports.Execute(ctx, event.ReportID, store.AnyRevision, func(r *models.Report) error {
		if !r.ApplyInitialRisk(now) {
			return sentinel.ErrSkipped
		}
		return nil
	})
	switch {
	case err == nil:
	case errors.Is(err, sentinel.ErrSkipped):
		h.increment("skipped")
		h.logger.DebugContext(ctx, "initial risk already assessed", "report_id", event.ReportID)
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		h.increment("missing")
		h.logger.WarnContext(ctx, "report vanished before initial risk assessment", "report_id", event.ReportID)
		return nil
	case errors.Is(err, sentinel.ErrUnavailable):
		h.increment("failed")
		h.logger.ErrorContext(ctx, "initial risk assessment deferred, store unavailable",
			"report_id", event.ReportID,
			"error", err,
		)
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "report store unavailable")
	default:
		h.increment("failed")
		h.logger.ErrorContext(ctx, "initial risk assessment failed",
			"report_id", event.ReportID,
			"error", err,
		)
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to assess initial risk")
	}

	h.increment("stamped")
	h.logger.InfoContext(ctx, "initial risk assessed",
		"report_id", updated.ID,
		"risk_score", models.InitialRiskScore,
	)
	if h.auditPublisher != nil {
		h.auditPublisher.Emit(ctx, audit.Event{
			Timestamp: now,
			Actor:     SystemActor,
			Action:    audit.ActionRiskAssigned,
			ReportID:  updated.ID,
			Status:    string(updated.Status),
			Outcome:   models.InitialRiskLevel,
		})
	}
	return nil
}

func (h *Handler) increment(result string) {
	if h.metrics != nil {
		h.metrics.IncrementRisk(result)
	}
}
