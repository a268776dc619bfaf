package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"aeroinsight/internal/audit"
	"aeroinsight/internal/policy"
	"aeroinsight/internal/report/metrics"
	"aeroinsight/internal/report/models"
	"aeroinsight/internal/report/store"
	"aeroinsight/internal/session"
	dErrors "aeroinsight/pkg/domain-errors"
	"aeroinsight/pkg/platform/middleware/metadata"
	"aeroinsight/pkg/platform/sentinel"
	"aeroinsight/pkg/requestcontext"
)

var tracer = otel.Tracer("aeroinsight/report")

type Store interface {
	Create(ctx context.Context, r *models.Report) error
	FindByID(ctx context.Context, id string) (*models.Report, error)
	List(ctx context.Context, filter models.Filter) ([]*models.Report, error)
	Execute(ctx context.Context, id string, expectedRevision int64, fn store.Mutation) (*models.Report, error)
	Watch(ctx context.Context, filter models.Filter, keep store.Keep) (*store.Subscription, error)
}

// EventPublisher announces new reports to the risk trigger.
type EventPublisher interface {
	PublishReportCreated(ctx context.Context, event models.ReportCreated) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, base audit.Event)
}

// Service orchestrates report submission, reads, live queries and reviews.
type Service struct {
	reports        Store
	logger         *slog.Logger
	auditPublisher AuditPublisher
	events         EventPublisher
	metrics        *metrics.Metrics
	newID          func() string
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithEventPublisher(publisher EventPublisher) Option {
	return func(s *Service) {
		s.events = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithIDGenerator replaces the UUID generator used for new report ids.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		s.newID = fn
	}
}

// New constructs a Service.
func New(reports Store, opts ...Option) *Service {
	s := &Service{
		reports: reports,
		logger:  slog.Default(),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit stores a new report for the session's principal. Anonymous
// submissions carry no trace of the submitter.
func (s *Service) Submit(ctx context.Context, sess *session.Session, sub models.Submission) (*models.Report, error) {
	ctx, span := tracer.Start(ctx, "report.Submit")
	defer span.End()

	if err := sess.RequireProfile(); err != nil {
		return nil, s.fail(span, err)
	}
	reporter := models.Reporter{UID: sess.Principal.UID, Email: sess.Profile.Email}
	if reporter.Email == "" {
		reporter.Email = sess.Principal.Email
	}

	r, err := models.NewVSR(s.newID(), sub, reporter, requestcontext.Now(ctx))
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, s.fail(span, dErrors.New(dErrors.CodeValidation, err.Error()))
		}
		return nil, s.fail(span, err)
	}
	if err := s.reports.Create(ctx, r); err != nil {
		return nil, s.fail(span, translateStoreError(err, "failed to store report"))
	}
	span.SetAttributes(attribute.String("report.id", r.ID), attribute.Bool("report.anonymous", r.IsAnonymous))

	actor := sess.Principal.UID
	if r.IsAnonymous {
		actor = models.AnonymousReporter
	}
	s.emitAudit(ctx, audit.Event{
		Actor:    actor,
		Action:   audit.ActionReportSubmitted,
		ReportID: r.ID,
		Status:   string(r.Status),
		Outcome:  "stored",
	})
	s.incrementSubmitted(r.IsAnonymous)

	if s.events != nil {
		event := models.ReportCreated{ReportID: r.ID, OccurredAt: r.DateSubmitted}
		if err := s.events.PublishReportCreated(ctx, event); err != nil {
			// The sweeper assigns risk to reports whose event was lost.
			s.logger.WarnContext(ctx, "failed to publish report created event",
				"report_id", r.ID,
				"error", err,
			)
		}
	}
	return r, nil
}

// Get returns one report when the caller may read it.
func (s *Service) Get(ctx context.Context, sess *session.Session, id string) (*models.Report, error) {
	ctx, span := tracer.Start(ctx, "report.Get", trace.WithAttributes(attribute.String("report.id", id)))
	defer span.End()

	if err := sess.RequireProfile(); err != nil {
		return nil, s.fail(span, err)
	}
	r, err := s.reports.FindByID(ctx, id)
	if err != nil {
		return nil, s.fail(span, translateStoreError(err, "failed to load report"))
	}
	subject := sess.Subject()
	if err := policy.AuthorizeRead(subject, r); err != nil {
		s.emitAudit(ctx, audit.Event{
			Actor:    subject.UID,
			Action:   audit.ActionReportReadDenied,
			ReportID: id,
			Outcome:  string(dErrors.CodeOf(err)),
		})
		return nil, s.fail(span, err)
	}
	return r, nil
}

// List returns every report the caller may read, most recently submitted
// first with ties broken by ascending id.
func (s *Service) List(ctx context.Context, sess *session.Session) ([]*models.Report, error) {
	ctx, span := tracer.Start(ctx, "report.List")
	defer span.End()

	if err := sess.RequireProfile(); err != nil {
		return nil, s.fail(span, err)
	}
	subject := sess.Subject()
	reports, err := s.reports.List(ctx, policy.ScopeListQuery(subject))
	if err != nil {
		return nil, s.fail(span, translateStoreError(err, "failed to list reports"))
	}
	out := policy.FilterReadable(subject, reports)
	span.SetAttributes(attribute.Int("report.count", len(out)))
	return out, nil
}

// Watch opens a live list query scoped to the caller. Every snapshot is
// re-checked document by document against the read policy. The
// subscription is released when ctx ends or the caller closes it.
func (s *Service) Watch(ctx context.Context, sess *session.Session) (*store.Subscription, error) {
	_, span := tracer.Start(ctx, "report.Watch")
	defer span.End()

	if err := sess.RequireProfile(); err != nil {
		return nil, s.fail(span, err)
	}
	subject := sess.Subject()
	sub, err := s.reports.Watch(ctx, policy.ScopeListQuery(subject), func(r *models.Report) bool {
		return policy.CanRead(subject, r)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, s.fail(span, dErrors.Wrap(err, dErrors.CodeUnavailable, "live query cancelled"))
		}
		return nil, s.fail(span, translateStoreError(err, "failed to open live query"))
	}
	if s.metrics != nil {
		s.metrics.SubscriptionOpened()
		go func() {
			<-sub.Done()
			s.metrics.SubscriptionClosed()
		}()
	}
	return sub, nil
}

// Review applies a reviewer's status or notes change. The update is only
// committed when u.ExpectedRevision still matches the stored report.
func (s *Service) Review(ctx context.Context, sess *session.Session, id string, u models.ReviewUpdate) (*models.Report, error) {
	ctx, span := tracer.Start(ctx, "report.Review", trace.WithAttributes(attribute.String("report.id", id)))
	defer span.End()
	start := time.Now()
	defer s.observeReview(start)

	if err := sess.RequireProfile(); err != nil {
		return nil, s.fail(span, err)
	}
	subject := sess.Subject()
	if !subject.Privileged() {
		s.rejectReview(ctx, subject.UID, id, dErrors.CodeForbidden)
		return nil, s.fail(span, dErrors.New(dErrors.CodeForbidden, "only safety officers and admins may review reports"))
	}
	if u.ExpectedRevision <= 0 {
		return nil, s.fail(span, dErrors.New(dErrors.CodeValidation, "revision is required"))
	}
	reviewerName := sess.Profile.Name
	now := requestcontext.Now(ctx)

	updated, err := s.reports.Execute(ctx, id, u.ExpectedRevision, func(r *models.Report) error {
		if err := policy.AuthorizeReview(subject, r); err != nil {
			return err
		}
		return r.ApplyReview(u, reviewerName, now)
	})
	if err != nil {
		switch {
		case dErrors.HasCode(err, dErrors.CodeInvariantViolation):
			err = dErrors.New(dErrors.CodeInvalidTransition, err.Error())
		case errors.Is(err, sentinel.ErrConflict):
			s.incrementConflict()
			err = dErrors.New(dErrors.CodeConflict, "report changed since it was read; reload and retry")
		case dErrors.CodeOf(err) == dErrors.CodeInternal:
			err = translateStoreError(err, "failed to review report")
		}
		s.rejectReview(ctx, subject.UID, id, dErrors.CodeOf(err))
		return nil, s.fail(span, err)
	}

	s.emitAudit(ctx, audit.Event{
		Actor:    subject.UID,
		Action:   audit.ActionReportReviewed,
		ReportID: updated.ID,
		Status:   string(updated.Status),
		Outcome:  "applied",
	})
	s.incrementReview("applied")
	return updated, nil
}

func (s *Service) rejectReview(ctx context.Context, actor, id string, code dErrors.Code) {
	s.emitAudit(ctx, audit.Event{
		Actor:    actor,
		Action:   audit.ActionReviewRejected,
		ReportID: id,
		Outcome:  string(code),
	})
	s.incrementReview(string(code))
}

// translateStoreError maps sentinel store errors onto domain codes. Errors
// that already carry a code pass through.
func translateStoreError(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "report not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, "report already exists")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "report store unavailable")
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	return err
}

func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	event.Timestamp = requestcontext.Now(ctx)
	event.RequestID = requestcontext.RequestID(ctx)
	// Client metadata would re-identify an anonymous submitter.
	if event.Actor != models.AnonymousReporter {
		event.ClientIP = metadata.GetClientIP(ctx)
		event.Device = metadata.GetDevice(ctx)
	}
	s.auditPublisher.Emit(ctx, event)
}

func (s *Service) incrementSubmitted(anonymous bool) {
	if s.metrics != nil {
		s.metrics.IncrementSubmitted(anonymous)
	}
}

func (s *Service) incrementReview(outcome string) {
	if s.metrics != nil {
		s.metrics.IncrementReview(outcome)
	}
}

func (s *Service) incrementConflict() {
	if s.metrics != nil {
		s.metrics.IncrementReviewConflict()
	}
}

func (s *Service) observeReview(start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveReview(start)
	}
}
