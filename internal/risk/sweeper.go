package risk

import (
	"context"
	"log/slog"
	"time"

	"aeroinsight/internal/report/models"
	"aeroinsight/pkg/requestcontext"
)

// ReportLister lists reports matching a filter.
type ReportLister interface {
	List(ctx context.Context, filter models.Filter) ([]*models.Report, error)
}

// Sweeper re-runs the trigger for reports still missing risk fields after a
// grace period. It recovers events lost between commit and publish.
type Sweeper struct {
	reports  ReportLister
	handler  EventHandler
	logger   *slog.Logger
	interval time.Duration
	grace    time.Duration
}

func NewSweeper(reports ReportLister, handler EventHandler, logger *slog.Logger, interval, grace time.Duration) *Sweeper {
	return &Sweeper{
		reports:  reports,
		handler:  handler,
		logger:   logger,
		interval: interval,
		grace:    grace,
	}
}

// Run sweeps once immediately and then every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.WarnContext(ctx, "risk sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep handles every overdue report once and returns how many were
// dispatched. Handler errors are logged and do not stop the sweep.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := requestcontext.Now(ctx).Add(-s.grace)
	pending, err := s.reports.List(ctx, models.Filter{MissingRisk: true, SubmittedBefore: cutoff})
	if err != nil {
		return 0, err
	}
	for _, r := range pending {
		if err := s.handler.Handle(ctx, models.ReportCreated{ReportID: r.ID, OccurredAt: r.DateSubmitted}); err != nil {
			s.logger.WarnContext(ctx, "risk sweep could not assess report",
				"report_id", r.ID,
				"error", err,
			)
		}
	}
	if len(pending) > 0 {
		s.logger.InfoContext(ctx, "risk sweep assessed overdue reports", "count", len(pending))
	}
	return len(pending), nil
}
