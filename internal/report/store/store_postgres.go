package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"aeroinsight/internal/platform/postgres"
	"aeroinsight/internal/report/models"
	"aeroinsight/pkg/platform/sentinel"
)

const reportColumns = `id, type, event_date, category, description, is_anonymous, reporter_id,
	reporter_email, contact_email, status, severity, probability, risk_score, risk_level,
	review_required, risk_assessed_at, reviewer_notes, reviewer_name, date_reviewed,
	date_submitted, revision`

// PostgresStore persists reports in the reports table. Live queries are fed
// by LISTEN on postgres.ChangeChannel; Run must be running for subscriptions
// to receive anything after their first snapshot.
type PostgresStore struct {
	db     *sql.DB
	dsn    string
	logger *slog.Logger

	mu   sync.Mutex
	subs map[*Subscription]struct{}

	// refreshMu orders snapshot production: a first snapshot and a
	// notification refresh never interleave their list and publish.
	refreshMu sync.Mutex
}

// NewPostgres wraps db. dsn opens the dedicated listener connection.
func NewPostgres(db *sql.DB, dsn string, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		dsn:    dsn,
		logger: logger,
		subs:   make(map[*Subscription]struct{}),
	}
}

func (s *PostgresStore) Create(ctx context.Context, r *models.Report) error {
	truncateTimes(r)
	query := `INSERT INTO reports (` + reportColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, 1)`
	_, err := s.db.ExecContext(ctx, query, reportArgs(r)...)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("report %s: %w", r.ID, sentinel.ErrConflict)
		}
		return wrapDBError("insert report", err)
	}
	r.Revision = 1
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (*models.Report, error) {
	if !validID(id) {
		return nil, sentinel.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, id)
	r, err := scanReport(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, wrapDBError("find report", err)
	}
	return r, nil
}

func (s *PostgresStore) List(ctx context.Context, filter models.Filter) ([]*models.Report, error) {
	if filter.Deny {
		return []*models.Report{}, nil
	}
	var (
		where []string
		args  []any
	)
	if filter.ReporterID != "" {
		args = append(args, filter.ReporterID)
		where = append(where, fmt.Sprintf("reporter_id = $%d", len(args)))
	}
	if filter.MissingRisk {
		where = append(where, "severity IS NULL AND probability IS NULL")
	}
	if !filter.SubmittedBefore.IsZero() {
		args = append(args, filter.SubmittedBefore)
		where = append(where, fmt.Sprintf("date_submitted < $%d", len(args)))
	}
	query := `SELECT ` + reportColumns + ` FROM reports`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date_submitted DESC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list reports", err)
	}
	defer rows.Close()

	out := make([]*models.Report, 0)
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, wrapDBError("scan report", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("list reports", err)
	}
	return out, nil
}

// Execute locks the row with SELECT FOR UPDATE for the duration of the
// compare, fn and the write.
func (s *PostgresStore) Execute(ctx context.Context, id string, expectedRevision int64, fn Mutation) (*models.Report, error) {
	if !validID(id) {
		return nil, sentinel.ErrNotFound
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapDBError("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1 FOR UPDATE`, id)
	current, err := scanReport(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, wrapDBError("lock report", err)
	}
	if expectedRevision != AnyRevision && current.Revision != expectedRevision {
		return nil, sentinel.ErrConflict
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = current.ID
	next.Revision = current.Revision + 1
	truncateTimes(next)

	const update = `UPDATE reports SET
		status = $2, severity = $3, probability = $4, risk_score = $5, risk_level = $6,
		review_required = $7, risk_assessed_at = $8, reviewer_notes = $9, reviewer_name = $10,
		date_reviewed = $11, revision = $12
		WHERE id = $1`
	if _, err := tx.ExecContext(ctx, update,
		next.ID, string(next.Status), next.Severity, next.Probability, next.RiskScore, next.RiskLevel,
		next.ReviewRequired, next.RiskAssessedAt, nullString(next.ReviewerNotes), nullString(next.ReviewerName),
		next.DateReviewed, next.Revision,
	); err != nil {
		return nil, wrapDBError("update report", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapDBError("commit", err)
	}
	return next, nil
}

// Watch opens a live query and queues its first snapshot. The subscription
// is registered before the first list so a commit racing the call is picked
// up by the next refresh.
func (s *PostgresStore) Watch(ctx context.Context, filter models.Filter, keep Keep) (*Subscription, error) {
	var sub *Subscription
	sub = newSubscription(ctx, filter, keep, func() {
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()
	})
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	initial, err := s.List(ctx, filter)
	if err != nil {
		sub.Close()
		return nil, err
	}
	sub.publish(initial)
	return sub, nil
}

// Subscribers returns the number of open live queries.
func (s *PostgresStore) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Run listens for change notifications until ctx is cancelled, refreshing
// every subscription on each one. A dropped listener connection is reopened
// and followed by a full refresh, since notifications may have been missed.
func (s *PostgresStore) Run(ctx context.Context) error {
	backoff := 500 * time.Millisecond
	for {
		listener, err := postgres.Listen(ctx, s.dsn, postgres.ChangeChannel)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.WarnContext(ctx, "report listener connect failed", "error", err)
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		backoff = 500 * time.Millisecond
		s.refreshAll(ctx)

		for {
			id, err := listener.Wait(ctx)
			if err != nil {
				break
			}
			s.logger.DebugContext(ctx, "report change notification", "report_id", id)
			s.refreshAll(ctx)
		}
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = listener.Close(closeCtx)
		cancel()
		if ctx.Err() != nil {
			return nil
		}
		s.logger.WarnContext(ctx, "report listener connection lost, reconnecting")
	}
}

// refreshAll serializes snapshot production so subscribers see commits in
// the order notifications arrived.
func (s *PostgresStore) refreshAll(ctx context.Context) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	s.mu.Lock()
	subs := make([]*Subscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		reports, err := s.List(ctx, sub.Filter())
		if err != nil {
			s.logger.WarnContext(ctx, "live query refresh failed", "error", err)
			continue
		}
		sub.publish(reports)
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReport(row scanner) (*models.Report, error) {
	var (
		r              models.Report
		typ, category  string
		status         string
		contactEmail   sql.NullString
		severity       sql.NullInt64
		probability    sql.NullString
		riskScore      sql.NullString
		riskLevel      sql.NullString
		reviewRequired sql.NullBool
		riskAssessedAt sql.NullTime
		reviewerNotes  sql.NullString
		reviewerName   sql.NullString
		dateReviewed   sql.NullTime
	)
	if err := row.Scan(
		&r.ID, &typ, &r.EventDate, &category, &r.Description, &r.IsAnonymous, &r.ReporterID,
		&r.ReporterEmail, &contactEmail, &status, &severity, &probability, &riskScore, &riskLevel,
		&reviewRequired, &riskAssessedAt, &reviewerNotes, &reviewerName, &dateReviewed,
		&r.DateSubmitted, &r.Revision,
	); err != nil {
		return nil, err
	}
	r.Type = models.Type(typ)
	r.Category = models.Category(category)
	r.Status = models.Status(status)
	r.ContactEmail = contactEmail.String
	r.ReviewerNotes = reviewerNotes.String
	r.ReviewerName = reviewerName.String
	if severity.Valid {
		v := int(severity.Int64)
		r.Severity = &v
	}
	r.Probability = fromNullString(probability)
	r.RiskScore = fromNullString(riskScore)
	r.RiskLevel = fromNullString(riskLevel)
	if reviewRequired.Valid {
		v := reviewRequired.Bool
		r.ReviewRequired = &v
	}
	r.RiskAssessedAt = fromNullTime(riskAssessedAt)
	r.DateReviewed = fromNullTime(dateReviewed)
	r.DateSubmitted = r.DateSubmitted.UTC()
	return &r, nil
}

func reportArgs(r *models.Report) []any {
	return []any{
		r.ID, string(r.Type), r.EventDate, string(r.Category), r.Description, r.IsAnonymous, r.ReporterID,
		r.ReporterEmail, nullString(r.ContactEmail), string(r.Status), r.Severity, r.Probability, r.RiskScore, r.RiskLevel,
		r.ReviewRequired, r.RiskAssessedAt, nullString(r.ReviewerNotes), nullString(r.ReviewerName), r.DateReviewed,
		r.DateSubmitted,
	}
}

// truncateTimes drops sub-microsecond precision so the caller's copy matches
// what a later read returns.
func truncateTimes(r *models.Report) {
	r.DateSubmitted = r.DateSubmitted.Truncate(time.Microsecond)
	if r.RiskAssessedAt != nil {
		t := r.RiskAssessedAt.Truncate(time.Microsecond)
		r.RiskAssessedAt = &t
	}
	if r.DateReviewed != nil {
		t := r.DateReviewed.Truncate(time.Microsecond)
		r.DateReviewed = &t
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func fromNullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time.UTC()
	return &v
}

// validID rejects ids the uuid column cannot hold; such a report cannot exist.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func wrapDBError(op string, err error) error {
	if postgres.IsUnavailable(err) {
		return fmt.Errorf("%s: %w: %w", op, sentinel.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
