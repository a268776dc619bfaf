package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"aeroinsight/internal/audit"
	idModels "aeroinsight/internal/identity/models"
	"aeroinsight/internal/report/metrics"
	"aeroinsight/internal/report/models"
	"aeroinsight/internal/report/store"
	"aeroinsight/internal/session"
	dErrors "aeroinsight/pkg/domain-errors"
	"aeroinsight/pkg/platform/middleware/metadata"
	"aeroinsight/pkg/requestcontext"
)

type recordingAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (a *recordingAudit) Emit(_ context.Context, e audit.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.events))
	for _, e := range a.events {
		out = append(out, e.Action)
	}
	return out
}

type recordingEvents struct {
	mu     sync.Mutex
	events []models.ReportCreated
	err    error
}

func (p *recordingEvents) PublishReportCreated(_ context.Context, e models.ReportCreated) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func signedIn(uid, email string, role idModels.Role, name string) *session.Session {
	return &session.Session{
		Principal: &idModels.Principal{UID: uid, Email: email},
		Profile:   &idModels.Profile{UID: uid, Email: email, Name: name, Role: role},
		Settled:   true,
	}
}

func validSubmission() models.Submission {
	return models.Submission{
		EventDate:   "2026-03-14",
		Category:    string(models.CategoryFlightOps),
		Description: "Unstable approach, go-around at 500ft",
	}
}

type ServiceSuite struct {
	suite.Suite
	ctx     context.Context
	store   *store.InMemory
	audit   *recordingAudit
	events  *recordingEvents
	svc     *Service
	alice   *session.Session
	bob     *session.Session
	officer *session.Session
	admin   *session.Session
	now     time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.now = time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.ctx = requestcontext.WithRequestID(s.ctx, "req-1")
	s.ctx = metadata.WithClientMetadata(s.ctx, "10.0.0.7", "Chrome on Linux")
	s.store = store.NewInMemory()
	s.audit = &recordingAudit{}
	s.events = &recordingEvents{}
	s.svc = New(s.store,
		WithAuditPublisher(s.audit),
		WithEventPublisher(s.events),
		WithMetrics(metrics.NewWith(prometheus.NewRegistry())),
	)
	s.alice = signedIn("uid-alice", "alice@example.com", idModels.RoleReporter, "Alice")
	s.bob = signedIn("uid-bob", "bob@example.com", idModels.RoleReporter, "Bob")
	s.officer = signedIn("uid-officer", "so@example.com", idModels.RoleSafetyOfficer, "Sam Officer")
	s.admin = signedIn("uid-admin", "admin@example.com", idModels.RoleAdmin, "")
}

func (s *ServiceSuite) submit(sess *session.Session, anonymous bool) *models.Report {
	sub := validSubmission()
	sub.IsAnonymous = anonymous
	r, err := s.svc.Submit(s.ctx, sess, sub)
	s.Require().NoError(err)
	return r
}

func (s *ServiceSuite) TestSubmit() {
	s.Run("named report is attributed and starts New", func() {
		r := s.submit(s.alice, false)
		s.Equal(models.TypeVSR, r.Type)
		s.Equal(models.StatusNew, r.Status)
		s.Equal("uid-alice", r.ReporterID)
		s.Equal("alice@example.com", r.ReporterEmail)
		s.Equal(s.now, r.DateSubmitted)
		s.Equal(int64(1), r.Revision)
		s.False(r.HasRisk())
	})

	s.Run("anonymous report carries no submitter identity anywhere", func() {
		before := len(s.audit.actions())
		r := s.submit(s.alice, true)
		stored, err := s.store.FindByID(s.ctx, r.ID)
		s.Require().NoError(err)
		s.Equal(models.AnonymousReporter, stored.ReporterID)
		s.Equal(models.AnonymousReporter, stored.ReporterEmail)

		s.audit.mu.Lock()
		event := s.audit.events[before]
		s.audit.mu.Unlock()
		s.Equal(models.AnonymousReporter, event.Actor)
		s.Empty(event.ClientIP)
		s.Empty(event.Device)
	})

	s.Run("falls back to principal email then Unknown", func() {
		sess := signedIn("uid-carol", "", idModels.RoleReporter, "Carol")
		sess.Principal.Email = "carol@idp.example.com"
		r, err := s.svc.Submit(s.ctx, sess, validSubmission())
		s.Require().NoError(err)
		s.Equal("carol@idp.example.com", r.ReporterEmail)

		sess.Principal.Email = ""
		r, err = s.svc.Submit(s.ctx, sess, validSubmission())
		s.Require().NoError(err)
		s.Equal(models.UnknownEmail, r.ReporterEmail)
	})

	s.Run("invalid payload is a validation error", func() {
		sub := validSubmission()
		sub.Category = "Cabin"
		_, err := s.svc.Submit(s.ctx, s.alice, sub)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("missing profile and missing principal are rejected", func() {
		degraded := &session.Session{Principal: &idModels.Principal{UID: "uid-ghost"}, Settled: true}
		_, err := s.svc.Submit(s.ctx, degraded, validSubmission())
		s.True(dErrors.HasCode(err, dErrors.CodeProfileMissing))

		_, err = s.svc.Submit(s.ctx, &session.Session{Settled: true}, validSubmission())
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("publishes a created event and survives publish failures", func() {
		s.events.err = errors.New("broker down")
		r := s.submit(s.bob, false)
		s.events.err = nil

		s.events.mu.Lock()
		last := s.events.events[len(s.events.events)-1]
		s.events.mu.Unlock()
		s.Equal(r.ID, last.ReportID)
		s.Equal(s.now, last.OccurredAt)
	})
}

func (s *ServiceSuite) TestGet() {
	named := s.submit(s.alice, false)
	anonymous := s.submit(s.alice, true)

	s.Run("owner reads own named report", func() {
		r, err := s.svc.Get(s.ctx, s.alice, named.ID)
		s.Require().NoError(err)
		s.Equal(named.ID, r.ID)
	})

	s.Run("other reporter is forbidden and audited", func() {
		_, err := s.svc.Get(s.ctx, s.bob, named.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
		s.Contains(s.audit.actions(), audit.ActionReportReadDenied)
	})

	s.Run("submitter cannot read own anonymous report", func() {
		_, err := s.svc.Get(s.ctx, s.alice, anonymous.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("privileged roles read everything", func() {
		for _, sess := range []*session.Session{s.officer, s.admin} {
			_, err := s.svc.Get(s.ctx, sess, anonymous.ID)
			s.NoError(err)
		}
	})

	s.Run("unknown id is not found", func() {
		_, err := s.svc.Get(s.ctx, s.officer, "missing")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestListScopesToCaller() {
	aliceNamed := s.submit(s.alice, false)
	s.submit(s.alice, true)
	bobNamed := s.submit(s.bob, false)

	list, err := s.svc.List(s.ctx, s.alice)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal(aliceNamed.ID, list[0].ID)

	list, err = s.svc.List(s.ctx, s.bob)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal(bobNamed.ID, list[0].ID)

	list, err = s.svc.List(s.ctx, s.officer)
	s.Require().NoError(err)
	s.Len(list, 3)

	anonymousUID := signedIn(models.AnonymousReporter, "", idModels.RoleReporter, "")
	list, err = s.svc.List(s.ctx, anonymousUID)
	s.Require().NoError(err)
	s.Empty(list)
}

func (s *ServiceSuite) TestWatchScopesEverySnapshot() {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	sub, err := s.svc.Watch(ctx, s.alice)
	s.Require().NoError(err)
	first := s.recv(sub)
	s.Empty(first.Reports)

	s.submit(s.bob, false)
	s.submit(s.alice, true)
	mine := s.submit(s.alice, false)

	snap := s.recv(sub)
	for snap.Seq < 2 || len(snap.Reports) == 0 {
		snap = s.recv(sub)
	}
	s.Require().Len(snap.Reports, 1)
	s.Equal(mine.ID, snap.Reports[0].ID)
	s.Greater(snap.Seq, first.Seq)

	cancel()
	s.Eventually(func() bool { return s.store.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
}

func (s *ServiceSuite) TestWatchRequiresProfile() {
	degraded := &session.Session{Principal: &idModels.Principal{UID: "uid-ghost"}, Settled: true}
	_, err := s.svc.Watch(s.ctx, degraded)
	s.True(dErrors.HasCode(err, dErrors.CodeProfileMissing))
}

func (s *ServiceSuite) recv(sub *store.Subscription) models.Snapshot {
	select {
	case snap, ok := <-sub.Updates():
		s.Require().True(ok, "subscription closed")
		return snap
	case <-time.After(time.Second):
		s.FailNow("no snapshot delivered")
	}
	return models.Snapshot{}
}

func (s *ServiceSuite) TestReview() {
	inReview := models.StatusInReview
	closed := models.StatusClosed
	notes := "Crew debriefed"

	s.Run("officer moves a report through the lifecycle", func() {
		r := s.submit(s.alice, false)
		updated, err := s.svc.Review(s.ctx, s.officer, r.ID, models.ReviewUpdate{Status: &inReview, ReviewerNotes: &notes, ExpectedRevision: r.Revision})
		s.Require().NoError(err)
		s.Equal(models.StatusInReview, updated.Status)
		s.Equal(notes, updated.ReviewerNotes)
		s.Equal("Sam Officer", updated.ReviewerName)
		s.Require().NotNil(updated.DateReviewed)
		s.Equal(s.now, *updated.DateReviewed)
		s.Equal(r.Revision+1, updated.Revision)

		updated, err = s.svc.Review(s.ctx, s.officer, r.ID, models.ReviewUpdate{Status: &closed, ExpectedRevision: updated.Revision})
		s.Require().NoError(err)
		s.Equal(models.StatusClosed, updated.Status)
	})

	s.Run("nameless reviewer is recorded as Admin", func() {
		r := s.submit(s.alice, false)
		updated, err := s.svc.Review(s.ctx, s.admin, r.ID, models.ReviewUpdate{ReviewerNotes: &notes, ExpectedRevision: r.Revision})
		s.Require().NoError(err)
		s.Equal(models.DefaultReviewerName, updated.ReviewerName)
	})

	s.Run("reporters cannot review, even their own report", func() {
		r := s.submit(s.alice, false)
		_, err := s.svc.Review(s.ctx, s.alice, r.ID, models.ReviewUpdate{Status: &inReview, ExpectedRevision: r.Revision})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
		stored, _ := s.store.FindByID(s.ctx, r.ID)
		s.Equal(models.StatusNew, stored.Status)
	})

	s.Run("closed reports reject further writes", func() {
		r := s.submit(s.alice, false)
		updated, err := s.svc.Review(s.ctx, s.officer, r.ID, models.ReviewUpdate{Status: &closed, ExpectedRevision: r.Revision})
		s.Require().NoError(err)
		_, err = s.svc.Review(s.ctx, s.officer, r.ID, models.ReviewUpdate{ReviewerNotes: &notes, ExpectedRevision: updated.Revision})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})

	s.Run("backwards edge is an invalid transition", func() {
		r := s.submit(s.alice, false)
		updated, err := s.svc.Review(s.ctx, s.officer, r.ID, models.ReviewUpdate{Status: &inReview, ExpectedRevision: r.Revision})
		s.Require().NoError(err)
		back := models.StatusNew
		_, err = s.svc.Review(s.ctx, s.officer, r.ID, models.ReviewUpdate{Status: &back, ExpectedRevision: updated.Revision})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})

	s.Run("forbidden fields are an invalid transition", func() {
		r := s.submit(s.alice, false)
		_, err := s.svc.Review(s.ctx, s.officer, r.ID, models.ReviewUpdate{Status: &inReview, ExpectedRevision: r.Revision, ForbiddenFields: []string{"severity"}})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})

	s.Run("revision is required", func() {
		r := s.submit(s.alice, false)
		_, err := s.svc.Review(s.ctx, s.officer, r.ID, models.ReviewUpdate{Status: &inReview})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("stale revision is a conflict and audited", func() {
		r := s.submit(s.alice, false)
		_, err := s.svc.Review(s.ctx, s.officer, r.ID, models.ReviewUpdate{ReviewerNotes: &notes, ExpectedRevision: r.Revision})
		s.Require().NoError(err)
		_, err = s.svc.Review(s.ctx, s.officer, r.ID, models.ReviewUpdate{Status: &inReview, ExpectedRevision: r.Revision})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Contains(s.audit.actions(), audit.ActionReviewRejected)
	})

	s.Run("unknown report is not found", func() {
		_, err := s.svc.Review(s.ctx, s.officer, "missing", models.ReviewUpdate{Status: &inReview, ExpectedRevision: 1})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestConcurrentReviewsHaveOneWinner() {
	r := s.submit(s.alice, false)
	const reviewers = 16
	var (
		wg        sync.WaitGroup
		winners   atomic.Int32
		conflicts atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < reviewers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := models.StatusInReview
			if i%2 == 0 {
				status = models.StatusClosed
			}
			<-start
			_, err := s.svc.Review(s.ctx, s.officer, r.ID, models.ReviewUpdate{Status: &status, ExpectedRevision: r.Revision})
			switch {
			case err == nil:
				winners.Add(1)
			case dErrors.HasCode(err, dErrors.CodeConflict):
				conflicts.Add(1)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	s.Equal(int32(1), winners.Load())
	s.Equal(int32(reviewers-1), conflicts.Load())
	stored, err := s.store.FindByID(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(r.Revision+1, stored.Revision)
}
