//go:build integration

package store_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"aeroinsight/internal/report/models"
	"aeroinsight/internal/report/store"
	"aeroinsight/pkg/platform/sentinel"
	"aeroinsight/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
	cancel   context.CancelFunc
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB, s.postgres.DSN, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() { _ = s.store.Run(ctx) }()
}

func (s *PostgresStoreSuite) TearDownSuite() {
	s.cancel()
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "reports"))
}

func (s *PostgresStoreSuite) create(reporter string, anonymous bool) *models.Report {
	r, err := models.NewVSR(uuid.NewString(), models.Submission{
		EventDate:   "2026-04-30",
		Category:    string(models.CategoryMaintenance),
		Description: "Hydraulic leak at gear bay",
		IsAnonymous: anonymous,
	}, models.Reporter{UID: reporter}, time.Now().UTC())
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(context.Background(), r))
	return r
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	r := s.create("u1", false)

	found, err := s.store.FindByID(ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(r.ReporterEmail, found.ReporterEmail)
	s.Equal(r.DateSubmitted, found.DateSubmitted)
	s.False(found.HasRisk())
	s.Equal(int64(1), found.Revision)

	_, err = s.store.FindByID(ctx, uuid.NewString())
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.ErrorIs(s.store.Create(ctx, r.Clone()), sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestMalformedIDIsNotFound() {
	ctx := context.Background()

	_, err := s.store.FindByID(ctx, "abc")
	s.ErrorIs(err, sentinel.ErrNotFound)

	_, err = s.store.Execute(ctx, "abc", store.AnyRevision, func(*models.Report) error { return nil })
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestListFilters() {
	ctx := context.Background()
	s.create("u1", false)
	s.create("u2", false)
	s.create("u1", true)

	mine, err := s.store.List(ctx, models.MatchReporter("u1"))
	s.Require().NoError(err)
	s.Len(mine, 1)

	all, err := s.store.List(ctx, models.MatchAll())
	s.Require().NoError(err)
	s.Len(all, 3)

	missing, err := s.store.List(ctx, models.Filter{MissingRisk: true})
	s.Require().NoError(err)
	s.Len(missing, 3)
}

func (s *PostgresStoreSuite) TestExecuteCAS() {
	ctx := context.Background()
	r := s.create("u1", false)
	const writers = 16

	var (
		wg        sync.WaitGroup
		wins      atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Execute(ctx, r.ID, 1, func(r *models.Report) error {
				r.Status = models.StatusInReview
				return nil
			})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, sentinel.ErrConflict):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load())
	s.Equal(int32(writers-1), conflicts.Load())
}

func (s *PostgresStoreSuite) TestWatchReceivesCommits() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := s.store.Watch(ctx, models.MatchAll(), nil)
	s.Require().NoError(err)
	first := <-sub.Updates()
	s.Empty(first.Reports)

	r := s.create("u1", false)
	s.Eventually(func() bool {
		select {
		case snap := <-sub.Updates():
			return len(snap.Reports) == 1 && snap.Reports[0].ID == r.ID
		default:
			return false
		}
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	s.Eventually(func() bool { return s.store.Subscribers() == 0 }, time.Second, 10*time.Millisecond)
}

func (s *PostgresStoreSuite) TestWatchOpenedDuringCommitsConverges() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	const (
		reports  = 10
		watchers = 8
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < reports; i++ {
			s.create("u1", false)
		}
	}()

	subs := make([]*store.Subscription, 0, watchers)
	for i := 0; i < watchers; i++ {
		sub, err := s.store.Watch(ctx, models.MatchAll(), nil)
		s.Require().NoError(err)
		subs = append(subs, sub)
	}
	wg.Wait()

	for _, sub := range subs {
		var last models.Snapshot
		s.Eventually(func() bool {
			select {
			case snap := <-sub.Updates():
				s.Greater(snap.Seq, last.Seq)
				last = snap
			default:
			}
			return len(last.Reports) == reports
		}, 5*time.Second, 20*time.Millisecond)
	}
}
