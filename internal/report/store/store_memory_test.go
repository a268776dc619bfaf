package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"aeroinsight/internal/report/models"
	"aeroinsight/pkg/platform/sentinel"
)

type InMemorySuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
	base  time.Time
}

func TestInMemorySuite(t *testing.T) {
	suite.Run(t, new(InMemorySuite))
}

func (s *InMemorySuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
	s.base = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
}

func (s *InMemorySuite) newReport(reporter string, offset time.Duration) *models.Report {
	r, err := models.NewVSR(uuid.NewString(), models.Submission{
		EventDate:   "2026-04-30",
		Category:    string(models.CategoryGroundOps),
		Description: "Tug clipped wingtip during pushback",
	}, models.Reporter{UID: reporter, Email: reporter + "@example.com"}, s.base.Add(offset))
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(s.ctx, r))
	return r
}

func (s *InMemorySuite) next(sub *Subscription) models.Snapshot {
	select {
	case snap, ok := <-sub.Updates():
		s.Require().True(ok, "subscription closed")
		return snap
	case <-time.After(time.Second):
		s.FailNow("no snapshot delivered")
		return models.Snapshot{}
	}
}

func (s *InMemorySuite) assertNoSnapshot(sub *Subscription) {
	select {
	case snap := <-sub.Updates():
		s.Failf("unexpected snapshot", "seq %d", snap.Seq)
	default:
	}
}

func (s *InMemorySuite) TestCreateAndFind() {
	s.Run("assigns revision 1", func() {
		r := s.newReport("u1", 0)
		s.Equal(int64(1), r.Revision)

		found, err := s.store.FindByID(s.ctx, r.ID)
		s.Require().NoError(err)
		s.Equal(r.Description, found.Description)
		s.Equal(int64(1), found.Revision)
	})

	s.Run("rejects duplicate id", func() {
		r := s.newReport("u1", 0)
		s.ErrorIs(s.store.Create(s.ctx, r), sentinel.ErrConflict)
	})

	s.Run("missing id is ErrNotFound", func() {
		_, err := s.store.FindByID(s.ctx, "nope")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("returned copies do not alias stored state", func() {
		r := s.newReport("u1", 0)
		found, err := s.store.FindByID(s.ctx, r.ID)
		s.Require().NoError(err)
		found.Status = models.StatusClosed
		again, err := s.store.FindByID(s.ctx, r.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusNew, again.Status)
	})
}

func (s *InMemorySuite) TestListOrderingAndFilter() {
	older := s.newReport("u1", 0)
	newer := s.newReport("u2", time.Hour)
	tieA := s.newReport("u1", 2*time.Hour)
	tieB := s.newReport("u1", 2*time.Hour)
	first, second := tieA, tieB
	if tieB.ID < tieA.ID {
		first, second = tieB, tieA
	}

	all, err := s.store.List(s.ctx, models.MatchAll())
	s.Require().NoError(err)
	s.Require().Len(all, 4)
	s.Equal([]string{first.ID, second.ID, newer.ID, older.ID}, ids(all))

	mine, err := s.store.List(s.ctx, models.MatchReporter("u1"))
	s.Require().NoError(err)
	s.Len(mine, 3)

	none, err := s.store.List(s.ctx, models.MatchNone())
	s.Require().NoError(err)
	s.Empty(none)
}

func (s *InMemorySuite) TestExecute() {
	s.Run("commits and bumps revision", func() {
		r := s.newReport("u1", 0)
		updated, err := s.store.Execute(s.ctx, r.ID, 1, func(r *models.Report) error {
			r.ReviewerNotes = "looked at it"
			return nil
		})
		s.Require().NoError(err)
		s.Equal(int64(2), updated.Revision)
		s.Equal("looked at it", updated.ReviewerNotes)
	})

	s.Run("stale revision conflicts without writing", func() {
		r := s.newReport("u1", 0)
		_, err := s.store.Execute(s.ctx, r.ID, 7, func(r *models.Report) error {
			r.ReviewerNotes = "never"
			return nil
		})
		s.ErrorIs(err, sentinel.ErrConflict)
		found, _ := s.store.FindByID(s.ctx, r.ID)
		s.Empty(found.ReviewerNotes)
	})

	s.Run("mutation error discards the copy", func() {
		r := s.newReport("u1", 0)
		boom := errors.New("boom")
		_, err := s.store.Execute(s.ctx, r.ID, AnyRevision, func(r *models.Report) error {
			r.Status = models.StatusClosed
			return boom
		})
		s.ErrorIs(err, boom)
		found, _ := s.store.FindByID(s.ctx, r.ID)
		s.Equal(models.StatusNew, found.Status)
		s.Equal(int64(1), found.Revision)
	})

	s.Run("missing id is ErrNotFound", func() {
		_, err := s.store.Execute(s.ctx, "nope", AnyRevision, func(*models.Report) error { return nil })
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

// TestConcurrentCASHasOneWinner verifies that N writers racing with the same
// expected revision produce exactly one commit.
func (s *InMemorySuite) TestConcurrentCASHasOneWinner() {
	r := s.newReport("u1", 0)
	const writers = 32

	var (
		wg        sync.WaitGroup
		wins      atomic.Int32
		conflicts atomic.Int32
		start     = make(chan struct{})
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := s.store.Execute(s.ctx, r.ID, 1, func(r *models.Report) error {
				r.ReviewerNotes = fmt.Sprintf("writer %d", i)
				return nil
			})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, sentinel.ErrConflict):
				conflicts.Add(1)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	s.Equal(int32(1), wins.Load())
	s.Equal(int32(writers-1), conflicts.Load())
	found, _ := s.store.FindByID(s.ctx, r.ID)
	s.Equal(int64(2), found.Revision)
}

func (s *InMemorySuite) TestWatch() {
	s.Run("delivers the current result first", func() {
		r := s.newReport("u1", 0)
		sub, err := s.store.Watch(s.ctx, models.MatchReporter("u1"), nil)
		s.Require().NoError(err)
		defer sub.Close()

		snap := s.next(sub)
		s.Equal(uint64(1), snap.Seq)
		s.Contains(ids(snap.Reports), r.ID)
	})

	s.Run("pushes a snapshot per relevant commit in order", func() {
		store := NewInMemory()
		sub, err := store.Watch(s.ctx, models.MatchReporter("u1"), nil)
		s.Require().NoError(err)
		defer sub.Close()
		s.Empty(s.next(sub).Reports)

		r, _ := models.NewVSR(uuid.NewString(), models.Submission{EventDate: "2026-04-30", Category: "Maintenance", Description: "Torque seal missing"}, models.Reporter{UID: "u1"}, s.base)
		s.Require().NoError(store.Create(s.ctx, r))
		snap := s.next(sub)
		s.Equal(uint64(2), snap.Seq)
		s.Len(snap.Reports, 1)

		_, err = store.Execute(s.ctx, r.ID, 1, func(r *models.Report) error {
			r.ApplyInitialRisk(s.base)
			return nil
		})
		s.Require().NoError(err)
		snap = s.next(sub)
		s.Equal(uint64(3), snap.Seq)
		s.Require().NotNil(snap.Reports[0].Severity)
		s.Equal(5, *snap.Reports[0].Severity)
	})

	s.Run("ignores commits outside the filter", func() {
		sub, err := s.store.Watch(s.ctx, models.MatchReporter("solo"), nil)
		s.Require().NoError(err)
		defer sub.Close()
		s.next(sub)

		s.newReport("someone-else", 0)
		s.assertNoSnapshot(sub)
	})

	s.Run("coalesces undelivered snapshots", func() {
		store := NewInMemory()
		sub, err := store.Watch(s.ctx, models.MatchAll(), nil)
		s.Require().NoError(err)
		defer sub.Close()

		for i := 0; i < 5; i++ {
			r, _ := models.NewVSR(uuid.NewString(), models.Submission{EventDate: "2026-04-30", Category: "ATC/Weather", Description: "Windshear"}, models.Reporter{UID: "u1"}, s.base)
			s.Require().NoError(store.Create(s.ctx, r))
		}
		snap := s.next(sub)
		s.Equal(uint64(6), snap.Seq)
		s.Len(snap.Reports, 5)
		s.assertNoSnapshot(sub)
	})

	s.Run("keep predicate applies to every snapshot", func() {
		store := NewInMemory()
		sub, err := store.Watch(s.ctx, models.MatchAll(), func(r *models.Report) bool { return !r.IsAnonymous })
		s.Require().NoError(err)
		defer sub.Close()
		s.next(sub)

		r, _ := models.NewVSR(uuid.NewString(), models.Submission{EventDate: "2026-04-30", Category: "Flight Ops", Description: "TCAS RA", IsAnonymous: true}, models.Reporter{}, s.base)
		s.Require().NoError(store.Create(s.ctx, r))
		s.assertNoSnapshot(sub)
	})

	s.Run("snapshots are private copies", func() {
		store := NewInMemory()
		r, _ := models.NewVSR(uuid.NewString(), models.Submission{EventDate: "2026-04-30", Category: "Flight Ops", Description: "Bird strike"}, models.Reporter{UID: "u1"}, s.base)
		s.Require().NoError(store.Create(s.ctx, r))
		sub, err := store.Watch(s.ctx, models.MatchAll(), nil)
		s.Require().NoError(err)
		defer sub.Close()

		snap := s.next(sub)
		snap.Reports[0].Status = models.StatusClosed
		found, _ := store.FindByID(s.ctx, r.ID)
		s.Equal(models.StatusNew, found.Status)
	})
}

func (s *InMemorySuite) TestWatchRelease() {
	s.Run("close is idempotent and closes the channel", func() {
		sub, err := s.store.Watch(s.ctx, models.MatchAll(), nil)
		s.Require().NoError(err)
		s.Equal(1, s.store.Subscribers())
		sub.Close()
		sub.Close()
		s.Equal(0, s.store.Subscribers())

		s.next(sub) // first snapshot was queued before close
		_, ok := <-sub.Updates()
		s.False(ok)
	})

	s.Run("context cancellation releases the subscription", func() {
		ctx, cancel := context.WithCancel(s.ctx)
		_, err := s.store.Watch(ctx, models.MatchAll(), nil)
		s.Require().NoError(err)
		cancel()
		s.Eventually(func() bool { return s.store.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
	})

	s.Run("cancelled context is rejected", func() {
		ctx, cancel := context.WithCancel(s.ctx)
		cancel()
		_, err := s.store.Watch(ctx, models.MatchAll(), nil)
		s.ErrorIs(err, context.Canceled)
	})
}

func ids(reports []*models.Report) []string {
	out := make([]string, 0, len(reports))
	for _, r := range reports {
		out = append(out, r.ID)
	}
	return out
}
