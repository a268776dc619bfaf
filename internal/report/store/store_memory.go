package store

import (
	"context"
	"fmt"
	"sync"

	"aeroinsight/internal/report/models"
	"aeroinsight/pkg/platform/sentinel"
)

// InMemory keeps reports in a map. All writes and subscriber notifications
// happen under one lock, so subscribers observe commits in commit order.
type InMemory struct {
	mu      sync.Mutex
	reports map[string]*models.Report
	subs    map[*Subscription]struct{}
}

// NewInMemory returns an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		reports: make(map[string]*models.Report),
		subs:    make(map[*Subscription]struct{}),
	}
}

// Create appends r with revision 1. The stored copy is independent of r.
func (s *InMemory) Create(_ context.Context, r *models.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.reports[r.ID]; exists {
		return fmt.Errorf("report %s: %w", r.ID, sentinel.ErrConflict)
	}
	stored := r.Clone()
	stored.Revision = 1
	s.reports[r.ID] = stored
	r.Revision = 1
	s.notifyLocked()
	return nil
}

func (s *InMemory) FindByID(_ context.Context, id string) (*models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return r.Clone(), nil
}

func (s *InMemory) List(_ context.Context, filter models.Filter) ([]*models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Report, 0)
	for _, r := range s.reports {
		if filter.Matches(r) {
			out = append(out, r.Clone())
		}
	}
	models.SortReports(out)
	return out, nil
}

// Execute runs fn against a copy of report id and commits the copy with the
// next revision. With expectedRevision other than AnyRevision the write fails
// with sentinel.ErrConflict when the stored revision differs.
func (s *InMemory) Execute(_ context.Context, id string, expectedRevision int64, fn Mutation) (*models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.reports[id]
	if !ok {
		return nil, sentinel.ErrNotFound
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
	s.reports[id] = next
	s.notifyLocked()
	return next.Clone(), nil
}

// Watch opens a live query. The first snapshot, holding the current result,
// is queued before Watch returns.
func (s *InMemory) Watch(ctx context.Context, filter models.Filter, keep Keep) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var sub *Subscription
	sub = newSubscription(ctx, filter, keep, func() {
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()
	})
	s.subs[sub] = struct{}{}
	sub.publish(s.orderedLocked())
	return sub, nil
}

// Subscribers returns the number of open live queries.
func (s *InMemory) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *InMemory) notifyLocked() {
	if len(s.subs) == 0 {
		return
	}
	ordered := s.orderedLocked()
	for sub := range s.subs {
		sub.publish(ordered)
	}
}

func (s *InMemory) orderedLocked() []*models.Report {
	out := make([]*models.Report, 0, len(s.reports))
	for _, r := range s.reports {
		out = append(out, r)
	}
	models.SortReports(out)
	return out
}
