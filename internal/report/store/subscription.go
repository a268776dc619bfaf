package store

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"aeroinsight/internal/report/models"
)

// Keep is a per-document predicate applied to every snapshot after the
// filter. A nil Keep keeps everything the filter matches.
type Keep func(*models.Report) bool

// Subscription is a live query. Updates yields snapshots in commit order
// through a one-slot mailbox: a newer snapshot replaces an undelivered older
// one, so a slow reader sees fewer snapshots but never stale-after-fresh.
type Subscription struct {
	filter models.Filter
	keep   Keep

	mu          sync.Mutex
	ch          chan models.Snapshot
	done        chan struct{}
	seq         uint64
	fingerprint string
	closed      bool

	closeOnce sync.Once
	onClose   func()
	stopCtx   func() bool
}

func newSubscription(ctx context.Context, filter models.Filter, keep Keep, onClose func()) *Subscription {
	s := &Subscription{
		filter:  filter,
		keep:    keep,
		ch:      make(chan models.Snapshot, 1),
		done:    make(chan struct{}),
		onClose: onClose,
	}
	s.stopCtx = context.AfterFunc(ctx, s.Close)
	return s
}

// Updates returns the snapshot channel. It is closed after Close.
func (s *Subscription) Updates() <-chan models.Snapshot {
	return s.ch
}

// Close releases the subscription. It is safe to call more than once and
// from any goroutine.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		if s.stopCtx != nil {
			s.stopCtx()
		}
		if s.onClose != nil {
			s.onClose()
		}
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		close(s.done)
	})
}

// Done is closed once the subscription has been released.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Filter returns the store filter the subscription was opened with.
func (s *Subscription) Filter() models.Filter {
	return s.filter
}

// publish selects from candidates, which must already be ordered, and
// delivers a snapshot when the selection differs from the last one sent.
// It reports whether a snapshot was queued.
func (s *Subscription) publish(candidates []*models.Report) bool {
	selected := make([]*models.Report, 0, len(candidates))
	for _, r := range candidates {
		if !s.filter.Matches(r) {
			continue
		}
		if s.keep != nil && !s.keep(r) {
			continue
		}
		selected = append(selected, r.Clone())
	}
	fp := fingerprint(selected)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if s.seq > 0 && fp == s.fingerprint {
		return false
	}
	s.seq++
	s.fingerprint = fp
	snap := models.Snapshot{Seq: s.seq, Reports: selected}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- snap
	return true
}

func fingerprint(reports []*models.Report) string {
	var b strings.Builder
	for _, r := range reports {
		b.WriteString(r.ID)
		b.WriteByte('@')
		b.WriteString(strconv.FormatInt(r.Revision, 10))
		b.WriteByte(';')
	}
	return b.String()
}
