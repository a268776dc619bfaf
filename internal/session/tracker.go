package session

import (
	"context"
	"sync"

	"aeroinsight/internal/identity/models"
	dErrors "aeroinsight/pkg/domain-errors"
)

// State is an immutable view of the tracked authentication state.
type State struct {
	Settled   bool
	Principal *models.Principal
	Profile   *models.Profile
}

// Session converts the state into a request session.
func (st State) Session() *Session {
	return &Session{Principal: st.Principal, Profile: st.Profile, Settled: st.Settled}
}

// ProfileResolver loads the profile of a principal.
type ProfileResolver interface {
	Resolve(ctx context.Context, p models.Principal) (*models.Profile, error)
}

// Tracker holds the authentication state of a long-lived client and
// notifies subscribers on every change. It starts unsettled: the client does
// not yet know whether anybody is signed in. The server never holds one;
// it is the state model for clients of this package, which pair it with a
// Guard through Decide. Request handling uses Session via Middleware.
type Tracker struct {
	resolver ProfileResolver

	mu     sync.Mutex
	state  State
	subs   map[int]chan State
	nextID int
}

// NewTracker creates an unsettled tracker.
func NewTracker(resolver ProfileResolver) *Tracker {
	return &Tracker{resolver: resolver, subs: make(map[int]chan State)}
}

// Decide asks g what to do with the current state.
func (t *Tracker) Decide(g Guard) Decision {
	return g.Decide(t.Current())
}

// Current returns the latest state.
func (t *Tracker) Current() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SignIn records p and resolves its profile. A missing profile still signs
// the principal in, degraded. A resolver outage leaves the state unchanged
// and returns the retryable error.
func (t *Tracker) SignIn(ctx context.Context, p models.Principal) error {
	profile, err := t.resolver.Resolve(ctx, p)
	switch {
	case err == nil:
	case dErrors.HasCode(err, dErrors.CodeProfileMissing):
		profile = nil
	default:
		return err
	}
	principal := p
	t.set(State{Settled: true, Principal: &principal, Profile: profile})
	return nil
}

// SignOut discards the principal and profile.
func (t *Tracker) SignOut() {
	t.set(State{Settled: true})
}

// MarkSettled records that the initial auth check finished without a
// signed-in principal. It is a no-op once settled.
func (t *Tracker) MarkSettled() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.state.Settled {
		t.setLocked(State{Settled: true})
	}
}

// Subscribe returns a channel that receives the current state immediately
// and every later change. Like live report queries, the channel has one slot
// and keeps only the newest undelivered state. Call cancel to release it.
func (t *Tracker) Subscribe() (<-chan State, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	ch := make(chan State, 1)
	ch <- t.state
	t.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(t.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

func (t *Tracker) set(st State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setLocked(st)
}

func (t *Tracker) setLocked(st State) {
	t.state = st
	for _, ch := range t.subs {
		select {
		case <-ch:
		default:
		}
		ch <- st
	}
}
