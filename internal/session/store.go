// Package session holds the single in-memory record of who is signed in.
// All writes come from the auth coordinator; consumers read snapshots or
// subscribe to changes. There is no business logic here.
package session

import (
	"context"
	"sync"

	"lingkod.org/internal/portal"
)

// State is the current authentication state. Principal is nil while signed
// out; Loading stays true until the first authoritative session resolution.
type State struct {
	Principal *portal.Principal
	Loading   bool
}

// SignedIn reports whether a principal is present.
func (s State) SignedIn() bool { return s.Principal != nil }

// Store broadcasts every state change to subscribers.
type Store struct {
	mu    sync.RWMutex
	state State
	subs  map[int]chan State
	next  int
}

// NewStore starts in the loading state, signed out.
func NewStore() *Store {
	return &Store{
		state: State{Loading: true},
		subs:  make(map[int]chan State),
	}
}

// Snapshot returns the latest state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetPrincipal adopts a resolved principal.
func (s *Store) SetPrincipal(p *portal.Principal) {
	s.mu.Lock()
	s.state.Principal = p
	state := s.state
	s.mu.Unlock()
	s.broadcast(state)
}

// Clear drops the principal (sign-out or failed resolution).
func (s *Store) Clear() {
	s.SetPrincipal(nil)
}

// SetLoading flips the loading flag.
func (s *Store) SetLoading(loading bool) {
	s.mu.Lock()
	if s.state.Loading == loading {
		s.mu.Unlock()
		return
	}
	s.state.Loading = loading
	state := s.state
	s.mu.Unlock()
	s.broadcast(state)
}

// Subscribe delivers every subsequent state change until ctx ends. Slow
// subscribers drop updates rather than block the writer; the latest state is
// always available via Snapshot.
func (s *Store) Subscribe(ctx context.Context) <-chan State {
	ch := make(chan State, 8)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

func (s *Store) broadcast(state State) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- state:
		default:
		}
	}
}
