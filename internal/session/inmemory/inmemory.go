package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/homescout/homescout/internal/session"
)

// Store keeps sessions in process memory. Each session carries its own lock
// so updates for different keys never contend; the outer lock only guards
// the map itself.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry
}

type entry struct {
	mu    sync.Mutex
	state *session.State
}

// NewStore builds an empty in-memory session store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*entry)}
}

func (s *Store) entryFor(id string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	if !ok {
		e = &entry{state: session.NewState(id)}
		s.sessions[id] = e
	}
	return e
}

// Ensure returns the session for id, creating it when absent.
func (s *Store) Ensure(ctx context.Context, id string, ttl time.Duration) (*session.State, error) {
	if id == "" {
		id = uuid.NewString()
	}
	e := s.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Touch(ttl)
	return e.state.Clone(), nil
}

// Get returns a snapshot of the session, ok=false when absent.
func (s *Store) Get(ctx context.Context, id string) (*session.State, bool, error) {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone(), true, nil
}

// Update applies fn atomically under the session's lock, creating the
// session lazily when absent.
func (s *Store) Update(ctx context.Context, id string, ttl time.Duration, fn func(*session.State) error) (*session.State, error) {
	e := s.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := fn(e.state); err != nil {
		return nil, err
	}
	e.state.Touch(ttl)
	return e.state.Clone(), nil
}

// Delete removes the session if present.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Sweep evicts sessions whose TTL expired before now.
func (s *Store) Sweep(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for id, e := range s.sessions {
		e.mu.Lock()
		expired := e.state.Expired(now)
		e.mu.Unlock()
		if expired {
			delete(s.sessions, id)
			evicted++
		}
	}
	return evicted, nil
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
