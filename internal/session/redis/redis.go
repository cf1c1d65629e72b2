package redis_session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/homescout/homescout/internal/session"
)

const keyPrefix = "homescout:session:"

// Store persists session state as JSON values with a Redis TTL. The per-key
// write lock is process-local: the single coordinator process is the only
// writer of aggregation state, so cross-process locking is not needed. Redis
// expiry handles eviction, making Sweep a no-op here.
type Store struct {
	client *redis.Client

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore wraps an existing Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client, locks: make(map[string]*sync.Mutex)}
}

func (s *Store) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *Store) dropLock(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, id)
}

func key(id string) string { return keyPrefix + id }

func (s *Store) load(ctx context.Context, id string) (*session.State, bool, error) {
	raw, err := s.client.Get(ctx, key(id)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("session get: %w", err)
	}
	var st session.State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, false, fmt.Errorf("session decode: %w", err)
	}
	return &st, true, nil
}

func (s *Store) save(ctx context.Context, st *session.State, ttl time.Duration) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("session encode: %w", err)
	}
	if err := s.client.Set(ctx, key(st.ID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("session set: %w", err)
	}
	return nil
}

// Ensure returns the session for id, creating it when absent.
func (s *Store) Ensure(ctx context.Context, id string, ttl time.Duration) (*session.State, error) {
	if id == "" {
		id = uuid.NewString()
	}
	return s.Update(ctx, id, ttl, func(*session.State) error { return nil })
}

// Get returns a snapshot of the session, ok=false when absent.
func (s *Store) Get(ctx context.Context, id string) (*session.State, bool, error) {
	return s.load(ctx, id)
}

// Update applies fn atomically under the session's process-local lock,
// creating the session lazily when absent.
func (s *Store) Update(ctx context.Context, id string, ttl time.Duration, fn func(*session.State) error) (*session.State, error) {
	if id == "" {
		return nil, fmt.Errorf("session id is required")
	}
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	st, ok, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		st = session.NewState(id)
	}
	if err := fn(st); err != nil {
		return nil, err
	}
	st.Touch(ttl)
	if err := s.save(ctx, st, ttl); err != nil {
		return nil, err
	}
	return st.Clone(), nil
}

// Delete removes the session and its lock.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, key(id)).Err(); err != nil {
		return fmt.Errorf("session del: %w", err)
	}
	s.dropLock(id)
	return nil
}

// Sweep is satisfied by Redis key expiry; it only prunes stale local locks.
func (s *Store) Sweep(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.locks {
		exists, err := s.client.Exists(ctx, key(id)).Result()
		if err != nil {
			continue
		}
		if exists == 0 {
			delete(s.locks, id)
		}
	}
	return 0, nil
}
