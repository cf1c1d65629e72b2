package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/homescout/homescout/internal/session"
	"github.com/homescout/homescout/internal/store"
)

// idempotencyRetention bounds how long processed-event claims are kept for
// redelivery dedup before being pruned.
const idempotencyRetention = 24 * time.Hour

// sweepLockKey serializes sweeps across gateway replicas.
const sweepLockKey = "homescout:sweep:lock"

// Sweeper evicts expired sessions and prunes stale idempotency claims on a
// cron schedule. Archive may be nil; Rdb may be nil in single-instance setups.
type Sweeper struct {
	Sessions session.Store
	Archive  *store.Store
	Rdb      *redis.Client
	Schedule string
	Stop     chan struct{}

	logger *log.Logger
	last   time.Time
}

// Start ticks once a minute and sweeps whenever the schedule is due.
func (s *Sweeper) Start() {
	if s.logger == nil {
		s.logger = log.New(log.Writer(), "[SWEEP] ", log.LstdFlags)
	}
	ticker := time.NewTicker(time.Minute)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick(time.Now())
			}
		}
	}()
}

func (s *Sweeper) tick(now time.Time) {
	if !isDue(s.Schedule, s.last, now) {
		return
	}
	s.last = now

	ctx := context.Background()
	if s.Rdb != nil {
		// distributed lock so only one replica sweeps per due slot
		ok, err := s.Rdb.SetNX(ctx, sweepLockKey, "1", time.Minute).Result()
		if err != nil || !ok {
			return
		}
		defer s.Rdb.Del(ctx, sweepLockKey)
	}

	evicted, err := s.Sessions.Sweep(ctx, now)
	if err != nil {
		s.logger.Printf("session sweep failed: %v", err)
	} else if evicted > 0 {
		s.logger.Printf("evicted %d expired sessions", evicted)
	}

	if s.Archive != nil {
		pruned, err := s.Archive.PruneIdempotency(ctx, now.Add(-idempotencyRetention))
		if err != nil {
			s.logger.Printf("idempotency prune failed: %v", err)
		} else if pruned > 0 {
			s.logger.Printf("pruned %d idempotency claims", pruned)
		}
	}
}

// isDue reports whether the schedule has come due since the last sweep.
// Supports "@hourly", "@daily" and standard 5-field cron expressions; an
// unparseable expression degrades to a 10 minute interval.
func isDue(spec string, last, now time.Time) bool {
	switch spec {
	case "@hourly":
		return last.IsZero() || now.Sub(last) >= time.Hour
	case "@daily":
		return last.IsZero() || now.Sub(last) >= 24*time.Hour
	}
	expr, err := cronexpr.Parse(spec)
	if err != nil {
		return last.IsZero() || now.Sub(last) >= 10*time.Minute
	}
	if last.IsZero() {
		return true
	}
	return !expr.Next(last).After(now)
}
