package coordinator

import (
	"context"
	"time"

	"github.com/homescout/homescout/internal/session"
)

// armDeadline starts (or restarts) the per-session stage timer. Each
// dispatch that widens the in-flight fan-out pushes the bound out again, so
// the guarantee is per stage, not per turn: a lost sub-response degrades the
// turn after at most one deadline, it never hangs it.
func (c *Coordinator) armDeadline(sessionID string, turn int) {
	if c.deadline <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.timers[sessionID]; ok {
		t.Stop()
	}
	c.timers[sessionID] = time.AfterFunc(c.deadline, func() {
		c.onDeadline(sessionID, turn)
	})
}

// cancelDeadline releases the session's timer once a turn finalizes.
func (c *Coordinator) cancelDeadline(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.timers[sessionID]; ok {
		t.Stop()
		delete(c.timers, sessionID)
	}
}

// stopTimers drops every armed timer on shutdown. Sessions finalize on their
// next arrival after restart, or simply expire.
func (c *Coordinator) stopTimers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
}

// onDeadline finalizes a stalled turn with whatever arrived. Losing the race
// against a regular finalize is fine: the flag flips exactly once, inside
// the store's lock.
func (c *Coordinator) onDeadline(sessionID string, turn int) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var fired bool
	st, err := c.sessions.Update(ctx, sessionID, c.ttl, func(s *session.State) error {
		if s.Turn != turn || s.Finalized {
			return nil
		}
		s.Finalized = true
		fired = true
		return nil
	})
	if err != nil {
		c.logger.Printf("error finalizing session %s on deadline: %v", sessionID, err)
		return
	}
	if !fired {
		return
	}
	c.logger.Printf("warn: stage deadline expired for session %s turn %d, assembling what arrived", sessionID, turn)
	c.finalizeTurn(ctx, st, true)
}
