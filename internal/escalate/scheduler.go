// Package escalate schedules delayed transfer-to-agent triggers. The timer
// stands in for a real escalation signal (for example AI-detected intent):
// both paths inject the same event through the dispatcher, so a different
// trigger source can replace this one without touching the state machine.
package escalate

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler manages at most one pending escalation timer per session
type Scheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	fire   func(sessionID string)
	logger zerolog.Logger
}

// NewScheduler creates a scheduler. fire runs on the timer goroutine when a
// session's escalation comes due; it must post the synthetic event into the
// dispatcher rather than acting directly.
func NewScheduler(fire func(sessionID string), logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		timers: make(map[string]*time.Timer),
		fire:   fire,
		logger: logger,
	}
}

// Schedule arms the escalation timer for a session. A prior pending timer
// for the same session is cancelled first.
func (s *Scheduler) Schedule(sessionID string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[sessionID]; ok {
		t.Stop()
	}
	s.timers[sessionID] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, sessionID)
		s.mu.Unlock()

		s.logger.Debug().Str("session_id", sessionID).Msg("escalation timer fired")
		s.fire(sessionID)
	})

	s.logger.Debug().
		Str("session_id", sessionID).
		Dur("delay", delay).
		Msg("escalation scheduled")
}

// Cancel stops a session's pending timer, if any. Cancelling an unknown
// session is a no-op, so transitions can cancel unconditionally.
func (s *Scheduler) Cancel(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[sessionID]; ok {
		t.Stop()
		delete(s.timers, sessionID)
		s.logger.Debug().Str("session_id", sessionID).Msg("escalation cancelled")
	}
}

// Pending reports whether a session has an armed timer
func (s *Scheduler) Pending(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[sessionID]
	return ok
}

// Stop cancels every pending timer; used during shutdown
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
