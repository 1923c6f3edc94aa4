package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Store is the in-memory correlation store mapping call and leg identifiers
// to sessions. The store mutex only guards the maps; each session carries
// its own lock, so event processing for unrelated calls never serializes.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*CallSession // sessionID -> session
	byLeg    map[string]string       // legID -> sessionID
	logger   zerolog.Logger

	// OnEvict, if set, is called after a session is removed (reaper or
	// explicit). Used to cancel pending escalation timers.
	OnEvict func(sessionID string)
}

// NewStore creates an empty correlation store
func NewStore(logger zerolog.Logger) *Store {
	return &Store{
		sessions: make(map[string]*CallSession),
		byLeg:    make(map[string]string),
		logger:   logger,
	}
}

// GetOrCreate returns the session owning callUUID, creating one when the
// UUID has not been seen before. The second return value reports whether a
// new session was created.
func (st *Store) GetOrCreate(callUUID string, direction Direction, recordCalls bool) (*CallSession, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if id, ok := st.byLeg[callUUID]; ok {
		return st.sessions[id], false
	}
	if sess, ok := st.sessions[callUUID]; ok {
		return sess, false
	}

	sess := NewCallSession(callUUID, direction, recordCalls)
	st.sessions[sess.ID] = sess
	st.byLeg[callUUID] = sess.ID

	st.logger.Debug().
		Str("session_id", sess.ID).
		Str("direction", string(direction)).
		Msg("session created")
	return sess, true
}

// FindBySessionID returns the session with the given ID, or nil
func (st *Store) FindBySessionID(sessionID string) *CallSession {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.sessions[sessionID]
}

// FindByLegID resolves a provider leg UUID to its owning session, or nil
func (st *Store) FindByLegID(legID string) *CallSession {
	st.mu.RLock()
	defer st.mu.RUnlock()
	id, ok := st.byLeg[legID]
	if !ok {
		return nil
	}
	return st.sessions[id]
}

// AttachLeg indexes a newly created secondary leg under its session.
// Callers must hold the session lock; the leg must already be present in
// the session's Legs map.
func (st *Store) AttachLeg(sessionID, legID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[sessionID]; !ok {
		return
	}
	st.byLeg[legID] = sessionID
}

// Remove evicts a session and all of its leg index entries
func (st *Store) Remove(sessionID string) {
	st.mu.Lock()
	sess, ok := st.sessions[sessionID]
	if !ok {
		st.mu.Unlock()
		return
	}
	delete(st.sessions, sessionID)
	for legID, id := range st.byLeg {
		if id == sessionID {
			delete(st.byLeg, legID)
		}
	}
	st.mu.Unlock()

	st.logger.Debug().
		Str("session_id", sessionID).
		Str("state", string(sess.State)).
		Msg("session evicted")

	if st.OnEvict != nil {
		st.OnEvict(sessionID)
	}
}

// Len returns the number of live sessions
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// RunReaper periodically evicts sessions that have seen no events for
// maxIdle. This is the safeguard against missed terminal webhooks leaving
// orphan sessions behind; a live call always produces events well within
// the timeout.
func (st *Store) RunReaper(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	st.logger.Info().Dur("max_idle", maxIdle).Msg("session reaper started")

	for {
		select {
		case <-ctx.Done():
			st.logger.Info().Msg("session reaper stopped")
			return
		case <-ticker.C:
			for _, sess := range st.stale(maxIdle) {
				sess.Lock()
				sess.State = StateTerminated
				sess.Unlock()
				st.logger.Warn().
					Str("session_id", sess.ID).
					Msg("reaping idle session")
				st.Remove(sess.ID)
			}
		}
	}
}

// stale collects idle sessions. Sessions are locked only after the store
// lock is released; dispatch paths hold a session lock while taking the
// store lock, so nesting them the other way around would deadlock.
func (st *Store) stale(maxIdle time.Duration) []*CallSession {
	st.mu.RLock()
	all := make([]*CallSession, 0, len(st.sessions))
	for _, sess := range st.sessions {
		all = append(all, sess)
	}
	st.mu.RUnlock()

	var out []*CallSession
	for _, sess := range all {
		sess.Lock()
		idle := sess.Idle(maxIdle)
		sess.Unlock()
		if idle {
			out = append(out, sess)
		}
	}
	return out
}
