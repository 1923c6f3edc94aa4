package session

import (
	"sync"
	"time"
)

// Direction indicates who originated the primary PSTN leg
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// LegRole identifies a leg's function within a call session
type LegRole string

const (
	RolePrimary   LegRole = "pstn_primary"
	RoleProcessor LegRole = "processor"
	RoleAgent     LegRole = "agent"
)

// LegKind distinguishes ordinary phone legs from media-stream legs
type LegKind string

const (
	KindPhone       LegKind = "phone"
	KindMediaStream LegKind = "media_stream"
)

// LegStatus represents the lifecycle state of a single leg
type LegStatus string

const (
	LegPending   LegStatus = "pending"
	LegRinging   LegStatus = "ringing"
	LegConnected LegStatus = "connected"
	LegEnded     LegStatus = "ended"
)

// State represents the lifecycle state of a call session
type State string

const (
	StateCreated             State = "created"
	StateRinging             State = "ringing"
	StateBridged             State = "bridged"
	StateProcessorConnecting State = "processor_connecting"
	StateProcessorActive     State = "processor_active"
	StateTransferring        State = "transferring"
	StateAgentActive         State = "agent_active"
	StateTerminated          State = "terminated"
)

// IsTerminal returns true once a session can accept no further transitions
func (s State) IsTerminal() bool {
	return s == StateTerminated
}

// Leg is one endpoint bridged into, or pending bridge into, the conference
type Leg struct {
	ID     string    `json:"id"`
	Role   LegRole   `json:"role"`
	Kind   LegKind   `json:"kind"`
	Status LegStatus `json:"status"`
}

// CallSession is the unit of orchestration, one per top-level call.
//
// All reads and writes after creation must happen while holding the
// session's mutex; the store hands out sessions but never locks them.
type CallSession struct {
	mu sync.Mutex

	ID             string
	Direction      Direction
	State          State
	Legs           map[LegRole]*Leg
	RecordingReq   bool
	RecordingOn    bool // at-most-once latch for StartRecording
	ProcessorCount int  // processor legs created over the session lifetime
	LastActivity   time.Time
}

// ConferenceName derives the conference a session's legs join. It is the
// single synchronization point: every leg bridges by joining this name, so
// leg creation order and bridging order are decoupled.
func ConferenceName(sessionID string) string {
	return "conf_" + sessionID
}

// NewCallSession creates a session for a newly seen primary call UUID.
// The primary PSTN leg is attached immediately in pending status.
func NewCallSession(callUUID string, direction Direction, recordCalls bool) *CallSession {
	s := &CallSession{
		ID:           callUUID,
		Direction:    direction,
		State:        StateCreated,
		Legs:         make(map[LegRole]*Leg),
		RecordingReq: recordCalls,
		LastActivity: time.Now(),
	}
	s.Legs[RolePrimary] = &Leg{
		ID:     callUUID,
		Role:   RolePrimary,
		Kind:   KindPhone,
		Status: LegPending,
	}
	return s
}

// Lock acquires the session's exclusive section
func (s *CallSession) Lock() { s.mu.Lock() }

// Unlock releases the session's exclusive section
func (s *CallSession) Unlock() { s.mu.Unlock() }

// Conference returns the session's conference name
func (s *CallSession) Conference() string {
	return ConferenceName(s.ID)
}

// Leg returns the leg holding the given role, or nil
func (s *CallSession) Leg(role LegRole) *Leg {
	return s.Legs[role]
}

// Primary returns the PSTN primary leg. A session always has one.
func (s *CallSession) Primary() *Leg {
	return s.Legs[RolePrimary]
}

// Touch records activity for the orphan-reclaim safeguard
func (s *CallSession) Touch() {
	s.LastActivity = time.Now()
}

// Idle reports whether the session has seen no events for at least maxIdle
func (s *CallSession) Idle(maxIdle time.Duration) bool {
	return time.Since(s.LastActivity) >= maxIdle
}

// ActiveLegs returns every leg that is not yet ended, excluding the given role
func (s *CallSession) ActiveLegs(except LegRole) []*Leg {
	var legs []*Leg
	for role, leg := range s.Legs {
		if role == except || leg.Status == LegEnded {
			continue
		}
		legs = append(legs, leg)
	}
	return legs
}

// Snapshot is a lock-free copy of session state for the monitor feed
type Snapshot struct {
	SessionID  string    `json:"sessionId"`
	Direction  Direction `json:"direction"`
	State      State     `json:"state"`
	Conference string    `json:"conference"`
	Legs       []Leg     `json:"legs"`
	Timestamp  time.Time `json:"timestamp"`
}

// Snapshot copies the session's observable state. Callers must hold the
// session lock.
func (s *CallSession) Snapshot() Snapshot {
	snap := Snapshot{
		SessionID:  s.ID,
		Direction:  s.Direction,
		State:      s.State,
		Conference: s.Conference(),
		Timestamp:  time.Now(),
	}
	for _, role := range []LegRole{RolePrimary, RoleProcessor, RoleAgent} {
		if leg, ok := s.Legs[role]; ok {
			snap.Legs = append(snap.Legs, *leg)
		}
	}
	return snap
}
