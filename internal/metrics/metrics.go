package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Metrics holds all application metrics
type Metrics struct {
	mu sync.RWMutex

	// Event metrics
	EventsReceivedTotal int64
	EventsDroppedTotal  int64
	EventsInvalidTotal  int64

	// Command metrics
	CommandsIssuedTotal int64
	CommandErrorsTotal  int64
	CommandRetriesTotal int64

	// Session metrics
	SessionsCreatedTotal  int64
	SessionsEvictedTotal  int64
	EscalationsFiredTotal int64
	TransfersStartedTotal int64

	// Artifact metrics
	RecordingsSavedTotal  int64
	TranscriptsSavedTotal int64

	startTime time.Time
}

// Global metrics instance
var instance *Metrics
var once sync.Once

// Get returns the singleton metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = &Metrics{startTime: time.Now()}
	})
	return instance
}

func (m *Metrics) add(counter *int64) {
	m.mu.Lock()
	*counter++
	m.mu.Unlock()
}

// RecordEventReceived increments the events received counter
func (m *Metrics) RecordEventReceived() { m.add(&m.EventsReceivedTotal) }

// RecordEventDropped counts events referencing unknown sessions or legs
func (m *Metrics) RecordEventDropped() { m.add(&m.EventsDroppedTotal) }

// RecordEventInvalid counts malformed events
func (m *Metrics) RecordEventInvalid() { m.add(&m.EventsInvalidTotal) }

// RecordCommandIssued increments the commands issued counter
func (m *Metrics) RecordCommandIssued() { m.add(&m.CommandsIssuedTotal) }

// RecordCommandError counts commands that failed after retries
func (m *Metrics) RecordCommandError() { m.add(&m.CommandErrorsTotal) }

// RecordCommandRetry counts transient-error retries
func (m *Metrics) RecordCommandRetry() { m.add(&m.CommandRetriesTotal) }

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() { m.add(&m.SessionsCreatedTotal) }

// RecordSessionEvicted increments the sessions evicted counter
func (m *Metrics) RecordSessionEvicted() { m.add(&m.SessionsEvictedTotal) }

// RecordEscalationFired increments the escalation counter
func (m *Metrics) RecordEscalationFired() { m.add(&m.EscalationsFiredTotal) }

// RecordTransferStarted increments the transfer counter
func (m *Metrics) RecordTransferStarted() { m.add(&m.TransfersStartedTotal) }

// RecordRecordingSaved increments the recordings saved counter
func (m *Metrics) RecordRecordingSaved() { m.add(&m.RecordingsSavedTotal) }

// RecordTranscriptSaved increments the transcripts saved counter
func (m *Metrics) RecordTranscriptSaved() { m.add(&m.TranscriptsSavedTotal) }

// Snapshot returns the current metric values
func (m *Metrics) Snapshot(activeSessions int) map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"uptime_seconds":          int64(time.Since(m.startTime).Seconds()),
		"events_received_total":   m.EventsReceivedTotal,
		"events_dropped_total":    m.EventsDroppedTotal,
		"events_invalid_total":    m.EventsInvalidTotal,
		"commands_issued_total":   m.CommandsIssuedTotal,
		"command_errors_total":    m.CommandErrorsTotal,
		"command_retries_total":   m.CommandRetriesTotal,
		"sessions_created_total":  m.SessionsCreatedTotal,
		"sessions_evicted_total":  m.SessionsEvictedTotal,
		"sessions_active":         activeSessions,
		"escalations_fired_total": m.EscalationsFiredTotal,
		"transfers_started_total": m.TransfersStartedTotal,
		"recordings_saved_total":  m.RecordingsSavedTotal,
		"transcripts_saved_total": m.TranscriptsSavedTotal,
	}
}

// Handler serves the metrics snapshot as JSON. activeSessions supplies the
// live session count without coupling this package to the store.
func Handler(activeSessions func() int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Get().Snapshot(activeSessions()))
	}
}
