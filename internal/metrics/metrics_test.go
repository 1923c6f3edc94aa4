package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func TestGetReturnsSingleton(t *testing.T) {
	if Get() != Get() {
		t.Error("expected the same instance")
	}
}

func TestCountersIncrement(t *testing.T) {
	m := Get()

	before := m.Snapshot(0)["events_received_total"].(int64)
	m.RecordEventReceived()
	m.RecordEventReceived()
	after := m.Snapshot(0)["events_received_total"].(int64)

	if after != before+2 {
		t.Errorf("expected counter to advance by 2, went from %d to %d", before, after)
	}
}

func TestConcurrentRecording(t *testing.T) {
	m := Get()
	before := m.Snapshot(0)["commands_issued_total"].(int64)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordCommandIssued()
		}()
	}
	wg.Wait()

	after := m.Snapshot(0)["commands_issued_total"].(int64)
	if after != before+100 {
		t.Errorf("expected counter to advance by 100, went from %d to %d", before, after)
	}
}

func TestHandlerServesJSON(t *testing.T) {
	h := Handler(func() int { return 7 })

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("unexpected content type: %s", ct)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["sessions_active"] != float64(7) {
		t.Errorf("expected 7 active sessions, got %v", body["sessions_active"])
	}
	if _, ok := body["uptime_seconds"]; !ok {
		t.Error("expected uptime_seconds field")
	}
}
