package escalate

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// firedCollector records fire callbacks in a goroutine-safe way
type firedCollector struct {
	mu    sync.Mutex
	ids   []string
	fired chan string
}

func newFiredCollector() *firedCollector {
	return &firedCollector{fired: make(chan string, 8)}
}

func (c *firedCollector) fire(sessionID string) {
	c.mu.Lock()
	c.ids = append(c.ids, sessionID)
	c.mu.Unlock()
	c.fired <- sessionID
}

func (c *firedCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}

func TestScheduleFires(t *testing.T) {
	collector := newFiredCollector()
	s := NewScheduler(collector.fire, zerolog.Nop())

	s.Schedule("U1", 10*time.Millisecond)
	if !s.Pending("U1") {
		t.Error("expected timer to be pending")
	}

	select {
	case id := <-collector.fired:
		if id != "U1" {
			t.Errorf("expected U1, got %s", id)
		}
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}

	if s.Pending("U1") {
		t.Error("fired timer must not remain pending")
	}
}

func TestCancelPreventsFiring(t *testing.T) {
	collector := newFiredCollector()
	s := NewScheduler(collector.fire, zerolog.Nop())

	s.Schedule("U1", 20*time.Millisecond)
	s.Cancel("U1")

	if s.Pending("U1") {
		t.Error("cancelled timer must not be pending")
	}

	time.Sleep(60 * time.Millisecond)
	if collector.count() != 0 {
		t.Errorf("cancelled timer fired anyway, %d times", collector.count())
	}
}

func TestCancelUnknownSessionIsNoOp(t *testing.T) {
	s := NewScheduler(func(string) {}, zerolog.Nop())
	s.Cancel("never-scheduled")
}

func TestRescheduleReplacesPendingTimer(t *testing.T) {
	collector := newFiredCollector()
	s := NewScheduler(collector.fire, zerolog.Nop())

	s.Schedule("U1", time.Hour)
	s.Schedule("U1", 10*time.Millisecond)

	select {
	case <-collector.fired:
	case <-time.After(time.Second):
		t.Fatal("replacement timer did not fire")
	}

	time.Sleep(30 * time.Millisecond)
	if got := collector.count(); got != 1 {
		t.Errorf("expected exactly 1 firing, got %d", got)
	}
}

func TestStopCancelsEverything(t *testing.T) {
	collector := newFiredCollector()
	s := NewScheduler(collector.fire, zerolog.Nop())

	s.Schedule("U1", 20*time.Millisecond)
	s.Schedule("U2", 20*time.Millisecond)
	s.Stop()

	if s.Pending("U1") || s.Pending("U2") {
		t.Error("stopped scheduler must have no pending timers")
	}

	time.Sleep(60 * time.Millisecond)
	if collector.count() != 0 {
		t.Errorf("stopped timers fired %d times", collector.count())
	}
}
