package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func TestGetOrCreateIsIdempotent(t *testing.T) {
	st := NewStore(zerolog.Nop())

	first, created := st.GetOrCreate("U1", DirectionInbound, false)
	if !created {
		t.Fatal("expected session to be created")
	}

	second, created := st.GetOrCreate("U1", DirectionInbound, false)
	if created {
		t.Error("duplicate UUID must not create a second session")
	}
	if first != second {
		t.Error("expected the same session instance")
	}
	if st.Len() != 1 {
		t.Errorf("expected 1 session, got %d", st.Len())
	}
}

func TestFindByLegIDAfterAttach(t *testing.T) {
	st := NewStore(zerolog.Nop())
	sess, _ := st.GetOrCreate("U1", DirectionInbound, false)

	// The primary leg is indexed at creation
	if st.FindByLegID("U1") != sess {
		t.Error("expected primary leg lookup to resolve")
	}

	sess.Legs[RoleProcessor] = &Leg{ID: "W1", Role: RoleProcessor, Kind: KindMediaStream, Status: LegPending}
	st.AttachLeg("U1", "W1")

	if st.FindByLegID("W1") != sess {
		t.Error("expected processor leg lookup to resolve")
	}
	if st.FindByLegID("unknown") != nil {
		t.Error("expected nil for unknown leg")
	}
}

func TestRemoveEvictsAllLegIndexes(t *testing.T) {
	st := NewStore(zerolog.Nop())
	var evicted []string
	st.OnEvict = func(id string) { evicted = append(evicted, id) }

	sess, _ := st.GetOrCreate("U1", DirectionInbound, false)
	sess.Legs[RoleAgent] = &Leg{ID: "A1", Role: RoleAgent, Kind: KindPhone, Status: LegConnected}
	st.AttachLeg("U1", "A1")

	st.Remove("U1")

	if st.FindBySessionID("U1") != nil {
		t.Error("expected session to be gone")
	}
	if st.FindByLegID("A1") != nil {
		t.Error("expected leg index entry to be gone")
	}
	if len(evicted) != 1 || evicted[0] != "U1" {
		t.Errorf("expected OnEvict for U1, got %v", evicted)
	}

	// Removing twice is a no-op
	st.Remove("U1")
	if len(evicted) != 1 {
		t.Error("second remove must not fire OnEvict again")
	}
}

func TestConcurrentSessionsDoNotInterfere(t *testing.T) {
	st := NewStore(zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("U%d", n)
			sess, _ := st.GetOrCreate(id, DirectionInbound, false)
			sess.Lock()
			sess.State = StateBridged
			sess.Unlock()
			if st.FindByLegID(id) == nil {
				t.Errorf("session %s not found by leg", id)
			}
		}(i)
	}
	wg.Wait()

	if st.Len() != 50 {
		t.Errorf("expected 50 sessions, got %d", st.Len())
	}
}
