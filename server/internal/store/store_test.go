package store

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/compostwatch/compostwatch/pkg/types"
)

func env(id string) *types.ReportEnvelope {
	return &types.ReportEnvelope{PileID: id, Report: types.CompostStatusReport{Phase: "Stable Mesophilic"}}
}

// fixedClock returns a func() time.Time that always returns t.
func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func transition(at time.Time, from, to string) types.Transition {
	return types.Transition{PileID: "p", From: from, To: to, At: at, Temperature: 42}
}

func TestPutAndGet(t *testing.T) {
	st := New(5*time.Minute, 10)
	st.Put(env("p1"))

	e, ok := st.Get("p1")
	if !ok {
		t.Fatal("Get: expected entry, got none")
	}
	if e.Envelope.PileID != "p1" {
		t.Errorf("PileID: got %q, want p1", e.Envelope.PileID)
	}
	if e.LastGood != e.Envelope {
		t.Error("LastGood should be the successful envelope itself")
	}
}

func TestGet_Missing(t *testing.T) {
	st := New(5*time.Minute, 10)
	if _, ok := st.Get("unknown"); ok {
		t.Fatal("Get on empty store: expected false, got true")
	}
}

func TestPut_ErrorKeepsLastGood(t *testing.T) {
	st := New(5*time.Minute, 10)
	good := env("p")
	st.Put(good)

	failed := &types.ReportEnvelope{PileID: "p", Error: "fetch daily telemetry: timeout"}
	st.Put(failed)

	e, _ := st.Get("p")
	if e.Envelope != failed {
		t.Error("Envelope should be the latest, failed envelope")
	}
	if e.LastGood != good {
		t.Error("LastGood should still point at the earlier report")
	}
}

func TestPut_ErrorWithoutHistory(t *testing.T) {
	st := New(5*time.Minute, 10)
	st.Put(&types.ReportEnvelope{PileID: "p", Error: "boom"})
	e, _ := st.Get("p")
	if e.LastGood != nil {
		t.Error("LastGood should be nil before any successful report")
	}
}

func TestList_ExcludesStaleAndSorts(t *testing.T) {
	base := time.Now()
	st := New(5*time.Minute, 10)

	st.now = fixedClock(base.Add(-10 * time.Minute))
	st.Put(env("old"))

	st.now = fixedClock(base)
	st.Put(env("zeta"))
	st.Put(env("alpha"))

	entries := st.List()
	if len(entries) != 2 {
		t.Fatalf("List: got %d entries, want 2", len(entries))
	}
	if entries[0].Envelope.PileID != "alpha" || entries[1].Envelope.PileID != "zeta" {
		t.Errorf("List order: got %q, %q", entries[0].Envelope.PileID, entries[1].Envelope.PileID)
	}
}

func TestLive_HidesStale(t *testing.T) {
	base := time.Now()
	st := New(5*time.Minute, 10)
	st.now = fixedClock(base)
	st.Put(env("p"))

	if _, ok := st.Live("p"); !ok {
		t.Fatal("Live: fresh entry not returned")
	}
	st.now = fixedClock(base.Add(6 * time.Minute))
	if _, ok := st.Live("p"); ok {
		t.Error("Live: stale entry returned")
	}
	if _, ok := st.Get("p"); !ok {
		t.Error("Get: stale entry should still be held until eviction")
	}
}

func TestEvict_RemovesStale(t *testing.T) {
	base := time.Now()
	st := New(5*time.Minute, 10)

	st.now = fixedClock(base.Add(-10 * time.Minute))
	st.Put(env("old1"))
	st.Put(env("old2"))

	st.now = fixedClock(base)
	st.Put(env("live"))

	if removed := st.Evict(base); removed != 2 {
		t.Errorf("Evict: removed %d, want 2", removed)
	}
	if st.Count() != 1 {
		t.Errorf("Count after evict: got %d, want 1", st.Count())
	}
}

func TestTransitions_DedupAndCap(t *testing.T) {
	st := New(5*time.Minute, 3)
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	e := env("p")
	e.Transitions = []types.Transition{transition(base, "cold", "mesophilic")}
	st.Put(e)
	// A resent envelope must not duplicate the transition.
	st.Put(e)

	if got := st.Transitions("p"); len(got) != 1 {
		t.Fatalf("after resend: %d transitions, want 1", len(got))
	}

	for i := 1; i <= 3; i++ {
		e := env("p")
		e.Transitions = []types.Transition{transition(base.Add(time.Duration(i)*time.Hour), "a", fmt.Sprintf("r%d", i))}
		st.Put(e)
	}

	got := st.Transitions("p")
	if len(got) != 3 {
		t.Fatalf("got %d transitions, want cap 3", len(got))
	}
	if got[0].To != "r1" || got[2].To != "r3" {
		t.Errorf("kept %q..%q, want r1..r3", got[0].To, got[2].To)
	}
}

func TestTransitions_SurviveEviction(t *testing.T) {
	base := time.Now()
	st := New(time.Minute, 10)
	st.now = fixedClock(base.Add(-time.Hour))
	e := env("p")
	e.Transitions = []types.Transition{transition(base, "cold", "mesophilic")}
	st.Put(e)

	st.Evict(base)
	if _, ok := st.Get("p"); ok {
		t.Fatal("report should have been evicted")
	}
	if len(st.Transitions("p")) != 1 {
		t.Error("transition history should outlive the report")
	}
}

func TestConcurrentMixedOps(t *testing.T) {
	st := New(5*time.Minute, 10)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			st.Put(env("p-a"))
		}()
		go func() {
			defer wg.Done()
			st.List()
		}()
		go func() {
			defer wg.Done()
			st.Transitions("p-a")
		}()
	}
	wg.Wait()

	if st.Count() != 1 {
		t.Errorf("Count after concurrent puts: got %d, want 1", st.Count())
	}
}
