package compute

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/compostwatch/compostwatch/agent/internal/telemetry"
)

// seriesOf builds a series whose smoothed column equals values, one point per hour.
func seriesOf(start time.Time, values ...float64) telemetry.TemperatureSeries {
	pts := make([]telemetry.SeriesPoint, len(values))
	for i, v := range values {
		pts[i] = telemetry.SeriesPoint{Time: start.Add(time.Duration(i) * time.Hour), Value: v, MA: v}
	}
	return telemetry.TemperatureSeries{Points: pts}
}

func TestTracker_FirstObservationSeeds(t *testing.T) {
	store := NewMemoryStateStore()
	tr := NewTracker(store, 0)

	got, err := tr.Observe(context.Background(), "pile-1", seriesOf(evalTime, 30, 31, 32))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("transitions = %+v, want none", got)
	}
	st, ok, _ := store.Load(context.Background(), "pile-1")
	if !ok || st.Regime != RegimeMesophilic {
		t.Fatalf("state = %+v (found %v), want mesophilic", st, ok)
	}
	if !st.Watermark.Equal(evalTime.Add(2 * time.Hour)) {
		t.Errorf("Watermark = %v, want last point time", st.Watermark)
	}
}

func TestTracker_Hysteresis(t *testing.T) {
	tr := NewTracker(NewMemoryStateStore(), 2)
	// 41 sits inside the dead band above 40 and must not flip the regime;
	// 42 does. Back down, 39 stays thermophilic, 37.9 flips.
	series := seriesOf(evalTime, 30, 41, 39, 41.9, 42, 41, 39, 38, 37.9)
	got, err := tr.Observe(context.Background(), "p", series)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("transitions = %+v, want 2", got)
	}
	up, down := got[0], got[1]
	if up.From != RegimeMesophilic || up.To != RegimeThermophilic || up.Temperature != 42 {
		t.Errorf("first transition = %+v", up)
	}
	if !up.At.Equal(evalTime.Add(4 * time.Hour)) {
		t.Errorf("first transition at %v", up.At)
	}
	if down.From != RegimeThermophilic || down.To != RegimeMesophilic || down.Temperature != 37.9 {
		t.Errorf("second transition = %+v", down)
	}
	if down.PileID != "p" {
		t.Errorf("PileID = %q", down.PileID)
	}
}

func TestTracker_WatermarkPreventsReplay(t *testing.T) {
	tr := NewTracker(NewMemoryStateStore(), 2)
	ctx := context.Background()

	first := seriesOf(evalTime, 15, 16, 25)
	got, err := tr.Observe(ctx, "p", first)
	if err != nil || len(got) != 1 {
		t.Fatalf("first Observe = %+v, %v; want one transition", got, err)
	}

	// Overlapping window re-fetched with one new point.
	again := seriesOf(evalTime, 15, 16, 25, 26)
	got, err = tr.Observe(ctx, "p", again)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("replayed transitions: %+v", got)
	}
}

func TestTracker_ColdToThermophilicJump(t *testing.T) {
	tr := NewTracker(NewMemoryStateStore(), 2)
	got, _ := tr.Observe(context.Background(), "p", seriesOf(evalTime, 10, 45, 10))
	if len(got) != 2 {
		t.Fatalf("transitions = %+v, want 2", got)
	}
	if got[0].To != RegimeThermophilic || got[1].To != RegimeCold {
		t.Errorf("transitions = %+v", got)
	}
}

type failingStore struct{}

func (failingStore) Load(context.Context, string) (TransitionState, bool, error) {
	return TransitionState{}, false, errors.New("backend down")
}

func (failingStore) Save(context.Context, string, TransitionState) error { return nil }

func TestTracker_StoreError(t *testing.T) {
	tr := NewTracker(failingStore{}, 2)
	if _, err := tr.Observe(context.Background(), "p", seriesOf(evalTime, 30)); err == nil {
		t.Error("expected error from failing store")
	}
}
