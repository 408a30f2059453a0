package compute

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/compostwatch/compostwatch/agent/internal/telemetry"
	"github.com/compostwatch/compostwatch/pkg/types"
)

// Temperature regimes tracked for transition logging.
const (
	RegimeCold         = "cold"
	RegimeMesophilic   = "mesophilic"
	RegimeThermophilic = "thermophilic"
)

// DefaultHysteresis is the half-width in °C of the dead band around each
// regime boundary.
const DefaultHysteresis = 2.0

// TransitionState is the persisted regime of one pile.
type TransitionState struct {
	Regime    string    `json:"regime"`
	Since     time.Time `json:"since"`
	Watermark time.Time `json:"watermark"`
}

// StateStore persists TransitionState per pile.
type StateStore interface {
	Load(ctx context.Context, pileID string) (TransitionState, bool, error)
	Save(ctx context.Context, pileID string, st TransitionState) error
}

// Tracker detects regime changes of the smoothed temperature with hysteresis.
// Unlike ClassifyPhase it is stateful: only points newer than the stored
// watermark are consumed, so re-fetching overlapping windows never repeats a
// transition. Callers must not observe the same pile concurrently.
type Tracker struct {
	store StateStore
	band  float64
}

// NewTracker returns a Tracker backed by store. A non-positive band selects
// DefaultHysteresis.
func NewTracker(store StateStore, band float64) *Tracker {
	if band <= 0 {
		band = DefaultHysteresis
	}
	return &Tracker{store: store, band: band}
}

// Observe feeds the new points of series through the regime machine and
// returns the transitions they caused. The first point ever seen for a pile
// seeds its state without a transition.
func (t *Tracker) Observe(ctx context.Context, pileID string, series telemetry.TemperatureSeries) ([]types.Transition, error) {
	st, found, err := t.store.Load(ctx, pileID)
	if err != nil {
		return nil, fmt.Errorf("compute: load transition state %q: %w", pileID, err)
	}

	points := series.Points
	if found {
		points = series.After(st.Watermark)
	}
	if len(points) == 0 {
		return nil, nil
	}

	var out []types.Transition
	for _, p := range points {
		if !found {
			st = TransitionState{Regime: initialRegime(p.MA), Since: p.Time}
			found = true
		} else if next := t.next(st.Regime, p.MA); next != st.Regime {
			out = append(out, types.Transition{
				PileID:      pileID,
				From:        st.Regime,
				To:          next,
				At:          p.Time,
				Temperature: p.MA,
			})
			st.Regime = next
			st.Since = p.Time
		}
		st.Watermark = p.Time
	}

	if err := t.store.Save(ctx, pileID, st); err != nil {
		return nil, fmt.Errorf("compute: save transition state %q: %w", pileID, err)
	}
	return out, nil
}

func initialRegime(temp float64) string {
	switch {
	case temp < mesophilicFloor:
		return RegimeCold
	case temp <= thermophilicEdge:
		return RegimeMesophilic
	default:
		return RegimeThermophilic
	}
}

// next moves from current only once temp has cleared the dead band.
func (t *Tracker) next(current string, temp float64) string {
	switch current {
	case RegimeCold:
		switch {
		case temp >= thermophilicEdge+t.band:
			return RegimeThermophilic
		case temp >= mesophilicFloor+t.band:
			return RegimeMesophilic
		}
	case RegimeMesophilic:
		switch {
		case temp >= thermophilicEdge+t.band:
			return RegimeThermophilic
		case temp < mesophilicFloor-t.band:
			return RegimeCold
		}
	case RegimeThermophilic:
		switch {
		case temp < mesophilicFloor-t.band:
			return RegimeCold
		case temp < thermophilicEdge-t.band:
			return RegimeMesophilic
		}
	default:
		return initialRegime(temp)
	}
	return current
}

// MemoryStateStore keeps transition state in process memory.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]TransitionState
}

// NewMemoryStateStore returns an empty MemoryStateStore.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]TransitionState)}
}

func (m *MemoryStateStore) Load(_ context.Context, pileID string) (TransitionState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[pileID]
	return st, ok, nil
}

func (m *MemoryStateStore) Save(_ context.Context, pileID string, st TransitionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[pileID] = st
	return nil
}
