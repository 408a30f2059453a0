package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/compostwatch/compostwatch/pkg/types"
)

// Entry is the latest envelope of a pile together with the time it was
// received. LastGood is the most recent envelope without an error; it equals
// Envelope when the latest evaluation succeeded and is nil when none has.
type Entry struct {
	Envelope  *types.ReportEnvelope
	LastGood  *types.ReportEnvelope
	UpdatedAt time.Time
}

// Store is a thread-safe in-memory report store keyed by pile id. Latest
// reports expire after the TTL; the bounded transition history of a pile
// outlives its report.
type Store struct {
	mu          sync.RWMutex
	data        map[string]*Entry
	transitions map[string][]types.Transition
	ttl         time.Duration
	historyCap  int
	now         func() time.Time
}

// New creates a Store with the given report TTL keeping at most historyCap
// transitions per pile.
func New(ttl time.Duration, historyCap int) *Store {
	if historyCap <= 0 {
		historyCap = 1
	}
	return &Store{
		data:        make(map[string]*Entry),
		transitions: make(map[string][]types.Transition),
		ttl:         ttl,
		historyCap:  historyCap,
		now:         time.Now,
	}
}

// Put records env as the latest envelope of env.PileID and appends its
// transitions to the pile's history. Callers must not modify env afterwards.
func (s *Store) Put(env *types.ReportEnvelope) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := &Entry{Envelope: env, UpdatedAt: s.now()}
	if env.Error == "" {
		e.LastGood = env
	} else if prev, ok := s.data[env.PileID]; ok {
		e.LastGood = prev.LastGood
	}
	s.data[env.PileID] = e

	if len(env.Transitions) > 0 {
		s.transitions[env.PileID] = s.appendTransitions(s.transitions[env.PileID], env.Transitions)
	}
}

// appendTransitions adds the transitions not already recorded and trims the
// oldest beyond historyCap. A resent envelope therefore adds nothing.
func (s *Store) appendTransitions(hist, add []types.Transition) []types.Transition {
	for _, t := range add {
		dup := false
		for _, h := range hist {
			if h.At.Equal(t.At) && h.To == t.To {
				dup = true
				break
			}
		}
		if !dup {
			hist = append(hist, t)
		}
	}
	sort.SliceStable(hist, func(i, j int) bool { return hist[i].At.Before(hist[j].At) })
	if len(hist) > s.historyCap {
		hist = hist[len(hist)-s.historyCap:]
	}
	return hist
}

// Get returns the entry of pileID. It may be stale if the TTL has elapsed
// but the entry was not evicted yet.
func (s *Store) Get(pileID string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[pileID]
	return e, ok
}

// Live returns the entry of pileID only when it was updated within the TTL.
func (s *Store) Live(pileID string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[pileID]
	if !ok || !e.UpdatedAt.After(s.now().Add(-s.ttl)) {
		return nil, false
	}
	return e, true
}

// List returns the live entries ordered by pile id.
func (s *Store) List() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := s.now().Add(-s.ttl)
	out := make([]*Entry, 0, len(s.data))
	for _, e := range s.data {
		if e.UpdatedAt.After(cutoff) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Envelope.PileID < out[j].Envelope.PileID })
	return out
}

// Transitions returns a copy of the recorded transitions of pileID, oldest first.
func (s *Store) Transitions(pileID string) []types.Transition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hist := s.transitions[pileID]
	out := make([]types.Transition, len(hist))
	copy(out, hist)
	return out
}

// Count returns the number of entries held, including stale ones.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Evict removes entries not updated since now minus the TTL and returns
// how many were removed.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.ttl)
	removed := 0
	for id, e := range s.data {
		if !e.UpdatedAt.After(cutoff) {
			delete(s.data, id)
			removed++
		}
	}
	return removed
}

// Run evicts stale entries every half TTL (at least every second) until
// ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted stale reports", "count", n)
			}
		}
	}
}
