package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/compostwatch/compostwatch/pkg/types"
)

// MemoryRepository is an in-process stand-in for PostgresRepository. The
// outbox does not survive a restart.
type MemoryRepository struct {
	mu     sync.Mutex
	piles  map[string]types.PileState
	outbox map[int64]PendingObservation
	nextID int64
	now    func() time.Time
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		piles:  make(map[string]types.PileState),
		outbox: make(map[int64]PendingObservation),
		now:    time.Now,
	}
}

func (r *MemoryRepository) Pile(_ context.Context, pileID string) (types.PileState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.piles[pileID]
	if !ok {
		return types.PileState{}, fmt.Errorf("%w: %s", ErrPileNotFound, pileID)
	}
	return p, nil
}

func (r *MemoryRepository) UpsertPile(_ context.Context, pileID, _ string, p types.PileState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.piles[pileID] = p
	return nil
}

func (r *MemoryRepository) SaveObservation(_ context.Context, obs PendingObservation) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	obs.ID = r.nextID
	obs.CreatedAt = r.now().UTC()
	obs.Payload = append([]byte(nil), obs.Payload...)
	r.outbox[obs.ID] = obs
	return obs.ID, nil
}

func (r *MemoryRepository) UnsentObservations(_ context.Context, limit int) ([]PendingObservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PendingObservation, 0, len(r.outbox))
	for _, o := range r.outbox {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) MarkSent(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.outbox, id)
	return nil
}

func (r *MemoryRepository) MarkFailed(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.outbox[id]; ok {
		o.Attempts++
		r.outbox[id] = o
	}
	return nil
}

func (r *MemoryRepository) Health(context.Context) error { return nil }
