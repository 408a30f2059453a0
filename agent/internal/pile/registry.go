package pile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/compostwatch/compostwatch/agent/internal/config"
	"github.com/compostwatch/compostwatch/agent/internal/scraper"
	"github.com/compostwatch/compostwatch/agent/internal/storage"
	"github.com/compostwatch/compostwatch/pkg/types"
)

// Repository loads pile metadata from a database.
type Repository interface {
	Pile(ctx context.Context, pileID string) (types.PileState, error)
}

// Writer stores pile rows. Seed uses it to create rows for postgres piles.
type Writer interface {
	Repository
	UpsertPile(ctx context.Context, pileID, name string, p types.PileState) error
}

// Registry knows every configured pile and where its metadata lives.
type Registry struct {
	piles []config.PileConfig
	byID  map[string]config.PileConfig
	attrs map[string]scraper.AttributeSource
	repo  Repository
}

// NewRegistry builds a registry. scrapers is keyed by source id; repo may be
// nil when no pile uses the postgres backend.
func NewRegistry(piles []config.PileConfig, scrapers map[string]scraper.Scraper, repo Repository) *Registry {
	r := &Registry{
		piles: piles,
		byID:  make(map[string]config.PileConfig, len(piles)),
		attrs: make(map[string]scraper.AttributeSource),
		repo:  repo,
	}
	for _, p := range piles {
		r.byID[p.ID] = p
	}
	for id, s := range scrapers {
		if as, ok := s.(scraper.AttributeSource); ok {
			r.attrs[id] = as
		}
	}
	return r
}

// Piles returns the configured piles in config order.
func (r *Registry) Piles() []config.PileConfig {
	return r.piles
}

// Pile returns the configuration of pileID.
func (r *Registry) Pile(pileID string) (config.PileConfig, bool) {
	p, ok := r.byID[pileID]
	return p, ok
}

// State resolves the current metadata of pileID.
func (r *Registry) State(ctx context.Context, pileID string) (types.PileState, error) {
	p, ok := r.byID[pileID]
	if !ok {
		return types.PileState{}, fmt.Errorf("pile: unknown pile %q", pileID)
	}

	switch p.Attributes {
	case "", "static":
		start, err := p.Start()
		if err != nil {
			return types.PileState{}, fmt.Errorf("pile %s: start_date: %w", p.ID, err)
		}
		return types.PileState{
			StartDate: start,
			GreensKg:  p.GreensKg,
			BrownsKg:  p.BrownsKg,
			Latitude:  p.Latitude,
			Longitude: p.Longitude,
		}, nil

	case "source":
		as, ok := r.attrs[p.Source]
		if !ok {
			return types.PileState{}, fmt.Errorf("pile %s: source %q does not provide attributes", p.ID, p.Source)
		}
		st, err := as.Attributes(ctx, p.ID)
		if err != nil {
			return types.PileState{}, fmt.Errorf("pile %s: %w", p.ID, err)
		}
		return st, nil

	case "postgres":
		if r.repo == nil {
			return types.PileState{}, fmt.Errorf("pile %s: no database configured", p.ID)
		}
		st, err := r.repo.Pile(ctx, p.ID)
		if err != nil {
			return types.PileState{}, fmt.Errorf("pile %s: %w", p.ID, err)
		}
		return st, nil
	}
	return types.PileState{}, fmt.Errorf("pile %s: unknown attributes %q", p.ID, p.Attributes)
}

// Seed creates the database row of every postgres pile whose config block
// carries a start_date and that has no row yet. Existing rows are left alone
// so edits made in the database survive restarts. It returns the ids it
// created.
func (r *Registry) Seed(ctx context.Context, w Writer) ([]string, error) {
	var created []string
	for _, p := range r.piles {
		if p.Attributes != "postgres" || p.StartDate == "" {
			continue
		}
		_, err := w.Pile(ctx, p.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrPileNotFound) {
			return created, fmt.Errorf("pile %s: %w", p.ID, err)
		}
		start, err := p.Start()
		if err != nil {
			return created, fmt.Errorf("pile %s: start_date: %w", p.ID, err)
		}
		st := types.PileState{
			StartDate: start,
			GreensKg:  p.GreensKg,
			BrownsKg:  p.BrownsKg,
			Latitude:  p.Latitude,
			Longitude: p.Longitude,
		}
		if err := w.UpsertPile(ctx, p.ID, p.Name, st); err != nil {
			return created, fmt.Errorf("pile %s: %w", p.ID, err)
		}
		slog.Info("pile: seeded database row", "pile", p.ID, "start_date", start.Format("2006-01-02"))
		created = append(created, p.ID)
	}
	return created, nil
}
