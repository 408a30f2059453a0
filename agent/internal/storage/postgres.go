package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/compostwatch/compostwatch/pkg/types"
)

// ErrPileNotFound is returned when the registry has no row for a pile.
var ErrPileNotFound = errors.New("storage: pile not found")

// PendingObservation is an outbox entry. Payload is the JSON body that
// failed to post.
type PendingObservation struct {
	ID          int64
	PileID      string
	OperationID string
	Variable    string
	Payload     []byte
	CreatedAt   time.Time
	Attempts    int
}

const schema = `
CREATE TABLE IF NOT EXISTS piles (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	start_date TIMESTAMPTZ NOT NULL,
	greens_kg  DOUBLE PRECISION NOT NULL DEFAULT 0,
	browns_kg  DOUBLE PRECISION NOT NULL DEFAULT 0,
	latitude   DOUBLE PRECISION NOT NULL DEFAULT 0,
	longitude  DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS observations (
	id           BIGSERIAL PRIMARY KEY,
	pile_id      TEXT NOT NULL,
	operation_id TEXT NOT NULL,
	variable     TEXT NOT NULL,
	payload      JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	attempts     INTEGER NOT NULL DEFAULT 0,
	sent_at      TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS observations_unsent_idx ON observations (created_at) WHERE sent_at IS NULL;
`

// PostgresRepository implements the pile registry and observation outbox
// on PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a repository backed by pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// EnsureSchema creates the tables when they do not exist yet.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: failed to create schema: %w", err)
	}
	return nil
}

// Pile loads the registry row of pileID.
func (r *PostgresRepository) Pile(ctx context.Context, pileID string) (types.PileState, error) {
	query := `
		SELECT start_date, greens_kg, browns_kg, latitude, longitude
		FROM piles
		WHERE id = $1
	`
	var p types.PileState
	err := r.pool.QueryRow(ctx, query, pileID).Scan(
		&p.StartDate, &p.GreensKg, &p.BrownsKg, &p.Latitude, &p.Longitude,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.PileState{}, fmt.Errorf("%w: %s", ErrPileNotFound, pileID)
	}
	if err != nil {
		return types.PileState{}, fmt.Errorf("postgres: failed to load pile %s: %w", pileID, err)
	}
	p.StartDate = p.StartDate.UTC()
	return p, nil
}

// UpsertPile writes the registry row of pileID.
func (r *PostgresRepository) UpsertPile(ctx context.Context, pileID, name string, p types.PileState) error {
	query := `
		INSERT INTO piles (id, name, start_date, greens_kg, browns_kg, latitude, longitude)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			start_date = EXCLUDED.start_date,
			greens_kg = EXCLUDED.greens_kg,
			browns_kg = EXCLUDED.browns_kg,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude
	`
	_, err := r.pool.Exec(ctx, query, pileID, name, p.StartDate, p.GreensKg, p.BrownsKg, p.Latitude, p.Longitude)
	if err != nil {
		return fmt.Errorf("postgres: failed to upsert pile %s: %w", pileID, err)
	}
	return nil
}

// SaveObservation appends obs to the outbox and returns its id.
func (r *PostgresRepository) SaveObservation(ctx context.Context, obs PendingObservation) (int64, error) {
	query := `
		INSERT INTO observations (pile_id, operation_id, variable, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	var id int64
	if err := r.pool.QueryRow(ctx, query, obs.PileID, obs.OperationID, obs.Variable, obs.Payload).Scan(&id); err != nil {
		return 0, fmt.Errorf("postgres: failed to save observation: %w", err)
	}
	return id, nil
}

// UnsentObservations returns up to limit outbox entries, oldest first.
func (r *PostgresRepository) UnsentObservations(ctx context.Context, limit int) ([]PendingObservation, error) {
	query := `
		SELECT id, pile_id, operation_id, variable, payload, created_at, attempts
		FROM observations
		WHERE sent_at IS NULL
		ORDER BY created_at ASC, id ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query observations: %w", err)
	}
	defer rows.Close()

	var out []PendingObservation
	for rows.Next() {
		var o PendingObservation
		if err := rows.Scan(&o.ID, &o.PileID, &o.OperationID, &o.Variable, &o.Payload, &o.CreatedAt, &o.Attempts); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan observation: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to read observations: %w", err)
	}
	return out, nil
}

// MarkSent removes id from the unsent set.
func (r *PostgresRepository) MarkSent(ctx context.Context, id int64) error {
	if _, err := r.pool.Exec(ctx, `UPDATE observations SET sent_at = NOW() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("postgres: failed to mark observation %d sent: %w", id, err)
	}
	return nil
}

// MarkFailed counts another failed delivery of id.
func (r *PostgresRepository) MarkFailed(ctx context.Context, id int64) error {
	if _, err := r.pool.Exec(ctx, `UPDATE observations SET attempts = attempts + 1 WHERE id = $1`, id); err != nil {
		return fmt.Errorf("postgres: failed to record attempt on observation %d: %w", id, err)
	}
	return nil
}

// Health checks database connectivity.
func (r *PostgresRepository) Health(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
