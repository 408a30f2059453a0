package coord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/compostwatch/compostwatch/agent/internal/compute"
)

// RedisStateStore implements compute.StateStore with one JSON value per pile.
type RedisStateStore struct {
	client *redis.Client
}

// NewRedisStateStore returns a RedisStateStore on client.
func NewRedisStateStore(client *redis.Client) *RedisStateStore {
	return &RedisStateStore{client: client}
}

func stateKey(pileID string) string {
	return "compost:transition:" + pileID
}

func (s *RedisStateStore) Load(ctx context.Context, pileID string) (compute.TransitionState, bool, error) {
	data, err := s.client.Get(ctx, stateKey(pileID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return compute.TransitionState{}, false, nil
	}
	if err != nil {
		return compute.TransitionState{}, false, fmt.Errorf("coord: load state of %s: %w", pileID, err)
	}
	var st compute.TransitionState
	if err := json.Unmarshal(data, &st); err != nil {
		return compute.TransitionState{}, false, fmt.Errorf("coord: decode state of %s: %w", pileID, err)
	}
	return st, true, nil
}

func (s *RedisStateStore) Save(ctx context.Context, pileID string, st compute.TransitionState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("coord: encode state of %s: %w", pileID, err)
	}
	if err := s.client.Set(ctx, stateKey(pileID), data, 0).Err(); err != nil {
		return fmt.Errorf("coord: save state of %s: %w", pileID, err)
	}
	return nil
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("coord: redis %s: %w", addr, err)
	}
	return client, nil
}
