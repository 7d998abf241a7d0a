package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/GoPolymarket/polysignal/internal/governance"
	"github.com/redis/go-redis/v9"
)

// RedisStateStore keeps the latest FinancialState snapshot under one key.
type RedisStateStore struct {
	client *RedisClient
	key    string
}

func NewRedisStateStore(client *RedisClient, key string) *RedisStateStore {
	if key == "" {
		key = "polysignal:financial_state"
	}
	return &RedisStateStore{client: client, key: key}
}

func (s *RedisStateStore) Save(ctx context.Context, state governance.FinancialState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.client.Client.Set(ctx, s.key, payload, 0).Err()
}

// Load reports ok=false when no snapshot has been saved yet.
func (s *RedisStateStore) Load(ctx context.Context) (governance.FinancialState, bool, error) {
	raw, err := s.client.Client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return governance.FinancialState{}, false, nil
	}
	if err != nil {
		return governance.FinancialState{}, false, err
	}
	var state governance.FinancialState
	if err := json.Unmarshal(raw, &state); err != nil {
		return governance.FinancialState{}, false, err
	}
	return state, true, nil
}
