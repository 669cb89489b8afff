package ledger

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"transcribe_gateway/internal/models"
)

// Balances live in a hash per user with fields consumed and limit.
var addScript = redis.NewScript(`
	local key = KEYS[1]
	local delta = tonumber(ARGV[1])
	local default_limit = ARGV[2]

	redis.call('HSETNX', key, 'limit', default_limit)
	local current = tonumber(redis.call('HGET', key, 'consumed')) or 0
	local total = string.format('%.6f', current + delta)
	redis.call('HSET', key, 'consumed', total)
	return total
`)

var getOrCreateScript = redis.NewScript(`
	local key = KEYS[1]
	redis.call('HSETNX', key, 'limit', ARGV[1])
	redis.call('HSETNX', key, 'consumed', '0')
	return redis.call('HMGET', key, 'consumed', 'limit')
`)

// RedisStore keeps balances in Redis; increments run as a Lua script
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "ledger"}
}

func (s *RedisStore) key(userID string) string {
	return fmt.Sprintf("%s:%s", s.prefix, userID)
}

// GetOrCreate implements Store
func (s *RedisStore) GetOrCreate(ctx context.Context, userID string, defaultLimit float64) (models.Balance, error) {
	res, err := getOrCreateScript.Run(ctx, s.client, []string{s.key(userID)}, formatAmount(defaultLimit)).Slice()
	if err != nil {
		return models.Balance{}, fmt.Errorf("failed to read balance: %w", err)
	}
	if len(res) != 2 {
		return models.Balance{}, fmt.Errorf("unexpected balance reply of length %d", len(res))
	}

	consumed, err := parseAmount(res[0])
	if err != nil {
		return models.Balance{}, err
	}
	limit, err := parseAmount(res[1])
	if err != nil {
		return models.Balance{}, err
	}
	return models.Balance{Consumed: consumed, Limit: limit}, nil
}

// AtomicAdd implements Store
func (s *RedisStore) AtomicAdd(ctx context.Context, userID string, delta float64, defaultLimit float64) (float64, error) {
	res, err := addScript.Run(ctx, s.client, []string{s.key(userID)}, formatAmount(delta), formatAmount(defaultLimit)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to add usage: %w", err)
	}
	return parseAmount(res)
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func parseAmount(v any) (float64, error) {
	switch t := v.(type) {
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid amount %q: %w", t, err)
		}
		return f, nil
	case int64:
		return float64(t), nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("unexpected amount type %T", v)
	}
}
