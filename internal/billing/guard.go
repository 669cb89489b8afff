package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"transcribe_gateway/internal/models"
)

// Guard makes settlement exactly-once per job id. Claim returns false when
// the job was already claimed; Release undoes a claim whose mutation failed.
type Guard interface {
	Claim(ctx context.Context, s models.Settlement) (bool, error)
	Release(ctx context.Context, jobID string) error
}

// MemoryGuard keeps claims in process
type MemoryGuard struct {
	mu      sync.Mutex
	claimed map[string]models.Settlement
}

// NewMemoryGuard creates an empty guard
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{claimed: make(map[string]models.Settlement)}
}

func (g *MemoryGuard) Claim(_ context.Context, s models.Settlement) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.claimed[s.JobID]; ok {
		return false, nil
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	g.claimed[s.JobID] = s
	return true, nil
}

func (g *MemoryGuard) Release(_ context.Context, jobID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.claimed, jobID)
	return nil
}

// RedisGuard claims jobs with SET NX
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisGuard creates a guard. A zero ttl keeps claims forever.
func NewRedisGuard(client *redis.Client, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, ttl: ttl}
}

func (g *RedisGuard) key(jobID string) string {
	return fmt.Sprintf("settled:%s", jobID)
}

func (g *RedisGuard) Claim(ctx context.Context, s models.Settlement) (bool, error) {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	data, err := json.Marshal(s)
	if err != nil {
		return false, fmt.Errorf("failed to marshal settlement: %w", err)
	}
	ok, err := g.client.SetNX(ctx, g.key(s.JobID), data, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim settlement: %w", err)
	}
	return ok, nil
}

func (g *RedisGuard) Release(ctx context.Context, jobID string) error {
	if err := g.client.Del(ctx, g.key(jobID)).Err(); err != nil {
		return fmt.Errorf("failed to release settlement: %w", err)
	}
	return nil
}
