package token

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ErrEpochUnavailable wraps backend failures of the epoch store. Epoch
// checks fail closed: an unreadable epoch rejects the token.
var ErrEpochUnavailable = errors.New("revocation epoch store unavailable")

// RedisEpochs keeps revocation epochs in Redis. Current is one GET, Bump is
// one INCR; both are O(1) per principal.
type RedisEpochs struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRedisEpochs(client redis.UniversalClient, prefix string) *RedisEpochs {
	if prefix == "" {
		prefix = "rev"
	}
	return &RedisEpochs{redis: client, prefix: prefix}
}

func (s *RedisEpochs) key(principalID string) string {
	return s.prefix + ":" + principalID
}

func (s *RedisEpochs) Current(ctx context.Context, principalID string) (uint64, error) {
	v, err := s.redis.Get(ctx, s.key(principalID)).Uint64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrEpochUnavailable, err)
	}
	return v, nil
}

func (s *RedisEpochs) Bump(ctx context.Context, principalID string) (uint64, error) {
	v, err := s.redis.Incr(ctx, s.key(principalID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrEpochUnavailable, err)
	}
	return uint64(v), nil
}

// MemoryEpochs is the in-process implementation used in tests.
type MemoryEpochs struct {
	mu     sync.Mutex
	epochs map[string]uint64
}

func NewMemoryEpochs() *MemoryEpochs {
	return &MemoryEpochs{epochs: make(map[string]uint64)}
}

func (s *MemoryEpochs) Current(_ context.Context, principalID string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epochs[principalID], nil
}

func (s *MemoryEpochs) Bump(_ context.Context, principalID string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epochs[principalID]++
	return s.epochs[principalID], nil
}
