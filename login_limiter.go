package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// loginLimiter tracks failed login attempts per email and per source
// address over a rolling window. Counters live in Redis so the budget
// holds across engine instances.
type loginLimiter struct {
	rdb redis.UniversalClient
	cfg ThrottleConfig
}

func newLoginLimiter(rdb redis.UniversalClient, cfg ThrottleConfig) *loginLimiter {
	return &loginLimiter{rdb: rdb, cfg: cfg}
}

func (l *loginLimiter) enabled() bool {
	return l != nil && l.rdb != nil && l.cfg.MaxFailures > 0
}

func (l *loginLimiter) keys(email, ip string) []string {
	keys := []string{"lthr:em:" + email}
	if ip != "" {
		keys = append(keys, "lthr:ip:"+ip)
	}
	return keys
}

// blocked reports whether the email or source address already spent its
// failure budget. Counters are only read here, so probing a throttled
// account does not extend its own window.
func (l *loginLimiter) blocked(ctx context.Context, email, ip string) (bool, error) {
	if !l.enabled() {
		return false, nil
	}
	for _, key := range l.keys(email, ip) {
		count, err := l.rdb.Get(ctx, key).Int64()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if count >= int64(l.cfg.MaxFailures) {
			return true, nil
		}
	}
	return false, nil
}

// recordFailure charges one failure against both counters. The window
// starts at the first failure; later failures inside it do not push the
// expiry out.
func (l *loginLimiter) recordFailure(ctx context.Context, email, ip string) error {
	if !l.enabled() {
		return nil
	}
	for _, key := range l.keys(email, ip) {
		count, err := l.rdb.Incr(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if count == 1 {
			if err := l.rdb.Expire(ctx, key, l.cfg.Window).Err(); err != nil {
				return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
		}
	}
	return nil
}

// reset clears both counters after a successful login.
func (l *loginLimiter) reset(ctx context.Context, email, ip string) error {
	if !l.enabled() {
		return nil
	}
	if err := l.rdb.Del(ctx, l.keys(email, ip)...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
