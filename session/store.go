package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	familyPrefix    = "sess:fam:"
	principalPrefix = "sess:uid:"
)

// rotateScript performs the generation compare-and-swap. It distinguishes a
// benign concurrent loser (presented generation is exactly one behind and the
// winning rotation happened inside the race window) from a genuine replay of
// an old token, which revokes the family in the same script execution so no
// interleaving can observe an un-revoked family after reuse.
//
// KEYS[1] family hash
// ARGV[1] presented generation
// ARGV[2] now (unix seconds)
// ARGV[3] race window (seconds)
// ARGV[4] ttl (seconds)
//
// Returns {0} not found, {1} revoked, {2, newGen} rotated,
// {3} concurrent loser, {4} reuse (family now revoked).
var rotateScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return {0}
end
if redis.call("HGET", KEYS[1], "revoked") == "1" then
	return {1}
end
local gen = tonumber(redis.call("HGET", KEYS[1], "gen"))
local presented = tonumber(ARGV[1])
if presented == gen then
	local newgen = redis.call("HINCRBY", KEYS[1], "gen", 1)
	redis.call("HSET", KEYS[1], "rotated_at", ARGV[2], "last_active_at", ARGV[2])
	redis.call("EXPIRE", KEYS[1], ARGV[4])
	return {2, newgen}
end
if presented == gen - 1 then
	local rotated = tonumber(redis.call("HGET", KEYS[1], "rotated_at")) or 0
	if tonumber(ARGV[2]) - rotated <= tonumber(ARGV[3]) then
		return {3}
	end
end
redis.call("HSET", KEYS[1], "revoked", "1", "revoked_at", ARGV[2])
return {4}
`)

// StoreConfig tunes the Redis session store.
type StoreConfig struct {
	// TTL bounds family lifetime; refreshed on every successful rotation.
	TTL time.Duration
	// RaceWindow is how long after a rotation the previous generation is
	// treated as a concurrent loser rather than a replay.
	RaceWindow time.Duration
}

// Store keeps one Redis hash per family plus a per-principal set indexing the
// principal's live families for bulk revocation.
type Store struct {
	rdb redis.UniversalClient
	cfg StoreConfig
	now func() time.Time
}

// NewStore wires a Store over an existing Redis client.
func NewStore(rdb redis.UniversalClient, cfg StoreConfig) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * 24 * time.Hour
	}
	if cfg.RaceWindow <= 0 {
		cfg.RaceWindow = 10 * time.Second
	}
	return &Store{rdb: rdb, cfg: cfg, now: time.Now}
}

// WithClock overrides the store clock. Test hook.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func familyKey(id string) string    { return familyPrefix + id }
func principalKey(id string) string { return principalPrefix + id }

// CreateFamily persists a new family at generation 1 and indexes it under its
// principal.
func (s *Store) CreateFamily(ctx context.Context, sess Session) error {
	now := s.now().Unix()
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, familyKey(sess.FamilyID), map[string]any{
		"principal":      sess.PrincipalID,
		"org":            sess.Org,
		"gen":            sess.Generation,
		"revoked":        "0",
		"device":         sess.Device,
		"ip":             sess.IP,
		"created_at":     now,
		"rotated_at":     now,
		"last_active_at": now,
	})
	pipe.Expire(ctx, familyKey(sess.FamilyID), s.cfg.TTL)
	pipe.SAdd(ctx, principalKey(sess.PrincipalID), sess.FamilyID)
	pipe.Expire(ctx, principalKey(sess.PrincipalID), s.cfg.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Rotate advances the family generation if and only if the presented
// generation is current. On reuse the family is revoked atomically inside the
// script before the error is returned.
func (s *Store) Rotate(ctx context.Context, familyID string, presented uint64) (uint64, error) {
	now := s.now().Unix()
	res, err := rotateScript.Run(ctx, s.rdb,
		[]string{familyKey(familyID)},
		presented, now,
		int(s.cfg.RaceWindow.Seconds()),
		int(s.cfg.TTL.Seconds()),
	).Slice()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	status, _ := res[0].(int64)
	switch status {
	case 0:
		return 0, ErrFamilyNotFound
	case 1:
		return 0, ErrFamilyRevoked
	case 2:
		newGen, _ := res[1].(int64)
		return uint64(newGen), nil
	case 3:
		return 0, ErrConcurrentRotation
	case 4:
		return 0, ErrReuseDetected
	default:
		return 0, fmt.Errorf("%w: unexpected rotate status %d", ErrStoreUnavailable, status)
	}
}

// Get loads one family.
func (s *Store) Get(ctx context.Context, familyID string) (Session, error) {
	vals, err := s.rdb.HGetAll(ctx, familyKey(familyID)).Result()
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(vals) == 0 {
		return Session{}, ErrFamilyNotFound
	}
	return sessionFromHash(familyID, vals), nil
}

// ListForPrincipal returns the principal's live families. Revoked families
// still inside their TTL are included so callers can show terminated devices.
func (s *Store) ListForPrincipal(ctx context.Context, principalID string) ([]Session, error) {
	ids, err := s.rdb.SMembers(ctx, principalKey(principalID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	out := make([]Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if err == ErrFamilyNotFound {
			s.rdb.SRem(ctx, principalKey(principalID), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

// Revoke terminates one family. Revoking an already revoked or missing family
// is not an error.
func (s *Store) Revoke(ctx context.Context, familyID string) error {
	now := s.now().Unix()
	err := s.rdb.HSet(ctx, familyKey(familyID), "revoked", "1", "revoked_at", now).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// RevokeAllForPrincipal terminates every family indexed under the principal.
func (s *Store) RevokeAllForPrincipal(ctx context.Context, principalID string) (int, error) {
	ids, err := s.rdb.SMembers(ctx, principalKey(principalID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	revoked := 0
	for _, id := range ids {
		exists, err := s.rdb.Exists(ctx, familyKey(id)).Result()
		if err != nil {
			return revoked, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if exists == 0 {
			s.rdb.SRem(ctx, principalKey(principalID), id)
			continue
		}
		if err := s.Revoke(ctx, id); err != nil {
			return revoked, err
		}
		revoked++
	}
	return revoked, nil
}

// Touch refreshes last-active without rotating. Used by access-token
// verification paths that want activity tracking.
func (s *Store) Touch(ctx context.Context, familyID string) error {
	err := s.rdb.HSet(ctx, familyKey(familyID), "last_active_at", s.now().Unix()).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func sessionFromHash(id string, vals map[string]string) Session {
	gen, _ := strconv.ParseUint(vals["gen"], 10, 64)
	created, _ := strconv.ParseInt(vals["created_at"], 10, 64)
	rotated, _ := strconv.ParseInt(vals["rotated_at"], 10, 64)
	lastActive, _ := strconv.ParseInt(vals["last_active_at"], 10, 64)
	revokedAt, _ := strconv.ParseInt(vals["revoked_at"], 10, 64)
	return Session{
		FamilyID:     id,
		PrincipalID:  vals["principal"],
		Org:          vals["org"],
		Generation:   gen,
		Revoked:      vals["revoked"] == "1",
		Device:       vals["device"],
		IP:           vals["ip"],
		CreatedAt:    created,
		RotatedAt:    rotated,
		LastActiveAt: lastActive,
		RevokedAt:    revokedAt,
	}
}
