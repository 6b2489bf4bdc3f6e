package pgstore

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"time"

	"github.com/mwhitlock/authcore/keyset"
)

// SaveKey upserts the key record. Zero lifecycle timestamps are stored as
// null so LoadKeys can restore them as zero times.
func (s *Store) SaveKey(ctx context.Context, k keyset.Key) error {
	_, err := s.db.ExecContext(ctx, `
		insert into signing_keys (id, public_key, private_key, status, created_at, demoted_at, retired_at)
		values ($1, $2, $3, $4, $5, $6, $7)
		on conflict (id) do update set
			status = excluded.status,
			demoted_at = excluded.demoted_at,
			retired_at = excluded.retired_at
	`, k.ID, []byte(k.Public), []byte(k.Private), int16(k.Status), k.CreatedAt,
		nullableTime(k.DemotedAt), nullableTime(k.RetiredAt))
	return err
}

func (s *Store) LoadKeys(ctx context.Context) ([]keyset.Key, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, public_key, private_key, status, created_at, demoted_at, retired_at
		from signing_keys order by created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []keyset.Key
	for rows.Next() {
		var (
			k                    keyset.Key
			pub, priv            []byte
			status               int16
			demotedAt, retiredAt sql.NullTime
		)
		if err := rows.Scan(&k.ID, &pub, &priv, &status, &k.CreatedAt, &demotedAt, &retiredAt); err != nil {
			return nil, err
		}
		k.Public = ed25519.PublicKey(pub)
		k.Private = ed25519.PrivateKey(priv)
		k.Status = keyset.Status(status)
		if demotedAt.Valid {
			k.DemotedAt = demotedAt.Time
		}
		if retiredAt.Valid {
			k.RetiredAt = retiredAt.Time
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *Store) DeleteKey(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `delete from signing_keys where id = $1`, id)
	return err
}

func nullableTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
