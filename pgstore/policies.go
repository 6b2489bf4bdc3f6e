package pgstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mwhitlock/authcore/policy"
)

func (s *Store) ListPolicies(ctx context.Context, org string) ([]policy.Policy, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, org, pattern, effect, conditions
		from policies where org=$1 order by id
	`, org)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []policy.Policy
	for rows.Next() {
		var (
			p       policy.Policy
			effect  string
			rawCond []byte
		)
		if err := rows.Scan(&p.ID, &p.Org, &p.Pattern, &effect, &rawCond); err != nil {
			return nil, err
		}
		p.Effect = policy.Effect(effect)
		if len(rawCond) > 0 {
			if err := json.Unmarshal(rawCond, &p.Conditions); err != nil {
				return nil, fmt.Errorf("decode policy %s conditions: %w", p.ID, err)
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) SavePolicy(ctx context.Context, p policy.Policy) error {
	rawCond := []byte("[]")
	if len(p.Conditions) > 0 {
		encoded, err := json.Marshal(p.Conditions)
		if err != nil {
			return fmt.Errorf("encode policy conditions: %w", err)
		}
		rawCond = encoded
	}

	_, err := s.db.ExecContext(ctx, `
		insert into policies (id, org, pattern, effect, conditions)
		values ($1, $2, $3, $4, $5)
		on conflict (org, id) do update
		set pattern = excluded.pattern,
		    effect = excluded.effect,
		    conditions = excluded.conditions
	`, p.ID, p.Org, p.Pattern, string(p.Effect), rawCond)
	return err
}

func (s *Store) DeletePolicy(ctx context.Context, org, id string) error {
	_, err := s.db.ExecContext(ctx, `delete from policies where org=$1 and id=$2`, org, id)
	return err
}
