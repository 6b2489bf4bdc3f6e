package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mwhitlock/authcore/audit"
)

// Head returns the highest stored chain entry.
func (s *Store) Head(ctx context.Context) (audit.Entry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		select sequence, id, prev_hash, actor, action, metadata, occurred_at, hash
		from audit_entries order by sequence desc limit 1
	`)
	e, err := scanAuditEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return audit.Entry{}, false, nil
	}
	if err != nil {
		return audit.Entry{}, false, err
	}
	return e, true, nil
}

// Append persists the entry. The sequence primary key enforces at most one
// entry per sequence; a concurrent claim surfaces as ErrSequenceConflict so
// the log retries with a fresh head.
func (s *Store) Append(ctx context.Context, e audit.Entry) error {
	rawMeta := []byte("{}")
	if len(e.Metadata) > 0 {
		encoded, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
		rawMeta = encoded
	}

	_, err := s.db.ExecContext(ctx, `
		insert into audit_entries (sequence, id, prev_hash, actor, action, metadata, occurred_at, hash)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.Sequence, e.ID, e.PrevHash, e.Actor, e.Action, rawMeta, e.OccurredAt, e.Hash)
	if isUniqueViolation(err) {
		return audit.ErrSequenceConflict
	}
	return err
}

// Range returns entries with from <= sequence <= to, ascending.
func (s *Store) Range(ctx context.Context, from, to uint64) ([]audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		select sequence, id, prev_hash, actor, action, metadata, occurred_at, hash
		from audit_entries where sequence >= $1 and sequence <= $2
		order by sequence
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanAuditEntry(row rowScanner) (audit.Entry, error) {
	var (
		e       audit.Entry
		rawMeta []byte
	)
	err := row.Scan(&e.Sequence, &e.ID, &e.PrevHash, &e.Actor, &e.Action, &rawMeta, &e.OccurredAt, &e.Hash)
	if err != nil {
		return audit.Entry{}, err
	}
	if len(rawMeta) > 0 && string(rawMeta) != "{}" {
		if err := json.Unmarshal(rawMeta, &e.Metadata); err != nil {
			return audit.Entry{}, fmt.Errorf("decode audit metadata: %w", err)
		}
	}
	return e, nil
}
