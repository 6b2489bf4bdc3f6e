// Package pgstore implements every authcore storage interface over
// PostgreSQL through the pgx stdlib driver: principals, organizations,
// memberships, policies, signing keys, and the hash-chained audit log.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	pgErrUniqueViolation = "23505"
)

// Store wraps one connection pool. It satisfies authcore.PrincipalStore,
// authcore.OrganizationStore, authcore.MembershipStore,
// policy.PolicyStore, audit.Store, and keyset.Persistence.
type Store struct {
	db *sql.DB
}

// Open dials PostgreSQL and tunes the pool.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing pool. Used by tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Migrate applies the schema. Statements are idempotent so repeated startup
// runs are safe.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

var schemaStatements = []string{
	`create table if not exists principals (
		id text primary key,
		email text not null unique,
		password_hash text not null,
		status text not null,
		created_at timestamptz not null default now(),
		updated_at timestamptz not null default now()
	)`,
	`create table if not exists organizations (
		id text primary key,
		name text not null,
		slug text not null unique,
		created_at timestamptz not null default now()
	)`,
	`create table if not exists memberships (
		org_id text not null references organizations(id),
		principal_id text not null references principals(id),
		role text not null,
		active boolean not null default true,
		created_at timestamptz not null default now(),
		updated_at timestamptz not null default now(),
		primary key (org_id, principal_id)
	)`,
	`create table if not exists policies (
		id text not null,
		org text not null,
		pattern text not null,
		effect text not null,
		conditions jsonb not null default '[]',
		primary key (org, id)
	)`,
	`create table if not exists audit_entries (
		sequence bigint primary key,
		id text not null,
		prev_hash text not null,
		actor text not null,
		action text not null,
		metadata jsonb not null default '{}',
		occurred_at timestamptz not null,
		hash text not null
	)`,
	`create table if not exists signing_keys (
		id text primary key,
		public_key bytea not null,
		private_key bytea not null,
		status smallint not null,
		created_at timestamptz not null,
		demoted_at timestamptz,
		retired_at timestamptz
	)`,
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func isUniqueViolation(err error) bool {
	pgErr, ok := maybePgError(err)
	return ok && pgErr.Code == pgErrUniqueViolation
}
