package pgstore

import (
	"context"
	"database/sql"
	"errors"

	authcore "github.com/mwhitlock/authcore"
	"github.com/mwhitlock/authcore/policy"
)

func (s *Store) CreatePrincipal(ctx context.Context, p authcore.Principal) (authcore.Principal, error) {
	row := s.db.QueryRowContext(ctx, `
		insert into principals (id, email, password_hash, status)
		values ($1, $2, $3, $4)
		returning id, email, password_hash, status, created_at, updated_at
	`, p.ID, p.Email, p.PasswordHash, string(p.Status))

	out, err := scanPrincipal(row)
	if isUniqueViolation(err) {
		return authcore.Principal{}, authcore.ErrConflict
	}
	return out, err
}

func (s *Store) GetPrincipalByEmail(ctx context.Context, email string) (authcore.Principal, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, email, password_hash, status, created_at, updated_at
		from principals where email=$1
	`, email)

	out, err := scanPrincipal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return authcore.Principal{}, authcore.ErrPrincipalNotFound
	}
	return out, err
}

func (s *Store) GetPrincipalByID(ctx context.Context, id string) (authcore.Principal, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, email, password_hash, status, created_at, updated_at
		from principals where id=$1
	`, id)

	out, err := scanPrincipal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return authcore.Principal{}, authcore.ErrPrincipalNotFound
	}
	return out, err
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	res, err := s.db.ExecContext(ctx, `
		update principals set password_hash=$2, updated_at=now() where id=$1
	`, id, hash)
	if err != nil {
		return err
	}
	return requireRow(res, authcore.ErrPrincipalNotFound)
}

func (s *Store) UpdatePrincipalStatus(ctx context.Context, id string, status authcore.PrincipalStatus) error {
	res, err := s.db.ExecContext(ctx, `
		update principals set status=$2, updated_at=now() where id=$1
	`, id, string(status))
	if err != nil {
		return err
	}
	return requireRow(res, authcore.ErrPrincipalNotFound)
}

func (s *Store) CreateOrganization(ctx context.Context, o authcore.Organization) (authcore.Organization, error) {
	row := s.db.QueryRowContext(ctx, `
		insert into organizations (id, name, slug)
		values ($1, $2, $3)
		returning id, name, slug, created_at
	`, o.ID, o.Name, o.Slug)

	var out authcore.Organization
	err := row.Scan(&out.ID, &out.Name, &out.Slug, &out.CreatedAt)
	if isUniqueViolation(err) {
		return authcore.Organization{}, authcore.ErrConflict
	}
	return out, err
}

func (s *Store) GetOrganizationByID(ctx context.Context, id string) (authcore.Organization, error) {
	return s.getOrganization(ctx, `
		select id, name, slug, created_at from organizations where id=$1
	`, id)
}

func (s *Store) GetOrganizationBySlug(ctx context.Context, slug string) (authcore.Organization, error) {
	return s.getOrganization(ctx, `
		select id, name, slug, created_at from organizations where slug=$1
	`, slug)
}

func (s *Store) getOrganization(ctx context.Context, query, arg string) (authcore.Organization, error) {
	var out authcore.Organization
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&out.ID, &out.Name, &out.Slug, &out.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return authcore.Organization{}, authcore.ErrOrganizationNotFound
	}
	return out, err
}

func (s *Store) UpsertMembership(ctx context.Context, m authcore.Membership) error {
	_, err := s.db.ExecContext(ctx, `
		insert into memberships (org_id, principal_id, role, active)
		values ($1, $2, $3, $4)
		on conflict (org_id, principal_id) do update
		set role = excluded.role, active = excluded.active, updated_at = now()
	`, m.OrgID, m.PrincipalID, string(m.Role), m.Active)
	return err
}

func (s *Store) GetMembership(ctx context.Context, orgID, principalID string) (authcore.Membership, error) {
	var (
		out  authcore.Membership
		role string
	)
	err := s.db.QueryRowContext(ctx, `
		select org_id, principal_id, role, active, created_at, updated_at
		from memberships where org_id=$1 and principal_id=$2
	`, orgID, principalID).Scan(&out.OrgID, &out.PrincipalID, &role, &out.Active, &out.CreatedAt, &out.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return authcore.Membership{}, authcore.ErrMembershipNotFound
	}
	if err != nil {
		return authcore.Membership{}, err
	}
	out.Role = policy.Role(role)
	return out, nil
}

func (s *Store) ListMemberships(ctx context.Context, orgID string) ([]authcore.Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		select org_id, principal_id, role, active, created_at, updated_at
		from memberships where org_id=$1 order by principal_id
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []authcore.Membership
	for rows.Next() {
		var (
			m    authcore.Membership
			role string
		)
		if err := rows.Scan(&m.OrgID, &m.PrincipalID, &role, &m.Active, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		m.Role = policy.Role(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrincipal(row rowScanner) (authcore.Principal, error) {
	var (
		p      authcore.Principal
		status string
	)
	if err := row.Scan(&p.ID, &p.Email, &p.PasswordHash, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return authcore.Principal{}, err
	}
	p.Status = authcore.PrincipalStatus(status)
	return p, nil
}

func requireRow(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}
