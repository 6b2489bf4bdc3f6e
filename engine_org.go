package authcore

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// CreateOrganization persists a tenant. Requires an organization store to
// be wired; engines embedded without one manage tenancy externally.
func (e *Engine) CreateOrganization(ctx context.Context, actor, name, slug string) (Organization, error) {
	if e == nil {
		return Organization{}, ErrEngineNotReady
	}
	if e.orgs == nil {
		return Organization{}, errors.New("organization store not configured")
	}

	slug = strings.ToLower(strings.TrimSpace(slug))
	if name == "" || slug == "" {
		return Organization{}, errors.New("organization name and slug required")
	}

	org, err := e.orgs.CreateOrganization(ctx, Organization{
		ID:   uuid.NewString(),
		Name: name,
		Slug: slug,
	})
	if err != nil {
		return Organization{}, err
	}

	if err := e.emitAudit(ctx, actor, "org_create", map[string]string{
		"org":  org.ID,
		"slug": org.Slug,
	}); err != nil {
		return Organization{}, err
	}
	return org, nil
}

// Organization resolves a tenant by slug.
func (e *Engine) Organization(ctx context.Context, slug string) (Organization, error) {
	if e == nil {
		return Organization{}, ErrEngineNotReady
	}
	if e.orgs == nil {
		return Organization{}, errors.New("organization store not configured")
	}
	return e.orgs.GetOrganizationBySlug(ctx, slug)
}
