package authcore

import (
	"context"
	"sync"
	"time"
)

// MemoryDirectory is an in-process implementation of PrincipalStore,
// OrganizationStore, and MembershipStore for tests and embedded setups.
// Production deployments use the pgstore package instead.
type MemoryDirectory struct {
	mu          sync.RWMutex
	principals  map[string]Principal
	byEmail     map[string]string
	orgs        map[string]Organization
	bySlug      map[string]string
	memberships map[string]Membership
	now         func() time.Time
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		principals:  make(map[string]Principal),
		byEmail:     make(map[string]string),
		orgs:        make(map[string]Organization),
		bySlug:      make(map[string]string),
		memberships: make(map[string]Membership),
		now:         time.Now,
	}
}

func (d *MemoryDirectory) CreatePrincipal(_ context.Context, p Principal) (Principal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.byEmail[p.Email]; exists {
		return Principal{}, ErrConflict
	}
	now := d.now()
	p.CreatedAt = now
	p.UpdatedAt = now
	d.principals[p.ID] = p
	d.byEmail[p.Email] = p.ID
	return p, nil
}

func (d *MemoryDirectory) GetPrincipalByEmail(_ context.Context, email string) (Principal, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	id, ok := d.byEmail[email]
	if !ok {
		return Principal{}, ErrPrincipalNotFound
	}
	return d.principals[id], nil
}

func (d *MemoryDirectory) GetPrincipalByID(_ context.Context, id string) (Principal, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.principals[id]
	if !ok {
		return Principal{}, ErrPrincipalNotFound
	}
	return p, nil
}

func (d *MemoryDirectory) UpdatePasswordHash(_ context.Context, id, hash string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.principals[id]
	if !ok {
		return ErrPrincipalNotFound
	}
	p.PasswordHash = hash
	p.UpdatedAt = d.now()
	d.principals[id] = p
	return nil
}

func (d *MemoryDirectory) UpdatePrincipalStatus(_ context.Context, id string, status PrincipalStatus) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.principals[id]
	if !ok {
		return ErrPrincipalNotFound
	}
	p.Status = status
	p.UpdatedAt = d.now()
	d.principals[id] = p
	return nil
}

func (d *MemoryDirectory) CreateOrganization(_ context.Context, o Organization) (Organization, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.bySlug[o.Slug]; exists {
		return Organization{}, ErrConflict
	}
	o.CreatedAt = d.now()
	d.orgs[o.ID] = o
	d.bySlug[o.Slug] = o.ID
	return o, nil
}

func (d *MemoryDirectory) GetOrganizationByID(_ context.Context, id string) (Organization, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	o, ok := d.orgs[id]
	if !ok {
		return Organization{}, ErrOrganizationNotFound
	}
	return o, nil
}

func (d *MemoryDirectory) GetOrganizationBySlug(_ context.Context, slug string) (Organization, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	id, ok := d.bySlug[slug]
	if !ok {
		return Organization{}, ErrOrganizationNotFound
	}
	return d.orgs[id], nil
}

func memberKey(orgID, principalID string) string {
	return orgID + "\x00" + principalID
}

func (d *MemoryDirectory) UpsertMembership(_ context.Context, m Membership) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if existing, ok := d.memberships[memberKey(m.OrgID, m.PrincipalID)]; ok {
		m.CreatedAt = existing.CreatedAt
	} else {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	d.memberships[memberKey(m.OrgID, m.PrincipalID)] = m
	return nil
}

func (d *MemoryDirectory) GetMembership(_ context.Context, orgID, principalID string) (Membership, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	m, ok := d.memberships[memberKey(orgID, principalID)]
	if !ok {
		return Membership{}, ErrMembershipNotFound
	}
	return m, nil
}

func (d *MemoryDirectory) ListMemberships(_ context.Context, orgID string) ([]Membership, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []Membership
	for _, m := range d.memberships {
		if m.OrgID == orgID {
			out = append(out, m)
		}
	}
	return out, nil
}
