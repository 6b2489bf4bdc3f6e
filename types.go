package authcore

import (
	"context"
	"time"

	"github.com/mwhitlock/authcore/audit"
	"github.com/mwhitlock/authcore/policy"
	"github.com/mwhitlock/authcore/token"
)

// PrincipalStatus is the lifecycle state of an account. Principals are never
// hard-deleted; suspension preserves audit referential integrity.
type PrincipalStatus string

const (
	PrincipalActive    PrincipalStatus = "active"
	PrincipalSuspended PrincipalStatus = "suspended"
	PrincipalPending   PrincipalStatus = "pending"
)

// Principal is an account. PasswordHash is a PHC-format string carrying its
// own algorithm parameters; the plaintext is never stored.
type Principal struct {
	ID           string
	Email        string
	PasswordHash string
	Status       PrincipalStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Organization is a tenant owning memberships and policies.
type Organization struct {
	ID        string
	Name      string
	Slug      string
	CreatedAt time.Time
}

// Membership binds a principal to an organization with one role. At most
// one membership exists per (org, principal) pair; an inactive membership
// grants nothing regardless of the stored role.
type Membership struct {
	OrgID       string
	PrincipalID string
	Role        policy.Role
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PrincipalStore is the durable account backend. A missing principal is
// ErrPrincipalNotFound; a duplicate email is ErrConflict.
type PrincipalStore interface {
	CreatePrincipal(ctx context.Context, p Principal) (Principal, error)
	GetPrincipalByEmail(ctx context.Context, email string) (Principal, error)
	GetPrincipalByID(ctx context.Context, id string) (Principal, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	UpdatePrincipalStatus(ctx context.Context, id string, status PrincipalStatus) error
}

// OrganizationStore is the durable tenant backend.
type OrganizationStore interface {
	CreateOrganization(ctx context.Context, o Organization) (Organization, error)
	GetOrganizationByID(ctx context.Context, id string) (Organization, error)
	GetOrganizationBySlug(ctx context.Context, slug string) (Organization, error)
}

// MembershipStore is the durable role-assignment backend. Upsert replaces
// the single membership for the (org, principal) pair.
type MembershipStore interface {
	UpsertMembership(ctx context.Context, m Membership) error
	GetMembership(ctx context.Context, orgID, principalID string) (Membership, error)
	ListMemberships(ctx context.Context, orgID string) ([]Membership, error)
}

// RegisterInput is the input for Engine.Register.
type RegisterInput struct {
	Email    string
	Password string
	// Org and Role are optional; when Org is set a membership is created
	// alongside the principal. Role defaults to the viewer role.
	Org  string
	Role policy.Role
}

// LoginInput is the input for Engine.Login.
type LoginInput struct {
	Email    string
	Password string
	Org      string
}

// LoginResult carries the opened session and its first token pair.
type LoginResult struct {
	PrincipalID  string
	SessionID    string
	AccessToken  string
	RefreshToken string
	IDToken      string
}

// RefreshResult carries the rotated session's new token pair.
type RefreshResult struct {
	SessionID    string
	Generation   uint64
	AccessToken  string
	RefreshToken string
}

// ResetChallenge is returned by BeginPasswordReset. Token is the opaque
// value delivered out of band; it is never persisted in recoverable form.
type ResetChallenge struct {
	Token     string
	ExpiresAt time.Time
}

// AuditEvent is the structured record emitted to audit sinks. It is the
// hash-chained entry as appended to the log.
type AuditEvent = audit.Entry

// AuditSink receives AuditEvent values from the engine's dispatcher.
type AuditSink = audit.Sink

// NoOpSink discards all events.
type NoOpSink = audit.NoOpSink

// ChannelSink is a buffered channel-based AuditSink.
type ChannelSink = audit.ChannelSink

// NewChannelSink creates a ChannelSink with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// Claims re-exports the verified token claims type.
type Claims = token.Claims
