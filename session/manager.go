package session

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/mwhitlock/authcore/token"
)

// PermVerSource supplies the permission-cache version stamped into access
// tokens so authorization caches can detect stale grants.
type PermVerSource interface {
	Version(ctx context.Context, org string) (uint64, error)
}

// StaticPermVer is a PermVerSource that always reports the same version.
// Useful when no policy cache is wired.
type StaticPermVer uint64

func (v StaticPermVer) Version(context.Context, string) (uint64, error) {
	return uint64(v), nil
}

// OpenInput carries the identity and device context for a new session.
type OpenInput struct {
	PrincipalID string
	Org         string
	Email       string
	Device      string
	IP          string
}

// Manager ties the family store to the token service: opening a session
// mints a pair, refreshing rotates the family and mints the next pair.
type Manager struct {
	store   *Store
	tokens  *token.Manager
	permVer PermVerSource
}

// NewManager wires a session manager. permVer may be nil; version 0 is then
// stamped into access tokens.
func NewManager(store *Store, tokens *token.Manager, permVer PermVerSource) (*Manager, error) {
	if store == nil {
		return nil, errors.New("session store required")
	}
	if tokens == nil {
		return nil, errors.New("token manager required")
	}
	if permVer == nil {
		permVer = StaticPermVer(0)
	}
	return &Manager{store: store, tokens: tokens, permVer: permVer}, nil
}

// Open creates a new family at generation 1 and issues its first token pair.
func (m *Manager) Open(ctx context.Context, in OpenInput) (Session, token.Pair, error) {
	sess := Session{
		FamilyID:    uuid.NewString(),
		PrincipalID: in.PrincipalID,
		Org:         in.Org,
		Generation:  1,
		Device:      in.Device,
		IP:          in.IP,
	}
	if err := m.store.CreateFamily(ctx, sess); err != nil {
		return Session{}, token.Pair{}, err
	}

	pair, err := m.issuePair(ctx, sess, in.Email)
	if err != nil {
		return Session{}, token.Pair{}, err
	}
	return sess, pair, nil
}

// Refresh validates the refresh token, rotates its family, and issues the
// next pair. A replayed token revokes the whole family before returning
// ErrReuseDetected; a concurrent loser returns ErrConcurrentRotation with the
// family intact.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (Session, token.Pair, error) {
	claims, err := m.tokens.Verify(ctx, refreshToken, token.KindRefresh)
	if err != nil {
		return Session{}, token.Pair{}, err
	}

	newGen, err := m.store.Rotate(ctx, claims.FamilyID, claims.Generation)
	if err != nil {
		return Session{}, token.Pair{}, err
	}

	sess, err := m.store.Get(ctx, claims.FamilyID)
	if err != nil {
		return Session{}, token.Pair{}, err
	}
	sess.Generation = newGen

	pair, err := m.issuePair(ctx, sess, claims.Email)
	if err != nil {
		return Session{}, token.Pair{}, err
	}
	return sess, pair, nil
}

// Close terminates one family. Idempotent.
func (m *Manager) Close(ctx context.Context, familyID string) error {
	return m.store.Revoke(ctx, familyID)
}

// CloseAll terminates every family for the principal and returns how many
// were live.
func (m *Manager) CloseAll(ctx context.Context, principalID string) (int, error) {
	return m.store.RevokeAllForPrincipal(ctx, principalID)
}

// List returns the principal's sessions, revoked ones included while their
// records persist.
func (m *Manager) List(ctx context.Context, principalID string) ([]Session, error) {
	return m.store.ListForPrincipal(ctx, principalID)
}

func (m *Manager) issuePair(ctx context.Context, sess Session, email string) (token.Pair, error) {
	ver, err := m.permVer.Version(ctx, sess.Org)
	if err != nil {
		return token.Pair{}, err
	}
	return m.tokens.IssuePair(ctx, token.IssueInput{
		PrincipalID: sess.PrincipalID,
		Org:         sess.Org,
		SessionID:   sess.FamilyID,
		FamilyID:    sess.FamilyID,
		Generation:  sess.Generation,
		PermVer:     ver,
		Email:       email,
	})
}
