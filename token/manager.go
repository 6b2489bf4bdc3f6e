package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mwhitlock/authcore/keyset"
)

// Config carries token TTLs and issuer identity. Validate rejects zero TTLs
// so misconfiguration fails at build time, not at first verification.
type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	IDTTL      time.Duration
	Issuer     string
	Audience   string
	Leeway     time.Duration
}

func (c Config) Validate() error {
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 || c.IDTTL <= 0 {
		return errors.New("token TTLs must be positive")
	}
	if c.AccessTTL > c.RefreshTTL {
		return errors.New("access TTL must not exceed refresh TTL")
	}
	if c.Leeway < 0 || c.Leeway > 2*time.Minute {
		return errors.New("token leeway out of range")
	}
	return nil
}

// EpochSource tracks the per-principal revocation epoch. Bump must be
// atomic; concurrent revocations for one principal are safe to interleave.
type EpochSource interface {
	Current(ctx context.Context, principalID string) (uint64, error)
	Bump(ctx context.Context, principalID string) (uint64, error)
}

// IssueInput carries the claims material for a token pair.
type IssueInput struct {
	PrincipalID string
	Org         string
	SessionID   string
	FamilyID    string
	Generation  uint64
	PermVer     uint64
	Email       string
}

// Pair is the access + refresh result of a login or rotation.
type Pair struct {
	Access  string
	Refresh string
}

// Manager signs and verifies tokens against the key store. Safe for
// concurrent use.
type Manager struct {
	cfg    Config
	keys   *keyset.Manager
	epochs EpochSource
	now    func() time.Time
}

func NewManager(cfg Config, keys *keyset.Manager, epochs EpochSource) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if keys == nil {
		return nil, errors.New("key store required")
	}
	if epochs == nil {
		return nil, errors.New("epoch source required")
	}
	return &Manager{cfg: cfg, keys: keys, epochs: epochs, now: time.Now}, nil
}

// WithClock overrides the time source. Test hook.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// IssueAccess mints an access token. The principal's current revocation
// epoch and the permission-cache version stamp are embedded at issue time.
func (m *Manager) IssueAccess(ctx context.Context, in IssueInput) (string, error) {
	epoch, err := m.epochs.Current(ctx, in.PrincipalID)
	if err != nil {
		return "", err
	}

	return m.sign(Claims{
		Kind:      KindAccess,
		UID:       in.PrincipalID,
		Org:       in.Org,
		SessionID: in.SessionID,
		Epoch:     epoch,
		PermVer:   in.PermVer,
	}, m.cfg.AccessTTL)
}

// IssueRefresh mints a refresh token bound to a family and generation.
// Generation numbers are never reused across families.
func (m *Manager) IssueRefresh(ctx context.Context, in IssueInput) (string, error) {
	epoch, err := m.epochs.Current(ctx, in.PrincipalID)
	if err != nil {
		return "", err
	}

	return m.sign(Claims{
		Kind:       KindRefresh,
		UID:        in.PrincipalID,
		Org:        in.Org,
		SessionID:  in.SessionID,
		FamilyID:   in.FamilyID,
		Generation: in.Generation,
		Epoch:      epoch,
	}, m.cfg.RefreshTTL)
}

// IssueID mints an identity token with profile claims for relying parties.
func (m *Manager) IssueID(ctx context.Context, in IssueInput) (string, error) {
	epoch, err := m.epochs.Current(ctx, in.PrincipalID)
	if err != nil {
		return "", err
	}

	return m.sign(Claims{
		Kind:  KindID,
		UID:   in.PrincipalID,
		Org:   in.Org,
		Email: in.Email,
		Epoch: epoch,
	}, m.cfg.IDTTL)
}

// IssuePair mints the access/refresh pair for one session generation.
func (m *Manager) IssuePair(ctx context.Context, in IssueInput) (Pair, error) {
	access, err := m.IssueAccess(ctx, in)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := m.IssueRefresh(ctx, in)
	if err != nil {
		return Pair{}, err
	}
	return Pair{Access: access, Refresh: refresh}, nil
}

func (m *Manager) sign(claims Claims, ttl time.Duration) (string, error) {
	kid, priv, err := m.keys.Signer()
	if err != nil {
		return "", err
	}

	now := m.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    m.cfg.Issuer,
		Subject:   claims.UID,
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
	}
	if m.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.cfg.Audience}
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	tok.Header["kid"] = kid

	return tok.SignedString(priv)
}

// Verify parses and validates a token, enforcing the expected kind and the
// principal's revocation epoch. Key resolution follows the kid header;
// keyset lifecycle errors pass through unchanged.
func (m *Manager) Verify(ctx context.Context, tokenStr string, expected Kind) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuedAt(),
	}
	if m.cfg.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.cfg.Leeway))
	}
	if m.cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.cfg.Issuer))
	}
	if m.cfg.Audience != "" {
		options = append(options, jwt.WithAudience(m.cfg.Audience))
	}

	parser := jwt.NewParser(options...)
	parsed, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, keyset.ErrUnknownKey
		}
		return m.keys.VerificationKey(kid)
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrBadSignature
		case errors.Is(err, keyset.ErrUnknownKey), errors.Is(err, keyset.ErrExpiredKey):
			return nil, err
		default:
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrMalformed
	}
	if claims.Kind != expected {
		return nil, ErrKindMismatch
	}

	current, err := m.epochs.Current(ctx, claims.UID)
	if err != nil {
		return nil, err
	}
	if claims.Epoch < current {
		return nil, ErrRevoked
	}

	return claims, nil
}

// RevokeAllForPrincipal advances the principal's revocation epoch, cutting
// off every token issued before this call in O(1).
func (m *Manager) RevokeAllForPrincipal(ctx context.Context, principalID string) error {
	_, err := m.epochs.Bump(ctx, principalID)
	return err
}
