// Package keyset owns signing-key material and its rotation lifecycle.
//
// Exactly one key is active for new signatures at any time. Rotating in a new
// key demotes the previous active key to retiring, where it continues to
// verify outstanding tokens. Retiring keys become retired once every token
// they could have signed has provably expired (max token TTL plus a grace
// margin), and retired keys are purged after the same margin again. Private
// material never leaves this package.
package keyset

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnknownKey is returned when a token names a kid this store has
	// never held or has already purged.
	ErrUnknownKey = errors.New("unknown signing key")
	// ErrExpiredKey is returned when a token names a fully retired key.
	ErrExpiredKey = errors.New("signing key retired")
	// ErrNoActiveKey is returned by Signer before the first GenerateKey.
	ErrNoActiveKey = errors.New("no active signing key")
)

// Status is the lifecycle state of a signing key.
type Status uint8

const (
	StatusActive Status = iota
	StatusRetiring
	StatusRetired
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusRetiring:
		return "retiring"
	case StatusRetired:
		return "retired"
	default:
		return "unknown"
	}
}

// Key is one Ed25519 signing key with lifecycle timestamps. DemotedAt and
// RetiredAt are zero until the key reaches that state.
type Key struct {
	ID        string
	Public    ed25519.PublicKey
	Private   ed25519.PrivateKey
	Status    Status
	CreatedAt time.Time
	DemotedAt time.Time
	RetiredAt time.Time
}

// Persistence stores key records durably. Implementations must persist
// private material encrypted at rest; the interface is deliberately narrow.
type Persistence interface {
	SaveKey(ctx context.Context, k Key) error
	LoadKeys(ctx context.Context) ([]Key, error)
	DeleteKey(ctx context.Context, id string) error
}

// MemoryPersistence is the no-durability default, used in tests and by
// callers that regenerate keys at startup.
type MemoryPersistence struct {
	mu   sync.Mutex
	keys map[string]Key
}

func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{keys: make(map[string]Key)}
}

func (m *MemoryPersistence) SaveKey(_ context.Context, k Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[k.ID] = k
	return nil
}

func (m *MemoryPersistence) LoadKeys(_ context.Context) ([]Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Key, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, k)
	}
	return out, nil
}

func (m *MemoryPersistence) DeleteKey(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, id)
	return nil
}

// Manager is the in-process key store. Verification reads are concurrent;
// rotation writes are serialized behind the mutex (rare, per §rotation).
type Manager struct {
	persistence Persistence
	retention   time.Duration

	mu       sync.RWMutex
	keys     map[string]*Key
	activeID string
	now      func() time.Time
}

// NewManager loads persisted keys. retention is the window a demoted key
// keeps verifying: max token TTL plus grace margin.
func NewManager(ctx context.Context, persistence Persistence, retention time.Duration) (*Manager, error) {
	if persistence == nil {
		persistence = NewMemoryPersistence()
	}
	if retention <= 0 {
		return nil, errors.New("keyset retention must be positive")
	}

	m := &Manager{
		persistence: persistence,
		retention:   retention,
		keys:        make(map[string]*Key),
		now:         time.Now,
	}

	loaded, err := persistence.LoadKeys(ctx)
	if err != nil {
		return nil, err
	}
	for i := range loaded {
		k := loaded[i]
		m.keys[k.ID] = &k
		if k.Status == StatusActive {
			m.activeID = k.ID
		}
	}

	return m, nil
}

// WithClock overrides the time source. Test hook.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	return m
}

// GenerateKey mints a fresh Ed25519 key and makes it the active signer.
// The previous active key transitions to retiring and stays verifiable.
func (m *Manager) GenerateKey(ctx context.Context) (Key, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Key{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	fresh := &Key{
		ID:        uuid.NewString(),
		Public:    pub,
		Private:   priv,
		Status:    StatusActive,
		CreatedAt: now,
	}

	if prev, ok := m.keys[m.activeID]; ok {
		prev.Status = StatusRetiring
		prev.DemotedAt = now
		if err := m.persistence.SaveKey(ctx, *prev); err != nil {
			return Key{}, err
		}
	}
	if err := m.persistence.SaveKey(ctx, *fresh); err != nil {
		return Key{}, err
	}

	m.keys[fresh.ID] = fresh
	m.activeID = fresh.ID

	return publicView(fresh), nil
}

// Signer returns the active key id and private key for token signing.
func (m *Manager) Signer() (string, ed25519.PrivateKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	k, ok := m.keys[m.activeID]
	if !ok {
		return "", nil, ErrNoActiveKey
	}
	return k.ID, k.Private, nil
}

// VerificationKey resolves a token's kid header to public material.
// Unknown kids and purged keys fail with ErrUnknownKey, fully retired keys
// with ErrExpiredKey.
func (m *Manager) VerificationKey(kid string) (ed25519.PublicKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	k, ok := m.keys[kid]
	if !ok {
		return nil, ErrUnknownKey
	}
	if k.Status == StatusRetired {
		return nil, ErrExpiredKey
	}
	return k.Public, nil
}

// ActiveKeyID returns the current signer kid, or empty before first rotation.
func (m *Manager) ActiveKeyID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeID
}

// Keys returns public views of every held key, newest first not guaranteed.
func (m *Manager) Keys() []Key {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Key, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, publicView(k))
	}
	return out
}

// Sweep advances key lifecycle by the retention policy: retiring keys whose
// window elapsed become retired, retired keys past the second window are
// purged from persistence. Returns the number of state changes.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	changed := 0

	for id, k := range m.keys {
		switch k.Status {
		case StatusRetiring:
			if now.Sub(k.DemotedAt) >= m.retention {
				k.Status = StatusRetired
				k.RetiredAt = now
				if err := m.persistence.SaveKey(ctx, *k); err != nil {
					return changed, err
				}
				changed++
			}
		case StatusRetired:
			if now.Sub(k.RetiredAt) >= m.retention {
				if err := m.persistence.DeleteKey(ctx, id); err != nil {
					return changed, err
				}
				delete(m.keys, id)
				changed++
			}
		}
	}

	return changed, nil
}

func publicView(k *Key) Key {
	out := *k
	out.Private = nil
	return out
}

// jwk is the JSON Web Key rendering of an Ed25519 public key.
type jwk struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	Kid string `json:"kid"`
	X   string `json:"x"`
	Use string `json:"use"`
	Alg string `json:"alg"`
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

// PublicKeySet renders all non-retired public keys as a JWKS document for
// the discovery endpoint. Private material is never included.
func (m *Manager) PublicKeySet() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := jwks{Keys: make([]jwk, 0, len(m.keys))}
	for _, k := range m.keys {
		if k.Status == StatusRetired {
			continue
		}
		set.Keys = append(set.Keys, jwk{
			Kty: "OKP",
			Crv: "Ed25519",
			Kid: k.ID,
			X:   base64.RawURLEncoding.EncodeToString(k.Public),
			Use: "sig",
			Alg: "EdDSA",
		})
	}

	return json.Marshal(set)
}
