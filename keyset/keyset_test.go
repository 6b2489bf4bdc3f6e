package keyset

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	m, err := NewManager(context.Background(), NewMemoryPersistence(), time.Hour)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

func TestGenerateKeyDemotesPreviousActive(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	first, err := m.GenerateKey(ctx)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	if m.ActiveKeyID() != first.ID {
		t.Fatalf("expected %s active, got %s", first.ID, m.ActiveKeyID())
	}

	second, err := m.GenerateKey(ctx)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	if m.ActiveKeyID() != second.ID {
		t.Fatalf("expected %s active after rotation, got %s", second.ID, m.ActiveKeyID())
	}

	// The demoted key must still verify.
	if _, err := m.VerificationKey(first.ID); err != nil {
		t.Fatalf("retiring key must remain verifiable: %v", err)
	}

	statuses := map[string]Status{}
	for _, k := range m.Keys() {
		statuses[k.ID] = k.Status
	}
	if statuses[first.ID] != StatusRetiring {
		t.Fatalf("expected first key retiring, got %s", statuses[first.ID])
	}
	if statuses[second.ID] != StatusActive {
		t.Fatalf("expected second key active, got %s", statuses[second.ID])
	}
}

func TestVerificationKeyErrors(t *testing.T) {
	m := newTestManager(t)

	if _, err := m.VerificationKey("no-such-kid"); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("expected ErrUnknownKey, got %v", err)
	}
	if _, _, err := m.Signer(); !errors.Is(err, ErrNoActiveKey) {
		t.Fatalf("expected ErrNoActiveKey, got %v", err)
	}
}

func TestSweepRetiresAndPurges(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	now := time.Now().UTC()
	m.WithClock(func() time.Time { return now })

	first, err := m.GenerateKey(ctx)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	if _, err := m.GenerateKey(ctx); err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	// Inside the retention window nothing changes.
	if changed, err := m.Sweep(ctx); err != nil || changed != 0 {
		t.Fatalf("premature sweep: changed=%d err=%v", changed, err)
	}

	now = now.Add(time.Hour + time.Minute)
	changed, err := m.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if changed != 1 {
		t.Fatalf("expected 1 state change, got %d", changed)
	}
	if _, err := m.VerificationKey(first.ID); !errors.Is(err, ErrExpiredKey) {
		t.Fatalf("expected ErrExpiredKey for retired key, got %v", err)
	}

	now = now.Add(time.Hour + time.Minute)
	if _, err := m.Sweep(ctx); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if _, err := m.VerificationKey(first.ID); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("expected ErrUnknownKey after purge, got %v", err)
	}
}

func TestPublicKeySetExcludesRetiredAndPrivateMaterial(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	now := time.Now().UTC()
	m.WithClock(func() time.Time { return now })

	if _, err := m.GenerateKey(ctx); err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	second, err := m.GenerateKey(ctx)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	raw, err := m.PublicKeySet()
	if err != nil {
		t.Fatalf("PublicKeySet failed: %v", err)
	}

	var set struct {
		Keys []map[string]string `json:"keys"`
	}
	if err := json.Unmarshal(raw, &set); err != nil {
		t.Fatalf("jwks unmarshal failed: %v", err)
	}
	if len(set.Keys) != 2 {
		t.Fatalf("expected 2 jwks entries, got %d", len(set.Keys))
	}
	for _, k := range set.Keys {
		if k["kty"] != "OKP" || k["crv"] != "Ed25519" || k["alg"] != "EdDSA" {
			t.Fatalf("unexpected jwk fields: %v", k)
		}
		if _, ok := k["d"]; ok {
			t.Fatal("jwks must not contain private material")
		}
	}

	// Retire the old key and confirm it drops out of the set.
	now = now.Add(2 * time.Hour)
	if _, err := m.Sweep(ctx); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	raw, err = m.PublicKeySet()
	if err != nil {
		t.Fatalf("PublicKeySet failed: %v", err)
	}
	if err := json.Unmarshal(raw, &set); err != nil {
		t.Fatalf("jwks unmarshal failed: %v", err)
	}
	if len(set.Keys) != 1 {
		t.Fatalf("expected 1 jwks entry after retirement, got %d", len(set.Keys))
	}
	if set.Keys[0]["kid"] != second.ID {
		t.Fatalf("expected surviving kid %s, got %s", second.ID, set.Keys[0]["kid"])
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	persistence := NewMemoryPersistence()

	m, err := NewManager(ctx, persistence, time.Hour)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	active, err := m.GenerateKey(ctx)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	reloaded, err := NewManager(ctx, persistence, time.Hour)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.ActiveKeyID() != active.ID {
		t.Fatalf("expected active %s after reload, got %s", active.ID, reloaded.ActiveKeyID())
	}
	if _, _, err := reloaded.Signer(); err != nil {
		t.Fatalf("reloaded manager must sign: %v", err)
	}
}
