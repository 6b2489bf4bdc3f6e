package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mwhitlock/authcore/keyset"
	"github.com/mwhitlock/authcore/token"
)

func newTestSessionManager(t *testing.T) *Manager {
	t.Helper()

	keys, err := keyset.NewManager(context.Background(), keyset.NewMemoryPersistence(), time.Hour)
	if err != nil {
		t.Fatalf("keyset manager failed: %v", err)
	}
	if _, err := keys.GenerateKey(context.Background()); err != nil {
		t.Fatalf("key generation failed: %v", err)
	}

	tokens, err := token.NewManager(token.Config{
		AccessTTL:  5 * time.Minute,
		RefreshTTL: 24 * time.Hour,
		IDTTL:      time.Hour,
		Issuer:     "authcore-test",
	}, keys, token.NewMemoryEpochs())
	if err != nil {
		t.Fatalf("token manager failed: %v", err)
	}

	store, _ := newTestStore(t)
	m, err := NewManager(store, tokens, StaticPermVer(3))
	if err != nil {
		t.Fatalf("session manager failed: %v", err)
	}
	return m
}

func TestOpenIssuesFirstGeneration(t *testing.T) {
	m := newTestSessionManager(t)
	ctx := context.Background()

	sess, pair, err := m.Open(ctx, OpenInput{
		PrincipalID: "p1",
		Org:         "org1",
		Email:       "p1@example.com",
		Device:      "cli",
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if sess.Generation != 1 {
		t.Fatalf("expected generation 1, got %d", sess.Generation)
	}

	claims, err := m.tokens.Verify(ctx, pair.Refresh, token.KindRefresh)
	if err != nil {
		t.Fatalf("refresh verification failed: %v", err)
	}
	if claims.FamilyID != sess.FamilyID || claims.Generation != 1 {
		t.Fatalf("unexpected refresh claims: %+v", claims)
	}

	access, err := m.tokens.Verify(ctx, pair.Access, token.KindAccess)
	if err != nil {
		t.Fatalf("access verification failed: %v", err)
	}
	if access.PermVer != 3 {
		t.Fatalf("expected permission version 3, got %d", access.PermVer)
	}
}

func TestRefreshRotatesAndInvalidatesPredecessor(t *testing.T) {
	m := newTestSessionManager(t)
	ctx := context.Background()

	base := time.Now()
	m.store.WithClock(func() time.Time { return base })

	_, pair, err := m.Open(ctx, OpenInput{PrincipalID: "p1", Org: "org1"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	sess, next, err := m.Refresh(ctx, pair.Refresh)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if sess.Generation != 2 {
		t.Fatalf("expected generation 2, got %d", sess.Generation)
	}

	// Chain stays usable through the fresh token, then one more hop.
	m.store.WithClock(func() time.Time { return base.Add(time.Minute) })
	if _, _, err := m.Refresh(ctx, next.Refresh); err != nil {
		t.Fatalf("second Refresh failed: %v", err)
	}

	// The original token is now two generations behind.
	_, _, err = m.Refresh(ctx, pair.Refresh)
	if !errors.Is(err, ErrReuseDetected) {
		t.Fatalf("expected ErrReuseDetected, got %v", err)
	}
}

func TestRefreshAfterReuseLocksOutHolder(t *testing.T) {
	m := newTestSessionManager(t)
	ctx := context.Background()

	base := time.Now()
	m.store.WithClock(func() time.Time { return base })

	_, stolen, err := m.Open(ctx, OpenInput{PrincipalID: "p1", Org: "org1"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	// Victim rotates normally.
	_, current, err := m.Refresh(ctx, stolen.Refresh)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	// Attacker replays the stolen token outside the race window.
	m.store.WithClock(func() time.Time { return base.Add(time.Minute) })
	_, _, err = m.Refresh(ctx, stolen.Refresh)
	if !errors.Is(err, ErrReuseDetected) {
		t.Fatalf("expected ErrReuseDetected, got %v", err)
	}

	// The victim's current token is dead too; forcing re-authentication.
	_, _, err = m.Refresh(ctx, current.Refresh)
	if !errors.Is(err, ErrFamilyRevoked) {
		t.Fatalf("expected ErrFamilyRevoked, got %v", err)
	}
}

func TestCloseStopsRefresh(t *testing.T) {
	m := newTestSessionManager(t)
	ctx := context.Background()

	sess, pair, err := m.Open(ctx, OpenInput{PrincipalID: "p1", Org: "org1"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if err := m.Close(ctx, sess.FamilyID); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	_, _, err = m.Refresh(ctx, pair.Refresh)
	if !errors.Is(err, ErrFamilyRevoked) {
		t.Fatalf("expected ErrFamilyRevoked, got %v", err)
	}
}

func TestCloseAllAcrossDevices(t *testing.T) {
	m := newTestSessionManager(t)
	ctx := context.Background()

	var pairs []token.Pair
	for _, device := range []string{"phone", "laptop", "tablet"} {
		_, pair, err := m.Open(ctx, OpenInput{PrincipalID: "p1", Org: "org1", Device: device})
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		pairs = append(pairs, pair)
	}

	n, err := m.CloseAll(ctx, "p1")
	if err != nil {
		t.Fatalf("CloseAll failed: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 closed sessions, got %d", n)
	}

	for i, pair := range pairs {
		if _, _, err := m.Refresh(ctx, pair.Refresh); !errors.Is(err, ErrFamilyRevoked) {
			t.Fatalf("session %d: expected ErrFamilyRevoked, got %v", i, err)
		}
	}
}

func TestListReportsDeviceMetadata(t *testing.T) {
	m := newTestSessionManager(t)
	ctx := context.Background()

	if _, _, err := m.Open(ctx, OpenInput{PrincipalID: "p1", Org: "org1", Device: "phone", IP: "10.0.0.9"}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	sessions, err := m.List(ctx, "p1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected one session, got %d", len(sessions))
	}
	if sessions[0].Device != "phone" || sessions[0].IP != "10.0.0.9" {
		t.Fatalf("unexpected metadata: %+v", sessions[0])
	}
}
