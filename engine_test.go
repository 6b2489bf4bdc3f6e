package authcore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mwhitlock/authcore/password"
	"github.com/mwhitlock/authcore/session"
	"github.com/mwhitlock/authcore/token"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Password = password.Params{
		MemoryKB:    8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	}
	return cfg
}

func newTestEngine(t *testing.T) (*Engine, *MemoryDirectory, *miniredis.Miniredis) {
	t.Helper()
	return newTestEngineConfig(t, testConfig())
}

func newTestEngineConfig(t *testing.T, cfg Config) (*Engine, *MemoryDirectory, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	dir := NewMemoryDirectory()
	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithPrincipalStore(dir).
		WithOrganizationStore(dir).
		WithMembershipStore(dir).
		Build(context.Background())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine, dir, mr
}

func register(t *testing.T, e *Engine, email, pw string) Principal {
	t.Helper()
	p, err := e.Register(context.Background(), RegisterInput{Email: email, Password: pw})
	if err != nil {
		t.Fatalf("Register(%s) failed: %v", email, err)
	}
	return p
}

func TestRegisterLoginRefresh(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	p := register(t, engine, "Ada@Example.com", "correct-horse-battery")
	if p.Email != "ada@example.com" {
		t.Fatalf("email not normalized: %q", p.Email)
	}

	res, err := engine.Login(ctx, LoginInput{Email: "ada@example.com", Password: "correct-horse-battery"})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if res.AccessToken == "" || res.RefreshToken == "" || res.IDToken == "" {
		t.Fatal("expected full token set on login")
	}

	claims, err := engine.VerifyAccess(ctx, res.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccess failed: %v", err)
	}
	if claims.UID != p.ID {
		t.Fatalf("claims bound to %q, want %q", claims.UID, p.ID)
	}

	next, err := engine.Refresh(ctx, res.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if next.Generation != 2 {
		t.Fatalf("generation = %d, want 2", next.Generation)
	}
	if next.RefreshToken == res.RefreshToken {
		t.Fatal("refresh token did not rotate")
	}

	// Immediately replaying the consumed token lands inside the rotation
	// grace window, so it reads as a concurrent loser and the family
	// survives.
	if _, err := engine.Refresh(ctx, res.RefreshToken); !errors.Is(err, session.ErrConcurrentRotation) {
		t.Fatalf("expected ErrConcurrentRotation inside grace window, got %v", err)
	}

	third, err := engine.Refresh(ctx, next.RefreshToken)
	if err != nil {
		t.Fatalf("second Refresh failed: %v", err)
	}
	if third.Generation != 3 {
		t.Fatalf("generation = %d, want 3", third.Generation)
	}

	// Two generations stale is theft, never a race. The family is revoked.
	if _, err := engine.Refresh(ctx, res.RefreshToken); !errors.Is(err, session.ErrReuseDetected) {
		t.Fatalf("expected ErrReuseDetected for stale token, got %v", err)
	}
	if _, err := engine.Refresh(ctx, third.RefreshToken); !errors.Is(err, session.ErrFamilyRevoked) {
		t.Fatalf("expected ErrFamilyRevoked after reuse, got %v", err)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	register(t, engine, "ada@example.com", "correct-horse-battery")
	_, err := engine.Register(context.Background(), RegisterInput{
		Email:    "ADA@example.com",
		Password: "another-strong-pw1",
	})
	if !errors.Is(err, ErrEmailExists) {
		t.Fatalf("expected ErrEmailExists, got %v", err)
	}
	if got := engine.MetricsSnapshot().Counters[MetricRegisterDuplicate]; got != 1 {
		t.Fatalf("duplicate counter = %d, want 1", got)
	}
}

func TestLoginFailuresAreUniform(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	register(t, engine, "ada@example.com", "correct-horse-battery")

	_, errWrong := engine.Login(ctx, LoginInput{Email: "ada@example.com", Password: "not-the-password"})
	_, errUnknown := engine.Login(ctx, LoginInput{Email: "nobody@example.com", Password: "not-the-password"})

	if !errors.Is(errWrong, ErrInvalidCredentials) {
		t.Fatalf("wrong password: got %v", errWrong)
	}
	if !errors.Is(errUnknown, ErrInvalidCredentials) {
		t.Fatalf("unknown email: got %v", errUnknown)
	}
	if errWrong.Error() != errUnknown.Error() {
		t.Fatalf("failure modes distinguishable: %q vs %q", errWrong, errUnknown)
	}
}

func TestLoginRejectsInactiveStatus(t *testing.T) {
	engine, dir, _ := newTestEngine(t)
	ctx := context.Background()

	p := register(t, engine, "ada@example.com", "correct-horse-battery")

	if err := dir.UpdatePrincipalStatus(ctx, p.ID, PrincipalSuspended); err != nil {
		t.Fatalf("set suspended: %v", err)
	}
	if _, err := engine.Login(ctx, LoginInput{Email: "ada@example.com", Password: "correct-horse-battery"}); !errors.Is(err, ErrPrincipalSuspended) {
		t.Fatalf("expected ErrPrincipalSuspended, got %v", err)
	}

	if err := dir.UpdatePrincipalStatus(ctx, p.ID, PrincipalPending); err != nil {
		t.Fatalf("set pending: %v", err)
	}
	if _, err := engine.Login(ctx, LoginInput{Email: "ada@example.com", Password: "correct-horse-battery"}); !errors.Is(err, ErrPrincipalPending) {
		t.Fatalf("expected ErrPrincipalPending, got %v", err)
	}
}

func TestLogoutStopsRefresh(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	register(t, engine, "ada@example.com", "correct-horse-battery")
	res, err := engine.Login(ctx, LoginInput{Email: "ada@example.com", Password: "correct-horse-battery"})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if err := engine.Logout(ctx, res.RefreshToken); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if _, err := engine.Refresh(ctx, res.RefreshToken); !errors.Is(err, session.ErrFamilyRevoked) {
		t.Fatalf("expected ErrFamilyRevoked after logout, got %v", err)
	}
	// Logging out the same session twice is not an error.
	if err := engine.Logout(ctx, res.RefreshToken); err != nil {
		t.Fatalf("repeated Logout failed: %v", err)
	}
}

func TestLogoutAllKillsOutstandingAccessTokens(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	p := register(t, engine, "ada@example.com", "correct-horse-battery")

	var results []LoginResult
	for i := 0; i < 3; i++ {
		res, err := engine.Login(ctx, LoginInput{Email: "ada@example.com", Password: "correct-horse-battery"})
		if err != nil {
			t.Fatalf("Login %d failed: %v", i, err)
		}
		results = append(results, res)
	}

	sessions, err := engine.Sessions(ctx, p.ID)
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(sessions))
	}

	if err := engine.LogoutAll(ctx, p.ID); err != nil {
		t.Fatalf("LogoutAll failed: %v", err)
	}

	for i, res := range results {
		if _, err := engine.VerifyAccess(ctx, res.AccessToken); !errors.Is(err, token.ErrRevoked) {
			t.Fatalf("session %d access token survived logout-all: %v", i, err)
		}
		if _, err := engine.Refresh(ctx, res.RefreshToken); err == nil {
			t.Fatalf("session %d refresh survived logout-all", i)
		}
	}
}

func TestSuspensionRevokesEverything(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	p := register(t, engine, "ada@example.com", "correct-horse-battery")
	res, err := engine.Login(ctx, LoginInput{Email: "ada@example.com", Password: "correct-horse-battery"})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if err := engine.SetPrincipalStatus(ctx, p.ID, PrincipalSuspended); err != nil {
		t.Fatalf("SetPrincipalStatus failed: %v", err)
	}
	if _, err := engine.VerifyAccess(ctx, res.AccessToken); !errors.Is(err, token.ErrRevoked) {
		t.Fatalf("access token survived suspension: %v", err)
	}
}

func TestAuditChainStaysConsistent(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	register(t, engine, "ada@example.com", "correct-horse-battery")
	res, err := engine.Login(ctx, LoginInput{Email: "ada@example.com", Password: "correct-horse-battery"})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if _, err := engine.Refresh(ctx, res.RefreshToken); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if _, err := engine.Login(ctx, LoginInput{Email: "ada@example.com", Password: "wrong-password-here"}); err == nil {
		t.Fatal("expected login failure")
	}

	if err := engine.VerifyAuditChain(ctx, 0, 10); err != nil {
		t.Fatalf("VerifyAuditChain failed: %v", err)
	}
}

func TestAuditEventsReachSink(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	sink := NewChannelSink(16)
	dir := NewMemoryDirectory()
	engine, err := New().
		WithConfig(testConfig()).
		WithRedis(rdb).
		WithPrincipalStore(dir).
		WithMembershipStore(dir).
		WithAuditSink(sink).
		Build(context.Background())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	register(t, engine, "ada@example.com", "correct-horse-battery")

	select {
	case evt := <-sink.Entries():
		if evt.Action != ActionUserCreate {
			t.Fatalf("first event action = %q, want %q", evt.Action, ActionUserCreate)
		}
		if evt.Sequence != 0 {
			t.Fatalf("first event sequence = %d, want 0", evt.Sequence)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no audit event delivered")
	}
}

func TestRotateSigningKeyKeepsOldTokensValid(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	register(t, engine, "ada@example.com", "correct-horse-battery")
	res, err := engine.Login(ctx, LoginInput{Email: "ada@example.com", Password: "correct-horse-battery"})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	kid, err := engine.RotateSigningKey(ctx)
	if err != nil {
		t.Fatalf("RotateSigningKey failed: %v", err)
	}
	if kid == "" {
		t.Fatal("expected new key id")
	}

	// Tokens signed by the demoted key verify until retention elapses.
	if _, err := engine.VerifyAccess(ctx, res.AccessToken); err != nil {
		t.Fatalf("old-key token rejected after rotation: %v", err)
	}

	next, err := engine.Login(ctx, LoginInput{Email: "ada@example.com", Password: "correct-horse-battery"})
	if err != nil {
		t.Fatalf("post-rotation login failed: %v", err)
	}
	if _, err := engine.VerifyAccess(ctx, next.AccessToken); err != nil {
		t.Fatalf("new-key token rejected: %v", err)
	}
}

func TestPublicKeySetOmitsPrivateMaterial(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	jwks, err := engine.PublicKeySet()
	if err != nil {
		t.Fatalf("PublicKeySet failed: %v", err)
	}
	if len(jwks) == 0 {
		t.Fatal("expected JWKS document")
	}
	for _, forbidden := range []string{`"d"`, "PRIVATE"} {
		if strings.Contains(string(jwks), forbidden) {
			t.Fatalf("JWKS leaks private material: %s", jwks)
		}
	}
}

func TestLoginThrottleAfterRepeatedFailures(t *testing.T) {
	cfg := testConfig()
	cfg.Throttle = ThrottleConfig{MaxFailures: 3, Window: time.Minute}
	engine, _, mr := newTestEngineConfig(t, cfg)
	ctx := context.Background()

	register(t, engine, "mallory@example.com", "right-password-123")

	for i := 0; i < 3; i++ {
		_, err := engine.Login(ctx, LoginInput{Email: "mallory@example.com", Password: "wrong"})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: got %v, want ErrInvalidCredentials", i+1, err)
		}
	}

	// The budget is spent, so even the correct password is refused.
	_, err := engine.Login(ctx, LoginInput{Email: "mallory@example.com", Password: "right-password-123"})
	if !errors.Is(err, ErrLoginThrottled) {
		t.Fatalf("got %v, want ErrLoginThrottled", err)
	}
	if got := engine.MetricsSnapshot().Counters[MetricLoginThrottled]; got != 1 {
		t.Fatalf("throttled counter = %d, want 1", got)
	}

	// The counter expires with the window and the budget comes back.
	mr.FastForward(2 * time.Minute)
	res, err := engine.Login(ctx, LoginInput{Email: "mallory@example.com", Password: "right-password-123"})
	if err != nil {
		t.Fatalf("Login after window: %v", err)
	}
	if res.AccessToken == "" {
		t.Fatal("expected tokens after the window rolled over")
	}
}

func TestLoginSuccessResetsFailureBudget(t *testing.T) {
	cfg := testConfig()
	cfg.Throttle = ThrottleConfig{MaxFailures: 3, Window: time.Minute}
	engine, _, _ := newTestEngineConfig(t, cfg)
	ctx := context.Background()

	register(t, engine, "pat@example.com", "right-password-123")

	fail := func() {
		t.Helper()
		_, err := engine.Login(ctx, LoginInput{Email: "pat@example.com", Password: "wrong"})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("got %v, want ErrInvalidCredentials", err)
		}
	}

	fail()
	fail()
	if _, err := engine.Login(ctx, LoginInput{Email: "pat@example.com", Password: "right-password-123"}); err != nil {
		t.Fatalf("Login below budget: %v", err)
	}

	// The success cleared the counter, so two more failures stay below
	// the budget.
	fail()
	fail()
	if _, err := engine.Login(ctx, LoginInput{Email: "pat@example.com", Password: "right-password-123"}); err != nil {
		t.Fatalf("Login after reset: %v", err)
	}
}
