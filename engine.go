package authcore

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mwhitlock/authcore/audit"
	"github.com/mwhitlock/authcore/keyset"
	"github.com/mwhitlock/authcore/password"
	"github.com/mwhitlock/authcore/policy"
	"github.com/mwhitlock/authcore/session"
	"github.com/mwhitlock/authcore/token"
)

// Audit action names recorded on the hash chain.
const (
	ActionUserCreate         = "user_create"
	ActionLoginSuccess       = "login_success"
	ActionLoginFailure       = "login_failure"
	ActionLogout             = "logout"
	ActionLogoutAll          = "logout_all"
	ActionRefresh            = "refresh"
	ActionRefreshReuse       = "refresh_reuse_detected"
	ActionPasswordChange     = "password_change"
	ActionPasswordResetBegin = "password_reset_begin"
	ActionPasswordResetDone  = "password_reset_complete"
	ActionPermissionDenied   = "permission_denied"
	ActionPolicyWrite        = "policy_write"
	ActionPolicyDelete       = "policy_delete"
	ActionMembershipWrite    = "membership_write"
	ActionKeyRotation        = "key_rotation"
	ActionPrincipalStatusSet = "principal_status_set"
)

// Engine is the assembled identity core. Build one with Builder; all
// methods are safe for concurrent use.
type Engine struct {
	config       Config
	principals   PrincipalStore
	orgs         OrganizationStore
	memberships  MembershipStore
	keys         *keyset.Manager
	tokens       *token.Manager
	sessionStore *session.Store
	sessions     *session.Manager
	policies     *policy.Engine
	permCache    *policy.RedisCache
	hasher       *password.Hasher
	limiter      *loginLimiter
	resetStore   *passwordResetStore
	log          *audit.Log
	dispatcher   *audit.Dispatcher
	metrics      *Metrics
}

// Close flushes the audit dispatcher. The engine must not be used after.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.dispatcher != nil {
		e.dispatcher.Close()
	}
}

// MetricsSnapshot returns a point-in-time copy of all metrics.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// AuditDropped reports audit entries discarded under dispatcher
// backpressure. The chain itself is never dropped.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.dispatcher == nil {
		return 0
	}
	return e.dispatcher.Dropped()
}

func (e *Engine) metricInc(id MetricID) {
	if e != nil {
		e.metrics.Inc(id)
	}
}

// emitAudit appends to the hash chain synchronously, then hands the entry
// to the async dispatcher. Chain append failures are surfaced to callers
// of security-relevant operations via the returned error.
func (e *Engine) emitAudit(ctx context.Context, actor, action string, metadata map[string]string) error {
	if ip := clientIPFromContext(ctx); ip != "" {
		if metadata == nil {
			metadata = map[string]string{}
		}
		metadata["ip"] = ip
	}
	if ua := userAgentFromContext(ctx); ua != "" {
		if metadata == nil {
			metadata = map[string]string{}
		}
		metadata["user_agent"] = ua
	}

	entry, err := e.log.Append(ctx, actor, action, metadata)
	if err != nil {
		return err
	}
	e.metricInc(MetricAuditAppended)
	e.dispatcher.Emit(ctx, entry)
	return nil
}

// Register creates a principal, hashing the password with the configured
// parameters. When input names an organization a membership is created in
// the same call.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (Principal, error) {
	if e == nil {
		return Principal{}, ErrEngineNotReady
	}

	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || !strings.Contains(email, "@") {
		return Principal{}, errors.New("valid email required")
	}
	if err := e.config.PasswordPolicy.Check(in.Password); err != nil {
		return Principal{}, err
	}

	hash, err := e.hasher.Hash(in.Password)
	if err != nil {
		return Principal{}, err
	}

	p, err := e.principals.CreatePrincipal(ctx, Principal{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Status:       PrincipalActive,
	})
	if errors.Is(err, ErrConflict) {
		e.metricInc(MetricRegisterDuplicate)
		return Principal{}, ErrEmailExists
	}
	if err != nil {
		return Principal{}, err
	}

	if in.Org != "" {
		role := in.Role
		if role == "" {
			role = policy.RoleViewer
		}
		if err := e.SetMembership(ctx, Membership{
			OrgID:       in.Org,
			PrincipalID: p.ID,
			Role:        role,
			Active:      true,
		}); err != nil {
			return Principal{}, err
		}
	}

	e.metricInc(MetricRegisterSuccess)
	if err := e.emitAudit(ctx, p.ID, ActionUserCreate, map[string]string{"email": email}); err != nil {
		return Principal{}, err
	}
	return p, nil
}

// Login verifies the credentials and opens a session. Unknown email and
// wrong password are indistinguishable to the caller; both still cost one
// hash verification so timing does not separate them either.
func (e *Engine) Login(ctx context.Context, in LoginInput) (LoginResult, error) {
	if e == nil {
		return LoginResult{}, ErrEngineNotReady
	}

	email := strings.ToLower(strings.TrimSpace(in.Email))
	ip := clientIPFromContext(ctx)

	// The throttle gate runs before credentials are touched, so a locked
	// caller learns nothing about the password it presented.
	throttled, err := e.limiter.blocked(ctx, email, ip)
	if err != nil {
		return LoginResult{}, err
	}
	if throttled {
		e.metricInc(MetricLoginThrottled)
		if auditErr := e.emitAudit(ctx, "", ActionLoginFailure, map[string]string{"email": email, "reason": "throttled"}); auditErr != nil {
			return LoginResult{}, auditErr
		}
		return LoginResult{}, ErrLoginThrottled
	}

	p, lookupErr := e.principals.GetPrincipalByEmail(ctx, email)
	if lookupErr != nil && !errors.Is(lookupErr, ErrPrincipalNotFound) {
		return LoginResult{}, lookupErr
	}

	hash := p.PasswordHash
	if lookupErr != nil {
		hash = decoyHash
	}
	ok, err := e.hasher.Verify(in.Password, hash)
	if err != nil && lookupErr == nil {
		return LoginResult{}, err
	}
	if lookupErr != nil || !ok {
		e.metricInc(MetricLoginFailure)
		if limErr := e.limiter.recordFailure(ctx, email, ip); limErr != nil {
			return LoginResult{}, limErr
		}
		if auditErr := e.emitAudit(ctx, p.ID, ActionLoginFailure, map[string]string{"email": email}); auditErr != nil {
			return LoginResult{}, auditErr
		}
		return LoginResult{}, ErrInvalidCredentials
	}

	switch p.Status {
	case PrincipalSuspended:
		e.metricInc(MetricLoginFailure)
		if auditErr := e.emitAudit(ctx, p.ID, ActionLoginFailure, map[string]string{"reason": "suspended"}); auditErr != nil {
			return LoginResult{}, auditErr
		}
		return LoginResult{}, ErrPrincipalSuspended
	case PrincipalPending:
		e.metricInc(MetricLoginFailure)
		if auditErr := e.emitAudit(ctx, p.ID, ActionLoginFailure, map[string]string{"reason": "pending"}); auditErr != nil {
			return LoginResult{}, auditErr
		}
		return LoginResult{}, ErrPrincipalPending
	}

	if err := e.limiter.reset(ctx, email, ip); err != nil {
		return LoginResult{}, err
	}

	sess, pair, err := e.sessions.Open(ctx, session.OpenInput{
		PrincipalID: p.ID,
		Org:         in.Org,
		Email:       p.Email,
		Device:      userAgentFromContext(ctx),
		IP:          ip,
	})
	if err != nil {
		return LoginResult{}, err
	}

	idToken, err := e.tokens.IssueID(ctx, token.IssueInput{
		PrincipalID: p.ID,
		Org:         in.Org,
		Email:       p.Email,
	})
	if err != nil {
		return LoginResult{}, err
	}

	e.metricInc(MetricLoginSuccess)
	if err := e.emitAudit(ctx, p.ID, ActionLoginSuccess, map[string]string{"session": sess.FamilyID}); err != nil {
		return LoginResult{}, err
	}

	return LoginResult{
		PrincipalID:  p.ID,
		SessionID:    sess.FamilyID,
		AccessToken:  pair.Access,
		RefreshToken: pair.Refresh,
		IDToken:      idToken,
	}, nil
}

// Refresh rotates the refresh token's family and returns the next pair.
// A replayed token revokes the family and returns session.ErrReuseDetected;
// the loser of a concurrent race gets session.ErrConcurrentRotation and may
// retry exactly once.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (RefreshResult, error) {
	if e == nil {
		return RefreshResult{}, ErrEngineNotReady
	}

	sess, pair, err := e.sessions.Refresh(ctx, refreshToken)
	switch {
	case errors.Is(err, session.ErrReuseDetected):
		e.metricInc(MetricRefreshReuseDetected)
		// Actor attribution comes from the stolen token's family record.
		if fam, famErr := e.familyOf(ctx, refreshToken); famErr == nil {
			if auditErr := e.emitAudit(ctx, fam.PrincipalID, ActionRefreshReuse, map[string]string{"session": fam.FamilyID}); auditErr != nil {
				return RefreshResult{}, auditErr
			}
		}
		return RefreshResult{}, err
	case errors.Is(err, session.ErrConcurrentRotation):
		e.metricInc(MetricRefreshConcurrent)
		return RefreshResult{}, err
	case err != nil:
		e.metricInc(MetricRefreshFailure)
		return RefreshResult{}, err
	}

	e.metricInc(MetricRefreshSuccess)
	if err := e.emitAudit(ctx, sess.PrincipalID, ActionRefresh, map[string]string{
		"session":    sess.FamilyID,
		"generation": strconv.FormatUint(sess.Generation, 10),
	}); err != nil {
		return RefreshResult{}, err
	}

	return RefreshResult{
		SessionID:    sess.FamilyID,
		Generation:   sess.Generation,
		AccessToken:  pair.Access,
		RefreshToken: pair.Refresh,
	}, nil
}

func (e *Engine) familyOf(ctx context.Context, refreshToken string) (session.Session, error) {
	claims, err := e.tokens.Verify(ctx, refreshToken, token.KindRefresh)
	if err != nil {
		return session.Session{}, err
	}
	return e.sessionStore.Get(ctx, claims.FamilyID)
}

// Logout terminates the session owning the presented refresh token.
// Idempotent for an already revoked family.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	claims, err := e.tokens.Verify(ctx, refreshToken, token.KindRefresh)
	if err != nil {
		return err
	}
	if err := e.sessions.Close(ctx, claims.FamilyID); err != nil {
		return err
	}

	e.metricInc(MetricLogout)
	return e.emitAudit(ctx, claims.UID, ActionLogout, map[string]string{"session": claims.FamilyID})
}

// LogoutAll terminates every session for the principal and bumps the
// revocation epoch, killing outstanding access tokens immediately.
func (e *Engine) LogoutAll(ctx context.Context, principalID string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	n, err := e.sessions.CloseAll(ctx, principalID)
	if err != nil {
		return err
	}
	if err := e.tokens.RevokeAllForPrincipal(ctx, principalID); err != nil {
		return err
	}

	e.metricInc(MetricLogoutAll)
	e.metricInc(MetricRevokeAll)
	return e.emitAudit(ctx, principalID, ActionLogoutAll, map[string]string{
		"sessions": strconv.Itoa(n),
	})
}

// VerifyAccess validates an access token and returns its claims. The
// per-principal revocation epoch is enforced inside token verification.
func (e *Engine) VerifyAccess(ctx context.Context, accessToken string) (*Claims, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	start := time.Now()
	claims, err := e.tokens.Verify(ctx, accessToken, token.KindAccess)
	e.metrics.Observe(MetricVerifyLatency, time.Since(start))
	return claims, err
}

// Sessions lists the principal's session families with device metadata.
func (e *Engine) Sessions(ctx context.Context, principalID string) ([]session.Session, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	return e.sessions.List(ctx, principalID)
}

// SetPrincipalStatus suspends or reactivates a principal. Suspension also
// revokes all sessions and outstanding tokens.
func (e *Engine) SetPrincipalStatus(ctx context.Context, principalID string, status PrincipalStatus) error {
	if e == nil {
		return ErrEngineNotReady
	}

	if err := e.principals.UpdatePrincipalStatus(ctx, principalID, status); err != nil {
		return err
	}
	if status == PrincipalSuspended {
		if _, err := e.sessions.CloseAll(ctx, principalID); err != nil {
			return err
		}
		if err := e.tokens.RevokeAllForPrincipal(ctx, principalID); err != nil {
			return err
		}
		e.metricInc(MetricRevokeAll)
	}
	return e.emitAudit(ctx, principalID, ActionPrincipalStatusSet, map[string]string{
		"status": string(status),
	})
}

// PublicKeySet returns the JWKS document for third-party verifiers. Retired
// keys and private material are never included.
func (e *Engine) PublicKeySet() ([]byte, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	return e.keys.PublicKeySet()
}

// RotateSigningKey activates a fresh key; the previous one keeps verifying
// until retention elapses.
func (e *Engine) RotateSigningKey(ctx context.Context) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}

	key, err := e.keys.GenerateKey(ctx)
	if err != nil {
		return "", err
	}
	e.metricInc(MetricKeyRotation)
	if err := e.emitAudit(ctx, "system", ActionKeyRotation, map[string]string{"kid": key.ID}); err != nil {
		return "", err
	}
	return key.ID, nil
}

// SweepKeys retires demoted keys past retention and purges retired ones.
func (e *Engine) SweepKeys(ctx context.Context) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	return e.keys.Sweep(ctx)
}

// VerifyAuditChain recomputes the hash chain over [from, to] and fails with
// an audit.CorruptionError naming the first bad sequence.
func (e *Engine) VerifyAuditChain(ctx context.Context, from, to uint64) error {
	if e == nil {
		return ErrEngineNotReady
	}
	return e.log.VerifyChain(ctx, from, to)
}

// decoyHash burns a real argon2id verification for unknown emails so the
// login path costs the same either way.
var decoyHash = func() string {
	h, err := password.NewHasher(password.DefaultParams())
	if err != nil {
		panic(err)
	}
	s, err := h.Hash("decoy-password-for-constant-time")
	if err != nil {
		panic(err)
	}
	return s
}()
