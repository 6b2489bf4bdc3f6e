package authcore

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/mwhitlock/authcore/audit"
	"github.com/mwhitlock/authcore/keyset"
	"github.com/mwhitlock/authcore/password"
	"github.com/mwhitlock/authcore/policy"
	"github.com/mwhitlock/authcore/session"
	"github.com/mwhitlock/authcore/token"
)

// Builder assembles an Engine. Configure, then call Build exactly once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	principals  PrincipalStore
	orgs        OrganizationStore
	memberships MembershipStore
	policyStore policy.PolicyStore
	auditStore  audit.Store
	keyPersist  keyset.Persistence
	auditSink   AuditSink
	baseline    policy.Baseline

	built bool
}

// New returns a Builder carrying DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the full configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis supplies the Redis client backing sessions, revocation epochs,
// the permission cache, and reset challenges.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithPrincipalStore supplies the durable account backend.
func (b *Builder) WithPrincipalStore(s PrincipalStore) *Builder {
	b.principals = s
	return b
}

// WithOrganizationStore supplies the durable tenant backend.
func (b *Builder) WithOrganizationStore(s OrganizationStore) *Builder {
	b.orgs = s
	return b
}

// WithMembershipStore supplies the durable role-assignment backend.
func (b *Builder) WithMembershipStore(s MembershipStore) *Builder {
	b.memberships = s
	return b
}

// WithPolicyStore supplies the durable policy backend. Defaults to an
// in-process store when omitted.
func (b *Builder) WithPolicyStore(s policy.PolicyStore) *Builder {
	b.policyStore = s
	return b
}

// WithAuditStore supplies the durable hash-chain backend. Defaults to an
// in-process store when omitted.
func (b *Builder) WithAuditStore(s audit.Store) *Builder {
	b.auditStore = s
	return b
}

// WithKeyPersistence supplies the signing key backend. Defaults to an
// in-process store; production deployments persist keys so rotation
// survives restarts.
func (b *Builder) WithKeyPersistence(p keyset.Persistence) *Builder {
	b.keyPersist = p
	return b
}

// WithAuditSink attaches an async consumer of appended audit entries.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithRoleBaseline overrides the per-role fallback permission sets.
func (b *Builder) WithRoleBaseline(baseline policy.Baseline) *Builder {
	b.baseline = baseline
	return b
}

// WithMetricsEnabled toggles the in-process metrics system.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration, wires every component, and ensures an
// active signing key exists.
func (b *Builder) Build(ctx context.Context) (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.principals == nil {
		return nil, errors.New("principal store required")
	}
	if b.memberships == nil {
		return nil, errors.New("membership store required")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	keyPersist := b.keyPersist
	if keyPersist == nil {
		keyPersist = keyset.NewMemoryPersistence()
	}
	keys, err := keyset.NewManager(ctx, keyPersist, cfg.Keys.Retention)
	if err != nil {
		return nil, err
	}
	if keys.ActiveKeyID() == "" {
		if _, err := keys.GenerateKey(ctx); err != nil {
			return nil, err
		}
	}

	tokens, err := token.NewManager(cfg.Token, keys, token.NewRedisEpochs(b.redis, "rev"))
	if err != nil {
		return nil, err
	}

	permCache := policy.NewRedisCache(b.redis, cfg.PermissionCacheTTL)

	sessionStore := session.NewStore(b.redis, cfg.Session)
	sessions, err := session.NewManager(sessionStore, tokens, permCache)
	if err != nil {
		return nil, err
	}

	policyStore := b.policyStore
	if policyStore == nil {
		policyStore = policy.NewMemoryPolicyStore()
	}
	policies, err := policy.NewEngine(
		membershipAdapter{store: b.memberships},
		policyStore,
		permCache,
		b.baseline,
	)
	if err != nil {
		return nil, err
	}

	auditStore := b.auditStore
	if auditStore == nil {
		auditStore = audit.NewMemoryStore()
	}

	hasher, err := password.NewHasher(cfg.Password)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:       cfg,
		principals:   b.principals,
		orgs:         b.orgs,
		memberships:  b.memberships,
		keys:         keys,
		tokens:       tokens,
		sessionStore: sessionStore,
		sessions:     sessions,
		policies:     policies,
		permCache:    permCache,
		hasher:       hasher,
		limiter:      newLoginLimiter(b.redis, cfg.Throttle),
		resetStore:   newPasswordResetStore(b.redis),
		log:          audit.NewLog(auditStore),
		dispatcher:   audit.NewDispatcher(cfg.dispatcherConfig(), b.auditSink),
		metrics:      NewMetrics(cfg.Metrics),
	}

	b.built = true
	return engine, nil
}

// membershipAdapter bridges the durable MembershipStore to the policy
// engine's read interface.
type membershipAdapter struct {
	store MembershipStore
}

func (a membershipAdapter) Membership(ctx context.Context, principalID, org string) (policy.Membership, bool, error) {
	m, err := a.store.GetMembership(ctx, org, principalID)
	if errors.Is(err, ErrMembershipNotFound) {
		return policy.Membership{}, false, nil
	}
	if err != nil {
		return policy.Membership{}, false, err
	}
	return policy.Membership{
		PrincipalID: m.PrincipalID,
		Org:         m.OrgID,
		Role:        m.Role,
		Active:      m.Active,
	}, true, nil
}
