package policy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrDenied is the base of every authorization denial.
	ErrDenied = errors.New("permission denied")
	// ErrUnknownPredicate is returned when a policy references a predicate
	// that was never registered.
	ErrUnknownPredicate = errors.New("unknown policy predicate")
)

// DeniedError carries the denying policy for the audit trail. Callers must
// not expose PolicyID to end users.
type DeniedError struct {
	Action   string
	PolicyID string
}

func (e *DeniedError) Error() string {
	if e.PolicyID != "" {
		return fmt.Sprintf("permission denied: %s (policy %s)", e.Action, e.PolicyID)
	}
	return fmt.Sprintf("permission denied: %s", e.Action)
}

func (e *DeniedError) Unwrap() error { return ErrDenied }

// Membership is a principal's standing in one organization. Status inactive
// grants nothing regardless of the stored role.
type Membership struct {
	PrincipalID string
	Org         string
	Role        Role
	Active      bool
}

// MembershipSource resolves a principal's membership in an organization.
// A missing membership is reported as found=false, not an error.
type MembershipSource interface {
	Membership(ctx context.Context, principalID, org string) (Membership, bool, error)
}

// PolicyStore lists the policies scoped to one organization. Writes go
// through the engine so cache invalidation cannot be skipped.
type PolicyStore interface {
	ListPolicies(ctx context.Context, org string) ([]Policy, error)
	SavePolicy(ctx context.Context, p Policy) error
	DeletePolicy(ctx context.Context, org, id string) error
}

// Predicate is a named custom condition. Request carries the evaluation
// context a predicate may inspect.
type Predicate func(ctx context.Context, req Request) (bool, error)

// Request is one authorization question.
type Request struct {
	PrincipalID string
	Org         string
	Action      string
	ResourceID  string
}

// Decision is the outcome of an evaluation, cacheable as a unit.
type Decision struct {
	Allowed  bool   `json:"allowed"`
	PolicyID string `json:"policy_id,omitempty"`
}

// DecisionCache memoizes decisions under a per-organization version stamp.
// Implementations must treat a cache miss and a cache failure identically
// so authorization never depends on cache availability.
type DecisionCache interface {
	Version(ctx context.Context, org string) (uint64, error)
	Bump(ctx context.Context, org string) (uint64, error)
	Get(ctx context.Context, ver uint64, req Request) (Decision, bool)
	Put(ctx context.Context, ver uint64, req Request, d Decision)
}

// Baseline maps each role to the permission patterns it carries absent any
// explicit policy. Higher roles inherit nothing implicitly; list patterns
// per role.
type Baseline map[Role][]string

// DefaultBaseline grants read-everything to viewers and full access from
// admin upward.
func DefaultBaseline() Baseline {
	return Baseline{
		RoleSuperAdmin: {"*"},
		RoleOwner:      {"*"},
		RoleAdmin:      {"*"},
		RoleMember:     {"*:read", "*:write", "*:*:read", "*:*:write"},
		RoleViewer:     {"*:read", "*:*:read"},
	}
}

// Engine answers role and permission questions. Policies are consulted
// first; the role baseline is the fallback when no policy matches.
type Engine struct {
	memberships MembershipSource
	store       PolicyStore
	cache       DecisionCache
	baseline    Baseline
	now         func() time.Time

	mu         sync.RWMutex
	predicates map[string]Predicate
}

// NewEngine wires an engine. cache may be nil to disable memoization.
func NewEngine(memberships MembershipSource, store PolicyStore, cache DecisionCache, baseline Baseline) (*Engine, error) {
	if memberships == nil {
		return nil, errors.New("membership source required")
	}
	if store == nil {
		return nil, errors.New("policy store required")
	}
	if baseline == nil {
		baseline = DefaultBaseline()
	}
	return &Engine{
		memberships: memberships,
		store:       store,
		cache:       cache,
		baseline:    baseline,
		now:         time.Now,
		predicates:  make(map[string]Predicate),
	}, nil
}

// WithClock overrides the time source for time-window conditions. Test hook.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// RegisterPredicate binds a named predicate usable from CondPredicate
// conditions. Registration after engine start is safe.
func (e *Engine) RegisterPredicate(name string, p Predicate) error {
	if name == "" || p == nil {
		return errors.New("predicate name and function required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.predicates[name]; exists {
		return fmt.Errorf("predicate %q already registered", name)
	}
	e.predicates[name] = p
	return nil
}

// HasRole reports whether the principal's membership carries at least the
// given role level. Inactive memberships never qualify.
func (e *Engine) HasRole(ctx context.Context, principalID, org string, minimum Role) (bool, error) {
	m, found, err := e.memberships.Membership(ctx, principalID, org)
	if err != nil {
		return false, err
	}
	if !found || !m.Active {
		return false, nil
	}
	return m.Role.Level() >= minimum.Level(), nil
}

// Evaluate answers the request without the cache. Any matching deny policy
// defeats every allow; with no matching policy the role baseline decides.
func (e *Engine) Evaluate(ctx context.Context, req Request) (Decision, error) {
	policies, err := e.store.ListPolicies(ctx, req.Org)
	if err != nil {
		return Decision{}, err
	}

	var allow *Policy
	for i := range policies {
		p := &policies[i]
		if !Matches(p.Pattern, req.Action) {
			continue
		}
		holds, err := e.conditionsHold(ctx, p.Conditions, req)
		if err != nil {
			return Decision{}, err
		}
		if !holds {
			continue
		}
		if p.Effect == EffectDeny {
			return Decision{Allowed: false, PolicyID: p.ID}, nil
		}
		if allow == nil {
			allow = p
		}
	}
	if allow != nil {
		return Decision{Allowed: true, PolicyID: allow.ID}, nil
	}

	return e.baselineDecision(ctx, req)
}

func (e *Engine) baselineDecision(ctx context.Context, req Request) (Decision, error) {
	m, found, err := e.memberships.Membership(ctx, req.PrincipalID, req.Org)
	if err != nil {
		return Decision{}, err
	}
	if !found || !m.Active {
		return Decision{Allowed: false}, nil
	}
	return Decision{Allowed: MatchesAny(e.baseline[m.Role], req.Action)}, nil
}

func (e *Engine) conditionsHold(ctx context.Context, conds []Condition, req Request) (bool, error) {
	for _, c := range conds {
		switch c.Kind {
		case CondPrincipal:
			if c.PrincipalID != req.PrincipalID {
				return false, nil
			}
		case CondResource:
			if c.ResourceID != req.ResourceID {
				return false, nil
			}
		case CondTimeWindow:
			now := e.now()
			if now.Before(c.NotBefore) || !now.Before(c.NotAfter) {
				return false, nil
			}
		case CondPredicate:
			e.mu.RLock()
			p, ok := e.predicates[c.Predicate]
			e.mu.RUnlock()
			if !ok {
				return false, fmt.Errorf("%w: %s", ErrUnknownPredicate, c.Predicate)
			}
			holds, err := p(ctx, req)
			if err != nil {
				return false, err
			}
			if !holds {
				return false, nil
			}
		default:
			return false, fmt.Errorf("unknown condition kind %q", c.Kind)
		}
	}
	return true, nil
}

// CheckPermission is the cached form of Evaluate. Stale reads are bounded
// by one version-stamp propagation; the write path below is immediate.
func (e *Engine) CheckPermission(ctx context.Context, req Request) (Decision, error) {
	if e.cache == nil {
		return e.Evaluate(ctx, req)
	}

	ver, err := e.cache.Version(ctx, req.Org)
	if err != nil {
		// Cache trouble must not block authorization.
		return e.Evaluate(ctx, req)
	}
	if d, ok := e.cache.Get(ctx, ver, req); ok {
		return d, nil
	}

	d, err := e.Evaluate(ctx, req)
	if err != nil {
		return Decision{}, err
	}
	e.cache.Put(ctx, ver, req, d)
	return d, nil
}

// CheckBulkPermissions answers several actions for one principal in one
// call, keyed by action. Actions are deduplicated.
func (e *Engine) CheckBulkPermissions(ctx context.Context, principalID, org string, actions []string) (map[string]Decision, error) {
	uniq := make([]string, 0, len(actions))
	seen := make(map[string]struct{}, len(actions))
	for _, a := range actions {
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		uniq = append(uniq, a)
	}
	sort.Strings(uniq)

	out := make(map[string]Decision, len(uniq))
	for _, action := range uniq {
		d, err := e.CheckPermission(ctx, Request{
			PrincipalID: principalID,
			Org:         org,
			Action:      action,
		})
		if err != nil {
			return nil, err
		}
		out[action] = d
	}
	return out, nil
}

// Enforce fails instead of returning a verdict, for call sites where denial
// must short-circuit the request.
func (e *Engine) Enforce(ctx context.Context, req Request) error {
	d, err := e.CheckPermission(ctx, req)
	if err != nil {
		return err
	}
	if !d.Allowed {
		return &DeniedError{Action: req.Action, PolicyID: d.PolicyID}
	}
	return nil
}

// PutPolicy validates and persists a policy, then invalidates the
// organization's cached decisions.
func (e *Engine) PutPolicy(ctx context.Context, p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := e.store.SavePolicy(ctx, p); err != nil {
		return err
	}
	return e.invalidate(ctx, p.Org)
}

// DeletePolicy removes a policy and invalidates the organization's cached
// decisions.
func (e *Engine) DeletePolicy(ctx context.Context, org, id string) error {
	if err := e.store.DeletePolicy(ctx, org, id); err != nil {
		return err
	}
	return e.invalidate(ctx, org)
}

// Invalidate bumps the organization's cache version. Role and membership
// writers call this after any change affecting grants.
func (e *Engine) Invalidate(ctx context.Context, org string) error {
	return e.invalidate(ctx, org)
}

func (e *Engine) invalidate(ctx context.Context, org string) error {
	if e.cache == nil {
		return nil
	}
	_, err := e.cache.Bump(ctx, org)
	return err
}
