package authcore

import (
	"context"
	"errors"

	"github.com/mwhitlock/authcore/policy"
)

// RegisterPredicate binds a named predicate usable from policy conditions.
// Names must be unique; registering over an existing name fails.
func (e *Engine) RegisterPredicate(name string, p policy.Predicate) error {
	if e == nil {
		return ErrEngineNotReady
	}
	return e.policies.RegisterPredicate(name, p)
}

// resolveOrg falls back to the organization carried on ctx via WithOrg
// when the caller passed no explicit org.
func resolveOrg(ctx context.Context, org string) string {
	if org != "" {
		return org
	}
	if ctxOrg, ok := orgFromContext(ctx); ok {
		return ctxOrg
	}
	return ""
}

// HasRole reports whether the principal's membership in the organization is
// at least as senior as minimum. Inactive memberships never qualify.
func (e *Engine) HasRole(ctx context.Context, principalID, org string, minimum policy.Role) (bool, error) {
	if e == nil {
		return false, ErrEngineNotReady
	}
	return e.policies.HasRole(ctx, principalID, resolveOrg(ctx, org), minimum)
}

// CheckPermission answers one authorization question through the decision
// cache.
func (e *Engine) CheckPermission(ctx context.Context, principalID, org, action, resourceID string) (bool, error) {
	if e == nil {
		return false, ErrEngineNotReady
	}

	d, err := e.policies.CheckPermission(ctx, policy.Request{
		PrincipalID: principalID,
		Org:         resolveOrg(ctx, org),
		Action:      action,
		ResourceID:  resourceID,
	})
	if err != nil {
		return false, err
	}
	if d.Allowed {
		e.metricInc(MetricPermissionAllowed)
	} else {
		e.metricInc(MetricPermissionDenied)
	}
	return d.Allowed, nil
}

// CheckBulkPermissions answers several actions for one principal in one
// call, keyed by action.
func (e *Engine) CheckBulkPermissions(ctx context.Context, principalID, org string, actions []string) (map[string]bool, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	decisions, err := e.policies.CheckBulkPermissions(ctx, principalID, resolveOrg(ctx, org), actions)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(decisions))
	for action, d := range decisions {
		out[action] = d.Allowed
	}
	return out, nil
}

// Enforce fails with a policy.DeniedError instead of returning a verdict.
// Denials are audited with the denying policy id; the error given to end
// users must stay a generic forbidden.
func (e *Engine) Enforce(ctx context.Context, principalID, org, action, resourceID string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	err := e.policies.Enforce(ctx, policy.Request{
		PrincipalID: principalID,
		Org:         resolveOrg(ctx, org),
		Action:      action,
		ResourceID:  resourceID,
	})
	var denied *policy.DeniedError
	if errors.As(err, &denied) {
		e.metricInc(MetricPermissionDenied)
		meta := map[string]string{"action": action}
		if denied.PolicyID != "" {
			meta["policy"] = denied.PolicyID
		}
		if auditErr := e.emitAudit(ctx, principalID, ActionPermissionDenied, meta); auditErr != nil {
			return auditErr
		}
		return err
	}
	if err == nil {
		e.metricInc(MetricPermissionAllowed)
	}
	return err
}

// PutPolicy persists a policy and invalidates the organization's cached
// decisions. Callers gate this behind an admin-level Enforce.
func (e *Engine) PutPolicy(ctx context.Context, actor string, p policy.Policy) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.policies.PutPolicy(ctx, p); err != nil {
		return err
	}
	return e.emitAudit(ctx, actor, ActionPolicyWrite, map[string]string{
		"policy": p.ID,
		"org":    p.Org,
	})
}

// DeletePolicy removes a policy and invalidates the organization's cached
// decisions.
func (e *Engine) DeletePolicy(ctx context.Context, actor, org, id string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.policies.DeletePolicy(ctx, org, id); err != nil {
		return err
	}
	return e.emitAudit(ctx, actor, ActionPolicyDelete, map[string]string{
		"policy": id,
		"org":    org,
	})
}

// SetMembership upserts the principal's role in an organization and
// invalidates the organization's cached decisions, so promotions and
// demotions apply to the next check without re-login.
func (e *Engine) SetMembership(ctx context.Context, m Membership) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if !m.Role.Valid() {
		return errors.New("unknown role")
	}

	if err := e.memberships.UpsertMembership(ctx, m); err != nil {
		return err
	}
	if err := e.policies.Invalidate(ctx, m.OrgID); err != nil {
		return err
	}
	return e.emitAudit(ctx, m.PrincipalID, ActionMembershipWrite, map[string]string{
		"org":  m.OrgID,
		"role": string(m.Role),
	})
}
