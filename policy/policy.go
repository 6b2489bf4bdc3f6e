// Package policy implements role-hierarchy and policy-based authorization:
// permission pattern matching, conditional allow/deny policies with
// deny-overrides-allow resolution, and a version-stamped decision cache.
package policy

import (
	"errors"
	"fmt"
	"time"
)

// Role names form a fixed total order. A role at level L satisfies any check
// requiring level <= L.
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleOwner      Role = "owner"
	RoleAdmin      Role = "admin"
	RoleMember     Role = "member"
	RoleViewer     Role = "viewer"
)

var roleLevels = map[Role]int{
	RoleSuperAdmin: 100,
	RoleOwner:      80,
	RoleAdmin:      60,
	RoleMember:     40,
	RoleViewer:     20,
}

// Level returns the role's position in the hierarchy; unknown roles rank
// below every defined role.
func (r Role) Level() int { return roleLevels[r] }

// Valid reports whether the role is one of the defined hierarchy roles.
func (r Role) Valid() bool {
	_, ok := roleLevels[r]
	return ok
}

// Effect is a policy's verdict when it matches a request.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// ConditionKind tags the condition variants. The set is closed so policy
// evaluation is exhaustively testable.
type ConditionKind string

const (
	CondPrincipal  ConditionKind = "principal"
	CondResource   ConditionKind = "resource"
	CondTimeWindow ConditionKind = "time_window"
	CondPredicate  ConditionKind = "predicate"
)

// Condition narrows when a policy applies. Exactly the fields implied by
// Kind are consulted; the rest are ignored.
type Condition struct {
	Kind ConditionKind `json:"kind"`

	// CondPrincipal: the request principal must equal PrincipalID.
	PrincipalID string `json:"principal_id,omitempty"`

	// CondResource: the request resource must equal ResourceID.
	ResourceID string `json:"resource_id,omitempty"`

	// CondTimeWindow: evaluation time must fall in [NotBefore, NotAfter).
	NotBefore time.Time `json:"not_before,omitempty"`
	NotAfter  time.Time `json:"not_after,omitempty"`

	// CondPredicate: the named registered predicate must report true.
	Predicate string `json:"predicate,omitempty"`
}

// Policy is an organization-scoped allow or deny rule. All conditions must
// hold for the policy to apply.
type Policy struct {
	ID         string      `json:"id"`
	Org        string      `json:"org"`
	Pattern    string      `json:"pattern"`
	Effect     Effect      `json:"effect"`
	Conditions []Condition `json:"conditions,omitempty"`
}

// Validate rejects policies that could never evaluate correctly.
func (p Policy) Validate() error {
	if p.ID == "" {
		return errors.New("policy id required")
	}
	if p.Pattern == "" {
		return errors.New("policy pattern required")
	}
	if p.Effect != EffectAllow && p.Effect != EffectDeny {
		return fmt.Errorf("unknown policy effect %q", p.Effect)
	}
	for _, c := range p.Conditions {
		switch c.Kind {
		case CondPrincipal:
			if c.PrincipalID == "" {
				return errors.New("principal condition requires a principal id")
			}
		case CondResource:
			if c.ResourceID == "" {
				return errors.New("resource condition requires a resource id")
			}
		case CondTimeWindow:
			if !c.NotAfter.After(c.NotBefore) {
				return errors.New("time window must be non-empty")
			}
		case CondPredicate:
			if c.Predicate == "" {
				return errors.New("predicate condition requires a name")
			}
		default:
			return fmt.Errorf("unknown condition kind %q", c.Kind)
		}
	}
	return nil
}
