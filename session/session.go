// Package session owns refresh-token-family lifecycle: creation on login,
// atomic generation rotation on refresh, and revocation on logout, reuse
// detection, or incident response.
//
// Family-based rotation turns refresh-token theft from a silent, permanent
// compromise into a detectable, bounded-window incident: exactly one refresh
// token is valid per family (the current generation), and the first replay of
// a past generation revokes the family for attacker and victim alike.
package session

import (
	"errors"
	"time"
)

var (
	// ErrFamilyNotFound is returned when the family id does not exist or
	// has expired out of the store.
	ErrFamilyNotFound = errors.New("session family not found")
	// ErrFamilyRevoked is returned when the family was terminated by
	// logout, reuse detection, or admin action.
	ErrFamilyRevoked = errors.New("session family revoked")
	// ErrReuseDetected is returned when a past-generation token is
	// presented. The family is already revoked when this surfaces.
	ErrReuseDetected = errors.New("refresh token reuse detected")
	// ErrConcurrentRotation is returned to the loser of two simultaneous
	// refresh calls. The family is unaffected; the caller may retry once.
	ErrConcurrentRotation = errors.New("concurrent refresh lost rotation race")
	// ErrStoreUnavailable wraps Redis transport failures.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// Session is one refresh-token family plus its device metadata. Families and
// sessions are one-to-one: the family id is the session id presented in
// access-token claims.
type Session struct {
	FamilyID     string
	PrincipalID  string
	Org          string
	Generation   uint64
	Revoked      bool
	Device       string
	IP           string
	CreatedAt    int64
	LastActiveAt int64
	RotatedAt    int64
	RevokedAt    int64
}

// CreatedTime is CreatedAt as time.Time.
func (s Session) CreatedTime() time.Time { return time.Unix(s.CreatedAt, 0) }

// LastActiveTime is LastActiveAt as time.Time.
func (s Session) LastActiveTime() time.Time { return time.Unix(s.LastActiveAt, 0) }
