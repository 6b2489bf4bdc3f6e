package authcore

import "errors"

var (
	// ErrInvalidCredentials covers both unknown email and wrong password.
	// The same error for either keeps accounts from being enumerated.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmailExists is returned by Register when the email is taken.
	ErrEmailExists = errors.New("email already registered")
	// ErrPrincipalNotFound is returned by lookups outside the login path.
	ErrPrincipalNotFound = errors.New("principal not found")
	// ErrPrincipalSuspended is returned when a suspended principal
	// attempts to authenticate.
	ErrPrincipalSuspended = errors.New("principal suspended")
	// ErrPrincipalPending is returned when a pending principal attempts
	// to authenticate before activation.
	ErrPrincipalPending = errors.New("principal pending activation")
	// ErrOrganizationNotFound is returned by organization lookups.
	ErrOrganizationNotFound = errors.New("organization not found")
	// ErrMembershipNotFound is returned by membership lookups.
	ErrMembershipNotFound = errors.New("membership not found")
	// ErrConflict is returned when a unique constraint rejects a write.
	ErrConflict = errors.New("conflict")
	// ErrSamePassword rejects a password change to the current password.
	ErrSamePassword = errors.New("new password must differ from current password")
	// ErrResetInvalid covers unknown, expired, and mismatched password
	// reset tokens uniformly.
	ErrResetInvalid = errors.New("password reset token invalid")
	// ErrResetAttemptsExceeded is returned when a reset challenge burned
	// its attempt budget and was invalidated.
	ErrResetAttemptsExceeded = errors.New("password reset attempts exceeded")
	// ErrLoginThrottled is returned when a login is refused because the
	// email or source address exceeded the failure budget for the
	// current window. Credentials are not checked for throttled calls.
	ErrLoginThrottled = errors.New("too many failed login attempts")
	// ErrEngineNotReady is returned by calls on a nil or unbuilt engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrStoreUnavailable wraps storage transport failures.
	ErrStoreUnavailable = errors.New("backing store unavailable")
)
