package password

import (
	"errors"
	"unicode"
)

// Policy is the strength contract enforced before hashing. Thresholds are
// configuration; the zero value accepts nothing, use DefaultPolicy.
type Policy struct {
	MinLength      int
	RequireClasses int // distinct character classes out of {lower, upper, digit, symbol}
	MaxLength      int // guards against argon2 DoS via megabyte passwords
}

// DefaultPolicy requires 10+ characters drawn from at least two classes.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:      10,
		RequireClasses: 2,
		MaxLength:      512,
	}
}

// ErrTooWeak is returned by Policy.Check for any rejected plaintext.
var ErrTooWeak = errors.New("password does not meet strength policy")

// Check validates the plaintext against the policy. The error never reveals
// which rule failed; callers surface it uniformly.
func (p Policy) Check(plaintext string) error {
	if len(plaintext) < p.MinLength {
		return ErrTooWeak
	}
	if p.MaxLength > 0 && len(plaintext) > p.MaxLength {
		return ErrTooWeak
	}

	var lower, upper, digit, symbol bool
	for _, r := range plaintext {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}

	classes := 0
	for _, present := range []bool{lower, upper, digit, symbol} {
		if present {
			classes++
		}
	}
	if classes < p.RequireClasses {
		return ErrTooWeak
	}
	return nil
}
