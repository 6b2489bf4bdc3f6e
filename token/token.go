// Package token issues and verifies the three credential kinds of the
// platform: short-lived access tokens, long-lived rotating refresh tokens,
// and identity tokens carrying profile claims. All three are Ed25519-signed
// JWTs resolved through the keyset package by kid header.
//
// Principal-level revocation is an epoch counter, not a blacklist: verifying
// a token compares the epoch embedded at issue time against the principal's
// current epoch, one O(1) lookup regardless of how many tokens are
// outstanding.
package token

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Kind discriminates the three token types on the wire.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
	KindID      Kind = "id"
)

var (
	// ErrExpired is returned for structurally valid tokens past their exp.
	ErrExpired = errors.New("token expired")
	// ErrBadSignature is returned when signature verification fails.
	ErrBadSignature = errors.New("token signature invalid")
	// ErrKindMismatch is returned when a token of one kind is presented
	// where another is expected.
	ErrKindMismatch = errors.New("token kind mismatch")
	// ErrRevoked is returned when the principal's revocation epoch has
	// advanced past the token's issue epoch.
	ErrRevoked = errors.New("token revoked")
	// ErrMalformed covers tokens that do not parse at all.
	ErrMalformed = errors.New("token malformed")
)

// Claims is the signed claim set shared by all kinds. Unused fields are
// omitted per kind: fid/gen appear only on refresh tokens, email only on
// identity tokens.
type Claims struct {
	Kind       Kind   `json:"tkn"`
	UID        string `json:"uid"`
	Org        string `json:"org,omitempty"`
	SessionID  string `json:"sid,omitempty"`
	FamilyID   string `json:"fid,omitempty"`
	Generation uint64 `json:"gen,omitempty"`
	Epoch      uint64 `json:"rev,omitempty"`
	PermVer    uint64 `json:"pcv,omitempty"`
	Email      string `json:"email,omitempty"`
	jwt.RegisteredClaims
}
