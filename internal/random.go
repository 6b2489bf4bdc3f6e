package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	resetSecretSize   = 32
	resetIDSize       = 16
	resetTokenRawSize = resetIDSize + resetSecretSize
)

// ResetID identifies a pending password-reset challenge.
type ResetID [resetIDSize]byte

func NewResetID() (ResetID, error) {
	var rid ResetID
	_, err := rand.Read(rid[:])
	return rid, err
}

func (r ResetID) String() string {
	return base64.RawURLEncoding.EncodeToString(r[:])
}

func ParseResetID(s string) (ResetID, error) {
	var rid ResetID

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return rid, err
	}
	if len(raw) != len(rid) {
		return rid, errors.New("invalid reset id size")
	}

	copy(rid[:], raw)
	return rid, nil
}

func NewResetSecret() ([resetSecretSize]byte, error) {
	var secret [resetSecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

func HashSecret(secret [resetSecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// EncodeResetToken packs the reset id and secret into a single opaque
// base64url token handed to the out-of-band delivery channel.
func EncodeResetToken(resetID ResetID, secret [resetSecretSize]byte) string {
	var raw [resetTokenRawSize]byte
	copy(raw[:resetIDSize], resetID[:])
	copy(raw[resetIDSize:], secret[:])

	return base64.RawURLEncoding.EncodeToString(raw[:])
}

func DecodeResetToken(token string) (ResetID, [resetSecretSize]byte, error) {
	var (
		rid    ResetID
		secret [resetSecretSize]byte
	)

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return rid, secret, err
	}
	if len(raw) != resetTokenRawSize {
		return rid, secret, errors.New("invalid reset token size")
	}

	copy(rid[:], raw[:resetIDSize])
	copy(secret[:], raw[resetIDSize:])
	return rid, secret, nil
}

// NewAuditID returns a lexically sortable entry identifier. ULIDs keep audit
// storage naturally ordered by creation time without leaking a counter.
func NewAuditID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}
