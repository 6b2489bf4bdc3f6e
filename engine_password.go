package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/mwhitlock/authcore/internal"
)

// ChangePassword verifies the current password, stores the new hash, and
// revokes every session and outstanding token for the principal. A changed
// credential must not leave old sessions trusted.
func (e *Engine) ChangePassword(ctx context.Context, principalID, current, next string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	p, err := e.principals.GetPrincipalByID(ctx, principalID)
	if err != nil {
		return err
	}

	ok, err := e.hasher.Verify(current, p.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		e.metricInc(MetricPasswordChangeInvalidOld)
		return ErrInvalidCredentials
	}
	if current == next {
		return ErrSamePassword
	}
	if err := e.config.PasswordPolicy.Check(next); err != nil {
		return err
	}

	hash, err := e.hasher.Hash(next)
	if err != nil {
		return err
	}
	if err := e.principals.UpdatePasswordHash(ctx, principalID, hash); err != nil {
		return err
	}

	if err := e.revokeEverything(ctx, principalID); err != nil {
		return err
	}

	e.metricInc(MetricPasswordChangeSuccess)
	return e.emitAudit(ctx, principalID, ActionPasswordChange, nil)
}

// BeginPasswordReset creates a reset challenge and returns the opaque token
// for out-of-band delivery. An unknown email returns a challenge-shaped
// result anyway so the endpoint cannot confirm account existence; the
// token it carries can never be consumed.
func (e *Engine) BeginPasswordReset(ctx context.Context, email string) (ResetChallenge, error) {
	if e == nil {
		return ResetChallenge{}, ErrEngineNotReady
	}

	resetID, err := internal.NewResetID()
	if err != nil {
		return ResetChallenge{}, err
	}
	secret, err := internal.NewResetSecret()
	if err != nil {
		return ResetChallenge{}, err
	}
	expiresAt := time.Now().Add(e.config.Reset.TTL)

	p, err := e.principals.GetPrincipalByEmail(ctx, email)
	if errors.Is(err, ErrPrincipalNotFound) {
		e.metricInc(MetricPasswordResetRequest)
		return ResetChallenge{
			Token:     internal.EncodeResetToken(resetID, secret),
			ExpiresAt: expiresAt,
		}, nil
	}
	if err != nil {
		return ResetChallenge{}, err
	}

	record := &passwordResetRecord{
		PrincipalID: p.ID,
		SecretHash:  internal.HashSecret(secret),
		ExpiresAt:   expiresAt.Unix(),
	}
	if err := e.resetStore.Save(ctx, resetID.String(), record, e.config.Reset.TTL); err != nil {
		return ResetChallenge{}, err
	}

	e.metricInc(MetricPasswordResetRequest)
	if err := e.emitAudit(ctx, p.ID, ActionPasswordResetBegin, nil); err != nil {
		return ResetChallenge{}, err
	}
	return ResetChallenge{
		Token:     internal.EncodeResetToken(resetID, secret),
		ExpiresAt: expiresAt,
	}, nil
}

// CompletePasswordReset consumes the challenge, stores the new hash, and
// revokes all sessions and tokens for the principal. Every failure mode of
// the token reads as ErrResetInvalid except a burned attempt budget.
func (e *Engine) CompletePasswordReset(ctx context.Context, resetToken, next string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	resetID, secret, err := internal.DecodeResetToken(resetToken)
	if err != nil {
		e.metricInc(MetricPasswordResetConfirmFailure)
		return ErrResetInvalid
	}
	if err := e.config.PasswordPolicy.Check(next); err != nil {
		return err
	}

	record, err := e.resetStore.Consume(ctx, resetID.String(), internal.HashSecret(secret), e.config.Reset.MaxAttempts)
	switch {
	case errors.Is(err, errResetAttemptsExceeded):
		e.metricInc(MetricPasswordResetConfirmFailure)
		return ErrResetAttemptsExceeded
	case errors.Is(err, errResetRedisUnavailable):
		return err
	case err != nil:
		e.metricInc(MetricPasswordResetConfirmFailure)
		return ErrResetInvalid
	}

	hash, err := e.hasher.Hash(next)
	if err != nil {
		return err
	}
	if err := e.principals.UpdatePasswordHash(ctx, record.PrincipalID, hash); err != nil {
		return err
	}

	if err := e.revokeEverything(ctx, record.PrincipalID); err != nil {
		return err
	}

	e.metricInc(MetricPasswordResetConfirmSuccess)
	return e.emitAudit(ctx, record.PrincipalID, ActionPasswordResetDone, nil)
}

func (e *Engine) revokeEverything(ctx context.Context, principalID string) error {
	if _, err := e.sessions.CloseAll(ctx, principalID); err != nil {
		return err
	}
	if err := e.tokens.RevokeAllForPrincipal(ctx, principalID); err != nil {
		return err
	}
	e.metricInc(MetricRevokeAll)
	return nil
}
