package authcore

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	resetKeyPrefix       = "reset"
	resetRecordVersionV1 = 1
)

var (
	errResetNotFound         = errors.New("reset record not found")
	errResetSecretMismatch   = errors.New("reset secret mismatch")
	errResetAttemptsExceeded = errors.New("reset attempts exceeded")
	errResetRedisUnavailable = errors.New("reset redis unavailable")
)

type passwordResetRecord struct {
	PrincipalID string
	SecretHash  [32]byte
	ExpiresAt   int64
	Attempts    uint16
}

// passwordResetStore holds pending reset challenges in Redis. Only the
// SHA-256 of the secret half of the token is stored; the challenge is
// single-use and consumed under WATCH so concurrent confirmations cannot
// both succeed or skip the attempt counter.
type passwordResetStore struct {
	redis redis.UniversalClient
}

func newPasswordResetStore(redisClient redis.UniversalClient) *passwordResetStore {
	return &passwordResetStore{redis: redisClient}
}

func (s *passwordResetStore) key(resetID string) string {
	return resetKeyPrefix + ":" + resetID
}

func (s *passwordResetStore) Save(ctx context.Context, resetID string, record *passwordResetRecord, ttl time.Duration) error {
	encoded, err := encodePasswordResetRecord(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(resetID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errResetRedisUnavailable, err)
	}
	return nil
}

// Consume validates the provided secret hash against the stored challenge.
// A match deletes the record and returns it; a mismatch burns one attempt,
// deleting the record when the cap is reached.
func (s *passwordResetStore) Consume(ctx context.Context, resetID string, providedHash [32]byte, maxAttempts int) (*passwordResetRecord, error) {
	const maxRetries = 4
	key := s.key(resetID)

	for i := 0; i < maxRetries; i++ {
		var matched *passwordResetRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodePasswordResetRecord(data)
			if err != nil {
				return err
			}

			if time.Now().Unix() > record.ExpiresAt {
				return deleteThen(ctx, tx, key, errResetNotFound)
			}

			if subtle.ConstantTimeCompare(record.SecretHash[:], providedHash[:]) != 1 {
				record.Attempts++
				if int(record.Attempts) >= maxAttempts {
					return deleteThen(ctx, tx, key, errResetAttemptsExceeded)
				}

				ttl := time.Until(time.Unix(record.ExpiresAt, 0))
				if ttl <= 0 {
					return deleteThen(ctx, tx, key, errResetNotFound)
				}

				updated, err := encodePasswordResetRecord(record)
				if err != nil {
					return err
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, updated, ttl)
					return nil
				})
				if err != nil {
					return err
				}
				return errResetSecretMismatch
			}

			if err := deleteThen(ctx, tx, key, nil); err != nil {
				return err
			}
			matched = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil), errors.Is(err, errResetNotFound),
				errors.Is(err, errResetSecretMismatch), errors.Is(err, errResetAttemptsExceeded):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", errResetRedisUnavailable, err)
			}
		}
		return matched, nil
	}

	return nil, errResetNotFound
}

func deleteThen(ctx context.Context, tx *redis.Tx, key string, result error) error {
	_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return err
	}
	return result
}

func encodePasswordResetRecord(record *passwordResetRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(resetRecordVersionV1)
	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.PrincipalID) > 65535 {
		return nil, errors.New("reset record principal id too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.PrincipalID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.PrincipalID)
	buf.Write(record.SecretHash[:])

	return buf.Bytes(), nil
}

func decodePasswordResetRecord(data []byte) (*passwordResetRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != resetRecordVersionV1 {
		return nil, errors.New("invalid reset record version")
	}

	record := &passwordResetRecord{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var idLen uint16
	if err := binary.Read(reader, binary.BigEndian, &idLen); err != nil {
		return nil, err
	}
	principalID := make([]byte, idLen)
	if _, err := io.ReadFull(reader, principalID); err != nil {
		return nil, err
	}
	record.PrincipalID = string(principalID)

	if _, err := io.ReadFull(reader, record.SecretHash[:]); err != nil {
		return nil, err
	}
	return record, nil
}
