package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	otpRecordVersion1 = 1
)

var (
	// ErrChallengeNotFound means no live challenge matches the reference or
	// email (absent, expired, superseded, or consumed).
	ErrChallengeNotFound = errors.New("otp challenge not found")
	// ErrChallengeBackend wraps fast-store connectivity failures.
	ErrChallengeBackend = errors.New("otp challenge backend unavailable")
)

// Outcome is the result of a validation attempt against a live challenge.
type Outcome uint8

const (
	// OutcomeMatch: code matched, challenge consumed.
	OutcomeMatch Outcome = iota
	// OutcomeMismatch: code wrong, attempt counted, challenge still live.
	OutcomeMismatch
	// OutcomeExceeded: code wrong and the budget is gone, challenge removed.
	OutcomeExceeded
)

// Challenge is one OTP session. ExpiresAt and CreatedAt are Unix seconds.
type Challenge struct {
	Reference string
	Email     string
	Code      string
	Attempts  uint16
	CreatedAt int64
	ExpiresAt int64
}

// SessionStore is the port the engine validates OTP codes through. Both the
// Redis store and the durable fallback implement it; the dual store selects
// between them.
type SessionStore interface {
	Create(ctx context.Context, ch *Challenge) error
	ResolveEmail(ctx context.Context, reference string) (string, error)
	Validate(ctx context.Context, reference, code string, maxAttempts int) (Outcome, string, error)
	HasActive(ctx context.Context, email string) (bool, error)
	Invalidate(ctx context.Context, email string) error
}

// RedisStore is the primary, fast-store implementation.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore creates the primary OTP store with the given key prefix.
func NewRedisStore(redisClient redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "otp"
	}
	return &RedisStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *RedisStore) emailKey(email string) string {
	return s.prefix + ":email:" + email
}

func (s *RedisStore) refKey(reference string) string {
	return s.prefix + ":ref:" + reference
}

// Create writes the challenge under its email key and the reference mapping,
// both with TTL until ExpiresAt. Any prior challenge for the email is
// overwritten and its reference mapping removed.
func (s *RedisStore) Create(ctx context.Context, ch *Challenge) error {
	ttl := time.Until(time.Unix(ch.ExpiresAt, 0))
	if ttl <= 0 {
		return errors.New("otp challenge already expired")
	}

	encoded, err := encodeChallenge(ch)
	if err != nil {
		return err
	}

	// Best-effort removal of the superseded reference mapping. The email
	// record is authoritative, so a leftover mapping is harmless.
	var staleRef string
	if data, err := s.redis.Get(ctx, s.emailKey(ch.Email)).Bytes(); err == nil {
		if old, err := decodeChallenge(data); err == nil {
			staleRef = old.Reference
		}
	} else if err != redis.Nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, s.emailKey(ch.Email), encoded, ttl)
	pipe.Set(ctx, s.refKey(ch.Reference), ch.Email, ttl)
	if staleRef != "" && staleRef != ch.Reference {
		pipe.Del(ctx, s.refKey(staleRef))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return nil
}

// ResolveEmail maps a reference back to its email, confirming against the
// authoritative email record so superseded references resolve to nothing.
func (s *RedisStore) ResolveEmail(ctx context.Context, reference string) (string, error) {
	email, err := s.redis.Get(ctx, s.refKey(reference)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrChallengeNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}

	record, err := s.get(ctx, email)
	if err != nil {
		return "", err
	}
	if record.Reference != reference {
		return "", ErrChallengeNotFound
	}
	return email, nil
}

// Validate atomically compares the code against the live challenge for the
// reference: delete on match, count the attempt on mismatch, delete once the
// budget is exhausted. Returns the challenge email alongside the outcome.
func (s *RedisStore) Validate(ctx context.Context, reference, code string, maxAttempts int) (Outcome, string, error) {
	email, err := s.redis.Get(ctx, s.refKey(reference)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, "", ErrChallengeNotFound
		}
		return 0, "", fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}

	const maxRetries = 4
	key := s.emailKey(email)

	for i := 0; i < maxRetries; i++ {
		var outcome Outcome
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeChallenge(data)
			if err != nil {
				return err
			}
			if record.Reference != reference {
				return ErrChallengeNotFound
			}
			if time.Now().Unix() > record.ExpiresAt {
				_, _ = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key, s.refKey(reference))
					return nil
				})
				return ErrChallengeNotFound
			}

			if record.Code == code {
				outcome = OutcomeMatch
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key, s.refKey(reference))
					return nil
				})
				return err
			}

			record.Attempts++
			if int(record.Attempts) >= maxAttempts {
				outcome = OutcomeExceeded
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key, s.refKey(reference))
					return nil
				})
				return err
			}

			ttl := time.Until(time.Unix(record.ExpiresAt, 0))
			if ttl <= 0 {
				_, _ = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key, s.refKey(reference))
					return nil
				})
				return ErrChallengeNotFound
			}

			updated, err := encodeChallenge(record)
			if err != nil {
				return err
			}
			outcome = OutcomeMismatch
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, ErrChallengeNotFound) {
				return 0, "", ErrChallengeNotFound
			}
			return 0, "", fmt.Errorf("%w: %v", ErrChallengeBackend, err)
		}
		return outcome, email, nil
	}

	return 0, "", ErrChallengeNotFound
}

// HasActive reports whether a live challenge exists for the email.
func (s *RedisStore) HasActive(ctx context.Context, email string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.emailKey(email)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return n > 0, nil
}

// Invalidate removes the live challenge for an email, if any.
func (s *RedisStore) Invalidate(ctx context.Context, email string) error {
	record, err := s.get(ctx, email)
	if err != nil {
		if errors.Is(err, ErrChallengeNotFound) {
			return nil
		}
		return err
	}

	if err := s.redis.Del(ctx, s.emailKey(email), s.refKey(record.Reference)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return nil
}

func (s *RedisStore) get(ctx context.Context, email string) (*Challenge, error) {
	data, err := s.redis.Get(ctx, s.emailKey(email)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return decodeChallenge(data)
}

func encodeChallenge(record *Challenge) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(otpRecordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	for _, field := range []string{record.Code, record.Email, record.Reference} {
		if len(field) > 65535 {
			return nil, errors.New("otp challenge field length exceeded")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}

	return buf.Bytes(), nil
}

func decodeChallenge(data []byte) (*Challenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != otpRecordVersion1 {
		return nil, errors.New("invalid otp challenge version")
	}

	record := &Challenge{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	for _, target := range []*string{&record.Code, &record.Email, &record.Reference} {
		var length uint16
		if err := binary.Read(reader, binary.BigEndian, &length); err != nil {
			return nil, err
		}
		raw := make([]byte, length)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, err
		}
		*target = string(raw)
	}

	return record, nil
}
