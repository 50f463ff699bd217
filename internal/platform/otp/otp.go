// Package otp issues and checks short-lived one-time verification codes used
// by the provider verification flow. Codes are held in Redis with a TTL so
// they expire on their own and are shared across server instances.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCodeMismatch is returned when the presented code is wrong or expired.
var ErrCodeMismatch = errors.New("otp: code mismatch or expired")

// Store issues and verifies one-time codes keyed by recipient.
type Store interface {
	Issue(ctx context.Context, recipient string) (string, error)
	Verify(ctx context.Context, recipient, code string) error
}

const codeDigits = 6

// generateCode returns a random zero-padded numeric code.
func generateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < codeDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("otp: generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", codeDigits, n), nil
}

// RedisStore keeps codes in Redis under "otp:<recipient>" with a TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to Redis via URL and verifies the connection.
func NewRedisStore(ctx context.Context, url string, ttl time.Duration) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("otp: parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("otp: ping redis: %w", err)
	}

	return &RedisStore{client: client, ttl: ttl}, nil
}

// Close releases the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func key(recipient string) string {
	return "otp:" + recipient
}

// Issue stores a fresh code for the recipient, replacing any outstanding one.
func (s *RedisStore) Issue(ctx context.Context, recipient string) (string, error) {
	code, err := generateCode()
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, key(recipient), code, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("otp: store code: %w", err)
	}
	return code, nil
}

// Verify consumes the outstanding code for the recipient. A matching code is
// deleted so it cannot be replayed; a wrong guess leaves it in place until the
// TTL runs out.
func (s *RedisStore) Verify(ctx context.Context, recipient, code string) error {
	stored, err := s.client.Get(ctx, key(recipient)).Result()
	if err == redis.Nil {
		return ErrCodeMismatch
	}
	if err != nil {
		return fmt.Errorf("otp: read code: %w", err)
	}
	if stored != code {
		return ErrCodeMismatch
	}
	if err := s.client.Del(ctx, key(recipient)).Err(); err != nil {
		return fmt.Errorf("otp: consume code: %w", err)
	}
	return nil
}
