package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

var ErrNonceNotFound = errors.New("nonce expired or unknown")

// NonceStore hands out single-use sign-in nonces.
type NonceStore interface {
	Issue(ctx context.Context, address common.Address) (string, error)
	Consume(ctx context.Context, address common.Address, nonce string) error
}

type RedisNonceStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisNonceStore(client *redis.Client, ttl time.Duration) *RedisNonceStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisNonceStore{client: client, ttl: ttl}
}

func nonceKey(address common.Address) string {
	return "auth:nonce:" + address.Hex()
}

// Issue replaces any outstanding nonce for address.
func (s *RedisNonceStore) Issue(ctx context.Context, address common.Address) (string, error) {
	nonce, err := newNonce()
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, nonceKey(address), nonce, s.ttl).Err(); err != nil {
		return "", err
	}
	return nonce, nil
}

// Consume deletes the outstanding nonce and fails unless it equals nonce.
func (s *RedisNonceStore) Consume(ctx context.Context, address common.Address, nonce string) error {
	stored, err := s.client.GetDel(ctx, nonceKey(address)).Result()
	if errors.Is(err, redis.Nil) {
		return ErrNonceNotFound
	}
	if err != nil {
		return err
	}
	if stored != nonce {
		return fmt.Errorf("%w: nonce mismatch", ErrNonceNotFound)
	}
	return nil
}

func newNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
