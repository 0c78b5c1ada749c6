package session

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const ttlSessionKey = 24 * time.Hour

// KeyStore mirrors verified session keys into Redis so other processes
// can check which wallet a key was bound to. Purely an audit surface;
// the Registry stays authoritative for live sessions.
type KeyStore struct{ rdb *redis.Client }

func NewKeyStore(rdb *redis.Client) *KeyStore { return &KeyStore{rdb: rdb} }

func (s *KeyStore) key(token string) string { return "session:key:" + strings.TrimSpace(token) }

func (s *KeyStore) SaveVerified(ctx context.Context, token, address string) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Set(ctx, s.key(token), address, ttlSessionKey).Err()
}

// VerifiedAddress returns the address a session key was verified for, or
// "" when the key is unknown or expired.
func (s *KeyStore) VerifiedAddress(ctx context.Context, token string) (string, error) {
	if s == nil || s.rdb == nil {
		return "", nil
	}
	addr, err := s.rdb.Get(ctx, s.key(token)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return addr, nil
}
