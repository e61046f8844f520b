package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/phoneauth/server/internal/kv"
)

// Blacklist records revoked tokens until they would have expired anyway
type Blacklist struct {
	store kv.Store
}

func NewBlacklist(store kv.Store) *Blacklist {
	return &Blacklist{store: store}
}

func blacklistKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "token_blacklist:" + hex.EncodeToString(sum[:])
}

// Revoke blacklists token for ttl. Non-positive ttl is a no-op.
func (b *Blacklist) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := b.store.Set(ctx, blacklistKey(token), "1", ttl); err != nil {
		return fmt.Errorf("blacklist token: %w", err)
	}
	return nil
}

// IsRevoked reports whether token was blacklisted
func (b *Blacklist) IsRevoked(ctx context.Context, token string) (bool, error) {
	_, ok, err := b.store.Get(ctx, blacklistKey(token))
	if err != nil {
		return false, fmt.Errorf("check blacklist: %w", err)
	}
	return ok, nil
}
