// Package cache holds the Redis-backed pieces of the dispatcher: the
// invalid-token suppression list and a read-aside credential cache.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or a specific error if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
	// Exists reports presence for each key, in order.
	Exists(ctx context.Context, keys ...string) ([]bool, error)
}

// TokenSuppressor remembers tokens a transport reported as permanently
// invalid, so requests that arrive before the owner removes them skip the
// send. Entries expire after ttl.
type TokenSuppressor struct {
	cache CacheClient
	ttl   time.Duration
}

func NewTokenSuppressor(cache CacheClient, ttl time.Duration) *TokenSuppressor {
	return &TokenSuppressor{cache: cache, ttl: ttl}
}

func (s *TokenSuppressor) Suppress(ctx context.Context, variantID, token string) error {
	return s.cache.Set(ctx, s.key(variantID, token), time.Now().UTC(), s.ttl)
}

// Filter returns tokens that are not suppressed, in their original order.
// On a cache error the input is returned unchanged with the error.
func (s *TokenSuppressor) Filter(ctx context.Context, variantID string, tokens []string) ([]string, error) {
	if len(tokens) == 0 {
		return tokens, nil
	}
	keys := make([]string, len(tokens))
	for i, t := range tokens {
		keys[i] = s.key(variantID, t)
	}
	found, err := s.cache.Exists(ctx, keys...)
	if err != nil {
		return tokens, err
	}

	kept := make([]string, 0, len(tokens))
	for i, t := range tokens {
		if i < len(found) && found[i] {
			continue
		}
		kept = append(kept, t)
	}
	return kept, nil
}

// Tokens can be whole web push subscriptions; hash them into the key.
func (s *TokenSuppressor) key(variantID, token string) string {
	sum := sha256.Sum256([]byte(token))
	return fmt.Sprintf("push:invalid:%s:%s", variantID, hex.EncodeToString(sum[:]))
}
