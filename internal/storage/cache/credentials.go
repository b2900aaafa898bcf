package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/tinywideclouds/go-push-dispatcher/pkg/push"
)

// CachedCredentialStore is a Decorator that adds Read-Aside caching to any
// CredentialRegistry.
type CachedCredentialStore struct {
	realStore push.CredentialRegistry
	cache     CacheClient
	ttl       time.Duration
}

func NewCachedCredentialStore(realStore push.CredentialRegistry, cache CacheClient, ttl time.Duration) *CachedCredentialStore {
	return &CachedCredentialStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedCredentialStore) Credential(ctx context.Context, variantID string) (*push.Credential, error) {
	key := s.cacheKey(variantID)

	var cached push.Credential
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	fresh, err := s.realStore.Credential(ctx, variantID)
	if err != nil {
		return nil, err
	}

	// Caching is an optimization; if Redis is down we serve from the store.
	_ = s.cache.Set(ctx, key, fresh, s.ttl)
	return fresh, nil
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedCredentialStore) PutCredential(ctx context.Context, cred *push.Credential) error {
	if err := s.realStore.PutCredential(ctx, cred); err != nil {
		return err
	}
	return s.invalidate(ctx, cred.VariantID)
}

// DeleteCredential clears the cache even when the store write succeeds so a
// removed variant stops sending immediately.
func (s *CachedCredentialStore) DeleteCredential(ctx context.Context, variantID string) error {
	if err := s.realStore.DeleteCredential(ctx, variantID); err != nil {
		return err
	}
	return s.invalidate(ctx, variantID)
}

func (s *CachedCredentialStore) invalidate(ctx context.Context, variantID string) error {
	return s.cache.Del(ctx, s.cacheKey(variantID))
}

func (s *CachedCredentialStore) cacheKey(variantID string) string {
	return fmt.Sprintf("push:variant:%s", variantID)
}
