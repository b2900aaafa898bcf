package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-dispatcher/internal/storage/cache"
	"github.com/tinywideclouds/go-push-dispatcher/pkg/push"
)

// --- Mocks ---
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key string, dest interface{}) error {
	args := m.Called(ctx, key, dest)
	return args.Error(0)
}
func (m *MockCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}
func (m *MockCache) Del(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}
func (m *MockCache) Exists(ctx context.Context, keys ...string) ([]bool, error) {
	args := m.Called(ctx, keys)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]bool), args.Error(1)
}

type MockRealStore struct {
	mock.Mock
}

func (m *MockRealStore) Credential(ctx context.Context, variantID string) (*push.Credential, error) {
	args := m.Called(ctx, variantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*push.Credential), args.Error(1)
}
func (m *MockRealStore) PutCredential(ctx context.Context, cred *push.Credential) error {
	return m.Called(ctx, cred).Error(0)
}
func (m *MockRealStore) DeleteCredential(ctx context.Context, variantID string) error {
	return m.Called(ctx, variantID).Error(0)
}

var errMiss = errors.New("redis: nil")

func TestCachedCredentialStore(t *testing.T) {
	ctx := context.Background()
	cacheKey := "push:variant:variant-1"
	cred := &push.Credential{VariantID: "variant-1", Platform: push.PlatformIOS, Certificate: []byte("cert")}

	t.Run("Miss falls back and populates", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedCredentialStore(mockDB, mockCache, time.Hour)

		mockCache.On("Get", ctx, cacheKey, mock.Anything).Return(errMiss)
		mockDB.On("Credential", ctx, "variant-1").Return(cred, nil)
		mockCache.On("Set", ctx, cacheKey, cred, time.Hour).Return(nil)

		got, err := store.Credential(ctx, "variant-1")

		require.NoError(t, err)
		assert.Same(t, cred, got)
		mockDB.AssertExpectations(t)
		mockCache.AssertExpectations(t)
	})

	t.Run("Hit skips the store", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedCredentialStore(mockDB, mockCache, time.Hour)

		mockCache.On("Get", ctx, cacheKey, mock.Anything).Run(func(args mock.Arguments) {
			*args.Get(2).(*push.Credential) = *cred
		}).Return(nil)

		got, err := store.Credential(ctx, "variant-1")

		require.NoError(t, err)
		assert.Equal(t, cred, got)
		mockDB.AssertNotCalled(t, "Credential", mock.Anything, mock.Anything)
	})

	t.Run("Cache write failure is ignored", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedCredentialStore(mockDB, mockCache, time.Hour)

		mockCache.On("Get", ctx, cacheKey, mock.Anything).Return(errMiss)
		mockDB.On("Credential", ctx, "variant-1").Return(cred, nil)
		mockCache.On("Set", ctx, cacheKey, cred, time.Hour).Return(errors.New("redis down"))

		got, err := store.Credential(ctx, "variant-1")

		require.NoError(t, err)
		assert.Same(t, cred, got)
	})

	t.Run("Not found is passed through", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedCredentialStore(mockDB, mockCache, time.Hour)

		mockCache.On("Get", ctx, "push:variant:missing", mock.Anything).Return(errMiss)
		mockDB.On("Credential", ctx, "missing").Return(nil, push.ErrCredentialNotFound)

		_, err := store.Credential(ctx, "missing")

		assert.ErrorIs(t, err, push.ErrCredentialNotFound)
		mockCache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Delete invalidates cache immediately", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedCredentialStore(mockDB, mockCache, time.Hour)

		mockDB.On("DeleteCredential", ctx, "variant-1").Return(nil)
		mockCache.On("Del", ctx, cacheKey).Return(nil)

		require.NoError(t, store.DeleteCredential(ctx, "variant-1"))
		mockDB.AssertExpectations(t)
		mockCache.AssertExpectations(t)
	})

	t.Run("Failed put leaves cache alone", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedCredentialStore(mockDB, mockCache, time.Hour)

		mockDB.On("PutCredential", ctx, cred).Return(errors.New("firestore unavailable"))

		require.Error(t, store.PutCredential(ctx, cred))
		mockCache.AssertNotCalled(t, "Del", mock.Anything, mock.Anything)
	})
}

func TestTokenSuppressor(t *testing.T) {
	ctx := context.Background()

	t.Run("Suppress then filter", func(t *testing.T) {
		mockCache := new(MockCache)
		suppressor := cache.NewTokenSuppressor(mockCache, 24*time.Hour)

		var suppressedKey string
		mockCache.On("Set", ctx, mock.AnythingOfType("string"), mock.Anything, 24*time.Hour).Run(func(args mock.Arguments) {
			suppressedKey = args.String(1)
		}).Return(nil)
		require.NoError(t, suppressor.Suppress(ctx, "variant-1", "bad"))
		assert.Contains(t, suppressedKey, "push:invalid:variant-1:")

		mockCache.On("Exists", ctx, mock.MatchedBy(func(keys []string) bool {
			return len(keys) == 3 && keys[1] == suppressedKey
		})).Return([]bool{false, true, false}, nil)

		kept, err := suppressor.Filter(ctx, "variant-1", []string{"good", "bad", "other"})

		require.NoError(t, err)
		assert.Equal(t, []string{"good", "other"}, kept)
	})

	t.Run("Cache error keeps every token", func(t *testing.T) {
		mockCache := new(MockCache)
		suppressor := cache.NewTokenSuppressor(mockCache, time.Hour)
		mockCache.On("Exists", ctx, mock.Anything).Return(nil, errors.New("redis down"))

		tokens := []string{"a", "b"}
		kept, err := suppressor.Filter(ctx, "variant-1", tokens)

		require.Error(t, err)
		assert.Equal(t, tokens, kept)
	})

	t.Run("No tokens, no round trip", func(t *testing.T) {
		mockCache := new(MockCache)
		suppressor := cache.NewTokenSuppressor(mockCache, time.Hour)

		kept, err := suppressor.Filter(ctx, "variant-1", nil)

		require.NoError(t, err)
		assert.Empty(t, kept)
		mockCache.AssertNotCalled(t, "Exists", mock.Anything, mock.Anything)
	})
}
