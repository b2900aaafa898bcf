package pool

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-dispatcher/pkg/push"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTransport struct {
	closed atomic.Bool
}

func (f *fakeTransport) Send(_ context.Context, _ string, _ push.Payload) (SendResult, error) {
	return SendResult{Accepted: true}, nil
}

func (f *fakeTransport) Close() error {
	f.closed.Store(true)
	return nil
}

// fakeConnector counts attempts and tracks how many run at the same time.
type fakeConnector struct {
	mu         sync.Mutex
	attempts   int
	inProgress int
	maxSeen    int
	release    chan struct{}
	fail       error
	transports []*fakeTransport
}

func (f *fakeConnector) Connect(ctx context.Context, _ *push.Credential, _ push.Environment) (Transport, error) {
	f.mu.Lock()
	f.attempts++
	f.inProgress++
	if f.inProgress > f.maxSeen {
		f.maxSeen = f.inProgress
	}
	f.mu.Unlock()

	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inProgress--
	if f.fail != nil {
		return nil, f.fail
	}
	t := &fakeTransport{}
	f.transports = append(f.transports, t)
	return t, nil
}

func (f *fakeConnector) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

var iosCred = &push.Credential{VariantID: "variant-1", Platform: push.PlatformIOS}

func newTestPool(c Connector) *Pool {
	return New(map[push.Platform]Connector{push.PlatformIOS: c}, Config{MaxInFlight: 2, IdleTimeout: time.Minute}, newTestLogger())
}

func TestAcquire_ReusesClient(t *testing.T) {
	connector := &fakeConnector{}
	p := newTestPool(connector)
	ctx := context.Background()

	first, err := p.Acquire(ctx, iosCred, push.EnvironmentDevelopment)
	require.NoError(t, err)
	second, err := p.Acquire(ctx, iosCred, push.EnvironmentDevelopment)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, StateConnected, first.State())
	assert.Equal(t, 1, connector.Attempts())

	t.Run("Environment is part of the key", func(t *testing.T) {
		prod, err := p.Acquire(ctx, iosCred, push.EnvironmentProduction)
		require.NoError(t, err)
		assert.NotSame(t, first, prod)
		assert.Equal(t, 2, connector.Attempts())
		assert.Equal(t, 2, p.Len())
	})
}

func TestAcquire_ConcurrentSingleAttempt(t *testing.T) {
	connector := &fakeConnector{release: make(chan struct{})}
	p := newTestPool(connector)
	ctx := context.Background()

	const callers = 16
	var wg sync.WaitGroup
	clients := make([]*Client, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			clients[i], errs[i] = p.Acquire(ctx, iosCred, push.EnvironmentDevelopment)
		}(i)
	}

	require.Eventually(t, func() bool { return connector.Attempts() == 1 }, time.Second, 5*time.Millisecond)
	close(connector.release)
	wg.Wait()

	assert.Equal(t, 1, connector.Attempts())
	assert.Equal(t, 1, connector.maxSeen)
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, clients[0], clients[i])
	}
}

func TestAcquire_FailureIsForgotten(t *testing.T) {
	connector := &fakeConnector{fail: errors.New("handshake failure")}
	p := newTestPool(connector)
	ctx := context.Background()

	_, err := p.Acquire(ctx, iosCred, push.EnvironmentDevelopment)
	require.Error(t, err)
	assert.ErrorIs(t, err, push.ErrConnection)

	var connErr *push.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "variant-1", connErr.VariantID)
	assert.Equal(t, 0, p.Len())

	// Next acquisition retries from scratch.
	connector.mu.Lock()
	connector.fail = nil
	connector.mu.Unlock()

	c, err := p.Acquire(ctx, iosCred, push.EnvironmentDevelopment)
	require.NoError(t, err)
	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, 2, connector.Attempts())
}

func TestAcquire_WaiterContextCancelled(t *testing.T) {
	connector := &fakeConnector{release: make(chan struct{})}
	p := newTestPool(connector)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Acquire(ctx, iosCred, push.EnvironmentDevelopment)
	assert.ErrorIs(t, err, push.ErrConnection)
	assert.ErrorIs(t, err, context.Canceled)

	// The abandoned attempt still completes and is shared with the next caller.
	close(connector.release)
	c, err := p.Acquire(context.Background(), iosCred, push.EnvironmentDevelopment)
	require.NoError(t, err)
	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, 1, connector.Attempts())
}

func TestAcquire_UnsupportedPlatform(t *testing.T) {
	p := newTestPool(&fakeConnector{})
	_, err := p.Acquire(context.Background(), &push.Credential{VariantID: "w", Platform: push.PlatformWeb}, push.EnvironmentDevelopment)
	assert.ErrorIs(t, err, push.ErrUnsupportedPlatform)
}

func TestInvalidate(t *testing.T) {
	connector := &fakeConnector{}
	p := newTestPool(connector)
	ctx := context.Background()

	c, err := p.Acquire(ctx, iosCred, push.EnvironmentDevelopment)
	require.NoError(t, err)

	p.Invalidate(c)

	assert.Equal(t, StateFailed, c.State())
	assert.True(t, connector.transports[0].closed.Load())
	assert.Equal(t, 0, p.Len())

	_, err = c.Send(ctx, "token", push.NewPayload([]byte("{}")))
	assert.ErrorIs(t, err, push.ErrClientFailed)

	fresh, err := p.Acquire(ctx, iosCred, push.EnvironmentDevelopment)
	require.NoError(t, err)
	assert.NotSame(t, c, fresh)
}

func TestEvictIdle(t *testing.T) {
	connector := &fakeConnector{}
	p := newTestPool(connector)
	now := time.Now()
	p.now = func() time.Time { return now }

	c, err := p.Acquire(context.Background(), iosCred, push.EnvironmentDevelopment)
	require.NoError(t, err)

	assert.Equal(t, 0, p.EvictIdle())

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, p.EvictIdle())
	assert.Equal(t, StateDisconnected, c.State())
	assert.True(t, connector.transports[0].closed.Load())
	assert.Equal(t, 0, p.Len())
}

func TestEvictVariant(t *testing.T) {
	connector := &fakeConnector{}
	p := newTestPool(connector)
	ctx := context.Background()

	dev, err := p.Acquire(ctx, iosCred, push.EnvironmentDevelopment)
	require.NoError(t, err)
	prod, err := p.Acquire(ctx, iosCred, push.EnvironmentProduction)
	require.NoError(t, err)
	other, err := p.Acquire(ctx, &push.Credential{VariantID: "variant-2", Platform: push.PlatformIOS}, push.EnvironmentDevelopment)
	require.NoError(t, err)

	assert.Equal(t, 2, p.EvictVariant("variant-1"))
	assert.Equal(t, StateDisconnected, dev.State())
	assert.Equal(t, StateDisconnected, prod.State())
	assert.Equal(t, StateConnected, other.State())
	assert.Equal(t, 1, p.Len())
	assert.Equal(t, 0, p.EvictVariant("unknown"))
}

func TestEvictVariant_DuringConnect(t *testing.T) {
	connector := &fakeConnector{release: make(chan struct{})}
	p := newTestPool(connector)
	ctx := context.Background()

	var staleErr error
	staleDone := make(chan struct{})
	go func() {
		defer close(staleDone)
		_, staleErr = p.Acquire(ctx, iosCred, push.EnvironmentDevelopment)
	}()
	require.Eventually(t, func() bool { return connector.Attempts() == 1 }, time.Second, 5*time.Millisecond)

	p.EvictVariant("variant-1")

	var fresh *Client
	var freshErr error
	freshDone := make(chan struct{})
	go func() {
		defer close(freshDone)
		fresh, freshErr = p.Acquire(ctx, iosCred, push.EnvironmentDevelopment)
	}()
	// The second caller starts its own attempt rather than joining the evicted one.
	require.Eventually(t, func() bool { return connector.Attempts() == 2 }, time.Second, 5*time.Millisecond)

	close(connector.release)
	<-staleDone
	<-freshDone

	assert.ErrorIs(t, staleErr, push.ErrConnection)
	require.NoError(t, freshErr)
	assert.Equal(t, StateConnected, fresh.State())
	assert.Equal(t, 1, p.Len())
}

func TestClient_ReserveBoundsInFlight(t *testing.T) {
	p := newTestPool(&fakeConnector{})
	c, err := p.Acquire(context.Background(), iosCred, push.EnvironmentDevelopment)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Reserve(ctx))
	require.NoError(t, c.Reserve(ctx))

	blocked, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Reserve(blocked), context.DeadlineExceeded)

	c.Release()
	require.NoError(t, c.Reserve(ctx))
}

func TestClose(t *testing.T) {
	connector := &fakeConnector{}
	p := newTestPool(connector)
	c, err := p.Acquire(context.Background(), iosCred, push.EnvironmentDevelopment)
	require.NoError(t, err)

	require.NoError(t, p.Close())
	assert.Equal(t, StateDisconnected, c.State())
	assert.True(t, connector.transports[0].closed.Load())
	assert.Equal(t, 0, p.Len())
}
