// Package pool owns the lifecycle of push transport connections: one client
// per (variant, environment), created lazily, shared across requests and
// evicted on failure or when idle.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tinywideclouds/go-push-dispatcher/pkg/push"
)

// Config tunes the pool. Zero values fall back to the defaults below.
type Config struct {
	// MaxInFlight bounds concurrent sends per client; excess sends queue FIFO.
	MaxInFlight    int64
	ConnectTimeout time.Duration
	IdleTimeout    time.Duration
}

const (
	DefaultMaxInFlight    = 100
	DefaultConnectTimeout = 15 * time.Second
	DefaultIdleTimeout    = 10 * time.Minute
)

// Pool is safe for concurrent use. Its client map is the only state shared
// between dispatch requests.
type Pool struct {
	connectors map[push.Platform]Connector
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	clients map[Key]*Client
	// group holds at most one connection attempt per key.
	group singleflight.Group
}

// New creates a pool that opens transports through the connector registered
// for each platform.
func New(connectors map[push.Platform]Connector, cfg Config, logger *slog.Logger) *Pool {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	return &Pool{
		connectors: connectors,
		cfg:        cfg,
		logger:     logger.With("component", "ClientPool"),
		now:        time.Now,
		clients:    make(map[Key]*Client),
	}
}

// Acquire returns the connected client for the credential and environment,
// connecting it first if needed. Concurrent callers for the same key wait on
// the same attempt. A failed attempt is forgotten immediately so the next
// call starts from scratch.
func (p *Pool) Acquire(ctx context.Context, cred *push.Credential, env push.Environment) (*Client, error) {
	if cred == nil {
		return nil, fmt.Errorf("%w: nil credential", push.ErrInvalidRequest)
	}
	key := Key{VariantID: cred.VariantID, Environment: env}

	if c := p.connected(key); c != nil {
		return c, nil
	}

	connector, ok := p.connectors[cred.Platform]
	if !ok {
		return nil, fmt.Errorf("%w: no connector for %q", push.ErrUnsupportedPlatform, cred.Platform)
	}

	// The attempt outlives any single waiter; it is bounded by ConnectTimeout.
	attemptCtx := context.WithoutCancel(ctx)
	ch := p.group.DoChan(key.String(), func() (any, error) {
		return p.connect(attemptCtx, key, connector, cred, env)
	})

	select {
	case <-ctx.Done():
		return nil, &push.ConnectionError{VariantID: key.VariantID, Environment: env, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Client), nil
	}
}

func (p *Pool) connected(key Key) *Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.clients[key]
	if !ok || c.State() != StateConnected {
		return nil
	}
	c.touch(p.now())
	return c
}

func (p *Pool) connect(ctx context.Context, key Key, connector Connector, cred *push.Credential, env push.Environment) (*Client, error) {
	p.mu.Lock()
	if c, ok := p.clients[key]; ok && c.State() == StateConnected {
		c.touch(p.now())
		p.mu.Unlock()
		return c, nil
	}
	c := newClient(key, cred.Platform, p.cfg.MaxInFlight, p.now())
	p.clients[key] = c
	p.mu.Unlock()

	log := p.logger.With("variant_id", key.VariantID, "environment", string(env))
	log.Debug("Connecting push client")

	ctx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()

	transport, err := connector.Connect(ctx, cred, env)
	if err != nil {
		c.state.Store(int32(StateFailed))
		p.remove(key, c)
		log.Warn("Push client failed to connect, removing from pool", "err", err)
		return nil, &push.ConnectionError{VariantID: key.VariantID, Environment: env, Err: err}
	}

	c.transport = transport
	if !c.transition(StateConnecting, StateConnected) {
		// The pool was closed, or the variant evicted, while we were connecting.
		_ = transport.Close()
		p.remove(key, c)
		return nil, &push.ConnectionError{VariantID: key.VariantID, Environment: env, Err: push.ErrClientFailed}
	}

	log.Info("Push client connected")
	return c, nil
}

// Invalidate evicts a client that failed after connecting. It is never reused.
func (p *Pool) Invalidate(c *Client) {
	if c == nil {
		return
	}
	prev := State(c.state.Swap(int32(StateFailed)))
	p.remove(c.key, c)
	if prev == StateConnected {
		p.logger.Warn("Push client invalidated, removing from pool", "variant_id", c.key.VariantID, "environment", string(c.key.Environment))
		p.closeTransport(c)
	}
}

// EvictVariant closes every client of a variant, whatever its environment,
// so the next acquisition picks up replaced credentials. It returns the
// number evicted.
func (p *Pool) EvictVariant(variantID string) int {
	var evicted []*Client

	p.mu.Lock()
	for key, c := range p.clients {
		if key.VariantID != variantID {
			continue
		}
		delete(p.clients, key)
		// An attempt still connecting with the old credentials must not be
		// joined by later callers.
		p.group.Forget(key.String())
		if State(c.state.Swap(int32(StateDisconnected))) == StateConnected {
			evicted = append(evicted, c)
		}
	}
	p.mu.Unlock()

	for _, c := range evicted {
		p.closeTransport(c)
	}
	return len(evicted)
}

// EvictIdle closes connected clients that have been idle for longer than the
// idle timeout and have no sends in flight. It returns the number evicted.
func (p *Pool) EvictIdle() int {
	now := p.now()
	var evicted []*Client

	p.mu.Lock()
	for key, c := range p.clients {
		if c.inFlight.Load() > 0 || c.idleSince(now) < p.cfg.IdleTimeout {
			continue
		}
		if c.transition(StateConnected, StateDisconnected) {
			delete(p.clients, key)
			evicted = append(evicted, c)
		}
	}
	p.mu.Unlock()

	for _, c := range evicted {
		p.logger.Debug("Evicting idle push client", "variant_id", c.key.VariantID, "environment", string(c.key.Environment))
		p.closeTransport(c)
	}
	return len(evicted)
}

// Run evicts idle clients until ctx is done.
func (p *Pool) Run(ctx context.Context) {
	interval := p.cfg.IdleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := p.EvictIdle(); n > 0 {
				p.logger.Info("Evicted idle push clients", "count", n)
			}
		}
	}
}

// Close disconnects every pooled client.
func (p *Pool) Close() error {
	p.mu.Lock()
	clients := p.clients
	p.clients = make(map[Key]*Client)
	p.mu.Unlock()

	var errs []error
	for _, c := range clients {
		if prev := State(c.state.Swap(int32(StateDisconnected))); prev != StateConnected {
			continue
		}
		if err := c.transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", c.key, err))
		}
	}
	return errors.Join(errs...)
}

// Len is the number of pooled clients, connecting ones included.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

func (p *Pool) remove(key Key, c *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.clients[key] == c {
		delete(p.clients, key)
	}
}

func (p *Pool) closeTransport(c *Client) {
	if err := c.transport.Close(); err != nil {
		p.logger.Debug("Error closing push transport", "variant_id", c.key.VariantID, "err", err)
	}
}
