package pool

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/tinywideclouds/go-push-dispatcher/pkg/push"
)

// State is the connection state of a pooled client.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Key identifies one pooled connection.
type Key struct {
	VariantID   string
	Environment push.Environment
}

func (k Key) String() string {
	return k.VariantID + "/" + string(k.Environment)
}

// SendResult is the raw response of a transport for one token.
type SendResult struct {
	Accepted bool
	Reason   string
	// TokenInvalid is set by the transport when the rejection reason means
	// the token will never accept notifications again.
	TokenInvalid  bool
	InvalidatedAt time.Time
}

// Transport is one live connection to a push provider.
type Transport interface {
	// Send delivers payload to a single token. Protocol-level rejections are
	// reported in SendResult; only network failures return an error.
	Send(ctx context.Context, token string, payload push.Payload) (SendResult, error)
	Close() error
}

// Connector opens transports. Connect returns only once the transport is usable.
type Connector interface {
	Connect(ctx context.Context, cred *push.Credential, env push.Environment) (Transport, error)
}

// Client wraps one transport owned by the Pool.
type Client struct {
	key       Key
	platform  push.Platform
	transport Transport
	state     atomic.Int32
	lastUsed  atomic.Int64
	inFlight  atomic.Int64
	slots     *semaphore.Weighted
}

func newClient(key Key, platform push.Platform, maxInFlight int64, now time.Time) *Client {
	c := &Client{
		key:      key,
		platform: platform,
		slots:    semaphore.NewWeighted(maxInFlight),
	}
	c.state.Store(int32(StateConnecting))
	c.lastUsed.Store(now.UnixNano())
	return c
}

func (c *Client) Key() Key { return c.key }

func (c *Client) Platform() push.Platform { return c.platform }

func (c *Client) State() State { return State(c.state.Load()) }

// Reserve blocks until an in-flight slot is free. Waiters are served in FIFO order.
func (c *Client) Reserve(ctx context.Context) error {
	return c.slots.Acquire(ctx, 1)
}

// Release frees a slot taken by Reserve.
func (c *Client) Release() {
	c.slots.Release(1)
}

// Send forwards to the transport unless the client has left the connected state.
func (c *Client) Send(ctx context.Context, token string, payload push.Payload) (SendResult, error) {
	if state := c.State(); state != StateConnected {
		return SendResult{}, fmt.Errorf("%w: %s is %s", push.ErrClientFailed, c.key, state)
	}
	c.inFlight.Add(1)
	defer func() {
		c.inFlight.Add(-1)
		c.lastUsed.Store(time.Now().UnixNano())
	}()
	return c.transport.Send(ctx, token, payload)
}

func (c *Client) touch(now time.Time) {
	c.lastUsed.Store(now.UnixNano())
}

func (c *Client) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, c.lastUsed.Load()))
}

// transition moves from one state to another; false if the client was not in from.
func (c *Client) transition(from, to State) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}
