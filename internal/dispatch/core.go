// Package dispatch fans a built payload out to every device token of a
// request through one pooled client and classifies each send.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/tinywideclouds/go-push-dispatcher/internal/pool"
	"github.com/tinywideclouds/go-push-dispatcher/pkg/push"
)

// DefaultSendTimeout bounds a single send once it has been issued.
const DefaultSendTimeout = 30 * time.Second

// ClientSource is the part of the pool the core depends on.
type ClientSource interface {
	Acquire(ctx context.Context, cred *push.Credential, env push.Environment) (*pool.Client, error)
	Invalidate(c *pool.Client)
}

// Request is one fan-out. Duplicate tokens are sent independently.
type Request struct {
	Credential    *push.Credential
	Environment   push.Environment
	Tokens        []string
	Payload       push.Payload
	CorrelationID string
}

type Config struct {
	SendTimeout time.Duration
}

type Core struct {
	clients ClientSource
	cfg     Config
	logger  *slog.Logger
}

func New(clients ClientSource, cfg Config, logger *slog.Logger) *Core {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	return &Core{
		clients: clients,
		cfg:     cfg,
		logger:  logger.With("component", "DispatchCore"),
	}
}

// Dispatch connects the request's client and starts one send per token. It
// returns once sending has begun; the channel yields exactly one outcome per
// token and is closed after the last one. The channel is buffered for every
// token, so a caller that stops reading early never blocks a send.
//
// If the client cannot connect, Dispatch returns the connection error and no
// send is attempted. An empty token set returns a closed channel without
// touching the pool.
func (c *Core) Dispatch(ctx context.Context, req Request) (<-chan push.Outcome, error) {
	if len(req.Tokens) == 0 {
		out := make(chan push.Outcome)
		close(out)
		return out, nil
	}
	if req.Credential == nil {
		return nil, fmt.Errorf("%w: dispatch without credential", push.ErrInvalidRequest)
	}

	client, err := c.clients.Acquire(ctx, req.Credential, req.Environment)
	if err != nil {
		return nil, err
	}

	out := make(chan push.Outcome, len(req.Tokens))
	go c.fanOut(ctx, client, req, slices.Clone(req.Tokens), out)
	return out, nil
}

// fanOut queues sends FIFO behind the client's in-flight limit. A token still
// queued when ctx ends gets a transport error outcome; issued sends run to
// completion under their own timeout.
func (c *Core) fanOut(ctx context.Context, client *pool.Client, req Request, tokens []string, out chan<- push.Outcome) {
	log := c.logger.With("variant_id", req.Credential.VariantID, "correlation_id", req.CorrelationID)
	log.Debug("Dispatching notification", "tokens", len(tokens), "payload_bytes", req.Payload.Size())

	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		close(out)
	}()

	sendCtx := context.WithoutCancel(ctx)
	for _, token := range tokens {
		if err := client.Reserve(ctx); err != nil {
			out <- push.Outcome{Token: token, Result: push.ResultTransportError, Reason: err.Error()}
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer client.Release()
			out <- c.send(sendCtx, client, token, req.Payload, log)
		}()
	}
}

func (c *Core) send(ctx context.Context, client *pool.Client, token string, payload push.Payload, log *slog.Logger) push.Outcome {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.SendTimeout)
	defer cancel()

	res, err := client.Send(ctx, token, payload)
	if err != nil {
		if errors.Is(err, push.ErrConnectionLost) {
			c.clients.Invalidate(client)
		}
		log.Debug("Send failed at transport layer", "err", err)
		return push.Outcome{Token: token, Result: push.ResultTransportError, Reason: err.Error()}
	}
	return Classify(token, res)
}

// Classify turns a transport response into an outcome.
func Classify(token string, res pool.SendResult) push.Outcome {
	if res.Accepted {
		return push.Outcome{Token: token, Result: push.ResultAccepted}
	}
	return push.Outcome{
		Token:         token,
		Result:        push.ResultRejected,
		Reason:        res.Reason,
		InvalidatedAt: res.InvalidatedAt,
		Permanent:     res.TokenInvalid,
	}
}
