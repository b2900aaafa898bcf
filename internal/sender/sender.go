// Package sender runs one notification request end to end: credential
// lookup, payload build, connect, fan-out and outcome reporting.
package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/tinywideclouds/go-push-dispatcher/internal/dispatch"
	"github.com/tinywideclouds/go-push-dispatcher/internal/payload"
	"github.com/tinywideclouds/go-push-dispatcher/pkg/push"
)

// ConnectErrorMessage is handed to Callback.OnError when no client connects.
const ConnectErrorMessage = "Unable to send notifications, client is not connected"

const (
	DefaultMaxConnectAttempts = 3
	DefaultConnectBackoff     = 500 * time.Millisecond
	DefaultOutcomeTimeout     = 2 * time.Minute
)

type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (<-chan push.Outcome, error)
}

type OutcomeReporter interface {
	Report(ctx context.Context, platform push.Platform, o push.Outcome, correlationID, variantID string)
}

// TokenFilter drops tokens that are known to be invalid.
type TokenFilter interface {
	Filter(ctx context.Context, variantID string, tokens []string) ([]string, error)
}

type Config struct {
	// MaxConnectAttempts includes the first attempt.
	MaxConnectAttempts uint64
	ConnectBackoff     time.Duration
	// OutcomeTimeout bounds how long outcomes of one request are awaited.
	OutcomeTimeout time.Duration
}

type Sender struct {
	credentials push.CredentialStore
	dispatcher  Dispatcher
	reporter    OutcomeReporter
	filter      TokenFilter
	cfg         Config
	logger      *slog.Logger

	wg sync.WaitGroup
}

// New creates a sender. filter may be nil.
func New(credentials push.CredentialStore, dispatcher Dispatcher, reporter OutcomeReporter, filter TokenFilter, cfg Config, logger *slog.Logger) *Sender {
	if cfg.MaxConnectAttempts == 0 {
		cfg.MaxConnectAttempts = DefaultMaxConnectAttempts
	}
	if cfg.ConnectBackoff <= 0 {
		cfg.ConnectBackoff = DefaultConnectBackoff
	}
	if cfg.OutcomeTimeout <= 0 {
		cfg.OutcomeTimeout = DefaultOutcomeTimeout
	}
	return &Sender{
		credentials: credentials,
		dispatcher:  dispatcher,
		reporter:    reporter,
		filter:      filter,
		cfg:         cfg,
		logger:      logger.With("component", "Sender"),
	}
}

// Send validates and dispatches req. cb.OnSuccess fires once the client is
// connected and sending has begun, before any token outcome is known;
// cb.OnError fires for request-level failures. A request without tokens is a
// no-op and invokes neither. Outcomes are reported in the background.
//
// The returned error mirrors the callback so pipeline callers can decide
// whether to retry.
func (s *Sender) Send(ctx context.Context, req push.SendRequest, cb push.Callback) error {
	if err := req.Validate(); err != nil {
		cb.OnError(err.Error())
		return err
	}
	if len(req.Tokens) == 0 {
		s.logger.Debug("Skipping request without tokens", "variant_id", req.VariantID)
		return nil
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	log := s.logger.With("variant_id", req.VariantID, "correlation_id", correlationID)

	cred, err := s.credentials.Credential(ctx, req.VariantID)
	if err != nil {
		log.Warn("Failed to load credentials", "err", err)
		cb.OnError(fmt.Sprintf("Unable to load credentials for variant %s", req.VariantID))
		return err
	}
	if cred.Platform != req.Platform {
		err := fmt.Errorf("%w: variant %s is %s, request is %s", push.ErrInvalidRequest, req.VariantID, cred.Platform, req.Platform)
		cb.OnError(err.Error())
		return err
	}

	builder, err := payload.ForPlatform(req.Platform)
	if err != nil {
		cb.OnError(err.Error())
		return err
	}
	p, err := builder.Build(req.Message, correlationID)
	if err != nil {
		log.Warn("Failed to build payload", "err", err)
		cb.OnError(err.Error())
		return err
	}

	tokens := req.Tokens
	if s.filter != nil {
		tokens, err = s.filter.Filter(ctx, req.VariantID, tokens)
		if err != nil {
			log.Warn("Token suppression lookup failed, sending to all tokens", "err", err)
		}
		if skipped := len(req.Tokens) - len(tokens); skipped > 0 {
			log.Info("Skipping suppressed tokens", "count", skipped)
		}
		if len(tokens) == 0 {
			return nil
		}
	}

	environment, _ := push.ParseEnvironment(string(req.Environment))

	// Sends outlive the caller's context (an HTTP request ends with its 202).
	// They are bounded by OutcomeTimeout and released when the drain ends.
	fanOutCtx, cancelFanOut := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.OutcomeTimeout)
	outcomes, err := s.dispatchWithRetry(ctx, fanOutCtx, dispatch.Request{
		Credential:    cred,
		Environment:   environment,
		Tokens:        tokens,
		Payload:       p,
		CorrelationID: correlationID,
	}, log)
	if err != nil {
		cancelFanOut()
		log.Error("Push client never connected", "err", err)
		if errors.Is(err, push.ErrConnection) {
			cb.OnError(ConnectErrorMessage)
		} else {
			cb.OnError(err.Error())
		}
		return err
	}

	log.Info("Dispatch started", "tokens", len(tokens))
	cb.OnSuccess()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancelFanOut()
		s.drain(ctx, req.Platform, req.VariantID, correlationID, len(tokens), outcomes, log)
	}()
	return nil
}

// dispatchWithRetry retries connection failures with exponential backoff.
// Nothing is sent before the connection succeeds, so a retry never duplicates
// a notification. ctx stops the retries; fanOutCtx governs the sends.
func (s *Sender) dispatchWithRetry(ctx, fanOutCtx context.Context, req dispatch.Request, log *slog.Logger) (<-chan push.Outcome, error) {
	var outcomes <-chan push.Outcome
	op := func() error {
		ch, err := s.dispatcher.Dispatch(fanOutCtx, req)
		if err != nil {
			if !errors.Is(err, push.ErrConnection) {
				return backoff.Permanent(err)
			}
			return err
		}
		outcomes = ch
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.cfg.ConnectBackoff
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, s.cfg.MaxConnectAttempts-1), ctx)

	err := backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
		log.Warn("Connect failed, retrying", "err", err, "wait", wait)
	})
	return outcomes, err
}

// drain reports outcomes until the stream closes or the timeout elapses.
// Outcomes that arrive later stay in the buffered channel and are dropped.
func (s *Sender) drain(ctx context.Context, platform push.Platform, variantID, correlationID string, expected int, outcomes <-chan push.Outcome, log *slog.Logger) {
	ctx = context.WithoutCancel(ctx)
	timer := time.NewTimer(s.cfg.OutcomeTimeout)
	defer timer.Stop()

	var received, accepted int
	for {
		select {
		case o, ok := <-outcomes:
			if !ok {
				log.Info("Dispatch complete", "tokens", received, "accepted", accepted)
				return
			}
			received++
			if o.Accepted() {
				accepted++
			}
			s.reporter.Report(ctx, platform, o, correlationID, variantID)
		case <-timer.C:
			log.Warn("Gave up waiting for outcomes", "received", received, "expected", expected)
			return
		}
	}
}

// Wait blocks until every background drain has finished.
func (s *Sender) Wait() {
	s.wg.Wait()
}
