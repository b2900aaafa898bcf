package apns

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/sideshow/apns2"

	"github.com/tinywideclouds/go-push-dispatcher/internal/pool"
	"github.com/tinywideclouds/go-push-dispatcher/pkg/push"
)

// APNSClient defines the subset of the apns2.Client behaviour we use.
// This allows mocking for unit tests.
type APNSClient interface {
	Push(ctx context.Context, n *apns2.Notification) (*apns2.Response, error)
	CloseIdleConnections()
}

type clientAdapter struct {
	client *apns2.Client
}

func (a *clientAdapter) Push(ctx context.Context, n *apns2.Notification) (*apns2.Response, error) {
	return a.client.PushWithContext(ctx, n)
}

func (a *clientAdapter) CloseIdleConnections() {
	a.client.HTTPClient.CloseIdleConnections()
}

// Transport sends to one APNs topic over a shared HTTP/2 client.
type Transport struct {
	client APNSClient
	topic  string // The App Bundle ID (e.g. com.tinywide.messenger)
	logger *slog.Logger
}

func NewTransport(client APNSClient, topic string, logger *slog.Logger) *Transport {
	return &Transport{
		client: client,
		topic:  topic,
		logger: logger.With("component", "APNSTransport", "topic", topic),
	}
}

func (t *Transport) Send(ctx context.Context, token string, payload push.Payload) (pool.SendResult, error) {
	n := &apns2.Notification{
		DeviceToken: token,
		Topic:       t.topic,
		Payload:     payload.Bytes(),
	}

	res, err := t.client.Push(ctx, n)
	if err != nil {
		if connectionLost(err) {
			return pool.SendResult{}, fmt.Errorf("%w: %v", push.ErrConnectionLost, err)
		}
		return pool.SendResult{}, fmt.Errorf("apns transport failed: %w", err)
	}

	if res.Sent() {
		return pool.SendResult{Accepted: true}, nil
	}

	result := pool.SendResult{
		Reason:        res.Reason,
		InvalidatedAt: res.Timestamp.Time,
	}
	// See: https://developer.apple.com/documentation/usernotifications/handling-notification-responses-from-apns
	switch res.Reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
		result.TokenInvalid = true
	default:
		// TopicDisallowed, PayloadEmpty and friends mean our configuration is
		// wrong, not the token.
		t.logger.Warn("APNs rejected notification", "reason", res.Reason, "status", res.StatusCode)
	}
	return result, nil
}

func (t *Transport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

// connectionLost separates a dead connection from a slow or cancelled send.
func connectionLost(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
