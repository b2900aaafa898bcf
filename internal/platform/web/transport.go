package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/tinywideclouds/go-push-dispatcher/internal/pool"
	"github.com/tinywideclouds/go-push-dispatcher/pkg/push"
)

// Transport sends encrypted payloads to browser push services with one
// variant's VAPID keys. Tokens are JSON encoded push subscriptions.
type Transport struct {
	options    webpush.Options
	httpClient *http.Client
	logger     *slog.Logger
}

func (t *Transport) Send(ctx context.Context, token string, payload push.Payload) (pool.SendResult, error) {
	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(token), &sub); err != nil || sub.Endpoint == "" {
		// A subscription we cannot parse will never be deliverable.
		return pool.SendResult{Reason: "InvalidSubscription", TokenInvalid: true}, nil
	}

	opts := t.options
	resp, err := webpush.SendNotificationWithContext(ctx, payload.Bytes(), &sub, &opts)
	if err != nil {
		// Transport error (DNS, Timeout) - don't invalidate the subscription
		return pool.SendResult{}, fmt.Errorf("webpush transport failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
		return pool.SendResult{Accepted: true}, nil
	case http.StatusGone, http.StatusNotFound:
		// 410 Gone / 404 Not Found -> subscription is dead
		return pool.SendResult{Reason: http.StatusText(resp.StatusCode), TokenInvalid: true}, nil
	default:
		t.logger.Warn("WebPush rejected", "status", resp.StatusCode, "endpoint", sub.Endpoint)
		return pool.SendResult{Reason: strconv.Itoa(resp.StatusCode) + " " + http.StatusText(resp.StatusCode)}, nil
	}
}

func (t *Transport) Close() error {
	t.httpClient.CloseIdleConnections()
	return nil
}
