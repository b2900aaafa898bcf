package fcm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"firebase.google.com/go/v4/messaging"

	"github.com/tinywideclouds/go-push-dispatcher/internal/payload"
	"github.com/tinywideclouds/go-push-dispatcher/internal/pool"
	"github.com/tinywideclouds/go-push-dispatcher/pkg/push"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// This interface allows us to mock the client for unit testing.
// Note: *messaging.Client automatically satisfies this interface.
type MessagingClient interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

// Transport sends to single Android tokens through one Firebase app.
type Transport struct {
	client MessagingClient
	logger *slog.Logger
}

func NewTransport(client MessagingClient, logger *slog.Logger) *Transport {
	return &Transport{
		client: client,
		logger: logger.With("component", "FCMTransport"),
	}
}

func (t *Transport) Send(ctx context.Context, token string, p push.Payload) (pool.SendResult, error) {
	content, err := payload.DecodeFCM(p)
	if err != nil {
		return pool.SendResult{}, err
	}

	msg := &messaging.Message{
		Token: token,
		Data:  content.Data,
	}
	if content.Notification != nil {
		msg.Notification = &messaging.Notification{
			Title: content.Notification.Title,
			Body:  content.Notification.Body,
		}
	}
	if content.Android != nil {
		msg.Android = &messaging.AndroidConfig{
			Notification: &messaging.AndroidNotification{
				Sound:       content.Android.Sound,
				ClickAction: content.Android.ClickAction,
				Tag:         content.Android.Tag,
			},
		}
	}

	id, err := t.client.Send(ctx, msg)
	if err == nil {
		t.logger.Debug("FCM accepted message", "message_id", id)
		return pool.SendResult{Accepted: true}, nil
	}
	return t.classify(err)
}

// classify maps Firebase error codes onto a per-token result. Only errors the
// SDK cannot attribute to the token or the sender surface as transport errors.
func (t *Transport) classify(err error) (pool.SendResult, error) {
	switch {
	case messaging.IsUnregistered(err):
		return pool.SendResult{Reason: "Unregistered", TokenInvalid: true}, nil
	case messaging.IsInvalidArgument(err):
		// InvalidArgument also covers payload faults; only a token fault is permanent.
		return pool.SendResult{Reason: "InvalidArgument", TokenInvalid: namesToken(err)}, nil
	case messaging.IsSenderIDMismatch(err):
		return pool.SendResult{Reason: "SenderIdMismatch"}, nil
	case messaging.IsQuotaExceeded(err):
		return pool.SendResult{Reason: "QuotaExceeded"}, nil
	case messaging.IsThirdPartyAuthError(err):
		t.logger.Warn("FCM rejected credentials", "err", err)
		return pool.SendResult{Reason: "ThirdPartyAuthError"}, nil
	default:
		return pool.SendResult{}, fmt.Errorf("fcm transport failed: %w", err)
	}
}

// namesToken reports whether an error message blames the registration token.
func namesToken(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "registration token")
}

// Close is a no-op; the Firebase client holds no dedicated connection.
func (t *Transport) Close() error {
	return nil
}
