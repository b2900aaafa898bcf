package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-dispatcher/pkg/push"
)

// RequestSender is the part of the sender the processor drives.
type RequestSender interface {
	Send(ctx context.Context, req push.SendRequest, cb push.Callback) error
}

// NewProcessor hands each decoded request to the sender. Requests that can
// never succeed are acked after logging; anything else (a client that would
// not connect, a store that was unavailable) returns the error so the
// message is redelivered.
func NewProcessor(sender RequestSender, logger *slog.Logger) messagepipeline.StreamProcessor[push.SendRequest] {
	return func(ctx context.Context, original messagepipeline.Message, request *push.SendRequest) error {
		procLogger := logger.With(
			"variant_id", request.VariantID,
			"correlation_id", request.CorrelationID,
			"pubsub_msg_id", original.ID,
		)

		cb := push.CallbackFuncs{
			Success: func() {
				procLogger.Info("Notification dispatched", "tokens", len(request.Tokens))
			},
			Error: func(message string) {
				procLogger.Warn("Notification not sent", "reason", message)
			},
		}

		err := sender.Send(ctx, *request, cb)
		if err == nil {
			return nil
		}
		if permanent(err) {
			procLogger.Error("Dropping unsendable notification", "err", err)
			return nil
		}
		return err // Retryable
	}
}

func permanent(err error) bool {
	return errors.Is(err, push.ErrInvalidRequest) ||
		errors.Is(err, push.ErrPayloadTooLarge) ||
		errors.Is(err, push.ErrCredentialNotFound) ||
		errors.Is(err, push.ErrUnsupportedPlatform)
}
