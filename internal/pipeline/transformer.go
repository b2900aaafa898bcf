// Package pipeline contains the core message processing components for the service.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-dispatcher/pkg/push"
)

// SendRequestTransformer is a dataflow Transformer that unmarshals and
// validates a raw message payload into a push.SendRequest.
func SendRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*push.SendRequest, bool, error) {
	var req push.SendRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		// skip=true lets the StreamingService handle the Nack/DLQ logic.
		return nil, true, fmt.Errorf("failed to unmarshal send request from message %s: %w", msg.ID, err)
	}
	if err := req.Validate(); err != nil {
		return nil, true, fmt.Errorf("invalid send request in message %s: %w", msg.ID, err)
	}
	if req.CorrelationID == "" {
		// Redeliveries of the same message keep the same correlation id.
		req.CorrelationID = msg.ID
	}
	return &req, false, nil
}
