package payload

import (
	"encoding/json"
	"fmt"

	apnspayload "github.com/sideshow/apns2/payload"
	"github.com/tinywideclouds/go-push-dispatcher/pkg/push"
)

// APNSBuilder builds the aps dictionary plus custom keys.
type APNSBuilder struct {
	MaxSize int
}

func (b *APNSBuilder) Build(msg push.Message, correlationID string) (push.Payload, error) {
	builder := apnspayload.NewPayload()

	// Only keys present in the message are emitted.
	if msg.Alert != "" {
		builder.AlertBody(msg.Alert)
	}
	if msg.Title != "" {
		builder.AlertTitle(msg.Title)
	}
	if msg.Action != "" {
		builder.AlertAction(msg.Action)
	}
	if len(msg.URLArgs) > 0 {
		builder.URLArgs(msg.URLArgs)
	}
	if msg.Category != "" {
		builder.Category(msg.Category)
	}
	if msg.Sound != "" {
		builder.Sound(msg.Sound)
	}
	if msg.Badge != nil {
		builder.Badge(*msg.Badge)
	}
	if msg.ContentAvailable {
		builder.ContentAvailable()
	}

	for k, v := range msg.UserData {
		if protected(k) {
			continue
		}
		builder.Custom(k, v)
	}
	builder.Custom(CorrelationKey, correlationID)

	encoded, err := json.Marshal(builder)
	if err != nil {
		return push.Payload{}, fmt.Errorf("failed to encode apns payload: %w", err)
	}
	return finish(encoded, b.MaxSize)
}
