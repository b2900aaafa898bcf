// Package payload turns the generic push.Message into the byte payload a
// specific transport expects. Builders are deterministic: the same message and
// correlation id always produce byte-identical output.
package payload

import (
	"fmt"

	"github.com/tinywideclouds/go-push-dispatcher/pkg/push"
)

// CorrelationKey is the protected custom key carrying the correlation id.
const CorrelationKey = "aerogear-push-id"

// Platform maximums for the encoded payload.
const (
	MaxAPNSSize    = 4096
	MaxFCMSize     = 4096
	MaxWebPushSize = 4078
)

// Builder builds the provider-specific payload for one request.
type Builder interface {
	Build(msg push.Message, correlationID string) (push.Payload, error)
}

// ForPlatform resolves the builder for a platform tag.
func ForPlatform(p push.Platform) (Builder, error) {
	switch p {
	case push.PlatformIOS:
		return &APNSBuilder{MaxSize: MaxAPNSSize}, nil
	case push.PlatformAndroid:
		return &FCMBuilder{MaxSize: MaxFCMSize}, nil
	case push.PlatformWeb:
		return &WebBuilder{MaxSize: MaxWebPushSize}, nil
	default:
		return nil, fmt.Errorf("%w: %q", push.ErrUnsupportedPlatform, p)
	}
}

func finish(encoded []byte, max int) (push.Payload, error) {
	if max > 0 && len(encoded) > max {
		return push.Payload{}, &push.PayloadTooLargeError{Size: len(encoded), Max: max}
	}
	return push.NewPayload(encoded), nil
}

// protected keys can never be overwritten by user data.
func protected(key string) bool {
	return key == CorrelationKey || key == "aps"
}
