package payload

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/tinywideclouds/go-push-dispatcher/pkg/push"
)

// FCMContent is the encoded form of an Android payload. The FCM transport
// decodes it back into a messaging.Message for each token.
type FCMContent struct {
	Notification *FCMNotification  `json:"notification,omitempty"`
	Android      *FCMAndroid       `json:"android,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
}

type FCMNotification struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

type FCMAndroid struct {
	Sound       string `json:"sound,omitempty"`
	ClickAction string `json:"click_action,omitempty"`
	Tag         string `json:"tag,omitempty"`
}

// DecodeFCM reverses FCMBuilder.Build.
func DecodeFCM(p push.Payload) (*FCMContent, error) {
	var content FCMContent
	if err := json.Unmarshal(p.Bytes(), &content); err != nil {
		return nil, fmt.Errorf("failed to decode fcm payload: %w", err)
	}
	return &content, nil
}

// FCMBuilder builds a notification plus a string-only data map.
// Android has no badge or url arguments; those travel in the data map.
type FCMBuilder struct {
	MaxSize int
}

func (b *FCMBuilder) Build(msg push.Message, correlationID string) (push.Payload, error) {
	content := FCMContent{Data: make(map[string]string, len(msg.UserData)+1)}

	if msg.Alert != "" || msg.Title != "" {
		content.Notification = &FCMNotification{Title: msg.Title, Body: msg.Alert}
	}
	if msg.Sound != "" || msg.Action != "" || msg.Category != "" {
		content.Android = &FCMAndroid{Sound: msg.Sound, ClickAction: msg.Action, Tag: msg.Category}
	}
	if msg.Badge != nil {
		content.Data["badge"] = fmt.Sprint(*msg.Badge)
	}
	if len(msg.URLArgs) > 0 {
		args, err := json.Marshal(msg.URLArgs)
		if err != nil {
			return push.Payload{}, fmt.Errorf("failed to encode url args: %w", err)
		}
		content.Data["url-args"] = string(args)
	}
	if msg.ContentAvailable {
		content.Data["content-available"] = "1"
	}

	for _, k := range slices.Sorted(maps.Keys(msg.UserData)) {
		if protected(k) {
			continue
		}
		if fcmReserved(k) {
			return push.Payload{}, fmt.Errorf("%w: user data key %q is reserved by FCM", push.ErrInvalidRequest, k)
		}
		s, err := stringValue(msg.UserData[k])
		if err != nil {
			return push.Payload{}, fmt.Errorf("failed to encode user data %q: %w", k, err)
		}
		content.Data[k] = s
	}
	content.Data[CorrelationKey] = correlationID

	encoded, err := json.Marshal(content)
	if err != nil {
		return push.Payload{}, fmt.Errorf("failed to encode fcm payload: %w", err)
	}
	return finish(encoded, b.MaxSize)
}

// FCM data values must be strings; anything else is carried as JSON.
func stringValue(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// fcmReserved reports data keys FCM refuses with INVALID_ARGUMENT.
func fcmReserved(key string) bool {
	k := strings.ToLower(key)
	switch k {
	case "from", "notification", "message_type", "collapse_key":
		return true
	}
	return strings.HasPrefix(k, "google") || strings.HasPrefix(k, "gcm")
}
