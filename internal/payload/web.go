package payload

import (
	"encoding/json"
	"fmt"

	"github.com/tinywideclouds/go-push-dispatcher/pkg/push"
)

type webNotification struct {
	Title   string      `json:"title,omitempty"`
	Body    string      `json:"body,omitempty"`
	Sound   string      `json:"sound,omitempty"`
	Badge   *int        `json:"badge,omitempty"`
	Tag     string      `json:"tag,omitempty"`
	Actions []webAction `json:"actions,omitempty"`
	Silent  bool        `json:"silent,omitempty"`
}

type webAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

type webContent struct {
	Notification *webNotification `json:"notification,omitempty"`
	Data         map[string]any   `json:"data"`
}

// WebBuilder builds the JSON body the service worker receives.
type WebBuilder struct {
	MaxSize int
}

func (b *WebBuilder) Build(msg push.Message, correlationID string) (push.Payload, error) {
	content := webContent{Data: make(map[string]any, len(msg.UserData)+1)}

	n := webNotification{
		Title: msg.Title,
		Body:  msg.Alert,
		Sound: msg.Sound,
		Badge: msg.Badge,
		Tag:   msg.Category,
		// content-available maps to a silent notification
		Silent: msg.ContentAvailable,
	}
	if msg.Action != "" {
		n.Actions = []webAction{{Action: msg.Action, Title: msg.Action}}
	}
	if hasNotification(msg) {
		content.Notification = &n
	}
	if len(msg.URLArgs) > 0 {
		content.Data["url-args"] = msg.URLArgs
	}

	for k, v := range msg.UserData {
		if protected(k) {
			continue
		}
		content.Data[k] = v
	}
	content.Data[CorrelationKey] = correlationID

	encoded, err := json.Marshal(content)
	if err != nil {
		return push.Payload{}, fmt.Errorf("failed to encode web push payload: %w", err)
	}
	return finish(encoded, b.MaxSize)
}

func hasNotification(msg push.Message) bool {
	return msg.Title != "" || msg.Alert != "" || msg.Sound != "" || msg.Badge != nil ||
		msg.Category != "" || msg.Action != "" || msg.ContentAvailable
}
