// Package push contains the public domain model and contracts shared by the
// dispatcher's components: credentials, messages, payloads, outcomes and the
// caller callback.
package push

import (
	"bytes"
	"fmt"
	"strings"
	"time"
)

// Platform tags a request with the transport family that will deliver it.
// It is resolved once at the boundary and never inferred from runtime types.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
)

// ParsePlatform normalises a platform tag.
func ParsePlatform(s string) (Platform, error) {
	switch p := Platform(strings.ToLower(strings.TrimSpace(s))); p {
	case PlatformIOS, PlatformAndroid, PlatformWeb:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedPlatform, s)
	}
}

// Environment selects the sandbox or production endpoint of a transport.
type Environment string

const (
	EnvironmentDevelopment Environment = "development"
	EnvironmentProduction  Environment = "production"
)

// ParseEnvironment normalises an environment name. An empty value means development.
func ParseEnvironment(s string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "dev", "development", "sandbox":
		return EnvironmentDevelopment, nil
	case "prod", "production":
		return EnvironmentProduction, nil
	default:
		return "", fmt.Errorf("%w: unknown environment %q", ErrInvalidRequest, s)
	}
}

// Credential identifies one sender identity (a "variant").
//
// For iOS the Certificate holds PKCS#12 or PEM bytes protected by Passphrase.
// For Android it holds the service-account JSON and Topic is the Firebase project.
// For Web it holds the VAPID private key, PublicKey the VAPID public key and
// Topic the subscriber contact.
type Credential struct {
	VariantID   string
	Platform    Platform
	Certificate []byte
	Passphrase  string
	Topic       string
	PublicKey   string
}

// Message is the generic notification model a caller submits.
type Message struct {
	Alert            string         `json:"alert,omitempty"`
	Title            string         `json:"title,omitempty"`
	Sound            string         `json:"sound,omitempty"`
	Badge            *int           `json:"badge,omitempty"`
	Action           string         `json:"action,omitempty"`
	URLArgs          []string       `json:"urlArgs,omitempty"`
	Category         string         `json:"actionCategory,omitempty"`
	ContentAvailable bool           `json:"contentAvailable,omitempty"`
	UserData         map[string]any `json:"userData,omitempty"`
}

// SendRequest is what a caller hands to the sender.
type SendRequest struct {
	Platform      Platform    `json:"platform"`
	VariantID     string      `json:"variantId"`
	Environment   Environment `json:"environment,omitempty"`
	Tokens        []string    `json:"tokens"`
	Message       Message     `json:"message"`
	CorrelationID string      `json:"pushMessageId,omitempty"`
}

// Validate checks the fields every request needs.
func (r *SendRequest) Validate() error {
	if _, err := ParsePlatform(string(r.Platform)); err != nil {
		return err
	}
	if r.VariantID == "" {
		return fmt.Errorf("%w: variantId is required", ErrInvalidRequest)
	}
	if _, err := ParseEnvironment(string(r.Environment)); err != nil {
		return err
	}
	return nil
}

// Payload is a serialized, provider-specific notification body.
// The zero value is an empty payload.
type Payload struct {
	data []byte
}

// NewPayload copies b into an immutable payload.
func NewPayload(b []byte) Payload {
	return Payload{data: bytes.Clone(b)}
}

// Bytes returns a copy of the encoded payload.
func (p Payload) Bytes() []byte {
	return bytes.Clone(p.data)
}

// Size is the encoded length in bytes.
func (p Payload) Size() int {
	return len(p.data)
}

func (p Payload) String() string {
	return string(p.data)
}

// Result classifies a single send.
type Result int

const (
	ResultAccepted Result = iota
	ResultRejected
	ResultTransportError
)

func (r Result) String() string {
	switch r {
	case ResultAccepted:
		return "accepted"
	case ResultRejected:
		return "rejected"
	case ResultTransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

// Outcome is produced exactly once per token per dispatch.
type Outcome struct {
	Token  string
	Result Result
	Reason string
	// InvalidatedAt is set when the transport reports the moment the token
	// stopped being valid.
	InvalidatedAt time.Time
	// Permanent marks a rejection the token will never recover from.
	Permanent bool
}

// Accepted reports whether the transport confirmed receipt.
func (o Outcome) Accepted() bool {
	return o.Result == ResultAccepted
}

// ShouldInvalidate reports whether the token must be removed by the owner.
func (o Outcome) ShouldInvalidate() bool {
	return o.Result == ResultRejected && (o.Permanent || !o.InvalidatedAt.IsZero())
}
