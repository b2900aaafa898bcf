package push

import (
	"errors"
	"fmt"
)

var (
	// ErrPayloadTooLarge is matched by every *PayloadTooLargeError.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrConnection is matched by every *ConnectionError.
	ErrConnection = errors.New("client is not connected")
	// ErrConnectionLost is wrapped by transports when a live connection dies mid-send.
	ErrConnectionLost      = errors.New("connection lost")
	ErrClientFailed        = errors.New("pooled client has failed")
	ErrCredentialNotFound  = errors.New("credential not found")
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	ErrInvalidRequest      = errors.New("invalid request")
)

// PayloadTooLargeError reports an encoded payload over the platform limit.
type PayloadTooLargeError struct {
	Size int
	Max  int
}

func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("payload of %d bytes exceeds the maximum of %d bytes", e.Size, e.Max)
}

func (e *PayloadTooLargeError) Is(target error) bool {
	return target == ErrPayloadTooLarge
}

// ConnectionError is the single request-level error raised when a transport
// client never reaches the connected state.
type ConnectionError struct {
	VariantID   string
	Environment Environment
	Err         error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("unable to connect variant %s (%s): %v", e.VariantID, e.Environment, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnection
}
