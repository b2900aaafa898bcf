package push

import "context"

// Callback receives the request-level result of a send.
// Exactly one of its methods is invoked per request that reaches dispatch.
type Callback interface {
	// OnSuccess is invoked once the transport is connected and dispatch has begun.
	// It does not imply delivery of any individual token.
	OnSuccess()
	// OnError is invoked when the payload cannot be built, the credential cannot
	// be loaded or the transport cannot connect.
	OnError(message string)
}

// CallbackFuncs adapts plain functions to a Callback. Nil fields are ignored.
type CallbackFuncs struct {
	Success func()
	Error   func(message string)
}

func (c CallbackFuncs) OnSuccess() {
	if c.Success != nil {
		c.Success()
	}
}

func (c CallbackFuncs) OnError(message string) {
	if c.Error != nil {
		c.Error(message)
	}
}

// CredentialStore is the read side of the certificate store.
type CredentialStore interface {
	// Credential returns ErrCredentialNotFound when no variant matches.
	Credential(ctx context.Context, variantID string) (*Credential, error)
}

// CredentialRegistry adds the write side used by the admin API.
type CredentialRegistry interface {
	CredentialStore
	PutCredential(ctx context.Context, cred *Credential) error
	DeleteCredential(ctx context.Context, variantID string) error
}
