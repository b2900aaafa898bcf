// Package fcm delivers Android notifications through Firebase Cloud Messaging.
package fcm

import (
	"context"
	"fmt"
	"log/slog"

	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"

	"github.com/tinywideclouds/go-push-dispatcher/internal/pool"
	"github.com/tinywideclouds/go-push-dispatcher/pkg/push"
)

// ClientFactory creates the messaging client for a credential.
type ClientFactory func(ctx context.Context, cred *push.Credential) (MessagingClient, error)

// Connector implements pool.Connector for Android variants. The credential
// carries the service account JSON in Certificate and the Firebase project id
// in Topic. An empty Certificate falls back to application default credentials.
type Connector struct {
	newClient ClientFactory
	logger    *slog.Logger
}

func NewConnector(logger *slog.Logger) *Connector {
	return &Connector{
		newClient: NewMessagingClient,
		logger:    logger.With("component", "FCMConnector"),
	}
}

// Connect ignores the environment; FCM has no sandbox.
func (c *Connector) Connect(ctx context.Context, cred *push.Credential, _ push.Environment) (pool.Transport, error) {
	client, err := c.newClient(ctx, cred)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("FCM client ready", "variant_id", cred.VariantID, "project_id", cred.Topic)
	return NewTransport(client, c.logger), nil
}

// NewMessagingClient builds a Firebase app scoped to one variant.
func NewMessagingClient(ctx context.Context, cred *push.Credential) (MessagingClient, error) {
	var opts []option.ClientOption
	if len(cred.Certificate) > 0 {
		opts = append(opts, option.WithCredentialsJSON(cred.Certificate))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cred.Topic}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase messaging: %w", err)
	}
	return client, nil
}
