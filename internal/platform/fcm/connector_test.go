package fcm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-dispatcher/pkg/push"
)

type stubClient struct{}

func (stubClient) Send(context.Context, *messaging.Message) (string, error) { return "id", nil }

func TestConnector_Connect(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cred := &push.Credential{VariantID: "android-1", Platform: push.PlatformAndroid, Topic: "my-project"}

	t.Run("Success", func(t *testing.T) {
		c := NewConnector(logger)
		var seen *push.Credential
		c.newClient = func(_ context.Context, cr *push.Credential) (MessagingClient, error) {
			seen = cr
			return stubClient{}, nil
		}

		transport, err := c.Connect(context.Background(), cred, push.EnvironmentProduction)
		require.NoError(t, err)
		assert.Same(t, cred, seen)

		res, err := transport.Send(context.Background(), "token", push.NewPayload([]byte(`{"data":{"k":"v"}}`)))
		require.NoError(t, err)
		assert.True(t, res.Accepted)
	})

	t.Run("Factory failure", func(t *testing.T) {
		c := NewConnector(logger)
		c.newClient = func(context.Context, *push.Credential) (MessagingClient, error) {
			return nil, errors.New("bad service account")
		}

		_, err := c.Connect(context.Background(), cred, push.EnvironmentProduction)
		assert.Error(t, err)
	})
}
