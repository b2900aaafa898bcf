// Package web delivers notifications to browsers with the Web Push protocol
// and VAPID authentication.
package web

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/tinywideclouds/go-push-dispatcher/internal/pool"
	"github.com/tinywideclouds/go-push-dispatcher/pkg/push"
)

// DefaultTTL is how long, in seconds, push services keep an undelivered message.
const DefaultTTL = 60

type Config struct {
	TTL        int
	HTTPClient *http.Client
}

// Connector implements pool.Connector for web variants. The credential
// carries the VAPID private key in Certificate, the public key in PublicKey
// and the subscriber contact in Topic.
type Connector struct {
	cfg    Config
	logger *slog.Logger
}

func NewConnector(cfg Config, logger *slog.Logger) *Connector {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Connector{
		cfg:    cfg,
		logger: logger.With("component", "WebPushConnector"),
	}
}

// Connect validates the VAPID key pair. Connections to push services are
// opened per subscription endpoint when sending.
func (c *Connector) Connect(_ context.Context, cred *push.Credential, _ push.Environment) (pool.Transport, error) {
	privateKey := strings.TrimSpace(string(cred.Certificate))
	if err := checkKey(privateKey, 1, 32); err != nil {
		return nil, fmt.Errorf("invalid vapid private key: %w", err)
	}
	if err := checkKey(cred.PublicKey, 65, 65); err != nil {
		return nil, fmt.Errorf("invalid vapid public key: %w", err)
	}
	if cred.Topic == "" {
		return nil, errors.New("vapid subscriber is required")
	}

	httpClient := c.cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	c.logger.Debug("WebPush client ready", "variant_id", cred.VariantID)
	return &Transport{
		options: webpush.Options{
			Subscriber:      cred.Topic,
			VAPIDPublicKey:  cred.PublicKey,
			VAPIDPrivateKey: privateKey,
			TTL:             c.cfg.TTL,
			HTTPClient:      httpClient,
		},
		httpClient: httpClient,
		logger:     c.logger.With("variant_id", cred.VariantID),
	}, nil
}

// checkKey accepts the base64 encodings push services hand out.
func checkKey(key string, minSize, maxSize int) error {
	if key == "" {
		return errors.New("key is empty")
	}
	for _, enc := range []*base64.Encoding{base64.RawURLEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.StdEncoding} {
		if b, err := enc.DecodeString(key); err == nil {
			if len(b) < minSize || len(b) > maxSize {
				return fmt.Errorf("unexpected key length %d", len(b))
			}
			return nil
		}
	}
	return errors.New("key is not base64")
}
