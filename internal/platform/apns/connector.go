// Package apns connects to the Apple Push Notification Service with
// certificate-based credentials.
package apns

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/certificate"

	"github.com/tinywideclouds/go-push-dispatcher/internal/pool"
	"github.com/tinywideclouds/go-push-dispatcher/pkg/push"
)

// DefaultPort is the standard APNs HTTP/2 port.
const DefaultPort = 443

// oidUID is the subject attribute Apple uses for the bundle id of a push certificate.
var oidUID = asn1.ObjectIdentifier{0, 9, 2342, 19200300, 100, 1, 1}

// Config overrides the APNs endpoint. Empty values use Apple's hosts for
// the requested environment.
type Config struct {
	Host string
	Port int
}

// DialFunc opens the TLS connection used to verify a credential on connect.
type DialFunc func(ctx context.Context, network, addr string, cfg *tls.Config) (net.Conn, error)

// Connector implements pool.Connector for iOS variants.
type Connector struct {
	cfg    Config
	dial   DialFunc
	logger *slog.Logger
}

func NewConnector(cfg Config, logger *slog.Logger) *Connector {
	return &Connector{
		cfg:    cfg,
		dial:   dialTLS,
		logger: logger.With("component", "APNSConnector"),
	}
}

// Connect loads the certificate, resolves the topic and completes a TLS
// handshake with APNs before handing out the transport.
func (c *Connector) Connect(ctx context.Context, cred *push.Credential, env push.Environment) (pool.Transport, error) {
	cert, err := LoadCertificate(cred.Certificate, cred.Passphrase)
	if err != nil {
		return nil, err
	}

	topic := cred.Topic
	if topic == "" {
		topic, err = TopicFromCertificate(cert)
		if err != nil {
			return nil, err
		}
	}

	host, port := c.endpoint(env)
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	conn, err := c.dial(ctx, "tcp", addr, &tls.Config{
		Certificates: []tls.Certificate{cert},
		ServerName:   host,
		NextProtos:   []string{"h2"},
	})
	if err != nil {
		return nil, fmt.Errorf("apns handshake with %s failed: %w", addr, err)
	}
	_ = conn.Close()

	client := apns2.NewClient(cert)
	client.Host = "https://" + addr

	c.logger.Debug("APNs client ready", "variant_id", cred.VariantID, "topic", topic, "host", client.Host)
	return NewTransport(&clientAdapter{client: client}, topic, c.logger), nil
}

func (c *Connector) endpoint(env push.Environment) (string, int) {
	host := c.cfg.Host
	if host == "" {
		base := apns2.HostDevelopment
		if env == push.EnvironmentProduction {
			base = apns2.HostProduction
		}
		host = strings.TrimPrefix(base, "https://")
	}
	port := c.cfg.Port
	if port <= 0 {
		port = DefaultPort
	}
	return host, port
}

func dialTLS(ctx context.Context, network, addr string, cfg *tls.Config) (net.Conn, error) {
	d := &tls.Dialer{Config: cfg}
	return d.DialContext(ctx, network, addr)
}

// LoadCertificate accepts PKCS#12 or PEM bytes.
func LoadCertificate(data []byte, passphrase string) (tls.Certificate, error) {
	if len(data) == 0 {
		return tls.Certificate{}, errors.New("apns certificate is empty")
	}
	cert, p12Err := certificate.FromP12Bytes(data, passphrase)
	if p12Err == nil {
		return cert, nil
	}
	cert, pemErr := certificate.FromPemBytes(data, passphrase)
	if pemErr == nil {
		return cert, nil
	}
	return tls.Certificate{}, fmt.Errorf("error reading apns certificate: p12: %v, pem: %w", p12Err, pemErr)
}

// TopicFromCertificate reads the default topic (the bundle id) from the
// UID attribute of the certificate subject.
func TopicFromCertificate(cert tls.Certificate) (string, error) {
	leaf := cert.Leaf
	if leaf == nil {
		if len(cert.Certificate) == 0 {
			return "", errors.New("apns certificate has no leaf")
		}
		var err error
		leaf, err = x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return "", fmt.Errorf("failed to parse apns certificate: %w", err)
		}
	}
	for _, name := range leaf.Subject.Names {
		if !name.Type.Equal(oidUID) {
			continue
		}
		if topic, ok := name.Value.(string); ok && topic != "" {
			return topic, nil
		}
	}
	return "", errors.New("apns certificate subject carries no topic")
}
