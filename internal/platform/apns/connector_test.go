package apns

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-dispatcher/pkg/push"
)

// newPushCertPEM creates a self-signed certificate shaped like an Apple push
// certificate, with the bundle id in the subject UID.
func newPushCertPEM(t *testing.T, bundleID string) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	subject := pkix.Name{CommonName: "Apple Push Services: " + bundleID}
	if bundleID != "" {
		subject.ExtraNames = []pkix.AttributeTypeAndValue{{Type: oidUID, Value: bundleID}}
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      subject,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	out := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	out = append(out, pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})...)
	return out
}

type recordingDialer struct {
	addrs []string
	names []string
	err   error
}

func (r *recordingDialer) dial(_ context.Context, _, addr string, cfg *tls.Config) (net.Conn, error) {
	r.addrs = append(r.addrs, addr)
	r.names = append(r.names, cfg.ServerName)
	if r.err != nil {
		return nil, r.err
	}
	client, server := net.Pipe()
	_ = server.Close()
	return client, nil
}

func TestTopicFromCertificate(t *testing.T) {
	cert, err := LoadCertificate(newPushCertPEM(t, "com.example.app"), "")
	require.NoError(t, err)

	topic, err := TopicFromCertificate(cert)
	require.NoError(t, err)
	assert.Equal(t, "com.example.app", topic)

	t.Run("Missing UID", func(t *testing.T) {
		cert, err := LoadCertificate(newPushCertPEM(t, ""), "")
		require.NoError(t, err)
		_, err = TopicFromCertificate(cert)
		assert.Error(t, err)
	})
}

func TestLoadCertificate_Garbage(t *testing.T) {
	_, err := LoadCertificate([]byte("not a certificate"), "secret")
	assert.Error(t, err)

	_, err = LoadCertificate(nil, "")
	assert.Error(t, err)
}

func TestConnector_Connect(t *testing.T) {
	ctx := context.Background()
	certPEM := newPushCertPEM(t, "com.example.app")
	cred := &push.Credential{VariantID: "ios-1", Platform: push.PlatformIOS, Certificate: certPEM}

	t.Run("Development endpoint", func(t *testing.T) {
		d := &recordingDialer{}
		c := NewConnector(Config{}, newTestLogger())
		c.dial = d.dial

		transport, err := c.Connect(ctx, cred, push.EnvironmentDevelopment)
		require.NoError(t, err)

		assert.Equal(t, []string{"api.sandbox.push.apple.com:443"}, d.addrs)
		assert.Equal(t, []string{"api.sandbox.push.apple.com"}, d.names)
		assert.Equal(t, "com.example.app", transport.(*Transport).topic)
	})

	t.Run("Production endpoint", func(t *testing.T) {
		d := &recordingDialer{}
		c := NewConnector(Config{}, newTestLogger())
		c.dial = d.dial

		_, err := c.Connect(ctx, cred, push.EnvironmentProduction)
		require.NoError(t, err)
		assert.Equal(t, []string{"api.push.apple.com:443"}, d.addrs)
	})

	t.Run("Custom host and port", func(t *testing.T) {
		d := &recordingDialer{}
		c := NewConnector(Config{Host: "apns.internal", Port: 2197}, newTestLogger())
		c.dial = d.dial

		_, err := c.Connect(ctx, cred, push.EnvironmentProduction)
		require.NoError(t, err)
		assert.Equal(t, []string{"apns.internal:2197"}, d.addrs)
	})

	t.Run("Credential topic overrides certificate", func(t *testing.T) {
		d := &recordingDialer{}
		c := NewConnector(Config{}, newTestLogger())
		c.dial = d.dial

		override := *cred
		override.Topic = "com.example.voip"
		transport, err := c.Connect(ctx, &override, push.EnvironmentDevelopment)
		require.NoError(t, err)
		assert.Equal(t, "com.example.voip", transport.(*Transport).topic)
	})

	t.Run("Handshake failure", func(t *testing.T) {
		d := &recordingDialer{err: errors.New("remote error: tls: bad certificate")}
		c := NewConnector(Config{}, newTestLogger())
		c.dial = d.dial

		_, err := c.Connect(ctx, cred, push.EnvironmentDevelopment)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "handshake")
	})

	t.Run("Unreadable certificate never dials", func(t *testing.T) {
		d := &recordingDialer{}
		c := NewConnector(Config{}, newTestLogger())
		c.dial = d.dial

		_, err := c.Connect(ctx, &push.Credential{VariantID: "broken", Certificate: []byte("junk")}, push.EnvironmentDevelopment)
		require.Error(t, err)
		assert.Empty(t, d.addrs)
	})
}
