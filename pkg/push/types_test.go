package push_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-dispatcher/pkg/push"
)

func TestParsePlatform(t *testing.T) {
	p, err := push.ParsePlatform(" iOS ")
	require.NoError(t, err)
	assert.Equal(t, push.PlatformIOS, p)

	_, err = push.ParsePlatform("windows")
	assert.ErrorIs(t, err, push.ErrUnsupportedPlatform)
}

func TestParseEnvironment(t *testing.T) {
	env, err := push.ParseEnvironment("")
	require.NoError(t, err)
	assert.Equal(t, push.EnvironmentDevelopment, env)

	env, err = push.ParseEnvironment("prod")
	require.NoError(t, err)
	assert.Equal(t, push.EnvironmentProduction, env)

	_, err = push.ParseEnvironment("staging")
	assert.ErrorIs(t, err, push.ErrInvalidRequest)
}

func TestPayload_Immutable(t *testing.T) {
	raw := []byte(`{"aps":{}}`)
	p := push.NewPayload(raw)
	raw[0] = 'X'

	b := p.Bytes()
	b[1] = 'Y'

	assert.Equal(t, `{"aps":{}}`, p.String())
	assert.Equal(t, 10, p.Size())
}

func TestOutcome_ShouldInvalidate(t *testing.T) {
	testCases := []struct {
		name    string
		outcome push.Outcome
		want    bool
	}{
		{"accepted", push.Outcome{Result: push.ResultAccepted}, false},
		{"transient rejection", push.Outcome{Result: push.ResultRejected, Reason: "TooManyRequests"}, false},
		{"permanent rejection", push.Outcome{Result: push.ResultRejected, Permanent: true}, true},
		{"invalidation timestamp", push.Outcome{Result: push.ResultRejected, InvalidatedAt: time.Now()}, true},
		{"transport error", push.Outcome{Result: push.ResultTransportError, Permanent: true}, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.outcome.ShouldInvalidate())
		})
	}
}

func TestErrors_Matching(t *testing.T) {
	var tooLarge error = &push.PayloadTooLargeError{Size: 5000, Max: 4096}
	assert.ErrorIs(t, tooLarge, push.ErrPayloadTooLarge)
	assert.Contains(t, tooLarge.Error(), "5000")

	cause := errors.New("handshake failure")
	var connErr error = &push.ConnectionError{VariantID: "v1", Environment: push.EnvironmentProduction, Err: cause}
	assert.ErrorIs(t, connErr, push.ErrConnection)
	assert.ErrorIs(t, connErr, cause)
}

func TestSendRequest_Validate(t *testing.T) {
	req := push.SendRequest{Platform: push.PlatformIOS, VariantID: "v1"}
	require.NoError(t, req.Validate())

	req.VariantID = ""
	assert.ErrorIs(t, req.Validate(), push.ErrInvalidRequest)

	req = push.SendRequest{Platform: "blackberry", VariantID: "v1"}
	assert.ErrorIs(t, req.Validate(), push.ErrUnsupportedPlatform)
}
