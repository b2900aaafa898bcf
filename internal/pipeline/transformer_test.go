package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-dispatcher/internal/pipeline"
	"github.com/tinywideclouds/go-push-dispatcher/pkg/push"
)

func TestSendRequestTransformer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	testCases := []struct {
		name                  string
		payload               string
		expectError           bool
		expectedErrorContains string
		check                 func(t *testing.T, req *push.SendRequest)
	}{
		{
			name:    "Happy Path",
			payload: `{"platform":"ios","variantId":"v-1","environment":"production","tokens":["a","b"],"message":{"alert":"hi","badge":2},"pushMessageId":"corr-9"}`,
			check: func(t *testing.T, req *push.SendRequest) {
				assert.Equal(t, push.PlatformIOS, req.Platform)
				assert.Equal(t, push.EnvironmentProduction, req.Environment)
				assert.Equal(t, []string{"a", "b"}, req.Tokens)
				require.NotNil(t, req.Message.Badge)
				assert.Equal(t, 2, *req.Message.Badge)
				assert.Equal(t, "corr-9", req.CorrelationID)
			},
		},
		{
			name:    "Correlation id defaults to message id",
			payload: `{"platform":"web","variantId":"v-1","tokens":["a"],"message":{"alert":"hi"}}`,
			check: func(t *testing.T, req *push.SendRequest) {
				assert.Equal(t, "msg-1", req.CorrelationID)
			},
		},
		{
			name:                  "Failure - Malformed JSON",
			payload:               "not-json",
			expectError:           true,
			expectedErrorContains: "failed to unmarshal send request",
		},
		{
			name:                  "Failure - Unknown platform",
			payload:               `{"platform":"blackberry","variantId":"v-1","tokens":["a"]}`,
			expectError:           true,
			expectedErrorContains: "invalid send request",
		},
		{
			name:                  "Failure - Missing variant",
			payload:               `{"platform":"android","tokens":["a"]}`,
			expectError:           true,
			expectedErrorContains: "variantId is required",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			msg := &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{ID: "msg-1", Payload: []byte(tc.payload)},
			}
			req, skip, err := pipeline.SendRequestTransformer(ctx, msg)

			if tc.expectError {
				require.Error(t, err)
				assert.True(t, skip)
				assert.Contains(t, err.Error(), tc.expectedErrorContains)
				return
			}
			require.NoError(t, err)
			assert.False(t, skip)
			tc.check(t, req)
		})
	}
}
