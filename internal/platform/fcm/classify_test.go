package fcm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNamesToken(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want bool
	}{
		{"malformed token", errors.New("The registration token is not a valid FCM registration token"), true},
		{"mixed case", errors.New("Invalid Registration Token"), true},
		{"reserved data key", errors.New("Invalid data payload key: from"), false},
		{"oversized payload", errors.New("Request contains an invalid argument."), false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, namesToken(tc.err))
		})
	}
}
