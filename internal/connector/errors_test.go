package connector

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageErrorExposesCause(t *testing.T) {
	cause := &RateLimitError{Endpoint: "https://api.example.com/v1/feed", Attempts: 6}
	err := error(&StageError{Stage: StageFetch, Err: cause})

	assert.Contains(t, err.Error(), "fetch stage")
	assert.Contains(t, err.Error(), "after 6 attempts")

	var rlErr *RateLimitError
	require.ErrorAs(t, err, &rlErr)
	assert.Equal(t, 6, rlErr.Attempts)
}

func TestErrorMessagesNameTheProblem(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "network",
			err:  &NetworkError{Endpoint: "https://host/path", Err: errors.New("connection refused")},
			want: "connection refused",
		},
		{
			name: "upstream",
			err:  &UpstreamError{Endpoint: "https://host/path", StatusCode: 502, Snippet: "bad gateway"},
			want: "502",
		},
		{
			name: "malformed",
			err:  &MalformedResponseError{Reason: "missing required field dt"},
			want: "missing required field dt",
		},
		{
			name: "storage write",
			err:  &StorageWriteError{Collection: "weather_reports", Err: errors.New("timeout")},
			want: "weather_reports",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Contains(t, tc.err.Error(), tc.want)
		})
	}
}
