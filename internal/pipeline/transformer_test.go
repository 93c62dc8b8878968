package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-notifyhub/internal/pipeline"
	"github.com/tinywideclouds/go-notifyhub/internal/sender"
)

func TestSendRequestTransformer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	testCases := []struct {
		name                  string
		payload               string
		expected              *sender.Request
		expectedErrorContains string
	}{
		{
			name:    "Happy Path",
			payload: `{"api_key":"API-XXXX","title":"Hello","body":"World","url":"https://example.com","data":{"n":"1"}}`,
			expected: &sender.Request{
				APIKey:  "API-XXXX",
				Title:   "Hello",
				Content: "World",
				URL:     "https://example.com",
				Data:    map[string]any{"n": "1"},
			},
		},
		{
			name:                  "Failure - Malformed JSON",
			payload:               "not-json",
			expectedErrorContains: "failed to unmarshal send request",
		},
		{
			name:                  "Failure - Missing title",
			payload:               `{"api_key":"API-XXXX","body":"World"}`,
			expectedErrorContains: "Title (t) is required",
		},
	}

	for i, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			msg := &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{ID: "msg-" + string(rune('1'+i)), Payload: []byte(tc.payload)},
			}
			req, skip, err := pipeline.SendRequestTransformer(ctx, msg)

			if tc.expectedErrorContains != "" {
				require.Error(t, err)
				assert.True(t, skip)
				assert.Contains(t, err.Error(), tc.expectedErrorContains)
				return
			}
			require.NoError(t, err)
			assert.False(t, skip)
			assert.Equal(t, tc.expected, req)
		})
	}
}
