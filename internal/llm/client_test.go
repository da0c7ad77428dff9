package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompleteSendsMessagesRequest(t *testing.T) {
	var got messagesRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"content": []map[string]string{{"type": "text", "text": "hello there"}},
		})
	}))
	defer srv.Close()

	c := NewAnthropicClient(srv.URL, "test-key", "test-model")

	reply, err := c.Complete(context.Background(), "be brief", []Turn{
		{Role: "user", Content: "hi"},
	}, 256)
	require.NoError(t, err)

	assert.Equal(t, "hello there", reply)
	assert.Equal(t, "test-model", got.Model)
	assert.Equal(t, 256, got.MaxTokens)
	assert.Equal(t, "be brief", got.System)
	require.Len(t, got.Messages, 1)
}

func TestCompleteProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewAnthropicClient(srv.URL, "test-key", "test-model")

	_, err := c.Complete(context.Background(), "", []Turn{{Role: "user", Content: "hi"}}, 256)
	assert.Error(t, err)
}

func TestCompleteNoTextContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"content": []map[string]string{}})
	}))
	defer srv.Close()

	c := NewAnthropicClient(srv.URL, "test-key", "test-model")

	_, err := c.Complete(context.Background(), "", []Turn{{Role: "user", Content: "hi"}}, 256)
	assert.Error(t, err)
}
