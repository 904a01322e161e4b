package ollama

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"neopilot/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoStreamingChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)

		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		assert.Equal(t, "qwen", req.Model)
		assert.Equal(t, 0.2, req.Options["temperature"])

		io.WriteString(w, `{"model":"qwen","message":{"role":"assistant","content":"[{"},"done":false}`+"\n")
		io.WriteString(w, "\n")
		io.WriteString(w, `{"model":"qwen","message":{"role":"assistant","content":"}]"},"done":false}`+"\n")
		io.WriteString(w, `{"model":"qwen","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop"}`+"\n")
		io.WriteString(w, `{"model":"qwen","message":{"role":"assistant","content":"ignored"},"done":false}`+"\n")
	}))
	defer server.Close()

	var deltas []string
	res, err := NewClient(server.URL).DoStreamingChat(context.Background(), &ChatRequest{
		Model:    "qwen",
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
		Options:  map[string]any{"temperature": 0.2},
	}, func(s string) { deltas = append(deltas, s) })

	require.NoError(t, err)
	assert.Equal(t, "[{}]", res.Text)
	assert.Equal(t, "stop", res.DoneReason)
	assert.Equal(t, []string{"[{", "}]"}, deltas)
}

func TestDoStreamingChat_NoTrailingNewline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"message":{"content":"abc"},"done":false}`)
	}))
	defer server.Close()

	res, err := NewClient(server.URL).DoStreamingChat(context.Background(), &ChatRequest{Model: "m"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "abc", res.Text)
}

func TestDoStreamingChat_ErrorLine(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"error":"model not found"}`+"\n")
	}))
	defer server.Close()

	_, err := NewClient(server.URL).DoStreamingChat(context.Background(), &ChatRequest{Model: "m"}, nil)
	assert.ErrorContains(t, err, "model not found")
}

func TestDoStreamingChat_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, "no such model")
	}))
	defer server.Close()

	_, err := NewClient(server.URL).DoStreamingChat(context.Background(), &ChatRequest{Model: "m"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
