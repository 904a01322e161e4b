package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"neopilot/types"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseChunk(content, finish string) string {
	chunk := map[string]any{
		"choices": []map[string]any{{
			"index":         0,
			"delta":         map[string]string{"content": content},
			"finish_reason": finish,
		}},
	}
	data, _ := json.Marshal(chunk)
	return fmt.Sprintf("data: %s\n\n", data)
}

func TestDoStreamingChat_Basic(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get("Content-Encoding"))

		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		assert.Equal(t, "coder", req.Model)
		assert.Len(t, req.Messages, 2)

		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, ": keep-alive\n\n")
		io.WriteString(w, sseChunk("[{\"content\":", ""))
		io.WriteString(w, sseChunk("\"x\"}]", "stop"))
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", "key")
	var deltas []string
	res, err := client.DoStreamingChat(context.Background(), &ChatRequest{
		Model: "coder",
		Messages: []types.Message{
			{Role: types.RoleSystem, Content: "sys"},
			{Role: types.RoleUser, Content: "user"},
		},
	}, func(s string) { deltas = append(deltas, s) })

	require.NoError(t, err)
	assert.Equal(t, `[{"content":"x"}]`, res.Text)
	assert.Equal(t, "stop", res.FinishReason)
	assert.Equal(t, []string{`[{"content":`, `"x"}]`}, deltas)
}

func TestDoStreamingChat_Compressed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "br", r.Header.Get("Content-Encoding"))

		var req ChatRequest
		require.NoError(t, json.NewDecoder(brotli.NewReader(r.Body)).Decode(&req))
		assert.Equal(t, "<b>&</b>", req.Messages[0].Content, "HTML is not escaped")

		io.WriteString(w, sseChunk("ok", "stop"))
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	client.Compress = true
	res, err := client.DoStreamingChat(context.Background(), &ChatRequest{
		Model:    "m",
		Messages: []types.Message{{Role: types.RoleUser, Content: "<b>&</b>"}},
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)
}

func TestDoStreamingChat_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("slow down"))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "").DoStreamingChat(context.Background(), &ChatRequest{Model: "m"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "slow down")
}

func TestDoStreamingChat_SkipsInvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "data: {not json}\n\n")
		io.WriteString(w, "event: ping\n\n")
		io.WriteString(w, sseChunk("a", ""))
		io.WriteString(w, "data: {\"choices\":[]}\n\n")
		io.WriteString(w, sseChunk("b", ""))
	}))
	defer server.Close()

	res, err := NewClient(server.URL, "").DoStreamingChat(context.Background(), &ChatRequest{Model: "m"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ab", res.Text)
}

func TestDoStreamingChat_Cancel(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, sseChunk("partial", ""))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := NewClient(server.URL, "").DoStreamingChat(ctx, &ChatRequest{Model: "m"}, nil)
	require.Error(t, err)
	assert.Error(t, ctx.Err())
}
