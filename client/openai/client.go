package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"neopilot/logger"
	"neopilot/types"

	"github.com/andybalholm/brotli"
)

// ChatRequest matches the OpenAI Chat Completions API format
type ChatRequest struct {
	Model       string          `json:"model"`
	Messages    []types.Message `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
	Stream      bool            `json:"stream"`
}

// StreamChunk represents a single SSE chunk from a streaming chat response
type StreamChunk struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// StreamResult contains the result of a streaming completion
type StreamResult struct {
	Text         string
	FinishReason string
}

// Client is a reusable OpenAI-compatible API client
type Client struct {
	HTTPClient *http.Client
	URL        string
	APIKey     string
	// Compress brotli-encodes request bodies; the server must accept Content-Encoding: br
	Compress bool
}

// NewClient creates a new OpenAI-compatible client
func NewClient(url, apiKey string) *Client {
	return &Client{
		HTTPClient: &http.Client{},
		URL:        strings.TrimSuffix(url, "/"),
		APIKey:     apiKey,
	}
}

// DoStreamingChat sends a streaming chat request. onDelta is called for every content
// delta in arrival order; the aggregated text is returned once the stream ends.
func (c *Client) DoStreamingChat(ctx context.Context, req *ChatRequest, onDelta func(string)) (*StreamResult, error) {
	req.Stream = true

	body, encoding, err := c.encodeBody(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.URL+"/v1/chat/completions", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if encoding != "" {
		httpReq.Header.Set("Content-Encoding", encoding)
	}
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return readStream(resp.Body, onDelta)
}

// encodeBody marshals req without HTML escaping, brotli-compressing it when enabled
func (c *Client) encodeBody(req *ChatRequest) (io.Reader, string, error) {
	var buf bytes.Buffer
	var w io.Writer = &buf
	var bw *brotli.Writer
	if c.Compress {
		bw = brotli.NewWriterLevel(&buf, brotli.BestSpeed)
		w = bw
	}

	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(req); err != nil {
		return nil, "", fmt.Errorf("failed to marshal request: %w", err)
	}
	if bw == nil {
		return &buf, "", nil
	}
	if err := bw.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to compress request: %w", err)
	}
	return &buf, "br", nil
}

// readStream reads SSE "data:" lines until [DONE] or EOF
func readStream(body io.Reader, onDelta func(string)) (*StreamResult, error) {
	var textBuilder strings.Builder
	var finishReason string

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		jsonData := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if jsonData == "[DONE]" {
			break
		}

		var chunk StreamChunk
		if err := json.Unmarshal([]byte(jsonData), &chunk); err != nil {
			logger.Debug("openai stream: failed to parse chunk: %v", err)
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		if text := chunk.Choices[0].Delta.Content; text != "" {
			textBuilder.WriteString(text)
			if onDelta != nil {
				onDelta(text)
			}
		}
		if chunk.Choices[0].FinishReason != "" {
			finishReason = chunk.Choices[0].FinishReason
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}

	return &StreamResult{
		Text:         textBuilder.String(),
		FinishReason: finishReason,
	}, nil
}
