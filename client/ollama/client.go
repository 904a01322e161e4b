// Package ollama streams chat completions from an Ollama server's /api/chat
// endpoint, which answers with one JSON object per line.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"neopilot/logger"
	"neopilot/types"
)

// ChatRequest is the /api/chat request body
type ChatRequest struct {
	Model    string          `json:"model"`
	Messages []types.Message `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type chatResponse struct {
	Model      string        `json:"model"`
	Message    types.Message `json:"message"`
	Done       bool          `json:"done"`
	DoneReason string        `json:"done_reason"`
	Error      string        `json:"error"`
}

// StreamResult contains the aggregated stream
type StreamResult struct {
	Text       string
	DoneReason string
}

type Client struct {
	HTTPClient *http.Client
	URL        string
}

func NewClient(url string) *Client {
	return &Client{
		HTTPClient: &http.Client{},
		URL:        strings.TrimSuffix(url, "/"),
	}
}

// DoStreamingChat posts req with streaming enabled and calls onDelta for each
// message fragment until the server reports done.
func (c *Client) DoStreamingChat(ctx context.Context, req *ChatRequest, onDelta func(string)) (*StreamResult, error) {
	req.Stream = true

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.URL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama stream failed (%d): %s", resp.StatusCode, string(body))
	}

	var text strings.Builder
	result := &StreamResult{}

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var chunk chatResponse
			if jerr := json.Unmarshal(bytes.TrimSpace(line), &chunk); jerr != nil {
				logger.Debug("ollama stream: failed to parse line: %v", jerr)
			} else {
				if chunk.Error != "" {
					return nil, fmt.Errorf("ollama: %s", chunk.Error)
				}
				if chunk.Message.Content != "" {
					text.WriteString(chunk.Message.Content)
					if onDelta != nil {
						onDelta(chunk.Message.Content)
					}
				}
				if chunk.Done {
					result.DoneReason = chunk.DoneReason
					break
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read ollama stream: %w", err)
		}
	}

	result.Text = text.String()
	return result, nil
}
