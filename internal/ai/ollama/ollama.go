// Package ollama completes prompt suggestions with a local Ollama server.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kiliankoe/promptdash/internal/ai"
)

const DefaultHost = "http://localhost:11434"

type Client struct {
	host string
	http *http.Client
}

func New(host string) *Client {
	if host = strings.TrimRight(strings.TrimSpace(host), "/"); host == "" {
		host = DefaultHost
	}
	return &Client{host: host, http: &http.Client{Timeout: 30 * time.Second}}
}

type chatRequest struct {
	Model    string       `json:"model"`
	Messages []ai.Message `json:"messages"`
	Stream   bool         `json:"stream"`
}

type chatResponse struct {
	Message ai.Message `json:"message"`
}

// Complete sends one non-streaming /api/chat request.
func (c *Client) Complete(ctx context.Context, req ai.Request) (string, error) {
	body, err := json.Marshal(chatRequest{Model: req.Model, Messages: req.Messages()})
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama %s: status %d", req.Model, resp.StatusCode)
	}
	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode ollama reply: %w", err)
	}
	return strings.TrimSpace(out.Message.Content), nil
}
