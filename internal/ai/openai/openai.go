package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kiliankoe/promptdash/internal/ai"
)

const (
	DefaultImageModel = "dall-e-3"
	DefaultImageSize  = "1024x1024"
)

type Client struct {
	APIKey     string
	BaseURL    string
	ImageModel string
	ImageSize  string
	http       *http.Client
}

func New(apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	return &Client{
		APIKey:     apiKey,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		ImageModel: DefaultImageModel,
		ImageSize:  DefaultImageSize,
		// Image generation regularly takes longer than a chat completion.
		http: &http.Client{Timeout: 90 * time.Second},
	}
}

// GenerateImage renders prompt with the images API and returns the hosted URL.
func (c *Client) GenerateImage(ctx context.Context, prompt string) (string, error) {
	payload := map[string]any{
		"model":           c.ImageModel,
		"prompt":          prompt,
		"n":               1,
		"size":            c.ImageSize,
		"response_format": "url",
	}
	var out struct {
		Data []struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := c.post(ctx, "/v1/images/generations", payload, &out); err != nil {
		return "", err
	}
	if len(out.Data) == 0 || out.Data[0].URL == "" {
		return "", errors.New("openai returned no image")
	}
	return out.Data[0].URL, nil
}

// Complete uses chat completions for gpt models and the legacy completions
// endpoint otherwise, which has no system prompt.
func (c *Client) Complete(ctx context.Context, req ai.Request) (string, error) {
	if strings.Contains(req.Model, "gpt") {
		return c.chatComplete(ctx, req)
	}
	return c.textComplete(ctx, req)
}

func (c *Client) chatComplete(ctx context.Context, req ai.Request) (string, error) {
	payload := map[string]any{
		"model":       req.Model,
		"messages":    req.Messages(),
		"temperature": 1.0,
		"max_tokens":  120,
	}
	var out struct {
		Choices []struct {
			Message ai.Message `json:"message"`
		} `json:"choices"`
	}
	if err := c.post(ctx, "/v1/chat/completions", payload, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", errors.New("no choices")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

func (c *Client) textComplete(ctx context.Context, req ai.Request) (string, error) {
	payload := map[string]any{
		"model":       req.Model,
		"prompt":      req.Prompt,
		"temperature": 1.0,
		"max_tokens":  120,
	}
	var out struct {
		Choices []struct {
			Text string `json:"text"`
		} `json:"choices"`
	}
	if err := c.post(ctx, "/v1/completions", payload, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", errors.New("no choices")
	}
	return strings.TrimSpace(out.Choices[0].Text), nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	if c.APIKey == "" {
		return errors.New("missing OPENAI_API_KEY")
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("openai status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
