// Package ai holds the text providers used for prompt inspiration.
package ai

import (
	"context"
	"errors"
	"strings"
)

// Request is one completion: the model, an optional system prompt and the
// user prompt.
type Request struct {
	Model  string
	System string
	Prompt string
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Messages is the chat form of r, system message first when set.
func (r Request) Messages() []Message {
	msgs := make([]Message, 0, 2)
	if r.System != "" {
		msgs = append(msgs, Message{Role: "system", Content: r.System})
	}
	return append(msgs, Message{Role: "user", Content: r.Prompt})
}

// Provider completes text. The OpenAI and Ollama clients implement it.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
}

const DefaultSystemPrompt = "You write prompts for an image generator in a party game. " +
	"Answer with a single vivid scene of at most 20 words and nothing else."

// Suggester asks a provider for an image prompt idea.
type Suggester struct {
	provider Provider
	model    string
	system   string
	maxLen   int
}

func NewSuggester(p Provider, model, systemPrompt string, maxLen int) *Suggester {
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = DefaultSystemPrompt
	}
	return &Suggester{provider: p, model: model, system: systemPrompt, maxLen: maxLen}
}

// Suggest returns one prompt idea, optionally steered by a theme. The result
// is cut to the prompt length limit so it can be submitted as is.
func (s *Suggester) Suggest(ctx context.Context, theme string) (string, error) {
	ask := "Suggest an image prompt."
	if theme = strings.TrimSpace(theme); theme != "" {
		ask = "Suggest an image prompt about: " + theme
	}
	out, err := s.provider.Complete(ctx, Request{Model: s.model, System: s.system, Prompt: ask})
	if err != nil {
		return "", err
	}
	out = strings.Trim(strings.TrimSpace(out), `"`)
	if out == "" {
		return "", errors.New("provider returned an empty suggestion")
	}
	if r := []rune(out); s.maxLen > 0 && len(r) > s.maxLen {
		out = strings.TrimSpace(string(r[:s.maxLen]))
	}
	return out, nil
}
