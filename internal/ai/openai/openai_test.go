package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kiliankoe/promptdash/internal/ai"
)

func TestGenerateImage(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/images/generations" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"data":[{"url":"https://images.example.com/cat.png"}]}`))
	}))
	defer srv.Close()

	c := New("sk-test", srv.URL+"/")
	url, err := c.GenerateImage(context.Background(), "A cat playing piano")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "https://images.example.com/cat.png" {
		t.Fatalf("unexpected url %q", url)
	}
	if got["prompt"] != "A cat playing piano" || got["model"] != DefaultImageModel || got["size"] != DefaultImageSize {
		t.Fatalf("unexpected payload %v", got)
	}
}

func TestGenerateImageErrors(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"content policy"}}`, http.StatusBadRequest)
	}))
	defer failing.Close()
	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer empty.Close()

	_, err := New("sk-test", failing.URL).GenerateImage(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected status error, got %v", err)
	}
	if _, err := New("", failing.URL).GenerateImage(context.Background(), "x"); err == nil {
		t.Fatal("missing api key should fail")
	}
	if _, err := New("sk-test", empty.URL).GenerateImage(context.Background(), "x"); err == nil {
		t.Fatal("empty data should fail")
	}
}

func TestChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body struct {
			Messages []map[string]string `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len(body.Messages) != 2 || body.Messages[0]["role"] != "system" {
			t.Errorf("expected system and user messages, got %v", body.Messages)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  A lighthouse made of cheese \n"}}]}`))
	}))
	defer srv.Close()

	out, err := New("sk-test", srv.URL).Complete(context.Background(), ai.Request{Model: "gpt-4o-mini", System: "be brief", Prompt: "go"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "A lighthouse made of cheese" {
		t.Fatalf("unexpected completion %q", out)
	}
}
