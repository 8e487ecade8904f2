package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kiliankoe/promptdash/internal/ai"
)

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body chatRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Model != "llama3" || body.Stream || len(body.Messages) != 2 || body.Messages[0].Role != "system" {
			t.Errorf("unexpected request %+v", body)
		}
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":" A submarine full of cats "}}`))
	}))
	defer srv.Close()

	out, err := New(srv.URL+"/").Complete(context.Background(), ai.Request{Model: "llama3", System: "be brief", Prompt: "go"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "A submarine full of cats" {
		t.Fatalf("unexpected completion %q", out)
	}
}

func TestCompleteStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := New(srv.URL).Complete(context.Background(), ai.Request{Model: "llama3", Prompt: "go"}); err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestNewDefaultsHost(t *testing.T) {
	if c := New("  "); c.host != DefaultHost {
		t.Fatalf("expected %s, got %s", DefaultHost, c.host)
	}
}
