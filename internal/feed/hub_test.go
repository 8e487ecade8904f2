package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/kiliankoe/promptdash/internal/round"
)

func serve(t *testing.T, h *Hub) string {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeWS(w, r, strings.TrimPrefix(r.URL.Path, "/feed/"))
	}))
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func waitForSubscribers(t *testing.T, h *Hub, roundID string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Subscribers(roundID) != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers for %s, got %d", n, roundID, h.Subscribers(roundID))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSpectatorReceivesRoundEvents(t *testing.T) {
	h := NewHub(nil)
	url := serve(t, h)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url+"/feed/r1", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	waitForSubscribers(t, h, "r1", 1)

	// Events of other rounds are not delivered.
	if err := h.Publish(ctx, round.Channel("r2"), round.PhaseChanged{Phase: round.PhaseVoting}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := h.Publish(ctx, round.Channel("r1"), round.ImageGenerated{RoundID: "r1", ImageURL: "https://img/1.png"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg struct {
		T string         `json:"t"`
		M map[string]any `json:"m"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	if msg.T != "round:image" || msg.M["imageUrl"] != "https://img/1.png" {
		t.Fatalf("unexpected message %s", data)
	}

	conn.Close(websocket.StatusNormalClosure, "")
	waitForSubscribers(t, h, "r1", 0)
}

func TestForbiddenOrigin(t *testing.T) {
	h := NewHub([]string{"https://party.example"})
	url := serve(t, h)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, url+"/feed/r1", &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"https://evil.example"}},
	})
	if err == nil {
		t.Fatal("expected the handshake to fail")
	}
	if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestPublishRejectsForeignChannel(t *testing.T) {
	if err := NewHub(nil).Publish(context.Background(), "lobby", round.PhaseChanged{}); err == nil {
		t.Fatal("expected an error")
	}
}
