package lobby

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kiliankoe/promptdash/internal/round"
	"github.com/kiliankoe/promptdash/internal/store/memory"
)

func newManager(opts ...Option) (*Manager, *memory.Store) {
	st := memory.New()
	return NewManager(st, round.DefaultConfig(), opts...), st
}

func TestNewManager(t *testing.T) {
	m, _ := newManager()
	if m.sessions == nil {
		t.Fatal("sessions map should be initialized")
	}
	if m.active != "" {
		t.Fatal("active session should be empty initially")
	}
}

func TestCreateSession(t *testing.T) {
	m, _ := newManager()
	code, hostToken, err := m.CreateSession()
	if err != nil {
		t.Fatalf("should be able to create session: %v", err)
	}
	if len(code) != 5 {
		t.Fatalf("expected a 5 character code, got %q", code)
	}
	if hostToken == "" {
		t.Fatal("host token should not be empty")
	}

	session, err := m.Get(code)
	if err != nil {
		t.Fatalf("should be able to retrieve created session: %v", err)
	}
	if session.HostToken != hostToken {
		t.Fatalf("expected host token %s, got %s", hostToken, session.HostToken)
	}
	if session.Status() != StatusLobby {
		t.Fatalf("expected status %s, got %s", StatusLobby, session.Status())
	}
	if active, _ := m.Active(); active != code {
		t.Fatalf("expected active session %s, got %s", code, active)
	}
	if _, err := m.Get("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSingleSessionReplacesPrevious(t *testing.T) {
	m, _ := newManager(WithSingleSession(true))
	first, _, _ := m.CreateSession()
	second, _, _ := m.CreateSession()
	if _, err := m.Get(first); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("first session should be gone, got %v", err)
	}
	if active, _ := m.Active(); active != second {
		t.Fatalf("expected active %s, got %s", second, active)
	}

	multi, _ := newManager()
	a, _, _ := multi.CreateSession()
	multi.CreateSession()
	if _, err := multi.Get(a); err != nil {
		t.Fatalf("sessions should coexist without single-session mode: %v", err)
	}
}

func TestPlayerJoin(t *testing.T) {
	m, _ := newManager()
	code, _, _ := m.CreateSession()
	session, _ := m.Get(code)

	id1, token1, err := session.Join("Alice")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if id1 == "" || token1 == "" {
		t.Fatal("player id and token should not be empty")
	}
	id2, token2, err := session.Join("  Bob ")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if id2 == id1 || token2 == token1 {
		t.Fatal("different players should have different ids and tokens")
	}

	players := session.Players()
	if len(players) != 2 || players[0].Name != "Alice" || players[1].Name != "Bob" {
		t.Fatalf("expected Alice and Bob in join order, got %+v", players)
	}
	if got := session.PlayerIDByToken(token2); got != id2 {
		t.Fatalf("expected %s for token, got %s", id2, got)
	}
	if _, err := session.Authenticate("bogus"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if got := session.PlayerName(id1); got != "Alice" {
		t.Fatalf("expected Alice, got %s", got)
	}
	if got := session.PlayerName("ghost"); got != "ghost" {
		t.Fatalf("unknown ids should fall back to the id, got %s", got)
	}
	if _, _, err := session.Join("   "); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}

func TestSessionFull(t *testing.T) {
	m, _ := newManager()
	code, _, _ := m.CreateSession()
	session, _ := m.Get(code)
	for i := 0; i < round.DefaultConfig().MaxPlayers; i++ {
		if _, _, err := session.Join(fmt.Sprintf("p%d", i)); err != nil {
			t.Fatalf("join %d: %v", i, err)
		}
	}
	if _, _, err := session.Join("late"); !errors.Is(err, ErrSessionFull) {
		t.Fatalf("expected ErrSessionFull, got %v", err)
	}
}

func TestStartGame(t *testing.T) {
	m, st := newManager()
	ctx := context.Background()
	code, hostToken, _ := m.CreateSession()
	session, _ := m.Get(code)

	session.Join("Alice")
	session.Join("Bob")
	if _, err := m.StartGame(ctx, code, hostToken, 3); !errors.Is(err, ErrNotEnoughPlayers) {
		t.Fatalf("expected ErrNotEnoughPlayers, got %v", err)
	}
	session.Join("Charlie")

	if _, err := m.StartGame(ctx, code, "invalid-token", 3); !errors.Is(err, ErrNotHost) {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}

	g, err := m.StartGame(ctx, code, hostToken, 0)
	if err != nil {
		t.Fatalf("start game: %v", err)
	}
	if g.TotalRounds != round.DefaultConfig().TotalRounds {
		t.Fatalf("expected default total rounds, got %d", g.TotalRounds)
	}
	players := session.Players()
	for i, p := range players {
		if g.Players[i] != p.ID {
			t.Fatalf("game roster should follow join order: %v vs %+v", g.Players, players)
		}
	}
	if session.GameID() != g.ID || session.Status() != StatusPlaying {
		t.Fatalf("session should point at game %s, got %s (%s)", g.ID, session.GameID(), session.Status())
	}
	if _, err := st.LoadGame(ctx, g.ID); err != nil {
		t.Fatalf("game should be stored: %v", err)
	}
	if byGame, err := m.SessionByGame(g.ID); err != nil || byGame != session {
		t.Fatalf("SessionByGame: %v", err)
	}

	if _, err := m.StartGame(ctx, code, hostToken, 3); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
	if _, _, err := session.Join("Dana"); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted on late join, got %v", err)
	}
}

func TestCheckHost(t *testing.T) {
	m, _ := newManager()
	code, hostToken, _ := m.CreateSession()
	session, _ := m.Get(code)
	if err := session.CheckHost(hostToken); err != nil {
		t.Fatalf("valid host token rejected: %v", err)
	}
	if err := session.CheckHost(""); !errors.Is(err, ErrNotHost) {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}
}
