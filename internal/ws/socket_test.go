package ws

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kiliankoe/promptdash/internal/ai"
	"github.com/kiliankoe/promptdash/internal/bus"
	"github.com/kiliankoe/promptdash/internal/lobby"
	"github.com/kiliankoe/promptdash/internal/round"
	"github.com/kiliankoe/promptdash/internal/store/memory"
)

type nopScheduler struct{}

func (nopScheduler) ScheduleTimeout(context.Context, string, round.Phase, time.Duration) error {
	return nil
}

type staticImages struct{}

func (staticImages) GenerateImage(context.Context, string) (string, error) {
	return "https://images.example.com/1.png", nil
}

type cannedProvider struct{ text string }

func (p cannedProvider) Complete(context.Context, ai.Request) (string, error) { return p.text, nil }

type fixture struct {
	srv     *Server
	lobby   *lobby.Manager
	engine  *round.Engine
	code    string
	players []string
	roundID string
}

// newFixture starts a three player game and its first round.
func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	b := bus.New()
	cfg := round.DefaultConfig()
	eng := round.New(round.Deps{
		Rounds:    st,
		Games:     st,
		Bus:       b,
		Scheduler: nopScheduler{},
		Images:    staticImages{},
		Config:    cfg,
	})
	lm := lobby.NewManager(st, cfg)
	srv := New(lm, eng, opts...)
	b.Subscribe("ws", srv)

	code, hostToken, err := lm.CreateSession()
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	sess, _ := lm.Get(code)
	var players []string
	for _, name := range []string{"Alice", "Bob", "Charlie"} {
		id, _, err := sess.Join(name)
		if err != nil {
			t.Fatalf("join %s: %v", name, err)
		}
		players = append(players, id)
	}
	g, err := lm.StartGame(ctx, code, hostToken, 2)
	if err != nil {
		t.Fatalf("start game: %v", err)
	}
	st0, err := eng.Execute(ctx, round.StartNextRound{GameID: g.ID}, time.Now())
	if err != nil {
		t.Fatalf("start round: %v", err)
	}
	return fixture{srv: srv, lobby: lm, engine: eng, code: code, players: players, roundID: st0.ID}
}

func TestErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: empty", round.ErrInvalidCommand), "bad_request"},
		{round.ErrInvalidIndex, "bad_request"},
		{round.ErrNotFound, "not_found"},
		{lobby.ErrSessionNotFound, "not_found"},
		{fmt.Errorf("wrapped: %w", round.ErrWrongPhase), "conflict"},
		{round.ErrConflict, "conflict"},
		{round.ErrDeadlinePassed, "conflict"},
		{lobby.ErrAlreadyStarted, "conflict"},
		{round.ErrNotActivePlayer, "forbidden"},
		{round.ErrActivePlayer, "forbidden"},
		{lobby.ErrNotHost, "forbidden"},
		{ErrSuggestionsDisabled, "unavailable"},
		{&round.InvariantError{Reason: "x"}, "internal"},
		{errors.New("disk on fire"), "internal"},
	}
	for _, tc := range cases {
		if got := errorCode(tc.err); got != tc.want {
			t.Fatalf("errorCode(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestAllowOrigin(t *testing.T) {
	if got, ok := allowOrigin(nil, "https://evil.example"); !ok || got != "*" {
		t.Fatalf("empty allowlist should allow any origin, got %q %v", got, ok)
	}
	list := []string{"https://party.example"}
	if got, ok := allowOrigin(list, "https://party.example"); !ok || got != "https://party.example" {
		t.Fatalf("listed origin rejected: %q %v", got, ok)
	}
	if _, ok := allowOrigin(list, "https://evil.example"); ok {
		t.Fatal("unlisted origin should be rejected")
	}
}

func TestSessionForResolvesAndCaches(t *testing.T) {
	f := newFixture(t)
	code, err := f.srv.sessionFor(context.Background(), f.roundID)
	if err != nil {
		t.Fatalf("sessionFor: %v", err)
	}
	if code != f.code {
		t.Fatalf("expected session %s, got %s", f.code, code)
	}
	if cached := f.srv.rounds[f.roundID]; cached != f.code {
		t.Fatalf("expected round to be cached, got %q", cached)
	}
	if _, err := f.srv.sessionFor(context.Background(), "missing"); !errors.Is(err, round.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPublishWithoutSocketServer(t *testing.T) {
	f := newFixture(t)
	ev := round.PhaseChanged{Phase: round.PhaseGuessing}
	if err := f.srv.Publish(context.Background(), round.Channel(f.roundID), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := f.srv.Publish(context.Background(), "lobby", ev); err == nil {
		t.Fatal("expected an error for a non-round channel")
	}
}

func TestStateCarriesPublicRound(t *testing.T) {
	f := newFixture(t)
	sess, _ := f.lobby.Get(f.code)
	st := f.srv.state(context.Background(), sess)

	if st["status"] != lobby.StatusPlaying {
		t.Fatalf("expected playing status, got %v", st["status"])
	}
	g, ok := st["game"].(round.Game)
	if !ok || g.CurrentRoundID != f.roundID {
		t.Fatalf("expected game pointing at %s, got %#v", f.roundID, st["game"])
	}
	pv, ok := st["round"].(round.PublicView)
	if !ok || pv.Phase != round.PhasePrompt || pv.ActivePlayer != f.players[0] {
		t.Fatalf("unexpected round view %#v", st["round"])
	}

	you := personalize(st, &ConnCtx{Role: rolePlayer, PlayerID: f.players[1]})["you"].(map[string]any)
	if you["playerId"] != f.players[1] || you["role"] != rolePlayer {
		t.Fatalf("unexpected personalization %v", you)
	}
	if _, ok := st["you"]; ok {
		t.Fatal("personalize must not modify the shared state")
	}
}

func TestSuggest(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t)
	if _, err := f.srv.suggest(ctx, f.roundID, f.players[0], ""); !errors.Is(err, ErrSuggestionsDisabled) {
		t.Fatalf("expected ErrSuggestionsDisabled, got %v", err)
	}

	sug := ai.NewSuggester(cannedProvider{text: `"A lighthouse made of cheese"`}, "m", "", 280)
	f = newFixture(t, WithSuggester(sug))
	text, err := f.srv.suggest(ctx, f.roundID, f.players[0], "food")
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if text != "A lighthouse made of cheese" {
		t.Fatalf("unexpected suggestion %q", text)
	}
	if _, err := f.srv.suggest(ctx, f.roundID, f.players[1], ""); !errors.Is(err, round.ErrNotActivePlayer) {
		t.Fatalf("expected ErrNotActivePlayer, got %v", err)
	}
	if _, err := f.srv.suggest(ctx, f.roundID, "stranger", ""); !errors.Is(err, round.ErrNotMember) {
		t.Fatalf("expected ErrNotMember, got %v", err)
	}

	cmd, _ := round.NewSubmitPrompt(f.engine.Config(), f.roundID, f.players[0], "A cat")
	if _, err := f.engine.Execute(ctx, cmd, time.Now()); err != nil {
		t.Fatalf("submit prompt: %v", err)
	}
	if _, err := f.srv.suggest(ctx, f.roundID, f.players[0], ""); !errors.Is(err, round.ErrWrongPhase) {
		t.Fatalf("expected ErrWrongPhase after the prompt is in, got %v", err)
	}
}
