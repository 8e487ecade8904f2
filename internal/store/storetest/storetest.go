// Package storetest runs the gateway contract against any implementation.
package storetest

import (
	"context"
	"errors"
	"maps"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/kiliankoe/promptdash/internal/round"
)

// Gateway is what a store must provide to run the suite.
type Gateway interface {
	round.Gateway
	round.GameGateway
}

var (
	players = []string{"alex", "bailey", "casey", "devon"}
	started = time.UnixMilli(1_700_000_000_000).UTC()
)

// Run exercises the contract on stores built by open. Each subtest gets a
// fresh store.
func Run(t *testing.T, open func(t *testing.T) Gateway) {
	t.Run("StartNewRound", func(t *testing.T) { testStartNewRound(t, open(t)) })
	t.Run("AppendIdempotence", func(t *testing.T) { testAppendIdempotence(t, open(t)) })
	t.Run("AppendPhaseGates", func(t *testing.T) { testAppendPhaseGates(t, open(t)) })
	t.Run("SaveRoundTrip", func(t *testing.T) { testSaveRoundTrip(t, open(t)) })
	t.Run("SaveOnlyAdvances", func(t *testing.T) { testSaveOnlyAdvances(t, open(t)) })
	t.Run("SaveKeepsUnseenAppends", func(t *testing.T) { testSaveKeepsUnseenAppends(t, open(t)) })
	t.Run("ConcurrentDecoys", func(t *testing.T) { testConcurrentDecoys(t, open(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, open(t)) })
	t.Run("Games", func(t *testing.T) { testGames(t, open(t)) })
	t.Run("ConcurrentGameUpdates", func(t *testing.T) { testConcurrentGameUpdates(t, open(t)) })
}

func newRound(t *testing.T, g Gateway) round.RoundState {
	t.Helper()
	s, err := g.StartNewRound(context.Background(), "g1", players, "alex", started)
	if err != nil {
		t.Fatalf("start round: %v", err)
	}
	return s
}

// advance loads the stored round, applies change and saves it as the next
// revision.
func advance(t *testing.T, g Gateway, id string, change func(*round.RoundState)) round.RoundState {
	t.Helper()
	ctx := context.Background()
	cur, err := g.LoadRoundState(ctx, id)
	if err != nil {
		t.Fatalf("load %s: %v", id, err)
	}
	next := cur.Clone()
	change(&next)
	next.Revision = cur.Revision + 1
	if err := g.SaveRoundState(ctx, next); err != nil {
		t.Fatalf("save %s: %v", next.Phase, err)
	}
	return next
}

// guessing moves a fresh round to the guessing phase through the gateway.
func guessing(t *testing.T, g Gateway) round.RoundState {
	t.Helper()
	s := newRound(t, g)
	if _, err := g.AppendPrompt(context.Background(), s.ID, "alex", "A cat playing piano"); err != nil {
		t.Fatalf("append prompt: %v", err)
	}
	return advance(t, g, s.ID, func(next *round.RoundState) {
		next.Phase = round.PhaseGuessing
		next.ImageURL = "https://images.example.com/cat.png"
	})
}

func voting(t *testing.T, g Gateway) round.RoundState {
	t.Helper()
	s := guessing(t, g)
	return advance(t, g, s.ID, func(next *round.RoundState) {
		next.Phase = round.PhaseVoting
		next.ShuffleOrder = round.GenerateShuffle(next.Seed, len(next.Prompts))
	})
}

func testStartNewRound(t *testing.T, g Gateway) {
	a := newRound(t, g)
	b := newRound(t, g)
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("expected distinct ids, got %q and %q", a.ID, b.ID)
	}
	if a.Phase != round.PhasePrompt {
		t.Fatalf("expected prompt phase, got %s", a.Phase)
	}
	if _, err := round.Validate(a); err != nil {
		t.Fatalf("new round should validate: %v", err)
	}
	loaded, err := g.LoadRoundState(context.Background(), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(normalize(loaded), normalize(a)) {
		t.Fatalf("loaded %+v, want %+v", loaded, a)
	}
}

func testAppendIdempotence(t *testing.T, g Gateway) {
	ctx := context.Background()
	s := newRound(t, g)

	res, err := g.AppendPrompt(ctx, s.ID, "alex", "A cat playing piano")
	if err != nil || !res.Inserted {
		t.Fatalf("first append: inserted=%v err=%v", res.Inserted, err)
	}
	res, err = g.AppendPrompt(ctx, s.ID, "alex", "A cat playing piano")
	if err != nil || res.Inserted {
		t.Fatalf("identical append: inserted=%v err=%v", res.Inserted, err)
	}
	if !maps.Equal(res.Values, map[string]string{"alex": "A cat playing piano"}) {
		t.Fatalf("unexpected prompts %v", res.Values)
	}
	if _, err := g.AppendPrompt(ctx, s.ID, "alex", "A dog"); !errors.Is(err, round.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	v := voting(t, g)
	vres, err := g.AppendVote(ctx, v.ID, "bailey", 0)
	if err != nil || !vres.Inserted {
		t.Fatalf("first vote: inserted=%v err=%v", vres.Inserted, err)
	}
	vres, err = g.AppendVote(ctx, v.ID, "bailey", 0)
	if err != nil || vres.Inserted {
		t.Fatalf("identical vote: inserted=%v err=%v", vres.Inserted, err)
	}
	if _, err := g.AppendVote(ctx, v.ID, "bailey", 1); !errors.Is(err, round.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	loaded, err := g.LoadRoundState(ctx, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !maps.Equal(loaded.Votes, map[string]int{"bailey": 0}) {
		t.Fatalf("unexpected stored votes %v", loaded.Votes)
	}
}

func testAppendPhaseGates(t *testing.T, g Gateway) {
	ctx := context.Background()
	s := newRound(t, g)
	if _, err := g.AppendVote(ctx, s.ID, "bailey", 0); !errors.Is(err, round.ErrWrongPhase) {
		t.Fatalf("vote in prompt phase: expected ErrWrongPhase, got %v", err)
	}
	v := voting(t, g)
	if _, err := g.AppendPrompt(ctx, v.ID, "bailey", "late decoy"); !errors.Is(err, round.ErrWrongPhase) {
		t.Fatalf("prompt in voting phase: expected ErrWrongPhase, got %v", err)
	}
}

func testSaveRoundTrip(t *testing.T, g Gateway) {
	ctx := context.Background()
	v := voting(t, g)
	if _, err := g.AppendVote(ctx, v.ID, "bailey", 0); err != nil {
		t.Fatal(err)
	}
	scoring := advance(t, g, v.ID, func(next *round.RoundState) {
		next.Phase = round.PhaseScoring
		next.Scores = map[string]int{"alex": 0, "bailey": 5, "casey": 2, "devon": 2}
	})
	if !maps.Equal(scoring.Votes, map[string]int{"bailey": 0}) {
		t.Fatalf("expected the stored vote in the scoring snapshot, got %v", scoring.Votes)
	}
	at := started.Add(3 * time.Minute)
	finished := advance(t, g, v.ID, func(next *round.RoundState) {
		next.Phase = round.PhaseFinished
		next.FinishedAt = &at
	})
	if _, err := round.Validate(finished); err != nil {
		t.Fatalf("fixture should validate: %v", err)
	}

	loaded, err := g.LoadRoundState(ctx, finished.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(normalize(loaded), normalize(finished)) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", loaded, finished)
	}
	if _, err := round.Validate(loaded); err != nil {
		t.Fatalf("reloaded state should validate: %v", err)
	}
}

func testSaveOnlyAdvances(t *testing.T, g Gateway) {
	ctx := context.Background()
	s := guessing(t, g)
	same := s.Clone()
	same.Revision++
	if err := g.SaveRoundState(ctx, same); !errors.Is(err, round.ErrStale) {
		t.Fatalf("saving the same phase twice: expected ErrStale, got %v", err)
	}
	back := same.Clone()
	back.Phase = round.PhasePrompt
	if err := g.SaveRoundState(ctx, back); !errors.Is(err, round.ErrStale) {
		t.Fatalf("moving back: expected ErrStale, got %v", err)
	}
	skip := same.Clone()
	skip.Phase = round.PhaseFinished
	if err := g.SaveRoundState(ctx, skip); !errors.Is(err, round.ErrWrongPhase) {
		t.Fatalf("skipping phases: expected ErrWrongPhase, got %v", err)
	}
}

// testSaveKeepsUnseenAppends saves a transition built before a decoy was
// appended. The save must fail instead of dropping the decoy.
func testSaveKeepsUnseenAppends(t *testing.T, g Gateway) {
	ctx := context.Background()
	s := guessing(t, g)

	res, err := g.AppendPrompt(ctx, s.ID, "bailey", "A dog on drums")
	if err != nil || !res.Inserted {
		t.Fatalf("append decoy: inserted=%v err=%v", res.Inserted, err)
	}
	if _, err := g.AppendPrompt(ctx, s.ID, "bailey", "A dog on drums"); err != nil {
		t.Fatal(err)
	}
	loaded, err := g.LoadRoundState(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Revision != s.Revision+1 {
		t.Fatalf("expected one revision bump for one insert, got %d -> %d", s.Revision, loaded.Revision)
	}

	built := s.Clone()
	built.Phase = round.PhaseVoting
	built.ShuffleOrder = round.GenerateShuffle(built.Seed, len(built.Prompts))
	built.Revision = s.Revision + 1
	if err := g.SaveRoundState(ctx, built); !errors.Is(err, round.ErrStale) {
		t.Fatalf("expected ErrStale for a snapshot missing a decoy, got %v", err)
	}
	loaded, err = g.LoadRoundState(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Phase != round.PhaseGuessing || loaded.Prompts["bailey"] != "A dog on drums" {
		t.Fatalf("rejected save must leave the round alone, got %s %v", loaded.Phase, loaded.Prompts)
	}

	rebuilt := advance(t, g, s.ID, func(next *round.RoundState) {
		next.Phase = round.PhaseVoting
		next.ShuffleOrder = round.GenerateShuffle(next.Seed, len(next.Prompts))
	})
	if len(rebuilt.Prompts) != 2 || len(rebuilt.ShuffleOrder) != 2 {
		t.Fatalf("rebuilt transition should carry both prompts, got %v %v", rebuilt.Prompts, rebuilt.ShuffleOrder)
	}
}

func testConcurrentDecoys(t *testing.T, g Gateway) {
	ctx := context.Background()
	s := guessing(t, g)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
		full     int
	)
	for _, p := range []string{"bailey", "casey", "devon"} {
		for n := 0; n < 3; n++ {
			p := p
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := g.AppendPrompt(ctx, s.ID, p, "decoy by "+p)
				if err != nil {
					t.Errorf("append %s: %v", p, err)
					return
				}
				mu.Lock()
				defer mu.Unlock()
				if res.Inserted {
					inserted++
					if len(res.Values) == len(players) {
						full++
					}
				}
			}()
		}
	}
	wg.Wait()

	if inserted != 3 {
		t.Fatalf("expected each decoy inserted once, got %d inserts", inserted)
	}
	if full != 1 {
		t.Fatalf("expected exactly one insert to complete the roster, got %d", full)
	}
}

func testNotFound(t *testing.T, g Gateway) {
	ctx := context.Background()
	if _, err := g.LoadRoundState(ctx, "missing"); !errors.Is(err, round.ErrNotFound) {
		t.Fatalf("load: expected ErrNotFound, got %v", err)
	}
	if err := g.SaveRoundState(ctx, round.RoundState{ID: "missing", Phase: round.PhaseGuessing}); !errors.Is(err, round.ErrNotFound) {
		t.Fatalf("save: expected ErrNotFound, got %v", err)
	}
	if _, err := g.AppendPrompt(ctx, "missing", "alex", "x"); !errors.Is(err, round.ErrNotFound) {
		t.Fatalf("append: expected ErrNotFound, got %v", err)
	}
	if _, err := g.LoadGame(ctx, "missing"); !errors.Is(err, round.ErrGameNotFound) {
		t.Fatalf("load game: expected ErrGameNotFound, got %v", err)
	}
}

func testGames(t *testing.T, g Gateway) {
	ctx := context.Background()
	game, err := g.CreateGame(ctx, players, 3, started)
	if err != nil {
		t.Fatal(err)
	}
	if len(game.Scores) != len(players) {
		t.Fatalf("expected zeroed scores for every player, got %v", game.Scores)
	}
	updated, err := g.UpdateGame(ctx, game.ID, func(cur *round.Game) error {
		*cur = round.FoldScores(*cur, "r1", map[string]int{"alex": 3, "bailey": 1})
		cur.RoundIndex = 1
		cur.CurrentRoundID = "r1"
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := g.LoadGame(ctx, game.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !maps.Equal(loaded.Scores, updated.Scores) || !reflect.DeepEqual(loaded.ScoredRounds, updated.ScoredRounds) ||
		loaded.RoundIndex != 1 || loaded.CurrentRoundID != "r1" || !loaded.CreatedAt.Equal(started) {
		t.Fatalf("game round trip mismatch:\n got %+v\nwant %+v", loaded, updated)
	}

	refused := errors.New("refused")
	if _, err := g.UpdateGame(ctx, game.ID, func(cur *round.Game) error {
		cur.RoundIndex = 99
		return refused
	}); !errors.Is(err, refused) {
		t.Fatalf("expected the callback error, got %v", err)
	}
	if loaded, err = g.LoadGame(ctx, game.ID); err != nil || loaded.RoundIndex != 1 {
		t.Fatalf("failed update must not be stored, got %+v err=%v", loaded, err)
	}
	if _, err := g.UpdateGame(ctx, "missing", func(*round.Game) error { return nil }); !errors.Is(err, round.ErrGameNotFound) {
		t.Fatalf("update game: expected ErrGameNotFound, got %v", err)
	}
}

func testConcurrentGameUpdates(t *testing.T, g Gateway) {
	ctx := context.Background()
	game, err := g.CreateGame(ctx, players, 3, started)
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for n := 0; n < 10; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.UpdateGame(ctx, game.ID, func(cur *round.Game) error {
				cur.Scores["alex"]++
				return nil
			}); err != nil {
				t.Errorf("update game: %v", err)
			}
		}()
	}
	wg.Wait()
	loaded, err := g.LoadGame(ctx, game.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Scores["alex"] != 10 {
		t.Fatalf("expected every update applied, got %d", loaded.Scores["alex"])
	}
}

// normalize drops representation differences a store may introduce, such as
// the time zone of a decoded timestamp.
func normalize(s round.RoundState) round.RoundState {
	s = s.Clone()
	s.StartedAt = s.StartedAt.UTC()
	if s.FinishedAt != nil {
		at := s.FinishedAt.UTC()
		s.FinishedAt = &at
	}
	return s
}
