package export

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kiliankoe/promptdash/internal/bus"
	"github.com/kiliankoe/promptdash/internal/round"
	"github.com/kiliankoe/promptdash/internal/store"
	"github.com/kiliankoe/promptdash/internal/store/memory"
)

var start = time.UnixMilli(1_700_000_000_000)

type nopScheduler struct{}

func (nopScheduler) ScheduleTimeout(context.Context, string, round.Phase, time.Duration) error {
	return nil
}

type staticImages struct{}

func (staticImages) GenerateImage(context.Context, string) (string, error) {
	return "https://images.example.com/1.png", nil
}

var names = map[string]string{"alex": "Alex", "bailey": "Bailey", "casey": "Casey", "devon": "Devon"}

// setup wires an exporter to an engine so finished rounds are written out.
func setup(t *testing.T, totalRounds int) (*round.Engine, round.Game, string) {
	t.Helper()
	st := memory.New(memory.WithSeedSource(store.FixedSeed(42)))
	path := filepath.Join(t.TempDir(), "out", "results.txt")
	x := New(path, st, st,
		WithNames(func(_, id string) string { return names[id] }),
		WithClock(func() time.Time { return start.UTC() }),
	)
	b := bus.New()
	b.Subscribe("export", x)
	eng := round.New(round.Deps{
		Rounds:    st,
		Games:     st,
		Bus:       b,
		Scheduler: nopScheduler{},
		Images:    staticImages{},
		Config:    round.DefaultConfig(),
	})
	g, err := st.CreateGame(context.Background(), []string{"alex", "bailey", "casey", "devon"}, totalRounds, start)
	if err != nil {
		t.Fatalf("create game: %v", err)
	}
	return eng, g, path
}

func run(t *testing.T, eng *round.Engine, cmd round.Command) round.RoundState {
	t.Helper()
	s, err := eng.Execute(context.Background(), cmd, start.Add(time.Second))
	if err != nil {
		t.Fatalf("%s: %v", cmd.Name(), err)
	}
	return s
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	return string(b)
}

func TestExportFinishedRound(t *testing.T) {
	eng, g, path := setup(t, 1)
	s := run(t, eng, round.StartNextRound{GameID: g.ID})
	run(t, eng, round.SubmitPrompt{RoundID: s.ID, Player: "alex", Text: "A cat playing piano"})
	run(t, eng, round.SubmitDecoy{RoundID: s.ID, Player: "bailey", Text: "A dog on drums"})
	run(t, eng, round.SubmitDecoy{RoundID: s.ID, Player: "casey", Text: "A bird singing"})
	run(t, eng, round.SubmitDecoy{RoundID: s.ID, Player: "devon", Text: "A fish dancing"})

	r, err := eng.Load(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	truth := r.(*round.VotingRound).ActiveSlot()
	run(t, eng, round.SubmitVote{RoundID: s.ID, Player: "bailey", Index: truth})
	run(t, eng, round.SubmitVote{RoundID: s.ID, Player: "casey", Index: (truth + 1) % 4})
	fin := run(t, eng, round.SubmitVote{RoundID: s.ID, Player: "devon", Index: truth})
	if fin.Phase != round.PhaseFinished {
		t.Fatalf("expected finished round, got %s", fin.Phase)
	}

	out := readFile(t, path)
	for _, want := range []string{
		"Promptdash Game Results - Game " + g.ID,
		"Started: 2023-11-14",
		"- Alex\n",
		`Round 1: "A cat playing piano" by Alex`,
		"Image: https://images.example.com/1.png",
		`Alex: "A cat playing piano" (real)`,
		"Found the real prompt: Bailey, Devon",
		"Round scores:",
		"Scores after this round:",
		"Game ended at",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("export is missing %q:\n%s", want, out)
		}
	}
	if strings.Count(out, "(real)") != 1 {
		t.Fatalf("exactly one prompt should be marked real:\n%s", out)
	}
}

func TestExportAbandonedRound(t *testing.T) {
	eng, g, path := setup(t, 2)
	s := run(t, eng, round.StartNextRound{GameID: g.ID})
	run(t, eng, round.PhaseTimeout{RoundID: s.ID, Phase: round.PhasePrompt})

	out := readFile(t, path)
	if !strings.Contains(out, "Round 1: abandoned, Alex wrote no prompt") {
		t.Fatalf("abandoned round not recorded:\n%s", out)
	}
	if strings.Contains(out, "Game ended") {
		t.Fatalf("game is not over yet:\n%s", out)
	}

	s2 := run(t, eng, round.StartNextRound{GameID: g.ID})
	run(t, eng, round.PhaseTimeout{RoundID: s2.ID, Phase: round.PhasePrompt})
	out = readFile(t, path)
	if strings.Count(out, "Promptdash Game Results") != 1 {
		t.Fatalf("header should be written once per game:\n%s", out)
	}
	if !strings.Contains(out, "Round 2: abandoned, Bailey wrote no prompt") || !strings.Contains(out, "Game ended at") {
		t.Fatalf("second round not recorded:\n%s", out)
	}
}

func TestPublishIgnoresOtherEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.txt")
	x := New(path, memory.New(), memory.New())
	if err := x.Publish(context.Background(), round.Channel("r1"), round.PhaseChanged{Phase: round.PhaseVoting}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("nothing should be written, stat err %v", err)
	}
}
