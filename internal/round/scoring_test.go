package round

import (
	"maps"
	"math/rand/v2"
	"testing"
)

var fourPlayers = []string{"alex", "bailey", "casey", "devon"}

func TestComputeScoresMixedOutcome(t *testing.T) {
	// bailey finds the real prompt, casey falls for devon's decoy and devon
	// for bailey's.
	slots := []string{"devon", "alex", "casey", "bailey"}
	votes := map[string]int{"bailey": 1, "casey": 0, "devon": 3}

	got := ComputeScores(fourPlayers, "alex", slots, votes)
	want := map[string]int{"alex": 3, "bailey": 4, "casey": 0, "devon": 1}
	if !maps.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestComputeScoresNobodyCorrect(t *testing.T) {
	slots := []string{"alex", "bailey", "casey", "devon"}
	votes := map[string]int{"bailey": 2, "casey": 3, "devon": 1}

	got := ComputeScores(fourPlayers, "alex", slots, votes)
	want := map[string]int{"alex": 0, "bailey": 3, "casey": 3, "devon": 3}
	if !maps.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestComputeScoresEverybodyCorrect(t *testing.T) {
	slots := []string{"casey", "alex", "bailey", "devon"}
	votes := map[string]int{"bailey": 1, "casey": 1, "devon": 1}

	got := ComputeScores(fourPlayers, "alex", slots, votes)
	want := map[string]int{"alex": 0, "bailey": 5, "casey": 5, "devon": 5}
	if !maps.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestComputeScoresWithoutVotes(t *testing.T) {
	got := ComputeScores(fourPlayers, "alex", []string{"alex"}, map[string]int{})
	want := map[string]int{"alex": 0, "bailey": 2, "casey": 2, "devon": 2}
	if !maps.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestComputeScoresCoversEveryPlayer(t *testing.T) {
	got := ComputeScores(fourPlayers, "alex", []string{"alex", "casey"}, map[string]int{"bailey": 1})
	if len(got) != len(fourPlayers) {
		t.Fatalf("expected a score for all %d players, got %v", len(fourPlayers), got)
	}
	for _, p := range fourPlayers {
		if _, ok := got[p]; !ok {
			t.Fatalf("missing score for %s", p)
		}
	}
}

func TestFoldScoresIsIdempotent(t *testing.T) {
	g := Game{ID: "g1", Players: fourPlayers, Scores: map[string]int{"alex": 1, "bailey": 0, "casey": 0, "devon": 0}}
	scores := map[string]int{"alex": 3, "bailey": 4, "casey": 0, "devon": 1}

	once := FoldScores(g, "r1", scores)
	twice := FoldScores(once, "r1", scores)

	want := map[string]int{"alex": 4, "bailey": 4, "casey": 0, "devon": 1}
	if !maps.Equal(twice.Scores, want) {
		t.Fatalf("expected %v, got %v", want, twice.Scores)
	}
	if len(twice.ScoredRounds) != 1 {
		t.Fatalf("expected one scored round, got %v", twice.ScoredRounds)
	}
	if g.Scores["alex"] != 1 {
		t.Fatal("FoldScores must not modify its input")
	}
}

// TestComputeScoresSumOverGeneratedRounds checks the point total over many
// random rosters, decoy sets and votes: 3 per correct vote, 1 per wrong vote,
// plus 2 per eligible voter when nobody or everybody voted right, else 3.
func TestComputeScoresSumOverGeneratedRounds(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	roster := []string{"alex", "bailey", "casey", "devon", "erin", "frankie", "gray", "harper"}

	for i := 0; i < 2000; i++ {
		players := roster[:3+rng.IntN(len(roster)-2)]
		active := players[rng.IntN(len(players))]

		prompts := map[string]string{active: "the real one"}
		for _, p := range players {
			if p != active && rng.IntN(4) > 0 {
				prompts[p] = "decoy by " + p
			}
		}
		submitters := Submitters(players, prompts)
		order := GenerateShuffle(rng.Uint32(), len(submitters))
		slots := make([]string, len(order))
		for j, idx := range order {
			slots[j] = submitters[idx]
		}

		votes := map[string]int{}
		correct, wrong, eligible := 0, 0, 0
		for _, p := range players {
			if p == active {
				continue
			}
			eligible++
			if rng.IntN(5) == 0 {
				continue
			}
			slot := rng.IntN(len(slots))
			votes[p] = slot
			if slots[slot] == active {
				correct++
			} else {
				wrong++
			}
		}

		bonus := pointsMixedBonus
		if correct == 0 || correct == len(votes) {
			bonus = pointsConsolation * eligible
		}
		want := pointsCorrectGuess*correct + pointsDeception*wrong + bonus

		scores := ComputeScores(players, active, slots, votes)
		if len(scores) != len(players) {
			t.Fatalf("case %d: expected a score for every player, got %v", i, scores)
		}
		sum := 0
		for _, pts := range scores {
			sum += pts
		}
		if sum != want {
			t.Fatalf("case %d: players %v active %s slots %v votes %v: sum %d, want %d (%v)",
				i, players, active, slots, votes, sum, want, scores)
		}
	}
}
