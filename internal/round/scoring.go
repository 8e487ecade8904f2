package round

import "slices"

const (
	pointsCorrectGuess = 3
	pointsDeception    = 1
	pointsConsolation  = 2
	pointsMixedBonus   = 3
)

// ComputeScores distributes the round's points. slots maps a voting slot to
// the player whose prompt it shows.
//
// A correct vote earns the voter 3; a wrong vote earns the owner of the chosen
// decoy 1. If nobody or everybody who voted was right, every eligible voter
// gets 2 more; a mixed outcome gives the active player 3.
func ComputeScores(players []string, active string, slots []string, votes map[string]int) map[string]int {
	scores := make(map[string]int, len(players))
	for _, p := range players {
		scores[p] = 0
	}

	correct := 0
	for voter, slot := range votes {
		if slot < 0 || slot >= len(slots) {
			continue
		}
		owner := slots[slot]
		if owner == active {
			scores[voter] += pointsCorrectGuess
			correct++
			continue
		}
		scores[owner] += pointsDeception
	}

	if correct == 0 || correct == len(votes) {
		for _, p := range players {
			if p != active {
				scores[p] += pointsConsolation
			}
		}
	} else {
		scores[active] += pointsMixedBonus
	}
	return scores
}

// ZeroScores is the score sheet of a round abandoned before any prompt.
func ZeroScores(players []string) map[string]int {
	scores := make(map[string]int, len(players))
	for _, p := range players {
		scores[p] = 0
	}
	return scores
}

// FoldScores adds a finished round's scores into the game totals. Folding the
// same round twice is a no-op.
func FoldScores(g Game, roundID string, scores map[string]int) Game {
	if slices.Contains(g.ScoredRounds, roundID) {
		return g
	}
	out := g.Clone()
	for p, pts := range scores {
		out.Scores[p] += pts
	}
	out.ScoredRounds = append(out.ScoredRounds, roundID)
	return out
}
