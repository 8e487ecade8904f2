package round

import "time"

// The functions below build the snapshot a transition commits. They start
// from a copy of the validated state, so the loaded view stays untouched,
// and take prompts and votes only from that state.

// toGuessing attaches the generated image to the stored real prompt.
func (r *PromptRound) toGuessing(imageURL string) RoundState {
	next := r.state.Clone()
	next.Phase = PhaseGuessing
	next.ImageURL = imageURL
	return next
}

// abandon finishes a round whose prompt never arrived. Everyone scores zero.
func (r *PromptRound) abandon(at time.Time) RoundState {
	next := r.state.Clone()
	next.Phase = PhaseFinished
	next.Scores = ZeroScores(next.Players)
	next.FinishedAt = &at
	return next
}

// toVoting freezes the prompts and fixes the voting order from the seed.
func (r *GuessingRound) toVoting() RoundState {
	next := r.state.Clone()
	next.Phase = PhaseVoting
	next.ShuffleOrder = GenerateShuffle(next.Seed, len(Submitters(next.Players, next.Prompts)))
	return next
}

// toScoring takes the stored votes and computes the round's scores.
func (r *VotingRound) toScoring() RoundState {
	next := r.state.Clone()
	next.Phase = PhaseScoring
	next.Scores = ComputeScores(next.Players, next.ActivePlayer, r.Slots(), next.Votes)
	return next
}

func (r *ScoringRound) toFinished(at time.Time) RoundState {
	next := r.Snapshot()
	next.Phase = PhaseFinished
	next.FinishedAt = &at
	return next
}
