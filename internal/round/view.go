package round

import (
	"slices"
	"time"
)

// Round is a validated snapshot. The concrete type tells which phase the
// round is in and carries exactly the data that phase guarantees:
// *PromptRound, *GuessingRound, *VotingRound, *ScoringRound or *FinishedRound.
type Round interface {
	Phase() Phase
	Snapshot() RoundState
}

// Header is the part of a round fixed at creation.
type Header struct {
	ID           string
	GameID       string
	Players      []string
	ActivePlayer string
	Seed         uint32
	StartedAt    time.Time
}

func (h Header) Has(player string) bool { return slices.Contains(h.Players, player) }

// Eligible lists the players allowed to vote.
func (h Header) Eligible() []string {
	out := make([]string, 0, len(h.Players))
	for _, p := range h.Players {
		if p != h.ActivePlayer {
			out = append(out, p)
		}
	}
	return out
}

type PromptRound struct {
	Header
	// Prompt is the active player's text, empty until submitted.
	Prompt string
	state  RoundState
}

type GuessingRound struct {
	Header
	Prompts  map[string]string
	ImageURL string
	state    RoundState
}

type VotingRound struct {
	Header
	Prompts      map[string]string
	ImageURL     string
	ShuffleOrder []int
	Votes        map[string]int
	state        RoundState
}

type ScoringRound struct {
	VotingRound
	Scores map[string]int
}

type FinishedRound struct {
	Header
	Scores     map[string]int
	FinishedAt time.Time
	// Result is nil when the round was abandoned in the prompt phase.
	Result *VotingRound
	state  RoundState
}

func (r *PromptRound) Phase() Phase   { return PhasePrompt }
func (r *GuessingRound) Phase() Phase { return PhaseGuessing }
func (r *VotingRound) Phase() Phase   { return PhaseVoting }
func (r *ScoringRound) Phase() Phase  { return PhaseScoring }
func (r *FinishedRound) Phase() Phase { return PhaseFinished }

func (r *PromptRound) Snapshot() RoundState   { return r.state.Clone() }
func (r *GuessingRound) Snapshot() RoundState { return r.state.Clone() }
func (r *VotingRound) Snapshot() RoundState   { return r.state.Clone() }
func (r *FinishedRound) Snapshot() RoundState { return r.state.Clone() }

// Slots maps each voting slot to the player whose prompt it shows.
func (r *VotingRound) Slots() []string {
	submitters := Submitters(r.Players, r.Prompts)
	slots := make([]string, len(r.ShuffleOrder))
	for i, idx := range r.ShuffleOrder {
		slots[i] = submitters[idx]
	}
	return slots
}

// SlotPrompts lists the prompt texts in voting order, without authors.
func (r *VotingRound) SlotPrompts() []string {
	slots := r.Slots()
	texts := make([]string, len(slots))
	for i, p := range slots {
		texts[i] = r.Prompts[p]
	}
	return texts
}

// ActiveSlot returns the slot showing the real prompt.
func (r *VotingRound) ActiveSlot() int {
	for i, p := range r.Slots() {
		if p == r.ActivePlayer {
			return i
		}
	}
	return -1
}

func newView(s RoundState) Round {
	h := Header{
		ID:           s.ID,
		GameID:       s.GameID,
		Players:      s.Players,
		ActivePlayer: s.ActivePlayer,
		Seed:         s.Seed,
		StartedAt:    s.StartedAt,
	}
	switch s.Phase {
	case PhasePrompt:
		return &PromptRound{Header: h, Prompt: s.Prompts[s.ActivePlayer], state: s}
	case PhaseGuessing:
		return &GuessingRound{Header: h, Prompts: s.Prompts, ImageURL: s.ImageURL, state: s}
	case PhaseVoting:
		return votingView(h, s)
	case PhaseScoring:
		return &ScoringRound{VotingRound: *votingView(h, s), Scores: s.Scores}
	default:
		r := &FinishedRound{Header: h, Scores: s.Scores, FinishedAt: *s.FinishedAt, state: s}
		if !isAbandoned(s) {
			r.Result = votingView(h, s)
		}
		return r
	}
}

func votingView(h Header, s RoundState) *VotingRound {
	return &VotingRound{
		Header:       h,
		Prompts:      s.Prompts,
		ImageURL:     s.ImageURL,
		ShuffleOrder: s.ShuffleOrder,
		Votes:        s.Votes,
		state:        s,
	}
}
