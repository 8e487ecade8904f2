package round

import (
	"maps"
	"slices"
	"time"
)

// RoundState is the persisted snapshot of one round. Handlers never mutate a
// loaded snapshot; every transition builds a new value.
type RoundState struct {
	ID           string            `json:"id"`
	GameID       string            `json:"gameId"`
	Players      []string          `json:"players"`
	ActivePlayer string            `json:"activePlayer"`
	Phase        Phase             `json:"phase"`
	Prompts      map[string]string `json:"prompts"`
	ShuffleOrder []int             `json:"shuffleOrder,omitempty"`
	Votes        map[string]int    `json:"votes"`
	Scores       map[string]int    `json:"scores,omitempty"`
	Seed         uint32            `json:"seed"`
	StartedAt    time.Time         `json:"startedAt"`
	FinishedAt   *time.Time        `json:"finishedAt,omitempty"`
	ImageURL     string            `json:"imageUrl,omitempty"`
	// Revision counts stored writes. Appends bump it; a save must carry the
	// stored revision plus one.
	Revision int64 `json:"revision"`
}

// Clone returns a deep copy. Prompts and Votes are always non-nil in the
// result; ShuffleOrder, Scores and FinishedAt keep their absence.
func (s RoundState) Clone() RoundState {
	out := s
	out.Players = slices.Clone(s.Players)
	out.Prompts = make(map[string]string, len(s.Prompts))
	maps.Copy(out.Prompts, s.Prompts)
	out.Votes = make(map[string]int, len(s.Votes))
	maps.Copy(out.Votes, s.Votes)
	out.ShuffleOrder = slices.Clone(s.ShuffleOrder)
	if s.Scores != nil {
		out.Scores = maps.Clone(s.Scores)
	}
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

// IsMember reports whether player takes part in the round.
func (s RoundState) IsMember(player string) bool {
	return slices.Contains(s.Players, player)
}

// Game tracks cumulative scores across rounds. It belongs to the lobby layer;
// the engine only reads it to start rounds and updates it on finalization.
type Game struct {
	ID             string         `json:"id"`
	Players        []string       `json:"players"`
	TotalRounds    int            `json:"totalRounds"`
	RoundIndex     int            `json:"roundIndex"`
	CurrentRoundID string         `json:"currentRoundId,omitempty"`
	Scores         map[string]int `json:"scores"`
	ScoredRounds   []string       `json:"scoredRounds,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

func (g Game) Clone() Game {
	out := g
	out.Players = slices.Clone(g.Players)
	out.Scores = make(map[string]int, len(g.Scores))
	maps.Copy(out.Scores, g.Scores)
	out.ScoredRounds = slices.Clone(g.ScoredRounds)
	return out
}

// Over reports whether every configured round has been started.
func (g Game) Over() bool { return g.RoundIndex >= g.TotalRounds }

// Config holds the rules the engine enforces.
type Config struct {
	MinPlayers       int
	MaxPlayers       int
	PromptDuration   time.Duration
	GuessingDuration time.Duration
	VotingDuration   time.Duration
	TotalRounds      int
	MaxPromptLength  int
}

func DefaultConfig() Config {
	return Config{
		MinPlayers:       3,
		MaxPlayers:       8,
		PromptDuration:   60 * time.Second,
		GuessingDuration: 90 * time.Second,
		VotingDuration:   45 * time.Second,
		TotalRounds:      5,
		MaxPromptLength:  280,
	}
}
