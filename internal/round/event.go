package round

import "time"

// Event is a payload published on a round's channel after a transition.
type Event interface {
	EventName() string
}

type RoundStarted struct {
	RoundID          string   `json:"roundId"`
	Players          []string `json:"players"`
	ActivePlayer     string   `json:"activePlayer"`
	At               int64    `json:"at"`
	PromptDurationMs int64    `json:"promptDurationMs"`
}

type ImageGenerated struct {
	RoundID            string `json:"roundId"`
	ImageURL           string `json:"imageUrl"`
	GuessingDurationMs int64  `json:"guessingDurationMs"`
}

type PhaseChanged struct {
	Phase Phase `json:"phase"`
	At    int64 `json:"at"`
}

type PromptsReady struct {
	RoundID          string   `json:"roundId"`
	Prompts          []string `json:"prompts"`
	VotingDurationMs int64    `json:"votingDurationMs"`
	At               int64    `json:"at"`
}

type RoundFinished struct {
	RoundID string         `json:"roundId"`
	At      int64          `json:"at"`
	Scores  map[string]int `json:"scores"`
}

func (RoundStarted) EventName() string   { return "round:started" }
func (ImageGenerated) EventName() string { return "round:image" }
func (PhaseChanged) EventName() string   { return "round:phase" }
func (PromptsReady) EventName() string   { return "round:prompts" }
func (RoundFinished) EventName() string  { return "round:finished" }

// Channel is where every event of a round is published.
func Channel(roundID string) string { return "round:" + roundID }

// RoundIDFromChannel reverses Channel.
func RoundIDFromChannel(channel string) (string, bool) {
	const prefix = "round:"
	if len(channel) <= len(prefix) || channel[:len(prefix)] != prefix {
		return "", false
	}
	return channel[len(prefix):], true
}

func millis(t time.Time) int64 { return t.UnixMilli() }
