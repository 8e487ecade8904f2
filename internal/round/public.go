package round

import "sort"

// PublicView is what any client may see of a round. Prompt texts appear only
// in slot order and authorship only once the round is finished.
type PublicView struct {
	ID           string   `json:"id"`
	GameID       string   `json:"gameId"`
	Phase        Phase    `json:"phase"`
	Players      []string `json:"players"`
	ActivePlayer string   `json:"activePlayer"`
	StartedAt    int64    `json:"startedAt"`
	ImageURL     string   `json:"imageUrl,omitempty"`
	// Submitted lists players whose prompt is in, sorted.
	Submitted []string `json:"submitted"`
	// Voted lists players who voted, sorted.
	Voted   []string `json:"voted"`
	Prompts []string `json:"prompts,omitempty"`

	Slots      []string       `json:"slots,omitempty"`
	ActiveSlot *int           `json:"activeSlot,omitempty"`
	Votes      map[string]int `json:"votes,omitempty"`
	Scores     map[string]int `json:"scores,omitempty"`
	FinishedAt int64          `json:"finishedAt,omitempty"`
	Abandoned  bool           `json:"abandoned,omitempty"`
}

func Public(r Round) PublicView {
	s := r.Snapshot()
	v := PublicView{
		ID:           s.ID,
		GameID:       s.GameID,
		Phase:        s.Phase,
		Players:      append([]string(nil), s.Players...),
		ActivePlayer: s.ActivePlayer,
		StartedAt:    millis(s.StartedAt),
		ImageURL:     s.ImageURL,
		Submitted:    sortedKeys(s.Prompts),
		Voted:        sortedKeys(s.Votes),
	}
	switch x := r.(type) {
	case *VotingRound:
		v.Prompts = x.SlotPrompts()
	case *ScoringRound:
		v.Prompts = x.SlotPrompts()
	case *FinishedRound:
		v.Scores = x.Scores
		v.FinishedAt = millis(x.FinishedAt)
		if x.Result == nil {
			v.Abandoned = true
			break
		}
		v.Prompts = x.Result.SlotPrompts()
		v.Slots = x.Result.Slots()
		slot := x.Result.ActiveSlot()
		v.ActiveSlot = &slot
		v.Votes = x.Result.Votes
	}
	return v
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
