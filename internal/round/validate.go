package round

import (
	"net/url"
	"strings"
)

// Reasons reported by Validate. Callers and tests match on these values.
const (
	ReasonMissingID           = "round id is required"
	ReasonNoPlayers           = "players must not be empty"
	ReasonDuplicatePlayer     = "players must be unique"
	ReasonBlankPlayer         = "player ids must not be blank"
	ReasonActiveNotPlayer     = "active player must be one of the players"
	ReasonInvalidPhase        = "phase is not a valid round phase"
	ReasonStartedAt           = "startedAt must be positive"
	ReasonPromptFromStranger  = "prompt from unknown player"
	ReasonEmptyPrompt         = "prompt text must not be empty"
	ReasonDecoyDuringPrompt   = "only the active player may have a prompt during the prompt phase"
	ReasonEarlyVotes          = "votes are only allowed from the voting phase on"
	ReasonEarlyShuffle        = "shuffle order is only set from the voting phase on"
	ReasonEarlyScores         = "scores are only set from the scoring phase on"
	ReasonMissingActivePrompt = "active player's prompt is required from the guessing phase on"
	ReasonInvalidImageURL     = "image url must be an absolute http(s) url"
	ReasonBadShuffle          = "shuffle order must be a permutation of the submitted prompts"
	ReasonVoteFromStranger    = "vote from unknown player"
	ReasonVoteFromActive      = "active player may not vote"
	ReasonVoteOutOfRange      = "vote references an invalid prompt index"
	ReasonMissingScore        = "every player must have a score"
	ReasonScoreForStranger    = "score for unknown player"
	ReasonMissingFinishedAt   = "finishedAt is required once finished"
	ReasonFinishedBeforeStart = "finishedAt must not precede startedAt"
	ReasonAbandonedWithData   = "an abandoned round must have no decoys, shuffle or votes"
	ReasonAbandonedWithPoints = "an abandoned round must score zero for everyone"
)

type rule func(s RoundState) string

// ruleSet holds the predicates that start to apply at phase.
type ruleSet struct {
	phase Phase
	rules []rule
}

// phaseRules is applied cumulatively: a snapshot in phase p must satisfy
// every set whose phase is not after p.
var phaseRules = []ruleSet{
	{PhasePrompt, []rule{
		checkID, checkPlayers, checkActivePlayer, checkStartedAt,
		checkPromptAuthors, checkPromptOnlyActive, checkNoEarlyVotes,
		checkNoEarlyShuffle, checkNoEarlyScores,
	}},
	{PhaseGuessing, []rule{checkActivePrompt, checkImageURL}},
	{PhaseVoting, []rule{checkShuffle, checkVotes}},
	{PhaseScoring, []rule{checkScores}},
	{PhaseFinished, []rule{checkFinishedAt}},
}

// abandonedRules replace the guessing and voting sets for rounds that ended
// in the prompt phase.
var abandonedRules = []rule{checkAbandonedData, checkAbandonedScores}

// Validate checks a snapshot against the invariants of its phase and returns
// the matching view. Violations come back as *InvariantError.
func Validate(s RoundState) (Round, error) {
	if !s.Phase.Valid() {
		return nil, &InvariantError{Reason: ReasonInvalidPhase, State: s}
	}
	abandoned := isAbandoned(s)
	for _, set := range phaseRules {
		if s.Phase.Before(set.phase) {
			break
		}
		if abandoned && (set.phase == PhaseGuessing || set.phase == PhaseVoting) {
			continue
		}
		if reason := firstViolation(s, set.rules); reason != "" {
			return nil, &InvariantError{Reason: reason, State: s}
		}
	}
	if abandoned {
		if reason := firstViolation(s, abandonedRules); reason != "" {
			return nil, &InvariantError{Reason: reason, State: s}
		}
	}
	return newView(s.Clone()), nil
}

func firstViolation(s RoundState, rules []rule) string {
	for _, r := range rules {
		if reason := r(s); reason != "" {
			return reason
		}
	}
	return ""
}

// isAbandoned reports a round finished straight from the prompt phase; it
// never got an image.
func isAbandoned(s RoundState) bool {
	return s.Phase == PhaseFinished && s.ImageURL == ""
}

func checkID(s RoundState) string {
	if strings.TrimSpace(s.ID) == "" {
		return ReasonMissingID
	}
	return ""
}

func checkPlayers(s RoundState) string {
	if len(s.Players) == 0 {
		return ReasonNoPlayers
	}
	seen := make(map[string]struct{}, len(s.Players))
	for _, p := range s.Players {
		if strings.TrimSpace(p) == "" {
			return ReasonBlankPlayer
		}
		if _, dup := seen[p]; dup {
			return ReasonDuplicatePlayer
		}
		seen[p] = struct{}{}
	}
	return ""
}

func checkActivePlayer(s RoundState) string {
	if !s.IsMember(s.ActivePlayer) {
		return ReasonActiveNotPlayer
	}
	return ""
}

func checkStartedAt(s RoundState) string {
	if s.StartedAt.IsZero() || s.StartedAt.UnixMilli() <= 0 {
		return ReasonStartedAt
	}
	return ""
}

func checkPromptAuthors(s RoundState) string {
	for p, text := range s.Prompts {
		if !s.IsMember(p) {
			return ReasonPromptFromStranger
		}
		if strings.TrimSpace(text) == "" {
			return ReasonEmptyPrompt
		}
	}
	return ""
}

func checkPromptOnlyActive(s RoundState) string {
	if s.Phase != PhasePrompt {
		return ""
	}
	for p := range s.Prompts {
		if p != s.ActivePlayer {
			return ReasonDecoyDuringPrompt
		}
	}
	return ""
}

func checkNoEarlyVotes(s RoundState) string {
	if s.Phase.Before(PhaseVoting) && len(s.Votes) > 0 {
		return ReasonEarlyVotes
	}
	return ""
}

func checkNoEarlyShuffle(s RoundState) string {
	if s.Phase.Before(PhaseVoting) && s.ShuffleOrder != nil {
		return ReasonEarlyShuffle
	}
	return ""
}

func checkNoEarlyScores(s RoundState) string {
	if s.Phase.Before(PhaseScoring) && s.Scores != nil {
		return ReasonEarlyScores
	}
	return ""
}

func checkActivePrompt(s RoundState) string {
	if _, ok := s.Prompts[s.ActivePlayer]; !ok {
		return ReasonMissingActivePrompt
	}
	return ""
}

func checkImageURL(s RoundState) string {
	u, err := url.Parse(s.ImageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ReasonInvalidImageURL
	}
	return ""
}

func checkShuffle(s RoundState) string {
	if !IsPermutation(s.ShuffleOrder, len(Submitters(s.Players, s.Prompts))) {
		return ReasonBadShuffle
	}
	return ""
}

func checkVotes(s RoundState) string {
	for voter, slot := range s.Votes {
		if !s.IsMember(voter) {
			return ReasonVoteFromStranger
		}
		if voter == s.ActivePlayer {
			return ReasonVoteFromActive
		}
		if slot < 0 || slot >= len(s.ShuffleOrder) {
			return ReasonVoteOutOfRange
		}
	}
	return ""
}

func checkScores(s RoundState) string {
	for _, p := range s.Players {
		if _, ok := s.Scores[p]; !ok {
			return ReasonMissingScore
		}
	}
	for p := range s.Scores {
		if !s.IsMember(p) {
			return ReasonScoreForStranger
		}
	}
	return ""
}

func checkFinishedAt(s RoundState) string {
	if s.FinishedAt == nil {
		return ReasonMissingFinishedAt
	}
	if s.FinishedAt.Before(s.StartedAt) {
		return ReasonFinishedBeforeStart
	}
	return ""
}

func checkAbandonedData(s RoundState) string {
	if s.ShuffleOrder != nil || len(s.Votes) > 0 {
		return ReasonAbandonedWithData
	}
	for p := range s.Prompts {
		if p != s.ActivePlayer {
			return ReasonAbandonedWithData
		}
	}
	return ""
}

func checkAbandonedScores(s RoundState) string {
	for _, pts := range s.Scores {
		if pts != 0 {
			return ReasonAbandonedWithPoints
		}
	}
	return ""
}
