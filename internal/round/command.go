package round

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Command is one externally triggered intent. The set is closed: StartRound,
// StartNextRound, SubmitPrompt, SubmitDecoy, SubmitVote, PhaseTimeout.
type Command interface {
	Name() string
	validate(cfg Config) error
}

type StartRound struct {
	GameID       string
	Players      []string
	ActivePlayer string
}

type StartNextRound struct {
	GameID string
}

type SubmitPrompt struct {
	RoundID string
	Player  string
	Text    string
}

type SubmitDecoy struct {
	RoundID string
	Player  string
	Text    string
}

type SubmitVote struct {
	RoundID string
	Player  string
	Index   int
}

// PhaseTimeout is delivered by the scheduler; the fire time is the `at`
// passed to Execute.
type PhaseTimeout struct {
	RoundID string
	Phase   Phase
}

func (StartRound) Name() string     { return "start_round" }
func (StartNextRound) Name() string { return "start_next_round" }
func (SubmitPrompt) Name() string   { return "submit_prompt" }
func (SubmitDecoy) Name() string    { return "submit_decoy" }
func (SubmitVote) Name() string     { return "submit_vote" }
func (PhaseTimeout) Name() string   { return "phase_timeout" }

func NewStartRound(cfg Config, gameID string, players []string, activePlayer string) (StartRound, error) {
	c := StartRound{GameID: gameID, Players: append([]string(nil), players...), ActivePlayer: activePlayer}
	return c, c.validate(cfg)
}

func NewStartNextRound(cfg Config, gameID string) (StartNextRound, error) {
	c := StartNextRound{GameID: gameID}
	return c, c.validate(cfg)
}

func NewSubmitPrompt(cfg Config, roundID, player, text string) (SubmitPrompt, error) {
	c := SubmitPrompt{RoundID: roundID, Player: player, Text: strings.TrimSpace(text)}
	return c, c.validate(cfg)
}

func NewSubmitDecoy(cfg Config, roundID, player, text string) (SubmitDecoy, error) {
	c := SubmitDecoy{RoundID: roundID, Player: player, Text: strings.TrimSpace(text)}
	return c, c.validate(cfg)
}

func NewSubmitVote(cfg Config, roundID, player string, index int) (SubmitVote, error) {
	c := SubmitVote{RoundID: roundID, Player: player, Index: index}
	return c, c.validate(cfg)
}

func NewPhaseTimeout(cfg Config, roundID string, phase Phase) (PhaseTimeout, error) {
	c := PhaseTimeout{RoundID: roundID, Phase: phase}
	return c, c.validate(cfg)
}

func (c StartRound) validate(cfg Config) error {
	if err := checkIdent("game id", c.GameID); err != nil {
		return err
	}
	if err := checkRoster(cfg, c.Players); err != nil {
		return err
	}
	for _, p := range c.Players {
		if p == c.ActivePlayer {
			return nil
		}
	}
	return invalidf("active player %q is not in the player list", c.ActivePlayer)
}

func (c StartNextRound) validate(Config) error {
	return checkIdent("game id", c.GameID)
}

func (c SubmitPrompt) validate(cfg Config) error {
	return checkSubmission(cfg, c.RoundID, c.Player, c.Text)
}

func (c SubmitDecoy) validate(cfg Config) error {
	return checkSubmission(cfg, c.RoundID, c.Player, c.Text)
}

func (c SubmitVote) validate(Config) error {
	if err := checkIdent("round id", c.RoundID); err != nil {
		return err
	}
	if err := checkIdent("player id", c.Player); err != nil {
		return err
	}
	if c.Index < 0 {
		return invalidf("vote index must not be negative")
	}
	return nil
}

func (c PhaseTimeout) validate(Config) error {
	if err := checkIdent("round id", c.RoundID); err != nil {
		return err
	}
	if !c.Phase.Timed() {
		return invalidf("phase %q has no timeout", c.Phase)
	}
	return nil
}

// checkRoster enforces the player count bounds and identifier rules.
func checkRoster(cfg Config, players []string) error {
	if len(players) < cfg.MinPlayers || len(players) > cfg.MaxPlayers {
		return invalidf("need between %d and %d players, got %d", cfg.MinPlayers, cfg.MaxPlayers, len(players))
	}
	seen := make(map[string]struct{}, len(players))
	for _, p := range players {
		if err := checkIdent("player id", p); err != nil {
			return err
		}
		if _, dup := seen[p]; dup {
			return invalidf("duplicate player %q", p)
		}
		seen[p] = struct{}{}
	}
	return nil
}

func checkSubmission(cfg Config, roundID, player, text string) error {
	if err := checkIdent("round id", roundID); err != nil {
		return err
	}
	if err := checkIdent("player id", player); err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return invalidf("prompt must not be empty")
	}
	if cfg.MaxPromptLength > 0 && utf8.RuneCountInString(text) > cfg.MaxPromptLength {
		return invalidf("prompt is longer than %d characters", cfg.MaxPromptLength)
	}
	return nil
}

func checkIdent(what, v string) error {
	if v == "" {
		return invalidf("%s is required", what)
	}
	if strings.IndexFunc(v, unicode.IsSpace) >= 0 {
		return invalidf("%s %q contains whitespace", what, v)
	}
	return nil
}
