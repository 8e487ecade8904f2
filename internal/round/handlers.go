package round

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

func (e *Engine) startRound(ctx context.Context, c StartRound, at time.Time) (RoundState, error) {
	s, err := e.createRound(ctx, c, at)
	if err != nil {
		return s, err
	}
	return s, e.announceRound(ctx, s, at)
}

// startNextRound rotates the active player through the game's roster. The
// finished current round is folded in the same update that records the new
// one, which repairs a fold that failed when the round ended.
func (e *Engine) startNextRound(ctx context.Context, c StartNextRound, at time.Time) (RoundState, error) {
	g, err := e.games.LoadGame(ctx, c.GameID)
	if err != nil {
		return RoundState{}, err
	}
	if g.Over() {
		return RoundState{}, ErrGameOver
	}
	var prev *RoundState
	if g.CurrentRoundID != "" {
		cur, err := e.rounds.LoadRoundState(ctx, g.CurrentRoundID)
		if err != nil {
			return RoundState{}, err
		}
		if cur.Phase != PhaseFinished {
			return cur, fmt.Errorf("%w: round %s is in %s phase", ErrRoundInProgress, cur.ID, cur.Phase)
		}
		prev = &cur
	}

	start, err := NewStartRound(e.cfg, g.ID, g.Players, g.Players[g.RoundIndex%len(g.Players)])
	if err != nil {
		return RoundState{}, err
	}
	s, err := e.createRound(ctx, start, at)
	if err != nil {
		return s, err
	}
	_, err = e.games.UpdateGame(ctx, g.ID, func(cur *Game) error {
		if cur.CurrentRoundID != g.CurrentRoundID {
			return fmt.Errorf("%w: game %s already moved to round %s", ErrRoundInProgress, cur.ID, cur.CurrentRoundID)
		}
		if prev != nil {
			*cur = FoldScores(*cur, prev.ID, prev.Scores)
		}
		cur.RoundIndex++
		cur.CurrentRoundID = s.ID
		return nil
	})
	if err != nil {
		e.log.Warn().Err(err).Str("roundId", s.ID).Str("gameId", g.ID).Msg("started round not recorded on game")
		return s, err
	}
	return s, e.announceRound(ctx, s, at)
}

func (e *Engine) createRound(ctx context.Context, c StartRound, at time.Time) (RoundState, error) {
	s, err := e.rounds.StartNewRound(ctx, c.GameID, c.Players, c.ActivePlayer, at)
	if err != nil {
		return RoundState{}, err
	}
	if _, err := Validate(s); err != nil {
		return s, err
	}
	e.log.Info().Str("roundId", s.ID).Str("gameId", s.GameID).Str("activePlayer", s.ActivePlayer).Msg("round started")
	return s, nil
}

func (e *Engine) announceRound(ctx context.Context, s RoundState, at time.Time) error {
	if err := e.timers.ScheduleTimeout(ctx, s.ID, PhasePrompt, e.cfg.PromptDuration); err != nil {
		return err
	}
	return e.publish(ctx, s.ID, RoundStarted{
		RoundID:          s.ID,
		Players:          slices.Clone(s.Players),
		ActivePlayer:     s.ActivePlayer,
		At:               millis(at),
		PromptDurationMs: e.cfg.PromptDuration.Milliseconds(),
	})
}

func (e *Engine) submitPrompt(ctx context.Context, c SubmitPrompt, at time.Time) (RoundState, error) {
	r, err := e.load(ctx, c.RoundID)
	if err != nil {
		return RoundState{}, err
	}
	text := strings.TrimSpace(c.Text)
	// A redelivered submission that is already stored succeeds in any phase.
	if s := r.Snapshot(); alreadyStored(s.Prompts, c.Player, text) {
		return s, nil
	}
	pr, ok := r.(*PromptRound)
	if !ok {
		return r.Snapshot(), wrongPhase(r)
	}
	if !pr.Has(c.Player) {
		return pr.Snapshot(), ErrNotMember
	}
	if c.Player != pr.ActivePlayer {
		return pr.Snapshot(), ErrNotActivePlayer
	}
	if at.After(pr.StartedAt.Add(e.cfg.PromptDuration)) {
		return pr.Snapshot(), ErrDeadlinePassed
	}

	res, err := e.rounds.AppendPrompt(ctx, pr.ID, c.Player, text)
	if err != nil {
		return pr.Snapshot(), err
	}
	if !res.Inserted {
		return pr.Snapshot(), nil
	}

	imageURL, err := e.images.GenerateImage(ctx, text)
	if err != nil {
		return pr.Snapshot(), fmt.Errorf("generate image: %w", err)
	}
	fresh, err := e.load(ctx, pr.ID)
	if err != nil {
		return pr.Snapshot(), err
	}
	if _, ok := fresh.(*PromptRound); !ok {
		// The prompt timeout ended the round while the image was generating.
		return fresh.Snapshot(), ErrDeadlinePassed
	}
	v, err := e.advance(ctx, fresh, func(r Round) RoundState { return r.(*PromptRound).toGuessing(imageURL) })
	if err != nil {
		return fresh.Snapshot(), err
	}
	if v == nil {
		return e.current(ctx, pr.ID, fresh), ErrDeadlinePassed
	}
	if err := e.timers.ScheduleTimeout(ctx, pr.ID, PhaseGuessing, e.cfg.GuessingDuration); err != nil {
		return v.Snapshot(), err
	}
	return v.Snapshot(), e.publish(ctx, pr.ID,
		ImageGenerated{RoundID: pr.ID, ImageURL: imageURL, GuessingDurationMs: e.cfg.GuessingDuration.Milliseconds()},
		PhaseChanged{Phase: PhaseGuessing, At: millis(at)},
	)
}

func (e *Engine) submitDecoy(ctx context.Context, c SubmitDecoy, at time.Time) (RoundState, error) {
	r, err := e.load(ctx, c.RoundID)
	if err != nil {
		return RoundState{}, err
	}
	text := strings.TrimSpace(c.Text)
	if s := r.Snapshot(); alreadyStored(s.Prompts, c.Player, text) {
		return s, nil
	}
	gr, ok := r.(*GuessingRound)
	if !ok {
		return r.Snapshot(), wrongPhase(r)
	}
	if !gr.Has(c.Player) {
		return gr.Snapshot(), ErrNotMember
	}
	if c.Player == gr.ActivePlayer {
		return gr.Snapshot(), ErrActivePlayer
	}

	res, err := e.rounds.AppendPrompt(ctx, gr.ID, c.Player, text)
	if err != nil {
		return gr.Snapshot(), err
	}
	if !res.Inserted || len(res.Values) < len(gr.Players) {
		current := gr.Snapshot()
		current.Prompts = maps.Clone(res.Values)
		return current, nil
	}
	fresh, err := e.load(ctx, gr.ID)
	if err != nil {
		return gr.Snapshot(), err
	}
	next, ok := fresh.(*GuessingRound)
	if !ok {
		return fresh.Snapshot(), nil
	}
	return e.openVoting(ctx, next, at)
}

func (e *Engine) submitVote(ctx context.Context, c SubmitVote, at time.Time) (RoundState, error) {
	r, err := e.load(ctx, c.RoundID)
	if err != nil {
		return RoundState{}, err
	}
	if s := r.Snapshot(); alreadyStored(s.Votes, c.Player, c.Index) {
		return s, nil
	}
	vr, ok := r.(*VotingRound)
	if !ok {
		return r.Snapshot(), wrongPhase(r)
	}
	if !vr.Has(c.Player) {
		return vr.Snapshot(), ErrNotMember
	}
	if c.Player == vr.ActivePlayer {
		return vr.Snapshot(), ErrActivePlayer
	}
	if c.Index >= len(vr.ShuffleOrder) {
		return vr.Snapshot(), fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidIndex, c.Index, len(vr.ShuffleOrder))
	}

	res, err := e.rounds.AppendVote(ctx, vr.ID, c.Player, c.Index)
	if err != nil {
		return vr.Snapshot(), err
	}
	if !res.Inserted || len(res.Values) < len(vr.Eligible()) {
		current := vr.Snapshot()
		current.Votes = res.Values
		return current, nil
	}
	fresh, err := e.load(ctx, vr.ID)
	if err != nil {
		return vr.Snapshot(), err
	}
	next, ok := fresh.(*VotingRound)
	if !ok {
		return fresh.Snapshot(), nil
	}
	return e.finalize(ctx, next, at)
}

// phaseTimeout advances the round with whatever data exists, unless a
// submission already moved it past the phase the timer was set for.
func (e *Engine) phaseTimeout(ctx context.Context, c PhaseTimeout, at time.Time) (RoundState, error) {
	r, err := e.load(ctx, c.RoundID)
	if err != nil {
		return RoundState{}, err
	}
	if r.Phase() != c.Phase {
		e.log.Debug().Str("roundId", c.RoundID).Str("scheduled", string(c.Phase)).Str("current", string(r.Phase())).Msg("stale timeout ignored")
		return r.Snapshot(), nil
	}
	switch v := r.(type) {
	case *PromptRound:
		return e.finish(ctx, v, func(r Round) RoundState { return r.(*PromptRound).abandon(at) }, at)
	case *GuessingRound:
		return e.openVoting(ctx, v, at)
	case *VotingRound:
		return e.finalize(ctx, v, at)
	case *ScoringRound:
		return e.finish(ctx, v, func(r Round) RoundState { return r.(*ScoringRound).toFinished(at) }, at)
	}
	return r.Snapshot(), nil
}

func (e *Engine) openVoting(ctx context.Context, gr *GuessingRound, at time.Time) (RoundState, error) {
	v, err := e.advance(ctx, gr, func(r Round) RoundState { return r.(*GuessingRound).toVoting() })
	if err != nil {
		return gr.Snapshot(), err
	}
	if v == nil {
		return e.current(ctx, gr.ID, gr), nil
	}
	vr := v.(*VotingRound)
	if err := e.timers.ScheduleTimeout(ctx, vr.ID, PhaseVoting, e.cfg.VotingDuration); err != nil {
		return vr.Snapshot(), err
	}
	return vr.Snapshot(), e.publish(ctx, vr.ID,
		PromptsReady{
			RoundID:          vr.ID,
			Prompts:          vr.SlotPrompts(),
			VotingDurationMs: e.cfg.VotingDuration.Milliseconds(),
			At:               millis(at),
		},
		PhaseChanged{Phase: PhaseVoting, At: millis(at)},
	)
}

// scoringRetryDelay is how long a round may sit in scoring before its timer
// retries the finish.
const scoringRetryDelay = 5 * time.Second

// finalize scores the round and finishes it as two separately persisted
// steps. A timer on the scoring phase finishes the round if the second save
// fails.
func (e *Engine) finalize(ctx context.Context, vr *VotingRound, at time.Time) (RoundState, error) {
	v, err := e.advance(ctx, vr, func(r Round) RoundState { return r.(*VotingRound).toScoring() })
	if err != nil {
		return vr.Snapshot(), err
	}
	if v == nil {
		return e.current(ctx, vr.ID, vr), nil
	}
	sr := v.(*ScoringRound)
	if err := e.timers.ScheduleTimeout(ctx, sr.ID, PhaseScoring, scoringRetryDelay); err != nil {
		e.log.Error().Err(err).Str("roundId", sr.ID).Msg("could not schedule scoring retry")
	}
	if err := e.publish(ctx, sr.ID, PhaseChanged{Phase: PhaseScoring, At: millis(at)}); err != nil {
		return sr.Snapshot(), err
	}
	return e.finish(ctx, sr, func(r Round) RoundState { return r.(*ScoringRound).toFinished(at) }, at)
}

// finish commits the finished snapshot, folds it into the game and announces
// it. The events go out even when the fold fails; the fold error is returned
// afterwards and the next StartNextRound folds the round again.
func (e *Engine) finish(ctx context.Context, from Round, build func(Round) RoundState, at time.Time) (RoundState, error) {
	v, err := e.advance(ctx, from, build)
	if err != nil {
		return from.Snapshot(), err
	}
	if v == nil {
		return e.current(ctx, from.Snapshot().ID, from), nil
	}
	fr := v.(*FinishedRound)
	foldErr := e.foldIntoGame(ctx, fr)
	if foldErr != nil {
		e.log.Error().Err(foldErr).Str("roundId", fr.ID).Str("gameId", fr.GameID).Msg("fold round into game")
	}
	if err := e.publish(ctx, fr.ID,
		PhaseChanged{Phase: PhaseFinished, At: millis(at)},
		RoundFinished{RoundID: fr.ID, At: millis(at), Scores: fr.Snapshot().Scores},
	); err != nil {
		return fr.Snapshot(), err
	}
	return fr.Snapshot(), foldErr
}

// foldIntoGame adds the round's scores to its game. Rounds started outside
// a tracked game have nothing to fold into.
func (e *Engine) foldIntoGame(ctx context.Context, fr *FinishedRound) error {
	if e.games == nil {
		return nil
	}
	_, err := e.games.UpdateGame(ctx, fr.GameID, func(g *Game) error {
		*g = FoldScores(*g, fr.ID, fr.Scores)
		return nil
	})
	if errors.Is(err, ErrGameNotFound) {
		e.log.Warn().Str("roundId", fr.ID).Str("gameId", fr.GameID).Msg("finished round has no game to fold into")
		return nil
	}
	return err
}

// current reloads the snapshot after another command won a transition,
// falling back to the view the caller had.
func (e *Engine) current(ctx context.Context, id string, had Round) RoundState {
	s, err := e.rounds.LoadRoundState(ctx, id)
	if err != nil {
		return had.Snapshot()
	}
	return s
}

func alreadyStored[V comparable](m map[string]V, player string, v V) bool {
	cur, ok := m[player]
	return ok && cur == v
}

func wrongPhase(r Round) error {
	return fmt.Errorf("%w: round %s is in %s phase", ErrWrongPhase, r.Snapshot().ID, r.Phase())
}
