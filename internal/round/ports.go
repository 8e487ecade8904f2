package round

import (
	"context"
	"time"
)

// AppendResult reports an idempotent append. Inserted is false when the same
// value was already stored; Values is the full mapping after the call.
type AppendResult[V comparable] struct {
	Inserted bool
	Values   map[string]V
}

// Gateway owns the canonical round snapshots and every atomicity guarantee.
//
// AppendPrompt is accepted while the stored phase is prompt or guessing,
// AppendVote only while voting; otherwise they fail with ErrWrongPhase. A
// conflicting value for a player already present fails with ErrConflict.
// An append that inserts bumps the stored Revision. SaveRoundState only
// accepts a snapshot whose phase comes after the stored one and whose
// Revision is the stored revision plus one; it fails with ErrStale otherwise,
// so each transition commits once and never drops an append it did not see.
type Gateway interface {
	LoadRoundState(ctx context.Context, id string) (RoundState, error)
	SaveRoundState(ctx context.Context, state RoundState) error
	AppendPrompt(ctx context.Context, id, player, text string) (AppendResult[string], error)
	AppendVote(ctx context.Context, id, player string, slot int) (AppendResult[int], error)
	StartNewRound(ctx context.Context, gameID string, players []string, activePlayer string, startedAt time.Time) (RoundState, error)
}

type GameGateway interface {
	CreateGame(ctx context.Context, players []string, totalRounds int, at time.Time) (Game, error)
	LoadGame(ctx context.Context, id string) (Game, error)
	// UpdateGame applies fn to the stored game atomically and returns the
	// result. An error from fn aborts the update and is returned as is; fn
	// must not call back into the gateway.
	UpdateGame(ctx context.Context, id string, fn func(*Game) error) (Game, error)
}

// Scheduler delivers one PhaseTimeout per (round, phase) after delay. A new
// call for the same key replaces the pending timer.
type Scheduler interface {
	ScheduleTimeout(ctx context.Context, roundID string, phase Phase, delay time.Duration) error
}

type Publisher interface {
	Publish(ctx context.Context, channel string, event Event) error
}

type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}
