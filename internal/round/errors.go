package round

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCommand  = errors.New("invalid command")
	ErrNotFound        = errors.New("round not found")
	ErrGameNotFound    = errors.New("game not found")
	ErrWrongPhase      = errors.New("invalid phase for action")
	ErrNotMember       = errors.New("player is not part of the round")
	ErrNotActivePlayer = errors.New("only the active player may submit the prompt")
	ErrActivePlayer    = errors.New("active player may not submit decoys or vote")
	ErrDeadlinePassed  = errors.New("submission deadline passed")
	ErrInvalidIndex    = errors.New("vote index out of range")
	ErrConflict        = errors.New("conflicting resubmission")
	ErrStale           = errors.New("round already advanced")
	ErrGameOver        = errors.New("all rounds of the game have been played")
	ErrRoundInProgress = errors.New("current round is not finished")
	ErrInvariant       = errors.New("round invariant violated")
)

// InvariantError reports a snapshot that failed validation. Reason is one of
// the Reason constants and is stable across releases.
type InvariantError struct {
	Reason string
	State  RoundState
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("round %s (%s): %s", e.State.ID, e.State.Phase, e.Reason)
}

func (e *InvariantError) Is(target error) bool { return target == ErrInvariant }

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidCommand, fmt.Sprintf(format, args...))
}
