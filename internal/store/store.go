// Package store holds the pieces shared by the round gateways: id and seed
// acquisition, the save checks and idempotent appends.
package store

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/kiliankoe/promptdash/internal/round"
)

// SeedSource returns the seed of a new round.
type SeedSource func() (uint32, error)

// CryptoSeed draws seeds from crypto/rand.
func CryptoSeed() (uint32, error) {
	var b [4]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// FixedSeed always returns seed. Tests use it to pin the voting order.
func FixedSeed(seed uint32) SeedSource {
	return func() (uint32, error) { return seed, nil }
}

// NewRound builds the initial prompt-phase snapshot with a fresh id.
func NewRound(seeds SeedSource, gameID string, players []string, activePlayer string, startedAt time.Time) (round.RoundState, error) {
	seed, err := seeds()
	if err != nil {
		return round.RoundState{}, err
	}
	return round.RoundState{
		ID:           uuid.NewString(),
		GameID:       gameID,
		Players:      slices.Clone(players),
		ActivePlayer: activePlayer,
		Phase:        round.PhasePrompt,
		Prompts:      map[string]string{},
		Votes:        map[string]int{},
		Seed:         seed,
		StartedAt:    startedAt,
	}, nil
}

// NewGame builds a game with every player at zero points.
func NewGame(players []string, totalRounds int, at time.Time) round.Game {
	g := round.Game{
		ID:          uuid.NewString(),
		Players:     slices.Clone(players),
		TotalRounds: totalRounds,
		Scores:      make(map[string]int, len(players)),
		CreatedAt:   at,
	}
	for _, p := range players {
		g.Scores[p] = 0
	}
	return g
}

// CheckAdvance accepts only a legal forward transition from the stored phase.
// Anything at or behind the stored phase is stale.
func CheckAdvance(stored, next round.Phase) error {
	if !stored.Before(next) {
		return fmt.Errorf("%w: stored phase %s, got %s", round.ErrStale, stored, next)
	}
	if !stored.CanTransitionTo(next) {
		return fmt.Errorf("%w: cannot move from %s to %s", round.ErrWrongPhase, stored, next)
	}
	return nil
}

// CheckPromptsOpen reports whether prompts may still be appended.
// CheckSave combines CheckAdvance with the revision compare of a save.
func CheckSave(stored, next round.RoundState) error {
	if err := CheckAdvance(stored.Phase, next.Phase); err != nil {
		return err
	}
	if next.Revision != stored.Revision+1 {
		return fmt.Errorf("%w: round %s is at revision %d, save carries %d", round.ErrStale, stored.ID, stored.Revision, next.Revision)
	}
	return nil
}

func CheckPromptsOpen(p round.Phase) error {
	if p != round.PhasePrompt && p != round.PhaseGuessing {
		return fmt.Errorf("%w: prompts are frozen in %s phase", round.ErrWrongPhase, p)
	}
	return nil
}

func CheckVotesOpen(p round.Phase) error {
	if p != round.PhaseVoting {
		return fmt.Errorf("%w: votes are closed in %s phase", round.ErrWrongPhase, p)
	}
	return nil
}

// Append inserts v into the map picked from cur and bumps the revision when
// the value is new.
func Append[V comparable](cur *round.RoundState, m map[string]V, key string, v V) (bool, error) {
	inserted, err := UpsertIfAbsent(m, key, v)
	if inserted {
		cur.Revision++
	}
	return inserted, err
}

// UpsertIfAbsent stores v under key unless a value is present. An identical
// value is reported as not inserted; a different one is a conflict.
func UpsertIfAbsent[V comparable](m map[string]V, key string, v V) (bool, error) {
	if cur, ok := m[key]; ok {
		if cur != v {
			return false, fmt.Errorf("%w: %s already submitted a different value", round.ErrConflict, key)
		}
		return false, nil
	}
	m[key] = v
	return true, nil
}
