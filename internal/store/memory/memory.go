// Package memory keeps rounds and games in process memory. A single mutex
// makes every append and save atomic.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/kiliankoe/promptdash/internal/round"
	"github.com/kiliankoe/promptdash/internal/store"
)

type Store struct {
	mu     sync.Mutex
	rounds map[string]round.RoundState
	games  map[string]round.Game
	seeds  store.SeedSource
}

type Option func(*Store)

func WithSeedSource(src store.SeedSource) Option {
	return func(s *Store) { s.seeds = src }
}

func New(opts ...Option) *Store {
	s := &Store{
		rounds: make(map[string]round.RoundState),
		games:  make(map[string]round.Game),
		seeds:  store.CryptoSeed,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) StartNewRound(_ context.Context, gameID string, players []string, activePlayer string, startedAt time.Time) (round.RoundState, error) {
	st, err := store.NewRound(s.seeds, gameID, players, activePlayer, startedAt)
	if err != nil {
		return round.RoundState{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rounds[st.ID] = st.Clone()
	return st, nil
}

func (s *Store) LoadRoundState(_ context.Context, id string) (round.RoundState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.rounds[id]
	if !ok {
		return round.RoundState{}, round.ErrNotFound
	}
	return st.Clone(), nil
}

func (s *Store) SaveRoundState(_ context.Context, st round.RoundState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rounds[st.ID]
	if !ok {
		return round.ErrNotFound
	}
	if err := store.CheckSave(cur, st); err != nil {
		return err
	}
	s.rounds[st.ID] = st.Clone()
	return nil
}

func (s *Store) AppendPrompt(_ context.Context, id, player, text string) (round.AppendResult[string], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.rounds[id]
	if !ok {
		return round.AppendResult[string]{}, round.ErrNotFound
	}
	if err := store.CheckPromptsOpen(st.Phase); err != nil {
		return round.AppendResult[string]{}, err
	}
	inserted, err := store.Append(&st, st.Prompts, player, text)
	if err != nil {
		return round.AppendResult[string]{}, err
	}
	s.rounds[id] = st
	return round.AppendResult[string]{Inserted: inserted, Values: maps.Clone(st.Prompts)}, nil
}

func (s *Store) AppendVote(_ context.Context, id, player string, slot int) (round.AppendResult[int], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.rounds[id]
	if !ok {
		return round.AppendResult[int]{}, round.ErrNotFound
	}
	if err := store.CheckVotesOpen(st.Phase); err != nil {
		return round.AppendResult[int]{}, err
	}
	inserted, err := store.Append(&st, st.Votes, player, slot)
	if err != nil {
		return round.AppendResult[int]{}, err
	}
	s.rounds[id] = st
	return round.AppendResult[int]{Inserted: inserted, Values: maps.Clone(st.Votes)}, nil
}

func (s *Store) CreateGame(_ context.Context, players []string, totalRounds int, at time.Time) (round.Game, error) {
	g := store.NewGame(players, totalRounds, at)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games[g.ID] = g.Clone()
	return g, nil
}

func (s *Store) LoadGame(_ context.Context, id string) (round.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[id]
	if !ok {
		return round.Game{}, round.ErrGameNotFound
	}
	return g.Clone(), nil
}

func (s *Store) UpdateGame(_ context.Context, id string, fn func(*round.Game) error) (round.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.games[id]
	if !ok {
		return round.Game{}, round.ErrGameNotFound
	}
	g := cur.Clone()
	if err := fn(&g); err != nil {
		return round.Game{}, err
	}
	g.ID = id
	s.games[id] = g.Clone()
	return g, nil
}
