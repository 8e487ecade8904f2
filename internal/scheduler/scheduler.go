// Package scheduler fires phase timeouts with time.AfterFunc.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/promptdash/internal/round"
)

// Dispatch delivers a fired timeout. at is the fire time.
type Dispatch func(ctx context.Context, roundID string, phase round.Phase, at time.Time) error

type key struct {
	roundID string
	phase   round.Phase
}

type entry struct {
	timer *time.Timer
	gen   uint64
}

// Scheduler keeps at most one pending timer per (round, phase). Scheduling
// the same key again replaces the pending timer.
type Scheduler struct {
	mu       sync.Mutex
	pending  map[key]entry
	gen      uint64
	dispatch Dispatch
	now      func() time.Time
	log      zerolog.Logger
	stopped  bool
	wg       sync.WaitGroup
}

type Option func(*Scheduler)

// WithClock overrides the time passed to Dispatch.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

func New(dispatch Dispatch, opts ...Option) *Scheduler {
	s := &Scheduler{
		pending:  make(map[key]entry),
		dispatch: dispatch,
		now:      time.Now,
		log:      log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "scheduler").Logger()
	return s
}

// SetDispatch installs the dispatch function after construction, for callers
// whose dispatcher needs the scheduler itself.
func (s *Scheduler) SetDispatch(d Dispatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatch = d
}

func (s *Scheduler) ScheduleTimeout(ctx context.Context, roundID string, phase round.Phase, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}

	k := key{roundID, phase}
	if prev, ok := s.pending[k]; ok {
		prev.timer.Stop()
	}
	s.gen++
	gen := s.gen
	// The request context ends long before the timer; keep its values only.
	fireCtx := context.WithoutCancel(ctx)
	s.pending[k] = entry{
		gen:   gen,
		timer: time.AfterFunc(delay, func() { s.fire(fireCtx, k, gen) }),
	}
	s.log.Debug().Str("roundId", roundID).Str("phase", string(phase)).Dur("delay", delay).Msg("timeout scheduled")
	return nil
}

func (s *Scheduler) fire(ctx context.Context, k key, gen uint64) {
	s.mu.Lock()
	cur, ok := s.pending[k]
	if !ok || cur.gen != gen || s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.pending, k)
	dispatch := s.dispatch
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	if dispatch == nil {
		return
	}
	if err := dispatch(ctx, k.roundID, k.phase, s.now()); err != nil {
		s.log.Error().Err(err).Str("roundId", k.roundID).Str("phase", string(k.phase)).Msg("timeout dispatch failed")
	}
}

// Cancel drops every pending timer of a round.
func (s *Scheduler) Cancel(roundID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.pending {
		if k.roundID == roundID {
			e.timer.Stop()
			delete(s.pending, k)
		}
	}
}

// Pending reports how many timers have not fired yet.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop cancels all pending timers and waits for running dispatches.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for k, e := range s.pending {
		e.timer.Stop()
		delete(s.pending, k)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
