package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kiliankoe/promptdash/internal/round"
)

type fired struct {
	roundID string
	phase   round.Phase
}

func recorder() (Dispatch, <-chan fired) {
	ch := make(chan fired, 16)
	return func(_ context.Context, roundID string, phase round.Phase, _ time.Time) error {
		ch <- fired{roundID, phase}
		return nil
	}, ch
}

func TestTimeoutFires(t *testing.T) {
	d, ch := recorder()
	s := New(d)
	defer s.Stop()

	if err := s.ScheduleTimeout(context.Background(), "r1", round.PhasePrompt, 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	select {
	case f := <-ch:
		if f.roundID != "r1" || f.phase != round.PhasePrompt {
			t.Fatalf("unexpected dispatch %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout never fired")
	}
	if s.Pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", s.Pending())
	}
}

func TestRescheduleReplacesPendingTimer(t *testing.T) {
	d, ch := recorder()
	s := New(d)
	defer s.Stop()

	ctx := context.Background()
	if err := s.ScheduleTimeout(ctx, "r1", round.PhaseVoting, 20*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if err := s.ScheduleTimeout(ctx, "r1", round.PhaseVoting, 60*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if s.Pending() != 1 {
		t.Fatalf("expected one pending timer, got %d", s.Pending())
	}

	<-ch
	select {
	case f := <-ch:
		t.Fatalf("replaced timer fired too: %+v", f)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestCancelAndStop(t *testing.T) {
	d, ch := recorder()
	s := New(d)

	ctx := context.Background()
	_ = s.ScheduleTimeout(ctx, "r1", round.PhasePrompt, 30*time.Millisecond)
	_ = s.ScheduleTimeout(ctx, "r2", round.PhasePrompt, 30*time.Millisecond)
	s.Cancel("r1")
	if s.Pending() != 1 {
		t.Fatalf("expected one pending timer after cancel, got %d", s.Pending())
	}
	s.Stop()

	select {
	case f := <-ch:
		t.Fatalf("stopped scheduler dispatched %+v", f)
	case <-time.After(100 * time.Millisecond):
	}
	if err := s.ScheduleTimeout(ctx, "r3", round.PhasePrompt, time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if s.Pending() != 0 {
		t.Fatal("stopped scheduler should not accept timers")
	}
}

func TestDispatchErrorIsNotRetried(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	done := make(chan struct{})
	s := New(func(context.Context, string, round.Phase, time.Time) error {
		mu.Lock()
		calls++
		mu.Unlock()
		close(done)
		return errors.New("boom")
	})
	defer s.Stop()

	_ = s.ScheduleTimeout(context.Background(), "r1", round.PhaseGuessing, time.Millisecond)
	<-done
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected one dispatch, got %d", calls)
	}
}

func TestDispatchGetsClockTime(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_000)
	got := make(chan time.Time, 1)
	s := New(func(_ context.Context, _ string, _ round.Phase, fireAt time.Time) error {
		got <- fireAt
		return nil
	}, WithClock(func() time.Time { return at }))
	defer s.Stop()

	_ = s.ScheduleTimeout(context.Background(), "r1", round.PhasePrompt, time.Millisecond)
	select {
	case fireAt := <-got:
		if !fireAt.Equal(at) {
			t.Fatalf("expected %v, got %v", at, fireAt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout never fired")
	}
}
