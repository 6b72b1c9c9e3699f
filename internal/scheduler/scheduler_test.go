package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewRejectsNonPositiveInterval(t *testing.T) {
	if _, err := New(Options{}, zerolog.Nop()); !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("want ErrInvalidInterval, got %v", err)
	}
}

func TestNextTickAligned(t *testing.T) {
	s, err := New(Options{Interval: 5 * time.Minute, AlignToStart: true}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 3, 2, 14, 32, 5, 0, time.UTC)
	if got := s.nextTick(now); !got.Equal(time.Date(2026, 3, 2, 14, 35, 0, 0, time.UTC)) {
		t.Fatalf("unexpected next tick %s", got)
	}
	onBoundary := time.Date(2026, 3, 2, 14, 35, 0, 0, time.UTC)
	if got := s.nextTick(onBoundary); !got.Equal(onBoundary.Add(5 * time.Minute)) {
		t.Fatalf("boundary should advance a full interval, got %s", got)
	}
}

func TestNextTickUnaligned(t *testing.T) {
	s, _ := New(Options{Interval: time.Hour}, zerolog.Nop())
	now := time.Date(2026, 3, 2, 14, 32, 5, 0, time.UTC)
	if got := s.nextTick(now); !got.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected next tick %s", got)
	}
}

func TestRunOnStartAndKeepsGoingAfterErrors(t *testing.T) {
	s, err := New(Options{Interval: 10 * time.Millisecond, RunOnStart: true}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context, at time.Time) error {
			if calls.Add(1) >= 3 {
				cancel()
			}
			return errors.New("collector exploded")
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("want context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	if calls.Load() < 3 {
		t.Fatalf("expected at least 3 ticks, got %d", calls.Load())
	}
}

func TestRunStopsDuringStartupDelay(t *testing.T) {
	s, _ := New(Options{Interval: time.Minute, StartupDelay: time.Hour}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx, func(context.Context, time.Time) error {
		t.Fatal("tick should not run")
		return nil
	}); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}
