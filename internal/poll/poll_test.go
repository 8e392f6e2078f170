package poll

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestEngineRunsImmediatelyThenOnInterval(t *testing.T) {
	var ticks atomic.Int64
	engine := NewEngine(nil, nil)
	engine.Add(Task{Name: "chats", Interval: 10 * time.Millisecond, Run: func(ctx context.Context) error {
		ticks.Add(1)
		return nil
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := engine.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := ticks.Load(); got < 2 {
		t.Fatalf("expected an immediate tick plus interval ticks, got %d", got)
	}
}

func TestEngineFailedTickDoesNotStopLoop(t *testing.T) {
	var ticks atomic.Int64
	engine := NewEngine(nil, nil)
	engine.Add(Task{Name: "sessions", Interval: 10 * time.Millisecond, Run: func(ctx context.Context) error {
		ticks.Add(1)
		return errors.New("backend down")
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := engine.Run(ctx); err != nil {
		t.Fatalf("run must not surface tick errors: %v", err)
	}

	if got := ticks.Load(); got < 2 {
		t.Fatalf("expected the loop to keep ticking after failures, got %d", got)
	}
}

func TestEngineRunsEveryTask(t *testing.T) {
	var first, second atomic.Int64
	engine := NewEngine(nil, nil)
	engine.Add(Task{Name: "a", Interval: time.Hour, Run: func(ctx context.Context) error {
		first.Add(1)
		return nil
	}})
	engine.Add(Task{Name: "b", Interval: time.Hour, Run: func(ctx context.Context) error {
		second.Add(1)
		return nil
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := engine.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	if first.Load() != 1 || second.Load() != 1 {
		t.Fatalf("expected one immediate tick per task, got %d and %d", first.Load(), second.Load())
	}
}
