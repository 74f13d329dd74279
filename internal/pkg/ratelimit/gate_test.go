package ratelimit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/samirrijal/plonk/internal/pkg/ratelimit"
)

func TestGate_AcquireRelease(t *testing.T) {
	g := ratelimit.NewGate(1, time.Second)

	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	g.Release()

	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("second acquire after release failed: %v", err)
	}
	g.Release()
}

func TestGate_TimeoutWhenFull(t *testing.T) {
	g := ratelimit.NewGate(1, 20*time.Millisecond)

	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer g.Release()

	err := g.Acquire(context.Background())
	if !errors.Is(err, ratelimit.ErrGateTimeout) {
		t.Fatalf("expected ErrGateTimeout, got %v", err)
	}
}

func TestGate_CallerCancellationWins(t *testing.T) {
	g := ratelimit.NewGate(1, time.Minute)

	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer g.Release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := g.Acquire(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestGate_AdmitsUpToSize(t *testing.T) {
	g := ratelimit.NewGate(3, 20*time.Millisecond)

	for i := 0; i < 3; i++ {
		if err := g.Acquire(context.Background()); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if err := g.Acquire(context.Background()); !errors.Is(err, ratelimit.ErrGateTimeout) {
		t.Fatalf("expected gate full, got %v", err)
	}
}
