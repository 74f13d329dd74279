package usecases_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/samirrijal/plonk/internal/core/domain"
	"github.com/samirrijal/plonk/internal/core/usecases"
	"github.com/samirrijal/plonk/internal/pkg/ratelimit"
)

func TestRunFleet_RunsAllSessions(t *testing.T) {
	controllers := make([]*usecases.SessionController, 3)
	for i := range controllers {
		controllers[i] = newTestSession(&mockDriver{}, &mockInferencer{}, 1, 2, nil, nil)
	}

	records, err := usecases.RunFleet(context.Background(), controllers, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for i, rec := range records {
		if rec == nil {
			t.Fatalf("record %d is nil", i)
		}
		if len(rec.Guesses) != 2 {
			t.Errorf("record %d: expected 2 guesses, got %d", i, len(rec.Guesses))
		}
	}
}

func TestRunFleet_ConcurrencyBounded(t *testing.T) {
	var inFlight, peak int64
	slowCapture := func(ctx context.Context) (domain.ImageRef, error) {
		cur := atomic.AddInt64(&inFlight, 1)
		for {
			old := atomic.LoadInt64(&peak)
			if cur <= old || atomic.CompareAndSwapInt64(&peak, old, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return domain.NewImageRef([]byte("jpeg"), "image/jpeg"), nil
	}

	controllers := make([]*usecases.SessionController, 4)
	for i := range controllers {
		driver := &mockDriver{captureFn: slowCapture}
		controllers[i] = newTestSession(driver, &mockInferencer{}, 1, 1, nil, nil)
	}

	_, err := usecases.RunFleet(context.Background(), controllers, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atomic.LoadInt64(&peak) > 1 {
		t.Errorf("expected at most 1 session in flight, saw %d", peak)
	}
}

func TestRunFleet_SharedGateAcrossSessions(t *testing.T) {
	gate := ratelimit.NewGate(1, time.Second)
	resolver := usecases.NewResolver(50, 0.85, 0.05)

	var inFlight, peak int64
	inferencer := func() *mockInferencer {
		m := &mockInferencer{}
		m.inferFn = func(ctx context.Context, views []domain.View) (domain.CandidateGuess, error) {
			cur := atomic.AddInt64(&inFlight, 1)
			for {
				old := atomic.LoadInt64(&peak)
				if cur <= old || atomic.CompareAndSwapInt64(&peak, old, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&inFlight, -1)
			return parisGuess(0.9), nil
		}
		return m
	}

	controllers := make([]*usecases.SessionController, 3)
	for i := range controllers {
		driver := &mockDriver{}
		rc := usecases.NewRoundController(driver, &mockSelector{}, inferencer(), resolver, gate, nil, testRoundConfig(8))
		controllers[i] = usecases.NewSessionController(driver, rc, nil, nil, nil, usecases.SessionConfig{
			SessionID:     "s-test",
			Backend:       "test",
			Games:         1,
			RoundsPerGame: 1,
			CallTimeout:   time.Second,
		})
	}

	_, err := usecases.RunFleet(context.Background(), controllers, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atomic.LoadInt64(&peak) > 1 {
		t.Errorf("expected the shared gate to admit 1 inference at a time, saw %d", peak)
	}
}
