package workflows

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/samirrijal/plonk/internal/core/domain"
	"github.com/samirrijal/plonk/internal/core/ports"
	"github.com/samirrijal/plonk/internal/core/usecases"
)

// SessionLauncher starts one full play session against the live game. The
// worker provides the implementation; it owns the browser, the backend
// clients, and the persistence wiring.
type SessionLauncher interface {
	LaunchSession(ctx context.Context, params RunSessionParams) (*domain.SessionRecord, error)
}

// CampaignActivities holds the activity implementations for the benchmark
// campaign workflow.
type CampaignActivities struct {
	Launcher SessionLauncher
	Records  *usecases.RecordService
	Sessions ports.SessionRepository
}

// RunBenchmarkSession plays one session to completion. Sessions run for many
// minutes, so a heartbeat goroutine keeps the activity alive while the
// launcher works.
func (a *CampaignActivities) RunBenchmarkSession(ctx context.Context, params RunSessionParams) error {
	if a.Launcher == nil {
		return fmt.Errorf("no session launcher configured")
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				activity.RecordHeartbeat(ctx, params.SessionID)
			}
		}
	}()
	defer close(done)

	rec, err := a.Launcher.LaunchSession(ctx, params)
	if err != nil {
		return fmt.Errorf("launch session %s: %w", params.SessionID, err)
	}
	log.Printf("Session %s finished: %d rounds, mean score %.1f",
		rec.ID, rec.Stats.RoundsPlayed, rec.Stats.MeanScore)
	return nil
}

// AbandonSession removes a session record that never finished (saga compensation / rollback).
func (a *CampaignActivities) AbandonSession(ctx context.Context, sessionID string) error {
	if err := a.Sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	log.Printf("Session %s deleted (saga compensation)", sessionID)
	return nil
}

// CompareBackends returns the aggregate standings across inference backends.
func (a *CampaignActivities) CompareBackends(ctx context.Context) ([]domain.BackendStats, error) {
	stats, err := a.Records.BackendStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("backend stats: %w", err)
	}
	return stats, nil
}
