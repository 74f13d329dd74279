// The recorder lands round events from the stream in the results store.
// Players that run without direct store access (or on flaky links) publish
// to JetStream and let the recorder persist on their behalf; players that do
// write directly coexist with it, because every insert is idempotent.
//
// The durable consumer picks up where it left off after a restart, so no
// event is lost while the recorder is down.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	natsadapter "github.com/samirrijal/plonk/internal/adapters/nats"
	"github.com/samirrijal/plonk/internal/adapters/postgres"
	"github.com/samirrijal/plonk/internal/core/domain"
	"github.com/samirrijal/plonk/internal/core/ports"
	"github.com/samirrijal/plonk/internal/core/usecases"
	"github.com/samirrijal/plonk/internal/pkg/config"
	"github.com/samirrijal/plonk/internal/pkg/logging"
)

func main() {
	cfg, err := config.Load("plonk-recorder")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logging.Setup("plonk-recorder", logLevel, "json")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	sub, err := natsadapter.NewSubscriber(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("nats: %v", err)
	}
	defer sub.Close()

	rec := &recorder{
		sessions: postgres.NewSessionRepo(db),
		rounds:   postgres.NewRoundRepo(db),
	}
	if err := sub.SubscribeRoundEvents(ctx, rec.handle); err != nil {
		log.Fatalf("subscribe: %v", err)
	}

	slog.Info("recorder started", "nats", cfg.NATS.URL)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutting down recorder", "signal", sig.String())
	cancel()
	// Give in-flight handlers time to ack before the subscriber drains.
	time.Sleep(2 * time.Second)
}

// recorder maps stream events onto store writes. It keeps no state of its
// own: games played and session stats are derived from the rounds table at
// finish time, so a restart mid-session loses nothing.
type recorder struct {
	sessions ports.SessionRepository
	rounds   ports.RoundRepository
}

func (r *recorder) handle(ctx context.Context, ev *domain.RoundEvent) error {
	switch ev.Type {
	case domain.EventSessionStarted:
		return r.sessions.Create(ctx, &domain.SessionRecord{
			ID:        ev.SessionID,
			Backend:   ev.Backend,
			StartedAt: ev.At,
		})

	case domain.EventRoundFinalized, domain.EventRoundFailed:
		return r.rounds.Insert(ctx, ev.SessionID, ev.GameIndex, guessFromEvent(ev))

	case domain.EventSessionFinished:
		return r.finishSession(ctx, ev)
	}
	// Progress events (round.started, view.captured, candidate.added)
	// carry nothing the store wants.
	return nil
}

func (r *recorder) finishSession(ctx context.Context, ev *domain.RoundEvent) error {
	guesses, err := r.rounds.ListBySession(ctx, ev.SessionID)
	if err != nil {
		return fmt.Errorf("list rounds for %s: %w", ev.SessionID, err)
	}
	games, err := r.rounds.CountGames(ctx, ev.SessionID)
	if err != nil {
		return fmt.Errorf("count games for %s: %w", ev.SessionID, err)
	}

	finished := ev.At
	rec := &domain.SessionRecord{
		ID:          ev.SessionID,
		Backend:     ev.Backend,
		GamesPlayed: games,
		FinishedAt:  &finished,
		Stats:       usecases.ComputeStats(guesses),
	}
	if err := r.sessions.Finish(ctx, rec); err != nil {
		return fmt.Errorf("finish %s: %w", ev.SessionID, err)
	}

	slog.Info("session recorded",
		"session_id", ev.SessionID,
		"backend", ev.Backend,
		"rounds", rec.Stats.RoundsPlayed,
		"total_score", rec.Stats.TotalScore)
	return nil
}

// guessFromEvent rebuilds the final guess from a terminal event. Terminal
// events carry location and scoring only when the guess landed, so a nil
// Guess marks the round unanswered.
func guessFromEvent(ev *domain.RoundEvent) *domain.FinalGuess {
	fg := &domain.FinalGuess{RoundIndex: ev.RoundIndex}
	if ev.Guess == nil {
		return fg
	}
	fg.Location = *ev.Guess
	fg.Confidence = ev.Confidence
	fg.Answered = true
	fg.Score = ev.Score
	fg.DistanceKm = ev.DistanceKm
	return fg
}
