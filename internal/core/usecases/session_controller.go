package usecases

import (
	"context"
	"log/slog"
	"time"

	"github.com/samirrijal/plonk/internal/core/domain"
	"github.com/samirrijal/plonk/internal/core/ports"
)

// SessionConfig tunes one play session.
type SessionConfig struct {
	SessionID     string
	Backend       string
	MapSlug       string
	Games         int
	RoundsPerGame int
	CallTimeout   time.Duration
}

// SessionController plays a whole session: Games games of RoundsPerGame
// rounds each, on a single driver. Rounds are strictly sequential within a
// session; concurrency lives one level up, across sessions.
type SessionController struct {
	driver    ports.Driver
	rounds    *RoundController
	sessions  ports.SessionRepository
	records   ports.RoundRepository
	publisher ports.EventPublisher
	cfg       SessionConfig
}

// NewSessionController creates a SessionController. sessions, records and
// publisher may each be nil; persistence and events are best-effort.
func NewSessionController(
	driver ports.Driver,
	rounds *RoundController,
	sessions ports.SessionRepository,
	records ports.RoundRepository,
	publisher ports.EventPublisher,
	cfg SessionConfig,
) *SessionController {
	return &SessionController{
		driver:    driver,
		rounds:    rounds,
		sessions:  sessions,
		records:   records,
		publisher: publisher,
		cfg:       cfg,
	}
}

// Run plays the configured session to completion. The record always reflects
// every round that was played, even when the session ends early; the error
// is non-nil only on cancellation.
func (c *SessionController) Run(ctx context.Context) (*domain.SessionRecord, error) {
	rec := &domain.SessionRecord{
		ID:            c.cfg.SessionID,
		Backend:       c.cfg.Backend,
		MapSlug:       c.cfg.MapSlug,
		RoundsPerGame: c.cfg.RoundsPerGame,
		StartedAt:     time.Now().UTC(),
	}

	log := slog.With("session", c.cfg.SessionID, "backend", c.cfg.Backend)
	log.Info("session started", "games", c.cfg.Games, "rounds_per_game", c.cfg.RoundsPerGame)

	if c.sessions != nil {
		if err := c.sessions.Create(ctx, rec); err != nil {
			log.Error("session record create failed", "error", err)
		}
	}
	c.publishEvent(ctx, &domain.RoundEvent{Type: domain.EventSessionStarted})

	for g := 0; g < c.cfg.Games; g++ {
		if err := ctx.Err(); err != nil {
			return c.finish(ctx, rec, log), err
		}

		if err := driveWithRetry(ctx, c.cfg.CallTimeout, "start_game", c.driver.StartGame); err != nil {
			// Without a fresh game there is nothing left to play on this
			// driver; close out with what the session has so far.
			log.Error("game start failed, ending session early", "game", g, "error", err)
			break
		}
		rec.GamesPlayed++
		log.Info("game started", "game", g)

		for r := 0; r < c.cfg.RoundsPerGame; r++ {
			fg, _, err := c.rounds.PlayRound(ctx, g, r)
			rec.Guesses = append(rec.Guesses, fg)
			if c.records != nil {
				if rerr := c.records.Insert(ctx, rec.ID, g, &fg); rerr != nil {
					log.Error("round record insert failed", "game", g, "round", r, "error", rerr)
				}
			}
			if err != nil {
				return c.finish(ctx, rec, log), err
			}

			if r == c.cfg.RoundsPerGame-1 {
				break
			}
			ok, err := c.nextRound(ctx)
			if err != nil {
				log.Error("round advance failed, ending game early", "game", g, "round", r, "error", err)
				break
			}
			if !ok {
				log.Info("game ended early", "game", g, "rounds_played", r+1)
				break
			}
		}
	}

	return c.finish(ctx, rec, log), nil
}

func (c *SessionController) nextRound(ctx context.Context) (bool, error) {
	var ok bool
	err := driveWithRetry(ctx, c.cfg.CallTimeout, "next_round", func(cc context.Context) error {
		var opErr error
		ok, opErr = c.driver.NextRound(cc)
		return opErr
	})
	return ok, err
}

func (c *SessionController) finish(ctx context.Context, rec *domain.SessionRecord, log *slog.Logger) *domain.SessionRecord {
	now := time.Now().UTC()
	rec.FinishedAt = &now
	rec.Stats = ComputeStats(rec.Guesses)

	if c.sessions != nil {
		if err := c.sessions.Finish(ctx, rec); err != nil {
			log.Error("session record finish failed", "error", err)
		}
	}
	c.publishEvent(ctx, &domain.RoundEvent{Type: domain.EventSessionFinished, Score: intPtr(rec.Stats.TotalScore)})

	log.Info("session finished",
		"games_played", rec.GamesPlayed,
		"rounds_played", rec.Stats.RoundsPlayed,
		"rounds_answered", rec.Stats.RoundsAnswered,
		"total_score", rec.Stats.TotalScore,
		"mean_distance_km", rec.Stats.MeanDistanceKm)
	return rec
}

func (c *SessionController) publishEvent(ctx context.Context, event *domain.RoundEvent) {
	if c.publisher == nil {
		return
	}
	event.SessionID = c.cfg.SessionID
	event.Backend = c.cfg.Backend
	event.At = time.Now().UTC()
	if err := c.publisher.PublishRoundEvent(ctx, event); err != nil {
		slog.Debug("session event publish failed", "type", event.Type, "error", err)
	}
}

func intPtr(v int) *int { return &v }
