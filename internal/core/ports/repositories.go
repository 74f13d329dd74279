package ports

import (
	"context"

	"github.com/samirrijal/plonk/internal/core/domain"
)

// SessionRepository persists session records.
type SessionRepository interface {
	Create(ctx context.Context, rec *domain.SessionRecord) error
	Finish(ctx context.Context, rec *domain.SessionRecord) error
	GetByID(ctx context.Context, id string) (*domain.SessionRecord, error)
	List(ctx context.Context, backend string, limit, offset int) ([]domain.SessionRecord, int, error)
	// Delete removes a session and its rounds. Used to roll back sessions
	// that never finished.
	Delete(ctx context.Context, id string) error
}

// RoundRepository persists per-round outcomes.
type RoundRepository interface {
	Insert(ctx context.Context, sessionID string, gameIndex int, guess *domain.FinalGuess) error
	InsertBatch(ctx context.Context, sessionID string, gameIndex int, guesses []domain.FinalGuess) error
	ListBySession(ctx context.Context, sessionID string) ([]domain.FinalGuess, error)
	// CountGames reports how many distinct games hold recorded rounds.
	CountGames(ctx context.Context, sessionID string) (int, error)
}

// StatsRepository serves aggregate scoring statistics for the ops API.
type StatsRepository interface {
	ByBackend(ctx context.Context) ([]domain.BackendStats, error)
}
