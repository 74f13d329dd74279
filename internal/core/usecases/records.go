package usecases

import (
	"context"
	"fmt"

	"github.com/samirrijal/plonk/internal/core/domain"
	"github.com/samirrijal/plonk/internal/core/ports"
)

// RecordService serves stored session results to the ops API.
type RecordService struct {
	sessions ports.SessionRepository
	rounds   ports.RoundRepository
	stats    ports.StatsRepository
}

// NewRecordService creates a new RecordService.
func NewRecordService(sessions ports.SessionRepository, rounds ports.RoundRepository, stats ports.StatsRepository) *RecordService {
	return &RecordService{sessions: sessions, rounds: rounds, stats: stats}
}

// ListSessions returns a page of sessions, newest first, optionally filtered
// by inference backend. The second return value is the total match count.
func (s *RecordService) ListSessions(ctx context.Context, backend string, limit, offset int) ([]domain.SessionRecord, int, error) {
	return s.sessions.List(ctx, backend, limit, offset)
}

// GetSession returns one session with its guesses loaded.
func (s *RecordService) GetSession(ctx context.Context, id string) (*domain.SessionRecord, error) {
	rec, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	guesses, err := s.rounds.ListBySession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load guesses: %w", err)
	}
	rec.Guesses = guesses
	return rec, nil
}

// SessionRounds returns the final guesses of one session in play order.
func (s *RecordService) SessionRounds(ctx context.Context, id string) ([]domain.FinalGuess, error) {
	return s.rounds.ListBySession(ctx, id)
}

// BackendStats compares aggregate scoring across inference backends.
func (s *RecordService) BackendStats(ctx context.Context) ([]domain.BackendStats, error) {
	return s.stats.ByBackend(ctx)
}
