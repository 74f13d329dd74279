package postgres

import (
	"context"
	"database/sql"

	"github.com/samirrijal/plonk/internal/core/domain"
)

// SessionRepo implements ports.SessionRepository.
type SessionRepo struct {
	db *DB
}

func NewSessionRepo(db *DB) *SessionRepo {
	return &SessionRepo{db: db}
}

// Create inserts the session row. Both the player and the stream recorder
// may announce the same session; whichever lands second is a no-op.
func (r *SessionRepo) Create(ctx context.Context, rec *domain.SessionRecord) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO sessions (id, backend, map_slug, games_played, rounds_per_game, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, rec.ID, rec.Backend, rec.MapSlug, rec.GamesPlayed, rec.RoundsPerGame, rec.StartedAt)
	return err
}

func (r *SessionRepo) Finish(ctx context.Context, rec *domain.SessionRecord) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE sessions
		SET finished_at = $2, games_played = $3,
		    rounds_played = $4, rounds_answered = $5, total_score = $6,
		    mean_score = $7, median_score = $8, best_score = $9, worst_score = $10,
		    mean_distance_km = $11, best_distance_km = $12
		WHERE id = $1
	`, rec.ID, rec.FinishedAt, rec.GamesPlayed,
		rec.Stats.RoundsPlayed, rec.Stats.RoundsAnswered, rec.Stats.TotalScore,
		rec.Stats.MeanScore, rec.Stats.MedianScore, rec.Stats.BestScore, rec.Stats.WorstScore,
		rec.Stats.MeanDistanceKm, rec.Stats.BestDistanceKm)
	return err
}

// GetByID returns the session row. Guesses live in the rounds table and are
// loaded separately through RoundRepository.
func (r *SessionRepo) GetByID(ctx context.Context, id string) (*domain.SessionRecord, error) {
	rec := &domain.SessionRecord{}
	var finished sql.NullTime
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, backend, map_slug, games_played, rounds_per_game, started_at, finished_at,
		       rounds_played, rounds_answered, total_score, mean_score, median_score,
		       best_score, worst_score, mean_distance_km, best_distance_km
		FROM sessions WHERE id = $1
	`, id).Scan(&rec.ID, &rec.Backend, &rec.MapSlug, &rec.GamesPlayed, &rec.RoundsPerGame,
		&rec.StartedAt, &finished,
		&rec.Stats.RoundsPlayed, &rec.Stats.RoundsAnswered, &rec.Stats.TotalScore,
		&rec.Stats.MeanScore, &rec.Stats.MedianScore,
		&rec.Stats.BestScore, &rec.Stats.WorstScore,
		&rec.Stats.MeanDistanceKm, &rec.Stats.BestDistanceKm)
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		t := finished.Time
		rec.FinishedAt = &t
	}
	return rec, nil
}

// Delete removes a session. Round rows go with it via ON DELETE CASCADE.
func (r *SessionRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return err
}

// List returns sessions newest first plus the total row count for paging.
// An empty backend matches every session.
func (r *SessionRepo) List(ctx context.Context, backend string, limit, offset int) ([]domain.SessionRecord, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM sessions WHERE ($1 = '' OR backend = $1)
	`, backend).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, backend, map_slug, games_played, rounds_per_game, started_at, finished_at,
		       rounds_played, rounds_answered, total_score, mean_score, median_score,
		       best_score, worst_score, mean_distance_km, best_distance_km
		FROM sessions
		WHERE ($1 = '' OR backend = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3
	`, backend, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var sessions []domain.SessionRecord
	for rows.Next() {
		var rec domain.SessionRecord
		var finished sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.Backend, &rec.MapSlug, &rec.GamesPlayed, &rec.RoundsPerGame,
			&rec.StartedAt, &finished,
			&rec.Stats.RoundsPlayed, &rec.Stats.RoundsAnswered, &rec.Stats.TotalScore,
			&rec.Stats.MeanScore, &rec.Stats.MedianScore,
			&rec.Stats.BestScore, &rec.Stats.WorstScore,
			&rec.Stats.MeanDistanceKm, &rec.Stats.BestDistanceKm); err != nil {
			return nil, 0, err
		}
		if finished.Valid {
			t := finished.Time
			rec.FinishedAt = &t
		}
		sessions = append(sessions, rec)
	}
	return sessions, total, rows.Err()
}
