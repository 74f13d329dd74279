package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/samirrijal/plonk/internal/core/domain"
)

// RoundRepo implements ports.RoundRepository.
type RoundRepo struct {
	db *DB
}

func NewRoundRepo(db *DB) *RoundRepo {
	return &RoundRepo{db: db}
}

// Insert stores one final guess. Conflicts are ignored so a redelivered
// round event cannot double-count a round.
func (r *RoundRepo) Insert(ctx context.Context, sessionID string, gameIndex int, guess *domain.FinalGuess) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO rounds (session_id, game_index, round_index, guess, confidence, answered, distance_km, score)
		VALUES ($1, $2, $3, ST_SetSRID(ST_MakePoint($4, $5), 4326)::geography, $6, $7, $8, $9)
		ON CONFLICT (session_id, game_index, round_index) DO NOTHING
	`, sessionID, gameIndex, guess.RoundIndex,
		guess.Location.Lon, guess.Location.Lat,
		guess.Confidence, guess.Answered, guess.DistanceKm, guess.Score)
	return err
}

// InsertBatch stores a whole game's guesses in one round trip.
func (r *RoundRepo) InsertBatch(ctx context.Context, sessionID string, gameIndex int, guesses []domain.FinalGuess) error {
	batch := &pgx.Batch{}
	for _, g := range guesses {
		batch.Queue(`
			INSERT INTO rounds (session_id, game_index, round_index, guess, confidence, answered, distance_km, score)
			VALUES ($1, $2, $3, ST_SetSRID(ST_MakePoint($4, $5), 4326)::geography, $6, $7, $8, $9)
			ON CONFLICT (session_id, game_index, round_index) DO NOTHING
		`, sessionID, gameIndex, g.RoundIndex,
			g.Location.Lon, g.Location.Lat,
			g.Confidence, g.Answered, g.DistanceKm, g.Score)
	}
	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range guesses {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch exec: %w", err)
		}
	}
	return nil
}

func (r *RoundRepo) ListBySession(ctx context.Context, sessionID string) ([]domain.FinalGuess, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT round_index,
		       ST_Y(guess::geometry) AS lat,
		       ST_X(guess::geometry) AS lon,
		       confidence, answered, distance_km, score
		FROM rounds
		WHERE session_id = $1
		ORDER BY game_index, round_index
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var guesses []domain.FinalGuess
	for rows.Next() {
		var fg domain.FinalGuess
		var dist sql.NullFloat64
		var score sql.NullInt64
		if err := rows.Scan(&fg.RoundIndex, &fg.Location.Lat, &fg.Location.Lon,
			&fg.Confidence, &fg.Answered, &dist, &score); err != nil {
			return nil, err
		}
		if dist.Valid {
			d := dist.Float64
			fg.DistanceKm = &d
		}
		if score.Valid {
			s := int(score.Int64)
			fg.Score = &s
		}
		guesses = append(guesses, fg)
	}
	return guesses, rows.Err()
}

// CountGames reports how many distinct games hold rounds for the session.
func (r *RoundRepo) CountGames(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT game_index) FROM rounds WHERE session_id = $1
	`, sessionID).Scan(&n)
	return n, err
}
