package postgres

import (
	"context"

	"github.com/samirrijal/plonk/internal/core/domain"
)

// StatsRepo implements ports.StatsRepository.
type StatsRepo struct {
	db *DB
}

func NewStatsRepo(db *DB) *StatsRepo {
	return &StatsRepo{db: db}
}

// ByBackend aggregates finished sessions per inference backend. Round counts
// come from the per-session aggregates written at finish time, so an
// in-flight session never skews the comparison.
func (r *StatsRepo) ByBackend(ctx context.Context) ([]domain.BackendStats, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT backend,
		       COUNT(*) AS sessions,
		       COALESCE(SUM(rounds_played), 0),
		       COALESCE(SUM(rounds_answered), 0),
		       COALESCE(SUM(total_score), 0),
		       COALESCE(AVG(mean_score), 0),
		       COALESCE(MAX(best_score), 0),
		       COALESCE(AVG(mean_distance_km), 0)
		FROM sessions
		WHERE finished_at IS NOT NULL
		GROUP BY backend
		ORDER BY backend
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []domain.BackendStats
	for rows.Next() {
		var bs domain.BackendStats
		if err := rows.Scan(&bs.Backend, &bs.Sessions,
			&bs.RoundsPlayed, &bs.RoundsAnswered, &bs.TotalScore,
			&bs.MeanScore, &bs.BestScore, &bs.MeanDistanceKm); err != nil {
			return nil, err
		}
		stats = append(stats, bs)
	}
	return stats, rows.Err()
}
