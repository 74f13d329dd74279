package usecases_test

import (
	"math"
	"testing"

	"github.com/samirrijal/plonk/internal/core/domain"
	"github.com/samirrijal/plonk/internal/core/usecases"
)

func answered(score int, distanceKm float64) domain.FinalGuess {
	return domain.FinalGuess{Answered: true, Score: &score, DistanceKm: &distanceKm}
}

func TestComputeStats_Empty(t *testing.T) {
	stats := usecases.ComputeStats(nil)
	if stats.RoundsPlayed != 0 || stats.RoundsAnswered != 0 || stats.TotalScore != 0 {
		t.Errorf("expected zeroed stats, got %+v", stats)
	}
}

func TestComputeStats_MixedAnsweredAndFailed(t *testing.T) {
	guesses := []domain.FinalGuess{
		answered(5000, 0.5),
		{Answered: false},
		answered(3000, 120),
	}

	stats := usecases.ComputeStats(guesses)

	if stats.RoundsPlayed != 3 {
		t.Errorf("expected 3 rounds played, got %d", stats.RoundsPlayed)
	}
	if stats.RoundsAnswered != 2 {
		t.Errorf("expected 2 rounds answered, got %d", stats.RoundsAnswered)
	}
	if stats.TotalScore != 8000 {
		t.Errorf("expected total 8000, got %d", stats.TotalScore)
	}
	if stats.MeanScore != 4000 {
		t.Errorf("expected mean 4000, got %f", stats.MeanScore)
	}
	if stats.MedianScore != 4000 {
		t.Errorf("expected median 4000, got %f", stats.MedianScore)
	}
	if stats.BestScore != 5000 || stats.WorstScore != 3000 {
		t.Errorf("expected best/worst 5000/3000, got %d/%d", stats.BestScore, stats.WorstScore)
	}
	if math.Abs(stats.MeanDistanceKm-60.25) > 1e-9 {
		t.Errorf("expected mean distance 60.25, got %f", stats.MeanDistanceKm)
	}
	if stats.BestDistanceKm != 0.5 {
		t.Errorf("expected best distance 0.5, got %f", stats.BestDistanceKm)
	}
}

func TestComputeStats_MedianOddCount(t *testing.T) {
	guesses := []domain.FinalGuess{
		answered(5000, 1),
		answered(1000, 200),
		answered(2000, 50),
	}
	stats := usecases.ComputeStats(guesses)
	if stats.MedianScore != 2000 {
		t.Errorf("expected median 2000, got %f", stats.MedianScore)
	}
}
