package usecases

import (
	"sort"

	"github.com/samirrijal/plonk/internal/core/domain"
)

// ComputeStats aggregates per-round outcomes into session statistics. Score
// and distance figures cover answered rounds only; unanswered rounds count
// toward RoundsPlayed and nothing else.
func ComputeStats(guesses []domain.FinalGuess) domain.SessionStats {
	stats := domain.SessionStats{RoundsPlayed: len(guesses)}

	var scores []int
	var distances []float64
	for _, g := range guesses {
		if !g.Answered {
			continue
		}
		stats.RoundsAnswered++
		if g.Score != nil {
			scores = append(scores, *g.Score)
		}
		if g.DistanceKm != nil {
			distances = append(distances, *g.DistanceKm)
		}
	}

	if len(scores) > 0 {
		sort.Ints(scores)
		total := 0
		for _, s := range scores {
			total += s
		}
		stats.TotalScore = total
		stats.MeanScore = float64(total) / float64(len(scores))
		stats.MedianScore = medianInt(scores)
		stats.BestScore = scores[len(scores)-1]
		stats.WorstScore = scores[0]
	}

	if len(distances) > 0 {
		sort.Float64s(distances)
		sum := 0.0
		for _, d := range distances {
			sum += d
		}
		stats.MeanDistanceKm = sum / float64(len(distances))
		stats.BestDistanceKm = distances[0]
	}

	return stats
}

func medianInt(sorted []int) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return float64(sorted[n/2])
	}
	return float64(sorted[n/2-1]+sorted[n/2]) / 2
}
