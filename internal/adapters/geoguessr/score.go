package geoguessr

import (
	"math"

	"github.com/samirrijal/plonk/internal/pkg/geospatial"
)

// PredictScore reproduces the game's score curve: 5000 points at zero
// distance, decaying exponentially, normalized by the map's corner-to-corner
// size so small maps stay competitive.
func PredictScore(distanceMeters, mapSizeMeters float64) int {
	if mapSizeMeters <= 0 {
		return 0
	}
	return int(math.Round(5000 * math.Exp(-10*distanceMeters/mapSizeMeters)))
}

// MapSize returns the great-circle diagonal of the playable bounds in meters.
func MapSize(b Bounds) float64 {
	return geospatial.Diagonal(b.Min.Lat, b.Min.Lng, b.Max.Lat, b.Max.Lng)
}
