package geospatial_test

import (
	"math"
	"testing"

	"github.com/samirrijal/plonk/internal/pkg/geospatial"
)

func TestHaversineKm_KnownDistance(t *testing.T) {
	// Paris to Berlin, roughly 878 km.
	d := geospatial.HaversineKm(48.8566, 2.3522, 52.52, 13.405)
	if d < 850 || d > 900 {
		t.Errorf("expected ~878 km, got %.1f", d)
	}
}

func TestHaversineKm_ZeroForSamePoint(t *testing.T) {
	d := geospatial.HaversineKm(43.263, -2.935, 43.263, -2.935)
	if d != 0 {
		t.Errorf("expected 0, got %f", d)
	}
}

func TestHaversine_MetersMatchesKm(t *testing.T) {
	m := geospatial.Haversine(10, 10, 11, 11)
	km := geospatial.HaversineKm(10, 10, 11, 11)
	if math.Abs(m-km*1000) > 1e-6 {
		t.Errorf("meters %.6f and km %.6f disagree", m, km)
	}
}

func TestDiagonal_WorldMapScale(t *testing.T) {
	// Near-global bounds should give a diagonal in the 15-20k km range.
	d := geospatial.Diagonal(-60, -180, 75, 180)
	if d < 15_000_000 || d > 20_100_000 {
		t.Errorf("expected world-scale diagonal, got %.0f m", d)
	}
}
