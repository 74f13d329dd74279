package roi

import (
	"github.com/samirrijal/plonk/internal/core/domain"
)

// SweepSelector pans the camera in fixed increments until a full circle has
// been covered, then stops. It never looks at pixels, so its proposals depend
// only on how many views exist.
type SweepSelector struct {
	stepDegrees float64
	segments    int
	maxTurns    int
}

// NewSweepSelector creates a sweep over the given number of equal segments.
// Fewer than 2 segments degrades to a single look.
func NewSweepSelector(segments, maxTurns int) *SweepSelector {
	if segments < 1 {
		segments = 1
	}
	return &SweepSelector{
		stepDegrees: 360.0 / float64(segments),
		segments:    segments,
		maxTurns:    maxTurns,
	}
}

// ProposeAction pans by one segment per turn; once every segment has a view,
// or the turn budget is spent, it stops.
func (s *SweepSelector) ProposeAction(history []domain.Observation) (domain.Action, error) {
	if len(history) == 0 {
		return domain.Stop(), nil
	}
	if len(history) >= s.segments || len(history) >= s.maxTurns {
		return domain.Stop(), nil
	}
	return domain.Pan(s.stepDegrees), nil
}

// Deterministic always holds: the proposal is a pure function of the
// history length.
func (s *SweepSelector) Deterministic() bool { return true }
