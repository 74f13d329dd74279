package usecases

import (
	"errors"

	"github.com/samirrijal/plonk/internal/core/domain"
	"github.com/samirrijal/plonk/internal/pkg/geospatial"
)

// ErrNeedsMoreEvidence signals that the candidates disagree at comparable
// confidence and exploration should continue if turns remain.
var ErrNeedsMoreEvidence = errors.New("resolver: needs more evidence")

// ErrNoCandidates signals that nothing can be resolved yet.
var ErrNoCandidates = errors.New("resolver: no candidates")

// Aggregate is the running merged estimate across a round's candidates.
type Aggregate struct {
	Location   domain.GeoPoint
	Confidence float64
	// Weight is the summed confidence of the merged candidates; it is the
	// divisor of the running weighted centroid.
	Weight float64
	// Support counts the candidates merged into the centroid.
	Support int
}

// Resolver folds candidate guesses into a single aggregate and decides
// termination. All candidates weigh by confidence only, regardless of the
// zoom level they were produced at.
type Resolver struct {
	agreementRadiusKm   float64
	confidenceThreshold float64
	epsilon             float64
}

// NewResolver creates a Resolver. epsilon is the confidence margin below
// which two disagreeing candidates are treated as tied.
func NewResolver(agreementRadiusKm, confidenceThreshold, epsilon float64) *Resolver {
	return &Resolver{
		agreementRadiusKm:   agreementRadiusKm,
		confidenceThreshold: confidenceThreshold,
		epsilon:             epsilon,
	}
}

// Resolve folds the candidate sequence, in order, into an aggregate.
//
// Corroboration (distance within the agreement radius) merges by
// confidence-weighted centroid; the planar approximation is fine at that
// scale. Corroboration raises confidence: the chance both agreeing guesses
// are wrong shrinks, so confidence combines as 1-(1-a)(1-b), which never
// drops below the strongest input and never exceeds 1.
//
// Disagreement keeps the strictly more confident side. A tie within epsilon
// returns ErrNeedsMoreEvidence along with the current aggregate, which
// preserves the earliest candidate should the caller be forced to finalize.
func (r *Resolver) Resolve(candidates []domain.CandidateGuess) (Aggregate, error) {
	if len(candidates) == 0 {
		return Aggregate{}, ErrNoCandidates
	}

	agg := Aggregate{
		Location:   candidates[0].Location,
		Confidence: candidates[0].Confidence,
		Weight:     candidates[0].Confidence,
		Support:    1,
	}
	tied := false

	for _, c := range candidates[1:] {
		d := geospatial.HaversineKm(c.Location.Lat, c.Location.Lon, agg.Location.Lat, agg.Location.Lon)

		if d <= r.agreementRadiusKm {
			w := agg.Weight + c.Confidence
			if w > 0 {
				agg.Location.Lat = (agg.Location.Lat*agg.Weight + c.Location.Lat*c.Confidence) / w
				agg.Location.Lon = (agg.Location.Lon*agg.Weight + c.Location.Lon*c.Confidence) / w
			}
			agg.Weight = w
			agg.Confidence = corroborate(agg.Confidence, c.Confidence)
			agg.Support++
			tied = false
			continue
		}

		switch {
		case c.Confidence > agg.Confidence+r.epsilon:
			agg = Aggregate{Location: c.Location, Confidence: c.Confidence, Weight: c.Confidence, Support: 1}
			tied = false
		case agg.Confidence > c.Confidence+r.epsilon:
			// keep the current aggregate
			tied = false
		default:
			tied = true
		}
	}

	if tied {
		return agg, ErrNeedsMoreEvidence
	}
	return agg, nil
}

// ShouldFinalize is queried after every inference: finalize when the
// aggregate clears the confidence threshold, the selector stopped, or the
// turn cap is reached.
func (r *Resolver) ShouldFinalize(agg Aggregate, selectorStopped bool, turnsUsed, maxTurns int) bool {
	if agg.Support > 0 && agg.Confidence >= r.confidenceThreshold {
		return true
	}
	if selectorStopped {
		return true
	}
	return turnsUsed >= maxTurns
}

// corroborate combines two confidences as independent corroborating signals:
// both must be wrong for the merged answer to be wrong.
func corroborate(a, b float64) float64 {
	c := 1 - (1-a)*(1-b)
	if c > 1 {
		return 1
	}
	return c
}
