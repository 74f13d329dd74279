package usecases

import (
	"errors"

	"github.com/samirrijal/plonk/internal/core/domain"
)

// ErrEvidenceFrozen rejects mutation after a round reaches a terminal state.
var ErrEvidenceFrozen = errors.New("evidence: round is frozen")

// ErrNoViewForCandidate rejects a candidate arriving before any view exists.
var ErrNoViewForCandidate = errors.New("evidence: no view to attach candidate to")

// Evidence is the append-only observation log of one round. It mutates the
// owning RoundState in place and preserves insertion order; that order is the
// only ordering downstream components see. Views are referenced, never
// copied.
type Evidence struct {
	state *domain.RoundState
	// index of the candidate produced after each view, -1 if none yet
	candidateOf []int
	frozen      bool
}

// NewEvidence wraps the given round state in an append-only log.
func NewEvidence(state *domain.RoundState) *Evidence {
	return &Evidence{state: state}
}

// AddView appends a captured view.
func (e *Evidence) AddView(v domain.View) error {
	if e.frozen {
		return ErrEvidenceFrozen
	}
	e.state.Views = append(e.state.Views, v)
	e.candidateOf = append(e.candidateOf, -1)
	return nil
}

// AddCandidate appends an inference result, attaching it to the most recent
// view.
func (e *Evidence) AddCandidate(c domain.CandidateGuess) error {
	if e.frozen {
		return ErrEvidenceFrozen
	}
	if len(e.state.Views) == 0 {
		return ErrNoViewForCandidate
	}
	e.state.Candidates = append(e.state.Candidates, c)
	e.candidateOf[len(e.state.Views)-1] = len(e.state.Candidates) - 1
	return nil
}

// History returns the observations in insertion order: every view paired
// with the candidate it produced, if any.
func (e *Evidence) History() []domain.Observation {
	history := make([]domain.Observation, len(e.state.Views))
	for i, v := range e.state.Views {
		obs := domain.Observation{View: v}
		if ci := e.candidateOf[i]; ci >= 0 {
			obs.Candidate = &e.state.Candidates[ci]
		}
		history[i] = obs
	}
	return history
}

// Views returns the captured views in insertion order.
func (e *Evidence) Views() []domain.View {
	return e.state.Views
}

// Candidates returns the stored candidates in insertion order.
func (e *Evidence) Candidates() []domain.CandidateGuess {
	return e.state.Candidates
}

// Freeze makes the log immutable. Called exactly once, when the round
// reaches a terminal status.
func (e *Evidence) Freeze() {
	e.frozen = true
}
