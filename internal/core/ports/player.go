package ports

import (
	"context"

	"github.com/samirrijal/plonk/internal/core/domain"
)

// Driver is the external game/browser collaborator. The core calls these
// operations; it never implements navigation mechanics itself. Every call is
// potentially long-latency and must be given a bounded context.
type Driver interface {
	// StartGame begins a fresh game. Called once per game by the session.
	StartGame(ctx context.Context) error
	// CaptureView grabs the current viewport as an image.
	CaptureView(ctx context.Context) (domain.ImageRef, error)
	// Pan rotates the camera by degrees (positive is clockwise).
	Pan(ctx context.Context, degrees float64) error
	// Zoom sets the camera zoom toward the view center; level 0 resets.
	Zoom(ctx context.Context, level float64) error
	// SubmitGuess commits a coordinate and returns the game's scoring of it.
	SubmitGuess(ctx context.Context, lat, lon float64) (domain.ScoreResult, error)
	// NextRound advances the game. It returns false when the game is over.
	NextRound(ctx context.Context) (bool, error)
}

// Inferencer turns a set of views into a structured candidate guess. It is
// stateless across calls: all context for a call is the explicit views
// argument, so identical input yields reproducible behavior. Failures are
// classified as *domain.InferenceError.
type Inferencer interface {
	Infer(ctx context.Context, views []domain.View) (domain.CandidateGuess, error)
	// Backend names the implementation for logs, metrics, and cache keys.
	Backend() string
}

// Selector proposes the next exploration action from the round's full view
// history. It must return Stop once the round's turn budget is exhausted and
// must return Stop, not an error, when the latest image cannot be analyzed.
type Selector interface {
	ProposeAction(history []domain.Observation) (domain.Action, error)
	// Deterministic reports whether identical history always yields the
	// same action. Replay tooling refuses non-deterministic selectors.
	Deterministic() bool
}
