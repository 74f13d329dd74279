package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/samirrijal/plonk/internal/core/domain"
	"github.com/samirrijal/plonk/internal/core/ports"
	"github.com/samirrijal/plonk/internal/pkg/ratelimit"
)

const (
	// attempts per driver action before the round fails
	driverAttempts = 3
	// attempts per inference turn; transient kinds get exactly one retry
	inferAttempts = 2

	defaultRetryBackoff = 2 * time.Second
)

// RoundConfig tunes one round controller.
type RoundConfig struct {
	SessionID string
	Backend   string
	MaxTurns  int
	// CallTimeout bounds every driver and inference call.
	CallTimeout time.Duration
	// InferWindow selects the views handed to the inferencer: "all" or "latest".
	InferWindow string
	// RetryBackoff is the wait before the single retry of a transient
	// inference failure. Zero means the default.
	RetryBackoff time.Duration
	// SaveViewsDir, when set, receives every captured view as a JPEG.
	SaveViewsDir string
}

// RoundController drives one round end to end: capture, select a region of
// interest, act, infer, resolve, and either keep exploring or commit. Each
// controller owns its driver and round state exclusively; the rate gate is
// the only thing shared with other rounds.
type RoundController struct {
	driver     ports.Driver
	selector   ports.Selector
	inferencer ports.Inferencer
	resolver   *Resolver
	gate       *ratelimit.Gate
	publisher  ports.EventPublisher
	tracer     trace.Tracer
	cfg        RoundConfig
}

// NewRoundController creates a RoundController. publisher may be nil.
func NewRoundController(
	driver ports.Driver,
	selector ports.Selector,
	inferencer ports.Inferencer,
	resolver *Resolver,
	gate *ratelimit.Gate,
	publisher ports.EventPublisher,
	cfg RoundConfig,
) *RoundController {
	return &RoundController{
		driver:     driver,
		selector:   selector,
		inferencer: inferencer,
		resolver:   resolver,
		gate:       gate,
		publisher:  publisher,
		tracer:     otel.Tracer("plonk/round"),
		cfg:        cfg,
	}
}

// PlayRound runs the state machine for one round and always returns a
// FinalGuess record, answered or not. The returned error is non-nil only on
// cancellation; round-level failures are absorbed into the record so one bad
// round never aborts the session.
func (c *RoundController) PlayRound(ctx context.Context, gameIndex, roundIndex int) (domain.FinalGuess, *domain.RoundState, error) {
	state := &domain.RoundState{RoundIndex: roundIndex, Status: domain.StatusExploring}
	ev := NewEvidence(state)

	ctx, span := c.tracer.Start(ctx, "round.play", trace.WithAttributes(
		attribute.String("session.id", c.cfg.SessionID),
		attribute.String("backend", c.cfg.Backend),
		attribute.Int("game.index", gameIndex),
		attribute.Int("round.index", roundIndex),
	))
	defer func() {
		span.SetAttributes(
			attribute.String("round.status", string(state.Status)),
			attribute.Int("round.turns", state.TurnsUsed),
		)
		span.End()
	}()

	log := slog.With("session", c.cfg.SessionID, "game", gameIndex, "round", roundIndex)
	log.Info("round started", "max_turns", c.cfg.MaxTurns)
	c.publish(ctx, &domain.RoundEvent{Type: domain.EventRoundStarted, GameIndex: gameIndex, RoundIndex: roundIndex})

	var (
		agg             Aggregate
		haveAgg         bool
		selectorStopped bool
		pose            domain.Pose
		turnErr         error
	)

	for !state.Status.Terminal() {
		// Cancellation is observed at the top of every transition.
		if err := ctx.Err(); err != nil {
			c.abandon(ctx, state, ev, gameIndex, log)
			return unanswered(roundIndex), state, err
		}

		switch state.Status {
		case domain.StatusExploring:
			if len(ev.Views()) == 0 {
				view, err := c.capture(ctx, pose, "")
				if err != nil {
					if ctx.Err() != nil {
						c.abandon(ctx, state, ev, gameIndex, log)
						return unanswered(roundIndex), state, ctx.Err()
					}
					return c.fail(ctx, state, ev, agg, haveAgg, gameIndex, log, err)
				}
				_ = ev.AddView(view)
				state.TurnsUsed++
				c.publishView(ctx, gameIndex, state, view)
			}

			// Hard cap: no capture beyond MaxTurns, whatever the selector says.
			if state.TurnsUsed >= c.cfg.MaxTurns {
				selectorStopped = true
				state.Status = domain.StatusInferring
				break
			}

			action, err := c.selector.ProposeAction(ev.History())
			if err != nil {
				// The selector contract degrades analysis failures to Stop.
				log.Warn("selector error, stopping exploration", "error", err)
				action = domain.Stop()
			}

			if action.Kind == domain.ActionStop {
				selectorStopped = true
				state.Status = domain.StatusInferring
				break
			}

			if err := c.applyAction(ctx, action, &pose); err != nil {
				if ctx.Err() != nil {
					c.abandon(ctx, state, ev, gameIndex, log)
					return unanswered(roundIndex), state, ctx.Err()
				}
				return c.fail(ctx, state, ev, agg, haveAgg, gameIndex, log, err)
			}

			parentID := ev.Views()[len(ev.Views())-1].ID
			view, err := c.capture(ctx, pose, parentID)
			if err != nil {
				if ctx.Err() != nil {
					c.abandon(ctx, state, ev, gameIndex, log)
					return unanswered(roundIndex), state, ctx.Err()
				}
				return c.fail(ctx, state, ev, agg, haveAgg, gameIndex, log, err)
			}
			_ = ev.AddView(view)
			state.TurnsUsed++
			c.publishView(ctx, gameIndex, state, view)
			state.Status = domain.StatusInferring

		case domain.StatusInferring:
			candidate, err := c.inferTurn(ctx, ev, log)
			if err != nil {
				if ctx.Err() != nil {
					c.abandon(ctx, state, ev, gameIndex, log)
					return unanswered(roundIndex), state, ctx.Err()
				}
				if ie, ok := domain.AsInferenceError(err); ok && ie.Kind == domain.InferenceBackendFault {
					return c.fail(ctx, state, ev, agg, haveAgg, gameIndex, log, err)
				}
				// Failed turn: transient kinds already got their one retry,
				// unparseable output and invalid candidates are not retried.
				turnErr = err
				log.Warn("turn failed", "turn", state.TurnsUsed, "error", err)
				if state.TurnsUsed < c.cfg.MaxTurns && !selectorStopped {
					state.Status = domain.StatusExploring
					break
				}
				if !haveAgg {
					return c.fail(ctx, state, ev, agg, haveAgg, gameIndex, log, turnErr)
				}
				return c.finalize(ctx, state, ev, agg, gameIndex, log)
			}

			_ = ev.AddCandidate(candidate)
			c.publish(ctx, &domain.RoundEvent{
				Type:       domain.EventCandidateAdded,
				GameIndex:  gameIndex,
				RoundIndex: roundIndex,
				Turn:       state.TurnsUsed,
				Guess:      &candidate.Location,
				Confidence: candidate.Confidence,
			})

			resolved, rerr := c.resolver.Resolve(ev.Candidates())
			agg, haveAgg = resolved, true

			if errors.Is(rerr, ErrNeedsMoreEvidence) {
				if state.TurnsUsed < c.cfg.MaxTurns && !selectorStopped {
					log.Debug("candidates disagree, exploring further", "turn", state.TurnsUsed)
					state.Status = domain.StatusExploring
					break
				}
				// Forced finalize keeps the earliest-preferred aggregate.
				return c.finalize(ctx, state, ev, agg, gameIndex, log)
			}

			if c.resolver.ShouldFinalize(agg, selectorStopped, state.TurnsUsed, c.cfg.MaxTurns) {
				return c.finalize(ctx, state, ev, agg, gameIndex, log)
			}
			state.Status = domain.StatusExploring
		}
	}

	// Unreachable: every terminal transition returns above.
	return unanswered(roundIndex), state, nil
}

// inferTurn performs one inference turn: gate admission, the call itself
// with a per-call timeout, classification, at most one retry for transient
// kinds, and candidate validation.
func (c *RoundController) inferTurn(ctx context.Context, ev *Evidence, log *slog.Logger) (domain.CandidateGuess, error) {
	views := ev.Views()
	if c.cfg.InferWindow == "latest" && len(views) > 1 {
		views = views[len(views)-1:]
	}

	var lastErr error
	for attempt := 0; attempt < inferAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return domain.CandidateGuess{}, ctx.Err()
			case <-time.After(c.backoff()):
			}
		}

		candidate, err := c.callInferencer(ctx, views)
		if err == nil {
			if verr := candidate.Validate(); verr != nil {
				// Out-of-range output is discarded, never stored.
				return domain.CandidateGuess{}, verr
			}
			return candidate, nil
		}
		if ctx.Err() != nil {
			return domain.CandidateGuess{}, ctx.Err()
		}

		ie := classifyInferenceError(err, c.inferencer.Backend())
		lastErr = ie
		if !ie.Retryable() {
			return domain.CandidateGuess{}, ie
		}
		log.Warn("transient inference failure, retrying once", "kind", string(ie.Kind), "error", err)
	}
	return domain.CandidateGuess{}, lastErr
}

// callInferencer acquires the shared rate gate for the duration of one call.
// Gate exhaustion escalates to RateLimited.
func (c *RoundController) callInferencer(ctx context.Context, views []domain.View) (domain.CandidateGuess, error) {
	if err := c.gate.Acquire(ctx); err != nil {
		if errors.Is(err, ratelimit.ErrGateTimeout) {
			return domain.CandidateGuess{}, &domain.InferenceError{
				Kind:    domain.InferenceRateLimited,
				Backend: c.inferencer.Backend(),
				Err:     err,
			}
		}
		return domain.CandidateGuess{}, err
	}
	defer c.gate.Release()

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()
	return c.inferencer.Infer(callCtx, views)
}

// capture grabs the current viewport and wraps it as a View.
func (c *RoundController) capture(ctx context.Context, pose domain.Pose, parentID string) (domain.View, error) {
	var img domain.ImageRef
	err := c.driverOp(ctx, "capture_view", func(callCtx context.Context) error {
		var opErr error
		img, opErr = c.driver.CaptureView(callCtx)
		return opErr
	})
	if err != nil {
		return domain.View{}, err
	}

	view := domain.View{
		ID:         uuid.NewString(),
		Image:      img,
		Pose:       pose,
		CapturedAt: time.Now().UTC(),
		ParentID:   parentID,
	}
	c.saveView(view)
	return view, nil
}

// applyAction performs the proposed movement and tracks the resulting pose.
func (c *RoundController) applyAction(ctx context.Context, action domain.Action, pose *domain.Pose) error {
	// Pan actions operate at base zoom; undo any zoom left by a prior turn.
	if action.Kind == domain.ActionPan && pose.ZoomLevel != 0 {
		if err := c.driverOp(ctx, "zoom", func(cc context.Context) error {
			return c.driver.Zoom(cc, 0)
		}); err != nil {
			return err
		}
		pose.ZoomLevel = 0
	}

	if action.PanDegrees != 0 {
		if err := c.driverOp(ctx, "pan", func(cc context.Context) error {
			return c.driver.Pan(cc, action.PanDegrees)
		}); err != nil {
			return err
		}
		pose.PanDegrees = normalizeDegrees(pose.PanDegrees + action.PanDegrees)
	}

	if action.Kind == domain.ActionZoom {
		if err := c.driverOp(ctx, "zoom", func(cc context.Context) error {
			return c.driver.Zoom(cc, action.ZoomLevel)
		}); err != nil {
			return err
		}
		pose.ZoomLevel = action.ZoomLevel
	}
	return nil
}

func (c *RoundController) driverOp(ctx context.Context, op string, fn func(context.Context) error) error {
	return driveWithRetry(ctx, c.cfg.CallTimeout, op, fn)
}

// driveWithRetry runs one driver call with a per-call timeout and a small
// bounded retry. Cancellation aborts the retry loop immediately.
func driveWithRetry(ctx context.Context, timeout time.Duration, op string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < driverAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if _, ok := domain.AsDriverError(err); ok {
			lastErr = err
		} else if errors.Is(err, context.DeadlineExceeded) {
			lastErr = &domain.DriverError{Kind: domain.DriverNavigationTimeout, Op: op, Err: err}
		} else {
			lastErr = &domain.DriverError{Kind: domain.DriverActionFailed, Op: op, Err: err}
		}
		slog.Warn("driver operation failed", "op", op, "attempt", attempt+1, "error", err)
	}
	return lastErr
}

// finalize submits the aggregate and closes the round. A submission failure
// still produces a record, marked unanswered.
func (c *RoundController) finalize(ctx context.Context, state *domain.RoundState, ev *Evidence, agg Aggregate, gameIndex int, log *slog.Logger) (domain.FinalGuess, *domain.RoundState, error) {
	fg := domain.FinalGuess{
		RoundIndex: state.RoundIndex,
		Location:   agg.Location,
		Confidence: agg.Confidence,
	}

	var result domain.ScoreResult
	err := c.driverOp(ctx, "submit_guess", func(cc context.Context) error {
		var opErr error
		result, opErr = c.driver.SubmitGuess(cc, agg.Location.Lat, agg.Location.Lon)
		return opErr
	})
	if err != nil {
		log.Error("guess submission failed", "error", err)
		state.Status = domain.StatusFailed
		ev.Freeze()
		c.publishTerminal(ctx, gameIndex, state, domain.EventRoundFailed, &fg)
		return fg, state, nil
	}

	fg.Answered = true
	fg.DistanceKm = &result.DistanceKm
	fg.Score = &result.Score
	state.Status = domain.StatusFinalized
	ev.Freeze()

	log.Info("round finalized",
		"lat", agg.Location.Lat, "lon", agg.Location.Lon,
		"confidence", agg.Confidence, "turns", state.TurnsUsed,
		"score", result.Score, "distance_km", result.DistanceKm)
	c.publishTerminal(ctx, gameIndex, state, domain.EventRoundFinalized, &fg)
	return fg, state, nil
}

// fail closes the round as FAILED. If any candidate exists, the best
// aggregate is still submitted: a low-confidence guess beats the zero the
// game gives an unanswered round.
func (c *RoundController) fail(ctx context.Context, state *domain.RoundState, ev *Evidence, agg Aggregate, haveAgg bool, gameIndex int, log *slog.Logger, cause error) (domain.FinalGuess, *domain.RoundState, error) {
	log.Error("round failed", "turns", state.TurnsUsed, "error", cause)
	state.Status = domain.StatusFailed
	ev.Freeze()

	fg := unanswered(state.RoundIndex)
	if haveAgg {
		fg.Location = agg.Location
		fg.Confidence = agg.Confidence
		var result domain.ScoreResult
		err := c.driverOp(ctx, "submit_guess", func(cc context.Context) error {
			var opErr error
			result, opErr = c.driver.SubmitGuess(cc, agg.Location.Lat, agg.Location.Lon)
			return opErr
		})
		if err != nil {
			log.Error("fallback submission failed", "error", err)
		} else {
			fg.Answered = true
			fg.DistanceKm = &result.DistanceKm
			fg.Score = &result.Score
		}
	}

	c.publishTerminal(ctx, gameIndex, state, domain.EventRoundFailed, &fg)
	return fg, state, nil
}

// abandon closes the round after cancellation without touching the driver.
func (c *RoundController) abandon(ctx context.Context, state *domain.RoundState, ev *Evidence, gameIndex int, log *slog.Logger) {
	log.Warn("round abandoned", "turns", state.TurnsUsed)
	state.Status = domain.StatusFailed
	ev.Freeze()
	fg := unanswered(state.RoundIndex)
	c.publishTerminal(ctx, gameIndex, state, domain.EventRoundFailed, &fg)
}

func (c *RoundController) publish(ctx context.Context, event *domain.RoundEvent) {
	if c.publisher == nil {
		return
	}
	event.SessionID = c.cfg.SessionID
	event.Backend = c.cfg.Backend
	event.At = time.Now().UTC()
	if err := c.publisher.PublishRoundEvent(ctx, event); err != nil {
		slog.Debug("round event publish failed", "type", event.Type, "error", err)
	}
}

func (c *RoundController) publishView(ctx context.Context, gameIndex int, state *domain.RoundState, view domain.View) {
	c.publish(ctx, &domain.RoundEvent{
		Type:       domain.EventViewCaptured,
		GameIndex:  gameIndex,
		RoundIndex: state.RoundIndex,
		Turn:       state.TurnsUsed,
		ViewDigest: view.Image.Digest,
	})
}

func (c *RoundController) publishTerminal(ctx context.Context, gameIndex int, state *domain.RoundState, eventType string, fg *domain.FinalGuess) {
	event := &domain.RoundEvent{
		Type:       eventType,
		GameIndex:  gameIndex,
		RoundIndex: state.RoundIndex,
		Turn:       state.TurnsUsed,
		Status:     string(state.Status),
	}
	if fg.Answered {
		event.Guess = &fg.Location
		event.Confidence = fg.Confidence
		event.Score = fg.Score
		event.DistanceKm = fg.DistanceKm
	}
	c.publish(ctx, event)
}

// saveView writes the view to disk when a capture directory is configured.
func (c *RoundController) saveView(view domain.View) {
	if c.cfg.SaveViewsDir == "" || len(view.Image.Data) == 0 {
		return
	}
	if err := os.MkdirAll(c.cfg.SaveViewsDir, 0o755); err != nil {
		slog.Debug("view dir", "error", err)
		return
	}
	name := fmt.Sprintf("%s_%s.jpg", view.CapturedAt.Format("20060102T150405"), view.Image.Digest[:12])
	if err := os.WriteFile(filepath.Join(c.cfg.SaveViewsDir, name), view.Image.Data, 0o644); err != nil {
		slog.Debug("view save", "error", err)
	}
}

func (c *RoundController) backoff() time.Duration {
	if c.cfg.RetryBackoff > 0 {
		return c.cfg.RetryBackoff
	}
	return defaultRetryBackoff
}

func unanswered(roundIndex int) domain.FinalGuess {
	return domain.FinalGuess{RoundIndex: roundIndex}
}

// classifyInferenceError maps an adapter failure onto the error taxonomy.
// Anything unrecognized counts as a backend fault: the output of an unknown
// failure mode is not trusted enough to keep playing the round on.
func classifyInferenceError(err error, backend string) *domain.InferenceError {
	if ie, ok := domain.AsInferenceError(err); ok {
		return ie
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.InferenceError{Kind: domain.InferenceTimeout, Backend: backend, Err: err}
	}
	return &domain.InferenceError{Kind: domain.InferenceBackendFault, Backend: backend, Err: err}
}

func normalizeDegrees(deg float64) float64 {
	for deg >= 360 {
		deg -= 360
	}
	for deg < 0 {
		deg += 360
	}
	return deg
}
