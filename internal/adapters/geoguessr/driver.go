package geoguessr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/samirrijal/plonk/internal/adapters/cdp"
	"github.com/samirrijal/plonk/internal/core/domain"
	"github.com/samirrijal/plonk/internal/pkg/imaging"
	"github.com/samirrijal/plonk/internal/pkg/metrics"
)

const (
	// The game page renders in a square viewport; keys and wheel events
	// land at its center.
	viewportEdge = 1024
	viewCenter   = viewportEdge / 2

	// A held rotate key turns the camera roughly 72 degrees per second.
	panHoldPerDegree = 14 * time.Millisecond

	// Zooming is wheel ticks toward the cursor. Each level is a few ticks
	// with a pause for the renderer to settle; level 0 unwinds them all.
	wheelStepsPerLevel = 3
	wheelStepDelta     = -200
	wheelStepPause     = 200 * time.Millisecond

	// pinPromptText appears once the round is interactive.
	pinPromptText = "Place your pin on the map"

	roundSettlePause = time.Second
)

// Browser is the slice of the DevTools session the driver drives. It is
// implemented by *cdp.Session.
type Browser interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	WaitForText(ctx context.Context, want string) error
	CaptureJPEG(ctx context.Context, quality int) ([]byte, error)
	Click(ctx context.Context, x, y float64) error
	MoveMouse(ctx context.Context, x, y float64) error
	ScrollWheel(ctx context.Context, x, y, deltaY float64) error
	PressKey(ctx context.Context, k cdp.Key) error
	HoldKey(ctx context.Context, k cdp.Key, d time.Duration) error
	SetViewport(ctx context.Context, width, height int) error
	SetCookies(ctx context.Context, cookies []cdp.CookieParam) error
}

// DriverConfig tunes the live driver.
type DriverConfig struct {
	BaseURL        string
	Settings       GameSettings
	CaptureQuality int
	CaptureMaxEdge int
	// SettlePause and WheelStepPause wait out the game's animations.
	// Zero means the defaults.
	SettlePause    time.Duration
	WheelStepPause time.Duration
}

// Driver implements ports.Driver against the real game: guesses and game
// flow go through the REST API, camera work and screenshots go through the
// browser. Drivers are owned by one session and never shared.
type Driver struct {
	browser Browser
	api     *Client
	cfg     DriverConfig
	log     *slog.Logger

	token     string
	zoomSteps int
}

// NewDriver composes a browser session and an API client into a Driver.
func NewDriver(browser Browser, api *Client, cfg DriverConfig) *Driver {
	if cfg.SettlePause == 0 {
		cfg.SettlePause = roundSettlePause
	}
	if cfg.WheelStepPause == 0 {
		cfg.WheelStepPause = wheelStepPause
	}
	return &Driver{
		browser: browser,
		api:     api,
		cfg:     cfg,
		log:     slog.With("component", "driver"),
	}
}

// Bootstrap sizes the viewport and logs the browser in with the exported
// cookies. Call once before the first game.
func (d *Driver) Bootstrap(ctx context.Context, cookies []Cookie) error {
	if err := d.browser.SetViewport(ctx, viewportEdge, viewportEdge); err != nil {
		return d.wrap("set_viewport", err)
	}
	if len(cookies) > 0 {
		if err := d.browser.SetCookies(ctx, cdpCookies(cookies)); err != nil {
			return d.wrap("set_cookies", err)
		}
	}
	return nil
}

// StartGame creates a game through the API, points the browser at it, and
// readies the first round.
func (d *Driver) StartGame(ctx context.Context) error {
	token, err := d.api.StartGame(ctx, d.cfg.Settings)
	if err != nil {
		return d.wrap("start_game", err)
	}
	d.token = token
	d.zoomSteps = 0
	metrics.DriverActions.WithLabelValues("start_game").Inc()
	d.log.Info("game started", "token", token, "map", d.cfg.Settings.Map)

	if err := d.browser.Navigate(ctx, d.cfg.BaseURL+"/game/"+token); err != nil {
		return d.wrap("navigate", err)
	}
	return d.prepareRound(ctx)
}

// CaptureView screenshots the viewport, downscaled to the configured edge.
func (d *Driver) CaptureView(ctx context.Context) (domain.ImageRef, error) {
	raw, err := d.browser.CaptureJPEG(ctx, d.cfg.CaptureQuality)
	if err != nil {
		return domain.ImageRef{}, d.wrap("capture", err)
	}
	metrics.DriverActions.WithLabelValues("capture").Inc()

	data, err := d.normalize(raw)
	if err != nil {
		// Hand the bytes over as captured; the selector treats an
		// undecodable image as unanalyzable rather than fatal.
		d.log.Warn("screenshot not decodable, passing through", "error", err)
		return domain.NewImageRef(raw, "image/jpeg"), nil
	}
	return domain.NewImageRef(data, "image/jpeg"), nil
}

func (d *Driver) normalize(raw []byte) ([]byte, error) {
	if d.cfg.CaptureMaxEdge <= 0 {
		return raw, nil
	}
	img, err := imaging.Decode(raw)
	if err != nil {
		return nil, err
	}
	scaled := imaging.Downscale(img, d.cfg.CaptureMaxEdge)
	if scaled == img {
		return raw, nil
	}
	return imaging.EncodeJPEG(scaled, d.cfg.CaptureQuality)
}

// Pan rotates the camera by holding the game's rotate key, scaled to the
// requested angle. Positive degrees rotate clockwise.
func (d *Driver) Pan(ctx context.Context, degrees float64) error {
	if degrees == 0 {
		return nil
	}
	key := cdp.KeyD
	if degrees < 0 {
		key = cdp.KeyA
	}
	hold := time.Duration(math.Abs(degrees)) * panHoldPerDegree
	if err := d.browser.HoldKey(ctx, key, hold); err != nil {
		return d.wrap("pan", err)
	}
	metrics.DriverActions.WithLabelValues("pan").Inc()
	return nil
}

// Zoom moves to the requested absolute zoom level. The game has no absolute
// zoom input, only relative wheel ticks, so the driver tracks what it has
// applied and unwinds on level 0.
func (d *Driver) Zoom(ctx context.Context, level float64) error {
	target := int(math.Round(level)) * wheelStepsPerLevel
	if target < 0 {
		target = 0
	}
	if target == d.zoomSteps {
		return nil
	}

	if d.zoomSteps == 0 && target > 0 {
		if err := d.browser.MoveMouse(ctx, viewCenter, viewCenter); err != nil {
			return d.wrap("zoom", err)
		}
	}

	delta := float64(wheelStepDelta)
	step := 1
	if target < d.zoomSteps {
		delta = -delta
		step = -1
	}
	for d.zoomSteps != target {
		if err := d.browser.ScrollWheel(ctx, viewCenter, viewCenter, delta); err != nil {
			return d.wrap("zoom", err)
		}
		d.zoomSteps += step
		if err := sleep(ctx, d.cfg.WheelStepPause); err != nil {
			return err
		}
	}
	metrics.DriverActions.WithLabelValues("zoom").Inc()
	return nil
}

// SubmitGuess commits the coordinate through the API and maps the game's
// scoring of it, including the revealed answer location.
func (d *Driver) SubmitGuess(ctx context.Context, lat, lon float64) (domain.ScoreResult, error) {
	if d.token == "" {
		return domain.ScoreResult{}, &domain.DriverError{
			Kind: domain.DriverActionFailed, Op: "submit_guess",
			Err: errors.New("no active game"),
		}
	}

	state, err := d.api.SubmitGuess(ctx, d.token, lat, lon)
	if err != nil {
		return domain.ScoreResult{}, d.wrap("submit_guess", err)
	}
	metrics.DriverActions.WithLabelValues("submit_guess").Inc()

	n := len(state.Player.Guesses)
	if n == 0 || n > len(state.Rounds) {
		return domain.ScoreResult{}, &domain.DriverError{
			Kind: domain.DriverActionFailed, Op: "submit_guess",
			Err: fmt.Errorf("game state missing the scored guess (guesses=%d rounds=%d)", n, len(state.Rounds)),
		}
	}
	guess := state.Player.Guesses[n-1]
	answer := state.Rounds[n-1]

	res := domain.ScoreResult{
		Score:      guess.RoundScoreInPoints,
		DistanceKm: guess.DistanceInMeters / 1000,
		Answer:     domain.GeoPoint{Lat: answer.Lat, Lon: answer.Lng},
	}

	predicted := PredictScore(guess.DistanceInMeters, MapSize(state.Bounds))
	if diff := predicted - res.Score; diff > 1 || diff < -1 {
		d.log.Warn("score curve mismatch",
			"predicted", predicted, "actual", res.Score, "distance_km", res.DistanceKm)
	} else {
		d.log.Debug("score curve match", "predicted", predicted, "actual", res.Score)
	}
	return res, nil
}

// NextRound advances to the following round. The server already moved the
// game forward when the guess was submitted; the page catches up by
// reloading.
func (d *Driver) NextRound(ctx context.Context) (bool, error) {
	if d.token == "" {
		return false, &domain.DriverError{
			Kind: domain.DriverActionFailed, Op: "next_round",
			Err: errors.New("no active game"),
		}
	}

	state, err := d.api.State(ctx, d.token)
	if err != nil {
		return false, d.wrap("next_round", err)
	}
	if state.Finished() {
		d.log.Info("game finished",
			"token", d.token, "total_score", state.Player.TotalScore.Amount)
		return false, nil
	}

	metrics.DriverActions.WithLabelValues("next_round").Inc()
	if err := d.prepareRound(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// prepareRound reloads the game page and resets the camera so every round
// starts from the same wide view.
func (d *Driver) prepareRound(ctx context.Context) error {
	if err := d.browser.Reload(ctx); err != nil {
		return d.wrap("reload", err)
	}
	if err := d.browser.WaitForText(ctx, pinPromptText); err != nil {
		return d.wrap("wait_round_ready", err)
	}
	// A click focuses the canvas so key events land in the game.
	if err := d.browser.Click(ctx, viewCenter, viewCenter); err != nil {
		return d.wrap("focus_click", err)
	}
	if err := sleep(ctx, d.cfg.SettlePause); err != nil {
		return err
	}
	if err := d.browser.PressKey(ctx, cdp.KeyR); err != nil {
		return d.wrap("reset_view", err)
	}
	if err := sleep(ctx, d.cfg.SettlePause); err != nil {
		return err
	}
	d.zoomSteps = 0
	return nil
}

// wrap classifies a driver failure. Deadline expiries become navigation
// timeouts, which the session may retry at round boundaries.
func (d *Driver) wrap(op string, err error) error {
	kind := domain.DriverActionFailed
	if errors.Is(err, context.DeadlineExceeded) {
		kind = domain.DriverNavigationTimeout
	}
	return &domain.DriverError{Kind: kind, Op: op, Err: err}
}

func cdpCookies(cookies []Cookie) []cdp.CookieParam {
	out := make([]cdp.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, cdp.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: protoSameSite(c.SameSite),
			Expires:  c.Expires,
		})
	}
	return out
}

func protoSameSite(v string) string {
	switch strings.ToLower(v) {
	case "strict":
		return "Strict"
	case "lax":
		return "Lax"
	case "none", "no_restriction":
		return "None"
	}
	return ""
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
