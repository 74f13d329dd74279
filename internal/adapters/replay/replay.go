// Package replay implements ports.Driver from a YAML fixture of recorded
// views. Guesses are scored offline against the fixture's answer locations
// with the same curve the live game uses, so whole sessions can be replayed
// hermetically and compared run to run.
package replay

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/samirrijal/plonk/internal/adapters/geoguessr"
	"github.com/samirrijal/plonk/internal/core/domain"
	"github.com/samirrijal/plonk/internal/core/ports"
	"github.com/samirrijal/plonk/internal/pkg/geospatial"
)

// ErrNondeterministicSelector rejects selectors whose choices can differ
// between runs; replaying them would diverge from the recording.
var ErrNondeterministicSelector = errors.New("replay: selector is not deterministic")

// EnsureDeterministic verifies sel is safe to replay.
func EnsureDeterministic(sel ports.Selector) error {
	if !sel.Deterministic() {
		return ErrNondeterministicSelector
	}
	return nil
}

type fixtureFile struct {
	Map   mapSpec    `yaml:"map"`
	Games []gameSpec `yaml:"games"`
}

type mapSpec struct {
	Bounds boundsSpec `yaml:"bounds"`
}

type boundsSpec struct {
	MinLat float64 `yaml:"min_lat"`
	MinLon float64 `yaml:"min_lon"`
	MaxLat float64 `yaml:"max_lat"`
	MaxLon float64 `yaml:"max_lon"`
}

func (b boundsSpec) zero() bool {
	return b.MinLat == 0 && b.MinLon == 0 && b.MaxLat == 0 && b.MaxLon == 0
}

type gameSpec struct {
	Rounds []roundSpec `yaml:"rounds"`
}

type roundSpec struct {
	Answer coordSpec  `yaml:"answer"`
	Views  []viewSpec `yaml:"views"`
}

type coordSpec struct {
	Lat float64 `yaml:"lat"`
	Lon float64 `yaml:"lon"`
}

type viewSpec struct {
	// Image is a path relative to the fixture file.
	Image string `yaml:"image,omitempty"`
	// Data is an inline base64 alternative for small fixtures.
	Data string `yaml:"data,omitempty"`
}

type round struct {
	answer domain.GeoPoint
	views  [][]byte
}

// Driver replays a loaded fixture. It is owned by one session, like any
// other driver, and is not safe for concurrent use.
type Driver struct {
	games   [][]round
	mapSize float64

	game    int
	round   int
	view    int
	started bool
}

// Load reads a fixture and all referenced images eagerly, so playback never
// touches the filesystem mid-round.
func Load(path string) (*Driver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var fx fixtureFile
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	if len(fx.Games) == 0 {
		return nil, fmt.Errorf("fixture %s has no games", path)
	}

	bounds := fx.Map.Bounds
	if bounds.zero() {
		// Same default as the live world map.
		bounds = boundsSpec{MinLat: -60, MinLon: -180, MaxLat: 75, MaxLon: 180}
	}

	dir := filepath.Dir(path)
	games := make([][]round, 0, len(fx.Games))
	for gi, g := range fx.Games {
		if len(g.Rounds) == 0 {
			return nil, fmt.Errorf("fixture game %d has no rounds", gi)
		}
		rounds := make([]round, 0, len(g.Rounds))
		for ri, r := range g.Rounds {
			answer := domain.GeoPoint{Lat: r.Answer.Lat, Lon: r.Answer.Lon}
			if !answer.Valid() {
				return nil, fmt.Errorf("fixture game %d round %d: answer out of range", gi, ri)
			}
			if len(r.Views) == 0 {
				return nil, fmt.Errorf("fixture game %d round %d has no views", gi, ri)
			}
			views := make([][]byte, 0, len(r.Views))
			for vi, v := range r.Views {
				img, err := loadView(dir, v)
				if err != nil {
					return nil, fmt.Errorf("fixture game %d round %d view %d: %w", gi, ri, vi, err)
				}
				views = append(views, img)
			}
			rounds = append(rounds, round{answer: answer, views: views})
		}
		games = append(games, rounds)
	}

	return &Driver{
		games:   games,
		mapSize: geospatial.Diagonal(bounds.MinLat, bounds.MinLon, bounds.MaxLat, bounds.MaxLon),
	}, nil
}

func loadView(dir string, v viewSpec) ([]byte, error) {
	switch {
	case v.Image != "" && v.Data != "":
		return nil, errors.New("view sets both image and data")
	case v.Image != "":
		data, err := os.ReadFile(filepath.Join(dir, v.Image))
		if err != nil {
			return nil, err
		}
		return data, nil
	case v.Data != "":
		data, err := base64.StdEncoding.DecodeString(v.Data)
		if err != nil {
			return nil, fmt.Errorf("decode inline view: %w", err)
		}
		return data, nil
	}
	return nil, errors.New("view sets neither image nor data")
}

// Games reports how many games the fixture holds.
func (d *Driver) Games() int { return len(d.games) }

// StartGame moves to the next recorded game.
func (d *Driver) StartGame(ctx context.Context) error {
	next := 0
	if d.started {
		next = d.game + 1
	}
	if next >= len(d.games) {
		return &domain.DriverError{
			Kind: domain.DriverActionFailed, Op: "start_game",
			Err: fmt.Errorf("fixture exhausted after %d games", len(d.games)),
		}
	}
	d.game = next
	d.round = 0
	d.view = 0
	d.started = true
	return nil
}

// CaptureView serves the round's recorded views in order. Once they run out
// it repeats the last one: a camera that no longer moves sees the same scene.
func (d *Driver) CaptureView(ctx context.Context) (domain.ImageRef, error) {
	if !d.started {
		return domain.ImageRef{}, d.notStarted("capture_view")
	}
	views := d.games[d.game][d.round].views
	idx := d.view
	if idx >= len(views) {
		idx = len(views) - 1
	}
	d.view++
	return domain.NewImageRef(views[idx], "image/jpeg"), nil
}

// Pan is a no-op: the next recorded view already embodies the movement.
func (d *Driver) Pan(ctx context.Context, degrees float64) error {
	if !d.started {
		return d.notStarted("pan")
	}
	return nil
}

// Zoom is a no-op, like Pan.
func (d *Driver) Zoom(ctx context.Context, level float64) error {
	if !d.started {
		return d.notStarted("zoom")
	}
	return nil
}

// SubmitGuess scores the guess against the recorded answer.
func (d *Driver) SubmitGuess(ctx context.Context, lat, lon float64) (domain.ScoreResult, error) {
	if !d.started {
		return domain.ScoreResult{}, d.notStarted("submit_guess")
	}
	answer := d.games[d.game][d.round].answer
	distKm := geospatial.HaversineKm(answer.Lat, answer.Lon, lat, lon)
	return domain.ScoreResult{
		Score:      geoguessr.PredictScore(distKm*1000, d.mapSize),
		DistanceKm: distKm,
		Answer:     answer,
	}, nil
}

// NextRound advances within the current game.
func (d *Driver) NextRound(ctx context.Context) (bool, error) {
	if !d.started {
		return false, d.notStarted("next_round")
	}
	if d.round+1 >= len(d.games[d.game]) {
		return false, nil
	}
	d.round++
	d.view = 0
	return true, nil
}

func (d *Driver) notStarted(op string) error {
	return &domain.DriverError{
		Kind: domain.DriverActionFailed, Op: op,
		Err: errors.New("no active game"),
	}
}
