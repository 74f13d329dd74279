// Package geoguessr adapts the browser-based location guessing game: a REST
// client for its v3 API and a ports.Driver that composes the API with a
// DevTools browser session.
package geoguessr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrUnauthorized means the session cookie was rejected. The fix is to
// re-export cookies.json from a logged-in browser.
var ErrUnauthorized = errors.New("game api: unauthorized")

// GameSettings is the payload for creating a game. A classic untimed world
// game with movement disabled keeps every round guessable from one spot.
type GameSettings struct {
	Map            string `json:"map"`
	Type           string `json:"type"`
	TimeLimit      int    `json:"timeLimit"`
	ForbidMoving   bool   `json:"forbidMoving"`
	ForbidZooming  bool   `json:"forbidZooming"`
	ForbidRotating bool   `json:"forbidRotating"`
}

// DefaultSettings returns the standard settings for mapSlug.
func DefaultSettings(mapSlug string, timeLimit int, forbidMoving bool) GameSettings {
	return GameSettings{
		Map:          mapSlug,
		Type:         "standard",
		TimeLimit:    timeLimit,
		ForbidMoving: forbidMoving,
	}
}

// Score is a formatted point value as the API reports it.
type Score struct {
	Amount     string  `json:"amount"`
	Unit       string  `json:"unit"`
	Percentage float64 `json:"percentage"`
}

// DistanceValue is one unit rendering of a distance.
type DistanceValue struct {
	Amount string `json:"amount"`
	Unit   string `json:"unit"`
}

// Distance carries the API's metric and imperial renderings.
type Distance struct {
	Meters DistanceValue `json:"meters"`
	Miles  DistanceValue `json:"miles"`
}

// GuessRecord is one scored guess inside the game state.
type GuessRecord struct {
	Lat                    float64  `json:"lat"`
	Lng                    float64  `json:"lng"`
	RoundScore             Score    `json:"roundScore"`
	RoundScoreInPercentage float64  `json:"roundScoreInPercentage"`
	RoundScoreInPoints     int      `json:"roundScoreInPoints"`
	Distance               Distance `json:"distance"`
	DistanceInMeters       float64  `json:"distanceInMeters"`
}

// PlayerState is the player's running totals and per-round guesses.
type PlayerState struct {
	TotalScore            Score         `json:"totalScore"`
	TotalDistance         Distance      `json:"totalDistance"`
	TotalDistanceInMeters float64       `json:"totalDistanceInMeters"`
	Guesses               []GuessRecord `json:"guesses"`
}

// LatLng is a coordinate pair in the API's field naming.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Bounds is the playable map area; its diagonal normalizes the score curve.
type Bounds struct {
	Min LatLng `json:"min"`
	Max LatLng `json:"max"`
}

// GameState is the slice of the game response the player needs: identity,
// progress, revealed round locations, and the map bounds.
type GameState struct {
	Token      string      `json:"token"`
	State      string      `json:"state"`
	RoundCount int         `json:"roundCount"`
	Player     PlayerState `json:"player"`
	Rounds     []LatLng    `json:"rounds"`
	Bounds     Bounds      `json:"bounds"`
}

// Finished reports whether no rounds remain to play.
func (s *GameState) Finished() bool {
	if s.State == "finished" {
		return true
	}
	return s.RoundCount > 0 && len(s.Player.Guesses) >= s.RoundCount
}

type guessPayload struct {
	Token      string  `json:"token"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	TimedOut   bool    `json:"timedOut"`
	StepsCount int     `json:"stepsCount"`
}

// Client talks to the game's REST API. Authentication rides entirely on the
// cookie jar; the game identifies the player by session cookie, the same way
// the browser does.
type Client struct {
	http    *http.Client
	baseURL string
}

// NewClient builds a Client for baseURL. jar should be pre-loaded with the
// exported session cookies; a nil jar makes an unauthenticated client.
func NewClient(baseURL string, jar http.CookieJar) *Client {
	return &Client{
		http:    &http.Client{Jar: jar, Timeout: 30 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// StartGame creates a game and returns its token.
func (c *Client) StartGame(ctx context.Context, settings GameSettings) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := c.post(ctx, "/api/v3/games", settings, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", errors.New("game api: game created without a token")
	}
	return out.Token, nil
}

// SubmitGuess commits a coordinate for the current round and returns the
// updated game state, which includes the scored guess and the revealed
// round location.
func (c *Client) SubmitGuess(ctx context.Context, token string, lat, lng float64) (*GameState, error) {
	payload := guessPayload{Token: token, Lat: lat, Lng: lng}
	var state GameState
	if err := c.post(ctx, "/api/v3/games/"+token, payload, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// State fetches the current game state.
func (c *Client) State(ctx context.Context, token string) (*GameState, error) {
	var state GameState
	if err := c.get(ctx, "/api/v3/games/"+token, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("game api: marshal %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("game api: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("game api: build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("game api: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w (status %d)", ErrUnauthorized, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("game api: %s %s: status %d: %s",
			req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("game api: decode %s: %w", req.URL.Path, err)
	}
	return nil
}
