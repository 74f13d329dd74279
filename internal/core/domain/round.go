package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// RoundStatus is the state of a round's state machine.
type RoundStatus string

const (
	StatusExploring RoundStatus = "EXPLORING"
	StatusInferring RoundStatus = "INFERRING"
	StatusFinalized RoundStatus = "FINALIZED"
	StatusFailed    RoundStatus = "FAILED"
)

// Terminal reports whether the status admits no further transitions.
func (s RoundStatus) Terminal() bool {
	return s == StatusFinalized || s == StatusFailed
}

// Pose is the camera orientation a view was captured at.
type Pose struct {
	PanDegrees float64 `json:"pan_degrees"`
	ZoomLevel  float64 `json:"zoom_level"`
}

// ImageRef holds a captured image and its content digest. The digest is the
// stable identity used for cache keys and event payloads; the raw bytes never
// leave the process.
type ImageRef struct {
	Digest string `json:"digest"`
	MIME   string `json:"mime"`
	Data   []byte `json:"-"`
}

// NewImageRef wraps raw image bytes with their sha256 digest.
func NewImageRef(data []byte, mime string) ImageRef {
	sum := sha256.Sum256(data)
	return ImageRef{
		Digest: hex.EncodeToString(sum[:]),
		MIME:   mime,
		Data:   data,
	}
}

// View is an immutable captured observation. It is owned by the round that
// captured it and referenced, never copied, by the evidence log.
type View struct {
	ID         string    `json:"id"`
	Image      ImageRef  `json:"image"`
	Pose       Pose      `json:"pose"`
	CapturedAt time.Time `json:"captured_at"`
	ParentID   string    `json:"parent_id,omitempty"`
}

// CandidateGuess is a single structured answer from the inference backend.
type CandidateGuess struct {
	Location      GeoPoint `json:"location"`
	Confidence    float64  `json:"confidence"`
	Rationale     string   `json:"rationale,omitempty"`
	Country       string   `json:"country,omitempty"`
	Region        string   `json:"region,omitempty"`
	SourceViewIDs []string `json:"source_view_ids,omitempty"`
}

// Validate rejects candidates whose coordinates or confidence fall outside
// their legal ranges. Invalid candidates are discarded, never stored.
func (c CandidateGuess) Validate() error {
	if !c.Location.Valid() {
		return &ValidationError{Field: "location", Reason: "coordinates out of range"}
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return &ValidationError{Field: "confidence", Reason: "outside [0,1]"}
	}
	return nil
}

// Observation pairs a view with the candidate it produced, if any.
type Observation struct {
	View      View
	Candidate *CandidateGuess
}

// RoundState is the full mutable state of one round. It is owned and mutated
// exclusively by its round controller; nothing is shared across rounds.
type RoundState struct {
	RoundIndex int              `json:"round_index"`
	Views      []View           `json:"views"`
	Candidates []CandidateGuess `json:"candidates"`
	TurnsUsed  int              `json:"turns_used"`
	Status     RoundStatus      `json:"status"`
}

// ScoreResult is what the game reports back after a submitted guess.
type ScoreResult struct {
	Score      int      `json:"score"`
	DistanceKm float64  `json:"distance_km"`
	Answer     GeoPoint `json:"answer"`
}

// FinalGuess is the committed outcome of a round. Unanswered rounds are
// recorded with Answered=false rather than omitted. DistanceKm and Score are
// filled after scoring, when the game reveals the true location.
type FinalGuess struct {
	RoundIndex int      `json:"round_index"`
	Location   GeoPoint `json:"location"`
	Confidence float64  `json:"confidence"`
	Answered   bool     `json:"answered"`
	DistanceKm *float64 `json:"distance_km,omitempty"`
	Score      *int     `json:"score,omitempty"`
}
