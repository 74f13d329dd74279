package domain

import (
	"time"
)

// Event types published on the round event stream.
const (
	EventSessionStarted  = "session.started"
	EventSessionFinished = "session.finished"
	EventRoundStarted    = "round.started"
	EventViewCaptured    = "view.captured"
	EventCandidateAdded  = "candidate.added"
	EventRoundFinalized  = "round.finalized"
	EventRoundFailed     = "round.failed"
)

// RoundEvent is the envelope published for every observable step of a round.
// Image bytes are never included; views travel as digests.
type RoundEvent struct {
	Type       string    `json:"type"`
	SessionID  string    `json:"session_id"`
	GameIndex  int       `json:"game_index"`
	RoundIndex int       `json:"round_index"`
	Turn       int       `json:"turn,omitempty"`
	Status     string    `json:"status,omitempty"`
	Backend    string    `json:"backend,omitempty"`
	ViewDigest string    `json:"view_digest,omitempty"`
	Guess      *GeoPoint `json:"guess,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Score      *int      `json:"score,omitempty"`
	DistanceKm *float64  `json:"distance_km,omitempty"`
	At         time.Time `json:"at"`
}
