package domain

import (
	"time"
)

// SessionStats aggregates scoring across a session's answered rounds.
type SessionStats struct {
	RoundsPlayed   int     `json:"rounds_played"`
	RoundsAnswered int     `json:"rounds_answered"`
	TotalScore     int     `json:"total_score"`
	MeanScore      float64 `json:"mean_score"`
	MedianScore    float64 `json:"median_score"`
	BestScore      int     `json:"best_score"`
	WorstScore     int     `json:"worst_score"`
	MeanDistanceKm float64 `json:"mean_distance_km"`
	BestDistanceKm float64 `json:"best_distance_km"`
}

// SessionRecord is the score-ready outcome of one session: every final guess
// of every round attempted, in order, plus aggregate metadata. It is owned by
// the session controller for its lifetime and persisted externally.
type SessionRecord struct {
	ID            string       `json:"id"`
	Backend       string       `json:"backend"`
	MapSlug       string       `json:"map_slug"`
	GamesPlayed   int          `json:"games_played"`
	RoundsPerGame int          `json:"rounds_per_game"`
	StartedAt     time.Time    `json:"started_at"`
	FinishedAt    *time.Time   `json:"finished_at,omitempty"`
	Guesses       []FinalGuess `json:"guesses"`
	Stats         SessionStats `json:"stats"`
}

// GameRecord ties the guesses of one game to its token for audit.
type GameRecord struct {
	SessionID string       `json:"session_id"`
	GameToken string       `json:"game_token"`
	GameIndex int          `json:"game_index"`
	Guesses   []FinalGuess `json:"guesses"`
}

// BackendStats compares scoring across inference backends, aggregated over
// every finished session tagged with that backend.
type BackendStats struct {
	Backend        string  `json:"backend"`
	Sessions       int     `json:"sessions"`
	RoundsPlayed   int     `json:"rounds_played"`
	RoundsAnswered int     `json:"rounds_answered"`
	TotalScore     int     `json:"total_score"`
	MeanScore      float64 `json:"mean_score"`
	BestScore      int     `json:"best_score"`
	MeanDistanceKm float64 `json:"mean_distance_km"`
}
