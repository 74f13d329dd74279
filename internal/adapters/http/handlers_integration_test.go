//go:build integration
// +build integration

package http_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samirrijal/plonk/internal/adapters/http"
	"github.com/samirrijal/plonk/internal/adapters/postgres"
	"github.com/samirrijal/plonk/internal/core/domain"
	"github.com/samirrijal/plonk/internal/core/usecases"
	"github.com/samirrijal/plonk/internal/pkg/config"
)

// setupTestDB connects to the test database and returns a clean DB instance.
func setupTestDB(t *testing.T) *postgres.DB {
	cfg, err := config.Load("plonk-test")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	dsn := cfg.Database.DSN()
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}

	db := &postgres.DB{Pool: pool}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("ping db: %v", err)
	}

	return db
}

// setupTestDeps creates dependencies with real repos, no cache.
func setupTestDeps(t *testing.T, db *postgres.DB) *http.Dependencies {
	sessionRepo := postgres.NewSessionRepo(db)
	roundRepo := postgres.NewRoundRepo(db)
	statsRepo := postgres.NewStatsRepo(db)

	return &http.Dependencies{
		Records: usecases.NewRecordService(sessionRepo, roundRepo, statsRepo),
		DB:      db,
	}
}

// seedTestSession inserts a finished session and returns its id.
func seedTestSession(t *testing.T, db *postgres.DB, id, backend string) string {
	ctx := context.Background()
	now := time.Now().UTC()
	if _, err := db.Pool.Exec(ctx, `
		INSERT INTO sessions (
			id, backend, map_slug, games_played, rounds_per_game,
			started_at, finished_at,
			rounds_played, rounds_answered, total_score,
			mean_score, median_score, best_score, worst_score,
			mean_distance_km, best_distance_km
		)
		VALUES ($1, $2, 'world', 1, 5, $3, $4, 5, 5, 21500, 4300, 4400, 4950, 3600, 85.2, 2.1)
		ON CONFLICT (id) DO UPDATE SET backend = EXCLUDED.backend
	`, id, backend, now.Add(-10*time.Minute), now); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return id
}

// seedTestRound inserts a round row for the given session.
func seedTestRound(t *testing.T, db *postgres.DB, sessionID string, roundIndex int) {
	ctx := context.Background()
	if _, err := db.Pool.Exec(ctx, `
		INSERT INTO rounds (session_id, game_index, round_index, guess, confidence, answered, distance_km, score)
		VALUES ($1, 0, $2, ST_SetSRID(ST_MakePoint(-2.935, 43.263), 4326)::geography, 0.8, true, 12.5, 4800)
		ON CONFLICT (session_id, game_index, round_index) DO NOTHING
	`, sessionID, roundIndex); err != nil {
		t.Fatalf("seed round: %v", err)
	}
}

// TestListSessions_Integration_WithRealDB tests session listing against a real database.
func TestListSessions_Integration_WithRealDB(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db := setupTestDB(t)
	defer db.Pool.Close()

	stamp := time.Now().Format("20060102150405")
	seedTestSession(t, db, "itest-"+stamp+"-a", "openai")
	seedTestSession(t, db, "itest-"+stamp+"-b", "gemini")

	deps := setupTestDeps(t, db)
	app := setupApp(deps)

	req := httptest.NewRequest("GET", "/v1/sessions?limit=100", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("test request: %v", err)
	}

	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result struct {
		Data       []domain.SessionRecord `json:"data"`
		Pagination struct{ Total int }    `json:"pagination"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if result.Pagination.Total < 2 {
		t.Errorf("expected at least 2 sessions, got %d", result.Pagination.Total)
	}
}

// TestGetSession_Integration tests session lookup with hydrated guesses.
func TestGetSession_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db := setupTestDB(t)
	defer db.Pool.Close()

	id := "itest-get-" + time.Now().Format("20060102150405")
	seedTestSession(t, db, id, "openai")
	seedTestRound(t, db, id, 0)
	seedTestRound(t, db, id, 1)

	deps := setupTestDeps(t, db)
	app := setupApp(deps)

	req := httptest.NewRequest("GET", "/v1/sessions/"+id, nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("test request: %v", err)
	}

	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var rec domain.SessionRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if rec.ID != id {
		t.Errorf("expected id %s, got %s", id, rec.ID)
	}
	if len(rec.Guesses) != 2 {
		t.Errorf("expected 2 guesses, got %d", len(rec.Guesses))
	}
	if rec.FinishedAt == nil {
		t.Error("expected finished_at to be set")
	}
}

// TestSessionRounds_Integration tests round guesses come back in play order
// with PostGIS coordinates intact.
func TestSessionRounds_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db := setupTestDB(t)
	defer db.Pool.Close()

	id := "itest-rounds-" + time.Now().Format("20060102150405")
	seedTestSession(t, db, id, "gemini")
	seedTestRound(t, db, id, 0)

	deps := setupTestDeps(t, db)
	app := setupApp(deps)

	req := httptest.NewRequest("GET", "/v1/sessions/"+id+"/rounds", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("test request: %v", err)
	}

	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var guesses []domain.FinalGuess
	if err := json.NewDecoder(resp.Body).Decode(&guesses); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if len(guesses) != 1 {
		t.Fatalf("expected 1 guess, got %d", len(guesses))
	}
	// Bilbao coordinates: 43.263, -2.935
	if guesses[0].Location.Lat < 43.2 || guesses[0].Location.Lat > 43.3 {
		t.Errorf("expected lat near 43.263, got %f", guesses[0].Location.Lat)
	}
	if guesses[0].Score == nil || *guesses[0].Score != 4800 {
		t.Errorf("expected score 4800, got %v", guesses[0].Score)
	}
}

// TestBackendStats_Integration tests the aggregate view over finished sessions.
func TestBackendStats_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db := setupTestDB(t)
	defer db.Pool.Close()

	stamp := time.Now().Format("20060102150405")
	seedTestSession(t, db, "itest-stats-"+stamp, "openai")

	deps := setupTestDeps(t, db)
	app := setupApp(deps)

	req := httptest.NewRequest("GET", "/v1/stats", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("test request: %v", err)
	}

	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result struct {
		Backends []domain.BackendStats `json:"backends"`
		Count    int                   `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	found := false
	for _, b := range result.Backends {
		if b.Backend == "openai" && b.Sessions >= 1 {
			found = true
		}
	}
	if !found {
		t.Error("expected openai backend in stats")
	}
}
