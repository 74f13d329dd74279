package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	handler "github.com/samirrijal/plonk/internal/adapters/http"
	"github.com/samirrijal/plonk/internal/core/domain"
	"github.com/samirrijal/plonk/internal/core/usecases"
)

// ---- Mock repositories ----

type mockSessionRepo struct {
	getByIDFn func(ctx context.Context, id string) (*domain.SessionRecord, error)
	listFn    func(ctx context.Context, backend string, limit, offset int) ([]domain.SessionRecord, int, error)
}

func (m *mockSessionRepo) Create(ctx context.Context, rec *domain.SessionRecord) error { return nil }
func (m *mockSessionRepo) Finish(ctx context.Context, rec *domain.SessionRecord) error { return nil }
func (m *mockSessionRepo) GetByID(ctx context.Context, id string) (*domain.SessionRecord, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, nil
}
func (m *mockSessionRepo) List(ctx context.Context, backend string, limit, offset int) ([]domain.SessionRecord, int, error) {
	if m.listFn != nil {
		return m.listFn(ctx, backend, limit, offset)
	}
	return nil, 0, nil
}
func (m *mockSessionRepo) Delete(ctx context.Context, id string) error { return nil }

type mockRoundRepo struct {
	listBySessionFn func(ctx context.Context, sessionID string) ([]domain.FinalGuess, error)
}

func (m *mockRoundRepo) Insert(ctx context.Context, sessionID string, gameIndex int, g *domain.FinalGuess) error {
	return nil
}
func (m *mockRoundRepo) InsertBatch(ctx context.Context, sessionID string, gameIndex int, gs []domain.FinalGuess) error {
	return nil
}
func (m *mockRoundRepo) ListBySession(ctx context.Context, sessionID string) ([]domain.FinalGuess, error) {
	if m.listBySessionFn != nil {
		return m.listBySessionFn(ctx, sessionID)
	}
	return nil, nil
}
func (m *mockRoundRepo) CountGames(ctx context.Context, sessionID string) (int, error) {
	return 0, nil
}

type mockStatsRepo struct {
	byBackendFn func(ctx context.Context) ([]domain.BackendStats, error)
}

func (m *mockStatsRepo) ByBackend(ctx context.Context) ([]domain.BackendStats, error) {
	if m.byBackendFn != nil {
		return m.byBackendFn(ctx)
	}
	return nil, nil
}

// ---- Test helpers ----

func setupApp(deps *handler.Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	handler.SetupRoutes(app, deps)
	return app
}

func makeDeps(opts ...func(*handler.Dependencies)) *handler.Dependencies {
	d := &handler.Dependencies{
		Records: usecases.NewRecordService(&mockSessionRepo{}, &mockRoundRepo{}, &mockStatsRepo{}),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func withRepos(sessions *mockSessionRepo, rounds *mockRoundRepo, stats *mockStatsRepo) func(*handler.Dependencies) {
	return func(d *handler.Dependencies) {
		if sessions == nil {
			sessions = &mockSessionRepo{}
		}
		if rounds == nil {
			rounds = &mockRoundRepo{}
		}
		if stats == nil {
			stats = &mockStatsRepo{}
		}
		d.Records = usecases.NewRecordService(sessions, rounds, stats)
	}
}

func readBody(t *testing.T, body io.Reader) []byte {
	t.Helper()
	b, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return b
}

// ---- Session handler tests ----

func TestListSessions_Success(t *testing.T) {
	deps := makeDeps(withRepos(&mockSessionRepo{
		listFn: func(ctx context.Context, backend string, limit, offset int) ([]domain.SessionRecord, int, error) {
			return []domain.SessionRecord{
				{ID: "s1", Backend: "openai", MapSlug: "world", StartedAt: time.Now()},
				{ID: "s2", Backend: "gemini", MapSlug: "world", StartedAt: time.Now()},
			}, 2, nil
		},
	}, nil, nil))
	app := setupApp(deps)

	req := httptest.NewRequest("GET", "/v1/sessions", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result struct {
		Data       []domain.SessionRecord `json:"data"`
		Pagination struct {
			Total int `json:"total"`
		} `json:"pagination"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.Pagination.Total != 2 {
		t.Errorf("expected total 2, got %d", result.Pagination.Total)
	}
	if len(result.Data) != 2 {
		t.Errorf("expected 2 sessions, got %d", len(result.Data))
	}
}

func TestListSessions_BackendFilterAndClamp(t *testing.T) {
	var gotBackend string
	var gotLimit int
	deps := makeDeps(withRepos(&mockSessionRepo{
		listFn: func(ctx context.Context, backend string, limit, offset int) ([]domain.SessionRecord, int, error) {
			gotBackend, gotLimit = backend, limit
			return nil, 0, nil
		},
	}, nil, nil))
	app := setupApp(deps)

	req := httptest.NewRequest("GET", "/v1/sessions?backend=gemini&limit=500", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if gotBackend != "gemini" {
		t.Errorf("expected backend filter gemini, got %q", gotBackend)
	}
	if gotLimit != 20 {
		t.Errorf("expected limit clamped to 20, got %d", gotLimit)
	}
}

func TestListSessions_Pagination(t *testing.T) {
	sessions := make([]domain.SessionRecord, 2)
	for i := range sessions {
		sessions[i] = domain.SessionRecord{ID: fmt.Sprintf("s%d", i), Backend: "openai"}
	}

	deps := makeDeps(withRepos(&mockSessionRepo{
		listFn: func(ctx context.Context, backend string, limit, offset int) ([]domain.SessionRecord, int, error) {
			return sessions, 10, nil
		},
	}, nil, nil))
	app := setupApp(deps)

	req := httptest.NewRequest("GET", "/v1/sessions?offset=2&limit=2", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result struct {
		Data       []domain.SessionRecord `json:"data"`
		Pagination struct {
			Offset int `json:"offset"`
			Limit  int `json:"limit"`
			Total  int `json:"total"`
		} `json:"pagination"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	if result.Pagination.Total != 10 {
		t.Errorf("expected total 10, got %d", result.Pagination.Total)
	}
	if result.Pagination.Offset != 2 {
		t.Errorf("expected offset 2, got %d", result.Pagination.Offset)
	}
	if len(result.Data) != 2 {
		t.Errorf("expected 2 sessions in page, got %d", len(result.Data))
	}
}

func TestListSessions_LinkHeader(t *testing.T) {
	deps := makeDeps(withRepos(&mockSessionRepo{
		listFn: func(ctx context.Context, backend string, limit, offset int) ([]domain.SessionRecord, int, error) {
			return []domain.SessionRecord{{ID: "s1"}}, 10, nil
		},
	}, nil, nil))
	app := setupApp(deps)

	req := httptest.NewRequest("GET", "/v1/sessions?offset=0&limit=3", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	link := resp.Header.Get("Link")
	if link == "" {
		t.Fatal("expected Link header, got empty")
	}
	if !strings.Contains(link, `rel="next"`) {
		t.Errorf("expected next link, got %s", link)
	}
	if !strings.Contains(link, `rel="first"`) {
		t.Errorf("expected first link, got %s", link)
	}
	if !strings.Contains(link, `rel="last"`) {
		t.Errorf("expected last link, got %s", link)
	}
}

func TestListSessions_LinkHeaderKeepsBackendFilter(t *testing.T) {
	deps := makeDeps(withRepos(&mockSessionRepo{
		listFn: func(ctx context.Context, backend string, limit, offset int) ([]domain.SessionRecord, int, error) {
			return []domain.SessionRecord{{ID: "s1", Backend: backend}}, 10, nil
		},
	}, nil, nil))
	app := setupApp(deps)

	req := httptest.NewRequest("GET", "/v1/sessions?backend=openai&limit=3", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	link := resp.Header.Get("Link")
	if !strings.Contains(link, "backend=openai") {
		t.Errorf("expected links to carry the backend filter, got %s", link)
	}
}

func TestGetSession_Success(t *testing.T) {
	score := 4800
	deps := makeDeps(withRepos(
		&mockSessionRepo{
			getByIDFn: func(ctx context.Context, id string) (*domain.SessionRecord, error) {
				return &domain.SessionRecord{ID: id, Backend: "openai", GamesPlayed: 1}, nil
			},
		},
		&mockRoundRepo{
			listBySessionFn: func(ctx context.Context, sessionID string) ([]domain.FinalGuess, error) {
				return []domain.FinalGuess{
					{RoundIndex: 0, Answered: true, Score: &score},
				}, nil
			},
		}, nil))
	app := setupApp(deps)

	req := httptest.NewRequest("GET", "/v1/sessions/sess-abc", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var rec domain.SessionRecord
	json.NewDecoder(resp.Body).Decode(&rec)
	if rec.ID != "sess-abc" {
		t.Errorf("expected sess-abc, got %s", rec.ID)
	}
	if len(rec.Guesses) != 1 {
		t.Fatalf("expected 1 guess, got %d", len(rec.Guesses))
	}
	if rec.Guesses[0].Score == nil || *rec.Guesses[0].Score != 4800 {
		t.Errorf("expected score 4800, got %v", rec.Guesses[0].Score)
	}
}

func TestGetSession_NotFound(t *testing.T) {
	deps := makeDeps(withRepos(&mockSessionRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.SessionRecord, error) {
			return nil, fmt.Errorf("no rows in result set")
		},
	}, nil, nil))
	app := setupApp(deps)

	req := httptest.NewRequest("GET", "/v1/sessions/nonexistent-id", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	var apiErr struct {
		Status int    `json:"status"`
		Code   string `json:"code"`
	}
	json.NewDecoder(resp.Body).Decode(&apiErr)
	if apiErr.Code != "not_found" {
		t.Errorf("expected not_found error, got %s", apiErr.Code)
	}
}

// ---- Round handler tests ----

func TestSessionRounds_Success(t *testing.T) {
	dist := 12.5
	deps := makeDeps(withRepos(nil, &mockRoundRepo{
		listBySessionFn: func(ctx context.Context, sessionID string) ([]domain.FinalGuess, error) {
			return []domain.FinalGuess{
				{RoundIndex: 0, Answered: true, DistanceKm: &dist},
				{RoundIndex: 1, Answered: false},
			}, nil
		},
	}, nil))
	app := setupApp(deps)

	req := httptest.NewRequest("GET", "/v1/sessions/sess-abc/rounds", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var guesses []domain.FinalGuess
	json.NewDecoder(resp.Body).Decode(&guesses)
	if len(guesses) != 2 {
		t.Fatalf("expected 2 guesses, got %d", len(guesses))
	}
	if guesses[1].Answered {
		t.Error("expected guess 1 unanswered")
	}
}

func TestSessionRounds_EmptyIsArray(t *testing.T) {
	deps := makeDeps()
	app := setupApp(deps)

	req := httptest.NewRequest("GET", "/v1/sessions/sess-abc/rounds", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body := strings.TrimSpace(string(readBody(t, resp.Body)))
	if body != "[]" {
		t.Errorf("expected empty JSON array, got %s", body)
	}
}

// ---- Stats handler tests ----

func TestBackendStats_Success(t *testing.T) {
	deps := makeDeps(withRepos(nil, nil, &mockStatsRepo{
		byBackendFn: func(ctx context.Context) ([]domain.BackendStats, error) {
			return []domain.BackendStats{
				{Backend: "gemini", Sessions: 3, MeanScore: 3900.5},
				{Backend: "openai", Sessions: 5, MeanScore: 4100.2},
			}, nil
		},
	}))
	app := setupApp(deps)

	req := httptest.NewRequest("GET", "/v1/stats", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result struct {
		Backends []domain.BackendStats `json:"backends"`
		Count    int                   `json:"count"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	if result.Count != 2 {
		t.Errorf("expected count 2, got %d", result.Count)
	}
	if len(result.Backends) != 2 || result.Backends[0].Backend != "gemini" {
		t.Errorf("unexpected backends payload: %+v", result.Backends)
	}

	cc := resp.Header.Get("Cache-Control")
	if cc != "public, max-age=60" {
		t.Errorf("expected Cache-Control header, got %q", cc)
	}
}

func TestBackendsAlias_Deprecated(t *testing.T) {
	deps := makeDeps(withRepos(nil, nil, &mockStatsRepo{
		byBackendFn: func(ctx context.Context) ([]domain.BackendStats, error) {
			return []domain.BackendStats{{Backend: "openai"}}, nil
		},
	}))
	app := setupApp(deps)

	req := httptest.NewRequest("GET", "/v1/backends", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	if resp.Header.Get("Deprecation") != "true" {
		t.Error("expected Deprecation header on /v1/backends")
	}
	if resp.Header.Get("Sunset") == "" {
		t.Error("expected Sunset header on /v1/backends")
	}
}

// ---- Store status handler tests ----

func TestStoreStatus_NoDB(t *testing.T) {
	app := setupApp(makeDeps())

	req := httptest.NewRequest("GET", "/v1/status", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 500 {
		t.Fatalf("expected 500 without a database, got %d", resp.StatusCode)
	}
}

// ---- Health handler tests ----

func TestHealth_Returns200(t *testing.T) {
	app := setupApp(makeDeps())

	req := httptest.NewRequest("GET", "/v1/health", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&result)
	if result["status"] != "healthy" {
		t.Errorf("expected healthy status, got %v", result["status"])
	}
}

func TestReady_NoDB(t *testing.T) {
	deps := makeDeps()
	// DB, NATS, Cache are nil → should report not ready
	app := setupApp(deps)

	req := httptest.NewRequest("GET", "/v1/ready", nil)
	resp, _ := app.Test(req, -1)
	// With nil DB, ready should return 503
	if resp.StatusCode != 503 {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

// ---- GraphQL tests ----

func TestGraphQL_SessionsQuery(t *testing.T) {
	deps := makeDeps(withRepos(&mockSessionRepo{
		listFn: func(ctx context.Context, backend string, limit, offset int) ([]domain.SessionRecord, int, error) {
			return []domain.SessionRecord{
				{ID: "s1", Backend: "openai", StartedAt: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)},
			}, 1, nil
		},
	}, nil, nil))
	app := setupApp(deps)

	body := strings.NewReader(`{"query":"{ sessions { id backend started_at } }"}`)
	req := httptest.NewRequest("POST", "/graphql", body)
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result struct {
		Data struct {
			Sessions []struct {
				ID        string `json:"id"`
				Backend   string `json:"backend"`
				StartedAt string `json:"started_at"`
			} `json:"sessions"`
		} `json:"data"`
		Errors []interface{} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected graphql errors: %v", result.Errors)
	}
	if len(result.Data.Sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(result.Data.Sessions))
	}
	if result.Data.Sessions[0].StartedAt != "2026-08-01T10:00:00Z" {
		t.Errorf("expected RFC3339 started_at, got %s", result.Data.Sessions[0].StartedAt)
	}
}

func TestGraphQL_BackendStatsQuery(t *testing.T) {
	deps := makeDeps(withRepos(nil, nil, &mockStatsRepo{
		byBackendFn: func(ctx context.Context) ([]domain.BackendStats, error) {
			return []domain.BackendStats{{Backend: "gemini", Sessions: 4, BestScore: 5000}}, nil
		},
	}))
	app := setupApp(deps)

	body := strings.NewReader(`{"query":"{ backendStats { backend sessions best_score } }"}`)
	req := httptest.NewRequest("POST", "/graphql", body)
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result struct {
		Data struct {
			BackendStats []struct {
				Backend   string `json:"backend"`
				Sessions  int    `json:"sessions"`
				BestScore int    `json:"best_score"`
			} `json:"backendStats"`
		} `json:"data"`
		Errors []interface{} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected graphql errors: %v", result.Errors)
	}
	if len(result.Data.BackendStats) != 1 || result.Data.BackendStats[0].BestScore != 5000 {
		t.Errorf("unexpected backendStats payload: %+v", result.Data.BackendStats)
	}
}

// ---- X-API-Version header ----

func TestAPIVersionHeader(t *testing.T) {
	app := setupApp(makeDeps())

	req := httptest.NewRequest("GET", "/v1/health", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	v := resp.Header.Get("X-API-Version")
	if v != "1.0.0" {
		t.Errorf("expected X-API-Version 1.0.0, got %q", v)
	}
}

// TestAccessLogMiddleware verifies structured access logging is emitted.
func TestAccessLogMiddleware(t *testing.T) {
	app := fiber.New()

	// Register middleware
	app.Use(handler.AccessLogMiddleware())

	// Simple test route
	app.Get("/test", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
	})

	// Make request
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-ID", "test-req-123")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	// Verify response body
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "ok") {
		t.Errorf("expected response body to contain 'ok', got %s", string(body))
	}
}
