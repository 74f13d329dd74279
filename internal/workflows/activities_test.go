package workflows_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/samirrijal/plonk/internal/core/domain"
	"github.com/samirrijal/plonk/internal/core/usecases"
	"github.com/samirrijal/plonk/internal/workflows"
)

// --- Mock SessionLauncher ---

type mockLauncher struct {
	launchFn func(ctx context.Context, params workflows.RunSessionParams) (*domain.SessionRecord, error)
	launches int
	lastID   string
}

func (m *mockLauncher) LaunchSession(ctx context.Context, params workflows.RunSessionParams) (*domain.SessionRecord, error) {
	m.launches++
	m.lastID = params.SessionID
	if m.launchFn != nil {
		return m.launchFn(ctx, params)
	}
	return &domain.SessionRecord{ID: params.SessionID, Backend: params.Backend}, nil
}

// --- Mock SessionRepository (delete path only) ---

type mockSessionRepo struct {
	deleteFn func(ctx context.Context, id string) error
	deletes  int
	lastID   string
}

func (m *mockSessionRepo) Create(ctx context.Context, rec *domain.SessionRecord) error { return nil }
func (m *mockSessionRepo) Finish(ctx context.Context, rec *domain.SessionRecord) error { return nil }
func (m *mockSessionRepo) GetByID(ctx context.Context, id string) (*domain.SessionRecord, error) {
	return nil, nil
}
func (m *mockSessionRepo) List(ctx context.Context, backend string, limit, offset int) ([]domain.SessionRecord, int, error) {
	return nil, 0, nil
}

func (m *mockSessionRepo) Delete(ctx context.Context, id string) error {
	m.deletes++
	m.lastID = id
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

// --- Mock StatsRepository ---

type mockStatsRepo struct {
	byBackendFn func(ctx context.Context) ([]domain.BackendStats, error)
}

func (m *mockStatsRepo) ByBackend(ctx context.Context) ([]domain.BackendStats, error) {
	if m.byBackendFn != nil {
		return m.byBackendFn(ctx)
	}
	return nil, nil
}

// --- Tests ---

func TestRunBenchmarkSession(t *testing.T) {
	launcher := &mockLauncher{
		launchFn: func(ctx context.Context, params workflows.RunSessionParams) (*domain.SessionRecord, error) {
			return &domain.SessionRecord{
				ID:      params.SessionID,
				Backend: params.Backend,
				Stats:   domain.SessionStats{RoundsPlayed: 5, MeanScore: 3200},
			}, nil
		},
	}
	acts := &workflows.CampaignActivities{Launcher: launcher}

	params := workflows.RunSessionParams{
		SessionID: "bench-openai-0",
		Backend:   "openai",
		Games:     1,
	}
	if err := acts.RunBenchmarkSession(context.Background(), params); err != nil {
		t.Fatalf("RunBenchmarkSession failed: %v", err)
	}

	if launcher.launches != 1 {
		t.Errorf("expected 1 launch, got %d", launcher.launches)
	}
	if launcher.lastID != "bench-openai-0" {
		t.Errorf("launcher got session id %q, want %q", launcher.lastID, "bench-openai-0")
	}
}

func TestRunBenchmarkSession_LaunchError(t *testing.T) {
	launcher := &mockLauncher{
		launchFn: func(ctx context.Context, params workflows.RunSessionParams) (*domain.SessionRecord, error) {
			return nil, errors.New("browser unreachable")
		},
	}
	acts := &workflows.CampaignActivities{Launcher: launcher}

	err := acts.RunBenchmarkSession(context.Background(), workflows.RunSessionParams{SessionID: "bench-gemini-1"})
	if err == nil {
		t.Fatal("expected error when launch fails")
	}
	if !strings.Contains(err.Error(), "bench-gemini-1") {
		t.Errorf("error should name the session, got %v", err)
	}
}

func TestRunBenchmarkSession_NoLauncher(t *testing.T) {
	acts := &workflows.CampaignActivities{}
	if err := acts.RunBenchmarkSession(context.Background(), workflows.RunSessionParams{}); err == nil {
		t.Fatal("expected error without a launcher")
	}
}

func TestAbandonSession(t *testing.T) {
	repo := &mockSessionRepo{}
	acts := &workflows.CampaignActivities{Sessions: repo}

	if err := acts.AbandonSession(context.Background(), "bench-openai-2"); err != nil {
		t.Fatalf("AbandonSession failed: %v", err)
	}
	if repo.deletes != 1 {
		t.Errorf("expected 1 delete, got %d", repo.deletes)
	}
	if repo.lastID != "bench-openai-2" {
		t.Errorf("deleted %q, want %q", repo.lastID, "bench-openai-2")
	}
}

func TestAbandonSession_DeleteError(t *testing.T) {
	repo := &mockSessionRepo{
		deleteFn: func(ctx context.Context, id string) error {
			return errors.New("store unavailable")
		},
	}
	acts := &workflows.CampaignActivities{Sessions: repo}

	err := acts.AbandonSession(context.Background(), "bench-openai-3")
	if err == nil {
		t.Fatal("expected error when delete fails")
	}
	if !strings.Contains(err.Error(), "bench-openai-3") {
		t.Errorf("error should name the session, got %v", err)
	}
}

func TestCompareBackends(t *testing.T) {
	stats := &mockStatsRepo{
		byBackendFn: func(ctx context.Context) ([]domain.BackendStats, error) {
			return []domain.BackendStats{
				{Backend: "openai", Sessions: 3, MeanScore: 3400},
				{Backend: "gemini", Sessions: 3, MeanScore: 3100},
			}, nil
		},
	}
	acts := &workflows.CampaignActivities{
		Records: usecases.NewRecordService(nil, nil, stats),
	}

	standings, err := acts.CompareBackends(context.Background())
	if err != nil {
		t.Fatalf("CompareBackends failed: %v", err)
	}
	if len(standings) != 2 {
		t.Fatalf("expected 2 backends, got %d", len(standings))
	}
	if standings[0].Backend != "openai" || standings[0].MeanScore != 3400 {
		t.Errorf("unexpected first standing: %+v", standings[0])
	}
}
