package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/samirrijal/plonk/internal/core/domain"
)

// CampaignInput is the input for the benchmark campaign workflow.
type CampaignInput struct {
	CampaignID         string
	Backends           []string
	SessionsPerBackend int
	MapSlug            string
	GamesPerSession    int
	RoundsPerGame      int
}

// RunSessionParams configures one session played inside a campaign. The
// session id is chosen by the workflow so a failed session can still be
// rolled back.
type RunSessionParams struct {
	SessionID     string
	Backend       string
	MapSlug       string
	Games         int
	RoundsPerGame int
}

// CampaignResult reports which sessions a campaign played and the backend
// standings after it finished.
type CampaignResult struct {
	Played []string              `json:"played"`
	Failed []string              `json:"failed"`
	Stats  []domain.BackendStats `json:"stats"`
}

// CampaignWorkflow plays a batch of sessions on each configured backend and
// compares the standings afterwards. A session that dies mid-game leaves an
// unfinished row in the store; the workflow deletes it (saga compensation)
// so the comparison only ever sees complete sessions.
func CampaignWorkflow(ctx workflow.Context, input CampaignInput) (*CampaignResult, error) {
	logger := workflow.GetLogger(ctx)

	if len(input.Backends) == 0 {
		input.Backends = []string{"openai", "gemini"}
	}
	if input.SessionsPerBackend <= 0 {
		input.SessionsPerBackend = 1
	}
	campaignID := input.CampaignID
	if campaignID == "" {
		campaignID = workflow.GetInfo(ctx).WorkflowExecution.ID
	}
	logger.Info("Starting benchmark campaign",
		"backends", input.Backends, "sessionsPerBackend", input.SessionsPerBackend)

	// A session holds a browser for many minutes; the heartbeat tells the
	// server the activity is still alive between rounds.
	sessionOpts := workflow.ActivityOptions{
		StartToCloseTimeout: time.Hour,
		HeartbeatTimeout:    2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 2,
		},
	}
	shortOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	}

	result := &CampaignResult{}
	for _, backend := range input.Backends {
		for i := 0; i < input.SessionsPerBackend; i++ {
			params := RunSessionParams{
				SessionID:     fmt.Sprintf("%s-%s-%d", campaignID, backend, i),
				Backend:       backend,
				MapSlug:       input.MapSlug,
				Games:         input.GamesPerSession,
				RoundsPerGame: input.RoundsPerGame,
			}

			sctx := workflow.WithActivityOptions(ctx, sessionOpts)
			err := workflow.ExecuteActivity(sctx, "RunBenchmarkSession", params).Get(ctx, nil)
			if err != nil {
				logger.Warn("session failed, compensating", "session", params.SessionID, "error", err)
				// Compensate: drop the unfinished row so stats stay clean
				cctx := workflow.WithActivityOptions(ctx, shortOpts)
				_ = workflow.ExecuteActivity(cctx, "AbandonSession", params.SessionID).Get(ctx, nil)
				result.Failed = append(result.Failed, params.SessionID)
				continue
			}
			result.Played = append(result.Played, params.SessionID)
		}
	}

	if len(result.Played) == 0 {
		return result, temporal.NewApplicationError("every session in the campaign failed", "campaign_empty")
	}

	cctx := workflow.WithActivityOptions(ctx, shortOpts)
	if err := workflow.ExecuteActivity(cctx, "CompareBackends").Get(ctx, &result.Stats); err != nil {
		return result, err
	}
	for _, s := range result.Stats {
		logger.Info("Backend standing",
			"backend", s.Backend, "sessions", s.Sessions, "meanScore", s.MeanScore)
	}
	return result, nil
}
