package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/samirrijal/plonk/internal/adapters/cdp"
	"github.com/samirrijal/plonk/internal/adapters/gemini"
	"github.com/samirrijal/plonk/internal/adapters/geoguessr"
	natsadapter "github.com/samirrijal/plonk/internal/adapters/nats"
	"github.com/samirrijal/plonk/internal/adapters/openai"
	"github.com/samirrijal/plonk/internal/adapters/postgres"
	"github.com/samirrijal/plonk/internal/adapters/roi"
	"github.com/samirrijal/plonk/internal/adapters/valkey"
	"github.com/samirrijal/plonk/internal/core/domain"
	"github.com/samirrijal/plonk/internal/core/ports"
	"github.com/samirrijal/plonk/internal/core/usecases"
	"github.com/samirrijal/plonk/internal/pkg/config"
	"github.com/samirrijal/plonk/internal/pkg/logging"
	"github.com/samirrijal/plonk/internal/pkg/ratelimit"
	"github.com/samirrijal/plonk/internal/workflows"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load("plonk-campaign")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logging.Setup("plonk-campaign", logLevel, "json")

	ctx := context.Background()

	// The campaign needs the store: standings come from it and failed
	// sessions are rolled back in it.
	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	sessionRepo := postgres.NewSessionRepo(db)
	roundRepo := postgres.NewRoundRepo(db)
	statsRepo := postgres.NewStatsRepo(db)
	records := usecases.NewRecordService(sessionRepo, roundRepo, statsRepo)

	var publisher ports.EventPublisher
	if pub, err := natsadapter.NewPublisher(cfg.NATS.URL); err != nil {
		slog.Warn("nats unavailable, round events will not be published", "error", err)
	} else {
		defer pub.Close()
		publisher = pub
	}

	var cache *valkey.Cache
	if c, err := valkey.New(cfg.Valkey.Addr); err != nil {
		slog.Warn("valkey unavailable, inference cache disabled", "error", err)
	} else {
		defer c.Close()
		cache = c
	}

	// Connect to Temporal
	c, err := client.Dial(client.Options{
		HostPort: "localhost:7233",
	})
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	w := worker.New(c, "campaign-queue", worker.Options{})

	// Register workflow & activities
	w.RegisterWorkflow(workflows.CampaignWorkflow)
	w.RegisterActivity(&workflows.CampaignActivities{
		Launcher: &launcher{
			cfg:       cfg,
			sessions:  sessionRepo,
			records:   roundRepo,
			publisher: publisher,
			cache:     cache,
		},
		Records:  records,
		Sessions: sessionRepo,
	})

	log.Println("campaign worker started")
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("worker: %v", err)
	}
}

// launcher builds a fresh player stack for each session the campaign asks
// for. The browser connection is per-session; store, stream, and cache
// connections are shared across the worker.
type launcher struct {
	cfg       *config.Config
	sessions  ports.SessionRepository
	records   ports.RoundRepository
	publisher ports.EventPublisher
	cache     *valkey.Cache
}

func (l *launcher) LaunchSession(ctx context.Context, params workflows.RunSessionParams) (*domain.SessionRecord, error) {
	cfg := l.cfg

	browser, err := cdp.Dial(ctx, cfg.Browser.DevToolsURL)
	if err != nil {
		return nil, fmt.Errorf("browser: %w", err)
	}
	defer browser.Close()

	cookies, err := geoguessr.LoadCookies(cfg.Game.CookiesPath)
	if err != nil {
		return nil, fmt.Errorf("cookies: %w", err)
	}
	jar, err := geoguessr.NewJar(cfg.Game.BaseURL, cookies)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	api := geoguessr.NewClient(cfg.Game.BaseURL, jar)

	mapSlug := params.MapSlug
	if mapSlug == "" {
		mapSlug = cfg.Game.MapSlug
	}
	driver := geoguessr.NewDriver(browser, api, geoguessr.DriverConfig{
		BaseURL:        cfg.Game.BaseURL,
		Settings:       geoguessr.DefaultSettings(mapSlug, cfg.Game.TimeLimit, cfg.Game.ForbidMoving),
		CaptureQuality: cfg.Browser.CaptureQuality,
		CaptureMaxEdge: cfg.Browser.CaptureMaxEdge,
	})
	if err := driver.Bootstrap(ctx, cookies); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	inferencer, closeBackend, err := buildBackend(ctx, cfg, params.Backend)
	if err != nil {
		return nil, err
	}
	defer closeBackend()
	if l.cache != nil {
		inferencer = valkey.NewCachedInferencer(inferencer, l.cache, cfg.Inference.CacheTTLSeconds)
	}

	var selector ports.Selector
	if cfg.Player.Selector == "saliency" {
		selector = roi.NewSaliencySelector(4, 1.0, cfg.Player.MaxTurnsPerRound)
	} else {
		selector = roi.NewSweepSelector(4, cfg.Player.MaxTurnsPerRound)
	}
	resolver := usecases.NewResolver(cfg.Player.AgreementRadiusKm, cfg.Player.ConfidenceThreshold, 0.05)
	gate := ratelimit.NewGate(cfg.Player.RateLimitGateSize, cfg.Player.CallTimeout())

	games := params.Games
	if games <= 0 {
		games = cfg.Player.GamesPerSession
	}
	roundsPerGame := params.RoundsPerGame
	if roundsPerGame <= 0 {
		roundsPerGame = cfg.Player.RoundsPerGame
	}

	rounds := usecases.NewRoundController(driver, selector, inferencer, resolver, gate, l.publisher,
		usecases.RoundConfig{
			SessionID:   params.SessionID,
			Backend:     inferencer.Backend(),
			MaxTurns:    cfg.Player.MaxTurnsPerRound,
			CallTimeout: cfg.Player.CallTimeout(),
			InferWindow: cfg.Player.InferWindow,
		})
	session := usecases.NewSessionController(driver, rounds, l.sessions, l.records, l.publisher,
		usecases.SessionConfig{
			SessionID:     params.SessionID,
			Backend:       inferencer.Backend(),
			MapSlug:       mapSlug,
			Games:         games,
			RoundsPerGame: roundsPerGame,
			CallTimeout:   cfg.Player.CallTimeout(),
		})

	return session.Run(ctx)
}

// buildBackend constructs the backend the campaign asked for, overriding the
// configured default.
func buildBackend(ctx context.Context, cfg *config.Config, backend string) (ports.Inferencer, func(), error) {
	if backend == "" {
		backend = cfg.Inference.Backend
	}
	switch backend {
	case "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, nil, fmt.Errorf("OPENAI_API_KEY is not set")
		}
		inf := openai.NewInferencer(openai.Config{
			APIKey:  key,
			Model:   cfg.Inference.OpenAIModel,
			BaseURL: cfg.Inference.OpenAIBaseURL,
		})
		return inf, func() {}, nil
	case "gemini":
		key := os.Getenv("GEMINI_API_KEY")
		if key == "" {
			return nil, nil, fmt.Errorf("GEMINI_API_KEY is not set")
		}
		inf, err := gemini.NewInferencer(ctx, gemini.Config{
			APIKey: key,
			Model:  cfg.Inference.GeminiModel,
		})
		if err != nil {
			return nil, nil, err
		}
		return inf, func() { _ = inf.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown inference backend %q", backend)
	}
}
