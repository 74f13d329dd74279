package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/samirrijal/plonk/internal/adapters/cdp"
	"github.com/samirrijal/plonk/internal/adapters/gemini"
	"github.com/samirrijal/plonk/internal/adapters/geoguessr"
	natsadapter "github.com/samirrijal/plonk/internal/adapters/nats"
	"github.com/samirrijal/plonk/internal/adapters/openai"
	"github.com/samirrijal/plonk/internal/adapters/postgres"
	"github.com/samirrijal/plonk/internal/adapters/replay"
	"github.com/samirrijal/plonk/internal/adapters/roi"
	"github.com/samirrijal/plonk/internal/adapters/valkey"
	"github.com/samirrijal/plonk/internal/core/ports"
	"github.com/samirrijal/plonk/internal/core/usecases"
	"github.com/samirrijal/plonk/internal/pkg/config"
	"github.com/samirrijal/plonk/internal/pkg/logging"
	"github.com/samirrijal/plonk/internal/pkg/ratelimit"
	"github.com/samirrijal/plonk/internal/pkg/telemetry"
)

// Selector geometry. Four segments cover the full panorama in quarter turns,
// which keeps the view count (and the inference bill) small.
const (
	sweepSegments = 4
	saliencyZoom  = 1.0
)

// Usage:
//
//	plonk-player                          play live through the browser
//	plonk-player fixture.yaml [more...]   replay recorded fixtures offline
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load("plonk-player")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logging.Setup("plonk-player", logLevel, "json")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Finish the round in flight, then stop.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-quit
		slog.Info("shutdown signal received, stopping sessions...", "signal", sig.String())
		cancel()
	}()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	// Results store. Optional: a player without Postgres still plays, the
	// records just stay in the logs.
	var sessions ports.SessionRepository
	var records ports.RoundRepository
	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		slog.Warn("results store unavailable, sessions will not be persisted", "error", err)
	} else {
		defer db.Close()
		sessions = postgres.NewSessionRepo(db)
		records = postgres.NewRoundRepo(db)
	}

	// Round event stream. Also optional.
	var publisher ports.EventPublisher
	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats unavailable, round events will not be published", "error", err)
	} else {
		defer pub.Close()
		publisher = pub
	}

	// Inference backend
	inferencer, closeBackend, err := buildInferencer(ctx, cfg)
	if err != nil {
		log.Fatalf("inference backend: %v", err)
	}
	defer closeBackend()

	// Response cache wraps the backend when Valkey is reachable.
	if cache, err := valkey.New(cfg.Valkey.Addr); err != nil {
		slog.Warn("valkey unavailable, inference cache disabled", "error", err)
	} else {
		defer cache.Close()
		inferencer = valkey.NewCachedInferencer(inferencer, cache, cfg.Inference.CacheTTLSeconds)
	}

	selector := buildSelector(cfg)
	resolver := usecases.NewResolver(cfg.Player.AgreementRadiusKm, cfg.Player.ConfidenceThreshold, 0.05)
	gate := ratelimit.NewGate(cfg.Player.RateLimitGateSize, cfg.Player.CallTimeout())

	newSession := func(driver ports.Driver, mapSlug string, games int) *usecases.SessionController {
		sessionID := fmt.Sprintf("sess-%s-%s",
			time.Now().UTC().Format("20060102-150405"), uuid.NewString()[:8])
		rounds := usecases.NewRoundController(driver, selector, inferencer, resolver, gate, publisher,
			usecases.RoundConfig{
				SessionID:    sessionID,
				Backend:      inferencer.Backend(),
				MaxTurns:     cfg.Player.MaxTurnsPerRound,
				CallTimeout:  cfg.Player.CallTimeout(),
				InferWindow:  cfg.Player.InferWindow,
				SaveViewsDir: cfg.Player.SaveViewsDir,
			})
		return usecases.NewSessionController(driver, rounds, sessions, records, publisher,
			usecases.SessionConfig{
				SessionID:     sessionID,
				Backend:       inferencer.Backend(),
				MapSlug:       mapSlug,
				Games:         games,
				RoundsPerGame: cfg.Player.RoundsPerGame,
				CallTimeout:   cfg.Player.CallTimeout(),
			})
	}

	var controllers []*usecases.SessionController

	fixtures := os.Args[1:]
	if len(fixtures) == 0 {
		// Live mode: one browser, one session.
		browser, err := cdp.Dial(ctx, cfg.Browser.DevToolsURL)
		if err != nil {
			log.Fatalf("browser: %v (is Chrome running with --remote-debugging-port?)", err)
		}
		defer browser.Close()

		cookies, err := geoguessr.LoadCookies(cfg.Game.CookiesPath)
		if err != nil {
			log.Fatalf("cookies: %v (export them from a logged-in browser first)", err)
		}
		jar, err := geoguessr.NewJar(cfg.Game.BaseURL, cookies)
		if err != nil {
			log.Fatalf("cookie jar: %v", err)
		}
		api := geoguessr.NewClient(cfg.Game.BaseURL, jar)

		driver := geoguessr.NewDriver(browser, api, geoguessr.DriverConfig{
			BaseURL:        cfg.Game.BaseURL,
			Settings:       geoguessr.DefaultSettings(cfg.Game.MapSlug, cfg.Game.TimeLimit, cfg.Game.ForbidMoving),
			CaptureQuality: cfg.Browser.CaptureQuality,
			CaptureMaxEdge: cfg.Browser.CaptureMaxEdge,
		})
		if err := driver.Bootstrap(ctx, cookies); err != nil {
			log.Fatalf("bootstrap: %v", err)
		}

		controllers = append(controllers, newSession(driver, cfg.Game.MapSlug, cfg.Player.GamesPerSession))
	} else {
		// Replay mode: one session per fixture, played concurrently.
		if err := replay.EnsureDeterministic(selector); err != nil {
			log.Fatalf("replay: %v", err)
		}
		for _, path := range fixtures {
			driver, err := replay.Load(path)
			if err != nil {
				log.Fatalf("fixture %s: %v", path, err)
			}
			controllers = append(controllers, newSession(driver, filepath.Base(path), driver.Games()))
		}
	}

	slog.Info("player starting",
		"backend", inferencer.Backend(),
		"selector", cfg.Player.Selector,
		"sessions", len(controllers),
		"games_per_session", cfg.Player.GamesPerSession,
		"rounds_per_game", cfg.Player.RoundsPerGame)

	recs, err := usecases.RunFleet(ctx, controllers, cfg.Player.MaxConcurrentRounds)
	if err != nil {
		slog.Error("fleet finished with errors", "error", err)
	}

	for _, rec := range recs {
		if rec == nil {
			continue
		}
		slog.Info("session result",
			"session", rec.ID,
			"games_played", rec.GamesPlayed,
			"rounds_answered", rec.Stats.RoundsAnswered,
			"total_score", rec.Stats.TotalScore,
			"mean_score", rec.Stats.MeanScore,
			"mean_distance_km", rec.Stats.MeanDistanceKm)
	}
}

// buildInferencer selects the vision backend. The returned func releases any
// client the backend holds.
func buildInferencer(ctx context.Context, cfg *config.Config) (ports.Inferencer, func(), error) {
	switch cfg.Inference.Backend {
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
		return nil, nil, fmt.Errorf("unknown inference backend %q", cfg.Inference.Backend)
	}
}

func buildSelector(cfg *config.Config) ports.Selector {
	switch cfg.Player.Selector {
	case "saliency":
		return roi.NewSaliencySelector(sweepSegments, saliencyZoom, cfg.Player.MaxTurnsPerRound)
	default:
		return roi.NewSweepSelector(sweepSegments, cfg.Player.MaxTurnsPerRound)
	}
}
