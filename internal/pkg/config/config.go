package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Valkey    ValkeyConfig    `mapstructure:"valkey"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Player    PlayerConfig    `mapstructure:"player"`
	Game      GameConfig      `mapstructure:"game"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Inference InferenceConfig `mapstructure:"inference"`
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type ValkeyConfig struct {
	Addr string `mapstructure:"addr"`
}

type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	TempoAddr   string `mapstructure:"tempo_addr"`
	Enabled     bool   `mapstructure:"enabled"`
}

// PlayerConfig drives the guessing loop itself.
type PlayerConfig struct {
	MaxTurnsPerRound    int     `mapstructure:"max_turns_per_round"`
	AgreementRadiusKm   float64 `mapstructure:"agreement_radius_km"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	PerCallTimeout      int     `mapstructure:"per_call_timeout"` // seconds
	MaxConcurrentRounds int     `mapstructure:"max_concurrent_rounds"`
	RateLimitGateSize   int     `mapstructure:"rate_limit_gate_size"`
	GamesPerSession     int     `mapstructure:"games_per_session"`
	RoundsPerGame       int     `mapstructure:"rounds_per_game"`
	InferWindow         string  `mapstructure:"infer_window"` // "all" or "latest"
	Selector            string  `mapstructure:"selector"`     // "sweep" or "saliency"
	SaveViewsDir        string  `mapstructure:"save_views_dir"`
}

// CallTimeout returns the per-call timeout as a duration.
func (p PlayerConfig) CallTimeout() time.Duration {
	return time.Duration(p.PerCallTimeout) * time.Second
}

// GameConfig points the driver at the game service.
type GameConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	MapSlug      string `mapstructure:"map_slug"`
	CookiesPath  string `mapstructure:"cookies_path"`
	ForbidMoving bool   `mapstructure:"forbid_moving"`
	TimeLimit    int    `mapstructure:"time_limit"` // seconds per round, 0 = untimed
}

// BrowserConfig points at a Chrome instance with remote debugging enabled.
type BrowserConfig struct {
	DevToolsURL    string `mapstructure:"devtools_url"`
	CaptureQuality int    `mapstructure:"capture_quality"`
	CaptureMaxEdge int    `mapstructure:"capture_max_edge"`
}

// InferenceConfig selects and tunes the vision backend.
type InferenceConfig struct {
	Backend         string `mapstructure:"backend"` // "openai" or "gemini"
	OpenAIModel     string `mapstructure:"openai_model"`
	OpenAIBaseURL   string `mapstructure:"openai_base_url"`
	GeminiModel     string `mapstructure:"gemini_model"`
	CacheTTLSeconds int    `mapstructure:"cache_ttl_seconds"`
}

// Load reads configuration from file and environment variables.
func Load(service string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "plonk")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "plonk")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.tempo_addr", "tempo:4317")
	v.SetDefault("telemetry.enabled", true)

	v.SetDefault("player.max_turns_per_round", 8)
	v.SetDefault("player.agreement_radius_km", 50.0)
	v.SetDefault("player.confidence_threshold", 0.85)
	v.SetDefault("player.per_call_timeout", 60)
	v.SetDefault("player.max_concurrent_rounds", 2)
	v.SetDefault("player.rate_limit_gate_size", 2)
	v.SetDefault("player.games_per_session", 1)
	v.SetDefault("player.rounds_per_game", 5)
	v.SetDefault("player.infer_window", "all")
	v.SetDefault("player.selector", "sweep")
	v.SetDefault("player.save_views_dir", "")

	v.SetDefault("game.base_url", "https://www.geoguessr.com")
	v.SetDefault("game.map_slug", "world")
	v.SetDefault("game.cookies_path", "cookies.json")
	v.SetDefault("game.forbid_moving", true)
	v.SetDefault("game.time_limit", 0)

	v.SetDefault("browser.devtools_url", "http://localhost:9222")
	v.SetDefault("browser.capture_quality", 80)
	v.SetDefault("browser.capture_max_edge", 1024)

	v.SetDefault("inference.backend", "openai")
	v.SetDefault("inference.openai_model", "gpt-5")
	v.SetDefault("inference.openai_base_url", "https://api.openai.com/v1")
	v.SetDefault("inference.gemini_model", "gemini-2.5-pro")
	v.SetDefault("inference.cache_ttl_seconds", 86400)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	// Environment variables: PLONK_PLAYER_MAX_TURNS_PER_ROUND → player.max_turns_per_round
	v.SetEnvPrefix("PLONK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Database.Host == "" {
		errs = append(errs, "database.host is required")
	}
	if c.Database.User == "" {
		errs = append(errs, "database.user is required")
	}
	if c.Database.DBName == "" {
		errs = append(errs, "database.dbname is required")
	}
	if c.NATS.URL == "" {
		errs = append(errs, "nats.url is required")
	}
	if c.Valkey.Addr == "" {
		errs = append(errs, "valkey.addr is required")
	}

	if c.Player.MaxTurnsPerRound <= 0 {
		errs = append(errs, "player.max_turns_per_round must be positive")
	}
	if c.Player.AgreementRadiusKm <= 0 {
		errs = append(errs, "player.agreement_radius_km must be positive")
	}
	if c.Player.ConfidenceThreshold <= 0 || c.Player.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Sprintf("player.confidence_threshold must be in (0,1], got %g", c.Player.ConfidenceThreshold))
	}
	if c.Player.PerCallTimeout <= 0 {
		errs = append(errs, "player.per_call_timeout must be positive")
	}
	if c.Player.MaxConcurrentRounds <= 0 {
		errs = append(errs, "player.max_concurrent_rounds must be positive")
	}
	if c.Player.RateLimitGateSize <= 0 {
		errs = append(errs, "player.rate_limit_gate_size must be positive")
	}
	if w := c.Player.InferWindow; w != "all" && w != "latest" {
		errs = append(errs, fmt.Sprintf("player.infer_window must be all or latest, got %q", w))
	}
	if s := c.Player.Selector; s != "sweep" && s != "saliency" {
		errs = append(errs, fmt.Sprintf("player.selector must be sweep or saliency, got %q", s))
	}
	if b := c.Inference.Backend; b != "openai" && b != "gemini" {
		errs = append(errs, fmt.Sprintf("inference.backend must be openai or gemini, got %q", b))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
