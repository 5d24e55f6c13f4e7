package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ClockPreset is one time control offered by the challenge sender.
type ClockPreset struct {
	Minutes   int `yaml:"minutes"`
	Increment int `yaml:"increment"`
}

type AppConfig struct {
	LichessBaseURL string
	LichessToken   string
	HTTPTimeout    time.Duration
	HTTPRateLimit  float64

	EngineMode         string
	StockfishPath      string
	EngineRemoteURL    string
	EnginePoolSize     int
	EnginePreset       string
	ChessOpeningMaxPly int

	SupportedVariant   string
	MaxConcurrentGames int
	MoveAttempts       int
	StreamIdleTimeout  time.Duration
	StreamBackoff      bool

	AllowRandomMatch  bool
	ChallengeInterval time.Duration
	ChallengeRated    bool
	ChallengeCooldown time.Duration
	ChallengeClocks   []ClockPreset

	RedisURL string
}

const (
	EngineModeUCI    = "uci"
	EngineModeRemote = "remote"
)

func DefaultChallengeClocks() []ClockPreset {
	return []ClockPreset{
		{Minutes: 2, Increment: 0},
		{Minutes: 5, Increment: 0},
		{Minutes: 5, Increment: 3},
		{Minutes: 10, Increment: 0},
		{Minutes: 10, Increment: 5},
		{Minutes: 15, Increment: 0},
		{Minutes: 15, Increment: 5},
		{Minutes: 30, Increment: 0},
		{Minutes: 30, Increment: 10},
	}
}

func defaults() *AppConfig {
	return &AppConfig{
		LichessBaseURL:     "https://lichess.org",
		HTTPTimeout:        10 * time.Second,
		HTTPRateLimit:      4,
		EngineMode:         EngineModeUCI,
		EnginePoolSize:     1,
		EnginePreset:       "max",
		ChessOpeningMaxPly: 12,
		SupportedVariant:   "standard",
		MaxConcurrentGames: 8,
		MoveAttempts:       2,
		StreamIdleTimeout:  30 * time.Second,
		StreamBackoff:      true,
		AllowRandomMatch:   false,
		ChallengeInterval:  5 * time.Minute,
		ChallengeRated:     true,
		ChallengeCooldown:  time.Hour,
		ChallengeClocks:    DefaultChallengeClocks(),
	}
}

func Load() (*AppConfig, error) {
	// .env 는 있으면 읽고, 없으면 무시
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type fileConfig struct {
	SupportedVariant   string `yaml:"supported_variant"`
	MaxConcurrentGames int    `yaml:"max_concurrent_games"`
	MoveAttempts       int    `yaml:"move_attempts"`

	Engine struct {
		Mode          string `yaml:"mode"`
		StockfishPath string `yaml:"stockfish_path"`
		RemoteURL     string `yaml:"remote_url"`
		PoolSize      int    `yaml:"pool_size"`
		Preset        string `yaml:"preset"`
		OpeningMaxPly int    `yaml:"opening_max_ply"`
	} `yaml:"engine"`

	Challenge struct {
		Enabled  *bool         `yaml:"enabled"`
		Rated    *bool         `yaml:"rated"`
		Interval string        `yaml:"interval"`
		Cooldown string        `yaml:"cooldown"`
		Clocks   []ClockPreset `yaml:"clocks"`
	} `yaml:"challenge"`
}

// LoadFile overlays a YAML file onto cfg. Zero values in the file keep cfg's values.
func LoadFile(path string, cfg *AppConfig) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %q: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config file %q: %w", path, err)
	}

	setString(&cfg.SupportedVariant, fc.SupportedVariant)
	setPositive(&cfg.MaxConcurrentGames, fc.MaxConcurrentGames)
	setPositive(&cfg.MoveAttempts, fc.MoveAttempts)

	setString(&cfg.EngineMode, fc.Engine.Mode)
	setString(&cfg.StockfishPath, fc.Engine.StockfishPath)
	setString(&cfg.EngineRemoteURL, fc.Engine.RemoteURL)
	setPositive(&cfg.EnginePoolSize, fc.Engine.PoolSize)
	setString(&cfg.EnginePreset, fc.Engine.Preset)
	setPositive(&cfg.ChessOpeningMaxPly, fc.Engine.OpeningMaxPly)

	if fc.Challenge.Enabled != nil {
		cfg.AllowRandomMatch = *fc.Challenge.Enabled
	}
	if fc.Challenge.Rated != nil {
		cfg.ChallengeRated = *fc.Challenge.Rated
	}
	if d, ok := parseDuration(fc.Challenge.Interval); ok {
		cfg.ChallengeInterval = d
	}
	if d, ok := parseDuration(fc.Challenge.Cooldown); ok {
		cfg.ChallengeCooldown = d
	}
	if len(fc.Challenge.Clocks) > 0 {
		clocks := make([]ClockPreset, 0, len(fc.Challenge.Clocks))
		for _, c := range fc.Challenge.Clocks {
			if c.Minutes <= 0 || c.Increment < 0 {
				return fmt.Errorf("config file %q: invalid clock %d+%d", path, c.Minutes, c.Increment)
			}
			clocks = append(clocks, c)
		}
		cfg.ChallengeClocks = clocks
	}
	return nil
}

func applyEnv(cfg *AppConfig) {
	setString(&cfg.LichessBaseURL, env("LICHESS_BASE_URL"))
	cfg.LichessBaseURL = strings.TrimRight(cfg.LichessBaseURL, "/")
	setString(&cfg.LichessToken, env("LICHESS_TOKEN"))
	if d, ok := parseDuration(env("HTTP_TIMEOUT")); ok {
		cfg.HTTPTimeout = d
	}
	if v := env("HTTP_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.HTTPRateLimit = f
		}
	}

	setString(&cfg.EngineMode, strings.ToLower(env("ENGINE_MODE")))
	setString(&cfg.StockfishPath, env("STOCKFISH_PATH"))
	setString(&cfg.EngineRemoteURL, env("ENGINE_REMOTE_URL"))
	setPositive(&cfg.EnginePoolSize, atoi(env("ENGINE_POOL_SIZE")))
	setString(&cfg.EnginePreset, env("ENGINE_PRESET"))
	setPositive(&cfg.ChessOpeningMaxPly, atoi(env("CHESS_OPENING_MAX_PLY")))

	setString(&cfg.SupportedVariant, env("SUPPORTED_VARIANT"))
	setPositive(&cfg.MaxConcurrentGames, atoi(env("MAX_CONCURRENT_GAMES")))
	setPositive(&cfg.MoveAttempts, atoi(env("MOVE_ATTEMPTS")))
	if d, ok := parseDuration(env("STREAM_IDLE_TIMEOUT")); ok {
		cfg.StreamIdleTimeout = d
	}
	setBool(&cfg.StreamBackoff, env("STREAM_BACKOFF"))

	setBool(&cfg.AllowRandomMatch, env("ALLOW_RANDOM_MATCH"))
	if d, ok := parseDuration(env("CHALLENGE_INTERVAL")); ok {
		cfg.ChallengeInterval = d
	}
	setBool(&cfg.ChallengeRated, env("CHALLENGE_RATED"))
	if d, ok := parseDuration(env("CHALLENGE_COOLDOWN")); ok {
		cfg.ChallengeCooldown = d
	}

	cfg.RedisURL = env("REDIS_URL")
}

func (c *AppConfig) Validate() error {
	if c.LichessToken == "" {
		return errors.New("LICHESS_TOKEN is required")
	}
	if c.LichessBaseURL == "" {
		return errors.New("LICHESS_BASE_URL is required")
	}
	switch c.EngineMode {
	case EngineModeUCI:
		if c.StockfishPath == "" {
			return errors.New("STOCKFISH_PATH is required for engine mode uci")
		}
	case EngineModeRemote:
		if c.EngineRemoteURL == "" {
			return errors.New("ENGINE_REMOTE_URL is required for engine mode remote")
		}
	default:
		return fmt.Errorf("unknown ENGINE_MODE: %s", c.EngineMode)
	}
	if c.AllowRandomMatch && len(c.ChallengeClocks) == 0 {
		return errors.New("challenge clocks must not be empty when ALLOW_RANDOM_MATCH is set")
	}
	return nil
}

func env(k string) string { return strings.TrimSpace(os.Getenv(k)) }

func atoi(v string) int {
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setPositive(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setBool(dst *bool, v string) {
	if v == "" {
		return
	}
	if b, err := strconv.ParseBool(v); err == nil {
		*dst = b
	}
}

// parseDuration accepts Go durations ("90s") or bare seconds ("90").
func parseDuration(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(v); err == nil {
		if n <= 0 {
			return 0, false
		}
		return time.Duration(n) * time.Second, true
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}
