package botbuilder

import (
	"context"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/park285/cheese-lichess-bot/internal/config"
	"github.com/park285/cheese-lichess-bot/internal/store"
)

func remoteConfig() *config.AppConfig {
	return &config.AppConfig{
		LichessBaseURL:     "https://lichess.example",
		LichessToken:       "tok",
		HTTPTimeout:        time.Second,
		EngineMode:         config.EngineModeRemote,
		EngineRemoteURL:    "ws://127.0.0.1:1/engine",
		EnginePreset:       "max",
		SupportedVariant:   "standard",
		MaxConcurrentGames: 2,
		MoveAttempts:       2,
		ChallengeClocks:    config.DefaultChallengeClocks(),
	}
}

func TestNew_RemoteEngineWithMemoryCooldown(t *testing.T) {
	deps, err := New(remoteConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer deps.Close()

	if _, ok := deps.Cooldown.(*store.MemoryCooldown); !ok {
		t.Fatalf("expected memory cooldown without REDIS_URL, got %T", deps.Cooldown)
	}
	if deps.Challenger != nil {
		t.Fatalf("challenger must be off by default")
	}
	if deps.Runtime.Settings.MoveAttempts != 2 || deps.Runtime.Settings.SupportedVariant != "standard" {
		t.Fatalf("settings not applied: %+v", deps.Runtime.Settings)
	}
}

func TestNew_RedisCooldownAndChallenger(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	cfg := remoteConfig()
	cfg.RedisURL = fmt.Sprintf("redis://%s/0", mr.Addr())
	cfg.AllowRandomMatch = true

	deps, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer deps.Close()

	if err := deps.Cooldown.Ping(context.Background()); err != nil {
		t.Fatalf("redis ping: %v", err)
	}
	if deps.Challenger == nil {
		t.Fatalf("challenger expected when ALLOW_RANDOM_MATCH is set")
	}
}

func TestNew_UCIRequiresBinary(t *testing.T) {
	cfg := remoteConfig()
	cfg.EngineMode = config.EngineModeUCI
	cfg.StockfishPath = "/no/such/stockfish"
	if _, err := New(cfg, nil); err == nil {
		t.Fatalf("missing engine binary must fail")
	}
}

func TestNew_UnknownPreset(t *testing.T) {
	cfg := remoteConfig()
	cfg.EnginePreset = "level99"
	if _, err := New(cfg, nil); err == nil {
		t.Fatalf("unknown preset must fail")
	}
}
