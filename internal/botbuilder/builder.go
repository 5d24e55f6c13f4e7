// Package botbuilder wires configuration into the running bot.
package botbuilder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-lichess-bot/internal/bot"
	"github.com/park285/cheese-lichess-bot/internal/challenger"
	"github.com/park285/cheese-lichess-bot/internal/chess"
	"github.com/park285/cheese-lichess-bot/internal/chess/openingbook"
	"github.com/park285/cheese-lichess-bot/internal/chess/remote"
	"github.com/park285/cheese-lichess-bot/internal/chess/uci"
	"github.com/park285/cheese-lichess-bot/internal/config"
	"github.com/park285/cheese-lichess-bot/internal/lichess"
	"github.com/park285/cheese-lichess-bot/internal/store"
)

type Deps struct {
	Client     *lichess.Client
	Engine     *chess.Engine
	Backend    chess.Backend
	Cooldown   store.Cooldown
	Runtime    *bot.Runtime
	Dispatcher *bot.Dispatcher
	// Challenger is nil unless ALLOW_RANDOM_MATCH is set.
	Challenger *challenger.Sender
}

func New(cfg *config.AppConfig, logger *zap.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := lichess.NewClient(cfg.LichessBaseURL,
		lichess.WithHeaderProvider(lichess.BearerToken(cfg.LichessToken)),
		lichess.WithTimeout(cfg.HTTPTimeout),
		lichess.WithRateLimit(cfg.HTTPRateLimit, 2),
		lichess.WithLogger(logger.Named("lichess")),
	)

	backend, err := newBackend(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init engine: %w", err)
	}

	// Opening book (optional)
	book, err := openingbook.OpenDefault()
	if err != nil {
		logger.Warn("opening_book_unavailable", zap.Error(err))
		book = nil
	} else if book != nil {
		logger.Info("opening_book_loaded", zap.String("path", book.Path()))
	}

	engine, err := chess.NewEngine(backend, chess.EngineOptions{
		Preset:        cfg.EnginePreset,
		OpeningMaxPly: cfg.ChessOpeningMaxPly,
		Book:          book,
		Logger:        logger.Named("engine"),
	})
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("init engine: %w", err)
	}

	// Cooldown store (Redis optional)
	var cooldown store.Cooldown
	if strings.TrimSpace(cfg.RedisURL) != "" {
		rc, err := store.NewRedisCooldown(cfg.RedisURL)
		if err != nil {
			_ = engine.Close()
			return nil, fmt.Errorf("init cooldown store: %w", err)
		}
		cooldown = rc
	} else {
		cooldown = store.NewMemoryCooldown()
	}

	rt := bot.NewRuntime(client, engine, chess.NewRandJitter(time.Now().UnixNano()), bot.Settings{
		SupportedVariant:   cfg.SupportedVariant,
		MaxConcurrentGames: cfg.MaxConcurrentGames,
		MoveAttempts:       cfg.MoveAttempts,
		IdleTimeout:        cfg.StreamIdleTimeout,
		Backoff:            cfg.StreamBackoff,
	}, logger)

	deps := &Deps{
		Client:     client,
		Engine:     engine,
		Backend:    backend,
		Cooldown:   cooldown,
		Runtime:    rt,
		Dispatcher: bot.NewDispatcher(rt),
	}

	if cfg.AllowRandomMatch {
		clocks := make([]challenger.Clock, 0, len(cfg.ChallengeClocks))
		for _, c := range cfg.ChallengeClocks {
			clocks = append(clocks, challenger.Clock{Minutes: c.Minutes, Increment: c.Increment})
		}
		sender, err := challenger.New(client, cooldown, rt.Registry, challenger.Options{
			Interval: cfg.ChallengeInterval,
			Rated:    cfg.ChallengeRated,
			Cooldown: cfg.ChallengeCooldown,
			Clocks:   clocks,
			MaxGames: cfg.MaxConcurrentGames,
		}, logger)
		if err != nil {
			_ = deps.Close()
			return nil, fmt.Errorf("init challenger: %w", err)
		}
		deps.Challenger = sender
	}
	return deps, nil
}

func newBackend(cfg *config.AppConfig, logger *zap.Logger) (chess.Backend, error) {
	switch cfg.EngineMode {
	case config.EngineModeRemote:
		return remote.New(cfg.EngineRemoteURL, remote.WithLogger(logger.Named("remote_engine")))
	case config.EngineModeUCI, "":
		if strings.TrimSpace(cfg.StockfishPath) == "" {
			return nil, fmt.Errorf("STOCKFISH_PATH is required for engine mode uci")
		}
		pool, err := uci.NewPool(uci.PoolConfig{BinaryPath: cfg.StockfishPath, Capacity: cfg.EnginePoolSize})
		if err != nil {
			return nil, err
		}
		return chess.NewUCIBackend(pool), nil
	default:
		return nil, fmt.Errorf("unknown engine mode: %s", cfg.EngineMode)
	}
}

// CheckEngine proves the engine backend can serve a search.
func (d *Deps) CheckEngine(ctx context.Context) error {
	switch b := d.Backend.(type) {
	case *chess.UCIBackend:
		return b.Warm(ctx, d.Engine.Preset())
	case *remote.Engine:
		return b.Ping(ctx)
	default:
		return nil
	}
}

func (d *Deps) Close() error {
	var errs []error
	if d.Engine != nil {
		errs = append(errs, d.Engine.Close())
	}
	if d.Cooldown != nil {
		errs = append(errs, d.Cooldown.Close())
	}
	return errors.Join(errs...)
}
