// Package bot plays lichess games: the dispatcher follows the account stream and
// starts one SessionHandler per game.
package bot

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-lichess-bot/internal/chess"
)

const (
	defaultVariant      = "standard"
	defaultMoveAttempts = 2
)

// GameAPI is the part of the lichess client the bot needs.
type GameAPI interface {
	AcceptChallenge(ctx context.Context, challengeID string) error
	DeclineChallenge(ctx context.Context, challengeID, reason string) error
	MakeMove(ctx context.Context, gameID, move string) error
	StreamEvents(ctx context.Context) (io.ReadCloser, error)
	StreamGame(ctx context.Context, gameID string) (io.ReadCloser, error)
}

type MoveSelector interface {
	SelectMove(ctx context.Context, req chess.MoveRequest) (chess.MoveResult, error)
}

type Settings struct {
	SupportedVariant string
	// MaxConcurrentGames <= 0 means no limit.
	MaxConcurrentGames int
	// MoveAttempts bounds submissions per turn, first try included.
	MoveAttempts int
	IdleTimeout  time.Duration
	Backoff      bool
}

// Runtime is the shared context handed to the dispatcher and every session.
type Runtime struct {
	API      GameAPI
	Engine   MoveSelector
	Registry *Registry
	Logger   *zap.Logger
	Jitter   chess.Jitter
	Settings Settings
}

func NewRuntime(api GameAPI, engine MoveSelector, jitter chess.Jitter, settings Settings, logger *zap.Logger) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{
		API:      api,
		Engine:   engine,
		Registry: NewRegistry(),
		Logger:   logger,
		Jitter:   jitter,
		Settings: settings.withDefaults(),
	}
}

func (s Settings) withDefaults() Settings {
	if s.SupportedVariant == "" {
		s.SupportedVariant = defaultVariant
	}
	if s.MoveAttempts <= 0 {
		s.MoveAttempts = defaultMoveAttempts
	}
	return s
}

func (rt *Runtime) logger() *zap.Logger {
	if rt.Logger == nil {
		return zap.NewNop()
	}
	return rt.Logger
}
