package bot

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/park285/cheese-lichess-bot/internal/lichess"
	"github.com/park285/cheese-lichess-bot/internal/stream"
)

// Dispatcher follows the account event stream, answers challenges and starts a
// SessionHandler for each new game.
type Dispatcher struct {
	rt     *Runtime
	logger *zap.Logger
}

func NewDispatcher(rt *Runtime) *Dispatcher {
	return &Dispatcher{rt: rt, logger: rt.logger().Named("dispatcher")}
}

// Listen runs until ctx ends or the stream fails for good. Every session it
// started is cancelled and awaited before it returns.
func (d *Dispatcher) Listen(ctx context.Context) error {
	defer func() {
		d.rt.Registry.CancelAll()
		d.rt.Registry.Wait()
	}()

	runner := stream.New(d.rt.API.StreamEvents, d.handler(ctx), stream.Config{
		Name:        "account",
		IdleTimeout: d.rt.Settings.IdleTimeout,
		Backoff:     d.rt.Settings.Backoff,
		Logger:      d.logger,
	})
	runner.OnStateChange(func(s stream.State) {
		d.logger.Info("account_stream_state", zap.Stringer("state", s))
	})

	err := runner.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		d.logger.Error("account_stream_stopped", zap.Error(err))
	}
	return err
}

// handler binds sessions to the Listen context; API calls use the connection
// context the runner hands in.
func (d *Dispatcher) handler(listenCtx context.Context) stream.Handler {
	return func(ctx context.Context, ev lichess.Event) error {
		switch ev.Type {
		case lichess.EventChallenge:
			d.onChallenge(ctx, ev.Challenge)
		case lichess.EventGameStart:
			d.onGameStart(listenCtx, ev.Game)
		case lichess.EventGameFinish:
			if ev.Game != nil {
				d.logger.Info("game_finished", zap.String("game_id", ev.Game.GameID))
			}
		default:
			d.logger.Debug("event_ignored", zap.String("type", string(ev.Type)))
		}
		return nil
	}
}

func (d *Dispatcher) onChallenge(ctx context.Context, c *lichess.Challenge) {
	if c == nil {
		return
	}
	fields := []zap.Field{
		zap.String("challenge_id", c.ID),
		zap.String("variant", c.Variant.Key),
	}
	if c.Challenger != nil {
		fields = append(fields, zap.String("challenger", c.Challenger.Handle()))
	}

	if c.Variant.Key == d.rt.Settings.SupportedVariant {
		if err := d.rt.API.AcceptChallenge(ctx, c.ID); err != nil {
			d.logger.Warn("challenge_accept_failed", append(fields, zap.Error(err))...)
			return
		}
		d.logger.Info("challenge_accepted", fields...)
		return
	}

	if err := d.rt.API.DeclineChallenge(ctx, c.ID, "variant"); err != nil {
		d.logger.Warn("challenge_decline_failed", append(fields, zap.Error(err))...)
		return
	}
	d.logger.Info("challenge_declined", fields...)
}

func (d *Dispatcher) onGameStart(ctx context.Context, g *lichess.GameInfo) {
	if g == nil || g.GameID == "" {
		return
	}
	handler := NewSessionHandler(d.rt, *g)
	err := d.rt.Registry.Start(ctx, g.GameID, d.rt.Settings.MaxConcurrentGames, func(ctx context.Context) {
		if err := handler.Play(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("session_failed", zap.String("game_id", g.GameID), zap.Error(err))
			return
		}
		d.logger.Info("session_done", zap.String("game_id", g.GameID))
	})
	switch {
	case errors.Is(err, ErrAlreadyLive):
		d.logger.Debug("game_already_tracked", zap.String("game_id", g.GameID))
	case errors.Is(err, ErrRegistryFull):
		d.logger.Warn("game_start_ignored",
			zap.String("game_id", g.GameID),
			zap.Int("live", d.rt.Registry.Len()),
			zap.Error(err))
	case err == nil:
		d.logger.Info("session_started",
			zap.String("game_id", g.GameID),
			zap.String("color", string(g.Color)),
			zap.Bool("my_turn", g.IsMyTurn))
	}
}
