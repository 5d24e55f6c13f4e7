package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-lichess-bot/internal/chess"
	"github.com/park285/cheese-lichess-bot/internal/lichess"
	"github.com/park285/cheese-lichess-bot/internal/stream"
)

var (
	// ErrReplayRejected means the server move list could not be replayed locally.
	ErrReplayRejected = errors.New("server move list rejected by mirror")
	// ErrMoveRejected means the server kept refusing our move for one turn.
	ErrMoveRejected = errors.New("move rejected by server")
)

// SessionHandler plays one game. All of its state is owned by the goroutine
// running Play.
type SessionHandler struct {
	rt     *Runtime
	id     string
	color  lichess.Color
	logger *zap.Logger

	hasMovedAsOpeningSide bool
	mirror                *chess.Mirror
	lastMoves             string
	submitted             int
}

func NewSessionHandler(rt *Runtime, game lichess.GameInfo) *SessionHandler {
	return &SessionHandler{
		rt:     rt,
		id:     game.GameID,
		color:  game.Color,
		logger: rt.logger().Named("session").With(zap.String("game_id", game.GameID), zap.String("color", string(game.Color))),
		// 재시작 후 이미 둔 게임이면 첫 수 분기를 건너뜀
		hasMovedAsOpeningSide: game.Color == lichess.White && game.HasMoved,
		mirror:                chess.NewMirror(),
	}
}

// Play follows the game stream until the game ends (nil), ctx ends or the session
// fails.
func (h *SessionHandler) Play(ctx context.Context) error {
	open := func(ctx context.Context) (io.ReadCloser, error) {
		return h.rt.API.StreamGame(ctx, h.id)
	}
	runner := stream.New(open, h.handle, stream.Config{
		Name:        "game:" + h.id,
		IdleTimeout: h.rt.Settings.IdleTimeout,
		Backoff:     h.rt.Settings.Backoff,
		Logger:      h.logger,
	})
	cbID := runner.OnStateChange(func(s stream.State) {
		h.logger.Info("game_stream_state", zap.Stringer("state", s))
	})
	defer runner.RemoveStateCallback(cbID)

	return runner.Run(ctx)
}

func (h *SessionHandler) handle(ctx context.Context, ev lichess.Event) error {
	switch ev.Type {
	case lichess.EventGameFull:
		if f := ev.Full; f != nil {
			h.logger.Info("game_full",
				zap.String("white", f.White.Name),
				zap.String("black", f.Black.Name),
				zap.String("variant", f.Variant.Key),
				zap.String("initial_fen", f.InitialFEN))
		}
		if ev.State == nil {
			return nil
		}
		return h.onState(ctx, *ev.State)
	case lichess.EventGameState:
		if ev.State == nil {
			return nil
		}
		return h.onState(ctx, *ev.State)
	case lichess.EventGameStart:
		h.logger.Debug("game_start_on_game_stream")
	default:
		h.logger.Debug("event_ignored", zap.String("type", string(ev.Type)))
	}
	return nil
}

func (h *SessionHandler) onState(ctx context.Context, st lichess.GameState) error {
	h.lastMoves = st.Moves

	if st.Status.Terminal() {
		h.logger.Info("game_over",
			zap.String("status", string(st.Status)),
			zap.String("winner", string(st.Winner)),
			zap.Int("plies", len(st.MoveList())),
			zap.Int("submitted", h.submitted))
		return stream.ErrDone
	}

	if err := h.reconcile(st.MoveList()); err != nil {
		return err
	}

	if h.color == lichess.White && !h.hasMovedAsOpeningSide {
		h.hasMovedAsOpeningSide = true
		h.logger.Info("opening_side_first_state", zap.Int("plies", h.mirror.Len()))
	}

	if !h.myTurn() {
		return nil
	}
	return h.submit(ctx, st)
}

// reconcile makes the mirror equal to the server move list. Applying just the
// newest server move is tried first; anything else replays the whole list.
func (h *SessionHandler) reconcile(server []string) error {
	if h.mirror.Equal(server) {
		return nil
	}

	n := h.mirror.Len()
	if len(server) == n+1 && h.mirror.Equal(server[:n]) {
		err := h.mirror.Push(server[n])
		if err == nil {
			return nil
		}
		h.logger.Warn("mirror_push_failed", zap.String("move", server[n]), zap.Error(err))
	}

	if err := h.mirror.Rebuild(server); err != nil {
		h.logger.Error("mirror_replay_failed", zap.Strings("moves", server), zap.Error(err))
		return fmt.Errorf("%w: game %s: %w", ErrReplayRejected, h.id, err)
	}
	h.logger.Info("mirror_rebuilt", zap.Int("from_plies", n), zap.Int("plies", len(server)))
	return nil
}

// myTurn is derived from the applied-move count on every call.
func (h *SessionHandler) myTurn() bool {
	return h.mirror.WhiteToMove() == (h.color == lichess.White)
}

// submit picks and sends a move. Server rejections, engine failures and lost
// POSTs all draw from the same MoveAttempts budget.
func (h *SessionHandler) submit(ctx context.Context, st lichess.GameState) error {
	attempts := h.rt.Settings.MoveAttempts
	if attempts <= 0 {
		attempts = defaultMoveAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		remaining, increment := st.Clock(h.color)
		budget := chess.Budget(remaining, increment, h.rt.Jitter)

		res, err := h.rt.Engine.SelectMove(ctx, chess.MoveRequest{
			FEN:    h.mirror.FEN(),
			Moves:  h.mirror.Moves(),
			Budget: chess.BudgetDuration(budget),
			Clock:  chess.Clock{WTime: st.WTime, BTime: st.BTime, WInc: st.WInc, BInc: st.BInc},
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, chess.ErrNoMove) {
				h.logger.Warn("engine_no_move", zap.Error(err))
				return nil
			}
			h.logger.Warn("engine_failed", zap.Int("attempt", attempt), zap.Error(err))
			lastErr = err
			continue
		}

		move := res.Move
		if err := h.mirror.Push(move); err != nil {
			// 엔진이 낸 수가 로컬에서 거부되면 서버 기준으로 되돌리고 수를 버림
			h.logger.Error("engine_move_illegal", zap.String("move", move), zap.Error(err))
			return h.reconcile(h.serverMoves())
		}

		err = h.rt.API.MakeMove(ctx, h.id, move)
		for err != nil && !lichess.IsRejection(err) && ctx.Err() == nil && attempt < attempts {
			// 전송 실패: 같은 수를 다시 보냄
			h.logger.Warn("move_post_failed", zap.String("move", move), zap.Int("attempt", attempt), zap.Error(err))
			if werr := sleepCtx(ctx, lichess.BackoffDuration(attempt)); werr != nil {
				return werr
			}
			attempt++
			err = h.rt.API.MakeMove(ctx, h.id, move)
			if lichess.IsRejection(err) {
				// the lost POST most likely landed; the next state event settles it
				h.logger.Info("move_resend_rejected", zap.String("move", move), zap.Error(err))
				return nil
			}
		}
		if err == nil {
			h.submitted++
			h.logger.Info("move_submitted",
				zap.String("move", move),
				zap.String("source", res.Source),
				zap.Float64("budget_s", budget),
				zap.Duration("took", res.Duration))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !lichess.IsRejection(err) {
			return fmt.Errorf("game %s: move %s not delivered after %d attempts: %w", h.id, move, attempts, err)
		}

		lastErr = err
		h.logger.Warn("move_rejected", zap.String("move", move), zap.Int("attempt", attempt), zap.Error(err))
		if err := h.reconcile(h.serverMoves()); err != nil {
			return err
		}
		if !h.myTurn() {
			return nil
		}
	}

	if lichess.IsRejection(lastErr) {
		return fmt.Errorf("%w: game %s after %d attempts: %w", ErrMoveRejected, h.id, attempts, lastErr)
	}
	return fmt.Errorf("game %s: no move after %d attempts: %w", h.id, attempts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// serverMoves is the move list of the latest state event.
func (h *SessionHandler) serverMoves() []string {
	return strings.Fields(h.lastMoves)
}
