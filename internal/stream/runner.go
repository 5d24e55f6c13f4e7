package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/cheese-lichess-bot/internal/lichess"
)

// ErrDone is returned by a Handler to end the stream normally.
var ErrDone = errors.New("stream done")

type Opener func(ctx context.Context) (io.ReadCloser, error)

type Handler func(ctx context.Context, ev lichess.Event) error

type StateCallback func(state State)

type stateCallbackEntry struct {
	id       int
	callback StateCallback
}

type Config struct {
	Name        string
	IdleTimeout time.Duration
	// Backoff delays reconnects exponentially; zero value reconnects immediately.
	Backoff bool
	Logger  *zap.Logger
}

// Runner keeps one NDJSON stream alive and feeds decoded events to a handler in order.
type Runner struct {
	name        string
	open        Opener
	handle      Handler
	idleTimeout time.Duration
	backoff     bool
	logger      *zap.Logger

	state  State
	stateM sync.RWMutex

	stateCbs []stateCallbackEntry
	cbM      sync.RWMutex
	nextCbID int

	reconnects int
}

func New(open Opener, handle Handler, cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		name:        cfg.Name,
		open:        open,
		handle:      handle,
		idleTimeout: cfg.IdleTimeout,
		backoff:     cfg.Backoff,
		logger:      logger,
		state:       StateConnecting,
	}
}

// handlerError marks a failure raised by the Handler rather than by the connection.
type handlerError struct{ err error }

func (e *handlerError) Error() string { return e.err.Error() }
func (e *handlerError) Unwrap() error { return e.err }

func isHandlerError(err error) bool {
	var he *handlerError
	return errors.As(err, &he)
}

// Run blocks until the handler returns ErrDone (nil), ctx ends (ctx.Err()), opening
// fails permanently or the handler fails (that error). Once a connection is open,
// every read failure leads to a reconnect.
func (r *Runner) Run(ctx context.Context) error {
	r.setState(StateConnecting)
	failures := 0
	for {
		connID := uuid.NewString()
		connCtx, cancel := context.WithCancel(ctx)

		body, err := r.open(connCtx)
		if err != nil {
			cancel()
			if ctx.Err() != nil {
				r.setState(StateTerminated)
				return ctx.Err()
			}
			if !lichess.IsTransient(err) {
				r.logger.Error("stream_open_failed", zap.String("stream", r.name), zap.Error(err))
				r.setState(StateTerminated)
				return err
			}
			failures++
			if werr := r.reconnect(ctx, failures, err); werr != nil {
				return werr
			}
			continue
		}

		r.setState(StateStreaming)
		r.logger.Info("stream_connected", zap.String("stream", r.name), zap.String("conn_id", connID))

		delivered, err := r.consume(connCtx, body)
		cancel()
		_ = body.Close()
		if delivered {
			failures = 0
		}

		switch {
		case errors.Is(err, ErrDone):
			r.setState(StateTerminated)
			return nil
		case ctx.Err() != nil:
			r.setState(StateTerminated)
			return ctx.Err()
		case isHandlerError(err):
			r.logger.Error("stream_failed", zap.String("stream", r.name), zap.String("conn_id", connID), zap.Error(err))
			r.setState(StateTerminated)
			return errors.Unwrap(err)
		default:
			// 연결 이후의 읽기 실패는 모두 끊김으로 보고 재연결 (HTTP/2 RST_STREAM, GOAWAY 포함)
			failures++
			if werr := r.reconnect(ctx, failures, err); werr != nil {
				return werr
			}
		}
	}
}

func (r *Runner) reconnect(ctx context.Context, failures int, cause error) error {
	r.stateM.Lock()
	r.reconnects++
	r.stateM.Unlock()
	r.setState(StateReconnecting)

	var delay time.Duration
	if r.backoff {
		delay = lichess.BackoffDuration(failures)
	}
	r.logger.Warn("stream_reconnecting",
		zap.String("stream", r.name),
		zap.Int("attempt", failures),
		zap.Duration("delay", delay),
		zap.Error(cause))
	if delay <= 0 {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		r.setState(StateTerminated)
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// consume reads lines until the body fails, the idle timer fires or the handler
// returns an error. Handler errors come back wrapped in *handlerError; any other
// error means the connection is gone. delivered reports whether at least one line arrived.
func (r *Runner) consume(ctx context.Context, body io.Reader) (delivered bool, err error) {
	lines := make(chan []byte)
	readErr := make(chan error, 1)

	go func() {
		sc := lichess.NewScanner(body)
		for sc.Scan() {
			line := append([]byte(nil), sc.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		err := sc.Err()
		if err == nil {
			err = io.EOF
		}
		readErr <- err
	}()

	var idle <-chan time.Time
	var timer *time.Timer
	if r.idleTimeout > 0 {
		timer = time.NewTimer(r.idleTimeout)
		defer timer.Stop()
		idle = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return delivered, ctx.Err()
		case err := <-readErr:
			return delivered, err
		case <-idle:
			return delivered, lichess.ErrIdleTimeout
		case line := <-lines:
			delivered = true
			if timer != nil {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(r.idleTimeout)
			}
			if lichess.IsKeepAlive(line) {
				continue
			}
			ev, derr := lichess.DecodeEvent(line)
			if derr != nil {
				if errors.Is(derr, lichess.ErrUnknownEvent) {
					r.logger.Warn("stream_unknown_event", zap.String("stream", r.name), zap.String("type", string(ev.Type)))
				} else {
					r.logger.Warn("stream_decode_failed", zap.String("stream", r.name), zap.Error(derr))
				}
				continue
			}
			if herr := r.handle(ctx, ev); herr != nil {
				return delivered, &handlerError{err: herr}
			}
		}
	}
}

func (r *Runner) State() State {
	r.stateM.RLock()
	defer r.stateM.RUnlock()
	return r.state
}

// Reconnects counts transient failures that led to a new connection attempt.
func (r *Runner) Reconnects() int {
	r.stateM.RLock()
	defer r.stateM.RUnlock()
	return r.reconnects
}

func (r *Runner) OnStateChange(cb StateCallback) int {
	r.cbM.Lock()
	defer r.cbM.Unlock()
	r.nextCbID++
	r.stateCbs = append(r.stateCbs, stateCallbackEntry{id: r.nextCbID, callback: cb})
	return r.nextCbID
}

func (r *Runner) RemoveStateCallback(id int) {
	r.cbM.Lock()
	defer r.cbM.Unlock()
	for i, cb := range r.stateCbs {
		if cb.id == id {
			r.stateCbs = append(r.stateCbs[:i], r.stateCbs[i+1:]...)
			break
		}
	}
}

func (r *Runner) setState(state State) {
	r.stateM.Lock()
	if r.state == state {
		r.stateM.Unlock()
		return
	}
	r.state = state
	r.stateM.Unlock()

	r.cbM.RLock()
	callbacks := make([]stateCallbackEntry, len(r.stateCbs))
	copy(callbacks, r.stateCbs)
	r.cbM.RUnlock()
	for _, entry := range callbacks {
		if entry.callback != nil {
			entry.callback(state)
		}
	}
}
