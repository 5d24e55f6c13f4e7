// Package remote talks to a move-selection service over WebSocket. Each search is
// one JSON request frame answered by one JSON response frame.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-lichess-bot/internal/chess"
)

const (
	dialTimeout = 10 * time.Second
	// 응답 대기 여유분. movetime 이 0 이어도 최소 이만큼은 기다림
	responseGrace = 5 * time.Second
)

type HeaderProvider func() map[string]string

type Request struct {
	ID         string   `json:"id"`
	FEN        string   `json:"fen,omitempty"`
	Moves      []string `json:"moves"`
	MoveTimeMs int      `json:"movetime_ms"`
	WTimeMs    int64    `json:"wtime_ms,omitempty"`
	BTimeMs    int64    `json:"btime_ms,omitempty"`
	WIncMs     int64    `json:"winc_ms,omitempty"`
	BIncMs     int64    `json:"binc_ms,omitempty"`
	Depth      int      `json:"depth,omitempty"`
	MultiPV    int      `json:"multipv,omitempty"`
}

type Response struct {
	ID         string          `json:"id"`
	BestMove   string          `json:"bestmove"`
	Candidates []CandidateWire `json:"candidates,omitempty"`
	Error      string          `json:"error,omitempty"`
}

type CandidateWire struct {
	Move   string `json:"move"`
	EvalCP int    `json:"eval_cp"`
}

// Engine is a chess.Backend backed by a single WebSocket connection. Searches are
// serialised; a failed exchange drops the connection and the next search redials.
type Engine struct {
	url     string
	headers HeaderProvider
	logger  *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

type Option func(*Engine)

func WithHeaderProvider(h HeaderProvider) Option { return func(e *Engine) { e.headers = h } }

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func New(url string, opts ...Option) (*Engine, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("remote engine url required")
	}
	e := &Engine{url: url, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) Search(ctx context.Context, req chess.SearchRequest) (chess.SearchResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	conn, err := e.connLocked(ctx)
	if err != nil {
		return chess.SearchResult{}, err
	}

	wire := Request{
		ID:         uuid.NewString(),
		FEN:        req.FEN,
		Moves:      append([]string{}, req.Moves...),
		MoveTimeMs: req.Limits.MoveTimeMillis,
		WTimeMs:    req.Limits.WTimeMillis,
		BTimeMs:    req.Limits.BTimeMillis,
		WIncMs:     req.Limits.WIncMillis,
		BIncMs:     req.Limits.BIncMillis,
		Depth:      req.Limits.Depth,
		MultiPV:    req.Preset.MultiPV,
	}

	exCtx, cancel := context.WithTimeout(ctx, time.Duration(wire.MoveTimeMs)*time.Millisecond+responseGrace)
	defer cancel()

	if err := wsjson.Write(exCtx, conn, &wire); err != nil {
		e.dropLocked("write failed")
		return chess.SearchResult{}, fmt.Errorf("remote write: %w", err)
	}

	for {
		var resp Response
		if err := wsjson.Read(exCtx, conn, &resp); err != nil {
			e.dropLocked("read failed")
			return chess.SearchResult{}, fmt.Errorf("remote read: %w", err)
		}
		if resp.ID != "" && resp.ID != wire.ID {
			// 이전 요청의 늦은 응답은 버림
			e.logger.Debug("remote_stale_response", zap.String("id", resp.ID), zap.String("want", wire.ID))
			continue
		}
		if resp.Error != "" {
			return chess.SearchResult{}, fmt.Errorf("remote engine: %s", resp.Error)
		}
		out := chess.SearchResult{BestMove: resp.BestMove}
		for _, c := range resp.Candidates {
			out.Candidates = append(out.Candidates, chess.Candidate{Move: c.Move, EvalCP: c.EvalCP, Principal: []string{c.Move}})
		}
		return out, nil
	}
}

// Ping dials if needed and checks the connection is alive.
func (e *Engine) Ping(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	conn, err := e.connLocked(ctx)
	if err != nil {
		return err
	}
	if err := conn.Ping(ctx); err != nil {
		e.dropLocked("ping failed")
		return fmt.Errorf("remote ping: %w", err)
	}
	return nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return nil
	}
	err := e.conn.Close(websocket.StatusNormalClosure, "close")
	e.conn = nil
	return err
}

func (e *Engine) connLocked(ctx context.Context) (*websocket.Conn, error) {
	if e.conn != nil {
		return e.conn, nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, e.url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      e.buildHeaders(),
	})
	if err != nil {
		return nil, fmt.Errorf("remote dial: %w", err)
	}
	e.logger.Info("remote_engine_connected", zap.String("url", e.url))
	e.conn = conn
	return conn, nil
}

func (e *Engine) dropLocked(reason string) {
	if e.conn == nil {
		return
	}
	e.logger.Warn("remote_engine_disconnected", zap.String("reason", reason))
	_ = e.conn.Close(websocket.StatusGoingAway, reason)
	e.conn = nil
}

func (e *Engine) buildHeaders() http.Header {
	hdr := http.Header{}
	if e.headers == nil {
		return hdr
	}
	for k, v := range e.headers() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}
