package chess

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-lichess-bot/internal/chess/openingbook"
	"github.com/park285/cheese-lichess-bot/internal/chess/uci"
)

var (
	ErrEngineUnavailable = errors.New("engine unavailable")
	ErrNoMove            = errors.New("engine returned no move")
)

const defaultOpeningMaxPly = 12

// Move sources reported in MoveResult.
const (
	SourceBook   = "book"
	SourceEngine = "engine"
)

type MoveRequest struct {
	// FEN of the current position, informational for backends that want it.
	FEN    string
	Moves  []string
	Budget time.Duration
	Clock  Clock
}

type MoveResult struct {
	Move     string
	Source   string
	Duration time.Duration
}

// SearchRequest is what a Backend receives after the book has been consulted.
type SearchRequest struct {
	FEN    string
	Moves  []string
	Preset DifficultyPreset
	Limits uci.Limits
}

type SearchResult struct {
	BestMove   string
	Candidates []Candidate
}

// Backend runs one engine search.
type Backend interface {
	Search(ctx context.Context, req SearchRequest) (SearchResult, error)
	Close() error
}

type EngineOptions struct {
	Preset        string
	OpeningMaxPly int
	Book          *openingbook.Book
	Seed          int64
	Logger        *zap.Logger
}

// Engine turns a position and a think budget into one UCI move.
type Engine struct {
	backend Backend
	preset  DifficultyPreset
	book    *openingbook.Book
	maxPly  int
	logger  *zap.Logger

	randMu sync.Mutex
	rand   *rand.Rand
}

func NewEngine(backend Backend, opts EngineOptions) (*Engine, error) {
	if backend == nil {
		return nil, fmt.Errorf("engine backend required")
	}
	preset, err := GetPreset(opts.Preset)
	if err != nil {
		return nil, err
	}
	if err := ValidatePreset(preset); err != nil {
		return nil, err
	}
	maxPly := opts.OpeningMaxPly
	if maxPly <= 0 {
		maxPly = defaultOpeningMaxPly
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		backend: backend,
		preset:  preset,
		book:    opts.Book,
		maxPly:  maxPly,
		logger:  logger,
		rand:    rand.New(rand.NewSource(seed)),
	}, nil
}

func (e *Engine) Preset() DifficultyPreset { return e.preset }

func (e *Engine) SelectMove(ctx context.Context, req MoveRequest) (MoveResult, error) {
	start := time.Now()

	if mv, ok := e.bookMove(req.Moves); ok {
		return MoveResult{Move: mv, Source: SourceBook, Duration: time.Since(start)}, nil
	}

	res, err := e.backend.Search(ctx, SearchRequest{
		FEN:    req.FEN,
		Moves:  req.Moves,
		Preset: e.preset,
		Limits: searchLimits(e.preset, req.Budget, req.Clock),
	})
	if err != nil {
		if ctx.Err() != nil {
			return MoveResult{}, ctx.Err()
		}
		return MoveResult{}, fmt.Errorf("%w: %w", ErrEngineUnavailable, err)
	}

	move := res.BestMove
	if e.preset.PrimaryChoices > 1 && len(res.Candidates) > 1 {
		chosen, err := SelectCandidate(e.preset, res.Candidates, e.random())
		if err == nil {
			move = chosen.Move
		} else {
			e.logger.Debug("candidate_select_failed", zap.Error(err))
		}
	}
	move = strings.ToLower(strings.TrimSpace(move))
	if move == "" || move == "(none)" || move == "0000" {
		return MoveResult{}, ErrNoMove
	}
	return MoveResult{Move: move, Source: SourceEngine, Duration: time.Since(start)}, nil
}

// bookMove consults the opening book within the ply limit. Book errors are logged
// and treated as a miss.
func (e *Engine) bookMove(moves []string) (string, bool) {
	if e.book == nil || len(moves) >= e.maxPly {
		return "", false
	}
	results, err := e.book.Lookup(moves)
	if err != nil {
		e.logger.Debug("book_lookup_failed", zap.Error(err))
		return "", false
	}
	res, ok := openingbook.Pick(results, e.random())
	if !ok {
		return "", false
	}
	return res.Move, true
}

// random hands out a child source so callers never share the locked one.
func (e *Engine) random() *rand.Rand {
	e.randMu.Lock()
	seed := e.rand.Int63()
	e.randMu.Unlock()
	return rand.New(rand.NewSource(seed))
}

func (e *Engine) Close() error {
	return e.backend.Close()
}

// UCIBackend searches on local engine processes from a uci.Pool.
type UCIBackend struct {
	pool *uci.Pool
}

func NewUCIBackend(pool *uci.Pool) *UCIBackend {
	return &UCIBackend{pool: pool}
}

func (b *UCIBackend) Search(ctx context.Context, req SearchRequest) (SearchResult, error) {
	session, err := b.pool.Acquire(ctx, req.Preset.options())
	if err != nil {
		return SearchResult{}, err
	}
	var releaseErr error
	defer func() { b.pool.Release(session, releaseErr) }()

	if len(req.Moves) < 2 {
		if err := session.NewGame(ctx); err != nil {
			releaseErr = err
			return SearchResult{}, err
		}
	}

	resp, err := session.Search(ctx, uci.SearchRequest{
		FEN:    "startpos",
		Moves:  req.Moves,
		Limits: req.Limits,
	})
	if err != nil {
		// 검색 도중 끊긴 세션은 출력이 남아 있을 수 있어 재사용하지 않음
		releaseErr = err
		return SearchResult{}, err
	}

	out := SearchResult{BestMove: resp.BestMove}
	for _, c := range resp.Candidates {
		out.Candidates = append(out.Candidates, Candidate{
			Move:      c.Move,
			EvalCP:    c.EvalCP,
			Principal: append([]string(nil), c.Principal...),
		})
	}
	return out, nil
}

// Warm makes sure at least one engine process can start for preset.
func (b *UCIBackend) Warm(ctx context.Context, preset DifficultyPreset) error {
	return b.pool.Warm(ctx, preset.options())
}

func (b *UCIBackend) Close() error {
	return b.pool.Close()
}
