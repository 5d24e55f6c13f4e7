package bot

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/park285/cheese-lichess-bot/internal/chess"
	"github.com/park285/cheese-lichess-bot/internal/lichess"
)

type fakeAPI struct {
	mu sync.Mutex

	events    [][]string
	eventOpen int
	games     map[string][][]string
	gameOpen  map[string]int

	accepted []string
	declined []string
	moves    []string
	moveErrs []error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{games: map[string][][]string{}, gameOpen: map[string]int{}}
}

func (f *fakeAPI) AcceptChallenge(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepted = append(f.accepted, id)
	return nil
}

func (f *fakeAPI) DeclineChallenge(_ context.Context, id, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declined = append(f.declined, id)
	return nil
}

func (f *fakeAPI) MakeMove(_ context.Context, _ string, move string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moves = append(f.moves, move)
	if len(f.moveErrs) == 0 {
		return nil
	}
	err := f.moveErrs[0]
	f.moveErrs = f.moveErrs[1:]
	return err
}

func (f *fakeAPI) StreamEvents(ctx context.Context) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.eventOpen
	f.eventOpen++
	if idx < len(f.events) {
		return ndjson(f.events[idx]...), nil
	}
	return &blockingBody{ctx: ctx}, nil
}

func (f *fakeAPI) StreamGame(ctx context.Context, gameID string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.gameOpen[gameID]
	f.gameOpen[gameID]++
	if script := f.games[gameID]; idx < len(script) {
		return ndjson(script[idx]...), nil
	}
	return &blockingBody{ctx: ctx}, nil
}

func (f *fakeAPI) snapshot() (accepted, declined, moves []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.accepted...), append([]string(nil), f.declined...), append([]string(nil), f.moves...)
}

func (f *fakeAPI) opens(gameID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gameOpen[gameID]
}

func ndjson(lines ...string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(strings.Join(lines, "\n") + "\n"))
}

// blockingBody yields nothing until the stream context ends.
type blockingBody struct{ ctx context.Context }

func (b *blockingBody) Read([]byte) (int, error) {
	<-b.ctx.Done()
	return 0, io.EOF
}

func (b *blockingBody) Close() error { return nil }

type fakeEngine struct {
	mu    sync.Mutex
	moves []string
	err   error
	reqs  []chess.MoveRequest
}

func (e *fakeEngine) SelectMove(_ context.Context, req chess.MoveRequest) (chess.MoveResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reqs = append(e.reqs, req)
	if e.err != nil {
		return chess.MoveResult{}, e.err
	}
	if len(e.moves) == 0 {
		return chess.MoveResult{}, chess.ErrNoMove
	}
	mv := e.moves[0]
	if len(e.moves) > 1 {
		e.moves = e.moves[1:]
	}
	return chess.MoveResult{Move: mv, Source: chess.SourceEngine}, nil
}

func (e *fakeEngine) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.reqs)
}

type zeroJitter struct{}

func (zeroJitter) Draw(int) int { return 0 }

func newTestRuntime(api GameAPI, engine MoveSelector, s Settings) *Runtime {
	return NewRuntime(api, engine, zeroJitter{}, s, nil)
}

func stateLine(moves, status string) string {
	return fmt.Sprintf(`{"type":"gameState","moves":%q,"wtime":60000,"btime":45000,"winc":2000,"binc":2000,"status":%q}`, moves, status)
}

func fullLine(id, moves, status string) string {
	return fmt.Sprintf(`{"type":"gameFull","id":%q,"rated":false,"variant":{"key":"standard"},"initialFen":"startpos","white":{"id":"w","name":"W"},"black":{"id":"b","name":"B"},"state":{"type":"gameState","moves":%q,"wtime":60000,"btime":45000,"winc":2000,"binc":2000,"status":%q}}`, id, moves, status)
}

func gameStartLine(id, color string) string {
	return fmt.Sprintf(`{"type":"gameStart","game":{"gameId":%q,"color":%q,"fen":"rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1","hasMoved":false,"isMyTurn":%t,"variant":{"key":"standard"}}}`, id, color, color == "white")
}

func challengeLine(id, variant string) string {
	return fmt.Sprintf(`{"type":"challenge","challenge":{"id":%q,"variant":{"key":%q},"rated":false,"challenger":{"id":"alice","name":"Alice"}}}`, id, variant)
}

func decode(t *testing.T, line string) lichess.Event {
	t.Helper()
	ev, err := lichess.DecodeEvent([]byte(line))
	if err != nil {
		t.Fatalf("decode %s: %v", line, err)
	}
	return ev
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
