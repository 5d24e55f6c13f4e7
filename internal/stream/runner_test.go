package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/park285/cheese-lichess-bot/internal/lichess"
)

const stateLine = `{"type":"gameState","moves":"e2e4","wtime":60000,"btime":60000,"winc":0,"binc":0,"status":"started"}`

type scriptedOpener struct {
	mu     sync.Mutex
	bodies []func() (io.ReadCloser, error)
	opens  int
}

func (s *scriptedOpener) open(ctx context.Context) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opens >= len(s.bodies) {
		return nil, errors.New("no more scripted bodies")
	}
	fn := s.bodies[s.opens]
	s.opens++
	return fn()
}

func body(lines ...string) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(strings.Join(lines, "\n") + "\n")), nil
	}
}

// silentBody never produces data until closed.
func silentBody() func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		pr, _ := io.Pipe()
		return pr, nil
	}
}

// resetBody yields lines, then fails with err instead of EOF.
func resetBody(err error, lines ...string) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		r := io.MultiReader(strings.NewReader(strings.Join(lines, "\n")+"\n"), failingReader{err})
		return io.NopCloser(r), nil
	}
}

type failingReader struct{ err error }

func (f failingReader) Read([]byte) (int, error) { return 0, f.err }

type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *stateRecorder) snapshot() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func TestRun_ReconnectsAfterDisconnect(t *testing.T) {
	op := &scriptedOpener{bodies: []func() (io.ReadCloser, error){
		body(stateLine),
		body(stateLine),
	}}
	var handled int
	h := func(ctx context.Context, ev lichess.Event) error {
		handled++
		if handled == 2 {
			return ErrDone
		}
		return nil
	}
	r := New(op.open, h, Config{Name: "test"})
	rec := &stateRecorder{}
	r.OnStateChange(rec.record)

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if op.opens != 2 || r.Reconnects() != 1 {
		t.Fatalf("opens=%d reconnects=%d", op.opens, r.Reconnects())
	}
	want := []State{StateStreaming, StateReconnecting, StateStreaming, StateTerminated}
	got := rec.snapshot()
	if len(got) != len(want) {
		t.Fatalf("states = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("states = %v, want %v", got, want)
		}
	}
}

func TestRun_IdleTimeoutTriggersReconnect(t *testing.T) {
	op := &scriptedOpener{bodies: []func() (io.ReadCloser, error){
		silentBody(),
		body(stateLine),
	}}
	h := func(ctx context.Context, ev lichess.Event) error { return ErrDone }
	r := New(op.open, h, Config{Name: "idle", IdleTimeout: 30 * time.Millisecond})

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if op.opens != 2 {
		t.Fatalf("expected reconnect after idle timeout, opens=%d", op.opens)
	}
}

func TestRun_TransientOpenErrorRetries(t *testing.T) {
	op := &scriptedOpener{bodies: []func() (io.ReadCloser, error){
		func() (io.ReadCloser, error) { return nil, &lichess.StatusError{Code: 502} },
		body(stateLine),
	}}
	h := func(ctx context.Context, ev lichess.Event) error { return ErrDone }
	if err := New(op.open, h, Config{}).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if op.opens != 2 {
		t.Fatalf("opens = %d", op.opens)
	}
}

func TestRun_FatalOpenError(t *testing.T) {
	op := &scriptedOpener{bodies: []func() (io.ReadCloser, error){
		func() (io.ReadCloser, error) { return nil, &lichess.StatusError{Code: 401} },
	}}
	r := New(op.open, func(ctx context.Context, ev lichess.Event) error { return nil }, Config{})
	err := r.Run(context.Background())
	if lichess.StatusCode(err) != 401 {
		t.Fatalf("expected 401 error, got %v", err)
	}
	if r.State() != StateTerminated {
		t.Fatalf("state = %s", r.State())
	}
}

func TestRun_HandlerErrorIsFatal(t *testing.T) {
	boom := errors.New("boom")
	op := &scriptedOpener{bodies: []func() (io.ReadCloser, error){body(stateLine)}}
	r := New(op.open, func(ctx context.Context, ev lichess.Event) error { return boom }, Config{})
	if err := r.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected handler error, got %v", err)
	}
	if op.opens != 1 {
		t.Fatalf("fatal error must not reconnect, opens=%d", op.opens)
	}
}

func TestRun_SkipsKeepAliveMalformedAndUnknown(t *testing.T) {
	op := &scriptedOpener{bodies: []func() (io.ReadCloser, error){
		body("", "{not json", `{"type":"chatLine","text":"gg"}`, "", stateLine),
	}}
	var got []lichess.Event
	h := func(ctx context.Context, ev lichess.Event) error {
		got = append(got, ev)
		return ErrDone
	}
	if err := New(op.open, h, Config{}).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(got) != 1 || got[0].Type != lichess.EventGameState || got[0].State.Moves != "e2e4" {
		t.Fatalf("handled = %+v", got)
	}
}

func TestRun_ContextCancel(t *testing.T) {
	op := &scriptedOpener{bodies: []func() (io.ReadCloser, error){silentBody()}}
	r := New(op.open, func(ctx context.Context, ev lichess.Event) error { return nil }, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestRun_ReadErrorAfterConnectReconnects(t *testing.T) {
	// not a net.Error and not EOF, like an HTTP/2 stream reset
	reset := errors.New("stream error: stream ID 1; INTERNAL_ERROR; received from peer")
	op := &scriptedOpener{bodies: []func() (io.ReadCloser, error){
		resetBody(reset, ""),
		body(stateLine),
	}}
	h := func(ctx context.Context, ev lichess.Event) error { return ErrDone }
	r := New(op.open, h, Config{Name: "reset"})

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if op.opens != 2 || r.Reconnects() != 1 {
		t.Fatalf("opens=%d reconnects=%d", op.opens, r.Reconnects())
	}
}
