package chess

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"
)

type fakeBackend struct {
	result SearchResult
	err    error
	calls  int
	last   SearchRequest
}

func (f *fakeBackend) Search(_ context.Context, req SearchRequest) (SearchResult, error) {
	f.calls++
	f.last = req
	return f.result, f.err
}

func (f *fakeBackend) Close() error { return nil }

func TestEngine_SelectMovePassesBudgetAndClock(t *testing.T) {
	backend := &fakeBackend{result: SearchResult{BestMove: "E7E5"}}
	eng, err := NewEngine(backend, EngineOptions{Seed: 1})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	res, err := eng.SelectMove(context.Background(), MoveRequest{
		Moves:  []string{"e2e4"},
		Budget: 3 * time.Millisecond,
		Clock:  Clock{WTime: 60000, BTime: 59000, WInc: 1000, BInc: 1000},
	})
	if err != nil {
		t.Fatalf("SelectMove: %v", err)
	}
	if res.Move != "e7e5" || res.Source != SourceEngine {
		t.Fatalf("unexpected result: %+v", res)
	}
	l := backend.last.Limits
	if l.MoveTimeMillis != 10 {
		t.Fatalf("movetime must be floored at 10ms, got %d", l.MoveTimeMillis)
	}
	if l.BTimeMillis != 59000 || l.WIncMillis != 1000 {
		t.Fatalf("clock not forwarded: %+v", l)
	}
}

func TestEngine_NoMove(t *testing.T) {
	eng, _ := NewEngine(&fakeBackend{result: SearchResult{BestMove: "(none)"}}, EngineOptions{Seed: 1})
	if _, err := eng.SelectMove(context.Background(), MoveRequest{}); !errors.Is(err, ErrNoMove) {
		t.Fatalf("expected ErrNoMove, got %v", err)
	}
}

func TestEngine_BackendFailure(t *testing.T) {
	eng, _ := NewEngine(&fakeBackend{err: errors.New("pipe closed")}, EngineOptions{Seed: 1})
	if _, err := eng.SelectMove(context.Background(), MoveRequest{}); !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("expected ErrEngineUnavailable, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := eng.SelectMove(ctx, MoveRequest{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled search must surface ctx error, got %v", err)
	}
}

func TestEngine_WeakPresetPicksAmongPrimaries(t *testing.T) {
	backend := &fakeBackend{result: SearchResult{
		BestMove: "e2e4",
		Candidates: []Candidate{
			{Move: "e2e4"}, {Move: "d2d4"}, {Move: "c2c4"}, {Move: "g1f3"}, {Move: "b1c3"},
		},
	}}
	eng, err := NewEngine(backend, EngineOptions{Preset: "level1", Seed: 3})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		res, err := eng.SelectMove(context.Background(), MoveRequest{})
		if err != nil {
			t.Fatalf("SelectMove: %v", err)
		}
		seen[res.Move] = true
	}
	if seen["g1f3"] || seen["b1c3"] {
		t.Fatalf("picked outside primary choices: %v", seen)
	}
	if len(seen) < 2 {
		t.Fatalf("weak preset never varied: %v", seen)
	}
}

func TestEngine_UnknownPreset(t *testing.T) {
	if _, err := NewEngine(&fakeBackend{}, EngineOptions{Preset: "grandmaster"}); err == nil {
		t.Fatalf("unknown preset must fail")
	}
}

func TestPresets_AllValid(t *testing.T) {
	for name := range presets {
		p, err := GetPreset(name)
		if err != nil {
			t.Fatalf("GetPreset(%s): %v", name, err)
		}
		if err := ValidatePreset(p); err != nil {
			t.Fatalf("preset %s invalid: %v", name, err)
		}
	}
}

func TestSelectCandidate_SingleChoiceIsTop(t *testing.T) {
	p, _ := GetPreset(PresetMax)
	c, err := SelectCandidate(p, []Candidate{{Move: "a"}, {Move: "b"}}, rand.New(rand.NewSource(1)))
	if err != nil || c.Move != "a" {
		t.Fatalf("got %+v, %v", c, err)
	}
	if _, err := SelectCandidate(p, nil, rand.New(rand.NewSource(1))); err == nil {
		t.Fatalf("empty candidates must fail")
	}
}

func TestSelectCandidate_NoiseReranksNearEqualMoves(t *testing.T) {
	p := DifficultyPreset{
		Name: "t", Threads: 1, HashMB: 1, MultiPV: 3, PrimaryChoices: 3,
		CandidateWeights: []float64{1, 0, 0},
	}
	cands := []Candidate{{Move: "a"}, {Move: "b"}, {Move: "c", EvalCP: -900}}
	r := rand.New(rand.NewSource(7))

	for i := 0; i < 50; i++ {
		c, err := SelectCandidate(p, cands, r)
		if err != nil || c.Move != "a" {
			t.Fatalf("without noise the top weight must win: %+v %v", c, err)
		}
	}

	p.EvalNoise = 20
	seen := map[string]int{}
	for i := 0; i < 200; i++ {
		c, err := SelectCandidate(p, cands, r)
		if err != nil {
			t.Fatalf("SelectCandidate: %v", err)
		}
		seen[c.Move]++
	}
	if seen["a"] == 0 || seen["b"] == 0 {
		t.Fatalf("noise never swapped equal moves: %v", seen)
	}
	if seen["c"] != 0 {
		t.Fatalf("blunder promoted by small noise: %v", seen)
	}
}
