package chess

import (
	"errors"
	"strings"
	"testing"
)

func TestMirror_PushAndLast(t *testing.T) {
	m := NewMirror()
	for _, mv := range []string{"e2e4", "e7e5", "g1f3"} {
		if err := m.Push(mv); err != nil {
			t.Fatalf("Push(%s): %v", mv, err)
		}
	}
	if m.Len() != 3 || m.last() != "g1f3" || m.WhiteToMove() {
		t.Fatalf("len=%d last=%s whiteToMove=%v", m.Len(), m.last(), m.WhiteToMove())
	}
	if !strings.HasPrefix(m.FEN(), "rnbqkbnr/pppp1ppp/8/4p3/4P3/5N2/PPPP1PPP/RNBQKB1R b") {
		t.Fatalf("fen = %s", m.FEN())
	}
}

func TestMirror_RejectsIllegal(t *testing.T) {
	m := NewMirror()
	if err := m.Push("e2e5"); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("expected ErrIllegalMove, got %v", err)
	}
	if m.Len() != 0 {
		t.Fatalf("rejected move must not be recorded")
	}
}

func TestMirror_RebuildKeepsOldOnFailure(t *testing.T) {
	m := NewMirror()
	if err := m.Rebuild([]string{"d2d4", "d7d5"}); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if err := m.Rebuild([]string{"e2e4", "e2e4"}); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("expected replay failure, got %v", err)
	}
	if !m.Equal([]string{"d2d4", "d7d5"}) {
		t.Fatalf("mirror changed after failed rebuild: %v", m.Moves())
	}
}

func TestMirror_CastlingAndPromotionTokens(t *testing.T) {
	m := NewMirror()
	line := strings.Fields("e2e4 e7e5 g1f3 b8c6 f1c4 g8f6 e1g1")
	if err := m.Rebuild(line); err != nil {
		t.Fatalf("castling line: %v", err)
	}
	promo := strings.Fields("a2a4 h7h5 a4a5 h5h4 a5a6 h4h3 a6b7 h3g2 b7a8q g2h1q")
	if err := m.Rebuild(promo); err != nil {
		t.Fatalf("promotion line: %v", err)
	}
	if m.last() != "g2h1q" {
		t.Fatalf("last = %s", m.last())
	}
}

func (m *Mirror) last() string {
	if len(m.moves) == 0 {
		return ""
	}
	return m.moves[len(m.moves)-1]
}
