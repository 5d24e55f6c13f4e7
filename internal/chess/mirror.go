package chess

import (
	"errors"
	"fmt"
	"strings"

	chesslib "github.com/corentings/chess/v2"
)

var ErrIllegalMove = errors.New("illegal move")

// Mirror is a local copy of a game's position, rebuilt from the server move list
// whenever the two disagree.
type Mirror struct {
	game  *chesslib.Game
	moves []string
}

func NewMirror() *Mirror {
	return &Mirror{game: chesslib.NewGame()}
}

// Push applies one UCI move. The mirror is unchanged when the move is rejected.
func (m *Mirror) Push(uci string) error {
	mv := strings.ToLower(strings.TrimSpace(uci))
	if mv == "" {
		return fmt.Errorf("%w: empty move", ErrIllegalMove)
	}
	if err := m.game.PushNotationMove(mv, chesslib.UCINotation{}, nil); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrIllegalMove, mv, err)
	}
	m.moves = append(m.moves, mv)
	return nil
}

// Rebuild discards the position and replays moves from the start. On failure the
// previous position is kept.
func (m *Mirror) Rebuild(moves []string) error {
	fresh := NewMirror()
	for i, mv := range moves {
		if err := fresh.Push(mv); err != nil {
			return fmt.Errorf("replay ply %d: %w", i+1, err)
		}
	}
	*m = *fresh
	return nil
}

func (m *Mirror) Len() int { return len(m.moves) }


func (m *Mirror) Moves() []string {
	return append([]string(nil), m.moves...)
}

func (m *Mirror) FEN() string { return m.game.FEN() }

// Equal reports whether the mirror holds exactly the given move list.
func (m *Mirror) Equal(moves []string) bool {
	if len(moves) != len(m.moves) {
		return false
	}
	for i := range moves {
		if !strings.EqualFold(moves[i], m.moves[i]) {
			return false
		}
	}
	return true
}

// WhiteToMove is derived from the applied-move count.
func (m *Mirror) WhiteToMove() bool { return len(m.moves)%2 == 0 }
