package lichess

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
)

func TestDecodeEvent_Challenge(t *testing.T) {
	line := `{"type":"challenge","challenge":{"id":"Ch4ll3ng","variant":{"key":"chess960"},"rated":true,"timeControl":{"type":"clock","limit":300,"increment":3},"challenger":{"id":"someone","name":"Someone"}}}`
	ev, err := DecodeEvent([]byte(line))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if ev.Type != EventChallenge || ev.Challenge == nil {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Challenge.ID != "Ch4ll3ng" || ev.Challenge.Variant.Key != "chess960" {
		t.Fatalf("challenge fields: %+v", ev.Challenge)
	}
	if ev.Challenge.TimeControl == nil || ev.Challenge.TimeControl.Limit != 300 || ev.Challenge.TimeControl.Increment != 3 {
		t.Fatalf("time control: %+v", ev.Challenge.TimeControl)
	}
	if ev.Challenge.Challenger.Handle() != "Someone" {
		t.Fatalf("challenger handle = %q", ev.Challenge.Challenger.Handle())
	}
}

func TestDecodeEvent_GameStart(t *testing.T) {
	line := `{"type":"gameStart","game":{"gameId":"abcd1234","color":"black","fen":"rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1","hasMoved":false,"isMyTurn":false,"lastMove":"","variant":{"key":"standard","name":"Standard"}}}`
	ev, err := DecodeEvent([]byte(line))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if ev.Game == nil || ev.Game.GameID != "abcd1234" || ev.Game.Color != Black {
		t.Fatalf("game payload: %+v", ev.Game)
	}
}

func TestDecodeEvent_GameFullCarriesState(t *testing.T) {
	full := `{"type":"gameFull","id":"abcd1234","initialFen":"startpos","white":{"id":"me"},"black":{"id":"them"},"state":{"type":"gameState","moves":"e2e4 e7e5","wtime":60000,"btime":59000,"winc":1000,"binc":1000,"status":"started"}}`
	state := `{"type":"gameState","moves":"e2e4 e7e5","wtime":60000,"btime":59000,"winc":1000,"binc":1000,"status":"started"}`

	fe, err := DecodeEvent([]byte(full))
	if err != nil {
		t.Fatalf("decode full: %v", err)
	}
	se, err := DecodeEvent([]byte(state))
	if err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if fe.Full == nil || fe.Full.White.ID != "me" {
		t.Fatalf("full payload missing: %+v", fe.Full)
	}
	if *fe.State != *se.State {
		t.Fatalf("embedded state differs: %+v vs %+v", *fe.State, *se.State)
	}
	if got := fe.State.MoveList(); len(got) != 2 || got[1] != "e7e5" {
		t.Fatalf("move list = %v", got)
	}
	if rem, inc := fe.State.Clock(Black); rem != 59000 || inc != 1000 {
		t.Fatalf("black clock = %d+%d", rem, inc)
	}
}

func TestDecodeEvent_Unknown(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"chatLine","username":"x","text":"hi"}`))
	if !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
	if ev.Type != "chatLine" {
		t.Fatalf("type should be kept for logging, got %q", ev.Type)
	}
}

func TestDecodeEvent_Malformed(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"type":"gameState","moves":`))
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	_, err = DecodeEvent([]byte(`{"type":"gameStart"}`))
	if !errors.As(err, &de) {
		t.Fatalf("expected DecodeError for missing game, got %v", err)
	}
}

func TestReadNDJSON_SkipsKeepAlive(t *testing.T) {
	body := "{\"id\":\"a\",\"username\":\"BotA\"}\n\n{\"id\":\"b\",\"username\":\"BotB\"}\n\n"
	users, err := ReadNDJSON[User](strings.NewReader(body))
	if err != nil {
		t.Fatalf("ReadNDJSON: %v", err)
	}
	if len(users) != 2 || users[1].Handle() != "BotB" {
		t.Fatalf("users = %+v", users)
	}
}

func TestGameStatus_Terminal(t *testing.T) {
	if StatusStarted.Terminal() {
		t.Fatalf("started must not be terminal")
	}
	for _, s := range []GameStatus{StatusCreated, StatusMate, StatusResign, StatusAborted, StatusOutOfTime, "somethingNew"} {
		if !s.Terminal() {
			t.Fatalf("%q should be terminal", s)
		}
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{io.EOF, true},
		{fmt.Errorf("read: %w", io.ErrUnexpectedEOF), true},
		{ErrIdleTimeout, true},
		{&net.OpError{Op: "read", Err: errors.New("connection reset")}, true},
		{&StatusError{Code: 503}, true},
		{&StatusError{Code: 429}, true},
		{&StatusError{Code: 401}, false},
		{errors.New("boom"), false},
	}
	for i, c := range cases {
		if got := IsTransient(c.err); got != c.want {
			t.Fatalf("case %d (%v): got %v want %v", i, c.err, got, c.want)
		}
	}
}
