package lichess

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const maxLineBytes = 1 << 20

var ErrUnknownEvent = errors.New("unknown event type")

// DecodeError wraps a malformed stream line.
type DecodeError struct {
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode event: %v (line=%s)", e.Err, truncate(e.Line, 200))
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsKeepAlive reports whether a stream line is a blank keep-alive.
func IsKeepAlive(line []byte) bool {
	return len(bytes.TrimSpace(line)) == 0
}

// NewScanner splits an NDJSON body on newlines.
func NewScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return sc
}

// DecodeEvent parses one non-blank line into an Event.
func DecodeEvent(line []byte) (Event, error) {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(line, &head); err != nil {
		return Event{}, &DecodeError{Line: string(line), Err: err}
	}

	ev := Event{Type: head.Type}
	switch head.Type {
	case EventGameStart, EventGameFinish:
		var body struct {
			Game *GameInfo `json:"game"`
		}
		if err := json.Unmarshal(line, &body); err != nil {
			return Event{}, &DecodeError{Line: string(line), Err: err}
		}
		if body.Game == nil {
			return Event{}, &DecodeError{Line: string(line), Err: errors.New("missing game")}
		}
		ev.Game = body.Game

	case EventChallenge, EventChallengeCanceled, EventChallengeDeclined:
		var body struct {
			Challenge *Challenge `json:"challenge"`
		}
		if err := json.Unmarshal(line, &body); err != nil {
			return Event{}, &DecodeError{Line: string(line), Err: err}
		}
		if body.Challenge == nil {
			return Event{}, &DecodeError{Line: string(line), Err: errors.New("missing challenge")}
		}
		ev.Challenge = body.Challenge

	case EventGameState:
		var st GameState
		if err := json.Unmarshal(line, &st); err != nil {
			return Event{}, &DecodeError{Line: string(line), Err: err}
		}
		ev.State = &st

	case EventGameFull:
		var full GameFull
		if err := json.Unmarshal(line, &full); err != nil {
			return Event{}, &DecodeError{Line: string(line), Err: err}
		}
		ev.Full = &full
		st := full.State
		ev.State = &st

	default:
		return Event{Type: head.Type}, fmt.Errorf("%w: %q", ErrUnknownEvent, head.Type)
	}
	return ev, nil
}

// ReadNDJSON decodes every non-blank line of r into a T.
func ReadNDJSON[T any](r io.Reader) ([]T, error) {
	sc := NewScanner(r)
	var out []T
	for sc.Scan() {
		line := sc.Bytes()
		if IsKeepAlive(line) {
			continue
		}
		var v T
		if err := json.Unmarshal(line, &v); err != nil {
			return out, &DecodeError{Line: string(line), Err: err}
		}
		out = append(out, v)
	}
	return out, sc.Err()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
