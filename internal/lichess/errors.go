package lichess

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// ErrIdleTimeout is returned when a stream produced no line, keep-alives included,
// within the configured idle window.
var ErrIdleTimeout = errors.New("stream idle timeout")

// StatusError is a non-2xx answer from lichess.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
	// RetryAfter is the server's Retry-After hint, zero when absent.
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("lichess api error: %s %s status=%d body=%s", e.Method, e.Path, e.Code, e.Body)
}

// IsRejection reports whether err is a non-2xx response.
func IsRejection(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// IsTransient reports whether a stream failure should be handled by reconnecting.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrIdleTimeout) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == 429 || se.Code >= 500
	}
	var ne net.Error
	return errors.As(err, &ne)
}
