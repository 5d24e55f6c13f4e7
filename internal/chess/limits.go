package chess

import (
	"time"

	"github.com/park285/cheese-lichess-bot/internal/chess/uci"
)

// Clock is the game clock as reported by the server, in milliseconds.
type Clock struct {
	WTime int64
	BTime int64
	WInc  int64
	BInc  int64
}

// searchLimits bounds one search. movetime is the think budget; the clock is passed
// along so the engine never overruns it, and the preset caps only tighten.
func searchLimits(p DifficultyPreset, budget time.Duration, clock Clock) uci.Limits {
	if budget < minMoveTime {
		budget = minMoveTime
	}
	return uci.Limits{
		MoveTimeMillis: int(budget / time.Millisecond),
		Depth:          p.DepthCap,
		NodeCap:        p.NodeCap,
		WTimeMillis:    clock.WTime,
		BTimeMillis:    clock.BTime,
		WIncMillis:     clock.WInc,
		BIncMillis:     clock.BInc,
	}
}
