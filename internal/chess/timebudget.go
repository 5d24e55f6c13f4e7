package chess

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// minMoveTime is the floor applied when a budget is handed to an engine.
const minMoveTime = 10 * time.Millisecond

// Jitter draws a uniform integer in [-r, r].
type Jitter interface {
	Draw(r int) int
}

// RandJitter is a Jitter backed by math/rand, safe for concurrent sessions.
type RandJitter struct {
	mu sync.Mutex
	r  *rand.Rand
}

func NewRandJitter(seed int64) *RandJitter {
	return &RandJitter{r: rand.New(rand.NewSource(seed))}
}

func (j *RandJitter) Draw(r int) int {
	if r <= 0 {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.r.Intn(2*r+1) - r
}

// BaseBudget is the think time before jitter. The clock is scaled by 1/100000 on
// purpose; the increment is plain seconds.
func BaseBudget(remainingMs, incrementMs int64) float64 {
	clock := float64(remainingMs) / 100000
	inc := float64(incrementMs) / 1000
	if clock < inc {
		return clock
	}
	t := clock + inc
	if t < 1.5 {
		return 0.1
	}
	if t > 12 {
		return 12
	}
	return t
}

// Budget returns the think time in seconds for one move. A nil Jitter draws 0.
func Budget(remainingMs, incrementMs int64, j Jitter) float64 {
	t := BaseBudget(remainingMs, incrementMs)
	r := int(math.Floor(t * 2))
	draw := 0
	if j != nil && r > 0 {
		draw = j.Draw(r)
	}
	return (t + float64(draw)) / 10
}

// BudgetDuration converts a budget to a duration, never below minMoveTime.
func BudgetDuration(seconds float64) time.Duration {
	d := time.Duration(seconds * float64(time.Second))
	if d < minMoveTime {
		return minMoveTime
	}
	return d
}
