package bot

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrAlreadyLive  = errors.New("game already has a live session")
	ErrRegistryFull = errors.New("concurrent game limit reached")
)

// Registry tracks in-flight sessions by game id. An id is present exactly while
// its task runs.
type Registry struct {
	mu    sync.Mutex
	games map[string]context.CancelFunc
	wg    sync.WaitGroup
}

func NewRegistry() *Registry {
	return &Registry{games: make(map[string]context.CancelFunc)}
}

// Start registers id and runs fn on its own goroutine with a context derived from
// parent. The entry is removed when fn returns. limit <= 0 disables the cap.
func (r *Registry) Start(parent context.Context, id string, limit int, fn func(ctx context.Context)) error {
	r.mu.Lock()
	if _, ok := r.games[id]; ok {
		r.mu.Unlock()
		return ErrAlreadyLive
	}
	if limit > 0 && len(r.games) >= limit {
		r.mu.Unlock()
		return ErrRegistryFull
	}
	ctx, cancel := context.WithCancel(parent)
	r.games[id] = cancel
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer r.remove(id)
		defer cancel()
		fn(ctx)
	}()
	return nil
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	delete(r.games, id)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.games)
}

func (r *Registry) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cancel := range r.games {
		cancel()
	}
}

// Wait blocks until every started task has returned.
func (r *Registry) Wait() {
	r.wg.Wait()
}
