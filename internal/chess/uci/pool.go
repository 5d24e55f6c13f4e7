package uci

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/park285/cheese-lichess-bot/internal/obslog"
)

var ErrPoolClosed = errors.New("engine pool closed")

type PoolConfig struct {
	BinaryPath string
	// Capacity bounds the sessions in use at once per option set. 1 gives every
	// game exclusive, sequential access to a single engine.
	Capacity int
}

// Pool hands out engine sessions keyed by their UCI options. A session is held by
// one caller between Acquire and Release.
type Pool struct {
	binaryPath string
	capacity   int

	mu     sync.Mutex
	closed bool
	groups map[Options]*group
	owner  map[*Session]*group
}

// group is the per-option-set slot semaphore plus the idle sessions behind it.
type group struct {
	opt   Options
	slots chan struct{}

	mu   sync.Mutex
	idle []*Session
}

func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.BinaryPath == "" {
		return nil, errors.New("engine binary path required")
	}
	if _, err := os.Stat(cfg.BinaryPath); err != nil {
		return nil, fmt.Errorf("engine binary: %w", err)
	}
	return &Pool{
		binaryPath: cfg.BinaryPath,
		capacity:   max(cfg.Capacity, 1),
		groups:     make(map[Options]*group),
		owner:      make(map[*Session]*group),
	}, nil
}

func (p *Pool) Capacity() int { return p.capacity }

// Acquire waits for a free slot, then reuses a healthy idle session or starts one.
func (p *Pool) Acquire(ctx context.Context, opt Options) (*Session, error) {
	g, err := p.group(opt)
	if err != nil {
		return nil, err
	}

	select {
	case g.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	for s := g.pop(); s != nil; s = g.pop() {
		if err := s.EnsureReady(ctx); err != nil {
			obslog.L().Warn("engine_session_unhealthy", zap.Any("options", opt), zap.Error(err))
			_ = s.Close()
			continue
		}
		return p.hand(s, g)
	}

	s, err := NewSession(ctx, p.binaryPath, opt)
	if err != nil {
		<-g.slots
		return nil, err
	}
	obslog.L().Debug("engine_session_started", zap.Any("options", opt))
	return p.hand(s, g)
}

// Release returns a session. A non-nil err closes the process instead of keeping it.
func (p *Pool) Release(s *Session, err error) {
	if s == nil {
		return
	}
	p.mu.Lock()
	g, ok := p.owner[s]
	delete(p.owner, s)
	closed := p.closed
	p.mu.Unlock()

	if !ok {
		_ = s.Close()
		return
	}
	defer func() { <-g.slots }()

	if err != nil {
		obslog.L().Warn("engine_session_discarded", zap.Any("options", g.opt), zap.Error(err))
		_ = s.Close()
		return
	}
	if closed {
		_ = s.Close()
		return
	}
	g.push(s)
}

// Warm starts (or reuses) one session for opt and returns it to the pool.
func (p *Pool) Warm(ctx context.Context, opt Options) error {
	s, err := p.Acquire(ctx, opt)
	if err != nil {
		return err
	}
	p.Release(s, nil)
	return nil
}

// Close stops idle sessions. Sessions still in use are closed on Release.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	groups := make([]*group, 0, len(p.groups))
	for _, g := range p.groups {
		groups = append(groups, g)
	}
	p.mu.Unlock()

	var errs []error
	for _, g := range groups {
		for s := g.pop(); s != nil; s = g.pop() {
			if err := s.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (p *Pool) group(opt Options) (*group, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	g, ok := p.groups[opt]
	if !ok {
		g = &group{opt: opt, slots: make(chan struct{}, p.capacity)}
		p.groups[opt] = g
	}
	return g, nil
}

func (p *Pool) hand(s *Session, g *group) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		<-g.slots
		_ = s.Close()
		return nil, ErrPoolClosed
	}
	p.owner[s] = g
	return s, nil
}

func (g *group) pop() *Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := len(g.idle)
	if n == 0 {
		return nil
	}
	s := g.idle[n-1]
	g.idle = g.idle[:n-1]
	return s
}

func (g *group) push(s *Session) {
	g.mu.Lock()
	g.idle = append(g.idle, s)
	g.mu.Unlock()
}
