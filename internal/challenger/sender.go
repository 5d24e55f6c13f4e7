// Package challenger periodically challenges a random online bot.
package challenger

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-lichess-bot/internal/lichess"
	"github.com/park285/cheese-lichess-bot/internal/store"
)

const (
	defaultInterval    = 5 * time.Minute
	defaultCooldown    = time.Hour
	defaultOnlineFetch = 50
)

type API interface {
	Account(ctx context.Context) (*lichess.Account, error)
	OnlineBots(ctx context.Context, nb int) ([]lichess.User, error)
	CreateChallenge(ctx context.Context, username string, req lichess.ChallengeRequest) error
}

// Live reports how many games are in flight.
type Live interface {
	Len() int
}

type Clock struct {
	Minutes   int
	Increment int
}

type Options struct {
	Interval time.Duration
	Rated    bool
	Cooldown time.Duration
	Clocks   []Clock
	// MaxGames <= 0 disables the capacity check.
	MaxGames int
	Seed     int64
}

type Sender struct {
	api      API
	cooldown store.Cooldown
	live     Live
	opts     Options
	logger   *zap.Logger

	mu   sync.Mutex
	rand *rand.Rand
	self string
}

var ErrNoClocks = errors.New("no challenge clocks configured")

func New(api API, cooldown store.Cooldown, live Live, opts Options, logger *zap.Logger) (*Sender, error) {
	if len(opts.Clocks) == 0 {
		return nil, ErrNoClocks
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = defaultCooldown
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	if cooldown == nil {
		cooldown = store.NewMemoryCooldown()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		api:      api,
		cooldown: cooldown,
		live:     live,
		opts:     opts,
		logger:   logger.Named("challenger"),
		rand:     rand.New(rand.NewSource(opts.Seed)),
	}, nil
}

// Run ticks once right away, then every Interval until ctx ends. Tick failures
// are logged and never stop the loop.
func (s *Sender) Run(ctx context.Context) error {
	s.logger.Info("challenger_started", zap.Duration("interval", s.opts.Interval))
	t := time.NewTicker(s.opts.Interval)
	defer t.Stop()
	for {
		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("challenge_tick_failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Tick challenges at most one bot and returns its name, or "" when nothing was sent.
func (s *Sender) Tick(ctx context.Context) (string, error) {
	if s.live != nil && s.opts.MaxGames > 0 && s.live.Len() >= s.opts.MaxGames {
		s.logger.Debug("challenge_skipped_busy", zap.Int("live", s.live.Len()))
		return "", nil
	}

	self, err := s.account(ctx)
	if err != nil {
		return "", err
	}
	bots, err := s.api.OnlineBots(ctx, defaultOnlineFetch)
	if err != nil {
		return "", fmt.Errorf("online bots: %w", err)
	}

	for _, name := range s.shuffled(bots, self) {
		ok, err := s.cooldown.Acquire(ctx, name, s.opts.Cooldown)
		if err != nil {
			return "", err
		}
		if !ok {
			continue
		}
		req := s.pickRequest()
		if err := s.api.CreateChallenge(ctx, name, req); err != nil {
			return "", fmt.Errorf("challenge %s: %w", name, err)
		}
		s.logger.Info("challenge_sent",
			zap.String("opponent", name),
			zap.Int("clock_limit", req.ClockLimit),
			zap.Int("clock_increment", req.ClockIncrement),
			zap.Bool("rated", req.Rated))
		return name, nil
	}
	s.logger.Debug("challenge_no_candidate", zap.Int("online", len(bots)))
	return "", nil
}

func (s *Sender) account(ctx context.Context) (string, error) {
	s.mu.Lock()
	cached := s.self
	s.mu.Unlock()
	if cached != "" {
		return cached, nil
	}
	acc, err := s.api.Account(ctx)
	if err != nil {
		return "", fmt.Errorf("account: %w", err)
	}
	name := strings.ToLower(acc.Username)
	if name == "" {
		name = strings.ToLower(acc.ID)
	}
	s.mu.Lock()
	s.self = name
	s.mu.Unlock()
	return name, nil
}

// shuffled drops ourselves and returns the remaining handles in random order.
func (s *Sender) shuffled(bots []lichess.User, self string) []string {
	names := make([]string, 0, len(bots))
	for _, b := range bots {
		h := b.Handle()
		if h == "" || strings.EqualFold(h, self) || strings.EqualFold(b.ID, self) {
			continue
		}
		names = append(names, h)
	}
	s.mu.Lock()
	s.rand.Shuffle(len(names), func(i, j int) { names[i], names[j] = names[j], names[i] })
	s.mu.Unlock()
	return names
}

func (s *Sender) pickRequest() lichess.ChallengeRequest {
	s.mu.Lock()
	c := s.opts.Clocks[s.rand.Intn(len(s.opts.Clocks))]
	s.mu.Unlock()
	return lichess.ChallengeRequest{
		Rated:          s.opts.Rated,
		ClockLimit:     c.Minutes * 60,
		ClockIncrement: c.Increment,
	}
}
