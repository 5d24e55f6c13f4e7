package uci

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-lichess-bot/internal/obslog"
)

const (
	handshakeTimeout = 4 * time.Second
	readyAttempts    = 3
	readyRetryDelay  = 150 * time.Millisecond
	searchGrace      = 2 * time.Second
	moveOverheadMS   = 100
	mateScoreCP      = 30000
)

var errEngineExited = errors.New("engine process exited")

type Options struct {
	Threads    int
	SkillLevel int
	HashMB     int
	MultiPV    int
	// Elo > 0 enables UCI_LimitStrength.
	Elo int
}

// Limits for one "go" command. Clock fields are milliseconds and optional.
type Limits struct {
	Depth          int
	MoveTimeMillis int
	NodeCap        int

	WTimeMillis int64
	BTimeMillis int64
	WIncMillis  int64
	BIncMillis  int64
}

type Candidate struct {
	Move      string
	EvalCP    int
	Principal []string
}

type SearchRequest struct {
	// FEN of the root position; empty or "startpos" means the initial position.
	FEN    string
	Moves  []string
	Limits Limits
}

type SearchResponse struct {
	Candidates []Candidate
	BestMove   string
}

// Session is one engine subprocess speaking UCI over stdin/stdout. A single
// goroutine owns stdout and feeds lines, so a timed-out read never loses output.
type Session struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan string

	writeMu  sync.Mutex
	searchMu sync.Mutex

	// set before lines is closed
	readErr error
}

func NewSession(ctx context.Context, binaryPath string, opt Options) (*Session, error) {
	if err := validateOptions(opt); err != nil {
		return nil, err
	}

	// 프로세스는 요청보다 오래 살아야 하므로 ctx에 묶지 않음
	cmd := exec.Command(binaryPath)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("engine stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("engine stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("start engine %q: %w", binaryPath, err)
	}

	s := &Session{cmd: cmd, stdin: stdin, lines: make(chan string, 64)}
	go s.pump(stdout)

	if err := s.handshake(ctx, opt); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) pump(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		s.lines <- strings.TrimSpace(sc.Text())
	}
	s.readErr = sc.Err()
	if s.readErr == nil {
		s.readErr = errEngineExited
	}
	close(s.lines)
}

// Search runs one position/go exchange and returns once bestmove arrives.
func (s *Session) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	s.searchMu.Lock()
	defer s.searchMu.Unlock()

	goTokens, err := buildGoTokens(req.Limits)
	if err != nil {
		return SearchResponse{}, err
	}
	position := buildPositionCommand(req.FEN, req.Moves)
	goCmd := strings.Join(goTokens, " ")
	if err := s.send(position, goCmd+"\n"); err != nil {
		return SearchResponse{}, fmt.Errorf("send search: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, computeSearchTimeout(req.Limits))
	defer cancel()

	byRank := make(map[int]Candidate)
	for {
		line, err := s.next(ctx)
		if err != nil {
			obslog.L().Warn("uci_search_read_failed",
				zap.String("position", strings.TrimSpace(position)),
				zap.String("go", goCmd),
				zap.Error(err))
			return SearchResponse{}, fmt.Errorf("read search output: %w", err)
		}

		if rest, ok := strings.CutPrefix(line, "bestmove"); ok {
			best, _, _ := strings.Cut(strings.TrimSpace(rest), " ")
			return SearchResponse{Candidates: collapseCandidates(byRank), BestMove: best}, nil
		}
		if strings.HasPrefix(line, "info ") {
			if rank, cand, ok := parseInfo(line); ok {
				byRank[rank] = cand
			}
		}
	}
}

// EnsureReady pings the engine with isready.
func (s *Session) EnsureReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()
	if err := s.send("isready\n"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	return s.await(ctx, "readyok")
}

// NewGame clears engine state between games. The readiness check is retried a
// few times because some builds are slow to answer right after ucinewgame.
func (s *Session) NewGame(ctx context.Context) error {
	if err := s.send("ucinewgame\n"); err != nil {
		return fmt.Errorf("send ucinewgame: %w", err)
	}
	var err error
	for attempt := 1; attempt <= readyAttempts; attempt++ {
		if err = s.EnsureReady(ctx); err == nil {
			return nil
		}
		obslog.L().Debug("uci_ready_retry", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readyRetryDelay):
		}
	}
	return err
}

func (s *Session) Close() error {
	s.writeMu.Lock()
	if s.stdin != nil {
		_, _ = io.WriteString(s.stdin, "quit\n")
		_ = s.stdin.Close()
		s.stdin = nil
	}
	s.writeMu.Unlock()

	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}
	_ = s.cmd.Process.Kill()
	err := s.cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// killed on purpose
		return nil
	}
	return err
}

func (s *Session) handshake(ctx context.Context, opt Options) error {
	ctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	if err := s.send("uci\n"); err != nil {
		return fmt.Errorf("send uci: %w", err)
	}
	if err := s.await(ctx, "uciok"); err != nil {
		return err
	}
	if err := s.send(append(optionCommands(opt), "isready\n")...); err != nil {
		return fmt.Errorf("apply options: %w", err)
	}
	return s.await(ctx, "readyok")
}

func (s *Session) send(msgs ...string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.stdin == nil {
		return errEngineExited
	}
	for _, m := range msgs {
		if _, err := io.WriteString(s.stdin, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) await(ctx context.Context, token string) error {
	for {
		line, err := s.next(ctx)
		if err != nil {
			return fmt.Errorf("wait %s: %w", token, err)
		}
		if line == token {
			return nil
		}
	}
}

func (s *Session) next(ctx context.Context) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case line, ok := <-s.lines:
			if !ok {
				return "", s.readErr
			}
			if line != "" {
				return line, nil
			}
		}
	}
}

func validateOptions(opt Options) error {
	switch {
	case opt.SkillLevel < 0 || opt.SkillLevel > 20:
		return fmt.Errorf("skill level %d out of range 0-20", opt.SkillLevel)
	case opt.HashMB <= 0:
		return fmt.Errorf("hash size must be > 0: %d", opt.HashMB)
	case opt.MultiPV <= 0:
		return fmt.Errorf("multipv must be > 0: %d", opt.MultiPV)
	case opt.Elo < 0:
		return fmt.Errorf("elo must be >= 0: %d", opt.Elo)
	}
	return nil
}

func optionCommands(opt Options) []string {
	threads := max(opt.Threads, 1)
	settings := [][2]any{
		{"Threads", threads},
		{"Hash", opt.HashMB},
		{"Skill Level", opt.SkillLevel},
		{"MultiPV", opt.MultiPV},
		{"Move Overhead", moveOverheadMS},
		{"UCI_LimitStrength", opt.Elo > 0},
	}
	if opt.Elo > 0 {
		settings = append(settings, [2]any{"UCI_Elo", opt.Elo})
	}
	cmds := make([]string, 0, len(settings))
	for _, kv := range settings {
		cmds = append(cmds, fmt.Sprintf("setoption name %s value %v\n", kv[0], kv[1]))
	}
	return cmds
}

func buildPositionCommand(fen string, moves []string) string {
	root := "startpos"
	if f := strings.TrimSpace(fen); f != "" && f != "startpos" {
		root = "fen " + f
	}
	if len(moves) == 0 {
		return "position " + root + "\n"
	}
	return "position " + root + " moves " + strings.Join(moves, " ") + "\n"
}

// buildGoTokens keeps the clock first so the engine's own time manager sees it,
// then the hard caps.
func buildGoTokens(l Limits) ([]string, error) {
	tokens := []string{"go"}
	if l.WTimeMillis > 0 || l.BTimeMillis > 0 {
		for _, kv := range []struct {
			name string
			v    int64
		}{{"wtime", l.WTimeMillis}, {"btime", l.BTimeMillis}, {"winc", l.WIncMillis}, {"binc", l.BIncMillis}} {
			tokens = append(tokens, kv.name, strconv.FormatInt(kv.v, 10))
		}
	}
	for _, kv := range []struct {
		name string
		v    int
	}{{"depth", l.Depth}, {"movetime", l.MoveTimeMillis}, {"nodes", l.NodeCap}} {
		if kv.v > 0 {
			tokens = append(tokens, kv.name, strconv.Itoa(kv.v))
		}
	}
	if len(tokens) == 1 {
		return nil, errors.New("no search limits specified")
	}
	return tokens, nil
}

// computeSearchTimeout is the wall-clock guard around one search.
func computeSearchTimeout(l Limits) time.Duration {
	switch {
	case l.MoveTimeMillis > 0:
		return 3*time.Duration(l.MoveTimeMillis)*time.Millisecond + searchGrace
	case l.Depth > 0:
		return min(max(time.Duration(l.Depth)*300*time.Millisecond, 6*time.Second), 20*time.Second)
	default:
		return 6 * time.Second
	}
}

// parseInfo extracts (multipv rank, candidate) from an info line carrying a pv.
// Mate scores map to ±mateScoreCP.
func parseInfo(line string) (int, Candidate, bool) {
	fields := strings.Fields(line)
	rank, score := 1, 0
	for i := 0; i < len(fields); i++ {
		switch fields[i] {
		case "multipv":
			if i+1 < len(fields) {
				if v, err := strconv.Atoi(fields[i+1]); err == nil {
					rank = v
				}
				i++
			}
		case "score":
			if i+2 >= len(fields) {
				continue
			}
			kind, raw := fields[i+1], fields[i+2]
			i += 2
			v, err := strconv.Atoi(raw)
			if err != nil {
				continue
			}
			switch {
			case kind == "cp":
				score = v
			case kind == "mate" && v >= 0:
				score = mateScoreCP
			case kind == "mate":
				score = -mateScoreCP
			}
		case "pv":
			pv := fields[i+1:]
			if len(pv) == 0 {
				return 0, Candidate{}, false
			}
			return rank, Candidate{Move: pv[0], EvalCP: score, Principal: append([]string(nil), pv...)}, true
		}
	}
	return 0, Candidate{}, false
}

func collapseCandidates(byRank map[int]Candidate) []Candidate {
	if len(byRank) == 0 {
		return nil
	}
	ranks := make([]int, 0, len(byRank))
	for r := range byRank {
		ranks = append(ranks, r)
	}
	sort.Ints(ranks)
	out := make([]Candidate, len(ranks))
	for i, r := range ranks {
		out[i] = byRank[r]
	}
	return out
}
