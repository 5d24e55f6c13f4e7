package openingbook

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	chesslib "github.com/corentings/chess/v2"
)

// Result is one book move in UCI notation.
type Result struct {
	Move   string
	Weight uint16
}

// Book wraps a polyglot book. A nil *Book is an empty book.
type Book struct {
	path string
	pg   *chesslib.PolyglotBook
}

// Open loads the polyglot file at path.
func Open(path string) (*Book, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("polyglot book path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open polyglot book %q: %w", path, err)
	}
	defer file.Close()

	pg, err := chesslib.LoadFromReader(file)
	if err != nil {
		return nil, fmt.Errorf("load polyglot book %q: %w", path, err)
	}
	return &Book{path: path, pg: pg}, nil
}

// OpenDefault resolves the configured or bundled book. It returns (nil, nil) when
// no book is available.
func OpenDefault() (*Book, error) {
	path, err := ResolveBookPath()
	if err != nil || path == "" {
		return nil, err
	}
	return Open(path)
}

func (b *Book) Path() string {
	if b == nil {
		return ""
	}
	return b.path
}

// Lookup returns every legal book move for the position reached by moves from the
// start position, heaviest first. Either side may be to move.
func (b *Book) Lookup(moves []string) ([]Result, error) {
	if b == nil || b.pg == nil {
		return nil, nil
	}

	game, err := replay(moves)
	if err != nil {
		return nil, err
	}

	hashStr, err := chesslib.NewZobristHasher().HashPosition(game.FEN())
	if err != nil {
		return nil, fmt.Errorf("compute polyglot hash: %w", err)
	}
	entries := b.pg.FindMoves(chesslib.ZobristHashToUint64(hashStr))
	if len(entries) == 0 {
		return nil, nil
	}

	out := make([]Result, 0, len(entries))
	for _, entry := range entries {
		mv := chesslib.DecodeMove(entry.Move).ToMove()
		uciMove := mv.String()
		// 책 파일이 잘못된 수를 담고 있을 수 있음
		trial := game.Clone()
		if err := trial.PushNotationMove(uciMove, chesslib.UCINotation{}, nil); err != nil {
			continue
		}
		out = append(out, Result{Move: uciMove, Weight: entry.Weight})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Weight > out[j].Weight })
	return out, nil
}

// Pick draws one result with probability proportional to its weight. Zero total
// weight falls back to the first entry.
func Pick(results []Result, r *rand.Rand) (Result, bool) {
	if len(results) == 0 {
		return Result{}, false
	}
	total := 0
	for _, res := range results {
		total += int(res.Weight)
	}
	if total <= 0 || r == nil {
		return results[0], true
	}
	roll := r.Intn(total)
	for _, res := range results {
		roll -= int(res.Weight)
		if roll < 0 {
			return res, true
		}
	}
	return results[len(results)-1], true
}

func ResolveBookPath() (string, error) {
	if envPath := os.Getenv("CHESS_POLYGLOT_BOOK_PATH"); envPath != "" {
		if exists(envPath) {
			return envPath, nil
		}
		return "", fmt.Errorf("env CHESS_POLYGLOT_BOOK_PATH points to missing file: %s", envPath)
	}
	for _, candidate := range defaultBookPaths() {
		if exists(candidate) {
			return candidate, nil
		}
	}
	return "", nil
}

func defaultBookPaths() []string {
	return []string{
		filepath.Join("resources", "opening", "book.bin"),
		filepath.Join("resources", "opening", "Cerebellum3Merge.bin"),
	}
}

func exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func replay(moves []string) (*chesslib.Game, error) {
	game := chesslib.NewGame()
	for _, mv := range moves {
		if err := game.PushNotationMove(mv, chesslib.UCINotation{}, nil); err != nil {
			return nil, fmt.Errorf("apply move %q: %w", mv, err)
		}
	}
	return game, nil
}
