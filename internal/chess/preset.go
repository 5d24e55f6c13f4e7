package chess

import (
	"fmt"
	"strings"

	"github.com/park285/cheese-lichess-bot/internal/chess/uci"
)

// DifficultyPreset configures the engine process and how its candidates are used.
// The clock-derived movetime always bounds the search; DepthCap and NodeCap only
// tighten it.
type DifficultyPreset struct {
	Name             string
	SkillLevel       int
	Threads          int
	HashMB           int
	DepthCap         int
	NodeCap          int
	MultiPV          int
	PrimaryChoices   int
	CandidateWeights []float64
	EvalNoise        int
	Elo              int
}

const (
	PresetMax      = "max"
	defaultThreads = 2
)

var presets = map[string]DifficultyPreset{
	PresetMax: {
		Name:             PresetMax,
		SkillLevel:       20,
		Threads:          defaultThreads,
		HashMB:           128,
		MultiPV:          1,
		PrimaryChoices:   1,
		CandidateWeights: []float64{1.0},
	},
	"level1": {
		Name: "level1", SkillLevel: 0, Threads: 1, HashMB: 16, DepthCap: 5,
		MultiPV: 5, PrimaryChoices: 3, CandidateWeights: []float64{0.5, 0.3, 0.2},
		EvalNoise: 80, Elo: 1350,
	},
	"level2": {
		Name: "level2", SkillLevel: 0, Threads: 1, HashMB: 16, DepthCap: 6,
		MultiPV: 5, PrimaryChoices: 3, CandidateWeights: []float64{0.6, 0.3, 0.1},
		EvalNoise: 60, Elo: 1400,
	},
	"level3": {
		Name: "level3", SkillLevel: 1, Threads: 1, HashMB: 24, DepthCap: 8,
		MultiPV: 5, PrimaryChoices: 3, CandidateWeights: []float64{0.7, 0.2, 0.1},
		EvalNoise: 45, Elo: 1500,
	},
	"level4": {
		Name: "level4", SkillLevel: 3, Threads: defaultThreads, HashMB: 32, DepthCap: 10,
		MultiPV: 5, PrimaryChoices: 3, CandidateWeights: []float64{0.65, 0.25, 0.1},
		EvalNoise: 30, Elo: 1650,
	},
	"level5": {
		Name: "level5", SkillLevel: 7, Threads: defaultThreads, HashMB: 48, DepthCap: 12,
		MultiPV: 3, PrimaryChoices: 3, CandidateWeights: []float64{0.7, 0.2, 0.1},
		EvalNoise: 25, Elo: 1800,
	},
	"level6": {
		Name: "level6", SkillLevel: 11, Threads: defaultThreads, HashMB: 64, DepthCap: 16,
		MultiPV: 2, PrimaryChoices: 2, CandidateWeights: []float64{0.8, 0.2},
		EvalNoise: 10, Elo: 2000,
	},
	"level7": {
		Name: "level7", SkillLevel: 16, Threads: defaultThreads, HashMB: 96, DepthCap: 20,
		MultiPV: 2, PrimaryChoices: 2, CandidateWeights: []float64{0.85, 0.15},
		EvalNoise: 5, Elo: 2300,
	},
	"level8": {
		Name: "level8", SkillLevel: 20, Threads: 4, HashMB: 128,
		MultiPV: 1, PrimaryChoices: 1, CandidateWeights: []float64{1.0},
	},
}

// GetPreset resolves a preset name. Empty means PresetMax.
func GetPreset(name string) (DifficultyPreset, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	switch key {
	case "":
		key = PresetMax
	case "beginner":
		key = "level1"
	case "intermediate":
		key = "level5"
	case "advanced":
		key = "level7"
	case "master":
		key = "level8"
	}
	p, ok := presets[key]
	if !ok {
		return DifficultyPreset{}, fmt.Errorf("unknown engine preset: %s", name)
	}
	p.CandidateWeights = append([]float64(nil), p.CandidateWeights...)
	return p, nil
}

func ValidatePreset(p DifficultyPreset) error {
	switch {
	case p.SkillLevel < 0 || p.SkillLevel > 20:
		return fmt.Errorf("skill level %d out of range 0-20", p.SkillLevel)
	case p.Threads <= 0:
		return fmt.Errorf("threads must be > 0: %d", p.Threads)
	case p.HashMB <= 0:
		return fmt.Errorf("hash size must be > 0: %d", p.HashMB)
	case p.MultiPV <= 0:
		return fmt.Errorf("multipv must be > 0: %d", p.MultiPV)
	case p.PrimaryChoices <= 0:
		return fmt.Errorf("primary choices must be > 0: %d", p.PrimaryChoices)
	case p.PrimaryChoices > p.MultiPV:
		return fmt.Errorf("primary choices (%d) must not exceed multipv (%d)", p.PrimaryChoices, p.MultiPV)
	case len(p.CandidateWeights) < p.PrimaryChoices:
		return fmt.Errorf("candidate weights (%d) must cover primary choices (%d)", len(p.CandidateWeights), p.PrimaryChoices)
	case p.DepthCap < 0 || p.NodeCap < 0:
		return fmt.Errorf("depth/node caps must be >= 0")
	case p.EvalNoise < 0:
		return fmt.Errorf("eval noise must be >= 0: %d", p.EvalNoise)
	case p.Elo < 0:
		return fmt.Errorf("elo must be >= 0: %d", p.Elo)
	}

	sum := 0.0
	for i := 0; i < p.PrimaryChoices; i++ {
		w := p.CandidateWeights[i]
		if w < 0 {
			return fmt.Errorf("candidate weight at index %d is negative: %f", i, w)
		}
		sum += w
	}
	if sum == 0 {
		return fmt.Errorf("candidate weights sum to zero")
	}
	return nil
}

func (p DifficultyPreset) options() uci.Options {
	return uci.Options{
		Threads:    p.Threads,
		SkillLevel: p.SkillLevel,
		HashMB:     p.HashMB,
		MultiPV:    p.MultiPV,
		Elo:        p.Elo,
	}
}
