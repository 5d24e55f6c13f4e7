package chess

import (
	"errors"
	"math/rand"
	"sort"
)

type Candidate struct {
	Move      string
	EvalCP    int
	Principal []string
}

// SelectCandidate draws one of the preset's primary candidates so weaker presets
// do not always play the top line. Candidates arrive in MultiPV order; with
// EvalNoise each eval is jittered and the primaries re-ranked before the draw, so
// near-equal moves swap places while clear blunders stay at the back.
func SelectCandidate(p DifficultyPreset, candidates []Candidate, r *rand.Rand) (Candidate, error) {
	if len(candidates) == 0 {
		return Candidate{}, errors.New("no candidates to choose from")
	}
	if err := ValidatePreset(p); err != nil {
		return Candidate{}, err
	}

	pool := append([]Candidate(nil), candidates[:min(p.PrimaryChoices, len(candidates))]...)
	if len(pool) == 1 {
		return pool[0], nil
	}

	if p.EvalNoise > 0 {
		for i := range pool {
			pool[i].EvalCP += r.Intn(2*p.EvalNoise+1) - p.EvalNoise
		}
		sort.SliceStable(pool, func(i, j int) bool { return pool[i].EvalCP > pool[j].EvalCP })
	}

	cumulative := make([]float64, len(pool))
	sum := 0.0
	for i := range pool {
		sum += p.CandidateWeights[i]
		cumulative[i] = sum
	}
	roll := r.Float64() * sum
	idx := sort.SearchFloat64s(cumulative, roll)
	if idx >= len(pool) {
		idx = len(pool) - 1
	}
	return pool[idx], nil
}
