package optimize

import (
	"context"
	"math"
	"math/rand"

	"github.com/talgya/pricing-sim/internal/strategy"
)

// Evolve runs an elitist evolutionary search: each generation keeps its best
// matrix unchanged and refills the population with mutants of it.
func Evolve(ctx context.Context, ev *Evaluator, cfg Config, rng *rand.Rand, progress Progress) (Outcome, error) {
	s := ev.Settings()
	groups, visits, periods := matrixShape(s)
	size := max(cfg.PopulationSize, 1)
	t := newTracker("evolve", progress)

	population := make([]*strategy.PriceMatrix, size)
	for i := range population {
		population[i] = strategy.RandomMatrix(groups, visits, periods, s.MaxPrice, rng)
	}

	for gen := 0; gen < max(cfg.Iterations, 1); gen++ {
		var elite *strategy.PriceMatrix
		eliteFitness := math.Inf(-1)
		for i, candidate := range population {
			fitness, err := ev.Fitness(ctx, candidate)
			if err != nil {
				return t.out, err
			}
			t.observe(gen, i, candidate, fitness)
			if fitness > eliteFitness {
				elite, eliteFitness = candidate, fitness
			}
		}
		t.endIteration(gen)

		next := make([]*strategy.PriceMatrix, 0, size)
		next = append(next, elite)
		for len(next) < size {
			next = append(next, Mutate(elite, cfg.MutationRate, cfg.MutationScale, s.MaxPrice, rng))
		}
		population = next
	}
	return t.out, nil
}

// Mutate returns a copy of m where each cell, with probability rate, moves by
// a uniform step in [-scale, scale) and is clamped to [0, maxPrice].
func Mutate(m *strategy.PriceMatrix, rate, scale, maxPrice float64, rng *rand.Rand) *strategy.PriceMatrix {
	out := m.Clone()
	for i, p := range out.Prices {
		if rng.Float64() >= rate {
			continue
		}
		p += (2*rng.Float64() - 1) * scale
		out.Prices[i] = math.Min(math.Max(p, 0), maxPrice)
	}
	return out
}
