package optimize

import (
	"context"
	"math/rand"

	"github.com/talgya/pricing-sim/internal/strategy"
)

// RandomSearch evaluates cfg.Iterations uniformly random price matrices with
// cells in [0, MaxPrice) and keeps the best.
func RandomSearch(ctx context.Context, ev *Evaluator, cfg Config, rng *rand.Rand, progress Progress) (Outcome, error) {
	s := ev.Settings()
	groups, visits, periods := matrixShape(s)
	t := newTracker("random", progress)

	for i := 0; i < max(cfg.Iterations, 1); i++ {
		m := strategy.RandomMatrix(groups, visits, periods, s.MaxPrice, rng)
		fitness, err := ev.Fitness(ctx, m)
		if err != nil {
			return t.out, err
		}
		if t.observe(i, 0, m, fitness) {
			t.endIteration(i)
		}
	}
	return t.out, nil
}
