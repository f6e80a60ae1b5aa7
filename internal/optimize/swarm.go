package optimize

import (
	"context"
	"math"
	"math/rand"

	"github.com/talgya/pricing-sim/internal/strategy"
)

// particle is one swarm member. Position is the price matrix it proposes.
type particle struct {
	position *strategy.PriceMatrix
	velocity []float64
	best     *strategy.PriceMatrix
	bestFit  float64
}

// Swarm runs particle swarm optimization over price matrices. Velocities are
// clamped to ±VelocityLimit and prices never go below zero.
func Swarm(ctx context.Context, ev *Evaluator, cfg Config, rng *rand.Rand, progress Progress) (Outcome, error) {
	s := ev.Settings()
	groups, visits, periods := matrixShape(s)
	limit := cfg.VelocityLimit
	if limit <= 0 {
		limit = math.Inf(1)
	}
	t := newTracker("swarm", progress)

	swarm := make([]*particle, max(cfg.PopulationSize, 1))
	var global *strategy.PriceMatrix
	globalFit := math.Inf(-1)
	for i := range swarm {
		pos := strategy.RandomMatrix(groups, visits, periods, s.MaxPrice, rng)
		vel := make([]float64, len(pos.Prices))
		for j := range vel {
			vel[j] = (2*rng.Float64() - 1) * limit / 2
		}
		fitness, err := ev.Fitness(ctx, pos)
		if err != nil {
			return t.out, err
		}
		t.observe(-1, i, pos, fitness)
		swarm[i] = &particle{position: pos, velocity: vel, best: pos.Clone(), bestFit: fitness}
		if fitness > globalFit {
			global, globalFit = pos.Clone(), fitness
		}
	}

	for it := 0; it < max(cfg.Iterations, 1); it++ {
		for i, p := range swarm {
			for j := range p.velocity {
				r1, r2 := rng.Float64(), rng.Float64()
				x := p.position.Prices[j]
				v := cfg.Inertia*p.velocity[j] +
					cfg.Cognitive*r1*(p.best.Prices[j]-x) +
					cfg.Social*r2*(global.Prices[j]-x)
				v = math.Min(math.Max(v, -limit), limit)
				p.velocity[j] = v
				p.position.Prices[j] = math.Max(x+v, 0)
			}

			fitness, err := ev.Fitness(ctx, p.position)
			if err != nil {
				return t.out, err
			}
			t.observe(it, i, p.position, fitness)
			if fitness > p.bestFit {
				p.best, p.bestFit = p.position.Clone(), fitness
				if fitness > globalFit {
					global, globalFit = p.position.Clone(), fitness
				}
			}
		}
		t.endIteration(it)
	}
	return t.out, nil
}
