package optimize

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/talgya/pricing-sim/internal/engine"
	"github.com/talgya/pricing-sim/internal/strategy"
)

// BanditOutcome is a trained bandit and its per-run revenues.
type BanditOutcome struct {
	Bandit   *strategy.Bandit
	Revenues []float64
	Trace    []Step
}

// TrainBandit plays cfg.BanditRuns consecutive simulations against one
// bandit so it learns across runs. Runs are sequential because the bandit is
// shared state; run i uses the evaluator's replication seed i.
func TrainBandit(ctx context.Context, ev *Evaluator, bcfg strategy.BanditConfig, cfg Config, rng *rand.Rand, progress Progress) (BanditOutcome, error) {
	s := ev.Settings()
	runs := max(cfg.BanditRuns, 1)
	if bcfg.NRuns <= 0 {
		bcfg.NRuns = runs
	}
	b := strategy.NewBandit(bcfg, s.NumPredictedGroups, s.NPeriods, rng)
	t := newTracker("bandit-"+bcfg.Policy.String(), progress)
	out := BanditOutcome{Bandit: b, Revenues: make([]float64, 0, runs)}

	for run := 0; run < runs; run++ {
		if err := ctx.Err(); err != nil {
			return out, fmt.Errorf("train bandit: %w", err)
		}
		r := ev.Replay(run, b, engine.WithoutHistory())
		b.IncrementRun()
		out.Revenues = append(out.Revenues, r.Revenue)

		t.out.Evaluations++
		if run == 0 || r.Revenue > t.out.Fitness {
			t.out.Fitness = r.Revenue
		}
		step := Step{Algorithm: t.algorithm, Iteration: run, Fitness: r.Revenue, BestFitness: t.out.Fitness}
		t.out.Trace = append(t.out.Trace, step)
		if progress != nil {
			progress(step)
		}
		if (run+1)%10 == 0 || run == runs-1 {
			t.endIteration(run)
		}
	}
	out.Trace = t.out.Trace
	return out, nil
}

// BestArmMatrix turns a bandit's current best arms into a static policy, the
// price for every visit being that of the (group, period) arm.
func BestArmMatrix(b *strategy.Bandit, visits int) *strategy.PriceMatrix {
	arms := b.BestArms()
	groups, periods := 0, 0
	for _, a := range arms {
		groups = max(groups, a.Group+1)
		periods = max(periods, a.Period+1)
	}
	m := strategy.NewPriceMatrix(groups, visits, periods)
	for _, a := range arms {
		for w := 0; w < visits; w++ {
			m.Set(a.Group, w, a.Period, a.Price)
		}
	}
	return m
}
