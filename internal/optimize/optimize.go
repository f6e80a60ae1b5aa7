// Package optimize searches for pricing policies using the simulation engine
// as a fitness function.
package optimize

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/talgya/pricing-sim/internal/engine"
	"github.com/talgya/pricing-sim/internal/settings"
	"github.com/talgya/pricing-sim/internal/strategy"
)

// Config holds the search parameters shared by the optimizers. Iterations is
// the number of random candidates, evolutionary generations or swarm steps.
type Config struct {
	Iterations     int     `yaml:"iterations"`
	PopulationSize int     `yaml:"population_size"` // evolution population and swarm size
	MutationRate   float64 `yaml:"mutation_rate"`
	MutationScale  float64 `yaml:"mutation_scale"`
	Inertia        float64 `yaml:"inertia"`
	Cognitive      float64 `yaml:"cognitive"`
	Social         float64 `yaml:"social"`
	VelocityLimit  float64 `yaml:"velocity_limit"`
	BanditRuns     int     `yaml:"bandit_runs"`
}

// DefaultConfig returns the search parameters used when none are configured.
func DefaultConfig() Config {
	return Config{
		Iterations:     50,
		PopulationSize: 20,
		MutationRate:   0.3,
		MutationScale:  5,
		Inertia:        0.7,
		Cognitive:      1.5,
		Social:         1.5,
		VelocityLimit:  10,
		BanditRuns:     100,
	}
}

// Step is one evaluated candidate, reported through Progress and kept in the
// outcome trace.
type Step struct {
	Algorithm   string  `json:"algorithm" db:"algorithm"`
	Iteration   int     `json:"iteration" db:"iteration"`
	Candidate   int     `json:"candidate" db:"candidate"`
	Fitness     float64 `json:"fitness" db:"fitness"`
	BestFitness float64 `json:"best_fitness" db:"best_fitness"`
}

// Progress is called after every evaluation. It may be nil.
type Progress func(Step)

// Outcome is the best policy an optimizer found.
type Outcome struct {
	Algorithm   string
	Best        *strategy.PriceMatrix
	Fitness     float64
	Evaluations int
	Trace       []Step
}

// Evaluator scores policies by their mean revenue over a batch of
// replications. Every candidate sees the same replication seeds, so
// differences in fitness come from the policy and not from the draws.
type Evaluator struct {
	Batch engine.Batch
	extra []engine.Option
}

// NewEvaluator returns an evaluator over the given market. Options such as
// seasonality apply to every replication.
func NewEvaluator(s settings.ProblemSettings, replications, workers int, seed int64, opts ...engine.Option) *Evaluator {
	return &Evaluator{
		Batch: engine.Batch{
			Settings:     s,
			Replications: replications,
			Workers:      workers,
			Seed:         seed,
			Options:      append([]engine.Option{engine.WithoutHistory()}, opts...),
		},
		extra: opts,
	}
}

// Settings returns the market being optimized.
func (e *Evaluator) Settings() settings.ProblemSettings {
	return e.Batch.Settings
}

// Summarize runs every replication of a policy.
func (e *Evaluator) Summarize(ctx context.Context, newStrategy func(rep int) strategy.Strategy) (engine.Summary, []engine.Result, error) {
	results, err := e.Batch.Run(ctx, newStrategy)
	if err != nil {
		return engine.Summary{}, nil, fmt.Errorf("evaluate policy: %w", err)
	}
	return engine.Summarize(results), results, nil
}

// Fitness returns the mean revenue of a static price matrix.
func (e *Evaluator) Fitness(ctx context.Context, m *strategy.PriceMatrix) (float64, error) {
	// A matrix is read-only during a run and can be shared by replications.
	sum, _, err := e.Summarize(ctx, func(int) strategy.Strategy { return m })
	if err != nil {
		return 0, err
	}
	return sum.MeanRevenue, nil
}

// matrixShape returns the policy dimensions a market needs.
func matrixShape(s settings.ProblemSettings) (groups, visits, periods int) {
	return s.NumPredictedGroups, s.NVisits, s.NPeriods
}

// tracker keeps the running best and the trace for one optimizer run.
type tracker struct {
	algorithm string
	progress  Progress
	out       Outcome
}

func newTracker(algorithm string, progress Progress) *tracker {
	return &tracker{algorithm: algorithm, progress: progress, out: Outcome{Algorithm: algorithm}}
}

// observe records an evaluation and reports whether it is a new best.
func (t *tracker) observe(iteration, candidate int, m *strategy.PriceMatrix, fitness float64) bool {
	t.out.Evaluations++
	improved := t.out.Best == nil || fitness > t.out.Fitness
	if improved {
		t.out.Best = m.Clone()
		t.out.Fitness = fitness
	}
	step := Step{
		Algorithm:   t.algorithm,
		Iteration:   iteration,
		Candidate:   candidate,
		Fitness:     fitness,
		BestFitness: t.out.Fitness,
	}
	t.out.Trace = append(t.out.Trace, step)
	if t.progress != nil {
		t.progress(step)
	}
	return improved
}

func (t *tracker) endIteration(iteration int) {
	slog.Info("optimizer iteration",
		"algorithm", t.algorithm,
		"iteration", iteration,
		"best_revenue", fmt.Sprintf("%.3f", t.out.Fitness),
		"evaluations", t.out.Evaluations,
	)
}

// Replay reruns one replication with its event history recorded. Seeds are
// fixed per replication, so the result matches the batch run.
func (e *Evaluator) Replay(rep int, strat strategy.Strategy, opts ...engine.Option) engine.Result {
	rng := rand.New(rand.NewSource(e.Batch.Seed + int64(rep)))
	all := append(append([]engine.Option(nil), e.extra...), opts...)
	return engine.Run(e.Batch.Settings, strat, rng, all...)
}
