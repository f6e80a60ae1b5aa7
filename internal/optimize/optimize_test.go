package optimize

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/pricing-sim/internal/settings"
	"github.com/talgya/pricing-sim/internal/strategy"
)

func tinyMarket() settings.ProblemSettings {
	s := settings.Default()
	s.GroupSizes = []int{8, 8}
	s.GroupMeans = []float64{2, 3}
	s.KNeighbors = 2
	s.NPeriods = 10
	s.NVisits = 2
	s.NumPredictedGroups = 2
	s.MaxPrice = 400
	return s
}

func tinyConfig() Config {
	cfg := DefaultConfig()
	cfg.Iterations = 3
	cfg.PopulationSize = 4
	cfg.BanditRuns = 5
	return cfg
}

func TestMutate(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	m := strategy.RandomMatrix(2, 2, 3, 10, rng)

	same := Mutate(m, 0, 5, 10, rng)
	assert.Equal(t, m.Prices, same.Prices)

	mut := Mutate(m, 1, 5, 10, rng)
	changed := 0
	for i, p := range mut.Prices {
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 10.0)
		assert.InDelta(t, m.Prices[i], p, 5)
		if p != m.Prices[i] {
			changed++
		}
	}
	assert.Greater(t, changed, 0)
}

func TestFitnessMatchesReplay(t *testing.T) {
	ev := NewEvaluator(tinyMarket(), 1, 1, 99)
	m := strategy.UniformMatrix([]float64{180, 280}, 2, 10)

	fitness, err := ev.Fitness(context.Background(), m)
	require.NoError(t, err)
	r := ev.Replay(0, m)
	assert.Equal(t, r.Revenue, fitness)
	assert.NotEmpty(t, r.Events)
}

func assertTrace(t *testing.T, out Outcome) {
	t.Helper()
	require.NotNil(t, out.Best)
	require.Len(t, out.Trace, out.Evaluations)
	best := out.Trace[0].Fitness
	for i, st := range out.Trace {
		if st.Fitness > best {
			best = st.Fitness
		}
		assert.Equal(t, best, st.BestFitness, "step %d", i)
		if i > 0 {
			assert.GreaterOrEqual(t, st.BestFitness, out.Trace[i-1].BestFitness)
		}
	}
	assert.Equal(t, best, out.Fitness)
}

func TestRandomSearch(t *testing.T) {
	ev := NewEvaluator(tinyMarket(), 2, 2, 5)
	calls := 0
	out, err := RandomSearch(context.Background(), ev, tinyConfig(), rand.New(rand.NewSource(3)), func(Step) { calls++ })
	require.NoError(t, err)
	assert.Equal(t, 3, out.Evaluations)
	assert.Equal(t, 3, calls)
	assert.Equal(t, "random", out.Algorithm)
	assertTrace(t, out)

	assert.Equal(t, 2, out.Best.Groups)
	assert.Equal(t, 2, out.Best.Visits)
	assert.Equal(t, 10, out.Best.Periods)
	for _, p := range out.Best.Prices {
		assert.Less(t, p, 400.0)
	}
}

func TestEvolveIsElitist(t *testing.T) {
	ev := NewEvaluator(tinyMarket(), 2, 2, 5)
	out, err := Evolve(context.Background(), ev, tinyConfig(), rand.New(rand.NewSource(4)), nil)
	require.NoError(t, err)
	assert.Equal(t, 12, out.Evaluations)
	assertTrace(t, out)

	genBest := map[int]float64{}
	for _, st := range out.Trace {
		if v, ok := genBest[st.Iteration]; !ok || st.Fitness > v {
			genBest[st.Iteration] = st.Fitness
		}
	}
	for g := 1; g < 3; g++ {
		assert.GreaterOrEqual(t, genBest[g], genBest[g-1])
	}
}

func TestSwarm(t *testing.T) {
	ev := NewEvaluator(tinyMarket(), 2, 2, 5)
	cfg := tinyConfig()
	cfg.PopulationSize = 3
	cfg.Iterations = 2
	out, err := Swarm(context.Background(), ev, cfg, rand.New(rand.NewSource(6)), nil)
	require.NoError(t, err)
	assert.Equal(t, 9, out.Evaluations)
	assertTrace(t, out)
	for _, p := range out.Best.Prices {
		assert.GreaterOrEqual(t, p, 0.0)
	}
}

func TestTrainBandit(t *testing.T) {
	s := tinyMarket()
	ev := NewEvaluator(s, 1, 1, 8)
	bcfg := strategy.BanditConfig{
		MinPrice:     100,
		MaxPrice:     300,
		ArmsPerGroup: 5,
		Epsilon:      0.5,
		FinalEpsilon: 0.05,
		Policy:       strategy.DecayingEpsilonGreedy,
	}
	steps := 0
	out, err := TrainBandit(context.Background(), ev, bcfg, tinyConfig(), rand.New(rand.NewSource(2)), func(Step) { steps++ })
	require.NoError(t, err)
	assert.Len(t, out.Revenues, 5)
	assert.Len(t, out.Trace, 5)
	assert.Equal(t, 5, steps)
	assert.Equal(t, 5, out.Bandit.Run())
	assert.InDelta(t, 0.05, out.Bandit.CurrentEpsilon(), 1e-12)

	m := BestArmMatrix(out.Bandit, s.NVisits)
	assert.Equal(t, s.NumPredictedGroups, m.Groups)
	assert.Equal(t, s.NPeriods, m.Periods)
	for _, a := range out.Bandit.BestArms() {
		assert.Equal(t, a.Price, m.Get(a.Group, 1, a.Period))
	}
}

func TestCompare(t *testing.T) {
	ev := NewEvaluator(tinyMarket(), 3, 2, 1)
	out, err := Compare(context.Background(), ev, [][]float64{{220, 300}, {200, 280}})
	require.NoError(t, err)
	require.Len(t, out, 2)
	for _, c := range out {
		assert.Equal(t, 3, c.Summary.Runs)
		require.GreaterOrEqual(t, c.Summary.BestRun, 0)
		assert.NotEmpty(t, c.Best.Events)
		assert.GreaterOrEqual(t, c.Best.Revenue, c.Summary.MeanRevenue)
	}

	_, err = Compare(context.Background(), ev, [][]float64{{1, 2, 3}})
	assert.Error(t, err)
}

func TestCancelledSearch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ev := NewEvaluator(tinyMarket(), 2, 1, 5)
	_, err := RandomSearch(ctx, ev, tinyConfig(), rand.New(rand.NewSource(1)), nil)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = TrainBandit(ctx, ev, strategy.BanditConfig{ArmsPerGroup: 2, MaxPrice: 10}, tinyConfig(), rand.New(rand.NewSource(1)), nil)
	assert.ErrorIs(t, err, context.Canceled)
}
