package strategy

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstantAndFunc(t *testing.T) {
	var s Strategy = Constant(12.5)
	assert.Equal(t, 12.5, s.Price(3, 4, 5))
	s.UpdateAverageReward(0, 0, 0, 1, 1)

	calls := 0
	s = Func{
		PriceFn:    func(g, w, p int) float64 { return float64(g*100 + w*10 + p) },
		FeedbackFn: func(g, w, p int, reward, price float64) { calls++ },
	}
	assert.Equal(t, 123.0, s.Price(1, 2, 3))
	s.UpdateAverageReward(0, 0, 0, 0, 0)
	assert.Equal(t, 1, calls)

	Func{PriceFn: func(int, int, int) float64 { return 0 }}.UpdateAverageReward(0, 0, 0, 0, 0)
}

func TestPriceMatrixIndexingAndClamp(t *testing.T) {
	m := NewPriceMatrix(2, 3, 4)
	m.Set(1, 2, 3, 9)
	m.Set(0, 1, 2, 5)

	assert.Equal(t, 9.0, m.Price(1, 2, 3))
	assert.Equal(t, 9.0, m.Price(7, 99, 50), "out of range clamps to the last cell")
	assert.Equal(t, 5.0, m.Get(0, 1, 2))
	assert.Equal(t, 0.0, m.Get(-1, 0, 0))

	cp := m.Clone()
	cp.Set(1, 2, 3, 1)
	assert.Equal(t, 9.0, m.Get(1, 2, 3))

	n := 0
	m.Cells(func(g, w, p int, price float64) {
		assert.Equal(t, m.Get(g, w, p), price)
		n++
	})
	assert.Equal(t, 24, n)

	assert.Panics(t, func() { NewPriceMatrix(0, 1, 1) })
}

func TestUniformAndRandomMatrix(t *testing.T) {
	u := UniformMatrix([]float64{10, 20}, 2, 3)
	assert.Equal(t, 10.0, u.Get(0, 1, 2))
	assert.Equal(t, 20.0, u.Get(1, 0, 0))

	r := RandomMatrix(3, 2, 2, 50, rand.New(rand.NewSource(1)))
	for _, p := range r.Prices {
		assert.GreaterOrEqual(t, p, 0.0)
		assert.Less(t, p, 50.0)
	}
}

func TestParseBanditPolicy(t *testing.T) {
	for _, p := range []BanditPolicy{EpsilonGreedy, DecayingEpsilonGreedy, UCB} {
		got, err := ParseBanditPolicy(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	_, err := ParseBanditPolicy("thompson")
	assert.Error(t, err)
}

func banditConfig(policy BanditPolicy) BanditConfig {
	return BanditConfig{
		MinPrice:     0,
		MaxPrice:     100,
		ArmsPerGroup: 5,
		Epsilon:      0.5,
		FinalEpsilon: 0.1,
		NRuns:        5,
		UCBParam:     2,
		Policy:       policy,
	}
}

func TestBanditActionSpace(t *testing.T) {
	b := NewBandit(banditConfig(EpsilonGreedy), 2, 3, rand.New(rand.NewSource(1)))
	arms := b.Arms(0, 0)
	require.Len(t, arms, 5)
	assert.Equal(t, []float64{0, 25, 50, 75, 100}, []float64{arms[0].Price, arms[1].Price, arms[2].Price, arms[3].Price, arms[4].Price})
	assert.Len(t, b.BestArms(), 6)
}

func TestBanditGreedyLearnsBestArm(t *testing.T) {
	cfg := banditConfig(EpsilonGreedy)
	cfg.Epsilon = 0
	b := NewBandit(cfg, 1, 1, rand.New(rand.NewSource(2)))

	b.UpdateAverageReward(0, 0, 0, 10, 25)
	b.UpdateAverageReward(0, 0, 0, 70, 75)
	b.UpdateAverageReward(0, 0, 0, 30, 50)
	assert.Equal(t, 75.0, b.Price(0, 0, 0))

	// The best arm's average falls below another arm; the choice follows.
	b.UpdateAverageReward(0, 0, 0, 0, 75)
	b.UpdateAverageReward(0, 0, 0, 0, 75)
	assert.Equal(t, 50.0, b.Price(0, 0, 0))

	arms := b.Arms(0, 0)
	assert.Equal(t, 3, arms[3].Pulls)
	assert.InDelta(t, 70.0/3, arms[3].AverageReward, 1e-12)
}

func TestBanditUCBTriesEveryArm(t *testing.T) {
	b := NewBandit(banditConfig(UCB), 1, 1, rand.New(rand.NewSource(3)))
	seen := map[float64]bool{}
	for i := 0; i < 5; i++ {
		p := b.Price(0, 0, 0)
		seen[p] = true
		b.UpdateAverageReward(0, 0, 0, p/10, p)
	}
	assert.Len(t, seen, 5)

	// With every arm tried, the highest mean with equal pulls wins.
	assert.Equal(t, 100.0, b.Price(0, 0, 0))
}

func TestBanditDecayingEpsilon(t *testing.T) {
	b := NewBandit(banditConfig(DecayingEpsilonGreedy), 1, 1, rand.New(rand.NewSource(4)))
	assert.InDelta(t, 0.5, b.CurrentEpsilon(), 1e-12)
	b.IncrementRun()
	b.IncrementRun()
	assert.InDelta(t, 0.3, b.CurrentEpsilon(), 1e-12)
	for i := 0; i < 10; i++ {
		b.IncrementRun()
	}
	assert.Equal(t, 5, b.Run())
	assert.InDelta(t, 0.1, b.CurrentEpsilon(), 1e-12)

	plain := NewBandit(banditConfig(EpsilonGreedy), 1, 1, rand.New(rand.NewSource(4)))
	plain.IncrementRun()
	assert.Equal(t, 0.5, plain.CurrentEpsilon())
}

func TestBanditRewardTrace(t *testing.T) {
	cfg := banditConfig(EpsilonGreedy)
	cfg.Epsilon = 1
	b := NewBandit(cfg, 2, 2, rand.New(rand.NewSource(5)))
	var traces []RewardTrace
	b.OnReward = func(tr RewardTrace) { traces = append(traces, tr) }

	p := b.Price(1, 0, 1)
	b.UpdateAverageReward(1, 3, 1, p, p)
	require.Len(t, traces, 1)
	assert.Equal(t, "random", traces[0].Action)
	assert.Equal(t, 3, traces[0].Visit)
	assert.Equal(t, p, traces[0].Price)
}
