package strategy

import (
	"fmt"
	"math"
	"math/rand"
)

// BanditPolicy selects how a Bandit balances exploration and exploitation.
type BanditPolicy uint8

const (
	EpsilonGreedy BanditPolicy = iota
	DecayingEpsilonGreedy
	UCB
)

// String returns the policy name used in configuration files.
func (p BanditPolicy) String() string {
	switch p {
	case EpsilonGreedy:
		return "epsilon-greedy"
	case DecayingEpsilonGreedy:
		return "decaying-epsilon-greedy"
	case UCB:
		return "ucb"
	default:
		return "unknown"
	}
}

// ParseBanditPolicy is the inverse of String.
func ParseBanditPolicy(s string) (BanditPolicy, error) {
	for _, p := range []BanditPolicy{EpsilonGreedy, DecayingEpsilonGreedy, UCB} {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown bandit policy %q", s)
}

// BanditConfig parameterizes a Bandit.
type BanditConfig struct {
	MinPrice     float64      `yaml:"min_price"`
	MaxPrice     float64      `yaml:"max_price"`
	ArmsPerGroup int          `yaml:"arms_per_group"`
	Epsilon      float64      `yaml:"epsilon"`
	FinalEpsilon float64      `yaml:"final_epsilon"` // decaying policy only
	NRuns        int          `yaml:"n_runs"`        // decay horizon in training runs
	UCBParam     float64      `yaml:"ucb_param"`
	Policy       BanditPolicy `yaml:"-"`
}

// Arm is one candidate price with its running mean reward.
type Arm struct {
	Price         float64 `json:"price"`
	AverageReward float64 `json:"average_reward"`
	Pulls         int     `json:"pulls"`
}

// BestArm reports the current choice for one group and period.
type BestArm struct {
	Group  int `json:"group"`
	Period int `json:"period"`
	Arm
}

// RewardTrace describes one feedback call, for optional logging.
type RewardTrace struct {
	Run    int
	Group  int
	Visit  int
	Period int
	Price  float64
	Reward float64
	Action string // "random", "best" or "ucb"
}

// Bandit is a multi-armed bandit with an independent arm table per perceived
// group and period. It is not safe for concurrent use.
type Bandit struct {
	cfg     BanditConfig
	groups  int
	periods int

	arms       [][][]Arm // group → period → arm
	best       [][]int   // group → period → arm index
	lastAction string
	run        int
	rng        *rand.Rand

	// OnReward, when set, receives every feedback call.
	OnReward func(RewardTrace)
}

// NewBandit builds a bandit whose arms are evenly spaced over
// [MinPrice, MaxPrice]. Initial best arms are random.
func NewBandit(cfg BanditConfig, groups, periods int, rng *rand.Rand) *Bandit {
	if cfg.ArmsPerGroup < 1 || groups < 1 || periods < 1 {
		panic(fmt.Sprintf("strategy: bandit with %d arms, %d groups, %d periods", cfg.ArmsPerGroup, groups, periods))
	}
	actions := make([]float64, cfg.ArmsPerGroup)
	for i := range actions {
		if cfg.ArmsPerGroup == 1 {
			actions[i] = cfg.MinPrice
			continue
		}
		actions[i] = cfg.MinPrice + (cfg.MaxPrice-cfg.MinPrice)*float64(i)/float64(cfg.ArmsPerGroup-1)
	}

	b := &Bandit{cfg: cfg, groups: groups, periods: periods, rng: rng}
	b.arms = make([][][]Arm, groups)
	b.best = make([][]int, groups)
	for g := 0; g < groups; g++ {
		b.arms[g] = make([][]Arm, periods)
		b.best[g] = make([]int, periods)
		for t := 0; t < periods; t++ {
			arms := make([]Arm, len(actions))
			for i, price := range actions {
				arms[i] = Arm{Price: price}
			}
			b.arms[g][t] = arms
			b.best[g][t] = rng.Intn(len(actions))
		}
	}
	return b
}

// Price implements Strategy.
func (b *Bandit) Price(group, visit, period int) float64 {
	group = clampIndex(group, b.groups)
	period = clampIndex(period, b.periods)
	arms := b.arms[group][period]

	switch b.cfg.Policy {
	case UCB:
		b.lastAction = "ucb"
		return arms[b.selectUCB(arms)].Price
	default:
		if b.rng.Float64() < b.CurrentEpsilon() {
			b.lastAction = "random"
			return arms[b.rng.Intn(len(arms))].Price
		}
		b.lastAction = "best"
		return arms[b.best[group][period]].Price
	}
}

// UpdateAverageReward implements Strategy, crediting the arm closest to price.
func (b *Bandit) UpdateAverageReward(group, visit, period int, reward, price float64) {
	group = clampIndex(group, b.groups)
	period = clampIndex(period, b.periods)
	arms := b.arms[group][period]
	i := b.armFor(price)

	arm := &arms[i]
	arm.Pulls++
	arm.AverageReward += (reward - arm.AverageReward) / float64(arm.Pulls)

	best := b.best[group][period]
	if i == best || arms[best].Pulls == 0 || arm.AverageReward > arms[best].AverageReward {
		b.best[group][period] = argmaxPulled(arms, best)
	}

	if b.OnReward != nil {
		b.OnReward(RewardTrace{
			Run: b.run, Group: group, Visit: visit, Period: period,
			Price: arm.Price, Reward: reward, Action: b.lastAction,
		})
	}
}

// argmaxPulled returns the pulled arm with the highest average reward, or
// fallback if none was pulled.
func argmaxPulled(arms []Arm, fallback int) int {
	best := -1
	for i := range arms {
		if arms[i].Pulls == 0 {
			continue
		}
		if best < 0 || arms[i].AverageReward > arms[best].AverageReward {
			best = i
		}
	}
	if best < 0 {
		return fallback
	}
	return best
}

func (b *Bandit) armFor(price float64) int {
	n := b.cfg.ArmsPerGroup
	if n == 1 || b.cfg.MaxPrice == b.cfg.MinPrice {
		return 0
	}
	pos := (price - b.cfg.MinPrice) / (b.cfg.MaxPrice - b.cfg.MinPrice) * float64(n-1)
	return clampIndex(int(math.Round(pos)), n)
}

func (b *Bandit) selectUCB(arms []Arm) int {
	total := 0
	for _, a := range arms {
		total += a.Pulls
	}
	if total == 0 {
		return b.rng.Intn(len(arms))
	}
	best, bestScore := 0, math.Inf(-1)
	for i, a := range arms {
		score := math.Inf(1)
		if a.Pulls > 0 {
			score = a.AverageReward + math.Sqrt(b.cfg.UCBParam*math.Log(float64(total))/float64(a.Pulls))
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

// CurrentEpsilon returns the exploration rate for the current training run.
// The decaying policy moves linearly from Epsilon to FinalEpsilon over NRuns.
func (b *Bandit) CurrentEpsilon() float64 {
	if b.cfg.Policy != DecayingEpsilonGreedy || b.cfg.NRuns <= 1 {
		return b.cfg.Epsilon
	}
	progress := math.Min(float64(b.run)/float64(b.cfg.NRuns-1), 1)
	return b.cfg.Epsilon - progress*(b.cfg.Epsilon-b.cfg.FinalEpsilon)
}

// IncrementRun advances the training-run counter used by epsilon decay.
func (b *Bandit) IncrementRun() {
	if b.run < b.cfg.NRuns {
		b.run++
	}
}

// Run returns the current training-run counter.
func (b *Bandit) Run() int {
	return b.run
}

// Config returns the bandit's configuration.
func (b *Bandit) Config() BanditConfig {
	return b.cfg
}

// BestArms lists the current best arm for every group and period.
func (b *Bandit) BestArms() []BestArm {
	out := make([]BestArm, 0, b.groups*b.periods)
	for g := 0; g < b.groups; g++ {
		for t := 0; t < b.periods; t++ {
			out = append(out, BestArm{Group: g, Period: t, Arm: b.arms[g][t][b.best[g][t]]})
		}
	}
	return out
}

// Arms returns a copy of the arm table for one group and period.
func (b *Bandit) Arms(group, period int) []Arm {
	return append([]Arm(nil), b.arms[clampIndex(group, b.groups)][clampIndex(period, b.periods)]...)
}
