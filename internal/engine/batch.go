package engine

import (
	"context"
	"math"
	"math/rand"
	"runtime"
	"sync"

	"github.com/talgya/pricing-sim/internal/settings"
	"github.com/talgya/pricing-sim/internal/strategy"
)

// Batch evaluates one pricing policy over independent replications.
type Batch struct {
	Settings     settings.ProblemSettings
	Replications int
	Workers      int   // 0 means GOMAXPROCS
	Seed         int64 // replication i uses Seed+i
	Options      []Option
}

// Run executes every replication and returns results in replication order.
// newStrategy is called once per replication so stateful strategies are never
// shared between goroutines; a stateless strategy may return itself.
func (b Batch) Run(ctx context.Context, newStrategy func(rep int) strategy.Strategy) ([]Result, error) {
	b.Settings.MustValidate()
	n := b.Replications
	if n < 1 {
		n = 1
	}
	workers := b.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > n {
		workers = n
	}

	results := make([]Result, n)
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rep := range jobs {
				rng := rand.New(rand.NewSource(b.Seed + int64(rep)))
				results[rep] = Run(b.Settings, newStrategy(rep), rng, b.Options...)
			}
		}()
	}

	var err error
feed:
	for rep := 0; rep < n; rep++ {
		if err = ctx.Err(); err != nil {
			break
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break feed
		case jobs <- rep:
		}
	}
	close(jobs)
	wg.Wait()
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Summary aggregates replications.
type Summary struct {
	Runs             int     `json:"runs"`
	MeanRevenue      float64 `json:"mean_revenue"`
	StdRevenue       float64 `json:"std_revenue"`
	MeanRegret       float64 `json:"mean_regret"`
	MeanSoldFraction float64 `json:"mean_sold_fraction"`
	BestRun          int     `json:"best_run"` // index of the highest-revenue replication
}

// Summarize computes means over results. An empty slice yields a zero Summary
// with BestRun -1.
func Summarize(results []Result) Summary {
	s := Summary{Runs: len(results), BestRun: -1}
	if len(results) == 0 {
		return s
	}
	for i, r := range results {
		s.MeanRevenue += r.Revenue
		s.MeanRegret += r.Regret
		s.MeanSoldFraction += r.SoldFraction
		if s.BestRun < 0 || r.Revenue > results[s.BestRun].Revenue {
			s.BestRun = i
		}
	}
	n := float64(len(results))
	s.MeanRevenue /= n
	s.MeanRegret /= n
	s.MeanSoldFraction /= n

	var ss float64
	for _, r := range results {
		d := r.Revenue - s.MeanRevenue
		ss += d * d
	}
	s.StdRevenue = math.Sqrt(ss / n)
	return s
}
