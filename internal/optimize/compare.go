package optimize

import (
	"context"
	"fmt"

	"github.com/talgya/pricing-sim/internal/engine"
	"github.com/talgya/pricing-sim/internal/strategy"
)

// Comparison is the replicated outcome of one per-group price vector.
type Comparison struct {
	Prices  []float64
	Matrix  *strategy.PriceMatrix
	Summary engine.Summary
	Best    engine.Result // highest-revenue replication, with history
}

// Compare evaluates flat per-group price vectors under identical replication
// seeds. Each vector needs one price per predicted group.
func Compare(ctx context.Context, ev *Evaluator, vectors [][]float64) ([]Comparison, error) {
	s := ev.Settings()
	out := make([]Comparison, 0, len(vectors))
	for i, prices := range vectors {
		if len(prices) != s.NumPredictedGroups {
			return nil, fmt.Errorf("compare vector %d: %d prices for %d groups", i, len(prices), s.NumPredictedGroups)
		}
		m := strategy.UniformMatrix(prices, s.NVisits, s.NPeriods)
		sum, _, err := ev.Summarize(ctx, func(int) strategy.Strategy { return m })
		if err != nil {
			return nil, fmt.Errorf("compare vector %d: %w", i, err)
		}
		c := Comparison{Prices: prices, Matrix: m, Summary: sum}
		if sum.BestRun >= 0 {
			c.Best = ev.Replay(sum.BestRun, m)
		}
		out = append(out, c)
	}
	return out, nil
}
