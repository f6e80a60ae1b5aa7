package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/talgya/pricing-sim/internal/engine"
	"github.com/talgya/pricing-sim/internal/optimize"
	"github.com/talgya/pricing-sim/internal/strategy"
)

// simulateOutput is the JSON form of one evaluated policy.
type simulateOutput struct {
	RunID   string         `json:"run_id"`
	Prices  []float64      `json:"prices"`
	Seed    int64          `json:"seed"`
	Summary engine.Summary `json:"summary"`
	Best    engine.Result  `json:"best"`
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Evaluate a fixed pricing policy",
		Long: `Runs the configured number of replications of a fixed policy and stores
the highest-revenue replication with its full event history.

--prices takes either one price for everyone or one price per predicted
group. --compare adds a second per-group vector evaluated under the same
replication seeds.`,
		Example: `  pricesim simulate --prices 220
  pricesim simulate --prices 200,480,130 --compare 180,520,110`,
		RunE: func(cmd *cobra.Command, args []string) error {
			prices, _ := cmd.Flags().GetFloat64Slice("prices")
			compare, _ := cmd.Flags().GetFloat64Slice("compare")
			seedFlag, _ := cmd.Flags().GetInt64("seed")
			replications, _ := cmd.Flags().GetInt("replications")
			if len(prices) == 0 {
				return fmt.Errorf("--prices is required")
			}

			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			seed := e.seed(seedFlag)
			ev := e.evaluator(seed, replications)
			ctx := cmd.Context()

			var outputs []simulateOutput
			if len(prices) == 1 && len(compare) == 0 {
				policy := strategy.Constant(prices[0])
				sum, _, err := ev.Summarize(ctx, func(int) strategy.Strategy { return policy })
				if err != nil {
					return err
				}
				best := ev.Replay(sum.BestRun, policy)
				runSeed := seed + int64(sum.BestRun)
				id, err := e.record(ctx, "simulate", "constant", runSeed, best, nil)
				if err != nil {
					return err
				}
				outputs = append(outputs, simulateOutput{RunID: id, Prices: prices, Seed: runSeed, Summary: sum, Best: best})
			} else {
				vectors := [][]float64{prices}
				kind := "simulate"
				if len(compare) > 0 {
					vectors = append(vectors, compare)
					kind = "compare"
				}
				comps, err := optimize.Compare(ctx, ev, vectors)
				if err != nil {
					return err
				}
				for _, c := range comps {
					m := c.Matrix
					runSeed := seed + int64(c.Summary.BestRun)
					id, err := e.record(ctx, kind, "matrix", runSeed, c.Best, func(runID string) error {
						return e.db.SavePriceMatrix(runID, m)
					})
					if err != nil {
						return err
					}
					outputs = append(outputs, simulateOutput{RunID: id, Prices: c.Prices, Seed: runSeed, Summary: c.Summary, Best: c.Best})
				}
			}

			if e.jsonOut {
				return e.printJSON(outputs)
			}
			for _, o := range outputs {
				fmt.Fprintf(e.out, "prices %v  mean revenue %.2f (sd %.2f) over %d runs\n",
					o.Prices, o.Summary.MeanRevenue, o.Summary.StdRevenue, o.Summary.Runs)
				e.printResult("  best", o.RunID, o.Best)
			}
			if len(outputs) == 2 {
				diff := outputs[1].Summary.MeanRevenue - outputs[0].Summary.MeanRevenue
				fmt.Fprintf(e.out, "compare minus prices: %+.2f mean revenue\n", diff)
			}
			return nil
		},
	}

	cmd.Flags().Float64Slice("prices", nil, "One price, or one price per predicted group")
	cmd.Flags().Float64Slice("compare", nil, "Second per-group price vector to compare against --prices")
	cmd.Flags().Int64("seed", 0, "Base seed (0 uses the configured or a fresh seed)")
	cmd.Flags().Int("replications", 0, "Replications per policy (0 uses the configured value)")
	return cmd
}
