package main

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/spf13/cobra"

	"github.com/talgya/pricing-sim/internal/engine"
	"github.com/talgya/pricing-sim/internal/optimize"
	"github.com/talgya/pricing-sim/internal/strategy"
)

// searchFunc is the signature shared by the matrix optimizers.
type searchFunc func(ctx context.Context, ev *optimize.Evaluator, cfg optimize.Config, rng *rand.Rand, progress optimize.Progress) (optimize.Outcome, error)

// optimizeOutput is the JSON form of an optimizer result.
type optimizeOutput struct {
	RunID       string                `json:"run_id"`
	Algorithm   string                `json:"algorithm"`
	Seed        int64                 `json:"seed"`
	Fitness     float64               `json:"fitness"`
	Evaluations int                   `json:"evaluations"`
	Matrix      *strategy.PriceMatrix `json:"matrix"`
	Replay      engine.Result         `json:"replay"`
}

func newOptimizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Search for a pricing policy",
		Long: `Searches price matrices indexed by predicted group, visit and period,
using mean revenue over the configured replications as fitness. The best
policy is replayed on the first replication and stored with its trace.`,
	}
	cmd.PersistentFlags().Int64("seed", 0, "Base seed (0 uses the configured or a fresh seed)")
	cmd.PersistentFlags().Int("iterations", 0, "Override optimizer iterations")
	cmd.PersistentFlags().Int("replications", 0, "Replications per candidate (0 uses the configured value)")

	cmd.AddCommand(
		newSearchCmd("random", "Uniform random search", optimize.RandomSearch,
			func(c optimize.Config) int { return max(c.Iterations, 1) }),
		newSearchCmd("evolve", "Elitist evolutionary search", optimize.Evolve,
			func(c optimize.Config) int { return max(c.Iterations, 1) * max(c.PopulationSize, 1) }),
		newSearchCmd("swarm", "Particle swarm optimization", optimize.Swarm,
			func(c optimize.Config) int { return (max(c.Iterations, 1) + 1) * max(c.PopulationSize, 1) }),
		newBanditCmd(),
	)
	return cmd
}

// optimizerSettings applies the shared flags to the configured search.
func optimizerSettings(cmd *cobra.Command, e *env) optimize.Config {
	cfg := e.cfg.Optimizer
	if n, _ := cmd.Flags().GetInt("iterations"); n > 0 {
		cfg.Iterations = n
	}
	return cfg
}

func newSearchCmd(name, short string, search searchFunc, evaluations func(optimize.Config) int) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			seedFlag, _ := cmd.Flags().GetInt64("seed")
			replications, _ := cmd.Flags().GetInt("replications")

			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			cfg := optimizerSettings(cmd, e)
			seed := e.seed(seedFlag)
			ev := e.evaluator(seed, replications)
			progress, finish := e.progress(evaluations(cfg), name)

			out, err := search(cmd.Context(), ev, cfg, rand.New(rand.NewSource(seed)), progress)
			finish()
			if err != nil {
				return err
			}

			replay := ev.Replay(0, out.Best)
			id, err := e.record(cmd.Context(), name, "matrix", seed, replay, func(runID string) error {
				if err := e.db.SavePriceMatrix(runID, out.Best); err != nil {
					return err
				}
				return e.db.SaveOptimizerSteps(runID, out.Trace)
			})
			if err != nil {
				return err
			}

			if e.jsonOut {
				return e.printJSON(optimizeOutput{
					RunID: id, Algorithm: out.Algorithm, Seed: seed, Fitness: out.Fitness,
					Evaluations: out.Evaluations, Matrix: out.Best, Replay: replay,
				})
			}
			fmt.Fprintf(e.out, "%s: best mean revenue %.2f after %d evaluations\n", name, out.Fitness, out.Evaluations)
			e.printResult("  replay", id, replay)
			return nil
		},
	}
}

func newBanditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bandit",
		Short: "Train a multi-armed bandit over repeated runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			seedFlag, _ := cmd.Flags().GetInt64("seed")
			replications, _ := cmd.Flags().GetInt("replications")
			policy, _ := cmd.Flags().GetString("policy")
			runs, _ := cmd.Flags().GetInt("runs")

			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			if policy != "" {
				e.cfg.Bandit.Policy = policy
			}
			bcfg, err := e.cfg.BanditSettings()
			if err != nil {
				return err
			}
			cfg := optimizerSettings(cmd, e)
			if runs > 0 {
				cfg.BanditRuns = runs
			}

			seed := e.seed(seedFlag)
			ev := e.evaluator(seed, replications)
			name := "bandit-" + bcfg.Policy.String()
			progress, finish := e.progress(max(cfg.BanditRuns, 1), name)

			out, err := optimize.TrainBandit(cmd.Context(), ev, bcfg, cfg, rand.New(rand.NewSource(seed)), progress)
			finish()
			if err != nil {
				return err
			}

			m := optimize.BestArmMatrix(out.Bandit, e.cfg.Problem.NVisits)
			replay := ev.Replay(0, m)
			id, err := e.record(cmd.Context(), "bandit", name, seed, replay, func(runID string) error {
				if err := e.db.SavePriceMatrix(runID, m); err != nil {
					return err
				}
				if err := e.db.SaveOptimizerSteps(runID, out.Trace); err != nil {
					return err
				}
				return e.db.SaveBanditArms(runID, out.Bandit.BestArms())
			})
			if err != nil {
				return err
			}

			if e.jsonOut {
				return e.printJSON(map[string]any{
					"run_id":    id,
					"algorithm": name,
					"seed":      seed,
					"revenues":  out.Revenues,
					"best_arms": out.Bandit.BestArms(),
					"replay":    replay,
				})
			}
			last := out.Revenues[len(out.Revenues)-1]
			fmt.Fprintf(e.out, "%s: %d training runs, first revenue %.2f, last revenue %.2f\n",
				name, len(out.Revenues), out.Revenues[0], last)
			for _, a := range out.Bandit.BestArms() {
				if a.Period == 0 {
					fmt.Fprintf(e.out, "  group %d period 0: price %.2f (avg reward %.2f, %d pulls)\n",
						a.Group, a.Price, a.AverageReward, a.Pulls)
				}
			}
			e.printResult("  best-arm replay", id, replay)
			return nil
		},
	}
	cmd.Flags().String("policy", "", "epsilon-greedy, decaying-epsilon-greedy or ucb (default from config)")
	cmd.Flags().Int("runs", 0, "Training runs (0 uses optimizer.bandit_runs)")
	return cmd
}
