package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect stored runs",
	}
	cmd.AddCommand(newRunsListCmd(), newRunsShowCmd(), newRunsDeleteCmd())
	return cmd
}

// storeEnv is setup for commands that cannot work without a store.
func storeEnv(cmd *cobra.Command) (*env, error) {
	e, err := setup(cmd)
	if err != nil {
		return nil, err
	}
	if e.db == nil {
		e.Close()
		return nil, fmt.Errorf("no database configured")
	}
	return e, nil
}

func newRunsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString("kind")
			limit, _ := cmd.Flags().GetInt("limit")

			e, err := storeEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			runs, err := e.db.ListRuns(kind, max(limit, 1))
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			if e.jsonOut {
				return e.printJSON(runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(e.out, "No runs stored.")
				return nil
			}
			tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tKIND\tSTRATEGY\tREVENUE\tSOLD\tCREATED")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.1f%%\t%s\n",
					r.ID, r.Kind, r.Strategy,
					humanize.CommafWithDigits(r.Revenue, 2),
					100*r.SoldFraction,
					humanize.Time(r.CreatedAt),
				)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().String("kind", "", "Only runs of this kind (simulate, compare, random, evolve, swarm, bandit)")
	cmd.Flags().Int("limit", 20, "Maximum runs to list")
	return cmd
}

func newRunsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with its policy and trace sizes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := storeEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			run, err := e.db.GetRun(args[0])
			if err != nil {
				return err
			}
			steps, err := e.db.OptimizerSteps(run.ID)
			if err != nil {
				return fmt.Errorf("load steps: %w", err)
			}
			arms, err := e.db.BanditArms(run.ID)
			if err != nil {
				return fmt.Errorf("load arms: %w", err)
			}
			sold, err := e.db.Events(run.ID, "sold", 0, 5)
			if err != nil {
				return fmt.Errorf("load events: %w", err)
			}

			if e.jsonOut {
				return e.printJSON(map[string]any{
					"run":         run,
					"steps":       len(steps),
					"bandit_arms": arms,
					"first_sales": sold,
				})
			}
			fmt.Fprintf(e.out, "Run %s (%s, %s)\n", run.ID, run.Kind, run.Strategy)
			fmt.Fprintf(e.out, "  created      %s (%s)\n", run.CreatedAt.Format("2006-01-02 15:04:05"), humanize.Time(run.CreatedAt))
			fmt.Fprintf(e.out, "  seed         %d\n", run.Seed)
			fmt.Fprintf(e.out, "  revenue      %s\n", humanize.CommafWithDigits(run.Revenue, 2))
			fmt.Fprintf(e.out, "  regret       %s (%.2f per customer)\n", humanize.CommafWithDigits(run.Regret, 2), run.AvgRegret)
			fmt.Fprintf(e.out, "  sold         %s (%.1f%%)\n", humanize.Comma(int64(run.NSold)), 100*run.SoldFraction)
			if run.HasSales {
				fmt.Fprintf(e.out, "  time to sale %.2f\n", run.AvgTimeToSale)
			}
			fmt.Fprintf(e.out, "  events       %s\n", humanize.Comma(int64(run.EventsProcessed)))
			if len(steps) > 0 {
				fmt.Fprintf(e.out, "  optimizer    %d steps, best %.2f\n", len(steps), steps[len(steps)-1].BestFitness)
			}
			if len(arms) > 0 {
				fmt.Fprintf(e.out, "  bandit arms  %d\n", len(arms))
			}
			for _, ev := range sold {
				fmt.Fprintf(e.out, "  sale t=%.2f customer %d group %d price %.2f\n", ev.Time, ev.Customer, ev.Group, ev.Price)
			}
			return nil
		},
	}
}

func newRunsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a run and everything recorded for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := storeEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.db.DeleteRun(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(e.out, "Deleted run %s\n", args[0])
			return nil
		},
	}
}
