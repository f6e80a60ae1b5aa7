package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/talgya/pricing-sim/internal/config"
	"github.com/talgya/pricing-sim/internal/engine"
	"github.com/talgya/pricing-sim/internal/entropy"
	"github.com/talgya/pricing-sim/internal/logging"
	"github.com/talgya/pricing-sim/internal/optimize"
	"github.com/talgya/pricing-sim/internal/persistence"
	"github.com/talgya/pricing-sim/internal/publish"
)

// env is everything a command needs once configuration is loaded.
type env struct {
	cfg     *config.Config
	seeds   *entropy.Client
	db      *persistence.DB
	pub     publish.Publisher
	out     io.Writer
	errOut  io.Writer
	jsonOut bool
}

// setup loads configuration, installs the logger and opens the configured
// store and publisher.
func setup(cmd *cobra.Command) (*env, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	logging.Install(cfg.Logging.Level, cmd.ErrOrStderr())

	jsonOut, _ := cmd.Flags().GetBool("json")
	e := &env{
		cfg:     cfg,
		seeds:   entropy.NewClient(cfg.Entropy.RandomOrgAPIKey),
		out:     cmd.OutOrStdout(),
		errOut:  cmd.ErrOrStderr(),
		jsonOut: jsonOut,
	}

	if cfg.Database.Driver != "" {
		db, err := persistence.Open(cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", cfg.Database.Driver, err)
		}
		e.db = db
		slog.Debug("store opened", "driver", cfg.Database.Driver)
	}

	logPub := publish.LogPublisher{Logger: slog.Default()}
	if len(cfg.Kafka.Brokers) > 0 {
		e.pub = publish.Multi{publish.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic), logPub}
	} else {
		e.pub = logPub
	}
	return e, nil
}

// Close releases the store and the publisher.
func (e *env) Close() {
	if err := e.pub.Close(); err != nil {
		slog.Warn("closing publisher", "error", err)
	}
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			slog.Warn("closing store", "error", err)
		}
	}
}

// seed returns the configured seed, or a fresh one when it is zero.
func (e *env) seed(override int64) int64 {
	if override != 0 {
		return override
	}
	return entropy.Resolve(e.cfg.Simulation.Seed, e.seeds)
}

// evaluator builds the replicated fitness function for the configured market.
func (e *env) evaluator(seed int64, replications int) *optimize.Evaluator {
	if replications <= 0 {
		replications = e.cfg.Simulation.Replications
	}
	var opts []engine.Option
	if season := e.cfg.Seasonality(seed); season != nil {
		opts = append(opts, engine.WithSeasonality(season))
	}
	return optimize.NewEvaluator(e.cfg.Problem, replications, e.cfg.Simulation.Workers, seed, opts...)
}

// record stores a finished run when a store is configured, runs save for the
// run's artifacts, and publishes the summary. It returns the run id.
func (e *env) record(ctx context.Context, kind, strategyName string, seed int64, res engine.Result, save func(runID string) error) (string, error) {
	run, err := persistence.NewRun(kind, strategyName, seed, e.cfg.Problem, res)
	if err != nil {
		return "", err
	}
	if e.db != nil {
		if err := e.db.SaveRun(run, res.Events, res.Customers); err != nil {
			return "", fmt.Errorf("save run: %w", err)
		}
		if save != nil {
			if err := save(run.ID); err != nil {
				return "", fmt.Errorf("save artifacts for run %s: %w", run.ID, err)
			}
		}
	}
	if err := e.pub.Publish(ctx, publish.NewSummary(run.ID, kind, strategyName, seed, res)); err != nil {
		slog.Warn("publish failed", "run", run.ID, "error", err)
	}
	return run.ID, nil
}

// progress returns an optimizer callback drawing a bar on a terminal, and a
// function to finish it. Off a terminal both are no-ops.
func (e *env) progress(total int, description string) (optimize.Progress, func()) {
	f, ok := e.errOut.(*os.File)
	if e.jsonOut || !ok || !(isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return nil, func() {}
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(f),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	return func(optimize.Step) { _ = bar.Add(1) }, func() { _ = bar.Finish() }
}

// printJSON writes v indented.
func (e *env) printJSON(v any) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printResult writes the one-line text summary of a run.
func (e *env) printResult(label, runID string, res engine.Result) {
	timeToSale := "n/a"
	if res.HasSales {
		timeToSale = fmt.Sprintf("%.2f", res.AvgTimeToSale)
	}
	fmt.Fprintf(e.out, "%s  revenue %s  regret %s  sold %s/%s (%.1f%%)  avg time to sale %s  events %s\n",
		label,
		humanize.CommafWithDigits(res.Revenue, 2),
		humanize.CommafWithDigits(res.Regret, 2),
		humanize.Comma(int64(res.NSold)),
		humanize.Comma(int64(e.cfg.Problem.NumCustomers())),
		100*res.SoldFraction,
		timeToSale,
		humanize.Comma(int64(res.EventsProcessed)),
	)
	if runID != "" && e.db != nil {
		fmt.Fprintf(e.out, "  saved as run %s\n", runID)
	}
}
