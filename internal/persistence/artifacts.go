package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/talgya/pricing-sim/internal/optimize"
	"github.com/talgya/pricing-sim/internal/strategy"
)

// SavePriceMatrix stores the policy a run used or found.
func (db *DB) SavePriceMatrix(runID string, m *strategy.PriceMatrix) error {
	prices, err := json.Marshal(m.Prices)
	if err != nil {
		return fmt.Errorf("encode prices: %w", err)
	}
	_, err = db.conn.Exec(
		"INSERT INTO price_matrices (run_id, n_groups, n_visits, n_periods, prices_json) VALUES (?, ?, ?, ?, ?)",
		runID, m.Groups, m.Visits, m.Periods, string(prices),
	)
	return err
}

// PriceMatrix loads a stored policy.
func (db *DB) PriceMatrix(runID string) (*strategy.PriceMatrix, error) {
	var row struct {
		Groups  int    `db:"n_groups"`
		Visits  int    `db:"n_visits"`
		Periods int    `db:"n_periods"`
		Prices  string `db:"prices_json"`
	}
	err := db.conn.Get(&row,
		"SELECT n_groups, n_visits, n_periods, prices_json FROM price_matrices WHERE run_id = ?", runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("price matrix for run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	m := strategy.NewPriceMatrix(row.Groups, row.Visits, row.Periods)
	if err := json.Unmarshal([]byte(row.Prices), &m.Prices); err != nil {
		return nil, fmt.Errorf("decode prices for run %s: %w", runID, err)
	}
	if len(m.Prices) != row.Groups*row.Visits*row.Periods {
		return nil, fmt.Errorf("price matrix for run %s has %d cells, want %d", runID, len(m.Prices), row.Groups*row.Visits*row.Periods)
	}
	return m, nil
}

// SaveOptimizerSteps appends an optimizer trace.
func (db *DB) SaveOptimizerSteps(runID string, steps []optimize.Step) error {
	if len(steps) == 0 {
		return nil
	}
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Preparex(`INSERT INTO optimizer_steps
		(run_id, algorithm, iteration, candidate, fitness, best_fitness)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range steps {
		if _, err := stmt.Exec(runID, s.Algorithm, s.Iteration, s.Candidate, s.Fitness, s.BestFitness); err != nil {
			return fmt.Errorf("insert step %d/%d: %w", s.Iteration, s.Candidate, err)
		}
	}
	return tx.Commit()
}

// OptimizerSteps returns a run's optimizer trace in insertion order.
func (db *DB) OptimizerSteps(runID string) ([]optimize.Step, error) {
	var steps []optimize.Step
	err := db.conn.Select(&steps,
		"SELECT algorithm, iteration, candidate, fitness, best_fitness FROM optimizer_steps WHERE run_id = ? ORDER BY id",
		runID)
	return steps, err
}

type armRow struct {
	Group         int     `db:"grp"`
	Period        int     `db:"period"`
	Price         float64 `db:"price"`
	AverageReward float64 `db:"average_reward"`
	Pulls         int     `db:"pulls"`
}

// SaveBanditArms stores a trained bandit's best-arm table.
func (db *DB) SaveBanditArms(runID string, arms []strategy.BestArm) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, a := range arms {
		_, err := tx.Exec(
			"INSERT INTO bandit_arms (run_id, grp, period, price, average_reward, pulls) VALUES (?, ?, ?, ?, ?, ?)",
			runID, a.Group, a.Period, a.Price, a.AverageReward, a.Pulls,
		)
		if err != nil {
			return fmt.Errorf("insert arm %d/%d: %w", a.Group, a.Period, err)
		}
	}
	return tx.Commit()
}

// BanditArms returns a stored best-arm table ordered by group and period.
func (db *DB) BanditArms(runID string) ([]strategy.BestArm, error) {
	var rows []armRow
	err := db.conn.Select(&rows,
		"SELECT grp, period, price, average_reward, pulls FROM bandit_arms WHERE run_id = ? ORDER BY grp, period",
		runID)
	if err != nil {
		return nil, err
	}
	arms := make([]strategy.BestArm, len(rows))
	for i, r := range rows {
		arms[i] = strategy.BestArm{
			Group:  r.Group,
			Period: r.Period,
			Arm:    strategy.Arm{Price: r.Price, AverageReward: r.AverageReward, Pulls: r.Pulls},
		}
	}
	return arms, nil
}
