package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/pricing-sim/internal/customers"
	"github.com/talgya/pricing-sim/internal/engine"
	"github.com/talgya/pricing-sim/internal/settings"
)

// Run is the stored summary of one simulation or optimizer run.
type Run struct {
	ID              string    `json:"id" db:"id"`
	Kind            string    `json:"kind" db:"kind"` // "simulate", "compare", "random", "evolve", "swarm", "bandit"
	Strategy        string    `json:"strategy" db:"strategy"`
	Seed            int64     `json:"seed" db:"seed"`
	CreatedUnixMs   int64     `json:"-" db:"created_at"`
	CreatedAt       time.Time `json:"created_at" db:"-"`
	SettingsJSON    string    `json:"-" db:"settings_json"`
	Revenue         float64   `json:"revenue" db:"revenue"`
	Regret          float64   `json:"regret" db:"regret"`
	AvgRegret       float64   `json:"avg_regret" db:"avg_regret"`
	NSold           int       `json:"n_sold" db:"n_sold"`
	SoldFraction    float64   `json:"sold_fraction" db:"sold_fraction"`
	AvgTimeToSale   float64   `json:"avg_time_to_sale" db:"avg_time_to_sale"`
	HasSales        bool      `json:"has_sales" db:"has_sales"`
	EventsProcessed int       `json:"events_processed" db:"events_processed"`
}

// NewRun creates a run record with a fresh id from a simulation result.
func NewRun(kind, strategy string, seed int64, s settings.ProblemSettings, r engine.Result) (Run, error) {
	settingsJSON, err := json.Marshal(s)
	if err != nil {
		return Run{}, fmt.Errorf("encode settings: %w", err)
	}
	now := time.Now().UTC()
	return Run{
		ID:              uuid.NewString(),
		Kind:            kind,
		Strategy:        strategy,
		Seed:            seed,
		CreatedUnixMs:   now.UnixMilli(),
		CreatedAt:       now,
		SettingsJSON:    string(settingsJSON),
		Revenue:         r.Revenue,
		Regret:          r.Regret,
		AvgRegret:       r.AvgRegret,
		NSold:           r.NSold,
		SoldFraction:    r.SoldFraction,
		AvgTimeToSale:   r.AvgTimeToSale,
		HasSales:        r.HasSales,
		EventsProcessed: r.EventsProcessed,
	}, nil
}

// Settings decodes the problem settings the run was made with.
func (r Run) Settings() (settings.ProblemSettings, error) {
	var s settings.ProblemSettings
	if err := json.Unmarshal([]byte(r.SettingsJSON), &s); err != nil {
		return s, fmt.Errorf("decode settings for run %s: %w", r.ID, err)
	}
	return s, nil
}

// SaveRun writes the run summary, its event history and the final customer
// snapshot in one transaction.
func (db *DB) SaveRun(run Run, events []engine.Event, cs []customers.Customer) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.NamedExec(`INSERT INTO runs
		(id, kind, strategy, seed, created_at, settings_json, revenue, regret, avg_regret,
		 n_sold, sold_fraction, avg_time_to_sale, has_sales, events_processed)
		VALUES (:id, :kind, :strategy, :seed, :created_at, :settings_json, :revenue, :regret, :avg_regret,
		 :n_sold, :sold_fraction, :avg_time_to_sale, :has_sales, :events_processed)`, run)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}

	if len(events) > 0 {
		stmt, err := tx.Preparex(`INSERT INTO events
			(run_id, seq, t, kind, customer, grp, perceived_group, visit, period,
			 price, wtp, adjusted_wtp, max_wtp, irp, erp, rp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, e := range events {
			_, err := stmt.Exec(run.ID, i, e.Time, e.Kind.String(), e.Customer, e.Group, e.PerceivedGroup,
				e.Visit, e.Period, e.Price, e.WTP, e.AdjustedWTP, e.MaxWTP, e.IRP, e.ERP, e.RP)
			if err != nil {
				return fmt.Errorf("insert event %d: %w", i, err)
			}
		}
	}

	if len(cs) > 0 {
		stmt, err := tx.Preparex(`INSERT INTO customers
			(run_id, id, grp, perceived_group, wtp, max_wtp, initial_wtp, irp, erp, rp, visits, price_history_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, c := range cs {
			history, _ := json.Marshal(c.PriceHistory)
			_, err := stmt.Exec(run.ID, c.ID, c.Group, c.PerceivedGroup, c.WTP, c.MaxWTP, c.InitialWTP,
				c.IRP, c.ERP, c.RP, c.Visits, string(history))
			if err != nil {
				return fmt.Errorf("insert customer %d: %w", c.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Debug("run saved", "id", run.ID, "kind", run.Kind, "events", len(events), "customers", len(cs))
	return nil
}

// GetRun returns one run by id.
func (db *DB) GetRun(id string) (Run, error) {
	var r Run
	err := db.conn.Get(&r, "SELECT * FROM runs WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return r, err
	}
	r.CreatedAt = time.UnixMilli(r.CreatedUnixMs).UTC()
	return r, nil
}

// ListRuns returns the most recent runs, newest first. An empty kind matches
// every run.
func (db *DB) ListRuns(kind string, limit int) ([]Run, error) {
	var runs []Run
	var err error
	if kind == "" {
		err = db.conn.Select(&runs, "SELECT * FROM runs ORDER BY created_at DESC, id LIMIT ?", limit)
	} else {
		err = db.conn.Select(&runs, "SELECT * FROM runs WHERE kind = ? ORDER BY created_at DESC, id LIMIT ?", kind, limit)
	}
	if err != nil {
		return nil, err
	}
	for i := range runs {
		runs[i].CreatedAt = time.UnixMilli(runs[i].CreatedUnixMs).UTC()
	}
	return runs, nil
}

type eventRow struct {
	Time           float64 `db:"t"`
	Kind           string  `db:"kind"`
	Customer       int     `db:"customer"`
	Group          int     `db:"grp"`
	PerceivedGroup int     `db:"perceived_group"`
	Visit          int     `db:"visit"`
	Period         int     `db:"period"`
	Price          float64 `db:"price"`
	WTP            float64 `db:"wtp"`
	AdjustedWTP    float64 `db:"adjusted_wtp"`
	MaxWTP         float64 `db:"max_wtp"`
	IRP            float64 `db:"irp"`
	ERP            float64 `db:"erp"`
	RP             float64 `db:"rp"`
}

// Events returns a run's history in order, starting after offset. A kind of
// "" matches every event.
func (db *DB) Events(runID, kind string, offset, limit int) ([]engine.Event, error) {
	const cols = "t, kind, customer, grp, perceived_group, visit, period, price, wtp, adjusted_wtp, max_wtp, irp, erp, rp"
	var rows []eventRow
	var err error
	if kind == "" {
		err = db.conn.Select(&rows,
			"SELECT "+cols+" FROM events WHERE run_id = ? ORDER BY seq LIMIT ? OFFSET ?",
			runID, limit, offset)
	} else {
		err = db.conn.Select(&rows,
			"SELECT "+cols+" FROM events WHERE run_id = ? AND kind = ? ORDER BY seq LIMIT ? OFFSET ?",
			runID, kind, limit, offset)
	}
	if err != nil {
		return nil, err
	}

	events := make([]engine.Event, len(rows))
	for i, r := range rows {
		k, err := engine.ParseEventKind(r.Kind)
		if err != nil {
			return nil, fmt.Errorf("event %d of run %s: %w", offset+i, runID, err)
		}
		events[i] = engine.Event{
			Time: r.Time, Kind: k, Customer: r.Customer, Group: r.Group, PerceivedGroup: r.PerceivedGroup,
			Visit: r.Visit, Period: r.Period, Price: r.Price, WTP: r.WTP, AdjustedWTP: r.AdjustedWTP,
			MaxWTP: r.MaxWTP, IRP: r.IRP, ERP: r.ERP, RP: r.RP,
		}
	}
	return events, nil
}

type customerRow struct {
	ID             int     `db:"id"`
	Group          int     `db:"grp"`
	PerceivedGroup int     `db:"perceived_group"`
	WTP            float64 `db:"wtp"`
	MaxWTP         float64 `db:"max_wtp"`
	InitialWTP     float64 `db:"initial_wtp"`
	IRP            float64 `db:"irp"`
	ERP            float64 `db:"erp"`
	RP             float64 `db:"rp"`
	Visits         int     `db:"visits"`
	HistoryJSON    string  `db:"price_history_json"`
}

// Customers returns the final customer snapshot of a run, ordered by id.
func (db *DB) Customers(runID string) ([]customers.Customer, error) {
	var rows []customerRow
	err := db.conn.Select(&rows,
		`SELECT id, grp, perceived_group, wtp, max_wtp, initial_wtp, irp, erp, rp, visits, price_history_json
		 FROM customers WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	cs := make([]customers.Customer, len(rows))
	for i, r := range rows {
		c := customers.Customer{
			ID: r.ID, Group: r.Group, PerceivedGroup: r.PerceivedGroup,
			IRP: r.IRP, ERP: r.ERP, RP: r.RP,
			WTP: r.WTP, MaxWTP: r.MaxWTP, InitialWTP: r.InitialWTP,
			Visits: r.Visits,
		}
		if err := json.Unmarshal([]byte(r.HistoryJSON), &c.PriceHistory); err != nil {
			return nil, fmt.Errorf("customer %d of run %s: %w", r.ID, runID, err)
		}
		cs[i] = c
	}
	return cs, nil
}

// DeleteRun removes a run and everything recorded for it.
func (db *DB) DeleteRun(id string) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"events", "customers", "price_matrices", "optimizer_steps", "bandit_arms"} {
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE run_id = ?", id); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	res, err := tx.Exec("DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return tx.Commit()
}
