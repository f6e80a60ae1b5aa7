package engine

import "github.com/talgya/pricing-sim/internal/customers"

// NoSales is the AvgTimeToSale sentinel when nobody purchased.
const NoSales = -1.0

// Result summarizes one run for the optimization layer.
type Result struct {
	Revenue         float64 `json:"revenue"`
	Regret          float64 `json:"regret"`
	AvgRegret       float64 `json:"avg_regret"` // per customer
	NSold           int     `json:"n_sold"`
	SoldFraction    float64 `json:"sold_fraction"`
	SoldByGroup     []int   `json:"sold_by_group"` // indexed by true group
	AvgTimeToSale   float64 `json:"avg_time_to_sale"`
	HasSales        bool    `json:"has_sales"`
	EventsProcessed int     `json:"events_processed"`
	EndTime         float64 `json:"end_time"`

	Events    []Event              `json:"-"`
	Customers []customers.Customer `json:"-"`
}

// Result assembles the run summary from the current state. It may be called
// before the run ends.
func (sim *Simulation) Result() Result {
	n := sim.Population.Len()
	revenue, regret := sim.ledger.totals()

	r := Result{
		Revenue:         revenue,
		Regret:          regret,
		NSold:           sim.sold,
		SoldByGroup:     make([]int, sim.Settings.NumGroups()),
		AvgTimeToSale:   NoSales,
		EventsProcessed: sim.Processed,
		EndTime:         sim.Now,
		Events:          sim.Events,
		Customers:       sim.Population.Snapshot(),
	}
	if n > 0 {
		r.AvgRegret = regret / float64(n)
		r.SoldFraction = float64(sim.sold) / float64(n)
	}
	if sim.sold > 0 {
		r.HasSales = true
		r.AvgTimeToSale = sim.saleTimeSum / float64(sim.sold)
	}
	for _, c := range r.Customers {
		if c.Purchased() {
			r.SoldByGroup[c.Group]++
		}
	}
	return r
}
