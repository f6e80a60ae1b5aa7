// Package engine runs the discrete-event market: one customer visit is
// resolved per step against the pricing strategy in force.
package engine

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"github.com/talgya/pricing-sim/internal/customers"
	"github.com/talgya/pricing-sim/internal/network"
	"github.com/talgya/pricing-sim/internal/settings"
	"github.com/talgya/pricing-sim/internal/strategy"
)

// Simulation holds the state of one run. It is single-threaded; independent
// runs share nothing and may execute in parallel.
type Simulation struct {
	Settings   settings.ProblemSettings
	Network    *network.Network
	Population *customers.Population
	Calendar   *Calendar
	Strategy   strategy.Strategy
	Seasons    *Seasonality

	Now       float64 // time of the last processed visit
	Processed int     // visits resolved so far
	Events    []Event // nil when history is disabled

	sold        int
	saleTimeSum float64
	ledger      ledger
	done        bool

	record  bool
	onEvent func(Event)
	rng     *rand.Rand
}

// Option configures a Simulation.
type Option func(*Simulation)

// WithSeasonality modulates WTP over time.
func WithSeasonality(s *Seasonality) Option {
	return func(sim *Simulation) { sim.Seasons = s }
}

// WithoutHistory skips storing the event history. Optimizers evaluating many
// candidates only need the totals.
func WithoutHistory() Option {
	return func(sim *Simulation) { sim.record = false }
}

// WithEventHook calls fn for every recorded event, whether or not the
// history is kept.
func WithEventHook(fn func(Event)) Option {
	return func(sim *Simulation) { sim.onEvent = fn }
}

// WithNetwork uses a prebuilt network instead of generating one.
func WithNetwork(net *network.Network) Option {
	return func(sim *Simulation) { sim.Network = net }
}

// NewSimulation builds the network, spawns the population and schedules one
// initial arrival per customer. It panics on invalid settings.
func NewSimulation(s settings.ProblemSettings, strat strategy.Strategy, rng *rand.Rand, opts ...Option) *Simulation {
	s.MustValidate()

	sim := &Simulation{
		Settings: s,
		Strategy: strat,
		record:   true,
		rng:      rng,
	}
	for _, opt := range opts {
		opt(sim)
	}

	if sim.Network == nil {
		sim.Network = network.Build(s, rng)
	}
	sim.Population = customers.NewSpawner(s, rng).SpawnPopulation(sim.Network)
	sim.Calendar = NewCalendar(sim.Population.Len())

	// First arrivals are drawn as if the last offer matched WTP.
	for id := 0; id < sim.Population.Len(); id++ {
		c := sim.Population.At(id)
		sim.Calendar.Push(Visit{
			Time:     sim.Population.NextVisit(id, 0, c.WTP, rng),
			Customer: id,
		})
	}
	if sim.record {
		sim.Events = make([]Event, 0, 2*sim.Population.Len())
	}
	return sim
}

// Done reports whether the run has terminated.
func (sim *Simulation) Done() bool {
	return sim.done
}

// Step resolves the next visit. It returns false once the calendar is empty,
// the next visit lies beyond the horizon, or the event budget is spent.
func (sim *Simulation) Step() bool {
	if sim.done {
		return false
	}
	if sim.Processed >= sim.Settings.MaxEvents {
		sim.done = true
		return false
	}
	v, ok := sim.Calendar.Pop()
	if !ok || v.Time > float64(sim.Settings.NPeriods) {
		// Later visits can only be later still.
		sim.done = true
		return false
	}

	sim.Now = v.Time
	sim.Processed++
	sim.resolve(v)
	return true
}

func (sim *Simulation) resolve(v Visit) {
	id := v.Customer
	c := sim.Population.At(id)
	period := sim.period(v.Time)

	price := sim.Strategy.Price(c.PerceivedGroup, c.Visits, period)
	if math.IsNaN(price) || math.IsInf(price, 0) {
		panic(fmt.Sprintf("engine: strategy returned price %v for group %d visit %d period %d",
			price, c.PerceivedGroup, c.Visits, period))
	}

	adjusted := sim.Seasons.Adjust(c.WTP, v.Time, c.Group)
	sim.emit(EventArrival, v.Time, period, price, adjusted, c)

	switch {
	case price > adjusted*sim.Settings.HardRejectMultiplier:
		sim.ledger.quit(adjusted)
		sim.emit(EventQuit, v.Time, period, price, adjusted, c)
		sim.Strategy.UpdateAverageReward(c.PerceivedGroup, c.Visits, period, 0, price)

	case sim.rng.Float64() < PurchaseProbability(price, adjusted, sim.Settings.PurchaseSharpness):
		sim.ledger.sale(price, adjusted)
		sim.sold++
		sim.saleTimeSum += v.Time
		sim.Population.RecordPurchase(id, price)
		sim.emit(EventSold, v.Time, period, price, adjusted, c)
		sim.Strategy.UpdateAverageReward(c.PerceivedGroup, c.Visits, period, price, price)

	default:
		sim.Calendar.Push(Visit{
			Time:     sim.Population.NextVisit(id, v.Time, price, sim.rng),
			Customer: id,
		})
	}

	c.Visits++
	sim.Population.Update(id, price, sim.rng)
}

// period maps a time to a strategy period in [0, NPeriods).
func (sim *Simulation) period(t float64) int {
	p := int(math.Floor(t))
	if p < 0 {
		return 0
	}
	if p >= sim.Settings.NPeriods {
		return sim.Settings.NPeriods - 1
	}
	return p
}

func (sim *Simulation) emit(kind EventKind, t float64, period int, price, adjusted float64, c *customers.Customer) {
	if !sim.record && sim.onEvent == nil {
		return
	}
	e := Event{
		Time:           t,
		Kind:           kind,
		Customer:       c.ID,
		Group:          c.Group,
		PerceivedGroup: c.PerceivedGroup,
		Visit:          c.Visits,
		Period:         period,
		Price:          price,
		WTP:            c.WTP,
		AdjustedWTP:    adjusted,
		MaxWTP:         c.MaxWTP,
		IRP:            c.IRP,
		ERP:            c.ERP,
		RP:             c.RP,
	}
	if sim.record {
		sim.Events = append(sim.Events, e)
	}
	if sim.onEvent != nil {
		sim.onEvent(e)
	}
}

// RunToEnd steps until termination and returns the result.
func (sim *Simulation) RunToEnd() Result {
	for sim.Step() {
	}
	r := sim.Result()
	slog.Debug("simulation finished",
		"customers", sim.Population.Len(),
		"events", r.EventsProcessed,
		"sold", r.NSold,
		"revenue", fmt.Sprintf("%.3f", r.Revenue),
		"regret", fmt.Sprintf("%.3f", r.Regret),
	)
	return r
}

// Run executes one complete simulation.
func Run(s settings.ProblemSettings, strat strategy.Strategy, rng *rand.Rand, opts ...Option) Result {
	return NewSimulation(s, strat, rng, opts...).RunToEnd()
}

// PurchaseProbability is the logistic acceptance probability of a price given
// the adjusted WTP. A non-positive WTP never buys.
func PurchaseProbability(price, adjustedWTP, sharpness float64) float64 {
	if adjustedWTP <= 0 {
		return 0
	}
	gap := (adjustedWTP - price) / adjustedWTP
	return 1 / (1 + math.Exp(-sharpness*gap))
}
