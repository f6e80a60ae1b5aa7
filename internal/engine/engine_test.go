package engine

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/pricing-sim/internal/settings"
	"github.com/talgya/pricing-sim/internal/strategy"
)

func smallSettings() settings.ProblemSettings {
	s := settings.Default()
	s.GroupSizes = []int{15, 10, 20}
	s.NPeriods = 30
	s.MaxEvents = 10000
	return s
}

func TestCalendarOrdering(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	c := NewCalendar(0)
	last := math.Inf(-1)
	popped := 0
	for i := 0; i < 2000; i++ {
		if rng.Intn(3) > 0 {
			// Pushes never go back in time relative to what was popped.
			c.Push(Visit{Time: math.Max(last, 0) + rng.Float64()*10, Customer: i})
			continue
		}
		v, ok := c.Pop()
		if !ok {
			continue
		}
		assert.GreaterOrEqual(t, v.Time, last)
		last = v.Time
		popped++
	}
	for c.Len() > 0 {
		v, _ := c.Pop()
		assert.GreaterOrEqual(t, v.Time, last)
		last = v.Time
		popped++
	}
	assert.Greater(t, popped, 0)
	_, ok := c.Pop()
	assert.False(t, ok)
}

func TestCalendarTiesAreFIFO(t *testing.T) {
	c := NewCalendar(4)
	c.Push(Visit{Time: 2, Customer: 9})
	c.Push(Visit{Time: 1, Customer: 1})
	c.Push(Visit{Time: 1, Customer: 2})
	c.Push(Visit{Time: 1, Customer: 3})

	v, ok := c.Peek()
	require.True(t, ok)
	assert.Equal(t, 1, v.Customer)

	var order []int
	for c.Len() > 0 {
		v, _ := c.Pop()
		order = append(order, v.Customer)
	}
	assert.Equal(t, []int{1, 2, 3, 9}, order)

	_, ok = c.Peek()
	assert.False(t, ok)
}

func TestEventKindNames(t *testing.T) {
	for _, k := range []EventKind{EventArrival, EventSold, EventQuit} {
		got, err := ParseEventKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)

		b, err := k.MarshalJSON()
		require.NoError(t, err)
		var back EventKind
		require.NoError(t, back.UnmarshalJSON(b))
		assert.Equal(t, k, back)
	}
	_, err := ParseEventKind("refund")
	assert.Error(t, err)
	assert.Equal(t, "unknown", EventKind(42).String())
}

func TestLedgerIsExact(t *testing.T) {
	var l ledger
	for i := 0; i < 10; i++ {
		l.sale(0.1, 0.3)
	}
	l.quit(5)
	revenue, regret := l.totals()
	assert.Equal(t, 1.0, revenue)
	assert.Equal(t, 7.0, regret)
}

func TestPurchaseProbability(t *testing.T) {
	assert.InDelta(t, 0.5, PurchaseProbability(100, 100, 10), 1e-12)
	assert.Equal(t, 0.0, PurchaseProbability(0, 0, 10))
	assert.Equal(t, 0.0, PurchaseProbability(10, -5, 10))

	prev := 1.0
	for price := 0.0; price <= 200; price += 10 {
		p := PurchaseProbability(price, 100, 10)
		assert.LessOrEqual(t, p, prev)
		assert.GreaterOrEqual(t, p, 0.0)
		prev = p
	}
	// Steeper scale is closer to a threshold.
	assert.Greater(t, PurchaseProbability(90, 100, 50), PurchaseProbability(90, 100, 10))
}

func TestRunInvariants(t *testing.T) {
	s := smallSettings()
	for seed := int64(1); seed <= 5; seed++ {
		rng := rand.New(rand.NewSource(seed))
		r := Run(s, strategy.Constant(180), rng)

		var revenue, regret float64
		soldBy := map[int]int{}
		terminal := map[int]bool{}
		last := math.Inf(-1)
		arrivals := 0
		for i, e := range r.Events {
			assert.GreaterOrEqual(t, e.Time, last)
			last = e.Time
			assert.False(t, terminal[e.Customer], "customer %d has an event after a terminal one", e.Customer)

			switch e.Kind {
			case EventArrival:
				arrivals++
			case EventSold:
				revenue += e.Price
				regret += e.AdjustedWTP - e.Price
				soldBy[e.Customer]++
				terminal[e.Customer] = true
			case EventQuit:
				regret += e.AdjustedWTP
				terminal[e.Customer] = true
			}
			if e.Kind != EventArrival {
				prev := r.Events[i-1]
				assert.Equal(t, EventArrival, prev.Kind)
				assert.Equal(t, e.Customer, prev.Customer)
				assert.Equal(t, e.Time, prev.Time)
			}
		}

		assert.InDelta(t, revenue, r.Revenue, 1e-6)
		assert.InDelta(t, regret, r.Regret, 1e-6)
		assert.Equal(t, arrivals, r.EventsProcessed)
		for id, n := range soldBy {
			assert.Equal(t, 1, n, "customer %d sold more than once", id)
		}
		assert.Equal(t, len(soldBy), r.NSold)
		assert.GreaterOrEqual(t, r.SoldFraction, 0.0)
		assert.LessOrEqual(t, r.SoldFraction, 1.0)
		assert.InDelta(t, r.Regret/float64(s.NumCustomers()), r.AvgRegret, 1e-9)
		assert.LessOrEqual(t, last, float64(s.NPeriods))

		total := 0
		for _, n := range r.SoldByGroup {
			total += n
		}
		assert.Equal(t, r.NSold, total)
		assert.Len(t, r.Customers, s.NumCustomers())
		assert.False(t, math.IsNaN(r.AvgTimeToSale))
	}
}

func TestScenarioSingleCustomerBuysAtZero(t *testing.T) {
	s := settings.Default()
	s.GroupSizes = []int{1}
	s.GroupMeans = []float64{2}
	s.KNeighbors = 0
	s.NumPredictedGroups = 1
	s.MisclassificationP = 0
	s.PurchaseSharpness = 50
	s.BaseVisitRate = 10

	r := Run(s, strategy.Constant(0), rand.New(rand.NewSource(7)))

	require.Len(t, r.Events, 2)
	assert.Equal(t, EventArrival, r.Events[0].Kind)
	assert.Equal(t, EventSold, r.Events[1].Kind)
	assert.Greater(t, r.Events[1].WTP, 0.0)
	assert.Equal(t, 0.0, r.Revenue)
	assert.Equal(t, 1, r.NSold)
	assert.Equal(t, 1.0, r.SoldFraction)
	assert.True(t, r.HasSales)
	assert.Equal(t, r.Events[1].Time, r.AvgTimeToSale)
	assert.True(t, r.Customers[0].Purchased())
}

func TestScenarioPriceAboveEveryoneQuits(t *testing.T) {
	s := smallSettings()
	r := Run(s, strategy.Constant(10*s.MaxPrice), rand.New(rand.NewSource(3)))

	first := map[int]EventKind{}
	for _, e := range r.Events {
		if e.Kind == EventArrival {
			continue
		}
		if _, seen := first[e.Customer]; !seen {
			first[e.Customer] = e.Kind
		}
	}
	require.NotEmpty(t, first)
	for id, k := range first {
		assert.Equal(t, EventQuit, k, "customer %d", id)
	}
	assert.Equal(t, 0.0, r.Revenue)
	assert.Greater(t, r.Regret, 0.0)
	assert.Equal(t, 0.0, r.SoldFraction)
	assert.False(t, r.HasSales)
	assert.Equal(t, NoSales, r.AvgTimeToSale)
}

func TestScenarioSymmetricGroups(t *testing.T) {
	s := settings.Default()
	s.GroupSizes = []int{200, 200}
	s.GroupMeans = []float64{2, 2}
	s.NumPredictedGroups = 2
	s.NPeriods = 50

	b := Batch{Settings: s, Replications: 20, Workers: 4, Seed: 11, Options: []Option{WithoutHistory()}}
	results, err := b.Run(context.Background(), func(int) strategy.Strategy {
		return strategy.Constant(s.GroupMeans[0] * s.Scaling)
	})
	require.NoError(t, err)
	require.Len(t, results, 20)

	var a, c float64
	for _, r := range results {
		a += float64(r.SoldByGroup[0]) / 200
		c += float64(r.SoldByGroup[1]) / 200
	}
	a /= float64(len(results))
	c /= float64(len(results))
	assert.Greater(t, a, 0.0)
	assert.InDelta(t, a, c, 0.05)
}

func TestStrategyFeedbackOnlyOnTerminalBranches(t *testing.T) {
	s := smallSettings()
	type call struct {
		reward, price float64
	}
	var calls []call
	strat := strategy.Func{
		PriceFn: func(group, visit, period int) float64 {
			assert.Less(t, group, s.NumPredictedGroups)
			assert.Less(t, period, s.NPeriods)
			return 150 + float64(visit)*20
		},
		FeedbackFn: func(group, visit, period int, reward, price float64) {
			calls = append(calls, call{reward, price})
		},
	}
	r := Run(s, strat, rand.New(rand.NewSource(5)))

	var terminal []call
	for _, e := range r.Events {
		switch e.Kind {
		case EventSold:
			terminal = append(terminal, call{e.Price, e.Price})
		case EventQuit:
			terminal = append(terminal, call{0, e.Price})
		}
	}
	assert.Equal(t, terminal, calls)
}

func TestRunIsDeterministicPerSeed(t *testing.T) {
	s := smallSettings()
	a := Run(s, strategy.Constant(190), rand.New(rand.NewSource(42)))
	b := Run(s, strategy.Constant(190), rand.New(rand.NewSource(42)))
	assert.Equal(t, a.Revenue, b.Revenue)
	assert.Equal(t, a.Events, b.Events)
}

func TestHistoryOptions(t *testing.T) {
	s := smallSettings()
	full := Run(s, strategy.Constant(190), rand.New(rand.NewSource(9)))

	var hooked []Event
	bare := Run(s, strategy.Constant(190), rand.New(rand.NewSource(9)),
		WithoutHistory(), WithEventHook(func(e Event) { hooked = append(hooked, e) }))

	assert.Nil(t, bare.Events)
	assert.Equal(t, full.Events, hooked)
	assert.Equal(t, full.Revenue, bare.Revenue)
}

func TestEventBudgetStopsRun(t *testing.T) {
	s := smallSettings()
	s.MaxEvents = 5
	s.BaseVisitRate = 10
	r := Run(s, strategy.Constant(190), rand.New(rand.NewSource(2)))
	assert.Equal(t, 5, r.EventsProcessed)
}

func TestStepAfterDone(t *testing.T) {
	s := smallSettings()
	s.BaseVisitRate = 10
	sim := NewSimulation(s, strategy.Constant(10*s.MaxPrice), rand.New(rand.NewSource(4)))
	for sim.Step() {
	}
	assert.True(t, sim.Done())
	assert.False(t, sim.Step())
	assert.Equal(t, 0, sim.Calendar.Len(), "every customer quit")
}

func TestNonFinitePricePanics(t *testing.T) {
	s := smallSettings()
	assert.Panics(t, func() {
		Run(s, strategy.Constant(math.NaN()), rand.New(rand.NewSource(1)))
	})
}

func TestInvalidSettingsPanic(t *testing.T) {
	s := smallSettings()
	s.GroupSizes = []int{3}
	s.GroupMeans = []float64{2}
	assert.Panics(t, func() {
		Run(s, strategy.Constant(1), rand.New(rand.NewSource(1)))
	})
}

func TestSeasonality(t *testing.T) {
	var none *Seasonality
	assert.Equal(t, 1.0, none.Factor(3, 0))
	assert.Equal(t, 80.0, none.Adjust(80, 3, 0))

	sine := NewSeasonality(0.5, 4, 0, 1)
	assert.InDelta(t, 1.5, sine.Factor(1, 0), 1e-12)
	assert.InDelta(t, 0.5, sine.Factor(3, 0), 1e-12)

	deep := NewSeasonality(2, 4, 0, 1)
	assert.Equal(t, 0.0, deep.Factor(3, 0))

	noisy := NewSeasonality(0, 0, 0.2, 5)
	for ti := 0.0; ti < 50; ti += 0.7 {
		f := noisy.Factor(ti, 1)
		assert.GreaterOrEqual(t, f, 0.8-1e-9)
		assert.LessOrEqual(t, f, 1.2+1e-9)
	}
}

func TestSeasonalRunUsesAdjustedWTP(t *testing.T) {
	s := smallSettings()
	seasons := NewSeasonality(0.3, 10, 0, 1)
	r := Run(s, strategy.Constant(190), rand.New(rand.NewSource(6)), WithSeasonality(seasons))
	for _, e := range r.Events {
		assert.InDelta(t, seasons.Adjust(e.WTP, e.Time, e.Group), e.AdjustedWTP, 1e-9)
	}
}

func TestBatchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := Batch{Settings: smallSettings(), Replications: 50, Workers: 1}
	_, err := b.Run(ctx, func(int) strategy.Strategy { return strategy.Constant(1) })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSummarize(t *testing.T) {
	s := Summarize(nil)
	assert.Equal(t, -1, s.BestRun)

	s = Summarize([]Result{
		{Revenue: 10, Regret: 2, SoldFraction: 0.5},
		{Revenue: 30, Regret: 4, SoldFraction: 1},
	})
	assert.Equal(t, 2, s.Runs)
	assert.Equal(t, 20.0, s.MeanRevenue)
	assert.Equal(t, 10.0, s.StdRevenue)
	assert.Equal(t, 3.0, s.MeanRegret)
	assert.Equal(t, 0.75, s.MeanSoldFraction)
	assert.Equal(t, 1, s.BestRun)
}
