package customers

import (
	"fmt"
	"math/rand"

	"github.com/talgya/pricing-sim/internal/network"
	"github.com/talgya/pricing-sim/internal/settings"
)

// Population is the per-run customer arena. It keeps, for every customer, the
// running sum and count of prices paid by its neighbors so the external
// reference price never has to rescan the population.
type Population struct {
	customers []Customer
	net       *network.Network
	settings  settings.ProblemSettings

	neighborSum   []float64
	neighborCount []int
}

// NewPopulation binds customers to a network. It panics when the two disagree
// on the population size.
func NewPopulation(s settings.ProblemSettings, net *network.Network, cs []Customer) *Population {
	if net.Len() != len(cs) {
		panic(fmt.Sprintf("customers: network has %d nodes for %d customers", net.Len(), len(cs)))
	}
	p := &Population{
		customers:     cs,
		net:           net,
		settings:      s,
		neighborSum:   make([]float64, len(cs)),
		neighborCount: make([]int, len(cs)),
	}
	for i := range p.customers {
		if p.customers[i].ID != i {
			panic(fmt.Sprintf("customers: customer at index %d has id %d", i, p.customers[i].ID))
		}
		p.customers[i].Neighbors = net.Neighbors(i)
		for _, price := range p.customers[i].PriceHistory {
			p.indexPurchase(i, price)
		}
	}
	return p
}

// Len returns the population size.
func (p *Population) Len() int {
	return len(p.customers)
}

// At returns the customer with the given id.
func (p *Population) At(id int) *Customer {
	return &p.customers[id]
}

// RecordPurchase appends a paid price and propagates it to every customer
// that listens to the buyer.
func (p *Population) RecordPurchase(id int, price float64) {
	c := &p.customers[id]
	if last, ok := c.LastPrice(); ok {
		// Only the last paid price counts as a signal.
		for _, f := range p.net.Followers(id) {
			p.neighborSum[f] -= last
			p.neighborCount[f]--
		}
	}
	c.PriceHistory = append(c.PriceHistory, price)
	p.indexPurchase(id, price)
}

func (p *Population) indexPurchase(id int, price float64) {
	for _, f := range p.net.Followers(id) {
		p.neighborSum[f] += price
		p.neighborCount[f]++
	}
}

// UpdateERP recomputes the external reference price of one customer from the
// neighbor-price index plus a word-of-mouth sample of other customers' WTP.
func (p *Population) UpdateERP(id int, rng *rand.Rand) {
	sum := p.neighborSum[id]
	count := p.neighborCount[id]

	// Sample over the n-1 other customers, skipping id itself.
	forEachBernoulli(len(p.customers)-1, p.settings.GlobalWOMProb, rng, func(k int) {
		if k >= id {
			k++
		}
		sum += p.customers[k].WTP
		count++
	})

	p.customers[id].SetERP(sum, count)
}

// Update runs the full four-step behavioral update for one resolved visit.
func (p *Population) Update(id int, price float64, rng *rand.Rand) {
	c := &p.customers[id]
	c.UpdateIRP(price, p.settings.Tau)
	p.UpdateERP(id, rng)
	c.UpdateRP(p.settings.Eta)
	c.UpdateWTP(p.settings.Alpha, p.settings.Lambda)
}

// NextVisit draws the next arrival time for a customer.
func (p *Population) NextVisit(id int, now, lastPrice float64, rng *rand.Rand) float64 {
	return p.customers[id].NextVisit(now, lastPrice, p.settings.BaseVisitRate, rng)
}

// Snapshot returns a deep copy of every customer's state.
func (p *Population) Snapshot() []Customer {
	out := make([]Customer, len(p.customers))
	for i, c := range p.customers {
		c.PriceHistory = append([]float64(nil), c.PriceHistory...)
		c.Neighbors = nil
		out[i] = c
	}
	return out
}
