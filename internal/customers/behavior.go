// Reference-price state machine. Each resolved visit runs
// UpdateIRP → UpdateERP → UpdateRP → UpdateWTP in that order.
package customers

import (
	"math"
	"math/rand"

	"golang.org/x/exp/constraints"
)

// minVisitRate keeps the inter-visit exponential well defined.
const minVisitRate = 1e-6

// UpdateIRP anchors the internal reference price toward the offered price.
func (c *Customer) UpdateIRP(price, tau float64) {
	c.IRP = tau*price + (1-tau)*c.IRP
}

// SetERP sets the external reference price to the mean of the collected
// signals, or to the customer's own WTP when nothing was heard.
func (c *Customer) SetERP(signalSum float64, signalCount int) {
	if signalCount == 0 {
		c.ERP = c.WTP
		return
	}
	c.ERP = signalSum / float64(signalCount)
}

// UpdateRP blends the two reference prices. A customer who hears of higher
// prices outside keeps anchoring to the lower internal one.
func (c *Customer) UpdateRP(eta float64) {
	if c.ERP > c.IRP {
		c.RP = c.IRP
		return
	}
	c.RP = eta*c.ERP + (1-eta)*c.IRP
}

// UpdateWTP moves WTP toward RP with diminishing sensitivity, amplifying
// losses by lambda. WTP stays within [0, MaxWTP].
func (c *Customer) UpdateWTP(alpha, lambda float64) {
	if c.RP > c.WTP {
		c.WTP += math.Pow(c.RP-c.WTP, alpha)
	} else {
		c.WTP -= lambda * math.Pow(c.WTP-c.RP, alpha)
	}
	c.WTP = clamp(c.WTP, 0, c.MaxWTP)
}

// NextVisit draws the next arrival time. Visits recur faster when the last
// offered price was close to WTP.
func (c *Customer) NextVisit(now, lastPrice, baseRate float64, rng *rand.Rand) float64 {
	gap := math.Abs(lastPrice-c.WTP) / math.Max(c.WTP, 1e-9)
	rate := math.Max(baseRate/(1+gap), minVisitRate)
	return now + rng.ExpFloat64()/rate
}

func clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// forEachBernoulli calls fn for every index in [0, n) selected independently
// with probability p, jumping between hits with geometric skips so the cost is
// proportional to the number of hits.
func forEachBernoulli(n int, p float64, rng *rand.Rand, fn func(int)) {
	if n <= 0 || p <= 0 {
		return
	}
	if p >= 1 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}
	logq := math.Log1p(-p)
	for i := -1; ; {
		skip := math.Floor(math.Log(1-rng.Float64()) / logq)
		if skip >= float64(n-i) {
			return
		}
		i += int(skip) + 1
		if i >= n {
			return
		}
		fn(i)
	}
}
