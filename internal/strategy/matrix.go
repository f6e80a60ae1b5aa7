package strategy

import (
	"fmt"
	"math/rand"
)

// PriceMatrix is a static policy indexed by group, visit and period.
// Out-of-range indices are clamped to the nearest cell.
type PriceMatrix struct {
	Groups  int       `json:"groups"`
	Visits  int       `json:"visits"`
	Periods int       `json:"periods"`
	Prices  []float64 `json:"prices"` // row-major: group, visit, period
}

// NewPriceMatrix returns a zero-filled matrix.
func NewPriceMatrix(groups, visits, periods int) *PriceMatrix {
	if groups <= 0 || visits <= 0 || periods <= 0 {
		panic(fmt.Sprintf("strategy: price matrix dimensions %dx%dx%d", groups, visits, periods))
	}
	return &PriceMatrix{
		Groups:  groups,
		Visits:  visits,
		Periods: periods,
		Prices:  make([]float64, groups*visits*periods),
	}
}

// UniformMatrix fills every cell of a group with that group's start price.
func UniformMatrix(startPrices []float64, visits, periods int) *PriceMatrix {
	m := NewPriceMatrix(len(startPrices), visits, periods)
	for g, p := range startPrices {
		for w := 0; w < visits; w++ {
			for t := 0; t < periods; t++ {
				m.Set(g, w, t, p)
			}
		}
	}
	return m
}

// RandomMatrix draws every cell uniformly from [0, maxPrice).
func RandomMatrix(groups, visits, periods int, maxPrice float64, rng *rand.Rand) *PriceMatrix {
	m := NewPriceMatrix(groups, visits, periods)
	for i := range m.Prices {
		m.Prices[i] = rng.Float64() * maxPrice
	}
	return m
}

func (m *PriceMatrix) index(group, visit, period int) int {
	group = clampIndex(group, m.Groups)
	visit = clampIndex(visit, m.Visits)
	period = clampIndex(period, m.Periods)
	return (group*m.Visits+visit)*m.Periods + period
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// Get returns a cell.
func (m *PriceMatrix) Get(group, visit, period int) float64 {
	return m.Prices[m.index(group, visit, period)]
}

// Set assigns a cell.
func (m *PriceMatrix) Set(group, visit, period int, price float64) {
	m.Prices[m.index(group, visit, period)] = price
}

// Clone returns an independent copy.
func (m *PriceMatrix) Clone() *PriceMatrix {
	cp := *m
	cp.Prices = append([]float64(nil), m.Prices...)
	return &cp
}

// Cells calls fn for every cell in row-major order.
func (m *PriceMatrix) Cells(fn func(group, visit, period int, price float64)) {
	i := 0
	for g := 0; g < m.Groups; g++ {
		for w := 0; w < m.Visits; w++ {
			for t := 0; t < m.Periods; t++ {
				fn(g, w, t, m.Prices[i])
				i++
			}
		}
	}
}

// Price implements Strategy.
func (m *PriceMatrix) Price(group, visit, period int) float64 {
	return m.Get(group, visit, period)
}

// UpdateAverageReward implements Strategy. A matrix is judged by total
// fitness across runs, not by per-visit rewards.
func (m *PriceMatrix) UpdateAverageReward(group, visit, period int, reward, price float64) {}
