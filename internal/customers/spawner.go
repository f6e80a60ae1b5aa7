package customers

import (
	"math"
	"math/rand"

	"github.com/talgya/pricing-sim/internal/network"
	"github.com/talgya/pricing-sim/internal/settings"
)

// Shape of the Beta distribution for the WTP headroom above the base draw.
const (
	headroomAlpha = 2
	headroomBeta  = 5
)

// Spawner creates customers for a run.
type Spawner struct {
	rng      *rand.Rand
	settings settings.ProblemSettings
}

// NewSpawner creates a spawner drawing from rng.
func NewSpawner(s settings.ProblemSettings, rng *rand.Rand) *Spawner {
	return &Spawner{rng: rng, settings: s}
}

// SpawnPopulation creates every customer, group by group in contiguous id
// ranges, and returns them bound to net.
func (s *Spawner) SpawnPopulation(net *network.Network) *Population {
	cs := make([]Customer, 0, s.settings.NumCustomers())
	for g, size := range s.settings.GroupSizes {
		for k := 0; k < size; k++ {
			cs = append(cs, s.spawnOne(len(cs), g))
		}
	}
	return NewPopulation(s.settings, net, cs)
}

func (s *Spawner) spawnOne(id, group int) Customer {
	mean := s.settings.GroupMeans[group] * s.settings.Scaling
	wtp := math.Max(0, mean+s.rng.NormFloat64()*s.settings.WTPStdDev)
	maxWTP := wtp * (1 + s.betaInt(headroomAlpha, headroomBeta))

	return Customer{
		ID:             id,
		Group:          group,
		PerceivedGroup: s.perceivedGroup(group),
		IRP:            wtp,
		ERP:            wtp,
		RP:             wtp,
		WTP:            wtp,
		MaxWTP:         maxWTP,
		InitialWTP:     wtp,
	}
}

// perceivedGroup is the segment a seller would predict for the customer.
func (s *Spawner) perceivedGroup(group int) int {
	n := s.settings.NumPredictedGroups
	if s.rng.Float64() < s.settings.MisclassificationP {
		return s.rng.Intn(n)
	}
	return group % n
}

// betaInt samples Beta(a, b) for integer shapes as X/(X+Y) with
// X ~ Gamma(a, 1) and Y ~ Gamma(b, 1), each a sum of unit exponentials.
func (s *Spawner) betaInt(a, b int) float64 {
	x := s.gammaInt(a)
	y := s.gammaInt(b)
	return x / (x + y)
}

func (s *Spawner) gammaInt(k int) float64 {
	total := 0.0
	for i := 0; i < k; i++ {
		total += s.rng.ExpFloat64()
	}
	return total
}
