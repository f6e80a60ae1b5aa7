// Package settings holds the immutable per-run problem description shared by
// the network builder, the customer population, and the simulation driver.
package settings

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidSettings is wrapped by every Validate failure.
var ErrInvalidSettings = errors.New("settings: invalid problem settings")

// ProblemSettings describes one market. It is never mutated during a run.
type ProblemSettings struct {
	// Population composition.
	GroupSizes []int     `json:"group_sizes" yaml:"group_sizes"`
	GroupMeans []float64 `json:"group_means" yaml:"group_means"` // mean WTP per group, before scaling
	Scaling    float64   `json:"scaling" yaml:"scaling"`
	WTPStdDev  float64   `json:"wtp_stddev" yaml:"wtp_stddev"`

	// Reference-price dynamics.
	Tau    float64 `json:"tau" yaml:"tau"`       // price-anchoring speed
	Alpha  float64 `json:"alpha" yaml:"alpha"`   // diminishing-sensitivity exponent
	Lambda float64 `json:"lambda" yaml:"lambda"` // loss aversion multiplier
	Eta    float64 `json:"eta" yaml:"eta"`       // external/internal blend weight

	// Network topology.
	KNeighbors     int     `json:"k_neighbors" yaml:"k_neighbors"`
	PIntra         float64 `json:"p_intra" yaml:"p_intra"`
	PInter         float64 `json:"p_inter" yaml:"p_inter"`
	GlobalWOMProb  float64 `json:"global_wom_prob" yaml:"global_wom_prob"`
	AllowSelfLoops bool    `json:"allow_self_loops" yaml:"allow_self_loops"`

	// Simulation bounds.
	NPeriods      int     `json:"n_periods" yaml:"n_periods"`
	MaxEvents     int     `json:"max_events" yaml:"max_events"`
	BaseVisitRate float64 `json:"base_visit_rate" yaml:"base_visit_rate"`

	// Strategy-facing dimensions.
	NVisits              int     `json:"n_visits" yaml:"n_visits"`
	NumPredictedGroups   int     `json:"num_predicted_groups" yaml:"num_predicted_groups"`
	MisclassificationP   float64 `json:"misclassification_prob" yaml:"misclassification_prob"`
	MaxPrice             float64 `json:"max_price" yaml:"max_price"`
	PurchaseSharpness    float64 `json:"purchase_sharpness" yaml:"purchase_sharpness"`
	HardRejectMultiplier float64 `json:"hard_reject_multiplier" yaml:"hard_reject_multiplier"`
}

// Default returns the three-segment market used by the command line when no
// configuration file overrides it.
func Default() ProblemSettings {
	return ProblemSettings{
		GroupSizes: []int{40, 20, 60},
		GroupMeans: []float64{2.0, 5.0, 1.25},
		Scaling:    100,
		WTPStdDev:  5,

		Tau:    0.5,
		Alpha:  0.88,
		Lambda: 2.25,
		Eta:    0.5,

		KNeighbors:    4,
		PIntra:        0.1,
		PInter:        0.05,
		GlobalWOMProb: 0.01,

		NPeriods:      100,
		MaxEvents:     100000,
		BaseVisitRate: 0.1,

		NVisits:              10,
		NumPredictedGroups:   3,
		MisclassificationP:   0.1,
		MaxPrice:             600,
		PurchaseSharpness:    10,
		HardRejectMultiplier: 1.2,
	}
}

// NumGroups returns the number of true customer segments.
func (s ProblemSettings) NumGroups() int {
	return len(s.GroupSizes)
}

// NumCustomers returns the total population size.
func (s ProblemSettings) NumCustomers() int {
	n := 0
	for _, size := range s.GroupSizes {
		n += size
	}
	return n
}

// GroupStarts returns the first customer index of every group plus a final
// entry equal to NumCustomers, so group g occupies [starts[g], starts[g+1]).
func (s ProblemSettings) GroupStarts() []int {
	starts := make([]int, len(s.GroupSizes)+1)
	for g, size := range s.GroupSizes {
		starts[g+1] = starts[g] + size
	}
	return starts
}

// GroupOf returns the true group of a customer index.
func (s ProblemSettings) GroupOf(id int) int {
	end := 0
	for g, size := range s.GroupSizes {
		end += size
		if id < end {
			return g
		}
	}
	panic(fmt.Sprintf("settings: customer %d outside population of %d", id, end))
}

// Validate reports the first configuration error found. Group sizes must
// exceed KNeighbors so the ring lattice can be built.
func (s ProblemSettings) Validate() error {
	if len(s.GroupSizes) == 0 {
		return fmt.Errorf("%w: no groups", ErrInvalidSettings)
	}
	if len(s.GroupMeans) != len(s.GroupSizes) {
		return fmt.Errorf("%w: %d group means for %d groups", ErrInvalidSettings, len(s.GroupMeans), len(s.GroupSizes))
	}
	if s.KNeighbors < 0 {
		return fmt.Errorf("%w: k_neighbors=%d < 0", ErrInvalidSettings, s.KNeighbors)
	}
	for g, size := range s.GroupSizes {
		if size <= 0 {
			return fmt.Errorf("%w: group %d has size %d", ErrInvalidSettings, g, size)
		}
		if size <= s.KNeighbors {
			return fmt.Errorf("%w: group %d size %d must exceed k_neighbors=%d", ErrInvalidSettings, g, size, s.KNeighbors)
		}
	}
	for name, p := range map[string]float64{
		"p_intra":                s.PIntra,
		"p_inter":                s.PInter,
		"global_wom_prob":        s.GlobalWOMProb,
		"misclassification_prob": s.MisclassificationP,
		"tau":                    s.Tau,
		"eta":                    s.Eta,
	} {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return fmt.Errorf("%w: %s=%v outside [0,1]", ErrInvalidSettings, name, p)
		}
	}
	if s.Alpha <= 0 || s.Lambda <= 0 {
		return fmt.Errorf("%w: alpha=%v lambda=%v must be positive", ErrInvalidSettings, s.Alpha, s.Lambda)
	}
	if s.NPeriods <= 0 || s.MaxEvents <= 0 || s.NVisits <= 0 || s.NumPredictedGroups <= 0 {
		return fmt.Errorf("%w: n_periods, max_events, n_visits and num_predicted_groups must be positive", ErrInvalidSettings)
	}
	if s.BaseVisitRate <= 0 || s.PurchaseSharpness <= 0 || s.HardRejectMultiplier <= 0 {
		return fmt.Errorf("%w: base_visit_rate, purchase_sharpness and hard_reject_multiplier must be positive", ErrInvalidSettings)
	}
	if s.Scaling <= 0 || s.WTPStdDev < 0 || s.MaxPrice <= 0 || math.IsInf(s.MaxPrice, 0) {
		return fmt.Errorf("%w: scaling, wtp_stddev or max_price out of range", ErrInvalidSettings)
	}
	return nil
}

// MustValidate panics on invalid settings. Used by builders that treat a bad
// configuration as a programmer error.
func (s ProblemSettings) MustValidate() {
	if err := s.Validate(); err != nil {
		panic(err)
	}
}
