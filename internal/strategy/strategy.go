// Package strategy defines the pricing-policy boundary of the simulation and
// the policies that ship with it.
package strategy

// Strategy proposes prices and receives feedback. The engine calls Price on
// every visit and UpdateAverageReward only when a visit ends in a sale or a
// quit, never when the customer is merely requeued. Implementations may keep
// internal state but must not block.
type Strategy interface {
	Price(group, visit, period int) float64
	UpdateAverageReward(group, visit, period int, reward, price float64)
}

// Constant offers the same price to everyone.
type Constant float64

// Price implements Strategy.
func (c Constant) Price(group, visit, period int) float64 {
	return float64(c)
}

// UpdateAverageReward implements Strategy; a constant price learns nothing.
func (c Constant) UpdateAverageReward(group, visit, period int, reward, price float64) {}

// Func adapts plain functions to Strategy. A nil Feedback is ignored.
type Func struct {
	PriceFn    func(group, visit, period int) float64
	FeedbackFn func(group, visit, period int, reward, price float64)
}

// Price implements Strategy.
func (f Func) Price(group, visit, period int) float64 {
	return f.PriceFn(group, visit, period)
}

// UpdateAverageReward implements Strategy.
func (f Func) UpdateAverageReward(group, visit, period int, reward, price float64) {
	if f.FeedbackFn != nil {
		f.FeedbackFn(group, visit, period, reward, price)
	}
}
