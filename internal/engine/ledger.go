package engine

import "github.com/shopspring/decimal"

// ledger accumulates revenue and regret in decimal.
type ledger struct {
	revenue decimal.Decimal
	regret  decimal.Decimal
}

func (l *ledger) sale(price, adjustedWTP float64) {
	p := decimal.NewFromFloat(price)
	l.revenue = l.revenue.Add(p)
	l.regret = l.regret.Add(decimal.NewFromFloat(adjustedWTP).Sub(p))
}

func (l *ledger) quit(adjustedWTP float64) {
	l.regret = l.regret.Add(decimal.NewFromFloat(adjustedWTP))
}

func (l *ledger) totals() (revenue, regret float64) {
	return l.revenue.InexactFloat64(), l.regret.InexactFloat64()
}
