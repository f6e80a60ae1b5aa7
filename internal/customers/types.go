// Package customers provides the customer data model, the population factory,
// and the reference-price behavioral model.
package customers

// Customer is one simulated buyer. Customers live in a Population arena and are
// addressed by index; ID always equals the index.
type Customer struct {
	ID             int `json:"id"`
	Group          int `json:"group"`           // true segment
	PerceivedGroup int `json:"perceived_group"` // segment the seller sees

	// Reference prices.
	IRP float64 `json:"irp"` // internal: smoothed offered prices
	ERP float64 `json:"erp"` // external: word of mouth
	RP  float64 `json:"rp"`  // blended

	// Willingness to pay.
	WTP        float64 `json:"wtp"`
	MaxWTP     float64 `json:"max_wtp"` // ceiling, fixed at spawn
	InitialWTP float64 `json:"initial_wtp"`

	PriceHistory []float64 `json:"price_history"` // paid prices; at most one entry
	Visits       int       `json:"visits"`        // resolved visits so far

	Neighbors []int `json:"-"` // shared with the network, read-only
}

// Purchased reports whether the customer has bought.
func (c *Customer) Purchased() bool {
	return len(c.PriceHistory) > 0
}

// LastPrice returns the most recent paid price.
func (c *Customer) LastPrice() (float64, bool) {
	if len(c.PriceHistory) == 0 {
		return 0, false
	}
	return c.PriceHistory[len(c.PriceHistory)-1], true
}
