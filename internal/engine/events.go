package engine

import (
	"encoding/json"
	"fmt"
)

// EventKind classifies a recorded event.
type EventKind uint8

const (
	EventArrival EventKind = iota // customer visited and was offered a price
	EventSold                     // customer bought; terminal
	EventQuit                     // price far above WTP; terminal
)

// String returns the lowercase event name.
func (k EventKind) String() string {
	switch k {
	case EventArrival:
		return "arrival"
	case EventSold:
		return "sold"
	case EventQuit:
		return "quit"
	default:
		return "unknown"
	}
}

// ParseEventKind is the inverse of String.
func ParseEventKind(s string) (EventKind, error) {
	switch s {
	case "arrival":
		return EventArrival, nil
	case "sold":
		return EventSold, nil
	case "quit":
		return EventQuit, nil
	}
	return 0, fmt.Errorf("unknown event kind %q", s)
}

// MarshalJSON encodes the kind by name.
func (k EventKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes a kind name.
func (k *EventKind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseEventKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Event is an immutable record of one occurrence with a snapshot of the
// customer's state at that instant. It is for analysis only; the engine never
// reads it back.
type Event struct {
	Time           float64   `json:"t"`
	Kind           EventKind `json:"event"`
	Customer       int       `json:"customer"`
	Group          int       `json:"group"`
	PerceivedGroup int       `json:"perceived_group"`
	Visit          int       `json:"visit"`
	Period         int       `json:"period"`
	Price          float64   `json:"price"`
	WTP            float64   `json:"customer_wtp"`
	AdjustedWTP    float64   `json:"adjusted_wtp"`
	MaxWTP         float64   `json:"customer_max_wtp"`
	IRP            float64   `json:"irp"`
	ERP            float64   `json:"erp"`
	RP             float64   `json:"rp"`
}
