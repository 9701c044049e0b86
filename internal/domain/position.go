package domain

import "time"

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// Position represents an open position on the exchange.
// It is re-fetched every evaluation cycle and never persisted.
type Position struct {
	Exchange      string
	Symbol        string
	Side          Side
	Quantity      float64
	EntryPrice    float64
	CurrentPrice  float64
	UnrealizedPnL float64
	Leverage      int
}

// ProfitPercent is the directional price move since entry, in percent.
func (p *Position) ProfitPercent() float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	if p.Side == SideShort {
		return (p.EntryPrice - p.CurrentPrice) / p.EntryPrice * 100
	}
	return (p.CurrentPrice - p.EntryPrice) / p.EntryPrice * 100
}

// OrderFill is what the exchange reports back after a market order.
type OrderFill struct {
	OrderID  string
	Symbol   string
	Side     Side
	Quantity float64
	AvgPrice float64
	FilledAt time.Time
}

type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}
