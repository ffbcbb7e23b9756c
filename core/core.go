package core

import (
	"context"
	"time"
)

// Broker is the execution venue boundary. SubmitOrder returns the order
// decorated with the venue ref and initial status. Execution reports arrive
// asynchronously through the callback registered with OnStatusUpdate; they
// are ordered per ref but not across instruments.
type Broker interface {
	SubmitOrder(ctx context.Context, order Order) (Order, error)
	CancelOrder(ctx context.Context, ref string) error
	OnStatusUpdate(fn func(StatusUpdate))
}

// AccountSource supplies account equity and the static account parameters
type AccountSource interface {
	Equity() (float64, error)
	Leverage() float64
	CommissionRate() float64
}

// Feeder produces an ordered candle stream, strictly increasing in time
// per instrument
type Feeder interface {
	CandlesByLimit(ctx context.Context, instrument, timeframe string, limit int) ([]Candle, error)
	CandlesSubscription(ctx context.Context, instrument, timeframe string) (chan Candle, chan error)
}

// Trader is the surface the engine exposes to strategies
type Trader interface {
	// PlaceEntry sizes a market order from the risk fraction and submits it.
	// Returns ErrOrderBlocked while a prior order for the instrument is pending.
	PlaceEntry(instrument string, side SideType, riskFraction float64) (Order, error)

	// PlaceBracket submits a sized market entry and arms take-profit and
	// stop-loss legs once the entry fills, one-cancels-other.
	PlaceBracket(instrument string, side SideType, riskFraction,
		takeProfitPrice, stopPrice float64, validity Validity) (Order, error)

	// Cancel requests cancellation of an order at the venue
	Cancel(order Order) error

	// HasPending reports whether an order for the instrument awaits resolution
	HasPending(instrument string) bool

	// Position returns the current net size (signed) and weighted average
	// entry price, both zero when flat
	Position(instrument string) (size, avgPrice float64)

	// TradeReturns returns the per-close and per-open return series
	// reconstructed from fills for the instrument
	TradeReturns(instrument string) TradeReturns
}

// Strategy is the decision hook set driven by the engine
type Strategy interface {
	// Timeframe is the candle interval the strategy trades on. eg: 1h, 4h, 1d
	Timeframe() string
	// WarmupPeriod is the number of candles required before OnBar is called
	WarmupPeriod() int
	// OnBar is called once per completed candle
	OnBar(candle Candle, trader Trader)
	// OnOrderUpdate is called for every order status transition
	OnOrderUpdate(order Order)
	// OnTradeClosed is called when the position returns to flat
	OnTradeClosed(result TradeResult)
}

// Validity carries the lifetime windows of a bracket group: the entry order
// and each armed leg expire at submission time plus their window. A zero
// duration means good-till-canceled.
type Validity struct {
	Entry time.Duration
	Limit time.Duration
	Stop  time.Duration
}

// TradeReturns holds the two return series of trade reconstruction:
// one entry per partial close, and one entry per original open leg.
// PerOpen is only populated once the trade fully closes.
type TradeReturns struct {
	PerClose []float64
	PerOpen  []float64
}

// TradeResult describes a fully closed round trip
type TradeResult struct {
	Instrument string
	Side       SideType
	AvgOpen    float64
	AvgClose   float64
	Quantity   float64
	Returns    TradeReturns
	ClosedAt   time.Time
	Suspect    bool
}

// Notifier receives order events and errors for out-of-band delivery
type Notifier interface {
	Notify(message string)
	OnOrder(order Order)
	OnError(err error)
}

// NotifierWithStart is a notifier that needs its own receive loop
type NotifierWithStart interface {
	Notifier
	Start()
}
