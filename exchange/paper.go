package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/raykavin/traderun/core"
	"github.com/raykavin/traderun/logger"
)

// PaperVenue is a simulated execution venue driven by the candle stream.
// Market orders fill at the close of the candle being processed, limit and
// stop orders trigger against subsequent candle ranges, and orders past
// their ValidUntil expire. It implements core.Broker and core.CandleSubscriber.
type PaperVenue struct {
	mu  sync.Mutex
	log logger.Logger

	refCounter int
	callback   func(core.StatusUpdate)

	resting     map[string]core.Order
	restingRefs []string
	lastClose   map[string]float64
}

// NewPaperVenue creates a paper venue with no market data yet. Market
// orders submitted before the first candle rest until it arrives.
func NewPaperVenue(log logger.Logger) *PaperVenue {
	return &PaperVenue{
		log:       log,
		resting:   make(map[string]core.Order),
		lastClose: make(map[string]float64),
	}
}

// OnStatusUpdate registers the execution report callback
func (v *PaperVenue) OnStatusUpdate(fn func(core.StatusUpdate)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.callback = fn
}

// SubmitOrder accepts an order and assigns a venue ref. Market orders with
// a known last price fill immediately; everything else rests until a
// candle triggers or expires it.
func (v *PaperVenue) SubmitOrder(_ context.Context, ord core.Order) (core.Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.refCounter++
	ord.Ref = fmt.Sprintf("P-%d", v.refCounter)
	ord.Status = core.OrderStatusTypeAccepted

	if ord.Type == core.OrderTypeMarket {
		if price, ok := v.lastClose[ord.Instrument]; ok {
			v.emit(core.StatusUpdate{
				Ref:           ord.Ref,
				Status:        core.OrderStatusTypeFilled,
				ExecutedPrice: price,
				ExecutedSize:  ord.Quantity,
				Time:          time.Now(),
			})
			return ord, nil
		}
	}

	v.resting[ord.Ref] = ord
	v.restingRefs = append(v.restingRefs, ord.Ref)
	return ord, nil
}

// CancelOrder cancels a resting order. The terminal report is emitted
// through the status callback like any venue resolution.
func (v *PaperVenue) CancelOrder(_ context.Context, ref string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	ord, ok := v.resting[ref]
	if !ok {
		return fmt.Errorf("paper venue: unknown or resolved order ref %s", ref)
	}

	v.removeResting(ref)
	v.emit(core.StatusUpdate{
		Ref:    ord.Ref,
		Status: core.OrderStatusTypeCanceled,
		Time:   time.Now(),
	})
	return nil
}

// OnCandle walks resting orders against the candle in submission order, so
// identical inputs always resolve the same way. Expiries are checked before
// trigger conditions. At most one leg per bracket group fills per candle,
// the sibling waits for its cancel.
func (v *PaperVenue) OnCandle(candle core.Candle) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.lastClose[candle.Instrument] = candle.Close

	filledGroups := make(map[string]bool)

	refs := append([]string(nil), v.restingRefs...)
	for _, ref := range refs {
		ord, ok := v.resting[ref]
		if !ok || ord.Instrument != candle.Instrument {
			continue
		}

		if ord.ValidUntil != nil && candle.Time.After(*ord.ValidUntil) {
			v.removeResting(ref)
			v.emit(core.StatusUpdate{
				Ref:    ord.Ref,
				Status: core.OrderStatusTypeExpired,
				Time:   candle.Time,
			})
			continue
		}

		if ord.GroupID != nil && filledGroups[*ord.GroupID] {
			continue
		}

		price, triggered := triggerPrice(ord, candle)
		if !triggered {
			continue
		}

		v.removeResting(ref)
		if ord.GroupID != nil {
			filledGroups[*ord.GroupID] = true
		}

		v.emit(core.StatusUpdate{
			Ref:           ord.Ref,
			Status:        core.OrderStatusTypeFilled,
			ExecutedPrice: price,
			ExecutedSize:  ord.Quantity,
			Time:          candle.Time,
		})
	}
}

func (v *PaperVenue) removeResting(ref string) {
	delete(v.resting, ref)
	for i, r := range v.restingRefs {
		if r == ref {
			v.restingRefs = append(v.restingRefs[:i], v.restingRefs[i+1:]...)
			break
		}
	}
}

// Resting reports whether an order ref still rests at the venue
func (v *PaperVenue) Resting(ref string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.resting[ref]
	return ok
}

func (v *PaperVenue) emit(u core.StatusUpdate) {
	if v.callback == nil {
		v.log.WithField("ref", u.Ref).Warn("paper venue report dropped, no callback registered")
		return
	}
	v.callback(u)
}

// triggerPrice decides whether the candle's range executes the order and
// at what price. Fills happen at the order's own price, conservative
// against gaps.
func triggerPrice(ord core.Order, candle core.Candle) (float64, bool) {
	switch ord.Type {
	case core.OrderTypeMarket:
		return candle.Open, true

	case core.OrderTypeLimit:
		if ord.Side == core.SideTypeBuy && candle.Low <= ord.Price {
			return ord.Price, true
		}
		if ord.Side == core.SideTypeSell && candle.High >= ord.Price {
			return ord.Price, true
		}

	case core.OrderTypeStop:
		if ord.Stop == nil {
			return 0, false
		}
		if ord.Side == core.SideTypeBuy && candle.High >= *ord.Stop {
			return *ord.Stop, true
		}
		if ord.Side == core.SideTypeSell && candle.Low <= *ord.Stop {
			return *ord.Stop, true
		}
	}

	return 0, false
}
