package order

import (
	"math"
	"time"

	"github.com/raykavin/traderun/core"
)

// Position represents the current net exposure on an instrument.
// Size is signed: positive long, negative short.
type Position struct {
	Instrument string
	Size       float64
	AvgPrice   float64
	CreatedAt  time.Time
}

// Book tracks net positions per instrument and tags venue executions as
// opening or closing fills. A position exists from the first non-zero fill
// until net size returns to zero.
type Book struct {
	positions map[string]*Position
}

// NewBook creates an empty position book
func NewBook() *Book {
	return &Book{positions: make(map[string]*Position)}
}

// Position returns the net size and weighted average entry price for an
// instrument, both zero when flat
func (b *Book) Position(instrument string) (size, avgPrice float64) {
	p, ok := b.positions[instrument]
	if !ok {
		return 0, 0
	}
	return p.Size, p.AvgPrice
}

// Apply registers a signed execution (buy positive) against the book. The
// execution is split into role-tagged fills: the part reducing an opposite
// position closes, any remainder opens. Returns the tagged fills and
// whether the instrument is flat afterwards.
func (b *Book) Apply(instrument string, size, price float64, ts time.Time) (fills []core.Fill, flat bool) {
	if size == 0 {
		_, exists := b.positions[instrument]
		return nil, !exists
	}

	p, ok := b.positions[instrument]
	if !ok || p.Size == 0 {
		b.positions[instrument] = &Position{
			Instrument: instrument,
			Size:       size,
			AvgPrice:   price,
			CreatedAt:  ts,
		}
		return []core.Fill{{
			Time:       ts,
			Instrument: instrument,
			Size:       size,
			Price:      price,
			Role:       core.FillRoleOpen,
		}}, false
	}

	// Same direction: scale in, recompute weighted average entry
	if sameSign(p.Size, size) {
		p.AvgPrice = weightedAverage(p.AvgPrice, p.Size, price, size)
		p.Size += size
		return []core.Fill{{
			Time:       ts,
			Instrument: instrument,
			Size:       size,
			Price:      price,
			Role:       core.FillRoleOpen,
		}}, false
	}

	// Opposite direction: close up to the held size, open the remainder
	closeQty := math.Min(math.Abs(size), math.Abs(p.Size))
	closeSize := math.Copysign(closeQty, size)

	fills = append(fills, core.Fill{
		Time:       ts,
		Instrument: instrument,
		Size:       closeSize,
		Price:      price,
		Role:       core.FillRoleClose,
	})

	p.Size += closeSize
	remainder := size - closeSize

	if p.Size == 0 {
		delete(b.positions, instrument)
	}

	if remainder != 0 {
		// Position reversed: the surplus opens a fresh trade
		b.positions[instrument] = &Position{
			Instrument: instrument,
			Size:       remainder,
			AvgPrice:   price,
			CreatedAt:  ts,
		}
		fills = append(fills, core.Fill{
			Time:       ts,
			Instrument: instrument,
			Size:       remainder,
			Price:      price,
			Role:       core.FillRoleOpen,
		})
		return fills, false
	}

	_, exists := b.positions[instrument]
	return fills, !exists
}

func sameSign(a, b float64) bool {
	return (a > 0) == (b > 0)
}

func weightedAverage(price1, quantity1, price2, quantity2 float64) float64 {
	q1 := math.Abs(quantity1)
	q2 := math.Abs(quantity2)
	return (price1*q1 + price2*q2) / (q1 + q2)
}
