package order

import (
	"math"

	"github.com/raykavin/traderun/core"
	"github.com/raykavin/traderun/logger"
)

// Accountant reconstructs round-trip trade economics from a chronological
// stream of role-tagged fills, partitioned by instrument. A trade spans
// from the first open fill until the net position returns to exactly zero.
//
// Two return series accumulate per instrument across the run: one entry
// per partial close, and one entry per original open leg, the latter
// computed against the volume-weighted close price once the trade flattens.
type Accountant struct {
	log     logger.Logger
	trades  map[string]*tradeState
	results map[string]*core.TradeReturns
	suspect map[string]bool
}

type tradeState struct {
	net           float64
	openPrices    []float64
	openSizes     []float64
	closePrices   []float64
	closeSizes    []float64
	lastCloseSize float64
}

// NewAccountant creates an accountant with empty state
func NewAccountant(log logger.Logger) *Accountant {
	return &Accountant{
		log:     log,
		trades:  make(map[string]*tradeState),
		results: make(map[string]*core.TradeReturns),
		suspect: make(map[string]bool),
	}
}

// OnFill consumes the next fill in arrival order. When the fill flattens
// the position, the full-close reconciliation runs and a TradeResult is
// returned; otherwise the result is nil.
//
// Per-open sign convention: the FINAL close fill's direction decides the
// sign for every open leg, even for trades entered on mixed sides. Keep it
// that way, downstream return series depend on it.
func (a *Accountant) OnFill(f core.Fill) *core.TradeResult {
	s, ok := a.trades[f.Instrument]
	if !ok {
		s = &tradeState{}
		a.trades[f.Instrument] = s
	}

	s.net += f.Size

	switch f.Role {
	case core.FillRoleOpen:
		s.openPrices = append(s.openPrices, f.Price)
		s.openSizes = append(s.openSizes, f.Size)
		return nil

	case core.FillRoleClose:
		s.closePrices = append(s.closePrices, f.Price)
		s.closeSizes = append(s.closeSizes, f.Size)
		s.lastCloseSize = f.Size

		avgOpen := weightedPrice(s.openPrices, s.openSizes)
		a.appendPerClose(f.Instrument, signedReturn(f.Price/avgOpen, f.Size))

		if s.net != 0 {
			return nil
		}
		return a.finalize(f)
	}

	return nil
}

// finalize runs the full-close reconciliation: the per-close contribution
// of the flattening fill has already been recorded.
func (a *Accountant) finalize(last core.Fill) *core.TradeResult {
	s := a.trades[last.Instrument]

	avgOpen := weightedPrice(s.openPrices, s.openSizes)
	avgClose := weightedPrice(s.closePrices, s.closeSizes)

	var quantity float64
	for _, size := range s.openSizes {
		quantity += size
	}

	side := core.SideTypeBuy
	if quantity < 0 {
		side = core.SideTypeSell
	}

	for _, openPrice := range s.openPrices {
		a.appendPerOpen(last.Instrument, signedReturn(avgClose/openPrice, s.lastCloseSize))
	}

	result := &core.TradeResult{
		Instrument: last.Instrument,
		Side:       side,
		AvgOpen:    avgOpen,
		AvgClose:   avgClose,
		Quantity:   math.Abs(quantity),
		Returns:    a.Returns(last.Instrument),
		ClosedAt:   last.Time,
		Suspect:    a.suspect[last.Instrument],
	}

	delete(a.trades, last.Instrument)
	return result
}

// Returns returns a copy of the accumulated return series for an instrument
func (a *Accountant) Returns(instrument string) core.TradeReturns {
	r, ok := a.results[instrument]
	if !ok {
		return core.TradeReturns{}
	}

	out := core.TradeReturns{
		PerClose: make([]float64, len(r.PerClose)),
		PerOpen:  make([]float64, len(r.PerOpen)),
	}
	copy(out.PerClose, r.PerClose)
	copy(out.PerOpen, r.PerOpen)
	return out
}

// Flag marks the instrument's accounting as suspect after an invariant
// violation. Processing continues; the flag surfaces on later results.
func (a *Accountant) Flag(instrument string) {
	a.suspect[instrument] = true
	a.log.WithField("instrument", instrument).
		Error("trade accounting flagged suspect: ", core.ErrInvariantViolation)
}

// Suspect reports whether the instrument's accounting has been flagged
func (a *Accountant) Suspect(instrument string) bool {
	return a.suspect[instrument]
}

func (a *Accountant) appendPerClose(instrument string, value float64) {
	r := a.ensureResults(instrument)
	r.PerClose = append(r.PerClose, round4(value))
}

func (a *Accountant) appendPerOpen(instrument string, value float64) {
	r := a.ensureResults(instrument)
	r.PerOpen = append(r.PerOpen, round4(value))
}

func (a *Accountant) ensureResults(instrument string) *core.TradeReturns {
	r, ok := a.results[instrument]
	if !ok {
		r = &core.TradeReturns{}
		a.results[instrument] = r
	}
	return r
}

// signedReturn normalizes a price ratio into a return so a profitable
// long shows positive: buy-side closes (reducing a short) flip the ratio.
func signedReturn(ratio, closeSize float64) float64 {
	if closeSize > 0 {
		return 1 - ratio
	}
	return ratio - 1
}

func weightedPrice(prices, sizes []float64) float64 {
	var weighted, total float64
	for i := range prices {
		weighted += prices[i] * sizes[i]
		total += sizes[i]
	}
	if total == 0 {
		return 0
	}
	return weighted / total
}

func round4(v float64) float64 {
	return math.Round(v*10_000) / 10_000
}
