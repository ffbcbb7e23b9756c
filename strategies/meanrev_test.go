package strategies

import (
	"testing"
	"time"

	"github.com/raykavin/traderun/core"
	"github.com/raykavin/traderun/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bracketCall struct {
	instrument      string
	side            core.SideType
	riskFraction    float64
	takeProfitPrice float64
	stopPrice       float64
	validity        core.Validity
}

// fakeTrader records strategy signals without touching a venue
type fakeTrader struct {
	pending  bool
	size     float64
	brackets []bracketCall
}

func (f *fakeTrader) PlaceEntry(string, core.SideType, float64) (core.Order, error) {
	return core.Order{}, nil
}

func (f *fakeTrader) PlaceBracket(instrument string, side core.SideType, riskFraction,
	takeProfitPrice, stopPrice float64, validity core.Validity) (core.Order, error) {
	f.brackets = append(f.brackets, bracketCall{
		instrument:      instrument,
		side:            side,
		riskFraction:    riskFraction,
		takeProfitPrice: takeProfitPrice,
		stopPrice:       stopPrice,
		validity:        validity,
	})
	return core.Order{Ref: "F-1"}, nil
}

func (f *fakeTrader) Cancel(core.Order) error            { return nil }
func (f *fakeTrader) HasPending(string) bool             { return f.pending }
func (f *fakeTrader) Position(string) (float64, float64) { return f.size, 0 }
func (f *fakeTrader) TradeReturns(string) core.TradeReturns {
	return core.TradeReturns{}
}

func runBars(strategy *MeanReversion, trader *fakeTrader, closes []float64) {
	start := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		strategy.OnBar(core.Candle{
			Instrument: "EURUSD",
			Time:       start.Add(time.Duration(i) * time.Hour),
			Open:       c,
			High:       c,
			Low:        c,
			Close:      c,
			Complete:   true,
		}, trader)
	}
}

func quietCloses(n int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100.0
		if i%2 == 1 {
			closes[i] = 100.2
		}
	}
	return closes
}

func TestMeanReversion_EntersOnDipBelowBand(t *testing.T) {
	config := DefaultMeanReversionConfig()
	strategy := NewMeanReversion(config, logger.Discard)
	trader := &fakeTrader{}

	closes := append(quietCloses(30), 90.0)
	runBars(strategy, trader, closes)

	require.Len(t, trader.brackets, 1)
	call := trader.brackets[0]
	assert.Equal(t, "EURUSD", call.instrument)
	assert.Equal(t, core.SideTypeBuy, call.side)
	assert.Equal(t, config.RiskFraction, call.riskFraction)
	assert.Greater(t, call.takeProfitPrice, 90.0)
	assert.Less(t, call.stopPrice, 90.0)
	assert.Equal(t, config.EntryValidity, call.validity.Entry)
}

func TestMeanReversion_QuietMarketStaysFlat(t *testing.T) {
	strategy := NewMeanReversion(DefaultMeanReversionConfig(), logger.Discard)
	trader := &fakeTrader{}

	runBars(strategy, trader, quietCloses(60))
	assert.Empty(t, trader.brackets)
}

func TestMeanReversion_NoReentryWhilePendingOrPositioned(t *testing.T) {
	strategy := NewMeanReversion(DefaultMeanReversionConfig(), logger.Discard)

	trader := &fakeTrader{pending: true}
	runBars(strategy, trader, append(quietCloses(30), 90.0))
	assert.Empty(t, trader.brackets)

	strategy = NewMeanReversion(DefaultMeanReversionConfig(), logger.Discard)
	trader = &fakeTrader{size: 2000}
	runBars(strategy, trader, append(quietCloses(30), 90.0))
	assert.Empty(t, trader.brackets)
}
