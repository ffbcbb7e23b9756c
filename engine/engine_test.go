package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/raykavin/traderun/core"
	"github.com/raykavin/traderun/exchange"
	"github.com/raykavin/traderun/logger"
	"github.com/raykavin/traderun/retry"
	"github.com/raykavin/traderun/risk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptStrategy drives the engine from a per-bar callback and records
// everything the engine reports back
type scriptStrategy struct {
	timeframe string
	warmup    int
	onBar     func(candle core.Candle, trader core.Trader)

	barsSeen     int
	orderUpdates []core.Order
	closedTrades []core.TradeResult
}

func (s *scriptStrategy) Timeframe() string { return s.timeframe }
func (s *scriptStrategy) WarmupPeriod() int { return s.warmup }

func (s *scriptStrategy) OnBar(candle core.Candle, trader core.Trader) {
	s.barsSeen++
	if s.onBar != nil {
		s.onBar(candle, trader)
	}
}

func (s *scriptStrategy) OnOrderUpdate(ord core.Order) {
	s.orderUpdates = append(s.orderUpdates, ord)
}

func (s *scriptStrategy) OnTradeClosed(result core.TradeResult) {
	s.closedTrades = append(s.closedTrades, result)
}

// flakyVenue wraps the paper venue and fails the first failures submits
// with a retryable venue error
type flakyVenue struct {
	*exchange.PaperVenue
	failures int
}

func (v *flakyVenue) SubmitOrder(ctx context.Context, ord core.Order) (core.Order, error) {
	if v.failures > 0 {
		v.failures--
		return core.Order{}, core.NewVenueError("submitOrder", context.DeadlineExceeded)
	}
	return v.PaperVenue.SubmitOrder(ctx, ord)
}

var testParams = risk.Parameters{
	RiskFraction:   0.01,
	Leverage:       30,
	CommissionRate: 0,
	PipMultiplier:  0.0001,
}

func testCandle(ts time.Time, open, high, low, closePrice float64) core.Candle {
	return core.Candle{
		Instrument: "EURUSD",
		Time:       ts,
		Open:       open,
		High:       high,
		Low:        low,
		Close:      closePrice,
		Volume:     1000,
		Complete:   true,
	}
}

func newTestEngine(t *testing.T, broker core.Broker, venue *exchange.PaperVenue,
	strategy *scriptStrategy) (*Engine, *exchange.Account) {
	t.Helper()

	account := exchange.NewAccount(1000, 30, 0)
	eng, err := New(context.Background(), nil, broker, account, strategy,
		[]string{"EURUSD"}, testParams,
		WithLogger(logger.Discard),
		WithCandleSubscription(venue))
	require.NoError(t, err)
	return eng, account
}

func TestEngine_BracketRoundTrip(t *testing.T) {
	venue := exchange.NewPaperVenue(logger.Discard)
	strategy := &scriptStrategy{timeframe: "1h", warmup: 2}

	placed := false
	strategy.onBar = func(candle core.Candle, trader core.Trader) {
		if placed || trader.HasPending("EURUSD") {
			return
		}
		placed = true
		_, err := trader.PlaceBracket("EURUSD", core.SideTypeBuy, 0.01,
			1.2100, 1.1950, core.Validity{})
		require.NoError(t, err)
	}

	eng, account := newTestEngine(t, venue, venue, strategy)

	start := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	eng.ProcessCandle(testCandle(start, 1.2, 1.2, 1.2, 1.2))
	eng.ProcessCandle(testCandle(start.Add(time.Hour), 1.2, 1.2, 1.2, 1.2))
	require.Zero(t, strategy.barsSeen) // warmup

	// Bar 3: entry fills at the close, legs armed
	eng.ProcessCandle(testCandle(start.Add(2*time.Hour), 1.2, 1.201, 1.199, 1.2))
	size, avg := eng.Position("EURUSD")
	assert.Equal(t, 2000.0, size)
	assert.Equal(t, 1.2, avg)
	assert.True(t, eng.HasPending("EURUSD"))

	// Bar 4: high tags the take-profit, stop-loss canceled
	eng.ProcessCandle(testCandle(start.Add(3*time.Hour), 1.205, 1.2120, 1.1980, 1.21))

	size, _ = eng.Position("EURUSD")
	assert.Zero(t, size)
	assert.False(t, eng.HasPending("EURUSD"))

	require.Len(t, strategy.closedTrades, 1)
	result := strategy.closedTrades[0]
	assert.Equal(t, core.SideTypeBuy, result.Side)
	assert.Equal(t, 1.2, result.AvgOpen)
	assert.Equal(t, 1.21, result.AvgClose)
	assert.Equal(t, 2000.0, result.Quantity)
	assert.False(t, result.Suspect)
	assert.Equal(t, []float64{0.0083}, result.Returns.PerClose)

	// Profit flows back into equity
	equity, err := account.Equity()
	require.NoError(t, err)
	assert.InDelta(t, 1020.0, equity, 1e-9)

	summary := eng.SummaryFor("EURUSD")
	require.NotNil(t, summary)
	assert.Len(t, summary.WinLong, 1)
}

func TestEngine_StopLossPath(t *testing.T) {
	venue := exchange.NewPaperVenue(logger.Discard)
	strategy := &scriptStrategy{timeframe: "1h", warmup: 0}

	placed := false
	strategy.onBar = func(candle core.Candle, trader core.Trader) {
		if placed {
			return
		}
		placed = true
		_, err := trader.PlaceBracket("EURUSD", core.SideTypeBuy, 0.01,
			1.2100, 1.1950, core.Validity{})
		require.NoError(t, err)
	}

	eng, account := newTestEngine(t, venue, venue, strategy)

	start := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	eng.ProcessCandle(testCandle(start, 1.2, 1.201, 1.199, 1.2))

	// Low breaches the stop
	eng.ProcessCandle(testCandle(start.Add(time.Hour), 1.198, 1.199, 1.1940, 1.195))

	require.Len(t, strategy.closedTrades, 1)
	result := strategy.closedTrades[0]
	assert.Equal(t, 1.1950, result.AvgClose)

	equity, _ := account.Equity()
	assert.InDelta(t, 990.0, equity, 1e-9)
}

func TestEngine_EntryBlockedWhilePending(t *testing.T) {
	venue := exchange.NewPaperVenue(logger.Discard)
	strategy := &scriptStrategy{timeframe: "1h", warmup: 0}

	var placeErrs []error
	strategy.onBar = func(candle core.Candle, trader core.Trader) {
		_, err := trader.PlaceBracket("EURUSD", core.SideTypeBuy, 0.01,
			1.2100, 1.1950, core.Validity{})
		placeErrs = append(placeErrs, err)
	}

	eng, _ := newTestEngine(t, venue, venue, strategy)

	start := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	eng.ProcessCandle(testCandle(start, 1.2, 1.2, 1.2, 1.2))
	eng.ProcessCandle(testCandle(start.Add(time.Hour), 1.2, 1.2005, 1.1995, 1.2))

	require.Len(t, placeErrs, 2)
	require.NoError(t, placeErrs[0])
	assert.ErrorIs(t, placeErrs[1], core.ErrOrderBlocked)
}

func TestEngine_RetriesTransientVenueFailures(t *testing.T) {
	venue := exchange.NewPaperVenue(logger.Discard)
	broker := &flakyVenue{PaperVenue: venue, failures: 2}
	strategy := &scriptStrategy{timeframe: "1h", warmup: 0}

	var entry core.Order
	strategy.onBar = func(candle core.Candle, trader core.Trader) {
		if entry.Ref != "" {
			return
		}
		var err error
		entry, err = trader.PlaceEntry("EURUSD", core.SideTypeBuy, 0.5)
		require.NoError(t, err)
	}

	eng, _ := newTestEngine(t, broker, venue, strategy)

	start := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	eng.ProcessCandle(testCandle(start, 1.25, 1.25, 1.25, 1.25))

	assert.Equal(t, "P-1", entry.Ref)
	assert.Zero(t, broker.failures)

	// floor(1000 * 0.5 / 1.25) units, filled at the close
	size, _ := eng.Position("EURUSD")
	assert.Equal(t, 400.0, size)
}

func TestEngine_DropsSignalOnRetryExhaustion(t *testing.T) {
	venue := exchange.NewPaperVenue(logger.Discard)
	broker := &flakyVenue{PaperVenue: venue, failures: 10}
	strategy := &scriptStrategy{timeframe: "1h", warmup: 0}

	var placeErr error
	strategy.onBar = func(candle core.Candle, trader core.Trader) {
		if placeErr != nil {
			return
		}
		_, placeErr = trader.PlaceEntry("EURUSD", core.SideTypeBuy, 0.5)
	}

	eng, _ := newTestEngine(t, broker, venue, strategy)

	start := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	eng.ProcessCandle(testCandle(start, 1.25, 1.25, 1.25, 1.25))

	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, placeErr, &exhausted)

	// Nothing rests at the venue and nothing is tracked
	assert.False(t, eng.HasPending("EURUSD"))
	size, _ := eng.Position("EURUSD")
	assert.Zero(t, size)
}

func TestEngine_StrategyReceivesOrderUpdates(t *testing.T) {
	venue := exchange.NewPaperVenue(logger.Discard)
	strategy := &scriptStrategy{timeframe: "1h", warmup: 0}

	placed := false
	strategy.onBar = func(candle core.Candle, trader core.Trader) {
		if placed {
			return
		}
		placed = true
		_, err := trader.PlaceEntry("EURUSD", core.SideTypeBuy, 0.5)
		require.NoError(t, err)
	}

	eng, _ := newTestEngine(t, venue, venue, strategy)

	start := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	eng.ProcessCandle(testCandle(start, 1.25, 1.25, 1.25, 1.25))

	require.NotEmpty(t, strategy.orderUpdates)
	last := strategy.orderUpdates[len(strategy.orderUpdates)-1]
	assert.Equal(t, core.OrderStatusTypeFilled, last.Status)
	assert.Equal(t, 400.0, last.FilledQuantity)
}

// recordingNotifier captures deliveries from the order feed goroutine
type recordingNotifier struct {
	mu     sync.Mutex
	orders []core.Order
}

func (n *recordingNotifier) OnOrder(ord core.Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.orders = append(n.orders, ord)
}

func (n *recordingNotifier) Notify(string) {}

func (n *recordingNotifier) OnError(error) {}

func (n *recordingNotifier) filled() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ord := range n.orders {
		if ord.Status == core.OrderStatusTypeFilled {
			return true
		}
	}
	return false
}

func TestEngine_NotifierConsumesOrderFeed(t *testing.T) {
	venue := exchange.NewPaperVenue(logger.Discard)
	strategy := &scriptStrategy{timeframe: "1h", warmup: 0}

	placed := false
	strategy.onBar = func(candle core.Candle, trader core.Trader) {
		if placed {
			return
		}
		placed = true
		_, err := trader.PlaceEntry("EURUSD", core.SideTypeBuy, 0.5)
		require.NoError(t, err)
	}

	notifier := &recordingNotifier{}
	account := exchange.NewAccount(1000, 30, 0)
	eng, err := New(context.Background(), nil, venue, account, strategy,
		[]string{"EURUSD"}, testParams,
		WithLogger(logger.Discard),
		WithCandleSubscription(venue),
		WithNotifier(notifier))
	require.NoError(t, err)

	start := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	eng.ProcessCandle(testCandle(start, 1.25, 1.25, 1.25, 1.25))

	// delivery runs on the feed goroutine
	require.Eventually(t, notifier.filled, time.Second, 10*time.Millisecond)
}

func TestEngine_JournalCoversLifecycle(t *testing.T) {
	venue := exchange.NewPaperVenue(logger.Discard)
	strategy := &scriptStrategy{timeframe: "1h", warmup: 0}

	placed := false
	strategy.onBar = func(candle core.Candle, trader core.Trader) {
		if placed {
			return
		}
		placed = true
		_, err := trader.PlaceEntry("EURUSD", core.SideTypeBuy, 0.5)
		require.NoError(t, err)
	}

	eng, _ := newTestEngine(t, venue, venue, strategy)

	start := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	eng.ProcessCandle(testCandle(start, 1.25, 1.25, 1.25, 1.25))

	statuses := make([]core.OrderStatusType, 0)
	for _, entry := range eng.Journal().Entries("EURUSD") {
		statuses = append(statuses, entry.Status)
	}
	assert.Equal(t, []core.OrderStatusType{
		core.OrderStatusTypeCreated,
		core.OrderStatusTypeAccepted,
		core.OrderStatusTypeFilled,
	}, statuses)
}
