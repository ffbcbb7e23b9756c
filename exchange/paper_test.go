package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/raykavin/traderun/core"
	"github.com/raykavin/traderun/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candle(instrument string, ts time.Time, open, high, low, closePrice float64) core.Candle {
	return core.Candle{
		Instrument: instrument,
		Time:       ts,
		Open:       open,
		High:       high,
		Low:        low,
		Close:      closePrice,
		Volume:     1000,
		Complete:   true,
	}
}

func collectUpdates(venue *PaperVenue) *[]core.StatusUpdate {
	updates := &[]core.StatusUpdate{}
	venue.OnStatusUpdate(func(u core.StatusUpdate) {
		*updates = append(*updates, u)
	})
	return updates
}

func TestPaperVenue_MarketOrderFillsAtLastClose(t *testing.T) {
	venue := NewPaperVenue(logger.Discard)
	updates := collectUpdates(venue)

	venue.OnCandle(candle("EURUSD", time.Now(), 1.2, 1.21, 1.19, 1.2050))

	ord, err := venue.SubmitOrder(context.Background(), core.Order{
		Instrument: "EURUSD",
		Side:       core.SideTypeBuy,
		Type:       core.OrderTypeMarket,
		Quantity:   2000,
	})
	require.NoError(t, err)
	assert.Equal(t, "P-1", ord.Ref)

	require.Len(t, *updates, 1)
	u := (*updates)[0]
	assert.Equal(t, core.OrderStatusTypeFilled, u.Status)
	assert.Equal(t, 1.2050, u.ExecutedPrice)
	assert.Equal(t, 2000.0, u.ExecutedSize)
}

func TestPaperVenue_MarketOrderBeforeFirstCandleRestsUntilOpen(t *testing.T) {
	venue := NewPaperVenue(logger.Discard)
	updates := collectUpdates(venue)

	ord, err := venue.SubmitOrder(context.Background(), core.Order{
		Instrument: "EURUSD",
		Side:       core.SideTypeBuy,
		Type:       core.OrderTypeMarket,
		Quantity:   500,
	})
	require.NoError(t, err)
	require.Empty(t, *updates)
	require.True(t, venue.Resting(ord.Ref))

	venue.OnCandle(candle("EURUSD", time.Now(), 1.2, 1.21, 1.19, 1.2050))

	require.Len(t, *updates, 1)
	assert.Equal(t, 1.2, (*updates)[0].ExecutedPrice)
	assert.False(t, venue.Resting(ord.Ref))
}

func TestPaperVenue_LimitAndStopTriggers(t *testing.T) {
	venue := NewPaperVenue(logger.Discard)
	updates := collectUpdates(venue)
	ctx := context.Background()

	stop := 1.1950
	sellLimit, _ := venue.SubmitOrder(ctx, core.Order{
		Instrument: "EURUSD", Side: core.SideTypeSell,
		Type: core.OrderTypeLimit, Price: 1.2100, Quantity: 100,
	})
	sellStop, _ := venue.SubmitOrder(ctx, core.Order{
		Instrument: "EURUSD", Side: core.SideTypeSell,
		Type: core.OrderTypeStop, Stop: &stop, Quantity: 100,
	})

	// Range reaches neither the limit nor the stop
	venue.OnCandle(candle("EURUSD", time.Now(), 1.20, 1.2050, 1.1980, 1.20))
	require.Empty(t, *updates)

	// High tags the sell limit
	venue.OnCandle(candle("EURUSD", time.Now(), 1.20, 1.2110, 1.1990, 1.21))
	require.Len(t, *updates, 1)
	assert.Equal(t, sellLimit.Ref, (*updates)[0].Ref)
	assert.Equal(t, 1.2100, (*updates)[0].ExecutedPrice)

	// Low tags the sell stop
	venue.OnCandle(candle("EURUSD", time.Now(), 1.20, 1.2010, 1.1940, 1.1950))
	require.Len(t, *updates, 2)
	assert.Equal(t, sellStop.Ref, (*updates)[1].Ref)
	assert.Equal(t, 1.1950, (*updates)[1].ExecutedPrice)
}

func TestPaperVenue_OneLegPerGroupPerCandle(t *testing.T) {
	venue := NewPaperVenue(logger.Discard)
	updates := collectUpdates(venue)
	ctx := context.Background()

	groupID := "g-1"
	stop := 1.1950
	venue.SubmitOrder(ctx, core.Order{
		Instrument: "EURUSD", Side: core.SideTypeSell,
		Type: core.OrderTypeLimit, Price: 1.2100, Quantity: 100, GroupID: &groupID,
	})
	venue.SubmitOrder(ctx, core.Order{
		Instrument: "EURUSD", Side: core.SideTypeSell,
		Type: core.OrderTypeStop, Stop: &stop, Quantity: 100, GroupID: &groupID,
	})

	// Wide candle spans both trigger levels; only one leg may fill
	venue.OnCandle(candle("EURUSD", time.Now(), 1.20, 1.2150, 1.1900, 1.20))

	require.Len(t, *updates, 1)
	assert.Equal(t, core.OrderStatusTypeFilled, (*updates)[0].Status)
}

func TestPaperVenue_WideCandleFillsFirstSubmittedLegEveryRun(t *testing.T) {
	ctx := context.Background()

	for run := 0; run < 100; run++ {
		venue := NewPaperVenue(logger.Discard)
		updates := collectUpdates(venue)

		groupID := "g-1"
		stop := 1.1950
		takeProfit, _ := venue.SubmitOrder(ctx, core.Order{
			Instrument: "EURUSD", Side: core.SideTypeSell,
			Type: core.OrderTypeLimit, Price: 1.2100, Quantity: 100, GroupID: &groupID,
		})
		stopLoss, _ := venue.SubmitOrder(ctx, core.Order{
			Instrument: "EURUSD", Side: core.SideTypeSell,
			Type: core.OrderTypeStop, Stop: &stop, Quantity: 100, GroupID: &groupID,
		})

		venue.OnCandle(candle("EURUSD", time.Now(), 1.20, 1.2150, 1.1900, 1.20))

		require.Len(t, *updates, 1)
		assert.Equal(t, takeProfit.Ref, (*updates)[0].Ref)
		assert.Equal(t, 1.2100, (*updates)[0].ExecutedPrice)
		assert.True(t, venue.Resting(stopLoss.Ref))
	}
}

func TestPaperVenue_ExpiryBeatsTrigger(t *testing.T) {
	venue := NewPaperVenue(logger.Discard)
	updates := collectUpdates(venue)

	deadline := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	venue.SubmitOrder(context.Background(), core.Order{
		Instrument: "EURUSD", Side: core.SideTypeSell,
		Type: core.OrderTypeLimit, Price: 1.2100, Quantity: 100,
		ValidUntil: &deadline,
	})

	venue.OnCandle(candle("EURUSD", deadline.Add(time.Hour), 1.20, 1.2150, 1.19, 1.21))

	require.Len(t, *updates, 1)
	assert.Equal(t, core.OrderStatusTypeExpired, (*updates)[0].Status)
}

func TestPaperVenue_CancelRemovesRestingOrder(t *testing.T) {
	venue := NewPaperVenue(logger.Discard)
	updates := collectUpdates(venue)
	ctx := context.Background()

	ord, _ := venue.SubmitOrder(ctx, core.Order{
		Instrument: "EURUSD", Side: core.SideTypeSell,
		Type: core.OrderTypeLimit, Price: 1.2100, Quantity: 100,
	})

	require.NoError(t, venue.CancelOrder(ctx, ord.Ref))
	require.Len(t, *updates, 1)
	assert.Equal(t, core.OrderStatusTypeCanceled, (*updates)[0].Status)

	assert.Error(t, venue.CancelOrder(ctx, ord.Ref))
}

func TestPaperVenue_IgnoresOtherInstruments(t *testing.T) {
	venue := NewPaperVenue(logger.Discard)
	updates := collectUpdates(venue)

	venue.SubmitOrder(context.Background(), core.Order{
		Instrument: "EURUSD", Side: core.SideTypeSell,
		Type: core.OrderTypeLimit, Price: 1.2100, Quantity: 100,
	})

	venue.OnCandle(candle("GBPUSD", time.Now(), 1.3, 1.4, 1.2, 1.35))
	assert.Empty(t, *updates)
}
