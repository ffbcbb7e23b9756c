package exchange

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCandleCSV(t *testing.T, header bool, rows [][6]string) string {
	t.Helper()

	file := filepath.Join(t.TempDir(), "candles.csv")
	var content string
	if header {
		content = "time,open,close,low,high,volume\n"
	}
	for _, row := range rows {
		content += fmt.Sprintf("%s,%s,%s,%s,%s,%s\n",
			row[0], row[1], row[2], row[3], row[4], row[5])
	}

	require.NoError(t, os.WriteFile(file, []byte(content), 0o644))
	return file
}

func hourlyRows(start time.Time, count int) [][6]string {
	rows := make([][6]string, 0, count)
	for i := 0; i < count; i++ {
		ts := start.Add(time.Duration(i) * time.Hour).Unix()
		rows = append(rows, [6]string{
			fmt.Sprint(ts), "1.20", "1.21", "1.19", "1.22", "100",
		})
	}
	return rows
}

func TestCSVFeed_ReadsHeaderedFile(t *testing.T) {
	start := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	file := writeCandleCSV(t, true, hourlyRows(start, 4))

	feed, err := NewCSVFeed("1h", InstrumentFeed{
		Instrument: "EURUSD", File: file, Timeframe: "1h",
	})
	require.NoError(t, err)

	candles, err := feed.CandlesByLimit(context.Background(), "EURUSD", "1h", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, start, candles[0].Time)
	assert.Equal(t, 1.20, candles[0].Open)
	assert.Equal(t, 1.21, candles[0].Close)
	assert.Equal(t, 1.19, candles[0].Low)
	assert.Equal(t, 1.22, candles[0].High)
	assert.True(t, candles[0].Complete)
}

func TestCSVFeed_HeaderlessFileUsesDefaultLayout(t *testing.T) {
	start := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	file := writeCandleCSV(t, false, hourlyRows(start, 2))

	feed, err := NewCSVFeed("1h", InstrumentFeed{
		Instrument: "EURUSD", File: file, Timeframe: "1h",
	})
	require.NoError(t, err)

	candles, err := feed.CandlesByLimit(context.Background(), "EURUSD", "1h", 2)
	require.NoError(t, err)
	assert.Len(t, candles, 2)
}

func TestCSVFeed_ResamplesToLargerTimeframe(t *testing.T) {
	start := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	file := writeCandleCSV(t, true, hourlyRows(start, 8))

	feed, err := NewCSVFeed("4h", InstrumentFeed{
		Instrument: "EURUSD", File: file, Timeframe: "1h",
	})
	require.NoError(t, err)

	candles, err := feed.CandlesByLimit(context.Background(), "EURUSD", "4h", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, start, candles[0].Time)
	assert.Equal(t, 1.22, candles[0].High)
	assert.Equal(t, 1.19, candles[0].Low)
	assert.Equal(t, 400.0, candles[0].Volume)
}

func TestCSVFeed_InsufficientData(t *testing.T) {
	start := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	file := writeCandleCSV(t, true, hourlyRows(start, 2))

	feed, err := NewCSVFeed("1h", InstrumentFeed{
		Instrument: "EURUSD", File: file, Timeframe: "1h",
	})
	require.NoError(t, err)

	_, err = feed.CandlesByLimit(context.Background(), "EURUSD", "1h", 5)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestCSVFeed_SubscriptionStreamsInOrder(t *testing.T) {
	start := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	file := writeCandleCSV(t, true, hourlyRows(start, 3))

	feed, err := NewCSVFeed("1h", InstrumentFeed{
		Instrument: "EURUSD", File: file, Timeframe: "1h",
	})
	require.NoError(t, err)

	ccandle, _ := feed.CandlesSubscription(context.Background(), "EURUSD", "1h")

	var times []time.Time
	for candle := range ccandle {
		times = append(times, candle.Time)
	}

	require.Len(t, times, 3)
	assert.True(t, times[0].Before(times[1]))
	assert.True(t, times[1].Before(times[2]))
}
