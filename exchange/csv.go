// Package exchange provides market data feeds and execution venues
package exchange

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/raykavin/traderun/core"
	"github.com/samber/lo"
	"github.com/xhit/go-str2duration/v2"
)

// ErrInsufficientData is returned when there are not enough candles to
// fulfill a request
var ErrInsufficientData = errors.New("insufficient data")

var defaultHeaderMap = map[string]int{
	"time": 0, "open": 1, "close": 2, "low": 3, "high": 4, "volume": 5,
}

// InstrumentFeed represents CSV candle data for a single instrument
type InstrumentFeed struct {
	Instrument string
	File       string
	Timeframe  string
}

// CSVFeed is a candle feed backed by CSV files, resampled to a target
// timeframe. It implements core.Feeder.
type CSVFeed struct {
	Feeds   map[string]InstrumentFeed
	Candles map[string][]core.Candle
}

// NewCSVFeed creates a new CSV feed and resamples data to the target timeframe
func NewCSVFeed(targetTimeframe string, feeds ...InstrumentFeed) (*CSVFeed, error) {
	csvFeed := &CSVFeed{
		Feeds:   make(map[string]InstrumentFeed),
		Candles: make(map[string][]core.Candle),
	}

	for _, feed := range feeds {
		csvFeed.Feeds[feed.Instrument] = feed

		candles, err := readCandlesFromCSV(feed)
		if err != nil {
			return nil, err
		}

		sourceKey := csvFeed.timeframeKey(feed.Instrument, feed.Timeframe)
		csvFeed.Candles[sourceKey] = candles

		if err := csvFeed.resample(feed.Instrument, feed.Timeframe, targetTimeframe); err != nil {
			return nil, err
		}
	}

	return csvFeed, nil
}

func readCandlesFromCSV(feed InstrumentFeed) ([]core.Candle, error) {
	csvFile, err := os.Open(feed.File)
	if err != nil {
		return nil, err
	}
	defer csvFile.Close()

	csvLines, err := csv.NewReader(csvFile).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(csvLines) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrInsufficientData, feed.File)
	}

	headerMap, hasHeaderRow := parseHeaders(csvLines[0])
	if hasHeaderRow {
		csvLines = csvLines[1:]
	}

	candles := make([]core.Candle, 0, len(csvLines))
	for _, line := range csvLines {
		candle, err := parseCandleFromLine(line, headerMap, feed.Instrument)
		if err != nil {
			return nil, err
		}
		candles = append(candles, candle)
	}

	return candles, nil
}

// parseHeaders analyzes CSV headers and returns an index map. Files without
// a header row use the default time,open,close,low,high,volume layout.
func parseHeaders(headers []string) (headerMap map[string]int, hasHeaderRow bool) {
	if _, err := strconv.Atoi(headers[0]); err == nil {
		return defaultHeaderMap, false
	}

	headerMap = make(map[string]int)
	for index, header := range headers {
		headerMap[header] = index
	}

	return headerMap, true
}

func parseCandleFromLine(line []string, headerMap map[string]int, instrument string) (core.Candle, error) {
	timestamp, err := strconv.Atoi(line[headerMap["time"]])
	if err != nil {
		return core.Candle{}, err
	}

	candle := core.Candle{
		Time:       time.Unix(int64(timestamp), 0).UTC(),
		Instrument: instrument,
		Complete:   true,
	}

	if candle.Open, err = strconv.ParseFloat(line[headerMap["open"]], 64); err != nil {
		return core.Candle{}, err
	}

	if candle.Close, err = strconv.ParseFloat(line[headerMap["close"]], 64); err != nil {
		return core.Candle{}, err
	}

	if candle.Low, err = strconv.ParseFloat(line[headerMap["low"]], 64); err != nil {
		return core.Candle{}, err
	}

	if candle.High, err = strconv.ParseFloat(line[headerMap["high"]], 64); err != nil {
		return core.Candle{}, err
	}

	if candle.Volume, err = strconv.ParseFloat(line[headerMap["volume"]], 64); err != nil {
		return core.Candle{}, err
	}

	return candle, nil
}

func isFirstCandlePeriod(t time.Time, fromTimeframe, targetTimeframe string) (bool, error) {
	fromDuration, err := str2duration.ParseDuration(fromTimeframe)
	if err != nil {
		return false, err
	}

	prev := t.Add(-fromDuration).UTC()
	return isLastCandlePeriod(prev, fromTimeframe, targetTimeframe)
}

func isLastCandlePeriod(t time.Time, fromTimeframe, targetTimeframe string) (bool, error) {
	if fromTimeframe == targetTimeframe {
		return true, nil
	}

	fromDuration, err := str2duration.ParseDuration(fromTimeframe)
	if err != nil {
		return false, err
	}

	next := t.Add(fromDuration).UTC()
	return isTimeOnPeriodBoundary(next, targetTimeframe)
}

func isTimeOnPeriodBoundary(t time.Time, targetTimeframe string) (bool, error) {
	switch targetTimeframe {
	case "1m":
		return t.Second() == 0, nil
	case "5m":
		return t.Minute()%5 == 0 && t.Second() == 0, nil
	case "10m":
		return t.Minute()%10 == 0 && t.Second() == 0, nil
	case "15m":
		return t.Minute()%15 == 0 && t.Second() == 0, nil
	case "30m":
		return t.Minute()%30 == 0 && t.Second() == 0, nil
	case "1h":
		return t.Minute() == 0 && t.Second() == 0, nil
	case "2h":
		return t.Hour()%2 == 0 && t.Minute() == 0 && t.Second() == 0, nil
	case "4h":
		return t.Hour()%4 == 0 && t.Minute() == 0 && t.Second() == 0, nil
	case "12h":
		return t.Hour()%12 == 0 && t.Minute() == 0 && t.Second() == 0, nil
	case "1d":
		return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0, nil
	case "1w":
		return t.Weekday() == time.Sunday && t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0, nil
	default:
		return false, fmt.Errorf("invalid timeframe: %s", targetTimeframe)
	}
}

func (c *CSVFeed) resample(instrument, sourceTimeframe, targetTimeframe string) error {
	sourceKey := c.timeframeKey(instrument, sourceTimeframe)
	targetKey := c.timeframeKey(instrument, targetTimeframe)

	sourceCandles := c.Candles[sourceKey]
	if len(sourceCandles) == 0 {
		return nil
	}

	startIdx, err := c.findFirstPeriodCandle(sourceCandles, sourceTimeframe, targetTimeframe)
	if err != nil {
		return err
	}

	targetCandles, err := resampleCandles(sourceCandles[startIdx:], sourceTimeframe, targetTimeframe)
	if err != nil {
		return err
	}

	c.Candles[targetKey] = targetCandles
	return nil
}

func (c *CSVFeed) findFirstPeriodCandle(candles []core.Candle, sourceTimeframe, targetTimeframe string) (int, error) {
	for i := range candles {
		isFirst, err := isFirstCandlePeriod(candles[i].Time, sourceTimeframe, targetTimeframe)
		if err != nil {
			return 0, err
		}
		if isFirst {
			return i, nil
		}
	}
	return 0, nil
}

func resampleCandles(sourceCandles []core.Candle, sourceTimeframe, targetTimeframe string) ([]core.Candle, error) {
	if len(sourceCandles) == 0 {
		return nil, nil
	}

	targetCandles := make([]core.Candle, 0, len(sourceCandles)/4)

	var currentCandle core.Candle
	inPeriod := false

	for _, candle := range sourceCandles {
		isLast, err := isLastCandlePeriod(candle.Time, sourceTimeframe, targetTimeframe)
		if err != nil {
			return nil, err
		}

		if !inPeriod {
			currentCandle = candle
			inPeriod = true
			if isLast {
				targetCandles = append(targetCandles, currentCandle)
				inPeriod = false
			}
			continue
		}

		currentCandle.High = math.Max(currentCandle.High, candle.High)
		currentCandle.Low = math.Min(currentCandle.Low, candle.Low)
		currentCandle.Close = candle.Close
		currentCandle.Volume += candle.Volume

		if isLast {
			targetCandles = append(targetCandles, currentCandle)
			inPeriod = false
		}
	}

	return targetCandles, nil
}

func (c CSVFeed) timeframeKey(instrument, timeframe string) string {
	return fmt.Sprintf("%s--%s", instrument, timeframe)
}

// Limit keeps only the trailing duration of candles for every feed
func (c *CSVFeed) Limit(duration time.Duration) *CSVFeed {
	for key, candles := range c.Candles {
		if len(candles) == 0 {
			continue
		}

		start := candles[len(candles)-1].Time.Add(-duration)
		c.Candles[key] = lo.Filter(candles, func(candle core.Candle, _ int) bool {
			return candle.Time.After(start)
		})
	}
	return c
}

// Total returns the number of candles loaded for an instrument and timeframe
func (c *CSVFeed) Total(instrument, timeframe string) int {
	return len(c.Candles[c.timeframeKey(instrument, timeframe)])
}

// CandlesByLimit returns the next limit candles and removes them from the feed
func (c *CSVFeed) CandlesByLimit(_ context.Context, instrument, timeframe string, limit int) ([]core.Candle, error) {
	key := c.timeframeKey(instrument, timeframe)

	if len(c.Candles[key]) < limit {
		return nil, fmt.Errorf("%w: %s", ErrInsufficientData, instrument)
	}

	result := c.Candles[key][:limit]
	c.Candles[key] = c.Candles[key][limit:]

	return result, nil
}

// CandlesSubscription streams the remaining candles in time order
func (c *CSVFeed) CandlesSubscription(_ context.Context, instrument, timeframe string) (chan core.Candle, chan error) {
	ccandle := make(chan core.Candle)
	cerr := make(chan error)
	key := c.timeframeKey(instrument, timeframe)

	go func() {
		defer close(ccandle)
		defer close(cerr)

		for _, candle := range c.Candles[key] {
			ccandle <- candle
		}
	}()

	return ccandle, cerr
}
