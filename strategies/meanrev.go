// Package strategies contains example strategies for the engine
package strategies

import (
	"time"

	"github.com/markcheno/go-talib"
	"github.com/raykavin/traderun/core"
	"github.com/raykavin/traderun/logger"
)

// MeanReversionConfig holds the strategy parameters
type MeanReversionConfig struct {
	Timeframe     string
	Period        int     // lookback for the moving average and deviation
	EntryDev      float64 // deviations below the mean to enter long
	StopDev       float64 // deviations below the entry to place the stop
	RiskFraction  float64 // equity fraction risked per trade
	EntryValidity time.Duration
	LegValidity   time.Duration
}

// DefaultMeanReversionConfig returns a config with sensible defaults
func DefaultMeanReversionConfig() MeanReversionConfig {
	return MeanReversionConfig{
		Timeframe:     "1h",
		Period:        20,
		EntryDev:      2.0,
		StopDev:       1.5,
		RiskFraction:  0.01,
		EntryValidity: time.Hour,
		LegValidity:   0,
	}
}

// MeanReversion buys dips below the rolling mean and exits with a bracket:
// take profit back at the mean, stop below the entry deviation band.
type MeanReversion struct {
	config MeanReversionConfig
	log    logger.Logger

	closes map[string][]float64
}

// NewMeanReversion creates the strategy
func NewMeanReversion(config MeanReversionConfig, log logger.Logger) *MeanReversion {
	return &MeanReversion{
		config: config,
		log:    log,
		closes: make(map[string][]float64),
	}
}

// Timeframe returns the candle interval the strategy trades on
func (s *MeanReversion) Timeframe() string {
	return s.config.Timeframe
}

// WarmupPeriod returns the candles needed to fill the indicators
func (s *MeanReversion) WarmupPeriod() int {
	return s.config.Period
}

// OnBar evaluates the entry condition on each completed candle
func (s *MeanReversion) OnBar(candle core.Candle, trader core.Trader) {
	closes := append(s.closes[candle.Instrument], candle.Close)
	if len(closes) > s.config.Period*2 {
		closes = closes[len(closes)-s.config.Period*2:]
	}
	s.closes[candle.Instrument] = closes

	if len(closes) < s.config.Period {
		return
	}

	if trader.HasPending(candle.Instrument) {
		return
	}
	if size, _ := trader.Position(candle.Instrument); size != 0 {
		return
	}

	sma := talib.Sma(closes, s.config.Period)
	stdDev := talib.StdDev(closes, s.config.Period, 1.0)

	mean := sma[len(sma)-1]
	dev := stdDev[len(stdDev)-1]
	if dev == 0 {
		return
	}

	entryBand := mean - s.config.EntryDev*dev
	if candle.Close > entryBand {
		return
	}

	stopPrice := candle.Close - s.config.StopDev*dev

	_, err := trader.PlaceBracket(candle.Instrument, core.SideTypeBuy,
		s.config.RiskFraction, mean, stopPrice, core.Validity{
			Entry: s.config.EntryValidity,
			Limit: s.config.LegValidity,
			Stop:  s.config.LegValidity,
		})
	if err != nil {
		s.log.WithError(err).WithField("instrument", candle.Instrument).
			Warn("mean reversion entry not placed")
		return
	}

	s.log.WithFields(map[string]any{
		"instrument": candle.Instrument,
		"close":      candle.Close,
		"mean":       mean,
		"stop":       stopPrice,
	}).Info("mean reversion entry placed")
}

// OnOrderUpdate logs terminal transitions
func (s *MeanReversion) OnOrderUpdate(ord core.Order) {
	if ord.Status.IsTerminal() {
		s.log.WithFields(map[string]any{
			"ref":    ord.Ref,
			"status": ord.Status,
		}).Debug("order resolved")
	}
}

// OnTradeClosed logs the round trip result
func (s *MeanReversion) OnTradeClosed(result core.TradeResult) {
	s.log.WithFields(map[string]any{
		"instrument": result.Instrument,
		"avg_open":   result.AvgOpen,
		"avg_close":  result.AvgClose,
		"quantity":   result.Quantity,
	}).Info("trade closed")
}
