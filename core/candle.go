package core

import "time"

// CandleSubscriber receives completed candles
type CandleSubscriber interface {
	OnCandle(Candle)
}

// Candle represents one OHLCV bar for an instrument
type Candle struct {
	Instrument string
	Time       time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
	Complete   bool
}

// IsEmpty checks if the candle contains no significant data
func (c Candle) IsEmpty() bool {
	return c.Instrument == "" && c.Close == 0 && c.Open == 0 && c.Volume == 0
}
