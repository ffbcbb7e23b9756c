// Package risk converts a risk specification into an order size bounded by
// account leverage.
package risk

import (
	"fmt"
	"math"

	"github.com/raykavin/traderun/core"
	"github.com/raykavin/traderun/logger"
)

// Parameters holds the per-run account risk settings, read-only once built
type Parameters struct {
	RiskFraction   float64 // fraction of equity risked per trade, (0,1]
	Leverage       float64 // account leverage multiplier, >= 1
	CommissionRate float64 // venue commission rate, >= 0
	PipMultiplier  float64 // venue price-increment unit, e.g. 0.0001 for most FX pairs
}

// Validate checks the parameter ranges
func (p Parameters) Validate() error {
	if p.RiskFraction <= 0 || p.RiskFraction > 1 {
		return fmt.Errorf("%w: risk fraction %f outside (0,1]", core.ErrInvalidRisk, p.RiskFraction)
	}
	if p.Leverage < 1 {
		return fmt.Errorf("%w: leverage %f below 1", core.ErrInvalidRisk, p.Leverage)
	}
	if p.CommissionRate < 0 {
		return fmt.Errorf("%w: negative commission rate %f", core.ErrInvalidRisk, p.CommissionRate)
	}
	if p.PipMultiplier <= 0 {
		return fmt.Errorf("%w: pip multiplier %f must be positive", core.ErrInvalidRisk, p.PipMultiplier)
	}
	return nil
}

// Size computes the order quantity for a given entry/stop pair. The risk in
// cash is equity times riskFraction, spread over the stop distance measured
// in price-increment units. The result is clamped so the implied notional
// never exceeds equity times leverage, the cap the venue would reject past.
func Size(entryPrice, stopPrice, riskFraction, equity, leverage,
	commissionRate, pipMultiplier float64) (float64, error) {

	if riskFraction <= 0 || riskFraction > 1 {
		return 0, fmt.Errorf("%w: risk fraction %f outside (0,1]", core.ErrInvalidRisk, riskFraction)
	}
	if equity <= 0 {
		return 0, fmt.Errorf("%w: non-positive equity %f", core.ErrInvalidRisk, equity)
	}

	distance := math.Abs(entryPrice-stopPrice) / pipMultiplier
	if distance == 0 {
		return 0, fmt.Errorf("%w: zero stop distance (entry %f, stop %f)",
			core.ErrInvalidRisk, entryPrice, stopPrice)
	}

	cashRisk := equity * riskFraction
	rawQuantity := (cashRisk / distance) / pipMultiplier

	if rawQuantity*entryPrice >= equity*leverage {
		return math.Floor(equity / ((1 + commissionRate) * entryPrice)), nil
	}

	return math.Floor(rawQuantity), nil
}

// SizeByNotional computes the quantity for an entry without a protective
// stop: the committed notional is equity times riskFraction, subject to the
// same leverage clamp as stop-based sizing.
func SizeByNotional(entryPrice, riskFraction, equity, leverage, commissionRate float64) (float64, error) {
	if riskFraction <= 0 || riskFraction > 1 {
		return 0, fmt.Errorf("%w: risk fraction %f outside (0,1]", core.ErrInvalidRisk, riskFraction)
	}
	if equity <= 0 {
		return 0, fmt.Errorf("%w: non-positive equity %f", core.ErrInvalidRisk, equity)
	}
	if entryPrice <= 0 {
		return 0, fmt.Errorf("%w: non-positive entry price %f", core.ErrInvalidRisk, entryPrice)
	}

	rawQuantity := equity * riskFraction / entryPrice
	if rawQuantity*entryPrice >= equity*leverage {
		return math.Floor(equity / ((1 + commissionRate) * entryPrice)), nil
	}

	return math.Floor(rawQuantity), nil
}

// Sizer binds the sizing rule to a live account source
type Sizer struct {
	account core.AccountSource
	params  Parameters
	log     logger.Logger
}

// NewSizer creates a sizer reading equity from the given account source
func NewSizer(account core.AccountSource, params Parameters, log logger.Logger) (*Sizer, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	return &Sizer{
		account: account,
		params:  params,
		log:     log,
	}, nil
}

// Parameters returns the run's risk settings
func (s *Sizer) Parameters() Parameters {
	return s.params
}

// Size computes the quantity for an entry/stop pair using current equity.
// A riskFraction of zero falls back to the run's configured fraction.
func (s *Sizer) Size(entryPrice, stopPrice, riskFraction float64) (float64, error) {
	if riskFraction == 0 {
		riskFraction = s.params.RiskFraction
	}

	equity, err := s.account.Equity()
	if err != nil {
		return 0, fmt.Errorf("reading account equity: %w", err)
	}

	quantity, err := Size(entryPrice, stopPrice, riskFraction, equity,
		s.account.Leverage(), s.account.CommissionRate(), s.params.PipMultiplier)
	if err != nil {
		return 0, err
	}

	s.log.WithFields(map[string]any{
		"entry":    entryPrice,
		"stop":     stopPrice,
		"risk":     riskFraction,
		"equity":   equity,
		"quantity": quantity,
	}).Debug("position sized")

	return quantity, nil
}

// SizeNotional computes the quantity for a stop-less entry using current
// equity. A riskFraction of zero falls back to the run's configured fraction.
func (s *Sizer) SizeNotional(entryPrice, riskFraction float64) (float64, error) {
	if riskFraction == 0 {
		riskFraction = s.params.RiskFraction
	}

	equity, err := s.account.Equity()
	if err != nil {
		return 0, fmt.Errorf("reading account equity: %w", err)
	}

	quantity, err := SizeByNotional(entryPrice, riskFraction, equity,
		s.account.Leverage(), s.account.CommissionRate())
	if err != nil {
		return 0, err
	}

	s.log.WithFields(map[string]any{
		"entry":    entryPrice,
		"risk":     riskFraction,
		"equity":   equity,
		"quantity": quantity,
	}).Debug("position sized by notional")

	return quantity, nil
}
