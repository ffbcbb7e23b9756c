package exchange

import (
	"sync"

	"github.com/raykavin/traderun/core"
)

// Account is an in-memory account state implementing core.AccountSource.
// Equity moves as trade results are applied; leverage and commission are
// fixed at construction.
type Account struct {
	mu             sync.Mutex
	equity         float64
	leverage       float64
	commissionRate float64
}

// NewAccount creates an account with the given starting equity
func NewAccount(equity, leverage, commissionRate float64) *Account {
	return &Account{
		equity:         equity,
		leverage:       leverage,
		commissionRate: commissionRate,
	}
}

// Equity returns the current account equity
func (a *Account) Equity() (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.equity, nil
}

// Leverage returns the account's maximum leverage
func (a *Account) Leverage() float64 {
	return a.leverage
}

// CommissionRate returns the account's commission rate
func (a *Account) CommissionRate() float64 {
	return a.commissionRate
}

// ApplyTrade moves equity by a closed trade's raw profit
func (a *Account) ApplyTrade(result core.TradeResult) {
	profit := (result.AvgClose - result.AvgOpen) * result.Quantity
	if result.Side == core.SideTypeSell {
		profit = -profit
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.equity += profit
}
