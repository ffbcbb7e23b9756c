// Package metric exposes prometheus instrumentation for the engine and
// statistical measures over trade returns.
package metric

import (
	"math"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gonum.org/v1/gonum/stat"
)

var (
	// OrdersSubmitted counts orders accepted by the venue, by instrument and side
	OrdersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "traderun",
		Name:      "orders_submitted_total",
		Help:      "Orders submitted to and accepted by the execution venue.",
	}, []string{"instrument", "side"})

	// OrdersFilled counts terminal fills, by instrument and side
	OrdersFilled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "traderun",
		Name:      "orders_filled_total",
		Help:      "Orders reported fully filled by the execution venue.",
	}, []string{"instrument", "side"})

	// OrdersBlocked counts submissions refused while a prior order was pending
	OrdersBlocked = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "traderun",
		Name:      "orders_blocked_total",
		Help:      "Order submissions refused because of a pending order.",
	})

	// RetryAttempts counts failed venue call attempts that were retried
	RetryAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "traderun",
		Name:      "venue_retry_attempts_total",
		Help:      "Failed venue call attempts, including the final one.",
	})

	// InvariantViolations counts trades flagged suspect
	InvariantViolations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "traderun",
		Name:      "invariant_violations_total",
		Help:      "Trades whose accounting was flagged suspect.",
	})
)

// Handler returns the prometheus scrape handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Mean calculates the arithmetic mean of the values.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

// Payoff calculates the ratio of average wins to average losses.
func Payoff(values []float64) float64 {
	var wins, losses []float64
	for _, v := range values {
		if v >= 0 {
			wins = append(wins, v)
		} else {
			losses = append(losses, v)
		}
	}

	if len(wins) == 0 {
		return 0
	}
	if len(losses) == 0 {
		return 10 // no losses observed
	}

	avgWin := stat.Mean(wins, nil)
	avgLoss := stat.Mean(losses, nil)
	if avgLoss == 0 {
		return 10
	}

	return math.Abs(avgWin / avgLoss)
}

// ProfitFactor calculates the ratio of total profits to total losses.
func ProfitFactor(values []float64) float64 {
	var totalWins, totalLosses float64
	for _, v := range values {
		if v >= 0 {
			totalWins += v
		} else {
			totalLosses += v
		}
	}

	if totalLosses == 0 {
		return 10
	}

	return math.Abs(totalWins / totalLosses)
}
