package order

import (
	"bytes"
	"fmt"
	"math"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/raykavin/traderun/core"
	"gonum.org/v1/gonum/stat"
)

// TradeSummary collects statistics about closed round trips per instrument
type TradeSummary struct {
	Instrument       string
	WinLong          []float64
	WinLongPercent   []float64
	WinShort         []float64
	WinShortPercent  []float64
	LoseLong         []float64
	LoseLongPercent  []float64
	LoseShort        []float64
	LoseShortPercent []float64
	Volume           float64
	SuspectTrades    int
}

// Add records a closed trade's economics into the summary
func (s *TradeSummary) Add(result core.TradeResult) {
	sign := 1.0
	if result.Side == core.SideTypeSell {
		sign = -1.0
	}

	profitValue := (result.AvgClose - result.AvgOpen) * result.Quantity * sign
	profitPercent := (result.AvgClose/result.AvgOpen - 1) * sign

	s.Volume += result.AvgClose * result.Quantity
	if result.Suspect {
		s.SuspectTrades++
	}

	if profitValue >= 0 {
		if result.Side == core.SideTypeBuy {
			s.WinLong = append(s.WinLong, profitValue)
			s.WinLongPercent = append(s.WinLongPercent, profitPercent)
		} else {
			s.WinShort = append(s.WinShort, profitValue)
			s.WinShortPercent = append(s.WinShortPercent, profitPercent)
		}
		return
	}

	if result.Side == core.SideTypeBuy {
		s.LoseLong = append(s.LoseLong, profitValue)
		s.LoseLongPercent = append(s.LoseLongPercent, profitPercent)
	} else {
		s.LoseShort = append(s.LoseShort, profitValue)
		s.LoseShortPercent = append(s.LoseShortPercent, profitPercent)
	}
}

// Win returns all winning trades (both long and short)
func (s TradeSummary) Win() []float64 {
	return append(s.WinLong, s.WinShort...)
}

// WinPercent returns the percentage gains of all winning trades
func (s TradeSummary) WinPercent() []float64 {
	return append(s.WinLongPercent, s.WinShortPercent...)
}

// Lose returns all losing trades (both long and short)
func (s TradeSummary) Lose() []float64 {
	return append(s.LoseLong, s.LoseShort...)
}

// LosePercent returns the percentage losses of all losing trades
func (s TradeSummary) LosePercent() []float64 {
	return append(s.LoseLongPercent, s.LoseShortPercent...)
}

// Profit calculates the total profit across all trades
func (s TradeSummary) Profit() float64 {
	var total float64
	for _, value := range append(s.Win(), s.Lose()...) {
		total += value
	}
	return total
}

// SQN calculates the System Quality Number:
// sqrt(n) * (average profit / standard deviation)
func (s TradeSummary) SQN() float64 {
	allTrades := append(s.Win(), s.Lose()...)
	total := float64(len(allTrades))
	if total == 0 {
		return 0
	}

	avgProfit, stdDev := stat.MeanStdDev(allTrades, nil)
	if stdDev == 0 || math.IsNaN(stdDev) {
		return 0
	}

	return math.Sqrt(total) * (avgProfit / stdDev)
}

// Payoff calculates the ratio of average win to average loss
func (s TradeSummary) Payoff() float64 {
	wins := s.WinPercent()
	losses := s.LosePercent()
	if len(wins) == 0 || len(losses) == 0 {
		return 0
	}

	avgLoss := stat.Mean(losses, nil)
	if avgLoss == 0 {
		return 0
	}

	return stat.Mean(wins, nil) / math.Abs(avgLoss)
}

// ProfitFactor calculates the ratio of gross profits to gross losses
func (s TradeSummary) ProfitFactor() float64 {
	var grossProfit, grossLoss float64
	for _, w := range s.Win() {
		grossProfit += w
	}
	for _, l := range s.Lose() {
		grossLoss += l
	}

	if grossLoss == 0 {
		return 0
	}

	return grossProfit / math.Abs(grossLoss)
}

func (s TradeSummary) String() string {
	buffer := bytes.NewBuffer(nil)
	table := tablewriter.NewWriter(buffer)
	table.SetHeader([]string{"Instrument", "Trades", "Win", "Loss", "Payoff", "Pr Fact.", "SQN", "Profit", "Volume"})
	table.Append([]string{
		s.Instrument,
		strconv.Itoa(len(s.Win()) + len(s.Lose())),
		strconv.Itoa(len(s.Win())),
		strconv.Itoa(len(s.Lose())),
		fmt.Sprintf("%.3f", s.Payoff()),
		fmt.Sprintf("%.3f", s.ProfitFactor()),
		fmt.Sprintf("%.1f", s.SQN()),
		fmt.Sprintf("%.2f", s.Profit()),
		fmt.Sprintf("%.2f", s.Volume),
	})
	table.Render()
	return buffer.String()
}
