package engine

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/olekukonko/tablewriter"
	"github.com/raykavin/traderun/metric"
)

// Summary prints per-instrument trade statistics, a return histogram and
// bootstrap confidence intervals for the run
func (e *Engine) Summary() {
	var (
		total  float64
		wins   int
		loses  int
		volume float64
		sqn    float64
	)

	buffer := bytes.NewBuffer(nil)
	table := tablewriter.NewWriter(buffer)
	table.SetHeader([]string{"Instrument", "Trades", "Win", "Loss", "% Win", "Payoff", "Pr Fact.", "SQN", "Profit", "Volume"})
	table.SetFooterAlignment(tablewriter.ALIGN_RIGHT)
	avgPayoff := 0.0
	avgProfitFactor := 0.0

	returns := make([]float64, 0)
	for _, instrument := range e.instruments {
		summary := e.summaries[instrument]
		trades := len(summary.Win()) + len(summary.Lose())
		if trades == 0 {
			continue
		}

		avgPayoff += summary.Payoff() * float64(trades)
		avgProfitFactor += summary.ProfitFactor() * float64(trades)
		table.Append([]string{
			summary.Instrument,
			strconv.Itoa(trades),
			strconv.Itoa(len(summary.Win())),
			strconv.Itoa(len(summary.Lose())),
			fmt.Sprintf("%.1f %%", float64(len(summary.Win()))/float64(trades)*100),
			fmt.Sprintf("%.3f", summary.Payoff()),
			fmt.Sprintf("%.3f", summary.ProfitFactor()),
			fmt.Sprintf("%.1f", summary.SQN()),
			fmt.Sprintf("%.2f", summary.Profit()),
			fmt.Sprintf("%.2f", summary.Volume),
		})
		total += summary.Profit()
		sqn += summary.SQN()
		wins += len(summary.Win())
		loses += len(summary.Lose())
		volume += summary.Volume

		returns = append(returns, summary.WinPercent()...)
		returns = append(returns, summary.LosePercent()...)
	}

	if wins+loses == 0 {
		fmt.Fprintln(e.summaryOut, "no closed trades")
		return
	}

	table.SetFooter([]string{
		"TOTAL",
		strconv.Itoa(wins + loses),
		strconv.Itoa(wins),
		strconv.Itoa(loses),
		fmt.Sprintf("%.1f %%", float64(wins)/float64(wins+loses)*100),
		fmt.Sprintf("%.3f", avgPayoff/float64(wins+loses)),
		fmt.Sprintf("%.3f", avgProfitFactor/float64(wins+loses)),
		fmt.Sprintf("%.1f", sqn/float64(len(e.instruments))),
		fmt.Sprintf("%.2f", total),
		fmt.Sprintf("%.2f", volume),
	})
	table.Render()

	fmt.Fprintln(e.summaryOut, buffer.String())
	fmt.Fprintln(e.summaryOut, "------ RETURN -------")
	returnsPercent := make([]float64, len(returns))
	for i, p := range returns {
		returnsPercent[i] = p * 100
	}
	hist := histogram.Hist(15, returnsPercent)
	if err := histogram.Fprint(e.summaryOut, hist, histogram.Linear(10)); err != nil {
		e.log.WithError(err).Warn("return histogram not rendered")
	}
	fmt.Fprintln(e.summaryOut)

	fmt.Fprintln(e.summaryOut, "------ CONFIDENCE INTERVAL (95%) -------")
	for _, instrument := range e.instruments {
		summary := e.summaries[instrument]
		instrumentReturns := append(summary.WinPercent(), summary.LosePercent()...)
		if len(instrumentReturns) == 0 {
			continue
		}

		fmt.Fprintf(e.summaryOut, "| %s |\n", instrument)
		returnsInterval := metric.Bootstrap(instrumentReturns, metric.Mean, 10000, 0.95)
		payoffInterval := metric.Bootstrap(instrumentReturns, metric.Payoff, 10000, 0.95)
		profitFactorInterval := metric.Bootstrap(instrumentReturns, metric.ProfitFactor, 10000, 0.95)

		fmt.Fprintf(e.summaryOut, "RETURN:      %.2f%% (%.2f%% ~ %.2f%%)\n",
			returnsInterval.Mean*100, returnsInterval.Lower*100, returnsInterval.Upper*100)
		fmt.Fprintf(e.summaryOut, "PAYOFF:      %.2f (%.2f ~ %.2f)\n",
			payoffInterval.Mean, payoffInterval.Lower, payoffInterval.Upper)
		fmt.Fprintf(e.summaryOut, "PROF.FACTOR: %.2f (%.2f ~ %.2f)\n",
			profitFactorInterval.Mean, profitFactorInterval.Lower, profitFactorInterval.Upper)
	}

	fmt.Fprintln(e.summaryOut)
}
