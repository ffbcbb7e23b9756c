package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/raykavin/traderun"
	"github.com/raykavin/traderun/engine"
	"github.com/raykavin/traderun/exchange"
	"github.com/raykavin/traderun/metric"
	"github.com/raykavin/traderun/notification"
	"github.com/raykavin/traderun/risk"
	"github.com/raykavin/traderun/storage"
	"github.com/raykavin/traderun/strategies"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/xhit/go-str2duration/v2"
)

// Command line flags
var (
	dataFile        string
	instrument      string
	sourceTimeframe string
	timeframe       string

	equity     float64
	leverage   float64
	commission float64
	riskFrac   float64
	pip        float64

	period   int
	entryDev float64
	stopDev  float64

	entryValidity string
	legValidity   string

	journalFile string
	storageFile string
	metricsAddr string

	telegramToken string
	telegramUsers []int64
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "traderun",
		Short:   "Order and trade lifecycle engine",
		Version: "1.0.0",
	}

	rootCmd.AddCommand(buildBacktestCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildBacktestCmd() *cobra.Command {
	backtestCmd := &cobra.Command{
		Use:   "backtest",
		Short: "Run a strategy over a CSV candle file",
		RunE:  runBacktest,
	}

	backtestCmd.Flags().StringVarP(&dataFile, "data", "d", "", "CSV candle file (time,open,close,low,high,volume)")
	backtestCmd.Flags().StringVarP(&instrument, "instrument", "i", "", "Instrument symbol (e.g. EURUSD)")
	backtestCmd.Flags().StringVar(&sourceTimeframe, "source-timeframe", "1h", "Timeframe of the CSV data")
	backtestCmd.Flags().StringVarP(&timeframe, "timeframe", "t", "1h", "Timeframe to trade on")

	backtestCmd.Flags().Float64Var(&equity, "equity", 1000, "Starting account equity")
	backtestCmd.Flags().Float64Var(&leverage, "leverage", 30, "Account leverage")
	backtestCmd.Flags().Float64Var(&commission, "commission", 0.002, "Venue commission rate")
	backtestCmd.Flags().Float64Var(&riskFrac, "risk", 0.01, "Equity fraction risked per trade")
	backtestCmd.Flags().Float64Var(&pip, "pip", 0.0001, "Price increment unit")

	backtestCmd.Flags().IntVar(&period, "period", 20, "Indicator lookback period")
	backtestCmd.Flags().Float64Var(&entryDev, "entry-dev", 2.0, "Entry deviation band")
	backtestCmd.Flags().Float64Var(&stopDev, "stop-dev", 1.5, "Stop deviation below entry")

	backtestCmd.Flags().StringVar(&entryValidity, "entry-validity", "1h", "Entry order lifetime (e.g. 90m, 0 for GTC)")
	backtestCmd.Flags().StringVar(&legValidity, "leg-validity", "0s", "Bracket leg lifetime (e.g. 48h, 0 for GTC)")

	backtestCmd.Flags().StringVarP(&journalFile, "journal", "j", "", "Write the execution journal CSV to this file")
	backtestCmd.Flags().StringVar(&storageFile, "storage", "", "Persist orders to this buntdb file instead of memory")
	backtestCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address (e.g. :9090)")

	backtestCmd.Flags().StringVar(&telegramToken, "telegram-token", "", "Telegram bot token for notifications")
	backtestCmd.Flags().Int64SliceVar(&telegramUsers, "telegram-users", nil, "Authorized telegram user ids")

	backtestCmd.MarkFlagRequired("data")
	backtestCmd.MarkFlagRequired("instrument")

	return backtestCmd
}

func runBacktest(cmd *cobra.Command, _ []string) error {
	log := traderun.DefaultLog

	entryWindow, err := str2duration.ParseDuration(entryValidity)
	if err != nil {
		return fmt.Errorf("invalid entry validity: %w", err)
	}

	legWindow, err := str2duration.ParseDuration(legValidity)
	if err != nil {
		return fmt.Errorf("invalid leg validity: %w", err)
	}

	feed, err := exchange.NewCSVFeed(timeframe, exchange.InstrumentFeed{
		Instrument: instrument,
		File:       dataFile,
		Timeframe:  sourceTimeframe,
	})
	if err != nil {
		return fmt.Errorf("loading candle data: %w", err)
	}

	venue := exchange.NewPaperVenue(log)
	account := exchange.NewAccount(equity, leverage, commission)

	config := strategies.DefaultMeanReversionConfig()
	config.Timeframe = timeframe
	config.Period = period
	config.EntryDev = entryDev
	config.StopDev = stopDev
	config.RiskFraction = riskFrac
	config.EntryValidity = entryWindow
	config.LegValidity = legWindow
	strategy := strategies.NewMeanReversion(config, log)

	options := []engine.Option{
		engine.WithLogger(log),
		engine.WithCandleSubscription(venue),
	}

	if journalFile != "" {
		journalOut, err := os.Create(journalFile)
		if err != nil {
			return fmt.Errorf("creating journal file: %w", err)
		}
		defer journalOut.Close()
		options = append(options, engine.WithJournalWriter(journalOut))
	}

	if storageFile != "" {
		store, err := storage.FromFile(storageFile)
		if err != nil {
			return fmt.Errorf("opening order storage: %w", err)
		}
		options = append(options, engine.WithStorage(store))
	}

	params := risk.Parameters{
		RiskFraction:   riskFrac,
		Leverage:       leverage,
		CommissionRate: commission,
		PipMultiplier:  pip,
	}

	eng, err := engine.New(cmd.Context(), feed, venue, account, strategy,
		[]string{instrument}, params, options...)
	if err != nil {
		return err
	}

	if telegramToken != "" {
		notifier, err := notification.NewTelegram(eng, notification.Settings{
			Token: telegramToken,
			Users: telegramUsers,
		}, log)
		if err != nil {
			return fmt.Errorf("telegram setup: %w", err)
		}
		notifier.Start()
		eng.AddNotifier(notifier)
	}

	if metricsAddr != "" {
		go func() {
			http.Handle("/metrics", metric.Handler())
			if err := http.ListenAndServe(metricsAddr, nil); err != nil {
				log.WithError(err).Error("metrics server stopped")
			}
		}()
	}

	log.Infof("[SETUP] Starting backtest: %s %s", instrument, timeframe)

	total := feed.Total(instrument, timeframe)
	candles, err := feed.CandlesByLimit(cmd.Context(), instrument, timeframe, total)
	if err != nil {
		return err
	}

	progressBar := progressbar.Default(int64(total))
	for _, candle := range candles {
		eng.ProcessCandle(candle)
		if err := progressBar.Add(1); err != nil {
			log.Warnf("update progressbar fail: %v", err)
		}
	}

	eng.Summary()

	startEquity := equity
	finalEquity, err := account.Equity()
	if err != nil {
		return err
	}
	log.Infof("[RESULT] equity %.2f -> %.2f (%+.2f%%)",
		startEquity, finalEquity, (finalEquity/startEquity-1)*100)

	return nil
}
