// Package engine drives a strategy over a candle stream, routing its
// signals through the order lifecycle: sizing, submission with retry,
// bracket state machines, position bookkeeping and trade accounting.
// Everything runs on a single loop goroutine; venue execution reports are
// redelivered as events onto that loop, so no package state needs locks.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/raykavin/traderun/core"
	"github.com/raykavin/traderun/exchange"
	"github.com/raykavin/traderun/logger"
	"github.com/raykavin/traderun/metric"
	"github.com/raykavin/traderun/order"
	"github.com/raykavin/traderun/retry"
	"github.com/raykavin/traderun/risk"
	"github.com/raykavin/traderun/storage"
)

// Engine wires a strategy to an execution venue. It implements core.Trader,
// the surface strategies trade through.
type Engine struct {
	ctx context.Context
	log logger.Logger

	instruments []string
	feeder      core.Feeder
	broker      core.Broker
	account     core.AccountSource
	strategy    core.Strategy

	storage    core.OrderStorage
	journal    *order.Journal
	orderFeed  *order.Feed
	tracker    *order.Tracker
	brackets   *order.BracketManager
	book       *order.Book
	accountant *order.Accountant
	sizer      *risk.Sizer

	// notifierMu covers notifiers, read from the feed goroutines
	notifierMu sync.RWMutex
	notifiers  []core.Notifier

	candleSubscribers []core.CandleSubscriber
	summaries         map[string]*order.TradeSummary

	// venue reports queue here and drain on the loop goroutine
	statusMu    sync.Mutex
	statusQueue []core.StatusUpdate
	statusReady chan struct{}

	barsSeen  map[string]int
	lastClose map[string]float64

	journalWriter io.Writer
	summaryOut    io.Writer
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger overrides the default logger
func WithLogger(log logger.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithStorage overrides the default in-memory order storage
func WithStorage(store core.OrderStorage) Option {
	return func(e *Engine) { e.storage = store }
}

// WithJournalWriter directs the execution journal CSV to w
func WithJournalWriter(w io.Writer) Option {
	return func(e *Engine) { e.journalWriter = w }
}

// WithNotifier registers an out-of-band notifier for orders and errors
func WithNotifier(notifier core.Notifier) Option {
	return func(e *Engine) { e.notifiers = append(e.notifiers, notifier) }
}

// AddNotifier registers a notifier after construction, for notifiers that
// need the engine itself as their data source
func (e *Engine) AddNotifier(notifier core.Notifier) {
	e.notifierMu.Lock()
	defer e.notifierMu.Unlock()
	e.notifiers = append(e.notifiers, notifier)
}

func (e *Engine) notifyOrder(ord core.Order) {
	e.notifierMu.RLock()
	defer e.notifierMu.RUnlock()
	for _, notifier := range e.notifiers {
		notifier.OnOrder(ord)
	}
}

func (e *Engine) notifyError(err error) {
	e.notifierMu.RLock()
	defer e.notifierMu.RUnlock()
	for _, notifier := range e.notifiers {
		notifier.OnError(err)
	}
}

// WithCandleSubscription registers an additional candle consumer, called
// before the strategy sees each bar. The paper venue subscribes this way.
func WithCandleSubscription(subscriber core.CandleSubscriber) Option {
	return func(e *Engine) {
		e.candleSubscribers = append(e.candleSubscribers, subscriber)
	}
}

// WithSummaryWriter directs Summary output to w instead of stdout
func WithSummaryWriter(w io.Writer) Option {
	return func(e *Engine) { e.summaryOut = w }
}

// New creates an engine for one strategy over the given instruments
func New(ctx context.Context, feeder core.Feeder, broker core.Broker,
	account core.AccountSource, strategy core.Strategy, instruments []string,
	params risk.Parameters, opts ...Option) (*Engine, error) {

	if len(instruments) == 0 {
		return nil, fmt.Errorf("engine: no instruments configured")
	}

	e := &Engine{
		ctx:           ctx,
		log:           logger.Discard,
		instruments:   instruments,
		feeder:        feeder,
		broker:        broker,
		account:       account,
		strategy:      strategy,
		summaries:     make(map[string]*order.TradeSummary),
		statusReady:   make(chan struct{}, 1),
		barsSeen:      make(map[string]int),
		lastClose:     make(map[string]float64),
		summaryOut:    os.Stdout,
		journalWriter: io.Discard,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.storage == nil {
		store, err := storage.FromMemory()
		if err != nil {
			return nil, fmt.Errorf("engine storage: %w", err)
		}
		e.storage = store
	}

	sizer, err := risk.NewSizer(account, params, e.log)
	if err != nil {
		return nil, err
	}
	e.sizer = sizer

	e.journal = order.NewJournal(e.journalWriter, e.log)
	e.orderFeed = order.NewOrderFeed()
	e.tracker = order.NewTracker(broker, e.storage, e.journal, e.orderFeed, e.log)
	e.book = order.NewBook()
	e.accountant = order.NewAccountant(e.log)
	e.brackets = order.NewBracketManager(e.tracker, e.log,
		order.WithViolationHandler(e.onViolation))

	for _, instrument := range instruments {
		e.summaries[instrument] = &order.TradeSummary{Instrument: instrument}
	}

	// Notifiers consume the order feed instead of being called inline, so a
	// slow notifier never stalls the loop goroutine.
	for _, instrument := range instruments {
		e.orderFeed.Subscribe(instrument, e.notifyOrder)
	}
	e.orderFeed.Start()

	broker.OnStatusUpdate(e.enqueueStatus)

	return e, nil
}

// enqueueStatus queues a venue execution report for the loop goroutine.
// Safe to call from any goroutine, including reentrant venue callbacks.
func (e *Engine) enqueueStatus(u core.StatusUpdate) {
	e.statusMu.Lock()
	e.statusQueue = append(e.statusQueue, u)
	e.statusMu.Unlock()

	select {
	case e.statusReady <- struct{}{}:
	default:
	}
}

func (e *Engine) takeStatuses() []core.StatusUpdate {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()

	queue := e.statusQueue
	e.statusQueue = nil
	return queue
}

// drainStatuses processes queued execution reports until none remain.
// Handling a report can enqueue more (a leg fill triggers a sibling
// cancel), so the drain loops to a fixed point.
func (e *Engine) drainStatuses() {
	for {
		queue := e.takeStatuses()
		if len(queue) == 0 {
			return
		}
		for _, u := range queue {
			e.handleStatus(u)
		}
	}
}

func (e *Engine) handleStatus(u core.StatusUpdate) {
	ord, changed := e.tracker.OnStatusUpdate(u)
	if !changed {
		return
	}

	e.strategy.OnOrderUpdate(ord)
	e.brackets.OnOrderUpdate(e.ctx, ord)

	if u.ExecutedSize <= 0 {
		return
	}

	size := u.ExecutedSize
	if ord.Side == core.SideTypeSell {
		size = -size
	}

	fills, _ := e.book.Apply(ord.Instrument, size, u.ExecutedPrice, u.Time)
	for _, f := range fills {
		result := e.accountant.OnFill(f)
		if result == nil {
			continue
		}
		e.onTradeClosed(*result)
	}
}

func (e *Engine) onTradeClosed(result core.TradeResult) {
	if summary, ok := e.summaries[result.Instrument]; ok {
		summary.Add(result)
	}

	if applier, ok := e.account.(*exchange.Account); ok {
		applier.ApplyTrade(result)
	}

	e.strategy.OnTradeClosed(result)

	e.log.WithFields(map[string]any{
		"instrument": result.Instrument,
		"side":       result.Side,
		"avg_open":   result.AvgOpen,
		"avg_close":  result.AvgClose,
		"quantity":   result.Quantity,
		"suspect":    result.Suspect,
	}).Info("trade closed")
}

func (e *Engine) onViolation(instrument string, err error) {
	e.accountant.Flag(instrument)
	metric.InvariantViolations.Inc()
	e.notifyError(err)
}

// ProcessCandle pushes one candle through the loop: venue simulation and
// resulting fills first, then the strategy's bar hook once warm.
func (e *Engine) ProcessCandle(candle core.Candle) {
	e.lastClose[candle.Instrument] = candle.Close

	for _, subscriber := range e.candleSubscribers {
		subscriber.OnCandle(candle)
	}
	e.drainStatuses()

	if !candle.Complete {
		return
	}

	e.barsSeen[candle.Instrument]++
	if e.barsSeen[candle.Instrument] <= e.strategy.WarmupPeriod() {
		return
	}

	e.strategy.OnBar(candle, e)
	e.drainStatuses()
}

// Run consumes the feeder's candle subscription for every instrument until
// the stream ends or the context is canceled
func (e *Engine) Run(ctx context.Context) error {
	e.notifierMu.RLock()
	for _, notifier := range e.notifiers {
		if starter, ok := notifier.(core.NotifierWithStart); ok {
			starter.Start()
		}
	}
	e.notifierMu.RUnlock()

	for _, instrument := range e.instruments {
		if err := e.runInstrument(ctx, instrument); err != nil {
			return err
		}
	}

	e.drainStatuses()
	return nil
}

func (e *Engine) runInstrument(ctx context.Context, instrument string) error {
	ccandle, cerr := e.feeder.CandlesSubscription(ctx, instrument, e.strategy.Timeframe())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err, ok := <-cerr:
			if ok && err != nil {
				return fmt.Errorf("candle feed %s: %w", instrument, err)
			}
			cerr = nil

		case <-e.statusReady:
			e.drainStatuses()

		case candle, ok := <-ccandle:
			if !ok {
				return nil
			}
			e.ProcessCandle(candle)
		}
	}
}

// PlaceEntry sizes a market order from the risk fraction against the last
// close and submits it. Exhausted venue retries drop the signal: the error
// is logged and returned, nothing rests at the venue.
func (e *Engine) PlaceEntry(instrument string, side core.SideType, riskFraction float64) (core.Order, error) {
	price, ok := e.lastClose[instrument]
	if !ok {
		return core.Order{}, fmt.Errorf("no market data for %s", instrument)
	}

	quantity, err := e.sizer.SizeNotional(price, riskFraction)
	if err != nil {
		return core.Order{}, err
	}

	ord, err := e.tracker.Submit(e.ctx, core.Order{
		Instrument: instrument,
		Side:       side,
		Type:       core.OrderTypeMarket,
		Quantity:   quantity,
	})
	if err != nil {
		e.reportSubmitError(instrument, err)
		return core.Order{}, err
	}

	e.drainStatuses()
	return ord, nil
}

// PlaceBracket sizes the entry from the stop distance and submits it,
// arming take-profit and stop-loss legs once the entry fills
func (e *Engine) PlaceBracket(instrument string, side core.SideType, riskFraction,
	takeProfitPrice, stopPrice float64, validity core.Validity) (core.Order, error) {

	price, ok := e.lastClose[instrument]
	if !ok {
		return core.Order{}, fmt.Errorf("no market data for %s", instrument)
	}

	quantity, err := e.sizer.Size(price, stopPrice, riskFraction)
	if err != nil {
		return core.Order{}, err
	}

	group, err := e.brackets.Place(e.ctx, instrument, side, quantity,
		takeProfitPrice, stopPrice, validity)
	if err != nil {
		e.reportSubmitError(instrument, err)
		return core.Order{}, err
	}

	e.drainStatuses()
	return group.Entry, nil
}

// Cancel requests cancellation of an order at the venue
func (e *Engine) Cancel(ord core.Order) error {
	err := e.tracker.Cancel(e.ctx, ord.Ref)
	e.drainStatuses()
	return err
}

// HasPending reports whether an order or bracket group for the instrument
// awaits resolution
func (e *Engine) HasPending(instrument string) bool {
	return e.tracker.HasPending(instrument) || e.brackets.Alive(instrument)
}

// Position returns the net size and average entry price, zero when flat
func (e *Engine) Position(instrument string) (size, avgPrice float64) {
	return e.book.Position(instrument)
}

// TradeReturns returns the return series reconstructed from fills
func (e *Engine) TradeReturns(instrument string) core.TradeReturns {
	return e.accountant.Returns(instrument)
}

// Journal exposes the execution journal, audit surface of the run
func (e *Engine) Journal() *order.Journal {
	return e.journal
}

// Instruments returns the instruments this engine trades
func (e *Engine) Instruments() []string {
	out := make([]string, len(e.instruments))
	copy(out, e.instruments)
	return out
}

// SummaryFor returns the trade summary for an instrument
func (e *Engine) SummaryFor(instrument string) *order.TradeSummary {
	return e.summaries[instrument]
}

func (e *Engine) reportSubmitError(instrument string, err error) {
	var exhausted *retry.ExhaustedError
	switch {
	case errors.As(err, &exhausted):
		e.log.WithError(err).WithField("instrument", instrument).
			Error("venue unavailable, dropping signal")
	default:
		e.log.WithError(err).WithField("instrument", instrument).
			Warn("order not placed")
	}

	e.notifyError(err)
}
