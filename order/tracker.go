package order

import (
	"context"
	"fmt"
	"time"

	"github.com/StudioSol/set"
	"github.com/google/uuid"
	"github.com/raykavin/traderun/core"
	"github.com/raykavin/traderun/logger"
	"github.com/raykavin/traderun/metric"
	"github.com/raykavin/traderun/retry"
)

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = 500 * time.Millisecond
)

// Tracker is the per-instrument book of outstanding order refs. It gates
// new submissions while a prior order is pending, forwards venue calls
// through the bounded-retry wrapper, and journals every status transition.
//
// Tracker state must only be mutated by the goroutine that owns the event
// loop; venue callbacks are redelivered as events, never applied directly.
type Tracker struct {
	broker  core.Broker
	storage core.OrderStorage
	journal *Journal
	feed    *Feed
	log     logger.Logger

	pending map[string]*set.LinkedHashSetString
	byRef   map[string]*core.Order

	maxAttempts int
	retryDelay  time.Duration
}

// TrackerOption configures a Tracker
type TrackerOption func(*Tracker)

// WithMaxAttempts sets the venue call attempt budget
func WithMaxAttempts(n int) TrackerOption {
	return func(t *Tracker) { t.maxAttempts = n }
}

// WithRetryDelay sets the wait between venue call attempts
func WithRetryDelay(d time.Duration) TrackerOption {
	return func(t *Tracker) { t.retryDelay = d }
}

// NewTracker creates an order tracker
func NewTracker(broker core.Broker, storage core.OrderStorage, journal *Journal,
	feed *Feed, log logger.Logger, opts ...TrackerOption) *Tracker {

	t := &Tracker{
		broker:      broker,
		storage:     storage,
		journal:     journal,
		feed:        feed,
		log:         log,
		pending:     make(map[string]*set.LinkedHashSetString),
		byRef:       make(map[string]*core.Order),
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
	}

	for _, opt := range opts {
		opt(t)
	}
	return t
}

// HasPending reports whether an order for the instrument awaits resolution
func (t *Tracker) HasPending(instrument string) bool {
	refs, ok := t.pending[instrument]
	return ok && refs.Length() > 0
}

// PendingRefs returns the outstanding refs for an instrument, in
// submission order
func (t *Tracker) PendingRefs(instrument string) []string {
	refs, ok := t.pending[instrument]
	if !ok {
		return nil
	}

	out := make([]string, 0, refs.Length())
	for ref := range refs.Iter() {
		out = append(out, ref)
	}
	return out
}

// Order returns the tracked order for a ref
func (t *Tracker) Order(ref string) (core.Order, bool) {
	o, ok := t.byRef[ref]
	if !ok {
		return core.Order{}, false
	}
	return *o, true
}

// Submit sends a new order to the venue. It fails with ErrOrderBlocked
// while a prior order for the instrument has not resolved.
func (t *Tracker) Submit(ctx context.Context, ord core.Order) (core.Order, error) {
	if t.HasPending(ord.Instrument) {
		metric.OrdersBlocked.Inc()
		return core.Order{}, fmt.Errorf("%s: %w", ord.Instrument, core.ErrOrderBlocked)
	}
	return t.submit(ctx, ord)
}

// SubmitLinked sends a bracket leg to the venue, bypassing the pending
// gate: legs always coexist with their group's other refs.
func (t *Tracker) SubmitLinked(ctx context.Context, ord core.Order) (core.Order, error) {
	return t.submit(ctx, ord)
}

func (t *Tracker) submit(ctx context.Context, ord core.Order) (core.Order, error) {
	now := time.Now()
	ord.ClientID = uuid.NewString()
	ord.Status = core.OrderStatusTypeCreated
	ord.CreatedAt = now
	ord.UpdatedAt = now

	t.journalOrder(ord, now)

	submitted, err := retry.Do(ctx, "submitOrder", t.maxAttempts, func() (core.Order, error) {
		ord.Status = core.OrderStatusTypeSubmitted
		return t.broker.SubmitOrder(ctx, ord)
	},
		retry.WithDelay(t.retryDelay),
		retry.WithClassifier(core.IsVenueError),
		retry.WithOnAttempt(func(attempt int, err error) {
			metric.RetryAttempts.Inc()
			t.log.WithFields(map[string]any{
				"attempt":    attempt,
				"instrument": ord.Instrument,
			}).Warn("submit attempt failed: ", err)
		}),
	)
	if err != nil {
		return core.Order{}, err
	}

	if err := t.storage.CreateOrder(&submitted); err != nil {
		return core.Order{}, fmt.Errorf("storing order: %w", err)
	}

	t.track(&submitted)
	t.journalOrder(submitted, submitted.UpdatedAt)
	t.feed.Publish(submitted)
	metric.OrdersSubmitted.WithLabelValues(submitted.Instrument, string(submitted.Side)).Inc()

	t.log.Infof("[ORDER SUBMITTED] %s", submitted)
	return submitted, nil
}

func (t *Tracker) track(ord *core.Order) {
	t.byRef[ord.Ref] = ord

	refs, ok := t.pending[ord.Instrument]
	if !ok {
		refs = set.NewLinkedHashSetString()
		t.pending[ord.Instrument] = refs
	}

	if ord.IsAlive() {
		refs.Add(ord.Ref)
	}
}

// OnStatusUpdate applies a venue execution report. Terminal statuses
// release the instrument's pending ref. Returns the updated order and
// whether the update changed anything.
func (t *Tracker) OnStatusUpdate(u core.StatusUpdate) (core.Order, bool) {
	ord, ok := t.byRef[u.Ref]
	if !ok {
		t.log.WithField("ref", u.Ref).Warn("status update for unknown order ref")
		return core.Order{}, false
	}

	if ord.Status == u.Status && u.ExecutedSize == 0 {
		return *ord, false
	}

	ord.Status = u.Status
	ord.UpdatedAt = u.Time
	if u.ExecutedSize > 0 {
		ord.FilledQuantity += u.ExecutedSize
		ord.FilledPrice = u.ExecutedPrice
	}

	if err := t.storage.UpdateOrder(ord); err != nil {
		t.log.WithError(err).WithField("ref", u.Ref).Error("order update not persisted")
	}

	if u.Status.IsTerminal() {
		if refs, ok := t.pending[ord.Instrument]; ok {
			refs.Remove(ord.Ref)
		}
	}

	t.journalOrder(*ord, u.Time)
	t.feed.Publish(*ord)

	if u.Status == core.OrderStatusTypeFilled {
		metric.OrdersFilled.WithLabelValues(ord.Instrument, string(ord.Side)).Inc()
	}

	t.log.Infof("[ORDER %s] %s", ord.Status, ord)
	return *ord, true
}

// Cancel requests cancellation at the venue. The terminal status arrives
// asynchronously like any other execution report.
func (t *Tracker) Cancel(ctx context.Context, ref string) error {
	_, err := retry.Do(ctx, "cancelOrder", t.maxAttempts, func() (struct{}, error) {
		return struct{}{}, t.broker.CancelOrder(ctx, ref)
	},
		retry.WithDelay(t.retryDelay),
		retry.WithClassifier(core.IsVenueError),
		retry.WithOnAttempt(func(attempt int, err error) {
			metric.RetryAttempts.Inc()
			t.log.WithFields(map[string]any{"attempt": attempt, "ref": ref}).
				Warn("cancel attempt failed: ", err)
		}),
	)
	return err
}

func (t *Tracker) journalOrder(ord core.Order, ts time.Time) {
	var price *float64
	if ord.FilledPrice > 0 {
		p := ord.FilledPrice
		price = &p
	} else if ord.Type != core.OrderTypeMarket && ord.Price > 0 {
		p := ord.Price
		price = &p
	}

	t.journal.Append(JournalEntry{
		Instrument: ord.Instrument,
		Timestamp:  ts,
		Side:       ord.Side,
		Status:     ord.Status,
		Size:       ord.Quantity,
		Ref:        ord.Ref,
		Price:      price,
	})
}
