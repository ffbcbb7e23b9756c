package order

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/raykavin/traderun/core"
	"github.com/raykavin/traderun/logger"
	"github.com/raykavin/traderun/storage"
)

// mockBroker is an in-memory venue with controllable failures
type mockBroker struct {
	refCounter    int
	failSubmits   int
	submitted     []core.Order
	canceled      []string
	cancelErr     error
	initialStatus core.OrderStatusType
	callback      func(core.StatusUpdate)
}

func newMockBroker() *mockBroker {
	return &mockBroker{initialStatus: core.OrderStatusTypeAccepted}
}

func (b *mockBroker) SubmitOrder(_ context.Context, ord core.Order) (core.Order, error) {
	if b.failSubmits > 0 {
		b.failSubmits--
		return core.Order{}, core.NewVenueError("submitOrder", errors.New("gateway timeout"))
	}

	b.refCounter++
	ord.Ref = fmt.Sprintf("R-%d", b.refCounter)
	ord.Status = b.initialStatus
	b.submitted = append(b.submitted, ord)
	return ord, nil
}

func (b *mockBroker) CancelOrder(_ context.Context, ref string) error {
	if b.cancelErr != nil {
		return b.cancelErr
	}
	b.canceled = append(b.canceled, ref)
	return nil
}

func (b *mockBroker) OnStatusUpdate(fn func(core.StatusUpdate)) {
	b.callback = fn
}

func newTestTracker(broker core.Broker) *Tracker {
	store, err := storage.FromMemory()
	if err != nil {
		panic(err)
	}

	journal := NewJournal(io.Discard, logger.Discard)
	feed := NewOrderFeed()

	return NewTracker(broker, store, journal, feed, logger.Discard,
		WithRetryDelay(0))
}

func filledUpdate(ref string, price, size float64) core.StatusUpdate {
	return core.StatusUpdate{
		Ref:           ref,
		Status:        core.OrderStatusTypeFilled,
		ExecutedPrice: price,
		ExecutedSize:  size,
		Time:          time.Now(),
	}
}
