package order

import (
	"sync"

	"github.com/raykavin/traderun/core"
)

// FeedConsumer is a function type that processes order events
type FeedConsumer func(order core.Order)

// DataFeed represents channels for order data and errors
type DataFeed struct {
	Data chan core.Order
	Err  chan error
}

// Feed manages order event distribution to subscribers, per instrument
type Feed struct {
	mu                        sync.RWMutex
	OrderFeeds                map[string]*DataFeed
	SubscriptionsByInstrument map[string][]FeedConsumer
}

// NewOrderFeed creates a new order feed manager
func NewOrderFeed() *Feed {
	return &Feed{
		OrderFeeds:                make(map[string]*DataFeed),
		SubscriptionsByInstrument: make(map[string][]FeedConsumer),
	}
}

// Subscribe registers a consumer to receive order updates for an instrument
func (f *Feed) Subscribe(instrument string, consumer FeedConsumer) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.OrderFeeds[instrument]; !ok {
		f.OrderFeeds[instrument] = &DataFeed{
			Data: make(chan core.Order, 100),
			Err:  make(chan error, 100),
		}
	}

	f.SubscriptionsByInstrument[instrument] = append(
		f.SubscriptionsByInstrument[instrument], consumer)
}

// Publish sends an order update to all subscribers for the instrument.
// The send is non-blocking: updates are dropped when no one drains the feed.
func (f *Feed) Publish(order core.Order) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if feed, ok := f.OrderFeeds[order.Instrument]; ok {
		select {
		case feed.Data <- order:
		default:
		}
	}
}

// Start begins distributing order updates for all registered feeds
func (f *Feed) Start() {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for instrument, feed := range f.OrderFeeds {
		go f.distribute(instrument, feed)
	}
}

func (f *Feed) distribute(instrument string, feed *DataFeed) {
	for order := range feed.Data {
		f.mu.RLock()
		consumers := f.SubscriptionsByInstrument[instrument]
		f.mu.RUnlock()

		for _, consumer := range consumers {
			consumer(order)
		}
	}
}

// Stop gracefully shuts down all feed channels
func (f *Feed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for instrument, feed := range f.OrderFeeds {
		close(feed.Data)
		close(feed.Err)
		delete(f.OrderFeeds, instrument)
	}

	f.SubscriptionsByInstrument = make(map[string][]FeedConsumer)
}
