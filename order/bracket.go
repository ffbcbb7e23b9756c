package order

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/raykavin/traderun/core"
	"github.com/raykavin/traderun/logger"
)

// GroupState represents the lifecycle of a bracket group
type GroupState string

// Bracket group states. A group is alive from entry submission until all
// three legs are terminal.
const (
	GroupStateEntryPending     GroupState = "ENTRY_PENDING"
	GroupStateLegsArmed        GroupState = "LEGS_ARMED"
	GroupStateTakeProfitFilled GroupState = "TAKE_PROFIT_FILLED"
	GroupStateStopLossFilled   GroupState = "STOP_LOSS_FILLED"
	GroupStateDoubleClose      GroupState = "DOUBLE_CLOSE"
	GroupStateExpired          GroupState = "EXPIRED"
	GroupStateCanceled         GroupState = "CANCELED"
)

// Group links an entry order to its take-profit and stop-loss legs,
// one-cancels-other
type Group struct {
	ID         string
	Instrument string
	Side       core.SideType
	State      GroupState

	TakeProfitPrice float64
	StopPrice       float64
	Validity        core.Validity

	Entry      core.Order
	TakeProfit core.Order
	StopLoss   core.Order
}

func (g *Group) legsArmed() bool {
	return g.TakeProfit.Ref != "" || g.StopLoss.Ref != ""
}

// done reports whether every submitted leg has reached a terminal status
func (g *Group) done() bool {
	if g.Entry.IsAlive() {
		return false
	}
	if g.legsArmed() {
		return !g.TakeProfit.IsAlive() && !g.StopLoss.IsAlive()
	}
	return true
}

// ViolationFunc is notified when a bracket's legs both fill (double close)
type ViolationFunc func(instrument string, err error)

// BracketManager drives bracket groups through their state machine: it
// arms the take-profit and stop-loss legs when the entry fills and cancels
// the surviving sibling when either leg completes.
type BracketManager struct {
	tracker *Tracker
	log     logger.Logger

	byInstrument map[string]*Group
	byClientID   map[string]*Group

	onViolation ViolationFunc
	clock       func() time.Time
}

// BracketOption configures a BracketManager
type BracketOption func(*BracketManager)

// WithViolationHandler registers the double-close notification hook
func WithViolationHandler(fn ViolationFunc) BracketOption {
	return func(m *BracketManager) { m.onViolation = fn }
}

// WithClock overrides the time source, used by tests
func WithClock(clock func() time.Time) BracketOption {
	return func(m *BracketManager) { m.clock = clock }
}

// NewBracketManager creates a bracket manager submitting through tracker
func NewBracketManager(tracker *Tracker, log logger.Logger, opts ...BracketOption) *BracketManager {
	m := &BracketManager{
		tracker:      tracker,
		log:          log,
		byInstrument: make(map[string]*Group),
		byClientID:   make(map[string]*Group),
		clock:        time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Alive reports whether a bracket group is still open for the instrument
func (m *BracketManager) Alive(instrument string) bool {
	_, ok := m.byInstrument[instrument]
	return ok
}

// Group returns the alive group for an instrument
func (m *BracketManager) Group(instrument string) (*Group, bool) {
	g, ok := m.byInstrument[instrument]
	return g, ok
}

// Place submits a market entry order and registers take-profit and
// stop-loss prices to arm once the entry fills. Re-entry while a group is
// alive for the instrument is rejected with ErrOrderBlocked.
func (m *BracketManager) Place(ctx context.Context, instrument string, side core.SideType,
	quantity, takeProfitPrice, stopPrice float64, validity core.Validity) (*Group, error) {

	if m.Alive(instrument) {
		return nil, fmt.Errorf("%s: bracket group alive: %w", instrument, core.ErrOrderBlocked)
	}

	group := &Group{
		ID:              uuid.NewString(),
		Instrument:      instrument,
		Side:            side,
		State:           GroupStateEntryPending,
		TakeProfitPrice: takeProfitPrice,
		StopPrice:       stopPrice,
		Validity:        validity,
	}

	entry := core.Order{
		Instrument: instrument,
		Side:       side,
		Type:       core.OrderTypeMarket,
		Quantity:   quantity,
		GroupID:    &group.ID,
		ValidUntil: validUntil(m.clock(), validity.Entry),
	}

	submitted, err := m.tracker.Submit(ctx, entry)
	if err != nil {
		return nil, err
	}

	group.Entry = submitted
	m.byInstrument[instrument] = group
	m.byClientID[submitted.ClientID] = group

	m.log.WithFields(map[string]any{
		"instrument": instrument,
		"group":      group.ID,
		"tp":         takeProfitPrice,
		"sl":         stopPrice,
	}).Info("bracket entry placed")

	return group, nil
}

// OnOrderUpdate routes a tracked order transition into its bracket group's
// state machine. Orders outside any group are ignored.
func (m *BracketManager) OnOrderUpdate(ctx context.Context, ord core.Order) {
	group, ok := m.byClientID[ord.ClientID]
	if !ok {
		return
	}

	switch ord.ClientID {
	case group.Entry.ClientID:
		m.onEntryUpdate(ctx, group, ord)
	case group.TakeProfit.ClientID:
		group.TakeProfit = ord
		m.onLegUpdate(ctx, group, ord, &group.StopLoss, GroupStateTakeProfitFilled)
	case group.StopLoss.ClientID:
		group.StopLoss = ord
		m.onLegUpdate(ctx, group, ord, &group.TakeProfit, GroupStateStopLossFilled)
	}

	if group.done() {
		m.retire(group)
	}
}

func (m *BracketManager) onEntryUpdate(ctx context.Context, group *Group, ord core.Order) {
	group.Entry = ord

	switch ord.Status {
	case core.OrderStatusTypeFilled:
		m.armLegs(ctx, group)
	case core.OrderStatusTypeExpired:
		// Entry never filled: the group terminates without arming legs
		group.State = GroupStateExpired
	case core.OrderStatusTypeCanceled, core.OrderStatusTypeRejected:
		group.State = GroupStateCanceled
	}
}

func (m *BracketManager) armLegs(ctx context.Context, group *Group) {
	now := m.clock()
	quantity := group.Entry.FilledQuantity
	exitSide := group.Side.Opposite()

	takeProfit := core.Order{
		Instrument: group.Instrument,
		Side:       exitSide,
		Type:       core.OrderTypeLimit,
		Price:      group.TakeProfitPrice,
		Quantity:   quantity,
		GroupID:    &group.ID,
		ValidUntil: validUntil(now, group.Validity.Limit),
	}

	stopPrice := group.StopPrice
	stopLoss := core.Order{
		Instrument: group.Instrument,
		Side:       exitSide,
		Type:       core.OrderTypeStop,
		Stop:       &stopPrice,
		Quantity:   quantity,
		GroupID:    &group.ID,
		ValidUntil: validUntil(now, group.Validity.Stop),
	}

	submittedTP, err := m.tracker.SubmitLinked(ctx, takeProfit)
	if err != nil {
		m.log.WithError(err).WithField("group", group.ID).Error("take-profit leg not armed")
	} else {
		group.TakeProfit = submittedTP
		m.byClientID[submittedTP.ClientID] = group
	}

	submittedSL, err := m.tracker.SubmitLinked(ctx, stopLoss)
	if err != nil {
		m.log.WithError(err).WithField("group", group.ID).Error("stop-loss leg not armed")
	} else {
		group.StopLoss = submittedSL
		m.byClientID[submittedSL.ClientID] = group
	}

	group.State = GroupStateLegsArmed
}

// onLegUpdate handles a take-profit or stop-loss transition. When a leg
// fills, the sibling is canceled best-effort; a race where the sibling
// also just filled is a double close, logged and accounted, not an error.
func (m *BracketManager) onLegUpdate(ctx context.Context, group *Group, ord core.Order,
	sibling *core.Order, filledState GroupState) {

	if ord.Status != core.OrderStatusTypeFilled {
		return
	}

	if sibling.Status == core.OrderStatusTypeFilled {
		group.State = GroupStateDoubleClose
		err := fmt.Errorf("%s: bracket group %s double close: %w",
			group.Instrument, group.ID, core.ErrInvariantViolation)
		m.log.Error(err)
		if m.onViolation != nil {
			m.onViolation(group.Instrument, err)
		}
		return
	}

	group.State = filledState

	if sibling.Ref != "" && sibling.IsAlive() {
		if err := m.tracker.Cancel(ctx, sibling.Ref); err != nil {
			m.log.WithError(err).WithField("ref", sibling.Ref).
				Warn("sibling cancel failed, awaiting venue resolution")
		}
	}
}

func (m *BracketManager) retire(group *Group) {
	delete(m.byInstrument, group.Instrument)
	delete(m.byClientID, group.Entry.ClientID)
	delete(m.byClientID, group.TakeProfit.ClientID)
	delete(m.byClientID, group.StopLoss.ClientID)

	m.log.WithFields(map[string]any{
		"group": group.ID,
		"state": group.State,
	}).Debug("bracket group retired")
}

func validUntil(now time.Time, window time.Duration) *time.Time {
	if window <= 0 {
		return nil
	}
	t := now.Add(window)
	return &t
}
