package ledger

import (
	"context"
	"errors"
	"math"
)

// RoundTracker aggregates stakes and payouts per (user, game, round) and owns
// the settlement state machine. Terminal orders are never written again.
type RoundTracker struct {
	store Store
	nowFn func() int64
	newID func() string
}

// NewRoundTracker binds a RoundTracker to a store.
func NewRoundTracker(store Store, now func() int64, newID func() string) *RoundTracker {
	return &RoundTracker{store: store, nowFn: now, newID: newID}
}

// Find returns the order for key and whether it exists.
func (tracker *RoundTracker) Find(ctx context.Context, key OrderKey) (Order, bool, error) {
	order, err := tracker.store.GetOrder(ctx, key)
	if errors.Is(err, ErrOrderNotFound) {
		return Order{}, false, nil
	}
	if err != nil {
		return Order{}, false, err
	}
	return order, true, nil
}

// RecordStake creates the order on the first stake and accumulates later ones.
// A stake for a settled round fails with ErrRoundClosed.
func (tracker *RoundTracker) RecordStake(ctx context.Context, key OrderKey, currency Currency, amount PositiveAmountCents) (Order, error) {
	current, exists, err := tracker.Find(ctx, key)
	if err != nil {
		return Order{}, err
	}
	if !exists {
		nowUnixUTC := tracker.nowFn()
		order := Order{
			OrderID:        tracker.newID(),
			Key:            key,
			Currency:       currency,
			StakeAmount:    amount.ToAmountCents(),
			Status:         OrderStatusPending,
			Version:        initialVersion,
			CreatedUnixUTC: nowUnixUTC,
		}
		if err := tracker.store.CreateOrder(ctx, order); err != nil {
			return Order{}, err
		}
		return order, nil
	}
	if current.Status.IsTerminal() {
		return Order{}, WrapError(errorOperationRound, errorSubjectOrder, errorCodeClosed, ErrRoundClosed)
	}
	next := current
	stake, err := addAmount(current.StakeAmount, amount.ToAmountCents())
	if err != nil {
		return Order{}, err
	}
	next.StakeAmount = stake
	return tracker.swap(ctx, current, next)
}

// RecordPayout accumulates a payout on a pending order and completes it when
// isFinal is set. It reports false without writing when the order is absent or terminal.
func (tracker *RoundTracker) RecordPayout(ctx context.Context, key OrderKey, amount AmountCents, isFinal bool) (Order, bool, error) {
	current, exists, err := tracker.Find(ctx, key)
	if err != nil || !exists {
		return Order{}, false, err
	}
	if current.Status.IsTerminal() {
		return current, false, nil
	}
	next := current
	payout, err := addAmount(current.PayoutAmount, amount)
	if err != nil {
		return Order{}, false, err
	}
	next.PayoutAmount = payout
	if isFinal {
		next.Status = OrderStatusCompleted
		next.CompletedUnixUTC = tracker.nowFn()
	}
	updated, err := tracker.swap(ctx, current, next)
	if err != nil {
		return Order{}, false, err
	}
	return updated, true, nil
}

// RecordReversal cancels a pending order. It reports false without writing
// when the order is absent or already terminal.
func (tracker *RoundTracker) RecordReversal(ctx context.Context, key OrderKey) (Order, bool, error) {
	return tracker.transition(ctx, key, OrderStatusCancelled)
}

// RecordFailure marks a pending order as failed.
func (tracker *RoundTracker) RecordFailure(ctx context.Context, key OrderKey) (Order, bool, error) {
	return tracker.transition(ctx, key, OrderStatusFailed)
}

func (tracker *RoundTracker) transition(ctx context.Context, key OrderKey, target OrderStatus) (Order, bool, error) {
	current, exists, err := tracker.Find(ctx, key)
	if err != nil || !exists {
		return Order{}, false, err
	}
	if !current.Status.CanTransitionTo(target) {
		return current, false, nil
	}
	next := current
	next.Status = target
	next.CompletedUnixUTC = tracker.nowFn()
	updated, err := tracker.swap(ctx, current, next)
	if err != nil {
		return Order{}, false, err
	}
	return updated, true, nil
}

func (tracker *RoundTracker) swap(ctx context.Context, current Order, next Order) (Order, error) {
	next.Version = current.Version + 1
	if err := tracker.store.CompareAndSwapOrder(ctx, next, current.Version); err != nil {
		return Order{}, err
	}
	return next, nil
}

func addAmount(left AmountCents, right AmountCents) (AmountCents, error) {
	if left.Int64() > math.MaxInt64-right.Int64() {
		return 0, WrapError(errorOperationRound, errorSubjectOrder, errorCodeOverflow, ErrInvalidAmountCents)
	}
	return left + right, nil
}
