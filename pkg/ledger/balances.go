package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// BalanceBook owns available and frozen funds per (user, currency).
// Every write is a compare-and-swap on the row version.
type BalanceBook struct {
	store Store
	nowFn func() int64
}

// NewBalanceBook binds a BalanceBook to a store, usually a transaction-scoped one.
func NewBalanceBook(store Store, now func() int64) *BalanceBook {
	return &BalanceBook{store: store, nowFn: now}
}

// Get returns the balance row and whether it exists.
func (book *BalanceBook) Get(ctx context.Context, userID UserID, currency Currency) (Balance, bool, error) {
	balance, err := book.store.GetBalance(ctx, userID, currency)
	if errors.Is(err, ErrBalanceNotFound) {
		return Balance{UserID: userID, Currency: currency}, false, nil
	}
	if err != nil {
		return Balance{}, false, err
	}
	return balance, true, nil
}

// ApplyDelta credits or debits one bucket. A missing row is created on credit;
// a debit against a missing row fails with ErrInsufficientBalance.
func (book *BalanceBook) ApplyDelta(ctx context.Context, userID UserID, currency Currency, amount PositiveAmountCents, direction Direction, bucket Bucket) (Balance, error) {
	if _, err := ParseDirection(string(direction)); err != nil {
		return Balance{}, err
	}
	if _, err := ParseBucket(string(bucket)); err != nil {
		return Balance{}, err
	}
	current, exists, err := book.Get(ctx, userID, currency)
	if err != nil {
		return Balance{}, err
	}
	next := current
	target := &next.Available
	if bucket == BucketFrozen {
		target = &next.Frozen
	}
	updated, err := applySigned(*target, amount, direction)
	if err != nil {
		return Balance{}, err
	}
	*target = updated
	next.UpdatedUnixUTC = book.nowFn()
	if !exists {
		next.Version = initialVersion
		if err := book.store.CreateBalance(ctx, next); err != nil {
			return Balance{}, err
		}
		return next, nil
	}
	return book.swap(ctx, current, next)
}

// Freeze moves amount from available to frozen in a single compare-and-swap.
func (book *BalanceBook) Freeze(ctx context.Context, userID UserID, currency Currency, amount PositiveAmountCents) (Balance, error) {
	return book.move(ctx, userID, currency, amount, BucketAvailable)
}

// Unfreeze moves amount from frozen back to available in a single compare-and-swap.
func (book *BalanceBook) Unfreeze(ctx context.Context, userID UserID, currency Currency, amount PositiveAmountCents) (Balance, error) {
	return book.move(ctx, userID, currency, amount, BucketFrozen)
}

func (book *BalanceBook) move(ctx context.Context, userID UserID, currency Currency, amount PositiveAmountCents, from Bucket) (Balance, error) {
	current, exists, err := book.Get(ctx, userID, currency)
	if err != nil {
		return Balance{}, err
	}
	if !exists {
		return Balance{}, WrapError(errorOperationBalance, errorSubjectBalance, errorCodeNegative, ErrInsufficientBalance)
	}
	next := current
	source, destination := &next.Available, &next.Frozen
	if from == BucketFrozen {
		source, destination = &next.Frozen, &next.Available
	}
	debited, err := applySigned(*source, amount, DirectionDebit)
	if err != nil {
		return Balance{}, err
	}
	credited, err := applySigned(*destination, amount, DirectionCredit)
	if err != nil {
		return Balance{}, err
	}
	*source, *destination = debited, credited
	next.UpdatedUnixUTC = book.nowFn()
	return book.swap(ctx, current, next)
}

func (book *BalanceBook) swap(ctx context.Context, current Balance, next Balance) (Balance, error) {
	next.Version = current.Version + 1
	if err := book.store.CompareAndSwapBalance(ctx, next, current.Version); err != nil {
		return Balance{}, err
	}
	return next, nil
}

func applySigned(value AmountCents, amount PositiveAmountCents, direction Direction) (AmountCents, error) {
	if direction == DirectionDebit {
		if value < amount.ToAmountCents() {
			return 0, WrapError(errorOperationBalance, errorSubjectBalance, errorCodeNegative, ErrInsufficientBalance)
		}
		return value - amount.ToAmountCents(), nil
	}
	if value.Int64() > math.MaxInt64-amount.Int64() {
		return 0, WrapError(errorOperationBalance, errorSubjectBalance, errorCodeOverflow, fmt.Errorf("%w: balance overflow", ErrInvalidAmountCents))
	}
	return value + amount.ToAmountCents(), nil
}
