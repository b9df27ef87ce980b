package ledger

import (
	"context"
	"errors"
)

// EventRegistry records accepted provider callbacks. The storage uniqueness
// constraint on (provider, transaction) is the only duplicate detector.
type EventRegistry struct {
	store Store
	nowFn func() int64
	newID func() string
}

// NewEventRegistry binds an EventRegistry to a store.
func NewEventRegistry(store Store, now func() int64, newID func() string) *EventRegistry {
	return &EventRegistry{store: store, nowFn: now, newID: newID}
}

// EventInput carries the fields of a provider callback.
type EventInput struct {
	ProviderID    ProviderID
	TransactionID TransactionID
	Kind          ProviderEventKind
	GameID        GameID
	UserID        UserID
	RoundID       RoundID
	Currency      Currency
	Amount        AmountCents
	Detail        DetailJSON
}

// Register inserts the event. A repeated (provider, transaction) fails with ErrDuplicateEvent.
func (registry *EventRegistry) Register(ctx context.Context, input EventInput) (ProviderEvent, error) {
	event := ProviderEvent{
		EventID:        registry.newID(),
		ProviderID:     input.ProviderID,
		TransactionID:  input.TransactionID,
		Kind:           input.Kind,
		GameID:         input.GameID,
		UserID:         input.UserID,
		RoundID:        input.RoundID,
		Currency:       input.Currency,
		Amount:         input.Amount,
		Detail:         input.Detail,
		CreatedUnixUTC: registry.nowFn(),
	}
	if err := registry.store.InsertProviderEvent(ctx, event); err != nil {
		return ProviderEvent{}, err
	}
	return event, nil
}

// LinkOrder backfills the order reference of a registered event.
func (registry *EventRegistry) LinkOrder(ctx context.Context, event ProviderEvent, orderID string) (ProviderEvent, error) {
	if err := registry.store.LinkProviderEventOrder(ctx, event.ProviderID, event.TransactionID, orderID); err != nil {
		return ProviderEvent{}, WrapError(errorOperationEvent, errorSubjectEvent, errorCodeLink, err)
	}
	event.OrderID = orderID
	return event, nil
}

// Find returns a registered event and whether it exists.
func (registry *EventRegistry) Find(ctx context.Context, providerID ProviderID, transactionID TransactionID) (ProviderEvent, bool, error) {
	event, err := registry.store.GetProviderEvent(ctx, providerID, transactionID)
	if errors.Is(err, ErrEventNotFound) {
		return ProviderEvent{}, false, nil
	}
	if err != nil {
		return ProviderEvent{}, false, err
	}
	return event, true, nil
}
