package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Service composes the balance book, journal, round tracker and event registry
// into atomic callback operations. Each operation runs in one store transaction.
type Service struct {
	store       Store
	nowFn       func() int64
	newID       func() string
	logger      OperationLogger
	retryPolicy RetryPolicy
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now, newID: uuid.NewString}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// BetRequest is a provider stake callback.
type BetRequest struct {
	ProviderID    ProviderID
	GameID        GameID
	UserID        UserID
	TransactionID TransactionID
	RoundID       RoundID
	Amount        PositiveAmountCents
	Currency      Currency
	Detail        DetailJSON
}

// PayoutRequest is a provider win callback. Final settles the round.
type PayoutRequest struct {
	ProviderID    ProviderID
	GameID        GameID
	UserID        UserID
	TransactionID TransactionID
	RoundID       RoundID
	Amount        AmountCents
	Currency      Currency
	Detail        DetailJSON
	Final         bool
}

// RefundRequest is a provider reversal callback.
type RefundRequest struct {
	ProviderID    ProviderID
	GameID        GameID
	UserID        UserID
	TransactionID TransactionID
	RoundID       RoundID
	Amount        PositiveAmountCents
	Currency      Currency
	Detail        DetailJSON
}

// CallbackResult reports what a callback changed. On ErrDuplicateEvent only
// Event (the previously registered one) and Duplicate are set.
type CallbackResult struct {
	Event      ProviderEvent
	Order      Order
	OrderFound bool
	Balance    Balance
	Entry      Entry
	Duplicate  bool
}

type components struct {
	store    Store
	balances *BalanceBook
	journal  *Journal
	rounds   *RoundTracker
	events   *EventRegistry
}

// HandleBet registers the event, checks the game is enabled, debits the
// stake, books it and accumulates it on the round order.
func (service *Service) HandleBet(ctx context.Context, request BetRequest) (CallbackResult, error) {
	var result CallbackResult
	attempts, operationError := service.execute(ctx, func(ctx context.Context, parts components) error {
		if err := validateCallback(request.ProviderID, request.GameID, request.UserID, request.TransactionID, request.RoundID, request.Currency); err != nil {
			return err
		}
		if request.Amount <= 0 {
			return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmountCents)
		}
		event, err := parts.events.Register(ctx, EventInput{
			ProviderID:    request.ProviderID,
			TransactionID: request.TransactionID,
			Kind:          ProviderEventBet,
			GameID:        request.GameID,
			UserID:        request.UserID,
			RoundID:       request.RoundID,
			Currency:      request.Currency,
			Amount:        request.Amount.ToAmountCents(),
			Detail:        request.Detail,
		})
		if err != nil {
			return err
		}
		if err := requireGame(ctx, parts.store, request.GameID, true); err != nil {
			return err
		}
		balance, err := parts.balances.ApplyDelta(ctx, request.UserID, request.Currency, request.Amount, DirectionDebit, BucketAvailable)
		if err != nil {
			return err
		}
		entry, err := parts.journal.Append(ctx, EntryInput{
			UserID:    request.UserID,
			Currency:  request.Currency,
			Amount:    request.Amount.ToEntryAmountCents().Negated(),
			Kind:      EntryBet,
			Reference: ProviderReference(request.ProviderID, request.TransactionID),
			Note:      request.Detail,
		})
		if err != nil {
			return bookingError(err)
		}
		order, err := parts.rounds.RecordStake(ctx, orderKey(request.UserID, request.GameID, request.RoundID), request.Currency, request.Amount)
		if err != nil {
			return err
		}
		event, err = parts.events.LinkOrder(ctx, event, order.OrderID)
		if err != nil {
			return err
		}
		result = CallbackResult{Event: event, Order: order, OrderFound: true, Balance: balance, Entry: entry}
		return nil
	})
	if errors.Is(operationError, ErrDuplicateEvent) {
		result = service.duplicateResult(ctx, request.ProviderID, request.TransactionID)
	}
	service.logOperation(ctx, OperationLog{
		Operation:     operationBet,
		ProviderID:    request.ProviderID,
		TransactionID: request.TransactionID,
		GameID:        request.GameID,
		RoundID:       request.RoundID,
		UserID:        request.UserID,
		Currency:      request.Currency,
		Amount:        request.Amount.ToAmountCents(),
		Attempts:      attempts,
		Error:         operationError,
	})
	return result, operationError
}

// HandlePayout registers the event, checks the game exists, credits the win,
// books it and accumulates it on the round order when one is pending.
// A zero payout settles the order without touching the balance.
func (service *Service) HandlePayout(ctx context.Context, request PayoutRequest) (CallbackResult, error) {
	var result CallbackResult
	attempts, operationError := service.execute(ctx, func(ctx context.Context, parts components) error {
		if err := validateCallback(request.ProviderID, request.GameID, request.UserID, request.TransactionID, request.RoundID, request.Currency); err != nil {
			return err
		}
		if request.Amount < 0 {
			return fmt.Errorf("%w: must not be negative", ErrInvalidAmountCents)
		}
		event, err := parts.events.Register(ctx, EventInput{
			ProviderID:    request.ProviderID,
			TransactionID: request.TransactionID,
			Kind:          ProviderEventPayout,
			GameID:        request.GameID,
			UserID:        request.UserID,
			RoundID:       request.RoundID,
			Currency:      request.Currency,
			Amount:        request.Amount,
			Detail:        request.Detail,
		})
		if err != nil {
			return err
		}
		if err := requireGame(ctx, parts.store, request.GameID, false); err != nil {
			return err
		}
		next := CallbackResult{}
		if !request.Amount.IsZero() {
			credit := PositiveAmountCents(request.Amount)
			balance, err := parts.balances.ApplyDelta(ctx, request.UserID, request.Currency, credit, DirectionCredit, BucketAvailable)
			if err != nil {
				return err
			}
			entry, err := parts.journal.Append(ctx, EntryInput{
				UserID:    request.UserID,
				Currency:  request.Currency,
				Amount:    credit.ToEntryAmountCents(),
				Kind:      EntryPayout,
				Reference: ProviderReference(request.ProviderID, request.TransactionID),
				Note:      request.Detail,
			})
			if err != nil {
				return bookingError(err)
			}
			next.Balance, next.Entry = balance, entry
		} else {
			balance, _, err := parts.balances.Get(ctx, request.UserID, request.Currency)
			if err != nil {
				return err
			}
			next.Balance = balance
		}
		order, found, err := parts.rounds.RecordPayout(ctx, orderKey(request.UserID, request.GameID, request.RoundID), request.Amount, request.Final)
		if err != nil {
			return err
		}
		next.Order, next.OrderFound = order, found
		if found {
			if event, err = parts.events.LinkOrder(ctx, event, order.OrderID); err != nil {
				return err
			}
		}
		next.Event = event
		result = next
		return nil
	})
	if errors.Is(operationError, ErrDuplicateEvent) {
		result = service.duplicateResult(ctx, request.ProviderID, request.TransactionID)
	}
	service.logOperation(ctx, OperationLog{
		Operation:     operationPayout,
		ProviderID:    request.ProviderID,
		TransactionID: request.TransactionID,
		GameID:        request.GameID,
		RoundID:       request.RoundID,
		UserID:        request.UserID,
		Currency:      request.Currency,
		Amount:        request.Amount,
		Attempts:      attempts,
		Error:         operationError,
	})
	return result, operationError
}

// HandleRefund registers the event, checks the game exists, credits the
// refunded amount, books it and cancels the round order unless it completed.
func (service *Service) HandleRefund(ctx context.Context, request RefundRequest) (CallbackResult, error) {
	var result CallbackResult
	attempts, operationError := service.execute(ctx, func(ctx context.Context, parts components) error {
		if err := validateCallback(request.ProviderID, request.GameID, request.UserID, request.TransactionID, request.RoundID, request.Currency); err != nil {
			return err
		}
		if request.Amount <= 0 {
			return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmountCents)
		}
		event, err := parts.events.Register(ctx, EventInput{
			ProviderID:    request.ProviderID,
			TransactionID: request.TransactionID,
			Kind:          ProviderEventRefund,
			GameID:        request.GameID,
			UserID:        request.UserID,
			RoundID:       request.RoundID,
			Currency:      request.Currency,
			Amount:        request.Amount.ToAmountCents(),
			Detail:        request.Detail,
		})
		if err != nil {
			return err
		}
		if err := requireGame(ctx, parts.store, request.GameID, false); err != nil {
			return err
		}
		balance, err := parts.balances.ApplyDelta(ctx, request.UserID, request.Currency, request.Amount, DirectionCredit, BucketAvailable)
		if err != nil {
			return err
		}
		entry, err := parts.journal.Append(ctx, EntryInput{
			UserID:    request.UserID,
			Currency:  request.Currency,
			Amount:    request.Amount.ToEntryAmountCents(),
			Kind:      EntryRefund,
			Reference: ProviderReference(request.ProviderID, request.TransactionID),
			Note:      request.Detail,
		})
		if err != nil {
			return bookingError(err)
		}
		order, found, err := parts.rounds.RecordReversal(ctx, orderKey(request.UserID, request.GameID, request.RoundID))
		if err != nil {
			return err
		}
		if found {
			if event, err = parts.events.LinkOrder(ctx, event, order.OrderID); err != nil {
				return err
			}
		}
		result = CallbackResult{Event: event, Order: order, OrderFound: found, Balance: balance, Entry: entry}
		return nil
	})
	if errors.Is(operationError, ErrDuplicateEvent) {
		result = service.duplicateResult(ctx, request.ProviderID, request.TransactionID)
	}
	service.logOperation(ctx, OperationLog{
		Operation:     operationRefund,
		ProviderID:    request.ProviderID,
		TransactionID: request.TransactionID,
		GameID:        request.GameID,
		RoundID:       request.RoundID,
		UserID:        request.UserID,
		Currency:      request.Currency,
		Amount:        request.Amount.ToAmountCents(),
		Attempts:      attempts,
		Error:         operationError,
	})
	return result, operationError
}

// FailRound marks a pending round as failed. It has no balance effect.
func (service *Service) FailRound(ctx context.Context, key OrderKey) (Order, bool, error) {
	var (
		order   Order
		changed bool
	)
	attempts, operationError := service.execute(ctx, func(ctx context.Context, parts components) error {
		var err error
		order, changed, err = parts.rounds.RecordFailure(ctx, key)
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationFailRound,
		GameID:    key.GameID,
		RoundID:   key.RoundID,
		UserID:    key.UserID,
		Attempts:  attempts,
		Error:     operationError,
	})
	return order, changed, operationError
}

func (service *Service) execute(ctx context.Context, fn func(ctx context.Context, parts components) error) (int, error) {
	return RetryOnConflict(ctx, service.retryPolicy, func(ctx context.Context) error {
		return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			return fn(ctx, service.components(transactionStore))
		})
	})
}

func (service *Service) components(store Store) components {
	return components{
		store:    store,
		balances: NewBalanceBook(store, service.nowFn),
		journal:  NewJournal(store, service.nowFn, service.newID),
		rounds:   NewRoundTracker(store, service.nowFn, service.newID),
		events:   NewEventRegistry(store, service.nowFn, service.newID),
	}
}

func (service *Service) duplicateResult(ctx context.Context, providerID ProviderID, transactionID TransactionID) CallbackResult {
	result := CallbackResult{Duplicate: true}
	event, found, err := NewEventRegistry(service.store, service.nowFn, service.newID).Find(ctx, providerID, transactionID)
	if err == nil && found {
		result.Event = event
	}
	return result
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		switch {
		case entry.Error == nil:
			entry.Status = operationStatusOK
		case Classify(entry.Error) == ErrorClassDuplicate:
			entry.Status = operationStatusDuplicate
		default:
			entry.Status = operationStatusError
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func requireGame(ctx context.Context, store Store, gameID GameID, mustBeEnabled bool) error {
	game, err := store.GetGame(ctx, gameID)
	if err != nil {
		return err
	}
	if mustBeEnabled && !game.Enabled {
		return WrapError(errorOperationService, errorSubjectGame, errorCodeDisabled, ErrGameNotEnabled)
	}
	return nil
}

func validateCallback(providerID ProviderID, gameID GameID, userID UserID, transactionID TransactionID, roundID RoundID, currency Currency) error {
	switch {
	case providerID.String() == "":
		return fmt.Errorf("%w: empty value", ErrInvalidProviderID)
	case gameID.String() == "":
		return fmt.Errorf("%w: empty value", ErrInvalidGameID)
	case userID.IsZero():
		return fmt.Errorf("%w: empty value", ErrInvalidUserID)
	case transactionID.String() == "":
		return fmt.Errorf("%w: empty value", ErrInvalidTransactionID)
	case roundID.String() == "":
		return fmt.Errorf("%w: empty value", ErrInvalidRoundID)
	case currency.IsZero():
		return fmt.Errorf("%w: empty value", ErrInvalidCurrency)
	}
	return nil
}

// bookingError keeps a ledger reference collision from reading as a replay.
// Only the event registry decides whether a callback was already processed.
func bookingError(err error) error {
	if errors.Is(err, ErrDuplicateEntry) {
		return fmt.Errorf("%w: %v", ErrReferenceConflict, err)
	}
	return err
}

func orderKey(userID UserID, gameID GameID, roundID RoundID) OrderKey {
	return OrderKey{UserID: userID, GameID: gameID, RoundID: roundID}
}
