package ledger

import (
	"context"
	"fmt"
)

// FundsRequest describes a non-provider balance movement booked under Reference.
// Repeating a Reference for the same kind fails with ErrDuplicateEntry.
type FundsRequest struct {
	UserID    UserID
	Currency  Currency
	Amount    PositiveAmountCents
	Reference Reference
	Note      DetailJSON
}

// TransferRequest moves funds between two users in one currency.
type TransferRequest struct {
	FromUserID UserID
	ToUserID   UserID
	Currency   Currency
	Amount     PositiveAmountCents
	Reference  Reference
	Note       DetailJSON
}

// WithdrawalRequest identifies a withdrawal by the reference it was requested under.
type WithdrawalRequest struct {
	UserID    UserID
	Currency  Currency
	Reference Reference
	Note      DetailJSON
}

// Deposit credits available funds.
func (service *Service) Deposit(ctx context.Context, request FundsRequest) (Entry, error) {
	return service.creditAvailable(ctx, operationDeposit, EntryDeposit, request)
}

// GrantReward credits available funds under one of the reward kinds.
func (service *Service) GrantReward(ctx context.Context, kind EntryKind, request FundsRequest) (Entry, error) {
	if !kind.IsReward() {
		return Entry{}, fmt.Errorf("%w: %q is not a reward kind", ErrInvalidEntryKind, kind)
	}
	return service.creditAvailable(ctx, operationReward, kind, request)
}

// ChargeFee debits available funds.
func (service *Service) ChargeFee(ctx context.Context, request FundsRequest) (Entry, error) {
	var entry Entry
	attempts, operationError := service.execute(ctx, func(ctx context.Context, parts components) error {
		if err := validateFunds(request); err != nil {
			return err
		}
		if _, err := parts.balances.ApplyDelta(ctx, request.UserID, request.Currency, request.Amount, DirectionDebit, BucketAvailable); err != nil {
			return err
		}
		var err error
		entry, err = parts.journal.Append(ctx, EntryInput{
			UserID:    request.UserID,
			Currency:  request.Currency,
			Amount:    request.Amount.ToEntryAmountCents().Negated(),
			Kind:      EntryFee,
			Reference: request.Reference,
			Note:      request.Note,
		})
		return err
	})
	service.logFunds(ctx, operationFee, request, attempts, operationError)
	return entry, operationError
}

// Transfer debits the sender and credits the receiver. Both legs share the reference.
func (service *Service) Transfer(ctx context.Context, request TransferRequest) ([]Entry, error) {
	var entries []Entry
	attempts, operationError := service.execute(ctx, func(ctx context.Context, parts components) error {
		if err := validateFunds(FundsRequest{UserID: request.FromUserID, Currency: request.Currency, Amount: request.Amount, Reference: request.Reference}); err != nil {
			return err
		}
		if request.ToUserID.IsZero() || request.ToUserID == request.FromUserID {
			return fmt.Errorf("%w: receiver must differ from sender", ErrInvalidTransfer)
		}
		if _, err := parts.balances.ApplyDelta(ctx, request.FromUserID, request.Currency, request.Amount, DirectionDebit, BucketAvailable); err != nil {
			return err
		}
		if _, err := parts.balances.ApplyDelta(ctx, request.ToUserID, request.Currency, request.Amount, DirectionCredit, BucketAvailable); err != nil {
			return err
		}
		outgoing, err := parts.journal.Append(ctx, EntryInput{
			UserID:    request.FromUserID,
			Currency:  request.Currency,
			Amount:    request.Amount.ToEntryAmountCents().Negated(),
			Kind:      EntryTransferOut,
			Reference: request.Reference,
			Note:      request.Note,
		})
		if err != nil {
			return err
		}
		incoming, err := parts.journal.Append(ctx, EntryInput{
			UserID:    request.ToUserID,
			Currency:  request.Currency,
			Amount:    request.Amount.ToEntryAmountCents(),
			Kind:      EntryTransferIn,
			Reference: request.Reference,
			Note:      request.Note,
		})
		if err != nil {
			return err
		}
		entries = []Entry{outgoing, incoming}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationTransfer,
		UserID:    request.FromUserID,
		Currency:  request.Currency,
		Reference: request.Reference,
		Amount:    request.Amount.ToAmountCents(),
		Attempts:  attempts,
		Error:     operationError,
	})
	return entries, operationError
}

// RequestWithdrawal freezes the amount and books the withdrawal.
func (service *Service) RequestWithdrawal(ctx context.Context, request FundsRequest) (Entry, error) {
	var entry Entry
	attempts, operationError := service.execute(ctx, func(ctx context.Context, parts components) error {
		if err := validateFunds(request); err != nil {
			return err
		}
		if _, err := parts.balances.Freeze(ctx, request.UserID, request.Currency, request.Amount); err != nil {
			return err
		}
		var err error
		entry, err = parts.journal.Append(ctx, EntryInput{
			UserID:    request.UserID,
			Currency:  request.Currency,
			Amount:    request.Amount.ToEntryAmountCents().Negated(),
			Kind:      EntryWithdrawal,
			Reference: request.Reference,
			Note:      request.Note,
		})
		return err
	})
	service.logFunds(ctx, operationRequestWithdrawal, request, attempts, operationError)
	return entry, operationError
}

// CompleteWithdrawal pays out a requested withdrawal from frozen funds.
func (service *Service) CompleteWithdrawal(ctx context.Context, request WithdrawalRequest) (Entry, error) {
	return service.settleWithdrawal(ctx, operationCompleteWithdrawal, EntryWithdrawalPayout, request)
}

// RejectWithdrawal returns a requested withdrawal's frozen funds to available.
func (service *Service) RejectWithdrawal(ctx context.Context, request WithdrawalRequest) (Entry, error) {
	return service.settleWithdrawal(ctx, operationRejectWithdrawal, EntryWithdrawalUnfreeze, request)
}

func (service *Service) settleWithdrawal(ctx context.Context, operation string, kind EntryKind, request WithdrawalRequest) (Entry, error) {
	var (
		entry  Entry
		amount AmountCents
	)
	attempts, operationError := service.execute(ctx, func(ctx context.Context, parts components) error {
		if request.UserID.IsZero() || request.Currency.IsZero() || request.Reference.IsZero() {
			return fmt.Errorf("%w: user, currency and reference are required", ErrInvalidReference)
		}
		requested, err := findEntry(ctx, parts.journal, EntryFilter{UserID: request.UserID, Currency: request.Currency, Kind: EntryWithdrawal, Reference: request.Reference})
		if err != nil {
			return err
		}
		if requested == nil {
			return WrapError(errorOperationService, errorSubjectEntry, errorCodeGet, ErrWithdrawalNotFound)
		}
		for _, settledKind := range []EntryKind{EntryWithdrawalPayout, EntryWithdrawalUnfreeze} {
			settled, err := findEntry(ctx, parts.journal, EntryFilter{UserID: request.UserID, Kind: settledKind, Reference: request.Reference})
			if err != nil {
				return err
			}
			if settled != nil {
				return WrapError(errorOperationService, errorSubjectEntry, errorCodeClosed, ErrWithdrawalSettled)
			}
		}
		withdrawn := requested.Amount.Abs()
		amount = withdrawn.ToAmountCents()
		signed, bucket := withdrawn.ToEntryAmountCents().Negated(), BucketFrozen
		if kind == EntryWithdrawalPayout {
			_, err = parts.balances.ApplyDelta(ctx, request.UserID, request.Currency, withdrawn, DirectionDebit, BucketFrozen)
		} else {
			_, err = parts.balances.Unfreeze(ctx, request.UserID, request.Currency, withdrawn)
			signed, bucket = withdrawn.ToEntryAmountCents(), BucketAvailable
		}
		if err != nil {
			return err
		}
		entry, err = parts.journal.Append(ctx, EntryInput{
			UserID:    request.UserID,
			Currency:  request.Currency,
			Amount:    signed,
			Bucket:    bucket,
			Kind:      kind,
			Reference: request.Reference,
			Note:      request.Note,
		})
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation: operation,
		UserID:    request.UserID,
		Currency:  request.Currency,
		Reference: request.Reference,
		Amount:    amount,
		Attempts:  attempts,
		Error:     operationError,
	})
	return entry, operationError
}

func (service *Service) creditAvailable(ctx context.Context, operation string, kind EntryKind, request FundsRequest) (Entry, error) {
	var entry Entry
	attempts, operationError := service.execute(ctx, func(ctx context.Context, parts components) error {
		if err := validateFunds(request); err != nil {
			return err
		}
		if _, err := parts.balances.ApplyDelta(ctx, request.UserID, request.Currency, request.Amount, DirectionCredit, BucketAvailable); err != nil {
			return err
		}
		var err error
		entry, err = parts.journal.Append(ctx, EntryInput{
			UserID:    request.UserID,
			Currency:  request.Currency,
			Amount:    request.Amount.ToEntryAmountCents(),
			Kind:      kind,
			Reference: request.Reference,
			Note:      request.Note,
		})
		return err
	})
	service.logFunds(ctx, operation, request, attempts, operationError)
	return entry, operationError
}

func (service *Service) logFunds(ctx context.Context, operation string, request FundsRequest, attempts int, operationError error) {
	service.logOperation(ctx, OperationLog{
		Operation: operation,
		UserID:    request.UserID,
		Currency:  request.Currency,
		Reference: request.Reference,
		Amount:    request.Amount.ToAmountCents(),
		Attempts:  attempts,
		Error:     operationError,
	})
}

// Balance returns the available and frozen funds of a user in one currency.
// A user without a balance row has zero funds and version 0.
func (service *Service) Balance(ctx context.Context, userID UserID, currency Currency) (Balance, error) {
	balance, _, err := NewBalanceBook(service.store, service.nowFn).Get(ctx, userID, currency)
	return balance, err
}

// Balances returns every balance row of a user.
func (service *Service) Balances(ctx context.Context, userID UserID) ([]Balance, error) {
	return service.store.ListBalances(ctx, userID)
}

// ListEntries lists ledger entries matching filter, newest first.
func (service *Service) ListEntries(ctx context.Context, filter EntryFilter) ([]Entry, error) {
	return NewJournal(service.store, service.nowFn, service.newID).List(ctx, filter)
}

// Round returns the order of a round and whether it exists.
func (service *Service) Round(ctx context.Context, key OrderKey) (Order, bool, error) {
	return NewRoundTracker(service.store, service.nowFn, service.newID).Find(ctx, key)
}

// ProviderEvent returns a registered provider event and whether it exists.
func (service *Service) ProviderEvent(ctx context.Context, providerID ProviderID, transactionID TransactionID) (ProviderEvent, bool, error) {
	return NewEventRegistry(service.store, service.nowFn, service.newID).Find(ctx, providerID, transactionID)
}

// findEntry returns the first entry matching filter, or nil when none does.
func findEntry(ctx context.Context, journal *Journal, filter EntryFilter) (*Entry, error) {
	filter.Limit = 1
	entries, err := journal.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

func validateFunds(request FundsRequest) error {
	switch {
	case request.UserID.IsZero():
		return fmt.Errorf("%w: empty value", ErrInvalidUserID)
	case request.Currency.IsZero():
		return fmt.Errorf("%w: empty value", ErrInvalidCurrency)
	case request.Reference.IsZero():
		return fmt.Errorf("%w: empty value", ErrInvalidReference)
	case request.Amount <= 0:
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmountCents)
	}
	return nil
}
