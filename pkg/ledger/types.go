package ledger

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

const maxIdentifierLength = 128

// maxReferenceLength fits a provider reference: provider id, delimiter and transaction id.
const maxReferenceLength = 2*maxIdentifierLength + len(referenceDelimiter)

var currencyPattern = regexp.MustCompile(`^[A-Z0-9]{3,10}$`)

// AmountCents is a non-negative amount in minor currency units.
type AmountCents int64

// NewAmountCents validates a non-negative amount.
func NewAmountCents(raw int64) (AmountCents, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidAmountCents)
	}
	return AmountCents(raw), nil
}

// Int64 returns the raw amount.
func (amount AmountCents) Int64() int64 {
	return int64(amount)
}

// IsZero reports whether the amount is zero.
func (amount AmountCents) IsZero() bool {
	return amount == 0
}

// PositiveAmountCents is a strictly positive amount in minor currency units.
type PositiveAmountCents int64

// NewPositiveAmountCents validates an amount and ensures it is strictly positive.
func NewPositiveAmountCents(raw int64) (PositiveAmountCents, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmountCents)
	}
	return PositiveAmountCents(raw), nil
}

// Int64 returns the raw amount.
func (amount PositiveAmountCents) Int64() int64 {
	return int64(amount)
}

// ToAmountCents converts to the non-negative amount type.
func (amount PositiveAmountCents) ToAmountCents() AmountCents {
	return AmountCents(amount)
}

// ToEntryAmountCents converts to a signed (positive) entry amount.
func (amount PositiveAmountCents) ToEntryAmountCents() EntryAmountCents {
	return EntryAmountCents(amount)
}

// EntryAmountCents is a signed, non-zero ledger entry amount.
type EntryAmountCents int64

// NewEntryAmountCents validates a signed entry amount.
func NewEntryAmountCents(raw int64) (EntryAmountCents, error) {
	if raw == 0 {
		return 0, fmt.Errorf("%w: entry amount must be non-zero", ErrInvalidAmountCents)
	}
	return EntryAmountCents(raw), nil
}

// Int64 returns the raw amount.
func (amount EntryAmountCents) Int64() int64 {
	return int64(amount)
}

// Negated flips the sign.
func (amount EntryAmountCents) Negated() EntryAmountCents {
	return -amount
}

// Abs returns the absolute value as a positive amount.
func (amount EntryAmountCents) Abs() PositiveAmountCents {
	if amount < 0 {
		return PositiveAmountCents(-amount)
	}
	return PositiveAmountCents(amount)
}

// UserID identifies an account owner.
type UserID struct {
	value string
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	value, err := normalizeIdentifier(raw, ErrInvalidUserID)
	if err != nil {
		return UserID{}, err
	}
	return UserID{value: value}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// IsZero reports whether the identifier is unset.
func (id UserID) IsZero() bool {
	return id.value == ""
}

// Currency is an upper-case currency code such as USD.
type Currency struct {
	value string
}

// NewCurrency validates and normalizes a currency code.
func NewCurrency(raw string) (Currency, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	if !currencyPattern.MatchString(normalized) {
		return Currency{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, raw)
	}
	return Currency{value: normalized}, nil
}

// String returns the currency code.
func (currency Currency) String() string {
	return currency.value
}

// IsZero reports whether the currency is unset.
func (currency Currency) IsZero() bool {
	return currency.value == ""
}

// GameID identifies a game in the catalog.
type GameID struct {
	value string
}

// NewGameID validates and normalizes a game id.
func NewGameID(raw string) (GameID, error) {
	value, err := normalizeIdentifier(raw, ErrInvalidGameID)
	if err != nil {
		return GameID{}, err
	}
	return GameID{value: value}, nil
}

// String returns the normalized identifier.
func (id GameID) String() string {
	return id.value
}

// ProviderID identifies an external game provider.
type ProviderID struct {
	value string
}

// NewProviderID validates and normalizes a provider id. The reference
// delimiter is not allowed so provider references stay unambiguous.
func NewProviderID(raw string) (ProviderID, error) {
	value, err := normalizeIdentifier(strings.ToLower(raw), ErrInvalidProviderID)
	if err != nil {
		return ProviderID{}, err
	}
	if strings.Contains(value, referenceDelimiter) {
		return ProviderID{}, fmt.Errorf("%w: must not contain %q", ErrInvalidProviderID, referenceDelimiter)
	}
	return ProviderID{value: value}, nil
}

// String returns the normalized identifier.
func (id ProviderID) String() string {
	return id.value
}

// TransactionID is the provider-assigned id of a callback event.
type TransactionID struct {
	value string
}

// NewTransactionID validates and normalizes a provider transaction id.
func NewTransactionID(raw string) (TransactionID, error) {
	value, err := normalizeIdentifier(raw, ErrInvalidTransactionID)
	if err != nil {
		return TransactionID{}, err
	}
	return TransactionID{value: value}, nil
}

// String returns the normalized identifier.
func (id TransactionID) String() string {
	return id.value
}

// RoundID is the provider-assigned id of a game round.
type RoundID struct {
	value string
}

// NewRoundID validates and normalizes a round id.
func NewRoundID(raw string) (RoundID, error) {
	value, err := normalizeIdentifier(raw, ErrInvalidRoundID)
	if err != nil {
		return RoundID{}, err
	}
	return RoundID{value: value}, nil
}

// String returns the normalized identifier.
func (id RoundID) String() string {
	return id.value
}

// Reference points a ledger entry at the business entity that caused it.
// The zero value means "no reference".
type Reference struct {
	value string
}

// NewReference validates a non-empty reference. Its bound admits every
// reference ProviderReference can build.
func NewReference(raw string) (Reference, error) {
	value, err := normalizeBounded(raw, maxReferenceLength, ErrInvalidReference)
	if err != nil {
		return Reference{}, err
	}
	return Reference{value: value}, nil
}

// String returns the reference.
func (reference Reference) String() string {
	return reference.value
}

// IsZero reports whether the reference is unset.
func (reference Reference) IsZero() bool {
	return reference.value == ""
}

// ProviderReference derives the ledger reference used for provider callbacks.
func ProviderReference(providerID ProviderID, transactionID TransactionID) Reference {
	return Reference{value: providerID.String() + referenceDelimiter + transactionID.String()}
}

// DetailJSON stores an arbitrary JSON payload.
type DetailJSON struct {
	value string
}

// NewDetailJSON validates a JSON document (defaulting to "{}" for empty inputs).
func NewDetailJSON(raw string) (DetailJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = emptyDetailJSON
	}
	if !json.Valid([]byte(normalized)) {
		return DetailJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidDetailJSON)
	}
	return DetailJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (detail DetailJSON) String() string {
	if detail.value == "" {
		return emptyDetailJSON
	}
	return detail.value
}

// EntryKind enumerates ledger entry kinds.
type EntryKind string

const (
	EntryDeposit            EntryKind = "deposit"
	EntryWithdrawal         EntryKind = "withdrawal"
	EntryWithdrawalPayout   EntryKind = "withdrawal_payout"
	EntryWithdrawalUnfreeze EntryKind = "withdrawal_unfreeze"
	EntryRefund             EntryKind = "refund"
	EntryBet                EntryKind = "bet"
	EntryPayout             EntryKind = "payout"
	EntryFee                EntryKind = "fee"
	EntryTransferIn         EntryKind = "transfer_in"
	EntryTransferOut        EntryKind = "transfer_out"
	EntryRewardBonus        EntryKind = "reward_bonus"
	EntryRewardRebate       EntryKind = "reward_rebate"
	EntryRewardTask         EntryKind = "reward_task"
	EntryRewardVIP          EntryKind = "reward_vip"
)

var entryKinds = map[EntryKind]struct{}{
	EntryDeposit:            {},
	EntryWithdrawal:         {},
	EntryWithdrawalPayout:   {},
	EntryWithdrawalUnfreeze: {},
	EntryRefund:             {},
	EntryBet:                {},
	EntryPayout:             {},
	EntryFee:                {},
	EntryTransferIn:         {},
	EntryTransferOut:        {},
	EntryRewardBonus:        {},
	EntryRewardRebate:       {},
	EntryRewardTask:         {},
	EntryRewardVIP:          {},
}

// ParseEntryKind validates a stored entry kind.
func ParseEntryKind(raw string) (EntryKind, error) {
	kind := EntryKind(strings.TrimSpace(raw))
	if _, ok := entryKinds[kind]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidEntryKind, raw)
	}
	return kind, nil
}

// String returns the kind name.
func (kind EntryKind) String() string {
	return string(kind)
}

// IsReward reports whether the kind is one of the reward kinds.
func (kind EntryKind) IsReward() bool {
	switch kind {
	case EntryRewardBonus, EntryRewardRebate, EntryRewardTask, EntryRewardVIP:
		return true
	}
	return false
}

// EntryStatus is the status of a ledger entry; entries are only ever completed.
type EntryStatus string

const EntryStatusCompleted EntryStatus = "completed"

// OrderStatus is the settlement state of a round order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusFailed    OrderStatus = "failed"
)

// ParseOrderStatus validates a stored order status.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	status := OrderStatus(strings.TrimSpace(raw))
	switch status {
	case OrderStatusPending, OrderStatusCompleted, OrderStatusCancelled, OrderStatusFailed:
		return status, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidOrderStatus, raw)
}

// String returns the status name.
func (status OrderStatus) String() string {
	return string(status)
}

// IsTerminal reports whether no further transition is allowed.
func (status OrderStatus) IsTerminal() bool {
	return status != OrderStatusPending
}

// CanTransitionTo reports whether status may move to next.
func (status OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if status != OrderStatusPending {
		return false
	}
	switch next {
	case OrderStatusCompleted, OrderStatusCancelled, OrderStatusFailed:
		return true
	}
	return false
}

// Direction is the sign of a balance delta.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// ParseDirection validates a direction.
func ParseDirection(raw string) (Direction, error) {
	direction := Direction(strings.ToLower(strings.TrimSpace(raw)))
	if direction != DirectionCredit && direction != DirectionDebit {
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, raw)
	}
	return direction, nil
}

// Bucket selects the balance column a delta applies to.
type Bucket string

const (
	BucketAvailable Bucket = "available"
	BucketFrozen    Bucket = "frozen"
)

// ParseBucket validates a bucket.
func ParseBucket(raw string) (Bucket, error) {
	bucket := Bucket(strings.ToLower(strings.TrimSpace(raw)))
	if bucket != BucketAvailable && bucket != BucketFrozen {
		return "", fmt.Errorf("%w: %q", ErrInvalidBucket, raw)
	}
	return bucket, nil
}

// ProviderEventKind records which callback created a provider event.
type ProviderEventKind string

const (
	ProviderEventBet    ProviderEventKind = "bet"
	ProviderEventPayout ProviderEventKind = "payout"
	ProviderEventRefund ProviderEventKind = "refund"
)

func normalizeIdentifier(raw string, sentinel error) (string, error) {
	return normalizeBounded(raw, maxIdentifierLength, sentinel)
}

func normalizeBounded(raw string, limit int, sentinel error) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty value", sentinel)
	}
	if len(trimmed) > limit {
		return "", fmt.Errorf("%w: longer than %d characters", sentinel, limit)
	}
	return trimmed, nil
}
