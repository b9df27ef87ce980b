package ledger

import "context"

// Balance is the per-(user, currency) account row.
type Balance struct {
	UserID         UserID
	Currency       Currency
	Available      AmountCents
	Frozen         AmountCents
	Version        int64
	UpdatedUnixUTC int64
}

// Total returns available plus frozen funds.
func (balance Balance) Total() AmountCents {
	return balance.Available + balance.Frozen
}

// Entry is a single immutable line in the ledger.
type Entry struct {
	EntryID        string
	UserID         UserID
	Currency       Currency
	Amount         EntryAmountCents
	Bucket         Bucket
	Kind           EntryKind
	Status         EntryStatus
	Reference      Reference
	Note           DetailJSON
	CreatedUnixUTC int64
}

// EntryFilter narrows ledger listings. Zero-valued fields are ignored.
type EntryFilter struct {
	UserID        UserID
	Currency      Currency
	Kind          EntryKind
	Reference     Reference
	FromUnixUTC   int64
	BeforeUnixUTC int64
	Limit         int
}

// OrderKey identifies a round order.
type OrderKey struct {
	UserID  UserID
	GameID  GameID
	RoundID RoundID
}

// Order aggregates stakes and payouts of one round.
type Order struct {
	OrderID          string
	Key              OrderKey
	Currency         Currency
	StakeAmount      AmountCents
	PayoutAmount     AmountCents
	Status           OrderStatus
	CompletedUnixUTC int64
	Version          int64
	CreatedUnixUTC   int64
}

// ProviderEvent is the idempotency record for one provider callback.
type ProviderEvent struct {
	EventID        string
	ProviderID     ProviderID
	TransactionID  TransactionID
	Kind           ProviderEventKind
	GameID         GameID
	UserID         UserID
	RoundID        RoundID
	Currency       Currency
	Amount         AmountCents
	Detail         DetailJSON
	OrderID        string
	CreatedUnixUTC int64
}

// Game is a catalog entry consulted before applying callbacks.
type Game struct {
	GameID  GameID
	Name    string
	Enabled bool
}

// Store is the persistence contract used by the ledger components.
//
// Implementations must enforce uniqueness of (user, currency) balances,
// (kind, reference) entries, (user, game, round) orders and (provider,
// transaction) events in storage, and report violations as the matching
// sentinel errors.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	GetBalance(ctx context.Context, userID UserID, currency Currency) (Balance, error)
	ListBalances(ctx context.Context, userID UserID) ([]Balance, error)
	// CreateBalance reports ErrConcurrentModification when the row already exists.
	CreateBalance(ctx context.Context, balance Balance) error
	// CompareAndSwapBalance writes balance only if the stored version equals expectedVersion.
	CompareAndSwapBalance(ctx context.Context, balance Balance, expectedVersion int64) error

	// InsertEntry reports ErrDuplicateEntry on a (kind, reference) collision.
	InsertEntry(ctx context.Context, entry Entry) error
	ListEntries(ctx context.Context, filter EntryFilter) ([]Entry, error)

	GetGame(ctx context.Context, gameID GameID) (Game, error)

	GetOrder(ctx context.Context, key OrderKey) (Order, error)
	CreateOrder(ctx context.Context, order Order) error
	CompareAndSwapOrder(ctx context.Context, order Order, expectedVersion int64) error

	// InsertProviderEvent reports ErrDuplicateEvent on a (provider, transaction) collision.
	InsertProviderEvent(ctx context.Context, event ProviderEvent) error
	GetProviderEvent(ctx context.Context, providerID ProviderID, transactionID TransactionID) (ProviderEvent, error)
	LinkProviderEventOrder(ctx context.Context, providerID ProviderID, transactionID TransactionID, orderID string) error
}
