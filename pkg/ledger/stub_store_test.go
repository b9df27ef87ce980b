package ledger

import (
	"context"
	"fmt"
	"testing"
)

const errorMismatchMessage = "expected %v, got %v"

type balanceKey struct {
	userID   UserID
	currency Currency
}

type eventKey struct {
	providerID    ProviderID
	transactionID TransactionID
}

type stubStore struct {
	balances map[balanceKey]Balance
	entries  []Entry
	orders   map[OrderKey]Order
	events   map[eventKey]ProviderEvent
	games    map[GameID]Game

	balanceConflicts int
	insertEntryErr   error
	getGameErr       error

	balanceSwaps int
	transactions int
	rollbacks    int
}

func newStubStore(test *testing.T, games ...Game) *stubStore {
	test.Helper()
	store := &stubStore{
		balances: map[balanceKey]Balance{},
		orders:   map[OrderKey]Order{},
		events:   map[eventKey]ProviderEvent{},
		games:    map[GameID]Game{},
	}
	for _, game := range games {
		store.games[game.GameID] = game
	}
	return store
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.transactions++
	balances := make(map[balanceKey]Balance, len(store.balances))
	for key, value := range store.balances {
		balances[key] = value
	}
	orders := make(map[OrderKey]Order, len(store.orders))
	for key, value := range store.orders {
		orders[key] = value
	}
	events := make(map[eventKey]ProviderEvent, len(store.events))
	for key, value := range store.events {
		events[key] = value
	}
	entries := append([]Entry(nil), store.entries...)

	if err := fn(ctx, store); err != nil {
		store.rollbacks++
		store.balances, store.orders, store.events, store.entries = balances, orders, events, entries
		return err
	}
	return nil
}

func (store *stubStore) GetBalance(_ context.Context, userID UserID, currency Currency) (Balance, error) {
	balance, ok := store.balances[balanceKey{userID: userID, currency: currency}]
	if !ok {
		return Balance{}, ErrBalanceNotFound
	}
	return balance, nil
}

func (store *stubStore) ListBalances(_ context.Context, userID UserID) ([]Balance, error) {
	var balances []Balance
	for key, balance := range store.balances {
		if key.userID == userID {
			balances = append(balances, balance)
		}
	}
	return balances, nil
}

func (store *stubStore) CreateBalance(_ context.Context, balance Balance) error {
	key := balanceKey{userID: balance.UserID, currency: balance.Currency}
	if _, exists := store.balances[key]; exists {
		return ErrConcurrentModification
	}
	store.balances[key] = balance
	return nil
}

func (store *stubStore) CompareAndSwapBalance(_ context.Context, balance Balance, expectedVersion int64) error {
	store.balanceSwaps++
	if store.balanceConflicts > 0 {
		store.balanceConflicts--
		return ErrConcurrentModification
	}
	key := balanceKey{userID: balance.UserID, currency: balance.Currency}
	current, exists := store.balances[key]
	if !exists || current.Version != expectedVersion {
		return ErrConcurrentModification
	}
	store.balances[key] = balance
	return nil
}

func (store *stubStore) InsertEntry(_ context.Context, entry Entry) error {
	if store.insertEntryErr != nil {
		return store.insertEntryErr
	}
	for _, existing := range store.entries {
		if !entry.Reference.IsZero() && existing.Kind == entry.Kind && existing.Reference == entry.Reference {
			return ErrDuplicateEntry
		}
	}
	store.entries = append(store.entries, entry)
	return nil
}

func (store *stubStore) ListEntries(_ context.Context, filter EntryFilter) ([]Entry, error) {
	var entries []Entry
	for index := len(store.entries) - 1; index >= 0; index-- {
		entry := store.entries[index]
		switch {
		case !filter.UserID.IsZero() && entry.UserID != filter.UserID:
			continue
		case !filter.Currency.IsZero() && entry.Currency != filter.Currency:
			continue
		case filter.Kind != "" && entry.Kind != filter.Kind:
			continue
		case !filter.Reference.IsZero() && entry.Reference != filter.Reference:
			continue
		case filter.FromUnixUTC > 0 && entry.CreatedUnixUTC < filter.FromUnixUTC:
			continue
		case filter.BeforeUnixUTC > 0 && entry.CreatedUnixUTC >= filter.BeforeUnixUTC:
			continue
		}
		entries = append(entries, entry)
		if filter.Limit > 0 && len(entries) == filter.Limit {
			break
		}
	}
	return entries, nil
}

func (store *stubStore) GetGame(_ context.Context, gameID GameID) (Game, error) {
	if store.getGameErr != nil {
		return Game{}, store.getGameErr
	}
	game, ok := store.games[gameID]
	if !ok {
		return Game{}, ErrGameNotFound
	}
	return game, nil
}

func (store *stubStore) GetOrder(_ context.Context, key OrderKey) (Order, error) {
	order, ok := store.orders[key]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

func (store *stubStore) CreateOrder(_ context.Context, order Order) error {
	if _, exists := store.orders[order.Key]; exists {
		return ErrConcurrentModification
	}
	store.orders[order.Key] = order
	return nil
}

func (store *stubStore) CompareAndSwapOrder(_ context.Context, order Order, expectedVersion int64) error {
	current, exists := store.orders[order.Key]
	if !exists || current.Version != expectedVersion {
		return ErrConcurrentModification
	}
	store.orders[order.Key] = order
	return nil
}

func (store *stubStore) InsertProviderEvent(_ context.Context, event ProviderEvent) error {
	key := eventKey{providerID: event.ProviderID, transactionID: event.TransactionID}
	if _, exists := store.events[key]; exists {
		return ErrDuplicateEvent
	}
	store.events[key] = event
	return nil
}

func (store *stubStore) GetProviderEvent(_ context.Context, providerID ProviderID, transactionID TransactionID) (ProviderEvent, error) {
	event, ok := store.events[eventKey{providerID: providerID, transactionID: transactionID}]
	if !ok {
		return ProviderEvent{}, ErrEventNotFound
	}
	return event, nil
}

func (store *stubStore) LinkProviderEventOrder(_ context.Context, providerID ProviderID, transactionID TransactionID, orderID string) error {
	key := eventKey{providerID: providerID, transactionID: transactionID}
	event, ok := store.events[key]
	if !ok {
		return ErrEventNotFound
	}
	event.OrderID = orderID
	store.events[key] = event
	return nil
}

func (store *stubStore) seedBalance(test *testing.T, userID UserID, currency Currency, available int64) {
	test.Helper()
	store.balances[balanceKey{userID: userID, currency: currency}] = Balance{
		UserID:    userID,
		Currency:  currency,
		Available: AmountCents(available),
		Version:   initialVersion,
	}
}

func (store *stubStore) mustBalance(test *testing.T, userID UserID, currency Currency) Balance {
	test.Helper()
	balance, err := store.GetBalance(context.Background(), userID, currency)
	if err != nil {
		test.Fatalf("balance lookup: %v", err)
	}
	return balance
}

type recordedOperations struct {
	entries []OperationLog
}

func (recorder *recordedOperations) LogOperation(_ context.Context, entry OperationLog) {
	recorder.entries = append(recorder.entries, entry)
}

func fixedClock(unixUTC int64) func() int64 {
	return func() int64 { return unixUTC }
}

func sequentialIDs() func() string {
	next := 0
	return func() string {
		next++
		return fmt.Sprintf("id-%d", next)
	}
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	options = append([]ServiceOption{WithIDGenerator(sequentialIDs())}, options...)
	service, err := NewService(store, fixedClock(1700000000), options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	value, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return value
}

func mustCurrency(test *testing.T, raw string) Currency {
	test.Helper()
	value, err := NewCurrency(raw)
	if err != nil {
		test.Fatalf("currency: %v", err)
	}
	return value
}

func mustGameID(test *testing.T, raw string) GameID {
	test.Helper()
	value, err := NewGameID(raw)
	if err != nil {
		test.Fatalf("game id: %v", err)
	}
	return value
}

func mustProviderID(test *testing.T, raw string) ProviderID {
	test.Helper()
	value, err := NewProviderID(raw)
	if err != nil {
		test.Fatalf("provider id: %v", err)
	}
	return value
}

func mustTransactionID(test *testing.T, raw string) TransactionID {
	test.Helper()
	value, err := NewTransactionID(raw)
	if err != nil {
		test.Fatalf("transaction id: %v", err)
	}
	return value
}

func mustRoundID(test *testing.T, raw string) RoundID {
	test.Helper()
	value, err := NewRoundID(raw)
	if err != nil {
		test.Fatalf("round id: %v", err)
	}
	return value
}

func mustReference(test *testing.T, raw string) Reference {
	test.Helper()
	value, err := NewReference(raw)
	if err != nil {
		test.Fatalf("reference: %v", err)
	}
	return value
}

func mustPositive(test *testing.T, raw int64) PositiveAmountCents {
	test.Helper()
	value, err := NewPositiveAmountCents(raw)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	return value
}
