// Package memstore keeps ledger state in process memory.
//
// Transactions buffer their writes and validate them at commit under a single
// lock: balance and order writes are compare-and-swaps on the version seen by
// the transaction, and provider events and ledger entries are checked against
// their uniqueness keys. Concurrent transactions therefore fail the same way
// they would against a relational store.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/MarkoPoloResearchLab/gamewallet/pkg/ledger"
)

const (
	errorOperationStore = "memstore"
	errorSubjectBalance = "balance"
	errorSubjectEntry   = "entry"
	errorSubjectOrder   = "order"
	errorSubjectEvent   = "event"
	errorSubjectGame    = "game"
	errorCodeCreate     = "create"
	errorCodeDuplicate  = "duplicate"
	errorCodeGet        = "get"
	errorCodeUpdate     = "update"
	errorCodeLink       = "link"
)

type balanceKey struct {
	userID   string
	currency string
}

type orderKey struct {
	userID  string
	gameID  string
	roundID string
}

type eventKey struct {
	providerID    string
	transactionID string
}

type entryKey struct {
	kind      string
	reference string
}

type state struct {
	mu        sync.Mutex
	balances  map[balanceKey]ledger.Balance
	entries   []ledger.Entry
	entryRefs map[entryKey]struct{}
	orders    map[orderKey]ledger.Order
	events    map[eventKey]ledger.ProviderEvent
	games     map[string]ledger.Game
}

type balanceWrite struct {
	value    ledger.Balance
	expected int64
	created  bool
}

type orderWrite struct {
	value    ledger.Order
	expected int64
	created  bool
}

type transaction struct {
	balances   map[balanceKey]*balanceWrite
	orders     map[orderKey]*orderWrite
	entries    []ledger.Entry
	entryRefs  map[entryKey]struct{}
	events     map[eventKey]ledger.ProviderEvent
	eventOrder []eventKey
	links      map[eventKey]string
}

// Store implements ledger.Store in memory.
type Store struct {
	state *state
	tx    *transaction
}

// New returns an empty Store.
func New() *Store {
	return &Store{state: &state{
		balances:  make(map[balanceKey]ledger.Balance),
		entryRefs: make(map[entryKey]struct{}),
		orders:    make(map[orderKey]ledger.Order),
		events:    make(map[eventKey]ledger.ProviderEvent),
		games:     make(map[string]ledger.Game),
	}}
}

// WithTx runs fn against a buffered transaction and commits it when fn succeeds.
// Nested calls join the outer transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	if store.tx != nil {
		return fn(ctx, store)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	txStore := &Store{state: store.state, tx: &transaction{
		balances:  make(map[balanceKey]*balanceWrite),
		orders:    make(map[orderKey]*orderWrite),
		entryRefs: make(map[entryKey]struct{}),
		events:    make(map[eventKey]ledger.ProviderEvent),
		links:     make(map[eventKey]string),
	}}
	if err := fn(ctx, txStore); err != nil {
		return err
	}
	return store.state.commit(txStore.tx)
}

func (store *Store) autocommit(ctx context.Context, fn func(txStore *Store) error) error {
	return store.WithTx(ctx, func(ctx context.Context, txStore ledger.Store) error {
		return fn(txStore.(*Store))
	})
}

// UpsertGame inserts or replaces a catalog game.
func (store *Store) UpsertGame(_ context.Context, game ledger.Game) error {
	store.state.mu.Lock()
	defer store.state.mu.Unlock()
	store.state.games[game.GameID.String()] = game
	return nil
}

func (store *Store) GetGame(_ context.Context, gameID ledger.GameID) (ledger.Game, error) {
	store.state.mu.Lock()
	defer store.state.mu.Unlock()
	game, ok := store.state.games[gameID.String()]
	if !ok {
		return ledger.Game{}, wrapStoreError(errorSubjectGame, errorCodeGet, ledger.ErrGameNotFound)
	}
	return game, nil
}

func (store *Store) GetBalance(_ context.Context, userID ledger.UserID, currency ledger.Currency) (ledger.Balance, error) {
	key := balanceKey{userID: userID.String(), currency: currency.String()}
	if store.tx != nil {
		if write, ok := store.tx.balances[key]; ok {
			return write.value, nil
		}
	}
	store.state.mu.Lock()
	defer store.state.mu.Unlock()
	balance, ok := store.state.balances[key]
	if !ok {
		return ledger.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeGet, ledger.ErrBalanceNotFound)
	}
	return balance, nil
}

func (store *Store) ListBalances(_ context.Context, userID ledger.UserID) ([]ledger.Balance, error) {
	visible := make(map[balanceKey]ledger.Balance)
	store.state.mu.Lock()
	for key, balance := range store.state.balances {
		if key.userID == userID.String() {
			visible[key] = balance
		}
	}
	store.state.mu.Unlock()
	if store.tx != nil {
		for key, write := range store.tx.balances {
			if key.userID == userID.String() {
				visible[key] = write.value
			}
		}
	}
	balances := make([]ledger.Balance, 0, len(visible))
	for _, balance := range visible {
		balances = append(balances, balance)
	}
	sort.Slice(balances, func(left, right int) bool {
		return balances[left].Currency.String() < balances[right].Currency.String()
	})
	return balances, nil
}

func (store *Store) CreateBalance(ctx context.Context, balance ledger.Balance) error {
	if store.tx == nil {
		return store.autocommit(ctx, func(txStore *Store) error { return txStore.CreateBalance(ctx, balance) })
	}
	key := balanceKey{userID: balance.UserID.String(), currency: balance.Currency.String()}
	if _, err := store.GetBalance(ctx, balance.UserID, balance.Currency); err == nil {
		return wrapStoreError(errorSubjectBalance, errorCodeCreate, ledger.ErrConcurrentModification)
	}
	store.tx.balances[key] = &balanceWrite{value: balance, created: true}
	return nil
}

func (store *Store) CompareAndSwapBalance(ctx context.Context, balance ledger.Balance, expectedVersion int64) error {
	if store.tx == nil {
		return store.autocommit(ctx, func(txStore *Store) error {
			return txStore.CompareAndSwapBalance(ctx, balance, expectedVersion)
		})
	}
	key := balanceKey{userID: balance.UserID.String(), currency: balance.Currency.String()}
	if write, ok := store.tx.balances[key]; ok {
		if write.value.Version != expectedVersion {
			return wrapStoreError(errorSubjectBalance, errorCodeUpdate, ledger.ErrConcurrentModification)
		}
		write.value = balance
		return nil
	}
	current, err := store.GetBalance(ctx, balance.UserID, balance.Currency)
	if err != nil || current.Version != expectedVersion {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, ledger.ErrConcurrentModification)
	}
	store.tx.balances[key] = &balanceWrite{value: balance, expected: expectedVersion}
	return nil
}

func (store *Store) InsertEntry(ctx context.Context, entry ledger.Entry) error {
	if store.tx == nil {
		return store.autocommit(ctx, func(txStore *Store) error { return txStore.InsertEntry(ctx, entry) })
	}
	if !entry.Reference.IsZero() {
		key := entryKey{kind: entry.Kind.String(), reference: entry.Reference.String()}
		if _, ok := store.tx.entryRefs[key]; ok {
			return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, ledger.ErrDuplicateEntry)
		}
		store.state.mu.Lock()
		_, exists := store.state.entryRefs[key]
		store.state.mu.Unlock()
		if exists {
			return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, ledger.ErrDuplicateEntry)
		}
		store.tx.entryRefs[key] = struct{}{}
	}
	store.tx.entries = append(store.tx.entries, entry)
	return nil
}

func (store *Store) ListEntries(_ context.Context, filter ledger.EntryFilter) ([]ledger.Entry, error) {
	store.state.mu.Lock()
	candidates := append([]ledger.Entry(nil), store.state.entries...)
	store.state.mu.Unlock()
	if store.tx != nil {
		candidates = append(candidates, store.tx.entries...)
	}
	matched := make([]ledger.Entry, 0)
	for index := len(candidates) - 1; index >= 0; index-- {
		if entryMatches(candidates[index], filter) {
			matched = append(matched, candidates[index])
		}
	}
	sort.SliceStable(matched, func(left, right int) bool {
		return matched[left].CreatedUnixUTC > matched[right].CreatedUnixUTC
	})
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (store *Store) GetOrder(_ context.Context, key ledger.OrderKey) (ledger.Order, error) {
	internalKey := newOrderKey(key)
	if store.tx != nil {
		if write, ok := store.tx.orders[internalKey]; ok {
			return write.value, nil
		}
	}
	store.state.mu.Lock()
	defer store.state.mu.Unlock()
	order, ok := store.state.orders[internalKey]
	if !ok {
		return ledger.Order{}, wrapStoreError(errorSubjectOrder, errorCodeGet, ledger.ErrOrderNotFound)
	}
	return order, nil
}

func (store *Store) CreateOrder(ctx context.Context, order ledger.Order) error {
	if store.tx == nil {
		return store.autocommit(ctx, func(txStore *Store) error { return txStore.CreateOrder(ctx, order) })
	}
	if _, err := store.GetOrder(ctx, order.Key); err == nil {
		return wrapStoreError(errorSubjectOrder, errorCodeCreate, ledger.ErrConcurrentModification)
	}
	store.tx.orders[newOrderKey(order.Key)] = &orderWrite{value: order, created: true}
	return nil
}

func (store *Store) CompareAndSwapOrder(ctx context.Context, order ledger.Order, expectedVersion int64) error {
	if store.tx == nil {
		return store.autocommit(ctx, func(txStore *Store) error {
			return txStore.CompareAndSwapOrder(ctx, order, expectedVersion)
		})
	}
	internalKey := newOrderKey(order.Key)
	if write, ok := store.tx.orders[internalKey]; ok {
		if write.value.Version != expectedVersion {
			return wrapStoreError(errorSubjectOrder, errorCodeUpdate, ledger.ErrConcurrentModification)
		}
		write.value = order
		return nil
	}
	current, err := store.GetOrder(ctx, order.Key)
	if err != nil || current.Version != expectedVersion {
		return wrapStoreError(errorSubjectOrder, errorCodeUpdate, ledger.ErrConcurrentModification)
	}
	store.tx.orders[internalKey] = &orderWrite{value: order, expected: expectedVersion}
	return nil
}

func (store *Store) InsertProviderEvent(ctx context.Context, event ledger.ProviderEvent) error {
	if store.tx == nil {
		return store.autocommit(ctx, func(txStore *Store) error { return txStore.InsertProviderEvent(ctx, event) })
	}
	key := eventKey{providerID: event.ProviderID.String(), transactionID: event.TransactionID.String()}
	if _, err := store.GetProviderEvent(ctx, event.ProviderID, event.TransactionID); err == nil {
		return wrapStoreError(errorSubjectEvent, errorCodeDuplicate, ledger.ErrDuplicateEvent)
	}
	store.tx.events[key] = event
	store.tx.eventOrder = append(store.tx.eventOrder, key)
	return nil
}

func (store *Store) GetProviderEvent(_ context.Context, providerID ledger.ProviderID, transactionID ledger.TransactionID) (ledger.ProviderEvent, error) {
	key := eventKey{providerID: providerID.String(), transactionID: transactionID.String()}
	var (
		event ledger.ProviderEvent
		found bool
	)
	if store.tx != nil {
		event, found = store.tx.events[key]
	}
	if !found {
		store.state.mu.Lock()
		event, found = store.state.events[key]
		store.state.mu.Unlock()
	}
	if !found {
		return ledger.ProviderEvent{}, wrapStoreError(errorSubjectEvent, errorCodeGet, ledger.ErrEventNotFound)
	}
	if store.tx != nil {
		if orderID, linked := store.tx.links[key]; linked {
			event.OrderID = orderID
		}
	}
	return event, nil
}

func (store *Store) LinkProviderEventOrder(ctx context.Context, providerID ledger.ProviderID, transactionID ledger.TransactionID, orderID string) error {
	if store.tx == nil {
		return store.autocommit(ctx, func(txStore *Store) error {
			return txStore.LinkProviderEventOrder(ctx, providerID, transactionID, orderID)
		})
	}
	if _, err := store.GetProviderEvent(ctx, providerID, transactionID); err != nil {
		return wrapStoreError(errorSubjectEvent, errorCodeLink, err)
	}
	store.tx.links[eventKey{providerID: providerID.String(), transactionID: transactionID.String()}] = orderID
	return nil
}

func (current *state) commit(tx *transaction) error {
	current.mu.Lock()
	defer current.mu.Unlock()

	for _, key := range tx.eventOrder {
		if _, exists := current.events[key]; exists {
			return wrapStoreError(errorSubjectEvent, errorCodeDuplicate, ledger.ErrDuplicateEvent)
		}
	}
	for key := range tx.entryRefs {
		if _, exists := current.entryRefs[key]; exists {
			return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, ledger.ErrDuplicateEntry)
		}
	}
	for key, write := range tx.balances {
		stored, exists := current.balances[key]
		if write.created && exists {
			return wrapStoreError(errorSubjectBalance, errorCodeCreate, ledger.ErrConcurrentModification)
		}
		if !write.created && (!exists || stored.Version != write.expected) {
			return wrapStoreError(errorSubjectBalance, errorCodeUpdate, ledger.ErrConcurrentModification)
		}
	}
	for key, write := range tx.orders {
		stored, exists := current.orders[key]
		if write.created && exists {
			return wrapStoreError(errorSubjectOrder, errorCodeCreate, ledger.ErrConcurrentModification)
		}
		if !write.created && (!exists || stored.Version != write.expected) {
			return wrapStoreError(errorSubjectOrder, errorCodeUpdate, ledger.ErrConcurrentModification)
		}
	}

	for key, write := range tx.balances {
		current.balances[key] = write.value
	}
	for key, write := range tx.orders {
		current.orders[key] = write.value
	}
	for key, event := range tx.events {
		current.events[key] = event
	}
	for key, orderID := range tx.links {
		event := current.events[key]
		event.OrderID = orderID
		current.events[key] = event
	}
	for key := range tx.entryRefs {
		current.entryRefs[key] = struct{}{}
	}
	current.entries = append(current.entries, tx.entries...)
	return nil
}

func entryMatches(entry ledger.Entry, filter ledger.EntryFilter) bool {
	switch {
	case !filter.UserID.IsZero() && entry.UserID != filter.UserID:
		return false
	case !filter.Currency.IsZero() && entry.Currency != filter.Currency:
		return false
	case filter.Kind != "" && entry.Kind != filter.Kind:
		return false
	case !filter.Reference.IsZero() && entry.Reference != filter.Reference:
		return false
	case filter.FromUnixUTC != 0 && entry.CreatedUnixUTC < filter.FromUnixUTC:
		return false
	case filter.BeforeUnixUTC != 0 && entry.CreatedUnixUTC >= filter.BeforeUnixUTC:
		return false
	}
	return true
}

func newOrderKey(key ledger.OrderKey) orderKey {
	return orderKey{userID: key.UserID.String(), gameID: key.GameID.String(), roundID: key.RoundID.String()}
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}
