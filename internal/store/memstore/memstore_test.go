package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/MarkoPoloResearchLab/gamewallet/pkg/ledger"
	"github.com/stretchr/testify/require"
)

type fixtures struct {
	user     ledger.UserID
	currency ledger.Currency
	provider ledger.ProviderID
	game     ledger.GameID
	round    ledger.RoundID
}

func newFixtures(test *testing.T) fixtures {
	test.Helper()
	user, err := ledger.NewUserID("user-1")
	require.NoError(test, err)
	currency, err := ledger.NewCurrency("USD")
	require.NoError(test, err)
	provider, err := ledger.NewProviderID("acme")
	require.NoError(test, err)
	game, err := ledger.NewGameID("7")
	require.NoError(test, err)
	round, err := ledger.NewRoundID("R1")
	require.NoError(test, err)
	return fixtures{user: user, currency: currency, provider: provider, game: game, round: round}
}

func (values fixtures) event(test *testing.T, transactionID string) ledger.ProviderEvent {
	test.Helper()
	txID, err := ledger.NewTransactionID(transactionID)
	require.NoError(test, err)
	return ledger.ProviderEvent{
		EventID:       "event-" + transactionID,
		ProviderID:    values.provider,
		TransactionID: txID,
		Kind:          ledger.ProviderEventBet,
		GameID:        values.game,
		UserID:        values.user,
		RoundID:       values.round,
		Currency:      values.currency,
	}
}

func TestWithTxDiscardsWritesOnError(test *testing.T) {
	test.Parallel()

	ctx := context.Background()
	values := newFixtures(test)
	store := New()
	failure := errors.New("abort")

	err := store.WithTx(ctx, func(ctx context.Context, txStore ledger.Store) error {
		require.NoError(test, txStore.CreateBalance(ctx, ledger.Balance{UserID: values.user, Currency: values.currency, Available: 10, Version: 1}))
		require.NoError(test, txStore.InsertProviderEvent(ctx, values.event(test, "t1")))
		balance, err := txStore.GetBalance(ctx, values.user, values.currency)
		require.NoError(test, err)
		require.Equal(test, ledger.AmountCents(10), balance.Available)
		return failure
	})
	require.ErrorIs(test, err, failure)

	_, err = store.GetBalance(ctx, values.user, values.currency)
	require.ErrorIs(test, err, ledger.ErrBalanceNotFound)
	_, err = store.GetProviderEvent(ctx, values.provider, values.event(test, "t1").TransactionID)
	require.ErrorIs(test, err, ledger.ErrEventNotFound)
}

func TestCompareAndSwapBalanceChecksVersion(test *testing.T) {
	test.Parallel()

	ctx := context.Background()
	values := newFixtures(test)
	store := New()
	require.NoError(test, store.CreateBalance(ctx, ledger.Balance{UserID: values.user, Currency: values.currency, Available: 10, Version: 1}))

	err := store.CompareAndSwapBalance(ctx, ledger.Balance{UserID: values.user, Currency: values.currency, Available: 5, Version: 3}, 2)
	require.ErrorIs(test, err, ledger.ErrConcurrentModification)
	require.NoError(test, store.CompareAndSwapBalance(ctx, ledger.Balance{UserID: values.user, Currency: values.currency, Available: 5, Version: 2}, 1))

	balance, err := store.GetBalance(ctx, values.user, values.currency)
	require.NoError(test, err)
	require.Equal(test, int64(2), balance.Version)
	require.Equal(test, ledger.AmountCents(5), balance.Available)

	err = store.CreateBalance(ctx, ledger.Balance{UserID: values.user, Currency: values.currency, Version: 1})
	require.ErrorIs(test, err, ledger.ErrConcurrentModification)
}

func TestInterleavedTransactionsConflictAtCommit(test *testing.T) {
	test.Parallel()

	ctx := context.Background()
	values := newFixtures(test)
	store := New()
	require.NoError(test, store.CreateBalance(ctx, ledger.Balance{UserID: values.user, Currency: values.currency, Available: 10, Version: 1}))

	err := store.WithTx(ctx, func(ctx context.Context, outer ledger.Store) error {
		balance, err := outer.GetBalance(ctx, values.user, values.currency)
		require.NoError(test, err)
		next := balance
		next.Available, next.Version = 30, 2
		require.NoError(test, outer.CompareAndSwapBalance(ctx, next, 1))
		require.NoError(test, outer.InsertProviderEvent(ctx, values.event(test, "t1")))

		return store.WithTx(ctx, func(ctx context.Context, inner ledger.Store) error {
			require.NoError(test, inner.InsertProviderEvent(ctx, values.event(test, "t1")))
			concurrent := balance
			concurrent.Available, concurrent.Version = 20, 2
			return inner.CompareAndSwapBalance(ctx, concurrent, 1)
		})
	})
	require.ErrorIs(test, err, ledger.ErrDuplicateEvent)

	balance, err := store.GetBalance(ctx, values.user, values.currency)
	require.NoError(test, err)
	require.Equal(test, ledger.AmountCents(20), balance.Available)
}

func TestStaleBalanceWriteFailsAtCommit(test *testing.T) {
	test.Parallel()

	ctx := context.Background()
	values := newFixtures(test)
	store := New()
	require.NoError(test, store.CreateBalance(ctx, ledger.Balance{UserID: values.user, Currency: values.currency, Available: 10, Version: 1}))

	err := store.WithTx(ctx, func(ctx context.Context, outer ledger.Store) error {
		require.NoError(test, outer.CompareAndSwapBalance(ctx, ledger.Balance{UserID: values.user, Currency: values.currency, Available: 30, Version: 2}, 1))
		require.NoError(test, store.CompareAndSwapBalance(ctx, ledger.Balance{UserID: values.user, Currency: values.currency, Available: 20, Version: 2}, 1))
		return nil
	})
	require.ErrorIs(test, err, ledger.ErrConcurrentModification)
}

func TestNestedTransactionsJoinTheOuterOne(test *testing.T) {
	test.Parallel()

	ctx := context.Background()
	values := newFixtures(test)
	store := New()

	err := store.WithTx(ctx, func(ctx context.Context, outer ledger.Store) error {
		require.NoError(test, outer.WithTx(ctx, func(ctx context.Context, inner ledger.Store) error {
			return inner.InsertProviderEvent(ctx, values.event(test, "t1"))
		}))
		_, err := store.GetProviderEvent(ctx, values.provider, values.event(test, "t1").TransactionID)
		require.ErrorIs(test, err, ledger.ErrEventNotFound)
		return nil
	})
	require.NoError(test, err)

	_, err = store.GetProviderEvent(ctx, values.provider, values.event(test, "t1").TransactionID)
	require.NoError(test, err)
}

func TestEntriesAreUniquePerKindAndReference(test *testing.T) {
	test.Parallel()

	ctx := context.Background()
	values := newFixtures(test)
	store := New()
	reference, err := ledger.NewReference("acme:t1")
	require.NoError(test, err)
	entry := ledger.Entry{EntryID: "e1", UserID: values.user, Currency: values.currency, Amount: -10, Kind: ledger.EntryBet, Reference: reference, CreatedUnixUTC: 1}

	require.NoError(test, store.InsertEntry(ctx, entry))
	entry.EntryID = "e2"
	require.ErrorIs(test, store.InsertEntry(ctx, entry), ledger.ErrDuplicateEntry)
	entry.Kind, entry.Amount, entry.CreatedUnixUTC = ledger.EntryRefund, 10, 2
	require.NoError(test, store.InsertEntry(ctx, entry))

	entries, err := store.ListEntries(ctx, ledger.EntryFilter{UserID: values.user})
	require.NoError(test, err)
	require.Len(test, entries, 2)
	require.Equal(test, ledger.EntryRefund, entries[0].Kind)

	limited, err := store.ListEntries(ctx, ledger.EntryFilter{UserID: values.user, Kind: ledger.EntryBet, Limit: 1})
	require.NoError(test, err)
	require.Len(test, limited, 1)
	require.Equal(test, "e1", limited[0].EntryID)
}

func TestOrdersAndEventLinks(test *testing.T) {
	test.Parallel()

	ctx := context.Background()
	values := newFixtures(test)
	store := New()
	key := ledger.OrderKey{UserID: values.user, GameID: values.game, RoundID: values.round}

	err := store.WithTx(ctx, func(ctx context.Context, txStore ledger.Store) error {
		event := values.event(test, "t1")
		if err := txStore.InsertProviderEvent(ctx, event); err != nil {
			return err
		}
		if err := txStore.CreateOrder(ctx, ledger.Order{OrderID: "o1", Key: key, Currency: values.currency, StakeAmount: 10, Status: ledger.OrderStatusPending, Version: 1}); err != nil {
			return err
		}
		if err := txStore.LinkProviderEventOrder(ctx, event.ProviderID, event.TransactionID, "o1"); err != nil {
			return err
		}
		linked, err := txStore.GetProviderEvent(ctx, event.ProviderID, event.TransactionID)
		require.NoError(test, err)
		require.Equal(test, "o1", linked.OrderID)
		return nil
	})
	require.NoError(test, err)

	order, err := store.GetOrder(ctx, key)
	require.NoError(test, err)
	require.Equal(test, ledger.AmountCents(10), order.StakeAmount)
	event, err := store.GetProviderEvent(ctx, values.provider, values.event(test, "t1").TransactionID)
	require.NoError(test, err)
	require.Equal(test, "o1", event.OrderID)

	order.Status, order.Version = ledger.OrderStatusCompleted, 2
	require.ErrorIs(test, store.CompareAndSwapOrder(ctx, order, 5), ledger.ErrConcurrentModification)
	require.NoError(test, store.CompareAndSwapOrder(ctx, order, 1))

	missing, err := ledger.NewTransactionID("t404")
	require.NoError(test, err)
	require.ErrorIs(test, store.LinkProviderEventOrder(ctx, values.provider, missing, "o1"), ledger.ErrEventNotFound)
}

func TestGamesAndBalanceListing(test *testing.T) {
	test.Parallel()

	ctx := context.Background()
	values := newFixtures(test)
	store := New()

	_, err := store.GetGame(ctx, values.game)
	require.ErrorIs(test, err, ledger.ErrGameNotFound)
	require.NoError(test, store.UpsertGame(ctx, ledger.Game{GameID: values.game, Name: "Slots", Enabled: true}))
	game, err := store.GetGame(ctx, values.game)
	require.NoError(test, err)
	require.True(test, game.Enabled)

	euro, err := ledger.NewCurrency("EUR")
	require.NoError(test, err)
	require.NoError(test, store.CreateBalance(ctx, ledger.Balance{UserID: values.user, Currency: values.currency, Available: 1, Version: 1}))
	require.NoError(test, store.CreateBalance(ctx, ledger.Balance{UserID: values.user, Currency: euro, Available: 2, Version: 1}))
	balances, err := store.ListBalances(ctx, values.user)
	require.NoError(test, err)
	require.Len(test, balances, 2)
	require.Equal(test, "EUR", balances[0].Currency.String())
}

func TestWithTxHonoursCancelledContext(test *testing.T) {
	test.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := New().WithTx(ctx, func(context.Context, ledger.Store) error {
		called = true
		return nil
	})
	require.ErrorIs(test, err, context.Canceled)
	require.False(test, called)
}
