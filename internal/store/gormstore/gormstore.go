package gormstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/gamewallet/pkg/ledger"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintBalanceKey     = "uniq_account_balances_user_currency"
	constraintEntryReference = "uniq_ledger_entries_kind_reference"
	constraintOrderKey       = "uniq_round_orders_key"
	constraintProviderEvent  = "uniq_provider_events_provider_txn"
	defaultDetailJSON        = "{}"
	pgUniqueViolationCode    = "23505"
	sqliteConstraintCode     = 19
	sqliteUniqueMessage      = "UNIQUE constraint failed"
	errorOperationStore      = "store"
	errorSubjectBalance      = "balance"
	errorSubjectEntry        = "entry"
	errorSubjectOrder        = "order"
	errorSubjectEvent        = "event"
	errorSubjectGame         = "game"
	errorCodeCreate          = "create"
	errorCodeDuplicate       = "duplicate"
	errorCodeGet             = "get"
	errorCodeInsert          = "insert"
	errorCodeInvalid         = "invalid"
	errorCodeList            = "list"
	errorCodeLink            = "link"
	errorCodeUpdate          = "update"
	errorCodeUpsert          = "upsert"
)

// Store implements ledger.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) GetBalance(ctx context.Context, userID ledger.UserID, currency ledger.Currency) (ledger.Balance, error) {
	var row AccountBalance
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND currency = ?", userID.String(), currency.String()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeGet, ledger.ErrBalanceNotFound)
	}
	if err != nil {
		return ledger.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeGet, err)
	}
	balance, err := mapBalance(row)
	if err != nil {
		return ledger.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeInvalid, err)
	}
	return balance, nil
}

func (store *Store) ListBalances(ctx context.Context, userID ledger.UserID) ([]ledger.Balance, error) {
	var rows []AccountBalance
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("currency ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectBalance, errorCodeList, err)
	}
	balances := make([]ledger.Balance, 0, len(rows))
	for _, row := range rows {
		balance, err := mapBalance(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectBalance, errorCodeInvalid, err)
		}
		balances = append(balances, balance)
	}
	return balances, nil
}

func (store *Store) CreateBalance(ctx context.Context, balance ledger.Balance) error {
	updatedAt := unixToTime(balance.UpdatedUnixUTC)
	row := AccountBalance{
		UserID:         balance.UserID.String(),
		Currency:       balance.Currency.String(),
		AvailableCents: balance.Available.Int64(),
		FrozenCents:    balance.Frozen.Int64(),
		Version:        balance.Version,
		CreatedAt:      updatedAt,
		UpdatedAt:      updatedAt,
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err, constraintBalanceKey, AccountBalance{}.TableName()) {
		return wrapStoreError(errorSubjectBalance, errorCodeCreate, ledger.ErrConcurrentModification)
	}
	if err != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) CompareAndSwapBalance(ctx context.Context, balance ledger.Balance, expectedVersion int64) error {
	result := store.db.WithContext(ctx).
		Model(&AccountBalance{}).
		Where("user_id = ? AND currency = ? AND version = ?", balance.UserID.String(), balance.Currency.String(), expectedVersion).
		Updates(map[string]any{
			"available_cents": balance.Available.Int64(),
			"frozen_cents":    balance.Frozen.Int64(),
			"version":         balance.Version,
			"updated_at":      unixToTime(balance.UpdatedUnixUTC),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, ledger.ErrConcurrentModification)
	}
	return nil
}

func (store *Store) InsertEntry(ctx context.Context, entry ledger.Entry) error {
	var reference *string
	if !entry.Reference.IsZero() {
		value := entry.Reference.String()
		reference = &value
	}
	row := LedgerEntry{
		EntryID:     entry.EntryID,
		UserID:      entry.UserID.String(),
		Currency:    entry.Currency.String(),
		AmountCents: entry.Amount.Int64(),
		Bucket:      string(entry.Bucket),
		Kind:        entry.Kind.String(),
		Status:      string(entry.Status),
		Reference:   reference,
		Note:        datatypesJSON(entry.Note.String()),
		CreatedAt:   unixToTime(entry.CreatedUnixUTC),
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err, constraintEntryReference, row.TableName()) {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, ledger.ErrDuplicateEntry)
	}
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ListEntries(ctx context.Context, filter ledger.EntryFilter) ([]ledger.Entry, error) {
	query := store.db.WithContext(ctx).Model(&LedgerEntry{})
	if !filter.UserID.IsZero() {
		query = query.Where("user_id = ?", filter.UserID.String())
	}
	if !filter.Currency.IsZero() {
		query = query.Where("currency = ?", filter.Currency.String())
	}
	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind.String())
	}
	if !filter.Reference.IsZero() {
		query = query.Where("reference = ?", filter.Reference.String())
	}
	if filter.FromUnixUTC != 0 {
		query = query.Where("created_at >= ?", unixToTime(filter.FromUnixUTC))
	}
	if filter.BeforeUnixUTC != 0 {
		query = query.Where("created_at < ?", unixToTime(filter.BeforeUnixUTC))
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var rows []LedgerEntry
	if err := query.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	entries := make([]ledger.Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapLedgerEntry(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (store *Store) GetGame(ctx context.Context, gameID ledger.GameID) (ledger.Game, error) {
	var row Game
	err := store.db.WithContext(ctx).Where("game_id = ?", gameID.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Game{}, wrapStoreError(errorSubjectGame, errorCodeGet, ledger.ErrGameNotFound)
	}
	if err != nil {
		return ledger.Game{}, wrapStoreError(errorSubjectGame, errorCodeGet, err)
	}
	parsedGameID, err := ledger.NewGameID(row.GameID)
	if err != nil {
		return ledger.Game{}, wrapStoreError(errorSubjectGame, errorCodeInvalid, err)
	}
	return ledger.Game{GameID: parsedGameID, Name: row.Name, Enabled: row.Enabled}, nil
}

// UpsertGame inserts a catalog game or updates its name and enabled flag.
func (store *Store) UpsertGame(ctx context.Context, game ledger.Game) error {
	now := time.Now().UTC()
	row := Game{
		GameID:    game.GameID.String(),
		Name:      game.Name,
		Enabled:   game.Enabled,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "game_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "enabled", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return wrapStoreError(errorSubjectGame, errorCodeUpsert, err)
	}
	return nil
}

func (store *Store) GetOrder(ctx context.Context, key ledger.OrderKey) (ledger.Order, error) {
	var row RoundOrder
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND game_id = ? AND round_id = ?", key.UserID.String(), key.GameID.String(), key.RoundID.String()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Order{}, wrapStoreError(errorSubjectOrder, errorCodeGet, ledger.ErrOrderNotFound)
	}
	if err != nil {
		return ledger.Order{}, wrapStoreError(errorSubjectOrder, errorCodeGet, err)
	}
	order, err := mapOrder(row)
	if err != nil {
		return ledger.Order{}, wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
	}
	return order, nil
}

func (store *Store) CreateOrder(ctx context.Context, order ledger.Order) error {
	createdAt := unixToTime(order.CreatedUnixUTC)
	row := RoundOrder{
		OrderID:     order.OrderID,
		UserID:      order.Key.UserID.String(),
		GameID:      order.Key.GameID.String(),
		RoundID:     order.Key.RoundID.String(),
		Currency:    order.Currency.String(),
		StakeCents:  order.StakeAmount.Int64(),
		PayoutCents: order.PayoutAmount.Int64(),
		Status:      order.Status.String(),
		CompletedAt: optionalTime(order.CompletedUnixUTC),
		Version:     order.Version,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err, constraintOrderKey, row.TableName()) {
		return wrapStoreError(errorSubjectOrder, errorCodeCreate, ledger.ErrConcurrentModification)
	}
	if err != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) CompareAndSwapOrder(ctx context.Context, order ledger.Order, expectedVersion int64) error {
	result := store.db.WithContext(ctx).
		Model(&RoundOrder{}).
		Where("order_id = ? AND version = ?", order.OrderID, expectedVersion).
		Updates(map[string]any{
			"stake_cents":  order.StakeAmount.Int64(),
			"payout_cents": order.PayoutAmount.Int64(),
			"status":       order.Status.String(),
			"completed_at": optionalTime(order.CompletedUnixUTC),
			"version":      order.Version,
			"updated_at":   time.Now().UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectOrder, errorCodeUpdate, ledger.ErrConcurrentModification)
	}
	return nil
}

func (store *Store) InsertProviderEvent(ctx context.Context, event ledger.ProviderEvent) error {
	row := ProviderEvent{
		EventID:       event.EventID,
		ProviderID:    event.ProviderID.String(),
		TransactionID: event.TransactionID.String(),
		Kind:          string(event.Kind),
		GameID:        event.GameID.String(),
		UserID:        event.UserID.String(),
		RoundID:       event.RoundID.String(),
		Currency:      event.Currency.String(),
		AmountCents:   event.Amount.Int64(),
		Detail:        datatypesJSON(event.Detail.String()),
		CreatedAt:     unixToTime(event.CreatedUnixUTC),
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err, constraintProviderEvent, row.TableName()) {
		return wrapStoreError(errorSubjectEvent, errorCodeDuplicate, ledger.ErrDuplicateEvent)
	}
	if err != nil {
		return wrapStoreError(errorSubjectEvent, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetProviderEvent(ctx context.Context, providerID ledger.ProviderID, transactionID ledger.TransactionID) (ledger.ProviderEvent, error) {
	var row ProviderEvent
	err := store.db.WithContext(ctx).
		Where("provider_id = ? AND transaction_id = ?", providerID.String(), transactionID.String()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.ProviderEvent{}, wrapStoreError(errorSubjectEvent, errorCodeGet, ledger.ErrEventNotFound)
	}
	if err != nil {
		return ledger.ProviderEvent{}, wrapStoreError(errorSubjectEvent, errorCodeGet, err)
	}
	event, err := mapProviderEvent(row)
	if err != nil {
		return ledger.ProviderEvent{}, wrapStoreError(errorSubjectEvent, errorCodeInvalid, err)
	}
	return event, nil
}

func (store *Store) LinkProviderEventOrder(ctx context.Context, providerID ledger.ProviderID, transactionID ledger.TransactionID, orderID string) error {
	result := store.db.WithContext(ctx).
		Model(&ProviderEvent{}).
		Where("provider_id = ? AND transaction_id = ?", providerID.String(), transactionID.String()).
		Update("order_id", orderID)
	if result.Error != nil {
		return wrapStoreError(errorSubjectEvent, errorCodeLink, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectEvent, errorCodeLink, ledger.ErrEventNotFound)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func mapBalance(row AccountBalance) (ledger.Balance, error) {
	userID, err := ledger.NewUserID(row.UserID)
	if err != nil {
		return ledger.Balance{}, err
	}
	currency, err := ledger.NewCurrency(row.Currency)
	if err != nil {
		return ledger.Balance{}, err
	}
	available, err := ledger.NewAmountCents(row.AvailableCents)
	if err != nil {
		return ledger.Balance{}, err
	}
	frozen, err := ledger.NewAmountCents(row.FrozenCents)
	if err != nil {
		return ledger.Balance{}, err
	}
	return ledger.Balance{
		UserID:         userID,
		Currency:       currency,
		Available:      available,
		Frozen:         frozen,
		Version:        row.Version,
		UpdatedUnixUTC: row.UpdatedAt.Unix(),
	}, nil
}

func mapLedgerEntry(row LedgerEntry) (ledger.Entry, error) {
	userID, err := ledger.NewUserID(row.UserID)
	if err != nil {
		return ledger.Entry{}, err
	}
	currency, err := ledger.NewCurrency(row.Currency)
	if err != nil {
		return ledger.Entry{}, err
	}
	amount, err := ledger.NewEntryAmountCents(row.AmountCents)
	if err != nil {
		return ledger.Entry{}, err
	}
	bucket, err := ledger.ParseBucket(row.Bucket)
	if err != nil {
		return ledger.Entry{}, err
	}
	kind, err := ledger.ParseEntryKind(row.Kind)
	if err != nil {
		return ledger.Entry{}, err
	}
	var reference ledger.Reference
	if row.Reference != nil {
		reference, err = ledger.NewReference(*row.Reference)
		if err != nil {
			return ledger.Entry{}, err
		}
	}
	note, err := ledger.NewDetailJSON(string(row.Note))
	if err != nil {
		return ledger.Entry{}, err
	}
	return ledger.Entry{
		EntryID:        row.EntryID,
		UserID:         userID,
		Currency:       currency,
		Amount:         amount,
		Bucket:         bucket,
		Kind:           kind,
		Status:         ledger.EntryStatus(row.Status),
		Reference:      reference,
		Note:           note,
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}, nil
}

func mapOrder(row RoundOrder) (ledger.Order, error) {
	userID, err := ledger.NewUserID(row.UserID)
	if err != nil {
		return ledger.Order{}, err
	}
	gameID, err := ledger.NewGameID(row.GameID)
	if err != nil {
		return ledger.Order{}, err
	}
	roundID, err := ledger.NewRoundID(row.RoundID)
	if err != nil {
		return ledger.Order{}, err
	}
	currency, err := ledger.NewCurrency(row.Currency)
	if err != nil {
		return ledger.Order{}, err
	}
	stake, err := ledger.NewAmountCents(row.StakeCents)
	if err != nil {
		return ledger.Order{}, err
	}
	payout, err := ledger.NewAmountCents(row.PayoutCents)
	if err != nil {
		return ledger.Order{}, err
	}
	status, err := ledger.ParseOrderStatus(row.Status)
	if err != nil {
		return ledger.Order{}, err
	}
	return ledger.Order{
		OrderID:          row.OrderID,
		Key:              ledger.OrderKey{UserID: userID, GameID: gameID, RoundID: roundID},
		Currency:         currency,
		StakeAmount:      stake,
		PayoutAmount:     payout,
		Status:           status,
		CompletedUnixUTC: timeOrZero(row.CompletedAt),
		Version:          row.Version,
		CreatedUnixUTC:   row.CreatedAt.Unix(),
	}, nil
}

func mapProviderEvent(row ProviderEvent) (ledger.ProviderEvent, error) {
	providerID, err := ledger.NewProviderID(row.ProviderID)
	if err != nil {
		return ledger.ProviderEvent{}, err
	}
	transactionID, err := ledger.NewTransactionID(row.TransactionID)
	if err != nil {
		return ledger.ProviderEvent{}, err
	}
	gameID, err := ledger.NewGameID(row.GameID)
	if err != nil {
		return ledger.ProviderEvent{}, err
	}
	userID, err := ledger.NewUserID(row.UserID)
	if err != nil {
		return ledger.ProviderEvent{}, err
	}
	roundID, err := ledger.NewRoundID(row.RoundID)
	if err != nil {
		return ledger.ProviderEvent{}, err
	}
	currency, err := ledger.NewCurrency(row.Currency)
	if err != nil {
		return ledger.ProviderEvent{}, err
	}
	amount, err := ledger.NewAmountCents(row.AmountCents)
	if err != nil {
		return ledger.ProviderEvent{}, err
	}
	detail, err := ledger.NewDetailJSON(string(row.Detail))
	if err != nil {
		return ledger.ProviderEvent{}, err
	}
	orderID := ""
	if row.OrderID != nil {
		orderID = *row.OrderID
	}
	return ledger.ProviderEvent{
		EventID:        row.EventID,
		ProviderID:     providerID,
		TransactionID:  transactionID,
		Kind:           ledger.ProviderEventKind(row.Kind),
		GameID:         gameID,
		UserID:         userID,
		RoundID:        roundID,
		Currency:       currency,
		Amount:         amount,
		Detail:         detail,
		OrderID:        orderID,
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}, nil
}

func unixToTime(unixUTC int64) time.Time {
	if unixUTC == 0 {
		return time.Now().UTC()
	}
	return time.Unix(unixUTC, 0).UTC()
}

func optionalTime(unixUTC int64) *time.Time {
	if unixUTC == 0 {
		return nil
	}
	value := time.Unix(unixUTC, 0).UTC()
	return &value
}

func timeOrZero(value *time.Time) int64 {
	if value == nil {
		return 0
	}
	return value.Unix()
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultDetailJSON))
	}
	return datatypes.JSON([]byte(raw))
}

// isUniqueViolation reports whether err is a unique-key violation of the
// named constraint. SQLite does not report constraint names, so its
// message is matched against the table instead.
func isUniqueViolation(err error, constraint string, table string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		message := sqliteErr.Error()
		return sqliteErr.Code()&0xFF == sqliteConstraintCode &&
			strings.Contains(message, sqliteUniqueMessage) &&
			strings.Contains(message, table+".")
	}
	return false
}
