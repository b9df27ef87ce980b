package ledger

import (
	"context"
	"fmt"
)

const defaultListLimit = 100

// Journal is the append-only record of completed balance effects.
type Journal struct {
	store Store
	nowFn func() int64
	newID func() string
}

// NewJournal binds a Journal to a store.
func NewJournal(store Store, now func() int64, newID func() string) *Journal {
	return &Journal{store: store, nowFn: now, newID: newID}
}

// EntryInput carries the fields of a new ledger entry.
type EntryInput struct {
	UserID    UserID
	Currency  Currency
	Amount    EntryAmountCents
	Bucket    Bucket
	Kind      EntryKind
	Reference Reference
	Note      DetailJSON
}

// Append inserts a completed entry. A second entry with the same kind and
// reference fails with ErrDuplicateEntry.
func (journal *Journal) Append(ctx context.Context, input EntryInput) (Entry, error) {
	if input.UserID.IsZero() {
		return Entry{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	if input.Currency.IsZero() {
		return Entry{}, fmt.Errorf("%w: empty value", ErrInvalidCurrency)
	}
	if _, err := NewEntryAmountCents(input.Amount.Int64()); err != nil {
		return Entry{}, err
	}
	if _, err := ParseEntryKind(input.Kind.String()); err != nil {
		return Entry{}, err
	}
	bucket := input.Bucket
	if bucket == "" {
		bucket = BucketAvailable
	}
	entry := Entry{
		EntryID:        journal.newID(),
		UserID:         input.UserID,
		Currency:       input.Currency,
		Amount:         input.Amount,
		Bucket:         bucket,
		Kind:           input.Kind,
		Status:         EntryStatusCompleted,
		Reference:      input.Reference,
		Note:           input.Note,
		CreatedUnixUTC: journal.nowFn(),
	}
	if err := journal.store.InsertEntry(ctx, entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// List returns entries matching filter, newest first.
func (journal *Journal) List(ctx context.Context, filter EntryFilter) ([]Entry, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	return journal.store.ListEntries(ctx, filter)
}

// ListByUser returns the newest entries of a user.
func (journal *Journal) ListByUser(ctx context.Context, userID UserID, limit int) ([]Entry, error) {
	return journal.List(ctx, EntryFilter{UserID: userID, Limit: limit})
}

// ListByKind returns the newest entries of one kind for a user.
func (journal *Journal) ListByKind(ctx context.Context, userID UserID, kind EntryKind, limit int) ([]Entry, error) {
	return journal.List(ctx, EntryFilter{UserID: userID, Kind: kind, Limit: limit})
}

// ListByDateRange returns entries of a user created in [fromUnixUTC, beforeUnixUTC).
func (journal *Journal) ListByDateRange(ctx context.Context, userID UserID, fromUnixUTC int64, beforeUnixUTC int64, limit int) ([]Entry, error) {
	return journal.List(ctx, EntryFilter{UserID: userID, FromUnixUTC: fromUnixUTC, BeforeUnixUTC: beforeUnixUTC, Limit: limit})
}
