package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/gamewallet/internal/tokens"
	"github.com/MarkoPoloResearchLab/gamewallet/pkg/ledger"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const errorSubjectToken = "token"

// TokenSource resolves opaque player tokens stored in session_tokens.
type TokenSource struct {
	db  *gorm.DB
	now func() time.Time
}

// NewTokenSource returns a TokenSource. A nil clock uses time.Now.
func NewTokenSource(db *gorm.DB, now func() time.Time) *TokenSource {
	if now == nil {
		now = time.Now
	}
	return &TokenSource{db: db, now: now}
}

func (source *TokenSource) Lookup(ctx context.Context, token string) (tokens.Identity, error) {
	var row SessionToken
	err := source.db.WithContext(ctx).Where("token_hash = ?", tokens.HashToken(token)).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tokens.Identity{}, wrapStoreError(errorSubjectToken, errorCodeGet, ledger.ErrInvalidToken)
	}
	if err != nil {
		return tokens.Identity{}, wrapStoreError(errorSubjectToken, errorCodeGet, err)
	}
	if !row.ExpiresAt.After(source.now()) {
		return tokens.Identity{}, wrapStoreError(errorSubjectToken, errorCodeGet, ledger.ErrInvalidToken)
	}
	userID, err := ledger.NewUserID(row.UserID)
	if err != nil {
		return tokens.Identity{}, wrapStoreError(errorSubjectToken, errorCodeInvalid, err)
	}
	currency, err := ledger.NewCurrency(row.Currency)
	if err != nil {
		return tokens.Identity{}, wrapStoreError(errorSubjectToken, errorCodeInvalid, err)
	}
	return tokens.Identity{UserID: userID, Currency: currency, ExpiresAt: row.ExpiresAt.UTC()}, nil
}

// Issue stores a new opaque token for the user and returns it.
func (source *TokenSource) Issue(ctx context.Context, userID ledger.UserID, currency ledger.Currency, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("token ttl must be positive, got %s", ttl)
	}
	token := uuid.NewString()
	now := source.now().UTC()
	row := SessionToken{
		TokenHash: tokens.HashToken(token),
		UserID:    userID.String(),
		Currency:  currency.String(),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := source.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", wrapStoreError(errorSubjectToken, errorCodeCreate, err)
	}
	return token, nil
}
