package tokens

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/gamewallet/pkg/ledger"
	"go.uber.org/zap"
)

const (
	cacheKeyPrefix       = "wallet:token:"
	defaultNegativeTTL   = 30 * time.Second
	defaultMaxTTL        = 5 * time.Minute
	errorOperationTokens = "tokens"
	errorSubjectToken    = "token"
	errorCodeEmpty       = "empty"
	errorCodeExpired     = "expired"
	errorCodeUnknown     = "unknown"
	errorCodeLookup      = "lookup"
)

// Identity is what a bearer token resolves to.
type Identity struct {
	UserID    ledger.UserID
	Currency  ledger.Currency
	ExpiresAt time.Time
}

// Source resolves tokens authoritatively. Unknown or expired tokens must be
// reported as ledger.ErrInvalidToken.
type Source interface {
	Lookup(ctx context.Context, token string) (Identity, error)
}

// CacheEntry is the cached outcome of a lookup. Negative entries remember a failed lookup.
type CacheEntry struct {
	UserID         string `json:"user_id,omitempty"`
	Currency       string `json:"currency,omitempty"`
	ExpiresUnixUTC int64  `json:"expires_unix_utc,omitempty"`
	Negative       bool   `json:"negative,omitempty"`
}

// Cache stores lookup outcomes for a bounded time.
type Cache interface {
	Get(ctx context.Context, key string) (CacheEntry, bool, error)
	Set(ctx context.Context, key string, entry CacheEntry, ttl time.Duration) error
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithNegativeTTL sets how long failed lookups are cached.
func WithNegativeTTL(ttl time.Duration) ResolverOption {
	return func(resolver *Resolver) {
		resolver.negativeTTL = ttl
	}
}

// WithMaxTTL caps how long successful lookups are cached.
func WithMaxTTL(ttl time.Duration) ResolverOption {
	return func(resolver *Resolver) {
		resolver.maxTTL = ttl
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) ResolverOption {
	return func(resolver *Resolver) {
		if now != nil {
			resolver.now = now
		}
	}
}

// WithLogger wires a logger for cache failures.
func WithLogger(logger *zap.Logger) ResolverOption {
	return func(resolver *Resolver) {
		if logger != nil {
			resolver.logger = logger
		}
	}
}

// Resolver turns bearer tokens into identities through a cache.
type Resolver struct {
	source      Source
	cache       Cache
	negativeTTL time.Duration
	maxTTL      time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

// NewResolver wires a Resolver. A nil cache disables caching.
func NewResolver(source Source, cache Cache, options ...ResolverOption) (*Resolver, error) {
	if source == nil {
		return nil, errors.New("token source is nil")
	}
	resolver := &Resolver{
		source:      source,
		cache:       cache,
		negativeTTL: defaultNegativeTTL,
		maxTTL:      defaultMaxTTL,
		now:         time.Now,
		logger:      zap.NewNop(),
	}
	for _, option := range options {
		if option != nil {
			option(resolver)
		}
	}
	if resolver.maxTTL <= 0 {
		return nil, fmt.Errorf("max ttl must be positive, got %s", resolver.maxTTL)
	}
	if resolver.negativeTTL <= 0 || resolver.negativeTTL > resolver.maxTTL {
		resolver.negativeTTL = minDuration(defaultNegativeTTL, resolver.maxTTL)
	}
	return resolver, nil
}

// Resolve returns the identity behind token or an ledger.ErrInvalidToken error.
func (resolver *Resolver) Resolve(ctx context.Context, token string) (Identity, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return Identity{}, ledger.WrapError(errorOperationTokens, errorSubjectToken, errorCodeEmpty, ledger.ErrInvalidToken)
	}
	key := CacheKey(trimmed)
	if identity, handled, err := resolver.fromCache(ctx, key); handled {
		return identity, err
	}

	identity, err := resolver.source.Lookup(ctx, trimmed)
	if errors.Is(err, ledger.ErrInvalidToken) {
		resolver.store(ctx, key, CacheEntry{Negative: true}, resolver.negativeTTL)
		return Identity{}, err
	}
	if err != nil {
		return Identity{}, ledger.WrapError(errorOperationTokens, errorSubjectToken, errorCodeLookup, err)
	}
	now := resolver.now()
	if !identity.ExpiresAt.After(now) {
		resolver.store(ctx, key, CacheEntry{Negative: true}, resolver.negativeTTL)
		return Identity{}, ledger.WrapError(errorOperationTokens, errorSubjectToken, errorCodeExpired, ledger.ErrInvalidToken)
	}
	ttl := minDuration(resolver.maxTTL, identity.ExpiresAt.Sub(now))
	resolver.store(ctx, key, CacheEntry{
		UserID:         identity.UserID.String(),
		Currency:       identity.Currency.String(),
		ExpiresUnixUTC: identity.ExpiresAt.Unix(),
	}, ttl)
	return identity, nil
}

func (resolver *Resolver) fromCache(ctx context.Context, key string) (Identity, bool, error) {
	if resolver.cache == nil {
		return Identity{}, false, nil
	}
	entry, found, err := resolver.cache.Get(ctx, key)
	if err != nil {
		resolver.logger.Warn("token cache read failed", zap.Error(err))
		return Identity{}, false, nil
	}
	if !found {
		return Identity{}, false, nil
	}
	if entry.Negative {
		return Identity{}, true, ledger.WrapError(errorOperationTokens, errorSubjectToken, errorCodeUnknown, ledger.ErrInvalidToken)
	}
	expiresAt := time.Unix(entry.ExpiresUnixUTC, 0).UTC()
	if !expiresAt.After(resolver.now()) {
		return Identity{}, true, ledger.WrapError(errorOperationTokens, errorSubjectToken, errorCodeExpired, ledger.ErrInvalidToken)
	}
	userID, userErr := ledger.NewUserID(entry.UserID)
	currency, currencyErr := ledger.NewCurrency(entry.Currency)
	if userErr != nil || currencyErr != nil {
		resolver.logger.Warn("token cache entry malformed", zap.String("key", key))
		return Identity{}, false, nil
	}
	return Identity{UserID: userID, Currency: currency, ExpiresAt: expiresAt}, true, nil
}

func (resolver *Resolver) store(ctx context.Context, key string, entry CacheEntry, ttl time.Duration) {
	if resolver.cache == nil || ttl <= 0 {
		return
	}
	if err := resolver.cache.Set(ctx, key, entry, ttl); err != nil {
		resolver.logger.Warn("token cache write failed", zap.Error(err))
	}
}

// CacheKey derives the cache key of a token without storing the token itself.
func CacheKey(token string) string {
	return cacheKeyPrefix + HashToken(token)
}

// HashToken returns the hex SHA-256 digest of a token.
func HashToken(token string) string {
	digest := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(digest[:])
}

func minDuration(left time.Duration, right time.Duration) time.Duration {
	if left < right {
		return left
	}
	return right
}
