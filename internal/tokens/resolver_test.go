package tokens

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/gamewallet/pkg/ledger"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	identities map[string]Identity
	err        error
	lookups    int
}

func (source *stubSource) Lookup(_ context.Context, token string) (Identity, error) {
	source.lookups++
	if source.err != nil {
		return Identity{}, source.err
	}
	identity, ok := source.identities[token]
	if !ok {
		return Identity{}, ledger.ErrInvalidToken
	}
	return identity, nil
}

type failingCache struct{}

func (failingCache) Get(context.Context, string) (CacheEntry, bool, error) {
	return CacheEntry{}, false, errors.New("cache down")
}

func (failingCache) Set(context.Context, string, CacheEntry, time.Duration) error {
	return errors.New("cache down")
}

type manualClock struct {
	now time.Time
}

func (clock *manualClock) Now() time.Time { return clock.now }

func (clock *manualClock) Advance(step time.Duration) { clock.now = clock.now.Add(step) }

func newIdentity(test *testing.T, user string, currency string, expiresAt time.Time) Identity {
	test.Helper()
	userID, err := ledger.NewUserID(user)
	require.NoError(test, err)
	code, err := ledger.NewCurrency(currency)
	require.NoError(test, err)
	return Identity{UserID: userID, Currency: code, ExpiresAt: expiresAt}
}

func TestResolverCachesPositiveLookups(test *testing.T) {
	test.Parallel()

	clock := &manualClock{now: time.Unix(1_700_000_000, 0).UTC()}
	source := &stubSource{identities: map[string]Identity{
		"good": newIdentity(test, "user-1", "USD", clock.now.Add(time.Hour)),
	}}
	resolver, err := NewResolver(source, NewMemoryCache(clock.Now), WithClock(clock.Now), WithMaxTTL(time.Minute))
	require.NoError(test, err)

	for attempt := 0; attempt < 3; attempt++ {
		identity, err := resolver.Resolve(context.Background(), " good ")
		require.NoError(test, err)
		require.Equal(test, "user-1", identity.UserID.String())
		require.Equal(test, "USD", identity.Currency.String())
	}
	require.Equal(test, 1, source.lookups)

	clock.Advance(time.Minute + time.Second)
	_, err = resolver.Resolve(context.Background(), "good")
	require.NoError(test, err)
	require.Equal(test, 2, source.lookups)
}

func TestResolverBoundsCacheTTLByTokenExpiry(test *testing.T) {
	test.Parallel()

	clock := &manualClock{now: time.Unix(1_700_000_000, 0).UTC()}
	source := &stubSource{identities: map[string]Identity{
		"short": newIdentity(test, "user-1", "USD", clock.now.Add(10*time.Second)),
	}}
	resolver, err := NewResolver(source, NewMemoryCache(clock.Now), WithClock(clock.Now), WithMaxTTL(5*time.Minute))
	require.NoError(test, err)

	_, err = resolver.Resolve(context.Background(), "short")
	require.NoError(test, err)

	clock.Advance(11 * time.Second)
	_, err = resolver.Resolve(context.Background(), "short")
	require.ErrorIs(test, err, ledger.ErrInvalidToken)
	require.Equal(test, 2, source.lookups)
}

func TestResolverCachesFailedLookupsBriefly(test *testing.T) {
	test.Parallel()

	clock := &manualClock{now: time.Unix(1_700_000_000, 0).UTC()}
	source := &stubSource{identities: map[string]Identity{}}
	resolver, err := NewResolver(source, NewMemoryCache(clock.Now), WithClock(clock.Now), WithNegativeTTL(5*time.Second))
	require.NoError(test, err)

	for attempt := 0; attempt < 5; attempt++ {
		_, err := resolver.Resolve(context.Background(), "forged")
		require.ErrorIs(test, err, ledger.ErrInvalidToken)
	}
	require.Equal(test, 1, source.lookups)

	clock.Advance(6 * time.Second)
	_, err = resolver.Resolve(context.Background(), "forged")
	require.ErrorIs(test, err, ledger.ErrInvalidToken)
	require.Equal(test, 2, source.lookups)
}

func TestResolverFailsClosed(test *testing.T) {
	test.Parallel()

	clock := &manualClock{now: time.Unix(1_700_000_000, 0).UTC()}
	testCases := []struct {
		name        string
		token       string
		source      *stubSource
		cache       Cache
		wantErr     error
		wantLookups int
	}{
		{
			name:        "empty token",
			token:       "   ",
			source:      &stubSource{},
			cache:       NewMemoryCache(clock.Now),
			wantErr:     ledger.ErrInvalidToken,
			wantLookups: 0,
		},
		{
			name:  "source reports an expired identity",
			token: "stale",
			source: &stubSource{identities: map[string]Identity{
				"stale": newIdentity(test, "user-1", "USD", clock.now.Add(-time.Second)),
			}},
			cache:       NewMemoryCache(clock.Now),
			wantErr:     ledger.ErrInvalidToken,
			wantLookups: 1,
		},
		{
			name:        "source outage is not an invalid token",
			token:       "any",
			source:      &stubSource{err: errors.New("db down")},
			cache:       NewMemoryCache(clock.Now),
			wantLookups: 1,
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			resolver, err := NewResolver(testCase.source, testCase.cache, WithClock(clock.Now))
			require.NoError(test, err)
			_, err = resolver.Resolve(context.Background(), testCase.token)
			require.Error(test, err)
			if testCase.wantErr != nil {
				require.ErrorIs(test, err, testCase.wantErr)
			} else {
				require.NotErrorIs(test, err, ledger.ErrInvalidToken)
			}
			require.Equal(test, testCase.wantLookups, testCase.source.lookups)
		})
	}
}

func TestResolverSurvivesCacheFailures(test *testing.T) {
	test.Parallel()

	clock := &manualClock{now: time.Unix(1_700_000_000, 0).UTC()}
	source := &stubSource{identities: map[string]Identity{
		"good": newIdentity(test, "user-1", "USD", clock.now.Add(time.Hour)),
	}}
	resolver, err := NewResolver(source, failingCache{}, WithClock(clock.Now))
	require.NoError(test, err)

	identity, err := resolver.Resolve(context.Background(), "good")
	require.NoError(test, err)
	require.Equal(test, "user-1", identity.UserID.String())
}

func TestNewResolverValidatesOptions(test *testing.T) {
	test.Parallel()

	_, err := NewResolver(nil, nil)
	require.Error(test, err)
	_, err = NewResolver(&stubSource{}, nil, WithMaxTTL(0))
	require.Error(test, err)

	resolver, err := NewResolver(&stubSource{}, nil, WithMaxTTL(10*time.Second), WithNegativeTTL(time.Hour))
	require.NoError(test, err)
	require.Equal(test, 10*time.Second, resolver.negativeTTL)
}

func TestCacheKeyHidesToken(test *testing.T) {
	test.Parallel()

	key := CacheKey("secret-token")
	require.NotContains(test, key, "secret-token")
	require.Equal(test, key, CacheKey("  secret-token  "))
	require.Len(test, HashToken("x"), 64)
}
