package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/gamewallet/internal/httpapi"
	"github.com/MarkoPoloResearchLab/gamewallet/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/gamewallet/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/gamewallet/internal/telemetry"
	"github.com/MarkoPoloResearchLab/gamewallet/internal/tokens"
	"github.com/MarkoPoloResearchLab/gamewallet/pkg/ledger"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "walletd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "walletd",
		Short:         "Game wallet settlement service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newServeCommand(), newMigrateCommand(), newGameCommand(), newTokenCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve provider callbacks and balance queries over HTTP",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	addDatabaseFlag(cmd)
	addTokenFlags(cmd)
	cmd.Flags().String(flagListenAddr, ":8080", "HTTP listen address")
	cmd.Flags().String(flagRedisURL, "", "redis URL for the token cache; empty keeps the cache in process")
	cmd.Flags().Duration(flagTokenNegativeTTL, defaultTokenNegativeTTL, "how long rejected tokens stay cached")
	cmd.Flags().Duration(flagTokenMaxTTL, defaultTokenMaxTTL, "upper bound on cached token lifetimes")
	cmd.Flags().Int(flagConflictRetries, defaultConflictRetries, "extra attempts after a concurrent modification")
	cmd.Flags().Duration(flagConflictBackoff, defaultConflictBackoff, "linear backoff step between conflict retries")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().Int32(flagMinorUnits, 2, "decimal places of provider amounts")
	cmd.Flags().String(flagSessionSigningKey, "", "TAuth session signing key (required)")
	cmd.Flags().String(flagSessionIssuer, "", "expected session issuer")
	cmd.Flags().String(flagSessionCookieName, "", "session cookie name")
	cmd.Flags().String(flagSeedGames, "", `comma-separated "id=name" games to enable at startup`)

	return cmd
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, tokenSource, cleanup, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = cleanup() }()
	if err := seedGames(ctx, store, cfg.SeedGames); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(registry)

	clock := func() int64 { return time.Now().UTC().Unix() }
	service, err := ledger.NewService(store, clock,
		ledger.WithOperationLogger(telemetry.Fanout{telemetry.NewZapOperationLogger(logger), metrics}),
		ledger.WithConflictRetry(ledger.RetryPolicy{Attempts: cfg.ConflictRetries + 1, Backoff: cfg.ConflictBackoff}),
	)
	if err != nil {
		return fmt.Errorf("wallet service init: %w", err)
	}

	cache, closeCache, err := openTokenCache(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer func() { _ = closeCache() }()

	resolver, err := tokens.NewResolver(tokenSource, cache,
		tokens.WithNegativeTTL(cfg.TokenNegativeTTL),
		tokens.WithMaxTTL(cfg.TokenMaxTTL),
		tokens.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("token resolver init: %w", err)
	}

	return httpapi.Run(ctx, cfg.HTTP, httpapi.Dependencies{
		Service:  service,
		Tokens:   resolver,
		Logger:   logger,
		Metrics:  metrics,
		Gatherer: registry,
	})
}

// openStores returns the ledger store and the token source for cfg.DatabaseURL.
func openStores(ctx context.Context, cfg *runtimeConfig) (ledger.Store, tokens.Source, func() error, error) {
	driver, _, err := resolveDriver(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, err
	}
	if driver == driverMemory {
		source, err := signedTokenSource(cfg)
		if err != nil {
			return nil, nil, nil, err
		}
		if source == nil {
			return nil, nil, nil, errors.New("memory:// requires --token-signing-key")
		}
		return memstore.New(), source, func() error { return nil }, nil
	}

	db, cleanup, err := openGormDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, err
	}
	source, err := signedTokenSource(cfg)
	if err != nil {
		_ = cleanup()
		return nil, nil, nil, err
	}
	if source == nil {
		return gormstore.New(db), gormstore.NewTokenSource(db, nil), cleanup, nil
	}
	return gormstore.New(db), source, cleanup, nil
}

type gameUpserter interface {
	UpsertGame(ctx context.Context, game ledger.Game) error
}

// seedGames enables the configured catalog games before serving.
func seedGames(ctx context.Context, store ledger.Store, games []ledger.Game) error {
	if len(games) == 0 {
		return nil
	}
	catalog, ok := store.(gameUpserter)
	if !ok {
		return errors.New("store does not support seeding games")
	}
	for _, game := range games {
		if err := catalog.UpsertGame(ctx, game); err != nil {
			return fmt.Errorf("seed game %s: %w", game.GameID, err)
		}
	}
	return nil
}

// signedTokenSource returns nil when no signing key is configured.
func signedTokenSource(cfg *runtimeConfig) (*tokens.JWTSource, error) {
	if cfg.TokenSigningKey == "" {
		return nil, nil
	}
	return tokens.NewJWTSource([]byte(cfg.TokenSigningKey), cfg.TokenIssuer, nil)
}

func openTokenCache(ctx context.Context, redisURL string) (tokens.Cache, func() error, error) {
	if redisURL == "" {
		return tokens.NewMemoryCache(nil), func() error { return nil }, nil
	}
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return tokens.NewRedisCache(client), client.Close, nil
}

func openGormDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, error) {
	db, cleanup, driver, err := openDatabase(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("database open: %w", err)
	}
	if err := prepareSchema(db, driver); err != nil {
		_ = cleanup()
		return nil, nil, err
	}
	return db, cleanup, nil
}
