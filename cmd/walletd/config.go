package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/gamewallet/internal/httpapi"
	"github.com/MarkoPoloResearchLab/gamewallet/pkg/ledger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagDatabaseURL       = "database-url"
	flagListenAddr        = "listen-addr"
	flagRedisURL          = "redis-url"
	flagTokenSigningKey   = "token-signing-key"
	flagTokenIssuer       = "token-issuer"
	flagTokenNegativeTTL  = "token-negative-ttl"
	flagTokenMaxTTL       = "token-max-ttl"
	flagConflictRetries   = "conflict-retries"
	flagConflictBackoff   = "conflict-backoff"
	flagAllowedOrigins    = "allowed-origins"
	flagMinorUnits        = "minor-units"
	flagSessionSigningKey = "session-signing-key"
	flagSessionIssuer     = "session-issuer"
	flagSessionCookieName = "session-cookie-name"
	flagSeedGames         = "seed-games"

	defaultDatabaseURL      = "sqlite:///tmp/gamewallet.db"
	defaultTokenNegativeTTL = 30 * time.Second
	defaultTokenMaxTTL      = 5 * time.Minute
	defaultConflictRetries  = 3
	defaultConflictBackoff  = 20 * time.Millisecond
)

type runtimeConfig struct {
	DatabaseURL      string
	RedisURL         string
	TokenSigningKey  string
	TokenIssuer      string
	TokenNegativeTTL time.Duration
	TokenMaxTTL      time.Duration
	ConflictRetries  int
	ConflictBackoff  time.Duration
	SeedGames        []ledger.Game
	HTTP             httpapi.Config
}

// configBindings maps flag names to the environment variables that override them.
var configBindings = map[string]string{
	flagDatabaseURL:       "DATABASE_URL",
	flagListenAddr:        "HTTP_LISTEN_ADDR",
	flagRedisURL:          "REDIS_URL",
	flagTokenSigningKey:   "TOKEN_SIGNING_KEY",
	flagTokenIssuer:       "TOKEN_ISSUER",
	flagTokenNegativeTTL:  "TOKEN_NEGATIVE_TTL",
	flagTokenMaxTTL:       "TOKEN_MAX_TTL",
	flagConflictRetries:   "CONFLICT_RETRIES",
	flagConflictBackoff:   "CONFLICT_BACKOFF",
	flagAllowedOrigins:    "ALLOWED_ORIGINS",
	flagMinorUnits:        "MINOR_UNITS",
	flagSessionSigningKey: "SESSION_SIGNING_KEY",
	flagSessionIssuer:     "SESSION_ISSUER",
	flagSessionCookieName: "SESSION_COOKIE_NAME",
	flagSeedGames:         "SEED_GAMES",
}

// loadConfig reads the flags a command defines, letting environment variables win over defaults.
func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for flagName, envName := range configBindings {
		flag := cmd.Flags().Lookup(flagName)
		if flag == nil {
			continue
		}
		if err := v.BindEnv(flagName, envName); err != nil {
			return err
		}
		if err := v.BindPFlag(flagName, flag); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.RedisURL = strings.TrimSpace(v.GetString(flagRedisURL))
	cfg.TokenSigningKey = v.GetString(flagTokenSigningKey)
	cfg.TokenIssuer = strings.TrimSpace(v.GetString(flagTokenIssuer))
	cfg.TokenNegativeTTL = v.GetDuration(flagTokenNegativeTTL)
	if cfg.TokenNegativeTTL <= 0 {
		cfg.TokenNegativeTTL = defaultTokenNegativeTTL
	}
	cfg.TokenMaxTTL = v.GetDuration(flagTokenMaxTTL)
	if cfg.TokenMaxTTL <= 0 {
		cfg.TokenMaxTTL = defaultTokenMaxTTL
	}
	cfg.ConflictRetries = v.GetInt(flagConflictRetries)
	if cfg.ConflictRetries < 0 {
		return fmt.Errorf("%s must not be negative", flagConflictRetries)
	}
	cfg.ConflictBackoff = v.GetDuration(flagConflictBackoff)
	if cfg.ConflictBackoff < 0 {
		return fmt.Errorf("%s must not be negative", flagConflictBackoff)
	}
	seeds, err := parseGameSeeds(v.GetString(flagSeedGames))
	if err != nil {
		return fmt.Errorf("%s: %w", flagSeedGames, err)
	}
	cfg.SeedGames = seeds

	cfg.HTTP = httpapi.Config{
		ListenAddr:        strings.TrimSpace(v.GetString(flagListenAddr)),
		AllowedOrigins:    httpapi.ParseAllowedOrigins(v.GetString(flagAllowedOrigins)),
		MinorUnits:        v.GetInt32(flagMinorUnits),
		SessionSigningKey: v.GetString(flagSessionSigningKey),
		SessionIssuer:     strings.TrimSpace(v.GetString(flagSessionIssuer)),
		SessionCookieName: strings.TrimSpace(v.GetString(flagSessionCookieName)),
	}
	return nil
}

func addDatabaseFlag(cmd *cobra.Command) {
	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "postgres://, sqlite:// or memory:// database URL")
}

func addTokenFlags(cmd *cobra.Command) {
	cmd.Flags().String(flagTokenSigningKey, "", "HS256 key for signed player tokens; empty uses database tokens")
	cmd.Flags().String(flagTokenIssuer, "", "issuer claim of signed player tokens")
}

// parseGameSeeds reads a comma-separated list of "id" or "id=name" items into enabled games.
func parseGameSeeds(raw string) ([]ledger.Game, error) {
	var games []ledger.Game
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		rawID, name, _ := strings.Cut(item, "=")
		gameID, err := ledger.NewGameID(rawID)
		if err != nil {
			return nil, err
		}
		games = append(games, ledger.Game{GameID: gameID, Name: strings.TrimSpace(name), Enabled: true})
	}
	return games, nil
}
